package vocab

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Word is one entry of the vocabulary list.
type Word struct {
	Word         string   `yaml:"word" json:"word"`
	Definition   string   `yaml:"definition" json:"definition"`
	Sentence     string   `yaml:"sentence" json:"sentence"`
	Collocations []string `yaml:"collocations" json:"collocations,omitempty"`
}

// EmbeddingText is the text embedded for w. All fields contribute so that
// searches match on meaning and usage, not just spelling.
func (w Word) EmbeddingText() string {
	parts := []string{"Word: " + w.Word}
	if w.Definition != "" {
		parts = append(parts, "Definition: "+w.Definition)
	}
	if w.Sentence != "" {
		parts = append(parts, "Example: "+w.Sentence)
	}
	if len(w.Collocations) > 0 {
		parts = append(parts, "Collocations: "+strings.Join(w.Collocations, ", "))
	}
	return strings.Join(parts, " | ")
}

// LoadWords reads a word list. The file is a YAML (or JSON) sequence of
// entries; entries without a word are rejected, duplicates keep the first.
func LoadWords(path string) ([]Word, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return ParseWords(data)
}

// ParseWords decodes a word list.
func ParseWords(data []byte) ([]Word, error) {
	var raw []Word
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode word list: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("word list is empty")
	}
	seen := make(map[string]bool, len(raw))
	words := make([]Word, 0, len(raw))
	for i, w := range raw {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word == "" {
			return nil, fmt.Errorf("word list entry %d has no word", i)
		}
		key := strings.ToLower(w.Word)
		if seen[key] {
			continue
		}
		seen[key] = true
		words = append(words, w)
	}
	return words, nil
}
