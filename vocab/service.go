package vocab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

// Suggestion pairs a word the learner used with a more advanced alternative.
type Suggestion struct {
	TargetWord   string `json:"target_word"`
	Word         string `json:"ielts_word"`
	Definition   string `json:"definition"`
	Example      string `json:"example"`
	UsageContext string `json:"usage_context"`
}

// Options configure a Service.
type Options struct {
	// MaxKeywords bounds the keywords searched per request.
	MaxKeywords int
	// Timeout bounds each adapter call.
	Timeout time.Duration
	Logger  logging.Logger
}

// Service produces vocabulary suggestions.
type Service struct {
	store       core.ThreadStore
	extractor   adapter.KeywordExtractor
	retriever   adapter.Retriever
	explainer   adapter.UsageExplainer
	maxKeywords int
	timeout     time.Duration
	logger      logging.Logger
}

// NewService creates a Service. explainer may be nil, leaving usage context empty.
func NewService(store core.ThreadStore, extractor adapter.KeywordExtractor, retriever adapter.Retriever, explainer adapter.UsageExplainer, optFns ...func(o *Options)) *Service {
	opts := Options{MaxKeywords: 4, Timeout: 30 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{
		store:       store,
		extractor:   extractor,
		retriever:   retriever,
		explainer:   explainer,
		maxKeywords: opts.MaxKeywords,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
}

// ForThread suggests vocabulary for the corrected sentences of a thread. An
// unknown thread or one without corrections yields no suggestions.
func (s *Service) ForThread(ctx context.Context, threadID string) ([]Suggestion, error) {
	if err := core.ValidateID(threadID); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	th, err := s.store.Get(ctx, threadID)
	if errors.Is(err, core.ErrThreadNotFound) {
		return []Suggestion{}, nil
	}
	if err != nil {
		return nil, err
	}
	var sentences []string
	for _, c := range th.Corrections {
		if c.Unavailable || strings.TrimSpace(c.Corrected) == "" {
			continue
		}
		sentences = append(sentences, c.Corrected)
	}
	return s.Suggest(ctx, sentences)
}

// Suggest runs the pipeline for sentences. Extraction or retrieval failures
// yield an empty result; a failing explainer only drops the usage context.
func (s *Service) Suggest(ctx context.Context, sentences []string) ([]Suggestion, error) {
	out := []Suggestion{}
	if len(sentences) == 0 {
		return out, nil
	}

	keywords, err := adapter.Invoke(ctx, s.timeout, func(ctx context.Context) ([]string, error) {
		return s.extractor.Extract(ctx, sentences)
	})
	if err != nil {
		s.logger.Warn("Keyword extraction failed", "error", err.Error())
		return out, nil
	}
	if len(keywords) > s.maxKeywords {
		keywords = keywords[:s.maxKeywords]
	}
	if len(keywords) == 0 {
		return out, nil
	}

	candidates, err := adapter.Invoke(ctx, s.timeout, func(ctx context.Context) ([]core.Candidate, error) {
		return s.retriever.Search(ctx, keywords)
	})
	if err != nil {
		s.logger.Warn("Vocabulary search failed", "keywords", keywords, "error", err.Error())
		return out, nil
	}

	seen := map[string]bool{}
	for _, c := range candidates {
		word := c.Metadata[MetaWord]
		key := strings.ToLower(word)
		if word == "" || seen[key] || key == strings.ToLower(c.Keyword) {
			continue
		}
		seen[key] = true
		out = append(out, Suggestion{
			TargetWord: c.Keyword,
			Word:       word,
			Definition: c.Metadata[MetaDefinition],
			Example:    c.Metadata[MetaSentence],
		})
	}
	s.logger.Debug("Vocabulary matches", "keywords", len(keywords), "candidates", len(candidates), "suggestions", len(out))
	if len(out) == 0 || s.explainer == nil {
		return out, nil
	}

	pairs := make([]adapter.WordPair, len(out))
	for i, sg := range out {
		pairs[i] = adapter.WordPair{Target: sg.TargetWord, Word: sg.Word, Definition: sg.Definition}
	}
	usage, err := adapter.Invoke(ctx, s.timeout, func(ctx context.Context) (map[string]string, error) {
		return s.explainer.ExplainUsage(ctx, pairs)
	})
	if err != nil {
		s.logger.Warn("Usage explanation failed", "error", err.Error())
		return out, nil
	}
	for i := range out {
		out[i].UsageContext = usage[out[i].TargetWord]
	}
	return out, nil
}
