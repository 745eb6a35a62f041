package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
		{"unterminated", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestExecute(t *testing.T) {
	tmpl := MustTemplate("keywords", `Sentences: {{ join " " .Sentences }}`)

	out, err := Execute(tmpl, map[string]any{"Sentences": []string{"I went to the store.", "It was big."}})
	require.NoError(t, err)
	assert.Equal(t, "Sentences: I went to the store. It was big.", out)

	_, err = Execute(tmpl, map[string]any{"Sentences": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render keywords")

	quoted, err := Execute(MustTemplate("analyze", `{{ quote .Utterance }}`), map[string]any{"Utterance": `I said "hi"`})
	require.NoError(t, err)
	assert.Equal(t, `"I said \"hi\""`, quoted)

	assert.Panics(t, func() { MustTemplate("broken", "{{ .Broken ") })
}
