package adapter

import (
	"context"

	"github.com/hupe1980/speakmesh/core"
)

// Classifier decides whether an utterance may be answered normally. A
// disallowed verdict carries the redirect reply to send instead.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (core.Verdict, error)
}

// Generator produces the conversation partner's reply from the thread history.
type Generator interface {
	Generate(ctx context.Context, history []core.Message) (string, error)
}

// Analyzer produces a grammar analysis of one utterance. The returned
// correction has no message position; the caller assigns it.
type Analyzer interface {
	Analyze(ctx context.Context, utterance string) (core.Analysis, error)
}

// Transcriber resolves recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer renders text as speech and reports the audio format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Retriever returns ranked candidates for a set of keywords.
type Retriever interface {
	Search(ctx context.Context, keywords []string) ([]core.Candidate, error)
}

// KeywordExtractor picks replaceable words out of corrected sentences.
type KeywordExtractor interface {
	Extract(ctx context.Context, sentences []string) ([]string, error)
}

// Summarizer turns a thread's corrections into practice advice.
type Summarizer interface {
	Summarize(ctx context.Context, corrections []core.Correction) (core.Feedback, error)
}

// WordPair is a simple word matched with a more advanced alternative.
type WordPair struct {
	Target     string `json:"target_word"`
	Word       string `json:"ielts_word"`
	Definition string `json:"definition"`
}

// UsageExplainer explains when to prefer each alternative over its simple
// word. The result is keyed by WordPair.Target.
type UsageExplainer interface {
	ExplainUsage(ctx context.Context, pairs []WordPair) (map[string]string, error)
}

// EmbeddingFunc maps text to a vector. Its signature matches chromem-go's
// embedding function so implementations plug straight into the vector index.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)
