// Package summary builds the end-of-session practice summary of a thread:
// every correction that changed something, plus tips and recurring patterns
// from a Summarizer.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

// Canned tips used when no model call is needed or the summarizer failed.
var (
	TipsNoConversation = []string{"Start a conversation to get grammar feedback and personalized tips!"}
	TipsNoMistakes     = []string{"Excellent! You haven't made any grammar errors in this conversation. Keep up the great work!"}
	TipsFallback       = []string{"Keep practicing! You're making great progress in your English conversation skills."}
)

// Summary is the practice summary of one thread.
type Summary struct {
	ThreadID       string              `json:"thread_id"`
	Corrections    []core.Correction   `json:"corrections"`
	Tips           []string            `json:"tips"`
	CommonPatterns []core.IssuePattern `json:"common_patterns"`
	Degraded       bool                `json:"degraded,omitempty"`
}

// Options configure a Service.
type Options struct {
	// Timeout bounds the summarizer call.
	Timeout time.Duration
	Logger  logging.Logger
}

// Service summarizes threads.
type Service struct {
	store      core.ThreadStore
	summarizer adapter.Summarizer
	timeout    time.Duration
	logger     logging.Logger
}

// NewService creates a Service. summarizer may be nil, in which case only
// canned tips are returned.
func NewService(store core.ThreadStore, summarizer adapter.Summarizer, optFns ...func(o *Options)) *Service {
	opts := Options{Timeout: 30 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{store: store, summarizer: summarizer, timeout: opts.Timeout, logger: opts.Logger}
}

// Summarize returns the summary of threadID. An unknown thread yields an
// empty summary with encouragement. Summarizer failures degrade to fallback
// tips; only store failures are returned as errors.
func (s *Service) Summarize(ctx context.Context, threadID string) (*Summary, error) {
	if err := core.ValidateID(threadID); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	out := &Summary{ThreadID: threadID, Corrections: []core.Correction{}, CommonPatterns: []core.IssuePattern{}}

	th, err := s.store.Get(ctx, threadID)
	if errors.Is(err, core.ErrThreadNotFound) {
		out.Tips = TipsNoConversation
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	for _, c := range th.Corrections {
		if c.Unavailable || c.NoChanges() {
			continue
		}
		out.Corrections = append(out.Corrections, c)
	}
	switch {
	case len(th.Messages) == 0:
		out.Tips = TipsNoConversation
		return out, nil
	case len(out.Corrections) == 0:
		out.Tips = TipsNoMistakes
		return out, nil
	case s.summarizer == nil:
		out.Tips = TipsFallback
		return out, nil
	}

	fb, err := adapter.Invoke(ctx, s.timeout, func(ctx context.Context) (core.Feedback, error) {
		return s.summarizer.Summarize(ctx, out.Corrections)
	})
	if err != nil {
		s.logger.Warn("Summarizer failed", "thread_id", threadID, "corrections", len(out.Corrections), "error", err.Error())
		out.Tips = TipsFallback
		out.Degraded = true
		return out, nil
	}
	out.Tips = fb.Tips
	if len(out.Tips) == 0 {
		out.Tips = TipsFallback
	}
	if fb.CommonPatterns != nil {
		out.CommonPatterns = fb.CommonPatterns
	}
	return out, nil
}
