// Package mock provides deterministic adapters that run without network
// access. Each adapter accepts an artificial Delay and an injected Err so tests
// can shape completion order and failure paths; call counters are safe for
// concurrent use.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
)

// Compile-time interface assertions.
var (
	_ adapter.Classifier       = (*Classifier)(nil)
	_ adapter.Generator        = (*Generator)(nil)
	_ adapter.Analyzer         = (*Analyzer)(nil)
	_ adapter.Transcriber      = (*Transcriber)(nil)
	_ adapter.Synthesizer      = (*Synthesizer)(nil)
	_ adapter.KeywordExtractor = (*KeywordExtractor)(nil)
	_ adapter.Summarizer       = (*Summarizer)(nil)
	_ adapter.UsageExplainer   = (*UsageExplainer)(nil)
)

// Behavior shapes a mock call: an optional Delay before answering and an
// injected Err. It is embedded by every mock.
type Behavior struct {
	Delay time.Duration
	Err   error
	calls atomic.Int64
}

// Calls returns how often the adapter was invoked.
func (b *Behavior) Calls() int { return int(b.calls.Load()) }

func (b *Behavior) enter(ctx context.Context) error {
	b.calls.Add(1)
	if b.Delay > 0 {
		t := time.NewTimer(b.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.Err
}

// DefaultBlockedTopics are diverted by a zero-value Classifier.
var DefaultBlockedTopics = []string{"politics", "election", "religion", "violence"}

// DefaultRedirect is the reply sent for diverted utterances.
const DefaultRedirect = "Let's keep our practice light! How about telling me about your favourite hobby instead?"

// Classifier diverts utterances that mention a blocked topic.
type Classifier struct {
	Behavior
	BlockedTopics []string
	Redirect      string
}

// Classify implements adapter.Classifier.
func (c *Classifier) Classify(ctx context.Context, utterance string) (core.Verdict, error) {
	if err := c.enter(ctx); err != nil {
		return core.Verdict{}, err
	}
	topics := c.BlockedTopics
	if topics == nil {
		topics = DefaultBlockedTopics
	}
	lower := strings.ToLower(utterance)
	for _, t := range topics {
		if strings.Contains(lower, strings.ToLower(t)) {
			redirect := c.Redirect
			if redirect == "" {
				redirect = DefaultRedirect
			}
			return core.Verdict{Allowed: false, RedirectText: redirect}, nil
		}
	}
	return core.Verdict{Allowed: true}, nil
}

// Generator answers with a short encouraging follow-up question. Reply, when
// set, is returned verbatim instead.
type Generator struct {
	Behavior
	Reply string
}

// Generate implements adapter.Generator.
func (g *Generator) Generate(ctx context.Context, history []core.Message) (string, error) {
	if err := g.enter(ctx); err != nil {
		return "", err
	}
	if g.Reply != "" {
		return g.Reply, nil
	}
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			last = history[i].Content
			break
		}
	}
	if last == "" {
		return "Hi there! What would you like to talk about today?", nil
	}
	return fmt.Sprintf("That's interesting! You said %q. Can you tell me more about it?", strings.TrimSpace(last)), nil
}

type rule struct {
	pattern     *regexp.Regexp
	replacement string
	issue       string
}

// rules is a tiny table of common spoken grammar mistakes.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(go)\b(.*\byesterday\b)`), "went$2", "Past tense: 'go' → 'went' for a finished action (yesterday)"},
	{regexp.MustCompile(`(?i)\b(buy)\b(.*\byesterday\b)`), "bought$2", "Past tense: 'buy' → 'bought' for a finished action (yesterday)"},
	{regexp.MustCompile(`(?i)\b(she|he|it) have\b`), "$1 has", "Agreement: third person singular takes 'has'"},
	{regexp.MustCompile(`(?i)\bgood in english\b`), "good at English", "Preposition: 'good in' → 'good at'"},
	{regexp.MustCompile(`(?i)\btwo (dog|cat|book)\b`), "two ${1}s", "Plural: use the plural form after 'two'"},
}

// Analyzer applies a small rule table. An utterance matching no rule is
// returned unchanged with an empty issue list.
type Analyzer struct {
	Behavior
}

// Analyze implements adapter.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, utterance string) (core.Analysis, error) {
	if err := a.enter(ctx); err != nil {
		return core.Analysis{}, err
	}
	corrected := utterance
	issues := []string{}
	for _, r := range rules {
		if r.pattern.MatchString(corrected) {
			corrected = r.pattern.ReplaceAllString(corrected, r.replacement)
			issues = append(issues, r.issue)
		}
	}
	explanation := "Perfect! Your grammar is spot on here."
	if len(issues) > 0 {
		explanation = "Great effort! Watch the past tense when you talk about finished actions."
		if !strings.Contains(strings.ToLower(issues[0]), "past tense") {
			explanation = "Great effort! Just a small fix to sound more natural."
		}
	}
	return core.Analysis{Correction: core.Correction{
		Original:    utterance,
		Corrected:   corrected,
		Issues:      issues,
		Explanation: explanation,
	}}, nil
}

// Transcriber returns Text for any audio payload.
type Transcriber struct {
	Behavior
	Text string
}

// Transcribe implements adapter.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if err := t.enter(ctx); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	if t.Text == "" {
		return "Hello, I go to school yesterday.", nil
	}
	return t.Text, nil
}

// Synthesizer returns the text bytes labelled with Format (default "opus").
type Synthesizer struct {
	Behavior
	Format string
}

// Synthesize implements adapter.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if err := s.enter(ctx); err != nil {
		return nil, "", err
	}
	format := s.Format
	if format == "" {
		format = "opus"
	}
	return []byte("audio:" + text), format, nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"to": true, "and": true, "or": true, "of": true, "in": true, "at": true, "on": true,
	"my": true, "your": true, "very": true, "for": true, "with": true,
}

// KeywordExtractor picks the longest content words.
type KeywordExtractor struct {
	Behavior
	Max int
}

// Extract implements adapter.KeywordExtractor.
func (k *KeywordExtractor) Extract(ctx context.Context, sentences []string) ([]string, error) {
	if err := k.enter(ctx); err != nil {
		return nil, err
	}
	limit := k.Max
	if limit <= 0 {
		limit = 5
	}
	seen := map[string]bool{}
	var words []string
	for _, s := range sentences {
		for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && r != '\''
		}) {
			if len(w) < 3 || stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			words = append(words, w)
		}
	}
	sort.SliceStable(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	if len(words) > limit {
		words = words[:limit]
	}
	return words, nil
}

// Summarizer counts issue categories (the text before ':') across corrections.
type Summarizer struct {
	Behavior
}

// Summarize implements adapter.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, corrections []core.Correction) (core.Feedback, error) {
	if err := s.enter(ctx); err != nil {
		return core.Feedback{}, err
	}
	counts := map[string]int{}
	var order []string
	for _, c := range corrections {
		for _, issue := range c.Issues {
			name := issue
			if i := strings.Index(issue, ":"); i > 0 {
				name = issue[:i]
			}
			if counts[name] == 0 {
				order = append(order, name)
			}
			counts[name]++
		}
	}
	patterns := make([]core.IssuePattern, 0, len(order))
	for _, name := range order {
		patterns = append(patterns, core.IssuePattern{
			Pattern:    name,
			Frequency:  counts[name],
			Suggestion: fmt.Sprintf("Practice a few sentences focusing on %s.", strings.ToLower(name)),
		})
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Frequency > patterns[j].Frequency })
	tips := []string{"Great conversation! You're expressing yourself well."}
	if len(patterns) > 0 {
		tips = append(tips, fmt.Sprintf("Your most frequent pattern was %s. Try narrating your day out loud to practice it.", strings.ToLower(patterns[0].Pattern)))
	}
	tips = append(tips, "Keep speaking, you're doing amazing!")
	return core.Feedback{Tips: tips, CommonPatterns: patterns}, nil
}

// UsageExplainer produces a fixed-shape explanation per pair.
type UsageExplainer struct {
	Behavior
}

// ExplainUsage implements adapter.UsageExplainer.
func (u *UsageExplainer) ExplainUsage(ctx context.Context, pairs []adapter.WordPair) (map[string]string, error) {
	if err := u.enter(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Target] = fmt.Sprintf("Use '%s' in casual conversation. '%s' is more formal and suits IELTS writing.", p.Target, p.Word)
	}
	return out, nil
}
