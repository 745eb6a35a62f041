// Package anthropic implements the text task adapters (reply generation,
// grammar analysis, classification, keyword extraction, usage explanations
// and practice summaries) on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/internal/util"
	"github.com/hupe1980/speakmesh/logging"
)

var (
	_ adapter.Generator        = (*Client)(nil)
	_ adapter.Analyzer         = (*Client)(nil)
	_ adapter.Classifier       = (*Client)(nil)
	_ adapter.KeywordExtractor = (*Client)(nil)
	_ adapter.Summarizer       = (*Client)(nil)
	_ adapter.UsageExplainer   = (*Client)(nil)
)

// Options configures the Anthropic adapter. Model serves the conversation
// and analysis tasks; FastModel serves the cheap extraction tasks.
type Options struct {
	Model      anthropic.Model
	FastModel  anthropic.Model
	MaxTokens  int64
	APIKey     string
	BaseURL    string
	MaxRetries int
	Logger     logging.Logger
}

// Client adapts one Anthropic API client to the speakmesh task interfaces.
type Client struct {
	client *anthropic.Client
	opts   Options
	logger logging.Logger
}

func defaultOptions() Options {
	return Options{
		Model:      anthropic.ModelClaude3_5Sonnet20241022,
		FastModel:  anthropic.ModelClaude3_5Haiku20241022,
		MaxTokens:  1024,
		MaxRetries: 2,
	}
}

// New creates a Client using the official SDK client.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return newClient(&client, opts)
}

// NewFromClient creates a Client from an existing SDK client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newClient(client, opts)
}

func newClient(client *anthropic.Client, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{client: client, opts: opts, logger: logger}
}

// complete sends one Messages request and returns the concatenated text blocks.
func (c *Client) complete(ctx context.Context, op string, model anthropic.Model, temperature float64, system string, messages []anthropic.MessageParam) (string, error) {
	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    messages,
	})
	if err != nil {
		logging.AdapterCall(c.logger, "anthropic", op, time.Since(start), err)
		return "", fmt.Errorf("anthropic %s: %w", op, err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	logging.AdapterCall(c.logger, "anthropic", op, time.Since(start), nil)
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("anthropic %s: empty response", op)
	}
	return text, nil
}

func userText(text string) anthropic.MessageParam {
	return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
}

// Generate implements adapter.Generator.
func (c *Client) Generate(ctx context.Context, history []core.Message) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case core.RoleUser:
			messages = append(messages, userText(m.Content))
		case core.RoleAssistant:
			// The API requires the conversation to open with a user turn.
			if len(messages) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(messages) == 0 {
		return "", errors.New("anthropic generate: history has no user message")
	}
	return c.complete(ctx, "generate", c.opts.Model, 0.7, partnerPrompt, messages)
}

type verdictJSON struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect"`
}

// Classify implements adapter.Classifier.
func (c *Client) Classify(ctx context.Context, utterance string) (core.Verdict, error) {
	reply, err := c.complete(ctx, "classify", c.opts.FastModel, 0, classifyPrompt, []anthropic.MessageParam{userText(utterance)})
	if err != nil {
		return core.Verdict{}, err
	}
	var v verdictJSON
	if err := adapter.ParseJSON(reply, &v); err != nil {
		return core.Verdict{}, err
	}
	if !v.Allowed && strings.TrimSpace(v.Redirect) == "" {
		return core.Verdict{}, errors.New("anthropic classify: diverted without redirect reply")
	}
	return core.Verdict{Allowed: v.Allowed, RedirectText: v.Redirect}, nil
}

type correctionJSON struct {
	Original    *string  `json:"original"`
	Corrected   *string  `json:"corrected"`
	Issues      []string `json:"issues"`
	Explanation string   `json:"explanation"`
}

// Analyze implements adapter.Analyzer.
func (c *Client) Analyze(ctx context.Context, utterance string) (core.Analysis, error) {
	req, err := util.Execute(analyzeRequest, map[string]any{"Utterance": utterance})
	if err != nil {
		return core.Analysis{}, err
	}
	reply, err := c.complete(ctx, "analyze", c.opts.Model, 0.3, analyzePrompt, []anthropic.MessageParam{userText(req)})
	if err != nil {
		return core.Analysis{}, err
	}
	var parsed correctionJSON
	if err := adapter.ParseJSON(reply, &parsed); err != nil {
		return core.Analysis{}, err
	}
	corr := core.Correction{
		Original:    utterance,
		Corrected:   utterance,
		Issues:      parsed.Issues,
		Explanation: parsed.Explanation,
	}
	if parsed.Original != nil && *parsed.Original != "" {
		corr.Original = *parsed.Original
	}
	if parsed.Corrected != nil && *parsed.Corrected != "" {
		corr.Corrected = *parsed.Corrected
	}
	if corr.Issues == nil {
		corr.Issues = []string{}
	}
	return core.Analysis{Correction: corr}, nil
}

// Extract implements adapter.KeywordExtractor.
func (c *Client) Extract(ctx context.Context, sentences []string) ([]string, error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	req, err := util.Execute(keywordRequest, map[string]any{"Sentences": sentences})
	if err != nil {
		return nil, err
	}
	reply, err := c.complete(ctx, "extract_keywords", c.opts.FastModel, 0, keywordPrompt, []anthropic.MessageParam{userText(req)})
	if err != nil {
		return nil, err
	}
	var out struct {
		Words []string `json:"replaceable_words"`
	}
	if err := adapter.ParseJSON(reply, &out); err != nil {
		return nil, err
	}
	return out.Words, nil
}

// Summarize implements adapter.Summarizer.
func (c *Client) Summarize(ctx context.Context, corrections []core.Correction) (core.Feedback, error) {
	req, err := util.Execute(summaryRequest, map[string]any{"Corrections": corrections})
	if err != nil {
		return core.Feedback{}, err
	}
	reply, err := c.complete(ctx, "summarize", c.opts.Model, 0.5, summaryPrompt, []anthropic.MessageParam{userText(req)})
	if err != nil {
		return core.Feedback{}, err
	}
	var fb core.Feedback
	if err := adapter.ParseJSON(reply, &fb); err != nil {
		return core.Feedback{}, err
	}
	if len(fb.Tips) == 0 {
		return core.Feedback{}, errors.New("anthropic summarize: no tips in response")
	}
	for i := range fb.CommonPatterns {
		if fb.CommonPatterns[i].Frequency < 1 {
			fb.CommonPatterns[i].Frequency = 1
		}
	}
	return fb, nil
}

// ExplainUsage implements adapter.UsageExplainer.
func (c *Client) ExplainUsage(ctx context.Context, pairs []adapter.WordPair) (map[string]string, error) {
	if len(pairs) == 0 {
		return map[string]string{}, nil
	}
	req, err := util.Execute(usageRequest, map[string]any{"Pairs": pairs})
	if err != nil {
		return nil, err
	}
	reply, err := c.complete(ctx, "explain_usage", c.opts.FastModel, 0.3, usagePrompt, []anthropic.MessageParam{userText(req)})
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Target  string `json:"target_word"`
		Context string `json:"usage_context"`
	}
	if err := adapter.ParseJSON(reply, &entries); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Target != "" {
			out[e.Target] = e.Context
		}
	}
	return out, nil
}
