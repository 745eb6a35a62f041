// Package openai implements the speech adapters (text-to-speech and
// speech-to-text) and the embedding function for the vocabulary index on the
// OpenAI API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/logging"
)

var (
	_ adapter.Synthesizer = (*Client)(nil)
	_ adapter.Transcriber = (*Client)(nil)
)

// Options configure the OpenAI adapter.
type Options struct {
	APIKey             string
	BaseURL            string
	MaxRetries         int
	SpeechModel        openai.SpeechModel
	Voice              openai.AudioSpeechNewParamsVoice
	SpeechFormat       openai.AudioSpeechNewParamsResponseFormat
	TranscriptionModel openai.AudioModel
	EmbeddingModel     openai.EmbeddingModel
	Logger             logging.Logger
}

// Client adapts one OpenAI API client to the speakmesh speech interfaces.
type Client struct {
	client *openai.Client
	opts   Options
	logger logging.Logger
}

func defaultOptions() Options {
	return Options{
		MaxRetries:         2,
		SpeechModel:        openai.SpeechModelTTS1,
		Voice:              openai.AudioSpeechNewParamsVoice("nova"),
		SpeechFormat:       openai.AudioSpeechNewParamsResponseFormatOpus,
		TranscriptionModel: openai.AudioModelWhisper1,
		EmbeddingModel:     openai.EmbeddingModelTextEmbedding3Small,
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
	client := openai.NewClient(clientOpts...)
	return NewFromClient(&client, func(o *Options) { *o = opts })
}

// NewFromClient creates a Client from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{client: client, opts: opts, logger: logger}
}

func (c *Client) observe(op string, start time.Time, err error) {
	logging.AdapterCall(c.logger, "openai", op, time.Since(start), err)
}

// Synthesize implements adapter.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text string) (audio []byte, format string, err error) {
	start := time.Now()
	defer func() { c.observe("synthesize", start, err) }()

	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          c.opts.SpeechModel,
		Input:          text,
		Voice:          c.opts.Voice,
		ResponseFormat: c.opts.SpeechFormat,
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	audio, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("openai speech: read body: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", errors.New("openai speech: empty audio")
	}
	return audio, string(c.opts.SpeechFormat), nil
}

// Transcribe implements adapter.Transcriber.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (text string, err error) {
	start := time.Now()
	defer func() { c.observe("transcribe", start, err) }()

	ext, ctype := audioFile(format)
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "speech."+ext, ctype),
		Model: c.opts.TranscriptionModel,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	text = strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("openai transcription: no speech recognized")
	}
	return text, nil
}

// Embed returns the embedding of text. Its signature satisfies
// adapter.EmbeddingFunc.
func (c *Client) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() { c.observe("embed", start, err) }()

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: c.opts.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	raw := resp.Data[0].Embedding
	vec = make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// audioFile maps a client supplied format to a file extension and MIME type.
func audioFile(format string) (string, string) {
	switch strings.ToLower(strings.TrimPrefix(format, "audio/")) {
	case "wav", "x-wav", "wave":
		return "wav", "audio/wav"
	case "mp3", "mpeg":
		return "mp3", "audio/mpeg"
	case "ogg", "opus":
		return "ogg", "audio/ogg"
	case "m4a", "mp4":
		return "m4a", "audio/mp4"
	default:
		return "webm", "audio/webm"
	}
}
