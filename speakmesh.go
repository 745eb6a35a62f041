// Package speakmesh provides a high-level façade that assembles the
// conversation-practice service from configuration: thread store, model
// adapters, turn engine, journal, runner and the summary and vocabulary
// services. Most applications interact with this package by:
//  1. Creating a SpeakMesh via New() (optionally overriding the store or adapters)
//  2. Submitting turns through Submit, or serving them over HTTP via Server
//  3. Calling Close on shutdown to release the store
//
// All defaults are safe for local development and testing: an in-memory
// store and deterministic mock adapters. Production deployments select a
// durable store and the live providers in config.
package speakmesh

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/adapter/anthropic"
	"github.com/hupe1980/speakmesh/adapter/mock"
	"github.com/hupe1980/speakmesh/adapter/openai"
	"github.com/hupe1980/speakmesh/config"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/engine"
	"github.com/hupe1980/speakmesh/journal"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/metrics"
	"github.com/hupe1980/speakmesh/runner"
	"github.com/hupe1980/speakmesh/server"
	"github.com/hupe1980/speakmesh/summary"
	"github.com/hupe1980/speakmesh/thread"
	"github.com/hupe1980/speakmesh/vocab"
)

// Adapters bundles every model capability the service uses. Nil fields
// disable the features that need them.
type Adapters struct {
	engine.Adapters
	KeywordExtractor adapter.KeywordExtractor
	Summarizer       adapter.Summarizer
	UsageExplainer   adapter.UsageExplainer
	Embed            adapter.EmbeddingFunc
}

// Options configures the SpeakMesh instance.
type Options struct {
	// Config drives every default below. config.Default() when nil.
	Config *config.Config
	// Store overrides the store selected by Config.Store.
	Store core.ThreadStore
	// Adapters overrides the provider selected by Config.Adapters.
	Adapters *Adapters
	// Registerer receives the Prometheus collectors. prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
	// Logger (defaults to a ServiceLogger built from Config.Log)
	Logger logging.Logger
}

// SpeakMesh is the assembled service.
type SpeakMesh struct {
	cfg      *config.Config
	store    core.ThreadStore
	adapters Adapters
	engine   *engine.Engine
	runner   *runner.Runner
	summary  *summary.Service
	vocab    *vocab.Service
	index    *vocab.Index
	metrics  *metrics.Metrics
	logger   logging.Logger
	closers  []func() error
}

// New creates a SpeakMesh from the configuration and any overrides.
func New(ctx context.Context, optFns ...func(o *Options)) (*SpeakMesh, error) {
	opts := Options{Registerer: prometheus.DefaultRegisterer}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	cfg := opts.Config
	if opts.Logger == nil {
		opts.Logger = NewLogger(cfg.Log)
	}

	m := &SpeakMesh{cfg: cfg, logger: opts.Logger, metrics: metrics.MustNew(opts.Registerer)}

	m.store = opts.Store
	if m.store == nil {
		store, closer, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		m.store = store
		if closer != nil {
			m.closers = append(m.closers, closer)
		}
	}

	if opts.Adapters != nil {
		m.adapters = *opts.Adapters
	} else {
		a, err := NewAdapters(cfg.Adapters, opts.Logger)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.adapters = a
	}

	if err := m.build(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *SpeakMesh) build(ctx context.Context) error {
	cfg := m.cfg
	eng, err := engine.New(func(o *engine.Options) {
		o.Store = m.store
		o.Adapters = m.adapters.Adapters
		o.NodeTimeout = cfg.Engine.NodeTimeout
		o.CommitTimeout = cfg.Engine.CommitTimeout
		o.Logger = m.logger
		o.Metrics = m.metrics
	})
	if err != nil {
		return err
	}
	m.engine = eng

	j, err := journal.NewStore(func(o *journal.Options) { o.Capacity = cfg.Runner.JournalCapacity })
	if err != nil {
		return err
	}
	m.runner, err = runner.New(eng, m.store, func(o *runner.Options) {
		o.Journal = j
		o.LockTimeout = cfg.Runner.LockTimeout
		o.TurnTimeout = cfg.Runner.TurnTimeout
		o.Logger = m.logger
		o.Metrics = m.metrics
	})
	if err != nil {
		return err
	}

	m.summary = summary.NewService(m.store, m.adapters.Summarizer, func(o *summary.Options) {
		o.Timeout = cfg.Engine.NodeTimeout
		o.Logger = m.logger
	})

	if !cfg.Vocab.Enabled {
		return nil
	}
	if m.adapters.Embed == nil || m.adapters.KeywordExtractor == nil {
		m.logger.Warn("Vocabulary suggestions disabled: no embedding provider or keyword extractor configured")
		return nil
	}
	idx, err := OpenIndex(ctx, cfg.Vocab, m.adapters.Embed, m.logger)
	if err != nil {
		return err
	}
	m.index = idx
	m.vocab = vocab.NewService(m.store, m.adapters.KeywordExtractor, idx, m.adapters.UsageExplainer, func(o *vocab.Options) {
		o.MaxKeywords = cfg.Vocab.MaxKeywords
		o.Timeout = cfg.Engine.NodeTimeout
		o.Logger = m.logger
	})
	return nil
}

// Submit starts a turn. See runner.Runner.Submit.
func (m *SpeakMesh) Submit(ctx context.Context, req core.TurnRequest) (*core.Submission, error) {
	return m.runner.Submit(ctx, req)
}

// SubmitSync submits a turn and collects its events until the terminal one.
func (m *SpeakMesh) SubmitSync(ctx context.Context, req core.TurnRequest) (core.Turn, []core.Event, error) {
	sub, err := m.runner.Submit(ctx, req)
	if err != nil {
		return core.Turn{}, nil, err
	}
	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			return sub.Turn, events, ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return sub.Turn, events, nil
			}
			events = append(events, ev)
		}
	}
}

// Server builds the HTTP server for this instance. Options derived from
// config are applied first; optFns may override them.
func (m *SpeakMesh) Server(optFns ...func(o *server.Options)) (*server.Server, error) {
	cfg := m.cfg.Server
	base := func(o *server.Options) {
		o.Summary = m.summary
		if m.vocab != nil {
			o.Vocabulary = m.vocab
		}
		o.Logger = m.logger
		o.Metrics = m.metrics
		o.AllowedOrigins = cfg.AllowedOrigins
		o.RateLimit = cfg.RateLimit
		o.RateBurst = cfg.RateBurst
		o.HeartbeatInterval = cfg.HeartbeatInterval
		o.MaxAudioBytes = cfg.MaxAudioBytes
	}
	return server.New(m.runner, m.store, append([]func(o *server.Options){base}, optFns...)...)
}

// Store returns the thread store.
func (m *SpeakMesh) Store() core.ThreadStore { return m.store }

// Runner returns the turn runner.
func (m *SpeakMesh) Runner() *runner.Runner { return m.runner }

// Summary returns the practice summary service.
func (m *SpeakMesh) Summary() *summary.Service { return m.summary }

// Vocabulary returns the vocabulary service, nil when disabled.
func (m *SpeakMesh) Vocabulary() *vocab.Service { return m.vocab }

// Index returns the vocabulary index, nil when disabled.
func (m *SpeakMesh) Index() *vocab.Index { return m.index }

// Logger returns the service logger.
func (m *SpeakMesh) Logger() logging.Logger { return m.logger }

// Close releases the store. It is safe to call more than once.
func (m *SpeakMesh) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i]())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the service logger described by cfg.
func NewLogger(cfg config.LogConfig) *logging.ServiceLogger {
	return logging.NewSlogLogger(logging.ParseLevel(cfg.Level), cfg.Format, false).WithComponent("speakmesh")
}

// OpenStore opens the thread store selected by cfg. The returned closer is
// nil for stores without resources.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (core.ThreadStore, func() error, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return thread.NewInMemoryStore(), nil, nil
	case config.DriverSQLite:
		s, err := thread.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := thread.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewAdapters builds the adapters of the configured provider. The live
// provider uses Anthropic for every text task and OpenAI, when a key is set,
// for speech and embeddings.
func NewAdapters(cfg config.AdaptersConfig, logger logging.Logger) (Adapters, error) {
	switch cfg.Provider {
	case "", config.ProviderMock:
		return MockAdapters(), nil
	case config.ProviderLive:
	default:
		return Adapters{}, fmt.Errorf("unknown adapter provider %q", cfg.Provider)
	}
	if cfg.Anthropic.APIKey == "" {
		return Adapters{}, errors.New("live provider requires an Anthropic API key")
	}

	text := anthropic.New(func(o *anthropic.Options) {
		o.APIKey = cfg.Anthropic.APIKey
		o.BaseURL = cfg.Anthropic.BaseURL
		if cfg.Anthropic.Model != "" {
			o.Model = anthropicsdk.Model(cfg.Anthropic.Model)
		}
		if cfg.Anthropic.FastModel != "" {
			o.FastModel = anthropicsdk.Model(cfg.Anthropic.FastModel)
		}
		o.Logger = logger
	})
	a := Adapters{
		Adapters: engine.Adapters{
			Classifier: text,
			Generator:  text,
			Analyzer:   text,
		},
		KeywordExtractor: text,
		Summarizer:       text,
		UsageExplainer:   text,
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("No OpenAI API key: speech and vocabulary search are disabled")
		return a, nil
	}
	speech := openai.New(func(o *openai.Options) {
		o.APIKey = cfg.OpenAI.APIKey
		o.BaseURL = cfg.OpenAI.BaseURL
		if cfg.OpenAI.Voice != "" {
			o.Voice = openaisdk.AudioSpeechNewParamsVoice(cfg.OpenAI.Voice)
		}
		o.Logger = logger
	})
	a.Transcriber = speech
	a.Synthesizer = speech
	a.Embed = speech.Embed
	return a, nil
}

// MockAdapters returns the deterministic offline adapters.
func MockAdapters() Adapters {
	return Adapters{
		Adapters: engine.Adapters{
			Classifier:  &mock.Classifier{},
			Generator:   &mock.Generator{},
			Analyzer:    &mock.Analyzer{},
			Transcriber: &mock.Transcriber{},
			Synthesizer: &mock.Synthesizer{},
		},
		KeywordExtractor: &mock.KeywordExtractor{},
		Summarizer:       &mock.Summarizer{},
		UsageExplainer:   &mock.UsageExplainer{},
		Embed:            mock.Embed,
	}
}

// OpenIndex opens the vocabulary index and seeds it from cfg.WordList when
// the collection is empty.
func OpenIndex(ctx context.Context, cfg config.VocabConfig, embed adapter.EmbeddingFunc, logger logging.Logger) (*vocab.Index, error) {
	if cfg.CacheSize > 0 {
		cached, err := vocab.CachedEmbedding(embed, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		embed = cached
	}
	idx, err := vocab.NewIndex(embed, func(o *vocab.IndexOptions) {
		o.Path = cfg.Path
		if cfg.Collection != "" {
			o.Collection = cfg.Collection
		}
		o.MinSimilarity = cfg.MinSimilarity
	})
	if err != nil {
		return nil, err
	}
	if idx.Count() > 0 || cfg.WordList == "" {
		if idx.Count() == 0 {
			logger.Warn("Vocabulary index is empty; run index-vocab or set vocab.word_list")
		}
		return idx, nil
	}
	words, err := vocab.LoadWords(cfg.WordList)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, words); err != nil {
		return nil, err
	}
	logger.Info("Vocabulary index built", "words", len(words), "collection", cfg.Collection)
	return idx, nil
}
