// Package server exposes speakmesh over HTTP with gin. Chat routes answer
// with a text/event-stream of turn events; the remaining routes are plain
// JSON.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/metrics"
	"github.com/hupe1980/speakmesh/summary"
	"github.com/hupe1980/speakmesh/vocab"
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxAudioBytes     = 10 << 20
)

// Submitter accepts turns and resets threads. *runner.Runner satisfies it.
type Submitter interface {
	core.Runner
	Reset(ctx context.Context, threadID string) error
}

// Summarizer produces practice summaries. *summary.Service satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, threadID string) (*summary.Summary, error)
}

// VocabularySuggester produces vocabulary suggestions. *vocab.Service satisfies it.
type VocabularySuggester interface {
	ForThread(ctx context.Context, threadID string) ([]vocab.Suggestion, error)
}

// Options configure a Server.
type Options struct {
	// Summary serves POST /summary; nil answers 503.
	Summary Summarizer
	// Vocabulary serves POST /vocabulary; nil answers 503.
	Vocabulary VocabularySuggester

	Logger  logging.Logger
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	AllowedOrigins []string
	// RateLimit is the sustained chat request rate per client in requests
	// per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	HeartbeatInterval time.Duration
	MaxAudioBytes     int64
}

// Server wires the HTTP routes to the turn runner and the thread services.
type Server struct {
	runner    Submitter
	store     core.ThreadStore
	summary   Summarizer
	vocab     VocabularySuggester
	logger    logging.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	limiter   *rateLimiter
	heartbeat time.Duration
	maxAudio  int64
	origins   []string
	engine    *gin.Engine
}

// New builds a Server around runner and store.
func New(runner Submitter, store core.ThreadStore, optFns ...func(o *Options)) (*Server, error) {
	if runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if store == nil {
		return nil, errors.New("server: thread store is required")
	}
	opts := Options{
		Logger:            logging.NoOpLogger{},
		Gatherer:          prometheus.DefaultGatherer,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxAudioBytes:     DefaultMaxAudioBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = DefaultMaxAudioBytes
	}
	s := &Server{
		runner:    runner,
		store:     store,
		summary:   opts.Summary,
		vocab:     opts.Vocabulary,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		limiter:   newRateLimiter(opts.RateLimit, opts.RateBurst),
		heartbeat: opts.HeartbeatInterval,
		maxAudio:  opts.MaxAudioBytes,
		origins:   opts.AllowedOrigins,
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery())
	r.Use(s.requestID())
	r.Use(s.accessLog())
	r.Use(cors.New(s.corsConfig()))

	chat := r.Group("/chat", s.rateLimit())
	chat.POST("", s.handleChat)
	chat.POST("/audio", s.handleChatAudio)

	r.GET("/history/:thread_id", s.handleHistory)
	r.POST("/summary", s.handleSummary)
	r.POST("/vocabulary", s.handleVocabulary)
	r.DELETE("/threads/:thread_id", s.handleReset)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(s.origins) == 0 || (len(s.origins) == 1 && s.origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "Last-Event-ID", requestIDHeader)
	cfg.ExposeHeaders = []string{requestIDHeader}
	return cfg
}
