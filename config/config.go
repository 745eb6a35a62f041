// Package config loads speakmesh settings from a YAML file and SPEAKMESH_*
// environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SPEAKMESH_SERVER_ADDR.
const EnvPrefix = "SPEAKMESH"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Adapters AdaptersConfig `mapstructure:"adapters"`
	Vocab    VocabConfig    `mapstructure:"vocab"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RateLimit         float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst         int           `mapstructure:"rate_burst"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxAudioBytes     int64         `mapstructure:"max_audio_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the thread store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

// EngineConfig bounds node execution.
type EngineConfig struct {
	NodeTimeout   time.Duration `mapstructure:"node_timeout"`
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// RunnerConfig bounds turn coordination.
type RunnerConfig struct {
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
	JournalCapacity int           `mapstructure:"journal_capacity"`
}

// AdaptersConfig selects the model providers.
type AdaptersConfig struct {
	Provider  string          `mapstructure:"provider"` // mock or live
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

// AnthropicConfig configures the text adapters.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	FastModel string `mapstructure:"fast_model"`
}

// OpenAIConfig configures speech and embeddings. Without an API key speech
// and vocabulary search are disabled in live mode.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Voice   string `mapstructure:"voice"`
}

// VocabConfig configures vocabulary suggestions.
type VocabConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Path          string  `mapstructure:"path"` // chromem-go directory; empty keeps the index in memory
	WordList      string  `mapstructure:"word_list"`
	Collection    string  `mapstructure:"collection"`
	MaxKeywords   int     `mapstructure:"max_keywords"`
	MinSimilarity float32 `mapstructure:"min_similarity"`
	CacheSize     int     `mapstructure:"cache_size"`
}

// LogConfig configures the service logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Providers.
const (
	ProviderMock = "mock"
	ProviderLive = "live"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.heartbeat_interval", 15*time.Second)
	v.SetDefault("server.max_audio_bytes", int64(10<<20))
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")

	v.SetDefault("engine.node_timeout", 30*time.Second)
	v.SetDefault("engine.commit_timeout", 10*time.Second)

	v.SetDefault("runner.lock_timeout", 10*time.Second)
	v.SetDefault("runner.turn_timeout", 2*time.Minute)
	v.SetDefault("runner.journal_capacity", 1024)

	v.SetDefault("adapters.provider", ProviderMock)
	v.SetDefault("adapters.anthropic.api_key", "")
	v.SetDefault("adapters.anthropic.base_url", "")
	v.SetDefault("adapters.anthropic.model", "")
	v.SetDefault("adapters.anthropic.fast_model", "")
	v.SetDefault("adapters.openai.api_key", "")
	v.SetDefault("adapters.openai.base_url", "")
	v.SetDefault("adapters.openai.voice", "")

	v.SetDefault("vocab.enabled", false)
	v.SetDefault("vocab.path", "")
	v.SetDefault("vocab.word_list", "")
	v.SetDefault("vocab.collection", "ielts-vocabulary")
	v.SetDefault("vocab.max_keywords", 4)
	v.SetDefault("vocab.min_similarity", 0.15)
	v.SetDefault("vocab.cache_size", 4096)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (optional) and applies SPEAKMESH_* environment overrides.
// The vendor variables ANTHROPIC_API_KEY and OPENAI_API_KEY are honoured as
// fallbacks for the API keys.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("adapters.anthropic.api_key", EnvPrefix+"_ADAPTERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("adapters.openai.api_key", EnvPrefix+"_ADAPTERS_OPENAI_API_KEY", "OPENAI_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.RateLimit >= 0, "server.rate_limit must not be negative")
	check(c.Server.RateLimit == 0 || c.Server.RateBurst > 0, "server.rate_burst must be positive when rate limiting")
	check(c.Server.HeartbeatInterval >= 0, "server.heartbeat_interval must not be negative")
	check(c.Server.MaxAudioBytes > 0, "server.max_audio_bytes must be positive")

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		check(c.Store.DSN != "", "store.dsn is required for the %s driver", c.Store.Driver)
	default:
		check(false, "store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver)
	}

	check(c.Engine.NodeTimeout > 0, "engine.node_timeout must be positive")
	check(c.Engine.CommitTimeout > 0, "engine.commit_timeout must be positive")
	check(c.Runner.LockTimeout > 0, "runner.lock_timeout must be positive")
	check(c.Runner.TurnTimeout > 0, "runner.turn_timeout must be positive")
	check(c.Runner.JournalCapacity > 0, "runner.journal_capacity must be positive")

	switch c.Adapters.Provider {
	case ProviderMock:
	case ProviderLive:
		check(c.Adapters.Anthropic.APIKey != "", "adapters.anthropic.api_key is required for the live provider")
	default:
		check(false, "adapters.provider %q is not one of mock, live", c.Adapters.Provider)
	}

	check(c.Vocab.MaxKeywords > 0, "vocab.max_keywords must be positive")
	check(c.Vocab.MinSimilarity >= 0 && c.Vocab.MinSimilarity <= 1, "vocab.min_similarity must be within [0, 1]")
	check(c.Vocab.CacheSize > 0, "vocab.cache_size must be positive")

	return errors.Join(errs...)
}
