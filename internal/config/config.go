// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server    ServerOptions
	Database  DatabaseOptions
	Redis     RedisOptions
	NATS      NATSOptions
	LLM       LLMOptions
	AI        AIOptions
	RateLimit RateLimitOptions
	Tracing   TracingOptions

	JWTSecret      string   `env:"JWT_SECRET" envDefault:"development-secret-change-in-production"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://*,http://*"`
}

// ServerOptions configure the HTTP listener.
type ServerOptions struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseOptions configure Postgres. Without a URL the in-memory store is used.
type DatabaseOptions struct {
	URL            string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE_ON_START" envDefault:"false"`
}

// RedisOptions configure the distributed conversation lock. Without a URL an
// in-process lock is used.
type RedisOptions struct {
	URL string `env:"REDIS_URL"`
	// LockTTL is refreshed while a lock is held. It bounds how long a lock
	// left by a crashed instance blocks its conversation.
	LockTTL time.Duration `env:"REDIS_LOCK_TTL" envDefault:"60s"`
}

// NATSOptions configure the event stream. Without a URL events are not
// published and the SSE endpoint is unavailable.
type NATSOptions struct {
	URL      string `env:"NATS_URL"`
	CAFile   string `env:"NATS_CA_FILE"`
	CertFile string `env:"NATS_CERT_FILE"`
	KeyFile  string `env:"NATS_KEY_FILE"`
	Token    string `env:"NATS_TOKEN"`
}

// LLMOptions select the model provider.
type LLMOptions struct {
	DefaultProvider string `env:"DEFAULT_LLM" envDefault:"anthropic"`
	Model           string `env:"LLM_MODEL"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
}

// APIKey returns the key configured for the default provider.
func (o LLMOptions) APIKey() string {
	switch o.DefaultProvider {
	case "openai":
		return o.OpenAIAPIKey
	case "gemini":
		return o.GeminiAPIKey
	default:
		return o.AnthropicAPIKey
	}
}

// AIOptions tune the AI gateway.
type AIOptions struct {
	Timeout         time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`
	HistoryLimit    int           `env:"AI_HISTORY_LIMIT" envDefault:"50"`
	MaxMessageChars int           `env:"AI_MAX_MESSAGE_CHARS" envDefault:"2000"`
	KnowledgeTopK   int           `env:"AI_KNOWLEDGE_TOP_K" envDefault:"3"`
	MaxTokens       int           `env:"AI_MAX_TOKENS" envDefault:"1024"`
	Temperature     float64       `env:"AI_TEMPERATURE" envDefault:"0.3"`
}

// RateLimitOptions configure request throttling. A zero limit disables it.
type RateLimitOptions struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// TracingOptions configure OpenTelemetry export.
type TracingOptions struct {
	Enabled     bool    `env:"TRACING_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads configuration from the environment after loading any of files
// that exist. Variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.DefaultProvider {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("DEFAULT_LLM must be anthropic, openai or gemini, got %q", c.LLM.DefaultProvider)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.RateLimit.Requests < 0 {
		return errors.New("RATE_LIMIT_REQUESTS must not be negative")
	}
	return nil
}
