package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/convoflow/core"
)

// Prefix is the environment prefix. Every variable can also be given
// without it.
const Prefix = "CONVOFLOW"

// Config is the application configuration.
type Config struct {
	OpenAIAPIKey    string  `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string  `envconfig:"ANTHROPIC_API_KEY"`
	ModelProvider   string  `envconfig:"MODEL_PROVIDER" default:"openai"`
	ModelName       string  `envconfig:"MODEL_NAME"`
	Temperature     float64 `envconfig:"TEMPERATURE" default:"0"`

	QdrantURL        string `envconfig:"QDRANT_URL"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION_NAME"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	RetrievalTopK    int    `envconfig:"RETRIEVAL_TOP_K" default:"4"`
	RetrievalQueries int    `envconfig:"RETRIEVAL_QUERIES" default:"3"`

	NATSURL    string        `envconfig:"NATS_URL"`
	NATSToken  string        `envconfig:"NATS_TOKEN"`
	NATSBucket string        `envconfig:"NATS_BUCKET" default:"convoflow_threads"`
	ThreadTTL  time.Duration `envconfig:"THREAD_TTL" default:"0"`

	CRMLeadURL       string  `envconfig:"CRM_LEAD_URL"`
	CRMUsername      string  `envconfig:"CRM_USERNAME"`
	CRMPassword      string  `envconfig:"CRM_PASSWORD"`
	CRMTranscriptURL string  `envconfig:"CRM_TRANSCRIPT_URL"`
	CRMRatePerSecond float64 `envconfig:"CRM_RATE_PER_SECOND" default:"5"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	HTTPAddr          string        `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins       []string      `envconfig:"CORS_ORIGINS" default:"*"`
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	ReviewMode  string   `envconfig:"REVIEW_MODE" default:"tools"`
	ReviewTools []string `envconfig:"REVIEW_TOOLS" default:"createLead"`
	MaxSteps    int      `envconfig:"MAX_STEPS" default:"25"`

	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string `envconfig:"LOG_FORMAT" default:"json"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
}

// Load reads Config from the environment and validates it.
func Load(optFns ...func(o *Options)) (*Config, error) {
	c, err := New[Config](Prefix, optFns...)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch strings.ToLower(c.ModelProvider) {
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider openai", core.ErrValidation)
		}
	case "anthropic":
		if strings.TrimSpace(c.AnthropicAPIKey) == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY is required for provider anthropic", core.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown model provider %q", core.ErrValidation, c.ModelProvider)
	}

	switch strings.ToLower(c.ReviewMode) {
	case "tools", "always", "never":
	default:
		return fmt.Errorf("%w: unknown review mode %q", core.ErrValidation, c.ReviewMode)
	}

	if c.QdrantURL != "" && c.QdrantCollection == "" {
		return fmt.Errorf("%w: QDRANT_COLLECTION_NAME is required with QDRANT_URL", core.ErrValidation)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: MAX_STEPS must not be negative", core.ErrValidation)
	}
	if c.RateLimitRequests < 0 || (c.RateLimitRequests > 0 && c.RateLimitWindow <= 0) {
		return fmt.Errorf("%w: invalid rate limit", core.ErrValidation)
	}
	return nil
}

// RetrievalEnabled reports whether a vector index is configured.
func (c Config) RetrievalEnabled() bool { return c.QdrantURL != "" }

// DurableThreads reports whether threads live in NATS.
func (c Config) DurableThreads() bool { return c.NATSURL != "" }

// DurableDispatch reports whether transcripts are queued in Postgres.
func (c Config) DurableDispatch() bool { return c.DatabaseURL != "" }
