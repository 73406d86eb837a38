// Package config loads the application configuration from environment
// variables and an optional .env file using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/yushao2/sre-agent/internal/logger"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        string
	SyncTimeout time.Duration
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// BrokerConfig selects and configures the queue backend.
type BrokerConfig struct {
	Backend           string // "memory" or "nats"
	NATSURL           string
	Stream            string
	Subject           string
	Durable           string
	VisibilityTimeout time.Duration
}

// StorageConfig selects the result store backend.
type StorageConfig struct {
	Backend string // "memory" or "postgres"
}

// WorkerConfig controls the executor pool and its retry policy.
type WorkerConfig struct {
	Slots        int
	MaxAttempts  int
	InferTimeout time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// LLMConfig configures the inference collaborator.
type LLMConfig struct {
	Provider           string // "ollama" or "gemini"
	OllamaHost         string
	GeminiAPIKey       string
	GeneratorModelName string
	EmbedderModelName  string
}

// KnowledgeConfig configures the incident knowledge base.
type KnowledgeConfig struct {
	QdrantHost string
	Collection string
}

// JiraConfig configures the read-only Jira connector. Empty settings disable
// external enrichment.
type JiraConfig struct {
	BaseURL  string
	Username string
	APIToken string
}

// RetentionConfig controls garbage collection of terminal task records.
type RetentionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Config holds the application's configuration values.
type Config struct {
	Server    ServerConfig
	Database  *DBConfig
	Broker    BrokerConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	LLM       LLMConfig
	Knowledge KnowledgeConfig
	Jira      JiraConfig
	Retention RetentionConfig
	Logger    logger.Config
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SYNC_TIMEOUT", "30s")

	v.SetDefault("STORAGE_BACKEND", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "sre_agent")
	v.SetDefault("DB_NAME", "sre_agent")
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	v.SetDefault("BROKER_BACKEND", "nats")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("BROKER_STREAM", "TASKS")
	v.SetDefault("BROKER_SUBJECT", "tasks.llm")
	v.SetDefault("BROKER_DURABLE", "llm-workers")
	v.SetDefault("VISIBILITY_TIMEOUT", "5m")

	v.SetDefault("WORKER_SLOTS", 4)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("INFER_TIMEOUT", "4m")
	v.SetDefault("RETRY_BACKOFF_BASE", "30s")
	v.SetDefault("RETRY_BACKOFF_CAP", "2m")

	v.SetDefault("LLM_PROVIDER", "ollama")
	v.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	v.SetDefault("GENERATOR_MODEL_NAME", "gemma3:latest")
	v.SetDefault("EMBEDDER_MODEL_NAME", "nomic-embed-text")

	v.SetDefault("QDRANT_HOST", "localhost:6334")
	v.SetDefault("KNOWLEDGE_COLLECTION", "incidents")

	v.SetDefault("RESULT_TTL", "24h")
	v.SetDefault("RETENTION_SWEEP_INTERVAL", "1h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A missing .env is fine; a broken one is not.
			return nil, fmt.Errorf("failed to read .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("SERVER_PORT"),
			SyncTimeout: v.GetDuration("SYNC_TIMEOUT"),
		},
		Database: &DBConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Username:        v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Broker: BrokerConfig{
			Backend:           v.GetString("BROKER_BACKEND"),
			NATSURL:           v.GetString("NATS_URL"),
			Stream:            v.GetString("BROKER_STREAM"),
			Subject:           v.GetString("BROKER_SUBJECT"),
			Durable:           v.GetString("BROKER_DURABLE"),
			VisibilityTimeout: v.GetDuration("VISIBILITY_TIMEOUT"),
		},
		Storage: StorageConfig{
			Backend: v.GetString("STORAGE_BACKEND"),
		},
		Worker: WorkerConfig{
			Slots:        v.GetInt("WORKER_SLOTS"),
			MaxAttempts:  v.GetInt("MAX_ATTEMPTS"),
			InferTimeout: v.GetDuration("INFER_TIMEOUT"),
			BackoffBase:  v.GetDuration("RETRY_BACKOFF_BASE"),
			BackoffCap:   v.GetDuration("RETRY_BACKOFF_CAP"),
		},
		LLM: LLMConfig{
			Provider:           v.GetString("LLM_PROVIDER"),
			OllamaHost:         v.GetString("OLLAMA_HOST"),
			GeminiAPIKey:       v.GetString("GEMINI_API_KEY"),
			GeneratorModelName: v.GetString("GENERATOR_MODEL_NAME"),
			EmbedderModelName:  v.GetString("EMBEDDER_MODEL_NAME"),
		},
		Knowledge: KnowledgeConfig{
			QdrantHost: v.GetString("QDRANT_HOST"),
			Collection: v.GetString("KNOWLEDGE_COLLECTION"),
		},
		Jira: JiraConfig{
			BaseURL:  v.GetString("JIRA_URL"),
			Username: v.GetString("JIRA_USERNAME"),
			APIToken: v.GetString("JIRA_API_TOKEN"),
		},
		Retention: RetentionConfig{
			TTL:           v.GetDuration("RESULT_TTL"),
			SweepInterval: v.GetDuration("RETENTION_SWEEP_INTERVAL"),
		},
		Logger: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	switch c.Broker.Backend {
	case "memory":
	case "nats":
		if c.Broker.NATSURL == "" {
			return fmt.Errorf("NATS_URL must be set for the nats broker")
		}
	default:
		return fmt.Errorf("unsupported broker backend: %s", c.Broker.Backend)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY must be set for the gemini provider")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	if c.Worker.Slots <= 0 {
		return fmt.Errorf("WORKER_SLOTS must be positive, got %d", c.Worker.Slots)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts)
	}
	return nil
}
