// Package wire assembles the application's dependency graph with Google
// Wire. Providers that open external connections return cleanup functions.
package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sevigo/goframe/embeddings"
	"github.com/sevigo/goframe/llms"
	"github.com/sevigo/goframe/llms/gemini"
	"github.com/sevigo/goframe/llms/ollama"

	"github.com/yushao2/sre-agent/internal/app"
	"github.com/yushao2/sre-agent/internal/config"
	"github.com/yushao2/sre-agent/internal/connect"
	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/db"
	"github.com/yushao2/sre-agent/internal/dispatch"
	"github.com/yushao2/sre-agent/internal/knowledge"
	"github.com/yushao2/sre-agent/internal/llm"
	"github.com/yushao2/sre-agent/internal/logger"
	"github.com/yushao2/sre-agent/internal/metrics"
	"github.com/yushao2/sre-agent/internal/queue"
	"github.com/yushao2/sre-agent/internal/server"
	"github.com/yushao2/sre-agent/internal/storage"
	"github.com/yushao2/sre-agent/internal/worker"
)

// AppSet is the provider set for the full application.
var AppSet = wire.NewSet(
	app.NewApp,
	config.LoadConfig,
	llm.NewPromptManager,
	provideLogger,
	provideMetrics,
	provideResultStore,
	provideBroker,
	provideGeneratorLLM,
	provideEmbedder,
	provideKnowledgeBase,
	provideFetcher,
	provideInferencer,
	provideGateway,
	provideExecutor,
	provideServer,
)

func provideLogger(cfg *config.Config) *slog.Logger {
	// nil writer lets the constructor resolve stdout/stderr from config.
	return logger.NewLogger(cfg.Logger, nil)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func provideResultStore(cfg *config.Config, log *slog.Logger) (core.ResultStore, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		log.Warn("using in-memory result store, task records will not survive restarts")
		return storage.NewMemoryStore(), func() {}, nil
	case "postgres":
		dbConn, cleanup, err := db.NewDatabase(cfg.Database)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to connect to database: %w", err)
		}
		return storage.NewPostgresStore(dbConn.DB), cleanup, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func provideBroker(cfg *config.Config, log *slog.Logger) (core.Broker, func(), error) {
	switch cfg.Broker.Backend {
	case "memory":
		log.Warn("using in-memory broker, queued envelopes will not survive restarts")
		b := queue.NewMemoryBroker(cfg.Broker.VisibilityTimeout, log)
		return b, func() { _ = b.Close() }, nil
	case "nats":
		b, err := queue.NewNATSBroker(queue.NATSOptions{
			URL:               cfg.Broker.NATSURL,
			Stream:            cfg.Broker.Stream,
			Subject:           cfg.Broker.Subject,
			Durable:           cfg.Broker.Durable,
			VisibilityTimeout: cfg.Broker.VisibilityTimeout,
		}, log)
		if err != nil {
			return nil, func() {}, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported broker backend: %s", cfg.Broker.Backend)
	}
}

// newLLMHTTPClient builds an HTTP client with generous timeouts; local model
// servers can take minutes on a cold prompt.
func newLLMHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   5 * time.Minute,
	}
}

func provideGeneratorLLM(ctx context.Context, cfg *config.Config, log *slog.Logger) (llms.Model, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		log.Info("using Gemini LLM provider", "model", cfg.LLM.GeneratorModelName)
		return gemini.New(ctx,
			gemini.WithModel(cfg.LLM.GeneratorModelName),
			gemini.WithAPIKey(cfg.LLM.GeminiAPIKey),
		)
	case "ollama":
		log.Info("using Ollama LLM provider", "model", cfg.LLM.GeneratorModelName)
		return ollama.New(
			ollama.WithServerURL(cfg.LLM.OllamaHost),
			ollama.WithModel(cfg.LLM.GeneratorModelName),
			ollama.WithHTTPClient(newLLMHTTPClient()),
			ollama.WithLogger(log),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

func provideEmbedder(cfg *config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	embedderLLM, err := ollama.New(
		ollama.WithServerURL(cfg.LLM.OllamaHost),
		ollama.WithModel(cfg.LLM.EmbedderModelName),
		ollama.WithHTTPClient(newLLMHTTPClient()),
		ollama.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder LLM: %w", err)
	}
	return embeddings.NewEmbedder(embedderLLM)
}

func provideKnowledgeBase(cfg *config.Config, embedder embeddings.Embedder, log *slog.Logger) core.KnowledgeBase {
	return knowledge.NewQdrantKnowledgeBase(cfg.Knowledge.QdrantHost, cfg.Knowledge.Collection, embedder, log)
}

func provideFetcher(cfg *config.Config, log *slog.Logger) core.Fetcher {
	if cfg.Jira.BaseURL == "" {
		log.Info("jira connector not configured, external enrichment disabled")
		return nil
	}
	return connect.NewJiraFetcher(cfg.Jira.BaseURL, cfg.Jira.Username, cfg.Jira.APIToken, log)
}

func provideInferencer(model llms.Model, prompts *llm.PromptManager, cfg *config.Config, log *slog.Logger) core.Inferencer {
	return llm.NewAgent(model, prompts, cfg.LLM.Provider, log)
}

func provideGateway(store core.ResultStore, broker core.Broker, m *metrics.Metrics, cfg *config.Config, log *slog.Logger) *dispatch.Gateway {
	return dispatch.NewGateway(store, broker, m, cfg.Server.SyncTimeout, log)
}

func provideExecutor(
	cfg *config.Config,
	store core.ResultStore,
	broker core.Broker,
	inferencer core.Inferencer,
	kb core.KnowledgeBase,
	fetcher core.Fetcher,
	m *metrics.Metrics,
	log *slog.Logger,
) *worker.Executor {
	return worker.NewExecutor(worker.Config{
		Slots:        cfg.Worker.Slots,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		InferTimeout: cfg.Worker.InferTimeout,
		BackoffBase:  cfg.Worker.BackoffBase,
		BackoffCap:   cfg.Worker.BackoffCap,
		ClaimLease:   cfg.Broker.VisibilityTimeout,
	}, store, broker, inferencer, kb, fetcher, m, log)
}

func provideServer(cfg *config.Config, gateway *dispatch.Gateway, store core.ResultStore, broker core.Broker, log *slog.Logger) *server.Server {
	router := server.NewRouter(gateway, store, broker, log)
	return server.NewServer(cfg.Server.Port, router, log)
}
