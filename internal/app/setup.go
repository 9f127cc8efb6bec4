package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/ragcore/db"
	"github.com/ragcore/ragcore/internal/chat"
	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/index"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/log"
	"github.com/ragcore/ragcore/internal/observability"
	"github.com/ragcore/ragcore/internal/usage"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Tracing.Environment,
		}, logger)
		if err != nil {
			// Traces are best effort, the service runs without them.
			logger.Warn("tracing setup failed", "error", err)
		} else {
			a.otelCleanup = shutdown
		}
	}

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	store, err := provideIndexStore(pool, cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Logger:  logger.With("component", "llm"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}

	recorder, err := provideUsage(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher = recorder

	orchCfg := chat.Config{
		Client:    client,
		Retriever: store,
		Counter:   chat.NewTokenCounter(nil),
		Logger:    logger.With("component", "orchestrator"),
		Defaults: chat.Defaults{
			Model:         cfg.Model,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			RetrievalTopK: cfg.RetrievalTopK,
		},
	}
	if recorder != nil {
		orchCfg.Usage = recorder
	}

	orch, err := chat.New(orchCfg)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	return a, nil
}

// providePool runs migrations and creates a PostgreSQL connection pool.
func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideIndexStore assembles the tenant-scoped similarity search stack.
func provideIndexStore(pool *pgxpool.Pool, cfg *config.Config, logger log.Logger) (*index.Store, error) {
	embedder, err := index.NewOpenAIEmbedder(index.OpenAIEmbedderConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return index.NewStore(index.NewQueries(pool), embedder, logger.With("component", "index")), nil
}

// provideUsage creates the accounting dispatcher, or nil when no sink
// is configured.
func provideUsage(cfg *config.Config, logger log.Logger) (*usage.Dispatcher, error) {
	if cfg.UsageBaseURL == "" {
		logger.Debug("usage accounting disabled, no sink configured")
		return nil, nil
	}

	sink, err := usage.NewHTTPSink(usage.HTTPSinkConfig{
		BaseURL: cfg.UsageBaseURL,
		Token:   cfg.UsageToken,
	})
	if err != nil {
		return nil, fmt.Errorf("creating usage sink: %w", err)
	}

	return usage.NewDispatcher(sink, cfg.UsageBuffer, logger.With("component", "usage")), nil
}
