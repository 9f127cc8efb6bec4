// Package app wires configuration into running components: database pool,
// index store, completion backend, usage dispatcher and the orchestrator.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/ragcore/internal/chat"
	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/log"
	"github.com/ragcore/ragcore/internal/usage"
)

// App holds the assembled components and their cleanup functions.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Pool         *pgxpool.Pool
	Orchestrator *chat.Orchestrator

	dispatcher  *usage.Dispatcher
	otelCleanup func(context.Context) error
}

// Close releases all resources in reverse initialization order. The
// usage dispatcher drains before the pool goes away.
func (a *App) Close(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelCleanup != nil {
		return a.otelCleanup(ctx)
	}
	return nil
}
