// Package app provides application initialization and dependency injection.
//
// App is the core container wiring the wiki client, Q&A generation, the
// tracking store, the vector collections, and the answering service on top
// of shared Genkit and PostgreSQL instances.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbsync/kbsync/internal/answer"
	"github.com/kbsync/kbsync/internal/config"
	"github.com/kbsync/kbsync/internal/confluence"
	"github.com/kbsync/kbsync/internal/events"
	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/syncer"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Domain components
	Confluence *confluence.Client
	Store      *tracker.Store
	Generated  *vectorindex.Collection
	Confirmed  *vectorindex.Collection
	Engine     *syncer.Engine
	Answerer   *answer.Service
	Events     *events.Pool

	// Lifecycle management
	lock        *flock.Flock
	otelCleanup func()
	dbCleanup   func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources in reverse setup order.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.Events != nil {
		if err := a.Events.Stop(context.Background()); err != nil {
			a.logger().Warn("stopping event pool", "error", err)
		}
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.logger().Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.logger().Warn("releasing process lock", "error", err)
		}
	}

	return nil
}

func (a *App) logger() log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
