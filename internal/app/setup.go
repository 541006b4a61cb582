package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/gofrs/flock"

	"github.com/kbsync/kbsync/internal/answer"
	"github.com/kbsync/kbsync/internal/config"
	"github.com/kbsync/kbsync/internal/confluence"
	"github.com/kbsync/kbsync/internal/database"
	"github.com/kbsync/kbsync/internal/events"
	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/observability"
	"github.com/kbsync/kbsync/internal/qagen"
	"github.com/kbsync/kbsync/internal/syncer"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

// ErrAlreadyRunning reports that another process holds the sync lock.
var ErrAlreadyRunning = errors.New("another kbsync process is already running")

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	lock, err := acquireProcessLock()
	if err != nil {
		return nil, err
	}
	a.lock = lock

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	wiki, err := confluence.New(confluence.Config{
		BaseURL:   cfg.ConfluenceBaseURL,
		Username:  cfg.ConfluenceUser,
		APIToken:  cfg.ConfluenceAPIToken,
		SpaceKeys: cfg.SpaceKeys,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Confluence = wiki

	a.Store = tracker.New(pool, logger)

	queries := vectorindex.NewPG(pool)
	a.Generated = vectorindex.NewCollection(vectorindex.CollectionGenerated, queries, embedder, logger)
	a.Confirmed = vectorindex.NewCollection(vectorindex.CollectionConfirmed, queries, embedder, logger)

	if err := a.Generated.EnsureReady(ctx, a.Store.GeneratedSource()); err != nil {
		return nil, fmt.Errorf("preparing generated collection: %w", err)
	}
	if err := a.Confirmed.EnsureReady(ctx, a.Store.ConfirmedSource()); err != nil {
		return nil, fmt.Errorf("preparing confirmed collection: %w", err)
	}

	completer := qagen.NewGenkitCompleter(g, cfg.FullModelName())
	generator := qagen.NewGenerator(completer, logger,
		qagen.WithMaxContentChars(cfg.MaxContentChars))

	a.Engine = syncer.New(wiki, generator, a.Store, a.Generated, a.Confirmed,
		syncer.Config{
			SyncDelay:       time.Duration(cfg.SyncDelayMS) * time.Millisecond,
			ConfirmedSource: a.Store.ConfirmedSource(),
		},
		logger)

	a.Answerer = answer.New(
		a.Confirmed, a.Store.ConfirmedSource(),
		a.Generated, a.Store.GeneratedSource(),
		completer,
		answer.Config{
			ConfirmedTopK:   cfg.ConfirmedTopK,
			GeneratedTopK:   cfg.TopK,
			ScoreThreshold:  cfg.ScoreThreshold,
			FallbackContact: cfg.FallbackContact,
		},
		logger)

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.Events = events.NewPool(poolCtx, cfg.WorkerCount, cfg.QueueSize,
		EventHandler(a.Engine, logger), logger)

	return a, nil
}

// SyncController is the subset of syncer.Engine the event handler drives.
type SyncController interface {
	SyncAll(ctx context.Context, force bool) (*syncer.Result, error)
	UpdatePage(ctx context.Context, pageID string) error
	RemovePage(ctx context.Context, pageID string) error
	SaveCorrection(ctx context.Context, question, answer string) (*tracker.ConfirmedPair, error)
}

// EventHandler maps pool events onto engine operations.
func EventHandler(engine SyncController, logger log.Logger) events.Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return func(ctx context.Context, event events.Event) error {
		logger.Debug("handling event", "event_id", event.ID, "event_type", event.Type)

		switch event.Type {
		case events.TypePageCreated, events.TypePageUpdated:
			return engine.UpdatePage(ctx, event.PageID)
		case events.TypePageRemoved:
			return engine.RemovePage(ctx, event.PageID)
		case events.TypeCorrection:
			_, err := engine.SaveCorrection(ctx, event.Question, event.Answer)
			return err
		case events.TypeManualSync:
			_, err := engine.SyncAll(ctx, event.Force)
			return err
		default:
			return fmt.Errorf("unknown event type %q", event.Type)
		}
	}
}

// acquireProcessLock takes the per-user lock that keeps two kbsync
// processes from syncing the same database concurrently.
func acquireProcessLock() (*flock.Flock, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, "kbsync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring process lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

// provideOtelShutdown sets up Datadog tracing before Genkit initialization
// so the TracerProvider is ready when flows start.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.SetupDatadog(ctx, observability.Config{
		AgentHost:   cfg.Datadog.AgentHost,
		Environment: cfg.Datadog.Environment,
		ServiceName: cfg.Datadog.ServiceName,
	})
	if err != nil || shutdown == nil {
		logger.Warn("datadog setup failed, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and ollama providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider
// plugin. Ollama embedders are keyed by server address, gemini ones by
// model name.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
