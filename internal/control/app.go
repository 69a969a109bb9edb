// Package control wires the application together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/ocrsweep/internal/artifact"
	"github.com/vietddude/ocrsweep/internal/core/config"
	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/core/worker"
	"github.com/vietddude/ocrsweep/internal/engine"
	"github.com/vietddude/ocrsweep/internal/health"
	redisclient "github.com/vietddude/ocrsweep/internal/infra/redis"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
	"github.com/vietddude/ocrsweep/internal/infra/storage/memory"
	"github.com/vietddude/ocrsweep/internal/infra/storage/postgres"
	"github.com/vietddude/ocrsweep/internal/metrics"
	"github.com/vietddude/ocrsweep/internal/sweep"
)

// Flags are the per-invocation overrides from the CLI.
type Flags struct {
	Force   bool
	Resume  bool
	DryRun  bool
	Requeue bool
}

// App owns the wired components and their lifecycle.
type App struct {
	cfg          *config.AppConfig
	flags        Flags
	ledger       storage.Ledger
	db           *postgres.Ledger
	redisClient  *redisclient.Client
	retryQueue   *redisclient.RetryQueue
	engines      []engine.Engine
	orchestrator *sweep.Orchestrator
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, flags Flags) (*App, error) {
	log := slog.Default()

	// 1. Storage
	var ledger storage.Ledger
	var db *postgres.Ledger
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		ledger = db
		log.Info("Using PostgreSQL ledger")
	} else {
		ledger = memory.NewLedger()
		log.Info("Using in-memory ledger; run history will not survive this process")
	}

	// 2. Redis retry queue (optional)
	var redisClient *redisclient.Client
	var retryQueue *redisclient.RetryQueue
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, backoff queue disabled", "error", err)
		} else {
			retryQueue = redisclient.NewRetryQueue(redisClient, cfg.Sweep.Pipeline)
		}
	}

	// 3. Engine pool, one session per slot
	engines := make([]engine.Engine, 0, cfg.Sweep.Concurrency)
	for i := 0; i < cfg.Sweep.Concurrency; i++ {
		if flags.DryRun {
			engines = append(engines, engine.NewFakeEngine())
		} else {
			engines = append(engines, engine.NewRemoteEngine(cfg.Engine))
		}
	}

	// 4. Orchestrator
	policy := sweep.Policy{
		MaxAttempts: cfg.Sweep.MaxAttempts,
		Backoff:     cfg.Sweep.Backoff,
		MaxBackoff:  cfg.Sweep.MaxBackoff,
		RetryKinds:  parseRetryKinds(cfg.Sweep.RetryKinds),
		Force:       flags.Force,
		Resume:      flags.Resume,
	}
	var queue sweep.BackoffQueue
	if retryQueue != nil {
		queue = retryQueue
	}
	orch := sweep.New(sweep.Config{
		InputRoot:          cfg.Sweep.InputRoot,
		OutRoot:            cfg.Sweep.OutRoot,
		Recursive:          cfg.Sweep.Recursive,
		Limit:              cfg.Sweep.Limit,
		Pipeline:           cfg.Sweep.Pipeline,
		RunTag:             cfg.Sweep.RunTag,
		PromptID:           cfg.Sweep.PromptID,
		RequirePersistence: flags.Requeue,
	}, policy, ledger, engines, artifact.NewWriter(cfg.Sweep.OutRoot), queue, log)

	// 5. Health server
	critical := map[string]health.Check{}
	optional := map[string]health.Check{}
	if db != nil {
		critical["database"] = db.Health
	}
	if redisClient != nil {
		optional["redis"] = redisClient.Health
	}
	optional["engine"] = func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Engine.Endpoint+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("engine returned status %d", resp.StatusCode)
		}
		return nil
	}
	monitor := health.NewMonitor(critical, optional, ledger, cfg.Sweep.Pipeline, cfg.Sweep.MaxAttempts)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		flags:        flags,
		ledger:       ledger,
		db:           db,
		redisClient:  redisClient,
		retryQueue:   retryQueue,
		engines:      engines,
		orchestrator: orch,
		healthServer: healthServer,
		log:          log,
	}, nil
}

// Ledger exposes the run ledger for admin commands.
func (a *App) Ledger() storage.Ledger { return a.ledger }

// RetryQueue exposes the backoff queue, nil when Redis is not
// configured.
func (a *App) RetryQueue() *redisclient.RetryQueue { return a.retryQueue }

// Run starts the engines and executes the sweep, once or on an
// interval. It blocks until the sweep (or ctx) is done.
func (a *App) Run(ctx context.Context) (domain.Summary, error) {
	go func() {
		if err := a.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.cfg.Sweep.Retention > 0 {
		pruner := worker.NewPruner(a.cfg.Sweep.Retention, a.cfg.Sweep.Pipeline, a.ledger, a.log)
		go pruner.Start(ctx)
	}

	for i, eng := range a.engines {
		if err := eng.Start(ctx); err != nil {
			return domain.Summary{}, fmt.Errorf("engine %d failed to start: %w", i, err)
		}
	}

	summary, err := a.orchestrator.Run(ctx)
	if err != nil || a.cfg.Sweep.Interval <= 0 {
		return summary, err
	}

	ticker := time.NewTicker(a.cfg.Sweep.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-ticker.C:
			s, err := a.orchestrator.Run(ctx)
			if err != nil {
				return summary, err
			}
			summary = s
			a.refreshQueueDepth(ctx)
		}
	}
}

// Requeue drains due entries from the backoff queue and processes
// exactly those documents.
func (a *App) Requeue(ctx context.Context, max int) (domain.Summary, error) {
	if a.retryQueue == nil {
		return domain.Summary{}, fmt.Errorf("redis is not configured; nothing to requeue")
	}
	for i, eng := range a.engines {
		if err := eng.Start(ctx); err != nil {
			return domain.Summary{}, fmt.Errorf("engine %d failed to start: %w", i, err)
		}
	}

	paths, err := a.retryQueue.PopDue(ctx, time.Now(), int64(max))
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to drain retry queue: %w", err)
	}
	if len(paths) == 0 {
		a.log.Info("No documents due for retry")
		return domain.Summary{}, nil
	}
	a.log.Info("Requeuing documents", "count", len(paths))
	return a.orchestrator.RunOnly(ctx, paths)
}

// Stop shuts down the app components.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	for _, eng := range a.engines {
		if err := eng.Stop(); err != nil {
			a.log.Warn("Failed to stop engine", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.healthServer.Stop(shutdownCtx); err != nil {
		a.log.Warn("Failed to stop health server", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("Failed to close ledger", "error", err)
		}
	}
	return nil
}

func (a *App) refreshQueueDepth(ctx context.Context) {
	if a.retryQueue == nil {
		return
	}
	if n, err := a.retryQueue.Size(ctx); err == nil {
		metrics.RetryQueueDepth.Set(float64(n))
	}
}

func parseRetryKinds(kinds []string) map[domain.ErrorKind]bool {
	if len(kinds) == 0 {
		return sweep.DefaultRetryKinds()
	}
	out := make(map[domain.ErrorKind]bool, len(kinds))
	for _, k := range kinds {
		switch domain.ErrorKind(k) {
		case domain.ErrorKindTransient, domain.ErrorKindUnknown:
			out[domain.ErrorKind(k)] = true
		case domain.ErrorKindPermanent:
			// Permanent failures are terminal; ignore.
		}
	}
	return out
}
