// Package worker holds background maintenance workers.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/ocrsweep/internal/infra/storage"
)

// Pruner deletes superseded run history based on retention policy. The
// latest attempt per document always survives, so retry decisions are
// unaffected.
type Pruner struct {
	retention time.Duration
	pipeline  string
	ledger    storage.Ledger
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, pipeline string, ledger storage.Ledger, log *slog.Logger) *Pruner {
	return &Pruner{
		retention: retention,
		pipeline:  pipeline,
		ledger:    ledger,
		log:       log,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	threshold := time.Now().Add(-p.retention)

	deleted, err := p.ledger.PruneRuns(ctx, p.pipeline, threshold)
	if err != nil {
		p.log.Error("Failed to prune run history", "pipeline", p.pipeline, "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("Pruned superseded runs", "pipeline", p.pipeline, "deleted", deleted)
	}
}
