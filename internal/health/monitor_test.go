package health

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
	"github.com/vietddude/ocrsweep/internal/infra/storage/memory"
)

func ok(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.New("unreachable") }

func TestMonitor_Healthy(t *testing.T) {
	m := NewMonitor(
		map[string]Check{"database": ok},
		map[string]Check{"redis": ok, "engine": ok},
		nil, "default", 3,
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if len(report.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(report.Components))
	}
}

func TestMonitor_OptionalFailureDegrades(t *testing.T) {
	m := NewMonitor(
		map[string]Check{"database": ok},
		map[string]Check{"redis": down},
		nil, "default", 3,
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Components["redis"].Detail == "" {
		t.Errorf("degraded component must carry a detail")
	}
}

func TestMonitor_CriticalFailureWins(t *testing.T) {
	m := NewMonitor(
		map[string]Check{"database": down},
		map[string]Check{"redis": down},
		nil, "default", 3,
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
}

func TestMonitor_IncludesBacklog(t *testing.T) {
	ledger := memory.NewLedger()
	ctx := context.Background()
	id, err := ledger.UpsertDocument(ctx, &domain.Document{SourcePath: "/in/a.png", Fingerprint: "x", Pipeline: "default"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	run, err := ledger.BeginRun(ctx, id, "default", nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := ledger.CompleteRun(ctx, run.ID, domain.RunStatusDone, storage.CompleteOptions{OutPath: "/out/a"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	m := NewMonitor(map[string]Check{"database": ok}, nil, ledger, "default", 3)
	report := m.CheckHealth(ctx)
	if report.Backlog == nil || report.Backlog.Done != 1 {
		t.Errorf("backlog not reported: %+v", report.Backlog)
	}
}
