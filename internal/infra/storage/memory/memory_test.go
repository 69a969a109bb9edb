package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
)

func seedDoc(t *testing.T, l *Ledger, path string) (context.Context, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	id, err := l.UpsertDocument(ctx, &domain.Document{
		SourcePath:  path,
		Fingerprint: "abc",
		FileSize:    10,
		Pipeline:    "default",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return ctx, id
}

func TestUpsertDocument_Idempotent(t *testing.T) {
	l := NewLedger()
	ctx, id := seedDoc(t, l, "/in/a.png")

	again, err := l.UpsertDocument(ctx, &domain.Document{
		SourcePath:  "/in/a.png",
		Fingerprint: "changed",
		Pipeline:    "default",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again != id {
		t.Errorf("re-upsert must return the same id")
	}
}

func TestBeginRun_AttemptNumbersAreMonotonicPerPipeline(t *testing.T) {
	l := NewLedger()
	ctx, docID := seedDoc(t, l, "/in/a.png")

	r1, err := l.BeginRun(ctx, docID, "default", nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if r1.AttemptNo != 1 || r1.Status != domain.RunStatusProcessing {
		t.Fatalf("first run = attempt %d status %s", r1.AttemptNo, r1.Status)
	}
	if err := l.CompleteRun(ctx, r1.ID, domain.RunStatusFailed, storage.CompleteOptions{
		ErrorKind: domain.ErrorKindTransient,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	r2, err := l.BeginRun(ctx, docID, "default", &r1.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if r2.AttemptNo != 2 {
		t.Errorf("second attempt = %d, want 2", r2.AttemptNo)
	}
	if r2.ParentRunID == nil || *r2.ParentRunID != r1.ID {
		t.Errorf("parent run not recorded")
	}

	// A different pipeline starts its own attempt counter.
	other, err := l.BeginRun(ctx, docID, "tables", nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if other.AttemptNo != 1 {
		t.Errorf("other pipeline attempt = %d, want 1", other.AttemptNo)
	}
}

func TestCompleteRun_TerminalRunsAreImmutable(t *testing.T) {
	l := NewLedger()
	ctx, docID := seedDoc(t, l, "/in/a.png")

	run, err := l.BeginRun(ctx, docID, "default", nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := l.CompleteRun(ctx, run.ID, domain.RunStatusDone, storage.CompleteOptions{OutPath: "/out/a"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err = l.CompleteRun(ctx, run.ID, domain.RunStatusFailed, storage.CompleteOptions{})
	if !errors.Is(err, storage.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}

	err = l.CompleteRun(ctx, uuid.New(), domain.RunStatusDone, storage.CompleteOptions{})
	if !errors.Is(err, storage.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLastRunAndLastSuccessfulRun(t *testing.T) {
	l := NewLedger()
	ctx, docID := seedDoc(t, l, "/in/a.png")

	if r, err := l.LastRun(ctx, docID, "default"); err != nil || r != nil {
		t.Fatalf("expected no runs yet, got %v, %v", r, err)
	}

	r1, _ := l.BeginRun(ctx, docID, "default", nil)
	_ = l.CompleteRun(ctx, r1.ID, domain.RunStatusDone, storage.CompleteOptions{OutPath: "/out/a"})
	r2, _ := l.BeginRun(ctx, docID, "default", nil)
	_ = l.CompleteRun(ctx, r2.ID, domain.RunStatusFailed, storage.CompleteOptions{ErrorKind: domain.ErrorKindTransient})

	last, err := l.LastRun(ctx, docID, "default")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last.ID != r2.ID {
		t.Errorf("last run should be the newest attempt")
	}

	done, err := l.LastSuccessfulRun(ctx, docID)
	if err != nil {
		t.Fatalf("last successful: %v", err)
	}
	if done == nil || done.ID != r1.ID {
		t.Errorf("last successful run should be the done attempt")
	}
}

func TestMarkSkipped(t *testing.T) {
	l := NewLedger()
	ctx, docID := seedDoc(t, l, "/in/a.png")

	if err := l.MarkSkipped(ctx, "/in/a.png", "default"); err != nil {
		t.Fatalf("mark skipped: %v", err)
	}
	last, err := l.LastRun(ctx, docID, "default")
	if err != nil || last == nil {
		t.Fatalf("last run: %v", err)
	}
	if last.Status != domain.RunStatusSkipped || last.FinishedAt == nil {
		t.Errorf("skip must create a terminal skipped run, got %s", last.Status)
	}

	if err := l.MarkSkipped(ctx, "/in/missing.png", "default"); !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestCountByOutcome(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	mk := func(path string, finish domain.RunStatus, kind domain.ErrorKind, attempts int) {
		id, err := l.UpsertDocument(ctx, &domain.Document{SourcePath: path, Fingerprint: "x", Pipeline: "default"})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		for i := 0; i < attempts; i++ {
			r, err := l.BeginRun(ctx, id, "default", nil)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			status := finish
			if i < attempts-1 {
				status = domain.RunStatusFailed
			}
			if err := l.CompleteRun(ctx, r.ID, status, storage.CompleteOptions{ErrorKind: kind}); err != nil {
				t.Fatalf("complete: %v", err)
			}
		}
	}

	mk("/in/done.png", domain.RunStatusDone, "", 1)
	mk("/in/flaky.png", domain.RunStatusFailed, domain.ErrorKindTransient, 2)
	mk("/in/odd.png", domain.RunStatusFailed, domain.ErrorKindUnknown, 3)
	mk("/in/ignored.png", domain.RunStatusSkipped, "", 1)

	counts, err := l.CountByOutcome(ctx, "default", 3)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Done != 1 || counts.Failed != 2 || counts.Skipped != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.Unreviewed != 1 {
		t.Errorf("budget-exhausted unknown failure should be unreviewed, got %d", counts.Unreviewed)
	}
}

func TestPruneRuns_KeepsLatestAttempt(t *testing.T) {
	l := NewLedger()
	ctx, docID := seedDoc(t, l, "/in/a.png")

	r1, _ := l.BeginRun(ctx, docID, "default", nil)
	_ = l.CompleteRun(ctx, r1.ID, domain.RunStatusFailed, storage.CompleteOptions{ErrorKind: domain.ErrorKindTransient})
	_ = l.MarkStep(ctx, r1.ID, domain.StepEngineStart, domain.StepStarted, "")
	r2, _ := l.BeginRun(ctx, docID, "default", &r1.ID)
	_ = l.CompleteRun(ctx, r2.ID, domain.RunStatusDone, storage.CompleteOptions{OutPath: "/out/a"})

	deleted, err := l.PruneRuns(ctx, "default", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 pruned run, got %d", deleted)
	}

	runs := l.Runs(docID, "default")
	if len(runs) != 1 || runs[0].ID != r2.ID {
		t.Fatalf("latest attempt must survive pruning")
	}
	if runs[0].ParentRunID != nil {
		t.Errorf("pruned parent lineage must be detached")
	}
	if steps := l.Steps(r1.ID); len(steps) != 0 {
		t.Errorf("steps of pruned runs must be removed")
	}
}
