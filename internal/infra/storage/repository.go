// Package storage defines the run ledger contract. The ledger owns
// Document and Run row lifecycles; callers never mutate ledger state
// except through these operations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunTerminal is returned when completing a run that already
	// reached a terminal state. Terminal runs are immutable.
	ErrRunTerminal = errors.New("run already terminal")

	// ErrDocumentNotFound is returned when a document id does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// CompleteOptions carries the terminal details of a run.
type CompleteOptions struct {
	ErrorKind   domain.ErrorKind
	ErrorDetail string
	OutPath     string
	RetryAfter  time.Duration
}

// OutcomeCounts summarizes the latest run per document under one pipeline.
type OutcomeCounts struct {
	Done       int
	Failed     int
	Skipped    int
	InFlight   int // stale queued/processing rows
	Unreviewed int // failed-unknown runs that exhausted the attempt budget
}

// Ledger is the durable store of documents and their run history.
type Ledger interface {
	// UpsertDocument creates or updates a document by source path and
	// returns its id. Idempotent on unchanged input; a changed
	// fingerprint refreshes the row in place.
	UpsertDocument(ctx context.Context, doc *domain.Document) (uuid.UUID, error)

	// LastRun returns the newest run for (document, pipeline), or nil.
	LastRun(ctx context.Context, docID uuid.UUID, pipeline string) (*domain.Run, error)

	// LastSuccessfulRun returns the newest done run for the document
	// across pipelines, or nil.
	LastSuccessfulRun(ctx context.Context, docID uuid.UUID) (*domain.Run, error)

	// BeginRun opens a new attempt: attempt_no is derived
	// transactionally as the previous number for (document, pipeline)
	// plus one, status is processing, started_at is now.
	BeginRun(ctx context.Context, docID uuid.UUID, pipeline string, parentRunID *uuid.UUID) (*domain.Run, error)

	// CompleteRun closes a run exactly once. It rejects runs that are
	// already terminal with ErrRunTerminal.
	CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, opts CompleteOptions) error

	// MarkSkipped records an operator skip as a new terminal run for
	// the document at the given source path. Later sweeps leave the
	// document alone until resume or force.
	MarkSkipped(ctx context.Context, sourcePath, pipeline string) error

	// MarkStep records an observational sub-event within a run.
	MarkStep(ctx context.Context, runID uuid.UUID, name string, status domain.StepStatus, errorDetail string) error

	// CountByOutcome aggregates the latest run per document for the
	// given pipeline. maxAttempts feeds the Unreviewed audit count.
	CountByOutcome(ctx context.Context, pipeline string, maxAttempts int) (OutcomeCounts, error)

	// PruneRuns deletes superseded terminal runs, and their steps,
	// that finished before the threshold. The latest attempt per
	// document is always kept. Returns the number of runs deleted.
	PruneRuns(ctx context.Context, pipeline string, olderThan time.Time) (int64, error)

	// Close releases the underlying store.
	Close() error
}
