package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a single processing attempt.
// Transitions are one-way: queued -> processing -> done|failed|skipped.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
	RunStatusSkipped    RunStatus = "skipped"
)

// Terminal reports whether the status is final. Terminal runs are never mutated.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed || s == RunStatusSkipped
}

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Run is one attempt to process a Document. AttemptNo is 1-based and
// monotone within a (document, pipeline) pair; changing the pipeline
// name restarts numbering at 1.
type Run struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Pipeline    string
	AttemptNo   int
	ParentRunID *uuid.UUID
	Status      RunStatus
	ErrorKind   ErrorKind // set only when Status is failed
	ErrorDetail string
	OutPath     string // set only when Status is done
	RetryAfterS int    // recommended delay before the next attempt, 0 = none
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Summary aggregates the outcome of one sweep.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Waiting   int
}
