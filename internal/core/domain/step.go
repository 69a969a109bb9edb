package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus is the state of a sub-event within a run.
type StepStatus string

const (
	StepStarted StepStatus = "started"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// Well-known step names recorded by the orchestrator.
const (
	StepEngineStart    = "engine_start"
	StepEngineFinish   = "engine_finish"
	StepRecoverRefresh = "recover_refresh"
	StepWriteArtifacts = "write_artifacts"
)

// StepRecord is an observational sub-event within a run. It is never
// read back to make control decisions.
type StepRecord struct {
	ID          int64
	RunID       uuid.UUID
	Name        string
	Status      StepStatus
	ErrorDetail string
	CreatedAt   time.Time
}
