// Package sweep drives one pass over the backlog: eligibility per
// document, bounded dispatch, and run bookkeeping.
package sweep

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

// Policy is the cross-run retry configuration for one sweep. It is
// passed explicitly so concurrent slots all see the same values.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	RetryKinds  map[domain.ErrorKind]bool
	Force       bool
	Resume      bool
}

// Delay returns the backoff window after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return ExponentialBackoff{InitialDelay: p.Backoff, MaxDelay: p.MaxBackoff}.Delay(attempt)
}

// DefaultRetryKinds retries transient and unknown failures; permanent
// failures are never retried.
func DefaultRetryKinds() map[domain.ErrorKind]bool {
	return map[domain.ErrorKind]bool{
		domain.ErrorKindTransient: true,
		domain.ErrorKindUnknown:   true,
	}
}

// Action is the eligibility outcome for one document.
type Action int

const (
	ActionProcess Action = iota
	ActionSkip
	ActionWait
)

func (a Action) String() string {
	switch a {
	case ActionProcess:
		return "process"
	case ActionSkip:
		return "skip"
	case ActionWait:
		return "wait"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is the retry controller's verdict for one document.
type Decision struct {
	Action      Action
	Reason      string
	ParentRunID *uuid.UUID // set only when retrying a failed run
	WaitFor     time.Duration
}

// Decide evaluates a document's run history against the policy.
// last is the newest run for (document, pipeline); lastDone the newest
// successful run for the document, if any. Pure: no clock, no I/O
// beyond the inputs.
func Decide(last, lastDone *domain.Run, p Policy, now time.Time) Decision {
	if p.Force {
		return Decision{Action: ActionProcess, Reason: "forced re-run"}
	}

	if lastDone != nil {
		return Decision{Action: ActionSkip, Reason: "already done"}
	}

	if last == nil {
		return Decision{Action: ActionProcess, Reason: "new document"}
	}

	switch last.Status {
	case domain.RunStatusDone:
		return Decision{Action: ActionSkip, Reason: "already done"}

	case domain.RunStatusSkipped:
		if p.Resume {
			return Decision{Action: ActionProcess, Reason: "resuming skipped document"}
		}
		return Decision{Action: ActionSkip, Reason: "previously skipped"}

	case domain.RunStatusFailed:
		kind := last.ErrorKind
		if kind == "" {
			kind = domain.ErrorKindUnknown
		}
		if kind == domain.ErrorKindPermanent {
			return Decision{Action: ActionSkip, Reason: "permanent failure"}
		}
		if p.MaxAttempts > 0 && last.AttemptNo >= p.MaxAttempts {
			return Decision{Action: ActionSkip, Reason: fmt.Sprintf("attempt budget exhausted (%d)", last.AttemptNo)}
		}
		if wait := backoffRemaining(last, p, now); wait > 0 {
			return Decision{Action: ActionWait, Reason: "backoff window open", WaitFor: wait}
		}
		if !p.RetryKinds[kind] {
			return Decision{Action: ActionSkip, Reason: fmt.Sprintf("error kind %q not retried", kind)}
		}
		parent := last.ID
		return Decision{
			Action:      ActionProcess,
			Reason:      fmt.Sprintf("retrying %s failure", kind),
			ParentRunID: &parent,
		}

	case domain.RunStatusProcessing, domain.RunStatusQueued:
		// Stale row from an interrupted process. Retry only under an
		// explicit resume so a concurrently running sweep is not raced.
		if p.Resume {
			parent := last.ID
			return Decision{
				Action:      ActionProcess,
				Reason:      fmt.Sprintf("resuming interrupted run (%s)", last.Status),
				ParentRunID: &parent,
			}
		}
		return Decision{Action: ActionSkip, Reason: fmt.Sprintf("run still %s (use resume)", last.Status)}
	}

	return Decision{Action: ActionSkip, Reason: fmt.Sprintf("unrecognized status %q", last.Status)}
}

// backoffRemaining computes how long the document must still wait. The
// window runs from the failed run's finish time and honors the larger
// of the policy backoff for that attempt and the run's own recommended
// delay.
func backoffRemaining(last *domain.Run, p Policy, now time.Time) time.Duration {
	window := p.Delay(last.AttemptNo)
	if rec := time.Duration(last.RetryAfterS) * time.Second; rec > window {
		window = rec
	}
	if window <= 0 || last.FinishedAt == nil {
		return 0
	}
	eligibleAt := last.FinishedAt.Add(window)
	if remaining := eligibleAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
