// Package metrics accumulates per-attempt timing and outcomes, and
// exports prometheus series. The recorder works without the ledger so
// timing survives even when persistence is down.
package metrics

import (
	"fmt"
	"log/slog"
	"time"
)

// Outcome values for a recorded attempt.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Recorder accumulates timing and outcome for one document attempt.
type Recorder struct {
	FileName    string  `json:"file_name"`
	StartTS     float64 `json:"start_ts"`
	EndTS       float64 `json:"end_ts"`
	DurationS   float64 `json:"duration_s"`
	Attempts    int     `json:"attempts"`
	Outcome     string  `json:"outcome"`
	ErrorReason string  `json:"error_reason,omitempty"`

	start time.Time
}

// NewRecorder starts the clock for one attempt.
func NewRecorder(fileName string) *Recorder {
	now := time.Now()
	return &Recorder{
		FileName: fileName,
		StartTS:  float64(now.UnixNano()) / 1e9,
		Attempts: 1,
		Outcome:  "unknown",
		start:    now,
	}
}

// Finish closes the attempt and feeds the prometheus series.
func (r *Recorder) Finish(outcome, errorReason string) {
	end := time.Now()
	r.EndTS = float64(end.UnixNano()) / 1e9
	r.DurationS = end.Sub(r.start).Seconds()
	r.Outcome = outcome
	r.ErrorReason = errorReason

	DocumentsProcessed.WithLabelValues(outcome).Inc()
	AttemptDuration.WithLabelValues(outcome).Observe(r.DurationS)
}

// Log emits the one-line attempt summary.
func (r *Recorder) Log(log *slog.Logger) {
	attrs := []any{
		"file", r.FileName,
		"outcome", r.Outcome,
		"attempts", r.Attempts,
		"duration", fmt.Sprintf("%.2fs", r.DurationS),
	}
	if r.ErrorReason != "" {
		attrs = append(attrs, "reason", r.ErrorReason)
	}
	log.Info("attempt finished", attrs...)
}
