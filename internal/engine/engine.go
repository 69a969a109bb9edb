// Package engine is the boundary to the external OCR processing step.
// The real extraction happens in a browser-automation sidecar reached
// over HTTP; this package only knows the interface and how to classify
// its failures.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Result is the extracted content for one document.
type Result struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Engine performs the OCR transformation. One Engine owns one isolated
// session with the external step; sessions must not be shared across
// concurrent attempts.
type Engine interface {
	// Start brings the session up. Blocks until usable or ctx expires.
	Start(ctx context.Context) error

	// Process runs one document through the engine.
	Process(ctx context.Context, path, promptID string) (*Result, error)

	// Recover attempts a bounded in-place reset of the session after a
	// transient failure. It must not retry the document itself.
	Recover(ctx context.Context) error

	// Stop tears the session down.
	Stop() error
}

// Config holds remote engine settings.
type Config struct {
	Endpoint          string        `yaml:"endpoint"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	StartTimeout      time.Duration `yaml:"start_timeout"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// Failure is an engine error carrying enough context for classification.
type Failure struct {
	Phase  string // upload, send, extract, session
	Status int    // HTTP status when the sidecar answered, 0 otherwise
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("engine %s failed (status %d): %s", f.Phase, f.Status, f.Detail)
	}
	return fmt.Sprintf("engine %s failed: %s", f.Phase, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }
