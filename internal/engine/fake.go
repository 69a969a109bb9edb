package engine

import (
	"context"
	"sync"
)

// FakeEngine is a scripted engine for tests. Each call to Process
// consumes the next scripted outcome; once the script is exhausted it
// keeps succeeding.
type FakeEngine struct {
	mu        sync.Mutex
	script    []error
	next      int
	Processed []string
	Recovered int
	started   bool
	Text      string
	PanicOn   map[string]bool // paths whose Process call panics
}

// NewFakeEngine scripts the given errors, in order. A nil entry means
// that call succeeds.
func NewFakeEngine(script ...error) *FakeEngine {
	return &FakeEngine{script: script, Text: "extracted text"}
}

func (f *FakeEngine) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *FakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *FakeEngine) Recover(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recovered++
	return nil
}

func (f *FakeEngine) Process(ctx context.Context, path, promptID string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Processed = append(f.Processed, path)
	if f.PanicOn[path] {
		panic("scripted defect: " + path)
	}
	if f.next < len(f.script) {
		err := f.script[f.next]
		f.next++
		if err != nil {
			return nil, err
		}
	}
	return &Result{Text: f.Text, Data: map[string]any{"source": path, "prompt": promptID}}, nil
}
