package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/ocrsweep/internal/infra/storage"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Monitor aggregates health status from the system's dependencies. The
// database is load-bearing so its failure is critical; everything else
// only degrades the sweep.
type Monitor struct {
	critical map[string]Check
	optional map[string]Check

	ledger      storage.Ledger
	pipeline    string
	maxAttempts int

	lastCheck  time.Time
	lastReport Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. ledger may be nil when the
// process runs without persistence.
func NewMonitor(critical, optional map[string]Check, ledger storage.Ledger, pipeline string, maxAttempts int) *Monitor {
	return &Monitor{
		critical:    critical,
		optional:    optional,
		ledger:      ledger,
		pipeline:    pipeline,
		maxAttempts: maxAttempts,
	}
}

// CheckHealth pings every registered dependency and summarizes the
// ledger backlog.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering dependencies.
	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Components != nil {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}

	for name, check := range m.critical {
		ch := ComponentHealth{Component: name, Status: StatusHealthy}
		if err := check(ctx); err != nil {
			ch.Status = StatusCritical
			ch.Detail = err.Error()
			report.SystemStatus = StatusCritical
		}
		report.Components[name] = ch
	}

	for name, check := range m.optional {
		ch := ComponentHealth{Component: name, Status: StatusHealthy}
		if err := check(ctx); err != nil {
			ch.Status = StatusDegraded
			ch.Detail = err.Error()
			if report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
		report.Components[name] = ch
	}

	if m.ledger != nil {
		if counts, err := m.ledger.CountByOutcome(ctx, m.pipeline, m.maxAttempts); err == nil {
			report.Backlog = &counts
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
