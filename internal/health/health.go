// Package health provides system health monitoring and status reporting.
package health

import "github.com/vietddude/ocrsweep/internal/infra/storage"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains the health state of one dependency.
type ComponentHealth struct {
	Component string       `json:"component"`
	Status    SystemStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Backlog      *storage.OutcomeCounts     `json:"backlog,omitempty"`
}
