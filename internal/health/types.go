package health

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a dependency
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnknown   HealthStatus = "unknown"
)

// Probe performs a lightweight reachability check of one dependency
type Probe func(ctx context.Context) error

// DependencyHealth tracks the health of a single backing dependency
type DependencyHealth struct {
	Name          string       `json:"name"`
	Critical      bool         `json:"critical"`
	Status        HealthStatus `json:"status"`
	LatencyMs     int64        `json:"latency_ms"`
	LastChecked   time.Time    `json:"last_checked"`
	LastSuccessAt time.Time    `json:"last_success_at,omitempty"`
	FailureCount  int          `json:"failure_count"`
	LastError     string       `json:"last_error,omitempty"`
}

// Report is the aggregate result of one round of probes
type Report struct {
	Status       HealthStatus       `json:"status"`
	Dependencies []DependencyHealth `json:"dependencies"`
	Timestamp    time.Time          `json:"timestamp"`
}
