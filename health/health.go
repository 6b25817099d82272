// Package health exposes liveness checks for the bridge daemon: broker
// connectivity, queue accessibility, and pending-registry depth.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one check's report.
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// Checker is a named health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Monitor runs a set of checkers.
type Monitor struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewMonitor creates a monitor over the given checkers
func NewMonitor(checkers ...Checker) *Monitor {
	return &Monitor{checkers: checkers}
}

// Add registers another checker
func (m *Monitor) Add(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// CheckAll runs every checker and returns their results plus the worst
// status observed.
func (m *Monitor) CheckAll(ctx context.Context) ([]CheckResult, Status) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	overall := StatusHealthy
	results := make([]CheckResult, 0, len(checkers))
	for _, checker := range checkers {
		result := checker.Check(ctx)
		results = append(results, result)
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return results, overall
}
