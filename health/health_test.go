package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: c.status}
}

func TestMonitorCheckAll(t *testing.T) {
	t.Run("healthy when every check is healthy", func(t *testing.T) {
		m := NewMonitor(
			staticChecker{"a", StatusHealthy},
			staticChecker{"b", StatusHealthy},
		)

		results, overall := m.CheckAll(context.Background())
		assert.Len(t, results, 2)
		assert.Equal(t, StatusHealthy, overall)
	})

	t.Run("degraded check degrades the overall status", func(t *testing.T) {
		m := NewMonitor(
			staticChecker{"a", StatusHealthy},
			staticChecker{"b", StatusDegraded},
		)

		_, overall := m.CheckAll(context.Background())
		assert.Equal(t, StatusDegraded, overall)
	})

	t.Run("unhealthy check wins over degraded", func(t *testing.T) {
		m := NewMonitor(
			staticChecker{"a", StatusDegraded},
			staticChecker{"b", StatusUnhealthy},
			staticChecker{"c", StatusHealthy},
		)

		_, overall := m.CheckAll(context.Background())
		assert.Equal(t, StatusUnhealthy, overall)
	})

	t.Run("add registers checkers after construction", func(t *testing.T) {
		m := NewMonitor()
		m.Add(staticChecker{"late", StatusHealthy})

		results, _ := m.CheckAll(context.Background())
		require.Len(t, results, 1)
		assert.Equal(t, "late", results[0].Name)
	})
}

func TestPendingRequestsChecker(t *testing.T) {
	pending := 0
	checker := NewPendingRequestsChecker(func() int { return pending }, 80, 100)

	t.Run("healthy below the warn threshold", func(t *testing.T) {
		pending = 10
		result := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, 10, result.Details["pending"])
	})

	t.Run("degraded at the warn threshold", func(t *testing.T) {
		pending = 80
		result := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("unhealthy at capacity", func(t *testing.T) {
		pending = 100
		result := checker.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}
