package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kazuhira-dev/apiary/internal/config"
	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/pool"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(zaptest.NewLogger(t), config.DefaultConfig().Resources)
}

func registerNode(m *Manager, cpu, memMB float64) string {
	return m.RegisterResource(resource.TypeCompute, "node", resource.Amounts{CPU: cpu, MemoryMB: memMB}, resource.Metadata{
		PerformanceScore: 0.9,
		Reliability:      resource.Reliability{Uptime: 0.99},
	})
}

func TestRequestActivateReleaseRoundTrip(t *testing.T) {
	m := newManager(t)
	resID := registerNode(m, 4, 8192)

	rsvID, err := m.RequestResources("req-1", resource.Requirements{
		CPU: resource.Requirement{Min: 1, Preferred: 2},
	}, resource.RequestOptions{})
	require.NoError(t, err)

	allocID, ok := m.AllocationForReservation(rsvID)
	require.True(t, ok)
	require.NoError(t, m.ReleaseResources(allocID, "done"))

	res, err := m.GetResource(resID)
	require.NoError(t, err)
	assert.Equal(t, res.Capacity, res.Available)
}

func TestUnregisterCancelsOutstandingReservations(t *testing.T) {
	m := newManager(t)
	resID := registerNode(m, 4, 8192)

	rsvID, err := m.RequestResources("req-1", resource.Requirements{
		CPU: resource.Requirement{Min: 1},
	}, resource.RequestOptions{})
	require.NoError(t, err)
	allocID, _ := m.AllocationForReservation(rsvID)

	// Active allocation blocks removal.
	err = m.UnregisterResource(resID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeHasActiveAllocations))

	require.NoError(t, m.ReleaseResources(allocID, "done"))
	require.NoError(t, m.UnregisterResource(resID))
	assert.Empty(t, m.ListResources())
}

func TestPoolingDisabledRejectsCreate(t *testing.T) {
	cfg := config.DefaultConfig().Resources
	cfg.EnablePooling = false
	m := NewManager(zaptest.NewLogger(t), cfg)
	resID := registerNode(m, 4, 8192)

	_, err := m.CreatePool("workers", resource.TypeCompute, []string{resID}, resource.StrategyBalanced)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
}

func TestRunMonitorFeedsPredictor(t *testing.T) {
	m := newManager(t)
	resID := registerNode(m, 4, 8192)

	rsvID, err := m.RequestResources("req-1", resource.Requirements{
		CPU: resource.Requirement{Min: 2},
	}, resource.RequestOptions{})
	require.NoError(t, err)
	allocID, _ := m.AllocationForReservation(rsvID)

	now := time.Now()
	for i := 0; i < 12; i++ {
		require.NoError(t, m.RecordUsage(allocID, resource.Amounts{CPU: float64(i)}))
		m.RunMonitor(now.Add(time.Duration(i) * time.Minute))
	}

	pred, err := m.Predict(resID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pred.Samples, 10)
	assert.NotEmpty(t, pred.Forecast)
}

func TestPredictUnknownResource(t *testing.T) {
	m := newManager(t)
	_, err := m.Predict("resource-missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestQoSViolationRecordedDuringMonitor(t *testing.T) {
	m := newManager(t)
	resID := registerNode(m, 8, 16384)
	poolID, err := m.CreatePool("workers", resource.TypeCompute, []string{resID}, resource.StrategyBalanced)
	require.NoError(t, err)
	require.NoError(t, m.SetPoolQoS(poolID, pool.QoSConfig{
		Guarantees: []pool.Guarantee{{Metric: "cpu", Operator: "lt", Threshold: 1.0}},
	}))

	rsvID, err := m.RequestResources("req-1", resource.Requirements{
		CPU: resource.Requirement{Min: 2},
	}, resource.RequestOptions{})
	require.NoError(t, err)
	allocID, _ := m.AllocationForReservation(rsvID)
	require.NoError(t, m.RecordUsage(allocID, resource.Amounts{CPU: 4}))

	m.RunMonitor(time.Now())

	alloc, err := m.GetAllocation(allocID)
	require.NoError(t, err)
	assert.NotEmpty(t, alloc.Violations)
}

func TestStatisticsAggregate(t *testing.T) {
	m := newManager(t)
	resID := registerNode(m, 4, 8192)
	_, err := m.CreatePool("workers", resource.TypeCompute, []string{resID}, resource.StrategyBalanced)
	require.NoError(t, err)

	_, err = m.RequestResources("req-1", resource.Requirements{
		CPU: resource.Requirement{Min: 2},
	}, resource.RequestOptions{})
	require.NoError(t, err)

	stats := m.GetManagerStatistics()
	assert.Equal(t, 1, stats.TotalResources)
	assert.Equal(t, 1, stats.Pools)
	assert.Equal(t, 1, stats.ActiveAllocations)
	assert.Equal(t, 1, stats.Reservations[resource.ReservationActive])
	assert.Greater(t, stats.Utilization, 0.0)
}

func TestStartStopIdempotent(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestEventsStream(t *testing.T) {
	m := newManager(t)
	sub := m.Events(16)

	registerNode(m, 4, 8192)

	select {
	case ev := <-sub:
		assert.NotEmpty(t, ev.ResourceID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
