package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

func newTestManager(t *testing.T) (*resource.Catalog, *Manager, *events.Bus) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog := resource.NewCatalog(logger)
	bus := events.NewBus(logger)
	return catalog, NewManager(logger, catalog, bus), bus
}

func registerNode(catalog *resource.Catalog, cpu float64) string {
	return catalog.Register(resource.TypeCompute, "node", resource.Amounts{CPU: cpu, MemoryMB: cpu * 2048}, resource.Metadata{})
}

func TestCreateDerivesScalingDefaults(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	ids := []string{registerNode(catalog, 4), registerNode(catalog, 4)}

	poolID, err := m.Create("workers", resource.TypeCompute, ids, resource.StrategyBalanced)
	require.NoError(t, err)

	p, err := m.Get(poolID)
	require.NoError(t, err)
	assert.True(t, p.Scaling.Enabled)
	assert.Equal(t, 2, p.Scaling.MinResources)
	assert.Equal(t, 6, p.Scaling.MaxResources)
	assert.InDelta(t, 0.8, p.Scaling.ScaleUpThreshold, 1e-9)
	assert.InDelta(t, 0.3, p.Scaling.ScaleDownThreshold, 1e-9)
	assert.Equal(t, 5*time.Minute, p.Scaling.Cooldown)
}

func TestCreateRejectsTypeMismatch(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	disk := catalog.Register(resource.TypeStorage, "disk", resource.Amounts{DiskMB: 1024}, resource.Metadata{})

	_, err := m.Create("workers", resource.TypeCompute, []string{disk}, resource.StrategyBalanced)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTypeMismatch))
	assert.Equal(t, 0, m.Len())
}

func TestCreateRejectsUnknownResource(t *testing.T) {
	_, m, _ := newTestManager(t)
	_, err := m.Create("workers", resource.TypeCompute, []string{"resource-missing"}, resource.StrategyBalanced)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestAddResource(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	a := registerNode(catalog, 4)
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a}, resource.StrategyBalanced)
	require.NoError(t, err)

	b := registerNode(catalog, 4)
	require.NoError(t, m.AddResource(poolID, b))
	// Adding the same member twice is a no-op.
	require.NoError(t, m.AddResource(poolID, b))

	p, _ := m.Get(poolID)
	assert.Equal(t, []string{a, b}, p.ResourceIDs)

	disk := catalog.Register(resource.TypeStorage, "disk", resource.Amounts{DiskMB: 1024}, resource.Metadata{})
	err = m.AddResource(poolID, disk)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTypeMismatch))
}

func TestRemoveResourceBelowMinLeavesPoolUnchanged(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	a := registerNode(catalog, 4)
	b := registerNode(catalog, 4)
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a, b}, resource.StrategyBalanced)
	require.NoError(t, err)

	err = m.RemoveResource(poolID, b)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))

	p, _ := m.Get(poolID)
	assert.Equal(t, []string{a, b}, p.ResourceIDs)
}

func TestRemoveResource(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	a := registerNode(catalog, 4)
	b := registerNode(catalog, 4)
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a, b}, resource.StrategyBalanced)
	require.NoError(t, err)
	require.NoError(t, m.SetScaling(poolID, ScalingConfig{MinResources: 1, MaxResources: 6}))

	require.NoError(t, m.RemoveResource(poolID, b))
	p, _ := m.Get(poolID)
	assert.Equal(t, []string{a}, p.ResourceIDs)

	err = m.RemoveResource(poolID, "resource-missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStatisticsAggregateUtilizationAndQueue(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	a := registerNode(catalog, 4)
	b := registerNode(catalog, 4)
	require.NoError(t, catalog.UpdateResource(a, func(res *resource.Resource) error {
		res.Allocated = resource.Amounts{CPU: 2, MemoryMB: 4096}
		res.ReservationIDs = append(res.ReservationIDs, "reservation-1")
		return nil
	}))

	poolID, err := m.Create("workers", resource.TypeCompute, []string{a, b}, resource.StrategyBalanced)
	require.NoError(t, err)

	m.RefreshStatistics()
	p, _ := m.Get(poolID)
	assert.Equal(t, 2, p.Statistics.ResourceCount)
	assert.InDelta(t, 0.25, p.Statistics.Utilization, 1e-9)
	assert.Equal(t, 1, p.Statistics.QueueDepth)
}

func TestStatisticsSurviveMissingMember(t *testing.T) {
	catalog, m, _ := newTestManager(t)
	a := registerNode(catalog, 4)
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a}, resource.StrategyBalanced)
	require.NoError(t, err)

	_, err = catalog.Unregister(a)
	require.NoError(t, err)

	m.RefreshStatistics()
	p, _ := m.Get(poolID)
	assert.Equal(t, 1, p.Statistics.ResourceCount)
	assert.InDelta(t, 0.0, p.Statistics.Utilization, 1e-9)
}

func TestScaleUpTrigger(t *testing.T) {
	catalog, m, bus := newTestManager(t)
	sub := bus.Subscribe(16)

	a := registerNode(catalog, 4)
	require.NoError(t, catalog.UpdateResource(a, func(res *resource.Resource) error {
		res.Allocated = resource.Amounts{CPU: 4, MemoryMB: 8192}
		return nil
	}))
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a}, resource.StrategyBalanced)
	require.NoError(t, err)
	drainUntil(t, sub, events.PoolCreated)

	m.EvaluateScaling(time.Now())

	ev := drainUntil(t, sub, events.PoolScaledUp)
	assert.Equal(t, poolID, ev.PoolID)
	assert.Equal(t, "utilization", ev.Reason)
}

func TestScaleDownTrigger(t *testing.T) {
	catalog, m, bus := newTestManager(t)
	sub := bus.Subscribe(16)

	a := registerNode(catalog, 4)
	b := registerNode(catalog, 4)
	poolID, err := m.Create("workers", resource.TypeCompute, []string{a, b}, resource.StrategyBalanced)
	require.NoError(t, err)
	// Idle pool above a minimum of one member scales down.
	require.NoError(t, m.SetScaling(poolID, ScalingConfig{
		Enabled:            true,
		MinResources:       1,
		MaxResources:       6,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		Metrics: []ScalingMetric{
			{Name: "utilization", Threshold: 0.8, Aggregation: "avg", Weight: 1.0},
		},
	}))
	drainUntil(t, sub, events.PoolCreated)

	m.EvaluateScaling(time.Now())

	ev := drainUntil(t, sub, events.PoolScaledDown)
	assert.Equal(t, poolID, ev.PoolID)
}

func TestScalingCooldown(t *testing.T) {
	catalog, m, bus := newTestManager(t)
	sub := bus.Subscribe(16)

	a := registerNode(catalog, 4)
	require.NoError(t, catalog.UpdateResource(a, func(res *resource.Resource) error {
		res.Allocated = resource.Amounts{CPU: 4, MemoryMB: 8192}
		return nil
	}))
	_, err := m.Create("workers", resource.TypeCompute, []string{a}, resource.StrategyBalanced)
	require.NoError(t, err)
	drainUntil(t, sub, events.PoolCreated)

	now := time.Now()
	m.EvaluateScaling(now)
	drainUntil(t, sub, events.PoolScaledUp)

	// Inside the cooldown window nothing fires again.
	m.EvaluateScaling(now.Add(time.Minute))
	assertNoEvent(t, sub)

	// Past the cooldown the trigger is live again.
	m.EvaluateScaling(now.Add(6 * time.Minute))
	drainUntil(t, sub, events.PoolScaledUp)
}

func drainUntil(t *testing.T, sub <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", typ)
		}
	}
}

func assertNoEvent(t *testing.T, sub <-chan events.Event) {
	t.Helper()
	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}
