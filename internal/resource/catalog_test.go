package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kazuhira-dev/apiary/internal/errors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	return NewCatalog(zaptest.NewLogger(t))
}

func TestRegisterStartsFullyAvailable(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node-1", Amounts{CPU: 8, MemoryMB: 16384}, Metadata{})

	res, err := catalog.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, res.Status)
	assert.Equal(t, res.Capacity, res.Available)
	assert.InDelta(t, 0.0, res.Allocated.CPU, 1e-9)
	assert.False(t, res.Metadata.LastUpdated.IsZero())
}

func TestRegisterAllowsDuplicateNames(t *testing.T) {
	catalog := newTestCatalog(t)
	a := catalog.Register(TypeCompute, "node", Amounts{CPU: 1}, Metadata{})
	b := catalog.Register(TypeCompute, "node", Amounts{CPU: 1}, Metadata{})
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, catalog.Len())
}

func TestUnregister(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node", Amounts{CPU: 1}, Metadata{})

	outstanding, err := catalog.Unregister(id)
	require.NoError(t, err)
	assert.Empty(t, outstanding)
	assert.Equal(t, 0, catalog.Len())

	_, err = catalog.Unregister(id)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestUnregisterBlockedByActiveAllocations(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node", Amounts{CPU: 4}, Metadata{})
	require.NoError(t, catalog.UpdateResource(id, func(res *Resource) error {
		res.AllocationIDs = append(res.AllocationIDs, "allocation-x")
		return nil
	}))

	_, err := catalog.Unregister(id)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeHasActiveAllocations))
	assert.Equal(t, 1, catalog.Len())
}

func TestUnregisterReturnsOutstandingReservations(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node", Amounts{CPU: 4}, Metadata{})
	require.NoError(t, catalog.UpdateResource(id, func(res *Resource) error {
		res.ReservationIDs = append(res.ReservationIDs, "reservation-1", "reservation-2")
		return nil
	}))

	outstanding, err := catalog.Unregister(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"reservation-1", "reservation-2"}, outstanding)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node", Amounts{
		CPU:    4,
		Custom: map[string]float64{"tokens": 100},
	}, Metadata{})

	snap, err := catalog.Snapshot(id)
	require.NoError(t, err)
	snap.Capacity.Custom["tokens"] = 0
	snap.AllocationIDs = append(snap.AllocationIDs, "allocation-x")

	fresh, err := catalog.Snapshot(id)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, fresh.Capacity.Custom["tokens"], 1e-9)
	assert.Empty(t, fresh.AllocationIDs)
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	catalog := newTestCatalog(t)
	var want []string
	for _, name := range []string{"a", "b", "c"} {
		want = append(want, catalog.Register(TypeCompute, name, Amounts{CPU: 1}, Metadata{}))
	}

	var got []string
	for _, res := range catalog.ListSnapshots() {
		got = append(got, res.ID)
	}
	assert.Equal(t, want, got)
}

func TestListByType(t *testing.T) {
	catalog := newTestCatalog(t)
	catalog.Register(TypeCompute, "node", Amounts{CPU: 1}, Metadata{})
	catalog.Register(TypeStorage, "disk", Amounts{DiskMB: 1024}, Metadata{})

	assert.Len(t, catalog.ListByType(TypeCompute), 1)
	assert.Len(t, catalog.ListByType(TypeStorage), 1)
	assert.Empty(t, catalog.ListByType(TypeGPU))
}

func TestMarkFailed(t *testing.T) {
	catalog := newTestCatalog(t)
	id := catalog.Register(TypeCompute, "node", Amounts{CPU: 1}, Metadata{})

	require.NoError(t, catalog.MarkFailed(id))
	res, _ := catalog.Snapshot(id)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Metadata.Reliability.FailureCount)
	assert.False(t, res.Metadata.Reliability.LastFailure.IsZero())
}

func TestAggregateUtilization(t *testing.T) {
	catalog := newTestCatalog(t)
	assert.InDelta(t, 0.0, catalog.AggregateUtilization(), 1e-9)

	a := catalog.Register(TypeCompute, "a", Amounts{CPU: 4, MemoryMB: 4}, Metadata{})
	catalog.Register(TypeCompute, "b", Amounts{CPU: 4, MemoryMB: 4}, Metadata{})
	require.NoError(t, catalog.UpdateResource(a, func(res *Resource) error {
		res.Allocated = Amounts{CPU: 2, MemoryMB: 2}
		res.recomputeAvailability()
		return nil
	}))

	// One resource half used, one idle.
	assert.InDelta(t, 0.25, catalog.AggregateUtilization(), 1e-9)
}

func TestUpdateSeesRegistrationOrder(t *testing.T) {
	catalog := newTestCatalog(t)
	catalog.Register(TypeCompute, "first", Amounts{CPU: 1}, Metadata{})
	catalog.Register(TypeCompute, "second", Amounts{CPU: 1}, Metadata{})

	var names []string
	require.NoError(t, catalog.Update(func(resources []*Resource) error {
		for _, res := range resources {
			names = append(names, res.Name)
		}
		return nil
	}))
	assert.Equal(t, []string{"first", "second"}, names)
}
