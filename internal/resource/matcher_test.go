package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkResource(id string, cpu, memMB float64, md Metadata) *Resource {
	res := &Resource{
		ID:       id,
		Type:     TypeCompute,
		Name:     id,
		Capacity: Amounts{CPU: cpu, MemoryMB: memMB},
		Status:   StatusAvailable,
		Metadata: md,
	}
	res.recomputeAvailability()
	return res
}

func TestCanSatisfy(t *testing.T) {
	res := mkResource("a", 4, 8192, Metadata{})

	assert.True(t, CanSatisfy(res, Requirements{CPU: Requirement{Min: 4}}))
	assert.False(t, CanSatisfy(res, Requirements{CPU: Requirement{Min: 5}}))
	assert.False(t, CanSatisfy(res, Requirements{Memory: Requirement{Min: 10000}}))
	assert.False(t, CanSatisfy(res, Requirements{
		Custom: map[string]Requirement{"tokens": {Min: 1}},
	}))
}

func TestCanSatisfyConstraints(t *testing.T) {
	res := mkResource("a", 4, 8192, Metadata{CostPerHour: 2.0})
	res.Location = "us-east"

	assert.True(t, CanSatisfy(res, Requirements{
		Constraints: Constraints{AllowedLocations: []string{"us-east"}},
	}))
	assert.False(t, CanSatisfy(res, Requirements{
		Constraints: Constraints{AllowedLocations: []string{"eu-west"}},
	}))
	assert.False(t, CanSatisfy(res, Requirements{
		Constraints: Constraints{DeniedLocations: []string{"us-east"}},
	}))
	assert.False(t, CanSatisfy(res, Requirements{
		Constraints: Constraints{MaxCostPerHour: 1.0},
	}))
	assert.True(t, CanSatisfy(res, Requirements{
		Constraints: Constraints{MaxCostPerHour: 3.0},
	}))

	past := Constraints{TimeWindow: &TimeWindow{
		Start: time.Now().Add(-2 * time.Hour),
		End:   time.Now().Add(-time.Hour),
	}}
	assert.False(t, CanSatisfy(res, Requirements{Constraints: past}))
}

func TestScoreFavorsIdleReliableCheap(t *testing.T) {
	m := NewMatcher(StrategyBalanced, nil)

	idle := mkResource("idle", 4, 8192, Metadata{
		PerformanceScore: 0.5,
		Reliability:      Reliability{Uptime: 0.99},
	})
	busy := idle.Clone()
	busy.Allocated = Amounts{CPU: 3, MemoryMB: 6144}
	busy.recomputeAvailability()

	assert.Greater(t, m.Score(idle, PriorityNormal), m.Score(busy, PriorityNormal))

	cheap := mkResource("cheap", 4, 8192, Metadata{CostPerHour: 0.5})
	pricey := mkResource("pricey", 4, 8192, Metadata{CostPerHour: 5})
	assert.Greater(t, m.Score(cheap, PriorityNormal), m.Score(pricey, PriorityNormal))

	// Priority scales the whole score: critical weight 1.0, background 0.2.
	full := m.Score(idle, PriorityCritical)
	bg := m.Score(idle, PriorityBackground)
	assert.InDelta(t, full*0.2, bg, 1e-9)
}

func TestFindSuitableDeterministic(t *testing.T) {
	m := NewMatcher(StrategyBalanced, nil)
	md := Metadata{PerformanceScore: 0.5, Reliability: Reliability{Uptime: 0.9}}
	candidates := []*Resource{
		mkResource("a", 4, 8192, md),
		mkResource("b", 4, 8192, md),
	}
	req := Requirements{CPU: Requirement{Min: 1}}

	// Identical scores: the earlier registration wins, every time.
	for i := 0; i < 20; i++ {
		got := m.FindSuitable(candidates, req, PriorityNormal)
		require.NotNil(t, got)
		assert.Equal(t, "a", got.ID)
	}
}

func TestFindSuitableSkipsUnavailable(t *testing.T) {
	m := NewMatcher(StrategyBalanced, nil)
	md := Metadata{Reliability: Reliability{Uptime: 0.9}}
	down := mkResource("down", 8, 16384, md)
	down.Status = StatusMaintenance
	up := mkResource("up", 4, 8192, md)

	got := m.FindSuitable([]*Resource{down, up}, Requirements{CPU: Requirement{Min: 1}}, PriorityNormal)
	require.NotNil(t, got)
	assert.Equal(t, "up", got.ID)
}

func TestBestFitMinimizesWaste(t *testing.T) {
	m := NewMatcher(StrategyBestFit, nil)
	md := Metadata{Reliability: Reliability{Uptime: 0.9}}
	big := mkResource("big", 16, 32768, md)
	snug := mkResource("snug", 4, 4096, md)

	got := m.FindSuitable([]*Resource{big, snug}, Requirements{
		CPU:    Requirement{Min: 2},
		Memory: Requirement{Min: 2048},
	}, PriorityNormal)
	require.NotNil(t, got)
	assert.Equal(t, "snug", got.ID)
}

func TestWorstFitMaximizesHeadroom(t *testing.T) {
	m := NewMatcher(StrategyWorstFit, nil)
	md := Metadata{Reliability: Reliability{Uptime: 0.9}}
	big := mkResource("big", 16, 32768, md)
	snug := mkResource("snug", 4, 4096, md)

	got := m.FindSuitable([]*Resource{snug, big}, Requirements{
		CPU:    Requirement{Min: 2},
		Memory: Requirement{Min: 2048},
	}, PriorityNormal)
	require.NotNil(t, got)
	assert.Equal(t, "big", got.ID)
}

func TestFindSuitableNoMatch(t *testing.T) {
	m := NewMatcher(StrategyBalanced, nil)
	res := mkResource("a", 2, 2048, Metadata{Reliability: Reliability{Uptime: 0.9}})
	got := m.FindSuitable([]*Resource{res}, Requirements{CPU: Requirement{Min: 10}}, PriorityNormal)
	assert.Nil(t, got)
}

func TestGrantForCapsAtAvailability(t *testing.T) {
	res := mkResource("a", 4, 8192, Metadata{})
	res.Allocated = Amounts{CPU: 3}
	res.recomputeAvailability()

	grant := GrantFor(res, Requirements{
		CPU:    Requirement{Min: 1, Preferred: 2},
		Memory: Requirement{Min: 1024},
	})
	assert.InDelta(t, 1.0, grant.CPU, 1e-9) // preferred 2 capped at available 1
	assert.InDelta(t, 1024.0, grant.MemoryMB, 1e-9)
}

func TestGrantForPrefersPreferred(t *testing.T) {
	res := mkResource("a", 8, 8192, Metadata{})
	grant := GrantFor(res, Requirements{CPU: Requirement{Min: 1, Preferred: 4}})
	assert.InDelta(t, 4.0, grant.CPU, 1e-9)
}
