package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

func newTestPredictor(t *testing.T) *Predictor {
	t.Helper()
	return NewPredictor(zaptest.NewLogger(t))
}

func feedSamples(p *Predictor, resourceID string, n int, usage func(i int) resource.Amounts) {
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		p.Record(resourceID, resource.UsageSample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Usage:     usage(i),
		})
	}
}

func TestPredictNeedsEnoughSamples(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100}}

	feedSamples(p, res.ID, 9, func(i int) resource.Amounts {
		return resource.Amounts{CPU: float64(i)}
	})
	_, err := p.Predict(res)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))

	p.Record(res.ID, resource.UsageSample{Timestamp: time.Now(), Usage: resource.Amounts{CPU: 10}})
	_, err = p.Predict(res)
	assert.NoError(t, err)
}

func TestPredictDetectsIncreasingTrend(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100, MemoryMB: 8192}}

	feedSamples(p, res.ID, 20, func(i int) resource.Amounts {
		return resource.Amounts{CPU: float64(i), MemoryMB: 4096}
	})

	pred, err := p.Predict(res)
	require.NoError(t, err)
	assert.Equal(t, 20, pred.Samples)
	require.Len(t, pred.Trends, 3)

	cpu := pred.Trends[0]
	assert.Equal(t, "cpu", cpu.Dimension)
	assert.Equal(t, Increasing, cpu.Direction)
	assert.InDelta(t, 1.0, cpu.Slope, 1e-6)
	assert.InDelta(t, 1.0, cpu.RSquared, 1e-6)

	mem := pred.Trends[1]
	assert.Equal(t, Stable, mem.Direction)
}

func TestPredictDetectsDecreasingTrend(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100}}

	feedSamples(p, res.ID, 20, func(i int) resource.Amounts {
		return resource.Amounts{CPU: float64(100 - i)}
	})

	pred, err := p.Predict(res)
	require.NoError(t, err)
	assert.Equal(t, Decreasing, pred.Trends[0].Direction)
}

func TestForecastShapeAndConfidence(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100}}

	feedSamples(p, res.ID, 10, func(i int) resource.Amounts {
		return resource.Amounts{CPU: 50}
	})
	pred, err := p.Predict(res)
	require.NoError(t, err)
	require.Len(t, pred.Forecast, 24)

	first := pred.Forecast[0]
	assert.Equal(t, 1, first.Step)
	assert.InDelta(t, 0.95, first.Confidence, 1e-9)
	assert.InDelta(t, 50.0, first.CPU, 1e-6)

	// Confidence decays per step and never drops below the floor.
	last := pred.Forecast[23]
	assert.Equal(t, 24, last.Step)
	assert.InDelta(t, 0.1, last.Confidence, 1e-9)
	for i := 1; i < len(pred.Forecast); i++ {
		assert.LessOrEqual(t, pred.Forecast[i].Confidence, pred.Forecast[i-1].Confidence)
	}
}

func TestForecastClampsCPU(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100}}

	// A steep upward trend must not forecast above 100% cpu.
	feedSamples(p, res.ID, 20, func(i int) resource.Amounts {
		return resource.Amounts{CPU: float64(i * 5)}
	})
	pred, err := p.Predict(res)
	require.NoError(t, err)
	for _, pt := range pred.Forecast {
		assert.LessOrEqual(t, pt.CPU, 100.0)
		assert.GreaterOrEqual(t, pt.CPU, 0.0)
	}
	assert.InDelta(t, 100.0, pred.Forecast[23].CPU, 1e-6)
}

func TestRecommendationsHighCPU(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100}}

	feedSamples(p, res.ID, 15, func(i int) resource.Amounts {
		return resource.Amounts{CPU: 95}
	})
	pred, err := p.Predict(res)
	require.NoError(t, err)
	require.NotEmpty(t, pred.Recommendations)
	assert.Contains(t, pred.Recommendations[0], "scaling up")
}

func TestRecommendationsLowCPUAndMemory(t *testing.T) {
	p := newTestPredictor(t)
	res := &resource.Resource{ID: "resource-a", Capacity: resource.Amounts{CPU: 100, MemoryMB: 8192}}

	feedSamples(p, res.ID, 15, func(i int) resource.Amounts {
		return resource.Amounts{CPU: 5, MemoryMB: 512}
	})
	pred, err := p.Predict(res)
	require.NoError(t, err)
	require.Len(t, pred.Recommendations, 2)
	assert.Contains(t, pred.Recommendations[0], "scaling down")
	assert.Contains(t, pred.Recommendations[1], "memory underused")
}

func TestHistoryCapped(t *testing.T) {
	p := newTestPredictor(t)
	feedSamples(p, "resource-a", maxSamples+50, func(i int) resource.Amounts {
		return resource.Amounts{CPU: float64(i)}
	})
	h := p.History("resource-a")
	require.Len(t, h, maxSamples)
	// Oldest samples were evicted, the newest survive.
	assert.InDelta(t, float64(maxSamples+49), h[len(h)-1].Usage.CPU, 1e-9)
}

func TestPruneDropsOldSamples(t *testing.T) {
	p := newTestPredictor(t)
	now := time.Now()

	p.Record("resource-a", resource.UsageSample{Timestamp: now.Add(-25 * time.Hour), Usage: resource.Amounts{CPU: 1}})
	p.Record("resource-a", resource.UsageSample{Timestamp: now.Add(-time.Hour), Usage: resource.Amounts{CPU: 2}})
	p.Record("resource-b", resource.UsageSample{Timestamp: now.Add(-26 * time.Hour), Usage: resource.Amounts{CPU: 3}})

	dropped := p.Prune(now)
	assert.Equal(t, 2, dropped)
	assert.Len(t, p.History("resource-a"), 1)
	// Fully stale resources are forgotten entirely.
	assert.Empty(t, p.History("resource-b"))
}

func TestForget(t *testing.T) {
	p := newTestPredictor(t)
	p.Record("resource-a", resource.UsageSample{Timestamp: time.Now(), Usage: resource.Amounts{CPU: 1}})
	p.Forget("resource-a")
	assert.Empty(t, p.History("resource-a"))
}
