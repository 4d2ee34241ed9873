package predict

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

const (
	// minSamples gates prediction: below it the fit is too noisy to act on.
	minSamples = 10
	// maxSamples bounds per-resource history.
	maxSamples = 1000
	// maxAge is the retention window applied during cleanup.
	maxAge = 24 * time.Hour

	forecastSteps   = 24
	trendThreshold  = 0.1
	confidenceDecay = 0.05
	confidenceFloor = 0.1
)

// Direction categorizes a fitted trend.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// Trend is the OLS fit for one dimension.
type Trend struct {
	Dimension string    `json:"dimension"`
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	RSquared  float64   `json:"r_squared"`
	Direction Direction `json:"direction"`
}

// ForecastPoint is one hourly step of the forecast. Confidence decays
// linearly with distance.
type ForecastPoint struct {
	Step       int     `json:"step"`
	CPU        float64 `json:"cpu"`
	MemoryMB   float64 `json:"memory_mb"`
	DiskMB     float64 `json:"disk_mb"`
	Confidence float64 `json:"confidence"`
}

// Prediction is the full output for one resource.
type Prediction struct {
	ResourceID      string          `json:"resource_id"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Samples         int             `json:"samples"`
	Trends          []Trend         `json:"trends"`
	Forecast        []ForecastPoint `json:"forecast"`
	Recommendations []string        `json:"recommendations"`
}

// Predictor keeps rolling per-resource usage history and produces
// trend-based forecasts. History is appended from the monitor tick and read
// here; both paths take the predictor's lock.
type Predictor struct {
	logger *zap.Logger

	mu      sync.RWMutex
	history map[string][]resource.UsageSample
}

// NewPredictor creates an empty predictor.
func NewPredictor(logger *zap.Logger) *Predictor {
	return &Predictor{
		logger:  logger.Named("predict"),
		history: make(map[string][]resource.UsageSample),
	}
}

// Record appends one usage sample, evicting the oldest when the per-resource
// cap is reached.
func (p *Predictor) Record(resourceID string, sample resource.UsageSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := append(p.history[resourceID], sample)
	if len(h) > maxSamples {
		h = h[len(h)-maxSamples:]
	}
	p.history[resourceID] = h
}

// History returns a copy of the samples for one resource.
func (p *Predictor) History(resourceID string) []resource.UsageSample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]resource.UsageSample(nil), p.history[resourceID]...)
}

// Prune drops samples older than the retention window and forgets resources
// with no samples left. Returns the number of samples dropped.
func (p *Predictor) Prune(now time.Time) int {
	cutoff := now.Add(-maxAge)
	dropped := 0

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.history {
		idx := 0
		for idx < len(h) && h[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx == 0 {
			continue
		}
		dropped += idx
		if idx == len(h) {
			delete(p.history, id)
			continue
		}
		p.history[id] = append([]resource.UsageSample(nil), h[idx:]...)
	}
	return dropped
}

// Forget drops all history for a resource, e.g. after unregistration.
func (p *Predictor) Forget(resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, resourceID)
}

// Predict fits per-dimension trends for the resource and forecasts 24
// hourly steps ahead. It fails with InvalidState when fewer than 10 samples
// exist.
func (p *Predictor) Predict(res *resource.Resource) (*Prediction, error) {
	p.mu.RLock()
	h := p.history[res.ID]
	samples := make([]resource.UsageSample, len(h))
	copy(samples, h)
	p.mu.RUnlock()

	n := len(samples)
	if n < minSamples {
		return nil, errors.InvalidState("resource %s has %d samples, need %d", res.ID, n, minSamples)
	}

	xs := make([]float64, n)
	cpu := make([]float64, n)
	mem := make([]float64, n)
	disk := make([]float64, n)
	for i, s := range samples {
		xs[i] = float64(i)
		cpu[i] = s.Usage.CPU
		mem[i] = s.Usage.MemoryMB
		disk[i] = s.Usage.DiskMB
	}

	cpuTrend := fitTrend("cpu", xs, cpu)
	memTrend := fitTrend("memory", xs, mem)
	diskTrend := fitTrend("disk", xs, disk)

	forecast := make([]ForecastPoint, 0, forecastSteps)
	for step := 1; step <= forecastSteps; step++ {
		x := float64(n - 1 + step)
		confidence := 1.0 - confidenceDecay*float64(step)
		if confidence < confidenceFloor {
			confidence = confidenceFloor
		}
		forecast = append(forecast, ForecastPoint{
			Step:       step,
			CPU:        clamp(cpuTrend.Slope*x+cpuTrend.Intercept, 0, 100),
			MemoryMB:   math.Max(0, memTrend.Slope*x+memTrend.Intercept),
			DiskMB:     math.Max(0, diskTrend.Slope*x+diskTrend.Intercept),
			Confidence: confidence,
		})
	}

	return &Prediction{
		ResourceID:      res.ID,
		GeneratedAt:     time.Now(),
		Samples:         n,
		Trends:          []Trend{cpuTrend, memTrend, diskTrend},
		Forecast:        forecast,
		Recommendations: recommend(res, samples),
	}, nil
}

func fitTrend(dimension string, xs, ys []float64) Trend {
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)

	direction := Stable
	switch {
	case slope > trendThreshold:
		direction = Increasing
	case slope < -trendThreshold:
		direction = Decreasing
	}
	return Trend{
		Dimension: dimension,
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r2,
		Direction: direction,
	}
}

// recommend applies heuristic thresholds to the most recent 10 samples.
func recommend(res *resource.Resource, samples []resource.UsageSample) []string {
	recent := samples
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var cpuSum, memSum float64
	for _, s := range recent {
		cpuSum += s.Usage.CPU
		memSum += s.Usage.MemoryMB
	}
	avgCPU := cpuSum / float64(len(recent))
	avgMem := memSum / float64(len(recent))

	var out []string
	if avgCPU > 80 {
		out = append(out, "cpu usage trending high, consider scaling up or optimizing workloads")
	} else if avgCPU < 20 {
		out = append(out, "cpu usage low, consider scaling down")
	}
	if res.Capacity.MemoryMB > 0 {
		memUtil := avgMem / res.Capacity.MemoryMB
		if memUtil > 0.9 {
			out = append(out, "memory pressure high, consider increasing memory")
		} else if memUtil < 0.3 {
			out = append(out, "memory underused, consider decreasing memory")
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
