package qos

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/pool"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

// RemediationFunc is invoked for a violation when the owning pool has
// auto-remediation enabled. This is an extension point: the registered
// default only logs. Remediation failures are logged and emitted, never
// propagated.
type RemediationFunc func(alloc *resource.Allocation, violation resource.QoSViolation) error

// Monitor evaluates active allocations against the guarantees of every
// pool containing their resource.
type Monitor struct {
	logger *zap.Logger
	ledger *resource.Ledger
	pools  *pool.Manager
	bus    *events.Bus

	mu           sync.RWMutex
	remediations map[string]RemediationFunc // keyed by metric name
}

// NewMonitor creates a QoS monitor.
func NewMonitor(logger *zap.Logger, ledger *resource.Ledger, pools *pool.Manager, bus *events.Bus) *Monitor {
	return &Monitor{
		logger:       logger.Named("qos"),
		ledger:       ledger,
		pools:        pools,
		bus:          bus,
		remediations: make(map[string]RemediationFunc),
	}
}

// RegisterRemediation installs the remediation hook for one metric.
func (m *Monitor) RegisterRemediation(metric string, fn RemediationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediations[metric] = fn
}

// Check runs one sweep over all active allocations. Per-allocation errors
// are logged and do not halt the sweep. Returns the number of violations
// recorded.
func (m *Monitor) Check(now time.Time) int {
	violations := 0
	for _, alloc := range m.ledger.ActiveAllocations() {
		for _, p := range m.pools.PoolsContaining(alloc.ResourceID) {
			for _, g := range p.QoS.Guarantees {
				actual := metricOf(alloc, g.Metric)
				if holds(actual, g.Operator, g.Threshold) {
					continue
				}

				v := resource.QoSViolation{
					Timestamp: now,
					Metric:    g.Metric,
					Expected:  g.Threshold,
					Actual:    actual,
					Severity:  severity(actual, g.Threshold),
				}
				if err := m.ledger.AddViolation(alloc.ID, v); err != nil {
					m.logger.Warn("Failed to record QoS violation",
						zap.String("allocation_id", alloc.ID),
						zap.Error(err),
					)
					continue
				}
				violations++

				m.bus.Publish(events.Event{
					Type:         events.QoSViolation,
					ResourceID:   alloc.ResourceID,
					AllocationID: alloc.ID,
					PoolID:       p.ID,
					Reason:       g.Metric,
					Details: map[string]interface{}{
						"expected": g.Threshold,
						"actual":   actual,
						"severity": v.Severity,
					},
				})
				m.logger.Warn("QoS violation",
					zap.String("allocation_id", alloc.ID),
					zap.String("metric", g.Metric),
					zap.Float64("expected", g.Threshold),
					zap.Float64("actual", actual),
					zap.String("severity", v.Severity),
				)

				if p.QoS.AutoRemediation {
					m.remediate(alloc, v)
				}
			}
		}
	}
	return violations
}

func (m *Monitor) remediate(alloc *resource.Allocation, v resource.QoSViolation) {
	m.mu.RLock()
	fn, ok := m.remediations[v.Metric]
	m.mu.RUnlock()

	if !ok {
		m.logger.Debug("No remediation registered", zap.String("metric", v.Metric))
		return
	}
	if err := fn(alloc, v); err != nil {
		m.logger.Error("QoS remediation failed",
			zap.String("allocation_id", alloc.ID),
			zap.String("metric", v.Metric),
			zap.Error(err),
		)
		m.bus.Publish(events.Event{
			Type:         events.QoSViolation,
			AllocationID: alloc.ID,
			Reason:       "remediation failed: " + v.Metric,
		})
	}
}

// metricOf reads the guarantee's metric off the allocation. Unknown metrics
// read as zero.
func metricOf(alloc *resource.Allocation, metric string) float64 {
	switch metric {
	case "cpu":
		return alloc.ActualUsage.CPU
	case "memory":
		return alloc.ActualUsage.MemoryMB
	case "efficiency":
		return alloc.Efficiency
	default:
		return 0
	}
}

// holds evaluates actual <op> threshold.
func holds(actual float64, op string, threshold float64) bool {
	switch op {
	case "gt":
		return actual > threshold
	case "lt":
		return actual < threshold
	case "eq":
		return actual == threshold
	case "gte":
		return actual >= threshold
	case "lte":
		return actual <= threshold
	default:
		return true
	}
}

// severity buckets the relative deviation from the threshold.
func severity(actual, threshold float64) string {
	if threshold == 0 {
		return "low"
	}
	deviation := math.Abs(actual-threshold) / math.Abs(threshold)
	switch {
	case deviation > 0.5:
		return "critical"
	case deviation > 0.3:
		return "high"
	case deviation > 0.1:
		return "medium"
	default:
		return "low"
	}
}
