package pool

import (
	"time"

	"github.com/kazuhira-dev/apiary/internal/resource"
)

// ScalingMetric is one trigger evaluated during scaling sweeps. Known
// metric names are "utilization" and "queue_depth".
type ScalingMetric struct {
	Name        string  `json:"name" yaml:"name"`
	Threshold   float64 `json:"threshold" yaml:"threshold"`
	Aggregation string  `json:"aggregation" yaml:"aggregation"` // avg is the only evaluated mode
	Weight      float64 `json:"weight" yaml:"weight"`
}

// ScalingConfig bounds a pool's size and configures its triggers.
type ScalingConfig struct {
	Enabled            bool            `json:"enabled" yaml:"enabled"`
	MinResources       int             `json:"min_resources" yaml:"min_resources"`
	MaxResources       int             `json:"max_resources" yaml:"max_resources"`
	ScaleUpThreshold   float64         `json:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold float64         `json:"scale_down_threshold" yaml:"scale_down_threshold"`
	Cooldown           time.Duration   `json:"cooldown" yaml:"cooldown"`
	Metrics            []ScalingMetric `json:"metrics" yaml:"metrics"`

	LastScaled time.Time `json:"last_scaled,omitempty" yaml:"-"`
}

// Guarantee is a threshold condition that must hold for active allocations
// on the pool's resources.
type Guarantee struct {
	Metric    string  `json:"metric" yaml:"metric"`       // cpu, memory, efficiency
	Operator  string  `json:"operator" yaml:"operator"`   // gt, lt, eq, gte, lte
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// QoSConfig carries a pool's guarantees and remediation switch.
type QoSConfig struct {
	Guarantees      []Guarantee `json:"guarantees" yaml:"guarantees"`
	AutoRemediation bool        `json:"auto_remediation" yaml:"auto_remediation"`
}

// Statistics is a derived, read-only snapshot of pool health. It is
// recomputed from catalog state and never mutated in place.
type Statistics struct {
	Utilization    float64   `json:"utilization"`
	QueueDepth     int       `json:"queue_depth"`
	SuccessRate    float64   `json:"success_rate"`
	AvgWait        float64   `json:"avg_wait_ms"`
	Throughput     float64   `json:"throughput"`
	Efficiency     float64   `json:"efficiency"`
	CostPerHour    float64   `json:"cost_per_hour"`
	QoSScore       float64   `json:"qos_score"`
	ResourceCount  int       `json:"resource_count"`
	LastComputedAt time.Time `json:"last_computed_at"`
}

// Pool is a named group of same-type resources sharing scaling and QoS
// policy.
type Pool struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Type resource.Type `json:"type"`

	ResourceIDs []string          `json:"resource_ids"`
	Strategy    resource.Strategy `json:"strategy"`

	Scaling    ScalingConfig `json:"scaling"`
	QoS        QoSConfig     `json:"qos"`
	Statistics Statistics    `json:"statistics"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (p *Pool) Clone() *Pool {
	out := *p
	out.ResourceIDs = append([]string(nil), p.ResourceIDs...)
	out.Scaling.Metrics = append([]ScalingMetric(nil), p.Scaling.Metrics...)
	out.QoS.Guarantees = append([]Guarantee(nil), p.QoS.Guarantees...)
	return &out
}

// Contains reports whether the pool holds the given resource.
func (p *Pool) Contains(resourceID string) bool {
	for _, id := range p.ResourceIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}
