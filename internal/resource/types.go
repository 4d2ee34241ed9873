package resource

import (
	"time"
)

// Type classifies what a resource provides.
type Type string

const (
	TypeCompute Type = "compute"
	TypeStorage Type = "storage"
	TypeNetwork Type = "network"
	TypeMemory  Type = "memory"
	TypeGPU     Type = "gpu"
	TypeCustom  Type = "custom"
)

// Status is the lifecycle state of a resource.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusReserved    Status = "reserved"
	StatusAllocated   Status = "allocated"
	StatusMaintenance Status = "maintenance"
	StatusFailed      Status = "failed"
	StatusDeprecated  Status = "deprecated"
)

// Priority drives the matcher's scoring weight.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Amounts carries quantities for the core dimensions plus custom ones.
// Core dimensions are strongly typed fields; the Custom map is an extension
// point for domain-specific dimensions (e.g. "tokens", "slots").
type Amounts struct {
	CPU         float64            `json:"cpu"`
	MemoryMB    float64            `json:"memory_mb"`
	DiskMB      float64            `json:"disk_mb"`
	NetworkMbps float64            `json:"network_mbps"`
	Custom      map[string]float64 `json:"custom,omitempty"`
}

// Clone returns a deep copy.
func (a Amounts) Clone() Amounts {
	out := a
	if a.Custom != nil {
		out.Custom = make(map[string]float64, len(a.Custom))
		for k, v := range a.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// Add accumulates other into a, returning the result.
func (a Amounts) Add(other Amounts) Amounts {
	out := a.Clone()
	out.CPU += other.CPU
	out.MemoryMB += other.MemoryMB
	out.DiskMB += other.DiskMB
	out.NetworkMbps += other.NetworkMbps
	for k, v := range other.Custom {
		if out.Custom == nil {
			out.Custom = make(map[string]float64)
		}
		out.Custom[k] += v
	}
	return out
}

// Sub subtracts other from a, flooring every dimension at zero.
func (a Amounts) Sub(other Amounts) Amounts {
	out := a.Clone()
	out.CPU = floorZero(out.CPU - other.CPU)
	out.MemoryMB = floorZero(out.MemoryMB - other.MemoryMB)
	out.DiskMB = floorZero(out.DiskMB - other.DiskMB)
	out.NetworkMbps = floorZero(out.NetworkMbps - other.NetworkMbps)
	for k, v := range other.Custom {
		if out.Custom == nil {
			out.Custom = make(map[string]float64)
		}
		out.Custom[k] = floorZero(out.Custom[k] - v)
	}
	return out
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Requirement bounds one dimension of a request.
type Requirement struct {
	Min       float64 `json:"min"`
	Preferred float64 `json:"preferred,omitempty"`
	Max       float64 `json:"max,omitempty"`
}

// Target returns the amount to grant before capping by availability: the
// preferred amount when set, otherwise the minimum.
func (r Requirement) Target() float64 {
	if r.Preferred > 0 {
		return r.Preferred
	}
	return r.Min
}

// TimeWindow restricts when a matched resource may be used.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Constraints narrow the candidate set before scoring.
type Constraints struct {
	AllowedLocations []string    `json:"allowed_locations,omitempty"`
	DeniedLocations  []string    `json:"denied_locations,omitempty"`
	MaxCostPerHour   float64     `json:"max_cost_per_hour,omitempty"`
	TimeWindow       *TimeWindow `json:"time_window,omitempty"`
}

// Requirements is the full shape of a resource request.
type Requirements struct {
	CPU     Requirement            `json:"cpu"`
	Memory  Requirement            `json:"memory"`
	Disk    Requirement            `json:"disk"`
	Network Requirement            `json:"network"`
	Custom  map[string]Requirement `json:"custom,omitempty"`

	Constraints Constraints `json:"constraints,omitempty"`
}

// Reliability summarizes a resource's failure characteristics.
type Reliability struct {
	Uptime       float64   `json:"uptime"` // 0..1
	MTBFHours    float64   `json:"mtbf_hours"`
	ErrorRate    float64   `json:"error_rate"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Metadata holds scoring inputs and the cost model.
type Metadata struct {
	PerformanceScore float64     `json:"performance_score"` // 0..1
	Reliability      Reliability `json:"reliability"`
	CostPerHour      float64     `json:"cost_per_hour"`
	LastUpdated      time.Time   `json:"last_updated"`
}

// Resource is a unit of allocatable capacity. Available is always derived:
// available = max(0, capacity - allocated) per dimension.
type Resource struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Capacity  Amounts `json:"capacity"`
	Allocated Amounts `json:"allocated"`
	Available Amounts `json:"available"`

	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata"`

	ReservationIDs []string `json:"reservation_ids"`
	AllocationIDs  []string `json:"allocation_ids"`

	Sharable   bool     `json:"sharable"`
	Persistent bool     `json:"persistent"`
	Tags       []string `json:"tags,omitempty"`
	Location   string   `json:"location,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (r *Resource) Clone() *Resource {
	out := *r
	out.Capacity = r.Capacity.Clone()
	out.Allocated = r.Allocated.Clone()
	out.Available = r.Available.Clone()
	out.ReservationIDs = append([]string(nil), r.ReservationIDs...)
	out.AllocationIDs = append([]string(nil), r.AllocationIDs...)
	out.Tags = append([]string(nil), r.Tags...)
	return &out
}

// Utilization is the fraction of cpu+memory capacity currently allocated.
func (r *Resource) Utilization() float64 {
	total := r.Capacity.CPU + r.Capacity.MemoryMB
	if total <= 0 {
		return 0
	}
	return (r.Allocated.CPU + r.Allocated.MemoryMB) / total
}

// recomputeAvailability re-derives Available from Capacity and Allocated.
// Sub floors every dimension at zero, custom ones included.
func (r *Resource) recomputeAvailability() {
	r.Available = r.Capacity.Sub(r.Allocated)
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationFailed    ReservationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationFailed:
		return true
	}
	return false
}

// Reservation is an intent to use a resource. ResourceID is empty until the
// matcher binds it.
type Reservation struct {
	ID          string `json:"id"`
	ResourceID  string `json:"resource_id,omitempty"`
	RequesterID string `json:"requester_id"`
	TaskID      string `json:"task_id,omitempty"`

	Requirements Requirements      `json:"requirements"`
	Status       ReservationStatus `json:"status"`
	Priority     Priority          `json:"priority"`
	Preemptible  bool              `json:"preemptible"`

	CreatedAt   time.Time `json:"created_at"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ReleasedAt  time.Time `json:"released_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AllocationStatus is the lifecycle state of an allocation.
type AllocationStatus string

const (
	AllocationActive    AllocationStatus = "active"
	AllocationCompleted AllocationStatus = "completed"
	AllocationFailed    AllocationStatus = "failed"
)

// QoSViolation records one guarantee breach on an allocation.
type QoSViolation struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Severity  string    `json:"severity"`
	Resolved  bool      `json:"resolved"`
}

// Allocation is the realized consumption of a resource, 1:1 with its
// reservation.
type Allocation struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	RequesterID   string `json:"requester_id"`
	TaskID        string `json:"task_id,omitempty"`

	Allocated   Amounts          `json:"allocated"`
	ActualUsage Amounts          `json:"actual_usage"`
	Efficiency  float64          `json:"efficiency"`
	Status      AllocationStatus `json:"status"`

	Violations []QoSViolation `json:"qos_violations,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// RequestOptions tune a single RequestResources call.
type RequestOptions struct {
	Priority    Priority
	Timeout     time.Duration
	TaskID      string
	Preemptible bool
}

// UsageSample is one observed usage point for a resource.
type UsageSample struct {
	Timestamp time.Time `json:"timestamp"`
	Usage     Amounts   `json:"usage"`
}

// Strategy selects among viable candidates after scoring.
type Strategy string

const (
	StrategyFirstFit Strategy = "first-fit"
	StrategyBestFit  Strategy = "best-fit"
	StrategyWorstFit Strategy = "worst-fit"
	StrategyBalanced Strategy = "balanced"
)

// ParseStrategy maps a config string to a Strategy, defaulting to balanced.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyFirstFit, StrategyBestFit, StrategyWorstFit, StrategyBalanced:
		return Strategy(s)
	}
	return StrategyBalanced
}

// DefaultPriorityWeights are the scoring multipliers per priority.
func DefaultPriorityWeights() map[Priority]float64 {
	return map[Priority]float64{
		PriorityCritical:   1.0,
		PriorityHigh:       0.8,
		PriorityNormal:     0.6,
		PriorityLow:        0.4,
		PriorityBackground: 0.2,
	}
}
