package resource

import (
	"math"
	"sort"
	"time"
)

// Matcher scores and selects resources for requirement sets. It is pure
// computation over the candidate slice it is given; the caller is
// responsible for holding a consistent view of availability across
// scoring, selection and binding.
type Matcher struct {
	strategy        Strategy
	priorityWeights map[Priority]float64
}

// NewMatcher creates a matcher with the given strategy and weights. Nil or
// empty weights fall back to the defaults.
func NewMatcher(strategy Strategy, weights map[Priority]float64) *Matcher {
	if len(weights) == 0 {
		weights = DefaultPriorityWeights()
	}
	return &Matcher{strategy: strategy, priorityWeights: weights}
}

// CanSatisfy reports whether the resource's current availability covers
// every dimension's minimum, including custom dimensions, and whether the
// request's constraints admit the resource.
func CanSatisfy(res *Resource, req Requirements) bool {
	if res.Available.CPU < req.CPU.Min ||
		res.Available.MemoryMB < req.Memory.Min ||
		res.Available.DiskMB < req.Disk.Min ||
		res.Available.NetworkMbps < req.Network.Min {
		return false
	}
	for dim, r := range req.Custom {
		if res.Available.Custom[dim] < r.Min {
			return false
		}
	}
	return satisfiesConstraints(res, req.Constraints, time.Now())
}

func satisfiesConstraints(res *Resource, c Constraints, now time.Time) bool {
	if len(c.AllowedLocations) > 0 && !contains(c.AllowedLocations, res.Location) {
		return false
	}
	if contains(c.DeniedLocations, res.Location) {
		return false
	}
	if c.MaxCostPerHour > 0 && res.Metadata.CostPerHour > c.MaxCostPerHour {
		return false
	}
	if c.TimeWindow != nil && !c.TimeWindow.Contains(now) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Score rates a candidate. Higher is better. The base favors idle, fast,
// reliable and cheap resources; the priority weight then scales the whole
// score.
func (m *Matcher) Score(res *Resource, priority Priority) float64 {
	score := (1-res.Utilization())*100 +
		res.Metadata.PerformanceScore*10 +
		res.Metadata.Reliability.Uptime*50

	if cost := res.Metadata.CostPerHour; cost > 0 {
		score += (1 / cost) * 20
	}

	if w, ok := m.priorityWeights[priority]; ok {
		score *= w
	}
	return score
}

// scored pairs a candidate with its score and original position, so sorting
// breaks ties by registration order and stays deterministic.
type scored struct {
	res   *Resource
	score float64
	pos   int
}

// FindSuitable picks the best resource for the requirements under the
// configured strategy. Candidates must be passed in stable (registration)
// order. Returns nil when no candidate qualifies.
func (m *Matcher) FindSuitable(candidates []*Resource, req Requirements, priority Priority) *Resource {
	viable := make([]scored, 0, len(candidates))
	for i, res := range candidates {
		if res.Status != StatusAvailable {
			continue
		}
		if !CanSatisfy(res, req) {
			continue
		}
		s := m.Score(res, priority)
		if s <= 0 {
			continue
		}
		viable = append(viable, scored{res: res, score: s, pos: i})
	}
	if len(viable) == 0 {
		return nil
	}

	sort.SliceStable(viable, func(i, j int) bool {
		if viable[i].score != viable[j].score {
			return viable[i].score > viable[j].score
		}
		return viable[i].pos < viable[j].pos
	})

	switch m.strategy {
	case StrategyBestFit:
		return pickByWaste(viable, req, true)
	case StrategyWorstFit:
		return pickByWaste(viable, req, false)
	default:
		// first-fit and balanced both take the top-scored candidate.
		return viable[0].res
	}
}

// waste measures leftover headroom above the request's minimums. Only the
// cpu and memory dimensions participate; widening this set would change
// scheduling outcomes.
func waste(res *Resource, req Requirements) float64 {
	return math.Max(0, res.Available.CPU-req.CPU.Min) +
		math.Max(0, res.Available.MemoryMB-req.Memory.Min)
}

func pickByWaste(viable []scored, req Requirements, minimize bool) *Resource {
	best := viable[0].res
	bestWaste := waste(best, req)
	for _, cand := range viable[1:] {
		w := waste(cand.res, req)
		if minimize && w < bestWaste || !minimize && w > bestWaste {
			best = cand.res
			bestWaste = w
		}
	}
	return best
}

// GrantFor computes the amounts to grant at activation: the preferred (or
// minimum) per dimension, capped by what the resource has available right
// now.
func GrantFor(res *Resource, req Requirements) Amounts {
	grant := Amounts{
		CPU:         math.Min(req.CPU.Target(), res.Available.CPU),
		MemoryMB:    math.Min(req.Memory.Target(), res.Available.MemoryMB),
		DiskMB:      math.Min(req.Disk.Target(), res.Available.DiskMB),
		NetworkMbps: math.Min(req.Network.Target(), res.Available.NetworkMbps),
	}
	for dim, r := range req.Custom {
		if grant.Custom == nil {
			grant.Custom = make(map[string]float64)
		}
		grant.Custom[dim] = math.Min(r.Target(), res.Available.Custom[dim])
	}
	return grant
}
