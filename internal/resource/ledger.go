package resource

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/events"
)

// Ledger tracks reservations and allocations through their lifecycle and
// keeps the catalog's capacity bookkeeping consistent with them.
//
// All mutation paths serialize on l.mu, and every touch of a Resource goes
// through the catalog's locked accessors. Lock order is always ledger
// before catalog; nothing takes them the other way around.
type Ledger struct {
	logger  *zap.Logger
	catalog *Catalog
	matcher *Matcher
	bus     *events.Bus

	defaultTimeout time.Duration

	mu           sync.Mutex
	reservations map[string]*Reservation
	allocations  map[string]*Allocation
	// reservation ID -> active allocation ID, for cascading cancel.
	allocationByReservation map[string]string
}

// NewLedger creates a ledger bound to a catalog and matcher.
func NewLedger(logger *zap.Logger, catalog *Catalog, matcher *Matcher, bus *events.Bus, defaultTimeout time.Duration) *Ledger {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Ledger{
		logger:                  logger.Named("ledger"),
		catalog:                 catalog,
		matcher:                 matcher,
		bus:                     bus,
		defaultTimeout:          defaultTimeout,
		reservations:            make(map[string]*Reservation),
		allocations:             make(map[string]*Allocation),
		allocationByReservation: make(map[string]string),
	}
}

// Request creates a reservation, matches it against the catalog and, when
// the bound resource can satisfy it immediately, auto-activates it.
// The reservation record is retained even when matching fails, for audit.
func (l *Ledger) Request(requesterID string, req Requirements, opts RequestOptions) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.defaultTimeout
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := time.Now()
	rsv := &Reservation{
		ID:           "reservation-" + uuid.New().String(),
		RequesterID:  requesterID,
		TaskID:       opts.TaskID,
		Requirements: req,
		Status:       ReservationPending,
		Priority:     priority,
		Preemptible:  opts.Preemptible,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
	}
	l.reservations[rsv.ID] = rsv

	// Score, select, bind and (when possible) activate against one
	// consistent view of availability.
	err := l.catalog.Update(func(resources []*Resource) error {
		match := l.matcher.FindSuitable(resources, req, priority)
		if match == nil {
			return errors.NoSuitableResource(requesterID)
		}

		rsv.ResourceID = match.ID
		match.ReservationIDs = append(match.ReservationIDs, rsv.ID)
		match.recomputeAvailability()
		rsv.Status = ReservationConfirmed

		l.bus.Publish(events.Event{
			Type:          events.ReservationCreated,
			ResourceID:    match.ID,
			ReservationID: rsv.ID,
		})

		if CanSatisfy(match, req) {
			l.activateOn(rsv, match)
		}
		return nil
	})
	if err != nil {
		rsv.Status = ReservationFailed
		l.logger.Warn("No suitable resource",
			zap.String("reservation_id", rsv.ID),
			zap.String("requester_id", requesterID),
		)
		return rsv.ID, err
	}
	return rsv.ID, nil
}

// Activate transitions a confirmed reservation to active, creating its
// allocation and charging the resource.
func (l *Ledger) Activate(reservationID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rsv, ok := l.reservations[reservationID]
	if !ok {
		return "", errors.NotFound("reservation", reservationID)
	}
	if rsv.Status != ReservationConfirmed {
		return "", errors.InvalidState("reservation %s is %s, expected confirmed", reservationID, rsv.Status)
	}

	var allocID string
	err := l.catalog.UpdateResource(rsv.ResourceID, func(res *Resource) error {
		allocID = l.activateOn(rsv, res)
		return nil
	})
	if err != nil {
		return "", err
	}
	return allocID, nil
}

// activateOn performs activation with l.mu held and res locked by the
// catalog. Granted amounts are the preferred (or minimum) per dimension,
// capped by current availability.
func (l *Ledger) activateOn(rsv *Reservation, res *Resource) string {
	grant := GrantFor(res, rsv.Requirements)
	now := time.Now()
	alloc := &Allocation{
		ID:            "allocation-" + uuid.New().String(),
		ReservationID: rsv.ID,
		ResourceID:    res.ID,
		RequesterID:   rsv.RequesterID,
		TaskID:        rsv.TaskID,
		Allocated:     grant,
		Efficiency:    1.0,
		Status:        AllocationActive,
		StartTime:     now,
	}
	l.allocations[alloc.ID] = alloc
	l.allocationByReservation[rsv.ID] = alloc.ID

	res.AllocationIDs = append(res.AllocationIDs, alloc.ID)
	res.Allocated = res.Allocated.Add(grant)
	res.recomputeAvailability()
	res.Metadata.LastUpdated = now

	rsv.Status = ReservationActive
	rsv.ActivatedAt = now

	l.bus.Publish(events.Event{
		Type:          events.AllocationActivated,
		ResourceID:    res.ID,
		ReservationID: rsv.ID,
		AllocationID:  alloc.ID,
	})
	l.logger.Debug("Allocation activated",
		zap.String("allocation_id", alloc.ID),
		zap.String("resource_id", res.ID),
		zap.Float64("cpu", grant.CPU),
		zap.Float64("memory_mb", grant.MemoryMB),
	)
	return alloc.ID
}

// Release completes an allocation, returning its amounts to the resource.
// Releasing an already-completed allocation fails with AlreadyReleased and
// leaves all state unchanged.
func (l *Ledger) Release(allocationID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(allocationID, reason)
}

func (l *Ledger) releaseLocked(allocationID, reason string) error {
	alloc, ok := l.allocations[allocationID]
	if !ok {
		return errors.NotFound("allocation", allocationID)
	}
	if alloc.Status != AllocationActive {
		return errors.AlreadyReleased(allocationID)
	}

	now := time.Now()
	err := l.catalog.UpdateResource(alloc.ResourceID, func(res *Resource) error {
		res.Allocated = res.Allocated.Sub(alloc.Allocated)
		res.AllocationIDs = removeString(res.AllocationIDs, allocationID)
		res.recomputeAvailability()
		res.Metadata.LastUpdated = now
		return nil
	})
	if err != nil {
		return err
	}

	alloc.Status = AllocationCompleted
	alloc.EndTime = now
	alloc.Efficiency = computeEfficiency(alloc.ActualUsage, alloc.Allocated)

	if rsv, ok := l.reservations[alloc.ReservationID]; ok {
		rsv.ReleasedAt = now
		if rsv.Status == ReservationActive {
			rsv.Status = ReservationCompleted
		}
	}
	delete(l.allocationByReservation, alloc.ReservationID)

	l.bus.Publish(events.Event{
		Type:          events.AllocationReleased,
		ResourceID:    alloc.ResourceID,
		ReservationID: alloc.ReservationID,
		AllocationID:  allocationID,
		Reason:        reason,
	})
	l.logger.Debug("Allocation released",
		zap.String("allocation_id", allocationID),
		zap.String("reason", reason),
		zap.Float64("efficiency", alloc.Efficiency),
	)
	return nil
}

// Cancel terminates a reservation. Active reservations release their
// allocation first (cascading). Cancelling a terminal reservation is an
// InvalidState error.
func (l *Ledger) Cancel(reservationID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelLocked(reservationID, reason)
}

func (l *Ledger) cancelLocked(reservationID, reason string) error {
	rsv, ok := l.reservations[reservationID]
	if !ok {
		return errors.NotFound("reservation", reservationID)
	}
	if rsv.Status.Terminal() {
		return errors.InvalidState("reservation %s already %s", reservationID, rsv.Status)
	}

	if rsv.Status == ReservationActive {
		if allocID, ok := l.allocationByReservation[reservationID]; ok {
			if err := l.releaseLocked(allocID, reason); err != nil {
				return err
			}
		}
	}

	rsv.Status = ReservationCancelled
	rsv.ReleasedAt = time.Now()

	if rsv.ResourceID != "" {
		err := l.catalog.UpdateResource(rsv.ResourceID, func(res *Resource) error {
			res.ReservationIDs = removeString(res.ReservationIDs, reservationID)
			res.recomputeAvailability()
			return nil
		})
		if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return err
		}
	}

	l.bus.Publish(events.Event{
		Type:          events.ReservationCancelled,
		ResourceID:    rsv.ResourceID,
		ReservationID: reservationID,
		Reason:        reason,
	})
	l.logger.Debug("Reservation cancelled",
		zap.String("reservation_id", reservationID),
		zap.String("reason", reason),
	)
	return nil
}

// RecordUsage stores an observed usage sample on an active allocation and
// refreshes its running efficiency.
func (l *Ledger) RecordUsage(allocationID string, usage Amounts) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, ok := l.allocations[allocationID]
	if !ok {
		return errors.NotFound("allocation", allocationID)
	}
	if alloc.Status != AllocationActive {
		return errors.InvalidState("allocation %s is %s", allocationID, alloc.Status)
	}
	alloc.ActualUsage = usage.Clone()
	alloc.Efficiency = computeEfficiency(alloc.ActualUsage, alloc.Allocated)
	return nil
}

// AddViolation appends a QoS violation to an allocation.
func (l *Ledger) AddViolation(allocationID string, v QoSViolation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, ok := l.allocations[allocationID]
	if !ok {
		return errors.NotFound("allocation", allocationID)
	}
	alloc.Violations = append(alloc.Violations, v)
	return nil
}

// Cleanup cancels pending reservations whose expiry has passed. Errors on
// individual reservations are logged and do not halt the sweep.
func (l *Ledger) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	expired := 0
	for id, rsv := range l.reservations {
		if rsv.Status != ReservationPending || rsv.ExpiresAt.After(now) {
			continue
		}
		if err := l.cancelLocked(id, "expired"); err != nil {
			l.logger.Warn("Failed to expire reservation",
				zap.String("reservation_id", id),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired
}

// GetReservation returns a copy of the reservation.
func (l *Ledger) GetReservation(id string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rsv, ok := l.reservations[id]
	if !ok {
		return nil, errors.NotFound("reservation", id)
	}
	out := *rsv
	return &out, nil
}

// GetAllocation returns a copy of the allocation.
func (l *Ledger) GetAllocation(id string) (*Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	alloc, ok := l.allocations[id]
	if !ok {
		return nil, errors.NotFound("allocation", id)
	}
	return cloneAllocation(alloc), nil
}

// AllocationForReservation resolves a reservation's active allocation ID.
func (l *Ledger) AllocationForReservation(reservationID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.allocationByReservation[reservationID]
	return id, ok
}

// ActiveAllocations returns copies of all active allocations.
func (l *Ledger) ActiveAllocations() []*Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Allocation
	for _, alloc := range l.allocations {
		if alloc.Status != AllocationActive {
			continue
		}
		out = append(out, cloneAllocation(alloc))
	}
	return out
}

func cloneAllocation(alloc *Allocation) *Allocation {
	cp := *alloc
	cp.Allocated = alloc.Allocated.Clone()
	cp.ActualUsage = alloc.ActualUsage.Clone()
	cp.Violations = append([]QoSViolation(nil), alloc.Violations...)
	return &cp
}

// LedgerStats summarizes ledger state for the manager's statistics call.
type LedgerStats struct {
	Reservations      map[ReservationStatus]int
	ActiveAllocations int
	TotalAllocations  int
	MeanEfficiency    float64
}

// Stats computes current counts and the mean efficiency across all
// allocations, active and completed.
func (l *Ledger) Stats() LedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := LedgerStats{Reservations: make(map[ReservationStatus]int)}
	for _, rsv := range l.reservations {
		stats.Reservations[rsv.Status]++
	}
	var effSum float64
	for _, alloc := range l.allocations {
		stats.TotalAllocations++
		if alloc.Status == AllocationActive {
			stats.ActiveAllocations++
		}
		effSum += alloc.Efficiency
	}
	if stats.TotalAllocations > 0 {
		stats.MeanEfficiency = effSum / float64(stats.TotalAllocations)
	}
	return stats
}

// computeEfficiency averages usage/allocated over the dimensions that have a
// nonzero allocation. Dimensions with zero allocation are excluded; when no
// dimension qualifies the efficiency is 1.0.
func computeEfficiency(usage, allocated Amounts) float64 {
	var sum float64
	var n int
	add := func(u, a float64) {
		if a > 0 {
			sum += u / a
			n++
		}
	}
	add(usage.CPU, allocated.CPU)
	add(usage.MemoryMB, allocated.MemoryMB)
	add(usage.DiskMB, allocated.DiskMB)
	add(usage.NetworkMbps, allocated.NetworkMbps)
	for dim, a := range allocated.Custom {
		add(usage.Custom[dim], a)
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
