package resource

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/errors"
)

// Catalog holds every registered resource and its capacity bookkeeping.
// All mutations go through the catalog's lock; the per-entity invariants
// (allocated = sum of active allocations, available = capacity - allocated)
// are maintained on every change.
type Catalog struct {
	logger *zap.Logger

	mu        sync.RWMutex
	resources map[string]*Resource
	order     []string // registration order, for stable iteration
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{
		logger:    logger.Named("catalog"),
		resources: make(map[string]*Resource),
	}
}

// Register creates a resource with the given capacity. Available starts
// equal to capacity and status is available. Registration always succeeds;
// duplicate names are allowed.
func (c *Catalog) Register(typ Type, name string, capacity Amounts, metadata Metadata) string {
	id := "resource-" + uuid.New().String()
	now := time.Now()
	metadata.LastUpdated = now

	res := &Resource{
		ID:        id,
		Type:      typ,
		Name:      name,
		Capacity:  capacity.Clone(),
		Allocated: Amounts{},
		Status:    StatusAvailable,
		Metadata:  metadata,
		CreatedAt: now,
	}
	res.recomputeAvailability()

	c.mu.Lock()
	c.resources[id] = res
	c.order = append(c.order, id)
	c.mu.Unlock()

	c.logger.Info("Resource registered",
		zap.String("resource_id", id),
		zap.String("type", string(typ)),
		zap.String("name", name),
	)
	return id
}

// Unregister removes a resource. It fails when the resource is absent or
// still has active allocations. Outstanding reservation IDs are returned so
// the caller can cancel them first (cascading cancel, not failure).
func (c *Catalog) Unregister(id string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.resources[id]
	if !ok {
		return nil, errors.NotFound("resource", id)
	}
	if len(res.AllocationIDs) > 0 {
		return nil, errors.HasActiveAllocations(id, len(res.AllocationIDs))
	}

	outstanding := append([]string(nil), res.ReservationIDs...)
	delete(c.resources, id)
	for i, rid := range c.order {
		if rid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	c.logger.Info("Resource unregistered", zap.String("resource_id", id))
	return outstanding, nil
}

// Update runs fn while holding the catalog's write lock, passing the
// resources in registration order. This gives callers an atomic
// read-check-write over availability: score, select and bind happen against
// one consistent view. Mutations fn makes are visible to readers once
// Update returns.
func (c *Catalog) Update(fn func(resources []*Resource) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Resource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.resources[id])
	}
	return fn(out)
}

// UpdateResource runs fn on one resource under the write lock.
func (c *Catalog) UpdateResource(id string, fn func(*Resource) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[id]
	if !ok {
		return errors.NotFound("resource", id)
	}
	return fn(res)
}

// Snapshot returns a deep copy of one resource.
func (c *Catalog) Snapshot(id string) (*Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.resources[id]
	if !ok {
		return nil, errors.NotFound("resource", id)
	}
	return res.Clone(), nil
}

// List returns the live resources in registration order.
func (c *Catalog) List() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.resources[id])
	}
	return out
}

// ListSnapshots returns deep copies of all resources in registration order.
func (c *Catalog) ListSnapshots() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.resources[id].Clone())
	}
	return out
}

// ListByType returns the live resources of one type, in registration order.
func (c *Catalog) ListByType(typ Type) []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Resource
	for _, id := range c.order {
		if res := c.resources[id]; res.Type == typ {
			out = append(out, res)
		}
	}
	return out
}

// Len returns the number of registered resources.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resources)
}

// UpdateAvailability re-derives a resource's available amounts. Called after
// every allocate and release.
func (c *Catalog) UpdateAvailability(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[id]
	if !ok {
		return errors.NotFound("resource", id)
	}
	res.recomputeAvailability()
	res.Metadata.LastUpdated = time.Now()
	return nil
}

// MarkFailed flags a resource as failed and bumps its failure bookkeeping.
func (c *Catalog) MarkFailed(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[id]
	if !ok {
		return errors.NotFound("resource", id)
	}
	res.Status = StatusFailed
	res.Metadata.Reliability.FailureCount++
	res.Metadata.Reliability.LastFailure = time.Now()
	res.Metadata.LastUpdated = time.Now()
	return nil
}

// TotalsByStatus counts resources per status.
func (c *Catalog) TotalsByStatus() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Status]int)
	for _, res := range c.resources {
		out[res.Status]++
	}
	return out
}

// AggregateUtilization returns the mean utilization across all resources.
func (c *Catalog) AggregateUtilization() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.resources) == 0 {
		return 0
	}
	var sum float64
	for _, res := range c.resources {
		sum += res.Utilization()
	}
	return sum / float64(len(c.resources))
}

// IDs returns all resource IDs sorted, for deterministic sweeps.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]string(nil), c.order...)
	sort.Strings(out)
	return out
}
