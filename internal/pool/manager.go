package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

// Manager groups resources into pools, derives pool statistics from catalog
// state and evaluates scaling triggers. Scale actions are emitted as events
// for the external provisioning collaborator; the manager never creates
// resources itself.
type Manager struct {
	logger  *zap.Logger
	catalog *resource.Catalog
	bus     *events.Bus

	mu    sync.RWMutex
	pools map[string]*Pool
	order []string
}

// NewManager creates an empty pool manager.
func NewManager(logger *zap.Logger, catalog *resource.Catalog, bus *events.Bus) *Manager {
	return &Manager{
		logger:  logger.Named("pools"),
		catalog: catalog,
		bus:     bus,
		pools:   make(map[string]*Pool),
	}
}

// Create builds a pool over the given member resources. Every member must
// exist and match the pool type. Scaling defaults derive from the initial
// size: min = max(1, n), max = 3n, up at 0.8, down at 0.3, 5m cooldown.
func (m *Manager) Create(name string, typ resource.Type, resourceIDs []string, strategy resource.Strategy) (string, error) {
	for _, id := range resourceIDs {
		res, err := m.catalog.Snapshot(id)
		if err != nil {
			return "", err
		}
		if res.Type != typ {
			return "", errors.TypeMismatch("resource %s is %s, pool %s requires %s", id, res.Type, name, typ)
		}
	}

	n := len(resourceIDs)
	minResources := n
	if minResources < 1 {
		minResources = 1
	}
	p := &Pool{
		ID:          "pool-" + uuid.New().String(),
		Name:        name,
		Type:        typ,
		ResourceIDs: append([]string(nil), resourceIDs...),
		Strategy:    strategy,
		Scaling: ScalingConfig{
			Enabled:            true,
			MinResources:       minResources,
			MaxResources:       3 * n,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			Cooldown:           5 * time.Minute,
			Metrics: []ScalingMetric{
				{Name: "utilization", Threshold: 0.8, Aggregation: "avg", Weight: 1.0},
			},
		},
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.pools[p.ID] = p
	m.order = append(m.order, p.ID)
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.PoolCreated, PoolID: p.ID})
	m.logger.Info("Pool created",
		zap.String("pool_id", p.ID),
		zap.String("name", name),
		zap.Int("resources", n),
	)
	return p.ID, nil
}

// Get returns a copy of the pool.
func (m *Manager) Get(id string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, errors.NotFound("pool", id)
	}
	return p.Clone(), nil
}

// List returns copies of all pools in creation order.
func (m *Manager) List() []*Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Pool, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.pools[id].Clone())
	}
	return out
}

// PoolsContaining returns copies of every pool holding the resource.
func (m *Manager) PoolsContaining(resourceID string) []*Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Pool
	for _, id := range m.order {
		if p := m.pools[id]; p.Contains(resourceID) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// SetQoS replaces a pool's QoS configuration.
func (m *Manager) SetQoS(poolID string, qos QoSConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return errors.NotFound("pool", poolID)
	}
	p.QoS = qos
	p.QoS.Guarantees = append([]Guarantee(nil), qos.Guarantees...)
	return nil
}

// SetScaling replaces a pool's scaling configuration.
func (m *Manager) SetScaling(poolID string, scaling ScalingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return errors.NotFound("pool", poolID)
	}
	p.Scaling = scaling
	p.Scaling.Metrics = append([]ScalingMetric(nil), scaling.Metrics...)
	return nil
}

// AddResource adds a member. The resource type must match the pool type.
func (m *Manager) AddResource(poolID, resourceID string) error {
	res, err := m.catalog.Snapshot(resourceID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return errors.NotFound("pool", poolID)
	}
	if res.Type != p.Type {
		return errors.TypeMismatch("resource %s is %s, pool %s requires %s", resourceID, res.Type, p.Name, p.Type)
	}
	if p.Contains(resourceID) {
		return nil
	}
	p.ResourceIDs = append(p.ResourceIDs, resourceID)
	return nil
}

// RemoveResource removes a member. It fails when the pool would drop below
// its scaling minimum; the pool is left unchanged in that case.
func (m *Manager) RemoveResource(poolID, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return errors.NotFound("pool", poolID)
	}
	if !p.Contains(resourceID) {
		return errors.NotFound("pool member", resourceID)
	}
	if len(p.ResourceIDs)-1 < p.Scaling.MinResources {
		return errors.InvalidState("pool %s cannot drop below %d resources", p.Name, p.Scaling.MinResources)
	}
	for i, id := range p.ResourceIDs {
		if id == resourceID {
			p.ResourceIDs = append(p.ResourceIDs[:i], p.ResourceIDs[i+1:]...)
			break
		}
	}
	return nil
}

// RefreshStatistics recomputes every pool's derived statistics from the
// current catalog state.
func (m *Manager) RefreshStatistics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		p := m.pools[id]
		p.Statistics = m.computeStatistics(p)
	}
}

// computeStatistics derives utilization, queue depth, efficiency proxies
// and cost for one pool. Caller holds m.mu.
func (m *Manager) computeStatistics(p *Pool) Statistics {
	stats := Statistics{
		ResourceCount:  len(p.ResourceIDs),
		LastComputedAt: time.Now(),
	}
	if len(p.ResourceIDs) == 0 {
		return stats
	}

	var utilSum, costSum float64
	var members int
	for _, rid := range p.ResourceIDs {
		res, err := m.catalog.Snapshot(rid)
		if err != nil {
			// A vanished member must not halt the sweep.
			m.logger.Warn("Pool member missing during statistics refresh",
				zap.String("pool_id", p.ID),
				zap.String("resource_id", rid),
			)
			continue
		}
		members++
		utilSum += res.Utilization()
		costSum += res.Metadata.CostPerHour
		stats.QueueDepth += len(res.ReservationIDs)
	}
	if members > 0 {
		stats.Utilization = utilSum / float64(members)
	}
	stats.CostPerHour = costSum
	return stats
}

// EvaluateScaling runs one scaling sweep. For each pool with scaling
// enabled it evaluates the configured avg-aggregated metrics in order:
// scale-up fires when a metric exceeds its threshold and the pool has
// headroom; otherwise scale-down fires when the value sits below the
// pool's scale-down threshold and the pool is above its minimum. The first
// matching rule wins.
func (m *Manager) EvaluateScaling(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		p := m.pools[id]
		if !p.Scaling.Enabled {
			continue
		}
		if !p.Scaling.LastScaled.IsZero() && now.Sub(p.Scaling.LastScaled) < p.Scaling.Cooldown {
			continue
		}

		stats := m.computeStatistics(p)
		p.Statistics = stats

		for _, metric := range p.Scaling.Metrics {
			if metric.Aggregation != "avg" {
				continue
			}
			value := metricValue(stats, metric.Name)
			if value > metric.Threshold && len(p.ResourceIDs) < p.Scaling.MaxResources {
				p.Scaling.LastScaled = now
				m.bus.Publish(events.Event{
					Type:   events.PoolScaledUp,
					PoolID: p.ID,
					Reason: metric.Name,
					Details: map[string]interface{}{
						"value":     value,
						"threshold": metric.Threshold,
					},
				})
				m.logger.Info("Scale-up triggered",
					zap.String("pool_id", p.ID),
					zap.String("metric", metric.Name),
					zap.Float64("value", value),
				)
				break
			}
			if value < p.Scaling.ScaleDownThreshold && len(p.ResourceIDs) > p.Scaling.MinResources {
				p.Scaling.LastScaled = now
				m.bus.Publish(events.Event{
					Type:   events.PoolScaledDown,
					PoolID: p.ID,
					Reason: metric.Name,
					Details: map[string]interface{}{
						"value":     value,
						"threshold": p.Scaling.ScaleDownThreshold,
					},
				})
				m.logger.Info("Scale-down triggered",
					zap.String("pool_id", p.ID),
					zap.String("metric", metric.Name),
					zap.Float64("value", value),
				)
				break
			}
		}
	}
}

func metricValue(stats Statistics, name string) float64 {
	switch name {
	case "utilization":
		return stats.Utilization
	case "queue_depth":
		return float64(stats.QueueDepth)
	default:
		return 0
	}
}

// Len returns the number of pools.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}
