package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/config"
	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/pool"
	"github.com/kazuhira-dev/apiary/internal/predict"
	"github.com/kazuhira-dev/apiary/internal/qos"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

// Manager is the programmatic entry point to the resource core. It wires
// the catalog, ledger, pool manager, predictor and QoS monitor together and
// drives the periodic monitoring, cleanup and scaling sweeps.
type Manager struct {
	logger *zap.Logger
	cfg    config.ResourceConfig

	bus       *events.Bus
	catalog   *resource.Catalog
	ledger    *resource.Ledger
	pools     *pool.Manager
	predictor *predict.Predictor
	qos       *qos.Monitor

	running   bool
	runningMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager builds a manager from the injected configuration. There is no
// global state: every component receives its dependencies explicitly.
func NewManager(logger *zap.Logger, cfg config.ResourceConfig) *Manager {
	bus := events.NewBus(logger)
	catalog := resource.NewCatalog(logger)

	weights := make(map[resource.Priority]float64, len(cfg.PriorityWeights))
	for name, w := range cfg.PriorityWeights {
		weights[resource.Priority(name)] = w
	}
	matcher := resource.NewMatcher(resource.ParseStrategy(cfg.AllocationStrategy), weights)
	ledger := resource.NewLedger(logger, catalog, matcher, bus, cfg.ReservationTimeout)
	pools := pool.NewManager(logger, catalog, bus)
	predictor := predict.NewPredictor(logger)
	qosMonitor := qos.NewMonitor(logger, ledger, pools, bus)

	return &Manager{
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		bus:       bus,
		catalog:   catalog,
		ledger:    ledger,
		pools:     pools,
		predictor: predictor,
		qos:       qosMonitor,
	}
}

// Start launches the periodic sweeps. Idempotent.
func (m *Manager) Start() error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	if m.cfg.EnableMonitoring {
		m.wg.Add(1)
		go m.monitorRoutine()
	}
	m.wg.Add(1)
	go m.cleanupRoutine()
	if m.cfg.EnableAutoScale {
		m.wg.Add(1)
		go m.scalingRoutine()
	}

	m.logger.Info("Resource manager started",
		zap.Duration("monitoring_interval", m.cfg.MonitoringInterval),
		zap.Duration("cleanup_interval", m.cfg.CleanupInterval),
		zap.String("strategy", m.cfg.AllocationStrategy),
	)
	return nil
}

// Stop halts the sweeps and closes the event bus.
func (m *Manager) Stop() error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if !m.running {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.bus.Close()
	m.running = false
	m.logger.Info("Resource manager stopped")
	return nil
}

// Events returns a subscription to the manager's event stream.
func (m *Manager) Events(buffer int) <-chan events.Event {
	return m.bus.Subscribe(buffer)
}

// RegisterResource adds a resource to the catalog.
func (m *Manager) RegisterResource(typ resource.Type, name string, capacity resource.Amounts, metadata resource.Metadata) string {
	id := m.catalog.Register(typ, name, capacity, metadata)
	m.bus.Publish(events.Event{Type: events.ResourceRegistered, ResourceID: id})
	return id
}

// UnregisterResource removes a resource. Outstanding reservations are
// cancelled first (cascading); active allocations block removal.
func (m *Manager) UnregisterResource(id string) error {
	res, err := m.catalog.Snapshot(id)
	if err != nil {
		return err
	}
	if len(res.AllocationIDs) > 0 {
		return errors.HasActiveAllocations(id, len(res.AllocationIDs))
	}
	for _, rid := range res.ReservationIDs {
		if err := m.ledger.Cancel(rid, "resource unregistered"); err != nil {
			m.logger.Warn("Failed to cancel reservation during unregister",
				zap.String("reservation_id", rid),
				zap.Error(err),
			)
		}
	}
	if _, err := m.catalog.Unregister(id); err != nil {
		return err
	}
	m.predictor.Forget(id)
	m.bus.Publish(events.Event{Type: events.ResourceUnregistered, ResourceID: id})
	return nil
}

// RequestResources matches requirements against the catalog and returns
// the reservation ID. NoSuitableResource means retry later or escalate; the
// core does not retry.
func (m *Manager) RequestResources(requesterID string, req resource.Requirements, opts resource.RequestOptions) (string, error) {
	return m.ledger.Request(requesterID, req, opts)
}

// ActivateReservation explicitly activates a confirmed reservation.
func (m *Manager) ActivateReservation(reservationID string) (string, error) {
	return m.ledger.Activate(reservationID)
}

// ReleaseResources completes an allocation.
func (m *Manager) ReleaseResources(allocationID, reason string) error {
	return m.ledger.Release(allocationID, reason)
}

// CancelReservation terminates a reservation, releasing its allocation if
// one is active.
func (m *Manager) CancelReservation(reservationID, reason string) error {
	return m.ledger.Cancel(reservationID, reason)
}

// RecordUsage feeds an observed usage sample for an active allocation.
func (m *Manager) RecordUsage(allocationID string, usage resource.Amounts) error {
	return m.ledger.RecordUsage(allocationID, usage)
}

// CreatePool groups resources under a shared scaling and QoS policy.
func (m *Manager) CreatePool(name string, typ resource.Type, resourceIDs []string, strategy resource.Strategy) (string, error) {
	if !m.cfg.EnablePooling {
		return "", errors.InvalidState("resource pooling is disabled")
	}
	return m.pools.Create(name, typ, resourceIDs, strategy)
}

// AddResourceToPool adds a member resource to an existing pool.
func (m *Manager) AddResourceToPool(poolID, resourceID string) error {
	return m.pools.AddResource(poolID, resourceID)
}

// RemoveResourceFromPool removes a member, respecting the pool's minimum.
func (m *Manager) RemoveResourceFromPool(poolID, resourceID string) error {
	return m.pools.RemoveResource(poolID, resourceID)
}

// SetPoolQoS replaces a pool's guarantees.
func (m *Manager) SetPoolQoS(poolID string, qosCfg pool.QoSConfig) error {
	return m.pools.SetQoS(poolID, qosCfg)
}

// SetPoolScaling replaces a pool's scaling configuration.
func (m *Manager) SetPoolScaling(poolID string, scaling pool.ScalingConfig) error {
	return m.pools.SetScaling(poolID, scaling)
}

// RegisterRemediation installs a QoS remediation hook for one metric.
func (m *Manager) RegisterRemediation(metric string, fn qos.RemediationFunc) {
	m.qos.RegisterRemediation(metric, fn)
}

// GetResource returns a snapshot of one resource.
func (m *Manager) GetResource(id string) (*resource.Resource, error) {
	return m.catalog.Snapshot(id)
}

// ListResources returns snapshots of all resources.
func (m *Manager) ListResources() []*resource.Resource {
	return m.catalog.ListSnapshots()
}

// ListResourcesByType returns snapshots of resources of one type.
func (m *Manager) ListResourcesByType(typ resource.Type) []*resource.Resource {
	var out []*resource.Resource
	for _, res := range m.catalog.ListSnapshots() {
		if res.Type == typ {
			out = append(out, res)
		}
	}
	return out
}

// GetReservation returns a copy of one reservation.
func (m *Manager) GetReservation(id string) (*resource.Reservation, error) {
	return m.ledger.GetReservation(id)
}

// GetAllocation returns a copy of one allocation.
func (m *Manager) GetAllocation(id string) (*resource.Allocation, error) {
	return m.ledger.GetAllocation(id)
}

// AllocationForReservation resolves a reservation's active allocation.
func (m *Manager) AllocationForReservation(reservationID string) (string, bool) {
	return m.ledger.AllocationForReservation(reservationID)
}

// ListPools returns copies of all pools.
func (m *Manager) ListPools() []*pool.Pool {
	return m.pools.List()
}

// Predict produces a usage forecast for one resource.
func (m *Manager) Predict(resourceID string) (*predict.Prediction, error) {
	res, err := m.catalog.Snapshot(resourceID)
	if err != nil {
		return nil, err
	}
	return m.predictor.Predict(res)
}

// Statistics is the aggregate view returned by GetManagerStatistics.
type Statistics struct {
	Resources         map[resource.Status]int           `json:"resources"`
	TotalResources    int                               `json:"total_resources"`
	Pools             int                               `json:"pools"`
	Reservations      map[resource.ReservationStatus]int `json:"reservations"`
	ActiveAllocations int                               `json:"active_allocations"`
	TotalAllocations  int                               `json:"total_allocations"`
	Utilization       float64                           `json:"utilization"`
	Efficiency        float64                           `json:"efficiency"`
	EventsDropped     uint64                            `json:"events_dropped"`
}

// GetManagerStatistics returns the aggregate execution metrics.
func (m *Manager) GetManagerStatistics() Statistics {
	ledgerStats := m.ledger.Stats()
	return Statistics{
		Resources:         m.catalog.TotalsByStatus(),
		TotalResources:    m.catalog.Len(),
		Pools:             m.pools.Len(),
		Reservations:      ledgerStats.Reservations,
		ActiveAllocations: ledgerStats.ActiveAllocations,
		TotalAllocations:  ledgerStats.TotalAllocations,
		Utilization:       m.catalog.AggregateUtilization(),
		Efficiency:        ledgerStats.MeanEfficiency,
		EventsDropped:     m.bus.Dropped(),
	}
}

// RunCleanup performs one cleanup pass: expiring stale pending reservations
// and pruning aged usage history. Exposed for tests and the CLI.
func (m *Manager) RunCleanup(now time.Time) (expired, pruned int) {
	expired = m.ledger.Cleanup(now)
	pruned = m.predictor.Prune(now)
	return expired, pruned
}

// RunMonitor performs one monitoring pass: sampling usage into the
// predictor, refreshing pool statistics and checking QoS guarantees.
func (m *Manager) RunMonitor(now time.Time) {
	// Aggregate observed usage per resource from its active allocations.
	usage := make(map[string]resource.Amounts)
	for _, alloc := range m.ledger.ActiveAllocations() {
		usage[alloc.ResourceID] = usage[alloc.ResourceID].Add(alloc.ActualUsage)
	}
	for id, u := range usage {
		m.predictor.Record(id, resource.UsageSample{Timestamp: now, Usage: u})
	}

	m.pools.RefreshStatistics()

	if m.cfg.EnableQoS {
		m.qos.Check(now)
	}

	m.bus.Publish(events.Event{
		Type: events.MonitoringUpdated,
		Details: map[string]interface{}{
			"sampled_resources": len(usage),
		},
	})
}

func (m *Manager) monitorRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MonitoringInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.RunMonitor(now)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			expired, pruned := m.RunCleanup(now)
			if expired > 0 || pruned > 0 {
				m.logger.Info("Cleanup pass",
					zap.Int("expired_reservations", expired),
					zap.Int("pruned_samples", pruned),
				)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) scalingRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ScalingInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.pools.EvaluateScaling(now)
		case <-m.ctx.Done():
			return
		}
	}
}
