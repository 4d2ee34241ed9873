package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/orchestrator"
)

// Exporter publishes manager statistics and event counts as Prometheus
// metrics on its own listener.
type Exporter struct {
	logger   *zap.Logger
	manager  *orchestrator.Manager
	registry *prometheus.Registry
	server   *http.Server

	resources         prometheus.Gauge
	pools             prometheus.Gauge
	activeAllocations prometheus.Gauge
	utilization       prometheus.Gauge
	efficiency        prometheus.Gauge
	reservations      *prometheus.GaugeVec
	eventsTotal       *prometheus.CounterVec
}

// NewExporter builds an exporter with its own registry.
func NewExporter(logger *zap.Logger, manager *orchestrator.Manager, namespace string) *Exporter {
	if namespace == "" {
		namespace = "apiary"
	}
	registry := prometheus.NewRegistry()

	e := &Exporter{
		logger:   logger.Named("metrics"),
		manager:  manager,
		registry: registry,
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "resources_total",
			Help: "Number of registered resources.",
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pools_total",
			Help: "Number of resource pools.",
		}),
		activeAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "allocations_active",
			Help: "Number of active allocations.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "utilization_ratio",
			Help: "Mean resource utilization across the catalog.",
		}),
		efficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "allocation_efficiency",
			Help: "Mean allocation efficiency.",
		}),
		reservations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reservations",
			Help: "Reservations by status.",
		}, []string{"status"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Events published by the resource manager, by type.",
		}, []string{"type"}),
	}

	registry.MustRegister(
		e.resources, e.pools, e.activeAllocations,
		e.utilization, e.efficiency, e.reservations, e.eventsTotal,
	)
	return e
}

// Refresh pulls current statistics from the manager into the gauges.
func (e *Exporter) Refresh() {
	stats := e.manager.GetManagerStatistics()
	e.resources.Set(float64(stats.TotalResources))
	e.pools.Set(float64(stats.Pools))
	e.activeAllocations.Set(float64(stats.ActiveAllocations))
	e.utilization.Set(stats.Utilization)
	e.efficiency.Set(stats.Efficiency)
	for status, n := range stats.Reservations {
		e.reservations.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Consume counts events from a subscription until the channel closes.
func (e *Exporter) Consume(ch <-chan events.Event) {
	for ev := range ch {
		e.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	}
}

// Serve starts the metrics HTTP listener and a refresh ticker. Blocks until
// the server exits.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	e.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Refresh()
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				e.server.Shutdown(shutdownCtx)
				return
			}
		}
	}()

	e.logger.Info("Metrics exporter listening", zap.String("addr", addr))
	if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
