// Package observability provides Prometheus metrics and the telemetry
// endpoint for the vinyl recognition daemon.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/vinyl-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *metrics.PipelineMetrics
	Scrobble *metrics.ScrobbleMetrics
}

// NewMetrics creates a new Metrics instance with all collectors registered
// on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	scrobbleMetrics, err := metrics.NewScrobbleMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrobble metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
		Scrobble: scrobbleMetrics,
	}, nil
}

// RegisterHandlers attaches the /metrics handler to the given mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
