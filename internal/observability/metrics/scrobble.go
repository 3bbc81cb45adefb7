package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ScrobbleMetrics contains metrics for the durable scrobble queue.
type ScrobbleMetrics struct {
	Delivered   prometheus.Counter
	Failed      prometheus.Counter
	Abandoned   prometheus.Counter
	RejectedMin prometheus.Counter
	QueueFull   prometheus.Counter
	QueueSize   prometheus.Gauge
	AuthPaused  prometheus.Gauge
}

// NewScrobbleMetrics creates and registers the scrobble metric collectors.
func NewScrobbleMetrics(registry *prometheus.Registry) (*ScrobbleMetrics, error) {
	m := &ScrobbleMetrics{
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrobbles_delivered_total",
			Help: "Total plays successfully delivered to the scrobbling service",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrobble_attempts_failed_total",
			Help: "Total failed delivery attempts that will be retried",
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrobbles_abandoned_total",
			Help: "Total queue entries moved to the dead-letter table",
		}),
		RejectedMin: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrobbles_rejected_short_total",
			Help: "Total plays rejected for not meeting the minimum play time",
		}),
		QueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrobble_queue_full_total",
			Help: "Total enqueue attempts rejected because the queue was full",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrobble_queue_size",
			Help: "Current number of undelivered queue entries",
		}),
		AuthPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrobble_auth_paused",
			Help: "1 while delivery is paused on an authentication failure",
		}),
	}

	collectors := []prometheus.Collector{
		m.Delivered, m.Failed, m.Abandoned, m.RejectedMin,
		m.QueueFull, m.QueueSize, m.AuthPaused,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register scrobble metrics: %w", err)
		}
	}
	return m, nil
}
