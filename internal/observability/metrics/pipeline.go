// Package metrics provides Prometheus metric collectors for the recognition
// pipeline and the scrobble queue.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains metrics for capture, segmentation and recognition.
type PipelineMetrics struct {
	FramesDropped       prometheus.Counter
	SegmentsProcessed   prometheus.Counter
	SegmentsDiscarded   prometheus.Counter
	SegmentsOverflowed  prometheus.Counter
	Recognitions        *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	DuplicatesSuppress  prometheus.Counter
	PipelineErrors      prometheus.Counter
}

// NewPipelineMetrics creates and registers the pipeline metric collectors.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audio_frames_dropped_total",
			Help: "Total audio frames dropped because the pipeline was busy",
		}),
		SegmentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segments_processed_total",
			Help: "Total closed segments handed to recognition",
		}),
		SegmentsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segments_discarded_total",
			Help: "Total segments discarded for being shorter than the minimum duration",
		}),
		SegmentsOverflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segments_overflowed_total",
			Help: "Total segments dropped because the recognition queue was full",
		}),
		Recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recognitions_total",
			Help: "Recognition outcomes by provider",
		}, []string{"provider", "outcome"}),
		RecognitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recognition_duration_seconds",
			Help:    "Wall time of a full recognition pass over one segment",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		DuplicatesSuppress: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duplicates_suppressed_total",
			Help: "Total recognized tracks suppressed as recent duplicates",
		}),
		PipelineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Total contained pipeline errors",
		}),
	}

	collectors := []prometheus.Collector{
		m.FramesDropped, m.SegmentsProcessed, m.SegmentsDiscarded,
		m.SegmentsOverflowed, m.Recognitions, m.RecognitionDuration,
		m.DuplicatesSuppress, m.PipelineErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}
