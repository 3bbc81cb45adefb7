// Package monitor assembles and supervises the realtime pipeline: audio
// capture feeding the segmenter, a single recognition worker over a bounded
// FIFO, duplicate filtering, and the durable scrobble queue.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/duplicate"
	"github.com/tphakala/vinyl-go/internal/errors"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/mqtt"
	"github.com/tphakala/vinyl-go/internal/myaudio"
	"github.com/tphakala/vinyl-go/internal/observability"
	"github.com/tphakala/vinyl-go/internal/recognition"
	"github.com/tphakala/vinyl-go/internal/scrobble"
	"github.com/tphakala/vinyl-go/internal/segmenter"
)

// frameChanSize buffers roughly a second of capture callbacks so a brief
// consumer stall never drops frames.
const frameChanSize = 64

// Counters is a snapshot of pipeline event counts.
type Counters struct {
	SegmentsProcessed uint64 `json:"segments_processed"`
	Recognized        uint64 `json:"recognized"`
	Unrecognized      uint64 `json:"unrecognized"`
	Duplicates        uint64 `json:"duplicates"`
	Scrobbled         uint64 `json:"scrobbled"`
	DroppedSegments   uint64 `json:"dropped_segments"`
	Errors            uint64 `json:"errors"`
}

// Status is the read-only pipeline snapshot served by the HTTP API.
type Status struct {
	Running           bool          `json:"running"`
	SegmenterState    string        `json:"segmenter_state"`
	SegmentInProgress bool          `json:"segment_in_progress"`
	RecordingFor      time.Duration `json:"recording_for"`
	QueueSize         int64         `json:"queue_size"`
	AuthPaused        bool          `json:"auth_paused"`
	AudioLevel        int           `json:"audio_level"`
	Clipping          bool          `json:"clipping"`
	Providers         []string      `json:"providers"`
	Counters          Counters      `json:"counters"`
}

// Monitor owns the pipeline workers and their lifecycle.
type Monitor struct {
	settings *conf.Settings
	store    datastore.Interface
	orch     *recognition.Orchestrator
	dup      *duplicate.Filter
	queue    *scrobble.Queue
	metrics  *observability.Metrics
	mqttPub  mqtt.Client // nil when MQTT is disabled
	log      *slog.Logger

	mu          sync.Mutex
	running     bool
	quitChan    chan struct{}
	restartChan chan struct{}
	wg          sync.WaitGroup

	seg         *segmenter.Segmenter
	segmentChan chan *segmenter.Segment

	// captureFn spawns a capture worker; replaced in tests.
	captureFn func(*conf.Settings, *sync.WaitGroup, chan struct{}, chan struct{}, chan myaudio.Frame, chan myaudio.AudioLevelData)

	counters   Counters
	audioLevel myaudio.AudioLevelData

	broadcaster *broadcaster
}

// New wires the pipeline components together. Start must be called to begin
// processing.
func New(settings *conf.Settings, store datastore.Interface, orch *recognition.Orchestrator,
	queue *scrobble.Queue, dup *duplicate.Filter, metrics *observability.Metrics, mqttPub mqtt.Client) *Monitor {

	logger := logging.ForService("monitor")
	if logger == nil {
		logger = logging.Discard()
	}

	m := &Monitor{
		settings:    settings,
		store:       store,
		orch:        orch,
		dup:         dup,
		queue:       queue,
		metrics:     metrics,
		mqttPub:     mqttPub,
		log:         logger,
		broadcaster: newBroadcaster(),
		captureFn:   myaudio.CaptureAudio,
	}
	queue.OnDelivered(m.onScrobbleDelivered)
	queue.SetMetrics(metrics.Scrobble)
	myaudio.SetMetrics(metrics.Pipeline)
	return m
}

// Start launches the capture, recognition and delivery workers. Safe to
// call again after Stop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.Newf("pipeline already running").
			Component("monitor").Category(errors.CategoryState).Build()
	}

	audio := m.settings.Realtime.Audio
	m.seg = segmenter.New(segmenter.Config{
		SilenceThreshold: audio.SilenceThreshold,
		SilenceDuration:  audio.SilenceDuration,
		MinDuration:      audio.MinRecordingDuration,
		MaxDuration:      audio.MaxRecordingDuration,
	})
	m.seg.SetMetrics(m.metrics.Pipeline)

	m.quitChan = make(chan struct{})
	m.restartChan = make(chan struct{}, 1)
	m.segmentChan = make(chan *segmenter.Segment, m.settings.Realtime.Recognition.QueueSize)

	frameChan := make(chan myaudio.Frame, frameChanSize)
	audioLevelChan := make(chan myaudio.AudioLevelData, 10)

	m.captureFn(m.settings, &m.wg, m.quitChan, m.restartChan, frameChan, audioLevelChan)

	m.wg.Add(1)
	go m.segmentationWorker(frameChan, audioLevelChan)

	m.wg.Add(1)
	go m.recognitionWorker()

	m.queue.Start(&m.wg, m.quitChan)

	m.wg.Add(1)
	go m.superviseCapture(frameChan, audioLevelChan)

	m.running = true
	m.log.Info("pipeline started", "source", audio.Source)
	return nil
}

// Stop shuts the pipeline down in dependency order: capture first so no new
// frames arrive, then the workers drain, and the datastore is flushed last
// by the caller closing the store.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	quit := m.quitChan
	m.running = false
	m.mu.Unlock()

	close(quit)
	m.wg.Wait()
	m.log.Info("pipeline stopped")
}

// Restart stops and restarts the pipeline, re-reading runtime settings.
func (m *Monitor) Restart() error {
	m.Stop()
	return m.Start()
}

// Running reports whether the pipeline is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// superviseCapture restarts the capture worker when the audio device
// disappears, until the pipeline is stopped.
func (m *Monitor) superviseCapture(frameChan chan myaudio.Frame, audioLevelChan chan myaudio.AudioLevelData) {
	defer m.wg.Done()
	for {
		select {
		case <-m.quitChan:
			return
		case <-m.restartChan:
			m.log.Warn("audio capture restart requested")
			m.captureFn(m.settings, &m.wg, m.quitChan, m.restartChan, frameChan, audioLevelChan)
		}
	}
}

// segmentationWorker drives the segmenter from captured frames. It never
// performs network I/O: closed segments are handed to the recognition
// worker over a bounded channel.
func (m *Monitor) segmentationWorker(frameChan chan myaudio.Frame, audioLevelChan chan myaudio.AudioLevelData) {
	defer m.wg.Done()
	for {
		select {
		case <-m.quitChan:
			return
		case level := <-audioLevelChan:
			m.mu.Lock()
			m.audioLevel = level
			m.mu.Unlock()
		case frame := <-frameChan:
			if seg := m.seg.Feed(frame); seg != nil {
				m.enqueueSegment(seg)
			}
		}
	}
}

// enqueueSegment applies the configured backpressure policy when the
// recognition queue is full.
func (m *Monitor) enqueueSegment(seg *segmenter.Segment) {
	select {
	case m.segmentChan <- seg:
		return
	default:
	}

	switch m.settings.Realtime.Recognition.OverflowPolicy {
	case conf.OverflowRejectNewest:
		m.log.Warn("recognition queue full, rejecting newest segment",
			"segment", seg.ID, "duration", seg.Duration)
		m.countDropped()
	default: // drop_oldest
		select {
		case dropped := <-m.segmentChan:
			m.log.Warn("recognition queue full, dropping oldest un-started segment",
				"dropped", dropped.ID, "queued", seg.ID)
			m.countDropped()
			// Retry once; another worker may have raced the free slot away.
			select {
			case m.segmentChan <- seg:
			default:
				m.log.Warn("recognition queue still full, rejecting segment", "segment", seg.ID)
				m.countDropped()
			}
		default:
			// Queue drained between the two selects, just push.
			m.segmentChan <- seg
		}
	}
}

func (m *Monitor) countDropped() {
	m.mu.Lock()
	m.counters.DroppedSegments++
	m.mu.Unlock()
	m.metrics.Pipeline.SegmentsOverflowed.Inc()
}

// recognitionWorker processes segments strictly in the order they closed.
// It is the only goroutine issuing recognition calls, bounding API cost.
func (m *Monitor) recognitionWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quitChan:
			return
		case seg := <-m.segmentChan:
			m.processSegment(seg)
		}
	}
}

// processSegment runs one segment through recognition, duplicate filtering
// and scrobble enqueue. All failures are contained here.
func (m *Monitor) processSegment(seg *segmenter.Segment) {
	m.mu.Lock()
	m.counters.SegmentsProcessed++
	m.mu.Unlock()
	m.metrics.Pipeline.SegmentsProcessed.Inc()

	wavData, err := myaudio.EncodeWAV(seg.PCM)
	if err != nil {
		m.log.Error("failed to encode segment", "segment", seg.ID, "error", err)
		m.countError()
		return
	}
	// The PCM payload is no longer needed once encoded.
	seg.PCM = nil

	start := time.Now()
	result := m.orch.Recognize(context.Background(), wavData)
	m.metrics.Pipeline.RecognitionDuration.Observe(time.Since(start).Seconds())

	if result == nil {
		m.mu.Lock()
		m.counters.Unrecognized++
		m.mu.Unlock()
		m.metrics.Pipeline.Recognitions.WithLabelValues("none", "unrecognized").Inc()
		m.log.Info("segment unrecognized", "segment", seg.ID, "duration", seg.Duration)
		return
	}

	if !result.Accepted {
		m.mu.Lock()
		m.counters.Unrecognized++
		m.mu.Unlock()
		m.metrics.Pipeline.Recognitions.WithLabelValues(result.Provider, "low_confidence").Inc()
		m.log.Info("match below confidence floor, not scrobbling",
			"segment", seg.ID, "artist", result.Artist, "title", result.Title,
			"confidence", result.Confidence)
		return
	}

	m.mu.Lock()
	m.counters.Recognized++
	m.mu.Unlock()
	m.metrics.Pipeline.Recognitions.WithLabelValues(result.Provider, "recognized").Inc()

	if !m.dup.ShouldEmit(result.Artist, result.Title, result.MatchedAt) {
		m.mu.Lock()
		m.counters.Duplicates++
		m.mu.Unlock()
		m.metrics.Pipeline.DuplicatesSuppress.Inc()
		m.log.Info("duplicate play suppressed", "artist", result.Artist, "title", result.Title)
		return
	}

	track := scrobble.Track{
		Artist:   result.Artist,
		Title:    result.Title,
		Album:    result.Album,
		PlayedAt: seg.StartTime,
		Duration: seg.Duration,
	}
	prov := scrobble.Provenance{
		Fingerprint: duplicate.Fingerprint(result.Artist, result.Title),
		Provider:    result.Provider,
		Confidence:  result.Confidence,
	}

	switch err := m.queue.Enqueue(track, prov); {
	case err == nil:
		m.updateQueueGauge()
	case errors.Is(err, scrobble.ErrBelowMinPlayTime):
		m.metrics.Scrobble.RejectedMin.Inc()
	case errors.Is(err, scrobble.ErrQueueFull):
		m.metrics.Scrobble.QueueFull.Inc()
		m.countError()
	default:
		m.log.Error("failed to enqueue scrobble", "artist", track.Artist,
			"title", track.Title, "error", err)
		m.countError()
	}
}

// onScrobbleDelivered fans a confirmed delivery out to metrics, the SSE
// broadcaster and the optional MQTT publisher.
func (m *Monitor) onScrobbleDelivered(record datastore.ScrobbleRecord) {
	m.mu.Lock()
	m.counters.Scrobbled++
	m.mu.Unlock()
	m.metrics.Scrobble.Delivered.Inc()
	m.updateQueueGauge()

	m.broadcaster.publish(record)

	if m.mqttPub != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := m.mqttPub.PublishScrobble(ctx, record); err != nil {
				m.log.Warn("failed to publish scrobble to MQTT", "error", err)
			}
		}()
	}
}

func (m *Monitor) countError() {
	m.mu.Lock()
	m.counters.Errors++
	m.mu.Unlock()
	m.metrics.Pipeline.PipelineErrors.Inc()
}

func (m *Monitor) updateQueueGauge() {
	if size, err := m.queue.Size(); err == nil {
		m.metrics.Scrobble.QueueSize.Set(float64(size))
	}
}

// Status returns a point-in-time snapshot of the pipeline.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	running := m.running
	counters := m.counters
	level := m.audioLevel
	seg := m.seg
	m.mu.Unlock()

	status := Status{
		Running:    running,
		Counters:   counters,
		AudioLevel: level.Level,
		Clipping:   level.Clipping,
		Providers:  m.orch.ProviderNames(),
		AuthPaused: m.queue.AuthPaused(),
	}
	if seg != nil {
		status.SegmenterState = seg.State().String()
		status.SegmentInProgress = seg.Recording()
		status.RecordingFor = seg.RecordingDuration()
	}
	if size, err := m.queue.Size(); err == nil {
		status.QueueSize = size
	}
	if authPaused := status.AuthPaused; authPaused {
		m.metrics.Scrobble.AuthPaused.Set(1)
	} else {
		m.metrics.Scrobble.AuthPaused.Set(0)
	}
	return status
}

// ClearDuplicates force-clears the duplicate cache. Administrative.
func (m *Monitor) ClearDuplicates() {
	m.dup.Clear()
	m.log.Warn("duplicate cache force-cleared")
}

// ClearQueue force-clears the scrobble queue. Administrative.
func (m *Monitor) ClearQueue() (int64, error) {
	removed, err := m.queue.Clear()
	if err == nil {
		m.updateQueueGauge()
	}
	return removed, err
}

// Subscribe returns a channel of confirmed scrobbles for SSE streaming and
// a cancel function.
func (m *Monitor) Subscribe() (<-chan datastore.ScrobbleRecord, func()) {
	return m.broadcaster.subscribe()
}

// RecentScrobbles exposes delivery history for the HTTP API.
func (m *Monitor) RecentScrobbles(limit int) ([]datastore.ScrobbleRecord, error) {
	return m.store.RecentScrobbles(limit)
}

// QueueEntries exposes the pending queue for the HTTP API.
func (m *Monitor) QueueEntries(limit int) ([]datastore.ScrobbleQueueEntry, error) {
	return m.store.QueueEntries(limit)
}
