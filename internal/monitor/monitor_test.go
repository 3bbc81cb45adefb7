package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/duplicate"
	"github.com/tphakala/vinyl-go/internal/myaudio"
	"github.com/tphakala/vinyl-go/internal/observability"
	"github.com/tphakala/vinyl-go/internal/recognition"
	"github.com/tphakala/vinyl-go/internal/scrobble"
	"github.com/tphakala/vinyl-go/internal/segmenter"
)

// acceptAll is a recognition provider that always matches.
type acceptAll struct {
	artist string
	title  string
	conf   float64
	calls  int
}

func (p *acceptAll) Name() string { return "stub" }

func (p *acceptAll) Recognize(_ context.Context, _ []byte) (*recognition.Result, error) {
	p.calls++
	if p.artist == "" {
		return nil, nil
	}
	return &recognition.Result{
		Artist:     p.artist,
		Title:      p.title,
		Provider:   p.Name(),
		Confidence: p.conf,
		MatchedAt:  time.Now(),
	}, nil
}

// okSubmitter accepts every scrobble.
type okSubmitter struct{}

func (okSubmitter) Scrobble(_ scrobble.Track) error { return nil }
func (okSubmitter) Authenticated() bool             { return true }

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Realtime.Audio = conf.AudioSettings{
		SilenceThreshold:     0.01,
		SilenceDuration:      2 * time.Second,
		MinRecordingDuration: 30 * time.Second,
		MaxRecordingDuration: 120 * time.Second,
	}
	s.Realtime.Recognition.QueueSize = 4
	s.Realtime.Recognition.OverflowPolicy = conf.OverflowDropOldest
	s.Realtime.Scrobbler.Lastfm = conf.LastfmSettings{
		Enabled:          true,
		MinPlayTime:      30 * time.Second,
		MaxQueueSize:     100,
		RetryInterval:    5 * time.Minute,
		MaxRetryInterval: time.Hour,
		MaxRetries:       5,
	}
	s.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	return s
}

func newTestMonitor(t *testing.T, provider recognition.Provider) (*Monitor, datastore.Interface) {
	t.Helper()
	settings := testSettings(t)

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	orch := recognition.NewOrchestratorWithProviders(
		[]recognition.Provider{provider}, time.Second, 0.6, time.Minute)
	queue := scrobble.NewQueue(store, okSubmitter{}, settings.Realtime.Scrobbler.Lastfm)
	dup := duplicate.New(duplicate.Config{
		Enabled:    true,
		TimeWindow: 15 * time.Minute,
		CacheSize:  100,
	})
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	return New(settings, store, orch, queue, dup, metrics, nil), store
}

func testSegment(duration time.Duration) *segmenter.Segment {
	start := time.Now().Add(-duration)
	return &segmenter.Segment{
		ID:        "seg-1",
		StartTime: start,
		EndTime:   start.Add(duration),
		PCM:       make([]byte, 4096),
		Duration:  duration,
	}
}

func TestProcessSegmentQueuesRecognizedPlay(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{artist: "Miles Davis", title: "So What", conf: 0.9})

	m.processSegment(testSegment(5 * time.Minute))

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	entries, err := store.QueueEntries(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Miles Davis", entries[0].Artist)
	assert.Equal(t, "stub", entries[0].Provider)
	assert.NotEmpty(t, entries[0].Fingerprint)

	status := m.Status()
	assert.Equal(t, uint64(1), status.Counters.SegmentsProcessed)
	assert.Equal(t, uint64(1), status.Counters.Recognized)
}

func TestProcessSegmentSuppressesDuplicate(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{artist: "Miles Davis", title: "So What", conf: 0.9})

	m.processSegment(testSegment(5 * time.Minute))
	m.processSegment(testSegment(5 * time.Minute))

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "the repeat play must not be queued")

	status := m.Status()
	assert.Equal(t, uint64(1), status.Counters.Duplicates)
}

func TestProcessSegmentUnrecognized(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{}) // never matches

	m.processSegment(testSegment(5 * time.Minute))

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Zero(t, size)

	status := m.Status()
	assert.Equal(t, uint64(1), status.Counters.Unrecognized)
	assert.Zero(t, status.Counters.Errors, "unrecognized is a result, not an error")
}

func TestProcessSegmentLowConfidenceNotScrobbled(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{artist: "Miles Davis", title: "So What", conf: 0.4})

	m.processSegment(testSegment(5 * time.Minute))

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Zero(t, size)

	status := m.Status()
	assert.Equal(t, uint64(1), status.Counters.Unrecognized)
	assert.Zero(t, status.Counters.Recognized)
}

func TestProcessSegmentShortPlayIsNoop(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{artist: "Miles Davis", title: "So What", conf: 0.9})

	// Recognized, but heard for less than the minimum play time.
	m.processSegment(testSegment(10 * time.Second))

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Zero(t, size)

	status := m.Status()
	assert.Zero(t, status.Counters.Errors)
}

func TestEnqueueSegmentDropOldest(t *testing.T) {
	m, _ := newTestMonitor(t, &acceptAll{})
	m.settings.Realtime.Recognition.OverflowPolicy = conf.OverflowDropOldest
	m.segmentChan = make(chan *segmenter.Segment, 1)

	first := testSegment(time.Minute)
	first.ID = "first"
	second := testSegment(time.Minute)
	second.ID = "second"

	m.enqueueSegment(first)
	m.enqueueSegment(second)

	require.Len(t, m.segmentChan, 1)
	kept := <-m.segmentChan
	assert.Equal(t, "second", kept.ID, "the oldest un-started segment is dropped")

	status := m.Status()
	assert.Equal(t, uint64(1), status.Counters.DroppedSegments)
}

func TestEnqueueSegmentRejectNewest(t *testing.T) {
	m, _ := newTestMonitor(t, &acceptAll{})
	m.settings.Realtime.Recognition.OverflowPolicy = conf.OverflowRejectNewest
	m.segmentChan = make(chan *segmenter.Segment, 1)

	first := testSegment(time.Minute)
	first.ID = "first"
	second := testSegment(time.Minute)
	second.ID = "second"

	m.enqueueSegment(first)
	m.enqueueSegment(second)

	require.Len(t, m.segmentChan, 1)
	kept := <-m.segmentChan
	assert.Equal(t, "first", kept.ID)
}

func TestSuperviseCaptureRespawnsOnDeviceLoss(t *testing.T) {
	m, _ := newTestMonitor(t, &acceptAll{})

	var mu sync.Mutex
	spawns := 0
	m.captureFn = func(_ *conf.Settings, wg *sync.WaitGroup, quit, _ chan struct{}, _ chan myaudio.Frame, _ chan myaudio.AudioLevelData) {
		mu.Lock()
		spawns++
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-quit
		}()
	}

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return spawns == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A capture worker signalling device loss gets exactly one replacement.
	m.restartChan <- struct{}{}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return spawns == 2
	}, 2*time.Second, 10*time.Millisecond, "device loss must respawn the capture worker")
}

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()

	b := newBroadcaster()
	ch1, cancel1 := b.subscribe()
	ch2, cancel2 := b.subscribe()
	defer cancel2()

	record := datastore.ScrobbleRecord{Artist: "Miles Davis", Title: "So What"}
	b.publish(record)

	assert.Equal(t, record, <-ch1)
	assert.Equal(t, record, <-ch2)

	// After cancel, the channel closes and no further events arrive.
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
}

func TestClearOperations(t *testing.T) {
	m, store := newTestMonitor(t, &acceptAll{artist: "Miles Davis", title: "So What", conf: 0.9})

	m.processSegment(testSegment(5 * time.Minute))

	removed, err := m.ClearQueue()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	size, err := store.QueueSize()
	require.NoError(t, err)
	assert.Zero(t, size)

	// Clearing the duplicate cache lets the same track queue again.
	m.ClearDuplicates()
	m.processSegment(testSegment(5 * time.Minute))
	size, err = store.QueueSize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}
