package segmenter

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/vinyl-go/internal/myaudio"
	"github.com/tphakala/vinyl-go/internal/observability/metrics"
)

func testConfig() Config {
	return Config{
		SilenceThreshold: 0.01,
		SilenceDuration:  2 * time.Second,
		MinDuration:      1 * time.Second,
		MaxDuration:      5 * time.Second,
	}
}

// frameDur is the synthetic frame length used by the tests.
const frameDur = 100 * time.Millisecond

// framePCM returns a payload whose size corresponds to frameDur of audio.
func framePCM() []byte {
	return make([]byte, int(frameDur.Seconds()*bytesPerSecond))
}

// run feeds count pre-classified frames starting at ts and returns the first
// emitted segment, if any, plus the timestamp following the last frame.
func run(s *Segmenter, isLoud bool, ts time.Time, count int) (*Segment, time.Time) {
	var out *Segment
	for i := 0; i < count; i++ {
		if seg := s.Process(isLoud, ts, framePCM()); seg != nil && out == nil {
			out = seg
		}
		ts = ts.Add(frameDur)
	}
	return out, ts
}

func TestOpensOnSingleLoudSample(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, ts := run(s, false, base, 5)
	assert.Equal(t, StateSilence, s.State())

	seg, _ := run(s, true, ts, 1)
	assert.Nil(t, seg)
	assert.Equal(t, StateRecording, s.State())
}

func TestEmitsAfterSilenceExcludingTrailingSilence(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 3 seconds of music, then silence until the 2 second window elapses.
	_, ts := run(s, true, base, 30)
	seg, _ := run(s, false, ts, 25)

	require.NotNil(t, seg)
	assert.Equal(t, StateSilence, s.State())
	assert.NotEmpty(t, seg.ID)
	assert.Equal(t, base, seg.StartTime)
	// Only the loud portion is emitted.
	assert.Equal(t, 3*time.Second, seg.Duration)
	assert.Equal(t, base.Add(3*time.Second), seg.EndTime)
	assert.Len(t, seg.PCM, int(3*time.Second.Seconds()*bytesPerSecond))
}

func TestDiscardsSegmentShorterThanMinimum(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Half a second of music, below the 1 second minimum.
	_, ts := run(s, true, base, 5)
	seg, _ := run(s, false, ts, 25)

	assert.Nil(t, seg)
	assert.Equal(t, StateSilence, s.State())

	emitted, discarded := s.Stats()
	assert.Zero(t, emitted)
	assert.Equal(t, 1, discarded)
}

func TestDiscardCountsIntoCollector(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	pm, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	s := New(testConfig())
	s.SetMetrics(pm)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Half a second of music, then enough silence to close: below
	// MinDuration, so the segment is discarded.
	_, ts := run(s, true, base, 5)
	seg, _ := run(s, false, ts, 25)
	assert.Nil(t, seg)

	assert.Equal(t, float64(1), testutil.ToFloat64(pm.SegmentsDiscarded))
}

func TestForceClosesAtMaxDuration(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Music never stops: the cap closes the segment.
	seg, _ := run(s, true, base, 80)

	require.NotNil(t, seg)
	assert.Equal(t, 5*time.Second, seg.Duration)
	assert.Len(t, seg.PCM, int(5*time.Second.Seconds()*bytesPerSecond))
}

func TestNeverEmitsOutsideDurationBounds(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	cfg := testConfig()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var segments []*Segment
	// Alternate runs of music and silence of varying lengths.
	for i, loud := 0, true; i < 20; i, loud = i+1, !loud {
		count := 3 + (i*7)%60
		for j := 0; j < count; j++ {
			if seg := s.Process(loud, ts, framePCM()); seg != nil {
				segments = append(segments, seg)
			}
			ts = ts.Add(frameDur)
		}
	}

	require.NotEmpty(t, segments)
	for _, seg := range segments {
		assert.GreaterOrEqual(t, seg.Duration, cfg.MinDuration)
		assert.LessOrEqual(t, seg.Duration, cfg.MaxDuration)
	}
}

func TestBriefSilenceDoesNotCloseSegment(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Quiet passage shorter than the silence window keeps the segment open.
	_, ts := run(s, true, base, 10)
	seg, ts := run(s, false, ts, 10)
	assert.Nil(t, seg)
	assert.Equal(t, StateRecording, s.State())

	// Total recorded audio stays below MaxDuration even while the trailing
	// silence accumulates, so the close comes from the silence window.
	_, ts = run(s, true, ts, 9)
	seg, _ = run(s, false, ts, 25)
	require.NotNil(t, seg)
	// Both music runs plus the interior quiet passage are included.
	assert.Equal(t, 2900*time.Millisecond, seg.Duration)
}

func TestSilenceOnlyInputEmitsNothing(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seg, _ := run(s, false, base, 100)
	assert.Nil(t, seg)

	emitted, discarded := s.Stats()
	assert.Zero(t, emitted)
	assert.Zero(t, discarded)
}

func TestFeedClassifiesByRMS(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	loud := make([]byte, 4096)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(10000)))
	}

	s.Feed(myaudio.Frame{Timestamp: base, PCM: loud})
	assert.Equal(t, StateRecording, s.State())

	s2 := New(testConfig())
	s2.Feed(myaudio.Frame{Timestamp: base, PCM: make([]byte, 4096)})
	assert.Equal(t, StateSilence, s2.State())
}

func TestRecordingDuration(t *testing.T) {
	t.Parallel()

	s := New(testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, s.RecordingDuration())

	run(s, true, base, 10)
	assert.Equal(t, time.Second, s.RecordingDuration())
}
