// Package segmenter implements the silence/music state machine that cuts a
// continuous PCM stream into bounded track segments. The state machine is
// threshold-agnostic: it operates on a boolean is-loud input derived from
// the level detector, with all thresholds supplied by configuration.
package segmenter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/myaudio"
	"github.com/tphakala/vinyl-go/internal/observability/metrics"
)

// State identifies the segmenter's position in the silence/music cycle.
type State int

const (
	StateIdle State = iota // initial, no input seen yet
	StateSilence
	StateRecording
)

// String returns the state name for status reporting.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSilence:
		return "silence"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Segment is a contiguous span of captured audio believed to contain one
// playing track. The PCM payload is owned by the recognition stage after
// emission and discarded once recognition completes.
type Segment struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	PCM       []byte
	Duration  time.Duration
}

// Config holds the externally supplied segmentation parameters.
type Config struct {
	SilenceThreshold float64       // normalized RMS at or below which a frame is silent
	SilenceDuration  time.Duration // continuous silence required to close a segment
	MinDuration      time.Duration // segments shorter than this are discarded
	MaxDuration      time.Duration // segments are force-closed at this length
}

// bytesPerSecond for the fixed capture format.
const bytesPerSecond = conf.SampleRate * conf.NumChannels * (conf.BitDepth / 8)

// Segmenter consumes level samples and emits bounded audio segments. It is
// safe for use from a single goroutine; the capture worker owns it.
type Segmenter struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	state        State
	segmentStart time.Time
	silenceStart time.Time // zero when the current frame run is loud
	buf          []byte
	loudBytes    int // buffer length at the last loud frame, trims trailing silence

	metrics *metrics.PipelineMetrics // nil outside the full pipeline

	discardedShort int
	emitted        int
}

// SetMetrics attaches the pipeline metric collectors. Must be called before
// the first frame is fed.
func (s *Segmenter) SetMetrics(m *metrics.PipelineMetrics) {
	s.metrics = m
}

// New creates a Segmenter with the given configuration.
func New(cfg Config) *Segmenter {
	logger := logging.ForService("segmenter")
	if logger == nil {
		logger = logging.Discard()
	}
	return &Segmenter{cfg: cfg, log: logger, state: StateIdle}
}

// Feed processes one captured frame. It computes the frame's RMS level and
// advances the state machine. A non-nil return value is a closed segment
// ready for recognition.
func (s *Segmenter) Feed(frame myaudio.Frame) *Segment {
	rms := myaudio.CalculateRMS(frame.PCM)
	return s.Process(rms > s.cfg.SilenceThreshold, frame.Timestamp, frame.PCM)
}

// Process advances the state machine with a pre-classified sample. Exposed
// separately from Feed so the threshold logic stays out of the state
// machine itself.
func (s *Segmenter) Process(isLoud bool, ts time.Time, pcm []byte) *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StateSilence:
		if isLoud {
			// A single loud sample opens a segment.
			s.state = StateRecording
			s.segmentStart = ts
			s.silenceStart = time.Time{}
			s.buf = append(s.buf[:0], pcm...)
			s.loudBytes = len(s.buf)
			s.log.Debug("segment opened", "start", ts)
		} else {
			s.state = StateSilence
		}
		return nil

	case StateRecording:
		s.buf = append(s.buf, pcm...)

		if isLoud {
			s.silenceStart = time.Time{}
			s.loudBytes = len(s.buf)
		} else {
			if s.silenceStart.IsZero() {
				s.silenceStart = ts
			}
			if ts.Sub(s.silenceStart) >= s.cfg.SilenceDuration {
				// Trailing silence is excluded from the emitted segment.
				return s.close(s.loudBytes)
			}
		}

		if s.recordedDuration(len(s.buf)) >= s.cfg.MaxDuration {
			// Safety valve against a stuck-open "always loud" input.
			s.log.Warn("segment reached maximum duration, force closing")
			return s.close(s.capBytes())
		}
		return nil
	}

	return nil
}

// close emits the collected segment, or discards it if too short. The
// segmenter returns to the Silence rest state either way.
func (s *Segmenter) close(payloadBytes int) *Segment {
	duration := s.recordedDuration(payloadBytes)
	start := s.segmentStart

	pcm := make([]byte, payloadBytes)
	copy(pcm, s.buf[:payloadBytes])

	s.state = StateSilence
	s.buf = s.buf[:0]
	s.loudBytes = 0
	s.silenceStart = time.Time{}

	if duration < s.cfg.MinDuration {
		s.discardedShort++
		if s.metrics != nil {
			s.metrics.SegmentsDiscarded.Inc()
		}
		s.log.Debug("discarding short segment", "duration", duration, "min", s.cfg.MinDuration)
		return nil
	}

	s.emitted++
	return &Segment{
		ID:        uuid.NewString(),
		StartTime: start,
		EndTime:   start.Add(duration),
		PCM:       pcm,
		Duration:  duration,
	}
}

// capBytes returns the payload size corresponding to exactly MaxDuration,
// so a force-closed segment never exceeds the cap.
func (s *Segmenter) capBytes() int {
	maxBytes := int(s.cfg.MaxDuration.Seconds() * bytesPerSecond)
	if maxBytes > len(s.buf) {
		return len(s.buf)
	}
	return maxBytes
}

// recordedDuration derives playback time from the payload size, which keeps
// segment durations deterministic regardless of frame timing jitter.
func (s *Segmenter) recordedDuration(payloadBytes int) time.Duration {
	return time.Duration(float64(payloadBytes) / bytesPerSecond * float64(time.Second))
}

// State returns the current state for status reporting.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Recording reports whether a segment is currently open.
func (s *Segmenter) Recording() bool {
	return s.State() == StateRecording
}

// RecordingDuration returns how much audio the open segment holds, zero if
// no segment is open.
func (s *Segmenter) RecordingDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0
	}
	return s.recordedDuration(len(s.buf))
}

// Stats returns emitted and discarded segment counts.
func (s *Segmenter) Stats() (emitted, discardedShort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.discardedShort
}
