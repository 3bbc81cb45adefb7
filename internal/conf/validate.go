package conf

import (
	"fmt"
	"strings"

	"github.com/tphakala/vinyl-go/internal/errors"
)

// knownProviders lists recognition providers the orchestrator can build.
var knownProviders = map[string]bool{
	"audd":     true,
	"acrcloud": true,
}

// ValidateSettings checks the whole configuration and collects every
// problem found. Validation failures are fatal at startup so a partially
// applied configuration never runs.
func ValidateSettings(settings *Settings) error {
	var problems []string

	audio := &settings.Realtime.Audio
	if audio.SilenceThreshold < 0 || audio.SilenceThreshold > 1 {
		problems = append(problems, fmt.Sprintf("realtime.audio.silencethreshold must be within 0.0-1.0, got %v", audio.SilenceThreshold))
	}
	if audio.SilenceDuration <= 0 {
		problems = append(problems, "realtime.audio.silenceduration must be positive")
	}
	if audio.MinRecordingDuration < 0 {
		problems = append(problems, "realtime.audio.minrecordingduration must not be negative")
	}
	if audio.MaxRecordingDuration <= 0 {
		problems = append(problems, "realtime.audio.maxrecordingduration must be positive")
	}
	if audio.MaxRecordingDuration > 0 && audio.MinRecordingDuration >= audio.MaxRecordingDuration {
		problems = append(problems, "realtime.audio.minrecordingduration must be below maxrecordingduration")
	}

	rec := &settings.Realtime.Recognition
	if rec.MinConfidence < 0 || rec.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("realtime.recognition.minconfidence must be within 0.0-1.0, got %v", rec.MinConfidence))
	}
	if len(rec.Order) == 0 {
		problems = append(problems, "realtime.recognition.order must name at least one provider")
	}
	for _, name := range rec.Order {
		if !knownProviders[strings.ToLower(name)] {
			problems = append(problems, fmt.Sprintf("realtime.recognition.order contains unknown provider %q", name))
		}
	}
	if rec.QueueSize < 1 {
		problems = append(problems, "realtime.recognition.queuesize must be at least 1")
	}
	switch rec.OverflowPolicy {
	case OverflowDropOldest, OverflowRejectNewest:
	default:
		problems = append(problems, fmt.Sprintf("realtime.recognition.overflowpolicy must be drop_oldest or reject_newest, got %q", rec.OverflowPolicy))
	}

	dup := &settings.Realtime.Duplicates
	if dup.Enabled {
		if dup.TimeWindow <= 0 {
			problems = append(problems, "realtime.duplicates.timewindow must be positive")
		}
		if dup.CacheSize < 1 {
			problems = append(problems, "realtime.duplicates.cachesize must be at least 1")
		}
	}

	lfm := &settings.Realtime.Scrobbler.Lastfm
	if lfm.Enabled {
		if lfm.MaxQueueSize < 1 {
			problems = append(problems, "realtime.scrobbler.lastfm.maxqueuesize must be at least 1")
		}
		if lfm.RetryInterval <= 0 {
			problems = append(problems, "realtime.scrobbler.lastfm.retryinterval must be positive")
		}
		if lfm.MaxRetryInterval < lfm.RetryInterval {
			problems = append(problems, "realtime.scrobbler.lastfm.maxretryinterval must not be below retryinterval")
		}
		if lfm.MaxRetries < 0 {
			problems = append(problems, "realtime.scrobbler.lastfm.maxretries must not be negative")
		}
		if settings.Secrets.LastfmAPIKey == "" || settings.Secrets.LastfmAPISecret == "" {
			problems = append(problems, "lastfm scrobbling enabled but LASTFM_API_KEY/LASTFM_API_SECRET not set")
		}
	}

	if settings.Realtime.MQTT.Enabled && settings.Realtime.MQTT.Broker == "" {
		problems = append(problems, "realtime.mqtt.broker must be set when mqtt is enabled")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
