package recognition

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/errors"
	"github.com/tphakala/vinyl-go/internal/logging"
)

// providerEntry pairs a provider with its per-request timeout.
type providerEntry struct {
	provider Provider
	timeout  time.Duration
}

// Orchestrator queries providers sequentially in the configured order and
// accepts the first match at or above the confidence floor. Providers that
// signal a rate limit are suppressed for a cooldown window. Provider errors
// are contained here: callers only ever see a result or "unrecognized".
type Orchestrator struct {
	entries       []providerEntry
	minConfidence float64
	cooldown      time.Duration
	cooldowns     *cache.Cache
	log           *slog.Logger
}

// NewOrchestrator assembles providers from settings. Providers that are
// disabled or missing credentials are skipped with a warning; at least one
// usable provider is required.
func NewOrchestrator(settings *conf.Settings) (*Orchestrator, error) {
	logger := logging.ForService("recognition")
	if logger == nil {
		logger = logging.Discard()
	}

	rec := settings.Realtime.Recognition
	var entries []providerEntry

	for _, name := range rec.Order {
		switch name {
		case "audd":
			if !rec.AudD.Enabled {
				continue
			}
			if settings.Secrets.AudDAPIKey == "" {
				logger.Warn("audd enabled but AUDD_API_KEY is not set, skipping provider")
				continue
			}
			entries = append(entries, providerEntry{
				provider: NewAudDProvider(rec.AudD.APIURL, settings.Secrets.AudDAPIKey, rec.AudD.Timeout),
				timeout:  rec.AudD.Timeout,
			})
		case "acrcloud":
			if !rec.ACRCloud.Enabled {
				continue
			}
			if settings.Secrets.ACRCloudAccessKey == "" || settings.Secrets.ACRCloudSecret == "" ||
				(settings.Secrets.ACRCloudHost == "" && rec.ACRCloud.APIURL == "") {
				logger.Warn("acrcloud enabled but ACRCLOUD_* credentials are not set, skipping provider")
				continue
			}
			entries = append(entries, providerEntry{
				provider: NewACRCloudProvider(rec.ACRCloud.APIURL, settings.Secrets.ACRCloudHost,
					settings.Secrets.ACRCloudAccessKey, settings.Secrets.ACRCloudSecret, rec.ACRCloud.Timeout),
				timeout: rec.ACRCloud.Timeout,
			})
		}
	}

	if len(entries) == 0 {
		return nil, errors.Newf("no usable recognition providers configured").
			Component("recognition").Category(errors.CategoryConfiguration).Build()
	}

	o := newOrchestrator(entries, rec.MinConfidence, rec.RateLimitCooldown, logger)
	logger.Info("recognition orchestrator ready",
		"providers", o.ProviderNames(), "min_confidence", rec.MinConfidence)
	return o, nil
}

// NewOrchestratorWithProviders builds an orchestrator over explicit
// providers, all sharing one timeout. Used by tests and tooling.
func NewOrchestratorWithProviders(providers []Provider, timeout time.Duration, minConfidence float64, cooldown time.Duration) *Orchestrator {
	entries := make([]providerEntry, 0, len(providers))
	for _, p := range providers {
		entries = append(entries, providerEntry{provider: p, timeout: timeout})
	}
	logger := logging.ForService("recognition")
	if logger == nil {
		logger = logging.Discard()
	}
	return newOrchestrator(entries, minConfidence, cooldown, logger)
}

func newOrchestrator(entries []providerEntry, minConfidence float64, cooldown time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		entries:       entries,
		minConfidence: minConfidence,
		cooldown:      cooldown,
		cooldowns:     cache.New(cooldown, time.Minute),
		log:           logger,
	}
}

// Recognize runs the failover chain over a WAV payload. It returns nil when
// no provider produced an acceptable match; sub-threshold matches are kept
// and the best one is returned as a fallback so a weak identification still
// beats none.
func (o *Orchestrator) Recognize(ctx context.Context, wavData []byte) *Result {
	var best *Result

	for _, entry := range o.entries {
		name := entry.provider.Name()

		if _, suppressed := o.cooldowns.Get(name); suppressed {
			o.log.Debug("provider in rate-limit cooldown, skipping", "provider", name)
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, entry.timeout)
		result, err := entry.provider.Recognize(reqCtx, wavData)
		cancel()

		if err != nil {
			if errors.HasCategory(err, errors.CategoryLimit) {
				o.log.Warn("provider rate limited, suppressing",
					"provider", name, "cooldown", o.cooldown, "error", err)
				o.cooldowns.Set(name, struct{}{}, o.cooldown)
			} else {
				o.log.Warn("provider failed, trying next", "provider", name, "error", err)
			}
			continue
		}

		if result == nil {
			o.log.Debug("no match from provider", "provider", name)
			continue
		}

		if result.Confidence >= o.minConfidence {
			result.Accepted = true
			o.log.Info("track recognized", "provider", name, "artist", result.Artist,
				"title", result.Title, "confidence", result.Confidence)
			return result
		}

		o.log.Debug("match below confidence floor", "provider", name,
			"confidence", result.Confidence, "min_confidence", o.minConfidence)
		if best == nil || result.Confidence > best.Confidence {
			best = result
		}
	}

	if best != nil {
		o.log.Info("returning best sub-threshold match", "provider", best.Provider,
			"artist", best.Artist, "title", best.Title, "confidence", best.Confidence)
		return best
	}

	o.log.Debug("segment unrecognized by all providers")
	return nil
}

// ProviderNames returns the active provider order for status reporting.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, 0, len(o.entries))
	for _, e := range o.entries {
		names = append(names, e.provider.Name())
	}
	return names
}

// CoolingDown reports whether a provider is currently suppressed.
func (o *Orchestrator) CoolingDown(name string) bool {
	_, ok := o.cooldowns.Get(name)
	return ok
}
