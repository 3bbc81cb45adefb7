// Package duplicate suppresses re-reporting of tracks seen recently, using
// a bounded, time-windowed cache keyed by a normalized track fingerprint.
// The fingerprint is a metadata identity key, not an audio content hash.
package duplicate

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/vinyl-go/internal/logging"
)

// Config holds the filter parameters.
type Config struct {
	Enabled    bool
	TimeWindow time.Duration // suppression window per fingerprint
	CacheSize  int           // maximum entries, oldest evicted first

	// RefreshOnHit extends the window on each suppressed sighting. The
	// default anchors the window to the first sighting, so repeated spins
	// of the same record within one sitting do not suppress forever.
	RefreshOnHit bool
}

// Filter is a time-windowed duplicate suppressor. Safe for concurrent use.
type Filter struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]time.Time // fingerprint -> window anchor

	suppressed uint64
	emitted    uint64
}

// New creates a Filter.
func New(cfg Config) *Filter {
	logger := logging.ForService("duplicate")
	if logger == nil {
		logger = logging.Discard()
	}
	return &Filter{
		cfg:     cfg,
		log:     logger,
		entries: make(map[string]time.Time, cfg.CacheSize),
	}
}

// ShouldEmit reports whether the track may proceed to scrobbling. A true
// return records the sighting; a false return leaves the window anchor
// untouched unless RefreshOnHit is set.
func (f *Filter) ShouldEmit(artist, title string, now time.Time) bool {
	if !f.cfg.Enabled {
		return true
	}

	fp := Fingerprint(artist, title)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictExpired(now)

	if anchor, ok := f.entries[fp]; ok && now.Sub(anchor) < f.cfg.TimeWindow {
		f.suppressed++
		if f.cfg.RefreshOnHit {
			f.entries[fp] = now
		}
		f.log.Debug("duplicate suppressed", "artist", artist, "title", title,
			"since_last", now.Sub(anchor))
		return false
	}

	if f.cfg.CacheSize > 0 && len(f.entries) >= f.cfg.CacheSize {
		f.evictOldest()
	}
	f.entries[fp] = now
	f.emitted++
	return true
}

// evictExpired drops entries whose window has elapsed. Runs under f.mu.
func (f *Filter) evictExpired(now time.Time) {
	for fp, anchor := range f.entries {
		if now.Sub(anchor) >= f.cfg.TimeWindow {
			delete(f.entries, fp)
		}
	}
}

// evictOldest removes the entry with the earliest anchor. Runs under f.mu.
func (f *Filter) evictOldest() {
	var oldestFP string
	var oldest time.Time
	first := true
	for fp, anchor := range f.entries {
		if first || anchor.Before(oldest) {
			oldestFP, oldest, first = fp, anchor, false
		}
	}
	if oldestFP != "" {
		delete(f.entries, oldestFP)
	}
}

// Clear empties the cache. Administrative override, logged at the caller.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]time.Time, f.cfg.CacheSize)
}

// Size returns the current entry count.
func (f *Filter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Stats returns suppressed and emitted counters.
func (f *Filter) Stats() (suppressed, emitted uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suppressed, f.emitted
}

// Fingerprint derives the normalized identity key for a track.
func Fingerprint(artist, title string) string {
	data := normalize(artist) + "|" + normalize(title)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// edgePunct is stripped from the ends of each normalized field.
const edgePunct = " .,!?-_()[]{}\"'\t\n\r"

// normalize lowercases, maps common metadata variations to one spelling and
// collapses whitespace, so "Simon & Garfunkel" and "simon and garfunkel"
// fingerprint identically.
func normalize(text string) string {
	s := strings.ToLower(text)

	replacer := strings.NewReplacer(
		"&", "and",
		"+", "and",
		"\t", " ",
		"\n", " ",
		"\r", " ",
	)
	s = replacer.Replace(s)
	s = strings.Trim(s, edgePunct)

	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
