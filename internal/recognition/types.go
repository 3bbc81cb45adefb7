// Package recognition identifies track metadata from captured audio by
// querying external recognition services in a configured priority order.
package recognition

import (
	"context"
	"fmt"
	"time"
)

// Result is an accepted identification of a segment. It is immutable once
// produced; a nil *Result from the orchestrator means the segment stayed
// unrecognized, which is a valid terminal outcome and not an error.
type Result struct {
	Artist     string    `json:"artist"`
	Title      string    `json:"title"`
	Album      string    `json:"album,omitempty"`
	Provider   string    `json:"provider"`
	Confidence float64   `json:"confidence"`
	MatchedAt  time.Time `json:"matched_at"`

	// Accepted is set by the orchestrator when Confidence clears the
	// configured floor. Sub-threshold matches are still returned so the
	// identification is visible downstream, but only accepted results may
	// be scrobbled.
	Accepted bool `json:"accepted"`
}

// String formats the result for logs.
func (r *Result) String() string {
	return fmt.Sprintf("%s - %s (%s, %.2f)", r.Artist, r.Title, r.Provider, r.Confidence)
}

// Provider identifies audio against one external recognition service.
// Recognize returns (nil, nil) when the service responded but found no
// match; errors are reserved for transport, auth and quota failures.
type Provider interface {
	// Name returns the provider's configuration key.
	Name() string

	// Recognize submits a WAV payload and returns the match, if any. The
	// context carries the per-provider timeout.
	Recognize(ctx context.Context, wavData []byte) (*Result, error)
}
