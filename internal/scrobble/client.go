// Package scrobble delivers confirmed plays to Last.fm through a durable
// queue with retry and backoff.
package scrobble

import (
	"fmt"
	"time"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/tphakala/vinyl-go/internal/errors"
)

// Track is one play to submit.
type Track struct {
	Artist   string
	Title    string
	Album    string
	PlayedAt time.Time
	Duration time.Duration
}

// Submitter is the delivery-side interface to the scrobbling service.
type Submitter interface {
	Scrobble(track Track) error
	Authenticated() bool
}

// Last.fm API error codes that indicate bad or expired credentials.
// Delivery pauses on these instead of burning retry attempts.
var lastfmAuthCodes = map[int]bool{
	4:  true, // authentication failed
	9:  true, // invalid session key
	10: true, // invalid API key
	26: true, // suspended API key
}

// Last.fm API error codes for permanently malformed requests. Retrying an
// entry that triggers one of these can never succeed.
var lastfmPermanentCodes = map[int]bool{
	2:  true, // invalid service
	3:  true, // invalid method
	5:  true, // invalid format
	6:  true, // invalid parameters
	7:  true, // invalid resource
	13: true, // invalid method signature
}

const lastfmRateLimitCode = 29

// Client wraps the Last.fm API for the desktop auth flow and scrobbling.
type Client struct {
	api        *lastfm.Api
	apiKey     string
	sessionKey string
}

// NewClient creates a Last.fm client. A session key may be supplied
// directly from configuration or obtained later through the auth flow.
func NewClient(apiKey, apiSecret, sessionKey string) *Client {
	c := &Client{
		api:    lastfm.New(apiKey, apiSecret),
		apiKey: apiKey,
	}
	if sessionKey != "" {
		c.SetSessionKey(sessionKey)
	}
	return c
}

// SetSessionKey sets the authenticated session key.
func (c *Client) SetSessionKey(key string) {
	c.sessionKey = key
	c.api.SetSession(key)
}

// Authenticated reports whether a session key is set.
func (c *Client) Authenticated() bool {
	return c.sessionKey != ""
}

// GetToken requests an authentication token for the desktop auth flow.
func (c *Client) GetToken() (string, error) {
	token, err := c.api.GetToken()
	if err != nil {
		return "", classifyLastfmError("get token", err)
	}
	return token, nil
}

// AuthURL returns the user authorization URL for a token.
func (c *Client) AuthURL(token string) string {
	return fmt.Sprintf("https://www.last.fm/api/auth/?api_key=%s&token=%s", c.apiKey, token)
}

// GetSession exchanges an authorized token for a session key.
func (c *Client) GetSession(token string) (string, error) {
	if err := c.api.LoginWithToken(token); err != nil {
		return "", classifyLastfmError("get session", err)
	}
	c.sessionKey = c.api.GetSessionKey()
	return c.sessionKey, nil
}

// Scrobble submits a single play.
func (c *Client) Scrobble(track Track) error {
	if !c.Authenticated() {
		return errors.Newf("last.fm session key not set").
			Component("scrobble").Category(errors.CategoryAuth).Build()
	}

	params := lastfm.P{
		"artist":    track.Artist,
		"track":     track.Title,
		"timestamp": track.PlayedAt.Unix(),
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.Duration > 0 {
		params["duration"] = int(track.Duration.Seconds())
	}

	if _, err := c.api.Track.Scrobble(params); err != nil {
		return classifyLastfmError("scrobble", err)
	}
	return nil
}

// classifyLastfmError maps a Last.fm API error onto the error taxonomy so
// the delivery loop can choose between pause, abandon and retry.
func classifyLastfmError(op string, err error) error {
	var apiErr *lastfm.LastfmError
	if errors.As(err, &apiErr) {
		switch {
		case lastfmAuthCodes[apiErr.Code]:
			return errors.Newf("last.fm %s: %w", op, err).
				Component("scrobble").Category(errors.CategoryAuth).
				Context("lastfm_code", apiErr.Code).Build()
		case lastfmPermanentCodes[apiErr.Code]:
			return errors.Newf("last.fm %s: %w", op, err).
				Component("scrobble").Category(errors.CategoryValidation).
				Context("lastfm_code", apiErr.Code).Build()
		case apiErr.Code == lastfmRateLimitCode:
			return errors.Newf("last.fm %s: %w", op, err).
				Component("scrobble").Category(errors.CategoryLimit).
				Context("lastfm_code", apiErr.Code).Build()
		}
	}
	// Anything else is treated as transient and retried.
	return errors.Newf("last.fm %s: %w", op, err).
		Component("scrobble").Category(errors.CategoryNetwork).Build()
}
