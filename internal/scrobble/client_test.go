package scrobble

import (
	"testing"
	"time"

	"github.com/shkh/lastfm-go/lastfm"
	"github.com/stretchr/testify/assert"

	"github.com/tphakala/vinyl-go/internal/errors"
)

func TestClassifyLastfmErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
		want errors.ErrorCategory
	}{
		{"authentication_failed", 4, errors.CategoryAuth},
		{"invalid_session_key", 9, errors.CategoryAuth},
		{"invalid_api_key", 10, errors.CategoryAuth},
		{"suspended_api_key", 26, errors.CategoryAuth},
		{"invalid_parameters", 6, errors.CategoryValidation},
		{"invalid_method_signature", 13, errors.CategoryValidation},
		{"rate_limit_exceeded", 29, errors.CategoryLimit},
		{"service_offline", 11, errors.CategoryNetwork},
		{"temporary_error", 16, errors.CategoryNetwork},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyLastfmError("scrobble", &lastfm.LastfmError{Code: tt.code, Message: tt.name})
			assert.True(t, errors.HasCategory(err, tt.want), "code %d should map to %v", tt.code, tt.want)
		})
	}
}

func TestClassifyNonAPIErrorIsTransient(t *testing.T) {
	t.Parallel()

	err := classifyLastfmError("scrobble", errors.NewStd("dial tcp: connection refused"))
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestScrobbleWithoutSessionKeyIsAuthError(t *testing.T) {
	t.Parallel()

	c := NewClient("key", "secret", "")
	err := c.Scrobble(play(time.Minute))
	assert.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
	assert.False(t, c.Authenticated())
}

func TestAuthURL(t *testing.T) {
	t.Parallel()

	c := NewClient("my-key", "secret", "")
	assert.Equal(t, "https://www.last.fm/api/auth/?api_key=my-key&token=tok", c.AuthURL("tok"))
}

func TestSessionKeyMakesClientAuthenticated(t *testing.T) {
	t.Parallel()

	c := NewClient("key", "secret", "sk")
	assert.True(t, c.Authenticated())
}
