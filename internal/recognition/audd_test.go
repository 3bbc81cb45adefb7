package recognition

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/vinyl-go/internal/errors"
)

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func audDMatchResponse(withSpotify bool) string {
	spotify := "null"
	if withSpotify {
		spotify = `{"id": "4uLU6hMCjMI75M1A2tKUQC"}`
	}
	return `{
		"status": "success",
		"result": {
			"artist": "Miles Davis",
			"title": "So What",
			"album": "Kind of Blue",
			"spotify": ` + spotify + `
		}
	}`
}

func TestAudDRecognizeMatch(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusOK, audDMatchResponse(true)))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	result, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Miles Davis", result.Artist)
	assert.Equal(t, "So What", result.Title)
	assert.Equal(t, "Kind of Blue", result.Album)
	assert.Equal(t, "audd", result.Provider)
	assert.InDelta(t, 0.9, result.Confidence, 0.001)
	assert.False(t, result.MatchedAt.IsZero())
}

func TestAudDConfidenceWithoutCatalogEntry(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusOK, audDMatchResponse(false)))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	result, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
}

func TestAudDNoMatchIsNotAnError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusOK, `{"status": "success", "result": null}`))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	result, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAudDDailyLimitIsRateLimitError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusOK,
			`{"status": "error", "error": {"error_code": 901, "error_message": "Recognition limit reached"}}`))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	result, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.HasCategory(err, errors.CategoryLimit))
}

func TestAudDInvalidKeyIsAuthError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusOK,
			`{"status": "error", "error": {"error_code": 900, "error_message": "api_token is invalid"}}`))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	_, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
}

func TestAudDServerErrorIsNetworkError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	_, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestAudDHTTP429IsRateLimitError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	p := NewAudDProvider("", "test-key", 5*time.Second)
	_, err := p.Recognize(context.Background(), []byte("wav-bytes"))

	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLimit))
}

func TestAudDSendsTokenAndFile(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, defaultAudDURL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "secret-token", req.FormValue("api_token"))

			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close() //nolint:errcheck
			assert.Equal(t, "audio.wav", header.Filename)

			return httpmock.NewStringResponse(http.StatusOK, audDMatchResponse(false)), nil
		})

	p := NewAudDProvider("", "secret-token", 5*time.Second)
	_, err := p.Recognize(context.Background(), []byte("wav-bytes"))
	require.NoError(t, err)
}
