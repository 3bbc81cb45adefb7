package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tphakala/vinyl-go/internal/errors"
)

const defaultAudDURL = "https://api.audd.io/"

// audD rate limit and auth error codes, from the API documentation.
const (
	audDErrLimitReached   = 901
	audDErrInvalidAPIKey  = 900
	audDErrMissingAPIKey  = 300
	audDErrFileUnreadable = 500
)

// AudDProvider queries the AudD commercial recognition API. AudD does not
// return a confidence score; a bare match is scored 0.8, raised to 0.9 when
// the track is also catalogued by a major streaming service.
type AudDProvider struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewAudDProvider creates an AudD provider. The client's timeout is the
// per-request ceiling; callers may pass shorter context deadlines.
func NewAudDProvider(apiURL, apiKey string, timeout time.Duration) *AudDProvider {
	if apiURL == "" {
		apiURL = defaultAudDURL
	}
	return &AudDProvider{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider's configuration key.
func (p *AudDProvider) Name() string { return "audd" }

type audDResponse struct {
	Status string `json:"status"`
	Error  *struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
	Result *struct {
		Artist     string          `json:"artist"`
		Title      string          `json:"title"`
		Album      string          `json:"album"`
		AppleMusic json.RawMessage `json:"apple_music"`
		Spotify    json.RawMessage `json:"spotify"`
	} `json:"result"`
}

// Recognize submits the WAV payload as a multipart upload.
func (p *AudDProvider) Recognize(ctx context.Context, wavData []byte) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("api_token", p.apiKey); err != nil {
		return nil, errors.Newf("failed to build request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	if err := mw.WriteField("return", "apple_music,spotify"); err != nil {
		return nil, errors.Newf("failed to build request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, errors.Newf("failed to build request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	if _, err := fw.Write(wavData); err != nil {
		return nil, errors.Newf("failed to write audio payload: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Newf("failed to finalize request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, &body)
	if err != nil {
		return nil, errors.Newf("failed to create request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Newf("audd request failed: %w", err).
			Component("recognition").Category(errors.CategoryNetwork).
			NetworkContext(p.apiURL, p.client.Timeout).Timing("recognize", time.Since(start)).Build()
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Newf("audd rate limit exceeded: HTTP %d", resp.StatusCode).
			Component("recognition").Category(errors.CategoryLimit).
			HTTPContext(p.apiURL, resp.StatusCode).Build()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("audd returned HTTP %d", resp.StatusCode).
			Component("recognition").Category(errors.CategoryNetwork).
			HTTPContext(p.apiURL, resp.StatusCode).Build()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read audd response: %w", err).
			Component("recognition").Category(errors.CategoryNetwork).Build()
	}

	var parsed audDResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Newf("failed to parse audd response: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}

	if parsed.Status == "error" && parsed.Error != nil {
		switch parsed.Error.ErrorCode {
		case audDErrLimitReached:
			return nil, errors.Newf("audd daily limit reached: %s", parsed.Error.ErrorMessage).
				Component("recognition").Category(errors.CategoryLimit).Build()
		case audDErrInvalidAPIKey, audDErrMissingAPIKey:
			return nil, errors.Newf("audd api key rejected: %s", parsed.Error.ErrorMessage).
				Component("recognition").Category(errors.CategoryAuth).Build()
		default:
			return nil, errors.Newf("audd error %d: %s", parsed.Error.ErrorCode, parsed.Error.ErrorMessage).
				Component("recognition").Category(errors.CategoryRecognition).Build()
		}
	}

	if parsed.Status != "success" || parsed.Result == nil {
		// Service answered but found nothing.
		return nil, nil
	}

	confidence := 0.8
	if hasCatalogEntry(parsed.Result.AppleMusic) || hasCatalogEntry(parsed.Result.Spotify) {
		confidence = 0.9
	}

	return &Result{
		Artist:     parsed.Result.Artist,
		Title:      parsed.Result.Title,
		Album:      parsed.Result.Album,
		Provider:   p.Name(),
		Confidence: confidence,
		MatchedAt:  time.Now(),
	}, nil
}

// hasCatalogEntry reports whether a streaming-service field carries data.
func hasCatalogEntry(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
