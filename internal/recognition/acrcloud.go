package recognition

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/tphakala/vinyl-go/internal/errors"
)

// ACRCloud status codes, from the API documentation.
const (
	acrStatusOK            = 0
	acrStatusNoResult      = 1001
	acrStatusInvalidKey    = 3001
	acrStatusLimitExceeded = 3003
	acrStatusQPSExceeded   = 3015
)

// ACRCloudProvider queries the ACRCloud identification API. Requests are
// signed with HMAC-SHA1 over the canonical request string, per the ACRCloud
// signature version 1 scheme.
type ACRCloudProvider struct {
	endpoint  string
	accessKey string
	secret    string
	client    *http.Client

	// now is replaceable in tests so signatures are reproducible.
	now func() time.Time
}

// NewACRCloudProvider creates an ACRCloud provider. host is the account's
// regional endpoint (for example identify-eu-west-1.acrcloud.com); an
// apiURL override replaces the whole endpoint URL.
func NewACRCloudProvider(apiURL, host, accessKey, secret string, timeout time.Duration) *ACRCloudProvider {
	endpoint := apiURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s/v1/identify", host)
	}
	return &ACRCloudProvider{
		endpoint:  endpoint,
		accessKey: accessKey,
		secret:    secret,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// Name returns the provider's configuration key.
func (p *ACRCloudProvider) Name() string { return "acrcloud" }

type acrResponse struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Metadata struct {
		Music []struct {
			Title   string `json:"title"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
			Score float64 `json:"score"`
		} `json:"music"`
	} `json:"metadata"`
}

// sign produces the base64 HMAC-SHA1 signature over the canonical string.
func (p *ACRCloudProvider) sign(timestamp string) string {
	canonical := "POST\n/v1/identify\n" + p.accessKey + "\naudio\n1\n" + timestamp
	mac := hmac.New(sha1.New, []byte(p.secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Recognize submits the WAV payload as a signed multipart upload.
func (p *ACRCloudProvider) Recognize(ctx context.Context, wavData []byte) (*Result, error) {
	timestamp := strconv.FormatInt(p.now().Unix(), 10)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"access_key":        p.accessKey,
		"data_type":         "audio",
		"signature_version": "1",
		"signature":         p.sign(timestamp),
		"timestamp":         timestamp,
		"sample_bytes":      strconv.Itoa(len(wavData)),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, errors.Newf("failed to build request: %w", err).
				Component("recognition").Category(errors.CategoryRecognition).Build()
		}
	}
	fw, err := mw.CreateFormFile("sample", "audio.wav")
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, errors.Newf("failed to create request: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Newf("acrcloud request failed: %w", err).
			Component("recognition").Category(errors.CategoryNetwork).
			NetworkContext(p.endpoint, p.client.Timeout).Timing("recognize", time.Since(start)).Build()
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Newf("acrcloud rate limit exceeded: HTTP %d", resp.StatusCode).
			Component("recognition").Category(errors.CategoryLimit).
			HTTPContext(p.endpoint, resp.StatusCode).Build()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("acrcloud returned HTTP %d", resp.StatusCode).
			Component("recognition").Category(errors.CategoryNetwork).
			HTTPContext(p.endpoint, resp.StatusCode).Build()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read acrcloud response: %w", err).
			Component("recognition").Category(errors.CategoryNetwork).Build()
	}

	var parsed acrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Newf("failed to parse acrcloud response: %w", err).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}

	switch parsed.Status.Code {
	case acrStatusOK:
		// fall through to metadata extraction
	case acrStatusNoResult:
		return nil, nil
	case acrStatusLimitExceeded, acrStatusQPSExceeded:
		return nil, errors.Newf("acrcloud quota exceeded: %s", parsed.Status.Msg).
			Component("recognition").Category(errors.CategoryLimit).Build()
	case acrStatusInvalidKey:
		return nil, errors.Newf("acrcloud access key rejected: %s", parsed.Status.Msg).
			Component("recognition").Category(errors.CategoryAuth).Build()
	default:
		return nil, errors.Newf("acrcloud error %d: %s", parsed.Status.Code, parsed.Status.Msg).
			Component("recognition").Category(errors.CategoryRecognition).Build()
	}

	if len(parsed.Metadata.Music) == 0 {
		return nil, nil
	}

	best := parsed.Metadata.Music[0]
	artist := ""
	if len(best.Artists) > 0 {
		artist = best.Artists[0].Name
	}

	return &Result{
		Artist:     artist,
		Title:      best.Title,
		Album:      best.Album.Name,
		Provider:   p.Name(),
		Confidence: best.Score / 100.0,
		MatchedAt:  time.Now(),
	}, nil
}
