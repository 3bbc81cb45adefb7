package recognition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/vinyl-go/internal/errors"
)

// stubProvider is a scripted provider for orchestrator tests.
type stubProvider struct {
	name    string
	result  *Result
	err     error
	calls   int
	lastCtx context.Context
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Recognize(ctx context.Context, _ []byte) (*Result, error) {
	s.calls++
	s.lastCtx = ctx
	return s.result, s.err
}

func match(provider string, confidence float64) *Result {
	return &Result{
		Artist:     "Nina Simone",
		Title:      "Sinnerman",
		Provider:   provider,
		Confidence: confidence,
		MatchedAt:  time.Now(),
	}
}

func transientErr() error {
	return errors.Newf("connection refused").
		Component("recognition").Category(errors.CategoryNetwork).Build()
}

func rateLimitErr() error {
	return errors.Newf("quota exceeded").
		Component("recognition").Category(errors.CategoryLimit).Build()
}

func TestFirstConfidentMatchShortCircuits(t *testing.T) {
	a := &stubProvider{name: "a", result: match("a", 0.9)}
	b := &stubProvider{name: "b", result: match("b", 0.95)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	result := o.Recognize(context.Background(), []byte("wav"))

	require.NotNil(t, result)
	assert.Equal(t, "a", result.Provider)
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, a.calls)
	assert.Zero(t, b.calls, "later provider must not be called after an accepted match")
}

func TestFailoverToNextProviderOnError(t *testing.T) {
	a := &stubProvider{name: "a", err: transientErr()}
	b := &stubProvider{name: "b", result: match("b", 0.8)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	result := o.Recognize(context.Background(), []byte("wav"))

	require.NotNil(t, result)
	assert.Equal(t, "b", result.Provider)
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFailoverOnNoMatch(t *testing.T) {
	a := &stubProvider{name: "a"} // responds, no match
	b := &stubProvider{name: "b", result: match("b", 0.7)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	result := o.Recognize(context.Background(), []byte("wav"))

	require.NotNil(t, result)
	assert.Equal(t, "b", result.Provider)
}

func TestExhaustionReturnsNil(t *testing.T) {
	a := &stubProvider{name: "a", err: transientErr()}
	b := &stubProvider{name: "b"}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	assert.Nil(t, o.Recognize(context.Background(), []byte("wav")))
}

func TestBestSubThresholdMatchReturnedUnaccepted(t *testing.T) {
	a := &stubProvider{name: "a", result: match("a", 0.4)}
	b := &stubProvider{name: "b", result: match("b", 0.5)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	result := o.Recognize(context.Background(), []byte("wav"))

	require.NotNil(t, result)
	assert.Equal(t, "b", result.Provider, "highest sub-threshold confidence wins")
	assert.False(t, result.Accepted)
}

func TestRateLimitedProviderSuppressedForCooldown(t *testing.T) {
	a := &stubProvider{name: "a", err: rateLimitErr()}
	b := &stubProvider{name: "b", result: match("b", 0.8)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)

	o.Recognize(context.Background(), []byte("wav"))
	assert.Equal(t, 1, a.calls)
	assert.True(t, o.CoolingDown("a"))

	// Within the cooldown window the rate-limited provider is skipped.
	o.Recognize(context.Background(), []byte("wav"))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestTransientErrorDoesNotSuppressProvider(t *testing.T) {
	a := &stubProvider{name: "a", err: transientErr()}
	b := &stubProvider{name: "b", result: match("b", 0.8)}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)

	o.Recognize(context.Background(), []byte("wav"))
	o.Recognize(context.Background(), []byte("wav"))

	assert.False(t, o.CoolingDown("a"))
	assert.Equal(t, 2, a.calls)
}

func TestPerProviderTimeoutOnContext(t *testing.T) {
	a := &stubProvider{name: "a", result: match("a", 0.9)}

	o := NewOrchestratorWithProviders([]Provider{a}, 250*time.Millisecond, 0.6, time.Minute)
	o.Recognize(context.Background(), []byte("wav"))

	require.NotNil(t, a.lastCtx)
	deadline, ok := a.lastCtx.Deadline()
	require.True(t, ok, "provider context must carry a deadline")
	assert.WithinDuration(t, time.Now().Add(250*time.Millisecond), deadline, 100*time.Millisecond)
}

func TestProviderNames(t *testing.T) {
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}

	o := NewOrchestratorWithProviders([]Provider{a, b}, time.Second, 0.6, time.Minute)
	assert.Equal(t, []string{"a", "b"}, o.ProviderNames())
}
