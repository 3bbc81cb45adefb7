package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderSetsMetadata(t *testing.T) {
	t.Parallel()

	base := NewStd("connection refused")
	ee := New(base).
		Component("scrobble").
		Category(CategoryNetwork).
		NetworkContext("https://ws.audioscrobbler.com", 30*time.Second).
		Build()

	assert.Equal(t, "connection refused", ee.Error())
	assert.Equal(t, "scrobble", ee.Component)
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, "https://ws.audioscrobbler.com", ee.Context["url"])
	assert.ErrorIs(t, ee, base)
}

func TestHTTPContextRecordsStatusCode(t *testing.T) {
	t.Parallel()

	ee := Newf("audd returned HTTP 503").
		Component("recognition").
		Category(CategoryNetwork).
		HTTPContext("https://api.audd.io/", 503).
		Build()

	assert.Equal(t, "https://api.audd.io/", ee.Context["url"])
	assert.Equal(t, 503, ee.Context["status_code"])
}

func TestHasCategoryWalksWrappedChain(t *testing.T) {
	t.Parallel()

	inner := Newf("session key rejected").Category(CategoryAuth).Build()
	wrapped := fmt.Errorf("delivery failed: %w", inner)

	assert.True(t, HasCategory(wrapped, CategoryAuth))
	assert.False(t, HasCategory(wrapped, CategoryNetwork))
	assert.False(t, HasCategory(nil, CategoryAuth))
}

func TestIsMatchesOnCategory(t *testing.T) {
	t.Parallel()

	a := Newf("timeout").Category(CategoryNetwork).Build()
	b := Newf("reset by peer").Category(CategoryNetwork).Build()
	c := Newf("bad credentials").Category(CategoryAuth).Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := Newf("oops").Context("k", "v").Build()
	ctx := ee.GetContext()
	require.NotNil(t, ctx)
	ctx["k"] = "mutated"
	assert.Equal(t, "v", ee.Context["k"])
}

func TestUnknownComponentDefault(t *testing.T) {
	t.Parallel()

	ee := Newf("no component").Build()
	assert.Equal(t, ComponentUnknown, ee.Component)
}
