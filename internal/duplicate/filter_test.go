package duplicate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		Enabled:    true,
		TimeWindow: 15 * time.Minute,
		CacheSize:  1000,
	}
}

func TestSuppressesWithinWindow(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	assert.False(t, f.ShouldEmit("Miles Davis", "So What", base.Add(5*time.Minute)))
}

func TestWindowBoundary(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	// One second inside the window: suppressed.
	assert.False(t, f.ShouldEmit("Miles Davis", "So What", base.Add(15*time.Minute-time.Second)))
	// One second past the window: emitted again.
	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base.Add(15*time.Minute+time.Second)))
}

func TestAnchoredWindowDoesNotExtendOnHit(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	// A suppressed sighting at T+10m must not move the anchor.
	assert.False(t, f.ShouldEmit("Miles Davis", "So What", base.Add(10*time.Minute)))
	// T+16m is past the original anchor's window, so it emits.
	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base.Add(16*time.Minute)))
}

func TestRefreshOnHitExtendsWindow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshOnHit = true
	f := New(cfg)
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	assert.False(t, f.ShouldEmit("Miles Davis", "So What", base.Add(10*time.Minute)))
	// The hit at T+10m moved the anchor, so T+16m is still suppressed.
	assert.False(t, f.ShouldEmit("Miles Davis", "So What", base.Add(16*time.Minute)))
}

func TestNormalizationEquivalence(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Simon & Garfunkel", "The Boxer", base))
	assert.False(t, f.ShouldEmit("simon and garfunkel", "the boxer", base.Add(time.Minute)))
	assert.False(t, f.ShouldEmit("  Simon + Garfunkel  ", "The  Boxer.", base.Add(2*time.Minute)))
}

func TestDifferentTracksAreIndependent(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	assert.True(t, f.ShouldEmit("Miles Davis", "Blue in Green", base))
	assert.True(t, f.ShouldEmit("John Coltrane", "So What", base))
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CacheSize = 3
	f := New(cfg)
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.True(t, f.ShouldEmit("Artist", fmt.Sprintf("Track %d", i), base.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 3, f.Size())

	// Inserting a fourth entry evicts Track 0, the oldest.
	assert.True(t, f.ShouldEmit("Artist", "Track 3", base.Add(3*time.Second)))
	assert.Equal(t, 3, f.Size())

	assert.True(t, f.ShouldEmit("Artist", "Track 0", base.Add(4*time.Second)))
	assert.False(t, f.ShouldEmit("Artist", "Track 3", base.Add(5*time.Second)))
}

func TestLazyEvictionDropsExpiredEntries(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	f.ShouldEmit("Miles Davis", "So What", base)
	f.ShouldEmit("Nina Simone", "Sinnerman", base)
	assert.Equal(t, 2, f.Size())

	// A call after the window expires both entries.
	f.ShouldEmit("John Coltrane", "Naima", base.Add(20*time.Minute))
	assert.Equal(t, 1, f.Size())
}

func TestClearEmptiesCache(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	f.ShouldEmit("Miles Davis", "So What", base)
	f.Clear()
	assert.Zero(t, f.Size())
	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base.Add(time.Minute)))
}

func TestDisabledFilterAlwaysEmits(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	f := New(cfg)
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base))
	assert.True(t, f.ShouldEmit("Miles Davis", "So What", base.Add(time.Second)))
}

func TestStatsCounters(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	f.ShouldEmit("Miles Davis", "So What", base)
	f.ShouldEmit("Miles Davis", "So What", base.Add(time.Minute))

	suppressed, emitted := f.Stats()
	assert.Equal(t, uint64(1), suppressed)
	assert.Equal(t, uint64(1), emitted)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Miles Davis", "So What")
	b := Fingerprint("miles davis", "so what")
	c := Fingerprint("Miles Davis", "Freddie Freeloader")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
