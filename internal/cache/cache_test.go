package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheHitPath(t *testing.T) {
	c := New(4 << 20)

	key := Key{Fingerprint: "select 1", Version: 1}
	g := LookupOrParse(c, key, func() (interface{}, int64, bool) {
		return "parsed(select 1)", 128, true
	})
	require.False(t, g.Hit())
	g.Release()

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Inserts)
	require.EqualValues(t, 0, stats.Hits)
	require.Greater(t, stats.Size, int64(0))

	for i := 0; i < 20; i++ {
		g := LookupOrParse(c, key, func() (interface{}, int64, bool) {
			t.Fatal("producer should not run on a cache hit")
			return nil, 0, false
		})
		require.True(t, g.Hit())
		g.Release()
	}

	stats = c.Stats()
	require.EqualValues(t, 20, stats.Hits)
	require.EqualValues(t, 1, stats.Inserts)
}

func TestCacheDisabledAtZeroBudget(t *testing.T) {
	c := New(0)
	key := Key{Fingerprint: "select 1", Version: 1}

	ranProducer := false
	g := LookupOrParse(c, key, func() (interface{}, int64, bool) {
		ranProducer = true
		return "x", 10, true
	})
	require.True(t, ranProducer)
	g.Release()

	require.True(t, c.Disabled())
	require.Zero(t, c.Stats().Size)

	_, ok := c.Lookup(key)
	require.False(t, ok)
}

func TestCacheVersionTagMismatchIsEviction(t *testing.T) {
	c := New(4 << 20)
	keyA := Key{Fingerprint: "select x", Version: 1}
	keyB := Key{Fingerprint: "select x", Version: 2}

	g := LookupOrParse(c, keyA, func() (interface{}, int64, bool) { return "parsed-a", 64, true })
	g.Release()

	_, hit := c.Lookup(keyA)
	require.True(t, hit)

	_, hit = c.Lookup(keyB)
	require.False(t, hit)
	// one miss from the initial LookupOrParse, one from the version mismatch.
	require.EqualValues(t, 2, c.Stats().Misses)
	require.EqualValues(t, 1, c.Stats().Evictions)

	// the stale entry is gone, not merely shadowed: even keyA now misses.
	_, hit = c.Lookup(keyA)
	require.False(t, hit)
}

func TestCacheEvictsUnderBudgetPressure(t *testing.T) {
	c := New(2048) // small budget forces eviction quickly

	for i := 0; i < 200; i++ {
		k := Key{Fingerprint: string(rune('a' + i%26)), Version: uint64(i)}
		g := LookupOrParse(c, k, func() (interface{}, int64, bool) { return i, 32, true })
		g.Release()
	}

	stats := c.Stats()
	require.LessOrEqual(t, stats.Size, int64(float64(2048)*safetyFactor))
	require.Greater(t, stats.Evictions, int64(0))
}

func TestCacheRejectsOversizeEntry(t *testing.T) {
	c := New(1024)
	key := Key{Fingerprint: "huge", Version: 1}

	g := LookupOrParse(c, key, func() (interface{}, int64, bool) { return "x", 10_000, true })
	g.Release()

	_, ok := c.Lookup(key)
	require.False(t, ok)
	require.Zero(t, c.Stats().Inserts)
}

func TestCacheExclusionClassNotCached(t *testing.T) {
	c := New(4 << 20)
	key := Key{Fingerprint: "set autocommit=0", Version: 1}

	g := LookupOrParse(c, key, func() (interface{}, int64, bool) { return "parsed", 16, false })
	g.Release()

	_, ok := c.Lookup(key)
	require.False(t, ok)
}
