package cache

// Producer parses a statement when the cache misses. It returns the
// parsed value and whether the result is eligible for caching at all
// (e.g. autocommit toggles are excluded, spec §4.3).
type Producer func() (value interface{}, size int64, cacheable bool)

// Guard ties one lookup to its eventual insertion, enforcing "cache at
// most once per fingerprint" without any cross-worker coordination — the
// cache is strictly per-worker (spec §4.3).
type Guard struct {
	cache      *Cache
	key        Key
	result     *Parsed
	hit        bool
	newlyBuilt bool
	cacheable  bool
}

// LookupOrParse constructs a Guard, attempting the lookup first and
// falling back to producer on miss. Call Release when the statement's
// processing is done (typically via defer) to commit any newly parsed,
// cacheable result.
func LookupOrParse(c *Cache, key Key, producer Producer) *Guard {
	g := &Guard{cache: c, key: key}
	if v, ok := c.Lookup(key); ok {
		g.result = v
		g.hit = true
		return g
	}
	value, size, cacheable := producer()
	g.result = &Parsed{Value: value, Size: size}
	g.newlyBuilt = true
	g.cacheable = cacheable
	return g
}

// Result returns the shared parse result for this statement, valid
// whether it came from a hit or a fresh parse.
func (g *Guard) Result() *Parsed { return g.result }

// Hit reports whether this statement's fingerprint was already cached.
func (g *Guard) Hit() bool { return g.hit }

// Release inserts the newly parsed result if it wasn't already cached
// and isn't in an exclusion class. Safe to call multiple times; only the
// first call has an effect.
func (g *Guard) Release() {
	if g == nil || g.cache == nil {
		return
	}
	if g.newlyBuilt && g.cacheable {
		g.cache.Insert(g.key, g.result)
	}
	g.cache = nil
}
