// Package cache implements C3: a per-worker mapping from canonical
// statement text to a shareable parse result, bounded by byte budget and
// evicted by random bucket (spec §4.3).
package cache

import (
	"math/rand"
	"sync/atomic"
)

// entryOverhead approximates the fixed bookkeeping cost of a cache entry
// beyond its payload, so Insert's accounting isn't purely payload-sized.
const entryOverhead = 64

// safetyFactor accounts for allocator fragmentation and unaccounted bytes
// inside parse-result objects (spec §4.3: "a safety factor (≈ 0.65)").
const safetyFactor = 0.65

// Key identifies a cached statement: canonical text plus a version tag
// combining dialect mode and parser options (spec §3). The index is
// keyed by Fingerprint alone, so a Version mismatch on lookup finds the
// stale entry and evicts it rather than missing silently next to it
// (spec §3: "mismatched version on lookup is an eviction, not a hit").
type Key struct {
	Fingerprint string
	Version     uint64
}

// Parsed is a shared, immutable parse result plus its accounted byte
// size. Implementations of the real parser supply their own payload
// type behind the opaque Value; the cache only needs Size.
type Parsed struct {
	Value interface{}
	Size  int64
}

type entry struct {
	key   Key
	value *Parsed
}

// bucket holds the (small) set of entries that hash to the same slot.
// Random-bucket eviction removes bucket[0] of a uniformly chosen bucket
// (spec §4.3, §9): O(1), no touch-on-read bookkeeping.
type bucket struct {
	entries []entry
}

// Stats mirrors spec §3's counters: size, inserts, hits, misses, evictions.
type Stats struct {
	Size      int64
	Inserts   int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is one worker's parsed-statement cache. It is never shared across
// workers — the spec's "cache at most once per fingerprint" contract is
// enforced per-worker by construction, not by locking (spec §4.3).
type Cache struct {
	budget     int64
	ceiling    int64 // protocol-imposed absolute ceiling for a single entry
	numBuckets int

	buckets []bucket
	index   map[string]int // Fingerprint -> bucket index, for O(1) lookup/removal

	size      int64
	inserts   int64
	hits      int64
	misses    int64
	evictions int64

	globalHits *int64 // optional shared counter across a worker pool, spec §4.3 "global-hit counter"

	rng *rand.Rand
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithGlobalHitCounter wires an atomic counter shared across all workers'
// caches, incremented on every hit in addition to the per-cache Stats.Hits.
func WithGlobalHitCounter(counter *int64) Option {
	return func(c *Cache) { c.globalHits = counter }
}

// WithEntryCeiling overrides the absolute per-entry size ceiling; entries
// larger than this are always rejected regardless of remaining budget.
func WithEntryCeiling(bytes int64) Option {
	return func(c *Cache) { c.ceiling = bytes }
}

// New creates a Cache with the given per-worker byte budget (already
// divided from the global capacity by worker count, spec §4.3). A budget
// of 0 disables the cache: every lookup reports a miss and every insert
// is a no-op (spec §8, boundary behaviors).
func New(budgetBytes int64, opts ...Option) *Cache {
	adjusted := int64(float64(budgetBytes) * safetyFactor)
	numBuckets := 64
	c := &Cache{
		budget:     adjusted,
		ceiling:    adjusted, // default ceiling equals the worker's own budget
		numBuckets: numBuckets,
		buckets:    make([]bucket, numBuckets),
		index:      make(map[string]int),
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Disabled reports whether this cache has a zero budget.
func (c *Cache) Disabled() bool { return c.budget <= 0 }

func (c *Cache) bucketFor(fingerprint string) int {
	h := fnv1a(fingerprint)
	return int(h % uint64(c.numBuckets))
}

// Lookup returns the cached Parsed for k, or (nil, false) on miss. A
// version-tag mismatch on an otherwise-present fingerprint evicts the
// stale entry and reports a miss, rather than leaving it to sit in the
// cache until random eviction happens to hit it (spec §3 invariant;
// spec §8 scenario 6: "miss recorded, old entry evicted").
func (c *Cache) Lookup(k Key) (*Parsed, bool) {
	if c.Disabled() {
		return nil, false
	}
	bi, ok := c.index[k.Fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	b := &c.buckets[bi]
	for i := range b.entries {
		if b.entries[i].key.Fingerprint != k.Fingerprint {
			continue
		}
		if b.entries[i].key.Version != k.Version {
			c.size -= b.entries[i].value.Size + entryOverhead
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			delete(c.index, k.Fingerprint)
			c.evictions++
			c.misses++
			return nil, false
		}
		c.hits++
		if c.globalHits != nil {
			atomic.AddInt64(c.globalHits, 1)
		}
		return b.entries[i].value, true
	}
	// index pointed at a bucket that no longer holds this fingerprint
	// (stale index entry) — treat as miss and clean up.
	delete(c.index, k.Fingerprint)
	c.misses++
	return nil, false
}

// Insert stores value under k. Entries individually larger than the
// ceiling are rejected outright. If inserting would exceed budget,
// Insert evicts random buckets until there is room; if eviction cannot
// free enough space the insert is silently dropped — correctness is
// preserved, only cache effectiveness suffers (spec §4.3).
func (c *Cache) Insert(k Key, value *Parsed) {
	if c.Disabled() {
		return
	}
	cost := value.Size + entryOverhead
	if cost > c.ceiling {
		return
	}
	if existingBi, ok := c.index[k.Fingerprint]; ok {
		c.removeFromBucket(existingBi, k.Fingerprint)
	}
	for c.size+cost > c.budget {
		if !c.evictOneRandomBucket() {
			return // couldn't free enough space; drop silently
		}
	}
	bi := c.bucketFor(k.Fingerprint)
	c.buckets[bi].entries = append(c.buckets[bi].entries, entry{key: k, value: value})
	c.index[k.Fingerprint] = bi
	c.size += cost
	c.inserts++
}

// removeFromBucket drops the one entry under fingerprint, keeping the
// "same key cannot hold two entries with different version tags"
// invariant (spec §3) true regardless of which Version is being
// inserted over it.
func (c *Cache) removeFromBucket(bi int, fingerprint string) {
	b := &c.buckets[bi]
	for i := range b.entries {
		if b.entries[i].key.Fingerprint == fingerprint {
			c.size -= b.entries[i].value.Size + entryOverhead
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			delete(c.index, fingerprint)
			return
		}
	}
}

// evictOneRandomBucket removes the first entry of a uniformly random
// non-empty bucket. Returns false if every bucket is empty (nothing left
// to evict, e.g. a single entry larger than budget already rejected).
func (c *Cache) evictOneRandomBucket() bool {
	if len(c.index) == 0 {
		return false
	}
	start := c.rng.Intn(c.numBuckets)
	for i := 0; i < c.numBuckets; i++ {
		bi := (start + i) % c.numBuckets
		b := &c.buckets[bi]
		if len(b.entries) == 0 {
			continue
		}
		victim := b.entries[0]
		c.size -= victim.value.Size + entryOverhead
		b.entries = b.entries[1:]
		delete(c.index, victim.key.Fingerprint)
		c.evictions++
		return true
	}
	return false
}

// Reset drops every entry without touching the counters, for an
// operator-triggered cache invalidation (e.g. after a schema change)
// broadcast across all workers.
func (c *Cache) Reset() {
	for i := range c.buckets {
		c.buckets[i].entries = nil
	}
	c.index = make(map[string]int)
	c.size = 0
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:      c.size,
		Inserts:   c.inserts,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// fnv1a is a tiny, allocation-free string hash used only for bucket
// placement — it has no correctness requirement beyond spreading keys.
func fnv1a(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
