// Package cache memoizes node evaluations by content hash. Entries are
// reference-counted by the node results that use them and pinned by
// in-flight evaluations that depend on them; only entries with neither
// are eligible for the LRU sweep that keeps the cache under its budget.
package cache

import (
	"container/list"
	"sync"
)

const (
	// DefaultMaxEntries bounds the entry count when no option is given.
	DefaultMaxEntries = 4096
	// DefaultMaxBytes bounds the estimated footprint when no option is given.
	DefaultMaxBytes = 256 << 20

	entryOverhead = 128
	valueEstimate = 64
)

// Sizer is implemented by output values that know their footprint.
type Sizer interface {
	SizeBytes() int64
}

// Entry is a cached evaluation outcome: outputs, or a deterministic error.
type Entry struct {
	Hash       Hash
	Outputs    map[string]any
	Err        error
	DepHashes  []Hash
	ComputedAt uint64
	Size       int64

	refs int
	pins int
	elem *list.Element
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries sets the maximum number of entries. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithMaxBytes sets the maximum estimated size. Zero means unbounded.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) { c.maxBytes = n }
}

// WithEvictionCallback is called, under the cache lock, for every evicted entry.
func WithEvictionCallback(fn func(Entry)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// Cache is a content-addressed evaluation cache. It is safe for
// concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[Hash]*Entry
	lru        *list.List // front = most recently used
	maxEntries int
	maxBytes   int64
	bytes      int64
	onEvict    func(Entry)

	hits, misses, evictions uint64
}

// New creates a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[Hash]*Entry),
		lru:        list.New(),
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the entry for h and marks it recently used.
func (c *Cache) Lookup(h Hash) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	c.hits++
	c.lru.MoveToFront(e.elem)
	return e.snapshot(), true
}

// Contains reports whether h is cached without touching recency or stats.
func (c *Cache) Contains(h Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[h]
	return ok
}

// Store records an outcome for h and sweeps if the cache is over budget.
// The new entry itself is spared by that sweep so the caller can Retain
// it. Storing an existing hash only refreshes its recency: evaluations are
// deterministic, so the first outcome stands.
func (c *Cache) Store(h Hash, outputs map[string]any, err error, deps []Hash, generation uint64) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		c.lru.MoveToFront(e.elem)
		return e.snapshot()
	}
	e := &Entry{
		Hash:       h,
		Outputs:    outputs,
		Err:        err,
		DepHashes:  deps,
		ComputedAt: generation,
		Size:       estimate(outputs),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[h] = e
	c.bytes += e.Size
	c.sweepLocked(e)
	return e.snapshot()
}

// Retain records one more live node result referencing h.
func (c *Cache) Retain(h Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		e.refs++
	}
}

// Release drops a reference taken by Retain. An entry with no references
// stays cached until a sweep needs the room.
func (c *Cache) Release(h Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok && e.refs > 0 {
		e.refs--
	}
	c.sweepLocked(nil)
}

// Pin protects entries that an in-flight evaluation depends on.
func (c *Cache) Pin(hs ...Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hs {
		if e, ok := c.entries[h]; ok {
			e.pins++
		}
	}
}

// Unpin drops pins taken by Pin.
func (c *Cache) Unpin(hs ...Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hs {
		if e, ok := c.entries[h]; ok && e.pins > 0 {
			e.pins--
		}
	}
	c.sweepLocked(nil)
}

// Refs returns the reference and pin counts for h.
func (c *Cache) Refs(h Hash) (refs, pins int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		return e.refs, e.pins
	}
	return 0, 0
}

// Sweep evicts unreferenced, unpinned entries in least-recently-used
// order until the cache fits its budget, and returns how many it evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(nil)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) overBudget() bool {
	return (c.maxEntries > 0 && len(c.entries) > c.maxEntries) ||
		(c.maxBytes > 0 && c.bytes > c.maxBytes)
}

func (c *Cache) sweepLocked(spare *Entry) int {
	evicted := 0
	for el := c.lru.Back(); el != nil && c.overBudget(); {
		prev := el.Prev()
		e := el.Value.(*Entry)
		if e != spare && e.refs == 0 && e.pins == 0 {
			c.lru.Remove(el)
			delete(c.entries, e.Hash)
			c.bytes -= e.Size
			c.evictions++
			evicted++
			if c.onEvict != nil {
				c.onEvict(e.snapshot())
			}
		}
		el = prev
	}
	return evicted
}

func (e *Entry) snapshot() Entry {
	return Entry{
		Hash:       e.Hash,
		Outputs:    e.Outputs,
		Err:        e.Err,
		DepHashes:  e.DepHashes,
		ComputedAt: e.ComputedAt,
		Size:       e.Size,
	}
}

func estimate(outputs map[string]any) int64 {
	size := int64(entryOverhead)
	for k, v := range outputs {
		size += int64(len(k))
		switch x := v.(type) {
		case Sizer:
			size += x.SizeBytes()
		case string:
			size += int64(len(x))
		default:
			size += valueEstimate
		}
	}
	return size
}
