package fingerprint

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Cache defaults.
const (
	DefaultCapacity = 1000
	DefaultTTL      = 24 * time.Hour
)

// Config tunes the verdict cache.
type Config struct {
	// Capacity is the maximum number of entries before LRU eviction.
	Capacity int

	// TTL is how long an entry survives without being used.
	TTL time.Duration

	// SweepInterval enables a background sweep of expired entries when
	// positive. Expired entries are also dropped lazily on access, so
	// the sweep only bounds memory for keys that are never touched again.
	SweepInterval time.Duration
}

type entry struct {
	fp       contracts.Fingerprint
	ref      contracts.VerdictRef
	lastUsed time.Time
	hits     int64
}

// Cache maps artifact fingerprints to previously computed verdict
// references. Bounded by capacity (least recently used out first) and
// by an idle TTL. Safe for concurrent use; concurrent stores for the
// same fingerprint resolve last-writer-wins.
type Cache struct {
	mu       sync.Mutex
	entries  map[contracts.Fingerprint]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// New creates a cache. Zero or negative capacity and TTL fall back to
// the package defaults.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	c := &Cache{
		entries:  make(map[contracts.Fingerprint]*list.Element),
		order:    list.New(),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		done:     make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go c.sweep(cfg.SweepInterval)
	}
	return c
}

// Lookup returns the cached verdict reference for a fingerprint. The
// second return is false on a miss, including a lazily-expired entry.
// A hit refreshes the entry's recency and idle clock.
func (c *Cache) Lookup(fp contracts.Fingerprint) (contracts.VerdictRef, bool) {
	now := time.Now()

	c.mu.Lock()
	elem, ok := c.entries[fp]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return contracts.VerdictRef{}, false
	}
	e := elem.Value.(*entry)
	if now.Sub(e.lastUsed) > c.ttl {
		c.removeLocked(elem)
		c.mu.Unlock()
		c.misses.Add(1)
		return contracts.VerdictRef{}, false
	}
	e.lastUsed = now
	e.hits++
	c.order.MoveToFront(elem)
	ref := e.ref
	c.mu.Unlock()

	c.hits.Add(1)
	return ref, true
}

// Store records a verdict reference for a fingerprint, evicting the
// least recently used entry when the cache is full.
func (c *Cache) Store(fp contracts.Fingerprint, ref contracts.VerdictRef) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fp]; ok {
		e := elem.Value.(*entry)
		e.ref = ref
		e.lastUsed = now
		c.order.MoveToFront(elem)
		return
	}

	c.entries[fp] = c.order.PushFront(&entry{fp: fp, ref: ref, lastUsed: now})
	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions.Add(1)
	}
}

// Len returns the current number of entries, expired ones included
// until they are swept or touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats snapshots the hit, miss and eviction counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}

// Close stops the background sweep. Idempotent.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.entries, e.fp)
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for elem := c.order.Back(); elem != nil; {
				prev := elem.Prev()
				if now.Sub(elem.Value.(*entry).lastUsed) > c.ttl {
					c.removeLocked(elem)
				}
				elem = prev
			}
			c.mu.Unlock()
		}
	}
}
