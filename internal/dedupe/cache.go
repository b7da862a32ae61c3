// ABOUTME: Thread-safe TTL cache remembering recently settled request ids and how they ended.
// ABOUTME: Lets operators learn why a submit missed and keeps retired ids from being handed out again.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/human-gateway/internal/broker"
)

// Defaults used when New is given non-positive values.
const (
	DefaultTTL     = 15 * time.Minute
	DefaultMaxSize = 10000
)

// cacheEntry stores the settle time, final status and list element for an id.
type cacheEntry struct {
	settledAt time.Time
	status    broker.Status
	element   *list.Element
}

// Cache remembers settled request ids for a bounded window. It implements
// broker.Observer so it can be attached directly to a Broker.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // ids in settle order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the final status of a recently settled id.
func (c *Cache) Lookup(id string) (broker.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[id]
	if !ok || c.now().Sub(entry.settledAt) >= c.ttl {
		return "", false
	}
	return entry.status, true
}

// Seen reports whether id settled within the TTL window.
func (c *Cache) Seen(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// Mark records that id settled with the given status. If the cache is at
// capacity, the oldest entry is evicted to make room.
func (c *Cache) Mark(id string, status broker.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, exists := c.seen[id]; exists {
		entry.settledAt = now
		entry.status = status
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &cacheEntry{
		settledAt: now,
		status:    status,
		element:   elem,
	}
}

// Len returns the number of remembered ids, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// RequestRegistered is a no-op; only settled ids are remembered.
func (c *Cache) RequestRegistered(broker.Record) {}

// RequestSettled remembers the id and its final status.
func (c *Cache) RequestSettled(rec broker.Record, _ time.Duration) {
	c.Mark(rec.ID, rec.Status)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries. Entries are in settle order, so the
// walk stops at the first live one.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		id, _ := e.Value.(string)
		entry := c.seen[id]
		if entry == nil || now.Sub(entry.settledAt) < c.ttl {
			break
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, id)
		e = next
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
