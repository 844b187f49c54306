// Package ttlcache provides an in-memory, compute-or-wait cache with
// per-entry TTL and LRU eviction under a memory budget. It backs the
// Worker's per-IP geo cache and any other enrichment step that wants a
// read-heavy, write-rare map of recent results.
package ttlcache

import (
	"sync"
	"time"
)

// ComputeValue is passed to Get to compute a value on a miss. It must not
// call methods on the same Cache or it will deadlock. Returns the value to
// store, how long it remains valid, and a size estimate used against the
// memory budget.
type ComputeValue func() (value interface{}, ttl time.Duration, size int)

type entry struct {
	key   string
	value interface{}

	expiration            time.Time
	size                  int
	waitingForComputation int

	next, prev *entry
}

// Cache is a fixed-memory-budget, TTL-aware LRU cache safe for concurrent
// use. Concurrent Get calls for the same missing key block behind the
// first caller's computeValue instead of computing redundantly.
type Cache struct {
	mu                     sync.Mutex
	cond                   *sync.Cond
	maxmemory, usedmemory  int
	entries                map[string]*entry
	head, tail             *entry
}

// New returns a cache bounded by maxmemory units (callers choose the unit
// via the size they report to Put/the ComputeValue closure — entry count,
// bytes, anything consistent).
func New(maxmemory int) *Cache {
	c := &Cache{
		maxmemory: maxmemory,
		entries:   map[string]*entry{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get returns the cached value for key, or calls computeValue to produce
// and store it. If computeValue is nil and the key is absent, returns nil.
func (c *Cache) Get(key string, computeValue ComputeValue) interface{} {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		for e.expiration.IsZero() {
			e.waitingForComputation++
			c.cond.Wait()
			e.waitingForComputation--
		}

		if now.After(e.expiration) {
			if !c.evict(e) {
				c.mu.Unlock()
				return e.value
			}
		} else {
			if e != c.head {
				c.unlink(e)
				c.insertFront(e)
			}
			c.mu.Unlock()
			return e.value
		}
	}

	if computeValue == nil {
		c.mu.Unlock()
		return nil
	}

	e := &entry{key: key, waitingForComputation: 1}
	c.entries[key] = e

	hasPaniced := true
	defer func() {
		if hasPaniced {
			c.mu.Lock()
			delete(c.entries, key)
			e.expiration = now
			e.waitingForComputation--
		}
		c.mu.Unlock()
	}()

	c.mu.Unlock()
	value, ttl, size := computeValue()
	c.mu.Lock()
	hasPaniced = false

	e.value = value
	e.expiration = now.Add(ttl)
	e.size = size
	e.waitingForComputation--

	if e.waitingForComputation > 0 {
		c.cond.Broadcast()
	}

	c.usedmemory += size
	c.insertFront(e)

	candidate := c.tail
	for c.usedmemory > c.maxmemory && candidate != nil {
		prev := candidate.prev
		if (candidate.size > 0 || now.After(candidate.expiration)) && candidate.waitingForComputation == 0 {
			c.evict(candidate)
		}
		candidate = prev
	}

	return value
}

// Put stores value directly, bypassing the compute-or-wait path.
func (c *Cache) Put(key string, value interface{}, size int, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		for e.expiration.IsZero() {
			e.waitingForComputation++
			c.cond.Wait()
			e.waitingForComputation--
		}

		c.usedmemory -= e.size
		e.expiration = now.Add(ttl)
		e.size = size
		e.value = value
		c.usedmemory += e.size

		c.unlink(e)
		c.insertFront(e)
	} else {
		e := &entry{key: key, value: value, size: size, expiration: now.Add(ttl)}
		c.entries[key] = e
		c.usedmemory += size
		c.insertFront(e)
	}

	candidate := c.tail
	for c.usedmemory > c.maxmemory && candidate != nil {
		prev := candidate.prev
		if (candidate.size > 0 || now.After(candidate.expiration)) && candidate.waitingForComputation == 0 {
			c.evict(candidate)
		}
		candidate = prev
	}
}

// Del removes key from the cache, returning whether it was present.
func (c *Cache) Del(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return c.evict(e)
	}
	return false
}

// Len returns the number of live (possibly stale) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Prune evicts every entry whose TTL has already elapsed. Intended to be
// called periodically by a background sweeper so idle keys don't linger
// until their next Get.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	pruned := 0
	for _, e := range c.entries {
		if !e.expiration.IsZero() && now.After(e.expiration) && e.waitingForComputation == 0 {
			if c.evict(e) {
				pruned++
			}
		}
	}
	return pruned
}

func (c *Cache) insertFront(e *entry) {
	e.next = c.head
	c.head = e

	e.prev = nil
	if e.next != nil {
		e.next.prev = e
	}

	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlink(e *entry) {
	if e == c.head {
		c.head = e.next
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e == c.tail {
		c.tail = e.prev
	}
}

func (c *Cache) evict(e *entry) bool {
	if e.waitingForComputation != 0 {
		return false
	}

	c.unlink(e)
	c.usedmemory -= e.size
	delete(c.entries, e.key)
	return true
}
