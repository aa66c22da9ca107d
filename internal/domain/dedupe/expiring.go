package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Expiring is a bounded key/value cache whose entries expire after a TTL.
// It backs the negative token cache and the match stats cache.
type Expiring[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type expiringEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewExpiring creates a cache. ttl <= 0 means entries never expire.
func NewExpiring[K comparable, V any](ttl time.Duration, opts ...Option) *Expiring[K, V] {
	c := &Expiring[K, V]{
		entries: make(map[K]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: 10_000,
		now:     time.Now,
	}
	s := settings{maxSize: c.maxSize, now: c.now}
	for _, opt := range opts {
		opt.applySettings(&s)
	}
	c.maxSize, c.now = s.maxSize, s.now
	return c
}

// Get returns the live value stored at key.
func (c *Expiring[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*expiringEntry[K, V])
	if c.ttl > 0 && !c.now().Before(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key holds a live value.
func (c *Expiring[K, V]) Contains(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores value at key, resetting its TTL. The oldest entry is evicted
// when the cache is full.
func (c *Expiring[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*expiringEntry[K, V])
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToBack(el)
		return
	}
	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*expiringEntry[K, V]).key)
	}
	c.entries[key] = c.order.PushBack(&expiringEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete removes key.
func (c *Expiring[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of stored entries, expired ones included until
// they are touched.
func (c *Expiring[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
