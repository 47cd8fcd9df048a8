package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// store is the method set shared by lru.Cache and expirable.LRU.
type store[T any] interface {
	Get(key string) (T, bool)
	Add(key string, value T) bool
	Remove(key string) bool
	Len() int
	Purge()
}

// LRU is a size bounded cache with optional per-entry expiry. A zero ttl
// keeps entries until they are evicted.
type LRU[T any] struct {
	items  store[T]
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Cache[int] = (*LRU[int])(nil)

// NewLRU creates a cache holding at most capacity entries; capacity below
// one is treated as one.
func NewLRU[T any](capacity int, ttl time.Duration) *LRU[T] {
	if capacity < 1 {
		capacity = 1
	}
	if ttl > 0 {
		return &LRU[T]{items: expirable.NewLRU[string, T](capacity, nil, ttl)}
	}
	items, err := lru.New[string, T](capacity)
	if err != nil {
		// Only a non-positive size fails, which is ruled out above.
		panic(err)
	}
	return &LRU[T]{items: items}
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[T]) Get(key string) (T, bool) {
	v, ok := c.items.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores data, evicting the least recently used entry when full.
func (c *LRU[T]) Set(key string, data T) {
	c.items.Add(key, data)
}

func (c *LRU[T]) Delete(key string) {
	c.items.Remove(key)
}

// Purge drops every entry.
func (c *LRU[T]) Purge() {
	c.items.Purge()
}

func (c *LRU[T]) Len() int {
	return c.items.Len()
}

func (c *LRU[T]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
