package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache stores embeddings keyed by the exact text they were computed from.
type Cache interface {
	Get(text string) ([]float32, bool)
	Put(text string, vec []float32)
	Len() int
}

const (
	minEvictBatch = 1
	maxEvictBatch = 500
)

// MemoryCache is a bounded in-process cache. When full it drops the oldest
// tenth of its entries in one batch.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]float32
	order    []string
}

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[string][]float32, capacity),
		order:    make([]string, 0, capacity),
	}
}

// cacheKey hashes the raw bytes; no normalization is applied.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *MemoryCache) Get(text string) ([]float32, bool) {
	key := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryCache) Put(text string, vec []float32) {
	key := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = vec
		return
	}
	if len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
}

func (c *MemoryCache) evictLocked() {
	n := c.capacity / 10
	if n < minEvictBatch {
		n = minEvictBatch
	}
	if n > maxEvictBatch {
		n = maxEvictBatch
	}
	if n > len(c.order) {
		n = len(c.order)
	}
	for _, key := range c.order[:n] {
		delete(c.entries, key)
	}
	c.order = append(make([]string, 0, c.capacity), c.order[n:]...)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
