package preprocessing

import (
	"container/list"
	"fmt"
	"sync"
)

// Cache is an LRU cache for preprocessed image tensors, keyed by image path.
// Decoding and resizing dominate epoch time, so repeated passes over the same
// dataset hit the cache instead.
type Cache struct {
	mu          sync.RWMutex
	cache       map[string][]float32
	lru         *list.List
	lruMap      map[string]*list.Element
	maxSize     int
	currentSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCache creates a cache holding at most maxSize preprocessed images.
func NewCache(maxSize int) *Cache {
	return &Cache{
		cache:   make(map[string][]float32),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, exists := c.cache[key]; exists {
		// Move to front (most recently used)
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
		c.hits++
		return data, true
	}

	c.misses++
	return nil, false
}

// Put adds an item to the cache
func (c *Cache) Put(key string, data []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; exists {
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
		return
	}

	elem := c.lru.PushFront(key)
	c.lruMap[key] = elem
	c.cache[key] = data
	c.currentSize++

	// Evict if necessary
	for c.currentSize > c.maxSize && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	key := elem.Value.(string)
	c.lru.Remove(elem)
	delete(c.lruMap, key)
	delete(c.cache, key)
	c.currentSize--
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    c.currentSize,
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

func (c *Cache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// Clear clears the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string][]float32)
	c.lru = list.New()
	c.lruMap = make(map[string]*list.Element)
	c.currentSize = 0
	// Don't reset statistics - keep them cumulative
}

// ResetStats resets the statistics
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
