package geospatial

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// TileKey addresses one rendered tile of one table.
type TileKey struct {
	Table   string
	Z, X, Y int
}

// TileCache is a concurrent-safe LRU of rendered tiles. Entries expire ttl
// after they were stored.
type TileCache struct {
	mu         sync.Mutex
	items      map[TileKey]*list.Element
	lru        *list.List // front is most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type tileEntry struct {
	key      TileKey
	data     []byte
	storedAt time.Time
}

// CacheStats is a snapshot of cache usage.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewTileCache creates a cache holding at most maxEntries tiles.
func NewTileCache(maxEntries int, ttl time.Duration) *TileCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &TileCache{
		items:      make(map[TileKey]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns a cached tile and whether it was present. Empty tiles are
// cached too, so presence is reported separately from the data.
func (c *TileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*tileEntry)
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.items, key)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return e.data, true
}

// Put stores a tile, evicting the least recently used entries when full.
func (c *TileCache) Put(key TileKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*tileEntry)
		e.data = data
		e.storedAt = c.now()
		c.lru.MoveToFront(el)
		return
	}

	for c.lru.Len() >= c.maxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*tileEntry).key)
	}
	c.items[key] = c.lru.PushFront(&tileEntry{key: key, data: data, storedAt: c.now()})
}

// Stats returns cache usage counters.
func (c *TileCache) Stats() CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}
