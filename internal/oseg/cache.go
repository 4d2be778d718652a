package oseg

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// DefaultCacheSize bounds the number of cached entries.
const DefaultCacheSize = 100000

// Cache is the bounded LRU in front of the backing store. Values are
// stored by value. Inserts honor entry epochs: an entry older than the
// cached one is ignored.
type Cache struct {
	lru       *lru.Cache
	evictions atomic.Uint64
}

// NewCache creates a cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{}
	l, err := lru.NewWithEvict(size, func(key, value interface{}) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached entry for id and marks it recently used.
func (c *Cache) Get(id domain.ObjectID) (domain.OSegEntry, bool) {
	v, ok := c.lru.Get(id)
	if !ok {
		return domain.NullEntry, false
	}
	return v.(domain.OSegEntry), true
}

// Peek returns the cached entry without touching recency.
func (c *Cache) Peek(id domain.ObjectID) (domain.OSegEntry, bool) {
	v, ok := c.lru.Peek(id)
	if !ok {
		return domain.NullEntry, false
	}
	return v.(domain.OSegEntry), true
}

// Insert caches e unless a newer entry is already cached.
// It reports whether the cache changed.
func (c *Cache) Insert(id domain.ObjectID, e domain.OSegEntry) bool {
	if e.IsNull() {
		return false
	}
	if cur, ok := c.Peek(id); ok && !domain.AcceptWrite(cur, e) {
		return false
	}
	c.lru.Add(id, e)
	return true
}

// Remove evicts id.
func (c *Cache) Remove(id domain.ObjectID) {
	c.lru.Remove(id)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Evictions returns how many entries were pushed out by capacity or
// removed explicitly.
func (c *Cache) Evictions() uint64 {
	return c.evictions.Load()
}
