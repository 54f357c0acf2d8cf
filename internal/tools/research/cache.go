package research

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// CacheEntry holds a cached page.
type CacheEntry struct {
	Key       string
	Value     string
	Source    string // direct, jina, browser
	ExpiresAt time.Time
}

// CacheStats counts lookups since the cache was created.
type CacheStats struct {
	Hits    int
	Misses  int
	Entries int
}

// PageCache is a bounded LRU of fetched pages with a fixed TTL. Parallel
// workers of one process often visit the same URL; a hit skips the network
// but the visit budget is still charged by the caller.
type PageCache struct {
	mu     sync.Mutex
	lru    *list.List // front is most recently used
	index  map[string]*list.Element
	limit  int
	ttl    time.Duration
	now    func() time.Time
	hits   int
	misses int
}

// NewPageCache creates a cache holding at most limit pages for ttl each.
func NewPageCache(limit int, ttl time.Duration) *PageCache {
	if limit <= 0 {
		limit = 1000
	}
	return &PageCache{
		lru:   list.New(),
		index: make(map[string]*list.Element),
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
	}
}

// cacheKey drops the fragment and surrounding space so anchors of one page
// share an entry.
func cacheKey(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	return url
}

// Get returns the live entry for key and marks it recently used. Expired
// entries are dropped on access.
func (c *PageCache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*CacheEntry)
	if c.now().After(entry.ExpiresAt) {
		c.remove(el)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	return entry, true
}

// Set stores value under key, evicting the least recently used page when
// the cache is full.
func (c *PageCache) Set(key, value, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &CacheEntry{Key: key, Value: value, Source: source, ExpiresAt: c.now().Add(c.ttl)}
	if el, ok := c.index[key]; ok {
		el.Value = entry
		c.lru.MoveToFront(el)
		return
	}
	for c.lru.Len() >= c.limit {
		c.remove(c.lru.Back())
	}
	c.index[key] = c.lru.PushFront(entry)
}

func (c *PageCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.index, el.Value.(*CacheEntry).Key)
}

// Size returns the number of entries, expired ones included.
func (c *PageCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the hit and miss counters.
func (c *PageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: c.lru.Len()}
}
