package geocode

import "sync"

// lookupCache is a bounded map from lowercased place name to result.
// Negative results are cached too. When full, the oldest insertion is
// evicted.
type lookupCache struct {
	mu    sync.Mutex
	cap   int
	items map[string]*Result
	order []string
}

func newLookupCache(capacity int) *lookupCache {
	return &lookupCache{cap: capacity, items: make(map[string]*Result, capacity)}
}

func (c *lookupCache) get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.items[key]
	return res, ok
}

func (c *lookupCache) put(key string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		c.items[key] = res
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = res
	c.order = append(c.order, key)
}

func (c *lookupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
