package payment

import (
	"sync"
	"time"
)

// Params are the accepted payment parameters cached per endpoint path. A
// valid entry is never older than the cache TTL at the moment it is used;
// expired entries are evicted on read.
type Params struct {
	PayTo               string
	Asset               string
	Scheme              string
	Network             string
	ExtraName           string
	ExtraVersion        string
	MaxTimeoutSeconds   int
	ResourceURL         string
	ResourceDescription string
	CachedAt            time.Time
}

// Cache maps endpoint paths to accepted payment parameters so subsequent
// requests can attach a pre-authorized payment and skip the 402 round trip.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Params
	ttl     time.Duration
	now     func() time.Time
}

const DefaultCacheTTL = time.Hour

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]Params),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached parameters for a path. Expired entries are removed
// and reported as a miss.
func (c *Cache) Get(path string) (Params, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[path]
	if !ok {
		return Params{}, false
	}
	if c.now().Sub(p.CachedAt) > c.ttl {
		delete(c.entries, path)
		return Params{}, false
	}
	return p, true
}

func (c *Cache) Set(path string, p Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.CachedAt.IsZero() {
		p.CachedAt = c.now()
	}
	c.entries[path] = p
}

func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
