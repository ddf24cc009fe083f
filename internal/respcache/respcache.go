// Package respcache is a short-lived cache for successful chat responses,
// keyed by a normalized request fingerprint so retries and per-request noise
// (stream flags, request ids, injected timestamps) still hit.
package respcache

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL        = 10 * time.Minute
	DefaultMaxEntries = 200
	// MaxBodySize keeps giant completions out of memory.
	MaxBodySize = 1 << 20
)

// volatile request fields excluded from the cache key.
var ignoredKeys = map[string]bool{
	"stream":       true,
	"user":         true,
	"request_id":   true,
	"x-request-id": true,
}

var timestampPrefix = regexp.MustCompile(`^\[\w{3} \d{4}-\d{2}-\d{2} \d{2}:\d{2} [^\]]+\] `)

// Entry is a cached upstream response.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
	Model       string
	storedAt    time.Time
}

// Stats is the cache telemetry surfaced on the diagnostics endpoint.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is a bounded TTL cache with earliest-expiry eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*item
	order   expiryHeap
	ttl     time.Duration
	max     int
	now     func() time.Time

	hits, misses, evictions uint64
}

type item struct {
	key   string
	entry Entry
	index int
}

func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[string]*item),
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
	}
}

// Key computes the 32-hex-char fingerprint of a request body with volatile
// fields removed. Non-JSON bodies hash as-is.
func Key(body []byte) string {
	normalized := normalize(body)
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:16])
}

func normalize(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	v = scrub(v, true)
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

// scrub removes ignored keys at the top level and timestamp prefixes from
// content strings everywhere.
func scrub(v any, topLevel bool) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if topLevel && ignoredKeys[strings.ToLower(k)] {
				delete(t, k)
				continue
			}
			if s, ok := child.(string); ok && k == "content" {
				t[k] = timestampPrefix.ReplaceAllString(s, "")
				continue
			}
			t[k] = scrub(child, false)
		}
	case []any:
		for i, child := range t {
			t[i] = scrub(child, false)
		}
	}
	return v
}

// ShouldCache reports whether a request opted out of caching via the
// Cache-Control header or a body-level flag ("cache": false or
// "no_cache": true).
func ShouldCache(header http.Header, body []byte) bool {
	if cc := header.Get("Cache-Control"); cc != "" {
		for _, part := range strings.Split(cc, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "no-cache") {
				return false
			}
		}
	}
	var flags struct {
		Cache   *bool `json:"cache"`
		NoCache *bool `json:"no_cache"`
	}
	if err := json.Unmarshal(body, &flags); err == nil {
		if flags.Cache != nil && !*flags.Cache {
			return false
		}
		if flags.NoCache != nil && *flags.NoCache {
			return false
		}
	}
	return true
}

// Get returns a fresh entry by key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.now().Sub(it.entry.storedAt) > c.ttl {
		c.remove(it)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	return it.entry, true
}

// Put stores a response. Error responses (status >= 400) and oversized
// bodies are refused.
func (c *Cache) Put(key string, e Entry) bool {
	if e.Status >= http.StatusBadRequest || len(e.Body) > MaxBodySize {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e.storedAt = c.now()
	if it, ok := c.entries[key]; ok {
		it.entry = e
		heap.Fix(&c.order, it.index)
		return true
	}

	for len(c.entries) >= c.max {
		oldest := c.order[0]
		c.remove(oldest)
		c.evictions++
	}

	it := &item{key: key, entry: e}
	c.entries[key] = it
	heap.Push(&c.order, it)
	return true
}

// remove unlinks an item. Caller holds mu.
func (c *Cache) remove(it *item) {
	delete(c.entries, it.key)
	heap.Remove(&c.order, it.index)
}

// Purge drops everything (exposed on the admin endpoint).
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*item)
	c.order = c.order[:0]
	return n
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// expiryHeap orders items by storedAt so eviction removes the entry closest
// to expiry.
type expiryHeap []*item

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].entry.storedAt.Before(h[j].entry.storedAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *expiryHeap) Push(x any)         { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
