// Package dedup collapses identical chat requests arriving close together
// into one upstream call. Identity is a hash of the canonicalized body, so
// key order and injected timestamps don't defeat matching.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sync"
	"time"
)

const (
	// CompletedTTL is how long a finished response is replayed to late
	// duplicates.
	CompletedTTL = 30 * time.Second
	// maxCachedBody keeps pathological responses out of the completed map.
	maxCachedBody = 1 << 20

	pruneInterval = 10 * time.Second
)

// timestampPrefix matches the client-injected "[Mon 2026-08-24 10:15 PST] "
// prefix some agents prepend to message content.
var timestampPrefix = regexp.MustCompile(`^\[\w{3} \d{4}-\d{2}-\d{2} \d{2}:\d{2} [^\]]+\] `)

// Result is a completed upstream exchange replayed to duplicates.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// Outcome is what a duplicate waiter receives: either the original's result
// or notice that the original failed before producing one.
type Outcome struct {
	Result *Result
	Failed bool
}

type inflight struct {
	waiters []chan Outcome
}

type completed struct {
	result   Result
	storedAt time.Time
}

// Deduper tracks in-flight and recently completed requests by canonical key.
type Deduper struct {
	mu        sync.Mutex
	inflight  map[string]*inflight
	completed map[string]completed
	ttl       time.Duration
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

func New() *Deduper {
	d := &Deduper{
		inflight:  make(map[string]*inflight),
		completed: make(map[string]completed),
		ttl:       CompletedTTL,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go d.pruneLoop()
	return d
}

func (d *Deduper) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Key derives the canonical request key: 16 hex chars of SHA-256 over the
// canonicalized body.
func Key(body []byte) string {
	sum := sha256.Sum256(Canonicalize(body))
	return hex.EncodeToString(sum[:8])
}

// Canonicalize parses the body as JSON, strips volatile timestamp prefixes
// from message content strings, and re-serializes with sorted keys. A body
// that isn't JSON canonicalizes to itself.
func Canonicalize(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	stripTimestamps(v)
	out, err := json.Marshal(v) // map keys serialize sorted
	if err != nil {
		return body
	}
	return out
}

func stripTimestamps(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if s, ok := child.(string); ok && k == "content" {
				t[k] = timestampPrefix.ReplaceAllString(s, "")
				continue
			}
			stripTimestamps(child)
		}
	case []any:
		for _, child := range t {
			stripTimestamps(child)
		}
	}
}

// Claim registers interest in a key. The first caller for a key becomes the
// origin (owner=true) and must later call Complete or Abandon. Subsequent
// callers get owner=false and a channel that delivers the origin's outcome.
// If a completed result is still fresh it is returned immediately.
func (d *Deduper) Claim(key string) (owner bool, cached *Result, wait <-chan Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.completed[key]; ok {
		if d.now().Sub(c.storedAt) <= d.ttl {
			r := c.result
			return false, &r, nil
		}
		delete(d.completed, key)
	}

	if inf, ok := d.inflight[key]; ok {
		ch := make(chan Outcome, 1)
		inf.waiters = append(inf.waiters, ch)
		return false, nil, ch
	}

	d.inflight[key] = &inflight{}
	return true, nil, nil
}

// Complete records the origin's result, replays it to every waiter, and
// caches it for late duplicates. Oversized bodies are fanned out to current
// waiters but not cached.
func (d *Deduper) Complete(key string, r Result) {
	d.mu.Lock()
	inf := d.inflight[key]
	delete(d.inflight, key)
	if len(r.Body) <= maxCachedBody {
		d.completed[key] = completed{result: r, storedAt: d.now()}
	}
	d.mu.Unlock()

	if inf == nil {
		return
	}
	for _, ch := range inf.waiters {
		ch <- Outcome{Result: &r}
	}
}

// Abandon tells waiters the origin failed without a replayable response.
// Each waiter should answer its client with a retryable 503.
func (d *Deduper) Abandon(key string) {
	d.mu.Lock()
	inf := d.inflight[key]
	delete(d.inflight, key)
	d.mu.Unlock()

	if inf == nil {
		return
	}
	for _, ch := range inf.waiters {
		ch <- Outcome{Failed: true}
	}
}

func (d *Deduper) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.prune()
		case <-d.stop:
			return
		}
	}
}

func (d *Deduper) prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	for k, c := range d.completed {
		if c.storedAt.Before(cutoff) {
			delete(d.completed, k)
		}
	}
}

// Stats reports current map sizes for the diagnostics endpoint.
func (d *Deduper) Stats() (inflightCount, completedCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight), len(d.completed)
}
