// Package ratelimit is the proxy's inbound guard: a token-bucket limiter
// keyed by client IP, for deployments where the proxy is exposed beyond
// loopback.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	maxKeys       = 100_000
	sweepInterval = 5 * time.Minute
	staleAfter    = 10 * time.Minute
)

type bucket struct {
	tokens   int
	lastFill time.Time
}

// Limiter refills rate tokens per interval up to burst, per key.
type Limiter struct {
	rate     int
	burst    int
	interval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

func New(rate, burst int, interval time.Duration) *Limiter {
	l := &Limiter{
		rate:     rate,
		burst:    burst,
		interval: interval,
		buckets:  make(map[string]*bucket),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow consumes one token for key, refilling lazily from elapsed time.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxKeys {
			l.evictOldest()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	if refill := int(now.Sub(b.lastFill)/l.interval) * l.rate; refill > 0 {
		b.tokens = min(b.tokens+refill, l.burst)
		b.lastFill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects over-limit requests with a 429 in the proxy's error
// envelope. rejected may be nil.
func (l *Limiter) Middleware(rejected prometheus.Counter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Real-IP")
			if key == "" {
				key = r.RemoteAddr
			}
			if !l.Allow(key) {
				if rejected != nil {
					rejected.Inc()
				}
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded, slow down","type":"rate_limited"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// evictOldest drops the least recently refilled bucket. Caller holds mu.
func (l *Limiter) evictOldest() {
	var oldest string
	var when time.Time
	first := true
	for k, b := range l.buckets {
		if first || b.lastFill.Before(when) {
			oldest, when, first = k, b.lastFill, false
		}
	}
	if !first {
		delete(l.buckets, oldest)
	}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			l.mu.Lock()
			for k, b := range l.buckets {
				if b.lastFill.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
