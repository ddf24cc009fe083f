package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAllowUpToBurst(t *testing.T) {
	l := New(5, 5, time.Second)
	defer l.Close()

	for i := range 5 {
		if !l.Allow("agent") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("agent") {
		t.Fatal("request over burst should be denied")
	}
}

func TestRefill(t *testing.T) {
	l := New(10, 10, 50*time.Millisecond)
	defer l.Close()

	for range 10 {
		l.Allow("agent")
	}
	if l.Allow("agent") {
		t.Fatal("should be denied after exhaustion")
	}

	time.Sleep(60 * time.Millisecond)
	if !l.Allow("agent") {
		t.Fatal("should be allowed after refill")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Close()

	if !l.Allow("ip1") {
		t.Fatal("ip1 should be allowed")
	}
	if l.Allow("ip1") {
		t.Fatal("ip1 should be denied")
	}
	if !l.Allow("ip2") {
		t.Fatal("ip2 has its own bucket")
	}
}

func TestMiddlewareRejectsWithEnvelope(t *testing.T) {
	l := New(1, 1, time.Hour)
	defer l.Close()

	handler := l.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatal("missing Retry-After header")
	}
	if !strings.Contains(rr.Body.String(), `"type":"rate_limited"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestEvictOldestDropsStalest(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Close()

	l.mu.Lock()
	l.buckets["old"] = &bucket{tokens: 1, lastFill: time.Now().Add(-time.Hour)}
	l.buckets["new"] = &bucket{tokens: 1, lastFill: time.Now()}
	l.evictOldest()
	_, oldThere := l.buckets["old"]
	_, newThere := l.buckets["new"]
	l.mu.Unlock()

	if oldThere || !newThere {
		t.Fatalf("eviction picked wrong bucket: old=%v new=%v", oldThere, newThere)
	}
}
