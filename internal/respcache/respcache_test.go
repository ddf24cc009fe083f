package respcache

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestKeyIgnoresVolatileFields(t *testing.T) {
	base := []byte(`{"model":"x","messages":[{"role":"user","content":"hi"}]}`)
	variants := [][]byte{
		[]byte(`{"model":"x","stream":true,"messages":[{"role":"user","content":"hi"}]}`),
		[]byte(`{"model":"x","user":"u-123","messages":[{"role":"user","content":"hi"}]}`),
		[]byte(`{"model":"x","request_id":"abc","messages":[{"role":"user","content":"hi"}]}`),
		[]byte(`{"model":"x","messages":[{"role":"user","content":"[Tue 2026-08-25 09:00 UTC] hi"}]}`),
	}
	want := Key(base)
	for i, v := range variants {
		if Key(v) != want {
			t.Errorf("variant %d produced a different key", i)
		}
	}
	if Key([]byte(`{"model":"y","messages":[{"role":"user","content":"hi"}]}`)) == want {
		t.Error("different model must produce a different key")
	}
}

func TestKeyLength(t *testing.T) {
	if got := len(Key([]byte(`{}`))); got != 32 {
		t.Fatalf("key length = %d, want 32", got)
	}
}

func TestShouldCache(t *testing.T) {
	h := http.Header{}
	if !ShouldCache(h, []byte(`{"model":"x"}`)) {
		t.Fatal("default request should be cacheable")
	}

	h.Set("Cache-Control", "no-cache")
	if ShouldCache(h, []byte(`{}`)) {
		t.Fatal("Cache-Control: no-cache must opt out")
	}

	h = http.Header{}
	h.Set("Cache-Control", "max-age=0, no-cache")
	if ShouldCache(h, []byte(`{}`)) {
		t.Fatal("no-cache inside a list must opt out")
	}

	if ShouldCache(http.Header{}, []byte(`{"cache":false}`)) {
		t.Fatal(`"cache": false must opt out`)
	}
	if ShouldCache(http.Header{}, []byte(`{"no_cache":true}`)) {
		t.Fatal(`"no_cache": true must opt out`)
	}
	if !ShouldCache(http.Header{}, []byte(`{"cache":true}`)) {
		t.Fatal(`"cache": true stays cacheable`)
	}
}

func TestPutRefusesErrorsAndOversize(t *testing.T) {
	c := New(DefaultTTL, DefaultMaxEntries)
	if c.Put("k1", Entry{Status: 400, Body: []byte("bad request")}) {
		t.Fatal("status >= 400 must not be cached")
	}
	if c.Put("k2", Entry{Status: 500, Body: []byte("oops")}) {
		t.Fatal("500s must not be cached")
	}
	if c.Put("k3", Entry{Status: 200, Body: make([]byte, MaxBodySize+1)}) {
		t.Fatal("oversized body must not be cached")
	}
	if !c.Put("k4", Entry{Status: 200, Body: []byte("ok")}) {
		t.Fatal("normal 200 should be cached")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(10*time.Minute, 10)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", Entry{Status: 200, Body: []byte("v")})
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry should hit")
	}

	now = now.Add(10*time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestEvictionOrder(t *testing.T) {
	c := New(10*time.Minute, 3)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), Entry{Status: 200, Body: []byte("v")})
		now = now.Add(time.Second)
	}
	// Fourth insert evicts the oldest (k0).
	c.Put("k3", Entry{Status: 200, Body: []byte("v")})

	if _, ok := c.Get("k0"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("entry %s should survive eviction", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", s.Evictions)
	}
}

func TestPurgeAndStats(t *testing.T) {
	c := New(DefaultTTL, 10)
	c.Put("a", Entry{Status: 200, Body: []byte("1")})
	c.Put("b", Entry{Status: 200, Body: []byte("2")})
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Entries != 2 || s.Hits != 1 || s.Misses != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.HitRate != 0.5 {
		t.Fatalf("hit rate = %f", s.HitRate)
	}

	if n := c.Purge(); n != 2 {
		t.Fatalf("purge removed %d, want 2", n)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("purged entry should miss")
	}
}
