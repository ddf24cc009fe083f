// Package session pins routed model choices to a conversation so multi-turn
// exchanges stay on one model instead of flapping between tiers.
package session

import (
	"sync"
	"time"
)

const (
	// IdleTimeout is how long a session survives without traffic.
	IdleTimeout   = 30 * time.Minute
	sweepInterval = 5 * time.Minute
)

type entry struct {
	model    string
	lastSeen time.Time
}

// Store is an in-memory session-id → pinned-model map with idle expiry.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	timeout  time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewStore() *Store {
	s := &Store{
		entries: make(map[string]*entry),
		timeout: IdleTimeout,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Get returns the pinned model for a session and refreshes its idle timer.
func (s *Store) Get(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return "", false
	}
	if s.now().Sub(e.lastSeen) > s.timeout {
		delete(s.entries, id)
		return "", false
	}
	e.lastSeen = s.now()
	return e.model, true
}

// Pin records the model for a session, starting or refreshing its window.
func (s *Store) Pin(id, model string) {
	if id == "" || model == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{model: model, lastSeen: s.now()}
}

// Drop forgets a session (used when its pinned model starts failing).
func (s *Store) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.timeout)
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
