// Package cooldown de-prioritizes models that recently rate-limited us so
// fallback chains try healthy models first.
package cooldown

import (
	"sync"
	"time"
)

// Period is how long a rate-limited model stays de-prioritized.
const Period = 60 * time.Second

// Tracker records per-model rate-limit timestamps.
type Tracker struct {
	mu     sync.Mutex
	until  map[string]time.Time
	period time.Duration
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		until:  make(map[string]time.Time),
		period: Period,
		now:    time.Now,
	}
}

// MarkRateLimited starts (or restarts) a model's cooldown window.
func (t *Tracker) MarkRateLimited(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[model] = t.now().Add(t.period)
}

// InCooldown reports whether a model is currently de-prioritized.
func (t *Tracker) InCooldown(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline, ok := t.until[model]
	if !ok {
		return false
	}
	if t.now().After(deadline) {
		delete(t.until, model)
		return false
	}
	return true
}

// Reorder moves cooled-down models to the tail of the chain, preserving
// relative order inside both groups. The chain is never shortened: a
// cooled-down model is still tried if everything else fails.
func (t *Tracker) Reorder(chain []string) []string {
	if len(chain) < 2 {
		return chain
	}
	healthy := make([]string, 0, len(chain))
	var cooled []string
	for _, m := range chain {
		if t.InCooldown(m) {
			cooled = append(cooled, m)
		} else {
			healthy = append(healthy, m)
		}
	}
	return append(healthy, cooled...)
}
