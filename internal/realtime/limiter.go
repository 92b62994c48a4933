package realtime

import (
	"time"

	"chatgenius-backend/internal/model"
)

// Limiter grants each identity a fixed budget of events per fixed window.
// A window opens on the first event after the previous one elapsed and
// restores the full budget. Denied events are never queued.
type Limiter struct {
	budget  int
	window  time.Duration
	now     func() time.Time
	budgets map[model.Identity]*rateBudget
}

type rateBudget struct {
	start time.Time
	used  int
}

func NewLimiter(budget int, window time.Duration) *Limiter {
	return &Limiter{
		budget:  budget,
		window:  window,
		now:     time.Now,
		budgets: make(map[model.Identity]*rateBudget),
	}
}

// Consume takes one token from id's budget and reports whether the event
// may proceed.
func (l *Limiter) Consume(id model.Identity) bool {
	now := l.now()
	b, ok := l.budgets[id]
	if !ok || now.Sub(b.start) >= l.window {
		b = &rateBudget{start: now}
		l.budgets[id] = b
	}
	if b.used >= l.budget {
		return false
	}
	b.used++
	return true
}

// Remaining returns the tokens id has left in its current window.
func (l *Limiter) Remaining(id model.Identity) int {
	b, ok := l.budgets[id]
	if !ok || l.now().Sub(b.start) >= l.window {
		return l.budget
	}
	return l.budget - b.used
}

// Sweep forgets identities whose window has elapsed and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for id, b := range l.budgets {
		if now.Sub(b.start) >= l.window {
			delete(l.budgets, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Tracked() int {
	return len(l.budgets)
}
