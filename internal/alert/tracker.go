// Package alert decides which arbitrage opportunities are pushed to
// operators and keeps a short history of what was sent.
package alert

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// DefaultHistorySize is how many delivered alerts the tracker remembers.
const DefaultHistorySize = 100

// Tracker suppresses repeat alerts for the same (symbol, buyFrom, sellTo)
// within a cooldown and keeps the most recent alerts, newest first. It is
// safe for concurrent use.
type Tracker struct {
	lastSent map[string]time.Time
	history  []domain.AlertEvent
	capacity int
	now      func() time.Time
	mu       sync.Mutex
}

// NewTracker creates a Tracker. A nil clock uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		lastSent: make(map[string]time.Time),
		capacity: DefaultHistorySize,
		now:      now,
	}
}

func cooldownKey(symbol, buyFrom, sellTo string) string {
	return symbol + "|" + buyFrom + "|" + sellTo
}

// ShouldAlert reports whether the direction has never been alerted or its
// last alert is at least cooldown old.
func (t *Tracker) ShouldAlert(symbol, buyFrom, sellTo string, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSent[cooldownKey(symbol, buyFrom, sellTo)]
	if !ok {
		return true
	}
	return t.now().Sub(last) >= cooldown
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time { return t.now() }

// MarkSent starts the cooldown for the direction at the current time.
func (t *Tracker) MarkSent(symbol, buyFrom, sellTo string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent[cooldownKey(symbol, buyFrom, sellTo)] = t.now()
}

// AddToHistory prepends ev, evicting the oldest entry past capacity.
func (t *Tracker) AddToHistory(ev domain.AlertEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(ev)
}

func (t *Tracker) push(ev domain.AlertEvent) {
	t.history = append(t.history, domain.AlertEvent{})
	copy(t.history[1:], t.history)
	t.history[0] = ev
	if len(t.history) > t.capacity {
		t.history = t.history[:t.capacity]
	}
}

// GetRecent returns up to limit alerts, newest first. A non-positive limit
// returns the whole history.
func (t *Tracker) GetRecent(limit int) []domain.AlertEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]domain.AlertEvent, limit)
	copy(out, t.history[:limit])
	return out
}

// Restore seeds the cooldown and history from an alert persisted by an
// earlier run. Events must be restored oldest first.
func (t *Tracker) Restore(ev domain.AlertEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := cooldownKey(ev.Symbol, ev.BuyFrom, ev.SellTo)
	if last, ok := t.lastSent[key]; !ok || ev.SentAt.After(last) {
		t.lastSent[key] = ev.SentAt
	}
	t.push(ev)
}

// Cleanup drops cooldown entries and history older than maxAge.
func (t *Tracker) Cleanup(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	for k, ts := range t.lastSent {
		if ts.Before(cutoff) {
			delete(t.lastSent, k)
		}
	}
	kept := t.history[:0]
	for _, ev := range t.history {
		if !ev.SentAt.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	t.history = kept
}
