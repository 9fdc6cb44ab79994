package telegram

import (
	"sort"
	"sync"
	"time"
)

// seenTracker records the last instant each user was observed active in a
// chat. Entries older than the retention window are swept lazily so the map
// does not grow without bound in busy chats.
type seenTracker struct {
	mu    sync.Mutex
	now   func() time.Time
	seen  map[int64]map[int64]time.Time // chatID -> userID -> last activity
	sweep time.Time
}

const seenRetention = 48 * time.Hour

func newSeenTracker(now func() time.Time) *seenTracker {
	if now == nil {
		now = time.Now
	}
	return &seenTracker{
		now:  now,
		seen: make(map[int64]map[int64]time.Time),
	}
}

func (t *seenTracker) Mark(chatID, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	m := t.seen[chatID]
	if m == nil {
		m = make(map[int64]time.Time)
		t.seen[chatID] = m
	}
	m[userID] = now

	if now.Sub(t.sweep) >= time.Hour {
		t.sweep = now
		t.sweepLocked(now.Add(-seenRetention))
	}
}

func (t *seenTracker) sweepLocked(cutoff time.Time) {
	for chatID, m := range t.seen {
		for userID, at := range m {
			if at.Before(cutoff) {
				delete(m, userID)
			}
		}
		if len(m) == 0 {
			delete(t.seen, chatID)
		}
	}
}

// Present returns the users observed active in the chat at or after since,
// sorted for deterministic output.
func (t *seenTracker) Present(chatID int64, since time.Time) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.seen[chatID]
	if len(m) == 0 {
		return nil
	}
	out := make([]int64, 0, len(m))
	for userID, at := range m {
		if !at.Before(since) {
			out = append(out, userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
