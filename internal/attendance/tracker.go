// Package attendance tracks who intends to attend today's events. The
// set is scoped to one notification cycle: the period between one
// morning summary and the next. Signals referencing a superseded
// summary are ignored, so a stale button press can never mutate the
// current cycle.
package attendance

import (
	"sort"
	"sync"
	"time"

	"yoteibot/internal/transport"
	"yoteibot/pkg/logx"
)

type Signal int

const (
	OptIn Signal = iota
	OptOut
)

// Cycle is the structured "current cycle" record: which summary message
// signals must reference, when it opened, and the subscriber decisions
// so far. true = opted in, false = explicitly opted out; absent =
// undecided.
type Cycle struct {
	Ref      transport.MessageRef
	OpenedAt time.Time
	decided  map[int64]bool
}

type Tracker struct {
	mu    sync.Mutex
	log   logx.Logger
	cycle *Cycle // nil before the first summary
}

func NewTracker(log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{log: log}
}

// NewCycle closes the previous cycle and opens a fresh, empty one bound
// to the given summary message. Called exactly once per daily summary,
// before the new summary accepts signals.
func (t *Tracker) NewCycle(ref transport.MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycle = &Cycle{
		Ref:      ref,
		OpenedAt: time.Now(),
		decided:  map[int64]bool{},
	}
	t.log.Debug("attendance cycle opened",
		logx.Int64("chat", ref.ChatID), logx.Int("message", ref.MessageID))
}

// Apply records one opt-in/opt-out signal. Signals that do not reference
// the open cycle's message are dropped; duplicates are idempotent.
// Returns whether the signal was applied.
func (t *Tracker) Apply(ref transport.MessageRef, subscriber int64, sig Signal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cycle == nil || t.cycle.Ref != ref {
		return false
	}
	t.cycle.decided[subscriber] = sig == OptIn
	return true
}

// Attending returns the sorted subscriber ids currently opted in.
// Empty (never nil semantics matter to callers) before the first cycle.
func (t *Tracker) Attending() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cycle == nil {
		return nil
	}
	out := make([]int64, 0, len(t.cycle.decided))
	for id, in := range t.cycle.decided {
		if in {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counts reports (opted in, opted out) for status/display.
func (t *Tracker) Counts() (in, out int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cycle == nil {
		return 0, 0
	}
	for _, v := range t.cycle.decided {
		if v {
			in++
		} else {
			out++
		}
	}
	return in, out
}

// Current returns the open cycle's message ref and whether one exists.
func (t *Tracker) Current() (transport.MessageRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cycle == nil {
		return transport.MessageRef{}, false
	}
	return t.cycle.Ref, true
}
