package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"yoteibot/internal/eventbus"
	"yoteibot/pkg/logx"
)

// horizon bounds how far ahead occurrences are materialized. Triggers
// are only compiled for today, but listing commands look a week out.
const horizon = 8 * 24 * time.Hour

type FeedConfig struct {
	URL          string
	PollInterval time.Duration
	CacheDir     string
}

// Feed is the ICS-backed event source. A poll loop keeps an in-memory
// snapshot fresh and publishes a calendar-changed signal on the bus
// whenever the upcoming set actually differs.
type Feed struct {
	cfg FeedConfig
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	fetch *fetcher

	mu       sync.RWMutex
	snapshot []Event
	lastHash [32]byte
	lastPoll time.Time
}

func NewFeed(cfg FeedConfig, loc *time.Location, bus eventbus.Bus, log logx.Logger) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Feed{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		loc:   loc,
		fetch: newFetcher(cfg.CacheDir, log),
	}
}

// ListUpcoming serves events from the latest snapshot. It never touches
// the network; Run keeps the snapshot current.
func (f *Feed) ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error) {
	_ = ctx
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Event, 0, len(f.snapshot))
	for _, ev := range f.snapshot {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Refresh fetches and re-expands the feed once. It reports whether the
// upcoming set changed.
func (f *Feed) Refresh(ctx context.Context) (changed bool, err error) {
	body, fromCache, err := f.fetch.fetch(ctx, f.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}

	parsed, err := parseFeed(body, f.log)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}

	now := time.Now().In(f.loc)
	from := startOfDay(now)
	events := expand(parsed, from, from.Add(horizon), f.loc, f.log)

	h := hashEvents(events)

	f.mu.Lock()
	changed = h != f.lastHash
	f.snapshot = events
	f.lastHash = h
	f.lastPoll = time.Now()
	f.mu.Unlock()

	f.log.Debug("feed refreshed",
		logx.Int("events", len(events)),
		logx.Bool("from_cache", fromCache),
		logx.Bool("changed", changed),
	)
	return changed, nil
}

// Run polls the feed until ctx is cancelled, publishing
// TopicCalendarChanged whenever the upcoming set differs.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	poll := func() {
		changed, err := f.Refresh(ctx)
		if err != nil {
			f.log.Warn("feed refresh failed", logx.Err(err))
			return
		}
		if changed && f.bus != nil {
			f.bus.Publish(eventbus.Event{Topic: eventbus.TopicCalendarChanged})
		}
	}

	// Initial fill so the first reconcile doesn't run on an empty snapshot.
	poll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// LastPoll reports when the snapshot was last refreshed (zero before the
// first successful refresh).
func (f *Feed) LastPoll() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastPoll
}

func hashEvents(events []Event) [32]byte {
	h := sha256.New()
	var buf [8]byte
	for _, ev := range events {
		h.Write([]byte(ev.ID))
		binary.BigEndian.PutUint64(buf[:], uint64(ev.Start.Unix()))
		h.Write(buf[:])
		h.Write([]byte(ev.Name))
		h.Write([]byte(ev.Location))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
