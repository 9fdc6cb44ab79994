package reminder

import (
	"context"
	"fmt"
	"time"

	"yoteibot/internal/config"
	"yoteibot/internal/schedule"
	"yoteibot/internal/transport"
	"yoteibot/pkg/logx"
)

const defaultPresenceWindow = 3 * time.Hour

// runAudit compares the opted-in set against observed activity in the
// event's chat and reports who has not shown up. An empty result stays
// silent: nobody opted in, or everyone opted in showed up. Events
// without an observable chat location are skipped: with no activity
// signal the audit would only accuse everyone.
func (s *Service) runAudit(ctx context.Context, tr schedule.Trigger) error {
	if tr.Event == nil {
		return fmt.Errorf("audit trigger %s has no event", tr.ID)
	}
	ev := tr.Event

	if ev.LocationChat == 0 || s.presence == nil {
		s.log.Debug("presence audit skipped",
			logx.String("event", ev.ID),
			logx.String("location", ev.Location))
		return nil
	}

	expected := s.tracker.Attending()
	if len(expected) == 0 {
		s.log.Debug("presence audit skipped, nobody opted in", logx.String("event", ev.ID))
		return nil
	}

	window := defaultPresenceWindow
	if cfg := s.cfgm.Get(); cfg != nil {
		window, _ = config.ParseDurationOrDefault("telegram.presence_window",
			cfg.Telegram.PresenceWindow, defaultPresenceWindow)
	}

	since := ev.Start.Add(-window)
	present, err := s.presence.MembersPresent(ctx, transport.ChatTarget{ChatID: ev.LocationChat}, since)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}

	missing := subtract(expected, present)
	s.log.Info("presence audit",
		logx.String("event", ev.ID),
		logx.Int("expected", len(expected)),
		logx.Int("present", len(present)),
		logx.Int("missing", len(missing)))
	if len(missing) == 0 {
		return nil
	}

	_, err = s.bot.SendText(ctx, s.announceTarget(), formatAudit(ev, missing), htmlOpts())
	return err
}

// subtract returns the elements of want not found in have, preserving
// want's order.
func subtract(want, have []int64) []int64 {
	if len(want) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(want))
	for _, id := range want {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
