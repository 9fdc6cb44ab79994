package schedule

import (
	"sort"
	"time"

	"yoteibot/internal/calendar"
	"yoteibot/internal/settings"
	"yoteibot/pkg/logx"
)

// CompileOptions carries the non-settings knobs the compiler needs.
type CompileOptions struct {
	// Keepalive adds the recurring self-ping trigger.
	Keepalive bool
}

// Compile maps (now, events, settings) to the full required trigger set.
//
// It is pure and deterministic: identical inputs produce an identical,
// ID-sorted slice. Identity comes only from stable event fields, so
// repeated compilation of the same world reconciles to zero churn.
//
// Lead and start triggers are compiled for events starting today (in
// now's location). The audit additionally covers events already begun:
// an event late yesterday can have its audit due after midnight, and
// retracting it at the day boundary would cancel an armed timer that
// never fired. Fire instants already past, or instants that don't
// survive the one-shot cron encoding, are skipped.
func Compile(now time.Time, events []calendar.Event, s settings.Settings, opt CompileOptions, log logx.Logger) []Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}

	out := make([]Trigger, 0, 3+len(events)*(len(s.LeadOffsets)+2))

	// Durable triggers exist regardless of the event list.
	h, m, err := settings.ParseHHMM(s.DailyTime)
	if err != nil {
		// A validated record can't get here; fall back rather than lose
		// the morning summary entirely.
		h, m, _ = settings.ParseHHMM(settings.DefaultDailyTime)
	}
	out = append(out,
		Trigger{ID: idDailySummary, Kind: KindDailySummary, Durable: true, Spec: dailySpec(h, m)},
		Trigger{ID: idDailyRebuild, Kind: KindDailyRebuild, Durable: true, Spec: dailySpec(0, 0)},
	)
	if opt.Keepalive {
		out = append(out, Trigger{ID: idKeepalive, Kind: KindKeepalive, Durable: true, Spec: "*/10 * * * *"})
	}

	for i := range events {
		ev := &events[i]
		today := sameDay(ev.Start, now)
		if !today && !ev.Start.Before(now) {
			continue
		}

		if today {
			for _, minutes := range s.LeadOffsets {
				offset := time.Duration(minutes) * time.Minute
				if minutes == 0 {
					// Offset zero is the at-start notification; same identity
					// as the toggle so both can't double-send.
					out = appendOneShot(out, Trigger{
						ID: startID(ev.ID), Kind: KindStart,
						At: ev.Start, Event: ev,
					}, now, log)
					continue
				}
				out = appendOneShot(out, Trigger{
					ID: leadID(ev.ID, offset), Kind: KindLead,
					At: ev.Start.Add(-offset), Event: ev, Offset: offset,
				}, now, log)
			}

			if s.StartEnabled() {
				out = appendOneShot(out, Trigger{
					ID: startID(ev.ID), Kind: KindStart,
					At: ev.Start, Event: ev,
				}, now, log)
			}
		}

		out = appendOneShot(out, Trigger{
			ID: auditID(ev.ID), Kind: KindAudit,
			At: ev.Start.Add(s.AuditDelay()), Event: ev, Offset: s.AuditDelay(),
		}, now, log)
	}

	out = dedupByID(out)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func appendOneShot(out []Trigger, tr Trigger, now time.Time, log logx.Logger) []Trigger {
	if !tr.At.After(now) {
		return out
	}
	if !validOneShot(tr.At) {
		log.Warn("skipping trigger with unresolvable fire instant",
			logx.String("id", tr.ID), logx.Time("at", tr.At))
		return out
	}
	tr.Spec = oneShotSpec(tr.At)
	return append(out, tr)
}

func dedupByID(in []Trigger) []Trigger {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, tr := range in {
		if seen[tr.ID] {
			continue
		}
		seen[tr.ID] = true
		out = append(out, tr)
	}
	return out
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
