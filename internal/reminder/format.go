package reminder

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"yoteibot/internal/calendar"
	"yoteibot/internal/settings"
	"yoteibot/internal/transport"
)

// Callback payloads for the summary keyboard. Kept short: Telegram
// limits callback_data to 64 bytes.
const (
	cbOptIn  = "rsvp:in"
	cbOptOut = "rsvp:out"
)

func rsvpButtons() [][]transport.Button {
	return [][]transport.Button{{
		{Text: "✅ In", Data: cbOptIn},
		{Text: "❌ Out", Data: cbOptOut},
	}}
}

func fmtClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

func fmtOffset(d time.Duration) string {
	m := int(d.Minutes())
	if m%60 == 0 && m >= 60 {
		h := m / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d min", m)
}

func eventLine(ev *calendar.Event, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("• <b>%s</b> — %s", html.EscapeString(ev.Name), fmtClock(ev.Start, loc)))
	if ev.LocationChat == 0 && ev.Location != "" {
		b.WriteString(" @ " + html.EscapeString(ev.Location))
	}
	if ev.URL != "" {
		b.WriteString(fmt.Sprintf(" <a href=\"%s\">link</a>", html.EscapeString(ev.URL)))
	}
	return b.String()
}

// formatSummary renders the morning summary for today's events. The
// empty case still produces a message so the day visibly rolled over.
func formatSummary(day time.Time, events []calendar.Event, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Today, %s</b>\n", day.In(loc).Format("Mon 2 Jan"))
	if len(events) == 0 {
		b.WriteString("\nNothing scheduled today.")
		return b.String()
	}
	b.WriteString("\n")
	for i := range events {
		b.WriteString(eventLine(&events[i], loc))
		b.WriteString("\n")
	}
	b.WriteString("\nWill you be there? Answer with the buttons below.")
	return b.String()
}

func formatLead(ev *calendar.Event, offset time.Duration, loc *time.Location) string {
	return fmt.Sprintf("⏰ <b>%s</b> starts in %s (%s).",
		html.EscapeString(ev.Name), fmtOffset(offset), fmtClock(ev.Start, loc))
}

// formatStart addresses the chat as a group: mentioning every opt-in
// individually would grow unbounded with the attendance set.
func formatStart(ev *calendar.Event, attending int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 <b>%s</b> is starting now.", html.EscapeString(ev.Name))
	if attending > 0 {
		fmt.Fprintf(&b, "\n%d of you opted in this morning.", attending)
	}
	return b.String()
}

// formatAudit renders the presence check result. Callers only invoke it
// with a non-empty missing set; an empty result sends nothing at all.
func formatAudit(ev *calendar.Event, missing []int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Presence check for <b>%s</b>\n", html.EscapeString(ev.Name))
	fmt.Fprintf(&b, "Opted in but not seen yet: %s", mentionList(missing))
	return b.String()
}

func formatUpcoming(events []calendar.Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No events in the coming week."
	}
	var b strings.Builder
	b.WriteString("🗓 <b>Coming week</b>\n")
	lastDay := ""
	for i := range events {
		ev := &events[i]
		day := ev.Start.In(loc).Format("Mon 2 Jan")
		if day != lastDay {
			fmt.Fprintf(&b, "\n<b>%s</b>\n", day)
			lastDay = day
		}
		b.WriteString(eventLine(ev, loc))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSettings(s settings.Settings) string {
	offsets := make([]string, 0, len(s.LeadOffsets))
	for _, m := range s.LeadOffsets {
		offsets = append(offsets, fmt.Sprintf("%d", m))
	}
	start := "off"
	if s.StartEnabled() {
		start = "on"
	}
	return fmt.Sprintf("summary %s · offsets %s min · start notice %s · audit +%d min",
		s.DailyTime, strings.Join(offsets, ","), start, s.AuditDelayMinutes)
}

// mentionList renders subscriber ids as Telegram text-mention links so
// members get pinged even without a username on record.
func mentionList(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, fmt.Sprintf("<a href=\"tg://user?id=%d\">%d</a>", id, id))
	}
	return strings.Join(parts, ", ")
}
