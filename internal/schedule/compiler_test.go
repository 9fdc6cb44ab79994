package schedule

import (
	"testing"
	"time"

	"yoteibot/internal/calendar"
	"yoteibot/internal/settings"
	"yoteibot/pkg/logx"
)

func testSettings() settings.Settings {
	s := settings.Defaults()
	s.LeadOffsets = []int{60, 15}
	return s
}

func findTrigger(t *testing.T, trigs []Trigger, id string) Trigger {
	t.Helper()
	for _, tr := range trigs {
		if tr.ID == id {
			return tr
		}
	}
	t.Fatalf("trigger %q not compiled; got %d triggers", id, len(trigs))
	return Trigger{}
}

func TestCompileOffsetMath(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, loc)
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, loc)
	events := []calendar.Event{{ID: "ev1", Name: "standup", Start: start}}

	trigs := Compile(now, events, testSettings(), CompileOptions{}, logx.Nop())

	lead := findTrigger(t, trigs, "event:ev1:lead:60")
	if want := time.Date(2024, 5, 1, 9, 0, 0, 0, loc); !lead.At.Equal(want) {
		t.Fatalf("60m lead fires at %v, want %v", lead.At, want)
	}
	lead15 := findTrigger(t, trigs, "event:ev1:lead:15")
	if want := time.Date(2024, 5, 1, 9, 45, 0, 0, loc); !lead15.At.Equal(want) {
		t.Fatalf("15m lead fires at %v, want %v", lead15.At, want)
	}

	startTr := findTrigger(t, trigs, "event:ev1:start")
	if !startTr.At.Equal(start) {
		t.Fatalf("start trigger fires at %v, want %v", startTr.At, start)
	}

	audit := findTrigger(t, trigs, "event:ev1:audit")
	if want := start.Add(15 * time.Minute); !audit.At.Equal(want) {
		t.Fatalf("audit fires at %v, want %v", audit.At, want)
	}
}

func TestCompileDurableTriggers(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	s := testSettings()
	s.DailyTime = "08:30"

	trigs := Compile(now, nil, s, CompileOptions{Keepalive: true}, logx.Nop())

	summary := findTrigger(t, trigs, "daily:summary")
	if summary.Spec != "30 8 * * *" {
		t.Fatalf("summary spec = %q", summary.Spec)
	}
	if !summary.Durable {
		t.Fatalf("summary must be durable")
	}
	rebuild := findTrigger(t, trigs, "daily:rebuild")
	if rebuild.Spec != "0 0 * * *" {
		t.Fatalf("rebuild spec = %q", rebuild.Spec)
	}
	ping := findTrigger(t, trigs, "health:ping")
	if ping.Spec != "*/10 * * * *" {
		t.Fatalf("keepalive spec = %q", ping.Spec)
	}

	// Without the keepalive option there is no ping trigger.
	trigs = Compile(now, nil, s, CompileOptions{}, logx.Nop())
	for _, tr := range trigs {
		if tr.Kind == KindKeepalive {
			t.Fatalf("keepalive compiled while disabled")
		}
	}
}

func TestCompileSkipsPastAndOtherDays(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, loc)
	events := []calendar.Event{
		{ID: "today", Start: time.Date(2024, 5, 1, 10, 0, 0, 0, loc)},
		{ID: "tomorrow", Start: time.Date(2024, 5, 2, 10, 0, 0, 0, loc)},
	}

	trigs := Compile(now, events, testSettings(), CompileOptions{}, logx.Nop())

	for _, tr := range trigs {
		if tr.Event != nil && tr.Event.ID == "tomorrow" {
			t.Fatalf("trigger %s compiled for an event outside today", tr.ID)
		}
		if tr.ID == "event:today:lead:60" {
			// 09:00 is already past at 09:30.
			t.Fatalf("past lead instant was not skipped")
		}
	}
	// The 15m lead (09:45) is still ahead.
	findTrigger(t, trigs, "event:today:lead:15")
}

func TestCompileKeepsOvernightAudit(t *testing.T) {
	t.Parallel()

	// An event at 23:50 with the default 15-minute delay has its audit
	// due 00:05 the next day. Compiling just after midnight must still
	// produce the audit, or reconciliation would cancel the armed timer
	// before it ever fires. Leads and the start stay retracted.
	loc := time.UTC
	now := time.Date(2024, 5, 2, 0, 0, 30, 0, loc)
	events := []calendar.Event{{ID: "late", Start: time.Date(2024, 5, 1, 23, 50, 0, 0, loc)}}

	trigs := Compile(now, events, testSettings(), CompileOptions{}, logx.Nop())

	audit := findTrigger(t, trigs, "event:late:audit")
	if want := time.Date(2024, 5, 2, 0, 5, 0, 0, loc); !audit.At.Equal(want) {
		t.Fatalf("overnight audit fires at %v, want %v", audit.At, want)
	}
	for _, tr := range trigs {
		if tr.Event != nil && tr.Kind != KindAudit {
			t.Fatalf("trigger %s compiled for yesterday's event", tr.ID)
		}
	}

	// Once the audit instant itself is past, nothing survives.
	trigs = Compile(now.Add(10*time.Minute), events, testSettings(), CompileOptions{}, logx.Nop())
	for _, tr := range trigs {
		if tr.Event != nil {
			t.Fatalf("trigger %s compiled after its instant passed", tr.ID)
		}
	}
}

func TestCompileStartToggle(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, loc)
	events := []calendar.Event{{ID: "ev", Start: time.Date(2024, 5, 1, 10, 0, 0, 0, loc)}}

	s := testSettings()
	off := false
	s.StartNotificationEnabled = &off

	trigs := Compile(now, events, s, CompileOptions{}, logx.Nop())
	for _, tr := range trigs {
		if tr.Kind == KindStart {
			t.Fatalf("start trigger compiled while toggle is off")
		}
	}

	// Offset 0 produces the start identity even with the toggle off,
	// and with the toggle on as well it must not appear twice.
	s.LeadOffsets = []int{0, 15}
	on := true
	s.StartNotificationEnabled = &on
	trigs = Compile(now, events, s, CompileOptions{}, logx.Nop())
	count := 0
	for _, tr := range trigs {
		if tr.ID == "event:ev:start" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("start identity appears %d times, want 1", count)
	}
}

func TestCompileDeterministic(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, loc)
	events := []calendar.Event{
		{ID: "b", Start: time.Date(2024, 5, 1, 11, 0, 0, 0, loc)},
		{ID: "a", Start: time.Date(2024, 5, 1, 10, 0, 0, 0, loc)},
	}

	first := Compile(now, events, testSettings(), CompileOptions{}, logx.Nop())
	second := Compile(now, events, testSettings(), CompileOptions{}, logx.Nop())

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || !first[i].At.Equal(second[i].At) {
			t.Fatalf("compile not deterministic at %d: %+v vs %+v", i, first[i], second[i])
		}
		if i > 0 && first[i-1].ID >= first[i].ID {
			t.Fatalf("output not sorted: %q before %q", first[i-1].ID, first[i].ID)
		}
	}
}
