package calendar

import (
	"strings"
	"testing"
	"time"

	"yoteibot/pkg/logx"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:single-1
DTSTART:20240501T100000Z
SUMMARY:Planning
LOCATION:telegram:-100123456
URL:https://example.com/planning
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTART:20240501T120000Z
SUMMARY:Weekly sync
RRULE:FREQ=WEEKLY;COUNT=10
EXDATE:20240508T120000Z
END:VEVENT
BEGIN:VEVENT
DTSTART:20240501T140000Z
SUMMARY:No UID, must be skipped
END:VEVENT
END:VCALENDAR
`

func TestParseFeed(t *testing.T) {
	t.Parallel()

	events, err := parseFeed([]byte(strings.ReplaceAll(sampleICS, "\n", "\r\n")), logx.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("parsed %d events, want 2 (UID-less skipped)", len(events))
	}

	var single, weekly *vevent
	for i := range events {
		switch events[i].uid {
		case "single-1":
			single = &events[i]
		case "weekly-1":
			weekly = &events[i]
		}
	}
	if single == nil || weekly == nil {
		t.Fatalf("missing parsed events: %+v", events)
	}

	if single.summary != "Planning" {
		t.Fatalf("summary %q", single.summary)
	}
	if single.location != "telegram:-100123456" {
		t.Fatalf("location %q", single.location)
	}
	if single.url != "https://example.com/planning" {
		t.Fatalf("url %q", single.url)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !single.start.Equal(want) {
		t.Fatalf("start %v, want %v", single.start, want)
	}

	if weekly.rawRRule != "FREQ=WEEKLY;COUNT=10" {
		t.Fatalf("rrule %q", weekly.rawRRule)
	}
	if len(weekly.exDates) != 1 {
		t.Fatalf("exdates %v", weekly.exDates)
	}
}

func TestExpandRecurring(t *testing.T) {
	t.Parallel()

	events, err := parseFeed([]byte(strings.ReplaceAll(sampleICS, "\n", "\r\n")), logx.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(21 * 24 * time.Hour)
	out := expand(events, from, to, time.UTC, logx.Nop())

	// single-1 once, weekly-1 on May 1 and May 15 (May 8 excluded).
	var weeklies []Event
	saw := map[string]bool{}
	for _, ev := range out {
		saw[ev.ID] = true
		if strings.HasPrefix(ev.ID, "weekly-1@") {
			weeklies = append(weeklies, ev)
		}
	}
	if !saw["single-1"] {
		t.Fatalf("non-recurring event missing: %v", out)
	}
	if len(weeklies) != 2 {
		t.Fatalf("weekly occurrences: %d, want 2 (%v)", len(weeklies), out)
	}
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	if !weeklies[0].Start.Equal(first) || !weeklies[1].Start.Equal(second) {
		t.Fatalf("weekly starts %v / %v", weeklies[0].Start, weeklies[1].Start)
	}

	// Occurrence IDs are distinct per instant.
	if weeklies[0].ID == weeklies[1].ID {
		t.Fatalf("occurrence IDs collide: %q", weeklies[0].ID)
	}

	// Sorted by start.
	for i := 1; i < len(out); i++ {
		if out[i].Start.Before(out[i-1].Start) {
			t.Fatalf("output not sorted by start")
		}
	}
}

func TestExpandWindowBounds(t *testing.T) {
	t.Parallel()

	events := []vevent{{uid: "x", start: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}}

	// Event before the window.
	out := expand(events, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), time.UTC, logx.Nop())
	if len(out) != 0 {
		t.Fatalf("past event included: %v", out)
	}

	// Window end is exclusive.
	out = expand(events, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.UTC, logx.Nop())
	if len(out) != 0 {
		t.Fatalf("event at window end included: %v", out)
	}
}

func TestParseLocationChat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
	}{
		{"telegram:-100123456", -100123456},
		{"telegram: 42", 42},
		{" telegram:7 ", 7},
		{"Room 204", 0},
		{"telegram:abc", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseLocationChat(tc.in); got != tc.want {
			t.Fatalf("parseLocationChat(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseICSTime(t *testing.T) {
	t.Parallel()

	got, err := parseICSTime("20240501T100000Z")
	if err != nil {
		t.Fatalf("utc form: %v", err)
	}
	if !got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("utc form parsed as %v", got)
	}
	if _, err := parseICSTime(""); err == nil {
		t.Fatalf("empty value accepted")
	}
	if _, err := parseICSTime("not-a-time"); err == nil {
		t.Fatalf("garbage accepted")
	}
}
