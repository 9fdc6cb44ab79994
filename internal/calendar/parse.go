package calendar

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"yoteibot/pkg/logx"
)

// vevent is the normalized form of one VEVENT before recurrence
// expansion.
type vevent struct {
	uid      string
	summary  string
	location string
	url      string
	start    time.Time
	rawRRule string
	exDates  []time.Time
}

// parseFeed parses an ICS payload. Malformed VEVENTs are logged and
// skipped; the feed as a whole only fails when it isn't a calendar.
func parseFeed(body []byte, log logx.Logger) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]vevent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			log.Warn("skipping malformed VEVENT", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.url = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	if start.IsZero() {
		return out, errors.New("missing DTSTART")
	}
	out.start = start

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}
	return out, nil
}

// parseICSTime parses a basic ICS date/date-time string.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}

// expand turns parsed VEVENTs into concrete events inside [from, to],
// expanding RRULEs and honoring EXDATE. Results are sorted by start,
// then ID, so identical feeds yield identical slices.
func expand(events []vevent, from, to time.Time, loc *time.Location, log logx.Logger) []Event {
	const maxOccurrences = 1000

	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.rawRRule == "" {
			if ev.start.Before(from) || !ev.start.Before(to) {
				continue
			}
			out = append(out, makeEvent(ev, ev.start, false, loc))
			continue
		}

		r, err := rrule.StrToRRule(ev.rawRRule)
		if err != nil {
			log.Warn("skipping event with bad RRULE",
				logx.String("uid", ev.uid), logx.Err(err))
			continue
		}
		r.DTStart(ev.start)

		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.exDates {
			set.ExDate(ex.In(ev.start.Location()))
		}

		times := set.Between(from.In(ev.start.Location()), to.In(ev.start.Location()), true)
		if len(times) > maxOccurrences {
			times = times[:maxOccurrences]
		}
		for _, t := range times {
			if !t.Before(to) {
				continue
			}
			out = append(out, makeEvent(ev, t, true, loc))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func makeEvent(ev vevent, start time.Time, recurring bool, loc *time.Location) Event {
	return Event{
		ID:           occurrenceID(ev.uid, start, recurring),
		Name:         ev.summary,
		Start:        start.In(loc),
		Location:     ev.location,
		LocationChat: parseLocationChat(ev.location),
		URL:          ev.url,
	}
}
