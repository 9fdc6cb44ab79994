// Package calendar supplies the upcoming events the scheduler works
// from. The single implementation reads an ICS feed over HTTP; the
// Source interface is what the rest of the system consumes.
package calendar

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Event is one upcoming occasion. For recurring calendar entries every
// expanded occurrence is its own Event with a stable, occurrence-unique ID.
type Event struct {
	// ID is stable across re-fetches: the VEVENT UID, suffixed with the
	// occurrence start for recurring entries.
	ID string

	Name  string
	Start time.Time

	// Location is the raw LOCATION text from the feed.
	// LocationChat is non-zero when Location follows the
	// "telegram:<chat-id>" convention, i.e. the occasion happens in a
	// chat we can observe presence in. Otherwise the location is
	// text-only and presence audits skip it.
	Location     string
	LocationChat int64

	URL string
}

// Source supplies the current list of upcoming events, read-only.
type Source interface {
	ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error)
}

const chatLocationPrefix = "telegram:"

// parseLocationChat extracts the chat id from a "telegram:<id>" location.
// Returns 0 for text-only locations.
func parseLocationChat(loc string) int64 {
	s := strings.TrimSpace(loc)
	if !strings.HasPrefix(s, chatLocationPrefix) {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s[len(chatLocationPrefix):]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// occurrenceID builds the Event.ID for one occurrence of a VEVENT.
func occurrenceID(uid string, start time.Time, recurring bool) string {
	if !recurring {
		return uid
	}
	return uid + "@" + strconv.FormatInt(start.Unix(), 10)
}
