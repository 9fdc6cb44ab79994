// Package schedule is the scheduling and reconciliation engine: it
// compiles the current event list and settings into the set of triggers
// that must fire, and keeps the armed timer set matching that required
// set without duplicating or dropping fires.
package schedule

import (
	"fmt"
	"time"

	"yoteibot/internal/calendar"
)

type Kind string

const (
	KindDailySummary Kind = "daily-summary"
	KindDailyRebuild Kind = "daily-rebuild"
	KindKeepalive    Kind = "keepalive-ping"
	KindLead         Kind = "lead-notification"
	KindStart        Kind = "start-notification"
	KindAudit        Kind = "presence-audit"
)

// Trigger is one compiled unit of scheduled work.
//
// Identity (ID) is derived only from stable fields: two triggers with
// the same ID are the same logical job, and registering one replaces any
// previously armed job of that identity.
//
// Durable triggers (daily summary, daily rebuild, keepalive) recur on
// Spec and survive across cycles. Event-scoped triggers fire once at At;
// Spec carries the equivalent single-occurrence cron expression for
// logging and validation only.
type Trigger struct {
	ID      string
	Kind    Kind
	Durable bool

	Spec string
	At   time.Time

	Event  *calendar.Event
	Offset time.Duration
}

const (
	idDailySummary = "daily:summary"
	idDailyRebuild = "daily:rebuild"
	idKeepalive    = "health:ping"
)

func leadID(eventID string, offset time.Duration) string {
	return fmt.Sprintf("event:%s:lead:%d", eventID, int(offset.Minutes()))
}

func startID(eventID string) string {
	return fmt.Sprintf("event:%s:start", eventID)
}

func auditID(eventID string) string {
	return fmt.Sprintf("event:%s:audit", eventID)
}
