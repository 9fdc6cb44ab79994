package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// The one-shot timers fire on plain time.Time instants; the cron
// expression form exists only at this boundary, where a general
// recurrence mechanism (robfig/cron) validates that the instant is a
// real calendar moment and computes activations for durable schedules.

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// oneShotSpec encodes an instant as a cron expression that matches the
// instant's minute once a year. The expression is never re-armed: the
// job it describes is removed after its single intended activation.
func oneShotSpec(t time.Time) string {
	return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}

// validOneShot reports whether t survives a round trip through its cron
// encoding: the expression's next activation after t-1m must be t's
// minute. Malformed source timestamps (zero times, nonsense dates) fail
// this and the trigger is skipped rather than armed wrong.
func validOneShot(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	sched, err := specParser.Parse(oneShotSpec(t))
	if err != nil {
		return false
	}
	want := t.Truncate(time.Minute)
	next := sched.Next(want.Add(-time.Minute))
	return next.Equal(want)
}

// dailySpec builds the recurring expression for a daily HH:MM schedule.
func dailySpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}
