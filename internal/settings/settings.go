// Package settings holds the user-tunable reminder parameters. The record
// is durable (see internal/storage); loading merges missing fields from
// defaults and the merged result is written back, so the stored form is
// always complete.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDailyTime         = "07:00"
	DefaultAuditDelayMinutes = 15
)

// DefaultLeadOffsets returns a fresh copy of the default lead offsets
// (minutes before start).
func DefaultLeadOffsets() []int { return []int{60, 15} }

// Settings is the flat tunable record.
//
// Pointer/nil-able fields distinguish "absent in store" from an explicit
// zero so Merge can fill defaults without clobbering stored values.
type Settings struct {
	// DailyTime is the morning summary time of day, "HH:MM".
	DailyTime string `json:"daily_time"`

	// LeadOffsets are minutes before an event's start at which to remind.
	// 0 means "at start". Order is preserved as configured.
	LeadOffsets []int `json:"lead_offsets"`

	// StartNotificationEnabled adds an at-start reminder for every event.
	StartNotificationEnabled *bool `json:"start_notification_enabled"`

	// AuditDelayMinutes is how long after an event's start the presence
	// audit runs. Must be positive.
	AuditDelayMinutes int `json:"audit_delay_minutes"`
}

func Defaults() Settings {
	on := true
	return Settings{
		DailyTime:                DefaultDailyTime,
		LeadOffsets:              DefaultLeadOffsets(),
		StartNotificationEnabled: &on,
		AuditDelayMinutes:        DefaultAuditDelayMinutes,
	}
}

// Merge fills absent fields of s from defaults and reports whether
// anything was filled (i.e. the store should be rewritten).
func (s *Settings) Merge(def Settings) bool {
	changed := false
	if strings.TrimSpace(s.DailyTime) == "" {
		s.DailyTime = def.DailyTime
		changed = true
	}
	if s.LeadOffsets == nil {
		s.LeadOffsets = append([]int(nil), def.LeadOffsets...)
		changed = true
	}
	if s.StartNotificationEnabled == nil {
		v := *def.StartNotificationEnabled
		s.StartNotificationEnabled = &v
		changed = true
	}
	if s.AuditDelayMinutes <= 0 {
		s.AuditDelayMinutes = def.AuditDelayMinutes
		changed = true
	}
	return changed
}

// Validate rejects records that must never be persisted.
func (s Settings) Validate() error {
	if _, _, err := ParseHHMM(s.DailyTime); err != nil {
		return err
	}
	if len(s.LeadOffsets) == 0 {
		return fmt.Errorf("lead offsets: at least one offset required")
	}
	for _, m := range s.LeadOffsets {
		if m < 0 {
			return fmt.Errorf("lead offsets: %d is negative", m)
		}
	}
	if s.AuditDelayMinutes <= 0 {
		return fmt.Errorf("audit delay: %d minutes is not positive", s.AuditDelayMinutes)
	}
	return nil
}

// StartEnabled dereferences the toggle (default true when unset).
func (s Settings) StartEnabled() bool {
	return s.StartNotificationEnabled == nil || *s.StartNotificationEnabled
}

// AuditDelay returns the audit delay as a duration.
func (s Settings) AuditDelay() time.Duration {
	return time.Duration(s.AuditDelayMinutes) * time.Minute
}

// Clone returns a deep copy so callers can mutate freely.
func (s Settings) Clone() Settings {
	cp := s
	cp.LeadOffsets = append([]int(nil), s.LeadOffsets...)
	if s.StartNotificationEnabled != nil {
		v := *s.StartNotificationEnabled
		cp.StartNotificationEnabled = &v
	}
	return cp
}

// ParseHHMM parses a "HH:MM" time of day.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ParseOffsets parses a comma-separated minutes list, e.g. "60,15,0".
func ParseOffsets(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	seen := map[int]bool{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q", p)
		}
		if n < 0 {
			return nil, fmt.Errorf("offset %d is negative", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no offsets given")
	}
	return out, nil
}
