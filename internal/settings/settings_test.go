package settings

import (
	"reflect"
	"testing"
	"time"
)

func TestMergeFillsMissingFields(t *testing.T) {
	t.Parallel()

	// A record stored by an older build: no audit delay, no toggle.
	s := Settings{DailyTime: "08:00", LeadOffsets: []int{30}}

	changed := s.Merge(Defaults())
	if !changed {
		t.Fatalf("merge of a partial record must report a change")
	}
	if s.DailyTime != "08:00" {
		t.Fatalf("merge clobbered stored daily time: %q", s.DailyTime)
	}
	if !reflect.DeepEqual(s.LeadOffsets, []int{30}) {
		t.Fatalf("merge clobbered stored offsets: %v", s.LeadOffsets)
	}
	if s.AuditDelayMinutes != DefaultAuditDelayMinutes {
		t.Fatalf("audit delay = %d, want default %d", s.AuditDelayMinutes, DefaultAuditDelayMinutes)
	}
	if !s.StartEnabled() {
		t.Fatalf("start toggle must default to enabled")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("merged record invalid: %v", err)
	}
}

func TestMergeCompleteRecordUnchanged(t *testing.T) {
	t.Parallel()

	s := Defaults()
	if s.Merge(Defaults()) {
		t.Fatalf("complete record reported a merge change")
	}
}

func TestMergeKeepsExplicitFalseToggle(t *testing.T) {
	t.Parallel()

	off := false
	s := Defaults()
	s.StartNotificationEnabled = &off

	if s.Merge(Defaults()) {
		t.Fatalf("explicit false was treated as absent")
	}
	if s.StartEnabled() {
		t.Fatalf("explicit false toggle lost in merge")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"bad time", func(s *Settings) { s.DailyTime = "25:00" }, false},
		{"no offsets", func(s *Settings) { s.LeadOffsets = []int{} }, false},
		{"negative offset", func(s *Settings) { s.LeadOffsets = []int{-5} }, false},
		{"zero offset ok", func(s *Settings) { s.LeadOffsets = []int{0} }, true},
		{"zero audit delay", func(s *Settings) { s.AuditDelayMinutes = 0 }, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := Defaults()
			tc.mutate(&s)
			err := s.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("invalid record accepted")
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		h, m   int
		wantOK bool
	}{
		{"07:00", 7, 0, true},
		{"23:59", 23, 59, true},
		{"0:05", 0, 5, true},
		{" 9:30 ", 9, 30, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"12", 0, 0, false},
		{"ab:cd", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		h, m, err := ParseHHMM(tc.in)
		if tc.wantOK {
			if err != nil {
				t.Fatalf("%q: unexpected error %v", tc.in, err)
			}
			if h != tc.h || m != tc.m {
				t.Fatalf("%q parsed as %d:%d, want %d:%d", tc.in, h, m, tc.h, tc.m)
			}
			continue
		}
		if err == nil {
			t.Fatalf("%q accepted", tc.in)
		}
	}
}

func TestParseOffsets(t *testing.T) {
	t.Parallel()

	got, err := ParseOffsets("60, 15,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{60, 15, 0}) {
		t.Fatalf("parsed %v", got)
	}

	// Duplicates collapse, order preserved.
	got, err = ParseOffsets("15,60,15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{15, 60}) {
		t.Fatalf("parsed %v, want [15 60]", got)
	}

	// Empty segments are tolerated.
	got, err = ParseOffsets("10,,20")
	if err != nil || !reflect.DeepEqual(got, []int{10, 20}) {
		t.Fatalf("parsed %v, %v", got, err)
	}

	for _, bad := range []string{"", "abc", "-10", ","} {
		if _, err := ParseOffsets(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestAuditDelay(t *testing.T) {
	t.Parallel()
	s := Defaults()
	s.AuditDelayMinutes = 20
	if got := s.AuditDelay(); got != 20*time.Minute {
		t.Fatalf("AuditDelay() = %v", got)
	}
}
