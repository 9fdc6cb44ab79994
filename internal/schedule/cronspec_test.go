package schedule

import (
	"testing"
	"time"
)

func TestOneShotSpecRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []time.Time{
		time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 10, 30, 0, 0, time.UTC), // leap day
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, at := range cases {
		spec := oneShotSpec(at)
		sched, err := specParser.Parse(spec)
		if err != nil {
			t.Fatalf("%v: spec %q does not parse: %v", at, spec, err)
		}
		next := sched.Next(at.Add(-time.Minute))
		if !next.Equal(at) {
			t.Fatalf("%v: spec %q resolves to %v", at, spec, next)
		}
		if !validOneShot(at) {
			t.Fatalf("%v rejected by validOneShot", at)
		}
	}
}

func TestValidOneShotRejectsZero(t *testing.T) {
	t.Parallel()
	if validOneShot(time.Time{}) {
		t.Fatalf("zero time accepted")
	}
}

func TestDailySpec(t *testing.T) {
	t.Parallel()

	spec := dailySpec(7, 30)
	if spec != "30 7 * * *" {
		t.Fatalf("dailySpec(7,30) = %q", spec)
	}
	sched, err := specParser.Parse(spec)
	if err != nil {
		t.Fatalf("daily spec does not parse: %v", err)
	}
	from := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	want := time.Date(2024, 5, 2, 7, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next activation %v, want %v", next, want)
	}
}
