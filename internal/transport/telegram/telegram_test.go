package telegram

import (
	"strings"
	"testing"
	"time"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 4000, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("short text split: %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString(strings.Repeat("x", 80))
		b.WriteString("\n")
	}
	chunks := splitText(b.String(), 500, "")
	if len(chunks) < 2 {
		t.Fatalf("long text not split: %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 500 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
		// Newline splitting keeps lines whole.
		for _, line := range strings.Split(c, "\n") {
			if len(line) != 80 {
				t.Fatalf("chunk %d broke a line: %d chars", i, len(line))
			}
		}
	}
}

func TestSplitTextAvoidsHTMLTagBreak(t *testing.T) {
	t.Parallel()

	// Place a tag straddling the limit.
	s := strings.Repeat("a", 495) + "<b>bold</b>" + strings.Repeat("c", 100)
	chunks := splitText(s, 500, "HTML")
	for i, c := range chunks {
		open := strings.Count(c, "<")
		closed := strings.Count(c, ">")
		if open != closed {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}

func TestSeenTrackerPresent(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	tr := newSeenTracker(func() time.Time { return now })

	tr.Mark(-100, 1)
	now = base.Add(30 * time.Minute)
	tr.Mark(-100, 2)
	tr.Mark(-200, 3) // different chat

	got := tr.Present(-100, base.Add(10*time.Minute))
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("present since +10m = %v, want [2]", got)
	}

	got = tr.Present(-100, base)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("present since base = %v, want [1 2]", got)
	}

	if got := tr.Present(-300, base); got != nil {
		t.Fatalf("unknown chat = %v", got)
	}
}

func TestSeenTrackerSweep(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	tr := newSeenTracker(func() time.Time { return now })

	tr.Mark(-100, 1)

	// Far beyond retention; the next mark triggers the sweep.
	now = base.Add(seenRetention + 2*time.Hour)
	tr.Mark(-100, 2)

	got := tr.Present(-100, time.Time{})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("stale entry survived sweep: %v", got)
	}
}

func TestSeenTrackerRemark(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	tr := newSeenTracker(func() time.Time { return now })

	tr.Mark(-100, 1)
	now = base.Add(time.Hour)
	tr.Mark(-100, 1)

	// The newer mark wins.
	if got := tr.Present(-100, base.Add(30*time.Minute)); len(got) != 1 {
		t.Fatalf("re-marked user missing: %v", got)
	}
}
