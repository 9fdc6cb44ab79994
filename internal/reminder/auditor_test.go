package reminder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"yoteibot/internal/attendance"
	"yoteibot/internal/calendar"
	"yoteibot/internal/config"
	"yoteibot/internal/schedule"
	"yoteibot/internal/transport"
	"yoteibot/pkg/logx"
)

// sendRecorder is a transport.Adapter that captures outgoing texts.
type sendRecorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *sendRecorder) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (r *sendRecorder) Stop(ctx context.Context) error                               { return nil }

func (r *sendRecorder) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}

func (r *sendRecorder) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (r *sendRecorder) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (r *sendRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// staticPresence reports a fixed member set for any chat and window.
type staticPresence struct{ ids []int64 }

func (p staticPresence) MembersPresent(ctx context.Context, chat transport.ChatTarget, since time.Time) ([]int64, error) {
	return p.ids, nil
}

func newAuditFixture(bot *sendRecorder, present []int64, optIn ...int64) *Service {
	s := &Service{
		log:      logx.Nop(),
		cfgm:     config.NewManager(""),
		bot:      bot,
		presence: staticPresence{ids: present},
		tracker:  attendance.NewTracker(logx.Nop()),
		loc:      time.UTC,
	}
	ref := transport.MessageRef{ChatID: -100, MessageID: 1}
	s.tracker.NewCycle(ref)
	for _, id := range optIn {
		s.tracker.Apply(ref, id, attendance.OptIn)
	}
	return s
}

func auditTrigger() schedule.Trigger {
	return schedule.Trigger{
		ID:   "event:ev1:audit",
		Kind: schedule.KindAudit,
		Event: &calendar.Event{
			ID:           "ev1",
			Name:         "evening run",
			Start:        time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC),
			LocationChat: -200,
		},
	}
}

func TestAuditAllPresentStaysSilent(t *testing.T) {
	t.Parallel()

	bot := &sendRecorder{}
	s := newAuditFixture(bot, []int64{1, 2}, 1, 2)

	if err := s.runAudit(context.Background(), auditTrigger()); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	if got := bot.messages(); len(got) != 0 {
		t.Fatalf("everyone present but %d message(s) sent: %q", len(got), got)
	}
}

func TestAuditNobodyOptedInStaysSilent(t *testing.T) {
	t.Parallel()

	bot := &sendRecorder{}
	s := newAuditFixture(bot, []int64{1, 2})

	if err := s.runAudit(context.Background(), auditTrigger()); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	if got := bot.messages(); len(got) != 0 {
		t.Fatalf("empty attendance set but %d message(s) sent: %q", len(got), got)
	}
}

func TestAuditReportsOnlyMissing(t *testing.T) {
	t.Parallel()

	bot := &sendRecorder{}
	s := newAuditFixture(bot, []int64{1}, 1, 2)

	if err := s.runAudit(context.Background(), auditTrigger()); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	got := bot.messages()
	if len(got) != 1 {
		t.Fatalf("want exactly one report, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[0], "tg://user?id=2") {
		t.Fatalf("missing member not named: %q", got[0])
	}
	if strings.Contains(got[0], "tg://user?id=1") {
		t.Fatalf("present member accused: %q", got[0])
	}
}

func TestAuditSkipsEventsWithoutChatLocation(t *testing.T) {
	t.Parallel()

	bot := &sendRecorder{}
	s := newAuditFixture(bot, nil, 1, 2)

	tr := auditTrigger()
	tr.Event.LocationChat = 0
	if err := s.runAudit(context.Background(), tr); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	if got := bot.messages(); len(got) != 0 {
		t.Fatalf("unobservable location but %d message(s) sent: %q", len(got), got)
	}
}
