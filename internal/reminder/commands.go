package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"yoteibot/internal/settings"
	"yoteibot/internal/storage"
	"yoteibot/internal/transport"
	"yoteibot/pkg/logx"
)

func commandMenu() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "events", Description: "List the coming week's events"},
		{Command: "status", Description: "Scheduler and settings status"},
		{Command: "ping", Description: "Liveness check"},
		{Command: "summary", Description: "Resend today's summary (admin)"},
		{Command: "settime", Description: "Set morning summary time, HH:MM (admin)"},
		{Command: "setoffsets", Description: "Set reminder offsets in minutes, e.g. 60,15 (admin)"},
		{Command: "togglestart", Description: "Toggle the at-start notification (admin)"},
		{Command: "setauditdelay", Description: "Set presence audit delay in minutes (admin)"},
	}
}

func (s *Service) isAdmin(userID int64) bool {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return false
	}
	for _, id := range cfg.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Service) reply(ctx context.Context, m *transport.Message, text string) {
	to := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := s.bot.SendText(ctx, to, text, htmlOpts()); err != nil {
		s.log.Warn("command reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

// recordAdminAction appends to the persistent audit trail. Best-effort:
// a failed append never fails the command itself.
func (s *Service) recordAdminAction(ctx context.Context, m *transport.Message, action, detail string, cmdErr error) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       m.FromID,
		ActorUsername: m.FromUsername,
		ChatID:        m.ChatID,
		Action:        action,
		Detail:        detail,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) handleCommand(ctx context.Context, m *transport.Message) {
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return
	}
	// "/settime@botname" in group chats carries the bot mention.
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := fields[1:]

	switch cmd {
	case "/ping":
		s.reply(ctx, m, fmt.Sprintf("pong · up %s", time.Since(s.started).Round(time.Second)))
	case "/events":
		s.cmdEvents(ctx, m)
	case "/status":
		s.cmdStatus(ctx, m)
	case "/summary":
		s.runAdmin(ctx, m, "summary", "", func(set *settings.Settings) error { return nil }, func() error {
			return s.sendSummary(ctx)
		})
	case "/settime":
		if len(args) != 1 {
			s.reply(ctx, m, "Usage: /settime HH:MM")
			return
		}
		s.cmdMutate(ctx, m, "settime", args[0], func(set *settings.Settings) error {
			if _, _, err := settings.ParseHHMM(args[0]); err != nil {
				return err
			}
			set.DailyTime = args[0]
			return nil
		})
	case "/setoffsets":
		if len(args) != 1 {
			s.reply(ctx, m, "Usage: /setoffsets 60,15")
			return
		}
		s.cmdMutate(ctx, m, "setoffsets", args[0], func(set *settings.Settings) error {
			offsets, err := settings.ParseOffsets(args[0])
			if err != nil {
				return err
			}
			set.LeadOffsets = offsets
			return nil
		})
	case "/togglestart":
		s.cmdMutate(ctx, m, "togglestart", "", func(set *settings.Settings) error {
			v := !set.StartEnabled()
			set.StartNotificationEnabled = &v
			return nil
		})
	case "/setauditdelay":
		if len(args) != 1 {
			s.reply(ctx, m, "Usage: /setauditdelay <minutes>")
			return
		}
		s.cmdMutate(ctx, m, "setauditdelay", args[0], func(set *settings.Settings) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("audit delay must be a positive number of minutes")
			}
			set.AuditDelayMinutes = n
			return nil
		})
	}
}

func (s *Service) cmdEvents(ctx context.Context, m *transport.Message) {
	now := time.Now().In(s.loc)
	events, err := s.feed.ListUpcoming(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		s.reply(ctx, m, "Could not read the calendar right now.")
		return
	}
	s.reply(ctx, m, formatUpcoming(events, s.loc))
}

func (s *Service) cmdStatus(ctx context.Context, m *transport.Message) {
	in, out := s.tracker.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ %s\n", formatSettings(s.currentSettings()))
	fmt.Fprintf(&b, "armed triggers: %d\n", s.registry.ArmedCount())
	fmt.Fprintf(&b, "attendance: %d in / %d out\n", in, out)
	if lp := s.feed.LastPoll(); !lp.IsZero() {
		fmt.Fprintf(&b, "calendar polled %s ago\n", time.Since(lp).Round(time.Second))
	}
	fmt.Fprintf(&b, "uptime %s", time.Since(s.started).Round(time.Second))
	s.reply(ctx, m, b.String())
}

// cmdMutate is the shared path for settings commands: admin gate,
// mutate a copy, validate+persist, audit, signal rebuild, confirm.
func (s *Service) cmdMutate(ctx context.Context, m *transport.Message, action, detail string, mutate func(*settings.Settings) error) {
	s.runAdmin(ctx, m, action, detail, mutate, nil)
}

func (s *Service) runAdmin(ctx context.Context, m *transport.Message, action, detail string, mutate func(*settings.Settings) error, after func() error) {
	if !s.isAdmin(m.FromID) {
		s.reply(ctx, m, "Admins only.")
		return
	}

	set := s.currentSettings()
	err := mutate(&set)
	if err == nil && after == nil {
		err = s.saveSettings(ctx, set)
	}
	if err == nil && after != nil {
		err = after()
	}

	s.recordAdminAction(ctx, m, action, detail, err)
	if err != nil {
		s.reply(ctx, m, "⚠️ "+err.Error())
		return
	}
	if after != nil {
		return // the action itself is the visible result
	}
	s.reply(ctx, m, "Saved. "+formatSettings(set))
	s.log.Info("settings changed",
		logx.String("action", action),
		logx.String("detail", detail),
		logx.Int64("actor", m.FromID))
}
