// Package reminder is the application core: it owns the settings
// record, compiles and reconciles the trigger schedule, sends the
// morning summary and per-event reminders, collects attendance answers
// and runs the post-start presence audit.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"yoteibot/internal/attendance"
	"yoteibot/internal/calendar"
	"yoteibot/internal/config"
	"yoteibot/internal/eventbus"
	"yoteibot/internal/runtime/supervisor"
	"yoteibot/internal/schedule"
	"yoteibot/internal/settings"
	"yoteibot/internal/storage"
	"yoteibot/internal/transport"
	"yoteibot/pkg/logx"
)

// rebuildDebounce coalesces bursts of change signals (config save,
// calendar refresh, settings command) into one reconcile pass.
const rebuildDebounce = 500 * time.Millisecond

type Deps struct {
	Config *config.Manager
	Bus    eventbus.Bus
	Store  storage.Store // nil runs on in-memory defaults
	Feed   *calendar.Feed
	Bot    transport.Adapter

	// Presence is optional; without it audits report only opt-ins.
	Presence transport.PresenceSource
	// Menu is optional (platform command menu sync).
	Menu transport.CommandMenuUpdater
	// Keepalive is called by the recurring self-ping trigger.
	Keepalive func(ctx context.Context) error

	Log logx.Logger
}

type Service struct {
	log logx.Logger

	cfgm      *config.Manager
	bus       eventbus.Bus
	store     storage.Store
	feed      *calendar.Feed
	bot       transport.Adapter
	presence  transport.PresenceSource
	menu      transport.CommandMenuUpdater
	keepalive func(ctx context.Context) error

	loc      *time.Location
	registry *schedule.Registry
	exec     *schedule.Executor
	tracker  *attendance.Tracker

	mu  sync.Mutex
	set settings.Settings

	sup     *supervisor.Supervisor
	updates chan transport.Update

	started time.Time
}

func New(d Deps) (*Service, error) {
	if d.Config == nil || d.Bus == nil || d.Feed == nil || d.Bot == nil {
		return nil, fmt.Errorf("reminder: config, bus, feed and bot are required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log,
		cfgm:      d.Config,
		bus:       d.Bus,
		store:     d.Store,
		feed:      d.Feed,
		bot:       d.Bot,
		presence:  d.Presence,
		menu:      d.Menu,
		keepalive: d.Keepalive,
		tracker:   attendance.NewTracker(log.With(logx.String("comp", "attendance"))),
		updates:   make(chan transport.Update, 64),
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) error {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("reminder: config not loaded")
	}
	// Timezone is fixed for the process lifetime; changing it in the
	// config file takes effect on restart.
	s.loc = cfg.Location()
	s.started = time.Now()

	s.loadSettings(ctx)

	s.exec = schedule.NewExecutor(s.execute, s.store, time.Minute, s.log.With(logx.String("comp", "executor")))
	s.registry = schedule.NewRegistry(s.loc, s.exec.Run, s.log.With(logx.String("comp", "registry")))
	s.registry.Start()

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "reminder"))))

	if err := s.bot.Start(s.sup.Context(), s.updates); err != nil {
		s.registry.Stop(ctx)
		return err
	}

	s.rebuild(s.sup.Context(), "startup")

	s.sup.Go("bus.rebuild", s.rebuildLoop)
	s.sup.Go("updates.consume", s.consumeLoop)

	if s.menu != nil {
		mctx, cancel := context.WithTimeout(s.sup.Context(), 10*time.Second)
		defer cancel()
		if err := s.menu.UpdateMenuCommands(mctx, commandMenu()); err != nil {
			s.log.Warn("command menu sync failed", logx.Err(err))
		}
	}

	s.log.Info("reminder service started",
		logx.String("tz", s.loc.String()),
		logx.String("settings", formatSettings(s.currentSettings())))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.sup != nil {
		s.sup.Cancel()
	}
	_ = s.bot.Stop(ctx)
	if s.registry != nil {
		s.registry.Stop(ctx)
	}
	if s.sup != nil {
		grace := 5 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < grace {
				grace = rem
			}
		}
		if err := s.sup.Stop(grace); err != nil {
			s.log.Warn("reminder stop timed out", logx.Err(err))
		}
	}
	return nil
}

// loadSettings reads the stored record, fills missing fields from
// defaults and writes the completed record back so the stored form is
// always full. A store that can't be read or validated is never fatal:
// the scheduler proceeds on defaults and logs the corruption.
func (s *Service) loadSettings(ctx context.Context) {
	set := settings.Defaults()
	if s.store != nil {
		stored, ok, err := s.store.LoadSettings(ctx)
		if err != nil {
			s.log.Warn("settings store unreadable, using defaults", logx.Err(err))
		} else if ok {
			merged := stored.Merge(settings.Defaults())
			if err := stored.Validate(); err != nil {
				s.log.Warn("stored settings invalid, using defaults", logx.Err(err))
			} else {
				set = stored
				if merged {
					if err := s.store.SaveSettings(ctx, set); err != nil {
						s.log.Warn("settings merge write-back failed", logx.Err(err))
					}
				}
			}
		} else if err := s.store.SaveSettings(ctx, set); err != nil {
			s.log.Warn("initial settings write failed", logx.Err(err))
		}
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
}

func (s *Service) currentSettings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone()
}

// saveSettings validates, persists and installs a new record, then
// signals the rebuild loop.
func (s *Service) saveSettings(ctx context.Context, set settings.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveSettings(ctx, set); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.set = set.Clone()
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Topic: eventbus.TopicSettingsChanged})
	return nil
}

// rebuildLoop turns bus signals into debounced reconcile passes.
func (s *Service) rebuildLoop(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()

	var timer *time.Timer
	var timerC <-chan time.Time
	reason := ""

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Topic {
			case eventbus.TopicSettingsChanged, eventbus.TopicConfigChanged,
				eventbus.TopicCalendarChanged, eventbus.TopicDayBoundary:
			default:
				continue
			}
			reason = e.Topic
			if timer == nil {
				timer = time.NewTimer(rebuildDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(rebuildDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			s.rebuild(ctx, reason)
		}
	}
}

// rebuild recompiles the required trigger set from the current events
// and settings and reconciles the registry against it.
func (s *Service) rebuild(ctx context.Context, reason string) {
	cfg := s.cfgm.Get()
	now := time.Now().In(s.loc)
	from := startOfDay(now)

	// Listing starts a day back: a late event's audit can still be due
	// after midnight and must stay armed across the boundary.
	events, err := s.feed.ListUpcoming(ctx, from.AddDate(0, 0, -1), from.Add(8*24*time.Hour))
	if err != nil {
		s.log.Warn("event listing failed, keeping previous schedule", logx.Err(err))
		return
	}

	opt := schedule.CompileOptions{
		Keepalive: cfg != nil && cfg.Health.Enabled && cfg.Health.Keepalive,
	}
	required := schedule.Compile(now, events, s.currentSettings(), opt, s.log)
	stats := s.registry.Reconcile(required)

	s.log.Info("schedule reconciled",
		logx.String("reason", reason),
		logx.Int("required", len(required)),
		logx.Int("armed", stats.Armed),
		logx.Int("rearmed", stats.Rearmed),
		logx.Int("removed", stats.Removed),
		logx.Int("kept", stats.Kept))
}

// execute is the single dispatch point for fired triggers. It runs on
// the executor, which already provides panic isolation and the
// at-most-once claim for notification kinds.
func (s *Service) execute(ctx context.Context, tr schedule.Trigger) error {
	switch tr.Kind {
	case schedule.KindDailySummary:
		return s.sendSummary(ctx)
	case schedule.KindDailyRebuild:
		// Day rolled over: yesterday's one-shots are stale and today's
		// events need arming. The rebuild loop owns the actual pass.
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicDayBoundary})
		return nil
	case schedule.KindKeepalive:
		if s.keepalive == nil {
			return nil
		}
		return s.keepalive(ctx)
	case schedule.KindLead:
		return s.sendLead(ctx, tr)
	case schedule.KindStart:
		return s.sendStart(ctx, tr)
	case schedule.KindAudit:
		return s.runAudit(ctx, tr)
	default:
		return fmt.Errorf("unknown trigger kind %q", tr.Kind)
	}
}

func (s *Service) announceTarget() transport.ChatTarget {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return transport.ChatTarget{}
	}
	return transport.ChatTarget{
		ChatID:   cfg.Telegram.AnnounceChat,
		ThreadID: cfg.Telegram.AnnounceThread,
	}
}

func htmlOpts() *transport.SendOptions {
	return &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

// sendSummary posts the morning summary and opens a fresh attendance
// cycle bound to it. Opening the cycle even on empty days keeps buttons
// on older summaries dead.
func (s *Service) sendSummary(ctx context.Context) error {
	now := time.Now().In(s.loc)
	from := startOfDay(now)
	events, err := s.feed.ListUpcoming(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("summary listing: %w", err)
	}

	opt := htmlOpts()
	if len(events) > 0 {
		opt.Buttons = rsvpButtons()
	}
	ref, err := s.bot.SendText(ctx, s.announceTarget(), formatSummary(now, events, s.loc), opt)
	if err != nil {
		return fmt.Errorf("summary send: %w", err)
	}
	s.tracker.NewCycle(ref)
	s.log.Info("daily summary sent", logx.Int("events", len(events)), logx.Int("message", ref.MessageID))
	return nil
}

func (s *Service) sendLead(ctx context.Context, tr schedule.Trigger) error {
	if tr.Event == nil {
		return fmt.Errorf("lead trigger %s has no event", tr.ID)
	}
	_, err := s.bot.SendText(ctx, s.announceTarget(), formatLead(tr.Event, tr.Offset, s.loc), htmlOpts())
	return err
}

func (s *Service) sendStart(ctx context.Context, tr schedule.Trigger) error {
	if tr.Event == nil {
		return fmt.Errorf("start trigger %s has no event", tr.ID)
	}
	_, err := s.bot.SendText(ctx, s.announceTarget(), formatStart(tr.Event, len(s.tracker.Attending())), htmlOpts())
	return err
}

// consumeLoop drains adapter updates: callbacks feed attendance, text
// messages feed the command router.
func (s *Service) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-s.updates:
			switch up.Kind {
			case transport.UpdateCallback:
				if up.Callback != nil {
					s.handleCallback(ctx, up.Callback)
				}
			case transport.UpdateMessage:
				if up.Message != nil && strings.HasPrefix(up.Message.Text, "/") {
					s.handleCommand(ctx, up.Message)
				}
			}
		}
	}
}

func (s *Service) handleCallback(ctx context.Context, cb *transport.Callback) {
	var sig attendance.Signal
	switch cb.Data {
	case cbOptIn:
		sig = attendance.OptIn
	case cbOptOut:
		sig = attendance.OptOut
	default:
		_ = s.bot.AnswerCallback(ctx, cb.ID, "")
		return
	}

	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if !s.tracker.Apply(ref, cb.FromID, sig) {
		_ = s.bot.AnswerCallback(ctx, cb.ID, "That summary is no longer active.")
		return
	}

	reply := "Noted, see you there! ✅"
	if sig == attendance.OptOut {
		reply = "Noted, maybe next time. ❌"
	}
	if err := s.bot.AnswerCallback(ctx, cb.ID, reply); err != nil {
		s.log.Debug("callback answer failed", logx.Err(err))
	}
}

// ArmedCount reports the currently armed trigger count (0 before Start).
func (s *Service) ArmedCount() int {
	if s.registry == nil {
		return 0
	}
	return s.registry.ArmedCount()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
