package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"yoteibot/internal/calendar"
	"yoteibot/internal/config"
	"yoteibot/internal/eventbus"
	"yoteibot/internal/health"
	"yoteibot/internal/reminder"
	"yoteibot/internal/storage"
	"yoteibot/internal/transport"
	"yoteibot/internal/transport/telegram"
	"yoteibot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logConfig(cfg))
	defer logSvc.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc := cfg.Location()
	bus := eventbus.New()

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: durationOr(cfg.Storage.BusyTimeout, 0),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	feed := calendar.NewFeed(calendar.FeedConfig{
		URL:          cfg.Calendar.FeedURL,
		PollInterval: durationOr(cfg.Calendar.PollInterval, 5*time.Minute),
		CacheDir:     cfg.Calendar.CacheDir,
	}, loc, bus, log.With(logx.String("comp", "calendar")))

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: durationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	// Warning+ log lines go to the ops chat once the bot is connected.
	logSvc.SetChatSink(func(chatID int64, text string) {
		go func() {
			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer scancel()
			_, _ = bot.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, nil)
		}()
	})

	// svc is captured by the health status closure before it exists;
	// /healthz just reports zero triggers until Start.
	var svc *reminder.Service
	hl := health.New(health.Config{
		Enabled:   cfg.Health.Enabled,
		Addr:      cfg.Health.Addr,
		Keepalive: cfg.Health.Keepalive,
		PingURL:   cfg.Health.PingURL,
	}, func() health.Status {
		st := health.Status{LastPoll: feed.LastPoll()}
		if svc != nil {
			st.ArmedTriggers = svc.ArmedCount()
		}
		return st
	}, log.With(logx.String("comp", "health")))
	if err := hl.Start(ctx); err != nil {
		return err
	}
	defer hl.Stop(context.Background())

	svc, err = reminder.New(reminder.Deps{
		Config:    cfgm,
		Bus:       bus,
		Store:     store,
		Feed:      feed,
		Bot:       bot,
		Presence:  bot,
		Menu:      bot,
		Keepalive: hl.Ping,
		Log:       log,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = svc.Stop(stopCtx)
	}()

	// Background loops: calendar polling and config hot-reload.
	go feed.Run(ctx)
	go func() {
		if err := cfgm.Watch(ctx); err != nil {
			log.Warn("config watch unavailable", logx.Err(err))
		}
	}()
	go func() {
		updates := cfgm.Subscribe(4)
		defer cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				logSvc.Apply(logConfig(next))
				bus.Publish(eventbus.Event{Topic: eventbus.TopicConfigChanged})
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}
	log.Info("yoteibot running", logx.String("config", cfgPath))

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, _ := config.ParseDurationOrDefault("", raw, def)
	return d
}
