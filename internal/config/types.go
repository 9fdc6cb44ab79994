package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the process-level configuration file (JSON or YAML).
// Reminder settings (daily time, offsets, audit delay) live in the
// settings store, not here; this file holds what the process needs to
// connect and run.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`

	// Timezone is the IANA zone all schedule math happens in.
	// Default: "Asia/Tokyo".
	Timezone string `json:"timezone,omitempty"`

	Calendar CalendarConfig `json:"calendar"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Health   HealthConfig   `json:"health,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// AnnounceChat receives the morning summary, reminders and audit
	// reports. AnnounceThread is the forum topic id (0 if none).
	AnnounceChat   int64 `json:"announce_chat"`
	AnnounceThread int   `json:"announce_thread,omitempty"`

	// AdminUserIDs may run the mutating commands.
	AdminUserIDs []int64 `json:"admin_user_ids"`

	// PollTimeout is a Go duration string for long polling (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// LogChat receives warning+ log lines (0 disables).
	LogChat int64 `json:"log_chat,omitempty"`

	// PresenceWindow bounds how long observed chat activity counts as
	// "present" (Go duration string, default "3h").
	PresenceWindow string `json:"presence_window,omitempty"`
}

// CalendarConfig points at the ICS feed that supplies events.
type CalendarConfig struct {
	FeedURL string `json:"feed_url"`

	// PollInterval is a Go duration string (default "5m").
	PollInterval string `json:"poll_interval,omitempty"`

	// CacheDir stores the HTTP cache (ETag/Last-Modified + body).
	CacheDir string `json:"cache_dir,omitempty"`
}

// StorageConfig selects the settings/audit store backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./var/yoteibot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
	Chat    LoggingChatConfig `json:"chat,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingChatConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HealthConfig controls the health HTTP endpoint and the optional
// keepalive self-ping (useful on platforms that idle out web services).
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"

	Keepalive bool   `json:"keepalive,omitempty"`
	PingURL   string `json:"ping_url,omitempty"` // default derived from Addr
}

// Validate rejects configs the process cannot run with. It is also the
// watch-time validator, so a bad edit never replaces a good config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.AnnounceChat == 0 {
		return errors.New("telegram.announce_chat is required")
	}
	if strings.TrimSpace(c.Calendar.FeedURL) == "" {
		return errors.New("calendar.feed_url is required")
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	for _, raw := range []struct{ path, val string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.presence_window", c.Telegram.PresenceWindow},
		{"calendar.poll_interval", c.Calendar.PollInterval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(raw.path, raw.val); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves the configured timezone, defaulting to Asia/Tokyo.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
