package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"yoteibot/internal/settings"
	"yoteibot/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.settings.json  (the tunable record, rewritten atomically)
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.fired.json     (fired-mark snapshot, rewritten on change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	settingsPath string
	firedPath    string
	auditFile    *os.File

	fired map[string]int64 // key -> expiry unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		settingsPath: prefix + ".settings.json",
		firedPath:    prefix + ".fired.json",
		auditFile:    af,
		fired:        map[string]int64{},
	}
	s.loadFiredLocked()
	s.pruneFiredLocked(time.Now())
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadSettings(ctx context.Context) (settings.Settings, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return settings.Settings{}, false, nil
		}
		return settings.Settings{}, false, err
	}
	var rec settings.Settings
	if err := json.Unmarshal(b, &rec); err != nil {
		return settings.Settings{}, false, err
	}
	return rec, true, nil
}

func (s *fileStore) SaveSettings(ctx context.Context, rec settings.Settings) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.settingsPath, rec)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) MarkFired(ctx context.Context, key string, until time.Time) (bool, error) {
	_ = ctx
	if key == "" {
		return true, nil
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneFiredLocked(now)
	if exp, ok := s.fired[key]; ok && exp > now.UnixMilli() {
		return false, nil
	}
	s.fired[key] = until.UnixMilli()
	if err := writeJSONAtomic(s.firedPath, s.fired); err != nil {
		// The in-memory mark still holds for this process.
		s.log.Warn("fired snapshot write failed", logx.Err(err))
	}
	return true, nil
}

func (s *fileStore) loadFiredLocked() {
	b, err := os.ReadFile(s.firedPath)
	if err != nil {
		return
	}
	m := map[string]int64{}
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("fired snapshot unreadable; starting empty", logx.Err(err))
		return
	}
	s.fired = m
}

func (s *fileStore) pruneFiredLocked(now time.Time) {
	cut := now.UnixMilli()
	for k, exp := range s.fired {
		if exp <= cut {
			delete(s.fired, k)
		}
	}
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
