package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"yoteibot/internal/settings"
	"yoteibot/internal/storage"
	"yoteibot/pkg/logx"
)

// memStore is the minimal in-memory Store for executor tests.
type memStore struct {
	mu    sync.Mutex
	fired map[string]time.Time
	fail  bool
}

func newMemStore() *memStore { return &memStore{fired: map[string]time.Time{}} }

func (m *memStore) LoadSettings(context.Context) (settings.Settings, bool, error) {
	return settings.Settings{}, false, nil
}
func (m *memStore) SaveSettings(context.Context, settings.Settings) error { return nil }
func (m *memStore) AppendAudit(context.Context, storage.AuditEntry) error { return nil }
func (m *memStore) Close() error                                          { return nil }

func (m *memStore) MarkFired(_ context.Context, key string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("store down")
	}
	if exp, ok := m.fired[key]; ok && exp.After(time.Now()) {
		return false, nil
	}
	m.fired[key] = until
	return true, nil
}

func TestExecutorFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	action := func(ctx context.Context, tr Trigger) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	e := NewExecutor(action, newMemStore(), time.Second, logx.Nop())
	tr := Trigger{ID: "event:a:start", Kind: KindStart, At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	// A re-arm racing an in-flight fire delivers the same trigger twice;
	// the fired mark must swallow the duplicate.
	e.Run(tr)
	e.Run(tr)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("action ran %d times, want 1", calls)
	}
}

func TestExecutorSeparateInstantsBothFire(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	action := func(ctx context.Context, tr Trigger) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	e := NewExecutor(action, newMemStore(), time.Second, logx.Nop())
	e.Run(Trigger{ID: "event:a:start", Kind: KindStart, At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)})
	e.Run(Trigger{ID: "event:a:start", Kind: KindStart, At: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)})

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("action ran %d times, want 2 (distinct instants)", calls)
	}
}

func TestExecutorProceedsOnStoreError(t *testing.T) {
	t.Parallel()

	calls := 0
	var mu sync.Mutex
	action := func(ctx context.Context, tr Trigger) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	st := newMemStore()
	st.fail = true
	e := NewExecutor(action, st, time.Second, logx.Nop())
	e.Run(Trigger{ID: "event:a:start", Kind: KindStart, At: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("store failure blocked the action (calls=%d)", calls)
	}
}

func TestExecutorIsolatesPanics(t *testing.T) {
	t.Parallel()

	action := func(ctx context.Context, tr Trigger) error {
		panic("boom")
	}
	e := NewExecutor(action, nil, time.Second, logx.Nop())
	// Must not propagate.
	e.Run(Trigger{ID: "event:p:start", Kind: KindAudit})
}

func TestExecutorNonSendKindsSkipClaim(t *testing.T) {
	t.Parallel()

	calls := 0
	var mu sync.Mutex
	action := func(ctx context.Context, tr Trigger) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	e := NewExecutor(action, newMemStore(), time.Second, logx.Nop())
	tr := Trigger{ID: "daily:rebuild", Kind: KindDailyRebuild, Durable: true}
	e.Run(tr)
	e.Run(tr)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("rebuild kind was claimed (calls=%d, want 2)", calls)
	}
}
