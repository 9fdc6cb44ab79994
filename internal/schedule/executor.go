package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"yoteibot/internal/storage"
	"yoteibot/pkg/logx"
)

// Action executes one fired trigger's work.
type Action func(ctx context.Context, tr Trigger) error

// Executor wraps trigger actions with per-trigger failure isolation: a
// panic or error from one action is logged with the trigger's identity
// and never disturbs other armed timers. There is no automatic retry; a
// failed send is reported, not repeated.
type Executor struct {
	log     logx.Logger
	store   storage.Store // may be nil
	action  Action
	timeout time.Duration
}

func NewExecutor(action Action, store storage.Store, timeout time.Duration, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Executor{log: log, store: store, action: action, timeout: timeout}
}

// Run is the registry's fire callback. Each invocation happens in its
// own goroutine (a one-shot timer callback or a cron entry), so actions
// are concurrent with each other and with reconciliation.
func (e *Executor) Run(tr Trigger) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("trigger action panic",
				logx.String("id", tr.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if !e.claim(ctx, tr) {
		e.log.Debug("trigger already fired; skipping", logx.String("id", tr.ID))
		return
	}

	started := time.Now()
	err := e.action(ctx, tr)
	if err != nil {
		e.log.Warn("trigger action failed",
			logx.String("id", tr.ID),
			logx.String("kind", string(tr.Kind)),
			logx.Duration("took", time.Since(started)),
			logx.Err(err),
		)
		return
	}
	e.log.Info("trigger fired",
		logx.String("id", tr.ID),
		logx.String("kind", string(tr.Kind)),
		logx.Duration("took", time.Since(started)),
	)
}

// claim places a fired mark for send-style triggers so callback races
// (e.g. a re-arm racing an in-flight fire) can't double-send. Best
// effort: with no store, or a store error, the action proceeds.
func (e *Executor) claim(ctx context.Context, tr Trigger) bool {
	if e.store == nil {
		return true
	}
	switch tr.Kind {
	case KindLead, KindStart, KindDailySummary:
	default:
		return true
	}

	key := firedKey(tr)
	first, err := e.store.MarkFired(ctx, key, firedUntil(tr))
	if err != nil {
		e.log.Warn("fired mark failed; proceeding", logx.String("id", tr.ID), logx.Err(err))
		return true
	}
	return first
}

func firedKey(tr Trigger) string {
	if tr.Durable {
		// Durable jobs recur; one mark per calendar activation.
		return fmt.Sprintf("%s@%s", tr.ID, time.Now().Format("2006-01-02"))
	}
	return tr.ID + "@" + strconv.FormatInt(tr.At.Unix(), 10)
}

func firedUntil(tr Trigger) time.Time {
	if tr.Durable {
		return time.Now().Add(24 * time.Hour)
	}
	return tr.At.Add(24 * time.Hour)
}
