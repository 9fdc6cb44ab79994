package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"yoteibot/pkg/logx"
)

// Registry owns the armed timer set. Reconcile makes it match a required
// trigger set: add what's missing, remove what's stale, and leave
// unchanged jobs alone. At most one job per identity is armed at any
// instant, and Reconcile is idempotent — calling it twice with the same
// set performs no cancels and no re-arms on the second call.
//
// Two namespaces:
//   - durable identities run as entries on a cron.Cron and survive
//     across cycles;
//   - event-scoped identities run as one-shot timers, version-guarded so
//     a cancelled timer's late callback can never fire a stale trigger.
type Registry struct {
	log logx.Logger
	loc *time.Location
	run func(Trigger)

	mu      sync.Mutex
	started bool

	c       *cron.Cron
	durable map[string]*durableJob

	oneshot map[string]*oneShotJob
	ver     uint64
}

type durableJob struct {
	trig  Trigger
	entry cron.EntryID
}

type oneShotJob struct {
	trig  Trigger
	at    time.Time
	ver   uint64
	timer *time.Timer
}

// Stats reports what one Reconcile call did.
type Stats struct {
	Armed   int // newly armed identities
	Rearmed int // same identity, different fire instant/spec
	Removed int // stale identities cancelled
	Kept    int // untouched
}

func NewRegistry(loc *time.Location, run func(Trigger), log logx.Logger) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:     log,
		loc:     loc,
		run:     run,
		durable: map[string]*durableJob{},
		oneshot: map[string]*oneShotJob{},
	}
}

func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c = cron.New(cron.WithParser(specParser), cron.WithLocation(r.loc))
	// Entries registered before Start are re-armed here.
	for id, dj := range r.durable {
		r.armDurableLocked(id, dj)
	}
	r.c.Start()
}

// Stop cancels all armed jobs and waits for in-flight cron callbacks.
// A one-shot callback already executing is allowed to complete.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	c := r.c
	r.c = nil
	for id, job := range r.oneshot {
		job.timer.Stop()
		delete(r.oneshot, id)
	}
	for id := range r.durable {
		delete(r.durable, id)
	}
	r.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
}

// Reconcile brings the armed set in line with required. Safe to call
// arbitrarily often and concurrently with firing timers.
func (r *Registry) Reconcile(required []Trigger) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Stats
	want := make(map[string]bool, len(required))

	for _, tr := range required {
		want[tr.ID] = true
		if tr.Durable {
			st.add(r.reconcileDurableLocked(tr))
		} else {
			st.add(r.reconcileOneShotLocked(tr))
		}
	}

	// Prune what's armed but no longer required.
	for id, dj := range r.durable {
		if want[id] {
			continue
		}
		if r.c != nil {
			r.c.Remove(dj.entry)
		}
		delete(r.durable, id)
		st.Removed++
		r.log.Debug("trigger removed", logx.String("id", id))
	}
	for id, job := range r.oneshot {
		if want[id] {
			continue
		}
		job.timer.Stop()
		delete(r.oneshot, id)
		st.Removed++
		r.log.Debug("trigger removed", logx.String("id", id))
	}

	return st
}

func (r *Registry) reconcileDurableLocked(tr Trigger) (change Stats) {
	if dj, ok := r.durable[tr.ID]; ok {
		if dj.trig.Spec == tr.Spec {
			change.Kept++
			return change
		}
		if r.c != nil {
			r.c.Remove(dj.entry)
		}
		delete(r.durable, tr.ID)
		change.Rearmed++
	} else {
		change.Armed++
	}

	dj := &durableJob{trig: tr}
	r.durable[tr.ID] = dj
	if r.started {
		r.armDurableLocked(tr.ID, dj)
	}
	return change
}

func (r *Registry) armDurableLocked(id string, dj *durableJob) {
	trig := dj.trig
	entry, err := r.c.AddFunc(trig.Spec, func() { r.run(trig) })
	if err != nil {
		r.log.Error("durable trigger registration failed",
			logx.String("id", id), logx.String("spec", trig.Spec), logx.Err(err))
		delete(r.durable, id)
		return
	}
	dj.entry = entry
	r.log.Debug("trigger armed", logx.String("id", id), logx.String("spec", trig.Spec))
}

func (r *Registry) reconcileOneShotLocked(tr Trigger) (change Stats) {
	if job, ok := r.oneshot[tr.ID]; ok {
		if job.at.Equal(tr.At) {
			change.Kept++
			return change
		}
		// Fire instant moved: cancel and re-arm. Stop may race a timer
		// that already fired; the version guard makes the late callback
		// a no-op either way.
		job.timer.Stop()
		delete(r.oneshot, tr.ID)
		change.Rearmed++
	} else {
		change.Armed++
	}

	r.ver++
	job := &oneShotJob{trig: tr, at: tr.At, ver: r.ver}
	id := tr.ID
	ver := r.ver
	delay := time.Until(tr.At)
	if delay < 0 {
		delay = 0
	}
	job.timer = time.AfterFunc(delay, func() { r.fireOneShot(id, ver) })
	r.oneshot[id] = job
	r.log.Debug("trigger armed",
		logx.String("id", id), logx.Time("at", tr.At), logx.String("spec", tr.Spec))
	return change
}

// fireOneShot runs in the timer's own goroutine. It claims the armed
// entry under the lock (so a concurrent Reconcile can't double-fire or
// resurrect it) and then executes outside the lock.
func (r *Registry) fireOneShot(id string, ver uint64) {
	r.mu.Lock()
	job, ok := r.oneshot[id]
	if !ok || job.ver != ver {
		r.mu.Unlock()
		return
	}
	delete(r.oneshot, id)
	run := r.run
	r.mu.Unlock()

	run(job.trig)
}

// Armed returns the sorted identities currently armed (both namespaces).
func (r *Registry) Armed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.durable)+len(r.oneshot))
	for id := range r.durable {
		out = append(out, id)
	}
	for id := range r.oneshot {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ArmedCount reports how many identities are currently armed.
func (r *Registry) ArmedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.durable) + len(r.oneshot)
}

func (s *Stats) add(o Stats) {
	s.Armed += o.Armed
	s.Rearmed += o.Rearmed
	s.Removed += o.Removed
	s.Kept += o.Kept
}
