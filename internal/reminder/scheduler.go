package reminder

import (
	"context"
	"errors"
	"sort"
	"time"

	appLog "ctfcal/internal/log"
	"ctfcal/internal/loop"
	"ctfcal/internal/model"
)

// Runner accepts work for the goroutine that owns the scheduler.
type Runner interface {
	Submit(ctx context.Context, t loop.Task) error
}

// FireFunc is called on the runner goroutine when a job is due.
type FireFunc func(ctx context.Context, job Job)

// Job is a pending reminder.
type Job struct {
	Key Key
	At  time.Time
}

type entry struct {
	Job
	timer Timer
	seq   uint64
}

// Options configure which reminders are planned.
type Options struct {
	Location *time.Location
	// Days are day offsets (reminder at local midnight d days before).
	Days []int
	// Hours is the short lead time; 0 disables it.
	Hours int
	Clock Clock
}

// Scheduler keeps at most one timer per Key.
//
// Every method except the timer callbacks must be called from the runner
// goroutine; timer callbacks only hand work to the runner.
type Scheduler struct {
	opts   Options
	runner Runner
	fire   FireFunc

	jobs map[Key]*entry
	seq  uint64
}

// NewScheduler builds a Scheduler. fire runs on runner when a job is due.
func NewScheduler(opts Options, runner Runner, fire FireFunc) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &Scheduler{
		opts:   opts,
		runner: runner,
		fire:   fire,
		jobs:   make(map[Key]*entry),
	}
}

// Schedule registers the reminders of ev whose instants are strictly after
// now. Keys that already have a job are left untouched. It returns the
// number of jobs created.
func (s *Scheduler) Schedule(ev model.Event, now time.Time) int {
	created := 0
	for _, r := range Plan(ev.StartUTC, s.opts.Location, s.opts.Days, s.opts.Hours) {
		if !r.At.After(now) {
			continue
		}
		key := Key{UID: ev.UID, Kind: r.Kind}
		if _, ok := s.jobs[key]; ok {
			continue
		}
		s.seq++
		e := &entry{Job: Job{Key: key, At: r.At}, seq: s.seq}
		seq := e.seq
		e.timer = s.opts.Clock.AfterFunc(r.At.Sub(now), func() {
			s.expired(key, seq)
		})
		s.jobs[key] = e
		created++
		appLog.Debug("reminder scheduled", "uid", ev.UID, "kind", r.Kind.String(), "at", r.At.Format(time.RFC3339))
	}
	return created
}

// expired runs on the timer goroutine.
func (s *Scheduler) expired(key Key, seq uint64) {
	err := s.runner.Submit(context.Background(), func(ctx context.Context) {
		s.run(ctx, key, seq)
	})
	if err != nil && !errors.Is(err, loop.ErrStopped) {
		appLog.Error("reminder submit failed", err, "key", key.String())
	}
}

func (s *Scheduler) run(ctx context.Context, key Key, seq uint64) {
	e, ok := s.jobs[key]
	if !ok || e.seq != seq {
		// Cancelled or replaced after the timer had already fired.
		return
	}
	delete(s.jobs, key)
	if s.fire != nil {
		s.fire(ctx, e.Job)
	}
}

// Cancel stops the job for key if present.
func (s *Scheduler) Cancel(key Key) bool {
	e, ok := s.jobs[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.jobs, key)
	return true
}

// CancelAll stops every job owned by uid and returns how many there were.
func (s *Scheduler) CancelAll(uid string) int {
	n := 0
	for key := range s.jobs {
		if key.UID == uid && s.Cancel(key) {
			n++
		}
	}
	return n
}

// Has reports whether a job for key is pending.
func (s *Scheduler) Has(key Key) bool {
	_, ok := s.jobs[key]
	return ok
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Pending returns pending jobs ordered by fire instant.
func (s *Scheduler) Pending() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.Job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Stop stops every timer and forgets all jobs.
func (s *Scheduler) Stop() {
	for key, e := range s.jobs {
		e.timer.Stop()
		delete(s.jobs, key)
	}
}
