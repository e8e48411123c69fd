// Package tracker reconciles the polled feed with the event cache and
// drives reminder scheduling and announcements.
package tracker

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "ctfcal/internal/log"
	"ctfcal/internal/loop"
	"ctfcal/internal/model"
	"ctfcal/internal/notify"
	"ctfcal/internal/reminder"
)

const (
	defaultNotifyTimeout = 15 * time.Second
	defaultListingLimit  = 10
	defaultSyncTimeout   = 5 * time.Minute

	syncKey = "sync"
)

// Source yields the feed's events sorted by StartUTC.
type Source interface {
	Events(ctx context.Context) ([]model.Event, error)
}

// Options configure a Service.
type Options struct {
	Location *time.Location
	// ReminderDays / ReminderHours are passed to the reminder scheduler.
	ReminderDays  []int
	ReminderHours int
	// AnnounceNew sends a message for every newly seen event. The first
	// successful cycle of a Service only primes the cache and never
	// announces.
	AnnounceNew   bool
	NotifyTimeout time.Duration
	// SyncTimeout bounds one whole cycle, independent of any caller.
	SyncTimeout  time.Duration
	ListingLimit int
	Clock        reminder.Clock
}

// Report summarizes one sync cycle.
type Report struct {
	Scanned     int `json:"scanned"`
	Live        int `json:"live"`
	Added       int `json:"added"`
	Rescheduled int `json:"rescheduled"`
	Removed     int `json:"removed"`
	Jobs        int `json:"jobs"`
}

// Snapshot is a read-only copy of the tracked state.
type Snapshot struct {
	Events []model.Event
	Jobs   []reminder.Job
}

// Service owns the event cache and the reminder job table. Both are only
// touched from tasks running on the loop.
type Service struct {
	src      Source
	notifier notify.Notifier
	loop     *loop.Loop
	opts     Options

	cache *Cache
	sched *reminder.Scheduler
	// primed is set after the first applied cycle. Loop-owned.
	primed bool

	group singleflight.Group
}

// New creates a Service. lp must be running (or about to run) for Sync and
// reminder firings to make progress.
func New(src Source, notifier notify.Notifier, lp *loop.Loop, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock{}
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.ListingLimit <= 0 {
		opts.ListingLimit = defaultListingLimit
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	s := &Service{
		src:      src,
		notifier: notifier,
		loop:     lp,
		opts:     opts,
		cache:    NewCache(),
	}
	s.sched = reminder.NewScheduler(reminder.Options{
		Location: opts.Location,
		Days:     opts.ReminderDays,
		Hours:    opts.ReminderHours,
		Clock:    opts.Clock,
	}, lp, s.fire)
	return s
}

// Sync runs one cycle: fetch, then diff against the cache on the loop.
//
// Concurrent callers share a single in-flight cycle, so cycles never
// overlap. The cycle runs detached from ctx: a caller that gives up gets
// ctx.Err() while the cycle finishes for everyone else. A fetch failure
// leaves cache and jobs untouched and is returned.
func (s *Service) Sync(ctx context.Context) (Report, error) {
	ch := s.group.DoChan(syncKey, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SyncTimeout)
		defer cancel()
		return s.syncOnce(cctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			appLog.Debug("sync joined in-flight cycle")
		}
		rep, _ := res.Val.(Report)
		return rep, res.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (s *Service) syncOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	events, err := s.src.Events(ctx)
	if err != nil {
		appLog.Error("sync aborted: fetch failed", err)
		return Report{}, err
	}

	var rep Report
	err = s.loop.Do(ctx, func(c context.Context) {
		rep = s.apply(c, events, s.opts.Clock.Now())
	})
	if err != nil {
		return Report{}, err
	}

	appLog.Info("sync completed",
		"scanned", rep.Scanned,
		"live", rep.Live,
		"added", rep.Added,
		"rescheduled", rep.Rescheduled,
		"removed", rep.Removed,
		"jobs", rep.Jobs,
		"took", time.Since(start),
	)
	return rep, nil
}

// apply reconciles events against the cache. It runs on the loop.
func (s *Service) apply(ctx context.Context, events []model.Event, now time.Time) Report {
	rep := Report{Scanned: len(events)}
	live := make(map[string]bool, len(events))

	for _, ev := range events {
		if !ev.StartsAfter(now) {
			continue
		}
		if live[ev.UID] {
			// Sources keep UIDs unique; a repeat is ignored.
			continue
		}
		live[ev.UID] = true

		cached, ok := s.cache.Get(ev.UID)
		switch {
		case !ok:
			s.cache.Put(ev)
			n := s.sched.Schedule(ev, now)
			rep.Added++
			appLog.Info("event added", "uid", ev.UID, "summary", ev.Summary, "start", ev.StartLocal.Format(time.RFC3339), "reminders", n)
			if s.opts.AnnounceNew && s.primed {
				s.deliver(ctx, NewEventMessage(ev), "new", ev.UID)
			}

		case !cached.SameStart(ev):
			s.sched.CancelAll(ev.UID)
			s.cache.Put(ev)
			n := s.sched.Schedule(ev, now)
			rep.Rescheduled++
			appLog.Info("event rescheduled", "uid", ev.UID, "summary", ev.Summary,
				"old_start", cached.StartLocal.Format(time.RFC3339),
				"new_start", ev.StartLocal.Format(time.RFC3339),
				"reminders", n)
			s.deliver(ctx, ChangedMessage(ev, cached.StartUTC, s.opts.Location), "changed", ev.UID)

		default:
			// Unchanged start. Other fields (title, link) are refreshed
			// silently so reminders carry current text.
			if !sameDetails(cached, ev) {
				s.cache.Put(ev)
			}
		}
	}
	rep.Live = len(live)

	for _, cached := range s.cache.All() {
		if live[cached.UID] {
			continue
		}
		s.sched.CancelAll(cached.UID)
		s.cache.Delete(cached.UID)
		rep.Removed++
		appLog.Info("event removed", "uid", cached.UID, "summary", cached.Summary)
	}

	if !s.primed {
		s.primed = true
		appLog.Info("event cache primed", "events", s.cache.Len())
	}
	rep.Jobs = s.sched.Len()
	return rep
}

func sameDetails(a, b model.Event) bool {
	return a.Summary == b.Summary &&
		a.URL == b.URL &&
		a.AllDay == b.AllDay &&
		a.EndUTC.Equal(b.EndUTC)
}

// fire runs on the loop when a reminder is due.
func (s *Service) fire(ctx context.Context, job reminder.Job) {
	ev, ok := s.cache.Get(job.Key.UID)
	if !ok {
		appLog.Debug("reminder fired for untracked event", "uid", job.Key.UID, "kind", job.Key.Kind.String())
		return
	}
	s.deliver(ctx, ReminderMessage(ev, job.Key.Kind), job.Key.Kind.String(), ev.UID)
}

func (s *Service) deliver(ctx context.Context, text, what, uid string) {
	dctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(dctx, text); err != nil {
		appLog.Error("delivery failed", err, "message", what, "uid", uid)
		return
	}
	appLog.Debug("delivered", "message", what, "uid", uid)
}

// Upcoming triggers a sync and returns up to limit upcoming events, soonest
// first (limit <= 0 uses the configured listing limit). A failed sync still
// lists what the cache holds.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = s.opts.ListingLimit
	}
	_, syncErr := s.Sync(ctx)

	var out []model.Event
	err := s.loop.Do(ctx, func(context.Context) {
		out = s.cache.Upcoming(s.opts.Clock.Now(), limit)
	})
	if err != nil {
		return nil, err
	}
	if syncErr != nil {
		appLog.Warn("listing served from cache after failed sync", "err", syncErr.Error())
	}
	return out, nil
}

// ListingMessage renders the on-demand listing, syncing first.
func (s *Service) ListingMessage(ctx context.Context) string {
	events, err := s.Upcoming(ctx, 0)
	if err != nil {
		appLog.Error("listing failed", err)
	}
	return ListingMessage(events)
}

// Snapshot copies the cache and pending jobs without syncing.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func(context.Context) {
		snap.Events = s.cache.All()
		snap.Jobs = s.sched.Pending()
	})
	return snap, err
}

// Stop cancels every pending reminder timer. Call it after the loop has
// exited (or from a loop task).
func (s *Service) Stop() {
	s.sched.Stop()
}
