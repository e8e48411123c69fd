package ics

import (
	"context"
	"time"

	"ctfcal/internal/model"
)

// FeedConfig configures a Feed.
type FeedConfig struct {
	Source   Source
	Location *time.Location

	// ExpandRecurring turns RRULE events into one event per occurrence
	// within [now, now+Horizon].
	ExpandRecurring bool
	Horizon         time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Feed fetches, parses and normalizes the configured calendar.
type Feed struct {
	fetcher *Fetcher
	cfg     FeedConfig
}

// NewFeed builds a Feed on top of fetcher.
func NewFeed(fetcher *Fetcher, cfg FeedConfig) *Feed {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 60 * 24 * time.Hour
	}
	return &Feed{fetcher: fetcher, cfg: cfg}
}

// Events returns the feed's events sorted by StartUTC. Any error is a
// *FetchError; skipped entries are only logged.
func (f *Feed) Events(ctx context.Context) ([]model.Event, error) {
	res, err := f.fetcher.Fetch(ctx, f.cfg.Source)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(f.cfg.Source, res.Body, f.cfg.Location)
	if err != nil {
		return nil, err
	}
	if !f.cfg.ExpandRecurring {
		return Events(parsed, f.cfg.Location), nil
	}

	now := f.cfg.Now()
	exp, err := Expand(parsed, ExpandConfig{
		DisplayLocation: f.cfg.Location,
		RangeStart:      now,
		RangeEnd:        now.Add(f.cfg.Horizon),
	})
	if err != nil {
		return nil, &FetchError{Op: OpParse, URL: RedactURL(f.cfg.Source.URL), Err: err}
	}
	return exp.Events, nil
}
