package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ctfcal/internal/log"
	"ctfcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500

	// instanceLayout formats the original start of an occurrence into its UID.
	instanceLayout = "20060102T150405Z"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded events and information about
// truncation.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// InstanceUID derives the UID of one occurrence of a recurring event from
// the master UID and the occurrence's original (pre-override) start.
func InstanceUID(uid string, originalStart time.Time) string {
	return uid + "/" + originalStart.UTC().Format(instanceLayout)
}

// Expand expands RRULE events into individual occurrences inside the range.
// It handles:
//
//   - Single non-recurring events (kept as-is, even outside the range)
//   - RRULE-based recurrence with EXDATE removal
//   - RECURRENCE-ID overrides (an override may move or cancel an instance)
//
// Each occurrence's UID is InstanceUID(master, original start), so a moved
// override keeps the identity of the instance it replaces. The result is
// sorted by StartUTC.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	order := make([]string, 0, len(events))
	baseByUID := make(map[string]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, dup := baseByUID[ev.UID]; dup {
			appLog.Debug("expand: duplicate uid skipped", "uid", ev.UID)
			continue
		}
		baseByUID[ev.UID] = ev
		order = append(order, ev.UID)
	}

	out := make([]model.Event, 0, len(order))
	for _, uid := range order {
		ev := baseByUID[uid]
		if ev.RawRRule == "" {
			if !ev.Cancelled {
				out = append(out, toEvent(ev, ev.UID, ev.Start, ev.End, cfg.DisplayLocation))
			}
			continue
		}

		occ, hitCap := expandRecurringEvent(ev, overridesByUID[uid], cfg)
		out = append(out, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	SortByStart(out)
	result.Events = out
	return result, nil
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		// Fall back to tracking the master occurrence only.
		if !ev.Cancelled {
			out = append(out, toEvent(ev, ev.UID, ev.Start, ev.End, cfg.DisplayLocation))
		}
		return out, false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Best effort: align EXDATE location with event's start.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := time.Duration(0)
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	for _, occStart := range occTimes {
		base := ev
		start := occStart
		var end time.Time
		if dur > 0 {
			end = occStart.Add(dur)
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			base = o
			start = o.Start
			end = o.End
		}
		if base.Cancelled {
			continue
		}
		// Overrides inherit the master's link when they carry none.
		if base.URL == "" {
			base.URL = ev.URL
		}
		out = append(out, toEvent(base, InstanceUID(ev.UID, occStart), start, end, cfg.DisplayLocation))
	}

	// An override may move an instance from outside the range into it.
	for _, o := range overrides {
		if o.Recurrence == nil || o.Cancelled {
			continue
		}
		rid := *o.Recurrence
		if !rid.Before(rangeStart) && !rid.After(rangeEnd) {
			continue // handled above
		}
		if o.Start.Before(cfg.RangeStart) || o.Start.After(cfg.RangeEnd) {
			continue
		}
		if len(set.Between(rid, rid, true)) == 0 {
			// Not an instance of this rule (or excluded by EXDATE).
			continue
		}
		if o.URL == "" {
			o.URL = ev.URL
		}
		out = append(out, toEvent(o, InstanceUID(ev.UID, rid), o.Start, o.End, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// occurrence start.
func findOverrideForStart(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}
