package model

import "time"

// DisplayLayout is the dd-mm-YYYY HH:MM layout used in every outbound message.
const DisplayLayout = "02-01-2006 15:04"

// DefaultSummary is used for entries without a SUMMARY.
const DefaultSummary = "No title"

// Event represents one calendar occurrence after normalization.
//
// StartUTC is the canonical key for ordering and change detection; the
// local fields carry the same instants in the configured display zone.
type Event struct {
	UID     string
	Summary string

	StartLocal time.Time
	StartUTC   time.Time

	// EndLocal / EndUTC are zero when the entry has no DTEND.
	EndLocal time.Time
	EndUTC   time.Time

	URL string

	// AllDay is true when DTSTART was a date-only value.
	AllDay bool
}

// HasEnd reports whether the event carries an end instant.
func (e Event) HasEnd() bool {
	return !e.EndUTC.IsZero()
}

// StartsAfter reports whether the event starts strictly after t.
func (e Event) StartsAfter(t time.Time) bool {
	return e.StartUTC.After(t)
}

// SameStart compares canonical start instants.
func (e Event) SameStart(o Event) bool {
	return e.StartUTC.Equal(o.StartUTC)
}
