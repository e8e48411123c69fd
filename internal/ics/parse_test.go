package ics

import (
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfcal/internal/model"
)

var testSource = Source{ID: "test", URL: "https://calendar.example/private-secret/basic.ics"}

// calendar wraps VEVENT lines into a CRLF-terminated document.
func calendar(lines ...string) []byte {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//ctfcal//test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func byUID(events []ParsedEvent) map[string]ParsedEvent {
	m := make(map[string]ParsedEvent, len(events))
	for _, ev := range events {
		m[ev.UID] = ev
	}
	return m
}

func TestParseICS_Basic(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:ctf-1@ctftime.org",
		"SUMMARY:Example CTF 2025",
		"DTSTART:20250310T110000Z",
		"DTEND:20250312T110000Z",
		"DESCRIPTION:Format: Jeopardy\\nLink: https://ctftime.org/event/2000.",
		"END:VEVENT",
	)

	events, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "ctf-1@ctftime.org", ev.UID)
	assert.Equal(t, "Example CTF 2025", ev.Summary)
	assert.Equal(t, "Format: Jeopardy\nLink: https://ctftime.org/event/2000.", ev.Description)
	assert.Equal(t, "https://ctftime.org/event/2000", ev.URL)
	assert.True(t, ev.Start.Equal(time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)))
	assert.True(t, ev.End.Equal(time.Date(2025, 3, 12, 11, 0, 0, 0, time.UTC)))
	assert.False(t, ev.AllDay)
	assert.False(t, ev.Cancelled)
}

func TestParseICS_TimeForms(t *testing.T) {
	loc := mustLoc(t, "Asia/Bangkok")
	body := calendar(
		"BEGIN:VEVENT",
		"UID:date",
		"DTSTART;VALUE=DATE:20250310",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:tzid",
		"DTSTART;TZID=Europe/Paris:20250310T180000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:floating",
		"DTSTART:20250310T180000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:unknown-zone",
		"DTSTART;TZID=Mars/Olympus:20250310T180000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:vendor-zone",
		"DTSTART;TZID=/mozilla.org/20050126_1/Europe/Paris:20250310T180000",
		"END:VEVENT",
	)

	events, err := ParseICS(testSource, body, loc)
	require.NoError(t, err)
	require.Len(t, events, 5)
	m := byUID(events)

	assert.True(t, m["date"].AllDay)
	assert.True(t, m["date"].Start.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)))

	paris := mustLoc(t, "Europe/Paris")
	assert.True(t, m["tzid"].Start.Equal(time.Date(2025, 3, 10, 18, 0, 0, 0, paris)))
	assert.True(t, m["vendor-zone"].Start.Equal(time.Date(2025, 3, 10, 18, 0, 0, 0, paris)))

	assert.True(t, m["floating"].Start.Equal(time.Date(2025, 3, 10, 18, 0, 0, 0, loc)))
	assert.True(t, m["unknown-zone"].Start.Equal(time.Date(2025, 3, 10, 18, 0, 0, 0, loc)))
}

func TestParseICS_SkipsBrokenEntries(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"SUMMARY:No uid",
		"DTSTART:20250310T110000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:no-start",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:bad-start",
		"DTSTART:not-a-date",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:bad-end",
		"DTSTART:20250310T110000Z",
		"DTEND:garbage",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:good",
		"DTSTART:20250311T110000Z",
		"END:VEVENT",
	)

	events, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)
	m := byUID(events)

	require.Contains(t, m, "good")
	assert.Equal(t, model.DefaultSummary, m["good"].Summary)

	require.Contains(t, m, "bad-end")
	assert.True(t, m["bad-end"].End.IsZero())
}

func TestParseICS_ExplicitURLWins(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:a",
		"DTSTART:20250310T110000Z",
		"URL:https://ctftime.org/event/1",
		"DESCRIPTION:See https://other.example/register",
		"END:VEVENT",
	)

	events, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "https://ctftime.org/event/1", events[0].URL)
}

func TestParseICS_StatusAndRecurrence(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:weekly",
		"DTSTART:20250303T100000Z",
		"RRULE:FREQ=WEEKLY;COUNT=4",
		"EXDATE:20250310T100000Z,20250317T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:weekly",
		"RECURRENCE-ID:20250324T100000Z",
		"DTSTART:20250324T120000Z",
		"STATUS:CANCELLED",
		"END:VEVENT",
	)

	events, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)

	master := events[0]
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", master.RawRRule)
	require.Len(t, master.ExDates, 2)
	assert.True(t, master.ExDates[1].Equal(time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC)))
	assert.False(t, master.IsOverride)

	override := events[1]
	assert.True(t, override.IsOverride)
	assert.True(t, override.Cancelled)
	require.NotNil(t, override.Recurrence)
	assert.True(t, override.Recurrence.Equal(time.Date(2025, 3, 24, 10, 0, 0, 0, time.UTC)))
}

func TestParseICS_RejectsNonCalendar(t *testing.T) {
	for name, body := range map[string][]byte{
		"empty": nil,
		"blank": []byte("  \r\n"),
		"html":  []byte("<html><body>Service Unavailable</body></html>"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseICS(testSource, body, time.UTC)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, OpParse, fe.Op)
			assert.NotContains(t, err.Error(), "private-secret")
		})
	}
}

func TestParseICS_EmptyCalendar(t *testing.T) {
	events, err := ParseICS(testSource, calendar(), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvents_NormalizesAndSorts(t *testing.T) {
	loc := mustLoc(t, "Asia/Bangkok")
	t1 := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)
	rid := t1

	parsed := []ParsedEvent{
		{UID: "late", Summary: "Late", Start: t1, End: t1.Add(48 * time.Hour)},
		{UID: "early", Summary: "Early", Start: t2},
		{UID: "early", Summary: "Early duplicate", Start: t2.Add(time.Hour)},
		{UID: "gone", Summary: "Cancelled", Start: t2, Cancelled: true},
		{UID: "late", Summary: "Override", Start: t1, Recurrence: &rid, IsOverride: true},
	}

	events := Events(parsed, loc)
	require.Len(t, events, 2)

	assert.Equal(t, "early", events[0].UID)
	assert.Equal(t, "Early", events[0].Summary)
	assert.False(t, events[0].HasEnd())

	late := events[1]
	assert.Equal(t, "late", late.UID)
	assert.Equal(t, loc, late.StartLocal.Location())
	assert.Equal(t, time.UTC, late.StartUTC.Location())
	assert.Equal(t, "10-03-2025 18:00", late.StartLocal.Format(model.DisplayLayout))
	assert.True(t, late.HasEnd())
	assert.Equal(t, "12-03-2025 18:00", late.EndLocal.Format(model.DisplayLayout))
}

func TestEntryError_Message(t *testing.T) {
	err := &EntryError{UID: "a", Field: "DTSTART", Err: errMissing}
	assert.Equal(t, "vevent a DTSTART: missing", err.Error())
	assert.True(t, errors.Is(err, errMissing))

	err = &EntryError{Field: "UID", Err: errMissing}
	assert.Equal(t, "vevent UID: missing", err.Error())
}
