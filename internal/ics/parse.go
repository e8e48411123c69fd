package ics

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "ctfcal/internal/log"
	"ctfcal/internal/model"
)

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

var errMissing = errors.New("missing")

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// ParsedEvent is the intermediate representation of a VEVENT. Recurrence
// expansion operates on this type; Events/Expand turn it into model.Event.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	URL         string // explicit URL property, else first link in Description

	// Start / End carry the source zone (or loc for floating and date values).
	Start  time.Time
	End    time.Time
	AllDay bool

	Cancelled bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - Date-only values become midnight in loc; floating date-times and
//     unknown TZIDs are interpreted in loc.
//   - A VEVENT without UID or with a missing/unparseable DTSTART is logged
//     and skipped; the rest of the document is still used.
//   - A document that cannot be decoded at all yields *FetchError (OpParse).
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &FetchError{Op: OpParse, URL: RedactURL(src.URL), Err: errors.New("empty ICS body")}
	}

	// An HTML error page served with 200 must not read as an empty feed.
	if !bytes.Contains(bytes.ToUpper(body), []byte("BEGIN:VCALENDAR")) {
		return nil, &FetchError{Op: OpParse, URL: RedactURL(src.URL), Err: errors.New("not an iCalendar document")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Op: OpParse, URL: RedactURL(src.URL), Err: err}
	}

	events := make([]ParsedEvent, 0)
	skipped := 0
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			skipped++
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, &EntryError{Field: "UID", Err: errMissing}
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	out.Summary = model.DefaultSummary
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && strings.TrimSpace(p.Value) != "" {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, &EntryError{UID: out.UID, Field: "DTSTART", Err: errMissing}
	}
	start, allDay, err := decodeTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, &EntryError{UID: out.UID, Field: "DTSTART", Err: err}
	}
	out.Start = start
	out.AllDay = allDay

	// A bad DTEND only drops the end.
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, err := decodeTime(dtEnd.Value, dtEnd.ICalParameters, loc); err == nil {
			out.End = end
		} else {
			appLog.Debug("ics vevent DTEND ignored", "uid", out.UID, "err", err.Error())
		}
	}

	if p := ve.GetProperty("URL"); p != nil && strings.TrimSpace(p.Value) != "" {
		out.URL = strings.TrimSpace(p.Value)
	} else {
		out.URL = LinkFromDescription(out.Description)
	}

	// RRULE (we only keep raw string here; expansion is in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE (can appear multiple times, each possibly comma separated)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := decodeTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, _, err := decodeTime(ridProp.Value, ridProp.ICalParameters, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// decodeTime parses a DATE or DATE-TIME value with its parameters.
//
//   - 20250310 or VALUE=DATE   -> midnight in loc, allDay=true
//   - 20250310T180000Z         -> UTC
//   - TZID=Zone:20250310T180000 -> Zone, or loc if Zone is unknown
//   - 20250310T180000          -> loc (floating)
func decodeTime(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	isDate := !strings.Contains(v, "T")
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		if len(v) > len(layoutDate) {
			v = v[:len(layoutDate)]
		}
		d, err := time.Parse(layoutDate, v)
		if err != nil {
			return time.Time{}, true, err
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), true, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		return t, false, err
	}

	zone := loc
	if tzs := params["TZID"]; len(tzs) > 0 {
		if l := lookupZone(tzs[0]); l != nil {
			zone = l
		}
	}
	t, err := time.ParseInLocation(layoutLocal, v, zone)
	return t, false, err
}

// lookupZone resolves a TZID. Feeds exported by some clients prefix the
// IANA name with a vendor path ("/mozilla.org/20050126_1/Europe/Paris"),
// so trailing path segments are tried as well.
func lookupZone(tzid string) *time.Location {
	name := strings.Trim(strings.TrimSpace(tzid), `"`)
	if name == "" {
		return nil
	}
	if l, err := time.LoadLocation(name); err == nil {
		return l
	}
	parts := strings.Split(strings.Trim(name, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if l, err := time.LoadLocation(strings.Join(parts[i:], "/")); err == nil {
			return l
		}
	}
	return nil
}

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}

// Events converts parsed VEVENTs into normalized events without expanding
// recurrences:
//
//   - cancelled entries and RECURRENCE-ID overrides are dropped,
//   - the first entry wins when a UID repeats,
//   - the result is sorted ascending by StartUTC.
func Events(parsed []ParsedEvent, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}
	seen := make(map[string]bool, len(parsed))
	out := make([]model.Event, 0, len(parsed))
	for _, p := range parsed {
		if p.Cancelled || p.IsOverride {
			continue
		}
		if seen[p.UID] {
			appLog.Debug("ics duplicate uid skipped", "uid", p.UID)
			continue
		}
		seen[p.UID] = true
		out = append(out, toEvent(p, p.UID, p.Start, p.End, loc))
	}
	SortByStart(out)
	return out
}

// SortByStart orders events by StartUTC, keeping feed order for ties.
func SortByStart(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartUTC.Before(events[j].StartUTC)
	})
}

func toEvent(p ParsedEvent, uid string, start, end time.Time, loc *time.Location) model.Event {
	ev := model.Event{
		UID:        uid,
		Summary:    p.Summary,
		StartLocal: start.In(loc),
		StartUTC:   start.UTC(),
		URL:        p.URL,
		AllDay:     p.AllDay,
	}
	if !end.IsZero() {
		ev.EndLocal = end.In(loc)
		ev.EndUTC = end.UTC()
	}
	return ev
}
