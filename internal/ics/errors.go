package ics

import "fmt"

// Fetch error operations.
const (
	OpFetch  = "fetch"
	OpStatus = "status"
	OpParse  = "parse"
)

// FetchError aborts a whole sync cycle: the transport failed, the server
// answered with a non-OK status, or the document could not be parsed at all.
type FetchError struct {
	Op  string
	URL string // already redacted
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ics %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EntryError describes a single VEVENT that was skipped.
type EntryError struct {
	UID   string
	Field string
	Err   error
}

func (e *EntryError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("vevent %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("vevent %s %s: %v", e.UID, e.Field, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
