package reminder

import (
	"sort"
	"strconv"
	"time"
)

type Unit uint8

const (
	UnitDay Unit = iota + 1
	UnitHour
)

// Kind identifies one reminder of an event: "N days before at midnight" or
// "N hours before start". Kind is comparable and used inside Key.
type Kind struct {
	Unit Unit
	N    int
}

func Day(n int) Kind  { return Kind{Unit: UnitDay, N: n} }
func Hour(n int) Kind { return Kind{Unit: UnitHour, N: n} }

// String renders day-1, day-2, ..., hour, hour-2, ...
func (k Kind) String() string {
	switch k.Unit {
	case UnitDay:
		return "day-" + strconv.Itoa(k.N)
	case UnitHour:
		if k.N == 1 {
			return "hour"
		}
		return "hour-" + strconv.Itoa(k.N)
	default:
		return "unknown"
	}
}

// Key is the identity of a reminder job.
type Key struct {
	UID  string
	Kind Kind
}

func (k Key) String() string {
	return k.UID + "#" + k.Kind.String()
}

// Reminder is one computed fire instant.
type Reminder struct {
	Kind Kind
	At   time.Time
}

// Plan computes the reminder instants of an event starting at start.
//
//   - For each d in days: local midnight of (start date - d days) in loc.
//   - If hours > 0: start - hours.
//
// Instants are returned in firing order; nothing is filtered against now.
func Plan(start time.Time, loc *time.Location, days []int, hours int) []Reminder {
	if loc == nil {
		loc = time.Local
	}
	local := start.In(loc)
	out := make([]Reminder, 0, len(days)+1)
	for _, d := range days {
		if d <= 0 {
			continue
		}
		// time.Date normalizes day underflow across month/year boundaries.
		at := time.Date(local.Year(), local.Month(), local.Day()-d, 0, 0, 0, 0, loc)
		out = append(out, Reminder{Kind: Day(d), At: at})
	}
	if hours > 0 {
		out = append(out, Reminder{Kind: Hour(hours), At: local.Add(-time.Duration(hours) * time.Hour)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
