package tracker

import (
	"sort"
	"time"

	"ctfcal/internal/model"
)

// Cache holds the last known version of every tracked (present and
// upcoming) event, keyed by UID. It is owned by the loop goroutine.
type Cache struct {
	events map[string]model.Event
}

func NewCache() *Cache {
	return &Cache{events: make(map[string]model.Event)}
}

func (c *Cache) Get(uid string) (model.Event, bool) {
	ev, ok := c.events[uid]
	return ev, ok
}

func (c *Cache) Put(ev model.Event) {
	c.events[ev.UID] = ev
}

func (c *Cache) Delete(uid string) bool {
	if _, ok := c.events[uid]; !ok {
		return false
	}
	delete(c.events, uid)
	return true
}

func (c *Cache) Len() int {
	return len(c.events)
}

// All returns every cached event ordered by StartUTC.
func (c *Cache) All() []model.Event {
	out := make([]model.Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	sortEvents(out)
	return out
}

// Upcoming returns up to limit cached events starting after now, soonest
// first. limit <= 0 means no limit.
func (c *Cache) Upcoming(now time.Time, limit int) []model.Event {
	out := make([]model.Event, 0, len(c.events))
	for _, ev := range c.events {
		if ev.StartsAfter(now) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortEvents(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartUTC.Equal(events[j].StartUTC) {
			return events[i].StartUTC.Before(events[j].StartUTC)
		}
		return events[i].UID < events[j].UID
	})
}
