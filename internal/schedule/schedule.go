package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LocalTime is a wall-clock time of day in a store's local zone.
type LocalTime struct {
	Hour   int
	Minute int
	Second int
}

// ParseLocalTime parses "HH:MM" or "HH:MM:SS". The whole input must be
// consumed; trailing text is an error, not ignored.
func ParseLocalTime(s string) (LocalTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return LocalTime{}, fmt.Errorf("invalid local time %q", s)
	}
	var t LocalTime
	fields := []*int{&t.Hour, &t.Minute, &t.Second}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return LocalTime{}, fmt.Errorf("invalid local time %q", s)
		}
		*fields[i] = v
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return LocalTime{}, fmt.Errorf("local time %q out of range", s)
	}
	return t, nil
}

func (t LocalTime) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// After reports whether t is strictly later in the day than o.
func (t LocalTime) After(o LocalTime) bool {
	return t.seconds() > o.seconds()
}

// Entry is one contiguous local-time window on one weekday.
// Day numbering follows the source data: 0 = Monday .. 6 = Sunday.
type Entry struct {
	Day   int
	Start LocalTime
	End   LocalTime
}

// Window is a resolved business-hours interval in UTC.
type Window struct {
	Open  time.Time
	Close time.Time
}

// Resolver converts a store's weekly schedule into absolute UTC windows
// for specific calendar dates, applying the zone's offset on that date.
type Resolver struct {
	// OpenWhenMissing treats weekdays without an entry as open the full
	// local day instead of closed. Closed is the default policy.
	OpenWhenMissing bool

	byDay map[int][]Entry
	loc   *time.Location
}

// NewResolver builds a resolver for one store. entries may be empty;
// loc must not be nil.
func NewResolver(entries []Entry, loc *time.Location) *Resolver {
	byDay := make(map[int][]Entry, 7)
	for _, e := range entries {
		if e.Day < 0 || e.Day > 6 {
			continue
		}
		byDay[e.Day] = append(byDay[e.Day], e)
	}
	for d := range byDay {
		sort.Slice(byDay[d], func(i, j int) bool {
			return byDay[d][i].Start.seconds() < byDay[d][j].Start.seconds()
		})
	}
	return &Resolver{byDay: byDay, loc: loc}
}

// Location returns the store's local zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

func dayNumber(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// Windows returns the UTC business-hours windows opening on the local
// calendar date (year, month, day), sorted by open instant. An entry whose
// end is not after its start wraps past local midnight and closes on the
// next calendar date. An empty result means closed all day.
func (r *Resolver) Windows(year int, month time.Month, day int) []Window {
	// noon keeps the weekday stable across DST transitions at midnight
	wd := dayNumber(time.Date(year, month, day, 12, 0, 0, 0, r.loc).Weekday())
	entries := r.byDay[wd]
	if len(entries) == 0 {
		if !r.OpenWhenMissing {
			return nil
		}
		open := time.Date(year, month, day, 0, 0, 0, 0, r.loc)
		close := time.Date(year, month, day+1, 0, 0, 0, 0, r.loc)
		return []Window{{Open: open.UTC(), Close: close.UTC()}}
	}
	out := make([]Window, 0, len(entries))
	for _, e := range entries {
		open := time.Date(year, month, day, e.Start.Hour, e.Start.Minute, e.Start.Second, 0, r.loc)
		closeDay := day
		if !e.End.After(e.Start) {
			closeDay++
		}
		close := time.Date(year, month, closeDay, e.End.Hour, e.End.Minute, e.End.Second, 0, r.loc)
		if !close.After(open) {
			continue
		}
		out = append(out, Window{Open: open.UTC(), Close: close.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Open.Before(out[j].Open) })
	return out
}
