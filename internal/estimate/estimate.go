// Package estimate attributes elapsed time between status observations to
// uptime or downtime, counting only the portion inside business hours.
package estimate

import (
	"math"
	"sort"
	"time"

	"storepulse/internal/domain"
	"storepulse/internal/schedule"
)

// Observation is a single timestamped open/closed sample.
type Observation struct {
	At     time.Time
	Status string
}

// Flag marks gaps in the source data that lower confidence in the estimate.
type Flag uint8

const (
	// FlagNoHours: no business-hours entry covers the window, so the
	// closed-all-day default applied and the store was never open.
	FlagNoHours Flag = 1 << iota
	// FlagNoObservations: no status sample exists to extrapolate from.
	FlagNoObservations
	// FlagDefaultTimezone: the store had no timezone assignment.
	FlagDefaultTimezone
)

// LowConfidence reports whether any gap flag is set.
func (f Flag) LowConfidence() bool {
	return f != 0
}

// Result holds the business-hours attribution for one store and window.
type Result struct {
	Uptime        time.Duration
	Downtime      time.Duration
	BusinessTotal time.Duration
	Flags         Flag
}

// UptimePercent returns uptime as a percentage of business-hours time in
// the window, clamped to [0,100]. Zero when the store was never open.
func (r Result) UptimePercent() float64 {
	return percent(r.Uptime, r.BusinessTotal)
}

// DowntimePercent returns downtime as a percentage of business-hours time
// in the window, clamped to [0,100].
func (r Result) DowntimePercent() float64 {
	return percent(r.Downtime, r.BusinessTotal)
}

func percent(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := d.Seconds() / total.Seconds() * 100
	return math.Min(100, math.Max(0, p))
}

// Estimate walks the observation stream over [winStart, winEnd) and splits
// business-hours time into uptime and downtime. The status of the
// observation opening a gap governs the whole gap; the boundary
// observations are extrapolated to the window edges. Out-of-order input is
// normalized by a stable sort, so equal timestamps keep insertion order and
// the later sample governs from that instant on.
func Estimate(r *schedule.Resolver, obs []Observation, winStart, winEnd time.Time) Result {
	var res Result
	if !winEnd.After(winStart) {
		return res
	}
	res.BusinessTotal = businessOverlap(r, winStart, winEnd)
	if res.BusinessTotal == 0 {
		res.Flags |= FlagNoHours
	}
	if len(obs) == 0 {
		res.Flags |= FlagNoObservations
		res.Downtime = res.BusinessTotal
		return res
	}

	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	attribute := func(status string, from, to time.Time) {
		if from.Before(winStart) {
			from = winStart
		}
		if to.After(winEnd) {
			to = winEnd
		}
		if !to.After(from) {
			return
		}
		d := businessOverlap(r, from, to)
		if status == domain.StatusOpen {
			res.Uptime += d
		} else {
			res.Downtime += d
		}
	}

	if sorted[0].At.After(winStart) {
		attribute(sorted[0].Status, winStart, sorted[0].At)
	}
	for i := range sorted {
		to := winEnd
		if i+1 < len(sorted) {
			to = sorted[i+1].At
		}
		attribute(sorted[i].Status, sorted[i].At, to)
	}
	return res
}

// businessOverlap sums the overlap of [from, to) with every business-hours
// window on the local calendar dates the interval spans. The date before
// the interval is included to catch overnight windows spilling into it.
func businessOverlap(r *schedule.Resolver, from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	loc := r.Location()
	start := from.In(loc)
	end := to.In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	var total time.Duration
	for d := day; !d.After(last); d = d.AddDate(0, 0, 1) {
		for _, w := range r.Windows(d.Year(), d.Month(), d.Day()) {
			o, c := w.Open, w.Close
			if o.Before(from) {
				o = from
			}
			if c.After(to) {
				c = to
			}
			if c.After(o) {
				total += c.Sub(o)
			}
		}
	}
	return total
}
