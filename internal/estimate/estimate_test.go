package estimate

import (
	"testing"
	"time"

	"storepulse/internal/schedule"
)

// Mondays 09:00-12:00 UTC unless a test says otherwise.
func mondayMorning() *schedule.Resolver {
	return schedule.NewResolver([]schedule.Entry{
		{Day: 0, Start: schedule.LocalTime{Hour: 9}, End: schedule.LocalTime{Hour: 12}},
	}, time.UTC)
}

// 2025-01-06 is a Monday.
var (
	winStart = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)
	winEnd   = winStart.AddDate(0, 0, 1)
)

func at(hour, min int) time.Time {
	return time.Date(2025, time.January, 6, hour, min, 0, 0, time.UTC)
}

func TestGapGovernedByPrecedingStatus(t *testing.T) {
	obs := []Observation{
		{At: at(9, 0), Status: "open"},
		{At: at(10, 30), Status: "closed"},
	}
	res := Estimate(mondayMorning(), obs, winStart, winEnd)
	if res.BusinessTotal != 3*time.Hour {
		t.Fatalf("business total %v, want 3h", res.BusinessTotal)
	}
	if res.Uptime != 90*time.Minute || res.Downtime != 90*time.Minute {
		t.Fatalf("uptime %v downtime %v, want 1h30m each", res.Uptime, res.Downtime)
	}
	if res.Flags != 0 {
		t.Fatalf("unexpected flags %b", res.Flags)
	}
	if res.UptimePercent() != 50 || res.DowntimePercent() != 50 {
		t.Fatalf("percents %v/%v, want 50/50", res.UptimePercent(), res.DowntimePercent())
	}
}

func TestBoundaryExtrapolation(t *testing.T) {
	// A single sample governs the whole window in both directions.
	obs := []Observation{{At: at(10, 0), Status: "open"}}
	res := Estimate(mondayMorning(), obs, winStart, winEnd)
	if res.Uptime != 3*time.Hour || res.Downtime != 0 {
		t.Fatalf("uptime %v downtime %v, want 3h/0", res.Uptime, res.Downtime)
	}
}

func TestObservationsOutsideHoursStillGovern(t *testing.T) {
	// Samples before open and after close split the business window at
	// nothing; the last pre-open status governs the opening hours.
	obs := []Observation{
		{At: at(7, 0), Status: "closed"},
		{At: at(10, 0), Status: "open"},
		{At: at(20, 0), Status: "closed"},
	}
	res := Estimate(mondayMorning(), obs, winStart, winEnd)
	if res.Uptime != 2*time.Hour || res.Downtime != time.Hour {
		t.Fatalf("uptime %v downtime %v, want 2h/1h", res.Uptime, res.Downtime)
	}
}

func TestNoObservations(t *testing.T) {
	res := Estimate(mondayMorning(), nil, winStart, winEnd)
	if res.Flags&FlagNoObservations == 0 {
		t.Fatal("expected FlagNoObservations")
	}
	if !res.Flags.LowConfidence() {
		t.Fatal("expected low confidence")
	}
	if res.Uptime != 0 || res.Downtime != res.BusinessTotal {
		t.Fatalf("uptime %v downtime %v, want 0/full", res.Uptime, res.Downtime)
	}
}

func TestNoBusinessHours(t *testing.T) {
	r := schedule.NewResolver(nil, time.UTC)
	obs := []Observation{{At: at(10, 0), Status: "open"}}
	res := Estimate(r, obs, winStart, winEnd)
	if res.Flags&FlagNoHours == 0 {
		t.Fatal("expected FlagNoHours")
	}
	if res.BusinessTotal != 0 || res.UptimePercent() != 0 || res.DowntimePercent() != 0 {
		t.Fatalf("zero-hours result %+v", res)
	}
}

func TestOvernightSpilloverCounted(t *testing.T) {
	// Monday 22:00-02:00 spills into the Tuesday window.
	r := schedule.NewResolver([]schedule.Entry{
		{Day: 0, Start: schedule.LocalTime{Hour: 22}, End: schedule.LocalTime{Hour: 2}},
	}, time.UTC)
	tueStart := time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC)
	tueEnd := tueStart.AddDate(0, 0, 1)
	obs := []Observation{{At: tueStart.Add(30 * time.Minute), Status: "open"}}
	res := Estimate(r, obs, tueStart, tueEnd)
	if res.BusinessTotal != 2*time.Hour {
		t.Fatalf("business total %v, want 2h", res.BusinessTotal)
	}
	if res.Uptime != 2*time.Hour {
		t.Fatalf("uptime %v, want 2h", res.Uptime)
	}
}

func TestConservation(t *testing.T) {
	obs := []Observation{
		{At: at(9, 10), Status: "open"},
		{At: at(10, 0), Status: "closed"},
		{At: at(10, 45), Status: "open"},
		{At: at(11, 30), Status: "closed"},
	}
	res := Estimate(mondayMorning(), obs, winStart, winEnd)
	if res.Uptime+res.Downtime != res.BusinessTotal {
		t.Fatalf("uptime %v + downtime %v != total %v", res.Uptime, res.Downtime, res.BusinessTotal)
	}
}

func TestOutOfOrderInputNormalized(t *testing.T) {
	ordered := []Observation{
		{At: at(9, 0), Status: "open"},
		{At: at(10, 30), Status: "closed"},
		{At: at(11, 0), Status: "open"},
	}
	shuffled := []Observation{ordered[2], ordered[0], ordered[1]}
	a := Estimate(mondayMorning(), ordered, winStart, winEnd)
	b := Estimate(mondayMorning(), shuffled, winStart, winEnd)
	if a.Uptime != b.Uptime || a.Downtime != b.Downtime {
		t.Fatalf("order dependence: %v/%v vs %v/%v", a.Uptime, a.Downtime, b.Uptime, b.Downtime)
	}
}

func TestEmptyWindow(t *testing.T) {
	res := Estimate(mondayMorning(), nil, winStart, winStart)
	if res.BusinessTotal != 0 || res.Flags != 0 {
		t.Fatalf("empty window result %+v", res)
	}
}
