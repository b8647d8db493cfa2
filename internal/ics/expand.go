package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "uqclock/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is one concrete instance of a (possibly recurring) VEVENT.
type Occurrence struct {
	FeedID  string
	UID     string
	Summary string
	AllDay  bool
	Start   time.Time
	End     time.Time
}

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd is the inclusive window for occurrence starts.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero uses the default.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences turns parsed VEVENTs into occurrences whose start lies in
// [RangeStart, RangeEnd]. It handles single events, RRULE series, EXDATE,
// RECURRENCE-ID overrides and STATUS:CANCELLED (on series or instances).
// The result is unordered.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	bases := make([]ParsedEvent, 0, len(events))
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	out := make([]Occurrence, 0)
	for _, ev := range bases {
		if ev.Cancelled {
			continue
		}
		ov := overridesByUID[ev.UID]
		if ev.RawRRule == "" {
			out = appendInRange(out, ev, ev.Start, ev.End, ov, cfg)
			continue
		}

		occ, hitCap := expandSeries(ev, ov, cfg)
		if hitCap {
			appLog.Warn("expand: truncated occurrences for UID due to cap", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		out = append(out, occ...)
	}

	return out, nil
}

func expandSeries(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Best effort: align EXDATE location with event's start.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// An override can move an instance into the window from outside of it,
	// so look one event duration further on both sides.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.Add(dur).In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = appendInRange(out, ev, s, s.Add(dur), overrides, cfg)
	}
	return out, hitCap
}

// appendInRange applies a matching override to one instance and appends it
// if it starts inside the window.
func appendInRange(out []Occurrence, ev ParsedEvent, start, end time.Time, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	if o, ok := findOverride(overrides, start); ok {
		if o.Cancelled {
			return out
		}
		ev, start, end = o, o.Start, o.End
	}
	if start.Before(cfg.RangeStart) || start.After(cfg.RangeEnd) {
		return out
	}
	return append(out, Occurrence{
		FeedID:  ev.FeedID,
		UID:     ev.UID,
		Summary: ev.Summary,
		AllDay:  ev.AllDay,
		Start:   start,
		End:     end,
	})
}

// findOverride finds the override whose RECURRENCE-ID is the given instance start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}
