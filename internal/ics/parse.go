package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "uqclock/internal/log"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	FeedID string

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
	Cancelled  bool       // STATUS:CANCELLED
}

// ParseICS parses a single ICS payload. Broken VEVENTs are logged and
// skipped; only an unparsable calendar is an error.
func ParseICS(feedID string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(feedID, comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", feedID, "reason", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", feedID, "event_count", len(events))
	return events, nil
}

func parseVEvent(feedID string, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{FeedID: feedID}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	var err error
	if out.AllDay {
		out.Start, err = ve.GetAllDayStartAt()
	} else {
		out.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, err
	}

	// DTEND is optional; a missing one means a zero-length event.
	if out.AllDay {
		out.End, err = ve.GetAllDayEndAt()
	} else {
		out.End, err = ve.GetEndAt()
	}
	if err != nil || out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzidOf(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTime(p.Value, tzidOf(p)); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzidOf(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses DATE / DATE-TIME / UTC values used by EXDATE and
// RECURRENCE-ID, honoring TZID when the zone is known.
func parseICSTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.Local
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
