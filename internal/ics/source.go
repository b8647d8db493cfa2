package ics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"uqclock/internal/config"
	appLog "uqclock/internal/log"
	"uqclock/internal/model"
	"uqclock/internal/schedule"
)

// Source serves upcoming events of configured ICS calendars. It implements
// schedule.Source.
type Source struct {
	fetcher    *Fetcher
	lookup     func(id string) (config.CalendarConfig, bool)
	publicOnly bool
	horizon    time.Duration
}

var _ schedule.Source = (*Source)(nil)

// NewSource builds a Source over the calendars of cfg.
func NewSource(cfg config.Config, fetcher *Fetcher) *Source {
	horizon := time.Duration(cfg.HorizonDays) * 24 * time.Hour
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	return &Source{
		fetcher:    fetcher,
		lookup:     cfg.Calendar,
		publicOnly: cfg.UsePublicCalendarsOnly,
		horizon:    horizon,
	}
}

// FetchUpcoming returns at most max timed events starting after from, in
// ascending start order (ties by UID). All-day and cancelled entries are
// dropped. Every failure is a *schedule.ProviderError.
func (s *Source) FetchUpcoming(ctx context.Context, calendarID string, from time.Time, max int) ([]model.Event, error) {
	cal, ok := s.lookup(calendarID)
	if !ok {
		return nil, &schedule.ProviderError{Op: "lookup", CalendarID: calendarID, Err: errors.New("calendar not configured")}
	}

	feed := Feed{ID: cal.ID, URL: cal.URL, Username: cal.Username, Password: cal.Password}
	if s.publicOnly && cal.Private() {
		appLog.Debug("public calendars only; not sending credentials", "id", cal.ID)
		feed.Username, feed.Password = "", ""
	}

	res, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, &schedule.ProviderError{Op: "fetch", CalendarID: calendarID, Err: err}
	}

	parsed, err := ParseICS(cal.ID, res.Body)
	if err != nil {
		return nil, &schedule.ProviderError{Op: "parse", CalendarID: calendarID, Err: err}
	}

	occ, err := ExpandOccurrences(parsed, ExpandConfig{
		RangeStart: from,
		RangeEnd:   from.Add(s.horizon),
	})
	if err != nil {
		return nil, &schedule.ProviderError{Op: "expand", CalendarID: calendarID, Err: err}
	}

	events := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		if o.AllDay || !o.Start.After(from) {
			continue
		}
		events = append(events, model.Event{
			Title:    o.Summary,
			Start:    o.Start,
			SourceID: o.FeedID,
			UID:      o.UID,
			Kind:     model.KindCalendar,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].UID < events[j].UID
	})
	if max > 0 && len(events) > max {
		events = events[:max]
	}

	appLog.Debug("ics upcoming events",
		"id", cal.ID,
		"from_cache", res.FromCache,
		"parsed", len(parsed),
		"occurrences", len(occ),
		"upcoming", len(events),
	)
	return events, nil
}

// String is used in logs.
func (s *Source) String() string {
	return fmt.Sprintf("ics(horizon=%s, public_only=%t)", s.horizon, s.publicOnly)
}
