package schedule

import (
	"context"
	"time"

	"uqclock/internal/model"
)

// Source supplies upcoming events for a calendar, ascending by start time.
// Events with the same start keep the order the source chose.
type Source interface {
	FetchUpcoming(ctx context.Context, calendarID string, from time.Time, max int) ([]model.Event, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, calendarID string, from time.Time, max int) ([]model.Event, error)

func (f SourceFunc) FetchUpcoming(ctx context.Context, calendarID string, from time.Time, max int) ([]model.Event, error) {
	return f(ctx, calendarID, from, max)
}

// ProviderError is any failure to obtain events from a Source: auth,
// network, timeout or a malformed response.
type ProviderError struct {
	Op         string
	CalendarID string
	Err        error
}

func (e *ProviderError) Error() string {
	return "provider " + e.Op + " " + e.CalendarID + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }
