package model

import "time"

// Kind tells calendar entries apart from locally synthesized placeholders.
type Kind int

const (
	// KindCalendar is a real entry returned by the calendar source.
	KindCalendar Kind = iota
	// KindConnectionFailed masks an unreachable or failing calendar source.
	KindConnectionFailed
	// KindRetry masks a reachable source that returned nothing usable.
	KindRetry
	// KindPending is shown while a background refill is in flight.
	KindPending
)

func (k Kind) String() string {
	switch k {
	case KindCalendar:
		return "calendar"
	case KindConnectionFailed:
		return "connection_failed"
	case KindRetry:
		return "retry"
	case KindPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Event is a single upcoming occurrence shown on the overlay.
//
// Events are values: once built they are never modified, so they can be
// copied between the queue, the formatter and the HTTP API freely.
type Event struct {
	Title string
	Start time.Time

	SourceID string // calendar source ID (config calendar ID)
	UID      string // iCalendar UID, or a generated ID for placeholders

	Kind Kind
}

// Placeholder reports whether the event was synthesized locally.
func (e Event) Placeholder() bool {
	return e.Kind != KindCalendar
}

// Expired reports whether the event has started at or before now.
func (e Event) Expired(now time.Time) bool {
	return !e.Start.After(now)
}
