package schedule

import (
	"time"

	"github.com/google/uuid"

	"uqclock/internal/model"
)

// Placeholder titles shown instead of a calendar entry.
const (
	ConnectionFailedTitle = "Failed to connect to calendar"
	RetryTitle            = "Calendar issue; retrying:"
	PendingTitle          = "Refreshing calendar"
)

// FarFuture keeps a frozen connection-failure placeholder on screen until the
// process restarts or a periodic refresh replaces it.
var FarFuture = time.Date(3000, time.December, 29, 23, 59, 59, 0, time.UTC)

func connectionFailedEvent(now time.Time, retry time.Duration, freeze bool) model.Event {
	start := now.Add(retry)
	if freeze {
		start = FarFuture
	}
	return placeholder(ConnectionFailedTitle, start, model.KindConnectionFailed)
}

func retryEvent(now time.Time, delay time.Duration) model.Event {
	return placeholder(RetryTitle, now.Add(delay), model.KindRetry)
}

func pendingEvent(now time.Time, delay time.Duration) model.Event {
	return placeholder(PendingTitle, now.Add(delay), model.KindPending)
}

func placeholder(title string, start time.Time, kind model.Kind) model.Event {
	return model.Event{
		Title: title,
		Start: start,
		UID:   "placeholder-" + uuid.NewString(),
		Kind:  kind,
	}
}
