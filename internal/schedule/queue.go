package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	appLog "uqclock/internal/log"
	"uqclock/internal/model"
)

const (
	defaultMaxResults   = 10
	defaultRetryDelay   = 10 * time.Minute
	defaultFailureRetry = 5 * time.Minute
	defaultFetchTimeout = 15 * time.Second
)

// Options configures a Queue. Zero durations and MaxResults use defaults.
type Options struct {
	CalendarID    string
	IgnoredTitles []string
	MaxResults    int

	// RetryDelay is the lifetime of the placeholder installed after an empty refill.
	RetryDelay time.Duration
	// FailureRetry is the lifetime of the connection-failure placeholder.
	FailureRetry time.Duration
	// FreezeOnFailure pins the connection-failure placeholder to FarFuture.
	FreezeOnFailure bool
	// FetchTimeout bounds a single Source call.
	FetchTimeout time.Duration

	// Async makes the tick path (Peek/AdvanceIfExpired) hand refills to a
	// background goroutine instead of blocking on the Source.
	Async bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Status describes the last refill for the status API.
type Status struct {
	LastRefill time.Time
	LastError  string
	Refills    int64
	Refilling  bool
}

// Queue is the ordered list of upcoming events; its front is the event on
// screen.
//
// The queue is never observably empty: when it runs out, it either refills
// synchronously or (Async) shows a pending placeholder while a background
// refill runs. A refill failure or an empty result is replaced by a single
// placeholder whose start time schedules the next attempt.
//
// Source calls never hold the lock; results are published by replacing the
// whole slice under it.
type Queue struct {
	src     Source
	opts    Options
	ignored IgnoreSet

	mu     sync.Mutex
	events []model.Event
	status Status

	refilling atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	// closeMu orders wg.Add in RequestRefill before wg.Wait in Close.
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates an empty queue. Nothing is fetched until the first Peek
// or Refill.
func NewQueue(src Source, opts Options) *Queue {
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.FailureRetry <= 0 {
		opts.FailureRetry = defaultFailureRetry
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		src:     src,
		opts:    opts,
		ignored: NewIgnoreSet(opts.IgnoredTitles),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Peek returns the current event without removing it.
func (q *Queue) Peek() model.Event {
	q.mu.Lock()
	if len(q.events) > 0 {
		ev := q.events[0]
		q.mu.Unlock()
		return ev
	}
	q.mu.Unlock()

	now := q.opts.Now()
	q.exhausted(now)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		// A concurrent advance drained the refill result before we read it.
		q.events = []model.Event{retryEvent(now, q.opts.RetryDelay)}
	}
	return q.events[0]
}

// AdvanceIfExpired drops the current event if it started at or before now.
// At most one event is dropped per call, even if the next one has expired
// too. It reports whether an event was dropped.
func (q *Queue) AdvanceIfExpired(now time.Time) bool {
	front := q.Peek()
	if !front.Expired(now) {
		return false
	}

	q.mu.Lock()
	// A refill may have replaced the queue since Peek; only pop what was checked.
	if len(q.events) == 0 || !sameEvent(q.events[0], front) {
		q.mu.Unlock()
		return false
	}
	q.events[0] = model.Event{}
	q.events = q.events[1:]
	empty := len(q.events) == 0
	q.mu.Unlock()

	appLog.Debug("event expired", "title", front.Title, "start", front.Start.Format(time.RFC3339))

	if empty {
		q.exhausted(now)
	}
	return true
}

// exhausted makes sure the queue has a front again.
func (q *Queue) exhausted(now time.Time) {
	if !q.opts.Async {
		_ = q.Refill(q.ctx)
		return
	}

	q.mu.Lock()
	if len(q.events) == 0 {
		q.events = []model.Event{pendingEvent(now, q.opts.RetryDelay)}
	}
	q.mu.Unlock()
	q.RequestRefill()
}

// Refill replaces the queue with a fresh, filtered fetch from the Source.
//
// A failing or timed out Source installs the connection-failure placeholder,
// an empty result installs the retry placeholder. The returned error is the
// absorbed *ProviderError, for logging only; the queue is non-empty either way.
func (q *Queue) Refill(ctx context.Context) error {
	now := q.opts.Now()

	raw, err := q.fetch(ctx, now)
	events := Filter(raw, q.ignored)

	var next []model.Event
	switch {
	case err != nil:
		appLog.Error("calendar refill failed", err, "calendar_id", q.opts.CalendarID, "freeze", q.opts.FreezeOnFailure)
		next = []model.Event{connectionFailedEvent(now, q.opts.FailureRetry, q.opts.FreezeOnFailure)}
	case len(events) == 0:
		appLog.Warn("no upcoming events found; retrying later",
			"calendar_id", q.opts.CalendarID,
			"fetched", len(raw),
			"retry_at", now.Add(q.opts.RetryDelay).Format(time.RFC3339),
		)
		next = []model.Event{retryEvent(now, q.opts.RetryDelay)}
	default:
		appLog.Info("calendar refilled",
			"calendar_id", q.opts.CalendarID,
			"fetched", len(raw),
			"kept", len(events),
			"next", events[0].Title,
			"next_start", events[0].Start.Format(time.RFC3339),
		)
		next = events
	}

	q.mu.Lock()
	q.events = next
	q.status.LastRefill = now
	q.status.Refills++
	q.status.LastError = ""
	if err != nil {
		q.status.LastError = err.Error()
	}
	q.mu.Unlock()

	return err
}

// fetch calls the Source with a bounded timeout. A Source that ignores ctx
// is abandoned when the deadline passes.
func (q *Queue) fetch(ctx context.Context, now time.Time) ([]model.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.FetchTimeout)
	defer cancel()

	type result struct {
		events []model.Event
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		events, err := q.src.FetchUpcoming(ctx, q.opts.CalendarID, now, q.opts.MaxResults)
		ch <- result{events: events, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, q.providerError("fetch", r.err)
		}
		return r.events, nil
	case <-ctx.Done():
		return nil, q.providerError("fetch", ctx.Err())
	}
}

func (q *Queue) providerError(op string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, CalendarID: q.opts.CalendarID, Err: err}
}

// RequestRefill starts a background Refill unless one is already running.
// It never blocks and reports whether a refill was started.
func (q *Queue) RequestRefill() bool {
	q.closeMu.Lock()
	if q.closed || !q.refilling.CompareAndSwap(false, true) {
		q.closeMu.Unlock()
		return false
	}
	q.wg.Add(1)
	q.closeMu.Unlock()

	go func() {
		defer q.wg.Done()
		defer q.refilling.Store(false)
		_ = q.Refill(q.ctx)
	}()
	return true
}

// Wait blocks until in-flight background refills finish.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close cancels background refills and waits for them.
func (q *Queue) Close() {
	q.closeMu.Lock()
	q.closed = true
	q.cancel()
	q.closeMu.Unlock()
	q.wg.Wait()
}

// Run advances the queue every interval until ctx is done. It is the tick
// when no render loop drives the queue, e.g. in headless mode.
func (q *Queue) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.AdvanceIfExpired(q.opts.Now())
		}
	}
}

// Snapshot returns a copy of the queued events, front first.
func (q *Queue) Snapshot() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Event, len(q.events))
	copy(out, q.events)
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Status reports the outcome of the last refill.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.status
	st.Refilling = q.refilling.Load()
	return st
}

func sameEvent(a, b model.Event) bool {
	return a.UID == b.UID && a.Title == b.Title && a.Start.Equal(b.Start) && a.Kind == b.Kind
}
