package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"uqclock/internal/config"
	"uqclock/internal/model"
	"uqclock/internal/schedule"
	"uqclock/internal/web"
)

var now = time.Date(2026, time.October, 17, 13, 55, 0, 0, time.UTC)

type stubQueue struct {
	events    []model.Event
	refills   int
	refilling bool
}

func (q *stubQueue) AdvanceIfExpired(time.Time) bool { return false }

func (q *stubQueue) Peek() model.Event { return q.events[0] }

func (q *stubQueue) Snapshot() []model.Event { return append([]model.Event(nil), q.events...) }

func (q *stubQueue) Status() schedule.Status {
	return schedule.Status{LastRefill: now.Add(-time.Minute), Refills: 3, Refilling: q.refilling}
}

func (q *stubQueue) RequestRefill() bool {
	q.refills++
	return !q.refilling
}

func newStub() *stubQueue {
	return &stubQueue{events: []model.Event{
		{Title: "UQ1", Start: time.Date(2026, time.October, 17, 14, 0, 0, 0, time.UTC), UID: "a", SourceID: "pso2-uq"},
		{Title: "UQ2", Start: time.Date(2026, time.October, 17, 16, 0, 0, 0, time.UTC), UID: "b", SourceID: "pso2-uq"},
	}}
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.HappeningPrefix = " at "
	cfg.Separator = " | "
	return cfg
}

func serve(t *testing.T, h http.Handler, method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func Test_Current_Returns_Front_Event_And_Display_Line(t *testing.T) {
	t.Parallel()

	h := web.NewServer(testConfig(), newStub(), func() time.Time { return now }).Handler()

	rec := serve(t, h, http.MethodGet, "/api/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Event struct {
			Title string `json:"title"`
			Kind  string `json:"kind"`
		} `json:"event"`
		Line string `json:"line"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "UQ1", body.Event.Title)
	assert.Equal(t, "calendar", body.Event.Kind)
	assert.Equal(t, "UQ1 at 14:00 | 13:55", body.Line)
}

func Test_Events_Returns_Queue_Snapshot_And_Status(t *testing.T) {
	t.Parallel()

	h := web.NewServer(testConfig(), newStub(), func() time.Time { return now }).Handler()

	rec := serve(t, h, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CalendarID string `json:"calendar_id"`
		Events     []struct {
			Title string `json:"title"`
		} `json:"events"`
		Status struct {
			Refills int64 `json:"refills"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "pso2-uq", body.CalendarID)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "UQ2", body.Events[1].Title)
	assert.Equal(t, int64(3), body.Status.Refills)
}

func Test_Refresh_Requires_POST(t *testing.T) {
	t.Parallel()

	q := newStub()
	h := web.NewServer(testConfig(), q, nil).Handler()

	rec := serve(t, h, http.MethodGet, "/api/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, q.refills)

	rec = serve(t, h, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"started": true}`, rec.Body.String())
	assert.Equal(t, 1, q.refills)
}

func Test_Overlay_Page_Is_Ready_For_Capture(t *testing.T) {
	t.Parallel()

	h := web.NewServer(testConfig(), newStub(), func() time.Time { return now }).Handler()

	rec := serve(t, h, http.MethodGet, "/overlay", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "UQ1 at 14:00 | 13:55")
	assert.Contains(t, body, "rgba(100,150,255,1.00)")
	assert.True(t, strings.Contains(body, "right: calc("), "default alignment is right")
}

func Test_BasicAuth_Protects_Everything_But_Health(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		password string
	}{
		{name: "Plain", password: "hunter2"},
		{name: "Bcrypt", password: string(hash)},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.BasicAuth = &config.BasicAuthConfig{Username: "arks", Password: testCase.password}
			h := web.NewServer(cfg, newStub(), nil).Handler()

			assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/health", nil).Code)
			assert.Equal(t, http.StatusUnauthorized, serve(t, h, http.MethodGet, "/api/current", nil).Code)

			wrong := serve(t, h, http.MethodGet, "/api/current", func(r *http.Request) { r.SetBasicAuth("arks", "nope") })
			assert.Equal(t, http.StatusUnauthorized, wrong.Code)

			ok := serve(t, h, http.MethodGet, "/api/current", func(r *http.Request) { r.SetBasicAuth("arks", "hunter2") })
			assert.Equal(t, http.StatusOK, ok.Code)
		})
	}
}

func Test_Current_Advances_Past_Expired_Event_When_No_Window_Runs(t *testing.T) {
	t.Parallel()

	src := schedule.SourceFunc(func(context.Context, string, time.Time, int) ([]model.Event, error) {
		return []model.Event{
			{Title: "UQ1", Start: time.Date(2026, time.October, 17, 13, 1, 0, 0, time.UTC), UID: "a"},
			{Title: "UQ2", Start: time.Date(2026, time.October, 17, 15, 0, 0, 0, time.UTC), UID: "b"},
		}, nil
	})
	clock := func() time.Time { return time.Date(2026, time.October, 17, 13, 30, 0, 0, time.UTC) }
	q := schedule.NewQueue(src, schedule.Options{Async: true, Now: clock})
	t.Cleanup(q.Close)
	require.NoError(t, q.Refill(context.Background()))

	h := web.NewServer(testConfig(), q, clock).Handler()

	for _, path := range []string{"/api/current", "/api/current", "/overlay"} {
		rec := serve(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "UQ2 at 15:00 | 13:30", path)
		assert.NotContains(t, rec.Body.String(), "UQ1", path)
	}
	assert.Len(t, q.Snapshot(), 1)
}
