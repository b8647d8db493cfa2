package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"uqclock/internal/config"
	"uqclock/internal/display"
	appLog "uqclock/internal/log"
	"uqclock/internal/model"
	"uqclock/internal/schedule"
)

// Queue is the part of schedule.Queue the HTTP API reads. Pages that show
// the current event advance it first, like a render tick.
type Queue interface {
	AdvanceIfExpired(now time.Time) bool
	Peek() model.Event
	Snapshot() []model.Event
	Status() schedule.Status
	RequestRefill() bool
}

// Server exposes the overlay state over HTTP: a JSON status API and an
// /overlay HTML page that renders the same line as the window.
type Server struct {
	cfg   config.Config
	queue Queue
	opts  display.Options
	now   func() time.Time
	mux   *http.ServeMux
}

// NewServer constructs a new Server. now defaults to time.Now.
func NewServer(cfg config.Config, queue Queue, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	s := &Server{
		cfg:   cfg,
		queue: queue,
		opts:  display.OptionsFromConfig(cfg),
		now:   now,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !checkPassword(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="uqclock", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// checkPassword accepts either a bcrypt hash or a plain configured password.
func checkPassword(given, configured string) bool {
	if strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return secureCompare(given, configured)
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/current", s.handleCurrent)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/overlay", s.handleOverlay)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of model.Event.
type eventDTO struct {
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	Kind     string    `json:"kind"`
	SourceID string    `json:"source_id,omitempty"`
	UID      string    `json:"uid"`
}

func toDTO(ev model.Event) eventDTO {
	return eventDTO{
		Title:    ev.Title,
		Start:    ev.Start,
		Kind:     ev.Kind.String(),
		SourceID: ev.SourceID,
		UID:      ev.UID,
	}
}

// currentResponse is the JSON response shape for /api/current.
type currentResponse struct {
	Event eventDTO  `json:"event"`
	Line  string    `json:"line"`
	Now   time.Time `json:"now"`
}

// statusDTO mirrors schedule.Status.
type statusDTO struct {
	LastRefill time.Time `json:"last_refill"`
	LastError  string    `json:"last_error,omitempty"`
	Refills    int64     `json:"refills"`
	Refilling  bool      `json:"refilling"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	CalendarID string     `json:"calendar_id"`
	Events     []eventDTO `json:"events"`
	Status     statusDTO  `json:"status"`
}

// handleCurrent returns the event on screen and the rendered line.
func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.queue.AdvanceIfExpired(now)
	ev := s.queue.Peek()
	writeJSON(w, http.StatusOK, currentResponse{
		Event: toDTO(ev),
		Line:  display.Format(ev, now, s.opts),
		Now:   now,
	})
}

// handleEvents returns the whole queue, front first, plus refill status.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.queue.Snapshot()
	dtos := make([]eventDTO, 0, len(snap))
	for _, ev := range snap {
		dtos = append(dtos, toDTO(ev))
	}

	st := s.queue.Status()
	writeJSON(w, http.StatusOK, eventsResponse{
		CalendarID: s.cfg.CalendarID,
		Events:     dtos,
		Status: statusDTO{
			LastRefill: st.LastRefill,
			LastError:  st.LastError,
			Refills:    st.Refills,
			Refilling:  st.Refilling,
		},
	})
}

// handleRefresh requests a background refill.
//
// POST /api/refresh -> 202 {"started": true|false}
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	started := s.queue.RequestRefill()
	appLog.Info("api refresh requested", "started", started)
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

var overlayTmpl = template.Must(template.New("overlay").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="30">
<title>uqclock</title>
<style>
body { margin: 0; background: transparent; }
#line {
  position: absolute;
  top: calc({{.YPct}}% + {{.YPx}}px);
  {{if .Right}}right: calc({{.XPct}}% - {{.XPx}}px);{{else}}left: calc({{.XPct}}% + {{.XPx}}px);{{end}}
  padding: 2px 6px;
  font: {{.FontSize}}px Consolas, monospace;
  color: {{.Font}};
  background: {{.Background}};
  white-space: pre;
}
</style>
</head>
<body>
<div id="line" data-ready="true" data-kind="{{.Kind}}">{{.Line}}</div>
</body>
</html>
`))

type overlayView struct {
	Line       string
	Kind       string
	Font       template.CSS
	Background template.CSS
	FontSize   int
	XPct, XPx  float64
	YPct, YPx  float64
	Right      bool
}

// handleOverlay renders the overlay line as a page, for browsers and for
// headless capture. The anchor is ratio*viewport + px like in the window; a
// right-aligned line ends at the anchor.
func (s *Server) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.queue.AdvanceIfExpired(now)
	ev := s.queue.Peek()

	o := s.opts.Offsets
	view := overlayView{
		Line:       display.Format(ev, now, s.opts),
		Kind:       ev.Kind.String(),
		Font:       cssColor(s.cfg.FontColor),
		Background: cssColor(s.cfg.BackgroundColor),
		FontSize:   s.cfg.FontSize,
		XPct:       o.XRatio * 100,
		XPx:        o.XPx,
		YPct:       o.YRatio * 100,
		YPx:        o.YPx,
		Right:      s.opts.Alignment == display.AlignRight,
	}
	if view.Right {
		view.XPct = (1 - o.XRatio) * 100
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := overlayTmpl.Execute(w, view); err != nil {
		appLog.Error("failed to render overlay page", err)
	}
}

func cssColor(c config.RGBA) template.CSS {
	n := c.Color()
	return template.CSS(fmt.Sprintf("rgba(%d,%d,%d,%.2f)", n.R, n.G, n.B, float64(n.A)/255))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
