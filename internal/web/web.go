package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ctfcal/internal/config"
	appLog "ctfcal/internal/log"
	"ctfcal/internal/tracker"
)

// Tracker is the part of tracker.Service the HTTP API needs.
type Tracker interface {
	Snapshot(ctx context.Context) (tracker.Snapshot, error)
	Sync(ctx context.Context) (tracker.Report, error)
}

// Server provides a small status API over the tracked events and pending
// reminders.
type Server struct {
	cfg     *config.Config
	tracker Tracker
	mux     *http.ServeMux
	started time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, t Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		tracker: t,
		mux:     http.NewServeMux(),
		started: time.Now(),
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
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ctfcal", charset="UTF-8"`)
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

// Serve runs the HTTP server on cfg.Listen until ctx is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, cfg *config.Config, t Tracker) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, t).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/reminders", s.handleReminders)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of a tracked event.
type eventDTO struct {
	UID     string     `json:"uid"`
	Summary string     `json:"summary"`
	Start   time.Time  `json:"start"`
	End     *time.Time `json:"end,omitempty"`
	URL     string     `json:"url,omitempty"`
	AllDay  bool       `json:"all_day"`
}

type eventsResponse struct {
	Events          []eventDTO `json:"events"`
	DisplayTimeZone string     `json:"display_timezone"`
}

// reminderDTO is a JSON-friendly view of a pending reminder job.
type reminderDTO struct {
	UID  string    `json:"uid"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

type remindersResponse struct {
	Reminders []reminderDTO `json:"reminders"`
}

// handleEvents returns the tracked (upcoming) events, soonest first.
//
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.tracker.Snapshot(r.Context())
	if err != nil {
		appLog.Error("api events: snapshot failed", err)
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}

	dtos := make([]eventDTO, 0, len(snap.Events))
	for _, ev := range snap.Events {
		dto := eventDTO{
			UID:     ev.UID,
			Summary: ev.Summary,
			Start:   ev.StartLocal,
			URL:     ev.URL,
			AllDay:  ev.AllDay,
		}
		if ev.HasEnd() {
			end := ev.EndLocal
			dto.End = &end
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: dtos, DisplayTimeZone: s.cfg.Timezone})
}

// handleReminders returns pending reminder jobs ordered by fire time.
//
// GET /api/reminders
func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.tracker.Snapshot(r.Context())
	if err != nil {
		appLog.Error("api reminders: snapshot failed", err)
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	loc := s.cfg.Location()
	out := make([]reminderDTO, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		out = append(out, reminderDTO{UID: j.Key.UID, Kind: j.Key.Kind.String(), At: j.At.In(loc)})
	}
	writeJSON(w, http.StatusOK, remindersResponse{Reminders: out})
}

// handleRefresh triggers a sync cycle and returns its report.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rep, err := s.tracker.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "sync failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
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
