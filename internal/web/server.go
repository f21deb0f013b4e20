// Package web serves the operator page: current status, a form to tell the
// daemon what the dial shows, and the time zone selection.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/status"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// setTimeout bounds how long POST /set waits for the scheduler.
const setTimeout = 5 * time.Second

// SetRequest is an operator override from the form.
type SetRequest struct {
	Hour      int
	Minute    int
	ZoneIndex int
	HasZone   bool
}

// Setter applies an override. Implementations hand the request to the
// scheduler and return once it has been applied.
type Setter interface {
	Set(ctx context.Context, req SetRequest) error
}

// Server serves the operator page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	zones      *zone.Registry
	setter     Setter
	log        zerolog.Logger
}

// New creates a Server reading state from tracker and sending overrides to setter.
func New(addr string, tracker *status.Tracker, zones *zone.Registry, setter Setter, log zerolog.Logger) *Server {
	s := &Server{tracker: tracker, zones: zones, setter: setter, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))
	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Post("/set", s.handleSet)
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.zones.Sorted()); err != nil {
		s.log.Warn().Err(err).Msg("render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	req := parseSetForm(r)

	ctx, cancel := context.WithTimeout(r.Context(), setTimeout)
	defer cancel()
	if err := s.setter.Set(ctx, req); err != nil {
		s.log.Warn().Err(err).Msg("set request not applied")
		http.Error(w, "busy, try again", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// parseSetForm reads hour, minute and zone. Non-numeric hour or minute
// read as 0; a missing or non-numeric zone leaves the zone unchanged.
func parseSetForm(r *http.Request) SetRequest {
	req := SetRequest{
		Hour:   atoi(r.PostFormValue("hour")),
		Minute: atoi(r.PostFormValue("minute")),
	}
	if v := r.PostFormValue("zone"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			req.ZoneIndex = idx
			req.HasZone = true
		}
	}
	return req
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("404: Not found"))
}
