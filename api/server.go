// Package api exposes the tuning daemon over HTTP: session status, derived
// gains, stored telemetry, and cancellation.
package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/autotune/internal/autotune"
	"github.com/banshee-data/autotune/internal/httputil"
	"github.com/banshee-data/autotune/internal/telemetry"
)

// Session is the live tuning run the server reports on. *autotune.Runner
// implements it.
type Session interface {
	ID() string
	Status() autotune.Status
	Gains(rule string) autotune.Gains
	Stop()
	Done() bool
}

type Server struct {
	session Session
	store   *telemetry.Store
	rule    string
}

// NewServer builds the HTTP surface for one session. rule is the default
// tuning rule reported by /gains; store may be nil when telemetry is
// disabled.
func NewServer(session Session, store *telemetry.Store, rule string) *Server {
	if rule == "" {
		rule = autotune.DefaultRule
	}
	return &Server{
		session: session,
		store:   store,
		rule:    rule,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("PID autotune daemon\n"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/gains", s.gainsHandler)
	mux.HandleFunc("/telemetry", s.telemetryHandler)
	mux.HandleFunc("/results", s.resultsHandler)
	mux.HandleFunc("/stop", s.stopHandler)
	mux.HandleFunc("/rules", s.rulesHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.Status())
}

func (s *Server) gainsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rule := r.URL.Query().Get("rule")
	if rule == "" {
		rule = s.rule
	}
	if !autotune.KnownRule(rule) {
		httputil.BadRequest(w, fmt.Sprintf("unknown tuning rule %q", rule))
		return
	}
	gains := s.session.Gains(rule)
	if gains == (autotune.Gains{}) {
		httputil.NotFound(w, "no tuned gains available yet")
		return
	}
	httputil.WriteJSONOK(w, struct {
		Session string  `json:"session"`
		Rule    string  `json:"rule"`
		Kp      float64 `json:"kp"`
		Ki      float64 `json:"ki"`
		Kd      float64 `json:"kd"`
	}{s.session.ID(), rule, gains.Kp, gains.Ki, gains.Kd})
}

func (s *Server) telemetryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "telemetry disabled")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		session = s.session.ID()
	}
	points, err := s.store.TuningPoints(session)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read telemetry: %v", err))
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "telemetry disabled")
		return
	}
	results, err := s.store.Results(20)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read results: %v", err))
		return
	}
	httputil.WriteJSONOK(w, results)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Stop()
	httputil.WriteJSONOK(w, struct {
		Session string `json:"session"`
		Stopped bool   `json:"stopped"`
	}{s.session.ID(), s.session.Done()})
}

func (s *Server) rulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, autotune.Rules())
}
