// Package api exposes the registry over HTTP/JSON.
//
// Authentication is the host's concern: the caller identity is taken from
// the X-Caller header as given, and every gated operation asks the
// engine's authority about it.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/timelock/internal/engine"
)

// CallerHeader carries the caller identity.
const CallerHeader = "X-Caller"

// Server serves the registry API.
type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewServer creates a server for e. gatherer backs GET /metrics; nil
// disables the route.
func NewServer(e *engine.Engine, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: e, gatherer: gatherer, log: log}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/requests", s.handleCreate).Methods(http.MethodPost)
	v1.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id:[0-9]+}", s.handleGetRequest).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id:[0-9]+}/events", s.handleRequestEvents).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id:[0-9]+}/execute", s.handleExecute).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id:[0-9]+}/execute-fast", s.handleExecuteFast).Methods(http.MethodPost)
	v1.HandleFunc("/delay", s.handleGetDelay).Methods(http.MethodGet)
	v1.HandleFunc("/delay", s.handleSetDelay).Methods(http.MethodPut)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"caller", r.Header.Get(CallerHeader),
			"status", rec.status,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
