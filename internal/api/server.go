package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/middleware"
	"github.com/JakeFAU/geospaas-harvester/internal/orchestrator"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

// StatusSource reports the current state of every target.
// *orchestrator.Orchestrator satisfies it.
type StatusSource interface {
	Snapshot() orchestrator.Report
}

// Server wires HTTP handlers for the status API.
type Server struct {
	router chi.Router
	status StatusSource
	logger *zap.Logger
}

// NewServer constructs the status API.
func NewServer(status StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{status: status, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1/targets", func(r chi.Router) {
		r.Get("/", s.listTargets)
		r.Get("/{target}", s.getTarget)
	})

	s.router = r
	return s
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz fails once every target has exited, so a load balancer stops
// routing to a process that is shutting down.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	for _, t := range s.status.Snapshot().Targets {
		if !t.Exited {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	report := s.status.Snapshot()
	out := make([]targetStatus, 0, len(report.Targets))
	for _, t := range report.Targets {
		out = append(out, newTargetStatus(t))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	t, ok := s.status.Snapshot().Target(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}
	s.writeJSON(w, http.StatusOK, newTargetStatus(t))
}

type targetStatus struct {
	Name    string         `json:"name"`
	Phase   string         `json:"phase"`
	Cycles  int            `json:"cycles"`
	Summary ingest.Summary `json:"summary"`
	Cursor  string         `json:"cursor,omitempty"`
	Exited  bool           `json:"exited"`
	Error   string         `json:"error,omitempty"`
}

func newTargetStatus(t orchestrator.TargetReport) targetStatus {
	ts := targetStatus{
		Name:    t.Name,
		Phase:   string(t.Phase),
		Cycles:  t.Cycles,
		Summary: t.Summary,
		Cursor:  t.Cursor,
		Exited:  t.Exited,
	}
	if t.Err != nil {
		ts.Error = t.Err.Error()
	}
	return ts
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
