// Package api exposes the read-only HTTP surface over stored runs and
// entity clusters. Notable routes:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run summaries.
//   - GET /v1/runs/{run_id}/clusters and /v1/clusters/{cluster_id}.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

const requestTimeout = 10 * time.Second

// Reader is the view of stored runs the API serves. Both the memory sink
// and future database-backed readers satisfy it.
type Reader interface {
	Runs(ctx context.Context) ([]records.CollectionRun, error)
	Run(ctx context.Context, id string) (records.CollectionRun, bool, error)
	Clusters(ctx context.Context, runID string) ([]records.EntityCluster, error)
	Cluster(ctx context.Context, id string) (records.EntityCluster, bool, error)
}

// Server wires HTTP handlers to the run reader.
type Server struct {
	router chi.Router
	reader Reader
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reader Reader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{reader: reader, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/clusters", s.listClusters)
		})
		r.Get("/clusters/{cluster_id}", s.getCluster)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.reader.Runs(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	run, ok, err := s.reader.Run(r.Context(), id)
	if err != nil {
		s.logger.Error("get run failed", zap.String("run", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if _, ok, err := s.reader.Run(r.Context(), id); err != nil {
		s.logger.Error("get run failed", zap.String("run", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	clusters, err := s.reader.Clusters(r.Context(), id)
	if err != nil {
		s.logger.Error("list clusters failed", zap.String("run", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list clusters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cluster_id")
	cluster, ok, err := s.reader.Cluster(r.Context(), id)
	if err != nil {
		s.logger.Error("get cluster failed", zap.String("cluster", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cluster")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster": cluster})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
