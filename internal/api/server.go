// Package api exposes the HTTP surface: push ingest, the read API the app
// consumes, task CRUD, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/poller"
	"github.com/monit-agro/monit-agro/internal/store"
)

// sharedTokenHeader carries the optional push-ingest shared secret.
const sharedTokenHeader = "X-Shared-Token"

type Server struct {
	store       *store.Store
	ingestor    *ingest.Ingestor
	poller      *poller.Poller // nil when pull mode is off
	token       string
	defaultFarm string
}

func NewServer(st *store.Store, ing *ingest.Ingestor, p *poller.Poller, token, defaultFarm string) *Server {
	return &Server{store: st, ingestor: ing, poller: p, token: token, defaultFarm: defaultFarm}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /farms", s.handleListFarms)
	mux.HandleFunc("GET /reports", s.handleListReports)
	mux.HandleFunc("GET /reports/latest", s.handleLatestReport)
	mux.HandleFunc("POST /reports", s.handlePushReport)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("PUT /tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)

	if s.poller != nil {
		mux.HandleFunc("POST /ingest/pull", s.handleManualPull)
	}
	return mux
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready := s.store.Ping(ctx) == nil
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeBody(w, map[string]bool{"ready": ready})
}

func (s *Server) handleManualPull(w http.ResponseWriter, r *http.Request) {
	s.poller.PollAll(r.Context())
	writeBody(w, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
