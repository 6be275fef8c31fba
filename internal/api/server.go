// Package api exposes the submission, status, and diagnostics surface
// over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/kuhlman-labs/doc-analyzer/internal/batch"
	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/queue"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

type Server struct {
	config       *config.Config
	db           *storage.Database
	orchestrator *batch.Orchestrator
	queues       *queue.Set
	logger       *slog.Logger
}

func NewServer(cfg *config.Config, db *storage.Database, orchestrator *batch.Orchestrator, queues *queue.Set, logger *slog.Logger) *Server {
	return &Server{
		config:       cfg,
		db:           db,
		orchestrator: orchestrator,
		queues:       queues,
		logger:       logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/batches", s.handleSubmitBatch)
	mux.HandleFunc("GET /api/v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /api/v1/batches/{id}/cancel", s.handleCancelBatch)

	mux.HandleFunc("GET /api/v1/queues", s.handleQueueDepths)
	mux.HandleFunc("GET /api/v1/dead-letters", s.handleListDeadLetters)
	mux.HandleFunc("POST /api/v1/dead-letters/{id}/replay", s.handleReplayDeadLetter)

	mux.HandleFunc("GET /api/v1/log-level", s.handleGetLogLevel)
	mux.HandleFunc("PUT /api/v1/log-level", s.handleSetLogLevel)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
