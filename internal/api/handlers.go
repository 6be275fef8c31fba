package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kuhlman-labs/doc-analyzer/internal/batch"
	"github.com/kuhlman-labs/doc-analyzer/internal/logging"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
)

// SubmitBatchRequest is the submission payload
type SubmitBatchRequest struct {
	Owner     string   `json:"owner"`
	Documents []string `json:"documents"`
	Priority  string   `json:"priority,omitempty"`
	Options   string   `json:"options,omitempty"`
}

// BatchStatusResponse is the status payload: the batch row plus its
// aggregate, complete once the batch is terminal
type BatchStatusResponse struct {
	Batch     *models.Batch           `json:"batch"`
	Aggregate *models.AggregateResult `json:"aggregate"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	b, err := s.orchestrator.Submit(r.Context(), batch.SubmitRequest{
		Owner:     req.Owner,
		Documents: req.Documents,
		Priority:  req.Priority,
		Options:   req.Options,
	})
	if err != nil {
		if batch.IsValidationError(err) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to submit batch", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to submit batch")
		return
	}

	s.sendJSON(w, http.StatusAccepted, map[string]string{"batch_id": b.ID})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.db.ListBatches(r.Context())
	if err != nil {
		s.logger.Error("Failed to list batches", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch batches")
		return
	}
	s.sendJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b, agg, err := s.orchestrator.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to fetch batch", "batch_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch batch")
		return
	}
	if b == nil {
		s.sendError(w, http.StatusNotFound, "Batch not found")
		return
	}

	s.sendJSON(w, http.StatusOK, BatchStatusResponse{Batch: b, Aggregate: agg})
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b, err := s.db.GetBatch(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to fetch batch", "batch_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch batch")
		return
	}
	if b == nil {
		s.sendError(w, http.StatusNotFound, "Batch not found")
		return
	}

	if err := s.orchestrator.Cancel(r.Context(), id); err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"batch_id": id, "status": models.BatchStatusFailed})
}

func (s *Server) handleQueueDepths(w http.ResponseWriter, r *http.Request) {
	depths := make(map[string]int, 3)
	for _, tier := range s.queues.Tiers() {
		q, err := s.queues.Tier(tier)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "Failed to fetch queue depths")
			return
		}
		depth, err := q.Depth(r.Context())
		if err != nil {
			s.logger.Error("Failed to count messages", "tier", tier, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to fetch queue depths")
			return
		}
		depths[tier] = depth
	}
	s.sendJSON(w, http.StatusOK, depths)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("tier")
	if tier != "" && !models.IsValidPriority(tier) {
		s.sendError(w, http.StatusBadRequest, "Invalid tier")
		return
	}

	entries, err := s.db.ListDeadLetters(r.Context(), tier)
	if err != nil {
		s.logger.Error("Failed to list dead letters", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch dead letters")
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid dead letter ID")
		return
	}

	entry, err := s.db.GetDeadLetter(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to fetch dead letter", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch dead letter")
		return
	}
	if entry == nil {
		s.sendError(w, http.StatusNotFound, "Dead letter not found")
		return
	}

	msg, err := s.db.ReplayDeadLetter(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to replay dead letter", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to replay dead letter")
		return
	}

	s.logger.Info("Dead letter replayed",
		"id", id,
		"job_id", msg.JobID,
		"tier", msg.Tier)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"job_id": msg.JobID,
		"tier":   msg.Tier,
	})
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"level": logging.GetLevelManager().GetLevel(),
	})
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Level {
	case "debug", "info", "warn", "error":
		logging.GetLevelManager().SetLevel(req.Level)
	case "default", "":
		logging.GetLevelManager().ResetToDefault()
	default:
		s.sendError(w, http.StatusBadRequest, "Level must be one of debug, info, warn, error, default")
		return
	}

	s.logger.Info("Log level changed", "level", logging.GetLevelManager().GetLevel())
	s.sendJSON(w, http.StatusOK, map[string]string{
		"level": logging.GetLevelManager().GetLevel(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
