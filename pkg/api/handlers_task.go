package api

import (
	"net/http"

	"github.com/droverhq/drover/pkg/types"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req types.TaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "type is required")
		return
	}
	if req.Priority < 0 || req.Priority > 10 {
		writeError(w, http.StatusBadRequest, "validation failed", "priority must be within [0,10]")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "validation failed", "payload is required")
		return
	}

	created, err := s.gw.Tasks.Create("", req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.gw.Tasks.Status(r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var update types.TaskUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if update.Status == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "status is required")
		return
	}
	switch update.Status {
	case types.TaskProcessing, types.TaskCompleted, types.TaskFailed:
	default:
		writeError(w, http.StatusBadRequest, "validation failed",
			"status must be one of PROCESSING, COMPLETED, FAILED")
		return
	}
	if update.Progress != nil && (*update.Progress < 0 || *update.Progress > 100) {
		writeError(w, http.StatusBadRequest, "validation failed", "progress must be within [0,100]")
		return
	}

	updated, err := s.gw.Tasks.Update(r.PathValue("id"), update)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type actionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.gw.Tasks.Retry(id) {
		writeJSON(w, http.StatusOK, actionResult{Success: true, Message: "task re-queued"})
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: false, Message: "task is not retryable"})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if _, err := s.gw.Tasks.Cancel(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true, Message: "task cancelled"})
}
