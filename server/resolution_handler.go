package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"TuneSweep/model"
)

// BulkDeleteRequest represents the bulk deletion request body
type BulkDeleteRequest struct {
	TrackIDs []int64 `json:"trackIds"`
}

// SmartDeleteRequest represents the strategy-driven deletion request body
type SmartDeleteRequest struct {
	RunID    string `json:"runId"`
	Strategy string `json:"strategy"`
}

// DeleteTrackHandler deletes a single track.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.ParseInt(mux.Vars(r)["track_id"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid track id", model.ErrValidation))
		return
	}

	result, err := h.analyzer.Resolver().DeleteOne(r.Context(), OwnerFromContext(r.Context()), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BulkDeleteHandler deletes a batch of tracks, reporting per-item outcomes.
func (h *APIHandler) BulkDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.TrackIDs) == 0 {
		writeError(w, fmt.Errorf("%w: trackIds is required", model.ErrValidation))
		return
	}

	result, err := h.analyzer.Resolver().BulkDelete(r.Context(), OwnerFromContext(r.Context()), req.TrackIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SmartDeleteHandler applies a keeper-selection strategy over a run's groups.
func (h *APIHandler) SmartDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req SmartDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		writeError(w, fmt.Errorf("%w: runId is required", model.ErrValidation))
		return
	}

	result, err := h.analyzer.Resolver().SmartDelete(
		r.Context(), OwnerFromContext(r.Context()), req.RunID, model.DeleteStrategy(req.Strategy))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AuditLogHandler lists the newest audit entries.
func (h *APIHandler) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := h.auditRepo.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
