package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"TuneSweep/core/dedup"
	"TuneSweep/logger"
	"TuneSweep/model"
)

// AnalyzeRequest represents the analysis request body
type AnalyzeRequest struct {
	SearchTerm    string  `json:"searchTerm"`
	SortBy        string  `json:"sortBy"`
	MinConfidence float64 `json:"minConfidence"`
}

// StartAnalysisHandler launches a duplicate analysis and returns its run id.
func (h *APIHandler) StartAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	// An empty body starts an analysis over the whole library with defaults.
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	owner := OwnerFromContext(r.Context())
	params := model.AnalysisParams{
		SearchTerm:    req.SearchTerm,
		SortBy:        model.TrackSortOrder(req.SortBy),
		MinConfidence: req.MinConfidence,
	}

	runID, err := h.analyzer.Analyze(r.Context(), owner, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// ProgressHandler polls the live progress of a run.
func (h *APIHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	progress, err := h.analyzer.Progress(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// CancelAnalysisHandler requests cancellation of a running analysis.
func (h *APIHandler) CancelAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	if err := h.analyzer.Cancel(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"runId": runID, "status": "cancelling"})
}

// ResultHandler returns a persisted run with groups, snapshots and staleness.
func (h *APIHandler) ResultHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	view, err := h.analyzer.Result(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// LatestHandler returns the owner's newest completed run, 404 when none.
func (h *APIHandler) LatestHandler(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	searchTerm := r.URL.Query().Get("searchTerm")

	view, err := h.analyzer.Latest(r.Context(), owner, searchTerm)
	if err != nil {
		writeError(w, err)
		return
	}
	if view == nil {
		writeError(w, fmt.Errorf("no completed analysis: %w", model.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HistoryHandler lists run summaries for the owner.
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	views, err := h.analyzer.History(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// ExportHandler streams a run export in JSON or CSV.
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	format := dedup.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = dedup.ExportJSON
	}
	if !format.Valid() {
		writeError(w, fmt.Errorf("%w: unknown export format %q", model.ErrValidation, format))
		return
	}

	payload, contentType, err := h.analyzer.Export(r.Context(), runID, format)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analysis-%s.%s"`, runID, format))
	if _, err := w.Write(payload); err != nil {
		logger.Error("failed to write export", logger.String("runId", runID), logger.ErrorField(err))
	}
}

// CleanupHandler triggers the retention policy.
func (h *APIHandler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.analyzer.Cleanup(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
