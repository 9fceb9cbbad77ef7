package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"TuneSweep/config"
	"TuneSweep/core/dedup"
	"TuneSweep/logger"
	"TuneSweep/model"
	"TuneSweep/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	analyzer  *dedup.Analyzer
	trackRepo repository.TrackRepository
	auditRepo repository.AuditRepository
	cfg       *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	analyzer *dedup.Analyzer,
	trackRepo repository.TrackRepository,
	auditRepo repository.AuditRepository,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		analyzer:  analyzer,
		trackRepo: trackRepo,
		auditRepo: auditRepo,
		cfg:       cfg,
	}
}

type contextKey string

const ownerContextKey contextKey = "owner"

// OwnerFromContext returns the authenticated owner, empty for anonymous calls.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner
}

// writeJSON serializes a success payload.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

// writeError maps an engine error to its HTTP status and stable error body,
// including the retry and partial-results advice flags.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrRunActive):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrCatalogUnavailable):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"error": model.AsAppError(err),
	})
}
