package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// ExecutionHandler serves the execution journal.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. audit may be nil.
func NewExecutionHandler(store domain.ExecutionStore, audit domain.AuditStore, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, audit: audit, logger: logger.With(slog.String("handler", "executions"))}
}

// ListRecent returns journaled results newest first.
// GET /executions?limit=&offset=&since=
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if list == nil {
		list = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetByIntent returns the result of one intent.
// GET /executions/{intent_id}
func (h *ExecutionHandler) GetByIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("intent_id")
	res, err := h.store.GetByIntentID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.Error("get execution", slog.String("intent_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAudit returns audit entries newest first.
// GET /audit
func (h *ExecutionHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
