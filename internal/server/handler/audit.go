package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oracleadapter/internal/api"
)

type AuditHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewAuditHandler(oracle OracleService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{oracle: oracle, logger: logger}
}

// List returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.oracle.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: audit list failed",
			slog.String("error", err.Error()),
		)
		api.WriteError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	out := api.AuditList{Entries: make([]api.AuditEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, api.AuditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, out)
}
