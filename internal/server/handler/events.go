package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// EventHandler serves recent registry and request events.
type EventHandler struct {
	events domain.EventSource
	logger *slog.Logger
}

func NewEventHandler(events domain.EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// Recent returns the latest events, oldest first.
// GET /api/events?limit=
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	evs, err := h.events.Recent(r.Context(), parseLimit(r, 100))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: recent events failed",
			slog.String("error", err.Error()),
		)
		api.WriteError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if evs == nil {
		evs = []domain.Event{}
	}
	api.WriteJSON(w, http.StatusOK, api.EventList{Events: evs})
}
