package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// IdentifierHandler serves the registry endpoints.
type IdentifierHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewIdentifierHandler(oracle OracleService, logger *slog.Logger) *IdentifierHandler {
	return &IdentifierHandler{oracle: oracle, logger: logger}
}

// List returns every binding.
// GET /api/identifiers
func (h *IdentifierHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.oracle.Bindings()
	out := api.BindingList{Identifiers: make([]api.Binding, 0, len(entries))}
	for _, e := range entries {
		out.Identifiers = append(out.Identifiers, api.FromBindingEntry(e))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// Get returns the binding for one identifier.
// GET /api/identifiers/{id}
func (h *IdentifierHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identifierParam(w, r)
	if !ok {
		return
	}
	b, err := h.oracle.Binding(id)
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.FromBindingEntry(domain.BindingEntry{Identifier: id, Binding: b}))
}

// Supported answers the identifier whitelist query. Unknown identifiers
// are a normal false, not an error.
// GET /api/identifiers/{id}/supported
func (h *IdentifierHandler) Supported(w http.ResponseWriter, r *http.Request) {
	id, ok := identifierParam(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Supported{
		Identifier: id.String(),
		Supported:  h.oracle.IsIdentifierSupported(id),
	})
}

// Add binds an identifier. Owner only.
// POST /api/identifiers
func (h *IdentifierHandler) Add(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req api.AddOracleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := domain.ParseIdentifier(req.Identifier)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := api.ParseAddress(req.Oracle)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var jobID []byte
	if req.JobID != "" {
		jobID = []byte(req.JobID)
	}

	if err := h.oracle.AddOracle(r.Context(), caller, id, addr, req.IsAggregator, jobID); err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	b, err := h.oracle.Binding(id)
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.FromBindingEntry(domain.BindingEntry{Identifier: id, Binding: b}))
}

// Remove unbinds an identifier. Owner only.
// DELETE /api/identifiers/{id}
func (h *IdentifierHandler) Remove(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := identifierParam(w, r)
	if !ok {
		return
	}
	if err := h.oracle.RemoveOracle(r.Context(), caller, id); err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
