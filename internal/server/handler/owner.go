package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oracleadapter/internal/api"
)

type OwnerHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewOwnerHandler(oracle OracleService, logger *slog.Logger) *OwnerHandler {
	return &OwnerHandler{oracle: oracle, logger: logger}
}

// Get returns the current authority.
// GET /api/owner
func (h *OwnerHandler) Get(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.Owner{Owner: h.oracle.Owner().Hex()})
}

// Transfer hands authority to a new owner. Owner only.
// POST /api/owner/transfer
func (h *OwnerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req api.TransferOwnershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newOwner, err := api.ParseAddress(req.NewOwner)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.oracle.TransferOwnership(r.Context(), caller, newOwner); err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Owner{Owner: h.oracle.Owner().Hex()})
}
