package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// PriceHandler serves price requests and reads.
type PriceHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewPriceHandler(oracle OracleService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{oracle: oracle, logger: logger}
}

// Request asks for a price. Aggregator identifiers return state
// not_requested with no token; job identifiers return the pending token.
// POST /api/prices/request
func (h *PriceHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req api.PriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := domain.ParseIdentifier(req.Identifier)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.oracle.RequestPrice(r.Context(), id, req.Timestamp)
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if receipt.State == domain.RequestPending {
		status = http.StatusAccepted
	}
	api.WriteJSON(w, status, api.FromReceipt(receipt))
}

// Get reads the price of an identifier at ?timestamp= (default 0).
// GET /api/prices/{id}
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identifierParam(w, r)
	if !ok {
		return
	}
	var ts int64
	if v := r.URL.Query().Get("timestamp"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid timestamp: "+v)
			return
		}
		ts = n
	}
	price, err := h.oracle.GetPrice(r.Context(), id, ts)
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	out := api.FromPrice(price)
	out.Identifier = id.String()
	out.Timestamp = ts
	api.WriteJSON(w, http.StatusOK, out)
}
