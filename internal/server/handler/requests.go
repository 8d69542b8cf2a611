package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// RequestHandler serves job request listings and fulfillment.
type RequestHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewRequestHandler(oracle OracleService, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{oracle: oracle, logger: logger}
}

// List returns recorded job requests, oldest first.
// GET /api/requests?state=pending|fulfilled&identifier=&limit=
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RequestFilter{Limit: parseLimit(r, 100)}

	switch state := domain.RequestState(q.Get("state")); state {
	case "":
	case domain.RequestPending, domain.RequestFulfilled:
		filter.State = state
	default:
		api.WriteError(w, http.StatusBadRequest, "state must be pending or fulfilled")
		return
	}
	if v := q.Get("identifier"); v != "" {
		id, err := domain.ParseIdentifier(v)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Identifier = &id
	}

	reqs := h.oracle.Requests(filter)
	out := api.RequestList{Requests: make([]api.Request, 0, len(reqs))}
	for _, req := range reqs {
		out.Requests = append(out.Requests, api.FromRequest(req))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// Get returns one request by token.
// GET /api/requests/{token}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.oracle.Request(domain.RequestToken(r.PathValue("token")))
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.FromRequest(req))
}

// Fulfill delivers a job answer. The signer must be the oracle the request
// was dispatched to.
// POST /api/fulfill
func (h *RequestHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req api.FulfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		api.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}
	price, err := req.Price.ToDomain()
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}

	token := domain.RequestToken(req.Token)
	if err := h.oracle.FulfillRequest(r.Context(), caller, token, price); err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	fulfilled, err := h.oracle.Request(token)
	if err != nil {
		writeOracleError(w, r, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.FromRequest(fulfilled))
}
