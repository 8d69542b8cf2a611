package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
	"github.com/alanyoungcy/oracleadapter/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// statusFor maps an adapter error kind onto an HTTP status.
func statusFor(kind oracle.ErrorKind) int {
	switch kind {
	case oracle.KindUnauthorized:
		return http.StatusUnauthorized
	case oracle.KindInvalidAuthority, oracle.KindInvalidBinding, oracle.KindInvalidPrice:
		return http.StatusBadRequest
	case oracle.KindUnknownIdentifier, oracle.KindUnknownRequest, oracle.KindPriceNotAvailable:
		return http.StatusNotFound
	case oracle.KindRequestAlreadyPending, oracle.KindAlreadyFulfilled:
		return http.StatusConflict
	case oracle.KindOracleUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeOracleError renders an adapter failure with its kind. Internal
// failures are logged and reported without detail.
func writeOracleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := oracle.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: internal error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		api.WriteJSON(w, status, api.ErrorResponse{Error: "internal server error", Kind: string(kind)})
		return
	}
	api.WriteJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// callerOf returns the signed caller. Routes that need one are wrapped by
// middleware.Signed, so a miss means the route was wired without it.
func callerOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		api.WriteJSON(w, http.StatusUnauthorized, api.ErrorResponse{
			Error: "unsigned request",
			Kind:  string(oracle.KindUnauthorized),
		})
	}
	return caller, ok
}

// identifierParam parses the {id} path value as a name or 32-byte hex.
func identifierParam(w http.ResponseWriter, r *http.Request) (domain.Identifier, bool) {
	id, err := domain.ParseIdentifier(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return domain.Identifier{}, false
	}
	return id, true
}

// parseLimit reads ?limit=, defaulting to def and capping at 500.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}

// parseListOpts extracts limit and offset; defaults limit=50, offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: parseLimit(r, 50), Offset: offset}
}
