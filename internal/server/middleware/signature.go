package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/crypto"
)

const maxSignedBody = 1 << 20

type ctxKey int

const (
	callerKey ctxKey = iota
	requestInfoKey
)

// requestInfo lets inner middleware report back to Logging.
type requestInfo struct {
	caller string
}

func withRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// CallVerifier authenticates a signed call. *crypto.Verifier satisfies it.
type CallVerifier interface {
	Verify(c crypto.Call, sigHex string) (common.Address, error)
}

// Signed recovers the caller from the signature headers and stores it in
// the request context. Unsigned, expired or replayed calls get 401.
func Signed(v CallVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(api.HeaderSignature)
			nonce := r.Header.Get(api.HeaderNonce)
			expiresRaw := r.Header.Get(api.HeaderExpires)
			if sig == "" || nonce == "" || expiresRaw == "" {
				api.WriteError(w, http.StatusUnauthorized, "missing signature headers")
				return
			}
			expires, err := strconv.ParseInt(expiresRaw, 10, 64)
			if err != nil {
				api.WriteError(w, http.StatusUnauthorized, "invalid "+api.HeaderExpires)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					api.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				api.WriteError(w, http.StatusBadRequest, "read body: "+err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := v.Verify(crypto.Call{
				Method:  r.Method,
				Path:    r.URL.EscapedPath(),
				Body:    body,
				Nonce:   nonce,
				Expires: expires,
			}, sig)
			if err != nil {
				api.WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.caller = caller.Hex()
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
		})
	}
}

// CallerFrom returns the caller recovered by Signed.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey).(common.Address)
	return caller, ok
}
