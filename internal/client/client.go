// Package client calls the adapter HTTP API. Admin and fulfillment calls
// are signed with the operator key; transient failures are retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/crypto"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
	"github.com/alanyoungcy/oracleadapter/internal/retry"
)

// Config points the client at an adapter.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	SignatureTTL time.Duration
	Retry        retry.Config
}

// Client is a typed adapter API client.
type Client struct {
	baseURL string
	apiKey  string
	ttl     time.Duration
	retry   retry.Config
	http    *http.Client
	signer  *crypto.Signer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Client. signer may be nil for read-only use.
func New(cfg Config, signer *crypto.Signer, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SignatureTTL <= 0 {
		cfg.SignatureTTL = time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		ttl:     cfg.SignatureTTL,
		retry:   cfg.Retry,
		http:    &http.Client{Timeout: cfg.Timeout},
		signer:  signer,
		logger:  logger.With(slog.String("component", "api_client")),
		now:     time.Now,
	}
}

// APIError is a non-2xx response. It unwraps to the domain sentinel for
// its kind so callers can use errors.Is.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch oracle.ErrorKind(e.Kind) {
	case oracle.KindUnauthorized:
		return domain.ErrUnauthorized
	case oracle.KindInvalidAuthority:
		return domain.ErrInvalidAuthority
	case oracle.KindUnknownIdentifier:
		return domain.ErrUnknownIdentifier
	case oracle.KindRequestAlreadyPending:
		return domain.ErrRequestAlreadyPending
	case oracle.KindUnknownRequest:
		return domain.ErrUnknownRequest
	case oracle.KindAlreadyFulfilled:
		return domain.ErrAlreadyFulfilled
	case oracle.KindOracleUnavailable:
		return domain.ErrOracleUnavailable
	case oracle.KindPriceNotAvailable:
		return domain.ErrPriceNotAvailable
	case oracle.KindInvalidBinding:
		return domain.ErrInvalidBinding
	case oracle.KindInvalidPrice:
		return domain.ErrInvalidPrice
	}
	if e.Status == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	return nil
}

// retryable covers network failures and gateway-side overload. Adapter
// errors, including oracle_unavailable, are answers and are not retried.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		case http.StatusBadGateway:
			return apiErr.Kind == ""
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) Health(ctx context.Context) (api.Health, error) {
	var out api.Health
	return out, c.do(ctx, http.MethodGet, "/api/health", nil, false, &out)
}

func (c *Client) Identifiers(ctx context.Context) ([]api.Binding, error) {
	var out api.BindingList
	if err := c.do(ctx, http.MethodGet, "/api/identifiers", nil, false, &out); err != nil {
		return nil, err
	}
	return out.Identifiers, nil
}

func (c *Client) Binding(ctx context.Context, identifier string) (api.Binding, error) {
	var out api.Binding
	return out, c.do(ctx, http.MethodGet, "/api/identifiers/"+url.PathEscape(identifier), nil, false, &out)
}

func (c *Client) Supported(ctx context.Context, identifier string) (bool, error) {
	var out api.Supported
	err := c.do(ctx, http.MethodGet, "/api/identifiers/"+url.PathEscape(identifier)+"/supported", nil, false, &out)
	return out.Supported, err
}

// AddOracle binds an identifier. Signed.
func (c *Client) AddOracle(ctx context.Context, req api.AddOracleRequest) (api.Binding, error) {
	var out api.Binding
	return out, c.do(ctx, http.MethodPost, "/api/identifiers", req, true, &out)
}

// RemoveOracle unbinds an identifier. Signed.
func (c *Client) RemoveOracle(ctx context.Context, identifier string) error {
	return c.do(ctx, http.MethodDelete, "/api/identifiers/"+url.PathEscape(identifier), nil, true, nil)
}

func (c *Client) Owner(ctx context.Context) (string, error) {
	var out api.Owner
	err := c.do(ctx, http.MethodGet, "/api/owner", nil, false, &out)
	return out.Owner, err
}

// TransferOwnership hands authority to newOwner. Signed.
func (c *Client) TransferOwnership(ctx context.Context, newOwner string) (string, error) {
	var out api.Owner
	err := c.do(ctx, http.MethodPost, "/api/owner/transfer", api.TransferOwnershipRequest{NewOwner: newOwner}, true, &out)
	return out.Owner, err
}

func (c *Client) RequestPrice(ctx context.Context, identifier string, timestamp int64) (api.Receipt, error) {
	var out api.Receipt
	err := c.do(ctx, http.MethodPost, "/api/prices/request", api.PriceRequest{Identifier: identifier, Timestamp: timestamp}, false, &out)
	return out, err
}

func (c *Client) GetPrice(ctx context.Context, identifier string, timestamp int64) (api.Price, error) {
	var out api.Price
	path := "/api/prices/" + url.PathEscape(identifier) + "?timestamp=" + strconv.FormatInt(timestamp, 10)
	return out, c.do(ctx, http.MethodGet, path, nil, false, &out)
}

// Fulfill delivers a job answer as the signing oracle.
func (c *Client) Fulfill(ctx context.Context, token string, price api.Price) (api.Request, error) {
	var out api.Request
	return out, c.do(ctx, http.MethodPost, "/api/fulfill", api.FulfillRequest{Token: token, Price: price}, true, &out)
}

func (c *Client) Request(ctx context.Context, token string) (api.Request, error) {
	var out api.Request
	return out, c.do(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(token), nil, false, &out)
}

// Requests lists job requests. Empty state and identifier match all.
func (c *Client) Requests(ctx context.Context, state, identifier string, limit int) ([]api.Request, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if identifier != "" {
		q.Set("identifier", identifier)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out api.RequestList
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *Client) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	var out api.EventList
	if err := c.do(ctx, http.MethodGet, "/api/events?limit="+strconv.Itoa(limit), nil, false, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Added   int
	Skipped int
}

// Seed applies a list of bindings, skipping identifiers already bound
// exactly as requested.
func (c *Client) Seed(ctx context.Context, entries []api.AddOracleRequest) (SeedResult, error) {
	var res SeedResult
	for _, e := range entries {
		current, err := c.Binding(ctx, e.Identifier)
		switch {
		case err == nil && sameBinding(current, e):
			res.Skipped++
			c.logger.DebugContext(ctx, "binding unchanged", slog.String("identifier", e.Identifier))
			continue
		case err != nil && !errors.Is(err, domain.ErrUnknownIdentifier):
			return res, fmt.Errorf("client: seed %s: %w", e.Identifier, err)
		}
		if _, err := c.AddOracle(ctx, e); err != nil {
			return res, fmt.Errorf("client: seed %s: %w", e.Identifier, err)
		}
		res.Added++
		c.logger.InfoContext(ctx, "binding seeded",
			slog.String("identifier", e.Identifier),
			slog.String("oracle", e.Oracle),
			slog.Bool("is_aggregator", e.IsAggregator),
		)
	}
	return res, nil
}

func sameBinding(b api.Binding, want api.AddOracleRequest) bool {
	if !strings.EqualFold(b.Oracle, want.Oracle) || b.IsAggregator != want.IsAggregator {
		return false
	}
	return want.IsAggregator || b.JobID == want.JobID
}

// do sends one call with retries. Signed calls are re-signed with a fresh
// nonce on every attempt.
func (c *Client) do(ctx context.Context, method, path string, in any, signed bool, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
	}
	if signed && c.signer == nil {
		return fmt.Errorf("client: %s %s needs a signing key: %w", method, path, domain.ErrNotConfigured)
	}

	return retry.DoVoid(ctx, c.retry, retryable,
		func(attempt int, err error, backoff time.Duration) {
			c.logger.WarnContext(ctx, "retrying api call",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		},
		func() error { return c.once(ctx, method, path, body, signed, out) },
	)
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if signed {
		if err := c.sign(req, body); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) sign(req *http.Request, body []byte) error {
	call := crypto.Call{
		Method:  req.Method,
		Path:    req.URL.EscapedPath(),
		Body:    body,
		Nonce:   uuid.NewString(),
		Expires: c.now().Add(c.ttl).Unix(),
	}
	sig, err := c.signer.SignCall(call)
	if err != nil {
		return fmt.Errorf("client: sign %s %s: %w", req.Method, req.URL.Path, err)
	}
	req.Header.Set(api.HeaderSignature, sig)
	req.Header.Set(api.HeaderNonce, call.Nonce)
	req.Header.Set(api.HeaderExpires, strconv.FormatInt(call.Expires, 10))
	return nil
}
