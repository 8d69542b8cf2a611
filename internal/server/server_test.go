package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/api"
	"github.com/alanyoungcy/oracleadapter/internal/crypto"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
	"github.com/alanyoungcy/oracleadapter/internal/server/ws"
	"github.com/alanyoungcy/oracleadapter/internal/service"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
)

const (
	chainID    = 31337
	ownerKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	nodeKey    = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	strangeKey = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	apiKey     = "s3cret"
)

var aggAddr = common.HexToAddress("0x000000000000000000000000000000000000a001")

type staticSources struct {
	aggregator domain.Aggregator
	job        domain.JobOracle
}

func (s staticSources) Aggregator(common.Address) (domain.Aggregator, error) { return s.aggregator, nil }
func (s staticSources) JobOracle(common.Address) (domain.JobOracle, error)   { return s.job, nil }

type fixedAggregator struct{}

func (fixedAggregator) LatestPrice(context.Context) (domain.Price, error) {
	return domain.NewPrice(312345000000, 8, time.Unix(1700000000, 0).UTC()), nil
}

type acceptingJob struct{}

func (acceptingJob) Request(context.Context, domain.JobRequest) (string, error) { return "run-1", nil }

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	owner  *crypto.Signer
	node   *crypto.Signer
	other  *crypto.Signer
	events *memory.EventSink
	hub    *ws.Hub
}

func newHarness(t *testing.T, limiter domain.RateLimiter) *harness {
	t.Helper()
	return newProbedHarness(t, limiter, nil)
}

func newProbedHarness(t *testing.T, limiter domain.RateLimiter, probes map[string]func(context.Context) error) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	owner, err := crypto.NewSigner(ownerKey, chainID)
	require.NoError(t, err)
	node, err := crypto.NewSigner(nodeKey, chainID)
	require.NoError(t, err)
	other, err := crypto.NewSigner(strangeKey, chainID)
	require.NoError(t, err)

	sink := memory.NewEventSink()
	registry, err := oracle.NewRegistry(ctx, memory.NewRegistryStore(), sink, logger, owner.Address())
	require.NoError(t, err)
	engine, err := oracle.NewEngine(ctx, registry, staticSources{fixedAggregator{}, acceptingJob{}}, memory.NewRequestStore(), sink, logger)
	require.NoError(t, err)
	svc := service.NewOracleService(oracle.NewAdapter(registry, engine), memory.NewAuditStore(), nil, nil, logger)

	hubCtx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(sink, logger, ws.Config{Mode: "server"})
	go func() { _ = hub.Run(hubCtx) }()

	h := NewHandler(Config{APIKey: apiKey, RateLimit: 10, RateWindow: time.Minute}, Deps{
		Oracle:   svc,
		Events:   sink,
		Verifier: crypto.NewVerifier(chainID, 5*time.Minute),
		Limiter:  limiter,
		Hub:      hub,
		Probes:   probes,
	}, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &harness{t: t, srv: srv, owner: owner, node: node, other: other, events: sink, hub: hub}
}

// call sends a request; signer may be nil for an unsigned call.
func (h *harness) call(method, path string, body any, signer *crypto.Signer) (*http.Response, []byte) {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewReader(raw))
	require.NoError(h.t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if signer != nil {
		h.sign(req, raw, signer, uuid.NewString())
	}
	return h.send(req)
}

func (h *harness) sign(req *http.Request, body []byte, signer *crypto.Signer, nonce string) {
	h.t.Helper()
	c := crypto.Call{
		Method:  req.Method,
		Path:    req.URL.EscapedPath(),
		Body:    body,
		Nonce:   nonce,
		Expires: time.Now().Add(time.Minute).Unix(),
	}
	sig, err := signer.SignCall(c)
	require.NoError(h.t, err)
	req.Header.Set(api.HeaderSignature, sig)
	req.Header.Set(api.HeaderNonce, c.Nonce)
	req.Header.Set(api.HeaderExpires, strconv.FormatInt(c.Expires, 10))
}

func (h *harness) send(req *http.Request) (*http.Response, []byte) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, data
}

func (h *harness) bind(identifier string, oracleAddr common.Address, isAggregator bool, jobID string) {
	h.t.Helper()
	resp, body := h.call(http.MethodPost, "/api/identifiers", api.AddOracleRequest{
		Identifier:   identifier,
		Oracle:       oracleAddr.Hex(),
		IsAggregator: isAggregator,
		JobID:        jobID,
	}, h.owner)
	require.Equal(h.t, http.StatusOK, resp.StatusCode, string(body))
}

func errorKind(t *testing.T, body []byte) string {
	t.Helper()
	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Kind
}

func TestHealthSkipsAuth(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, h.owner.Address().Hex(), health.Owner)
	assert.Equal(t, []string{service.RolePriceOracle, service.RoleIdentifierWhitelist}, health.Roles)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h := newProbedHarness(t, nil, map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	resp, err := http.Get(h.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health api.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "connection refused"}, health.Checks)
}

func TestBearerTokenRequired(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.srv.URL + "/api/identifiers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesRequireOwnerSignature(t *testing.T) {
	h := newHarness(t, nil)
	body := api.AddOracleRequest{Identifier: "ETH/USD", Oracle: aggAddr.Hex(), IsAggregator: true}

	resp, _ := h.call(http.MethodPost, "/api/identifiers", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := h.call(http.MethodPost, "/api/identifiers", body, h.other)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(oracle.KindUnauthorized), errorKind(t, data))

	resp, data = h.call(http.MethodPost, "/api/identifiers", body, h.owner)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var b api.Binding
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, "ETH/USD", b.Identifier)
	assert.Equal(t, "aggregator", b.Mode)

	resp, data = h.call(http.MethodGet, "/api/identifiers/ETH%2FUSD/supported", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"identifier":"ETH/USD","supported":true}`, string(data))

	resp, _ = h.call(http.MethodDelete, "/api/identifiers/ETH%2FUSD", nil, h.owner)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = h.call(http.MethodGet, "/api/identifiers/ETH%2FUSD", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(oracle.KindUnknownIdentifier), errorKind(t, data))
}

func TestReplayedSignatureRejected(t *testing.T) {
	h := newHarness(t, nil)
	raw, err := json.Marshal(api.TransferOwnershipRequest{NewOwner: h.other.Address().Hex()})
	require.NoError(t, err)

	newReq := func() *http.Request {
		req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/owner/transfer", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		h.sign(req, raw, h.owner, "fixed-nonce")
		return req
	}

	resp, data := h.send(newReq())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	resp, _ = h.send(newReq())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTamperedBodyRejected(t *testing.T) {
	h := newHarness(t, nil)
	signed, err := json.Marshal(api.TransferOwnershipRequest{NewOwner: h.node.Address().Hex()})
	require.NoError(t, err)
	sent, err := json.Marshal(api.TransferOwnershipRequest{NewOwner: h.other.Address().Hex()})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/owner/transfer", bytes.NewReader(sent))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	h.sign(req, signed, h.owner, uuid.NewString())

	resp, _ := h.send(req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := h.call(http.MethodGet, "/api/owner", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"owner":"`+h.owner.Address().Hex()+`"}`, string(data))
}

func TestTransferToZeroAddress(t *testing.T) {
	h := newHarness(t, nil)
	resp, data := h.call(http.MethodPost, "/api/owner/transfer",
		api.TransferOwnershipRequest{NewOwner: common.Address{}.Hex()}, h.owner)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(oracle.KindInvalidAuthority), errorKind(t, data))
}

func TestJobRequestLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.bind("GOLD/USD", h.node.Address(), false, "gold")

	resp, data := h.call(http.MethodPost, "/api/prices/request", api.PriceRequest{Identifier: "GOLD/USD", Timestamp: 1700000000}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	var receipt api.Receipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.Equal(t, "pending", receipt.State)
	require.NotEmpty(t, receipt.Token)

	resp, data = h.call(http.MethodPost, "/api/prices/request", api.PriceRequest{Identifier: "GOLD/USD", Timestamp: 1700000000}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(oracle.KindRequestAlreadyPending), errorKind(t, data))

	resp, data = h.call(http.MethodGet, "/api/prices/GOLD%2FUSD?timestamp=1700000000", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(oracle.KindPriceNotAvailable), errorKind(t, data))

	fulfill := api.FulfillRequest{Token: receipt.Token, Price: api.Price{Value: "195050", Decimals: 2}}
	resp, data = h.call(http.MethodPost, "/api/fulfill", fulfill, h.other)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(oracle.KindUnauthorized), errorKind(t, data))

	resp, data = h.call(http.MethodPost, "/api/fulfill", fulfill, h.node)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var fulfilled api.Request
	require.NoError(t, json.Unmarshal(data, &fulfilled))
	assert.Equal(t, "fulfilled", fulfilled.State)

	resp, data = h.call(http.MethodPost, "/api/fulfill", fulfill, h.node)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(oracle.KindAlreadyFulfilled), errorKind(t, data))

	resp, data = h.call(http.MethodGet, "/api/prices/GOLD%2FUSD?timestamp=1700000000", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var price api.Price
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, "195050", price.Value)
	assert.Equal(t, "1950.5", price.Display)

	resp, data = h.call(http.MethodGet, "/api/requests?state=fulfilled", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list api.RequestList
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Requests, 1)
	assert.Equal(t, receipt.Token, list.Requests[0].Token)

	resp, _ = h.call(http.MethodGet, "/api/requests/"+receipt.Token, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, data = h.call(http.MethodGet, "/api/requests/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(oracle.KindUnknownRequest), errorKind(t, data))
}

func TestFulfillRejectsMalformedPrice(t *testing.T) {
	h := newHarness(t, nil)
	resp, data := h.call(http.MethodPost, "/api/fulfill",
		api.FulfillRequest{Token: "t", Price: api.Price{Value: "1.5"}}, h.node)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(oracle.KindInvalidPrice), errorKind(t, data))
}

func TestAggregatorPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.bind("ETH/USD", aggAddr, true, "")

	resp, data := h.call(http.MethodPost, "/api/prices/request", api.PriceRequest{Identifier: "ETH/USD", Timestamp: 7}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var receipt api.Receipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.Equal(t, "aggregator", receipt.Mode)
	assert.Empty(t, receipt.Token)

	resp, data = h.call(http.MethodGet, "/api/prices/ETH%2FUSD", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var price api.Price
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, "3123.45", price.Display)
	assert.Equal(t, uint8(8), price.Decimals)
}

func TestUnknownIdentifierPrice(t *testing.T) {
	h := newHarness(t, nil)
	resp, data := h.call(http.MethodGet, "/api/prices/BTC%2FUSD", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(oracle.KindUnknownIdentifier), errorKind(t, data))

	resp, data = h.call(http.MethodGet, "/api/identifiers/BTC%2FUSD/supported", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"identifier":"BTC/USD","supported":false}`, string(data))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, denyAll{})
	resp, _ := h.call(http.MethodGet, "/api/owner", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	open := newHarness(t, brokenLimiter{})
	resp, _ = open.call(http.MethodGet, "/api/owner", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecentEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.bind("ETH/USD", aggAddr, true, "")

	resp, data := h.call(http.MethodGet, "/api/events?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list api.EventList
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Events, 1)
	assert.Equal(t, domain.EventBindingChanged, list.Events[0].Type)
}

func TestWebSocketStreamsFilteredEvents(t *testing.T) {
	h := newHarness(t, nil)
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?types=binding_removed"
	header := http.Header{"Authorization": []string{"Bearer " + apiKey}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg, &out))
		return out
	}
	assert.Equal(t, "hub_status", read()["type"])
	assert.Equal(t, 1, h.hub.ClientCount())

	h.bind("ETH/USD", aggAddr, true, "")
	resp, _ := h.call(http.MethodDelete, "/api/identifiers/ETH%2FUSD", nil, h.owner)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	msg := read()
	assert.Equal(t, "binding_removed", msg["type"])
	payload, ok := msg["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ETH/USD", payload["identifier"])
}
