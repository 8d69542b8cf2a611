package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	aggAddr  = common.HexToAddress("0x000000000000000000000000000000000000a001")
	nodeAddr = common.HexToAddress("0x000000000000000000000000000000000000b001")
)

type stubSources struct {
	aggErr error
	jobErr error
}

func (s stubSources) Aggregator(common.Address) (domain.Aggregator, error) {
	return stubAggregator{err: s.aggErr}, nil
}

func (s stubSources) JobOracle(common.Address) (domain.JobOracle, error) {
	return stubJob{err: s.jobErr}, nil
}

type stubAggregator struct{ err error }

func (a stubAggregator) LatestPrice(context.Context) (domain.Price, error) {
	if a.err != nil {
		return domain.Price{}, a.err
	}
	return domain.NewPrice(300000000000, 8, time.Unix(1700000000, 0)), nil
}

type stubJob struct{ err error }

func (j stubJob) Request(context.Context, domain.JobRequest) (string, error) {
	return "run-1", j.err
}

type recordingAlerter struct {
	delay  time.Duration
	mu     sync.Mutex
	events []string
	titles []string
}

func (a *recordingAlerter) Notify(ctx context.Context, event, title, _ string) error {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.titles = append(a.titles, title)
	return nil
}

func (a *recordingAlerter) sent() ([]string, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...), append([]string(nil), a.titles...)
}

type stubArchiver struct {
	archived int64
	path     string
	owner    string
	bindings int
}

func (a *stubArchiver) ArchiveFulfilled(context.Context, time.Time) (int64, error) {
	return a.archived, nil
}

func (a *stubArchiver) SnapshotRegistry(_ context.Context, owner string, bindings []domain.BindingEntry) (string, error) {
	a.owner = owner
	a.bindings = len(bindings)
	return a.path, nil
}

type fixture struct {
	svc    *OracleService
	audit  *memory.AuditStore
	alerts *recordingAlerter
}

func newFixture(t *testing.T, sources domain.SourceResolver, archiver domain.Archiver, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := oracle.NewRegistry(ctx, memory.NewRegistryStore(), nil, logger, owner)
	require.NoError(t, err)
	engine, err := oracle.NewEngine(ctx, registry, sources, memory.NewRequestStore(), nil, logger)
	require.NoError(t, err)

	audit := memory.NewAuditStore()
	alerts := &recordingAlerter{}
	return fixture{
		svc:    NewOracleService(oracle.NewAdapter(registry, engine), audit, archiver, alerts, logger, opts...),
		audit:  audit,
		alerts: alerts,
	}
}

func auditEvents(t *testing.T, s *memory.AuditStore) []string {
	t.Helper()
	entries, err := s.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func TestAdminActionsAreAudited(t *testing.T) {
	f := newFixture(t, stubSources{}, nil)
	ctx := context.Background()
	eth := domain.MustIdentifier("ETH/USD")
	gold := domain.MustIdentifier("GOLD/USD")

	require.NoError(t, f.svc.AddOracle(ctx, owner, eth, aggAddr, true, nil))
	require.NoError(t, f.svc.AddOracle(ctx, owner, gold, nodeAddr, false, []byte("gold")))
	require.NoError(t, f.svc.RemoveOracle(ctx, owner, eth))

	receipt, err := f.svc.RequestPrice(ctx, gold, 1700000000)
	require.NoError(t, err)
	require.NoError(t, f.svc.FulfillRequest(ctx, nodeAddr, receipt.Token, domain.NewPrice(195050, 2, time.Time{})))

	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	require.NoError(t, f.svc.TransferOwnership(ctx, owner, newOwner))

	assert.ElementsMatch(t,
		[]string{"oracle.add", "oracle.add", "oracle.remove", "request.fulfill", "owner.transfer"},
		auditEvents(t, f.audit))
	assert.Equal(t, newOwner, f.svc.Owner())
}

func TestRejectedActionsAreNotAudited(t *testing.T) {
	f := newFixture(t, stubSources{}, nil)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	err := f.svc.AddOracle(context.Background(), stranger, domain.MustIdentifier("ETH/USD"), aggAddr, true, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, auditEvents(t, f.audit))
}

func TestOutageRaisesAlert(t *testing.T) {
	f := newFixture(t, stubSources{
		aggErr: errors.New("rpc down"),
		jobErr: errors.New("node down"),
	}, nil)
	ctx := context.Background()
	eth := domain.MustIdentifier("ETH/USD")
	gold := domain.MustIdentifier("GOLD/USD")
	require.NoError(t, f.svc.AddOracle(ctx, owner, eth, aggAddr, true, nil))
	require.NoError(t, f.svc.AddOracle(ctx, owner, gold, nodeAddr, false, []byte("gold")))

	_, err := f.svc.GetPrice(ctx, eth, 1)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	_, err = f.svc.RequestPrice(ctx, gold, 1)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)

	// not an outage
	_, err = f.svc.GetPrice(ctx, domain.MustIdentifier("BTC/USD"), 1)
	require.ErrorIs(t, err, domain.ErrUnknownIdentifier)

	f.svc.Close()
	events, titles := f.alerts.sent()
	assert.Equal(t, []string{eventOracleUnavailable, eventOracleUnavailable}, events)
	assert.ElementsMatch(t, []string{"Oracle unavailable: ETH/USD", "Oracle unavailable: GOLD/USD"}, titles)
}

func TestOutageAlertsAreThrottledAndAsync(t *testing.T) {
	f := newFixture(t, stubSources{aggErr: errors.New("rpc down")}, nil)
	f.alerts.delay = 200 * time.Millisecond
	ctx := context.Background()
	eth := domain.MustIdentifier("ETH/USD")
	require.NoError(t, f.svc.AddOracle(ctx, owner, eth, aggAddr, true, nil))

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := f.svc.GetPrice(ctx, eth, int64(i))
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	}
	assert.Less(t, time.Since(start), f.alerts.delay, "callers must not wait for alert delivery")

	f.svc.Close()
	events, _ := f.alerts.sent()
	assert.Len(t, events, 1)
}

func TestOutageCooldownIsPerIdentifier(t *testing.T) {
	f := newFixture(t, stubSources{aggErr: errors.New("rpc down")}, nil, WithOutageCooldown(time.Minute))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.outages.now = func() time.Time { return now }

	ctx := context.Background()
	eth := domain.MustIdentifier("ETH/USD")
	btc := domain.MustIdentifier("BTC/USD")
	require.NoError(t, f.svc.AddOracle(ctx, owner, eth, aggAddr, true, nil))
	require.NoError(t, f.svc.AddOracle(ctx, owner, btc, aggAddr, true, nil))

	getPrice := func(id domain.Identifier) {
		_, err := f.svc.GetPrice(ctx, id, 1)
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	}
	getPrice(eth)
	getPrice(btc)
	getPrice(eth)

	now = now.Add(59 * time.Second)
	getPrice(eth)

	now = now.Add(2 * time.Second)
	getPrice(eth)

	f.svc.Close()
	_, titles := f.alerts.sent()
	assert.ElementsMatch(t, []string{
		"Oracle unavailable: ETH/USD",
		"Oracle unavailable: BTC/USD",
		"Oracle unavailable: ETH/USD",
	}, titles)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, stubSources{}, nil)
	ctx := context.Background()
	gold := domain.MustIdentifier("GOLD/USD")
	require.NoError(t, f.svc.AddOracle(ctx, owner, gold, nodeAddr, false, []byte("gold")))
	_, err := f.svc.RequestPrice(ctx, gold, 5)
	require.NoError(t, err)

	h := f.svc.Health()
	assert.Equal(t, owner.Hex(), h.Owner)
	assert.Equal(t, 1, h.Identifiers)
	assert.Equal(t, 1, h.Pending)
	assert.Equal(t, []string{RolePriceOracle, RoleIdentifierWhitelist}, h.Roles)
	assert.False(t, h.Archive)
}

func TestArchiveRequiresArchiver(t *testing.T) {
	f := newFixture(t, stubSources{}, nil)
	_, err := f.svc.Archive(context.Background(), time.Now())
	require.ErrorIs(t, err, domain.ErrNotConfigured)
	_, err = f.svc.Snapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestSnapshotPassesRegistryState(t *testing.T) {
	archiver := &stubArchiver{path: "snapshots/registry/x.json", archived: 3}
	f := newFixture(t, stubSources{}, archiver)
	ctx := context.Background()
	require.NoError(t, f.svc.AddOracle(ctx, owner, domain.MustIdentifier("ETH/USD"), aggAddr, true, nil))

	path, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/registry/x.json", path)
	assert.Equal(t, owner.Hex(), archiver.owner)
	assert.Equal(t, 1, archiver.bindings)

	n, err := f.svc.Archive(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.True(t, f.svc.Health().Archive)
}
