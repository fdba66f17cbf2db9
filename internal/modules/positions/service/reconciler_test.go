package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prop_terminal/internal/instruments"
	"prop_terminal/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAPI struct {
	mu        sync.Mutex
	positions []models.Position
	listErr   error
	closeErr  map[string]error
	balance   decimal.Decimal
	snapshot  models.PnlSnapshot
	block     chan struct{} // when set, ListPositions waits on it
	listCalls int
	closes    []string
}

func (f *fakeAPI) ListPositions(ctx context.Context, _ string) ([]models.Position, error) {
	f.mu.Lock()
	block := f.block
	f.listCalls++
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Position(nil), f.positions...), nil
}

func (f *fakeAPI) ClosePosition(_ context.Context, id string) (models.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, id)
	if err := f.closeErr[id]; err != nil {
		return models.CloseResult{}, err
	}
	out := f.positions[:0:0]
	for _, p := range f.positions {
		if p.ID != id {
			out = append(out, p)
		}
	}
	f.positions = out
	f.balance = f.balance.Add(dec("10"))
	return models.CloseResult{Pnl: dec("10"), NewBalance: f.balance}, nil
}

func (f *fakeAPI) OpenPnl(context.Context, string) (models.PnlSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, nil
}

func (f *fakeAPI) ActiveChallenge(context.Context) (models.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Challenge{ID: "c1", CurrentBalance: f.balance}, nil
}

type quotes struct {
	mu sync.Mutex
	m  map[string]models.Quote
}

func (q *quotes) GetQuote(symbol string) (models.Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.m[symbol]
	return v, ok
}

func (q *quotes) set(v models.Quote) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.m[v.Symbol] = v
}

func (q *quotes) drop(symbol string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.m, symbol)
}

func pos(id, sym string, side models.Side, qty, entry string) models.Position {
	return models.Position{ID: id, Symbol: sym, Side: side, Quantity: dec(qty), EntryPrice: dec(entry), Status: models.PositionOpen}
}

var catalog = instruments.NewCatalog(
	models.Instrument{Symbol: "EURUSD", PipSize: dec("0.0001"), QuotePrecision: 5, ContractSize: dec("100000"), LotStep: dec("0.01")},
	models.Instrument{Symbol: "XAUUSD", PipSize: dec("0.01"), QuotePrecision: 2, ContractSize: dec("100"), LotStep: dec("0.01")},
)

func newReconciler(api *fakeAPI, q *quotes) *Reconciler {
	return NewReconciler("c1", api, api, q, catalog, Options{Interval: time.Hour}, zap.NewNop())
}

func TestUnrealizedPnl(t *testing.T) {
	buy := pos("1", "EURUSD", models.SideBuy, "1", "1.1")
	pnl, pct := UnrealizedPnl(buy, dec("1.1010"), dec("100000"))
	assert.True(t, pnl.Equal(dec("100")), pnl.String())
	assert.True(t, pct.Equal(dec("0.09")), pct.String())

	sell := pos("2", "EURUSD", models.SideSell, "1", "1.1")
	pnl, _ = UnrealizedPnl(sell, dec("1.1010"), dec("100000"))
	assert.True(t, pnl.Equal(dec("-100")), pnl.String())
}

func TestReconcile_MissingQuoteDegradesOneRow(t *testing.T) {
	api := &fakeAPI{
		balance: dec("10000"),
		positions: []models.Position{
			pos("a", "EURUSD", models.SideBuy, "1", "1.1"),
			pos("b", "XAUUSD", models.SideBuy, "1", "2000"),
		},
	}
	q := &quotes{m: map[string]models.Quote{
		"EURUSD": models.FlatQuote("EURUSD", dec("1.1010"), time.Now()),
		"XAUUSD": models.FlatQuote("XAUUSD", dec("2010"), time.Now()),
	}}
	r := newReconciler(api, q)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx))
	snap := r.Snapshot()
	require.Len(t, snap.Positions, 2)
	assert.True(t, snap.Pnl["b"].PriceAvailable)
	assert.True(t, snap.Pnl["b"].UnrealizedPnl.Equal(dec("1000")))
	assert.Empty(t, snap.Warnings)

	q.drop("XAUUSD")
	require.NoError(t, r.Reconcile(ctx))
	snap = r.Snapshot()

	b := snap.Pnl["b"]
	assert.False(t, b.PriceAvailable)
	assert.Nil(t, b.CurrentPrice)
	assert.True(t, b.LastPrice.Equal(dec("2010")))
	assert.True(t, b.UnrealizedPnl.Equal(dec("1000")))
	assert.Equal(t, []string{"XAUUSD"}, snap.Warnings)

	a := snap.Pnl["a"]
	assert.True(t, a.PriceAvailable)
	assert.True(t, a.UnrealizedPnl.Equal(dec("100")))
}

func TestReconcile_NeverPricedUsesEntry(t *testing.T) {
	api := &fakeAPI{positions: []models.Position{pos("a", "XAUUSD", models.SideSell, "2", "2000")}}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})

	require.NoError(t, r.Reconcile(context.Background()))
	e := r.PnlByPositionID()["a"]
	assert.False(t, e.PriceAvailable)
	assert.True(t, e.LastPrice.Equal(dec("2000")))
	assert.True(t, e.UnrealizedPnl.IsZero())
}

func TestReconcile_ServerSnapshotFallback(t *testing.T) {
	px := dec("1995")
	api := &fakeAPI{
		positions: []models.Position{pos("a", "XAUUSD", models.SideBuy, "1", "2000")},
		snapshot: models.PnlSnapshot{
			Trades:      []models.TradePnl{{TradeID: "a", CurrentPrice: &px, PriceAvailable: true}},
			PriceErrors: []string{"GBPUSD"},
		},
	}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})

	require.NoError(t, r.Reconcile(context.Background()))
	snap := r.Snapshot()
	e := snap.Pnl["a"]
	assert.True(t, e.PriceAvailable)
	require.NotNil(t, e.CurrentPrice)
	assert.True(t, e.UnrealizedPnl.Equal(dec("-500")))
	assert.Equal(t, []string{"GBPUSD"}, snap.Warnings)
}

func TestReconcile_StaleQuoteFlagged(t *testing.T) {
	api := &fakeAPI{positions: []models.Position{pos("a", "EURUSD", models.SideBuy, "1", "1.1")}}
	q := &quotes{m: map[string]models.Quote{
		"EURUSD": models.FlatQuote("EURUSD", dec("1.1"), time.Now().Add(-time.Hour)).AsCached(),
	}}
	r := newReconciler(api, q)
	require.NoError(t, r.Reconcile(context.Background()))

	e := r.PnlByPositionID()["a"]
	assert.True(t, e.PriceAvailable)
	assert.True(t, e.Stale)
}

func TestReconcile_FailureKeepsPreviousState(t *testing.T) {
	api := &fakeAPI{positions: []models.Position{pos("a", "EURUSD", models.SideBuy, "1", "1.1")}}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	require.NoError(t, r.Reconcile(context.Background()))

	api.mu.Lock()
	api.listErr = errors.New("502")
	api.mu.Unlock()
	assert.Error(t, r.Reconcile(context.Background()))
	assert.Len(t, r.OpenPositions(), 1)
}

func TestClose_OptimisticBalanceBeforeRefresh(t *testing.T) {
	api := &fakeAPI{
		balance:   dec("10000"),
		positions: []models.Position{pos("a", "EURUSD", models.SideBuy, "1", "1.1")},
	}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, models.BalanceReconciled, r.Balance().Phase)

	release := make(chan struct{})
	api.mu.Lock()
	api.block = release
	api.mu.Unlock()

	res, err := r.Close(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("10010")))

	// the refresh is still blocked, the new balance is already visible
	b := r.Balance()
	assert.Equal(t, models.BalanceOptimistic, b.Phase)
	assert.True(t, b.Value.Equal(dec("10010")))
	assert.Empty(t, r.OpenPositions())
	p, ok := r.Position("a")
	require.True(t, ok)
	assert.Equal(t, models.PositionClosed, p.Status)

	// server disagrees: authoritative value wins
	api.mu.Lock()
	api.balance = dec("10008")
	api.block = nil
	api.mu.Unlock()
	close(release)

	require.Eventually(t, func() bool {
		return r.Balance().Phase == models.BalanceReconciled
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.Balance().Value.Equal(dec("10008")))
	r.Stop()
}

func TestClose_FailureClearsPending(t *testing.T) {
	api := &fakeAPI{
		positions: []models.Position{pos("a", "EURUSD", models.SideBuy, "1", "1.1")},
		closeErr:  map[string]error{"a": errors.New("market closed")},
	}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	require.NoError(t, r.Reconcile(context.Background()))

	_, err := r.Close(context.Background(), "a")
	assert.EqualError(t, err, "market closed")
	open := r.OpenPositions()
	require.Len(t, open, 1)
	assert.False(t, open[0].ClosePending)
}

func TestClose_IDNotYetReconciled(t *testing.T) {
	api := &fakeAPI{balance: dec("5000")}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})

	release := make(chan struct{})
	api.mu.Lock()
	api.block = release
	api.mu.Unlock()

	res, err := r.Close(context.Background(), "just-submitted")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("5010")))

	api.mu.Lock()
	assert.Equal(t, []string{"just-submitted"}, api.closes)
	api.mu.Unlock()

	b := r.Balance()
	assert.Equal(t, models.BalanceOptimistic, b.Phase)
	assert.True(t, b.Value.Equal(dec("5010")))
	assert.Empty(t, r.OpenPositions())

	close(release)
	r.Stop()
}

func TestCloseAll_PartialFailure(t *testing.T) {
	api := &fakeAPI{
		balance: dec("10000"),
		positions: []models.Position{
			pos("p1", "EURUSD", models.SideBuy, "1", "1.1"),
			pos("p2", "EURUSD", models.SideSell, "1", "1.1"),
			pos("p3", "XAUUSD", models.SideBuy, "1", "2000"),
		},
		closeErr: map[string]error{"p2": errors.New("price moved")},
	}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	require.NoError(t, r.Reconcile(context.Background()))

	report := r.CloseAll(context.Background())
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "p2", report.Failed[0].PositionID)
	assert.EqualError(t, errors.Unwrap(report.Failed[0]), "price moved")

	assert.Equal(t, []string{"p1", "p2", "p3"}, api.closes)
	for _, id := range []string{"p1", "p3"} {
		p, ok := r.Position(id)
		require.True(t, ok)
		assert.Equal(t, models.PositionClosed, p.Status)
	}
	open := r.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "p2", open[0].ID)
	assert.Equal(t, models.BalanceReconciled, r.Balance().Phase)
	assert.True(t, r.Balance().Value.Equal(dec("10020")))
}

func TestApply_StaleCycleDiscarded(t *testing.T) {
	r := newReconciler(&fakeAPI{}, &quotes{m: map[string]models.Quote{}})
	fresh := []models.Position{pos("new", "EURUSD", models.SideBuy, "1", "1.1")}
	old := []models.Position{pos("old", "EURUSD", models.SideBuy, "1", "1.1")}

	r.apply(2, fresh, map[string]models.PnlEntry{}, nil, nil)
	r.apply(1, old, map[string]models.PnlEntry{}, nil, nil)

	open := r.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "new", open[0].ID)
}

func TestStop_DropsLateResults(t *testing.T) {
	api := &fakeAPI{positions: []models.Position{pos("a", "EURUSD", models.SideBuy, "1", "1.1")}}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	r.Stop()

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Empty(t, r.OpenPositions())
}

func TestStart_TriggerRunsOutOfCadence(t *testing.T) {
	api := &fakeAPI{}
	r := newReconciler(api, &quotes{m: map[string]models.Quote{}})
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls >= 1
	}, 2*time.Second, 5*time.Millisecond)

	r.Trigger()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
