package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
	storeservice "prop_terminal/internal/modules/store/service"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]models.Quote
	err    error
	calls  atomic.Int32
}

func (s *fakeSource) set(q models.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = map[string]models.Quote{}
	}
	s.prices[q.Symbol] = q
}

func (s *fakeSource) FetchPrices(_ context.Context, symbols []string) (map[string]models.Quote, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]models.Quote{}
	for _, sym := range symbols {
		if q, ok := s.prices[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func (s *fakeSource) FetchPrice(ctx context.Context, symbol string) (models.Quote, error) {
	got, err := s.FetchPrices(ctx, []string{symbol})
	if err != nil {
		return models.Quote{}, err
	}
	q, ok := got[symbol]
	if !ok {
		return models.Quote{}, errors.New("no price")
	}
	return q, nil
}

type fakeStream struct {
	enabled   bool
	connected atomic.Bool
	symbols   atomic.Value
	feed      chan []models.Quote
}

func (s *fakeStream) Enabled() bool           { return s.enabled }
func (s *fakeStream) Connected() bool         { return s.connected.Load() }
func (s *fakeStream) SetSymbols(sym []string) { s.symbols.Store(sym) }
func (s *fakeStream) Run(ctx context.Context, out chan<- []models.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-s.feed:
			out <- q
		}
	}
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFeed(src QuoteSource, st Streamer, store storeservice.Store, clk *clock) *Feed {
	return NewFeed(src, st, store, Options{
		PollInterval: time.Hour,
		StaleAfter:   30 * time.Second,
		Now:          clk.Now,
	}, zap.NewNop())
}

func TestGetQuote_UnknownSymbol(t *testing.T) {
	clk := &clock{now: time.Now()}
	f := newFeed(&fakeSource{}, &fakeStream{}, storeservice.NewMemory(), clk)
	_, ok := f.GetQuote("EURUSD")
	assert.False(t, ok)
}

func TestApply_MergesMemoryAndDurable(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	store := storeservice.NewMemory()
	f := newFeed(&fakeSource{}, &fakeStream{}, store, clk)

	f.apply(ctx, []models.Quote{models.FlatQuote("eurusd", px("1.1"), clk.Now())}, "poll")

	q, ok := f.GetQuote("EURUSD")
	require.True(t, ok)
	assert.Equal(t, models.SourceLive, q.Source)

	var stored models.Quote
	require.NoError(t, storeservice.Load(ctx, store, "price:EURUSD", &stored))
	assert.True(t, stored.Bid.Equal(px("1.1")))
}

func TestGetQuote_StaleBecomesCachedWithOriginalTime(t *testing.T) {
	clk := &clock{now: time.Now()}
	f := newFeed(&fakeSource{}, &fakeStream{}, storeservice.NewMemory(), clk)

	at := clk.Now()
	f.apply(context.Background(), []models.Quote{models.FlatQuote("EURUSD", px("1.1"), at)}, "poll")
	clk.Advance(31 * time.Second)

	q, ok := f.GetQuote("EURUSD")
	require.True(t, ok)
	assert.Equal(t, models.SourceCached, q.Source)
	assert.True(t, q.ObservedAt.Equal(at))
}

func TestApply_OlderObservationIgnored(t *testing.T) {
	clk := &clock{now: time.Now()}
	f := newFeed(&fakeSource{}, &fakeStream{}, storeservice.NewMemory(), clk)
	ctx := context.Background()

	now := clk.Now()
	f.apply(ctx, []models.Quote{models.FlatQuote("EURUSD", px("1.2"), now)}, "stream")
	f.apply(ctx, []models.Quote{models.FlatQuote("EURUSD", px("1.1"), now.Add(-time.Second))}, "poll")

	q, _ := f.GetQuote("EURUSD")
	assert.True(t, q.Bid.Equal(px("1.2")))
}

func TestApply_ListenersOncePerSymbolPerTick(t *testing.T) {
	clk := &clock{now: time.Now()}
	f := newFeed(&fakeSource{}, &fakeStream{}, storeservice.NewMemory(), clk)

	var calls []string
	f.OnQuote(func(q models.Quote) { calls = append(calls, q.Symbol+":"+q.Bid.String()) })

	now := clk.Now()
	f.apply(context.Background(), []models.Quote{
		models.FlatQuote("EURUSD", px("1.1"), now),
		models.FlatQuote("EURUSD", px("1.3"), now.Add(time.Millisecond)),
		models.FlatQuote("EURUSD", px("1.2"), now.Add(-time.Millisecond)),
	}, "stream")

	assert.Equal(t, []string{"EURUSD:1.3"}, calls)
}

func TestSubscribe_WarmsFromDurableCacheThenLiveWins(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	store := storeservice.NewMemory()

	seenAt := clk.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, storeservice.Save(ctx, store, "price:EURUSD", models.FlatQuote("EURUSD", px("1.05"), seenAt)))

	src := &fakeSource{}
	f := newFeed(src, &fakeStream{}, store, clk)
	f.Subscribe(ctx, []string{"eurusd", "GBPUSD"})

	q, ok := f.GetQuote("EURUSD")
	require.True(t, ok)
	assert.Equal(t, models.SourceCached, q.Source)
	assert.True(t, q.ObservedAt.Equal(seenAt))

	_, ok = f.GetQuote("GBPUSD")
	assert.False(t, ok)

	src.set(models.FlatQuote("EURUSD", px("1.1"), clk.Now()))
	require.NoError(t, f.poll(ctx))

	q, _ = f.GetQuote("EURUSD")
	assert.Equal(t, models.SourceLive, q.Source)
	assert.True(t, q.ObservedAt.After(seenAt))
}

func TestPoll_OmittedSymbolKeepsPriorValue(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	src := &fakeSource{}
	f := newFeed(src, &fakeStream{}, storeservice.NewMemory(), clk)
	f.Subscribe(ctx, []string{"EURUSD", "GBPUSD"})

	src.set(models.FlatQuote("EURUSD", px("1.1"), clk.Now()))
	src.set(models.FlatQuote("GBPUSD", px("1.3"), clk.Now()))
	require.NoError(t, f.poll(ctx))

	src.mu.Lock()
	delete(src.prices, "GBPUSD")
	src.mu.Unlock()
	clk.Advance(time.Second)
	src.set(models.FlatQuote("EURUSD", px("1.11"), clk.Now()))
	require.NoError(t, f.poll(ctx))

	q, ok := f.GetQuote("GBPUSD")
	require.True(t, ok)
	assert.True(t, q.Bid.Equal(px("1.3")))
}

func TestPoll_FailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	src := &fakeSource{}
	f := newFeed(src, &fakeStream{}, storeservice.NewMemory(), clk)
	f.Subscribe(ctx, []string{"EURUSD"})

	src.set(models.FlatQuote("EURUSD", px("1.1"), clk.Now()))
	require.NoError(t, f.poll(ctx))

	src.err = errors.New("timeout")
	assert.Error(t, f.poll(ctx))

	_, ok := f.GetQuote("EURUSD")
	assert.True(t, ok)
}

func TestPoll_SkippedWhileStreamConnected(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	src := &fakeSource{}
	st := &fakeStream{}
	f := newFeed(src, st, storeservice.NewMemory(), clk)
	f.Subscribe(ctx, []string{"EURUSD"})
	st.connected.Store(true)

	// the first poll after subscribe is forced for warm-up
	require.NoError(t, f.poll(ctx))
	require.NoError(t, f.poll(ctx))
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, []string{"EURUSD"}, st.symbols.Load())
}

func TestStart_StreamDeliversAndStopDropsLateResults(t *testing.T) {
	clk := &clock{now: time.Now()}
	st := &fakeStream{enabled: true, feed: make(chan []models.Quote)}
	st.connected.Store(true)
	f := newFeed(&fakeSource{}, st, storeservice.NewMemory(), clk)
	f.Subscribe(context.Background(), []string{"EURUSD"})

	got := make(chan models.Quote, 4)
	f.OnQuote(func(q models.Quote) { got <- q })

	f.Start(context.Background())
	st.feed <- []models.Quote{models.FlatQuote("EURUSD", px("1.1"), clk.Now())}

	select {
	case q := <-got:
		assert.Equal(t, "EURUSD", q.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("stream quote not applied")
	}

	f.Stop()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	f.apply(cancelled, []models.Quote{models.FlatQuote("EURUSD", px("9"), clk.Now().Add(time.Second))}, "poll")

	q, _ := f.GetQuote("EURUSD")
	assert.True(t, q.Bid.Equal(px("1.1")))
}

func TestRefresh_FetchesOneSymbol(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	src := &fakeSource{}
	store := storeservice.NewMemory()
	f := newFeed(src, &fakeStream{}, store, clk)

	src.set(models.FlatQuote("GBPUSD", px("1.25"), clk.Now()))
	q, err := f.Refresh(ctx, "gbpusd")
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, q.Source)
	assert.True(t, q.Ask.Equal(px("1.25")))

	var stored models.Quote
	require.NoError(t, storeservice.Load(ctx, store, "price:GBPUSD", &stored))

	_, err = f.Refresh(ctx, "USDJPY")
	assert.Error(t, err)
}

func TestStart_RestartsAfterStop(t *testing.T) {
	clk := &clock{now: time.Now()}
	src := &fakeSource{}
	src.set(models.FlatQuote("EURUSD", px("1.1"), clk.Now()))
	f := newFeed(src, &fakeStream{}, storeservice.NewMemory(), clk)
	f.Subscribe(context.Background(), []string{"EURUSD"})

	f.Start(context.Background())
	f.Stop()
	first := src.calls.Load()

	f.Start(context.Background())
	require.Eventually(t, func() bool { return src.calls.Load() > first }, 2*time.Second, 10*time.Millisecond)
	f.Stop()
}
