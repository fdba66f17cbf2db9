package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"prop_terminal/internal/models"
	"prop_terminal/internal/modules/metrics"
	storeservice "prop_terminal/internal/modules/store/service"
	"prop_terminal/pkg/scheduler"
)

const keyPrefix = "price:"

// QuoteSource is the pull side of the feed.
type QuoteSource interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	FetchPrice(ctx context.Context, symbol string) (models.Quote, error)
}

// Streamer is the push side of the feed.
type Streamer interface {
	Enabled() bool
	Connected() bool
	SetSymbols(symbols []string)
	Run(ctx context.Context, out chan<- []models.Quote)
}

type Options struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	Now          func() time.Time
}

// Listener receives at most one quote per instrument per tick.
type Listener func(q models.Quote)

type Feed struct {
	src    QuoteSource
	stream Streamer
	store  storeservice.Store
	log    *zap.Logger
	opts   Options

	mu        sync.RWMutex
	quotes    map[string]models.Quote
	symbols   map[string]struct{}
	listeners []Listener

	forcePoll atomic.Bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	loop    *scheduler.Loop
	wg      sync.WaitGroup
	running bool
}

func NewFeed(src QuoteSource, stream Streamer, store storeservice.Store, opts Options, log *zap.Logger) *Feed {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		src:     src,
		stream:  stream,
		store:   store,
		log:     log,
		opts:    opts,
		quotes:  make(map[string]models.Quote),
		symbols: make(map[string]struct{}),
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// OnQuote registers l for every accepted observation.
func (f *Feed) OnQuote(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// GetQuote returns the latest known quote. A live quote older than the stale
// threshold, or one only known from the durable cache, comes back as cached
// with its original observation time. ok is false for a symbol never seen.
func (f *Feed) GetQuote(symbol string) (models.Quote, bool) {
	f.mu.RLock()
	q, ok := f.quotes[normalize(symbol)]
	f.mu.RUnlock()
	if !ok {
		return models.Quote{}, false
	}
	if q.Source == models.SourceLive && f.opts.Now().Sub(q.ObservedAt) > f.opts.StaleAfter {
		q = q.AsCached()
	}
	return q, true
}

// Symbols lists the subscribed symbols.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subscribe adds symbols to the watch set, seeds unseen ones from the durable
// cache and asks for one immediate batch poll.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) {
	var added []string
	f.mu.Lock()
	for _, s := range symbols {
		s = normalize(s)
		if s == "" {
			continue
		}
		if _, ok := f.symbols[s]; ok {
			continue
		}
		f.symbols[s] = struct{}{}
		added = append(added, s)
	}
	f.mu.Unlock()

	if len(added) == 0 {
		return
	}

	f.warm(ctx, added)
	f.stream.SetSymbols(f.Symbols())
	f.forcePoll.Store(true)

	f.runMu.Lock()
	loop := f.loop
	f.runMu.Unlock()
	if loop != nil {
		loop.Trigger()
	}
}

func (f *Feed) warm(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		var q models.Quote
		err := storeservice.Load(ctx, f.store, keyPrefix+s, &q)
		if errors.Is(err, storeservice.ErrNotFound) {
			continue
		}
		if err != nil {
			f.log.Warn("ignoring cached price", zap.String("symbol", s), zap.Error(err))
			continue
		}
		q.Symbol = s
		q = q.AsCached()

		f.mu.Lock()
		if cur, ok := f.quotes[s]; !ok || cur.ObservedAt.Before(q.ObservedAt) {
			f.quotes[s] = q
		}
		f.mu.Unlock()
	}
}

// Start runs the push channel and the poll fallback until Stop.
func (f *Feed) Start(ctx context.Context) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.running = true

	if f.stream.Enabled() {
		ch := make(chan []models.Quote, 16)
		f.wg.Add(2)
		go func() {
			defer f.wg.Done()
			f.stream.Run(ctx, ch)
		}()
		go func() {
			defer f.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case quotes := <-ch:
					f.apply(ctx, quotes, "stream")
				}
			}
		}()
	}

	f.loop = scheduler.Every(ctx, "price-poll", f.opts.PollInterval, f.poll, f.log, scheduler.WithImmediate())
}

// Stop tears down both channels. Responses still in flight are dropped.
func (f *Feed) Stop() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	loop := f.loop
	f.loop = nil
	f.runMu.Unlock()

	loop.Stop()
	f.wg.Wait()
}

// StreamStateChanged is wired to the push channel. Losing it triggers a poll
// so the gap is not a whole interval long.
func (f *Feed) StreamStateChanged(connected bool) {
	if connected {
		metrics.StreamConnected.Set(1)
		return
	}
	metrics.StreamConnected.Set(0)

	f.runMu.Lock()
	loop := f.loop
	f.runMu.Unlock()
	if loop != nil {
		loop.Trigger()
	}
}

func (f *Feed) poll(ctx context.Context) error {
	forced := f.forcePoll.Swap(false)
	if f.stream.Connected() && !forced {
		return nil
	}
	symbols := f.Symbols()
	if len(symbols) == 0 {
		return nil
	}

	got, err := f.src.FetchPrices(ctx, symbols)
	if err != nil {
		metrics.FeedPollFailures.Inc()
		return err
	}
	quotes := make([]models.Quote, 0, len(got))
	for _, q := range got {
		quotes = append(quotes, q)
	}
	f.apply(ctx, quotes, "poll")
	return nil
}

// Refresh fetches one symbol out of band.
func (f *Feed) Refresh(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := f.src.FetchPrice(ctx, normalize(symbol))
	if err != nil {
		return models.Quote{}, err
	}
	f.apply(ctx, []models.Quote{q}, "single")
	out, _ := f.GetQuote(symbol)
	return out, nil
}

// apply merges observations into memory and the durable cache. An observation
// older than what is already held is ignored.
func (f *Feed) apply(ctx context.Context, quotes []models.Quote, origin string) {
	if ctx.Err() != nil {
		return
	}

	latest := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		q.Symbol = normalize(q.Symbol)
		if q.Symbol == "" || !q.Valid() {
			continue
		}
		if prev, ok := latest[q.Symbol]; ok && q.ObservedAt.Before(prev.ObservedAt) {
			continue
		}
		q.Source = models.SourceLive
		latest[q.Symbol] = q
	}

	accepted := make([]models.Quote, 0, len(latest))
	f.mu.Lock()
	for sym, q := range latest {
		if cur, ok := f.quotes[sym]; ok && q.ObservedAt.Before(cur.ObservedAt) {
			continue
		}
		f.quotes[sym] = q
		accepted = append(accepted, q)
	}
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	if len(accepted) == 0 {
		return
	}
	metrics.QuotesApplied.WithLabelValues(origin).Add(float64(len(accepted)))

	f.persist(ctx, accepted)
	for _, q := range accepted {
		for _, l := range listeners {
			l(q)
		}
	}
}

func (f *Feed) persist(ctx context.Context, quotes []models.Quote) {
	items := make(map[string][]byte, len(quotes))
	for _, q := range quotes {
		b, err := storeservice.Encode(q)
		if err != nil {
			f.log.Warn("encode price", zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		items[keyPrefix+q.Symbol] = b
	}
	if err := f.store.PutMany(ctx, items); err != nil {
		f.log.Warn("persist prices", zap.Int("count", len(items)), zap.Error(err))
	}
}
