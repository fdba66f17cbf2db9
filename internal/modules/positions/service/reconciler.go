package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
	"prop_terminal/internal/modules/metrics"
	"prop_terminal/pkg/scheduler"
	"prop_terminal/pkg/tracing"
)

var ErrClosePending = errors.New("position close already in progress")

type PositionService interface {
	ListPositions(ctx context.Context, challengeID string) ([]models.Position, error)
	ClosePosition(ctx context.Context, positionID string) (models.CloseResult, error)
	OpenPnl(ctx context.Context, challengeID string) (models.PnlSnapshot, error)
}

type ChallengeService interface {
	ActiveChallenge(ctx context.Context) (models.Challenge, error)
}

type QuoteProvider interface {
	GetQuote(symbol string) (models.Quote, bool)
}

type Instruments interface {
	Get(symbol string) (models.Instrument, bool)
}

// Snapshot is the state exposed to the view.
type Snapshot struct {
	Positions []models.Position
	Pnl       map[string]models.PnlEntry
	// Warnings lists symbols with no price this cycle.
	Warnings  []string
	Balance   models.Balance
	UpdatedAt time.Time
}

type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

// Reconciler keeps the open-position table and its unrealized P&L in step
// with the server. Cycles may overlap; the most recently started cycle that
// completes wins, and nothing is written after Stop.
type Reconciler struct {
	api         PositionService
	challenges  ChallengeService
	quotes      QuoteProvider
	instruments Instruments
	log         *zap.Logger
	opts        Options
	challengeID string

	seq atomic.Uint64

	mu         sync.RWMutex
	positions  []models.Position
	pnl        map[string]models.PnlEntry
	lastPrice  map[string]decimal.Decimal
	closed     map[string]models.Position
	warnings   []string
	balance    models.Balance
	updatedAt  time.Time
	appliedSeq uint64
	balanceSeq uint64
	stopped    bool

	runMu sync.Mutex
	ctx   context.Context
	loop  *scheduler.Loop
	wg    sync.WaitGroup
}

func NewReconciler(
	challengeID string,
	api PositionService,
	challenges ChallengeService,
	quotes QuoteProvider,
	instruments Instruments,
	opts Options,
	log *zap.Logger,
) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		api:         api,
		challenges:  challenges,
		quotes:      quotes,
		instruments: instruments,
		log:         log.With(zap.String("challenge_id", challengeID)),
		opts:        opts,
		challengeID: challengeID,
		pnl:         make(map[string]models.PnlEntry),
		lastPrice:   make(map[string]decimal.Decimal),
		closed:      make(map[string]models.Position),
		ctx:         context.Background(),
	}
}

// Start runs a cycle right away and then every interval until Stop.
func (r *Reconciler) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.loop != nil {
		return
	}
	r.ctx = ctx
	r.loop = scheduler.Every(ctx, "positions", r.opts.Interval, r.Reconcile, r.log,
		scheduler.WithImmediate(), scheduler.WithOverlap())
}

// Stop tears the loop down. In-flight cycles and reconciles finish but their
// results are dropped.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.runMu.Lock()
	loop := r.loop
	r.runMu.Unlock()
	if loop != nil {
		loop.Stop()
	}
	r.wg.Wait()
}

// Trigger asks for an out-of-cadence cycle.
func (r *Reconciler) Trigger() {
	r.runMu.Lock()
	loop := r.loop
	r.runMu.Unlock()
	if loop != nil {
		loop.Trigger()
	}
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		Positions: append([]models.Position(nil), r.positions...),
		Pnl:       make(map[string]models.PnlEntry, len(r.pnl)),
		Warnings:  append([]string(nil), r.warnings...),
		Balance:   r.balance,
		UpdatedAt: r.updatedAt,
	}
	for k, v := range r.pnl {
		s.Pnl[k] = v
	}
	return s
}

func (r *Reconciler) OpenPositions() []models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Position(nil), r.positions...)
}

func (r *Reconciler) PnlByPositionID() map[string]models.PnlEntry {
	return r.Snapshot().Pnl
}

func (r *Reconciler) Balance() models.Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance
}

// Position finds id among open positions and those closed this session.
func (r *Reconciler) Position(id string) (models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.positions {
		if p.ID == id {
			return p, true
		}
	}
	p, ok := r.closed[id]
	return p, ok
}

// Reconcile re-fetches positions and the account state and applies them as
// authoritative. It is also the body of every scheduled cycle.
func (r *Reconciler) Reconcile(ctx context.Context) (err error) {
	seq := r.seq.Add(1)
	start := time.Now()
	span, ctx := tracing.Start(ctx, "positions.cycle")
	defer func() {
		tracing.Finish(span, err)
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	list, err := r.api.ListPositions(ctx, r.challengeID)
	if err != nil {
		metrics.ReconcileFailures.Inc()
		return fmt.Errorf("list positions: %w", err)
	}

	open := make([]models.Position, 0, len(list))
	for _, p := range list {
		if p.Status == models.PositionClosed {
			continue
		}
		open = append(open, p)
	}

	var balance *decimal.Decimal
	if r.challenges != nil {
		if ch, err := r.challenges.ActiveChallenge(ctx); err != nil {
			r.log.Warn("refresh account state", zap.Error(err))
		} else {
			balance = &ch.CurrentBalance
		}
	}

	entries, warnings := r.price(ctx, open)
	if ctx.Err() != nil {
		return nil
	}
	r.apply(seq, open, entries, warnings, balance)
	return nil
}

// price builds a P&L entry per position from the feed, falling back to the
// server's open-P&L snapshot for symbols the feed has nothing for.
func (r *Reconciler) price(ctx context.Context, open []models.Position) (map[string]models.PnlEntry, []string) {
	now := r.opts.Now()
	obs := make(map[string]priceObs, len(open))
	var missing []models.Position
	for _, p := range open {
		q, ok := r.quotes.GetQuote(p.Symbol)
		if !ok || !q.Valid() {
			missing = append(missing, p)
			continue
		}
		obs[p.ID] = priceObs{
			price:     q.ExitPrice(p.Side),
			available: true,
			stale:     q.Source == models.SourceCached,
		}
	}

	warned := make(map[string]struct{})
	if len(missing) > 0 {
		snap, err := r.api.OpenPnl(ctx, r.challengeID)
		if err != nil {
			r.log.Warn("open pnl snapshot unavailable", zap.Error(err))
		} else {
			byID := make(map[string]models.TradePnl, len(snap.Trades))
			for _, t := range snap.Trades {
				byID[t.TradeID] = t
			}
			for _, p := range missing {
				if t, ok := byID[p.ID]; ok && t.PriceAvailable && t.CurrentPrice != nil {
					obs[p.ID] = priceObs{price: *t.CurrentPrice, available: true}
				}
			}
			for _, sym := range snap.PriceErrors {
				warned[sym] = struct{}{}
			}
		}
	}

	r.mu.RLock()
	entries := make(map[string]models.PnlEntry, len(open))
	for _, p := range open {
		o := obs[p.ID]
		last, ok := r.lastPrice[p.ID]
		if !ok {
			last = p.EntryPrice
		}
		if !o.available {
			warned[p.Symbol] = struct{}{}
		}
		entries[p.ID] = entryFor(p, o, last, r.contractSize(p.Symbol), now)
	}
	r.mu.RUnlock()

	warnings := make([]string, 0, len(warned))
	for sym := range warned {
		warnings = append(warnings, sym)
	}
	sort.Strings(warnings)
	return entries, warnings
}

func (r *Reconciler) contractSize(symbol string) decimal.Decimal {
	if r.instruments == nil {
		return decimal.NewFromInt(1)
	}
	inst, ok := r.instruments.Get(symbol)
	if !ok {
		return decimal.NewFromInt(1)
	}
	return inst.ContractSize
}

func (r *Reconciler) apply(seq uint64, open []models.Position, entries map[string]models.PnlEntry, warnings []string, balance *decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	if balance != nil && seq > r.balanceSeq {
		if r.balance.Phase == models.BalanceOptimistic && !r.balance.Value.Equal(*balance) {
			r.log.Debug("optimistic balance replaced by server value",
				zap.String("optimistic", r.balance.Value.String()), zap.String("server", balance.String()))
		}
		r.balance = models.Balance{Value: *balance, Phase: models.BalanceReconciled}
		r.balanceSeq = seq
	}

	if seq < r.appliedSeq {
		return
	}
	r.appliedSeq = seq

	pending := make(map[string]bool)
	for _, p := range r.positions {
		if p.ClosePending {
			pending[p.ID] = true
		}
	}
	unavailable := 0
	for i := range open {
		open[i].ClosePending = pending[open[i].ID]
		e := entries[open[i].ID]
		r.lastPrice[open[i].ID] = e.LastPrice
		if !e.PriceAvailable {
			unavailable++
		}
	}
	live := make(map[string]bool, len(open))
	for _, p := range open {
		live[p.ID] = true
	}
	for id := range r.lastPrice {
		if !live[id] {
			delete(r.lastPrice, id)
		}
	}

	r.positions = open
	r.pnl = entries
	r.warnings = warnings
	r.updatedAt = r.opts.Now()

	metrics.OpenPositions.Set(float64(len(open)))
	metrics.PriceUnavailable.Set(float64(unavailable))
	if len(warnings) > 0 {
		r.log.Warn("no price for symbols", zap.Strings("symbols", warnings))
	}
}
