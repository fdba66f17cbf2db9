package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
	"prop_terminal/internal/modules/metrics"
	storeservice "prop_terminal/internal/modules/store/service"
)

const counterKey = "copytrades:daily"

var (
	ErrQuotaExceeded = errors.New("daily copy-trade limit reached")
	ErrUnknownTier   = errors.New("unknown tier")
)

type Options struct {
	// Allowances maps tier to copies per calendar day.
	Allowances map[string]int
	Location   *time.Location
	Now        func() time.Time
}

// Tracker owns the per-day copy counter. Every read first rolls the counter
// over when the calendar day changed; every record is check, append and
// durable write under one lock.
type Tracker struct {
	store storeservice.Store
	log   *zap.Logger
	opts  Options

	mu      sync.Mutex
	counter models.CopyCounter
	loaded  bool
}

func NewTracker(store storeservice.Store, opts Options, log *zap.Logger) *Tracker {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, opts: opts, log: log}
}

func (t *Tracker) today() string {
	return t.opts.Now().In(t.opts.Location).Format(time.DateOnly)
}

// Init loads the stored counter. A missing, unreadable or foreign-version
// record starts an empty day. When the store itself fails the load is retried
// on first use instead of failing startup.
func (t *Tracker) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadLocked(ctx); err != nil {
		t.log.Warn("copy counter not loaded, retrying on first use", zap.Error(err))
	}
	return nil
}

func (t *Tracker) loadLocked(ctx context.Context) error {
	b, err := t.store.Get(ctx, counterKey)
	if err != nil && !errors.Is(err, storeservice.ErrNotFound) {
		return fmt.Errorf("load copy counter: %w", err)
	}

	var c models.CopyCounter
	if err == nil {
		if err := storeservice.Decode(b, &c); err != nil {
			t.log.Warn("discarding unreadable copy counter", zap.Error(err))
			c = models.CopyCounter{}
		}
	}
	// count is derived from the list, whatever was stored
	c.Count = len(c.Trades)
	t.counter = c
	t.loaded = true
	t.rolloverLocked()
	return nil
}

func (t *Tracker) ensureLocked() {
	if !t.loaded {
		if err := t.loadLocked(context.Background()); err != nil {
			t.log.Warn("copy counter unavailable, starting empty", zap.Error(err))
			t.counter = models.CopyCounter{}
			t.loaded = true
		}
	}
	t.rolloverLocked()
}

func (t *Tracker) rolloverLocked() {
	if today := t.today(); t.counter.Date != today {
		t.counter = models.CopyCounter{Date: today, Trades: []models.CopyTrade{}}
	}
}

func (t *Tracker) allowance(tier string) (int, error) {
	n, ok := t.opts.Allowances[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return n, nil
}

// Remaining is max(0, allowance - copies today).
func (t *Tracker) Remaining(tier string) (int, error) {
	allowance, err := t.allowance(tier)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked()
	return max(0, allowance-t.counter.Count), nil
}

// TierFor picks the largest configured tier whose size does not exceed
// accountSize. Tier names are sizes, either plain ("25000") or in
// thousands ("25k").
func (t *Tracker) TierFor(accountSize decimal.Decimal) (string, error) {
	best, bestSize := "", decimal.Zero
	for name := range t.opts.Allowances {
		size, ok := tierSize(name)
		if !ok || size.GreaterThan(accountSize) {
			continue
		}
		if best == "" || size.GreaterThan(bestSize) {
			best, bestSize = name, size
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no tier for account size %s", ErrUnknownTier, accountSize)
	}
	return best, nil
}

func tierSize(name string) (decimal.Decimal, bool) {
	s := strings.ToLower(strings.TrimSpace(name))
	mult := decimal.NewFromInt(1)
	if rest, ok := strings.CutSuffix(s, "k"); ok {
		s, mult = rest, decimal.NewFromInt(1000)
	}
	v, err := decimal.NewFromString(s)
	if err != nil || !v.IsPositive() {
		return decimal.Zero, false
	}
	return v.Mul(mult), true
}

func (t *Tracker) CanCopy(tier string) bool {
	n, err := t.Remaining(tier)
	return err == nil && n > 0
}

// Counter returns a copy of today's counter.
func (t *Tracker) Counter() models.CopyCounter {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked()
	c := t.counter
	c.Trades = append([]models.CopyTrade(nil), t.counter.Trades...)
	return c
}

// RecordCopy re-checks the allowance and records one copy. The counter is
// written to the store before the call returns; if that write fails the
// in-memory counter is left as it was.
func (t *Tracker) RecordCopy(ctx context.Context, tier, signalID, symbol string, direction models.Side) error {
	allowance, err := t.allowance(tier)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked()

	if allowance-t.counter.Count <= 0 {
		metrics.QuotaRejections.WithLabelValues(tier).Inc()
		return ErrQuotaExceeded
	}

	next := t.counter
	next.Trades = append(append([]models.CopyTrade(nil), t.counter.Trades...), models.CopyTrade{
		SignalID:  signalID,
		Symbol:    symbol,
		Direction: direction,
		Timestamp: t.opts.Now().UTC(),
	})
	next.Count = len(next.Trades)

	if err := storeservice.Save(ctx, t.store, counterKey, next); err != nil {
		return fmt.Errorf("persist copy counter: %w", err)
	}
	t.counter = next
	metrics.CopyTrades.WithLabelValues(tier).Inc()
	t.log.Info("copy trade recorded",
		zap.String("tier", tier),
		zap.String("signal_id", signalID),
		zap.String("symbol", symbol),
		zap.Int("count", next.Count),
		zap.Int("allowance", allowance))
	return nil
}

// Flush writes the current counter. It is called on teardown.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return nil
	}
	t.rolloverLocked()
	return storeservice.Save(ctx, t.store, counterKey, t.counter)
}
