package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
	ordersservice "prop_terminal/internal/modules/orders/service"
	positionsservice "prop_terminal/internal/modules/positions/service"
	"prop_terminal/internal/notify"
)

var ErrNotOpen = errors.New("workspace is not open")

type Reconciler interface {
	Start(ctx context.Context)
	Stop()
	Trigger()
	Snapshot() positionsservice.Snapshot
	Close(ctx context.Context, positionID string) (models.CloseResult, error)
	CloseAll(ctx context.Context) positionsservice.CloseAllReport
}

type Quota interface {
	Remaining(tier string) (int, error)
	TierFor(accountSize decimal.Decimal) (string, error)
	RecordCopy(ctx context.Context, tier, signalID, symbol string, direction models.Side) error
	Flush(ctx context.Context) error
}

// Feed is the price feed. Its loops run only while a session is open.
type Feed interface {
	Subscribe(ctx context.Context, symbols []string)
	Refresh(ctx context.Context, symbol string) (models.Quote, error)
	Start(ctx context.Context)
	Stop()
}

type ChallengeService interface {
	ActiveChallenge(ctx context.Context) (models.Challenge, error)
}

type ReadyState interface {
	SetReady(v bool)
}

type Deps struct {
	Orders        *ordersservice.Service
	Feed          Feed
	Quota         Quota
	Challenges    ChallengeService
	NewReconciler func(challengeID string) Reconciler
	Notifier      notify.Notifier
	State         ReadyState
	Symbols       []string
	// RiskPct sizes copy trades whose signal carries no quantity.
	RiskPct       decimal.Decimal
}

type session struct {
	challenge  models.Challenge
	reconciler Reconciler
	cancel     context.CancelFunc
	visible    bool
}

// Workspace is one trading session against one challenge: the position
// table, order tickets and signal copying share it.
type Workspace struct {
	deps Deps
	log  *zap.Logger

	mu      sync.Mutex
	session *session

	// serializes CopySignal so the quota check and the record cannot interleave
	copyMu sync.Mutex
}

func New(deps Deps, log *zap.Logger) *Workspace {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workspace{deps: deps, log: log}
}

// Open starts a session on challengeID, or on the active challenge when it
// is empty. An already open session is closed first.
func (w *Workspace) Open(ctx context.Context, challengeID string) (models.Challenge, error) {
	ch, err := w.deps.Challenges.ActiveChallenge(ctx)
	if err != nil {
		return models.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if challengeID != "" && ch.ID != challengeID {
		return models.Challenge{}, fmt.Errorf("challenge %s is not active (active: %s)", challengeID, ch.ID)
	}

	w.Close(ctx)

	rec := w.deps.NewReconciler(ch.ID)
	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.session = &session{challenge: ch, reconciler: rec, cancel: cancel, visible: true}
	w.mu.Unlock()

	if len(w.deps.Symbols) > 0 {
		w.deps.Feed.Subscribe(ctx, w.deps.Symbols)
	}
	w.deps.Feed.Start(runCtx)
	rec.Start(runCtx)

	if tg, ok := w.deps.Notifier.(*notify.Telegram); ok {
		tg.SetCommands(w)
	}
	if w.deps.State != nil {
		w.deps.State.SetReady(true)
	}
	tier, err := w.deps.Quota.TierFor(ch.AccountSize)
	if err != nil {
		w.log.Warn("no copy-trade tier for account", zap.String("account_size", ch.AccountSize.String()), zap.Error(err))
	}
	w.log.Info("workspace opened",
		zap.String("challenge_id", ch.ID),
		zap.String("account_size", ch.AccountSize.String()),
		zap.String("tier", tier))
	return ch, nil
}

// Close tears the session down. Neither the position loop nor the price
// feed writes after it returns.
func (w *Workspace) Close(ctx context.Context) {
	w.mu.Lock()
	s := w.session
	w.session = nil
	w.mu.Unlock()
	if s == nil {
		return
	}

	if w.deps.State != nil {
		w.deps.State.SetReady(false)
	}
	s.reconciler.Stop()
	w.deps.Feed.Stop()
	s.cancel()
	if err := w.deps.Quota.Flush(ctx); err != nil {
		w.log.Warn("flush copy counter", zap.Error(err))
	}
	w.log.Info("workspace closed", zap.String("challenge_id", s.challenge.ID))
}

func (w *Workspace) current() (*session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, ErrNotOpen
	}
	return w.session, nil
}

// SetVisible records foreground visibility. Coming back to the foreground
// forces a reconciliation right away.
func (w *Workspace) SetVisible(visible bool) {
	w.mu.Lock()
	s := w.session
	if s == nil {
		w.mu.Unlock()
		return
	}
	wasVisible := s.visible
	s.visible = visible
	w.mu.Unlock()

	if visible && !wasVisible {
		s.reconciler.Trigger()
	}
}

func (w *Workspace) Challenge() (models.Challenge, error) {
	s, err := w.current()
	if err != nil {
		return models.Challenge{}, err
	}
	return s.challenge, nil
}

func (w *Workspace) Snapshot() (positionsservice.Snapshot, error) {
	s, err := w.current()
	if err != nil {
		return positionsservice.Snapshot{}, err
	}
	return s.reconciler.Snapshot(), nil
}

// Tier is the quota tier of the open challenge.
func (w *Workspace) Tier() (string, error) {
	s, err := w.current()
	if err != nil {
		return "", err
	}
	return w.deps.Quota.TierFor(s.challenge.AccountSize)
}
