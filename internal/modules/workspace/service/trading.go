package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"prop_terminal/internal/models"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	ordersservice "prop_terminal/internal/modules/orders/service"
	positionsservice "prop_terminal/internal/modules/positions/service"
	quotaservice "prop_terminal/internal/modules/quota/service"
)

// NewTicket opens an order panel for symbol and makes sure the feed watches it.
func (w *Workspace) NewTicket(ctx context.Context, symbol string, side models.Side) (*ordersservice.Ticket, error) {
	if _, err := w.current(); err != nil {
		return nil, err
	}
	tk, err := w.deps.Orders.NewTicket(symbol, side)
	if err != nil {
		return nil, err
	}
	w.deps.Feed.Subscribe(ctx, []string{tk.Instrument().Symbol})
	return tk, nil
}

// Submit sends a validated ticket. The new position shows up on the next
// reconciliation cycle.
func (w *Workspace) Submit(ctx context.Context, tk *ordersservice.Ticket) (models.Position, error) {
	if _, err := w.current(); err != nil {
		return models.Position{}, err
	}
	pos, err := tk.Submit(ctx)
	if err != nil {
		var rej *gatewayservice.RejectionError
		if errors.As(err, &rej) {
			w.deps.Notifier.Sendf("❌ Order rejected: %s", rej.Reason)
		}
		return pos, err
	}
	w.deps.Notifier.Sendf("✅ %s %s %s opened (#%s)", pos.Side, pos.Quantity, pos.Symbol, pos.ID)
	return pos, nil
}

func (w *Workspace) ClosePosition(ctx context.Context, positionID string) (models.CloseResult, error) {
	s, err := w.current()
	if err != nil {
		return models.CloseResult{}, err
	}
	res, err := s.reconciler.Close(ctx, positionID)
	if err != nil {
		return res, err
	}
	w.deps.Notifier.Sendf("Position #%s closed, P&L %s, balance %s",
		positionID, res.Pnl.StringFixed(2), res.NewBalance.StringFixed(2))
	return res, nil
}

func (w *Workspace) CloseAll(ctx context.Context) (positionsservice.CloseAllReport, error) {
	s, err := w.current()
	if err != nil {
		return positionsservice.CloseAllReport{}, err
	}
	report := s.reconciler.CloseAll(ctx)
	w.deps.Notifier.Send(closeAllText(report))
	return report, nil
}

func closeAllText(r positionsservice.CloseAllReport) string {
	if r.Attempted == 0 {
		return "No open positions"
	}
	msg := fmt.Sprintf("Closed %d of %d positions", r.Succeeded, r.Attempted)
	for _, f := range r.Failed {
		msg += fmt.Sprintf("\n• #%s %s: %v", f.PositionID, f.Symbol, f.Err)
	}
	return msg
}

// CopySignal copies a published signal into a market or limit bracket order
// when today's quota allows it. Copies are handled one at a time.
func (w *Workspace) CopySignal(ctx context.Context, sig models.Signal) (models.Position, error) {
	w.copyMu.Lock()
	defer w.copyMu.Unlock()

	s, err := w.current()
	if err != nil {
		return models.Position{}, err
	}
	tier, err := w.deps.Quota.TierFor(s.challenge.AccountSize)
	if err != nil {
		return models.Position{}, err
	}
	left, err := w.deps.Quota.Remaining(tier)
	if err != nil {
		return models.Position{}, err
	}
	if left <= 0 {
		w.deps.Notifier.Sendf("Daily copy-trade limit reached for tier %s", tier)
		return models.Position{}, quotaservice.ErrQuotaExceeded
	}

	draft, err := w.signalDraft(ctx, sig, s)
	if err != nil {
		return models.Position{}, err
	}

	pos, err := w.deps.Orders.Submit(ctx, draft)
	if err != nil {
		return models.Position{}, err
	}

	if err := w.deps.Quota.RecordCopy(ctx, tier, sig.ID, draft.Symbol, draft.Side); err != nil {
		// the order is already live; only the counter is behind
		w.log.Error("copy recorded on server but not in quota",
			zap.String("signal_id", sig.ID), zap.String("position_id", pos.ID), zap.Error(err))
		return pos, fmt.Errorf("record copy: %w", err)
	}
	w.deps.Notifier.Sendf("📋 Signal %s copied: %s %s %s (#%s)", sig.ID, draft.Side, draft.Quantity, draft.Symbol, pos.ID)
	return pos, nil
}

func (w *Workspace) signalDraft(ctx context.Context, sig models.Signal, s *session) (models.DraftOrder, error) {
	inst, err := w.deps.Orders.Instrument(sig.Symbol)
	if err != nil {
		return models.DraftOrder{}, err
	}
	w.deps.Feed.Subscribe(ctx, []string{inst.Symbol})
	if w.deps.Orders.Quote(inst.Symbol) == nil {
		// first sight of the symbol: fetch it now rather than wait for the poll
		if _, err := w.deps.Feed.Refresh(ctx, inst.Symbol); err != nil {
			w.log.Warn("price refresh", zap.String("symbol", inst.Symbol), zap.Error(err))
		}
	}

	in := ordersservice.DraftInput{
		Symbol:     inst.Symbol,
		Side:       sig.Direction,
		Quantity:   sig.Quantity,
		EntryMode:  models.EntryMarket,
		StopLoss:   ordersservice.Level{Price: models.Dec(sig.StopLoss)},
		TakeProfit: ordersservice.Level{Price: models.Dec(sig.TakeProfit)},
	}
	if sig.EntryPrice != nil {
		in.EntryMode = models.EntryLimit
		in.EntryPrice = sig.EntryPrice
	}

	if in.Quantity == nil {
		entry, err := ordersservice.ReferencePrice(in.Side, in.EntryMode, in.EntryPrice, w.deps.Orders.Quote(inst.Symbol))
		if err != nil {
			return models.DraftOrder{}, err
		}
		balance := s.reconciler.Snapshot().Balance.Value
		if balance.IsZero() {
			balance = s.challenge.CurrentBalance
		}
		qty, err := ordersservice.SizeByRisk(balance, w.deps.RiskPct, entry, sig.StopLoss, inst)
		if err != nil {
			return models.DraftOrder{}, fmt.Errorf("size copy trade: %w", err)
		}
		in.Quantity = &qty
	}

	draft, err := ordersservice.BuildDraft(in, inst, w.deps.Orders.Quote(inst.Symbol))
	if err != nil {
		return models.DraftOrder{}, err
	}
	if res := w.deps.Orders.Validate(draft); !res.Valid {
		return models.DraftOrder{}, res.Err
	}
	return draft, nil
}

// Remaining is today's copy allowance left for the open challenge.
func (w *Workspace) Remaining() (int, error) {
	tier, err := w.Tier()
	if err != nil {
		return 0, err
	}
	return w.deps.Quota.Remaining(tier)
}
