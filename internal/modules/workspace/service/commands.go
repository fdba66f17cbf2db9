package service

import (
	"context"
	"fmt"
	"strings"
)

func (w *Workspace) PositionsText(context.Context) string {
	snap, err := w.Snapshot()
	if err != nil {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Balance: %s (%s)\n", snap.Balance.Value.StringFixed(2), snap.Balance.Phase)
	if len(snap.Positions) == 0 {
		b.WriteString("No open positions")
		return b.String()
	}
	for _, p := range snap.Positions {
		e, ok := snap.Pnl[p.ID]
		switch {
		case !ok || !e.PriceAvailable:
			fmt.Fprintf(&b, "#%s %s %s %s @ %s  price unavailable\n", p.ID, p.Side, p.Quantity, p.Symbol, p.EntryPrice)
		default:
			mark := ""
			if e.Stale {
				mark = " (stale)"
			}
			fmt.Fprintf(&b, "#%s %s %s %s @ %s  P&L %s (%s%%)%s\n",
				p.ID, p.Side, p.Quantity, p.Symbol, p.EntryPrice, e.UnrealizedPnl.StringFixed(2), e.PnlPercent.StringFixed(2), mark)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (w *Workspace) QuotaText() string {
	tier, err := w.Tier()
	if err != nil {
		return err.Error()
	}
	left, err := w.deps.Quota.Remaining(tier)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("Copy trades left today (%s): %d", tier, left)
}

func (w *Workspace) CloseAllText(ctx context.Context) string {
	s, err := w.current()
	if err != nil {
		return err.Error()
	}
	return closeAllText(s.reconciler.CloseAll(ctx))
}
