package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"prop_terminal/internal/models"
	"prop_terminal/internal/modules/metrics"
	"prop_terminal/pkg/tracing"
)

// CloseFailure is one failed close inside CloseAll.
type CloseFailure struct {
	PositionID string
	Symbol     string
	Err        error
}

func (f CloseFailure) Error() string {
	return fmt.Sprintf("close %s (%s): %v", f.PositionID, f.Symbol, f.Err)
}

func (f CloseFailure) Unwrap() error { return f.Err }

// CloseAllReport is the aggregate outcome of CloseAll. Closed positions are
// never rolled back when a later one fails.
type CloseAllReport struct {
	Attempted int
	Succeeded int
	Failed    []CloseFailure
	Results   map[string]models.CloseResult
}

// Close closes one position. The returned balance is applied right away as
// optimistic; positions and account state are re-fetched in the background
// and the server value replaces it.
func (r *Reconciler) Close(ctx context.Context, positionID string) (models.CloseResult, error) {
	res, err := r.closeOne(ctx, positionID)
	if err != nil {
		return res, err
	}
	r.reconcileAsync()
	return res, nil
}

// CloseAll closes every open position one after another. A failure does not
// stop the rest. One reconcile runs at the end.
func (r *Reconciler) CloseAll(ctx context.Context) CloseAllReport {
	span, ctx := tracing.Start(ctx, "positions.CloseAll")
	defer span.Finish()

	targets := r.OpenPositions()
	report := CloseAllReport{
		Attempted: len(targets),
		Results:   make(map[string]models.CloseResult, len(targets)),
	}
	for _, p := range targets {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, CloseFailure{PositionID: p.ID, Symbol: p.Symbol, Err: ctx.Err()})
			continue
		}
		res, err := r.closeOne(ctx, p.ID)
		if err != nil {
			report.Failed = append(report.Failed, CloseFailure{PositionID: p.ID, Symbol: p.Symbol, Err: err})
			continue
		}
		report.Succeeded++
		report.Results[p.ID] = res
	}
	span.SetTag("succeeded", report.Succeeded)
	span.SetTag("failed", len(report.Failed))

	if report.Attempted > 0 {
		if err := r.Reconcile(ctx); err != nil {
			r.log.Warn("reconcile after close all", zap.Error(err))
		}
	}
	return report
}

func (r *Reconciler) closeOne(ctx context.Context, id string) (res models.CloseResult, err error) {
	span, ctx := tracing.Start(ctx, "positions.Close")
	span.SetTag("position_id", id)
	defer func() { tracing.Finish(span, err) }()

	// An id not yet seen by a reconcile (opened moments ago) still goes to
	// the server, which owns the answer.
	r.mu.Lock()
	if idx := r.indexLocked(id); idx >= 0 {
		if r.positions[idx].ClosePending {
			r.mu.Unlock()
			return res, ErrClosePending
		}
		r.positions[idx].ClosePending = true
	}
	r.mu.Unlock()

	res, err = r.api.ClosePosition(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if err != nil {
		if idx >= 0 {
			r.positions[idx].ClosePending = false
		}
		metrics.Closes.WithLabelValues("failed").Inc()
		r.log.Warn("close position failed", zap.String("position_id", id), zap.Error(err))
		return models.CloseResult{}, err
	}
	metrics.Closes.WithLabelValues("ok").Inc()

	if r.stopped {
		return res, nil
	}

	// Optimistic phase: newer than any cycle already in flight.
	mark := r.seq.Add(1)
	r.balance = models.Balance{Value: res.NewBalance, Phase: models.BalanceOptimistic}
	r.balanceSeq = mark
	if mark > r.appliedSeq {
		r.appliedSeq = mark
	}
	if idx >= 0 {
		p := r.positions[idx]
		p.Status = models.PositionClosed
		p.ClosePending = false
		r.closed[id] = p
		r.positions = append(r.positions[:idx:idx], r.positions[idx+1:]...)
	}
	delete(r.pnl, id)
	delete(r.lastPrice, id)

	r.log.Info("position closed",
		zap.String("position_id", id),
		zap.String("pnl", res.Pnl.String()),
		zap.String("new_balance", res.NewBalance.String()))
	return res, nil
}

func (r *Reconciler) indexLocked(id string) int {
	for i, p := range r.positions {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) reconcileAsync() {
	r.runMu.Lock()
	ctx := r.ctx
	r.runMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("reconcile after close", zap.Error(err))
		}
	}()
}
