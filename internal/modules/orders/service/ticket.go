package service

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
	"prop_terminal/internal/pips"
)

type State string

const (
	StateEditing    State = "editing"
	StateValidating State = "validating"
	StateValid      State = "valid"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
)

// Ticket is one order panel. It walks
// editing -> validating -> valid -> submitting -> confirmed, and falls back
// to editing on an invalid draft or a rejected submission with the draft kept.
type Ticket struct {
	svc  *Service
	inst models.Instrument

	mu       sync.Mutex
	state    State
	draft    models.DraftOrder
	last     ValidationResult
	lastErr  error
	position *models.Position
}

// NewTicket opens an empty market draft for symbol.
func (s *Service) NewTicket(symbol string, side models.Side) (*Ticket, error) {
	inst, err := s.Instrument(symbol)
	if err != nil {
		return nil, err
	}
	return &Ticket{
		svc:   s,
		inst:  inst,
		state: StateEditing,
		draft: emptyDraft(inst.Symbol, side),
	}, nil
}

func emptyDraft(symbol string, side models.Side) models.DraftOrder {
	return models.DraftOrder{Symbol: symbol, Side: side, EntryMode: models.EntryMarket}
}

func (t *Ticket) Instrument() models.Instrument { return t.inst }

func (t *Ticket) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Ticket) Draft() models.DraftOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft.Clone()
}

// LastResult is the outcome of the most recent validation.
func (t *Ticket) LastResult() ValidationResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Position is the confirmed position after a successful submit.
func (t *Ticket) Position() (models.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position == nil {
		return models.Position{}, false
	}
	return *t.position, true
}

// LastError is the most recent submission failure, verbatim.
func (t *Ticket) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Update mutates the draft. Any edit puts the ticket back in editing.
func (t *Ticket) Update(fn func(d *models.DraftOrder)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateSubmitting {
		return ErrBusy
	}
	d := t.draft.Clone()
	fn(&d)
	d.Symbol = t.inst.Symbol
	t.draft = d
	t.state = StateEditing
	return nil
}

// SetLevelPips sets the stop loss or take profit pips away from the current
// reference price (entry for pending orders, live quote for market).
func (t *Ticket) SetLevelPips(leg pips.Leg, distance decimal.Decimal) error {
	t.mu.Lock()
	if t.state == StateSubmitting {
		t.mu.Unlock()
		return ErrBusy
	}
	d := t.draft.Clone()
	t.mu.Unlock()

	px, err := resolveLevel(Level{Pips: &distance}, leg, d, t.inst, t.svc.Quote(t.inst.Symbol))
	if err != nil {
		return err
	}
	return t.Update(func(d *models.DraftOrder) {
		if leg == pips.StopLoss {
			d.StopLossPrice = px
		} else {
			d.TakeProfitPrice = px
		}
	})
}

// LevelPips reports the current stop loss or take profit as a pip distance
// from the reference price. ok is false when either side is unknown.
func (t *Ticket) LevelPips(leg pips.Leg) (decimal.Decimal, bool) {
	d := t.Draft()
	level := d.StopLossPrice
	if leg == pips.TakeProfit {
		level = d.TakeProfitPrice
	}
	if level == nil {
		return decimal.Zero, false
	}
	ref, err := ReferencePrice(d.Side, d.EntryMode, d.EntryPrice, t.svc.Quote(t.inst.Symbol))
	if err != nil {
		return decimal.Zero, false
	}
	n, err := pips.PriceToPips(t.inst, d.Side, leg, ref, *level)
	if err != nil {
		return decimal.Zero, false
	}
	return n, true
}

// Validate runs the draft through the validator. On failure the ticket is
// back in editing with the draft untouched.
func (t *Ticket) Validate() ValidationResult {
	t.mu.Lock()
	if t.state == StateSubmitting {
		res := t.last
		t.mu.Unlock()
		return res
	}
	t.state = StateValidating
	d := t.draft.Clone()
	t.mu.Unlock()

	res := t.svc.Validate(d)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = res
	if res.Valid {
		t.state = StateValid
	} else {
		t.state = StateEditing
	}
	return res
}

// Submit posts a valid draft. On success the ticket is confirmed and the
// draft is cleared; on rejection the reason is returned verbatim and the
// ticket is editable again with the draft kept.
func (t *Ticket) Submit(ctx context.Context) (models.Position, error) {
	t.mu.Lock()
	switch t.state {
	case StateSubmitting:
		t.mu.Unlock()
		return models.Position{}, ErrBusy
	case StateValid:
	default:
		t.mu.Unlock()
		return models.Position{}, ErrNotValidated
	}
	t.state = StateSubmitting
	t.lastErr = nil
	d := t.draft.Clone()
	t.mu.Unlock()

	pos, err := t.svc.Submit(ctx, d)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.lastErr = err
		t.state = StateEditing
		return models.Position{}, err
	}
	t.state = StateConfirmed
	t.position = &pos
	t.draft = emptyDraft(d.Symbol, d.Side)
	return pos, nil
}

// Reset discards the draft and starts over in editing.
func (t *Ticket) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateSubmitting {
		return
	}
	t.draft = emptyDraft(t.inst.Symbol, t.draft.Side)
	t.state = StateEditing
	t.last = ValidationResult{}
	t.lastErr = nil
	t.position = nil
}
