package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
	"prop_terminal/internal/pips"
)

var (
	ErrNoQuote           = errors.New("no live price to measure pips from")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrNotValidated      = errors.New("draft has not passed validation")
	ErrBusy              = errors.New("order is already being submitted")
)

// Level is an exit given either as an absolute price or as a pip distance
// from the entry. Price wins when both are set.
type Level struct {
	Price *decimal.Decimal
	Pips  *decimal.Decimal
}

func (l Level) empty() bool { return l.Price == nil && l.Pips == nil }

// DraftInput is what the order panel collects.
type DraftInput struct {
	Symbol         string
	Side           models.Side
	Quantity       *decimal.Decimal
	EntryMode      models.EntryMode
	EntryPrice     *decimal.Decimal
	StopLoss       Level
	TakeProfit     Level
	TrailingPips   *decimal.Decimal
	ExpiresInHours *int
}

// ReferencePrice is the price pip distances are measured from: the entry
// price for pending orders, the live quote for market orders.
func ReferencePrice(side models.Side, mode models.EntryMode, entry *decimal.Decimal, quote *models.Quote) (decimal.Decimal, error) {
	if mode != models.EntryMarket && entry != nil {
		return *entry, nil
	}
	if quote == nil || !quote.Valid() {
		return decimal.Zero, ErrNoQuote
	}
	return quote.EntryPrice(side), nil
}

// BuildDraft turns panel input into a draft. Pip distances are converted to
// prices against the reference price. Non-positive pip distances are rejected.
func BuildDraft(in DraftInput, inst models.Instrument, quote *models.Quote) (models.DraftOrder, error) {
	mode := in.EntryMode
	if mode == "" {
		mode = models.EntryMarket
	}
	d := models.DraftOrder{
		Symbol:               inst.Symbol,
		Side:                 in.Side,
		Quantity:             in.Quantity,
		EntryMode:            mode,
		TrailingEnabled:      in.TrailingPips != nil,
		TrailingStopDistance: in.TrailingPips,
		ExpiresInHours:       in.ExpiresInHours,
	}
	if mode != models.EntryMarket && in.EntryPrice != nil {
		d.EntryPrice = models.Dec(inst.RoundPrice(*in.EntryPrice))
	}

	var err error
	if d.StopLossPrice, err = resolveLevel(in.StopLoss, pips.StopLoss, d, inst, quote); err != nil {
		return d, err
	}
	if d.TakeProfitPrice, err = resolveLevel(in.TakeProfit, pips.TakeProfit, d, inst, quote); err != nil {
		return d, err
	}
	return d.Clone(), nil
}

func resolveLevel(l Level, leg pips.Leg, d models.DraftOrder, inst models.Instrument, quote *models.Quote) (*decimal.Decimal, error) {
	if l.empty() {
		return nil, nil
	}
	if l.Price != nil {
		return models.Dec(inst.RoundPrice(*l.Price)), nil
	}
	if !l.Pips.IsPositive() {
		field := leg.String() + "_price"
		return nil, &ValidationError{Field: field, Rule: "pips_positive",
			Message: fmt.Sprintf("%s distance must be a positive number of pips", leg)}
	}
	ref, err := ReferencePrice(d.Side, d.EntryMode, d.EntryPrice, quote)
	if err != nil {
		return nil, err
	}
	px, err := pips.PipsToPrice(inst, d.Side, leg, ref, *l.Pips)
	if err != nil {
		return nil, err
	}
	return &px, nil
}

// Payload builds the bracket order sent to the server from a draft that
// passed Validate.
func Payload(d models.DraftOrder, inst models.Instrument, now time.Time) models.OrderPayload {
	p := models.OrderPayload{
		ClientOrderID:   uuid.NewString(),
		Symbol:          inst.Symbol,
		Side:            d.Side,
		Quantity:        *d.Quantity,
		EntryMode:       d.EntryMode,
		StopLossPrice:   inst.RoundPrice(*d.StopLossPrice),
		TakeProfitPrice: inst.RoundPrice(*d.TakeProfitPrice),
	}
	if d.EntryMode != models.EntryMarket && d.EntryPrice != nil {
		p.EntryPrice = models.Dec(inst.RoundPrice(*d.EntryPrice))
	}
	if d.TrailingEnabled && d.TrailingStopDistance != nil {
		p.TrailingStopPips = models.Dec(*d.TrailingStopDistance)
	}
	if d.ExpiresInHours != nil {
		at := now.Add(time.Duration(*d.ExpiresInHours) * time.Hour).UTC()
		p.ExpiresAt = &at
	}
	return p
}

// SizeByRisk returns the lot quantity that loses riskPct of balance if the
// stop is hit, floored to the instrument lot step.
func SizeByRisk(balance, riskPct, entry, stop decimal.Decimal, inst models.Instrument) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decimal.Zero, fmt.Errorf("balance must be positive")
	}
	if !riskPct.IsPositive() {
		return decimal.Zero, fmt.Errorf("risk percent must be positive")
	}
	stopDist := entry.Sub(stop).Abs()
	if stopDist.IsZero() {
		return decimal.Zero, fmt.Errorf("zero stop distance")
	}
	contract := inst.ContractSize
	if !contract.IsPositive() {
		contract = decimal.NewFromInt(1)
	}

	riskAmount := balance.Mul(riskPct).Div(decimal.NewFromInt(100))
	qty := pips.RoundDownToStep(riskAmount.Div(stopDist.Mul(contract)), inst.LotStep)
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("risk %s too small for one lot step of %s", riskAmount.StringFixed(2), inst.Symbol)
	}
	return qty, nil
}
