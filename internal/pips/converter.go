// Package pips converts between absolute price levels and pip-denominated
// offsets for a given instrument.
package pips

import (
	"errors"

	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
)

// Leg says which exit a pip distance describes.
type Leg int

const (
	StopLoss Leg = iota
	TakeProfit
)

func (l Leg) String() string {
	if l == TakeProfit {
		return "take_profit"
	}
	return "stop_loss"
}

var ErrBadInstrument = errors.New("instrument has no positive pip size")

// direction is +1 when the leg sits above the reference price, -1 below.
// buy: SL below, TP above. sell: the reverse.
func direction(side models.Side, leg Leg) int64 {
	up := leg == TakeProfit
	if side == models.SideSell {
		up = !up
	}
	if up {
		return 1
	}
	return -1
}

// PipPrecision is the number of decimals a pip distance carries for inst:
// the digits the quote precision has beyond the pip (EURUSD 5-4 -> 1, fractional pips).
func PipPrecision(inst models.Instrument) int32 {
	p := inst.QuotePrecision - inst.PipDecimals()
	if p < 0 {
		return 0
	}
	return p
}

// PipsToPrice places a leg pips away from ref. The result is rounded to the
// instrument quote precision. Non-positive distances are not clamped; rejecting
// them is the caller's job.
func PipsToPrice(inst models.Instrument, side models.Side, leg Leg, ref, pips decimal.Decimal) (decimal.Decimal, error) {
	if !inst.PipSize.IsPositive() {
		return decimal.Zero, ErrBadInstrument
	}
	offset := pips.Mul(inst.PipSize).Mul(decimal.NewFromInt(direction(side, leg)))
	return ref.Add(offset).Round(inst.QuotePrecision), nil
}

// PriceToPips is the inverse of PipsToPrice: the pip distance from ref to price,
// positive when price is on the leg's side of ref.
func PriceToPips(inst models.Instrument, side models.Side, leg Leg, ref, price decimal.Decimal) (decimal.Decimal, error) {
	if !inst.PipSize.IsPositive() {
		return decimal.Zero, ErrBadInstrument
	}
	diff := price.Round(inst.QuotePrecision).Sub(ref).Mul(decimal.NewFromInt(direction(side, leg)))
	return diff.Div(inst.PipSize).Round(PipPrecision(inst)), nil
}
