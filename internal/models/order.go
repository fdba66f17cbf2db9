package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type EntryMode string

const (
	EntryMarket EntryMode = "market"
	EntryLimit  EntryMode = "limit"
	EntryStop   EntryMode = "stop"
)

// DraftOrder is the user input before submission. Nil pointers mean "not entered".
type DraftOrder struct {
	Symbol               string           `json:"symbol" validate:"required"`
	Side                 Side             `json:"side" validate:"required,oneof=buy sell"`
	Quantity             *decimal.Decimal `json:"quantity"`
	EntryMode            EntryMode        `json:"entry_mode" validate:"required,oneof=market limit stop"`
	EntryPrice           *decimal.Decimal `json:"entry_price,omitempty"`
	StopLossPrice        *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice      *decimal.Decimal `json:"take_profit_price,omitempty"`
	TrailingEnabled      bool             `json:"trailing_enabled"`
	TrailingStopDistance *decimal.Decimal `json:"trailing_stop_distance,omitempty"` // pips
	ExpiresInHours       *int             `json:"expires_in_hours,omitempty" validate:"omitempty,gt=0"`
}

// Clone returns a deep copy so callers cannot mutate a ticket's draft.
func (d DraftOrder) Clone() DraftOrder {
	out := d
	out.Quantity = cloneDec(d.Quantity)
	out.EntryPrice = cloneDec(d.EntryPrice)
	out.StopLossPrice = cloneDec(d.StopLossPrice)
	out.TakeProfitPrice = cloneDec(d.TakeProfitPrice)
	out.TrailingStopDistance = cloneDec(d.TrailingStopDistance)
	if d.ExpiresInHours != nil {
		h := *d.ExpiresInHours
		out.ExpiresInHours = &h
	}
	return out
}

func cloneDec(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Dec is a small helper for optional decimal fields.
func Dec(v decimal.Decimal) *decimal.Decimal { return &v }

// OrderPayload is the validated bracket order sent to the order submission service.
type OrderPayload struct {
	ClientOrderID    string           `json:"client_order_id"`
	Symbol           string           `json:"symbol"`
	Side             Side             `json:"side"`
	Quantity         decimal.Decimal  `json:"quantity"`
	EntryMode        EntryMode        `json:"entry_mode"`
	EntryPrice       *decimal.Decimal `json:"entry_price,omitempty"`
	StopLossPrice    decimal.Decimal  `json:"stop_loss_price"`
	TakeProfitPrice  decimal.Decimal  `json:"take_profit_price"`
	TrailingStopPips *decimal.Decimal `json:"trailing_stop_pips,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}
