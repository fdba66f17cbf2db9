package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is a server-confirmed filled order.
type Position struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Side            Side             `json:"side"`
	Quantity        decimal.Decimal  `json:"quantity"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	Status          PositionStatus   `json:"status"`
	OpenedAt        time.Time        `json:"opened_at"`

	// ClosePending is local only: a close was requested and not yet confirmed.
	ClosePending bool `json:"-"`
}

// PnlEntry is derived per position every reconciliation cycle and never persisted.
type PnlEntry struct {
	PositionID string
	Symbol     string
	// CurrentPrice is nil when no quote exists for the symbol this cycle.
	CurrentPrice *decimal.Decimal
	// LastPrice is the price the P&L was computed from. Equals CurrentPrice when
	// available, otherwise the last price seen for this position (or entry).
	LastPrice      decimal.Decimal
	UnrealizedPnl  decimal.Decimal
	PnlPercent     decimal.Decimal
	PriceAvailable bool
	Stale          bool
	UpdatedAt      time.Time
}

// CloseResult is the position service response to a close.
type CloseResult struct {
	Pnl        decimal.Decimal `json:"pnl"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// PnlSnapshot mirrors the server open-P&L endpoint.
type PnlSnapshot struct {
	TotalUnrealizedPnl decimal.Decimal `json:"total_unrealized_pnl"`
	Trades             []TradePnl      `json:"trades"`
	PriceErrors        []string        `json:"price_errors"`
}

type TradePnl struct {
	TradeID        string           `json:"trade_id"`
	CurrentPrice   *decimal.Decimal `json:"current_price"`
	UnrealizedPnl  decimal.Decimal  `json:"unrealized_pnl"`
	PnlPercent     decimal.Decimal  `json:"pnl_percent"`
	PriceAvailable bool             `json:"price_available"`
}
