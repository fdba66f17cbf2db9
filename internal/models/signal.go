package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is a published trade idea that a user may copy.
type Signal struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  Side             `json:"direction"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	StopLoss   decimal.Decimal  `json:"stop_loss"`
	TakeProfit decimal.Decimal  `json:"take_profit"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
}

// CopyTrade is one recorded signal copy.
type CopyTrade struct {
	SignalID  string    `json:"signal_id"`
	Symbol    string    `json:"symbol"`
	Direction Side      `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// CopyCounter is the per-day copy-trade counter. Count == len(Trades).
type CopyCounter struct {
	Date   string      `json:"date"`
	Count  int         `json:"count"`
	Trades []CopyTrade `json:"trades"`
}
