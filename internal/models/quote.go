package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuoteSource string

const (
	SourceLive   QuoteSource = "live"
	SourceCached QuoteSource = "cached"
)

// Quote is a point-in-time observation. Quotes are values: a newer observation
// supersedes an older one, nothing mutates it in place.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	ObservedAt time.Time       `json:"observed_at"`
	Source     QuoteSource     `json:"source"`
}

// FlatQuote builds a quote from a single last price (bid == ask).
func FlatQuote(symbol string, px decimal.Decimal, at time.Time) Quote {
	return Quote{Symbol: symbol, Bid: px, Ask: px, ObservedAt: at, Source: SourceLive}
}

// EntryPrice is the price a new order on side would fill at: ask for buy, bid for sell.
func (q Quote) EntryPrice(side Side) decimal.Decimal {
	if side == SideSell {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice is the price an open position on side would close at.
func (q Quote) ExitPrice(side Side) decimal.Decimal {
	if side == SideSell {
		return q.Ask
	}
	return q.Bid
}

// AsCached returns a copy marked cached. ObservedAt stays the last live time.
func (q Quote) AsCached() Quote {
	q.Source = SourceCached
	return q
}

func (q Quote) Valid() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive() && q.Ask.GreaterThanOrEqual(q.Bid)
}
