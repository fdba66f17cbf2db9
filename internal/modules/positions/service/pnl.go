package service

import (
	"time"

	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
)

var hundred = decimal.NewFromInt(100)

// UnrealizedPnl is (price-entry)*qty*contractSize for a buy, negated for a
// sell. The percent is the signed price move relative to entry.
func UnrealizedPnl(p models.Position, price, contractSize decimal.Decimal) (pnl, pct decimal.Decimal) {
	if !contractSize.IsPositive() {
		contractSize = decimal.NewFromInt(1)
	}
	move := price.Sub(p.EntryPrice)
	if p.Side == models.SideSell {
		move = move.Neg()
	}
	pnl = move.Mul(p.Quantity).Mul(contractSize).Round(2)
	if p.EntryPrice.IsPositive() {
		pct = move.Div(p.EntryPrice).Mul(hundred).Round(2)
	}
	return pnl, pct
}

type priceObs struct {
	price     decimal.Decimal
	available bool
	stale     bool
}

func entryFor(p models.Position, obs priceObs, last decimal.Decimal, contractSize decimal.Decimal, at time.Time) models.PnlEntry {
	e := models.PnlEntry{
		PositionID:     p.ID,
		Symbol:         p.Symbol,
		PriceAvailable: obs.available,
		Stale:          obs.stale,
		UpdatedAt:      at,
	}
	if obs.available {
		px := obs.price
		e.CurrentPrice = &px
		e.LastPrice = px
	} else {
		e.LastPrice = last
	}
	e.UnrealizedPnl, e.PnlPercent = UnrealizedPnl(p, e.LastPrice, contractSize)
	return e
}
