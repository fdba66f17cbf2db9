package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prop_terminal/internal/models"
)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func limitDraft(side models.Side, entry, sl, tp string) models.DraftOrder {
	return models.DraftOrder{
		Symbol:          "EURUSD",
		Side:            side,
		Quantity:        d("1"),
		EntryMode:       models.EntryLimit,
		EntryPrice:      d(entry),
		StopLossPrice:   d(sl),
		TakeProfitPrice: d(tp),
	}
}

func TestValidate_DirectionalInvariant(t *testing.T) {
	tests := []struct {
		name  string
		draft models.DraftOrder
		valid bool
		field string
	}{
		{"buy ok", limitDraft(models.SideBuy, "1.1", "1.09", "1.12"), true, ""},
		{"buy sl equal entry", limitDraft(models.SideBuy, "1.1", "1.1", "1.12"), false, "stop_loss_price"},
		{"buy sl above entry", limitDraft(models.SideBuy, "1.1", "1.11", "1.12"), false, "stop_loss_price"},
		{"buy tp equal entry", limitDraft(models.SideBuy, "1.1", "1.09", "1.1"), false, "take_profit_price"},
		{"buy tp below entry", limitDraft(models.SideBuy, "1.1", "1.09", "1.08"), false, "take_profit_price"},
		{"sell ok", limitDraft(models.SideSell, "1.1", "1.11", "1.08"), true, ""},
		{"sell sl equal entry", limitDraft(models.SideSell, "1.1", "1.1", "1.08"), false, "stop_loss_price"},
		{"sell sl below entry", limitDraft(models.SideSell, "1.1", "1.09", "1.08"), false, "stop_loss_price"},
		{"sell tp equal entry", limitDraft(models.SideSell, "1.1", "1.11", "1.1"), false, "take_profit_price"},
		{"sell tp above entry", limitDraft(models.SideSell, "1.1", "1.11", "1.12"), false, "take_profit_price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.draft.Clone()
			res := Validate(tt.draft, nil)
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				require.NotNil(t, res.Err)
				assert.Equal(t, tt.field, res.Err.Field)
				assert.NotEmpty(t, res.Err.Message)
			}
			assert.Equal(t, before, tt.draft)
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	base := limitDraft(models.SideBuy, "1.1", "1.09", "1.12")

	tests := []struct {
		name   string
		mutate func(d *models.DraftOrder)
		field  string
		msg    string
	}{
		{"no symbol", func(d *models.DraftOrder) { d.Symbol = "" }, "symbol", "symbol is required"},
		{"bad side", func(d *models.DraftOrder) { d.Side = "hold" }, "side", "side must be one of: buy, sell"},
		{"no quantity", func(d *models.DraftOrder) { d.Quantity = nil }, "quantity", "quantity is required"},
		{"zero quantity", func(d *models.DraftOrder) { d.Quantity = d0() }, "quantity", "quantity must be greater than 0"},
		{"limit without entry", func(d *models.DraftOrder) { d.EntryPrice = nil }, "entry_price", "entry price is required for a limit order"},
		{"no take profit", func(d *models.DraftOrder) { d.TakeProfitPrice = nil }, "take_profit_price", "take profit is required"},
		{"no stop loss", func(d *models.DraftOrder) { d.StopLossPrice = nil }, "stop_loss_price", "stop loss is required"},
		{"trailing without distance", func(d *models.DraftOrder) { d.TrailingEnabled = true }, "trailing_stop_distance", ""},
		{"trailing zero distance", func(d *models.DraftOrder) {
			d.TrailingEnabled = true
			d.TrailingStopDistance = d0()
		}, "trailing_stop_distance", ""},
		{"bad expiry", func(d *models.DraftOrder) {
			h := 0
			d.ExpiresInHours = &h
		}, "expires_in_hours", "expires in hours must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := base.Clone()
			tt.mutate(&draft)
			res := Validate(draft, nil)
			require.False(t, res.Valid)
			assert.Equal(t, tt.field, res.Err.Field)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, res.Err.Message)
			}
		})
	}
}

func d0() *decimal.Decimal { return d("0") }

func TestValidate_MarketUsesQuote(t *testing.T) {
	draft := models.DraftOrder{
		Symbol:          "EURUSD",
		Side:            models.SideBuy,
		Quantity:        d("0.5"),
		EntryMode:       models.EntryMarket,
		StopLossPrice:   d("1.098"),
		TakeProfitPrice: d("1.104"),
	}

	res := Validate(draft, nil)
	require.False(t, res.Valid)
	assert.Equal(t, "quote", res.Err.Rule)

	q := models.Quote{Symbol: "EURUSD", Bid: *d("1.0999"), Ask: *d("1.1"), ObservedAt: time.Now(), Source: models.SourceLive}
	res = Validate(draft, &q)
	require.True(t, res.Valid, res.Err)
	assert.True(t, res.Entry.Equal(*d("1.1")))
	require.NotNil(t, res.RiskReward)
	assert.Equal(t, "2.00", res.RiskReward.StringFixed(2))

	// a sell enters at the bid
	sell := draft.Clone()
	sell.Side = models.SideSell
	sell.StopLossPrice, sell.TakeProfitPrice = d("1.102"), d("1.095")
	res = Validate(sell, &q)
	require.True(t, res.Valid, res.Err)
	assert.True(t, res.Entry.Equal(*d("1.0999")))
}

func TestRiskReward_ZeroRiskUndefined(t *testing.T) {
	assert.Nil(t, RiskReward(*d("1.1"), *d("1.1"), *d("1.2")))

	rr := RiskReward(*d("1.1"), *d("1.09"), *d("1.13"))
	require.NotNil(t, rr)
	assert.True(t, rr.Equal(*d("3")))
}

func TestValidate_InvalidStillReportsRiskReward(t *testing.T) {
	res := Validate(limitDraft(models.SideBuy, "1.1", "1.12", "1.14"), nil)
	require.False(t, res.Valid)
	require.NotNil(t, res.RiskReward)
	assert.True(t, res.RiskReward.Equal(*d("2")))
}
