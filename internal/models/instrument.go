package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Instrument is immutable reference data for a tradable symbol.
type Instrument struct {
	Symbol         string          `json:"symbol"`
	PipSize        decimal.Decimal `json:"pip_size"`
	QuotePrecision int32           `json:"quote_precision"`
	ContractSize   decimal.Decimal `json:"contract_size"` // units per lot
	LotStep        decimal.Decimal `json:"lot_step"`
}

// PipDecimals is the number of decimals in PipSize (0.0001 -> 4).
func (i Instrument) PipDecimals() int32 {
	s := i.PipSize.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return int32(len(s) - dot - 1)
}

// RoundPrice rounds a price to the instrument's quote precision.
func (i Instrument) RoundPrice(px decimal.Decimal) decimal.Decimal {
	return px.Round(i.QuotePrecision)
}
