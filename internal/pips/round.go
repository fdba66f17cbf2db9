package pips

import "github.com/shopspring/decimal"

// RoundDownToStep floors v to a multiple of step. A non-positive step returns v.
func RoundDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
