package models

import "github.com/shopspring/decimal"

// Challenge is the active account record owned by the challenge service.
type Challenge struct {
	ID              string          `json:"id"`
	Phase           string          `json:"phase"`
	Status          string          `json:"status"`
	AccountSize     decimal.Decimal `json:"account_size"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	ProfitTargetPct decimal.Decimal `json:"profit_target_pct"`
	MaxDailyLossPct decimal.Decimal `json:"max_daily_loss_pct"`
	MaxDrawdownPct  decimal.Decimal `json:"max_drawdown_pct"`
}

type BalancePhase string

const (
	BalanceOptimistic BalancePhase = "optimistic"
	BalanceReconciled BalancePhase = "reconciled"
)

// Balance is the account balance as exposed to the view.
type Balance struct {
	Value decimal.Decimal
	Phase BalancePhase
}
