package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
)

// ValidationError names the field and rule a draft broke. Message is meant
// for the user as is.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidationResult is the outcome of Validate. Entry is the resolved entry
// price (the live quote for market orders). RiskReward is nil when it cannot
// be shown.
type ValidationResult struct {
	Valid      bool
	Err        *ValidationError
	Entry      decimal.Decimal
	RiskReward *decimal.Decimal
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func fieldError(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	label := strings.ReplaceAll(field, "_", " ")
	var msg string
	switch fe.Tag() {
	case "required":
		msg = label + " is required"
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		msg = fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid (%s)", label, fe.Tag())
	}
	return &ValidationError{Field: field, Rule: fe.Tag(), Message: msg}
}

func invalid(field, rule, msg string) ValidationResult {
	return ValidationResult{Err: &ValidationError{Field: field, Rule: rule, Message: msg}}
}

// RiskReward is |tp-entry| / |entry-sl|, or nil when the risk distance is zero.
func RiskReward(entry, stopLoss, takeProfit decimal.Decimal) *decimal.Decimal {
	risk := entry.Sub(stopLoss).Abs()
	if risk.IsZero() {
		return nil
	}
	rr := takeProfit.Sub(entry).Abs().Div(risk)
	return &rr
}

// Validate checks draft against the bracket invariants. quote is the live
// quote for the symbol, nil when the feed has none. The draft is never
// modified.
func Validate(draft models.DraftOrder, quote *models.Quote) ValidationResult {
	if err := validate.Struct(draft); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return ValidationResult{Err: fieldError(errs[0])}
		}
		return invalid("draft", "struct", err.Error())
	}

	if draft.Quantity == nil {
		return invalid("quantity", "required", "quantity is required")
	}
	if !draft.Quantity.IsPositive() {
		return invalid("quantity", "gt", "quantity must be greater than 0")
	}

	var entry decimal.Decimal
	if draft.EntryMode == models.EntryMarket {
		if quote == nil || !quote.Valid() {
			return invalid("entry_price", "quote",
				fmt.Sprintf("no price available for %s, market order cannot be placed", draft.Symbol))
		}
		entry = quote.EntryPrice(draft.Side)
	} else {
		if draft.EntryPrice == nil {
			return invalid("entry_price", "required",
				fmt.Sprintf("entry price is required for a %s order", draft.EntryMode))
		}
		if !draft.EntryPrice.IsPositive() {
			return invalid("entry_price", "gt", "entry price must be greater than 0")
		}
		entry = *draft.EntryPrice
	}

	if draft.TakeProfitPrice == nil {
		return invalid("take_profit_price", "required", "take profit is required")
	}
	if draft.StopLossPrice == nil {
		return invalid("stop_loss_price", "required", "stop loss is required")
	}
	sl, tp := *draft.StopLossPrice, *draft.TakeProfitPrice
	if !sl.IsPositive() {
		return invalid("stop_loss_price", "gt", "stop loss must be greater than 0")
	}
	if !tp.IsPositive() {
		return invalid("take_profit_price", "gt", "take profit must be greater than 0")
	}

	res := ValidationResult{Entry: entry, RiskReward: RiskReward(entry, sl, tp)}

	if draft.Side == models.SideBuy {
		if !sl.LessThan(entry) {
			res.Err = &ValidationError{Field: "stop_loss_price", Rule: "below_entry",
				Message: fmt.Sprintf("stop loss %s must be below entry price %s for a buy order", sl, entry)}
			return res
		}
		if !tp.GreaterThan(entry) {
			res.Err = &ValidationError{Field: "take_profit_price", Rule: "above_entry",
				Message: fmt.Sprintf("take profit %s must be above entry price %s for a buy order", tp, entry)}
			return res
		}
	} else {
		if !sl.GreaterThan(entry) {
			res.Err = &ValidationError{Field: "stop_loss_price", Rule: "above_entry",
				Message: fmt.Sprintf("stop loss %s must be above entry price %s for a sell order", sl, entry)}
			return res
		}
		if !tp.LessThan(entry) {
			res.Err = &ValidationError{Field: "take_profit_price", Rule: "below_entry",
				Message: fmt.Sprintf("take profit %s must be below entry price %s for a sell order", tp, entry)}
			return res
		}
	}

	if draft.TrailingEnabled {
		if draft.TrailingStopDistance == nil || !draft.TrailingStopDistance.IsPositive() {
			res.Err = &ValidationError{Field: "trailing_stop_distance", Rule: "gt",
				Message: "trailing stop distance must be a positive number of pips"}
			return res
		}
	}

	res.Valid = true
	return res
}
