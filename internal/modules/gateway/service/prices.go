package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"prop_terminal/internal/models"
)

type priceDTO struct {
	Price *decimal.Decimal `json:"price"`
	Bid   *decimal.Decimal `json:"bid,omitempty"`
	Ask   *decimal.Decimal `json:"ask,omitempty"`
}

func (p priceDTO) quote(symbol string, at time.Time) (models.Quote, bool) {
	var q models.Quote
	switch {
	case p.Bid != nil && p.Ask != nil:
		q = models.Quote{Symbol: symbol, Bid: *p.Bid, Ask: *p.Ask, ObservedAt: at, Source: models.SourceLive}
	case p.Price != nil:
		q = models.FlatQuote(symbol, *p.Price, at)
	default:
		return q, false
	}
	return q, q.Valid()
}

// FetchPrices is the best-effort batch endpoint. Symbols the server omits (or
// answers with an unusable price) are absent from the result.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	var resp struct {
		Prices map[string]priceDTO `json:"prices"`
	}
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	if err := c.do(ctx, http.MethodGet, "/api/prices", q, nil, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string]models.Quote, len(resp.Prices))
	for sym, p := range resp.Prices {
		sym = strings.ToUpper(sym)
		if quote, ok := p.quote(sym, now); ok {
			out[sym] = quote
		}
	}
	return out, nil
}

func (c *Client) FetchPrice(ctx context.Context, symbol string) (models.Quote, error) {
	var p priceDTO
	if err := c.do(ctx, http.MethodGet, "/api/prices/"+url.PathEscape(symbol), nil, nil, &p); err != nil {
		return models.Quote{}, err
	}
	quote, ok := p.quote(symbol, time.Now())
	if !ok {
		return models.Quote{}, &RejectionError{Status: http.StatusNotFound, Reason: "no price for " + symbol}
	}
	return quote, nil
}
