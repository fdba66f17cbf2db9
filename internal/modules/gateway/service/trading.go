package service

import (
	"context"
	"net/http"
	"net/url"

	"prop_terminal/internal/models"
)

func (c *Client) CreateOrder(ctx context.Context, payload models.OrderPayload) (models.Position, error) {
	var pos models.Position
	err := c.do(ctx, http.MethodPost, "/api/orders", nil, payload, &pos)
	return pos, err
}

func (c *Client) ListPositions(ctx context.Context, challengeID string) ([]models.Position, error) {
	var resp struct {
		Positions []models.Position `json:"positions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/challenges/"+url.PathEscape(challengeID)+"/positions", nil, nil, &resp)
	return resp.Positions, err
}

func (c *Client) ClosePosition(ctx context.Context, positionID string) (models.CloseResult, error) {
	var res models.CloseResult
	err := c.do(ctx, http.MethodPost, "/api/positions/"+url.PathEscape(positionID)+"/close", nil, nil, &res)
	return res, err
}

func (c *Client) OpenPnl(ctx context.Context, challengeID string) (models.PnlSnapshot, error) {
	var snap models.PnlSnapshot
	err := c.do(ctx, http.MethodGet, "/api/challenges/"+url.PathEscape(challengeID)+"/open-pnl", nil, nil, &snap)
	return snap, err
}

func (c *Client) ActiveChallenge(ctx context.Context) (models.Challenge, error) {
	var ch models.Challenge
	err := c.do(ctx, http.MethodGet, "/api/challenges/active", nil, nil, &ch)
	return ch, err
}
