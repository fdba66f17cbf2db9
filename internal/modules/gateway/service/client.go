package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RejectionError is a structured 4xx answer from the platform. Reason is shown
// to the user verbatim.
type RejectionError struct {
	Status int
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Code, e.Reason)
	}
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Reason)
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the platform REST API. Transport failures trip a circuit
// breaker; rejections do not.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     log,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var rej *RejectionError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s %s marshal", method, path)
		}
		rd = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return errors.Wrapf(err, "%s %s new request", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s do", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "%s %s read body", method, path)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return decodeRejection(resp.StatusCode, data)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("%s %s http %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "%s %s decode; body=%s", method, path, truncate(data, 256))
	}
	return nil
}

func decodeRejection(status int, data []byte) error {
	var r struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	rej := &RejectionError{Status: status}
	if err := sonic.Unmarshal(data, &r); err != nil {
		rej.Reason = strings.TrimSpace(string(data))
	} else {
		rej.Code = r.Code
		switch {
		case r.Error != "":
			rej.Reason = r.Error
		case r.Message != "":
			rej.Reason = r.Message
		case r.Detail != nil:
			if s, ok := r.Detail.(string); ok {
				rej.Reason = s
			} else {
				b, _ := sonic.Marshal(r.Detail)
				rej.Reason = string(b)
			}
		}
	}
	if rej.Reason == "" {
		rej.Reason = http.StatusText(status)
	}
	return rej
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
