package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
)

// Stream is the push price channel. One connection carries every subscribed
// symbol; it reconnects until ctx is done.
type Stream struct {
	url    string
	ping   time.Duration
	dialer *websocket.Dialer
	log    *zap.Logger

	// OnState is called on every connect and disconnect.
	OnState func(connected bool)

	connected atomic.Bool

	mu      sync.Mutex // guards conn writes and symbols
	conn    *websocket.Conn
	symbols []string
}

func NewStream(wsURL string, ping time.Duration, log *zap.Logger) *Stream {
	if ping <= 0 {
		ping = 20 * time.Second
	}
	return &Stream{
		url:    wsURL,
		ping:   ping,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

func (s *Stream) Enabled() bool   { return s.url != "" }
func (s *Stream) Connected() bool { return s.connected.Load() }

// SetSymbols replaces the subscription. It is sent right away when connected
// and on every reconnect.
func (s *Stream) SetSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append([]string(nil), symbols...)
	if s.conn != nil {
		if err := s.conn.WriteJSON(s.subscribeMsgLocked()); err != nil {
			s.log.Warn("stream resubscribe failed", zap.Error(err))
		}
	}
}

func (s *Stream) subscribeMsgLocked() map[string]any {
	return map[string]any{
		"op":   "subscribe",
		"args": s.symbols,
	}
}

type frame struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string           `json:"symbol"`
		Price  *decimal.Decimal `json:"price"`
		Bid    *decimal.Decimal `json:"bid"`
		Ask    *decimal.Decimal `json:"ask"`
		Ts     int64            `json:"ts"` // unix ms
	} `json:"data"`
}

// Run blocks until ctx is done. Every frame is coalesced to at most one quote
// per symbol (the newest) before being sent to out.
func (s *Stream) Run(ctx context.Context, out chan<- []models.Quote) {
	if !s.Enabled() {
		return
	}
	for {
		s.runOnce(ctx, out)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context, out chan<- []models.Quote) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.log.Warn("stream dial error", zap.String("url", s.url), zap.Error(err))
		return
	}

	s.mu.Lock()
	err = conn.WriteJSON(s.subscribeMsgLocked())
	if err == nil {
		s.conn = conn
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("stream subscribe error", zap.Error(err))
		_ = conn.Close()
		return
	}

	s.setConnected(true)
	defer s.setConnected(false)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.keepalive(ctx, stopPing)

	// unblock ReadMessage on shutdown
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stopPing:
		}
	}()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("stream read error", zap.Error(err))
			}
			return
		}

		quotes := decodeFrame(msg)
		if len(quotes) == 0 {
			continue
		}
		select {
		case out <- quotes:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) keepalive(ctx context.Context, stop <-chan struct{}) {
	t := time.NewTicker(s.ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteJSON(map[string]string{"op": "ping"})
			}
			s.mu.Unlock()
		}
	}
}

func (s *Stream) setConnected(v bool) {
	s.connected.Store(v)
	if s.OnState != nil {
		s.OnState(v)
	}
}

func decodeFrame(msg []byte) []models.Quote {
	var f frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return nil
	}
	if f.Type != "prices" || len(f.Data) == 0 {
		return nil
	}

	latest := make(map[string]models.Quote, len(f.Data))
	order := make([]string, 0, len(f.Data))
	for _, row := range f.Data {
		sym := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if sym == "" {
			continue
		}
		at := time.Now()
		if row.Ts > 0 {
			at = time.UnixMilli(row.Ts)
		}
		dto := priceDTO{Price: row.Price, Bid: row.Bid, Ask: row.Ask}
		q, ok := dto.quote(sym, at)
		if !ok {
			continue
		}
		prev, seen := latest[sym]
		if !seen {
			order = append(order, sym)
		}
		if !seen || !q.ObservedAt.Before(prev.ObservedAt) {
			latest[sym] = q
		}
	}

	quotes := make([]models.Quote, 0, len(order))
	for _, sym := range order {
		quotes = append(quotes, latest[sym])
	}
	return quotes
}
