package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
)

func TestDecodeFrame_CoalescesPerSymbol(t *testing.T) {
	msg := []byte(`{"type":"prices","data":[
		{"symbol":"EURUSD","price":"1.1000","ts":1000},
		{"symbol":"eurusd","price":"1.1002","ts":2000},
		{"symbol":"GBPUSD","bid":"1.25","ask":"1.2502","ts":1500},
		{"symbol":"XAUUSD","price":"-1","ts":1500}
	]}`)

	quotes := decodeFrame(msg)
	require.Len(t, quotes, 2)
	assert.Equal(t, "EURUSD", quotes[0].Symbol)
	assert.True(t, quotes[0].Bid.Equal(decimal.RequireFromString("1.1002")))
	assert.Equal(t, time.UnixMilli(2000), quotes[0].ObservedAt)
	assert.Equal(t, "GBPUSD", quotes[1].Symbol)

	assert.Nil(t, decodeFrame([]byte(`{"type":"pong"}`)))
	assert.Nil(t, decodeFrame([]byte(`garbage`)))
}

func TestStream_SubscribesAndDelivers(t *testing.T) {
	var subscribed atomic.Value
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed.Store(strings.Join(sub.Args, ","))

		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"prices","data":[{"symbol":"EURUSD","price":"1.2345","ts":1700000000000}]}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), time.Hour, zap.NewNop())
	var states atomic.Int32
	s.OnState = func(bool) { states.Add(1) }
	s.SetSymbols([]string{"EURUSD", "GBPUSD"})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []models.Quote, 1)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, out)
		close(done)
	}()

	select {
	case quotes := <-out:
		require.Len(t, quotes, 1)
		assert.Equal(t, "EURUSD", quotes[0].Symbol)
		assert.True(t, quotes[0].Ask.Equal(decimal.RequireFromString("1.2345")))
	case <-time.After(3 * time.Second):
		t.Fatal("no quotes received")
	}
	assert.Equal(t, "EURUSD,GBPUSD", subscribed.Load())
	assert.True(t, s.Connected())

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.False(t, s.Connected())
	assert.GreaterOrEqual(t, states.Load(), int32(2))
}

func TestStream_DisabledWithoutURL(t *testing.T) {
	s := NewStream("", 0, zap.NewNop())
	assert.False(t, s.Enabled())
	s.Run(context.Background(), make(chan []models.Quote))
}
