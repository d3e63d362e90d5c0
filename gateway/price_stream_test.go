package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriceMessage(t *testing.T) {
	raw := []byte(`{"seq":3,"channel":"price","symbol":"BTC-USD","data":{"index_price":"97000.12","mark_price":"97001","time":"2025-08-11T03:48:47.784Z"}}`)
	p, ok, err := ParsePriceMessage(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", p.Symbol)
	assert.True(t, p.IndexPrice.Equal(decimal.RequireFromString("97000.12")))

	_, ok, err = ParsePriceMessage([]byte(`{"channel":"depth_book","symbol":"BTC-USD","data":{}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParsePriceMessage([]byte(`not-json`))
	assert.Error(t, err)
}

func TestPriceStreamCachesLatest(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"price","symbol":"ETH-USD","data":{"index_price":"3000"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"price","symbol":"BTC-USD","data":{"index_price":"97000"}}`))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	s := NewPriceStream("ws"+strings.TrimPrefix(ts.URL, "http"), "BTC-USD")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case msg := <-subscribed:
		assert.JSONEq(t, `{"subscribe":{"channel":"price","symbol":"BTC-USD"}}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected subscribe message")
	}

	require.Eventually(t, func() bool {
		_, _, ok := s.Latest("BTC-USD")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	p, at, _ := s.Latest("BTC-USD")
	assert.True(t, p.IndexPrice.Equal(decimal.NewFromInt(97000)))
	assert.WithinDuration(t, time.Now(), at, 2*time.Second)

	_, _, ok := s.Latest("ETH-USD")
	assert.False(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop")
	}
}
