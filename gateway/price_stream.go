package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"standx-maker-go/order"
)

// DefaultWSURL StandX 行情推送入口。
const DefaultWSURL = "wss://perps.standx.com/ws-stream/v1"

// PriceStream 订阅 price 频道并缓存最新指数价，断线自动重连。
type PriceStream struct {
	URL            string
	Symbol         string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	OnReconnect    func(err error)

	mu       sync.RWMutex
	latest   order.Price
	received time.Time
	ok       bool
}

func NewPriceStream(wsURL, symbol string) *PriceStream {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &PriceStream{
		URL:            wsURL,
		Symbol:         symbol,
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: 2 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

type subscribeMsg struct {
	Subscribe struct {
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
	} `json:"subscribe"`
}

type priceMsg struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Data    struct {
		IndexPrice decimal.Decimal `json:"index_price"`
		MarkPrice  decimal.Decimal `json:"mark_price"`
		Time       string          `json:"time"`
	} `json:"data"`
}

// ParsePriceMessage 解析 price 频道消息；非 price 消息返回 ok=false。
func ParsePriceMessage(raw []byte) (p order.Price, ok bool, err error) {
	var msg priceMsg
	if err = json.Unmarshal(raw, &msg); err != nil {
		return p, false, err
	}
	if msg.Channel != "price" || !msg.Data.IndexPrice.IsPositive() {
		return p, false, nil
	}
	ts, perr := time.Parse(time.RFC3339Nano, msg.Data.Time)
	if perr != nil {
		ts = time.Now()
	}
	return order.Price{
		Symbol:     msg.Symbol,
		IndexPrice: msg.Data.IndexPrice,
		MarkPrice:  msg.Data.MarkPrice,
		Time:       ts,
	}, true, nil
}

// Latest 实现 PriceCache。
func (s *PriceStream) Latest(symbol string) (order.Price, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok || s.latest.Symbol != symbol {
		return order.Price{}, time.Time{}, false
	}
	return s.latest, s.received, true
}

// Run 持续读取直到 ctx 取消。
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.OnReconnect != nil {
			s.OnReconnect(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ReconnectDelay):
		}
	}
}

func (s *PriceStream) runOnce(ctx context.Context) error {
	if s.Symbol == "" {
		return errors.New("price stream: symbol required")
	}
	conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接以打断阻塞读
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	var sub subscribeMsg
	sub.Subscribe.Channel = "price"
	sub.Subscribe.Symbol = s.Symbol
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p, ok, err := ParsePriceMessage(raw)
		if err != nil || !ok || p.Symbol != s.Symbol {
			continue
		}
		s.mu.Lock()
		s.latest = p
		s.received = time.Now()
		s.ok = true
		s.mu.Unlock()
	}
}
