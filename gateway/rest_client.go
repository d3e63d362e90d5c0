package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standx-maker-go/order"
)

// DefaultBaseURL StandX 永续 REST 入口。
const DefaultBaseURL = "https://perps.standx.com"

// Recorder 接收 REST 调用指标；infrastructure/monitor.Monitor 实现了该接口。
type Recorder interface {
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
}

// PriceCache 提供推送得到的最新价格及其接收时间。
type PriceCache interface {
	Latest(symbol string) (order.Price, time.Time, bool)
}

// RESTClient 实现 order.Exchange；HTTPClient 可注入 httptest。
type RESTClient struct {
	BaseURL    string
	Signer     *Signer
	HTTPClient *http.Client
	Limiter    RateLimiter
	Recorder   Recorder

	// 可选：推送价格新鲜时优先使用，过期回退 REST
	Prices      PriceCache
	PriceMaxAge time.Duration
}

var _ order.Exchange = (*RESTClient)(nil)

type apiResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type symbolPriceResp struct {
	Symbol     string          `json:"symbol"`
	IndexPrice decimal.Decimal `json:"index_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	Time       string          `json:"time"`
}

type newOrderBody struct {
	Symbol      string            `json:"symbol"`
	Side        order.Side        `json:"side"`
	OrderType   order.OrderType   `json:"order_type"`
	Qty         string            `json:"qty"`
	Price       string            `json:"price,omitempty"`
	MarginMode  order.MarginMode  `json:"margin_mode"`
	TimeInForce order.TimeInForce `json:"time_in_force"`
	ReduceOnly  bool              `json:"reduce_only"`
	ClOrdID     string            `json:"cl_ord_id"`
}

type cancelOrdersBody struct {
	ClOrdIDList []string `json:"cl_ord_id_list"`
}

type orderResp struct {
	ClOrdID      string          `json:"cl_ord_id"`
	Symbol       string          `json:"symbol"`
	Side         order.Side      `json:"side"`
	OrderType    order.OrderType `json:"order_type"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	FillQty      decimal.Decimal `json:"fill_qty"`
	FillAvgPrice decimal.Decimal `json:"fill_avg_price"`
	Status       order.Status    `json:"status"`
	ReduceOnly   bool            `json:"reduce_only"`
}

// GetPrice 调用 /api/query_symbol_price。
func (c *RESTClient) GetPrice(ctx context.Context, symbol string) (order.Price, error) {
	if c.Prices != nil && c.PriceMaxAge > 0 {
		if p, at, ok := c.Prices.Latest(symbol); ok && time.Since(at) <= c.PriceMaxAge {
			return p, nil
		}
	}
	var resp symbolPriceResp
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, "query_symbol_price", http.MethodGet, "/api/query_symbol_price", q, nil, &resp); err != nil {
		return order.Price{}, err
	}
	if !resp.IndexPrice.IsPositive() {
		return order.Price{}, fmt.Errorf("query_symbol_price: invalid index_price %s", resp.IndexPrice)
	}
	if resp.Symbol == "" {
		resp.Symbol = symbol
	}
	ts, err := time.Parse(time.RFC3339Nano, resp.Time)
	if err != nil {
		ts = time.Now()
	}
	return order.Price{
		Symbol:     resp.Symbol,
		IndexPrice: resp.IndexPrice,
		MarkPrice:  resp.MarkPrice,
		Time:       ts,
	}, nil
}

// CreateOrder 调用 /api/new_order，返回客户端订单号。
func (c *RESTClient) CreateOrder(ctx context.Context, req order.Request) (string, error) {
	if req.ClOrdID == "" {
		req.ClOrdID = uuid.NewString()
	}
	if req.TimeInForce == "" {
		req.TimeInForce = order.TIFGoodTillCancel
	}
	if req.MarginMode == "" {
		req.MarginMode = order.MarginCross
	}
	body := newOrderBody{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   req.Type,
		Qty:         req.QtyText(),
		MarginMode:  req.MarginMode,
		TimeInForce: req.TimeInForce,
		ReduceOnly:  req.ReduceOnly,
		ClOrdID:     req.ClOrdID,
	}
	if req.Type == order.TypeLimit {
		body.Price = req.PriceText()
	}
	if err := c.do(ctx, "new_order", http.MethodPost, "/api/new_order", nil, body, nil); err != nil {
		return "", err
	}
	return req.ClOrdID, nil
}

// CancelOrder 调用 /api/cancel_orders 撤销单个客户端订单。
func (c *RESTClient) CancelOrder(ctx context.Context, clOrdID string) error {
	if clOrdID == "" {
		return errors.New("cancel_orders: empty cl_ord_id")
	}
	body := cancelOrdersBody{ClOrdIDList: []string{clOrdID}}
	return c.do(ctx, "cancel_orders", http.MethodPost, "/api/cancel_orders", nil, body, nil)
}

// QueryOrder 调用 /api/query_order。
func (c *RESTClient) QueryOrder(ctx context.Context, clOrdID string) (order.Order, error) {
	var resp orderResp
	q := url.Values{"cl_ord_id": {clOrdID}}
	if err := c.do(ctx, "query_order", http.MethodGet, "/api/query_order", q, nil, &resp); err != nil {
		return order.Order{}, err
	}
	if resp.ClOrdID == "" {
		resp.ClOrdID = clOrdID
	}
	return order.Order{
		ClOrdID:      resp.ClOrdID,
		Symbol:       resp.Symbol,
		Side:         resp.Side,
		Type:         resp.OrderType,
		Price:        resp.Price,
		Qty:          resp.Qty,
		FillQty:      resp.FillQty,
		FillAvgPrice: resp.FillAvgPrice,
		Status:       resp.Status,
		ReduceOnly:   resp.ReduceOnly,
	}, nil
}

func (c *RESTClient) do(ctx context.Context, action, method, path string, query url.Values, body, out interface{}) (err error) {
	if c == nil || c.HTTPClient == nil || c.Signer == nil {
		return errors.New("rest client not initialized")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
	}
	start := time.Now()
	if c.Recorder != nil {
		c.Recorder.RecordRESTRequest(action)
		defer func() {
			c.Recorder.RecordRESTLatency(action, time.Since(start).Seconds())
			if err != nil {
				c.Recorder.RecordRESTError(action)
			}
		}()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode body: %w", action, err)
		}
	}
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", action, err)
	}
	req.Header = c.Signer.Headers(payload)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: action, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var ar apiResp
	if json.Unmarshal(raw, &ar) == nil && ar.Code != 0 {
		return &APIError{Op: action, StatusCode: resp.StatusCode, Code: ar.Code, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", action, err)
		}
	}
	return nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
