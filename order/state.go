package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Status 对应交易所返回的订单状态。
type Status string

const (
	StatusNew         Status = "new"
	StatusOpen        Status = "open"
	StatusPartial     Status = "partially_filled"
	StatusFilled      Status = "filled"
	StatusCanceled    Status = "canceled"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
	StatusUntriggered Status = "untriggered"
)

// Side 下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析配置中的方向，大小写不敏感。
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Opposite 返回反方向（平仓方向）。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型。
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// TimeInForce 订单有效方式。
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "gtc"
	TIFImmediateOrCancel TimeInForce = "ioc"
	TIFAddLiquidityOnly  TimeInForce = "alo"
)

// MarginMode 保证金模式。
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Request 描述一次下单请求。ClOrdID 为空时由网关生成。
// 价格和数量按 PricePrecision/QtyPrecision 固定小数位上报。
type Request struct {
	ClOrdID        string
	Symbol         string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal // 仅 limit 有效
	Qty            decimal.Decimal
	ReduceOnly     bool
	TimeInForce    TimeInForce
	MarginMode     MarginMode
	PricePrecision int32
	QtyPrecision   int32
}

// PriceText 固定小数位的价格，例如 "100.20"。
func (r Request) PriceText() string { return r.Price.StringFixed(r.PricePrecision) }

// QtyText 固定小数位的数量，例如 "499.0020"。
func (r Request) QtyText() string { return r.Qty.StringFixed(r.QtyPrecision) }

// Order 查询订单返回的快照。
type Order struct {
	ClOrdID      string
	Symbol       string
	Side         Side
	Type         OrderType
	Price        decimal.Decimal
	Qty          decimal.Decimal
	FillQty      decimal.Decimal
	FillAvgPrice decimal.Decimal
	Status       Status
	ReduceOnly   bool
}
