package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Price 交易所的参考价格。
type Price struct {
	Symbol     string
	IndexPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Time       time.Time
}

// Exchange 是报价循环所需的最小交易所接口。
// 任何非成功响应都视为该次调用失败，调用方不做部分解析。
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (Price, error)
	CreateOrder(ctx context.Context, req Request) (string, error)
	CancelOrder(ctx context.Context, clOrdID string) error
	QueryOrder(ctx context.Context, clOrdID string) (Order, error)
}
