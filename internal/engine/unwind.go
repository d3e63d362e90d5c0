package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standx-maker-go/infrastructure/logger"
	"standx-maker-go/order"
	"standx-maker-go/risk"
)

// Outcome 平仓结果分支
type Outcome string

const (
	// OutcomeMakerFilled 被动限价单成交
	OutcomeMakerFilled Outcome = "maker_filled"
	// OutcomeTakerAfterTimeout 限价单超时未成交，已用市价单平仓
	OutcomeTakerAfterTimeout Outcome = "taker_after_timeout"
	// OutcomeTakerAfterError 限价单路径出错，已尝试市价单平仓
	OutcomeTakerAfterError Outcome = "taker_after_error"
)

// Position 待平仓位。Side 是平仓方向，与报价方向相反。
type Position struct {
	Symbol     string
	Side       order.Side
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
}

// UnwindConfig 平仓参数
type UnwindConfig struct {
	PollInterval time.Duration // 限价单轮询间隔
	MaxAttempts  int           // 最大轮询次数，按次数而不是墙钟计时
	MarginMode   order.MarginMode
	TimeInForce  order.TimeInForce // 限价单的 TIF；市价单固定 gtc
	// 下单时价格/数量的小数位
	PricePrecision int32
	QtyPrecision   int32
}

// DefaultUnwindConfig 1s × 120 次
func DefaultUnwindConfig() UnwindConfig {
	return UnwindConfig{
		PollInterval: time.Second,
		MaxAttempts:  120,
		MarginMode:   order.MarginCross,
		TimeInForce:  order.TIFGoodTillCancel,
	}
}

// UnwindResult 描述平仓走了哪条分支。
type UnwindResult struct {
	Outcome      Outcome
	MakerClOrdID string
	TakerClOrdID string
	MakerPolls   int
}

// Unwinder 先以开仓价挂 reduce-only 限价单，超时或出错再用 reduce-only 市价单兜底。
type Unwinder struct {
	cfg    UnwindConfig
	ex     order.Exchange
	clock  risk.Clock
	logger *logger.Logger
	newID  func() string
}

// NewUnwinder 创建平仓器；clock/logger 为 nil 时使用系统时钟和空 logger。
func NewUnwinder(cfg UnwindConfig, ex order.Exchange, clock risk.Clock, lg *logger.Logger) (*Unwinder, error) {
	if ex == nil {
		return nil, errors.New("exchange is required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be > 0, got %d", cfg.MaxAttempts)
	}
	if cfg.PollInterval < 0 {
		return nil, fmt.Errorf("poll interval must be >= 0, got %s", cfg.PollInterval)
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = order.MarginCross
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = order.TIFGoodTillCancel
	}
	if clock == nil {
		clock = risk.SystemClock
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Unwinder{cfg: cfg, ex: ex, clock: clock, logger: lg, newID: uuid.NewString}, nil
}

// Unwind 把仓位平掉。返回前一定已经尝试过市价单，除非限价单已成交。
// 限价单路径出错时返回的 error 包含原始错误（以及市价单的错误，若有）。
func (u *Unwinder) Unwind(ctx context.Context, pos Position) (UnwindResult, error) {
	var res UnwindResult
	if !pos.Qty.IsPositive() {
		return res, fmt.Errorf("unwind qty must be > 0, got %s", pos.Qty)
	}
	if pos.Side != order.SideBuy && pos.Side != order.SideSell {
		return res, fmt.Errorf("unwind side invalid: %q", pos.Side)
	}

	makerID := u.newID()
	u.logger.LogUnwind("unwind_maker_place", map[string]interface{}{
		"cl_ord_id": makerID,
		"symbol":    pos.Symbol,
		"side":      string(pos.Side),
		"price":     pos.EntryPrice.String(),
		"qty":       pos.Qty.String(),
	})
	_, err := u.ex.CreateOrder(ctx, order.Request{
		ClOrdID:        makerID,
		Symbol:         pos.Symbol,
		Side:           pos.Side,
		Type:           order.TypeLimit,
		Price:          pos.EntryPrice,
		Qty:            pos.Qty,
		ReduceOnly:     true,
		TimeInForce:    u.cfg.TimeInForce,
		MarginMode:     u.cfg.MarginMode,
		PricePrecision: u.cfg.PricePrecision,
		QtyPrecision:   u.cfg.QtyPrecision,
	})
	if err != nil {
		return u.taker(ctx, pos, res, OutcomeTakerAfterError,
			fmt.Errorf("place maker unwind %s %s@%s: %w", pos.Side, pos.Qty, pos.EntryPrice, err))
	}
	res.MakerClOrdID = makerID

	filled, polls, err := u.waitMakerFill(ctx, makerID)
	res.MakerPolls = polls
	if err != nil {
		// 尽力撤掉限价单再吃单
		if cerr := u.ex.CancelOrder(ctx, makerID); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cancel maker unwind %s: %w", makerID, cerr))
		}
		return u.taker(ctx, pos, res, OutcomeTakerAfterError, err)
	}
	if filled {
		res.Outcome = OutcomeMakerFilled
		u.logger.LogUnwind("unwind_done", map[string]interface{}{
			"outcome":   string(res.Outcome),
			"cl_ord_id": makerID,
			"polls":     polls,
		})
		return res, nil
	}

	if err := u.ex.CancelOrder(ctx, makerID); err != nil {
		return u.taker(ctx, pos, res, OutcomeTakerAfterError,
			fmt.Errorf("cancel maker unwind %s after timeout: %w", makerID, err))
	}
	return u.taker(ctx, pos, res, OutcomeTakerAfterTimeout, nil)
}

// waitMakerFill 轮询限价单，最多 MaxAttempts 次。
func (u *Unwinder) waitMakerFill(ctx context.Context, clOrdID string) (bool, int, error) {
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		o, err := u.ex.QueryOrder(ctx, clOrdID)
		if err != nil {
			return false, attempt, fmt.Errorf("poll maker unwind %s (attempt %d): %w", clOrdID, attempt, err)
		}
		u.logger.LogUnwind("unwind_maker_poll", map[string]interface{}{
			"cl_ord_id": clOrdID,
			"attempt":   attempt,
			"status":    string(o.Status),
			"fill_qty":  o.FillQty.String(),
		})
		switch o.Status {
		case order.StatusFilled:
			return true, attempt, nil
		case order.StatusCanceled, order.StatusRejected, order.StatusExpired:
			return false, attempt, fmt.Errorf("maker unwind %s terminated: %s", clOrdID, o.Status)
		}
		if attempt == u.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, u.clock, u.cfg.PollInterval); err != nil {
			return false, attempt, err
		}
	}
	return false, u.cfg.MaxAttempts, nil
}

// taker 提交全量 reduce-only 市价单，不再轮询。cause 为 nil 表示超时分支。
func (u *Unwinder) taker(ctx context.Context, pos Position, res UnwindResult, outcome Outcome, cause error) (UnwindResult, error) {
	res.Outcome = outcome
	reason := "timeout"
	if cause != nil {
		reason = cause.Error()
		u.logger.LogError(cause, map[string]interface{}{
			"op":        "unwind_maker",
			"symbol":    pos.Symbol,
			"side":      string(pos.Side),
			"price":     pos.EntryPrice.String(),
			"qty":       pos.Qty.String(),
			"cl_ord_id": res.MakerClOrdID,
		})
	}

	takerID := u.newID()
	u.logger.LogUnwind("unwind_taker_place", map[string]interface{}{
		"cl_ord_id": takerID,
		"symbol":    pos.Symbol,
		"side":      string(pos.Side),
		"qty":       pos.Qty.String(),
		"reason":    reason,
	})
	_, err := u.ex.CreateOrder(ctx, order.Request{
		ClOrdID:      takerID,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Type:         order.TypeMarket,
		Qty:          pos.Qty,
		ReduceOnly:   true,
		TimeInForce:  order.TIFGoodTillCancel,
		MarginMode:   u.cfg.MarginMode,
		QtyPrecision: u.cfg.QtyPrecision,
	})
	if err != nil {
		terr := fmt.Errorf("place taker unwind %s %s: %w", pos.Side, pos.Qty, err)
		u.logger.LogError(terr, map[string]interface{}{
			"op":        "unwind_taker",
			"symbol":    pos.Symbol,
			"side":      string(pos.Side),
			"qty":       pos.Qty.String(),
			"cl_ord_id": takerID,
		})
		return res, errors.Join(cause, terr)
	}
	res.TakerClOrdID = takerID
	u.logger.LogUnwind("unwind_done", map[string]interface{}{
		"outcome":   string(res.Outcome),
		"cl_ord_id": takerID,
		"polls":     res.MakerPolls,
	})
	return res, cause
}

func sleepCtx(ctx context.Context, clock risk.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
