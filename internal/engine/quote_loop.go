package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"standx-maker-go/infrastructure/logger"
	"standx-maker-go/order"
	"standx-maker-go/risk"
)

// Config 报价循环配置，构造后不可变。
type Config struct {
	Symbol       string
	Side         order.Side
	Notional     decimal.Decimal // 每次报价的名义价值
	OffsetBps    float64
	MinBps       float64 // diff_bps <= MinBps 撤单重报
	MaxBps       float64 // diff_bps >= MaxBps 撤单重报
	Constraints  order.SymbolConstraints
	MarginMode   order.MarginMode
	TimeInForce  order.TimeInForce
	PollInterval time.Duration // 每轮之间的间隔
	Cooldown     time.Duration // 平仓完成后暂停报价的时长
	// CancelTimeout 退出时撤销残留报价的超时
	CancelTimeout time.Duration
}

// Metrics 报价循环上报的指标；infrastructure/monitor.Monitor 实现了该接口。
type Metrics interface {
	RecordQuotePlaced()
	RecordQuoteCanceled(reason string)
	RecordQuoteFilled()
	UpdateQuoteDiffBps(v float64)
	UpdateIndexPrice(v float64)
	UpdateLoopState(state int)
	RecordUnwind(outcome string, makerPolls int)
	RecordUnwindError()
	UpdateBackoff(seconds float64)
	RecordCooldown()
}

// Alerter 告警出口；infrastructure/alert.Manager 实现了该接口。
type Alerter interface {
	SendInfo(message string, fields map[string]interface{}) error
	SendWarning(message string, fields map[string]interface{}) error
	SendCritical(message string, fields map[string]interface{}) error
}

// Components 报价循环依赖组件
type Components struct {
	Exchange order.Exchange
	Unwinder *Unwinder
	Backoff  *risk.CancelBackoff
	// Pause 冷却/退避截止时间，重载后的新循环共享同一个实例
	Pause   *risk.QuotePause
	Clock   risk.Clock
	Logger  *logger.Logger
	Metrics Metrics
	Alerts  Alerter
	// NewClOrdID 为空时使用 uuid
	NewClOrdID func() string
}

// Quote 当前唯一的挂单
type Quote struct {
	ClOrdID string
	Side    order.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Status  order.Status
	FillQty decimal.Decimal

	// pending 下单请求已发出但尚未确认
	pending bool
}

// 撤单原因，用于日志和指标标签。
const (
	reasonBand     = "band"
	reasonExternal = "external"
	reasonShutdown = "shutdown"
)

// QuoteLoop 维护单个交易对上至多一个报价：挂单、偏离区间时撤单重报、成交后平仓。
type QuoteLoop struct {
	cfg      Config
	ex       order.Exchange
	unwinder *Unwinder
	backoff  *risk.CancelBackoff
	pause    *risk.QuotePause
	clock    risk.Clock
	logger   *logger.Logger
	metrics  Metrics
	alerts   Alerter
	newID    func() string
	sm       *order.StateMachine

	mu    sync.RWMutex
	state LoopState
	quote *Quote
}

// New 创建报价循环
func New(cfg Config, comps Components) (*QuoteLoop, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(comps); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = order.MarginCross
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = order.TIFGoodTillCancel
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 10 * time.Second
	}
	l := &QuoteLoop{
		cfg:      cfg,
		ex:       comps.Exchange,
		unwinder: comps.Unwinder,
		backoff:  comps.Backoff,
		pause:    comps.Pause,
		clock:    comps.Clock,
		logger:   comps.Logger,
		metrics:  comps.Metrics,
		alerts:   comps.Alerts,
		newID:    comps.NewClOrdID,
		sm:       order.NewStateMachine(),
		state:    StateNoQuote,
	}
	if l.clock == nil {
		l.clock = risk.SystemClock
	}
	if l.logger == nil {
		l.logger = logger.NewNop()
	}
	if l.metrics == nil {
		l.metrics = nopMetrics{}
	}
	if l.alerts == nil {
		l.alerts = nopAlerter{}
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	if l.backoff == nil {
		l.backoff = risk.NewCancelBackoff(risk.DefaultBackoffConfig(), l.clock)
	}
	if l.pause == nil {
		l.pause = risk.NewQuotePause()
	}
	return l, nil
}

func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.Side != order.SideBuy && cfg.Side != order.SideSell {
		return fmt.Errorf("side must be buy or sell, got %q", cfg.Side)
	}
	if !cfg.Notional.IsPositive() {
		return errors.New("notional must be > 0")
	}
	if cfg.MinBps < 0 || cfg.MinBps >= cfg.OffsetBps || cfg.OffsetBps >= cfg.MaxBps {
		return fmt.Errorf("bps must satisfy 0 <= min < offset < max, got %v/%v/%v", cfg.MinBps, cfg.OffsetBps, cfg.MaxBps)
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if cfg.Cooldown < 0 {
		return errors.New("cooldown must be >= 0")
	}
	return nil
}

func validateComponents(c Components) error {
	if c.Exchange == nil {
		return errors.New("exchange is required")
	}
	if c.Unwinder == nil {
		return errors.New("unwinder is required")
	}
	return nil
}

// State 当前循环状态
func (l *QuoteLoop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// CurrentQuote 返回当前报价的副本
func (l *QuoteLoop) CurrentQuote() (Quote, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.quote == nil {
		return Quote{}, false
	}
	return *l.quote, true
}

// Run 持续执行 Step 直到 ctx 取消或出现错误；退出前撤销残留报价。
// 因 ctx 取消而中断时返回 ctx.Err()，其他错误原样返回。
func (l *QuoteLoop) Run(ctx context.Context) (err error) {
	l.logger.Info("Quote loop starting",
		zap.String("symbol", l.cfg.Symbol),
		zap.String("side", string(l.cfg.Side)),
		zap.String("notional", l.cfg.Notional.String()),
		zap.Float64("bps", l.cfg.OffsetBps),
		zap.Float64("min_bps", l.cfg.MinBps),
		zap.Float64("max_bps", l.cfg.MaxBps),
		zap.Duration("poll_interval", l.cfg.PollInterval),
		zap.Duration("cooldown", l.cfg.Cooldown))
	defer func() {
		if ferr := l.finalize(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		}
		l.logger.Info("Quote loop stopped", zap.Error(err))
	}()

	for {
		if err := l.Step(ctx); err != nil {
			if ctx.Err() != nil && isContextErr(err) {
				return ctx.Err()
			}
			return err
		}
		if err := sleepCtx(ctx, l.clock, l.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Step 执行一轮：无报价则挂单，否则检查报价状态。
func (l *QuoteLoop) Step(ctx context.Context) error {
	l.mu.RLock()
	q := l.quote
	l.mu.RUnlock()
	if q == nil {
		return l.placeQuote(ctx)
	}
	return l.checkQuote(ctx, *q)
}

func (l *QuoteLoop) placeQuote(ctx context.Context) error {
	if d := l.pause.Remaining(l.clock.Now()); d > 0 {
		l.logger.LogRisk("quote_resume_wait", map[string]interface{}{"sleep_ms": d.Milliseconds()})
		if err := sleepCtx(ctx, l.clock, d); err != nil {
			return err
		}
	}
	p, err := l.ex.GetPrice(ctx, l.cfg.Symbol)
	if err != nil {
		l.logger.LogError(err, map[string]interface{}{"op": "get_price", "symbol": l.cfg.Symbol})
		return fmt.Errorf("get price: %w", err)
	}
	l.metrics.UpdateIndexPrice(p.IndexPrice.InexactFloat64())

	price := order.QuotePrice(p.IndexPrice, l.cfg.Side, l.cfg.OffsetBps, l.cfg.Constraints)
	qty := order.QuoteQty(l.cfg.Notional, price, l.cfg.Constraints)
	if err := l.cfg.Constraints.Validate(price, qty); err != nil {
		return fmt.Errorf("quote %s %s@%s rejected locally: %w", l.cfg.Side, qty, price, err)
	}

	id := l.newID()
	fields := map[string]interface{}{
		"symbol":      l.cfg.Symbol,
		"side":        string(l.cfg.Side),
		"price":       price.String(),
		"qty":         qty.String(),
		"index_price": p.IndexPrice.String(),
	}
	l.logger.LogOrder("quote_place", id, fields)
	// 先登记再提交：提交中途退出时 finalize 仍会撤这张单
	l.mu.Lock()
	l.quote = &Quote{ClOrdID: id, Side: l.cfg.Side, Price: price, Qty: qty, Status: order.StatusNew, FillQty: decimal.Zero, pending: true}
	l.mu.Unlock()
	_, err = l.ex.CreateOrder(ctx, order.Request{
		ClOrdID:        id,
		Symbol:         l.cfg.Symbol,
		Side:           l.cfg.Side,
		Type:           order.TypeLimit,
		Price:          price,
		Qty:            qty,
		TimeInForce:    l.cfg.TimeInForce,
		MarginMode:     l.cfg.MarginMode,
		PricePrecision: l.cfg.Constraints.PricePrecision,
		QtyPrecision:   l.cfg.Constraints.QtyPrecision,
	})
	if err != nil {
		l.logError(err, "create_order", id, price, qty)
		if ctx.Err() == nil {
			l.clearQuote()
		}
		return fmt.Errorf("place quote %s %s@%s: %w", l.cfg.Side, qty, price, err)
	}

	l.mu.Lock()
	l.quote.pending = false
	l.mu.Unlock()
	l.setState(StateQuoteResting)
	l.metrics.RecordQuotePlaced()
	return nil
}

func (l *QuoteLoop) checkQuote(ctx context.Context, q Quote) error {
	p, err := l.ex.GetPrice(ctx, l.cfg.Symbol)
	if err != nil {
		l.logError(err, "get_price", q.ClOrdID, q.Price, q.Qty)
		return fmt.Errorf("get price: %w", err)
	}
	o, err := l.ex.QueryOrder(ctx, q.ClOrdID)
	if err != nil {
		l.logError(err, "query_order", q.ClOrdID, q.Price, q.Qty)
		return fmt.Errorf("query quote %s: %w", q.ClOrdID, err)
	}

	diff := order.DiffBps(p.IndexPrice, q.Price)
	l.metrics.UpdateIndexPrice(p.IndexPrice.InexactFloat64())
	l.metrics.UpdateQuoteDiffBps(diff)
	l.observe(q, o, p.IndexPrice, diff)
	q.Status = o.Status
	if o.FillQty.GreaterThan(q.FillQty) {
		q.FillQty = o.FillQty
	}

	switch o.Status {
	case order.StatusFilled:
		// 成交优先于区间检查：已成交的单无法撤销
		qty := q.Qty
		if o.FillQty.IsPositive() {
			qty = o.FillQty
		}
		return l.unwindFill(ctx, q, qty, true)
	case order.StatusCanceled, order.StatusRejected, order.StatusExpired:
		l.logger.LogOrder("quote_cancel", q.ClOrdID, map[string]interface{}{
			"reason": reasonExternal,
			"status": string(o.Status),
		})
		l.metrics.RecordQuoteCanceled(reasonExternal)
		if q.FillQty.IsPositive() {
			if err := l.unwindFill(ctx, q, q.FillQty, false); err != nil {
				return err
			}
		} else {
			l.clearQuote()
		}
		return l.pauseAfterCancel(ctx)
	}

	if diff > l.cfg.MinBps && diff < l.cfg.MaxBps {
		return nil
	}
	return l.cancelQuote(ctx, q, diff)
}

// observe 记录状态变化；交易所回报非法推进只告警不中断。
func (l *QuoteLoop) observe(q Quote, o order.Order, index decimal.Decimal, diff float64) {
	if o.Status == q.Status {
		return
	}
	if err := l.sm.ValidateTransition(q.Status, o.Status); err != nil {
		l.logger.Warn("Unexpected quote status transition",
			zap.String("cl_ord_id", q.ClOrdID),
			zap.Error(err))
	}
	l.mu.Lock()
	if l.quote != nil && l.quote.ClOrdID == q.ClOrdID {
		l.quote.Status = o.Status
		if o.FillQty.GreaterThan(l.quote.FillQty) {
			l.quote.FillQty = o.FillQty
		}
	}
	l.mu.Unlock()
	l.logger.LogOrder("quote_status", q.ClOrdID, map[string]interface{}{
		"status":      string(o.Status),
		"index_price": index.String(),
		"price":       q.Price.String(),
		"diff_bps":    diff,
		"qty":         q.Qty.String(),
		"fill_qty":    o.FillQty.String(),
	})
}

// cancelQuote 撤单后确认最终成交量：撤单失败可能是因为刚好成交，部分成交的数量也需要平掉。
func (l *QuoteLoop) cancelQuote(ctx context.Context, q Quote, diff float64) error {
	l.logger.LogOrder("quote_cancel", q.ClOrdID, map[string]interface{}{
		"reason":   reasonBand,
		"diff_bps": diff,
		"price":    q.Price.String(),
		"qty":      q.Qty.String(),
	})
	cancelErr := l.ex.CancelOrder(ctx, q.ClOrdID)
	if cancelErr != nil {
		l.logError(cancelErr, "cancel_order", q.ClOrdID, q.Price, q.Qty)
	}

	filled := q.FillQty
	fullyFilled := false
	if cancelErr != nil || q.Status == order.StatusPartial || q.FillQty.IsPositive() {
		o, err := l.ex.QueryOrder(ctx, q.ClOrdID)
		switch {
		case err != nil && cancelErr != nil:
			return fmt.Errorf("cancel quote %s: %w", q.ClOrdID, errors.Join(cancelErr, err))
		case err != nil:
			// 沿用最后一次观察到的成交量
			l.logError(err, "query_order", q.ClOrdID, q.Price, q.Qty)
		default:
			if cancelErr != nil && !l.sm.IsFinalState(o.Status) {
				return fmt.Errorf("cancel quote %s: %w", q.ClOrdID, cancelErr)
			}
			if o.FillQty.GreaterThan(filled) {
				filled = o.FillQty
			}
			if o.Status == order.StatusFilled {
				fullyFilled = true
				if !filled.IsPositive() {
					filled = q.Qty
				}
			}
		}
	}

	if fullyFilled {
		return l.unwindFill(ctx, q, filled, true)
	}
	l.metrics.RecordQuoteCanceled(reasonBand)
	if filled.IsPositive() {
		if err := l.unwindFill(ctx, q, filled, false); err != nil {
			return err
		}
	} else {
		l.clearQuote()
	}
	return l.pauseAfterCancel(ctx)
}

// unwindFill 平掉报价成交产生的仓位。完全成交后进入冷却。
// 平仓使用不可取消的 context，关停或重载不会打断平仓。
func (l *QuoteLoop) unwindFill(ctx context.Context, q Quote, qty decimal.Decimal, full bool) error {
	l.setState(StateUnwinding)
	if full {
		l.metrics.RecordQuoteFilled()
	}
	pos := Position{
		Symbol:     l.cfg.Symbol,
		Side:       q.Side.Opposite(),
		Qty:        qty,
		EntryPrice: q.Price,
	}
	res, err := l.unwinder.Unwind(context.WithoutCancel(ctx), pos)
	if res.Outcome != "" {
		l.metrics.RecordUnwind(string(res.Outcome), res.MakerPolls)
	}
	l.clearQuote()
	if err != nil {
		l.metrics.RecordUnwindError()
		l.logger.LogError(err, map[string]interface{}{
			"op":        "unwind",
			"symbol":    pos.Symbol,
			"side":      string(pos.Side),
			"price":     pos.EntryPrice.String(),
			"qty":       pos.Qty.String(),
			"cl_ord_id": q.ClOrdID,
			"outcome":   string(res.Outcome),
		})
		l.alert(l.alerts.SendCritical, "unwind failed", map[string]interface{}{
			"symbol":    pos.Symbol,
			"side":      string(pos.Side),
			"qty":       pos.Qty.String(),
			"cl_ord_id": q.ClOrdID,
			"error":     err.Error(),
		})
		return fmt.Errorf("unwind quote %s: %w", q.ClOrdID, err)
	}
	if res.Outcome == OutcomeTakerAfterTimeout {
		l.alert(l.alerts.SendWarning, "unwind fell back to taker", map[string]interface{}{
			"symbol":    pos.Symbol,
			"side":      string(pos.Side),
			"qty":       pos.Qty.String(),
			"cl_ord_id": q.ClOrdID,
		})
	}
	if !full {
		return nil
	}
	l.alert(l.alerts.SendInfo, "quote filled and unwound", map[string]interface{}{
		"symbol":      pos.Symbol,
		"qty":         pos.Qty.String(),
		"cl_ord_id":   q.ClOrdID,
		"outcome":     string(res.Outcome),
		"cooldown_ms": l.cfg.Cooldown.Milliseconds(),
	})
	l.metrics.RecordCooldown()
	l.logger.LogRisk("cooldown", map[string]interface{}{
		"sleep_ms": l.cfg.Cooldown.Milliseconds(),
		"outcome":  string(res.Outcome),
	})
	return l.hold(ctx, l.cfg.Cooldown)
}

// pauseAfterCancel 撤单后按退避计数暂停，密集撤单时逐步放慢。
func (l *QuoteLoop) pauseAfterCancel(ctx context.Context) error {
	d := l.backoff.NextSleep()
	l.metrics.UpdateBackoff(d.Seconds())
	l.logger.LogRisk("cancel_backoff", map[string]interface{}{
		"sleep_ms": d.Milliseconds(),
		"pending":  l.backoff.Pending(),
	})
	return l.hold(ctx, d)
}

// hold 登记暂停截止时间后等待。被中断时截止时间仍然有效，下一次挂单前补足。
func (l *QuoteLoop) hold(ctx context.Context, d time.Duration) error {
	l.pause.Hold(l.clock.Now().Add(d))
	return sleepCtx(ctx, l.clock, d)
}

// finalize 退出时撤销残留报价；ctx 已取消时使用新的带超时 context。
// 撤单后再查一次：撤单前的成交（包括撤单失败时已完全成交）需要平掉。
func (l *QuoteLoop) finalize(ctx context.Context) error {
	l.mu.RLock()
	q := l.quote
	l.mu.RUnlock()
	if q == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CancelTimeout)
	defer cancel()

	l.logger.LogOrder("quote_cancel", q.ClOrdID, map[string]interface{}{
		"reason": reasonShutdown,
		"price":  q.Price.String(),
		"qty":    q.Qty.String(),
	})
	cancelErr := l.ex.CancelOrder(cctx, q.ClOrdID)
	if cancelErr != nil {
		l.logError(cancelErr, "cancel_order", q.ClOrdID, q.Price, q.Qty)
	} else {
		l.metrics.RecordQuoteCanceled(reasonShutdown)
	}

	filled := q.FillQty
	o, err := l.ex.QueryOrder(cctx, q.ClOrdID)
	switch {
	case err != nil && cancelErr != nil:
		if q.pending {
			// 下单未确认且交易所查不到，视为未送达
			l.logger.Warn("Unconfirmed quote not found on exit", zap.String("cl_ord_id", q.ClOrdID))
			l.clearQuote()
			return nil
		}
		return fmt.Errorf("cancel quote %s on exit: %w", q.ClOrdID, errors.Join(cancelErr, err))
	case err != nil:
		// 沿用最后一次观察到的成交量
		l.logError(err, "query_order", q.ClOrdID, q.Price, q.Qty)
	case cancelErr != nil && !l.sm.IsFinalState(o.Status):
		return fmt.Errorf("cancel quote %s on exit: %w", q.ClOrdID, cancelErr)
	default:
		if q.pending {
			l.setState(StateQuoteResting)
		}
		if o.FillQty.GreaterThan(filled) {
			filled = o.FillQty
		}
		if o.Status == order.StatusFilled && !filled.IsPositive() {
			filled = q.Qty
		}
	}
	if !filled.IsPositive() {
		l.clearQuote()
		return nil
	}
	return l.unwindFill(cctx, *q, filled, false)
}

func (l *QuoteLoop) clearQuote() {
	l.mu.Lock()
	l.quote = nil
	l.mu.Unlock()
	l.setState(StateNoQuote)
}

func (l *QuoteLoop) setState(next LoopState) {
	l.mu.Lock()
	prev := l.state
	if err := validateLoopTransition(prev, next); err != nil {
		l.mu.Unlock()
		l.logger.Error("Loop state transition rejected", zap.Error(err))
		return
	}
	l.state = next
	l.mu.Unlock()
	l.metrics.UpdateLoopState(int(next))
	if prev != next {
		l.logger.Debug("Loop state changed",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
}

func (l *QuoteLoop) logError(err error, op, clOrdID string, price, qty decimal.Decimal) {
	l.logger.LogError(err, map[string]interface{}{
		"op":        op,
		"symbol":    l.cfg.Symbol,
		"side":      string(l.cfg.Side),
		"price":     price.String(),
		"qty":       qty.String(),
		"cl_ord_id": clOrdID,
	})
}

func (l *QuoteLoop) alert(send func(string, map[string]interface{}) error, msg string, fields map[string]interface{}) {
	if err := send(msg, fields); err != nil {
		l.logger.Warn("Alert delivery failed", zap.String("alert", msg), zap.Error(err))
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type nopAlerter struct{}

func (nopAlerter) SendInfo(string, map[string]interface{}) error     { return nil }
func (nopAlerter) SendWarning(string, map[string]interface{}) error  { return nil }
func (nopAlerter) SendCritical(string, map[string]interface{}) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordQuotePlaced()         {}
func (nopMetrics) RecordQuoteCanceled(string) {}
func (nopMetrics) RecordQuoteFilled()         {}
func (nopMetrics) UpdateQuoteDiffBps(float64) {}
func (nopMetrics) UpdateIndexPrice(float64)   {}
func (nopMetrics) UpdateLoopState(int)        {}
func (nopMetrics) RecordUnwind(string, int)   {}
func (nopMetrics) RecordUnwindError()         {}
func (nopMetrics) UpdateBackoff(float64)      {}
func (nopMetrics) RecordCooldown()            {}
