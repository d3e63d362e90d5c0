package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"standx-maker-go/order"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After 立即推进时间并返回，测试不真正等待。
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeExchange 按脚本返回价格和订单状态，并记录所有调用。
type fakeExchange struct {
	mu sync.Mutex

	price  func(n int) (decimal.Decimal, error)
	create func(req order.Request) error
	cancel func(id string) error
	query  func(req order.Request, n int) (order.Order, error)

	priceCalls int
	requests   []order.Request
	byID       map[string]order.Request
	cancels    []string
	queryCalls map[string]int

	// 未平的非 reduce-only 报价，用来检查“同时至多一个报价”
	openQuotes map[string]bool
	violations int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		byID:       make(map[string]order.Request),
		queryCalls: make(map[string]int),
		openQuotes: make(map[string]bool),
	}
}

func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (order.Price, error) {
	if err := ctx.Err(); err != nil {
		return order.Price{}, err
	}
	f.mu.Lock()
	f.priceCalls++
	n := f.priceCalls
	fn := f.price
	f.mu.Unlock()
	px := decimal.NewFromInt(100)
	if fn != nil {
		var err error
		if px, err = fn(n); err != nil {
			return order.Price{}, err
		}
	}
	return order.Price{Symbol: symbol, IndexPrice: px, MarkPrice: px, Time: time.Now()}, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req order.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	fn := f.create
	f.mu.Unlock()
	if fn != nil {
		if err := fn(req); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !req.ReduceOnly {
		if len(f.openQuotes) > 0 {
			f.violations++
		}
		f.openQuotes[req.ClOrdID] = true
	}
	f.requests = append(f.requests, req)
	f.byID[req.ClOrdID] = req
	return req.ClOrdID, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.cancels = append(f.cancels, id)
	fn := f.cancel
	f.mu.Unlock()
	if fn != nil {
		if err := fn(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	delete(f.openQuotes, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeExchange) QueryOrder(ctx context.Context, id string) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	f.mu.Lock()
	req, ok := f.byID[id]
	f.queryCalls[id]++
	n := f.queryCalls[id]
	fn := f.query
	f.mu.Unlock()
	if !ok {
		return order.Order{}, fmt.Errorf("order %s not found", id)
	}
	o := order.Order{
		ClOrdID: id, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Price: req.Price, Qty: req.Qty, Status: order.StatusOpen, ReduceOnly: req.ReduceOnly,
	}
	if fn != nil {
		var err error
		if o, err = fn(req, n); err != nil {
			return order.Order{}, err
		}
	}
	switch o.Status {
	case order.StatusFilled, order.StatusCanceled, order.StatusRejected, order.StatusExpired:
		f.mu.Lock()
		delete(f.openQuotes, id)
		f.mu.Unlock()
	}
	return o, nil
}

func (f *fakeExchange) Requests() []order.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.Request(nil), f.requests...)
}

func (f *fakeExchange) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

func (f *fakeExchange) filter(match func(order.Request) bool) []order.Request {
	var out []order.Request
	for _, r := range f.Requests() {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeExchange) Quotes() []order.Request {
	return f.filter(func(r order.Request) bool { return !r.ReduceOnly })
}

func (f *fakeExchange) Unwinds(t order.OrderType) []order.Request {
	return f.filter(func(r order.Request) bool { return r.ReduceOnly && r.Type == t })
}

// withStatus 以请求为模板构造订单回报。
func withStatus(req order.Request, status order.Status, fill decimal.Decimal) order.Order {
	return order.Order{
		ClOrdID: req.ClOrdID, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Price: req.Price, Qty: req.Qty, FillQty: fill, Status: status, ReduceOnly: req.ReduceOnly,
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	placed   int
	canceled map[string]int
	filled   int
	unwinds  map[string]int
	errors   int
	cooldown int
	backoff  []float64
	states   []int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{canceled: map[string]int{}, unwinds: map[string]int{}}
}

func (m *recordingMetrics) RecordQuotePlaced() { m.mu.Lock(); m.placed++; m.mu.Unlock() }
func (m *recordingMetrics) RecordQuoteCanceled(r string) {
	m.mu.Lock()
	m.canceled[r]++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordQuoteFilled()         { m.mu.Lock(); m.filled++; m.mu.Unlock() }
func (m *recordingMetrics) UpdateQuoteDiffBps(float64) {}
func (m *recordingMetrics) UpdateIndexPrice(float64)   {}
func (m *recordingMetrics) UpdateLoopState(s int) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordUnwind(outcome string, _ int) {
	m.mu.Lock()
	m.unwinds[outcome]++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordUnwindError() { m.mu.Lock(); m.errors++; m.mu.Unlock() }
func (m *recordingMetrics) UpdateBackoff(s float64) {
	m.mu.Lock()
	m.backoff = append(m.backoff, s)
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordCooldown() { m.mu.Lock(); m.cooldown++; m.mu.Unlock() }

type recordingAlerts struct {
	mu       sync.Mutex
	info     []string
	warnings []string
	critical []string
}

func (a *recordingAlerts) SendInfo(msg string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info = append(a.info, msg)
	return nil
}

func (a *recordingAlerts) SendWarning(msg string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, msg)
	return nil
}

func (a *recordingAlerts) SendCritical(msg string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.critical = append(a.critical, msg)
	return nil
}
