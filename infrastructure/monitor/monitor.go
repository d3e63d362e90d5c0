package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器（私有 registry，可多实例）。
type Monitor struct {
	registry *prometheus.Registry

	// 报价指标
	quotesPlaced   prometheus.Counter
	quotesCanceled *prometheus.CounterVec
	quotesFilled   prometheus.Counter
	quoteDiffBps   prometheus.Gauge
	indexPrice     prometheus.Gauge
	loopState      prometheus.Gauge

	// 平仓指标
	unwinds      *prometheus.CounterVec
	unwindPolls  prometheus.Histogram
	unwindErrors prometheus.Counter

	// 退避指标
	backoffSeconds prometheus.Gauge
	cooldowns      prometheus.Counter

	// 系统指标
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
	wsReconnects prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "quoter",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}

	return &Monitor{
		registry: reg,

		quotesPlaced: counter("quotes_placed_total", "报价挂单总数"),
		quotesCanceled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "quotes_canceled_total", Help: "报价撤单总数（按原因）",
		}, []string{"reason"}),
		quotesFilled: counter("quotes_filled_total", "报价成交总数"),
		quoteDiffBps: gauge("quote_diff_bps", "报价相对指数价偏离（基点）"),
		indexPrice:   gauge("index_price", "最新指数价"),
		loopState:    gauge("loop_state", "报价循环状态(0=无挂单,1=挂单中,2=平仓中)"),

		unwinds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "unwinds_total", Help: "平仓次数（按结果）",
		}, []string{"outcome"}),
		unwindPolls: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "unwind_maker_polls", Help: "maker 平仓轮询次数分布",
			Buckets: []float64{1, 5, 10, 30, 60, 90, 120},
		}),
		unwindErrors: counter("unwind_errors_total", "平仓失败次数"),

		backoffSeconds: gauge("cancel_backoff_seconds", "最近一次撤单退避时长（秒）"),
		cooldowns:      counter("cooldowns_total", "平仓后冷却次数"),

		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "rest_requests_total", Help: "REST请求总数",
		}, []string{"action"}),
		restErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "rest_errors_total", Help: "REST错误总数",
		}, []string{"action"}),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "rest_latency_seconds", Help: "REST请求延迟（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		wsReconnects: counter("ws_reconnects_total", "WebSocket重连次数"),
	}
}

// 报价相关方法
func (m *Monitor) RecordQuotePlaced() { m.quotesPlaced.Inc() }

func (m *Monitor) RecordQuoteCanceled(reason string) {
	m.quotesCanceled.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordQuoteFilled() { m.quotesFilled.Inc() }

func (m *Monitor) UpdateQuoteDiffBps(v float64) { m.quoteDiffBps.Set(v) }

func (m *Monitor) UpdateIndexPrice(v float64) { m.indexPrice.Set(v) }

func (m *Monitor) UpdateLoopState(state int) { m.loopState.Set(float64(state)) }

// 平仓相关方法
func (m *Monitor) RecordUnwind(outcome string, makerPolls int) {
	m.unwinds.WithLabelValues(outcome).Inc()
	m.unwindPolls.Observe(float64(makerPolls))
}

func (m *Monitor) RecordUnwindError() { m.unwindErrors.Inc() }

// 退避相关方法
func (m *Monitor) UpdateBackoff(seconds float64) { m.backoffSeconds.Set(seconds) }

func (m *Monitor) RecordCooldown() { m.cooldowns.Inc() }

// 系统相关方法
func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

func (m *Monitor) RecordWSReconnect() { m.wsReconnects.Inc() }

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
