package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"standx-maker-go/config"
	"standx-maker-go/gateway"
	"standx-maker-go/infrastructure/alert"
	"standx-maker-go/infrastructure/logger"
	"standx-maker-go/infrastructure/monitor"
	"standx-maker-go/internal/engine"
	"standx-maker-go/order"
	"standx-maker-go/risk"
)

// settleDelay 平仓完成后、冷却开始前额外等待的时间。
const settleDelay = time.Second

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alerts   *alert.Manager
	notifier *notifier

	// 交易所网关
	restClient *gateway.RESTClient
	prices     *gateway.PriceStream

	// 报价循环；配置重载时整体替换
	mu      sync.RWMutex
	loop    *engine.QuoteLoop
	backoff *risk.CancelBackoff
	pause   *risk.QuotePause // 冷却/退避跨重载保留
	clock   risk.Clock

	reloads chan config.AppConfig

	metrics   *httpServerComponent
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig 用已加载的配置创建容器，不监听配置文件。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		clock:     risk.SystemClock,
		pause:     risk.NewQuotePause(),
		reloads:   make(chan config.AppConfig, 1),
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	loop, err := c.buildLoop(c.cfg)
	if err != nil {
		return fmt.Errorf("build quote loop failed: %w", err)
	}
	c.loop = loop

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("symbol", c.cfg.Quote.Symbol),
		zap.String("side", c.cfg.Quote.Side))
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		lg, err := logger.New(logger.Config{
			Level:      c.cfg.Log.Level,
			Outputs:    c.cfg.Log.Outputs,
			OutputFile: c.cfg.Log.OutputFile,
			ErrorFile:  c.cfg.Log.ErrorFile,
			Format:     c.cfg.Log.Format,
		})
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = lg
	}
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = newAlertManager(c.cfg.Alert, c.logger)
	c.notifier = newNotifier(c.logger)
	return nil
}

func newAlertManager(cfg config.AlertConfig, lg *logger.Logger) *alert.Manager {
	channels := []alert.Channel{alert.NewLogChannel("log", lg)}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", cfg.WebhookURL, cfg.Timeout()))
	}
	return alert.NewManager(channels, cfg.Throttle())
}

// BuildExchange 只构建交易所客户端，供运维工具使用。
func (c *Container) BuildExchange() (order.Exchange, error) {
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.monitor == nil {
		c.monitor = monitor.New(monitor.DefaultConfig())
	}
	if err := c.buildGateway(); err != nil {
		return nil, err
	}
	return c.restClient, nil
}

func (c *Container) buildGateway() error {
	auth, err := resolveAuth(c.cfg.Gateway)
	if err != nil {
		return err
	}
	g := c.cfg.Gateway
	c.restClient = &gateway.RESTClient{
		BaseURL:    g.BaseURL,
		Signer:     gateway.NewSigner(auth),
		HTTPClient: &http.Client{Timeout: g.Timeout()},
		Limiter:    gateway.NewTokenBucketLimiter(g.RateLimit, g.RateBurst),
		Recorder:   c.monitor,
	}
	if g.WSURL != "" {
		c.prices = gateway.NewPriceStream(g.WSURL, c.cfg.Quote.Symbol)
		c.prices.OnReconnect = func(err error) {
			c.monitor.RecordWSReconnect()
			c.logger.Warn("price stream reconnecting", zap.Error(err))
		}
		c.restClient.Prices = c.prices
		c.restClient.PriceMaxAge = g.WSStale()
	}
	return nil
}

func resolveAuth(g config.GatewayConfig) (gateway.Auth, error) {
	if g.AuthFile != "" {
		return gateway.LoadAuthFile(g.AuthFile)
	}
	return gateway.NewAuth(g.AccessToken, g.SigningKey)
}

// buildLoop 由配置构造一个新的报价循环。退避计数跨重载保留，参数变化时才重建。
func (c *Container) buildLoop(cfg config.AppConfig) (*engine.QuoteLoop, error) {
	ecfg, ucfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	unwinder, err := engine.NewUnwinder(ucfg, c.restClient, c.clock, c.logger)
	if err != nil {
		return nil, err
	}
	bcfg := backoffConfig(cfg.Backoff)
	if c.backoff == nil || bcfg != backoffConfig(c.cfg.Backoff) {
		c.backoff = risk.NewCancelBackoff(bcfg, c.clock)
	}
	return engine.New(ecfg, engine.Components{
		Exchange: c.restClient,
		Unwinder: unwinder,
		Backoff:  c.backoff,
		Pause:    c.pause,
		Clock:    c.clock,
		Logger:   c.logger,
		Metrics:  c.monitor,
		Alerts:   c.alerts,
	})
}

func engineConfig(cfg config.AppConfig) (engine.Config, engine.UnwindConfig, error) {
	q := cfg.Quote
	side, err := order.ParseSide(q.Side)
	if err != nil {
		return engine.Config{}, engine.UnwindConfig{}, err
	}
	margin := order.MarginMode(q.MarginMode)
	tif := order.TimeInForce(q.TimeInForce)
	ecfg := engine.Config{
		Symbol:    q.Symbol,
		Side:      side,
		Notional:  decimal.NewFromFloat(q.Position),
		OffsetBps: q.Bps,
		MinBps:    q.MinBps,
		MaxBps:    q.MaxBps,
		Constraints: order.SymbolConstraints{
			PricePrecision: q.PricePrecision,
			QtyPrecision:   q.QtyPrecision,
			MinQty:         decimal.NewFromFloat(q.MinQty),
			MaxQty:         decimal.NewFromFloat(q.MaxQty),
			MinNotional:    decimal.NewFromFloat(q.MinNotional),
		},
		MarginMode:   margin,
		TimeInForce:  tif,
		PollInterval: q.PollInterval(),
		Cooldown:     q.Cooldown() + settleDelay,
	}
	ucfg := engine.UnwindConfig{
		PollInterval:   cfg.Unwind.PollInterval(),
		MaxAttempts:    cfg.Unwind.MaxAttempts,
		MarginMode:     margin,
		TimeInForce:    tif,
		PricePrecision: q.PricePrecision,
		QtyPrecision:   q.QtyPrecision,
	}
	return ecfg, ucfg, nil
}

func backoffConfig(b config.BackoffConfig) risk.BackoffConfig {
	return risk.BackoffConfig{Base: b.Base(), Step: b.Step(), Window: b.Window(), Max: b.Max()}
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metrics)
	}
	if c.prices != nil {
		c.lifecycle.Register(&priceStreamComponent{
			stream: c.prices,
			stale:  c.cfg.Gateway.WSStale(),
			logger: c.logger,
		})
	}
	c.lifecycle.Register(&watchdogComponent{
		notifier: c.notifier,
		health:   c.lifecycle.CheckHealth,
	})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	if c.cfg.Reload.Enabled && c.configPath != "" {
		w := config.Watcher{
			Path:     c.configPath,
			Cooldown: c.cfg.Reload.Cooldown(),
			OnError: func(err error) {
				c.logger.LogError(err, map[string]interface{}{"action": "reload", "path": c.configPath})
			},
		}
		go func() {
			if err := w.Start(ctx, c.Reload); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.LogError(err, map[string]interface{}{"action": "watch_config"})
			}
		}()
	}

	c.logger.Info("container started")
	return nil
}

// Reload 提交新配置，报价循环会在撤掉当前报价后以新配置重启。只保留最新一份。
func (c *Container) Reload(cfg config.AppConfig) {
	for {
		select {
		case c.reloads <- cfg:
			return
		default:
		}
		select {
		case <-c.reloads:
		default:
		}
	}
}

// Run 运行报价循环直到 ctx 取消或循环出错。ctx 取消视为正常退出。
func (c *Container) Run(ctx context.Context) error {
	err := c.run(ctx)
	if err != nil {
		if aerr := c.alerts.SendCritical("quote loop stopped", map[string]interface{}{
			"symbol": c.cfg.Quote.Symbol,
			"error":  err.Error(),
		}); aerr != nil {
			c.logger.Warn("alert delivery failed", zap.Error(aerr))
		}
	}
	return err
}

func (c *Container) run(ctx context.Context) error {
	c.notifier.Ready()
	c.notifier.Status("quoting " + c.cfg.Quote.Symbol)
	for {
		c.mu.RLock()
		loop := c.loop
		c.mu.RUnlock()

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- loop.Run(loopCtx) }()

		select {
		case err := <-done:
			cancel()
			if ctx.Err() != nil && cleanExit(err) {
				return nil
			}
			return err
		case next := <-c.reloads:
			c.notifier.Reloading()
			cancel()
			if err := <-done; !cleanExit(err) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			c.applyReload(next)
			c.notifier.Ready()
		}
	}
}

// cleanExit 循环因 ctx 结束且退出时撤单成功。
func cleanExit(err error) bool {
	return err == nil || err == context.Canceled || err == context.DeadlineExceeded
}

// applyReload 只应用报价相关配置；网关、日志、监控地址的变化需要重启进程。
func (c *Container) applyReload(next config.AppConfig) {
	if !reflect.DeepEqual(next.Gateway, c.cfg.Gateway) ||
		!reflect.DeepEqual(next.Log, c.cfg.Log) ||
		next.Metrics != c.cfg.Metrics {
		c.logger.Warn("gateway/log/metrics changes require restart; ignoring them")
	}
	loop, err := c.buildLoop(next)
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "reload", "symbol": next.Quote.Symbol})
		return
	}
	c.mu.Lock()
	c.loop = loop
	c.cfg.Quote = next.Quote
	c.cfg.Unwind = next.Unwind
	c.cfg.Backoff = next.Backoff
	c.mu.Unlock()
	c.logger.Info("config reloaded",
		zap.String("symbol", next.Quote.Symbol),
		zap.String("side", next.Quote.Side),
		zap.Float64("bps", next.Quote.Bps),
		zap.Float64("min_bps", next.Quote.MinBps),
		zap.Float64("max_bps", next.Quote.MaxBps))
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	c.notifier.Stopping()

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Loop 当前报价循环
func (c *Container) Loop() *engine.QuoteLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loop
}

// Logger 返回容器使用的 logger
func (c *Container) Logger() *logger.Logger { return c.logger }

// MetricsAddr 返回 /metrics 实际监听地址，未启用时为空
func (c *Container) MetricsAddr() string {
	if c.metrics == nil {
		return ""
	}
	return c.metrics.Addr()
}
