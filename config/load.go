package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Gateway GatewayConfig `yaml:"gateway"`
	Quote   QuoteConfig   `yaml:"quote"`
	Unwind  UnwindConfig  `yaml:"unwind"`
	Backoff BackoffConfig `yaml:"backoff"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Reload  ReloadConfig  `yaml:"reload"`
	Alert   AlertConfig   `yaml:"alert"`
}

// GatewayConfig 交易所连接与凭证。凭证可直接给出，也可指向 auth 文件。
type GatewayConfig struct {
	BaseURL     string  `yaml:"baseURL"`
	WSURL       string  `yaml:"wsURL"`     // 为空则不启用行情推送，只走 REST
	WSStaleMs   int     `yaml:"wsStaleMs"` // 推送价格超过该时长视为过期
	AccessToken string  `yaml:"accessToken"`
	SigningKey  string  `yaml:"signingKey"`
	AuthFile    string  `yaml:"authFile"`
	TimeoutMs   int     `yaml:"timeoutMs"`
	RateLimit   float64 `yaml:"rateLimit"` // 每秒令牌数
	RateBurst   int     `yaml:"rateBurst"`
}

type QuoteConfig struct {
	Symbol         string  `yaml:"symbol"`
	Side           string  `yaml:"side"`
	Position       float64 `yaml:"position"` // 报价名义价值（计价货币）
	Bps            float64 `yaml:"bps"`
	MinBps         float64 `yaml:"minBps"`
	MaxBps         float64 `yaml:"maxBps"`
	PricePrecision int32   `yaml:"pricePrecision"`
	QtyPrecision   int32   `yaml:"qtyPrecision"`
	MinQty         float64 `yaml:"minQty"`
	MaxQty         float64 `yaml:"maxQty"`
	MinNotional    float64 `yaml:"minNotional"`
	PollIntervalMs int     `yaml:"pollIntervalMs"`
	CooldownSec    int     `yaml:"cooldownSec"`
	MarginMode     string  `yaml:"marginMode"`
	TimeInForce    string  `yaml:"timeInForce"`
}

type UnwindConfig struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
	MaxAttempts    int `yaml:"maxAttempts"`
}

// BackoffConfig 撤单退避参数；MaxMs 为 0 表示不设上限。
type BackoffConfig struct {
	BaseMs   int `yaml:"baseMs"`
	StepMs   int `yaml:"stepMs"`
	WindowMs int `yaml:"windowMs"`
	MaxMs    int `yaml:"maxMs"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
}

// MetricsConfig Addr 为空则不启动 /metrics。
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// AlertConfig 告警总是写日志；WebhookURL 非空时额外推送。
type AlertConfig struct {
	WebhookURL string `yaml:"webhookURL"`
	ThrottleMs int    `yaml:"throttleMs"` // 相同告警的最小间隔
	TimeoutMs  int    `yaml:"timeoutMs"`
}

// 以下环境变量优先于配置文件。
const (
	EnvAccessToken = "MM_STANDX_ACCESS_TOKEN"
	EnvSigningKey  = "MM_STANDX_SIGNING_KEY"
	EnvAuthFile    = "MM_STANDX_AUTH_FILE"
	EnvBaseURL     = "MM_STANDX_BASE_URL"
	EnvQuoteSide   = "MM_QUOTE_SIDE"
	EnvWebhookURL  = "MM_ALERT_WEBHOOK_URL"
)

// Default 返回全部默认值，文件中出现的字段会覆盖它们。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Gateway: GatewayConfig{
			BaseURL:   "https://perps.standx.com",
			WSStaleMs: 2000,
			TimeoutMs: 10000,
			RateLimit: 10,
			RateBurst: 10,
		},
		Quote: QuoteConfig{
			Symbol:         "BTC-USD",
			Side:           "sell",
			Position:       50000,
			Bps:            20,
			MinBps:         10,
			MaxBps:         30,
			PricePrecision: 2,
			QtyPrecision:   4,
			PollIntervalMs: 100,
			CooldownSec:    600,
			MarginMode:     "cross",
			TimeInForce:    "gtc",
		},
		Unwind: UnwindConfig{
			PollIntervalMs: 1000,
			MaxAttempts:    120,
		},
		Backoff: BackoffConfig{
			BaseMs:   1000,
			StepMs:   3000,
			WindowMs: 30000,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"stdout"},
		},
		Metrics: MetricsConfig{Addr: ":9100"},
		Reload:  ReloadConfig{Enabled: true, CooldownMs: 500},
		Alert:   AlertConfig{ThrottleMs: 60000, TimeoutMs: 5000},
	}
}

// Load reads YAML config from path on top of Default and applies validation.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides 先加载 .env（不覆盖已有环境变量），再用环境变量覆盖凭证等敏感字段。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return AppConfig{}, err
	}
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.Quote.Side = strings.ToLower(strings.TrimSpace(cfg.Quote.Side))
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvAccessToken); v != "" {
		cfg.Gateway.AccessToken = v
	}
	if v := os.Getenv(EnvSigningKey); v != "" {
		cfg.Gateway.SigningKey = v
	}
	if v := os.Getenv(EnvAuthFile); v != "" {
		cfg.Gateway.AuthFile = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv(EnvQuoteSide); v != "" {
		cfg.Quote.Side = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		cfg.Alert.WebhookURL = v
	}
}

// loadDotEnv 依次加载存在的 .env 文件，缺失的文件直接跳过。
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (q QuoteConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

func (q QuoteConfig) Cooldown() time.Duration {
	return time.Duration(q.CooldownSec) * time.Second
}

func (u UnwindConfig) PollInterval() time.Duration {
	return time.Duration(u.PollIntervalMs) * time.Millisecond
}

func (g GatewayConfig) WSStale() time.Duration {
	return time.Duration(g.WSStaleMs) * time.Millisecond
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

func (r ReloadConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownMs) * time.Millisecond
}

func (a AlertConfig) Throttle() time.Duration { return ms(a.ThrottleMs) }
func (a AlertConfig) Timeout() time.Duration  { return ms(a.TimeoutMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (b BackoffConfig) Base() time.Duration   { return ms(b.BaseMs) }
func (b BackoffConfig) Step() time.Duration   { return ms(b.StepMs) }
func (b BackoffConfig) Window() time.Duration { return ms(b.WindowMs) }
func (b BackoffConfig) Max() time.Duration    { return ms(b.MaxMs) }
