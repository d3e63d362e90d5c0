package config

import (
	"fmt"
	"strings"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

func invalidf(format string, args ...interface{}) error {
	return ErrInvalid(fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present and the quoting band is consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	g := cfg.Gateway
	if g.BaseURL == "" {
		return ErrInvalid("gateway.baseURL is required")
	}
	if g.AuthFile == "" && (g.AccessToken == "" || g.SigningKey == "") {
		return ErrInvalid("gateway credentials required: authFile or accessToken+signingKey (or env overrides)")
	}
	if g.WSURL != "" && g.WSStaleMs <= 0 {
		return ErrInvalid("gateway.wsStaleMs must be > 0 when wsURL is set")
	}
	if g.TimeoutMs <= 0 {
		return ErrInvalid("gateway.timeoutMs must be > 0")
	}
	if g.RateLimit <= 0 || g.RateBurst <= 0 {
		return ErrInvalid("gateway.rateLimit/rateBurst must be > 0")
	}

	q := cfg.Quote
	if q.Symbol == "" {
		return ErrInvalid("quote.symbol is required")
	}
	if q.Side != "buy" && q.Side != "sell" {
		return invalidf("quote.side must be buy or sell, got %q", q.Side)
	}
	if q.Position <= 0 {
		return ErrInvalid("quote.position must be > 0")
	}
	if q.MinBps < 0 || q.MinBps >= q.Bps || q.Bps >= q.MaxBps {
		return invalidf("quote bps must satisfy 0 <= minBps < bps < maxBps, got %v/%v/%v", q.MinBps, q.Bps, q.MaxBps)
	}
	if q.PricePrecision < 0 || q.QtyPrecision < 0 {
		return ErrInvalid("quote precision must be >= 0")
	}
	if q.MinQty < 0 || q.MaxQty < 0 || q.MinNotional < 0 {
		return ErrInvalid("quote qty/notional bounds must be >= 0")
	}
	if q.MaxQty > 0 && q.MinQty > q.MaxQty {
		return ErrInvalid("quote.minQty must be <= maxQty")
	}
	if q.PollIntervalMs <= 0 {
		return ErrInvalid("quote.pollIntervalMs must be > 0")
	}
	if q.CooldownSec < 0 {
		return ErrInvalid("quote.cooldownSec must be >= 0")
	}
	if q.MarginMode != "cross" && q.MarginMode != "isolated" {
		return invalidf("quote.marginMode must be cross or isolated, got %q", q.MarginMode)
	}
	switch q.TimeInForce {
	case "gtc", "ioc", "alo":
	default:
		return invalidf("quote.timeInForce must be gtc, ioc or alo, got %q", q.TimeInForce)
	}

	if cfg.Unwind.PollIntervalMs <= 0 || cfg.Unwind.MaxAttempts <= 0 {
		return ErrInvalid("unwind.pollIntervalMs/maxAttempts must be > 0")
	}

	b := cfg.Backoff
	if b.BaseMs < 0 || b.StepMs < 0 || b.WindowMs <= 0 || b.MaxMs < 0 {
		return ErrInvalid("backoff base/step/max must be >= 0 and windowMs > 0")
	}
	if cfg.Reload.CooldownMs < 0 {
		return ErrInvalid("reload.cooldownMs must be >= 0")
	}
	a := cfg.Alert
	if a.ThrottleMs < 0 || a.TimeoutMs < 0 {
		return ErrInvalid("alert.throttleMs/timeoutMs must be >= 0")
	}
	if a.WebhookURL != "" && !strings.HasPrefix(a.WebhookURL, "http://") && !strings.HasPrefix(a.WebhookURL, "https://") {
		return invalidf("alert.webhookURL must be http(s), got %q", a.WebhookURL)
	}
	return nil
}
