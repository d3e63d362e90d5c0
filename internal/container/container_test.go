package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standx-maker-go/config"
	"standx-maker-go/infrastructure/logger"
	"standx-maker-go/order"
)

const testSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

// fakeStandX 最小的交易所模拟：挂单一直 open，记录下单和撤单。
type fakeStandX struct {
	mu      sync.Mutex
	orders  []map[string]interface{}
	cancels []string
	// status 查询返回的状态，为空时 open
	status string
}

func (f *fakeStandX) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query_symbol_price", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"symbol":%q,"index_price":"100","mark_price":"100"}`, r.URL.Query().Get("symbol"))
	})
	mux.HandleFunc("/api/new_order", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		f.mu.Lock()
		f.orders = append(f.orders, body)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"code":0,"message":"success"}`)
	})
	mux.HandleFunc("/api/cancel_orders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"cl_ord_id_list"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		f.mu.Lock()
		f.cancels = append(f.cancels, body.IDs...)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"code":0,"message":"success"}`)
	})
	mux.HandleFunc("/api/query_order", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("cl_ord_id")
		f.mu.Lock()
		var found map[string]interface{}
		for _, o := range f.orders {
			if o["cl_ord_id"] == id {
				found = o
			}
		}
		status := f.status
		f.mu.Unlock()
		if found == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fill := "0"
		if status == "" {
			status = "open"
		} else if status == "filled" {
			fill = found["qty"].(string)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"cl_ord_id": id, "symbol": found["symbol"], "side": found["side"],
			"order_type": found["order_type"], "price": found["price"], "qty": found["qty"],
			"fill_qty": fill, "status": status,
		})
	})
	return mux
}

// quotes 非 reduce-only 的报价单
func (f *fakeStandX) quotes() []map[string]interface{} {
	orders, _ := f.snapshot()
	var out []map[string]interface{}
	for _, o := range orders {
		if o["reduce_only"] != true {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeStandX) snapshot() ([]map[string]interface{}, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.orders...), append([]string(nil), f.cancels...)
}

func testAppConfig(baseURL string) config.AppConfig {
	cfg := config.Default()
	cfg.Gateway.BaseURL = baseURL
	cfg.Gateway.AccessToken = "tok"
	cfg.Gateway.SigningKey = testSeedHex
	cfg.Gateway.RateLimit = 1000
	cfg.Gateway.RateBurst = 100
	cfg.Quote.PollIntervalMs = 10
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func newTestContainer(t *testing.T, cfg config.AppConfig) *Container {
	t.Helper()
	require.NoError(t, config.Validate(cfg))
	c := NewWithConfig(cfg)
	c.logger = logger.NewNop()
	require.NoError(t, c.Build())
	c.notifier.notify = func(string) (bool, error) { return false, nil }
	return c
}

func TestContainerQuotesAndCancelsOnShutdown(t *testing.T) {
	fake := &fakeStandX{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestContainer(t, testAppConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.HealthCheck())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		orders, _ := fake.snapshot()
		return len(orders) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// /metrics 已暴露报价计数
	resp, err := http.Get("http://" + c.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "mm_quoter_quotes_placed_total 1")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("container did not stop")
	}

	orders, cancels := fake.snapshot()
	require.Len(t, orders, 1)
	assert.Equal(t, "sell", orders[0]["side"])
	assert.Equal(t, "100.20", orders[0]["price"])
	assert.Equal(t, "499.0020", orders[0]["qty"])
	assert.Equal(t, false, orders[0]["reduce_only"])
	assert.Equal(t, []string{orders[0]["cl_ord_id"].(string)}, cancels)
	assert.NoError(t, c.Stop())
}

func TestContainerReloadRequotes(t *testing.T) {
	fake := &fakeStandX{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := testAppConfig(srv.URL)
	cfg.Metrics.Addr = ""
	c := newTestContainer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool {
		orders, _ := fake.snapshot()
		return len(orders) == 1
	}, 3*time.Second, 10*time.Millisecond)

	next := cfg
	next.Quote.Side = "buy"
	next.Quote.Bps = 25
	next.Quote.MinBps = 5
	c.Reload(next)

	require.Eventually(t, func() bool {
		orders, _ := fake.snapshot()
		return len(orders) == 2
	}, 3*time.Second, 10*time.Millisecond)

	orders, cancels := fake.snapshot()
	// 旧报价先撤后挂新报价
	assert.Equal(t, []string{orders[0]["cl_ord_id"].(string)}, cancels)
	assert.Equal(t, "buy", orders[1]["side"])
	assert.Equal(t, "99.75", orders[1]["price"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("container did not stop")
	}
	assert.NoError(t, c.Stop())
}

func TestContainerReloadKeepsCooldown(t *testing.T) {
	fake := &fakeStandX{status: "filled"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := testAppConfig(srv.URL)
	cfg.Metrics.Addr = ""
	c := newTestContainer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// 报价成交，平仓限价单成交，进入 601s 冷却
	require.Eventually(t, func() bool {
		orders, _ := fake.snapshot()
		return len(orders) == 2
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	next := cfg
	next.Quote.Side = "buy"
	c.Reload(next)

	// 重载后的新循环仍在冷却中，不挂新单
	time.Sleep(700 * time.Millisecond)
	assert.Len(t, fake.quotes(), 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("container did not stop")
	}
	assert.NoError(t, c.Stop())
}

func TestContainerRunReturnsExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	alerts := make(chan map[string]interface{}, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		alerts <- body
	}))
	defer hook.Close()

	cfg := testAppConfig(srv.URL)
	cfg.Metrics.Addr = ""
	cfg.Alert.WebhookURL = hook.URL
	c := newTestContainer(t, cfg)
	err := c.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	select {
	case body := <-alerts:
		assert.Equal(t, "CRITICAL", body["level"])
		assert.Equal(t, "quote loop stopped", body["message"])
	case <-time.After(time.Second):
		t.Fatal("no alert delivered")
	}
}

func TestEngineConfigConversion(t *testing.T) {
	cfg := config.Default()
	ecfg, ucfg, err := engineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, order.SideSell, ecfg.Side)
	assert.Equal(t, "50000", ecfg.Notional.String())
	assert.Equal(t, 601*time.Second, ecfg.Cooldown)
	assert.Equal(t, 100*time.Millisecond, ecfg.PollInterval)
	assert.Equal(t, int32(2), ecfg.Constraints.PricePrecision)
	assert.Equal(t, 120, ucfg.MaxAttempts)
	assert.Equal(t, time.Second, ucfg.PollInterval)
	assert.Equal(t, order.MarginCross, ucfg.MarginMode)
	assert.Equal(t, int32(2), ucfg.PricePrecision)
	assert.Equal(t, int32(4), ucfg.QtyPrecision)

	cfg.Quote.Side = "long"
	_, _, err = engineConfig(cfg)
	assert.Error(t, err)
}

func TestResolveAuthPrefersFile(t *testing.T) {
	_, err := resolveAuth(config.GatewayConfig{AuthFile: "/nonexistent/auth.json", AccessToken: "tok", SigningKey: testSeedHex})
	assert.Error(t, err)

	auth, err := resolveAuth(config.GatewayConfig{AccessToken: "tok", SigningKey: testSeedHex})
	require.NoError(t, err)
	assert.Equal(t, "tok", auth.AccessToken)
}
