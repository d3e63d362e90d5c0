package container

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standx-maker-go/infrastructure/logger"
)

type stubComponent struct {
	name     string
	startErr error
	health   error
	log      *[]string
	mu       *sync.Mutex
}

func (s *stubComponent) record(event string) {
	s.mu.Lock()
	*s.log = append(*s.log, s.name+":"+event)
	s.mu.Unlock()
}

func (s *stubComponent) Start(context.Context) error {
	s.record("start")
	return s.startErr
}

func (s *stubComponent) Stop() error {
	s.record("stop")
	return nil
}

func (s *stubComponent) Health() error { return s.health }

func TestLifecycleStartStopOrder(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewLifecycleManager()
	m.Register(&stubComponent{name: "a", log: &log, mu: &mu})
	m.Register(&stubComponent{name: "b", log: &log, mu: &mu})

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"a:start", "b:start", "b:stop", "a:stop"}, log)
}

func TestLifecycleRollbackOnStartFailure(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewLifecycleManager()
	m.Register(&stubComponent{name: "a", log: &log, mu: &mu})
	m.Register(&stubComponent{name: "b", log: &log, mu: &mu, startErr: errors.New("boom")})

	err := m.StartAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"a:start", "b:start", "a:stop"}, log)
}

func TestLifecycleHealth(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewLifecycleManager()
	m.Register(&stubComponent{name: "a", log: &log, mu: &mu, health: errors.New("down")})
	assert.Error(t, m.CheckHealth())
}

func TestHTTPServerComponent(t *testing.T) {
	h := &httpServerComponent{
		name: "test_server",
		handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
		addr:   "127.0.0.1:0",
		logger: logger.NewNop(),
	}
	assert.Error(t, h.Health())
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Health())

	resp, err := http.Get("http://" + h.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, h.Stop())
	assert.Error(t, h.Health())
}

func TestWatchdogPingsWhenHealthy(t *testing.T) {
	var mu sync.Mutex
	var states []string
	n := &notifier{logger: logger.NewNop(), notify: func(s string) (bool, error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		return true, nil
	}}
	healthy := true
	var hmu sync.Mutex
	w := &watchdogComponent{notifier: n, interval: 5 * time.Millisecond, health: func() error {
		hmu.Lock()
		defer hmu.Unlock()
		if !healthy {
			return errors.New("unhealthy")
		}
		return nil
	}}
	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	}, time.Second, 5*time.Millisecond)

	hmu.Lock()
	healthy = false
	hmu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	before := len(states)
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := len(states)
	mu.Unlock()
	assert.Equal(t, before, after, "no pings while unhealthy")

	require.NoError(t, w.Stop())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "WATCHDOG=1", states[0])
}

func TestWatchdogDisabledWithoutSystemd(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	w := &watchdogComponent{notifier: &notifier{logger: logger.NewNop()}}
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}
