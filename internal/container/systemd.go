package container

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"standx-maker-go/infrastructure/logger"
)

// notifier 向 systemd 报告状态；不在 systemd 下运行时 SdNotify 直接返回 false。
type notifier struct {
	logger *logger.Logger
	notify func(state string) (bool, error)
}

func newNotifier(lg *logger.Logger) *notifier {
	return &notifier{
		logger: lg,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", zap.String("state", state))
	}
}

func (n *notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status 更新 systemctl status 中显示的文字。
func (n *notifier) Status(msg string) { n.send("STATUS=" + msg) }

// watchdogComponent 在 WatchdogSec 配置下按一半周期喂狗，健康检查失败时停止喂狗让 systemd 重启进程。
type watchdogComponent struct {
	notifier *notifier
	health   func() error
	// interval 为 0 时从 WATCHDOG_USEC 读取
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watchdogComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	interval := w.interval
	if interval <= 0 {
		d, err := daemon.SdWatchdogEnabled(false)
		if err != nil || d <= 0 {
			// 未启用 watchdog
			return nil
		}
		interval = d / 2
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, interval)
	return nil
}

func (w *watchdogComponent) run(ctx context.Context, interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.health != nil {
				if err := w.health(); err != nil {
					w.notifier.logger.Warn("health check failed, skipping watchdog ping", zap.Error(err))
					continue
				}
			}
			w.notifier.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (w *watchdogComponent) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (w *watchdogComponent) Health() error { return nil }
