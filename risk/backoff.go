package risk

import (
	"sync"
	"time"
)

// BackoffConfig 撤单退避参数。
type BackoffConfig struct {
	Base   time.Duration // 窗口内首次撤单的等待
	Step   time.Duration // 窗口内每多一次撤单额外增加
	Window time.Duration // 撤单记录的有效期
	Max    time.Duration // 0 表示不封顶
}

// DefaultBackoffConfig 基准 1s，每次 +3s，30s 窗口，不封顶。
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   time.Second,
		Step:   3 * time.Second,
		Window: 30 * time.Second,
	}
}

// CancelBackoff 根据窗口内撤单密度线性放大等待时间。
// 每次调用 NextSleep 表示刚发生了一次撤单。
type CancelBackoff struct {
	cfg    BackoffConfig
	clock  Clock
	mu     sync.Mutex
	events []time.Time
}

func NewCancelBackoff(cfg BackoffConfig, clock Clock) *CancelBackoff {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBackoffConfig().Window
	}
	if clock == nil {
		clock = SystemClock
	}
	return &CancelBackoff{
		cfg:    cfg,
		clock:  clock,
		events: make([]time.Time, 0, 16),
	}
}

// NextSleep 清理窗口外记录、登记本次撤单并返回应等待的时长。
func (b *CancelBackoff) NextSleep() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.trim(now.Add(-b.cfg.Window))
	b.events = append(b.events, now)

	d := b.cfg.Base + b.cfg.Step*time.Duration(len(b.events)-1)
	if b.cfg.Max > 0 && d > b.cfg.Max {
		d = b.cfg.Max
	}
	return d
}

// Pending 返回当前窗口内记录数（不登记新的撤单）。
func (b *CancelBackoff) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(b.clock.Now().Add(-b.cfg.Window))
	return len(b.events)
}

// trim 丢弃不晚于 cutoff 的记录。
func (b *CancelBackoff) trim(cutoff time.Time) {
	i := 0
	for ; i < len(b.events); i++ {
		if b.events[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}
