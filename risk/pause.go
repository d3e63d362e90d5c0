package risk

import (
	"sync"
	"time"
)

// QuotePause 记录“此前不得报价”的截止时间。
// 冷却和撤单退避都写入它，配置重载后新的报价循环继续遵守。
type QuotePause struct {
	mu    sync.Mutex
	until time.Time
}

func NewQuotePause() *QuotePause { return &QuotePause{} }

// Hold 把截止时间延长到 t；早于当前截止时间的 t 被忽略。
func (p *QuotePause) Hold(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.After(p.until) {
		p.until = t
	}
}

// Remaining 距离截止时间还剩多久，已过期返回 0。
func (p *QuotePause) Remaining(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d := p.until.Sub(now); d > 0 {
		return d
	}
	return 0
}
