package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"standx-maker-go/risk"
)

// 告警级别
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Alert 一条告警
type Alert struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Channel 告警出口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 把告警扇出到所有通道。相同级别+消息在 throttle 间隔内只发一次。
type Manager struct {
	channels []Channel
	throttle time.Duration
	clock    risk.Clock

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewManager 创建告警管理器；throttle 为 0 表示不限流。
func NewManager(channels []Channel, throttle time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: throttle,
		clock:    risk.SystemClock,
		lastSent: make(map[string]time.Time),
	}
}

// allow 记录发送时间并判断是否在限流窗口外
func (m *Manager) allow(key string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.throttle {
		return false
	}
	m.lastSent[key] = now
	return true
}

// SendAlert 发送到所有通道；只有全部通道失败时才返回错误。被限流时返回 nil。
func (m *Manager) SendAlert(a Alert) error {
	now := m.clock.Now()
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	if !m.allow(a.Level+":"+a.Message, now) {
		return nil
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelCritical, Message: message, Fields: fields})
}

// Channels 通道名列表
func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 清空限流记录
func (m *Manager) ResetThrottle() {
	m.mu.Lock()
	m.lastSent = make(map[string]time.Time)
	m.mu.Unlock()
}
