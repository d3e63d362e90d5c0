package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"standx-maker-go/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	name   string
	logger *logger.Logger
}

// NewLogChannel 创建日志通道
func NewLogChannel(name string, lg *logger.Logger) *LogChannel {
	return &LogChannel{name: name, logger: lg}
}

// Send 按级别写日志
func (c *LogChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+2)
	fields = append(fields,
		zap.String("alert_level", alert.Level),
		zap.Time("alert_ts", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelCritical:
		c.logger.Error("[ALERT] "+alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn("[ALERT] "+alert.Message, fields...)
	default:
		c.logger.Info("[ALERT] "+alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel 以 JSON POST 推送告警（例如机器人网关）
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel 创建 webhook 通道
func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{name: name, url: url, client: &http.Client{Timeout: timeout}}
}

// Send 发送告警；非 2xx 视为失败
func (c *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}
