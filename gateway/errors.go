package gateway

import "fmt"

// APIError 表示交易所返回了非成功响应。
type APIError struct {
	Op         string
	StatusCode int
	Code       int
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed: status %d code %d: %s", e.Op, e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}
