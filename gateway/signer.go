package gateway

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const signVersion = "v1"

var (
	timeNowMillis = func() int64 { return time.Now().UnixMilli() }
	newRequestID  = uuid.NewString
)

// Signer 为请求生成鉴权头；带 body 的请求额外签名。
type Signer struct {
	auth Auth
}

func NewSigner(auth Auth) *Signer {
	return &Signer{auth: auth}
}

// Headers 构造请求头。payload 非空时对 "版本,请求ID,毫秒时间戳,body" 做 ed25519 签名。
func (s *Signer) Headers(payload []byte) http.Header {
	id := newRequestID()
	ts := strconv.FormatInt(timeNowMillis(), 10)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.auth.AccessToken)
	h.Set("x-request-sign-version", signVersion)
	h.Set("x-request-id", id)
	h.Set("x-request-timestamp", ts)
	if len(payload) > 0 {
		h.Set("x-request-signature", Sign(s.auth.SigningKey, signVersion, id, ts, payload))
		h.Set("Content-Type", "application/json")
	}
	return h
}

// Sign 返回 base64 编码的签名。
func Sign(key ed25519.PrivateKey, version, requestID, timestamp string, payload []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, SignMessage(version, requestID, timestamp, payload)))
}

// SignMessage 拼接待签名消息。
func SignMessage(version, requestID, timestamp string, payload []byte) []byte {
	msg := make([]byte, 0, len(version)+len(requestID)+len(timestamp)+len(payload)+3)
	msg = append(msg, version...)
	msg = append(msg, ',')
	msg = append(msg, requestID...)
	msg = append(msg, ',')
	msg = append(msg, timestamp...)
	msg = append(msg, ',')
	return append(msg, payload...)
}
