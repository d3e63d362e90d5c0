package gateway

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Auth 访问令牌与 ed25519 签名私钥。
type Auth struct {
	AccessToken string
	SigningKey  ed25519.PrivateKey
}

type authFile struct {
	AccessToken string `json:"access_token"`
	SigningKey  string `json:"signing_key"`
}

// LoadAuthFile 读取 {"access_token": "...", "signing_key": "<hex>"} 格式的凭证文件。
func LoadAuthFile(path string) (Auth, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Auth{}, fmt.Errorf("read auth file: %w", err)
	}
	var f authFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Auth{}, fmt.Errorf("parse auth file: %w", err)
	}
	return NewAuth(f.AccessToken, f.SigningKey)
}

// NewAuth 由令牌和十六进制私钥构造 Auth。私钥可以是 32 字节 seed 或 64 字节完整私钥。
func NewAuth(token, signingKeyHex string) (Auth, error) {
	if token == "" {
		return Auth{}, errors.New("access_token is required")
	}
	key, err := ParseSigningKey(signingKeyHex)
	if err != nil {
		return Auth{}, err
	}
	return Auth{AccessToken: token, SigningKey: key}, nil
}

// ParseSigningKey 解析十六进制编码的 ed25519 私钥。
func ParseSigningKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("signing key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
}
