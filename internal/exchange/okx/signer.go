package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"time"
)

// OKX v5 的时间戳格式，UTC 毫秒
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Signer 私有接口签名
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
	simulated  bool
}

func NewSigner(apiKey, secretKey, passphrase string, simulated bool) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		simulated:  simulated,
	}
}

// Timestamp 签名用的时间戳
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Sign base64(hmac_sha256(secret, timestamp + method + requestPath + body))
// requestPath 需要包含 query，GET 请求 body 为空串
func (s *Signer) Sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers 给请求加上鉴权头
func (s *Signer) Headers(h http.Header, timestamp, method, requestPath, body string) {
	h.Set("OK-ACCESS-KEY", s.apiKey)
	h.Set("OK-ACCESS-SIGN", s.Sign(timestamp, method, requestPath, body))
	h.Set("OK-ACCESS-TIMESTAMP", timestamp)
	h.Set("OK-ACCESS-PASSPHRASE", s.passphrase)
	h.Set("Content-Type", "application/json")
	if s.simulated {
		h.Set("x-simulated-trading", "1")
	}
}
