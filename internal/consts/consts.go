package consts

const (
	// RequestId 请求id名称
	RequestId   = "request_id"
	Operator    = "operator"
	JWTTokenCtx = "token_ctx"

	// webhook 签名头，hex(HMAC-SHA256(secret, body))
	WebhookSignature = "X-Signature"

	DateLayout = "2006-01-02"
)
