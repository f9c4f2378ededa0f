package okx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/exchange"
	"tradeflow/pkg/logger"
)

// OKX v5 REST 客户端，只做现货

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	signer  *Signer
	now     func() time.Time

	mu          sync.RWMutex
	instruments map[string]*instrument
}

var _ exchange.Exchange = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock 测试时固定签名时间戳
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(cfg conf.Okx, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		http:        &http.Client{},
		signer:      NewSigner(cfg.ApiKey, cfg.SecretKey, cfg.Password, cfg.Simulated),
		now:         time.Now,
		instruments: make(map[string]*instrument),
	}
	if c.baseURL == "" {
		c.baseURL = "https://www.okx.com"
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OKX API 的标准格式：{"code":"0", "msg":"", "data":[...]}
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// 下单类接口的单条回执
type ack struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	return c.do(ctx, op, http.MethodGet, requestPath, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, body, out)
}

// do 签名并发送请求，按阶段区分错误
func (c *Client) do(ctx context.Context, op, method, requestPath string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return &exchange.Error{Op: op, Stage: exchange.StageSend, Err: err}
	}
	// 签名使用的 body 必须和实际发送的字节一致
	c.signer.Headers(req.Header, Timestamp(c.now()), method, requestPath, string(body))

	resp, err := c.http.Do(req)
	if err != nil {
		stage := transportStage(err)
		logger.Warnf("okx %s %s failed at %s stage: %v", method, requestPath, stage, err)
		return &exchange.Error{Op: op, Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchange.Error{Op: op, Stage: exchange.StageResponse, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Code == "" {
		if err == nil {
			err = errors.New("missing code in response")
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return &exchange.Error{
				Op:    op,
				Stage: exchange.StageRejected,
				Code:  strconv.Itoa(resp.StatusCode),
				Msg:   http.StatusText(resp.StatusCode),
				Raw:   raw,
				Err:   err,
			}
		}
		return &exchange.Error{Op: op, Stage: exchange.StageResponse, Raw: raw, Err: err}
	}

	if env.Code != "0" {
		code, msg := env.Code, env.Msg
		// 批量类接口整体失败时，具体原因在 data[0].sCode
		var acks []ack
		if json.Unmarshal(env.Data, &acks) == nil && len(acks) > 0 && acks[0].SCode != "" && acks[0].SCode != "0" {
			code, msg = acks[0].SCode, acks[0].SMsg
		}
		logger.Warnf("okx %s %s rejected: code=%s msg=%s", method, requestPath, code, msg)
		return &exchange.Error{Op: op, Stage: exchange.StageRejected, Code: code, Msg: msg, Raw: raw}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &exchange.Error{Op: op, Stage: exchange.StageResponse, Raw: raw, Err: err}
	}
	return nil
}

// transportStage 建连、DNS 失败说明请求没有发出去；其余（超时、连接被重置）结果未知
func transportStage(err error) exchange.Stage {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return exchange.StageSend
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return exchange.StageSend
	}
	return exchange.StageResponse
}
