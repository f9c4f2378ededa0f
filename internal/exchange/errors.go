package exchange

import (
	"errors"
	"fmt"
)

// ErrUnavailable 余额或行情不存在
var ErrUnavailable = errors.New("exchange: unavailable")

// Stage 请求失败发生的阶段
type Stage string

const (
	// 请求没有发出（建连失败等），可以安全重试
	StageSend Stage = "send"
	// 请求已发出但结果未知（超时、响应无法解析），不能盲目重试
	StageResponse Stage = "response"
	// 交易所明确拒绝（code != 0）
	StageRejected Stage = "rejected"
)

// Error 交易所调用错误，保留原始响应
type Error struct {
	Op    string
	Stage Stage
	Code  string // 交易所错误码，如 51008
	Msg   string
	Raw   []byte
	Err   error
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageRejected:
		return fmt.Sprintf("%s rejected: code=%s msg=%s", e.Op, e.Code, e.Msg)
	default:
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Stage, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 只有请求未发出时才可以重试，下单被拒绝或结果未知都不可以
func (e *Error) Retryable() bool {
	return e.Stage == StageSend
}

// IsRejected 交易所是否明确拒绝了请求
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Stage == StageRejected
}

// IsRetryable 请求是否可以安全重试
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
