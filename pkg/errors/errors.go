package errors

import (
	stderrors "errors"
	"fmt"
	"tradeflow/pkg/errors/ecode"
)

// Error 带错误码的错误，可包裹底层错误
type Error struct {
	Code    int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is 同错误码即视为同一类错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New 只有错误码，message 使用默认描述
func New(code int) error {
	return &Error{Code: code, Message: ecode.Text(code)}
}

// WithCode 创建带错误码的错误
func WithCode(code int, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包裹底层错误并附加错误码
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf 同 Wrap，支持格式化
func Wrapf(err error, code int, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf 取最外层的错误码，非 *Error 返回 Unknown
func CodeOf(err error) int {
	if err == nil {
		return ecode.Success
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ecode.Unknown
}

// HasCode 错误链上是否存在指定错误码
func HasCode(err error, code int) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// DecodeErr 解析出错误码和提示信息
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Text(ecode.Success)
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code, err.Error()
	}
	return ecode.Unknown, err.Error()
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
