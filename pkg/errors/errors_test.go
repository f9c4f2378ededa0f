package errors

import (
	"fmt"
	"testing"
	"tradeflow/pkg/errors/ecode"
)

func TestDecodeErr(t *testing.T) {
	code, msg := DecodeErr(nil)
	if code != ecode.Success || msg != "ok" {
		t.Fatalf("nil err decoded to %d %q", code, msg)
	}

	err := Wrap(fmt.Errorf("connection refused"), ecode.ExchangeErr, "get ticker")
	code, msg = DecodeErr(err)
	if code != ecode.ExchangeErr {
		t.Errorf("code = %d, want %d", code, ecode.ExchangeErr)
	}
	if msg != "get ticker: connection refused" {
		t.Errorf("msg = %q", msg)
	}

	code, _ = DecodeErr(fmt.Errorf("plain"))
	if code != ecode.Unknown {
		t.Errorf("plain error code = %d", code)
	}
}

func TestHasCode(t *testing.T) {
	inner := WithCode(ecode.InsufficientFunds, "need %d", 100)
	outer := fmt.Errorf("sizing: %w", inner)
	if !HasCode(outer, ecode.InsufficientFunds) {
		t.Error("expected InsufficientFunds in chain")
	}
	if HasCode(outer, ecode.LedgerErr) {
		t.Error("unexpected LedgerErr")
	}
	if CodeOf(outer) != ecode.InsufficientFunds {
		t.Errorf("CodeOf = %d", CodeOf(outer))
	}
	// 默认描述与自定义 message 不同，不匹配
	if Is(outer, New(ecode.InsufficientFunds)) {
		t.Error("Is should compare message when target carries one")
	}
	if !Is(outer, &Error{Code: ecode.InsufficientFunds}) {
		t.Error("Is should match on code when target message is empty")
	}
}
