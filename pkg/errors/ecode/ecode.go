package ecode

// 错误码，0 表示成功
const (
	Success = 0
	Unknown = 10000

	ValidateErr    = 10001
	RequireAuthErr = 10002
	NotFoundErr    = 10003

	// 交易链路
	MalformedSignal   = 20001 // 信号字段缺失或非法
	InvalidState      = 20002 // 状态不允许：重复开仓、冷却期、日内限额、未知币对
	InsufficientFunds = 20003 // 可用余额不足
	ExchangeErr       = 20004 // 交易所网络错误或拒单
	LedgerErr         = 20005 // 仓位存储异常
)

var messages = map[int]string{
	Success:           "ok",
	Unknown:           "unknown error",
	ValidateErr:       "validate error",
	RequireAuthErr:    "require auth",
	NotFoundErr:       "not found",
	MalformedSignal:   "malformed signal",
	InvalidState:      "invalid state",
	InsufficientFunds: "insufficient funds",
	ExchangeErr:       "exchange error",
	LedgerErr:         "ledger error",
}

// Text 错误码对应的默认描述
func Text(code int) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[Unknown]
}
