package trade

import (
	"time"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

// Details 一次成功执行的结果
type Details struct {
	Action      model.Action    `json:"action"`
	Symbol      string          `json:"symbol"`
	StrategyKey string          `json:"strategy_key"`
	OrderType   model.OrderType `json:"order_type"`
	Size        float64         `json:"size"`
	Unit        model.SizeUnit  `json:"unit"`
	OrderId     string          `json:"order_id"`
	FirstTrade  bool            `json:"first_trade"`

	// 按成交后行情估算
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	UsdtAmount float64 `json:"usdt_amount"`

	// 卖出后下一次买入使用的金额
	NextBalance float64  `json:"next_balance,omitempty"`
	RealizedPnl *float64 `json:"realized_pnl,omitempty"`

	Protected    bool   `json:"protected"`
	AlgoId       string `json:"algo_id,omitempty"`
	Degraded     bool   `json:"degraded"`
	DegradedNote string `json:"degraded_note,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type ResultError struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Result 返回给调用方的结构，成功和失败二选一
type Result struct {
	Success bool         `json:"success"`
	Details *Details     `json:"details,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

func NewResult(d *Details, err error) Result {
	if err == nil {
		return Result{Success: true, Details: d}
	}
	code, msg := errors.DecodeErr(err)
	return Result{
		Success: false,
		Error: &ResultError{
			Code:    code,
			Reason:  ecode.Text(code),
			Message: msg,
		},
	}
}
