package model

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Opposite 反方向，用于挂保护单
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	// 市价购买
	Market OrderType = "market"
	// 限价购买
	Limit OrderType = "limit"
)

// SizeUnit 下单数量的单位
// 现货市价买单可以按计价币（USDT）下单，其余情况按基础币数量
type SizeUnit string

const (
	SizeBase  SizeUnit = "base"
	SizeQuote SizeUnit = "quote"
)

// OrderRequest 提交给交易所的下单参数
type OrderRequest struct {
	Symbol    string
	Side      OrderSide
	OrderType OrderType
	Size      float64
	Unit      SizeUnit
	Price     float64 // 限价单价格
}

// ProtectionRequest 止盈止损参数，百分比 0.5 表示 0.5%
type ProtectionRequest struct {
	StopLossPct   float64
	TakeProfitPct float64
}

func (p ProtectionRequest) Enabled() bool {
	return p.StopLossPct > 0 || p.TakeProfitPct > 0
}

type OrderResponse struct {
	OrderId   string
	ClientId  string
	Symbol    string
	Side      OrderSide
	Size      float64
	Unit      SizeUnit
	CreatedAt time.Time

	// 保护单
	AlgoId       string
	SLTriggerPx  float64
	TPTriggerPx  float64
	Degraded     bool   // 主单成功但保护单失败
	DegradedNote string // 失败原因
}

type Balance struct {
	Currency  string  // 如 "USDT"
	Total     float64 // 总资产
	Available float64 // 可用资产
	Frozen    float64 // 冻结资产（如挂单锁定的部分）
}

type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Vol24h float64
	Time   time.Time
}
