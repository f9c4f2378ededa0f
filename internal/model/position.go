package model

import "time"

type PositionStatus string

const (
	PositionActive PositionStatus = "active"
	// 开仓中，下单前预占，防止并发重复开仓
	PositionPending PositionStatus = "pending"
)

// PositionRecord 一个策略当前持有的仓位，卖出成交后删除
type PositionRecord struct {
	Quantity   float64        `json:"quantity"`
	EntryPrice float64        `json:"entry_price"`
	UsdtSpent  float64        `json:"usdt_spent"`
	OrderId    string         `json:"order_id"`
	OpenedAt   time.Time      `json:"opened_at"`
	Status     PositionStatus `json:"status"`
}

func (p *PositionRecord) IsActive() bool {
	return p != nil && p.Status == PositionActive
}
