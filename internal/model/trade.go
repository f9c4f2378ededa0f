package model

import (
	"gorm.io/datatypes"
	"gorm.io/plugin/soft_delete"
	"time"
)

// TradeRecord 成交记录，只用于历史统计，交易链路不会回读
type TradeRecord struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"` // snowflake
	OrderId       string         `gorm:"column:order_id;type:varchar(64);index" json:"order_id"`
	AlgoId        string         `gorm:"column:algo_id;type:varchar(64)" json:"algo_id"`
	StrategyKey   string         `gorm:"column:strategy_key;type:varchar(128);index" json:"strategy_key"`
	Symbol        string         `gorm:"column:symbol;type:varchar(32)" json:"symbol"`
	Side          OrderSide      `gorm:"column:side;type:varchar(8)" json:"side"`
	OrderType     OrderType      `gorm:"column:order_type;type:varchar(8)" json:"order_type"`
	Quantity      float64        `gorm:"column:quantity;type:decimal(24,10)" json:"quantity"`
	Price         float64        `gorm:"column:price;type:decimal(24,10)" json:"price"`
	UsdtAmount    float64        `gorm:"column:usdt_amount;type:decimal(24,10)" json:"usdt_amount"`
	RealizedPnl   *float64       `gorm:"column:realized_pnl;type:decimal(24,10)" json:"realized_pnl,omitempty"` // 仅卖出
	RecurringMode RecurringMode  `gorm:"column:recurring_mode;type:varchar(16)" json:"recurring_mode"`
	FirstTrade    bool           `gorm:"column:first_trade" json:"first_trade"`
	Degraded      bool           `gorm:"column:degraded" json:"degraded"`
	Signal        datatypes.JSON `gorm:"column:signal_json;type:json" json:"signal"`

	CreatedAt time.Time             `gorm:"column:created_at" json:"created_at"`
	DeletedAt soft_delete.DeletedAt `gorm:"column:deleted_at" json:"-"`
}

func (TradeRecord) TableName() string {
	return "trade_record"
}
