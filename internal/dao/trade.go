package dao

import (
	"context"
	"tradeflow/internal/model"
)

type TradeDao interface {
	// 建表
	Migrate(ctx context.Context) error
	// 保存一条成交记录
	CreateTrade(ctx context.Context, record *model.TradeRecord) error
	// 某个策略最近的成交，按时间倒序
	ListByStrategy(ctx context.Context, strategyKey string, limit int) ([]model.TradeRecord, error)
	// 某个策略已实现的累计盈亏
	RealizedPnl(ctx context.Context, strategyKey string) (float64, error)
}
