package query

import (
	"context"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tradeflow/internal/dao"
	"tradeflow/internal/model"
)

type tradeDao struct {
	db *gorm.DB
}

func NewTradeDao(db *gorm.DB) dao.TradeDao {
	return &tradeDao{
		db: db,
	}
}

func (d *tradeDao) Migrate(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(&model.TradeRecord{})
}

// CreateTrade 主键已存在时忽略，上报重试可以安全重放
func (d *tradeDao) CreateTrade(ctx context.Context, record *model.TradeRecord) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (d *tradeDao) ListByStrategy(ctx context.Context, strategyKey string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []model.TradeRecord
	err := d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Where("strategy_key = ?", strategyKey).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (d *tradeDao) RealizedPnl(ctx context.Context, strategyKey string) (float64, error) {
	var total float64
	err := d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Where("strategy_key = ? AND realized_pnl IS NOT NULL", strategyKey).
		Scan(&total).Error
	return total, err
}
