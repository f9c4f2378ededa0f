package ledger

import (
	"context"
	stderrors "errors"
	"github.com/goccy/go-json"
	"time"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/logger"
)

// Ledger 按策略保存仓位和下一次买入使用的资金
// key 布局：
//
//	{prefix}:position:{COIN:cat:scat}  当前仓位，卖出后删除
//	{prefix}:balance:{COIN:cat:scat}   下一次买入的USDT
//	{prefix}:seen:{COIN:cat:scat}      写过仓位或资金后存在，判断是否首单
type Ledger struct {
	store          Store
	prefix         string
	defaultAmount  float64
	reservationTTL time.Duration
	now            func() time.Time
}

type balanceRecord struct {
	Amount    float64   `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(store Store, prefix string, defaultAmount float64, reservationTTL time.Duration) *Ledger {
	if prefix == "" {
		prefix = "tradeflow"
	}
	return &Ledger{
		store:          store,
		prefix:         prefix,
		defaultAmount:  defaultAmount,
		reservationTTL: reservationTTL,
		now:            time.Now,
	}
}

func (l *Ledger) DefaultAmount() float64 {
	return l.defaultAmount
}

func (l *Ledger) positionKey(key model.StrategyKey) string {
	return l.prefix + ":position:" + key.String()
}

func (l *Ledger) balanceKey(key model.StrategyKey) string {
	return l.prefix + ":balance:" + key.String()
}

func (l *Ledger) seenKey(key model.StrategyKey) string {
	return l.prefix + ":seen:" + key.String()
}

func storeErr(err error, op string, key model.StrategyKey) error {
	logger.Error("ledger store failed", logger.Pair("op", op), logger.Pair("key", key.String()), logger.Pair("err", err.Error()))
	return errors.Wrapf(err, ecode.LedgerErr, "ledger %s %s", op, key)
}

// GetPosition 没有仓位时返回 nil, nil
func (l *Ledger) GetPosition(ctx context.Context, key model.StrategyKey) (*model.PositionRecord, error) {
	b, err := l.store.Get(ctx, l.positionKey(key))
	if stderrors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "get position", key)
	}
	var rec model.PositionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, storeErr(err, "decode position", key)
	}
	return &rec, nil
}

func (l *Ledger) SetPosition(ctx context.Context, key model.StrategyKey, rec *model.PositionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return storeErr(err, "encode position", key)
	}
	if err := l.store.Set(ctx, l.positionKey(key), b); err != nil {
		return storeErr(err, "set position", key)
	}
	return l.markSeen(ctx, key)
}

func (l *Ledger) ClearPosition(ctx context.Context, key model.StrategyKey) error {
	if err := l.store.Delete(ctx, l.positionKey(key)); err != nil {
		return storeErr(err, "clear position", key)
	}
	return nil
}

// CanBuy 没有任何仓位记录（包括开仓中的预占）时才能买
func (l *Ledger) CanBuy(ctx context.Context, key model.StrategyKey) (bool, error) {
	rec, err := l.GetPosition(ctx, key)
	if err != nil {
		return false, err
	}
	return rec == nil, nil
}

// CanSell 有已成交的仓位且数量大于 0
func (l *Ledger) CanSell(ctx context.Context, key model.StrategyKey) (bool, error) {
	rec, err := l.GetPosition(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.IsActive() && rec.Quantity > 0, nil
}

// ReservePosition 原子写入一条 pending 记录，成功才允许开仓
// 进程异常退出时预占在 TTL 后自动释放
func (l *Ledger) ReservePosition(ctx context.Context, key model.StrategyKey) (bool, error) {
	b, err := json.Marshal(&model.PositionRecord{Status: model.PositionPending, OpenedAt: l.now()})
	if err != nil {
		return false, storeErr(err, "encode reservation", key)
	}
	ok, err := l.store.SetNX(ctx, l.positionKey(key), b, l.reservationTTL)
	if err != nil {
		return false, storeErr(err, "reserve position", key)
	}
	return ok, nil
}

// ReleaseReservation 只删除 pending 记录，已成交的仓位不受影响
func (l *Ledger) ReleaseReservation(ctx context.Context, key model.StrategyKey) error {
	rec, err := l.GetPosition(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != model.PositionPending {
		return nil
	}
	return l.ClearPosition(ctx, key)
}

// GetBalance 返回下一次买入的金额，从未写过时使用默认值
func (l *Ledger) GetBalance(ctx context.Context, key model.StrategyKey) (float64, error) {
	b, err := l.store.Get(ctx, l.balanceKey(key))
	if stderrors.Is(err, ErrNotFound) {
		return l.defaultAmount, nil
	}
	if err != nil {
		return 0, storeErr(err, "get balance", key)
	}
	var rec balanceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return 0, storeErr(err, "decode balance", key)
	}
	return rec.Amount, nil
}

func (l *Ledger) SetBalance(ctx context.Context, key model.StrategyKey, amount float64) error {
	b, err := json.Marshal(&balanceRecord{Amount: amount, UpdatedAt: l.now()})
	if err != nil {
		return storeErr(err, "encode balance", key)
	}
	if err := l.store.Set(ctx, l.balanceKey(key), b); err != nil {
		return storeErr(err, "set balance", key)
	}
	return l.markSeen(ctx, key)
}

// IsFirstTrade 从未写过仓位和资金
func (l *Ledger) IsFirstTrade(ctx context.Context, key model.StrategyKey) (bool, error) {
	_, err := l.store.Get(ctx, l.seenKey(key))
	if stderrors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, storeErr(err, "get seen marker", key)
	}
	return false, nil
}

func (l *Ledger) markSeen(ctx context.Context, key model.StrategyKey) error {
	if err := l.store.Set(ctx, l.seenKey(key), []byte(l.now().UTC().Format(time.RFC3339))); err != nil {
		return storeErr(err, "mark seen", key)
	}
	return nil
}
