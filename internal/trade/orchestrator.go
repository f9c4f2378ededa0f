package trade

import (
	"context"
	stderrors "errors"
	"github.com/goccy/go-json"
	"sync"
	"time"
	"tradeflow/internal/exchange"
	"tradeflow/internal/ledger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/model"
	"tradeflow/internal/report"
	"tradeflow/internal/risk"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/utils"
)

// 成交后取价失败时的重试，取价是幂等的
const (
	tickerRetries = 3
	tickerDelay   = 200 * time.Millisecond
	reportTimeout = 10 * time.Second
)

type Options struct {
	Protection model.ProtectionRequest
	Reporter   report.Reporter
	Metrics    *metrics.Metrics
}

// Orchestrator 把一条信号变成最多一笔订单，并更新策略账本
// 同一个 StrategyKey 的信号串行执行
type Orchestrator struct {
	ex         exchange.Exchange
	ledger     *ledger.Ledger
	guard      *risk.Guard
	reporter   report.Reporter
	metrics    *metrics.Metrics
	protection model.ProtectionRequest

	locks   *keyLocks
	reports sync.WaitGroup
	now     func() time.Time
}

func NewOrchestrator(ex exchange.Exchange, l *ledger.Ledger, g *risk.Guard, opts Options) *Orchestrator {
	o := &Orchestrator{
		ex:         ex,
		ledger:     l,
		guard:      g,
		reporter:   opts.Reporter,
		metrics:    opts.Metrics,
		protection: opts.Protection,
		locks:      newKeyLocks(),
		now:        time.Now,
	}
	if o.reporter == nil {
		o.reporter = report.Nop{}
	}
	return o
}

// Wait 等待尚未完成的成交上报，退出前调用
func (o *Orchestrator) Wait() {
	o.reports.Wait()
}

// Execute 执行一条信号
// 调用方断开不会中断执行，避免交易所和账本不一致
func (o *Orchestrator) Execute(ctx context.Context, sig *model.Signal) (*Details, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	d, err := o.execute(ctx, sig)

	action := "unknown"
	if sig != nil {
		action = string(sig.Action)
	}
	o.metrics.ObserveSignal(action, ecode.Text(errors.CodeOf(err)), time.Since(start))
	if err != nil {
		logger.Warn("signal rejected",
			logger.Pair("action", action),
			logger.Pair("code", errors.CodeOf(err)),
			logger.Pair("err", err.Error()))
	}
	return d, err
}

func (o *Orchestrator) execute(ctx context.Context, sig *model.Signal) (d *Details, err error) {
	// 1. action
	if sig == nil || !sig.Action.Valid() {
		return nil, errors.WithCode(ecode.MalformedSignal, "invalid action")
	}
	key := sig.Key()
	unlock := o.locks.lock(key.String())
	defer unlock()

	// 2. 币对
	symbol, ok, err := o.ex.ValidateSymbol(ctx, sig.Symbol)
	if err != nil {
		return nil, errors.Wrap(err, ecode.ExchangeErr, "validate symbol")
	}
	if !ok {
		return nil, errors.WithCode(ecode.InvalidState, "unknown instrument %s", sig.Symbol)
	}

	// 冷却键跨策略共享，检查到打点之间要独占
	cdUnlock := o.locks.lock("cooldown|" + risk.CooldownKey(symbol, string(sig.Action), sig.Subcategory))
	defer cdUnlock()

	// 3. 状态
	if sig.Action == model.ActionBuy {
		var reserved bool
		reserved, err = o.ledger.ReservePosition(ctx, key)
		if err != nil {
			return nil, err
		}
		if !reserved {
			return nil, errors.WithCode(ecode.InvalidState, "position already open for %s", key)
		}
		// 写入正式仓位之前任何失败都要释放预占
		defer func() {
			if err == nil {
				return
			}
			if rerr := o.ledger.ReleaseReservation(ctx, key); rerr != nil {
				logger.Errorf("release reservation %s: %v", key, rerr)
			}
		}()
	} else {
		can, err := o.ledger.CanSell(ctx, key)
		if err != nil {
			return nil, err
		}
		if !can {
			return nil, errors.WithCode(ecode.InvalidState, "no open position for %s", key)
		}
	}

	// 4. 冷却
	if err := o.guard.CheckCooldown(symbol, string(sig.Action), sig.Subcategory); err != nil {
		return nil, err
	}
	// 5. 每日限额
	if err := o.guard.TakeDailySlot(); err != nil {
		return nil, err
	}

	// 6. 计算下单数量
	first, err := o.ledger.IsFirstTrade(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := o.size(ctx, key, sig, symbol, first)
	if err != nil {
		return nil, err
	}

	// 7. 下单
	resp, err := o.submit(ctx, symbol, p)
	if err != nil {
		return nil, errors.Wrap(err, ecode.ExchangeErr, "place order")
	}
	o.metrics.OrderPlaced(string(resp.Side), string(p.orderType), resp.Degraded)
	logger.Info("order placed",
		logger.Pair("key", key.String()),
		logger.Pair("symbol", symbol),
		logger.Pair("side", resp.Side),
		logger.Pair("size", resp.Size),
		logger.Pair("unit", resp.Unit),
		logger.Pair("order_id", resp.OrderId),
		logger.Pair("degraded", resp.Degraded))

	// 8. 更新账本
	o.guard.Stamp(symbol, string(sig.Action), sig.Subcategory)
	d = &Details{
		Action:       sig.Action,
		Symbol:       symbol,
		StrategyKey:  key.String(),
		OrderType:    p.orderType,
		Size:         resp.Size,
		Unit:         resp.Unit,
		OrderId:      resp.OrderId,
		FirstTrade:   first,
		Protected:    resp.AlgoId != "",
		AlgoId:       resp.AlgoId,
		Degraded:     resp.Degraded,
		DegradedNote: resp.DegradedNote,
		Timestamp:    o.now().UTC(),
	}
	if sig.Action == model.ActionBuy {
		err = o.settleBuy(ctx, key, symbol, p, resp, d)
	} else {
		err = o.settleSell(ctx, key, sig, symbol, p, resp, d)
	}
	if err != nil {
		return nil, err
	}

	o.report(sig, d)
	return d, nil
}

// fillPrice 成交后的参考价，行情取不到时退回限价
func (o *Orchestrator) fillPrice(ctx context.Context, symbol string, p *plan) (float64, error) {
	var t *model.Ticker
	err := utils.Retry(ctx, tickerRetries, tickerDelay, true, func() error {
		var err error
		t, err = o.ex.GetTicker(ctx, symbol)
		return err
	})
	if err == nil {
		return t.Last, nil
	}
	if p.price > 0 {
		logger.Warnf("ticker %s unavailable after order, using limit price %v: %v", symbol, p.price, err)
		return p.price, nil
	}
	return 0, err
}

func (o *Orchestrator) settleBuy(ctx context.Context, key model.StrategyKey, symbol string, p *plan, resp *model.OrderResponse, d *Details) error {
	price, err := o.fillPrice(ctx, symbol, p)
	if err != nil {
		// 订单已经成交但无法估算数量，需要人工核对
		logger.Error("buy filled but price unknown, ledger not updated",
			logger.Pair("key", key.String()), logger.Pair("order_id", resp.OrderId), logger.Pair("err", err.Error()))
		return errors.Wrapf(err, ecode.ExchangeErr, "order %s placed but fill price unknown", resp.OrderId)
	}

	spent, qty := p.amount, 0.0
	switch {
	case resp.Unit == model.SizeBase && spent <= 0:
		// 按数量买入
		qty = filledSize(p, resp)
		spent = qty * price
	case resp.Unit == model.SizeBase:
		// 按金额的限价单，交易所按 lotSz 取整后花费同比缩小
		qty = filledSize(p, resp)
		if p.size > 0 && qty != p.size {
			spent = spent * qty / p.size
		}
	default:
		qty = spent / price
	}

	rec := &model.PositionRecord{
		Quantity:   qty,
		EntryPrice: price,
		UsdtSpent:  spent,
		OrderId:    resp.OrderId,
		OpenedAt:   o.now().UTC(),
		Status:     model.PositionActive,
	}
	if err := o.ledger.SetPosition(ctx, key, rec); err != nil {
		logger.Error("buy filled but position not saved",
			logger.Pair("key", key.String()), logger.Pair("order_id", resp.OrderId), logger.Pair("err", err.Error()))
		return err
	}

	d.Quantity = qty
	d.Price = price
	d.UsdtAmount = spent
	return nil
}

func (o *Orchestrator) settleSell(ctx context.Context, key model.StrategyKey, sig *model.Signal, symbol string, p *plan, resp *model.OrderResponse, d *Details) error {
	price, err := o.fillPrice(ctx, symbol, p)
	if err != nil {
		if p.position == nil || p.position.EntryPrice <= 0 {
			return errors.Wrapf(err, ecode.ExchangeErr, "order %s placed but fill price unknown", resp.OrderId)
		}
		// 卖单已经成交，仓位必须清掉，按开仓价估算
		logger.Warnf("ticker %s unavailable after sell, estimating with entry price: %v", symbol, err)
		price = p.position.EntryPrice
	}

	qty := filledSize(p, resp)
	proceeds := qty * price
	next := proceeds
	if sig.RecurringMode == model.RecurringQuantity && p.position != nil {
		next = p.position.UsdtSpent
	}

	if err := o.ledger.SetBalance(ctx, key, next); err != nil {
		return err
	}
	if err := o.ledger.ClearPosition(ctx, key); err != nil {
		return err
	}

	d.Quantity = qty
	d.Price = price
	d.UsdtAmount = proceeds
	d.NextBalance = next
	if pos := p.position; pos != nil && pos.Quantity > 0 {
		cost := pos.UsdtSpent * qty / pos.Quantity
		pnl := proceeds - cost
		d.RealizedPnl = &pnl
	}
	return nil
}

// filledSize 交易所实际接受的币数量，可能已按 lotSz 向下取整
func filledSize(p *plan, resp *model.OrderResponse) float64 {
	if resp.Unit == model.SizeBase && resp.Size > 0 {
		return resp.Size
	}
	return p.size
}

// report 异步写入成交记录，失败只记日志
func (o *Orchestrator) report(sig *model.Signal, d *Details) {
	raw, err := json.Marshal(sig)
	if err != nil {
		logger.Warnf("encode signal for report: %v", err)
	}
	side := model.Buy
	if d.Action == model.ActionSell {
		side = model.Sell
	}
	rec := &model.TradeRecord{
		ID:            report.NextID(),
		OrderId:       d.OrderId,
		AlgoId:        d.AlgoId,
		StrategyKey:   d.StrategyKey,
		Symbol:        d.Symbol,
		Side:          side,
		OrderType:     d.OrderType,
		Quantity:      d.Quantity,
		Price:         d.Price,
		UsdtAmount:    d.UsdtAmount,
		RealizedPnl:   d.RealizedPnl,
		RecurringMode: sig.RecurringMode,
		FirstTrade:    d.FirstTrade,
		Degraded:      d.Degraded,
		Signal:        raw,
		CreatedAt:     d.Timestamp,
	}

	o.reports.Add(1)
	go func() {
		defer o.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := o.reporter.Report(ctx, rec); err != nil {
			o.metrics.ReportFailed()
			logger.Error("report trade failed", logger.Pair("order_id", rec.OrderId), logger.Pair("err", err.Error()))
		}
	}()
}

// StateView 某个策略当前的账本状态
type StateView struct {
	StrategyKey string                `json:"strategy_key"`
	Position    *model.PositionRecord `json:"position"`
	Balance     float64               `json:"balance"`
	FirstTrade  bool                  `json:"first_trade"`
	CanBuy      bool                  `json:"can_buy"`
	CanSell     bool                  `json:"can_sell"`
	TradesToday int                   `json:"trades_today"`
}

func (o *Orchestrator) State(ctx context.Context, key model.StrategyKey) (*StateView, error) {
	pos, err := o.ledger.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	bal, err := o.ledger.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	first, err := o.ledger.IsFirstTrade(ctx, key)
	if err != nil {
		return nil, err
	}
	return &StateView{
		StrategyKey: key.String(),
		Position:    pos,
		Balance:     bal,
		FirstTrade:  first,
		CanBuy:      pos == nil,
		CanSell:     pos.IsActive() && pos.Quantity > 0,
		TradesToday: o.guard.TradesToday(),
	}, nil
}

// Balance 交易所账户余额
func (o *Orchestrator) Balance(ctx context.Context, currency string) (*model.Balance, error) {
	b, err := o.ex.GetBalance(ctx, currency)
	if stderrors.Is(err, exchange.ErrUnavailable) {
		return nil, errors.Wrap(err, ecode.NotFoundErr, "balance")
	}
	if err != nil {
		return nil, errors.Wrap(err, ecode.ExchangeErr, "balance")
	}
	return b, nil
}
