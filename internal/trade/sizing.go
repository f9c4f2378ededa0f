package trade

import (
	"context"
	stderrors "errors"
	"tradeflow/internal/exchange"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

// plan 下单参数
type plan struct {
	side      model.OrderSide
	orderType model.OrderType
	size      float64
	unit      model.SizeUnit
	price     float64 // 限价单价格
	amount    float64 // 按金额买入时花费的USDT，按数量买入为 0

	position *model.PositionRecord // 卖出时对应的仓位
}

// size 首单和后续订单的资金规则：
//
//	买入首单：initialQuantity > initialAmount > 默认金额
//	买入后续：账本中记录的金额
//	卖出首单：initialQuantity，amount 模式必须先有买入，quantity 模式退回仓位数量
//	卖出后续：账本中记录的仓位数量
func (o *Orchestrator) size(ctx context.Context, key model.StrategyKey, sig *model.Signal, symbol string, first bool) (*plan, error) {
	p := &plan{orderType: model.Market}
	// 限价单没有价格时按市价处理
	if sig.OrderType == model.Limit && sig.HasPrice() {
		p.orderType = model.Limit
		p.price = *sig.Price
	}

	if sig.Action == model.ActionBuy {
		p.side = model.Buy
		if first && sig.InitialQuantity != nil {
			p.size = *sig.InitialQuantity
			p.unit = model.SizeBase
			return p, nil
		}

		amount := 0.0
		switch {
		case first && sig.InitialAmount != nil:
			amount = *sig.InitialAmount
		case first:
			amount = o.ledger.DefaultAmount()
		default:
			bal, err := o.ledger.GetBalance(ctx, key)
			if err != nil {
				return nil, err
			}
			amount = bal
		}
		if amount <= 0 {
			return nil, errors.WithCode(ecode.InsufficientFunds, "no trading balance for %s", key)
		}
		if err := o.checkFunds(ctx, symbol, amount); err != nil {
			return nil, err
		}
		p.amount = amount
		if p.orderType == model.Limit {
			p.size = amount / p.price
			p.unit = model.SizeBase
		} else {
			p.size = amount
			p.unit = model.SizeQuote
		}
		return p, nil
	}

	p.side = model.Sell
	p.unit = model.SizeBase
	pos, err := o.ledger.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	if pos.IsActive() {
		p.position = pos
	}

	switch {
	case first && sig.InitialQuantity != nil:
		p.size = *sig.InitialQuantity
	case first && sig.RecurringMode == model.RecurringAmount:
		return nil, errors.WithCode(ecode.InvalidState, "amount mode requires an opening buy before selling %s", key)
	case p.position != nil && p.position.Quantity > 0:
		p.size = p.position.Quantity
	default:
		return nil, errors.WithCode(ecode.InvalidState, "no position quantity to sell for %s", key)
	}
	return p, nil
}

// checkFunds 可用的计价币不足时拒绝
func (o *Orchestrator) checkFunds(ctx context.Context, symbol string, amount float64) error {
	_, quote := exchange.SplitSymbol(symbol)
	if quote == "" {
		quote = "USDT"
	}
	bal, err := o.ex.GetBalance(ctx, quote)
	available := 0.0
	switch {
	case err == nil:
		available = bal.Available
	case stderrors.Is(err, exchange.ErrUnavailable):
	default:
		return errors.Wrap(err, ecode.ExchangeErr, "get balance")
	}
	if available < amount {
		return errors.WithCode(ecode.InsufficientFunds, "available %s %.8g below required %.8g", quote, available, amount)
	}
	return nil
}

// submit 限价单需要价格，否则按市价；配置了止盈止损时挂保护单
func (o *Orchestrator) submit(ctx context.Context, symbol string, p *plan) (*model.OrderResponse, error) {
	if o.protection.Enabled() {
		return o.ex.PlaceOrderWithProtection(ctx, model.OrderRequest{
			Symbol:    symbol,
			Side:      p.side,
			OrderType: p.orderType,
			Size:      p.size,
			Unit:      p.unit,
			Price:     p.price,
		}, o.protection)
	}
	if p.orderType == model.Limit {
		return o.ex.PlaceLimitOrder(ctx, symbol, p.side, p.size, p.price)
	}
	return o.ex.PlaceMarketOrder(ctx, symbol, p.side, p.size, p.unit)
}
