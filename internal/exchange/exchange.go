package exchange

import (
	"context"
	"tradeflow/internal/model"
)

// Exchange 交易所接口，现货
type Exchange interface {
	// 查询余额，币种不存在时返回 ErrUnavailable
	GetBalance(ctx context.Context, currency string) (*model.Balance, error)
	// 获取最新行情，没有数据时返回 ErrUnavailable
	GetTicker(ctx context.Context, symbol string) (*model.Ticker, error)
	// 校验币对是否存在，返回交易所实际使用的 instId
	ValidateSymbol(ctx context.Context, symbol string) (instId string, ok bool, err error)

	PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, size float64, unit model.SizeUnit) (*model.OrderResponse, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, size, price float64) (*model.OrderResponse, error)
	// 先下主单，再尽力挂止盈止损；保护单失败不回滚主单，只标记 Degraded
	PlaceOrderWithProtection(ctx context.Context, req model.OrderRequest, p model.ProtectionRequest) (*model.OrderResponse, error)
}

// SymbolVariants 交易所对分隔符的写法不统一，按顺序尝试这些写法
// DOGE-USDT -> DOGE-USDT, DOGEUSDT, DOGE_USDT, DOGE-USDC
func SymbolVariants(symbol string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(symbol)
	base, quote := SplitSymbol(symbol)
	if quote == "" {
		return out
	}
	add(base + quote)
	add(base + "_" + quote)
	switch quote {
	case "USDT":
		add(base + "-USDC")
	case "USDC":
		add(base + "-USDT")
	}
	return out
}

// SplitSymbol DOGE-USDT -> DOGE, USDT
func SplitSymbol(symbol string) (base, quote string) {
	for i := 0; i < len(symbol); i++ {
		switch symbol[i] {
		case '-', '/', '_':
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, ""
}

// ProtectionPrices 根据参考价计算止损、止盈触发价
// 买单止损在下方、止盈在上方；卖单相反
func ProtectionPrices(side model.OrderSide, ref float64, p model.ProtectionRequest) (sl, tp float64) {
	if ref <= 0 {
		return 0, 0
	}
	if side == model.Buy {
		if p.StopLossPct > 0 {
			sl = ref * (1 - p.StopLossPct/100)
		}
		if p.TakeProfitPct > 0 {
			tp = ref * (1 + p.TakeProfitPct/100)
		}
		return
	}
	if p.StopLossPct > 0 {
		sl = ref * (1 + p.StopLossPct/100)
	}
	if p.TakeProfitPct > 0 {
		tp = ref * (1 - p.TakeProfitPct/100)
	}
	return
}
