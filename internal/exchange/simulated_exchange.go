package exchange

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"math/rand"
	"strings"
	"sync"
	"time"
	"tradeflow/internal/model"
)

// 可注入失败的操作
const (
	OpBalance  = "balance"
	OpTicker   = "ticker"
	OpValidate = "validate"
	OpOrder    = "order"
)

// SimulatedExchange 内存版交易所，dry-run 和测试使用
// 订单立即按当前价成交，并同步更新余额
type SimulatedExchange struct {
	mu       sync.Mutex
	balances map[string]*model.Balance
	prices   map[string]float64
	orders   []*model.OrderResponse
	failures map[string]error

	jitter         float64 // 每次取价的随机波动，0.005 表示 ±0.5%
	autoList       bool    // 未知币对也视为存在，并随机一个初始价
	failProtection bool
	rnd            *rand.Rand
}

var _ Exchange = (*SimulatedExchange)(nil)

func NewSimulatedExchange() *SimulatedExchange {
	return &SimulatedExchange{
		balances: make(map[string]*model.Balance),
		prices:   make(map[string]float64),
		failures: make(map[string]error),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetInitialPrice 设置价格，同时上架该币对
func (s *SimulatedExchange) SetInitialPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

func (s *SimulatedExchange) SetBalance(currency string, available float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ccy := strings.ToUpper(currency)
	s.balances[ccy] = &model.Balance{Currency: ccy, Total: available, Available: available}
}

func (s *SimulatedExchange) SetJitter(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jitter = pct
}

func (s *SimulatedExchange) AutoList(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoList = on
}

// FailNext 下一次 op 调用返回 err
func (s *SimulatedExchange) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// FailProtection 保护单一直失败
func (s *SimulatedExchange) FailProtection(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProtection = on
}

// Orders 已成交订单的副本
func (s *SimulatedExchange) Orders() []model.OrderResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OrderResponse, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

func (s *SimulatedExchange) takeFailure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func (s *SimulatedExchange) GetBalance(ctx context.Context, currency string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpBalance); err != nil {
		return nil, err
	}
	b, ok := s.balances[strings.ToUpper(currency)]
	if !ok {
		return nil, fmt.Errorf("balance %s: %w", currency, ErrUnavailable)
	}
	cp := *b
	return &cp, nil
}

func (s *SimulatedExchange) GetTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpTicker); err != nil {
		return nil, err
	}
	price, ok := s.priceLocked(symbol)
	if !ok {
		return nil, fmt.Errorf("ticker %s: %w", symbol, ErrUnavailable)
	}
	return &model.Ticker{Symbol: symbol, Last: price, Bid: price, Ask: price, Time: time.Now()}, nil
}

func (s *SimulatedExchange) ValidateSymbol(ctx context.Context, symbol string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpValidate); err != nil {
		return "", false, err
	}
	for _, v := range SymbolVariants(strings.ToUpper(symbol)) {
		if _, ok := s.prices[v]; ok {
			return v, true, nil
		}
	}
	if s.autoList {
		s.prices[strings.ToUpper(symbol)] = 10000 + s.rnd.Float64()*2000
		return strings.ToUpper(symbol), true, nil
	}
	return "", false, nil
}

func (s *SimulatedExchange) PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, size float64, unit model.SizeUnit) (*model.OrderResponse, error) {
	return s.PlaceOrderWithProtection(ctx, model.OrderRequest{
		Symbol: symbol, Side: side, OrderType: model.Market, Size: size, Unit: unit,
	}, model.ProtectionRequest{})
}

func (s *SimulatedExchange) PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, size, price float64) (*model.OrderResponse, error) {
	return s.PlaceOrderWithProtection(ctx, model.OrderRequest{
		Symbol: symbol, Side: side, OrderType: model.Limit, Size: size, Unit: model.SizeBase, Price: price,
	}, model.ProtectionRequest{})
}

func (s *SimulatedExchange) PlaceOrderWithProtection(ctx context.Context, req model.OrderRequest, p model.ProtectionRequest) (*model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpOrder); err != nil {
		return nil, err
	}

	symbol := strings.ToUpper(req.Symbol)
	last, ok := s.priceLocked(symbol)
	if !ok {
		return nil, &Error{Op: "place order", Stage: StageRejected, Code: "51001", Msg: "instrument " + symbol + " does not exist"}
	}
	fill := last
	if req.OrderType == model.Limit && req.Price > 0 {
		fill = req.Price
	}

	base, quote := SplitSymbol(symbol)
	baseQty, quoteQty := req.Size, req.Size*fill
	unit := model.SizeBase
	if req.OrderType == model.Market && req.Unit == model.SizeQuote {
		baseQty, quoteQty = req.Size/fill, req.Size
		unit = model.SizeQuote
	}
	if baseQty <= 0 {
		return nil, &Error{Op: "place order", Stage: StageRejected, Code: "51000", Msg: "invalid size"}
	}

	if req.Side == model.Buy {
		if !s.debitLocked(quote, quoteQty) {
			return nil, &Error{Op: "place order", Stage: StageRejected, Code: "51008", Msg: "insufficient " + quote}
		}
		s.creditLocked(base, baseQty)
	} else {
		if !s.debitLocked(base, baseQty) {
			return nil, &Error{Op: "place order", Stage: StageRejected, Code: "51008", Msg: "insufficient " + base}
		}
		s.creditLocked(quote, quoteQty)
	}

	resp := &model.OrderResponse{
		OrderId:   uuid.NewString(),
		ClientId:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		Symbol:    symbol,
		Side:      req.Side,
		Size:      req.Size,
		Unit:      unit,
		CreatedAt: time.Now(),
	}
	if p.Enabled() {
		if s.failProtection {
			resp.Degraded = true
			resp.DegradedNote = "simulated protection failure"
		} else {
			resp.AlgoId = uuid.NewString()
			resp.SLTriggerPx, resp.TPTriggerPx = ProtectionPrices(req.Side, fill, p)
		}
	}
	s.orders = append(s.orders, resp)
	cp := *resp
	return &cp, nil
}

// priceLocked 返回当前价，并按 jitter 做小幅浮动
func (s *SimulatedExchange) priceLocked(symbol string) (float64, bool) {
	price, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	if s.jitter > 0 {
		price += (s.rnd.Float64()*2 - 1) * s.jitter * price
		s.prices[strings.ToUpper(symbol)] = price
	}
	return price, true
}

func (s *SimulatedExchange) debitLocked(ccy string, amount float64) bool {
	b, ok := s.balances[ccy]
	// 浮点误差容忍
	if !ok || b.Available+1e-9 < amount {
		return false
	}
	b.Available -= amount
	b.Total -= amount
	if b.Available < 0 {
		b.Available = 0
	}
	return true
}

func (s *SimulatedExchange) creditLocked(ccy string, amount float64) {
	b, ok := s.balances[ccy]
	if !ok {
		b = &model.Balance{Currency: ccy}
		s.balances[ccy] = b
	}
	b.Available += amount
	b.Total += amount
}
