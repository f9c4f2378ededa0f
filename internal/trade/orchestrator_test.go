package trade

import (
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	"math"
	"sync"
	"testing"
	"time"
	"tradeflow/internal/exchange"
	"tradeflow/internal/ledger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/model"
	"tradeflow/internal/risk"
	perrors "tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

type captureReporter struct {
	mu   sync.Mutex
	recs []*model.TradeRecord
}

func (r *captureReporter) Report(_ context.Context, rec *model.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

type testEnv struct {
	ex     *exchange.SimulatedExchange
	store  *ledger.MemoryStore
	ledger *ledger.Ledger
	o      *Orchestrator
	rep    *captureReporter
}

func newTestEnv(t *testing.T, cooldown time.Duration, dailyLimit int, opts ...func(*Options)) *testEnv {
	t.Helper()
	ex := exchange.NewSimulatedExchange()
	ex.SetInitialPrice("DOGE-USDT", 0.08)
	ex.SetBalance("USDT", 1000)

	store := ledger.NewMemoryStore()
	l := ledger.New(store, "test", 10, time.Minute)
	rep := &captureReporter{}
	o := Options{Reporter: rep, Metrics: metrics.New("test")}
	for _, fn := range opts {
		fn(&o)
	}
	return &testEnv{
		ex:     ex,
		store:  store,
		ledger: l,
		o:      NewOrchestrator(ex, l, risk.NewGuard(cooldown, dailyLimit), o),
		rep:    rep,
	}
}

func f64(v float64) *float64 { return &v }

func dogeSignal(action model.Action, mode model.RecurringMode) *model.Signal {
	return &model.Signal{
		Action:        action,
		Symbol:        "DOGE-USDT",
		Coin:          "DOGE",
		Category:      "momentum",
		Subcategory:   "1m",
		OrderType:     model.Market,
		RecurringMode: mode,
	}
}

var dogeKey = model.NewStrategyKey("DOGE", "momentum", "1m")

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func wantCode(t *testing.T, err error, code int) {
	t.Helper()
	if !perrors.HasCode(err, code) {
		t.Fatalf("err = %v, want code %d (%s)", err, code, ecode.Text(code))
	}
}

func runRecycling(t *testing.T, mode model.RecurringMode, wantBalance float64) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	buy := dogeSignal(model.ActionBuy, mode)
	buy.InitialAmount = f64(100)
	d, err := env.o.Execute(ctx, buy)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !d.FirstTrade || d.Unit != model.SizeQuote || d.Size != 100 {
		t.Errorf("buy details = %+v", d)
	}

	pos, _ := env.ledger.GetPosition(ctx, dogeKey)
	if pos == nil || !pos.IsActive() || !approx(pos.Quantity, 1250) || pos.UsdtSpent != 100 || !approx(pos.EntryPrice, 0.08) {
		t.Fatalf("position after buy = %+v", pos)
	}
	// 买入不修改资金记录
	if bal, _ := env.ledger.GetBalance(ctx, dogeKey); bal != 10 {
		t.Errorf("balance after buy = %v, want default 10", bal)
	}

	env.ex.SetInitialPrice("DOGE-USDT", 0.085)
	d, err = env.o.Execute(ctx, dogeSignal(model.ActionSell, mode))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !approx(d.Size, 1250) || d.FirstTrade {
		t.Errorf("sell details = %+v", d)
	}
	if d.RealizedPnl == nil || !approx(*d.RealizedPnl, 6.25) {
		t.Errorf("realized pnl = %v", d.RealizedPnl)
	}
	if pos, _ := env.ledger.GetPosition(ctx, dogeKey); pos != nil {
		t.Errorf("position should be cleared, got %+v", pos)
	}
	bal, _ := env.ledger.GetBalance(ctx, dogeKey)
	if !approx(bal, wantBalance) {
		t.Fatalf("balance after sell = %v, want %v", bal, wantBalance)
	}

	// 下一次买入使用账本中的金额
	d, err = env.o.Execute(ctx, dogeSignal(model.ActionBuy, mode))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if !approx(d.Size, wantBalance) || d.Unit != model.SizeQuote {
		t.Errorf("second buy size = %v %s, want %v quote", d.Size, d.Unit, wantBalance)
	}
	orders := env.ex.Orders()
	if len(orders) != 3 || !approx(orders[2].Size, wantBalance) {
		t.Errorf("orders = %+v", orders)
	}
}

func TestOrchestrator_AmountModeCompounds(t *testing.T) {
	runRecycling(t, model.RecurringAmount, 106.25)
}

func TestOrchestrator_QuantityModeRecycles(t *testing.T) {
	runRecycling(t, model.RecurringQuantity, 100)
}

func TestOrchestrator_SellWithoutPosition(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	_, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringAmount))
	wantCode(t, err, ecode.InvalidState)
	if n := len(env.ex.Orders()); n != 0 {
		t.Errorf("%d orders submitted, want none", n)
	}
}

// 仓位存在但从未标记过（例如旧版本写入的数据）时按首单规则处理
func TestOrchestrator_FirstTradeSellRules(t *testing.T) {
	ctx := context.Background()
	legacy, _ := json.Marshal(&model.PositionRecord{Quantity: 500, EntryPrice: 0.08, UsdtSpent: 40, Status: model.PositionActive})
	env := newTestEnv(t, 0, 0)
	env.ex.SetBalance("DOGE", 1000)

	_ = env.store.Set(ctx, "test:position:"+dogeKey.String(), legacy)
	_, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringAmount))
	wantCode(t, err, ecode.InvalidState)
	if n := len(env.ex.Orders()); n != 0 {
		t.Fatalf("amount mode first sell must not submit an order, got %d", n)
	}

	d, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringQuantity))
	if err != nil {
		t.Fatalf("quantity mode first sell: %v", err)
	}
	if !approx(d.Size, 500) {
		t.Errorf("sold %v, want the recorded 500", d.Size)
	}
	if bal, _ := env.ledger.GetBalance(ctx, dogeKey); bal != 40 {
		t.Errorf("balance = %v, want original spend 40", bal)
	}

	// initialQuantity 优先
	_ = env.store.Set(ctx, "test:position:"+dogeKey.String(), legacy)
	_ = env.store.Delete(ctx, "test:seen:"+dogeKey.String())
	sell := dogeSignal(model.ActionSell, model.RecurringAmount)
	sell.InitialQuantity = f64(200)
	if d, err = env.o.Execute(ctx, sell); err != nil {
		t.Fatalf("initial quantity sell: %v", err)
	}
	if !approx(d.Size, 200) {
		t.Errorf("sold %v, want 200", d.Size)
	}
}

func TestOrchestrator_BackToBackBuys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Minute, 0)

	buy := dogeSignal(model.ActionBuy, model.RecurringAmount)
	buy.InitialAmount = f64(100)
	if _, err := env.o.Execute(ctx, buy); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	_, err := env.o.Execute(ctx, buy)
	wantCode(t, err, ecode.InvalidState)
	if n := len(env.ex.Orders()); n != 1 {
		t.Errorf("orders = %d, want 1", n)
	}
	pos, _ := env.ledger.GetPosition(ctx, dogeKey)
	if pos == nil || !pos.IsActive() || !approx(pos.Quantity, 1250) {
		t.Errorf("first position must stand alone, got %+v", pos)
	}
}

func TestOrchestrator_CooldownReplay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Minute, 0)

	buy := dogeSignal(model.ActionBuy, model.RecurringAmount)
	if _, err := env.o.Execute(ctx, buy); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringAmount)); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// 仓位已清，但 buy 仍在冷却期
	_, err := env.o.Execute(ctx, buy)
	wantCode(t, err, ecode.InvalidState)
	if n := len(env.ex.Orders()); n != 2 {
		t.Errorf("orders = %d, want 2", n)
	}
	if ok, _ := env.ledger.CanBuy(ctx, dogeKey); !ok {
		t.Error("rejected buy must release its reservation")
	}
}

func TestOrchestrator_DailyLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 1)

	if _, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringAmount))
	wantCode(t, err, ecode.InvalidState)
	if ok, _ := env.ledger.CanSell(ctx, dogeKey); !ok {
		t.Error("position must survive a rejected sell")
	}
}

func TestOrchestrator_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	env.ex.SetBalance("USDT", 50)

	buy := dogeSignal(model.ActionBuy, model.RecurringAmount)
	buy.InitialAmount = f64(100)
	_, err := env.o.Execute(ctx, buy)
	wantCode(t, err, ecode.InsufficientFunds)
	if ok, _ := env.ledger.CanBuy(ctx, dogeKey); !ok {
		t.Error("reservation should be released")
	}
	if first, _ := env.ledger.IsFirstTrade(ctx, dogeKey); !first {
		t.Error("a failed buy must not mark the key as traded")
	}

	// 交易所没有该币种余额视为 0
	env2 := newTestEnv(t, 0, 0)
	env2.ex = exchange.NewSimulatedExchange()
	env2.ex.SetInitialPrice("DOGE-USDT", 0.08)
	env2.o.ex = env2.ex
	_, err = env2.o.Execute(ctx, buy)
	wantCode(t, err, ecode.InsufficientFunds)
}

func TestOrchestrator_DefaultAmountAndInitialQuantity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	d, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if d.Size != 10 || !approx(d.Quantity, 125) {
		t.Errorf("default amount buy = %+v", d)
	}

	other := &model.Signal{Action: model.ActionBuy, Symbol: "DOGE-USDT", Coin: "DOGE", Category: "grid", OrderType: model.Market,
		RecurringMode: model.RecurringAmount, InitialQuantity: f64(500), InitialAmount: f64(999)}
	d, err = env.o.Execute(ctx, other)
	if err != nil {
		t.Fatalf("quantity buy: %v", err)
	}
	if d.Unit != model.SizeBase || d.Size != 500 || !approx(d.UsdtAmount, 40) {
		t.Errorf("initial quantity buy = %+v", d)
	}
}

func TestOrchestrator_LimitOrders(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	buy := dogeSignal(model.ActionBuy, model.RecurringAmount)
	buy.OrderType = model.Limit
	buy.Price = f64(0.075)
	buy.InitialAmount = f64(75)
	d, err := env.o.Execute(ctx, buy)
	if err != nil {
		t.Fatalf("limit buy: %v", err)
	}
	if d.OrderType != model.Limit || d.Unit != model.SizeBase || !approx(d.Size, 1000) {
		t.Errorf("limit buy = %+v", d)
	}
	pos, _ := env.ledger.GetPosition(ctx, dogeKey)
	if !approx(pos.Quantity, 1000) || pos.UsdtSpent != 75 {
		t.Errorf("position = %+v", pos)
	}

	// 没有价格的限价信号按市价执行
	sell := dogeSignal(model.ActionSell, model.RecurringAmount)
	sell.OrderType = model.Limit
	if d, err = env.o.Execute(ctx, sell); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if d.OrderType != model.Market {
		t.Errorf("order type = %s, want market", d.OrderType)
	}
}

func TestOrchestrator_UnknownSymbol(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	sig := dogeSignal(model.ActionBuy, model.RecurringAmount)
	sig.Symbol, sig.Coin = "PEPE-USDT", "PEPE"
	_, err := env.o.Execute(ctx, sig)
	wantCode(t, err, ecode.InvalidState)

	env.ex.FailNext(exchange.OpValidate, &exchange.Error{Op: "get instrument", Stage: exchange.StageSend, Err: errors.New("dial tcp: i/o timeout")})
	_, err = env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount))
	wantCode(t, err, ecode.ExchangeErr)
	if !exchange.IsRetryable(err) {
		t.Error("send stage should survive wrapping")
	}
}

func TestOrchestrator_OrderRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Minute, 0)
	env.ex.FailNext(exchange.OpOrder, &exchange.Error{Op: "place order", Stage: exchange.StageRejected, Code: "51008", Msg: "insufficient"})

	_, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount))
	wantCode(t, err, ecode.ExchangeErr)
	if !exchange.IsRejected(err) {
		t.Errorf("err = %v, want rejected stage", err)
	}
	if ok, _ := env.ledger.CanBuy(ctx, dogeKey); !ok {
		t.Error("reservation should be released")
	}
	// 失败不计入冷却
	if _, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount)); err != nil {
		t.Errorf("retry after rejection: %v", err)
	}
}

func TestOrchestrator_ProtectionDegraded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0, func(o *Options) {
		o.Protection = model.ProtectionRequest{StopLossPct: 1, TakeProfitPct: 2}
	})

	d, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !d.Protected || d.AlgoId == "" || d.Degraded {
		t.Errorf("protected buy = %+v", d)
	}

	env.ex.FailProtection(true)
	d, err = env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringAmount))
	if err != nil {
		t.Fatalf("degraded protection must not fail the sell: %v", err)
	}
	if !d.Degraded || d.Protected {
		t.Errorf("degraded sell = %+v", d)
	}
	if pos, _ := env.ledger.GetPosition(ctx, dogeKey); pos != nil {
		t.Error("ledger should be updated despite degraded protection")
	}
}

func TestOrchestrator_ConcurrentBuys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("%d buys succeeded, want 1", success)
	}
	if n := len(env.ex.Orders()); n != 1 {
		t.Errorf("%d orders submitted, want 1", n)
	}
	if n := env.o.locks.size(); n != 0 {
		t.Errorf("%d key locks leaked", n)
	}
}

// 不同策略共用一个冷却键，并发时也只能放行一单
func TestOrchestrator_ConcurrentCooldownAcrossStrategies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Minute, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 10; i++ {
		sig := dogeSignal(model.ActionBuy, model.RecurringAmount)
		sig.Category = fmt.Sprintf("cat-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.o.Execute(ctx, sig); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("%d buys passed the cooldown, want 1", success)
	}
	if n := len(env.ex.Orders()); n != 1 {
		t.Errorf("%d orders submitted, want 1", n)
	}
	if n := env.o.locks.size(); n != 0 {
		t.Errorf("%d key locks leaked", n)
	}
}

func TestOrchestrator_Malformed(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	_, err := env.o.Execute(context.Background(), nil)
	wantCode(t, err, ecode.MalformedSignal)
	_, err = env.o.Execute(context.Background(), &model.Signal{Action: "hold", Symbol: "DOGE-USDT", Coin: "DOGE"})
	wantCode(t, err, ecode.MalformedSignal)
}

type failingStore struct{ *ledger.MemoryStore }

func (failingStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("redis: connection pool timeout")
}

func TestOrchestrator_LedgerFailure(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.o.ledger = ledger.New(failingStore{ledger.NewMemoryStore()}, "test", 10, time.Minute)

	_, err := env.o.Execute(context.Background(), dogeSignal(model.ActionBuy, model.RecurringAmount))
	wantCode(t, err, ecode.LedgerErr)
	if n := len(env.ex.Orders()); n != 0 {
		t.Errorf("no order may be placed when the ledger is down, got %d", n)
	}
}

func TestOrchestrator_ReportsTrades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	buy := dogeSignal(model.ActionBuy, model.RecurringQuantity)
	buy.InitialAmount = f64(100)
	if _, err := env.o.Execute(ctx, buy); err != nil {
		t.Fatalf("buy: %v", err)
	}
	env.o.Wait()
	env.ex.SetInitialPrice("DOGE-USDT", 0.085)
	if _, err := env.o.Execute(ctx, dogeSignal(model.ActionSell, model.RecurringQuantity)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	env.o.Wait()

	if len(env.rep.recs) != 2 {
		t.Fatalf("reported %d trades, want 2", len(env.rep.recs))
	}
	b, s := env.rep.recs[0], env.rep.recs[1]
	if b.StrategyKey != dogeKey.String() || b.Side != model.Buy || !b.FirstTrade || b.RealizedPnl != nil {
		t.Errorf("buy record = %+v", b)
	}
	if s.Side != model.Sell || s.RealizedPnl == nil || !approx(*s.RealizedPnl, 6.25) || s.RecurringMode != model.RecurringQuantity {
		t.Errorf("sell record = %+v", s)
	}
	if b.ID == 0 || b.ID == s.ID || len(b.Signal) == 0 {
		t.Errorf("ids/signal: %d %d %s", b.ID, s.ID, b.Signal)
	}
}

func TestOrchestrator_State(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)

	st, err := env.o.State(ctx, dogeKey)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.FirstTrade || !st.CanBuy || st.CanSell || st.Balance != 10 {
		t.Errorf("initial state = %+v", st)
	}
	_, _ = env.o.Execute(ctx, dogeSignal(model.ActionBuy, model.RecurringAmount))
	st, _ = env.o.State(ctx, dogeKey)
	if st.FirstTrade || st.CanBuy || !st.CanSell || st.TradesToday != 1 || st.Position == nil {
		t.Errorf("state after buy = %+v", st)
	}
}

func TestNewResult(t *testing.T) {
	ok := NewResult(&Details{OrderId: "1"}, nil)
	if !ok.Success || ok.Details == nil || ok.Error != nil {
		t.Errorf("success result = %+v", ok)
	}
	fail := NewResult(nil, perrors.WithCode(ecode.InvalidState, "cooldown active"))
	if fail.Success || fail.Error == nil || fail.Error.Code != ecode.InvalidState || fail.Error.Reason != "invalid state" {
		t.Errorf("failure result = %+v", fail)
	}
}
