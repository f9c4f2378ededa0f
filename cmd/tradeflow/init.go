package api

import (
	"context"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/dao"
	"tradeflow/internal/dao/query"
	"tradeflow/internal/exchange"
	"tradeflow/internal/exchange/okx"
	"tradeflow/internal/handler/trade"
	"tradeflow/internal/ledger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/model"
	"tradeflow/internal/report"
	"tradeflow/internal/risk"
	"tradeflow/internal/router"
	"tradeflow/internal/signal"
	orch "tradeflow/internal/trade"
	"tradeflow/pkg/cache"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
)

// dry-run 时模拟账户的初始资金
const dryRunBalance = 10000

// Deps 外部依赖，为 nil 的组件不启用
type Deps struct {
	DB    *gorm.DB
	Kafka kafka.ProducerService
}

// App 组装好的服务，Close 在 http 服务停止后调用
type App struct {
	Router       Router
	Orchestrator *orch.Orchestrator
	closers      []func() error
}

func (a *App) Close() error {
	// 先等待异步上报完成再关闭下游连接
	a.Orchestrator.Wait()
	var err error
	for _, c := range a.closers {
		err = multierr.Append(err, c())
	}
	return err
}

func InitApp(cfg *conf.Config, deps Deps) (*App, error) {
	if err := report.InitIDNode(cfg.NodeId); err != nil {
		return nil, err
	}
	app := &App{}
	t := cfg.Trading

	// 交易所
	var ex exchange.Exchange
	if t.DryRun {
		sim := exchange.NewSimulatedExchange()
		sim.AutoList(true)
		sim.SetJitter(0.002)
		sim.SetBalance(t.QuoteCurrency, dryRunBalance)
		ex = sim
		logger.Warn("dry-run enabled, orders go to the simulated exchange")
	} else {
		ex = okx.NewClient(cfg.Okx)
	}

	// 账本
	var store ledger.Store
	if cfg.Redis.Addr != "" {
		store = ledger.NewRedisStore(cache.InitRedis(cfg.Redis))
		app.closers = append(app.closers, cache.CloseRedis)
	} else {
		logger.Warn("redis not configured, ledger kept in memory and lost on restart")
		store = ledger.NewMemoryStore()
	}
	l := ledger.New(store, t.KeyPrefix, t.DefaultAmount, t.ReservationTTL)

	// 成交上报
	var reporters report.Multi
	var trades dao.TradeDao
	if deps.DB != nil {
		trades = query.NewTradeDao(deps.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := trades.Migrate(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, report.NewDBReporter(trades))
	}
	if deps.Kafka != nil {
		reporters = append(reporters, report.NewKafkaReporter(deps.Kafka))
		app.closers = append(app.closers, deps.Kafka.Close)
	}
	if cfg.Recorder.Path != "" {
		reporters = append(reporters, report.NewFileReporter(cfg.Recorder.Path))
	}

	m := metrics.New("tradeflow")
	app.Orchestrator = orch.NewOrchestrator(ex, l, risk.NewGuard(t.Cooldown, t.DailyTradeLimit), orch.Options{
		Protection: model.ProtectionRequest{StopLossPct: t.StopLossPct, TakeProfitPct: t.TakeProfitPct},
		Reporter:   reporters,
		Metrics:    m,
	})

	th := trade.NewTradeHandler(signal.NewNormalizer(t.QuoteCurrency), app.Orchestrator, trades, t.QuoteCurrency)
	app.Router = router.NewApiRouter(th, m.Handler(), cfg.Webhook.Secret, cfg.Jwt.Secret)
	return app, nil
}
