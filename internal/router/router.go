package router

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"time"
	"tradeflow/internal/handler/ping"
	"tradeflow/internal/handler/trade"
	"tradeflow/internal/middleware"
)

// 管理接口的防重复提交窗口
const (
	antiDuplicateSize   = 500
	antiDuplicateWindow = time.Second
)

type ApiRouter struct {
	tradeHandler  *trade.TradeHandler
	metrics       http.Handler
	webhookSecret string
	jwtSecret     string
}

func NewApiRouter(th *trade.TradeHandler, metrics http.Handler, webhookSecret, jwtSecret string) *ApiRouter {
	return &ApiRouter{tradeHandler: th, metrics: metrics, webhookSecret: webhookSecret, jwtSecret: jwtSecret}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger, middleware.Options(), middleware.Secure())

	g.GET("/ping", ping.Ping())
	if api.metrics != nil {
		g.GET("/metrics", gin.WrapH(api.metrics))
	}

	// TradingView 告警
	g.POST("/webhook", middleware.WebhookSignature(api.webhookSecret), api.tradeHandler.Webhook())

	base := g.Group("/api/v1", middleware.NoCache(), middleware.AuthToken(api.jwtSecret))

	t := base.Group("/trade", middleware.AntiDuplicate(antiDuplicateSize, antiDuplicateWindow))
	{
		t.POST("/manual", api.tradeHandler.Manual())
		// 测试解析结果，不下单
		t.POST("/parse", api.tradeHandler.Parse())
	}

	base.GET("/account/balance", api.tradeHandler.Balance())
	base.GET("/strategy/state", api.tradeHandler.StrategyState())
}
