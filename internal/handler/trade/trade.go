package trade

import (
	"github.com/gin-gonic/gin"
	"io"
	"strings"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/model"
	"tradeflow/internal/signal"
	"tradeflow/internal/trade"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/response"
	"tradeflow/pkg/utils"
	"tradeflow/pkg/validator"
)

// webhook 请求体上限
const maxBody = 64 << 10

const recentTrades = 20

type TradeHandler struct {
	normalizer *signal.Normalizer
	orch       *trade.Orchestrator
	trades     dao.TradeDao // 可以为 nil，未配置数据库时不返回历史
	quote      string
}

func NewTradeHandler(n *signal.Normalizer, o *trade.Orchestrator, trades dao.TradeDao, quote string) *TradeHandler {
	return &TradeHandler{normalizer: n, orch: o, trades: trades, quote: quote}
}

// Webhook TradingView 告警入口，支持 JSON 和 key: value 文本
func (h *TradeHandler) Webhook() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw, err := readBody(ctx)
		if err != nil {
			response.JSON(ctx, err, trade.NewResult(nil, err))
			return
		}
		sig, err := h.normalizer.Parse(raw)
		if err != nil {
			logger.Warnf("webhook payload rejected: %v", err)
			response.JSON(ctx, err, trade.NewResult(nil, err))
			return
		}
		h.execute(ctx, sig)
	}
}

// ManualReq 手动下单，字段含义与告警一致
type ManualReq struct {
	Action          string   `json:"action" binding:"required,oneof=buy sell"`
	Symbol          string   `json:"symbol" binding:"required"`
	Category        string   `json:"cat"`
	Subcategory     string   `json:"scat"`
	OrderType       string   `json:"order_type" binding:"omitempty,oneof=market limit"`
	Price           *float64 `json:"price" binding:"omitempty,gt=0"`
	RecurringMode   string   `json:"recurring_mode" binding:"omitempty,oneof=amount quantity"`
	InitialAmount   *float64 `json:"initial_amount" binding:"omitempty,gt=0"`
	InitialQuantity *float64 `json:"initial_quantity" binding:"omitempty,gt=0"`
}

func (r *ManualReq) fields() map[string]any {
	m := map[string]any{
		"action":        r.Action,
		"symbol":        r.Symbol,
		"cat":           r.Category,
		"scat":          r.Subcategory,
		"ordertype":     r.OrderType,
		"recurringmode": r.RecurringMode,
	}
	if r.Price != nil {
		m["price"] = *r.Price
	}
	if r.InitialAmount != nil {
		m["initialamount"] = *r.InitialAmount
	}
	if r.InitialQuantity != nil {
		m["initialquantity"] = *r.InitialQuantity
	}
	return m
}

func (h *TradeHandler) Manual() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req ManualReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		sig, err := h.normalizer.Normalize(req.fields())
		if err != nil {
			response.JSON(ctx, err, trade.NewResult(nil, err))
			return
		}
		logger.Info("manual signal",
			logger.Pair("operator", ctx.GetString(consts.Operator)),
			logger.Pair("action", sig.Action),
			logger.Pair("symbol", sig.Symbol))
		h.execute(ctx, sig)
	}
}

// Parse 只做解析，不下单
func (h *TradeHandler) Parse() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw, err := readBody(ctx)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		sig, err := h.normalizer.Parse(raw)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"signal": sig, "strategy_key": sig.Key().String()})
	}
}

type BalanceReq struct {
	Currency string `form:"ccy" binding:"omitempty,alphanum,max=16"`
}

func (h *TradeHandler) Balance() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req BalanceReq
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		ccy := strings.ToUpper(req.Currency)
		if ccy == "" {
			ccy = h.quote
		}
		b, err := h.orch.Balance(ctx, ccy)
		response.JSON(ctx, err, b)
	}
}

type StateReq struct {
	Coin        string `form:"coin" binding:"required,max=32"`
	Category    string `form:"cat"`
	Subcategory string `form:"scat"`
}

type StateResp struct {
	*trade.StateView
	RealizedPnl *float64            `json:"realized_pnl,omitempty"`
	Trades      []model.TradeRecord `json:"trades,omitempty"`
}

func (h *TradeHandler) StrategyState() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req StateReq
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		key := model.NewStrategyKey(req.Coin, req.Category, req.Subcategory)
		view, err := h.orch.State(ctx, key)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		resp := StateResp{StateView: view}
		if h.trades != nil {
			// 历史记录只是附加信息，查询失败不影响返回
			if list, err := h.trades.ListByStrategy(ctx, key.String(), recentTrades); err != nil {
				logger.Warnf("list trades %s: %v", key, err)
			} else {
				resp.Trades = list
			}
			if pnl, err := h.trades.RealizedPnl(ctx, key.String()); err == nil {
				resp.RealizedPnl = &pnl
			}
		}
		response.JSON(ctx, nil, resp)
	}
}

func (h *TradeHandler) execute(ctx *gin.Context, sig *model.Signal) {
	d, err := h.orch.Execute(ctx, sig)
	response.JSON(ctx, err, trade.NewResult(d, err))
}

func readBody(ctx *gin.Context) (string, error) {
	b, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBody+1))
	if err != nil {
		return "", errors.Wrap(err, ecode.MalformedSignal, "read body")
	}
	// 截断后的内容可能仍能解析成合法信号，直接拒绝
	if len(b) > maxBody {
		return "", errors.WithCode(ecode.MalformedSignal, "payload exceeds %d bytes", maxBody)
	}
	return utils.ValidUTF8String(string(b)), nil
}
