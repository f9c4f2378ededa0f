package okx

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"strings"
	"tradeflow/internal/exchange"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"
)

type orderReq struct {
	InstId  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdId string `json:"clOrdId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
}

type orderAck struct {
	OrdId   string `json:"ordId"`
	ClOrdId string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// 止盈止损委托，触发后按市价（-1）成交
type algoReq struct {
	InstId      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	SlTriggerPx string `json:"slTriggerPx,omitempty"`
	SlOrdPx     string `json:"slOrdPx,omitempty"`
	TpTriggerPx string `json:"tpTriggerPx,omitempty"`
	TpOrdPx     string `json:"tpOrdPx,omitempty"`
}

type algoAck struct {
	AlgoId string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

// PlaceMarketOrder 市价单；unit=quote 时 size 是USDT金额，否则是币的数量
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, size float64, unit model.SizeUnit) (*model.OrderResponse, error) {
	return c.placeOrder(ctx, model.OrderRequest{
		Symbol:    symbol,
		Side:      side,
		OrderType: model.Market,
		Size:      size,
		Unit:      unit,
	})
}

// PlaceLimitOrder 限价单，size 为币的数量
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, size, price float64) (*model.OrderResponse, error) {
	return c.placeOrder(ctx, model.OrderRequest{
		Symbol:    symbol,
		Side:      side,
		OrderType: model.Limit,
		Size:      size,
		Unit:      model.SizeBase,
		Price:     price,
	})
}

func (c *Client) PlaceOrderWithProtection(ctx context.Context, req model.OrderRequest, p model.ProtectionRequest) (*model.OrderResponse, error) {
	resp, err := c.placeOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if !p.Enabled() {
		return resp, nil
	}

	// 主单已经成交，保护单失败只做降级
	ref := req.Price
	if req.OrderType != model.Limit || ref <= 0 {
		t, err := c.GetTicker(ctx, req.Symbol)
		if err != nil {
			degrade(resp, "get reference price: "+err.Error())
			return resp, nil
		}
		ref = t.Last
	}

	sl, tp := exchange.ProtectionPrices(req.Side, ref, p)
	baseSize := req.Size
	if req.Unit == model.SizeQuote {
		baseSize = req.Size / ref
	}
	algo, err := c.placeProtection(ctx, req.Symbol, req.Side.Opposite(), baseSize, sl, tp)
	if err != nil {
		degrade(resp, err.Error())
		return resp, nil
	}
	resp.AlgoId = algo
	resp.SLTriggerPx = sl
	resp.TPTriggerPx = tp
	return resp, nil
}

func degrade(resp *model.OrderResponse, note string) {
	resp.Degraded = true
	resp.DegradedNote = note
	logger.Warnf("protective order for %s failed, primary order %s kept: %s", resp.Symbol, resp.OrderId, note)
}

func (c *Client) placeOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	inst, err := c.instrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("place order: unknown instrument %s", req.Symbol)
	}

	body := orderReq{
		InstId:  inst.InstId,
		TdMode:  "cash",
		ClOrdId: newClientId(),
		Side:    string(req.Side),
		OrdType: string(req.OrderType),
	}
	switch req.OrderType {
	case model.Limit:
		sz, err := baseSz(inst, req.Size)
		if err != nil {
			return nil, err
		}
		body.Sz = sz
		body.Px = px(inst, req.Price)
	default:
		body.OrdType = string(model.Market)
		if req.Unit == model.SizeQuote {
			body.TgtCcy = "quote_ccy"
			body.Sz = decimal.NewFromFloat(req.Size).Truncate(8).String()
		} else {
			body.TgtCcy = "base_ccy"
			sz, err := baseSz(inst, req.Size)
			if err != nil {
				return nil, err
			}
			body.Sz = sz
		}
	}

	var acks []orderAck
	if err := c.post(ctx, "place order", "/api/v5/trade/order", body, &acks); err != nil {
		return nil, err
	}
	if len(acks) == 0 {
		return nil, &exchange.Error{Op: "place order", Stage: exchange.StageResponse, Err: fmt.Errorf("empty order ack")}
	}
	a := acks[0]
	if a.SCode != "" && a.SCode != "0" {
		return nil, &exchange.Error{Op: "place order", Stage: exchange.StageRejected, Code: a.SCode, Msg: a.SMsg}
	}

	size, _ := decimal.NewFromString(body.Sz)
	logger.Infof("okx order placed: %s %s %s sz=%s(%s) ordId=%s", body.InstId, body.Side, body.OrdType, body.Sz, req.Unit, a.OrdId)
	return &model.OrderResponse{
		OrderId:   a.OrdId,
		ClientId:  body.ClOrdId,
		Symbol:    inst.InstId,
		Side:      req.Side,
		Size:      size.InexactFloat64(),
		Unit:      unitOf(req),
		CreatedAt: c.now(),
	}, nil
}

func (c *Client) placeProtection(ctx context.Context, symbol string, side model.OrderSide, size, sl, tp float64) (string, error) {
	inst, err := c.instrument(ctx, symbol)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", fmt.Errorf("unknown instrument %s", symbol)
	}
	sz, err := baseSz(inst, size)
	if err != nil {
		return "", err
	}

	body := algoReq{
		InstId:  inst.InstId,
		TdMode:  "cash",
		Side:    string(side),
		OrdType: "conditional",
		Sz:      sz,
	}
	if sl > 0 {
		body.SlTriggerPx = px(inst, sl)
		body.SlOrdPx = "-1"
	}
	if tp > 0 {
		body.TpTriggerPx = px(inst, tp)
		body.TpOrdPx = "-1"
	}
	if sl > 0 && tp > 0 {
		body.OrdType = "oco"
	}

	var acks []algoAck
	if err := c.post(ctx, "place algo order", "/api/v5/trade/order-algo", body, &acks); err != nil {
		return "", err
	}
	if len(acks) == 0 {
		return "", fmt.Errorf("place algo order: empty ack")
	}
	if a := acks[0]; a.SCode != "" && a.SCode != "0" {
		return "", &exchange.Error{Op: "place algo order", Stage: exchange.StageRejected, Code: a.SCode, Msg: a.SMsg}
	}
	return acks[0].AlgoId, nil
}

// baseSz 按 lotSz 向下取整，低于 minSz 时拒绝
func baseSz(inst *instrument, size float64) (string, error) {
	d := decimal.NewFromFloat(size)
	if lot := inst.lot(); !lot.IsZero() {
		d = d.Div(lot).Floor().Mul(lot)
	}
	if d.Sign() <= 0 || d.LessThan(inst.min()) {
		return "", fmt.Errorf("size %v below minimum %s for %s", size, inst.MinSz, inst.InstId)
	}
	return d.String(), nil
}

// px 按 tickSz 取整
func px(inst *instrument, price float64) string {
	d := decimal.NewFromFloat(price)
	if tick := inst.tick(); !tick.IsZero() {
		d = d.Div(tick).Round(0).Mul(tick)
	}
	return d.String()
}

func unitOf(req model.OrderRequest) model.SizeUnit {
	if req.OrderType == model.Market && req.Unit == model.SizeQuote {
		return model.SizeQuote
	}
	return model.SizeBase
}

// clOrdId 只允许字母数字，最长 32 位
func newClientId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
