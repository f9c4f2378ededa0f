package okx

import (
	"context"
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"net/url"
	"time"
	"tradeflow/internal/exchange"
	"tradeflow/internal/model"
)

// 交易对不存在
const codeInstrumentNotFound = "51001"

// instrument 对应 /public/instruments 返回的单个交易对
type instrument struct {
	InstId   string `json:"instId"`
	InstType string `json:"instType"`
	BaseCcy  string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
	State    string `json:"state"`

	TickSz string `json:"tickSz"` // 价格步长
	LotSz  string `json:"lotSz"`  // 数量步长
	MinSz  string `json:"minSz"`  // 最小下单数量
}

func (i *instrument) lot() decimal.Decimal {
	return stepOrZero(i.LotSz)
}

func (i *instrument) tick() decimal.Decimal {
	return stepOrZero(i.TickSz)
}

func (i *instrument) min() decimal.Decimal {
	return stepOrZero(i.MinSz)
}

func stepOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() <= 0 {
		return decimal.Zero
	}
	return d
}

type tickerRaw struct {
	InstId string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Vol24h string `json:"vol24h"`
	Ts     string `json:"ts"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	var data []tickerRaw
	q := url.Values{"instId": {symbol}}
	if err := c.get(ctx, "get ticker", "/api/v5/market/ticker", q, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ticker %s: %w", symbol, exchange.ErrUnavailable)
	}
	raw := data[0]
	last := cast.ToFloat64(raw.Last)
	if last <= 0 {
		return nil, fmt.Errorf("ticker %s has no last price: %w", symbol, exchange.ErrUnavailable)
	}
	t := &model.Ticker{
		Symbol: raw.InstId,
		Last:   last,
		Bid:    cast.ToFloat64(raw.BidPx),
		Ask:    cast.ToFloat64(raw.AskPx),
		Vol24h: cast.ToFloat64(raw.Vol24h),
		Time:   c.now(),
	}
	if ms := cast.ToInt64(raw.Ts); ms > 0 {
		t.Time = time.UnixMilli(ms)
	}
	return t, nil
}

// ValidateSymbol 依次尝试各种写法，返回交易所认可的 instId
func (c *Client) ValidateSymbol(ctx context.Context, symbol string) (string, bool, error) {
	for _, v := range exchange.SymbolVariants(symbol) {
		inst, err := c.instrument(ctx, v)
		if err != nil {
			return "", false, err
		}
		if inst != nil {
			return inst.InstId, true, nil
		}
	}
	return "", false, nil
}

// instrument 查询交易对精度，结果缓存；不存在时返回 nil, nil
func (c *Client) instrument(ctx context.Context, instId string) (*instrument, error) {
	c.mu.RLock()
	inst, ok := c.instruments[instId]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	var data []instrument
	q := url.Values{"instType": {"SPOT"}, "instId": {instId}}
	err := c.get(ctx, "get instrument", "/api/v5/public/instruments", q, &data)
	if err != nil {
		var e *exchange.Error
		if errors.As(err, &e) && e.Stage == exchange.StageRejected && e.Code == codeInstrumentNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 || data[0].InstId == "" {
		return nil, nil
	}
	inst = &data[0]

	c.mu.Lock()
	c.instruments[instId] = inst
	c.mu.Unlock()
	return inst, nil
}
