package okx

import (
	"context"
	"fmt"
	"github.com/spf13/cast"
	"net/url"
	"strings"
	"tradeflow/internal/exchange"
	"tradeflow/internal/model"
)

type balanceRaw struct {
	Details []balanceDetail `json:"details"`
}

type balanceDetail struct {
	Ccy       string `json:"ccy"`
	AvailBal  string `json:"availBal"`
	CashBal   string `json:"cashBal"`
	Eq        string `json:"eq"`
	FrozenBal string `json:"frozenBal"`
}

// GetBalance 查询单个币种的交易账户余额
func (c *Client) GetBalance(ctx context.Context, currency string) (*model.Balance, error) {
	ccy := strings.ToUpper(currency)
	var data []balanceRaw
	q := url.Values{"ccy": {ccy}}
	if err := c.get(ctx, "get balance", "/api/v5/account/balance", q, &data); err != nil {
		return nil, err
	}
	for _, acc := range data {
		for _, d := range acc.Details {
			if !strings.EqualFold(d.Ccy, ccy) {
				continue
			}
			total := cast.ToFloat64(d.Eq)
			if d.Eq == "" {
				total = cast.ToFloat64(d.CashBal)
			}
			return &model.Balance{
				Currency:  ccy,
				Total:     total,
				Available: cast.ToFloat64(d.AvailBal),
				Frozen:    cast.ToFloat64(d.FrozenBal),
			}, nil
		}
	}
	return nil, fmt.Errorf("balance %s: %w", ccy, exchange.ErrUnavailable)
}
