package model

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// RecurringMode 卖出之后下一次买入的资金策略
type RecurringMode string

const (
	// 复利：下一次买入使用上一次卖出所得
	RecurringAmount RecurringMode = "amount"
	// 固定仓位：下一次买入使用原始投入的USDT
	RecurringQuantity RecurringMode = "quantity"
)

// Signal 归一化之后的告警信号，创建后不再修改
// 可选数值使用指针，nil 表示未提供
type Signal struct {
	Action          Action        `json:"action"`
	Symbol          string        `json:"symbol"` // 交易所币对 DOGE-USDT
	Coin            string        `json:"coin"`   // 基础币 DOGE
	Category        string        `json:"category"`
	Subcategory     string        `json:"subcategory"`
	OrderType       OrderType     `json:"order_type"`
	Price           *float64      `json:"price,omitempty"`
	RecurringMode   RecurringMode `json:"recurring_mode"`
	InitialAmount   *float64      `json:"initial_amount,omitempty"`
	InitialQuantity *float64      `json:"initial_quantity,omitempty"`
	Raw             string        `json:"-"` // 原始内容，仅用于记录
}

// Key 策略维度的唯一标识
func (s *Signal) Key() StrategyKey {
	return NewStrategyKey(s.Coin, s.Category, s.Subcategory)
}

// HasPrice 是否带有有效的价格
func (s *Signal) HasPrice() bool {
	return s.Price != nil && *s.Price > 0
}

// StrategyKey (coin, category, subcategory)，所有仓位状态都以它为键
type StrategyKey struct {
	Coin        string
	Category    string
	Subcategory string
}

const defaultTag = "default"

func NewStrategyKey(coin, category, subcategory string) StrategyKey {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return defaultTag
		}
		return s
	}
	return StrategyKey{
		Coin:        strings.ToUpper(strings.TrimSpace(coin)),
		Category:    norm(category),
		Subcategory: norm(subcategory),
	}
}

// String DOGE:momentum:1m
func (k StrategyKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Coin, k.Category, k.Subcategory)
}
