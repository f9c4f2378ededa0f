package signal

import (
	"bufio"
	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"sort"
	"strings"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

// TradingView 告警的解析器
// 支持两种格式：JSON，以及每行一个 key: value 的文本

// 各种写法统一到内部字段名
var keyAliases = map[string]string{
	"action":           "action",
	"side":             "action",
	"coin":             "coin",
	"symbol":           "symbol",
	"ticker":           "symbol",
	"cat":              "cat",
	"category":         "cat",
	"scat":             "scat",
	"subcategory":      "scat",
	"sub_category":     "scat",
	"ordertype":        "ordertype",
	"order_type":       "ordertype",
	"price":            "price",
	"recurringmode":    "recurringmode",
	"recurring_mode":   "recurringmode",
	"amount":           "amount",
	"quantity":         "quantity",
	"initialamount":    "initialamount",
	"initial_amount":   "initialamount",
	"initialquantity":  "initialquantity",
	"initial_quantity": "initialquantity",
}

// 表示"不适用"的占位值，等同于没有传
var notApplicable = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"na":   {},
	"none": {},
	"null": {},
	"-":    {},
}

var symbolSeparators = []string{"-", "/", "_"}

type Normalizer struct {
	quote string // 默认计价币
}

func NewNormalizer(quoteCurrency string) *Normalizer {
	quote := strings.ToUpper(strings.TrimSpace(quoteCurrency))
	if quote == "" {
		quote = "USDT"
	}
	return &Normalizer{quote: quote}
}

// Normalize 接收原始字符串、[]byte 或已经解码的 map
func (n *Normalizer) Normalize(raw any) (*model.Signal, error) {
	switch v := raw.(type) {
	case map[string]any:
		return n.fromFields(lowerKeys(v), "")
	case []byte:
		return n.Parse(string(v))
	case string:
		return n.Parse(v)
	default:
		return nil, errors.WithCode(ecode.MalformedSignal, "unsupported payload type %T", raw)
	}
}

// Parse 根据内容判断是 JSON 还是文本
func (n *Normalizer) Parse(raw string) (*model.Signal, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, errors.WithCode(ecode.MalformedSignal, "empty payload")
	}
	if strings.HasPrefix(body, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, errors.Wrap(err, ecode.MalformedSignal, "invalid json payload")
		}
		return n.fromFields(lowerKeys(m), raw)
	}
	return n.fromFields(parseLines(body), raw)
}

// lowerKeys 把别名归一到标准字段
// 同一字段出现多种写法时顺序固定：标准写法优先，其余按字母序，取第一个非空值
func lowerKeys(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := aliasRank(keys[i]), aliasRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]any, len(m))
	for _, k := range keys {
		key, ok := keyAliases[normKey(k)]
		if !ok {
			continue
		}
		if prev, exists := out[key]; exists && !isAbsent(prev) {
			continue
		}
		out[key] = m[k]
	}
	return out
}

func normKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func aliasRank(k string) int {
	nk := normKey(k)
	if keyAliases[nk] == nk {
		return 0
	}
	return 1
}

// parseLines 文本格式每行一个 key: value，同名行以最后一行为准
func parseLines(body string) map[string]any {
	raw := make(map[string]any)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		raw[normKey(k)] = strings.TrimSpace(v)
	}
	return lowerKeys(raw)
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, na := notApplicable[strings.ToLower(strings.TrimSpace(s))]
	return na
}

func str(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || isAbsent(v) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(cast.ToString(v)))
}

// 数值字段，缺省返回 nil，0 也视为未提供
func num(fields map[string]any, key string) (*float64, error) {
	v, ok := fields[key]
	if !ok || isAbsent(v) {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, errors.Wrapf(err, ecode.MalformedSignal, "field %s is not a number", key)
	}
	if f < 0 {
		return nil, errors.WithCode(ecode.MalformedSignal, "field %s must not be negative", key)
	}
	if f == 0 {
		return nil, nil
	}
	return &f, nil
}

func (n *Normalizer) fromFields(fields map[string]any, raw string) (*model.Signal, error) {
	action := model.Action(str(fields, "action"))
	if action == "" {
		return nil, errors.WithCode(ecode.MalformedSignal, "missing action")
	}
	if !action.Valid() {
		return nil, errors.WithCode(ecode.MalformedSignal, "invalid action %q", action)
	}

	source := str(fields, "symbol")
	if source == "" {
		source = str(fields, "coin")
	}
	symbol, coin := n.splitSymbol(source)
	if symbol == "" {
		return nil, errors.WithCode(ecode.MalformedSignal, "missing coin/symbol")
	}

	sig := &model.Signal{
		Action:      action,
		Symbol:      symbol,
		Coin:        coin,
		Category:    str(fields, "cat"),
		Subcategory: str(fields, "scat"),
		Raw:         raw,
	}

	var err error
	if sig.Price, err = num(fields, "price"); err != nil {
		return nil, err
	}
	if sig.InitialAmount, err = num(fields, "initialamount"); err != nil {
		return nil, err
	}
	if sig.InitialQuantity, err = num(fields, "initialquantity"); err != nil {
		return nil, err
	}
	// amount / quantity 作为首单参数的简写
	amount, err := num(fields, "amount")
	if err != nil {
		return nil, err
	}
	quantity, err := num(fields, "quantity")
	if err != nil {
		return nil, err
	}
	if sig.InitialAmount == nil {
		sig.InitialAmount = amount
	}
	if sig.InitialQuantity == nil {
		sig.InitialQuantity = quantity
	}

	switch ot := model.OrderType(str(fields, "ordertype")); ot {
	case "":
		if sig.HasPrice() {
			sig.OrderType = model.Limit
		} else {
			sig.OrderType = model.Market
		}
	case model.Market, model.Limit:
		sig.OrderType = ot
	default:
		return nil, errors.WithCode(ecode.MalformedSignal, "invalid order type %q", ot)
	}

	if model.RecurringMode(str(fields, "recurringmode")) == model.RecurringQuantity {
		sig.RecurringMode = model.RecurringQuantity
	} else {
		sig.RecurringMode = model.RecurringAmount
	}
	return sig, nil
}

// splitSymbol doge -> DOGE-USDT, DOGE
// 兼容 DOGE/USDT、doge_usdt、OKX:DOGEUSDT 等写法
func (n *Normalizer) splitSymbol(v string) (symbol, coin string) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if i := strings.LastIndex(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	if v == "" {
		return "", ""
	}
	for _, sep := range symbolSeparators {
		if base, rest, ok := strings.Cut(v, sep); ok && base != "" {
			quote := rest
			// BTC-USDT-SWAP 只取前两段
			for _, s := range symbolSeparators {
				if q, _, found := strings.Cut(quote, s); found {
					quote = q
				}
			}
			if quote == "" {
				quote = n.quote
			}
			return base + "-" + quote, base
		}
	}
	if strings.HasSuffix(v, n.quote) && len(v) > len(n.quote) {
		base := strings.TrimSuffix(v, n.quote)
		return base + "-" + n.quote, base
	}
	return v + "-" + n.quote, v
}
