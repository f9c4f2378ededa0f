package risk

import (
	"sync"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

// Guard 风控：同一 symbol+action+scat 的冷却时间，以及每日成交笔数上限
// 状态只在进程内，重启后清零
type Guard struct {
	mu         sync.Mutex
	cooldown   time.Duration
	dailyLimit int // 0 表示不限制
	lastExec   map[string]time.Time
	daily      map[string]int // UTC 日期 -> 笔数
	now        func() time.Time
}

func NewGuard(cooldown time.Duration, dailyLimit int) *Guard {
	return &Guard{
		cooldown:   cooldown,
		dailyLimit: dailyLimit,
		lastExec:   make(map[string]time.Time),
		daily:      make(map[string]int),
		now:        time.Now,
	}
}

// SetClock 测试用
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// CooldownKey 冷却按 币对+方向+子分类 计算，与策略无关
func CooldownKey(symbol, action, subcategory string) string {
	return symbol + "|" + action + "|" + subcategory
}

// CheckCooldown 距离上次执行不足冷却时间时拒绝
func (g *Guard) CheckCooldown(symbol, action, subcategory string) error {
	if g.cooldown <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastExec[CooldownKey(symbol, action, subcategory)]
	if !ok {
		return nil
	}
	if elapsed := g.now().Sub(last); elapsed < g.cooldown {
		return errors.WithCode(ecode.InvalidState, "cooldown active for %s %s %s, %s remaining",
			symbol, action, subcategory, (g.cooldown - elapsed).Round(time.Second))
	}
	return nil
}

// Stamp 记录一次成功执行
func (g *Guard) Stamp(symbol, action, subcategory string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastExec[CooldownKey(symbol, action, subcategory)] = g.now()
}

// TakeDailySlot 未达到上限时计数加一
func (g *Guard) TakeDailySlot() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.now().UTC().Format(consts.DateLayout)
	if g.dailyLimit > 0 && g.daily[day] >= g.dailyLimit {
		return errors.WithCode(ecode.InvalidState, "daily trade limit %d reached for %s", g.dailyLimit, day)
	}
	// 日期变化后旧的计数不再需要
	for d := range g.daily {
		if d != day {
			delete(g.daily, d)
		}
	}
	g.daily[day]++
	return nil
}

// TradesToday 当天已计数的笔数
func (g *Guard) TradesToday() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.daily[g.now().UTC().Format(consts.DateLayout)]
}
