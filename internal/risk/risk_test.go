package risk

import (
	"sync"
	"testing"
	"time"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGuard_Cooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	g := NewGuard(time.Minute, 0)
	g.SetClock(clock.Now)

	if err := g.CheckCooldown("DOGE-USDT", "buy", "1m"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	g.Stamp("DOGE-USDT", "buy", "1m")

	err := g.CheckCooldown("DOGE-USDT", "buy", "1m")
	if !errors.HasCode(err, ecode.InvalidState) {
		t.Fatalf("within cooldown: err = %v", err)
	}
	// 不同 action 或 scat 不受影响
	if err := g.CheckCooldown("DOGE-USDT", "sell", "1m"); err != nil {
		t.Errorf("other action: %v", err)
	}
	if err := g.CheckCooldown("DOGE-USDT", "buy", "5m"); err != nil {
		t.Errorf("other subcategory: %v", err)
	}

	clock.Add(time.Minute)
	if err := g.CheckCooldown("DOGE-USDT", "buy", "1m"); err != nil {
		t.Errorf("after cooldown: %v", err)
	}
}

func TestGuard_NoCooldown(t *testing.T) {
	g := NewGuard(0, 0)
	g.Stamp("BTC-USDT", "buy", "")
	if err := g.CheckCooldown("BTC-USDT", "buy", ""); err != nil {
		t.Errorf("zero cooldown should never block: %v", err)
	}
}

func TestGuard_DailyLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)}
	g := NewGuard(0, 2)
	g.SetClock(clock.Now)

	for i := 0; i < 2; i++ {
		if err := g.TakeDailySlot(); err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
	}
	if err := g.TakeDailySlot(); !errors.HasCode(err, ecode.InvalidState) {
		t.Fatalf("third slot: err = %v", err)
	}
	if n := g.TradesToday(); n != 2 {
		t.Errorf("TradesToday = %d", n)
	}

	// UTC 日期变化后重新计数
	clock.Add(2 * time.Minute)
	if err := g.TakeDailySlot(); err != nil {
		t.Fatalf("next day: %v", err)
	}
	if n := g.TradesToday(); n != 1 {
		t.Errorf("TradesToday after rollover = %d", n)
	}
}

func TestGuard_ConcurrentSlots(t *testing.T) {
	g := NewGuard(0, 10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TakeDailySlot() == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 10 {
		t.Errorf("granted %d slots, want 10", granted)
	}
}
