package ledger

import (
	"context"
	"errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"tradeflow/internal/model"
	perrors "tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

// 两种存储跑同一套用例
func forEachStore(t *testing.T, fn func(t *testing.T, l *Ledger)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, New(NewMemoryStore(), "test", 10, time.Minute))
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		fn(t, New(s, "test", 10, time.Minute))
	})
}

func TestLedger_FirstTradeRoundTrip(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, l *Ledger) {
		a := model.NewStrategyKey("doge", "momentum", "1m")
		b := model.NewStrategyKey("btc", "swing", "4h")

		for _, k := range []model.StrategyKey{a, b} {
			first, err := l.IsFirstTrade(ctx, k)
			if err != nil || !first {
				t.Fatalf("%s: IsFirstTrade = %v, %v before any write", k, first, err)
			}
		}

		if err := l.SetPosition(ctx, a, &model.PositionRecord{Quantity: 1, Status: model.PositionActive}); err != nil {
			t.Fatalf("SetPosition: %v", err)
		}
		if err := l.SetBalance(ctx, b, 42); err != nil {
			t.Fatalf("SetBalance: %v", err)
		}
		for _, k := range []model.StrategyKey{a, b} {
			if first, _ := l.IsFirstTrade(ctx, k); first {
				t.Errorf("%s: IsFirstTrade should be false after a write", k)
			}
		}

		// 清仓后仍然不是首单
		if err := l.ClearPosition(ctx, a); err != nil {
			t.Fatalf("ClearPosition: %v", err)
		}
		if first, _ := l.IsFirstTrade(ctx, a); first {
			t.Error("clearing a position must keep the seen marker")
		}
	})
}

func TestLedger_CanBuyCanSell(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, l *Ledger) {
		k := model.NewStrategyKey("doge", "momentum", "1m")

		if ok, _ := l.CanBuy(ctx, k); !ok {
			t.Error("CanBuy should hold with no position")
		}
		if ok, _ := l.CanSell(ctx, k); ok {
			t.Error("CanSell should not hold with no position")
		}

		rec := &model.PositionRecord{Quantity: 1250, EntryPrice: 0.08, UsdtSpent: 100, OrderId: "o-1", OpenedAt: time.Now().UTC(), Status: model.PositionActive}
		if err := l.SetPosition(ctx, k, rec); err != nil {
			t.Fatalf("SetPosition: %v", err)
		}
		if ok, _ := l.CanBuy(ctx, k); ok {
			t.Error("CanBuy should not hold with an active position")
		}
		if ok, _ := l.CanSell(ctx, k); !ok {
			t.Error("CanSell should hold with an active position")
		}

		got, err := l.GetPosition(ctx, k)
		if err != nil || got == nil {
			t.Fatalf("GetPosition = %v, %v", got, err)
		}
		if got.Quantity != 1250 || got.UsdtSpent != 100 || got.OrderId != "o-1" || !got.IsActive() {
			t.Errorf("position = %+v", got)
		}

		// 数量为 0 的仓位不能卖
		rec.Quantity = 0
		_ = l.SetPosition(ctx, k, rec)
		if ok, _ := l.CanSell(ctx, k); ok {
			t.Error("CanSell should not hold with zero quantity")
		}
	})
}

func TestLedger_Balance(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, l *Ledger) {
		k := model.NewStrategyKey("doge", "", "")
		amt, err := l.GetBalance(ctx, k)
		if err != nil || amt != 10 {
			t.Fatalf("default balance = %v, %v", amt, err)
		}
		if err := l.SetBalance(ctx, k, 106.25); err != nil {
			t.Fatalf("SetBalance: %v", err)
		}
		if amt, _ = l.GetBalance(ctx, k); amt != 106.25 {
			t.Errorf("balance = %v", amt)
		}
	})
}

func TestLedger_Reservation(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, l *Ledger) {
		k := model.NewStrategyKey("sol", "breakout", "15m")

		ok, err := l.ReservePosition(ctx, k)
		if err != nil || !ok {
			t.Fatalf("first reservation = %v, %v", ok, err)
		}
		if ok, _ = l.ReservePosition(ctx, k); ok {
			t.Error("second reservation must fail")
		}
		if ok, _ = l.CanBuy(ctx, k); ok {
			t.Error("CanBuy must not hold while reserved")
		}
		if ok, _ = l.CanSell(ctx, k); ok {
			t.Error("a pending reservation is not sellable")
		}
		if first, _ := l.IsFirstTrade(ctx, k); !first {
			t.Error("a reservation alone must not mark the key as seen")
		}

		if err := l.ReleaseReservation(ctx, k); err != nil {
			t.Fatalf("ReleaseReservation: %v", err)
		}
		if ok, _ = l.CanBuy(ctx, k); !ok {
			t.Error("CanBuy should hold after release")
		}

		// 已成交的仓位不会被 release 删除
		_ = l.SetPosition(ctx, k, &model.PositionRecord{Quantity: 3, Status: model.PositionActive})
		_ = l.ReleaseReservation(ctx, k)
		if ok, _ = l.CanSell(ctx, k); !ok {
			t.Error("release must not remove an active position")
		}
	})
}

func TestLedger_ConcurrentReservation(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, l *Ledger) {
		k := model.NewStrategyKey("eth", "grid", "5m")
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := l.ReservePosition(ctx, k); err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("%d reservations succeeded, want 1", wins)
		}
	})
}

func TestLedger_ReservationExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	l := New(s, "test", 10, time.Minute)
	k := model.NewStrategyKey("doge", "a", "b")

	if ok, _ := l.ReservePosition(ctx, k); !ok {
		t.Fatal("reservation failed")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := l.CanBuy(ctx, k); !ok {
		t.Error("expired reservation should free the key")
	}

	mem := NewMemoryStore()
	now := time.Now()
	mem.now = func() time.Time { return now }
	ml := New(mem, "test", 10, time.Minute)
	if ok, _ := ml.ReservePosition(ctx, k); !ok {
		t.Fatal("memory reservation failed")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := ml.CanBuy(ctx, k); !ok {
		t.Error("expired memory reservation should free the key")
	}
}

type brokenStore struct{}

var errBroken = errors.New("connection reset")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBroken }
func (brokenStore) Set(context.Context, string, []byte) error   { return errBroken }
func (brokenStore) Delete(context.Context, string) error        { return errBroken }
func (brokenStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errBroken
}

func TestLedger_StoreFailure(t *testing.T) {
	ctx := context.Background()
	l := New(brokenStore{}, "test", 10, time.Minute)
	k := model.NewStrategyKey("doge", "", "")

	if _, err := l.GetPosition(ctx, k); !perrors.HasCode(err, ecode.LedgerErr) {
		t.Errorf("GetPosition err = %v", err)
	}
	if _, err := l.GetBalance(ctx, k); !perrors.HasCode(err, ecode.LedgerErr) {
		t.Errorf("GetBalance err = %v", err)
	}
	if _, err := l.IsFirstTrade(ctx, k); !perrors.HasCode(err, ecode.LedgerErr) {
		t.Errorf("IsFirstTrade err = %v", err)
	}
	if ok, err := l.CanBuy(ctx, k); ok || !errors.Is(err, errBroken) {
		t.Errorf("CanBuy = %v, %v; read failures must not fabricate state", ok, err)
	}
	if _, err := l.ReservePosition(ctx, k); !perrors.HasCode(err, ecode.LedgerErr) {
		t.Errorf("ReservePosition err = %v", err)
	}
}
