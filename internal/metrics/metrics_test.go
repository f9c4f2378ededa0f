package metrics

import (
	"github.com/prometheus/client_golang/prometheus/testutil"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := New("test")
	m.ObserveSignal("buy", "ok", 120*time.Millisecond)
	m.ObserveSignal("buy", "invalid_state", time.Millisecond)
	m.OrderPlaced("buy", "market", true)
	m.ReportFailed()

	if v := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("buy", "ok")); v != 1 {
		t.Errorf("signals ok = %v", v)
	}
	if v := testutil.ToFloat64(m.DegradedTotal); v != 1 {
		t.Errorf("degraded = %v", v)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_exchange_orders_total") {
		t.Errorf("metrics output missing orders counter")
	}

	// 两个实例互不影响
	_ = New("test")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSignal("sell", "ok", time.Second)
	m.OrderPlaced("sell", "limit", false)
	m.ReportFailed()
}
