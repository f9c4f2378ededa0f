package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

// Metrics 交易链路的监控指标，暴露在 /metrics
// 使用独立的 registry，测试中可以重复创建
type Metrics struct {
	registry *prometheus.Registry

	SignalsTotal     *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	DegradedTotal    prometheus.Counter
	ReportErrors     prometheus.Counter
	ExecutionLatency *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradeflow"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SignalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "processed_total",
			Help:      "Signals processed, by action and result code",
		}, []string{"action", "result"}),
		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "orders_total",
			Help:      "Orders accepted by the exchange",
		}, []string{"side", "order_type"}),
		DegradedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "protection_degraded_total",
			Help:      "Orders whose protective stop could not be attached",
		}),
		ReportErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "errors_total",
			Help:      "Trade records that failed to reach at least one reporter",
		}),
		ExecutionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "execution_seconds",
			Help:      "End to end signal execution latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSignal(action, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(action, result).Inc()
	m.ExecutionLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) OrderPlaced(side, orderType string, degraded bool) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(side, orderType).Inc()
	if degraded {
		m.DegradedTotal.Inc()
	}
}

func (m *Metrics) ReportFailed() {
	if m == nil {
		return
	}
	m.ReportErrors.Inc()
}
