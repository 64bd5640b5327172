// Package metrics provides Prometheus metrics for the grid trader
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 网格指标收集器；独立 registry，避免污染全局默认注册表。
type Collector struct {
	registry *prometheus.Registry

	// 周期指标
	cyclesTotal   prometheus.Counter
	cycleFailures prometheus.Counter
	cycleDuration prometheus.Histogram

	// 提交指标，result: success / failed / skipped
	submissions *prometheus.CounterVec

	// 状态指标
	currentPrice prometheus.Gauge
	marginUsage  prometheus.Gauge
	planLevels   prometheus.Gauge
	realizedPnl  prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "完整执行的规划周期总数",
		}),
		cycleFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "重试耗尽后失败的周期总数",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "单个周期耗时（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "档位提交结果计数",
		}, []string{"result"}),
		currentPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_price",
			Help:      "最近一轮使用的现价",
		}),
		marginUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "margin_usage",
			Help:      "最近一次保证金占用",
		}),
		planLevels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_levels",
			Help:      "最近一轮计划内的档位数（含保护性档位）",
		}),
		realizedPnl: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "最近一次已实现盈亏汇总",
		}),
	}
}

func (c *Collector) CycleCompleted(seconds float64) {
	c.cyclesTotal.Inc()
	c.cycleDuration.Observe(seconds)
}

func (c *Collector) CycleFailed() { c.cycleFailures.Inc() }

func (c *Collector) SubmissionResult(result string) {
	c.submissions.WithLabelValues(result).Inc()
}

func (c *Collector) SetCurrentPrice(v float64) { c.currentPrice.Set(v) }
func (c *Collector) SetMarginUsage(v float64)  { c.marginUsage.Set(v) }
func (c *Collector) SetPlanLevels(n int)       { c.planLevels.Set(float64(n)) }
func (c *Collector) SetRealizedPnl(v float64)  { c.realizedPnl.Set(v) }

// Handler 返回该收集器的 /metrics handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer 启动Prometheus指标服务器
func (c *Collector) StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
