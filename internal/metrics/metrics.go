// ============================================================================
// simclock Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露時鐘、同步與排程的運行指標
//
// 指標分類:
//
//   1. 時鐘 (Counter)：
//      - simclock_clock_events_total{clock,event}: 時鐘事件數
//
//   2. 排程 (Counter / Histogram)：
//      - simclock_job_dispatched_total{job}: 派發到 Worker 的任務數
//      - simclock_job_skipped_total{job,reason}: 被跳過的啟動（overlap / skip_cycle）
//      - simclock_job_overrun_total{job}: 執行時間超過 max_runtime 的次數
//      - simclock_job_errors_total{job,phase}: 任務各階段回傳的錯誤
//      - simclock_job_runtime_seconds{job}: Execute 階段執行時間分佈
//      - simclock_scheduler_aborts_total: abort 策略觸發的排程器停止
//
//   3. 時鐘同步 (Histogram / Gauge / Counter)：
//      - simclock_clocksync_rtt_seconds: getMasterTime 往返延遲
//      - simclock_clocksync_failures: 連續同步失敗次數
//      - simclock_clocksync_slaves: 主時鐘端已註冊且啟用的從屬端數
//      - simclock_clocksync_slave_deactivated_total{slave}: 回應無效被停用的從屬端
//      - simclock_clocksync_relay_timeouts_total: 等待從屬端逾時的事件數
//
// 多個參與者在同一行程內時，以 participant 常數標籤區分
//
// 所有方法對 nil *Collector 安全，元件可以不帶指標運行
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 時鐘
	clockEvents *prometheus.CounterVec

	// 排程
	jobDispatched *prometheus.CounterVec
	jobSkipped    *prometheus.CounterVec
	jobOverrun    *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	jobRuntime    *prometheus.HistogramVec
	aborts        prometheus.Counter

	// 時鐘同步
	syncRTT          prometheus.Histogram
	syncFailures     prometheus.Gauge
	activeSlaves     prometheus.Gauge
	slaveDeactivated *prometheus.CounterVec
	relayTimeouts    prometheus.Counter
}

// NewCollector 創建指標收集器並註冊到預設 Registerer
func NewCollector(participant string) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, participant)
}

// NewCollectorWith 註冊到指定的 Registerer
func NewCollectorWith(reg prometheus.Registerer, participant string) *Collector {
	c := &Collector{
		clockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_clock_events_total",
			Help: "Clock events delivered to the registered sinks",
		}, []string{"clock", "event"}),
		jobDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_job_dispatched_total",
			Help: "Job activations dispatched to the worker pool",
		}, []string{"job"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_job_skipped_total",
			Help: "Job activations dropped by the violation strategy",
		}, []string{"job", "reason"}),
		jobOverrun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_job_overrun_total",
			Help: "Job executions exceeding their max runtime",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_job_errors_total",
			Help: "Errors returned by job phases",
		}, []string{"job", "phase"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simclock_job_runtime_seconds",
			Help:    "Execute phase runtime in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"job"}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simclock_scheduler_aborts_total",
			Help: "Scheduler stops caused by the abort violation strategy",
		}),
		syncRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simclock_clocksync_rtt_seconds",
			Help:    "Round trip time of getMasterTime calls",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		syncFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simclock_clocksync_failures",
			Help: "Consecutive failed synchronization cycles",
		}),
		activeSlaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simclock_clocksync_slaves",
			Help: "Registered and active synchronization slaves",
		}),
		slaveDeactivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simclock_clocksync_slave_deactivated_total",
			Help: "Slaves deactivated after an invalid response",
		}, []string{"slave"}),
		relayTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simclock_clocksync_relay_timeouts_total",
			Help: "Relayed events not answered by a slave within time_update_timeout",
		}),
	}

	if participant != "" {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"participant": participant}, reg)
	}

	// 註冊所有指標
	reg.MustRegister(c.clockEvents)
	reg.MustRegister(c.jobDispatched)
	reg.MustRegister(c.jobSkipped)
	reg.MustRegister(c.jobOverrun)
	reg.MustRegister(c.jobErrors)
	reg.MustRegister(c.jobRuntime)
	reg.MustRegister(c.aborts)
	reg.MustRegister(c.syncRTT)
	reg.MustRegister(c.syncFailures)
	reg.MustRegister(c.activeSlaves)
	reg.MustRegister(c.slaveDeactivated)
	reg.MustRegister(c.relayTimeouts)

	return c
}

// RecordClockEvent 記錄一次時鐘事件
func (c *Collector) RecordClockEvent(clock, event string) {
	if c == nil {
		return
	}
	c.clockEvents.WithLabelValues(clock, event).Inc()
}

// RecordDispatch 記錄任務派發
func (c *Collector) RecordDispatch(job string) {
	if c == nil {
		return
	}
	c.jobDispatched.WithLabelValues(job).Inc()
}

// RecordSkip 記錄被跳過的啟動
func (c *Collector) RecordSkip(job, reason string) {
	if c == nil {
		return
	}
	c.jobSkipped.WithLabelValues(job, reason).Inc()
}

// RecordOverrun 記錄執行超時
func (c *Collector) RecordOverrun(job string) {
	if c == nil {
		return
	}
	c.jobOverrun.WithLabelValues(job).Inc()
}

// RecordJobError 記錄任務階段錯誤
func (c *Collector) RecordJobError(job, phase string) {
	if c == nil {
		return
	}
	c.jobErrors.WithLabelValues(job, phase).Inc()
}

// ObserveJobRuntime 記錄 Execute 階段執行時間
func (c *Collector) ObserveJobRuntime(job string, seconds float64) {
	if c == nil {
		return
	}
	c.jobRuntime.WithLabelValues(job).Observe(seconds)
}

// RecordAbort 記錄 abort
func (c *Collector) RecordAbort() {
	if c == nil {
		return
	}
	c.aborts.Inc()
}

// ObserveSyncRTT 記錄同步往返延遲
func (c *Collector) ObserveSyncRTT(seconds float64) {
	if c == nil {
		return
	}
	c.syncRTT.Observe(seconds)
}

// SetSyncFailures 設置連續同步失敗次數
func (c *Collector) SetSyncFailures(n int) {
	if c == nil {
		return
	}
	c.syncFailures.Set(float64(n))
}

// SetActiveSlaves 設置啟用中的從屬端數量
func (c *Collector) SetActiveSlaves(n int) {
	if c == nil {
		return
	}
	c.activeSlaves.Set(float64(n))
}

// RecordSlaveDeactivated 記錄從屬端被停用
func (c *Collector) RecordSlaveDeactivated(slave string) {
	if c == nil {
		return
	}
	c.slaveDeactivated.WithLabelValues(slave).Inc()
}

// RecordRelayTimeout 記錄轉送逾時
func (c *Collector) RecordRelayTimeout() {
	if c == nil {
		return
	}
	c.relayTimeouts.Inc()
}

// Handler 回傳預設 Gatherer 的 /metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor 回傳指定 Gatherer 的 /metrics handler
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
