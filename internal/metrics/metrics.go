// 包 metrics 定义 Prometheus 指标：条目级同步结果、远端请求、整轮耗时与备份。
// 每个 Metrics 使用独立的 Registry，便于测试与多实例共存。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-press-sync/internal/model"
)

const namespace = "press_sync"

// Metrics 持有全部指标。
type Metrics struct {
	registry *prometheus.Registry

	results         *prometheus.CounterVec
	remoteRequests  *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	passDuration    *prometheus.HistogramVec
	passAborts      *prometheus.CounterVec
	lastSuccess     *prometheus.GaugeVec
	backups         *prometheus.CounterVec
	backupSizeBytes prometheus.Gauge
}

// New 创建并注册全部指标（含 Go 运行时与进程指标）。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Per-item sync results by entity type, direction and outcome.",
		}, []string{"entity_type", "direction", "outcome"}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Outbound REST requests by method, resource and HTTP status (0 = no response).",
		}, []string{"method", "resource", "code"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Outbound REST request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "resource"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a sync pass.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"scope"}),
		passAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_aborts_total",
			Help:      "Entity kinds aborted before processing any item.",
		}, []string{"entity_type"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass without failures or aborts.",
		}, []string{"scope"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Snapshots taken, by partial flag.",
		}, []string{"partial"}),
		backupSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_size_bytes",
			Help:      "Size of the most recent snapshot.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.results, m.remoteRequests, m.remoteDuration, m.passDuration,
		m.passAborts, m.lastSuccess, m.backups, m.backupSizeBytes,
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveResult 记录一条同步结果，签名与 reconcile.Options.OnResult 一致。
func (m *Metrics) ObserveResult(r model.SyncResult) {
	m.results.WithLabelValues(string(r.EntityType), string(r.Direction), string(r.Outcome)).Inc()
}

// ObserveRequest 记录一次远端请求，签名与 remote.Observer 一致。
func (m *Metrics) ObserveRequest(method, resource string, status int, elapsed time.Duration) {
	m.remoteRequests.WithLabelValues(method, resource, strconv.Itoa(status)).Inc()
	m.remoteDuration.WithLabelValues(method, resource).Observe(elapsed.Seconds())
}

// ObserveReport 记录整轮耗时、中止的种类与最近成功时间。
func (m *Metrics) ObserveReport(rep *model.Report) {
	m.passDuration.WithLabelValues(rep.Scope).Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	for t := range rep.Aborted {
		m.passAborts.WithLabelValues(string(t)).Inc()
	}
	if rep.Succeeded() {
		m.lastSuccess.WithLabelValues(rep.Scope).Set(float64(rep.FinishedAt.Unix()))
	}
}

// ObserveSnapshot 记录一次备份。
func (m *Metrics) ObserveSnapshot(s model.Snapshot) {
	m.backups.WithLabelValues(strconv.FormatBool(s.Partial)).Inc()
	m.backupSizeBytes.Set(float64(s.SizeBytes))
}
