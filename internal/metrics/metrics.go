// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 各サービスはこの型を直接ではなく、必要なメソッドだけを持つ
// インターフェース経由で利用する。
type Collector struct {
	reconcile      *prometheus.CounterVec
	providerLinked prometheus.Counter
	accessDecision *prometheus.CounterVec
	ordersIngested *prometheus.CounterVec
	webhookResult  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	httpLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderportal_reconcile_total",
			Help: "アカウント統合の結果別件数（created / merged）",
		}, []string{"outcome"}),
		providerLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderportal_provider_linked_total",
			Help: "新たに紐付けられたログインプロバイダーの合計数",
		}),
		accessDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderportal_access_decision_total",
			Help: "アクセス判定の結果別件数",
		}, []string{"resource", "decision"}),
		ordersIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderportal_orders_ingested_total",
			Help: "Webhookで登録された注文のステータス別件数",
		}, []string{"status"}),
		webhookResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderportal_webhook_requests_total",
			Help: "Webhookリクエストの結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderportal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderportal_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.reconcile,
		c.providerLinked,
		c.accessDecision,
		c.ordersIngested,
		c.webhookResult,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordReconcile はアカウント統合の結果を記録する。
func (c *Collector) RecordReconcile(created bool) {
	outcome := "merged"
	if created {
		outcome = "created"
	}
	c.reconcile.WithLabelValues(outcome).Inc()
}

// RecordProviderLinked は新たに紐付けられたプロバイダー数を記録する。
func (c *Collector) RecordProviderLinked(count int) {
	c.providerLinked.Add(float64(count))
}

// RecordAccessDecision はアクセス判定の結果を記録する。
func (c *Collector) RecordAccessDecision(resource string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	c.accessDecision.WithLabelValues(resource, decision).Inc()
}

// RecordOrderIngested は登録された注文を記録する。
func (c *Collector) RecordOrderIngested(status string) {
	c.ordersIngested.WithLabelValues(status).Inc()
}

// RecordWebhookResult はWebhookリクエストの結果を記録する。
func (c *Collector) RecordWebhookResult(result string) {
	c.webhookResult.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないレコーダー。メトリクス無効時やテストで使用する。
type Nop struct{}

func (Nop) RecordReconcile(bool)              {}
func (Nop) RecordProviderLinked(int)          {}
func (Nop) RecordAccessDecision(string, bool) {}
func (Nop) RecordOrderIngested(string)        {}
func (Nop) RecordWebhookResult(string)        {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordHTTPLatency(time.Duration)   {}
