// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// コールバック処理結果のラベル値。
const (
	CallbackSuccess     = "success"
	CallbackDenied      = "denied"
	CallbackMissingCode = "missing_code"
	CallbackRejected    = "rejected"
	CallbackUnavailable = "unavailable"
	CallbackError       = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやハンドラー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin()
	RecordCallback(result string)
	RecordProviderRequest(op string, statusCode int, duration time.Duration)
	RecordSessionIssued()
	RecordTokenVerifyFailure()
	RecordUserReconciled(created bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          prometheus.Counter
	callbacks       *prometheus.CounterVec
	providerStatus  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	sessionsIssued  prometheus.Counter
	tokenVerifyFail prometheus.Counter
	usersReconciled *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salus_auth_login_total",
			Help: "ログイン開始（プロバイダーへのリダイレクト）の合計数",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salus_auth_callback_total",
			Help: "OAuthコールバックの処理結果別の合計数",
		}, []string{"result"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salus_provider_requests_total",
			Help: "プロバイダー呼び出しの操作・HTTPステータスコード別の合計数",
		}, []string{"op", "status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "salus_provider_request_duration_seconds",
			Help:    "プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salus_sessions_issued_total",
			Help: "発行したセッショントークンの合計数",
		}),
		tokenVerifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salus_token_verify_failures_total",
			Help: "セッショントークン検証失敗の合計数",
		}),
		usersReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salus_users_reconciled_total",
			Help: "ログイン時に照合したユーザー数（created=true は新規作成）",
		}, []string{"created"}),
	}

	reg.MustRegister(
		c.logins,
		c.callbacks,
		c.providerStatus,
		c.providerLatency,
		c.sessionsIssued,
		c.tokenVerifyFail,
		c.usersReconciled,
	)

	return c
}

// RecordLogin はログイン開始を記録する。
func (c *Collector) RecordLogin() {
	c.logins.Inc()
}

// RecordCallback はコールバックの処理結果を記録する。
func (c *Collector) RecordCallback(result string) {
	c.callbacks.WithLabelValues(result).Inc()
}

// RecordProviderRequest はプロバイダー呼び出しのステータスとレイテンシを記録する。
// レスポンスを受け取れなかった場合のstatusCodeは0。
func (c *Collector) RecordProviderRequest(op string, statusCode int, duration time.Duration) {
	c.providerStatus.WithLabelValues(op, strconv.Itoa(statusCode)).Inc()
	c.providerLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionIssued はセッショントークンの発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordTokenVerifyFailure はトークン検証失敗を記録する。
func (c *Collector) RecordTokenVerifyFailure() {
	c.tokenVerifyFail.Inc()
}

// RecordUserReconciled はユーザー照合を記録する。
func (c *Collector) RecordUserReconciled(created bool) {
	c.usersReconciled.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。メトリクスを無効にする場合やテストで使う。
type NopCollector struct{}

func (NopCollector) RecordLogin()                                     {}
func (NopCollector) RecordCallback(string)                            {}
func (NopCollector) RecordProviderRequest(string, int, time.Duration) {}
func (NopCollector) RecordSessionIssued()                             {}
func (NopCollector) RecordTokenVerifyFailure()                        {}
func (NopCollector) RecordUserReconciled(bool)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
