// Package metrics provides Prometheus instrumentation for the bots.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results used as the result label of RunsTotal.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
	ResultPending = "pending"
)

// Metrics holds the collectors of one process, registered on one registry.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	TransactionsTotal *prometheus.CounterVec
	SendRetriesTotal  prometheus.Counter
	WaitTimeoutsTotal prometheus.Counter
	RunDuration       *prometheus.HistogramVec
	HTTPRequestsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maxi_runs_total",
			Help: "Bot invocations by bot kind and result",
		}, []string{"bot", "result"}),
		TransactionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maxi_transactions_total",
			Help: "Transactions built, by operation",
		}, []string{"operation"}),
		SendRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "maxi_send_retries_total",
			Help: "Failed broadcast attempts that were retried",
		}),
		WaitTimeoutsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "maxi_wait_timeouts_total",
			Help: "Confirmation waits that hit their limit",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maxi_run_duration_seconds",
			Help:    "Wall time of one bot invocation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"bot"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maxi_http_requests_total",
			Help: "Status server requests",
		}, []string{"method", "path", "status"}),
		gatherer: reg,
	}
}

// ObserveRun records one finished invocation.
func (m *Metrics) ObserveRun(bot, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(bot, result).Inc()
	m.RunDuration.WithLabelValues(bot).Observe(d.Seconds())
}

// Transaction counts one built transaction.
func (m *Metrics) Transaction(operation string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(operation).Inc()
}

// SendRetry matches the sender's retry hook.
func (m *Metrics) SendRetry() {
	if m == nil {
		return
	}
	m.SendRetriesTotal.Inc()
}

// WaitTimeout matches the waiter's timeout hook.
func (m *Metrics) WaitTimeout() {
	if m == nil {
		return
	}
	m.WaitTimeoutsTotal.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records a request counter per method, path and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
