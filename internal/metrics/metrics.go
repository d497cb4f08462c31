// Package metrics exposes Prometheus instruments for the alert worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobalert/internal/model"
)

// Metrics holds the worker instruments. A nil *Metrics records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	sourceErrors  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	passDuration  prometheus.Histogram
	lastPass      prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobalert_alert_checks_total",
			Help: "Alerts processed, by outcome.",
		}, []string{"outcome"}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobalert_source_errors_total",
			Help: "Failed source fetches, by error kind.",
		}, []string{"kind"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobalert_notifications_total",
			Help: "Notification attempts, by status.",
		}, []string{"status"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobalert_fetch_duration_seconds",
			Help:    "Duration of source fetches in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobalert_pass_duration_seconds",
			Help:    "Duration of scheduler passes in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastPass: f.NewGauge(prometheus.GaugeOpts{
			Name: "jobalert_last_pass_timestamp_seconds",
			Help: "Unix time at which the last pass finished.",
		}),
	}
}

// ObserveCheck counts one processed alert.
func (m *Metrics) ObserveCheck(o model.Outcome) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(string(o)).Inc()
}

// ObserveSourceError counts a failed fetch.
func (m *Metrics) ObserveSourceError(kind string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(kind).Inc()
}

// ObserveNotification counts a delivery attempt.
func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

// ObserveFetch records the duration of one fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(r model.PassReport) {
	if m == nil {
		return
	}
	m.passDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	m.lastPass.Set(float64(r.FinishedAt.Unix()))
}

// Handler serves the metrics gathered by g, plus a liveness probe at /healthz.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
