package lndaddr

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lndaddr_http_requests_total",
		Help: "Total LNURL requests processed, labeled by route and status code",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lndaddr_http_request_duration_seconds",
		Help:    "Latency distribution of LNURL requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route"})

	invoicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lndaddr_invoices_total",
		Help: "Invoice creation attempts, labeled by outcome",
	}, []string{"outcome"})

	receiptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lndaddr_zap_receipts_total",
		Help: "Settled zap invoices, labeled by receipt outcome",
	}, []string{"outcome"})
)

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with the request counter and latency histogram.
func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(
			httpRequestDuration.WithLabelValues(route),
		)
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		httpRequestsTotal.WithLabelValues(
			route, strconv.Itoa(rec.status),
		).Inc()
	}
}
