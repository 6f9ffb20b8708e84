package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/gateway"
	"github.com/stockpulse/gate/internal/tier"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	DeniedTotal      *prometheus.CounterVec
	BlocksTotal      *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
	AdmissionErrors  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_requests_total",
				Help: "Total HTTP requests processed by the gate",
			},
			[]string{"tier", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier", "method"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_admission_decisions_total",
				Help: "Admission decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		DeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_admission_denied_total",
				Help: "Denied requests by tier and reason",
			},
			[]string{"tier", "reason"},
		),
		BlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_admission_blocks_total",
				Help: "Escalations into a time-boxed block, by reason",
			},
			[]string{"reason"},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gate_admission_decision_duration_seconds",
				Help:    "Latency of a single admission decision",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
		AdmissionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_admission_errors_total",
				Help: "Internal admission failures (failed closed)",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.DecisionsTotal, m.DeniedTotal, m.BlocksTotal,
		m.DecisionDuration, m.AdmissionErrors,
	)
	return m
}

// ObserveDecision records one admission verdict. Quota denials are
// metrics, not errors.
func (m *Metrics) ObserveDecision(d admission.Decision, dur time.Duration) {
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(d.Tier.String(), outcome).Inc()
	if !d.Allowed {
		m.DeniedTotal.WithLabelValues(d.Tier.String(), string(d.Reason)).Inc()
	}
	m.DecisionDuration.Observe(dur.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics, labelled by the request's tier.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			t := tier.FromPath(r.URL.Path).String()
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(t, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(t, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
