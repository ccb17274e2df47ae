// Package metrics provides Prometheus metrics instrumentation for the forecast service.
//
// Metrics exposed:
//   - foresight_requests_total: Counter of /predict requests by outcome
//     ("ok" or the failure kind)
//   - foresight_stage_seconds: Histogram of pipeline stage duration by stage
//   - foresight_oracle_seconds: Histogram of oracle call duration by oracle
//   - foresight_oracle_errors_total: Counter of failed oracle calls by oracle
//   - foresight_requests_in_flight: Gauge of requests being processed
//   - foresight_ready_workers: Gauge of workers that have loaded their oracle
//   - foresight_missing_values_total: Counter of null cells emitted in responses
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label for successful requests.
const OutcomeOK = "ok"

// Metrics holds all Prometheus metrics for the forecast service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	StageSeconds       *prometheus.HistogramVec
	OracleSeconds      *prometheus.HistogramVec
	OracleErrorsTotal  *prometheus.CounterVec
	RequestsInFlight   prometheus.Gauge
	ReadyWorkers       prometheus.Gauge
	MissingValuesTotal prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg registers
// with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foresight_requests_total",
			Help: "Total number of predict requests by outcome",
		}, []string{"outcome"}),

		StageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foresight_stage_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"stage"}),

		OracleSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foresight_oracle_seconds",
			Help:    "Time spent in oracle calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"oracle"}),

		OracleErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foresight_oracle_errors_total",
			Help: "Total number of failed oracle calls",
		}, []string{"oracle"}),

		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "foresight_requests_in_flight",
			Help: "Number of predict requests currently being processed",
		}),

		ReadyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "foresight_ready_workers",
			Help: "Number of workers with a loaded oracle",
		}),

		MissingValuesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "foresight_missing_values_total",
			Help: "Total number of null cells written to predict responses",
		}),
	}
}

// RecordRequest counts a finished request under outcome.
func (m *Metrics) RecordRequest(outcome string) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records the time spent in a pipeline stage.
func (m *Metrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordOracle records one oracle call.
func (m *Metrics) RecordOracle(oracle string, seconds float64, err error) {
	m.OracleSeconds.WithLabelValues(oracle).Observe(seconds)
	if err != nil {
		m.OracleErrorsTotal.WithLabelValues(oracle).Inc()
	}
}

// InFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) InFlight() func() {
	m.RequestsInFlight.Inc()
	return m.RequestsInFlight.Dec
}

// SetReadyWorkers sets the number of ready workers.
func (m *Metrics) SetReadyWorkers(n int) {
	m.ReadyWorkers.Set(float64(n))
}

// AddMissing adds n emitted null cells.
func (m *Metrics) AddMissing(n int) {
	if n > 0 {
		m.MissingValuesTotal.Add(float64(n))
	}
}
