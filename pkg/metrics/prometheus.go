package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	symbolOutcomes *prometheus.CounterVec
	signals        *prometheus.CounterVec
	engineState    *prometheus.GaugeVec
	enginePnL      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		jobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_job_runs_total",
				Help: "Total number of pipeline job runs",
			},
			[]string{"job", "success"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalforge_job_duration_seconds",
				Help:    "Duration of pipeline job runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"job"},
		),
		symbolOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_symbol_outcomes_total",
				Help: "Per-symbol job outcomes by status and reason",
			},
			[]string{"job", "status", "reason"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_signals_total",
				Help: "Persisted signal transitions by status and type",
			},
			[]string{"status", "signal_type"},
		),
		engineState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalforge_engine_state",
				Help: "Current risk governor state (1 for the active state)",
			},
			[]string{"engine", "state"},
		),
		enginePnL: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalforge_engine_daily_pnl",
				Help: "Realized P&L of the current trading day",
			},
			[]string{"engine"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalforge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

var engineStates = []string{"NORMAL", "THROTTLED", "HALTED_PROFIT", "HALTED_LOSS", "HALTED_TRADES"}

func (r *Recorder) RecordJobRun(job string, success bool, seconds float64) {
	s := "false"
	if success {
		s = "true"
	}
	r.jobRuns.WithLabelValues(job, s).Inc()
	r.jobDuration.WithLabelValues(job).Observe(seconds)
}

func (r *Recorder) RecordSymbolOutcome(job, status, reason string) {
	r.symbolOutcomes.WithLabelValues(job, status, reason).Inc()
}

func (r *Recorder) RecordSignal(status, signalType string) {
	r.signals.WithLabelValues(status, signalType).Inc()
}

// RecordEngineState sets the gauge of the current state to 1 and every other state to 0.
func (r *Recorder) RecordEngineState(engineKey, state string, dailyPnL float64) {
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.engineState.WithLabelValues(engineKey, s).Set(v)
	}
	r.enginePnL.WithLabelValues(engineKey).Set(dailyPnL)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordJobRun(string, bool, float64)        {}
func (Nop) RecordSymbolOutcome(string, string, string) {}
func (Nop) RecordSignal(string, string)               {}
func (Nop) RecordEngineState(string, string, float64) {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordLatency(string, float64)             {}
