package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	actionDispatchTotal    *prometheus.CounterVec
	actionDispatchDuration *prometheus.HistogramVec
	actionErrorsTotal      *prometheus.CounterVec

	validationTotal *prometheus.CounterVec

	approvalTotal    *prometheus.CounterVec
	approvalDuration *prometheus.HistogramVec

	turnTotal     *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	turnMistakes  prometheus.Histogram
	activeTurns   prometheus.Gauge
	parserErrors  prometheus.Counter
	parsedBlocks  *prometheus.CounterVec
	bytesStreamed prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			actionDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_action_dispatch_total",
					Help: "Total action dispatches by action and result kind.",
				},
				[]string{"action", "result"},
			),
			actionDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "actuator_action_dispatch_duration_seconds",
					Help:    "Action handler duration in seconds by action.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"action"},
			),
			actionErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_action_errors_total",
					Help: "Total action execution errors by action.",
				},
				[]string{"action"},
			),
			validationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_validation_total",
					Help: "Capability validation decisions by outcome and violation.",
				},
				[]string{"outcome", "violation"},
			),
			approvalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_approval_total",
					Help: "Approval decisions by outcome and whether a human was asked.",
				},
				[]string{"outcome", "mode"},
			),
			approvalDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "actuator_approval_wait_seconds",
					Help:    "Time spent waiting for an approval decision.",
					Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
				},
				[]string{"outcome"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_turn_total",
					Help: "Completed turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "actuator_turn_duration_seconds",
					Help:    "Turn duration from start to ready in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnMistakes: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "actuator_turn_mistakes",
					Help:    "Consecutive mistakes counted per turn.",
					Buckets: []float64{0, 1, 2, 3, 5, 8},
				},
			),
			activeTurns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "actuator_active_turns",
					Help: "Turns currently in flight.",
				},
			),
			parserErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "actuator_parser_errors_total",
					Help: "Fatal block parser errors.",
				},
			),
			parsedBlocks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "actuator_parsed_blocks_total",
					Help: "Finalized blocks by kind.",
				},
				[]string{"kind"},
			),
			bytesStreamed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "actuator_stream_bytes_total",
					Help: "Bytes of model output fed to the parser.",
				},
			),
		}

		prometheus.MustRegister(
			m.actionDispatchTotal,
			m.actionDispatchDuration,
			m.actionErrorsTotal,
			m.validationTotal,
			m.approvalTotal,
			m.approvalDuration,
			m.turnTotal,
			m.turnDuration,
			m.turnMistakes,
			m.activeTurns,
			m.parserErrors,
			m.parsedBlocks,
			m.bytesStreamed,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordActionDispatch records one dispatch. kind is the result kind.
func RecordActionDispatch(action, kind string, duration time.Duration) {
	m := getMetrics()
	m.actionDispatchTotal.WithLabelValues(action, kind).Inc()
	m.actionDispatchDuration.WithLabelValues(action).Observe(duration.Seconds())
	if kind == "execution_error" {
		m.actionErrorsTotal.WithLabelValues(action).Inc()
	}
}

func RecordValidation(allowed bool, violation string) {
	m := getMetrics()
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	if violation == "" {
		violation = "none"
	}
	m.validationTotal.WithLabelValues(outcome, violation).Inc()
}

func RecordApproval(outcome string, auto bool, duration time.Duration) {
	m := getMetrics()
	mode := "human"
	if auto {
		mode = "auto"
	}
	m.approvalTotal.WithLabelValues(outcome, mode).Inc()
	if !auto {
		m.approvalDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

func TurnStarted() {
	getMetrics().activeTurns.Inc()
}

// RecordTurn records a finished turn and decrements the active gauge.
func RecordTurn(status string, duration time.Duration, mistakes int) {
	m := getMetrics()
	m.activeTurns.Dec()
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnMistakes.Observe(float64(mistakes))
}

func RecordParserError() {
	getMetrics().parserErrors.Inc()
}

func RecordParsedBlock(kind string) {
	getMetrics().parsedBlocks.WithLabelValues(kind).Inc()
}

func RecordStreamBytes(n int) {
	getMetrics().bytesStreamed.Add(float64(n))
}
