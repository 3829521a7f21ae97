package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the tick loop. All record
// methods are safe on a disabled (nil-field) instance so callers never
// branch on configuration.
type Metrics struct {
	config MetricsConfig

	// Tick loop metrics
	ticksTotal    prometheus.Counter
	tickLatency   prometheus.Histogram
	tickPeriod    prometheus.Gauge
	tickJitter    prometheus.Gauge
	maxPeriod     prometheus.Gauge
	violations    prometheus.Counter

	// Fault metrics
	faultsTotal *prometheus.CounterVec

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram
	engineState   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of completed ticks",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_latency_seconds",
			Help:      "Tick start lateness relative to the target period",
			Buckets:   buckets,
		}),
		tickPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_period_seconds",
			Help:      "Most recent observed tick period",
		}),
		tickJitter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_jitter_seconds",
			Help:      "Standard deviation of recent tick periods",
		}),
		maxPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_max_period_seconds",
			Help:      "Largest period observed in the current run",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_violations_total",
			Help:      "Total number of ticks whose latency exceeded the budget",
		}),

		faultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_faults_total",
				Help:      "Total number of plugin process faults",
			},
			[]string{"kind"},
		),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"reason"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		engineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Current engine state (0=idle 1=building 2=running 3=stopping 4=error)",
		}),
	}

	registry.MustRegister(
		m.ticksTotal,
		m.tickLatency,
		m.tickPeriod,
		m.tickJitter,
		m.maxPeriod,
		m.violations,
		m.faultsTotal,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.engineState,
	)

	return m, nil
}

// RecordTick records one tick's timing observation. Values are in
// microseconds, matching the engine's accounting unit.
func (m *Metrics) RecordTick(periodUS, latencyUS, jitterUS, maxPeriodUS float64, violation bool) {
	if m.ticksTotal == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickLatency.Observe(latencyUS / 1e6)
	m.tickPeriod.Set(periodUS / 1e6)
	m.tickJitter.Set(jitterUS / 1e6)
	m.maxPeriod.Set(maxPeriodUS / 1e6)
	if violation {
		m.violations.Inc()
	}
}

// RecordFault records a plugin process fault.
func (m *Metrics) RecordFault(kind string) {
	if m.faultsTotal == nil {
		return
	}
	m.faultsTotal.WithLabelValues(kind).Inc()
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a completed run with its stop reason and
// duration.
func (m *Metrics) RecordRunCompleted(reason string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(reason).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// SetEngineState records the current engine state as a numeric gauge.
func (m *Metrics) SetEngineState(state int) {
	if m.engineState == nil {
		return
	}
	m.engineState.Set(float64(state))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The
// server runs until the process exits; the tick loop never blocks on it.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
