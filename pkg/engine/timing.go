package engine

import (
	"math"
	"time"
)

// DefaultJitterWindow is the number of period samples the jitter
// computation covers when not configured otherwise.
const DefaultJitterWindow = 10

// TimingSnapshot is one tick's timing accounting in microseconds.
type TimingSnapshot struct {
	// Ticks is the number of completed period observations.
	Ticks uint64 `json:"ticks"`

	// PeriodUS is the wall time between the current and previous
	// iteration starts.
	PeriodUS float64 `json:"period_us"`

	// LatencyUS is max(0, PeriodUS - target period). Never negative.
	LatencyUS float64 `json:"latency_us"`

	// JitterUS is the population standard deviation of the period
	// samples currently in the window.
	JitterUS float64 `json:"jitter_us"`

	// MaxPeriodUS is the running maximum of PeriodUS since start.
	MaxPeriodUS float64 `json:"max_period_us"`

	// MeanPeriodUS is the running mean of PeriodUS since start.
	MeanPeriodUS float64 `json:"mean_period_us"`
}

// timingStats accumulates period observations without allocating after
// construction: the jitter window is a fixed ring.
type timingStats struct {
	targetUS float64
	window   []float64
	widx     int
	wcount   int

	ticks  uint64
	sumUS  float64
	snap   TimingSnapshot
}

func newTimingStats(target time.Duration, windowSize int) *timingStats {
	if windowSize <= 1 {
		windowSize = DefaultJitterWindow
	}
	return &timingStats{
		targetUS: durationUS(target),
		window:   make([]float64, windowSize),
	}
}

// observe folds one measured period into the statistics.
func (t *timingStats) observe(period time.Duration) {
	periodUS := durationUS(period)

	t.window[t.widx] = periodUS
	t.widx = (t.widx + 1) % len(t.window)
	if t.wcount < len(t.window) {
		t.wcount++
	}

	t.ticks++
	t.sumUS += periodUS

	latencyUS := periodUS - t.targetUS
	if latencyUS < 0 {
		latencyUS = 0
	}
	if periodUS > t.snap.MaxPeriodUS {
		t.snap.MaxPeriodUS = periodUS
	}

	t.snap.Ticks = t.ticks
	t.snap.PeriodUS = periodUS
	t.snap.LatencyUS = latencyUS
	t.snap.JitterUS = t.stddev()
	t.snap.MeanPeriodUS = t.sumUS / float64(t.ticks)
}

// stddev is the population standard deviation over the filled window.
func (t *timingStats) stddev() float64 {
	if t.wcount < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < t.wcount; i++ {
		sum += t.window[i]
	}
	mean := sum / float64(t.wcount)
	var variance float64
	for i := 0; i < t.wcount; i++ {
		d := t.window[i] - mean
		variance += d * d
	}
	variance /= float64(t.wcount)
	return math.Sqrt(variance)
}

func (t *timingStats) snapshot() TimingSnapshot { return t.snap }

func durationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e3
}

// ConvertUS converts a microsecond value into one of the supported
// display units; unknown units fall back to microseconds.
func ConvertUS(valueUS float64, unit string) float64 {
	switch unit {
	case "ns":
		return valueUS * 1e3
	case "us":
		return valueUS
	case "ms":
		return valueUS / 1e3
	case "s":
		return valueUS / 1e6
	default:
		return valueUS
	}
}
