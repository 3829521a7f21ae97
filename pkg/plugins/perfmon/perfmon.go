// Package perfmon provides the performance monitor plugin: it turns the
// engine's timing stream into observable output ports.
package perfmon

import (
	"context"
	"fmt"
	"math"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Kind is the registry identifier.
const Kind = "performance_monitor"

// Output port indices, in manifest order.
const (
	outPeriod = iota
	outLatency
	outJitter
	outViolation
	outMaxPeriod
)

// Monitor consumes the per-tick timing context and produces period,
// latency, jitter, realtime-violation, and running-max-period outputs.
// All outputs are in microseconds except max_period, which is converted
// to the configured period_unit.
type Monitor struct {
	maxLatencyUS float64
	periodUnit   string
	windowSize   int

	window      []float64
	widx        int
	wcount      int
	maxPeriodUS float64
}

// New returns an unconfigured monitor.
func New() *Monitor {
	return &Monitor{maxLatencyUS: 1000, periodUnit: "us", windowSize: 10}
}

// Register adds the kind to a registry.
func Register(r *plugin.Registry) {
	r.MustRegister(Kind, func() plugin.Plugin { return New() })
}

// Manifest implements plugin.Plugin.
func (m *Monitor) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name: "Performance Monitor",
		Kind: Kind,
		Ports: []plugin.PortSpec{
			{Name: "period_us", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
			{Name: "latency_us", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
			{Name: "jitter_us", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
			{Name: "realtime_violation", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
			{Name: "max_period", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
		},
		Variables: []plugin.VariableSpec{
			{Name: "max_latency_us", Type: "float", Default: 1000.0, Constraints: "gte=0"},
			{Name: "period_unit", Type: "string", Default: "us", Constraints: "oneof=ns us ms s"},
			{Name: "window", Type: "int", Default: 10, Constraints: "gte=2,lte=100000"},
		},
	}
}

// Configure implements plugin.Plugin.
func (m *Monitor) Configure(values plugin.Values) error {
	resolved, err := plugin.ResolveValues(m.Manifest(), values)
	if err != nil {
		return err
	}
	m.maxLatencyUS = resolved.Float("max_latency_us", 1000)
	m.periodUnit = resolved.String("period_unit", "us")
	m.windowSize = resolved.Int("window", 10)
	return nil
}

// Open allocates the jitter window.
func (m *Monitor) Open(context.Context) error {
	m.window = make([]float64, m.windowSize)
	m.widx = 0
	m.wcount = 0
	m.maxPeriodUS = 0
	return nil
}

// Process implements plugin.Plugin. No allocation: the window is a fixed
// ring sized at Open.
func (m *Monitor) Process(tick plugin.Tick, ex *plugin.Exchange) error {
	periodUS := float64(tick.Period.Nanoseconds()) / 1e3
	targetUS := float64(tick.Target.Nanoseconds()) / 1e3

	latencyUS := periodUS - targetUS
	if latencyUS < 0 {
		latencyUS = 0
	}
	if periodUS > m.maxPeriodUS {
		m.maxPeriodUS = periodUS
	}

	m.window[m.widx] = periodUS
	m.widx = (m.widx + 1) % len(m.window)
	if m.wcount < len(m.window) {
		m.wcount++
	}

	violation := 0.0
	if latencyUS > m.maxLatencyUS {
		violation = 1.0
	}

	ex.Out[outPeriod].Scalar = periodUS
	ex.Out[outLatency].Scalar = latencyUS
	ex.Out[outJitter].Scalar = m.jitter()
	ex.Out[outViolation].Scalar = violation
	ex.Out[outMaxPeriod].Scalar = convertUS(m.maxPeriodUS, m.periodUnit)
	return nil
}

// jitter is the population standard deviation of the filled window.
func (m *Monitor) jitter() float64 {
	if m.wcount < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < m.wcount; i++ {
		sum += m.window[i]
	}
	mean := sum / float64(m.wcount)
	var variance float64
	for i := 0; i < m.wcount; i++ {
		d := m.window[i] - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(m.wcount))
}

// Close implements plugin.Plugin. Idempotent; the monitor holds no
// external resources.
func (m *Monitor) Close() error {
	m.window = nil
	return nil
}

// SetVariable implements plugin.Tunable for live threshold and unit
// changes.
func (m *Monitor) SetVariable(name string, value any) error {
	switch name {
	case "max_latency_us":
		v := plugin.Values{name: value}.Float(name, -1)
		if v < 0 {
			return fmt.Errorf("max_latency_us must be >= 0")
		}
		m.maxLatencyUS = v
	case "period_unit":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("period_unit must be a string")
		}
		switch s {
		case "ns", "us", "ms", "s":
			m.periodUnit = s
		default:
			return fmt.Errorf("unknown period unit %q", s)
		}
	default:
		return fmt.Errorf("variable %q is not tunable", name)
	}
	return nil
}

func convertUS(valueUS float64, unit string) float64 {
	switch unit {
	case "ns":
		return valueUS * 1e3
	case "ms":
		return valueUS / 1e3
	case "s":
		return valueUS / 1e6
	default:
		return valueUS
	}
}
