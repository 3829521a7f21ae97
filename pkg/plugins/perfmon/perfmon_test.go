package perfmon

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func openMonitor(t *testing.T, values plugin.Values) *Monitor {
	t.Helper()
	m := New()
	if err := m.Configure(values); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func process(t *testing.T, m *Monitor, seq uint64, period, target time.Duration) []plugin.Value {
	t.Helper()
	ex := &plugin.Exchange{Out: make([]plugin.Value, 5)}
	tick := plugin.Tick{Seq: seq, Period: period, Target: target}
	if err := m.Process(tick, ex); err != nil {
		t.Fatalf("Process: %v", err)
	}
	return ex.Out
}

func TestMonitorOutputs(t *testing.T) {
	m := openMonitor(t, plugin.Values{"max_latency_us": 100.0, "window": 4})
	target := time.Millisecond

	// 1050µs against a 1000µs target: 50µs latency, under the threshold.
	out := process(t, m, 0, 1050*time.Microsecond, target)
	if out[outPeriod].Scalar != 1050 {
		t.Fatalf("period = %v, want 1050", out[outPeriod].Scalar)
	}
	if out[outLatency].Scalar != 50 {
		t.Fatalf("latency = %v, want 50", out[outLatency].Scalar)
	}
	if out[outViolation].Scalar != 0 {
		t.Fatalf("violation = %v, want 0", out[outViolation].Scalar)
	}
	if out[outMaxPeriod].Scalar != 1050 {
		t.Fatalf("max_period = %v, want 1050", out[outMaxPeriod].Scalar)
	}

	// 1200µs: 200µs latency breaches the 100µs threshold.
	out = process(t, m, 1, 1200*time.Microsecond, target)
	if out[outViolation].Scalar != 1 {
		t.Fatalf("violation = %v, want 1", out[outViolation].Scalar)
	}
	if out[outMaxPeriod].Scalar != 1200 {
		t.Fatalf("max_period = %v, want 1200", out[outMaxPeriod].Scalar)
	}

	// An early tick clamps latency at zero and leaves the max alone.
	out = process(t, m, 2, 950*time.Microsecond, target)
	if out[outLatency].Scalar != 0 {
		t.Fatalf("latency = %v, want 0 for an early tick", out[outLatency].Scalar)
	}
	if out[outMaxPeriod].Scalar != 1200 {
		t.Fatalf("max_period = %v, want 1200 retained", out[outMaxPeriod].Scalar)
	}
}

func TestMonitorViolationIsStrict(t *testing.T) {
	m := openMonitor(t, plugin.Values{"max_latency_us": 100.0})
	// Latency exactly at the threshold does not count as a violation.
	out := process(t, m, 0, 1100*time.Microsecond, time.Millisecond)
	if out[outLatency].Scalar != 100 {
		t.Fatalf("latency = %v, want 100", out[outLatency].Scalar)
	}
	if out[outViolation].Scalar != 0 {
		t.Fatalf("violation = %v, want 0 at the boundary", out[outViolation].Scalar)
	}
}

func TestMonitorJitterWindow(t *testing.T) {
	m := openMonitor(t, plugin.Values{"window": 4})
	target := time.Millisecond

	out := process(t, m, 0, 1000*time.Microsecond, target)
	if out[outJitter].Scalar != 0 {
		t.Fatalf("jitter = %v, want 0 with a single sample", out[outJitter].Scalar)
	}

	periods := []time.Duration{
		1000 * time.Microsecond,
		1000 * time.Microsecond,
		2000 * time.Microsecond,
	}
	for i, p := range periods {
		out = process(t, m, uint64(i+1), p, target)
	}
	// Window holds 1000, 1000, 1000, 2000: mean 1250, population stddev
	// sqrt((3*250^2 + 750^2)/4).
	want := math.Sqrt((3*250*250 + 750*750) / 4.0)
	if math.Abs(out[outJitter].Scalar-want) > 1e-9 {
		t.Fatalf("jitter = %v, want %v", out[outJitter].Scalar, want)
	}

	// Three more steady ticks evict the outlier; one copy remains.
	for i := 0; i < 3; i++ {
		out = process(t, m, uint64(4+i), 1000*time.Microsecond, target)
	}
	want = math.Sqrt((3*250*250 + 750*750) / 4.0)
	if math.Abs(out[outJitter].Scalar-want) > 1e-9 {
		t.Fatalf("jitter = %v, want %v with one outlier left", out[outJitter].Scalar, want)
	}

	// A fourth steady tick returns the window to uniform.
	out = process(t, m, 7, 1000*time.Microsecond, target)
	if out[outJitter].Scalar != 0 {
		t.Fatalf("jitter = %v, want 0 after the outlier left the window", out[outJitter].Scalar)
	}
}

func TestMonitorMaxPeriodUnitConversion(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{"ns", 1.5e6},
		{"us", 1500},
		{"ms", 1.5},
		{"s", 0.0015},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			m := openMonitor(t, plugin.Values{"period_unit": tt.unit})
			out := process(t, m, 0, 1500*time.Microsecond, time.Millisecond)
			if math.Abs(out[outMaxPeriod].Scalar-tt.want) > 1e-12 {
				t.Fatalf("max_period in %s = %v, want %v", tt.unit, out[outMaxPeriod].Scalar, tt.want)
			}
			// Only max_period is converted; the rest stay in microseconds.
			if out[outPeriod].Scalar != 1500 {
				t.Fatalf("period = %v, want 1500µs regardless of unit", out[outPeriod].Scalar)
			}
			if out[outLatency].Scalar != 500 {
				t.Fatalf("latency = %v, want 500µs regardless of unit", out[outLatency].Scalar)
			}
		})
	}
}

func TestMonitorSetVariable(t *testing.T) {
	m := openMonitor(t, nil)

	if err := m.SetVariable("max_latency_us", 250.0); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	out := process(t, m, 0, 1300*time.Microsecond, time.Millisecond)
	if out[outViolation].Scalar != 1 {
		t.Fatal("updated threshold not applied")
	}

	if err := m.SetVariable("period_unit", "ms"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	out = process(t, m, 1, 1300*time.Microsecond, time.Millisecond)
	if out[outMaxPeriod].Scalar != 1.3 {
		t.Fatalf("max_period = %v, want 1.3 ms", out[outMaxPeriod].Scalar)
	}

	if err := m.SetVariable("max_latency_us", -1.0); err == nil {
		t.Fatal("negative threshold accepted")
	}
	if err := m.SetVariable("period_unit", "fortnights"); err == nil {
		t.Fatal("unknown unit accepted")
	}
	if err := m.SetVariable("window", 20); err == nil {
		t.Fatal("window must not be tunable while open")
	}
}

func TestMonitorConfigureRejectsBadValues(t *testing.T) {
	m := New()
	if err := m.Configure(plugin.Values{"window": 1}); err == nil {
		t.Fatal("window below 2 accepted")
	}
	if err := m.Configure(plugin.Values{"period_unit": "h"}); err == nil {
		t.Fatal("bad unit accepted")
	}
	if err := m.Configure(plugin.Values{"max_latency_us": -5.0}); err == nil {
		t.Fatal("negative threshold accepted")
	}
}
