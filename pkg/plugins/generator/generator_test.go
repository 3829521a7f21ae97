package generator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func sample(t *testing.T, g *Generator, seq uint64, target time.Duration) float64 {
	t.Helper()
	ex := &plugin.Exchange{Out: make([]plugin.Value, 1)}
	if err := g.Process(plugin.Tick{Seq: seq, Target: target}, ex); err != nil {
		t.Fatalf("Process: %v", err)
	}
	return ex.Out[0].Scalar
}

func configured(t *testing.T, values plugin.Values) *Generator {
	t.Helper()
	g := New()
	if err := g.Configure(values); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return g
}

func TestGeneratorSine(t *testing.T) {
	// 10 Hz sine at 1 kHz: a quarter period is 25 ticks.
	g := configured(t, plugin.Values{"waveform": "sine", "frequency": 10.0, "amplitude": 2.0})
	if got := sample(t, g, 0, time.Millisecond); got != 0 {
		t.Fatalf("sample(0) = %v, want 0", got)
	}
	if got := sample(t, g, 25, time.Millisecond); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("sample(25) = %v, want 2.0 at the quarter period", got)
	}
	if got := sample(t, g, 75, time.Millisecond); math.Abs(got+2.0) > 1e-9 {
		t.Fatalf("sample(75) = %v, want -2.0 at the three-quarter period", got)
	}
}

func TestGeneratorSquare(t *testing.T) {
	g := configured(t, plugin.Values{"waveform": "square", "frequency": 10.0})
	if got := sample(t, g, 10, time.Millisecond); got != 1 {
		t.Fatalf("sample in the high half = %v, want 1", got)
	}
	if got := sample(t, g, 60, time.Millisecond); got != -1 {
		t.Fatalf("sample in the low half = %v, want -1", got)
	}
}

func TestGeneratorRamp(t *testing.T) {
	g := configured(t, plugin.Values{"waveform": "ramp", "frequency": 10.0})
	// The ramp climbs from -1 at the cycle start to +1 just before the end.
	if got := sample(t, g, 0, time.Millisecond); got != -1 {
		t.Fatalf("sample(0) = %v, want -1", got)
	}
	if got := sample(t, g, 50, time.Millisecond); math.Abs(got) > 1e-9 {
		t.Fatalf("sample(50) = %v, want 0 at mid cycle", got)
	}
	if got := sample(t, g, 100, time.Millisecond); math.Abs(got+1) > 1e-9 {
		t.Fatalf("sample(100) = %v, want -1 at the cycle wrap", got)
	}
}

func TestGeneratorConstantWithOffset(t *testing.T) {
	g := configured(t, plugin.Values{"waveform": "constant", "amplitude": 3.0, "offset": 1.5})
	for seq := uint64(0); seq < 5; seq++ {
		if got := sample(t, g, seq, time.Millisecond); got != 4.5 {
			t.Fatalf("sample(%d) = %v, want 4.5", seq, got)
		}
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	values := plugin.Values{"waveform": "sine", "frequency": 7.3, "phase": 0.2}
	a := configured(t, values)
	b := configured(t, values)
	for seq := uint64(0); seq < 100; seq++ {
		if sa, sb := sample(t, a, seq, time.Millisecond), sample(t, b, seq, time.Millisecond); sa != sb {
			t.Fatalf("replay diverged at tick %d: %v vs %v", seq, sa, sb)
		}
	}
}

func TestGeneratorSetVariable(t *testing.T) {
	g := configured(t, plugin.Values{"waveform": "constant"})
	if err := g.SetVariable("amplitude", 5.0); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if got := sample(t, g, 0, time.Millisecond); got != 5.0 {
		t.Fatalf("sample = %v, want 5.0 after amplitude update", got)
	}
	if err := g.SetVariable("frequency", -1.0); err == nil {
		t.Fatal("negative frequency accepted")
	}
	if err := g.SetVariable("waveform", "square"); err == nil {
		t.Fatal("waveform must not be tunable while open")
	}
}

func TestGeneratorConfigureRejectsBadValues(t *testing.T) {
	if err := New().Configure(plugin.Values{"waveform": "triangle"}); err == nil {
		t.Fatal("unknown waveform accepted")
	}
	if err := New().Configure(plugin.Values{"frequency": 0.0}); err == nil {
		t.Fatal("zero frequency accepted")
	}
}
