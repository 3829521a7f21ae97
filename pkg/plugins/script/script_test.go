package script

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func openScript(t *testing.T, expression string, inputs int) *Script {
	t.Helper()
	s := New()
	if err := s.Configure(plugin.Values{"expression": expression, "inputs": inputs}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func eval(t *testing.T, s *Script, tick plugin.Tick, in ...float64) float64 {
	t.Helper()
	ex := &plugin.Exchange{In: make([]plugin.Value, len(in)), Out: make([]plugin.Value, 1)}
	for i, v := range in {
		ex.In[i].Scalar = v
	}
	if err := s.Process(tick, ex); err != nil {
		t.Fatalf("Process: %v", err)
	}
	return ex.Out[0].Scalar
}

func TestScriptEvaluatesExpression(t *testing.T) {
	s := openScript(t, "in_0 * 2.0 + in_1", 2)
	if got := eval(t, s, plugin.Tick{}, 3, 4); got != 10 {
		t.Fatalf("result = %v, want 10", got)
	}
	if got := eval(t, s, plugin.Tick{}, -1.5, 0.5); got != -2.5 {
		t.Fatalf("result = %v, want -2.5", got)
	}
}

func TestScriptTickAndTimeBindings(t *testing.T) {
	s := openScript(t, "t", 0)
	tick := plugin.Tick{Seq: 5, Target: time.Millisecond}
	if got := eval(t, s, tick); math.Abs(got-0.005) > 1e-12 {
		t.Fatalf("t = %v, want 0.005", got)
	}

	s = openScript(t, "tick", 0)
	if got := eval(t, s, plugin.Tick{Seq: 42}); got != 42 {
		t.Fatalf("tick = %v, want 42", got)
	}
}

func TestScriptResultTypes(t *testing.T) {
	// Int and bool results coerce to the scalar output.
	s := openScript(t, "7", 0)
	if got := eval(t, s, plugin.Tick{}); got != 7 {
		t.Fatalf("int result = %v, want 7", got)
	}
	s = openScript(t, "in_0 > 1.0", 1)
	if got := eval(t, s, plugin.Tick{}, 2); got != 1 {
		t.Fatalf("bool result = %v, want 1", got)
	}
	if got := eval(t, s, plugin.Tick{}, 0.5); got != 0 {
		t.Fatalf("bool result = %v, want 0", got)
	}
}

func TestScriptNonNumberResultFaults(t *testing.T) {
	s := openScript(t, `"not a number"`, 0)
	ex := &plugin.Exchange{Out: make([]plugin.Value, 1)}
	if err := s.Process(plugin.Tick{}, ex); err == nil {
		t.Fatal("string result accepted")
	}
}

func TestScriptRuntimeErrorFaults(t *testing.T) {
	s := openScript(t, "in_0 / in_1", 2)
	ex := &plugin.Exchange{In: make([]plugin.Value, 2), Out: make([]plugin.Value, 1)}
	ex.In[0].Scalar = 1
	if err := s.Process(plugin.Tick{}, ex); err == nil {
		t.Fatal("division by zero accepted")
	}
	// The fault is transient, not fatal: a later tick with good inputs
	// evaluates normally.
	if got := eval(t, s, plugin.Tick{}, 6, 2); got != 3 {
		t.Fatalf("recovery result = %v, want 3", got)
	}
}

func TestScriptSyntaxErrorAtConfigure(t *testing.T) {
	err := New().Configure(plugin.Values{"expression": "in_0 +"})
	var cfgErr *plugin.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Configure error = %v, want ConfigError", err)
	}
	if cfgErr.Variable != "expression" {
		t.Fatalf("ConfigError.Variable = %q, want expression", cfgErr.Variable)
	}
}

func TestScriptManifestPorts(t *testing.T) {
	s := New()
	if err := s.Configure(plugin.Values{"expression": "t", "inputs": 3}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	m := s.Manifest()
	if got := len(m.Inputs()); got != 3 {
		t.Fatalf("inputs = %d, want 3", got)
	}
	if _, ok := m.Port("out", plugin.DirectionOutput); !ok {
		t.Fatal("out port missing")
	}
}
