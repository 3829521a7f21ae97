// Package generator provides a deterministic signal source plugin:
// sine, square, ramp, or constant, computed from the tick sequence
// number so identical runs produce identical samples.
package generator

import (
	"context"
	"fmt"
	"math"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Kind is the registry identifier.
const Kind = "generator"

// Generator emits one sample per tick on its out port.
type Generator struct {
	waveform  string
	amplitude float64
	frequency float64
	offset    float64
	phase     float64
}

// New returns an unconfigured generator.
func New() *Generator {
	return &Generator{waveform: "sine", amplitude: 1, frequency: 1}
}

// Register adds the kind to a registry.
func Register(r *plugin.Registry) {
	r.MustRegister(Kind, func() plugin.Plugin { return New() })
}

// Manifest implements plugin.Plugin.
func (g *Generator) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name: "Signal Generator",
		Kind: Kind,
		Ports: []plugin.PortSpec{
			{Name: "out", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
		},
		Variables: []plugin.VariableSpec{
			{Name: "waveform", Type: "string", Default: "sine", Constraints: "oneof=sine square ramp constant"},
			{Name: "amplitude", Type: "float", Default: 1.0},
			{Name: "frequency", Type: "float", Default: 1.0, Constraints: "gt=0"},
			{Name: "offset", Type: "float", Default: 0.0},
			{Name: "phase", Type: "float", Default: 0.0},
		},
	}
}

// Configure implements plugin.Plugin.
func (g *Generator) Configure(values plugin.Values) error {
	resolved, err := plugin.ResolveValues(g.Manifest(), values)
	if err != nil {
		return err
	}
	g.waveform = resolved.String("waveform", "sine")
	g.amplitude = resolved.Float("amplitude", 1)
	g.frequency = resolved.Float("frequency", 1)
	g.offset = resolved.Float("offset", 0)
	g.phase = resolved.Float("phase", 0)
	return nil
}

// Open implements plugin.Plugin.
func (g *Generator) Open(context.Context) error { return nil }

// Process computes the sample from the tick sequence and the target
// period, not from wall time, so replays are bit-identical.
func (g *Generator) Process(tick plugin.Tick, ex *plugin.Exchange) error {
	t := float64(tick.Seq) * tick.Target.Seconds()
	x := 2*math.Pi*g.frequency*t + g.phase

	var v float64
	switch g.waveform {
	case "sine":
		v = math.Sin(x)
	case "square":
		if math.Sin(x) >= 0 {
			v = 1
		} else {
			v = -1
		}
	case "ramp":
		cycle := g.frequency * t
		v = 2*(cycle-math.Floor(cycle)) - 1
	case "constant":
		v = 1
	}

	ex.Out[0].Scalar = g.offset + g.amplitude*v
	return nil
}

// Close implements plugin.Plugin.
func (g *Generator) Close() error { return nil }

// SetVariable implements plugin.Tunable for live amplitude/frequency/
// offset changes.
func (g *Generator) SetVariable(name string, value any) error {
	v := plugin.Values{name: value}
	switch name {
	case "amplitude":
		g.amplitude = v.Float(name, g.amplitude)
	case "frequency":
		f := v.Float(name, g.frequency)
		if f <= 0 {
			return fmt.Errorf("frequency must be positive")
		}
		g.frequency = f
	case "offset":
		g.offset = v.Float(name, g.offset)
	default:
		return fmt.Errorf("variable %q is not tunable", name)
	}
	return nil
}
