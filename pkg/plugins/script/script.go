// Package script provides an expression plugin: a Starlark expression
// evaluated once per tick with the input ports in scope. It is meant for
// prototyping signal math without writing a plugin; evaluation goes
// through the Starlark interpreter and is not suitable for tight
// realtime budgets.
package script

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Kind is the registry identifier.
const Kind = "script"

// Script evaluates one expression per tick. Inputs are bound as
// in_0..in_<n-1>, the tick sequence as `tick`, and elapsed ideal time in
// seconds as `t`. The expression must evaluate to a number, written to
// the single `out` port.
type Script struct {
	source string
	inputs int

	expr   syntax.Expr
	thread *starlark.Thread
	env    starlark.StringDict
	names  []string
}

// New returns an unconfigured script plugin.
func New() *Script {
	return &Script{inputs: 1}
}

// Register adds the kind to a registry.
func Register(r *plugin.Registry) {
	r.MustRegister(Kind, func() plugin.Plugin { return New() })
}

// Manifest implements plugin.Plugin.
func (s *Script) Manifest() plugin.Manifest {
	ports := make([]plugin.PortSpec, 0, s.inputs+1)
	for i := 0; i < s.inputs; i++ {
		ports = append(ports, plugin.PortSpec{
			Name: fmt.Sprintf("in_%d", i), Direction: plugin.DirectionInput, Type: plugin.TypeScalar,
		})
	}
	ports = append(ports, plugin.PortSpec{
		Name: "out", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar,
	})
	return plugin.Manifest{
		Name:  "Starlark Expression",
		Kind:  Kind,
		Ports: ports,
		Variables: []plugin.VariableSpec{
			{Name: "expression", Type: "string", Required: true},
			{Name: "inputs", Type: "int", Default: 1, Constraints: "gte=0,lte=64"},
		},
	}
}

// Configure parses the expression so a syntax error surfaces as a
// ConfigError instead of a per-tick fault.
func (s *Script) Configure(values plugin.Values) error {
	resolved, err := plugin.ResolveValues(s.Manifest(), values)
	if err != nil {
		return err
	}
	s.source = resolved.String("expression", "")
	s.inputs = resolved.Int("inputs", 1)

	expr, err := syntax.ParseExpr("expression", s.source, 0)
	if err != nil {
		return &plugin.ConfigError{Kind: Kind, Variable: "expression", Reason: err.Error()}
	}
	s.expr = expr
	return nil
}

// Open builds the evaluation environment.
func (s *Script) Open(context.Context) error {
	s.thread = &starlark.Thread{Name: "rtloop-script"}
	s.env = make(starlark.StringDict, s.inputs+2)
	s.names = make([]string, s.inputs)
	for i := 0; i < s.inputs; i++ {
		s.names[i] = fmt.Sprintf("in_%d", i)
	}
	return nil
}

// Process implements plugin.Plugin.
func (s *Script) Process(tick plugin.Tick, ex *plugin.Exchange) error {
	for i, name := range s.names {
		s.env[name] = starlark.Float(ex.In[i].Scalar)
	}
	s.env["tick"] = starlark.MakeUint64(tick.Seq)
	s.env["t"] = starlark.Float(float64(tick.Seq) * tick.Target.Seconds())

	result, err := starlark.EvalExpr(s.thread, s.expr, s.env)
	if err != nil {
		return fmt.Errorf("evaluate expression: %w", err)
	}

	switch v := result.(type) {
	case starlark.Float:
		ex.Out[0].Scalar = float64(v)
	case starlark.Int:
		f, _ := starlark.AsFloat(v)
		ex.Out[0].Scalar = f
	case starlark.Bool:
		if v {
			ex.Out[0].Scalar = 1
		} else {
			ex.Out[0].Scalar = 0
		}
	default:
		return fmt.Errorf("expression returned %s, want a number", result.Type())
	}
	return nil
}

// Close implements plugin.Plugin.
func (s *Script) Close() error {
	s.thread = nil
	s.env = nil
	return nil
}
