package plugin

import (
	"fmt"
)

// DataType is the wire type carried by a port.
type DataType string

const (
	// TypeScalar is a single float64 sample per tick.
	TypeScalar DataType = "scalar"

	// TypeVector is a fixed-length block of float64 samples per tick.
	// The length is decided at Open and stays constant while running.
	TypeVector DataType = "vector"
)

// Direction distinguishes input from output ports.
type Direction string

const (
	// DirectionInput marks a port the instance reads each tick.
	DirectionInput Direction = "input"

	// DirectionOutput marks a port the instance writes each tick.
	DirectionOutput Direction = "output"
)

// PortSpec describes one typed, named data slot on a plugin.
type PortSpec struct {
	// Name is unique among the plugin's ports of the same direction.
	Name string `json:"name" yaml:"name"`

	// Direction is input or output.
	Direction Direction `json:"direction" yaml:"direction"`

	// Type is the data type carried by the port.
	Type DataType `json:"type" yaml:"type"`

	// Capacity hints the element count of a vector port so buffers can
	// be sized before the first tick. Zero means unknown.
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// VariableSpec describes one configurable parameter of a plugin kind.
// Variable values are fixed before Open and validated by Configure.
type VariableSpec struct {
	// Name is the variable identifier.
	Name string `json:"name" yaml:"name"`

	// Type is one of "float", "int", "string", "bool".
	Type string `json:"type" yaml:"type"`

	// Default is used when the workspace supplies no value.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Constraints is a go-playground/validator tag expression applied to
	// the value, e.g. "gte=0,lte=1000000" or "oneof=ns us ms s".
	Constraints string `json:"constraints,omitempty" yaml:"constraints,omitempty"`

	// Required rejects configuration that omits the variable.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Manifest is the immutable description of a plugin kind: its identity and
// the ordered port and variable specs a workspace wires against. A plugin
// whose ports depend on configuration (a device adapter enumerating
// channels) returns its current port list from Manifest after Configure
// or Rescan.
type Manifest struct {
	// Name is the human-readable plugin name.
	Name string `json:"name" yaml:"name"`

	// Kind is the registry identifier workspaces refer to.
	Kind string `json:"kind" yaml:"kind"`

	// Ports lists input and output ports in declaration order.
	Ports []PortSpec `json:"ports" yaml:"ports"`

	// Variables lists the configurable parameters.
	Variables []VariableSpec `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Inputs returns the input port specs in declaration order.
func (m Manifest) Inputs() []PortSpec {
	return m.portsByDirection(DirectionInput)
}

// Outputs returns the output port specs in declaration order.
func (m Manifest) Outputs() []PortSpec {
	return m.portsByDirection(DirectionOutput)
}

func (m Manifest) portsByDirection(dir Direction) []PortSpec {
	out := make([]PortSpec, 0, len(m.Ports))
	for _, p := range m.Ports {
		if p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}

// Port looks up a port spec by name and direction.
func (m Manifest) Port(name string, dir Direction) (PortSpec, bool) {
	for _, p := range m.Ports {
		if p.Name == name && p.Direction == dir {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Variable looks up a variable spec by name.
func (m Manifest) Variable(name string) (VariableSpec, bool) {
	for _, v := range m.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSpec{}, false
}

// Validate checks internal consistency of the manifest itself.
func (m Manifest) Validate() error {
	if m.Kind == "" {
		return fmt.Errorf("manifest has no kind")
	}
	seen := map[string]bool{}
	for _, p := range m.Ports {
		if p.Name == "" {
			return fmt.Errorf("manifest %q: port with empty name", m.Kind)
		}
		if p.Direction != DirectionInput && p.Direction != DirectionOutput {
			return fmt.Errorf("manifest %q: port %q has invalid direction %q", m.Kind, p.Name, p.Direction)
		}
		if p.Type != TypeScalar && p.Type != TypeVector {
			return fmt.Errorf("manifest %q: port %q has invalid type %q", m.Kind, p.Name, p.Type)
		}
		key := string(p.Direction) + "/" + p.Name
		if seen[key] {
			return fmt.Errorf("manifest %q: duplicate %s port %q", m.Kind, p.Direction, p.Name)
		}
		seen[key] = true
	}
	vars := map[string]bool{}
	for _, v := range m.Variables {
		if v.Name == "" {
			return fmt.Errorf("manifest %q: variable with empty name", m.Kind)
		}
		if vars[v.Name] {
			return fmt.Errorf("manifest %q: duplicate variable %q", m.Kind, v.Name)
		}
		vars[v.Name] = true
		switch v.Type {
		case "float", "int", "string", "bool":
		default:
			return fmt.Errorf("manifest %q: variable %q has invalid type %q", m.Kind, v.Name, v.Type)
		}
	}
	return nil
}
