package graph

import (
	"fmt"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// InstanceConfig is one plugin instance as stored in a workspace: its
// identity, kind, execution priority group, and variable values.
type InstanceConfig struct {
	// ID is unique within the workspace.
	ID uint64 `json:"id"`

	// Kind is the registry identifier of the plugin.
	Kind string `json:"kind"`

	// Priority selects the execution priority group; lower runs first.
	Priority int `json:"priority,omitempty"`

	// Variables are the configured variable values.
	Variables plugin.Values `json:"variables,omitempty"`
}

// Connection wires one source output port to one destination input port.
type Connection struct {
	FromInstance uint64 `json:"from_instance"`
	FromPort     string `json:"from_port"`
	ToInstance   uint64 `json:"to_instance"`
	ToPort       string `json:"to_port"`

	// Delay marks the connection as delay-carrying: the destination
	// reads the value the source produced one tick earlier, which breaks
	// the same-tick dependency and exempts the edge from cycle checks.
	Delay bool `json:"delay,omitempty"`
}

// Settings holds the workspace timing configuration.
type Settings struct {
	// Period is the tick period.
	Period time.Duration `json:"-"`

	// PeriodUnit is the display unit for timing outputs: ns, us, ms, s.
	PeriodUnit string `json:"period_unit"`
}

// DefaultSettings is a 1 kHz loop reporting in microseconds.
func DefaultSettings() Settings {
	return Settings{Period: time.Millisecond, PeriodUnit: "us"}
}

// Workspace is the persisted unit: a named collection of instances,
// connections, and timing settings.
type Workspace struct {
	Name        string
	Description string
	Settings    Settings
	Instances   []InstanceConfig
	Connections []Connection
}

// NewWorkspace returns an empty workspace with default settings.
func NewWorkspace(name string) *Workspace {
	return &Workspace{Name: name, Settings: DefaultSettings()}
}

// Instance returns the instance config with the given id.
func (w *Workspace) Instance(id uint64) (*InstanceConfig, bool) {
	for i := range w.Instances {
		if w.Instances[i].ID == id {
			return &w.Instances[i], true
		}
	}
	return nil, false
}

// AddInstance appends an instance, enforcing id uniqueness.
func (w *Workspace) AddInstance(inst InstanceConfig) error {
	if inst.Kind == "" {
		return fmt.Errorf("instance %d: empty kind", inst.ID)
	}
	if _, exists := w.Instance(inst.ID); exists {
		return fmt.Errorf("instance id %d already in use", inst.ID)
	}
	if inst.Variables == nil {
		inst.Variables = plugin.Values{}
	}
	w.Instances = append(w.Instances, inst)
	return nil
}

// RemoveInstance deletes an instance and every connection touching it.
func (w *Workspace) RemoveInstance(id uint64) error {
	idx := -1
	for i := range w.Instances {
		if w.Instances[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("instance %d not found", id)
	}
	w.Instances = append(w.Instances[:idx], w.Instances[idx+1:]...)

	kept := w.Connections[:0]
	for _, c := range w.Connections {
		if c.FromInstance != id && c.ToInstance != id {
			kept = append(kept, c)
		}
	}
	w.Connections = kept
	return nil
}

// SetVariable sets one variable value on an instance. Constraint
// validation happens when the instance is configured, not here.
func (w *Workspace) SetVariable(id uint64, name string, value any) error {
	inst, ok := w.Instance(id)
	if !ok {
		return fmt.Errorf("instance %d not found", id)
	}
	if inst.Variables == nil {
		inst.Variables = plugin.Values{}
	}
	inst.Variables[name] = value
	return nil
}

// Connect adds a connection, enforcing the structural rules: both
// endpoints must exist, no self-connections, and an input port accepts at
// most one incoming connection. Port existence and type compatibility are
// checked by Validate, which has the manifests in hand.
func (w *Workspace) Connect(conn Connection) error {
	if conn.FromInstance == conn.ToInstance {
		return fmt.Errorf("self connections are not allowed")
	}
	if _, ok := w.Instance(conn.FromInstance); !ok {
		return fmt.Errorf("source instance %d not found", conn.FromInstance)
	}
	if _, ok := w.Instance(conn.ToInstance); !ok {
		return fmt.Errorf("destination instance %d not found", conn.ToInstance)
	}
	for _, c := range w.Connections {
		if c.ToInstance == conn.ToInstance && c.ToPort == conn.ToPort {
			return fmt.Errorf("input %d:%s already has an incoming connection", conn.ToInstance, conn.ToPort)
		}
	}
	w.Connections = append(w.Connections, conn)
	return nil
}

// Disconnect removes the connection feeding the given input port.
func (w *Workspace) Disconnect(toInstance uint64, toPort string) error {
	for i, c := range w.Connections {
		if c.ToInstance == toInstance && c.ToPort == toPort {
			w.Connections = append(w.Connections[:i], w.Connections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no connection into %d:%s", toInstance, toPort)
}
