package daq

import (
	"context"
	"fmt"
	"strings"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Kind is the registry identifier of the mock-backed adapter.
const Kind = "daq"

// Adapter exposes a device's channels as graph ports: one vector output
// per analog input channel (`ai_<n>`, a batch of samples_per_channel
// samples), one scalar output per digital input (`di_<n>`), one scalar
// input per analog output (`ao_<n>`, replicated across the batch) and
// per digital output (`do_<n>`).
type Adapter struct {
	driver Driver

	device            string
	sampleRate        float64
	samplesPerChannel int

	chans Channels
	ports []plugin.PortSpec

	task  Task
	aiBuf []float64
	aoBuf []float64
	diBuf []float64
	doBuf []float64
}

// New returns an adapter over the given driver.
func New(driver Driver) *Adapter {
	return &Adapter{driver: driver, device: "mock0", sampleRate: 10000, samplesPerChannel: 100}
}

// Register adds the mock-backed kind to a registry.
func Register(r *plugin.Registry) {
	r.MustRegister(Kind, func() plugin.Plugin { return New(NewMockDriver()) })
}

// RegisterDriver adds a vendor-backed adapter kind to a registry. The
// factory is invoked once per instance, so drivers must tolerate
// concurrent tasks.
func RegisterDriver(r *plugin.Registry, kind string, factory func() Driver) error {
	return r.Register(kind, func() plugin.Plugin { return New(factory()) })
}

// Manifest implements plugin.Plugin. The port list reflects the most
// recent channel discovery.
func (a *Adapter) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:  "DAQ Device Driver",
		Kind:  Kind,
		Ports: a.ports,
		Variables: []plugin.VariableSpec{
			{Name: "device", Type: "string", Default: "mock0", Required: true},
			{Name: "sample_rate", Type: "float", Default: 10000.0, Constraints: "gt=0"},
			{Name: "samples_per_channel", Type: "int", Default: 100, Constraints: "gte=1,lte=1000000"},
			{Name: "ai_channels", Type: "string", Default: ""},
			{Name: "ao_channels", Type: "string", Default: ""},
			{Name: "di_channels", Type: "string", Default: ""},
			{Name: "do_channels", Type: "string", Default: ""},
		},
	}
}

// Configure validates configuration and discovers the device's channels,
// building the port list the workspace wires against.
func (a *Adapter) Configure(values plugin.Values) error {
	resolved, err := plugin.ResolveValues(a.Manifest(), values)
	if err != nil {
		return err
	}
	a.device = resolved.String("device", "mock0")
	a.sampleRate = resolved.Float("sample_rate", 10000)
	a.samplesPerChannel = resolved.Int("samples_per_channel", 100)

	discovered, err := a.driver.Enumerate(context.Background(), a.device)
	if err != nil {
		return &plugin.ConfigError{Kind: Kind, Variable: "device",
			Reason: fmt.Sprintf("channel discovery failed: %v", err)}
	}

	a.chans, err = selectChannels(discovered, resolved)
	if err != nil {
		return err
	}
	a.rebuildPorts()
	return nil
}

// selectChannels narrows discovery to the configured per-direction
// lists; an empty list takes every discovered channel.
func selectChannels(discovered Channels, values plugin.Values) (Channels, error) {
	pick := func(variable string, available []string) ([]string, error) {
		raw := strings.TrimSpace(values.String(variable, ""))
		if raw == "" {
			return available, nil
		}
		known := make(map[string]bool, len(available))
		for _, ch := range available {
			known[ch] = true
		}
		var out []string
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !known[name] {
				return nil, fmt.Errorf("channel %q not present on device", name)
			}
			out = append(out, name)
		}
		return out, nil
	}

	var sel Channels
	var err error
	if sel.AnalogIn, err = pick("ai_channels", discovered.AnalogIn); err != nil {
		return Channels{}, &plugin.ConfigError{Kind: Kind, Variable: "ai_channels", Reason: err.Error()}
	}
	if sel.AnalogOut, err = pick("ao_channels", discovered.AnalogOut); err != nil {
		return Channels{}, &plugin.ConfigError{Kind: Kind, Variable: "ao_channels", Reason: err.Error()}
	}
	if sel.DigitalIn, err = pick("di_channels", discovered.DigitalIn); err != nil {
		return Channels{}, &plugin.ConfigError{Kind: Kind, Variable: "di_channels", Reason: err.Error()}
	}
	if sel.DigitalOut, err = pick("do_channels", discovered.DigitalOut); err != nil {
		return Channels{}, &plugin.ConfigError{Kind: Kind, Variable: "do_channels", Reason: err.Error()}
	}
	return sel, nil
}

func (a *Adapter) rebuildPorts() {
	a.ports = a.ports[:0]
	for i := range a.chans.AnalogIn {
		a.ports = append(a.ports, plugin.PortSpec{
			Name: fmt.Sprintf("ai_%d", i), Direction: plugin.DirectionOutput, Type: plugin.TypeVector,
			Capacity: a.samplesPerChannel,
		})
	}
	for i := range a.chans.DigitalIn {
		a.ports = append(a.ports, plugin.PortSpec{
			Name: fmt.Sprintf("di_%d", i), Direction: plugin.DirectionOutput, Type: plugin.TypeScalar,
		})
	}
	for i := range a.chans.AnalogOut {
		a.ports = append(a.ports, plugin.PortSpec{
			Name: fmt.Sprintf("ao_%d", i), Direction: plugin.DirectionInput, Type: plugin.TypeScalar,
		})
	}
	for i := range a.chans.DigitalOut {
		a.ports = append(a.ports, plugin.PortSpec{
			Name: fmt.Sprintf("do_%d", i), Direction: plugin.DirectionInput, Type: plugin.TypeScalar,
		})
	}
}

// Open acquires the hardware task and preallocates every batch buffer.
// The task handle stays open across ticks.
func (a *Adapter) Open(ctx context.Context) error {
	task, err := a.driver.OpenTask(ctx, a.device, TaskConfig{
		SampleRate:        a.sampleRate,
		SamplesPerChannel: a.samplesPerChannel,
		Channels:          a.chans,
	})
	if err != nil {
		return fmt.Errorf("open task on %q: %w", a.device, err)
	}
	a.task = task
	a.aiBuf = make([]float64, len(a.chans.AnalogIn)*a.samplesPerChannel)
	a.aoBuf = make([]float64, len(a.chans.AnalogOut)*a.samplesPerChannel)
	a.diBuf = make([]float64, len(a.chans.DigitalIn))
	a.doBuf = make([]float64, len(a.chans.DigitalOut))
	return nil
}

// Process batches samples_per_channel reads and writes per call to
// amortize driver overhead. No allocation: all buffers were sized at
// Open.
func (a *Adapter) Process(_ plugin.Tick, ex *plugin.Exchange) error {
	nAI := len(a.chans.AnalogIn)
	nDI := len(a.chans.DigitalIn)
	nAO := len(a.chans.AnalogOut)
	spc := a.samplesPerChannel

	if nAI > 0 {
		if err := a.task.ReadAnalog(a.aiBuf); err != nil {
			return fmt.Errorf("analog read: %w", err)
		}
		for c := 0; c < nAI; c++ {
			v := &ex.Out[c]
			// The port capacity hint sizes this buffer before the run, so
			// the grow path never runs under an engine.
			if cap(v.Vector) < spc {
				v.Vector = make([]float64, spc)
			}
			v.Vector = v.Vector[:spc]
			copy(v.Vector, a.aiBuf[c*spc:(c+1)*spc])
			v.Scalar = v.Vector[spc-1]
		}
	}
	if nDI > 0 {
		if err := a.task.ReadDigital(a.diBuf); err != nil {
			return fmt.Errorf("digital read: %w", err)
		}
		for c := 0; c < nDI; c++ {
			ex.Out[nAI+c].Scalar = a.diBuf[c]
		}
	}

	if nAO > 0 {
		for c := 0; c < nAO; c++ {
			v := ex.In[c].Scalar
			base := c * spc
			for s := 0; s < spc; s++ {
				a.aoBuf[base+s] = v
			}
		}
		if err := a.task.WriteAnalog(a.aoBuf); err != nil {
			return fmt.Errorf("analog write: %w", err)
		}
	}
	if len(a.chans.DigitalOut) > 0 {
		for c := range a.chans.DigitalOut {
			a.doBuf[c] = ex.In[nAO+c].Scalar
		}
		if err := a.task.WriteDigital(a.doBuf); err != nil {
			return fmt.Errorf("digital write: %w", err)
		}
	}
	return nil
}

// Close releases the hardware task. Idempotent.
func (a *Adapter) Close() error {
	if a.task == nil {
		return nil
	}
	err := a.task.Close()
	a.task = nil
	return err
}

// Rescan re-enumerates the device's channels and rebuilds the port
// list. The engine only permits it while not running.
func (a *Adapter) Rescan(ctx context.Context) ([]plugin.PortSpec, error) {
	discovered, err := a.driver.Enumerate(ctx, a.device)
	if err != nil {
		return nil, fmt.Errorf("rescan %q: %w", a.device, err)
	}
	a.chans = discovered
	a.rebuildPorts()
	return append([]plugin.PortSpec(nil), a.ports...), nil
}
