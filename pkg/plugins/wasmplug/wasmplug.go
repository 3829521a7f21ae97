// Package wasmplug hosts out-of-tree plugin kinds compiled to WASM. A
// catalog manifest describes the kind's ports and variables; the module
// it points at implements a small numeric ABI:
//
//	rt_open(inputs u32, outputs u32) -> u32   pointer to an f64 region of
//	                                          inputs+outputs slots, 0 on failure
//	rt_process(seq u64, dt f64) -> u32        0 ok, 1 fault, 2 fatal
//	rt_set(index u32, value f64)              optional, variable updates
//	rt_close()                                optional
//
// The host writes input slots before each rt_process call and reads
// output slots after it. Only scalar ports are supported.
package wasmplug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// DefaultMemoryLimitPages caps guest memory at 16MB (64KB pages).
const DefaultMemoryLimitPages = 256

const (
	processOK    = 0
	processFault = 1
	processFatal = 2
)

// Host runs one WASM plugin instance.
type Host struct {
	manifest plugin.ExternalManifest
	dir      string

	vars     plugin.Values
	varIndex map[string]int

	runtime wazero.Runtime
	module  api.Module
	open    api.Function
	process api.Function
	set     api.Function
	closeFn api.Function

	base    uint32
	inputs  int
	outputs int
	stack   []uint64
}

// New creates a host for a catalog manifest. dir is the directory the
// manifest was loaded from; the module path resolves relative to it.
func New(manifest plugin.ExternalManifest, dir string) *Host {
	return &Host{manifest: manifest, dir: dir}
}

// RegisterCatalog registers every catalog kind into a registry, each
// backed by a WASM host.
func RegisterCatalog(reg *plugin.Registry, cat *plugin.Catalog, dir string) error {
	return cat.RegisterInto(reg, func(m plugin.ExternalManifest) plugin.Factory {
		return func() plugin.Plugin { return New(m, dir) }
	})
}

// Manifest implements plugin.Plugin.
func (h *Host) Manifest() plugin.Manifest { return h.manifest.Manifest }

// Configure implements plugin.Plugin. Port and variable validation
// happens here so a broken manifest fails before the module loads.
func (h *Host) Configure(values plugin.Values) error {
	for _, p := range h.manifest.Ports {
		if p.Type != plugin.TypeScalar {
			return &plugin.ConfigError{
				Kind:   h.manifest.Kind,
				Reason: fmt.Sprintf("port %q: wasm plugins support scalar ports only", p.Name),
			}
		}
	}
	resolved, err := plugin.ResolveValues(h.manifest.Manifest, values)
	if err != nil {
		return err
	}
	h.vars = resolved
	h.varIndex = make(map[string]int, len(h.manifest.Variables))
	for i, v := range h.manifest.Variables {
		h.varIndex[v.Name] = i
	}
	return nil
}

// Open instantiates the runtime, loads the module, and hands the
// configured variables to the guest.
func (h *Host) Open(ctx context.Context) error {
	path := h.manifest.Module
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.dir, path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read module %s: %w", path, err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(DefaultMemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return fmt.Errorf("instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return fmt.Errorf("instantiate module: %w", err)
	}

	openFn := module.ExportedFunction("rt_open")
	processFn := module.ExportedFunction("rt_process")
	if openFn == nil || processFn == nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return fmt.Errorf("module %s does not export rt_open and rt_process", path)
	}

	inputs := len(h.manifest.Inputs())
	outputs := len(h.manifest.Outputs())
	results, err := openFn.Call(ctx, uint64(inputs), uint64(outputs))
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return fmt.Errorf("rt_open: %w", err)
	}
	base := uint32(results[0])
	if base == 0 {
		module.Close(ctx)
		runtime.Close(ctx)
		return fmt.Errorf("rt_open refused %d inputs, %d outputs", inputs, outputs)
	}

	h.runtime = runtime
	h.module = module
	h.open = openFn
	h.process = processFn
	h.set = module.ExportedFunction("rt_set")
	h.closeFn = module.ExportedFunction("rt_close")
	h.base = base
	h.inputs = inputs
	h.outputs = outputs
	h.stack = make([]uint64, 2)

	// Hand numeric variables to the guest. Non-numeric variables only
	// shape host-side behavior and stay on this side of the boundary.
	if h.set != nil {
		for _, v := range h.manifest.Variables {
			raw, present := h.vars[v.Name]
			if !present {
				continue
			}
			if _, numeric := toFloat(raw); !numeric {
				continue
			}
			if err := h.SetVariable(v.Name, raw); err != nil {
				_ = h.Close()
				return err
			}
		}
	}
	return nil
}

// Process implements plugin.Plugin. The guest call reuses a preallocated
// stack so the hot path does not allocate on the host side.
func (h *Host) Process(tick plugin.Tick, ex *plugin.Exchange) error {
	mem := h.module.Memory()
	for i := 0; i < h.inputs; i++ {
		if !mem.WriteFloat64Le(h.base+uint32(i)*8, ex.In[i].Scalar) {
			return fmt.Errorf("%w: input slot %d out of guest memory", plugin.ErrFatal, i)
		}
	}

	h.stack[0] = tick.Seq
	h.stack[1] = api.EncodeF64(tick.Target.Seconds())
	if err := h.process.CallWithStack(context.Background(), h.stack); err != nil {
		return fmt.Errorf("%w: rt_process trapped: %v", plugin.ErrFatal, err)
	}
	switch uint32(h.stack[0]) {
	case processOK:
	case processFault:
		return fmt.Errorf("rt_process reported a fault at tick %d", tick.Seq)
	default:
		return fmt.Errorf("%w: rt_process reported code %d", plugin.ErrFatal, uint32(h.stack[0]))
	}

	for i := 0; i < h.outputs; i++ {
		v, ok := mem.ReadFloat64Le(h.base + uint32(h.inputs+i)*8)
		if !ok {
			return fmt.Errorf("%w: output slot %d out of guest memory", plugin.ErrFatal, i)
		}
		ex.Out[i].Scalar = v
	}
	return nil
}

// SetVariable implements plugin.Tunable by forwarding to the guest's
// rt_set export. Values must coerce to float64.
func (h *Host) SetVariable(name string, value any) error {
	idx, ok := h.varIndex[name]
	if !ok {
		return fmt.Errorf("unknown variable %q", name)
	}
	if h.set == nil {
		return fmt.Errorf("module does not export rt_set")
	}
	f, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("variable %q: want a number, got %T", name, value)
	}
	_, err := h.set.Call(context.Background(), uint64(idx), api.EncodeF64(f))
	if err != nil {
		return fmt.Errorf("rt_set %q: %w", name, err)
	}
	return nil
}

// Close implements plugin.Plugin. Closing twice is a no-op.
func (h *Host) Close() error {
	if h.runtime == nil {
		return nil
	}
	ctx := context.Background()
	if h.closeFn != nil {
		_, _ = h.closeFn.Call(ctx)
	}
	if h.module != nil {
		if err := h.module.Close(ctx); err != nil {
			h.module = nil
			h.runtime.Close(ctx)
			h.runtime = nil
			return fmt.Errorf("close module: %w", err)
		}
		h.module = nil
	}
	err := h.runtime.Close(ctx)
	h.runtime = nil
	if err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
