package wasmplug

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// emptyModule is a valid wasm binary (magic + version) with no exports,
// enough to instantiate without running any guest code.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func doublerManifest() plugin.ExternalManifest {
	return plugin.ExternalManifest{
		Manifest: plugin.Manifest{
			Name: "Doubler",
			Kind: "doubler",
			Ports: []plugin.PortSpec{
				{Name: "in", Direction: plugin.DirectionInput, Type: plugin.TypeScalar},
				{Name: "out", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
			},
			Variables: []plugin.VariableSpec{
				{Name: "gain", Type: "float", Default: 2.0, Constraints: "gte=0"},
			},
		},
		Module: "doubler.wasm",
	}
}

func TestHostConfigureRejectsVectorPorts(t *testing.T) {
	m := doublerManifest()
	m.Ports = append(m.Ports, plugin.PortSpec{
		Name: "batch", Direction: plugin.DirectionOutput, Type: plugin.TypeVector,
	})

	h := New(m, t.TempDir())
	err := h.Configure(nil)
	var cfgErr *plugin.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Configure = %v, want a config error for the vector port", err)
	}
	if !strings.Contains(cfgErr.Reason, "batch") {
		t.Errorf("reason = %q, want it to name the offending port", cfgErr.Reason)
	}
}

func TestHostConfigureResolvesVariables(t *testing.T) {
	h := New(doublerManifest(), t.TempDir())
	if err := h.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	err := h.Configure(plugin.Values{"gain": -1.0})
	var cfgErr *plugin.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Variable != "gain" {
		t.Fatalf("Configure(gain=-1) = %v, want ConfigError on gain", err)
	}
}

func TestHostOpenMissingModule(t *testing.T) {
	dir := t.TempDir()
	h := New(doublerManifest(), dir)
	if err := h.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.Open(context.Background()); err == nil {
		t.Fatal("Open succeeded with no module file on disk")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close after failed Open: %v", err)
	}
}

func TestHostOpenRejectsInvalidModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doubler.wasm"), []byte("not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := New(doublerManifest(), dir)
	if err := h.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.Open(context.Background()); err == nil {
		t.Fatal("Open accepted garbage module bytes")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close after failed Open: %v", err)
	}
}

func TestHostOpenRequiresExports(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doubler.wasm"), emptyModule, 0o644); err != nil {
		t.Fatal(err)
	}

	h := New(doublerManifest(), dir)
	if err := h.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	err := h.Open(context.Background())
	if err == nil {
		t.Fatal("Open accepted a module without rt_open and rt_process")
	}
	if !strings.Contains(err.Error(), "rt_open") {
		t.Errorf("error = %v, want it to name the missing exports", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close after failed Open: %v", err)
	}
}

func TestHostCloseIdempotent(t *testing.T) {
	h := New(doublerManifest(), t.TempDir())
	for i := 0; i < 2; i++ {
		if err := h.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
}

func TestHostSetVariableBeforeOpen(t *testing.T) {
	h := New(doublerManifest(), t.TempDir())
	if err := h.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.SetVariable("missing", 1.0); err == nil {
		t.Error("SetVariable accepted an unknown variable")
	}
	if err := h.SetVariable("gain", 3.0); err == nil {
		t.Error("SetVariable succeeded without a loaded rt_set export")
	}
}

func TestRegisterCatalog(t *testing.T) {
	dir := t.TempDir()
	manifestYAML := `name: Doubler
kind: doubler
module: doubler.wasm
ports:
  - name: in
    direction: input
    type: scalar
  - name: out
    direction: output
    type: scalar
`
	if err := os.WriteFile(filepath.Join(dir, "doubler.yaml"), []byte(manifestYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := plugin.OpenCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}

	reg := plugin.NewRegistry()
	if err := RegisterCatalog(reg, cat, dir); err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}
	plug, err := reg.New("doubler")
	if err != nil {
		t.Fatalf("New(doubler): %v", err)
	}
	if _, ok := plug.(*Host); !ok {
		t.Fatalf("registered factory built %T, want *Host", plug)
	}
}
