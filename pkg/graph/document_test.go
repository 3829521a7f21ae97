package graph

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func sampleWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w := NewWorkspace("motor-rig")
	w.Description = "bench controller"
	w.Settings.Period = 500 * time.Microsecond
	w.Settings.PeriodUnit = "us"
	if err := w.AddInstance(InstanceConfig{
		ID:        1,
		Kind:      "generator",
		Variables: plugin.Values{"amplitude": 2.5},
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddInstance(InstanceConfig{ID: 2, Kind: "recorder", Priority: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Connect(Connection{
		FromInstance: 1, FromPort: "out",
		ToInstance: 2, ToPort: "in_0",
	}); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestDocumentRoundTrip(t *testing.T) {
	w := sampleWorkspace(t)
	path := filepath.Join(t.TempDir(), "motor-rig.json")

	if err := Save(w, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Name != w.Name || got.Description != w.Description {
		t.Fatalf("identity changed: got %q/%q", got.Name, got.Description)
	}
	if got.Settings.Period != 500*time.Microsecond {
		t.Fatalf("period = %v, want 500µs", got.Settings.Period)
	}
	if got.Settings.PeriodUnit != "us" {
		t.Fatalf("period unit = %q, want us", got.Settings.PeriodUnit)
	}
	if len(got.Instances) != 2 || len(got.Connections) != 1 {
		t.Fatalf("got %d instances, %d connections", len(got.Instances), len(got.Connections))
	}
	inst, ok := got.Instance(1)
	if !ok {
		t.Fatal("instance 1 missing after round trip")
	}
	if v, ok := inst.Variables["amplitude"]; !ok || v.(float64) != 2.5 {
		t.Fatalf("amplitude = %v, want 2.5", v)
	}
	conn := got.Connections[0]
	if conn.FromInstance != 1 || conn.ToInstance != 2 || conn.ToPort != "in_0" {
		t.Fatalf("connection changed: %+v", conn)
	}
}

func TestDecodeMigratesV1(t *testing.T) {
	data := []byte(`{
		"schema_version": 1,
		"name": "legacy-rig",
		"target_hz": 2000,
		"plugins": [
			{"id": 1, "kind": "generator", "config": {"amplitude": 1.0}},
			{"id": 2, "kind": "recorder", "priority": 1}
		],
		"connections": [
			{"from_plugin": 1, "from_port": "out", "to_plugin": 2, "to_port": "in_0"}
		]
	}`)

	w, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode v1: %v", err)
	}
	if w.Settings.Period != 500*time.Microsecond {
		t.Fatalf("period = %v, want 500µs for 2 kHz", w.Settings.Period)
	}
	inst, ok := w.Instance(1)
	if !ok {
		t.Fatal("instance 1 missing after migration")
	}
	if v := inst.Variables["amplitude"]; v.(float64) != 1.0 {
		t.Fatalf("migrated config amplitude = %v, want 1.0", v)
	}
	if len(w.Connections) != 1 || w.Connections[0].FromInstance != 1 {
		t.Fatalf("connections = %+v", w.Connections)
	}

	// A migrated workspace re-encodes at the current version.
	out, err := Encode(w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(out), `"schema_version": 2`) {
		t.Fatalf("re-encoded document is not version 2:\n%s", out)
	}
}

func TestDecodeRejectsBadVersions(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "missing version",
			data: `{"name": "x"}`,
			want: "no schema_version",
		},
		{
			name: "newer version",
			data: `{"schema_version": 99, "name": "x"}`,
			want: "newer than supported",
		},
		{
			name: "v1 without target_hz",
			data: `{"schema_version": 1, "name": "x"}`,
			want: "target_hz",
		},
		{
			name: "not json",
			data: `{broken`,
			want: "parse workspace document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("Decode succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDecodeSchemaRejection(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "zero period",
			data: `{
				"schema_version": 2, "name": "x",
				"settings": {"period_us": 0, "period_unit": "us"},
				"instances": [], "connections": []
			}`,
		},
		{
			name: "unknown period unit",
			data: `{
				"schema_version": 2, "name": "x",
				"settings": {"period_us": 1000, "period_unit": "minutes"},
				"instances": [], "connections": []
			}`,
		},
		{
			name: "instance id zero",
			data: `{
				"schema_version": 2, "name": "x",
				"settings": {"period_us": 1000, "period_unit": "us"},
				"instances": [{"id": 0, "kind": "generator"}],
				"connections": []
			}`,
		},
		{
			name: "instance without kind",
			data: `{
				"schema_version": 2, "name": "x",
				"settings": {"period_us": 1000, "period_unit": "us"},
				"instances": [{"id": 1, "kind": ""}],
				"connections": []
			}`,
		},
		{
			name: "empty name",
			data: `{
				"schema_version": 2, "name": "",
				"settings": {"period_us": 1000, "period_unit": "us"},
				"instances": [], "connections": []
			}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Fatal("Decode succeeded, want schema rejection")
			}
		})
	}
}

func TestDecodeDuplicateInstanceID(t *testing.T) {
	data := []byte(`{
		"schema_version": 2, "name": "x",
		"settings": {"period_us": 1000, "period_unit": "us"},
		"instances": [
			{"id": 1, "kind": "generator"},
			{"id": 1, "kind": "recorder"}
		],
		"connections": []
	}`)
	_, err := Decode(data)
	if err == nil || !strings.Contains(err.Error(), "duplicate instance id") {
		t.Fatalf("Decode error = %v, want duplicate instance id", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load succeeded on missing file")
	}
}
