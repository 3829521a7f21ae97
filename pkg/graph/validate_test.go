package graph

import (
	"errors"
	"testing"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func scalarNode(kind string) plugin.Manifest {
	return plugin.Manifest{
		Name: kind,
		Kind: kind,
		Ports: []plugin.PortSpec{
			{Name: "in", Direction: plugin.DirectionInput, Type: plugin.TypeScalar},
			{Name: "out", Direction: plugin.DirectionOutput, Type: plugin.TypeScalar},
		},
	}
}

func vectorSink(kind string) plugin.Manifest {
	return plugin.Manifest{
		Name: kind,
		Kind: kind,
		Ports: []plugin.PortSpec{
			{Name: "in", Direction: plugin.DirectionInput, Type: plugin.TypeVector},
		},
	}
}

// testGraph builds a workspace with n scalar pass-through instances,
// ids 1..n, all in priority group 0, plus matching manifests.
func testGraph(t *testing.T, n int) (*Workspace, map[uint64]plugin.Manifest) {
	t.Helper()
	w := NewWorkspace("test")
	manifests := make(map[uint64]plugin.Manifest, n)
	for i := 1; i <= n; i++ {
		id := uint64(i)
		if err := w.AddInstance(InstanceConfig{ID: id, Kind: "node"}); err != nil {
			t.Fatalf("AddInstance(%d): %v", id, err)
		}
		manifests[id] = scalarNode("node")
	}
	return w, manifests
}

func connect(t *testing.T, w *Workspace, from, to uint64) {
	t.Helper()
	conn := Connection{FromInstance: from, FromPort: "out", ToInstance: to, ToPort: "in"}
	if err := w.Connect(conn); err != nil {
		t.Fatalf("Connect(%d -> %d): %v", from, to, err)
	}
}

func TestValidateLinearChainOrder(t *testing.T) {
	w, manifests := testGraph(t, 3)
	connect(t, w, 1, 2)
	connect(t, w, 2, 3)

	order, err := Validate(w, manifests)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []uint64{1, 2, 3}
	if !equalIDs(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestValidateTiesBrokenBySmallestID(t *testing.T) {
	// 3 feeds 1; 2 is independent. 2 and 3 are both ready first, and the
	// smaller id must win regardless of insertion order.
	w, manifests := testGraph(t, 3)
	connect(t, w, 3, 1)

	order, err := Validate(w, manifests)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []uint64{2, 3, 1}
	if !equalIDs(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestValidateOrderIsDeterministic(t *testing.T) {
	w, manifests := testGraph(t, 6)
	connect(t, w, 5, 2)
	connect(t, w, 6, 4)

	first, err := Validate(w, manifests)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Validate(w, manifests)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !equalIDs(first, again) {
			t.Fatalf("order changed between runs: %v vs %v", first, again)
		}
	}
}

func TestValidatePriorityGroupsRunInAscendingOrder(t *testing.T) {
	w := NewWorkspace("test")
	manifests := map[uint64]plugin.Manifest{}
	for _, inst := range []InstanceConfig{
		{ID: 1, Kind: "node", Priority: 5},
		{ID: 2, Kind: "node", Priority: 0},
		{ID: 3, Kind: "node", Priority: 5},
		{ID: 4, Kind: "node", Priority: -1},
	} {
		if err := w.AddInstance(inst); err != nil {
			t.Fatalf("AddInstance(%d): %v", inst.ID, err)
		}
		manifests[inst.ID] = scalarNode("node")
	}
	// Inside group 5, 3 must come before 1.
	connect(t, w, 3, 1)

	order, err := Validate(w, manifests)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []uint64{4, 2, 3, 1}
	if !equalIDs(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestValidateCycleWithoutDelayEdge(t *testing.T) {
	w, manifests := testGraph(t, 4)
	connect(t, w, 1, 2)
	connect(t, w, 2, 1)
	// 3 hangs off the cycle and can never be scheduled either.
	connect(t, w, 2, 3)

	_, err := Validate(w, manifests)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Validate error = %v, want CycleError", err)
	}
	want := []uint64{1, 2, 3}
	if !equalIDs(cycleErr.Members, want) {
		t.Fatalf("cycle members = %v, want %v", cycleErr.Members, want)
	}
}

func TestValidateDelayEdgeBreaksCycle(t *testing.T) {
	w, manifests := testGraph(t, 2)
	connect(t, w, 1, 2)
	if err := w.Connect(Connection{
		FromInstance: 2, FromPort: "out",
		ToInstance: 1, ToPort: "in",
		Delay: true,
	}); err != nil {
		t.Fatalf("Connect delay edge: %v", err)
	}

	order, err := Validate(w, manifests)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []uint64{1, 2}
	if !equalIDs(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestValidateSelfLoopRequiresDelay(t *testing.T) {
	// Workspace.Connect rejects self edges outright, so a self loop can
	// only arrive through a decoded document. Build the connection
	// directly.
	w, manifests := testGraph(t, 1)
	w.Connections = append(w.Connections, Connection{
		FromInstance: 1, FromPort: "out", ToInstance: 1, ToPort: "in",
	})

	_, err := Validate(w, manifests)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Validate error = %v, want CycleError", err)
	}

	w.Connections[0].Delay = true
	if _, err := Validate(w, manifests); err != nil {
		t.Fatalf("Validate with delay self loop: %v", err)
	}
}

func TestValidateMissingManifest(t *testing.T) {
	w, manifests := testGraph(t, 2)
	delete(manifests, 2)

	_, err := Validate(w, manifests)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Validate error = %v, want BuildError", err)
	}
	if buildErr.Instance != 2 {
		t.Fatalf("BuildError.Instance = %d, want 2", buildErr.Instance)
	}
}

func TestValidateUnknownPorts(t *testing.T) {
	tests := []struct {
		name         string
		conn         Connection
		wantInstance uint64
		wantPort     string
	}{
		{
			name:         "unknown output",
			conn:         Connection{FromInstance: 1, FromPort: "nope", ToInstance: 2, ToPort: "in"},
			wantInstance: 1,
			wantPort:     "nope",
		},
		{
			name:         "unknown input",
			conn:         Connection{FromInstance: 1, FromPort: "out", ToInstance: 2, ToPort: "nope"},
			wantInstance: 2,
			wantPort:     "nope",
		},
		{
			name: "input port used as output",
			conn: Connection{FromInstance: 1, FromPort: "in", ToInstance: 2, ToPort: "in"},
			// "in" exists only as an input on the source.
			wantInstance: 1,
			wantPort:     "in",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, manifests := testGraph(t, 2)
			w.Connections = append(w.Connections, tt.conn)

			_, err := Validate(w, manifests)
			var buildErr *BuildError
			if !errors.As(err, &buildErr) {
				t.Fatalf("Validate error = %v, want BuildError", err)
			}
			if buildErr.Instance != tt.wantInstance || buildErr.Port != tt.wantPort {
				t.Fatalf("BuildError at %d:%s, want %d:%s",
					buildErr.Instance, buildErr.Port, tt.wantInstance, tt.wantPort)
			}
		})
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	w := NewWorkspace("test")
	if err := w.AddInstance(InstanceConfig{ID: 1, Kind: "node"}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddInstance(InstanceConfig{ID: 2, Kind: "vecsink"}); err != nil {
		t.Fatal(err)
	}
	manifests := map[uint64]plugin.Manifest{
		1: scalarNode("node"),
		2: vectorSink("vecsink"),
	}
	connect(t, w, 1, 2)

	_, err := Validate(w, manifests)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Validate error = %v, want BuildError", err)
	}
	if buildErr.Instance != 2 || buildErr.Port != "in" {
		t.Fatalf("BuildError at %d:%s, want 2:in", buildErr.Instance, buildErr.Port)
	}
}

func TestValidateDuplicateIncomingConnection(t *testing.T) {
	// Connect enforces the single-writer rule at edit time, so force the
	// duplicate in directly, as a decoded document could.
	w, manifests := testGraph(t, 3)
	w.Connections = append(w.Connections,
		Connection{FromInstance: 1, FromPort: "out", ToInstance: 3, ToPort: "in"},
		Connection{FromInstance: 2, FromPort: "out", ToInstance: 3, ToPort: "in"},
	)

	_, err := Validate(w, manifests)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Validate error = %v, want BuildError", err)
	}
	if buildErr.Instance != 3 || buildErr.Port != "in" {
		t.Fatalf("BuildError at %d:%s, want 3:in", buildErr.Instance, buildErr.Port)
	}
}

func TestValidateEmptyWorkspace(t *testing.T) {
	w := NewWorkspace("empty")
	order, err := Validate(w, map[uint64]plugin.Manifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("order = %v, want empty", order)
	}
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
