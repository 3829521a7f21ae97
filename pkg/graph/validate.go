package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// BuildError reports a structural problem that prevents the graph from
// being scheduled: dangling connection endpoints, unknown ports, or port
// type mismatches.
type BuildError struct {
	Reason   string
	Instance uint64
	Port     string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("build: instance %d port %q: %s", e.Instance, e.Port, e.Reason)
	}
	if e.Instance != 0 {
		return fmt.Sprintf("build: instance %d: %s", e.Instance, e.Reason)
	}
	return "build: " + e.Reason
}

// CycleError reports a dependency cycle with no delay-carrying edge.
// Members lists the instances still locked in the cycle, ascending.
type CycleError struct {
	Members []uint64
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Members))
	for i, id := range e.Members {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "build: dependency cycle without delay edge involving instances " + strings.Join(parts, ", ")
}

// Validate checks the workspace against the given per-instance manifests
// and returns the execution order. Instances are grouped by ascending
// priority; inside a group the order is a deterministic Kahn traversal of
// the same-tick dependency edges, ties broken by ascending instance id.
// Delay-carrying connections contribute no dependency edge.
func Validate(w *Workspace, manifests map[uint64]plugin.Manifest) ([]uint64, error) {
	ids := make(map[uint64]bool, len(w.Instances))
	for _, inst := range w.Instances {
		if ids[inst.ID] {
			return nil, &BuildError{Reason: "duplicate instance id", Instance: inst.ID}
		}
		ids[inst.ID] = true
		if _, ok := manifests[inst.ID]; !ok {
			return nil, &BuildError{Reason: "no manifest for instance", Instance: inst.ID}
		}
	}

	if err := checkConnections(w, manifests); err != nil {
		return nil, err
	}

	// Same-tick dependency edges: every non-delay connection.
	edges := make(map[uint64][]uint64)
	indegree := make(map[uint64]int, len(w.Instances))
	for id := range ids {
		indegree[id] = 0
	}
	for _, c := range w.Connections {
		if c.Delay {
			continue
		}
		edges[c.FromInstance] = append(edges[c.FromInstance], c.ToInstance)
		indegree[c.ToInstance]++
	}

	if members := findCycle(indegree, edges); len(members) > 0 {
		return nil, &CycleError{Members: members}
	}

	return order(w, edges), nil
}

func checkConnections(w *Workspace, manifests map[uint64]plugin.Manifest) error {
	incoming := make(map[string]bool)
	for _, c := range w.Connections {
		src, ok := manifests[c.FromInstance]
		if !ok {
			return &BuildError{Reason: "connection from unknown instance", Instance: c.FromInstance}
		}
		dst, ok := manifests[c.ToInstance]
		if !ok {
			return &BuildError{Reason: "connection to unknown instance", Instance: c.ToInstance}
		}
		out, ok := src.Port(c.FromPort, plugin.DirectionOutput)
		if !ok {
			return &BuildError{Reason: "unknown output port", Instance: c.FromInstance, Port: c.FromPort}
		}
		in, ok := dst.Port(c.ToPort, plugin.DirectionInput)
		if !ok {
			return &BuildError{Reason: "unknown input port", Instance: c.ToInstance, Port: c.ToPort}
		}
		if out.Type != in.Type {
			return &BuildError{
				Reason:   fmt.Sprintf("type mismatch: %s output into %s input", out.Type, in.Type),
				Instance: c.ToInstance,
				Port:     c.ToPort,
			}
		}
		key := fmt.Sprintf("%d/%s", c.ToInstance, c.ToPort)
		if incoming[key] {
			return &BuildError{Reason: "input has more than one incoming connection", Instance: c.ToInstance, Port: c.ToPort}
		}
		incoming[key] = true
	}
	return nil
}

// findCycle runs Kahn's elimination over a copy of the indegree map and
// returns the ids that could not be eliminated, i.e. cycle members and
// their downstream captives.
func findCycle(indegree map[uint64]int, edges map[uint64][]uint64) []uint64 {
	deg := make(map[uint64]int, len(indegree))
	for id, d := range indegree {
		deg[id] = d
	}
	queue := make([]uint64, 0, len(deg))
	for id, d := range deg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, next := range edges[id] {
			deg[next]--
			if deg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if removed == len(deg) {
		return nil
	}
	members := make([]uint64, 0, len(deg)-removed)
	for id, d := range deg {
		if d > 0 {
			members = append(members, id)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// order computes the execution order for an already cycle-checked graph.
func order(w *Workspace, edges map[uint64][]uint64) []uint64 {
	byPriority := make(map[int][]uint64)
	for _, inst := range w.Instances {
		byPriority[inst.Priority] = append(byPriority[inst.Priority], inst.ID)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	ordered := make([]uint64, 0, len(w.Instances))
	for _, p := range priorities {
		group := byPriority[p]
		inGroup := make(map[uint64]bool, len(group))
		for _, id := range group {
			inGroup[id] = true
		}

		deg := make(map[uint64]int, len(group))
		for _, id := range group {
			deg[id] = 0
		}
		for from, tos := range edges {
			if !inGroup[from] {
				continue
			}
			for _, to := range tos {
				if inGroup[to] {
					deg[to]++
				}
			}
		}

		// Deterministic Kahn: always take the smallest ready id.
		ready := make([]uint64, 0, len(group))
		for _, id := range group {
			if deg[id] == 0 {
				ready = append(ready, id)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			ordered = append(ordered, id)
			for _, next := range edges[id] {
				if !inGroup[next] {
					continue
				}
				deg[next]--
				if deg[next] == 0 {
					ready = insertSorted(ready, next)
				}
			}
		}
	}
	return ordered
}

func insertSorted(s []uint64, v uint64) []uint64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
