package engine

import "time"

// FaultRecord is one recoverable process fault: which instance, on which
// tick, and why. The faulting instance held its previous outputs for that
// tick.
type FaultRecord struct {
	Instance uint64    `json:"instance"`
	Kind     string    `json:"kind"`
	Tick     uint64    `json:"tick"`
	Time     time.Time `json:"time"`
	Err      error     `json:"-"`
	Message  string    `json:"message"`
}

// FaultPolicy decides how process faults and timing violations escalate.
type FaultPolicy struct {
	// FatalKinds lists plugin kinds whose process faults abort the run
	// instead of degrading the instance. A hardware adapter that loses
	// its device belongs here.
	FatalKinds map[string]bool

	// MaxConsecutiveFaults degrades an instance to the error state,
	// excluding it from further Process calls, once it faults this many
	// ticks in a row. Zero disables degradation.
	MaxConsecutiveFaults int

	// MaxConsecutiveViolations forces Stopping once this many ticks in a
	// row exceed the latency budget. Zero disables escalation.
	MaxConsecutiveViolations int

	// LatencyBudgetUS is the latency bound a tick must stay within for
	// violation counting. Ignored when MaxConsecutiveViolations is 0.
	LatencyBudgetUS float64
}

// DefaultFaultPolicy degrades an instance after 10 consecutive faults and
// never escalates timing violations.
func DefaultFaultPolicy() FaultPolicy {
	return FaultPolicy{MaxConsecutiveFaults: 10}
}

// fatalFor reports whether a process fault from the given kind is fatal.
func (p FaultPolicy) fatalFor(kind string) bool {
	return p.FatalKinds[kind]
}
