package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// sampleRef maps a snapshot sample slot back to its producing output.
type sampleRef struct {
	inst *instanceRuntime
	out  int
}

// runState is everything one run of the tick loop needs, assembled during
// Building so the loop itself allocates nothing structural.
type runState struct {
	id      string
	cond    StopCondition
	order   []*instanceRuntime
	timing  *timingStats
	target  time.Duration
	started time.Time
	endTime time.Time

	deadline  time.Time
	prevStart time.Time
	cur       int
	tickSeq   uint64

	sampleRefs []sampleRef

	faults                []FaultRecord
	consecutiveViolations int
	fatal                 *Error
	reason                StopReason
}

// build validates the graph, wires bindings, preallocates all value
// buffers, and opens every instance in execution order. Any Open failure
// closes the failing instance and everything already opened, in reverse
// order, and aborts the build.
func (e *Engine) build(ctx context.Context, cond StopCondition) (*runState, error) {
	order, err := e.validateLocked(e.ws, e.instances)
	if err != nil {
		return nil, err
	}
	e.order = order

	run := &runState{
		id:     uuid.New().String(),
		cond:   cond,
		order:  make([]*instanceRuntime, 0, len(order)),
		timing: newTimingStats(e.ws.Settings.Period, e.jitterWindow),
		target: e.ws.Settings.Period,
	}

	for _, id := range order {
		inst := e.instances[id]
		inst.manifest = inst.plug.Manifest()
		inst.inputs = inst.manifest.Inputs()
		inst.outputs = inst.manifest.Outputs()
		inst.out[0] = make([]plugin.Value, len(inst.outputs))
		inst.out[1] = make([]plugin.Value, len(inst.outputs))
		for j, p := range inst.outputs {
			if p.Type == plugin.TypeVector && p.Capacity > 0 {
				inst.out[0][j].Vector = make([]float64, 0, p.Capacity)
				inst.out[1][j].Vector = make([]float64, 0, p.Capacity)
			}
		}
		inst.hold = make([]plugin.Value, len(inst.inputs))
		inst.override = make([]bool, len(inst.inputs))
		inst.bindings = make([]binding, len(inst.inputs))
		inst.ex = plugin.Exchange{In: make([]plugin.Value, len(inst.inputs))}
		inst.consecutiveFaults = 0
		run.order = append(run.order, inst)
	}

	for _, conn := range e.ws.Connections {
		dst := e.instances[conn.ToInstance]
		src := e.instances[conn.FromInstance]
		inIdx := plugin.InputIndex(dst.manifest, conn.ToPort)
		outIdx := plugin.OutputIndex(src.manifest, conn.FromPort)
		// Validate already guaranteed both ports exist.
		dst.bindings[inIdx] = binding{src: src, srcPort: outIdx}
		// Input copies are sized to the source port so the first
		// CopyFrom never grows them.
		if c := src.outputs[outIdx].Capacity; c > 0 {
			dst.ex.In[inIdx].Vector = make([]float64, 0, c)
			dst.hold[inIdx].Vector = make([]float64, 0, c)
		}
	}

	for i := range run.order {
		inst := run.order[i]
		for j := range inst.outputs {
			run.sampleRefs = append(run.sampleRefs, sampleRef{inst: inst, out: j})
		}
	}

	opened := make([]*instanceRuntime, 0, len(run.order))
	for _, inst := range run.order {
		if err := inst.plug.Open(ctx); err != nil {
			// Open is scoped: the failing instance releases whatever it
			// partially acquired, then everything opened so far closes
			// in reverse order.
			if cerr := inst.plug.Close(); cerr != nil {
				e.logger.Warn().Err(cerr).Uint64("instance", inst.id).Msg("close after failed open")
			}
			for k := len(opened) - 1; k >= 0; k-- {
				if cerr := opened[k].plug.Close(); cerr != nil {
					e.logger.Warn().Err(cerr).Uint64("instance", opened[k].id).Msg("close during build abort")
				}
				opened[k].state = plugin.StateClosed
			}
			return nil, newOpenError(inst.id, inst.kind, err)
		}
		inst.state = plugin.StateOpened
		opened = append(opened, inst)
	}

	return run, nil
}

// loop is the tick loop body. It runs on its own goroutine, the sole
// owner of graph topology and instance state until the run finishes.
func (e *Engine) loop(run *runState) {
	defer close(e.doneCh)

	run.started = e.clock.Now()
	run.prevStart = run.started
	run.deadline = run.started.Add(run.target)
	if run.cond.Duration > 0 {
		run.endTime = run.started.Add(run.cond.Duration)
	}

	e.logger.Info().
		Str("run", run.id).
		Dur("period", run.target).
		Int("instances", len(run.order)).
		Msg("run started")

	for {
		if stopped(e.stopCh) {
			run.reason = StopRequested
			break
		}
		if run.cond.Ticks > 0 && run.tickSeq >= run.cond.Ticks {
			run.reason = StopTickLimit
			break
		}
		if !run.endTime.IsZero() && !e.clock.Now().Before(run.endTime) {
			run.reason = StopDurationLimit
			break
		}

		e.clock.WaitUntil(run.deadline, e.stopCh)
		if stopped(e.stopCh) {
			run.reason = StopRequested
			break
		}

		e.tick(run, e.clock.Now())
		run.deadline = run.deadline.Add(run.target)

		if run.fatal != nil {
			run.reason = StopFatalFault
			break
		}
	}

	e.setState(StateStopping)
	e.closeAll(run)
	e.finish(run)
}

func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// tick executes one full pass: timing accounting, queued command
// application, input gathering from the previous tick's outputs, Process
// in topological order, and a non-blocking snapshot publish.
func (e *Engine) tick(run *runState, now time.Time) {
	period := now.Sub(run.prevStart)
	run.prevStart = now

	run.timing.observe(period)
	snap := run.timing.snapshot()
	e.checkLatency(run, snap)

	e.bridge.drain(func(cmd Command) { e.apply(run, cmd) })

	run.cur ^= 1
	prev := run.cur ^ 1
	tickCtx := plugin.Tick{
		Seq:    run.tickSeq,
		Now:    now,
		Period: period,
		Target: run.target,
	}

	for _, inst := range run.order {
		if inst.state != plugin.StateOpened {
			continue
		}

		// Seed the current buffer with the previous tick's values so a
		// faulting Process leaves last-known outputs in place.
		cur := inst.out[run.cur]
		for i := range cur {
			cur[i].CopyFrom(inst.out[prev][i])
		}

		for i := range inst.bindings {
			switch {
			case inst.override[i]:
				inst.ex.In[i].CopyFrom(inst.hold[i])
			case inst.bindings[i].src != nil:
				b := inst.bindings[i]
				inst.ex.In[i].CopyFrom(b.src.out[prev][b.srcPort])
			default:
				inst.ex.In[i].CopyFrom(inst.hold[i])
			}
		}
		inst.ex.Out = cur

		if err := inst.plug.Process(tickCtx, &inst.ex); err != nil {
			e.recordFault(run, inst, now, err)
			if run.fatal != nil {
				return
			}
			continue
		}
		inst.consecutiveFaults = 0
	}

	e.publish(run, now, snap)
	if e.observer != nil {
		e.observer.TickObserved(snap)
	}
	run.tickSeq++
}

func (e *Engine) checkLatency(run *runState, snap TimingSnapshot) {
	if e.policy.MaxConsecutiveViolations <= 0 {
		return
	}
	if snap.LatencyUS > e.policy.LatencyBudgetUS {
		run.consecutiveViolations++
		if run.consecutiveViolations >= e.policy.MaxConsecutiveViolations {
			run.fatal = newFatalFault(0, "", run.tickSeq,
				"latency budget exceeded on consecutive ticks", nil)
			e.logger.Error().
				Int("consecutive", run.consecutiveViolations).
				Float64("budget_us", e.policy.LatencyBudgetUS).
				Msg("escalating latency violations to fatal")
		}
		return
	}
	run.consecutiveViolations = 0
}

func (e *Engine) recordFault(run *runState, inst *instanceRuntime, now time.Time, err error) {
	record := FaultRecord{
		Instance: inst.id,
		Kind:     inst.kind,
		Tick:     run.tickSeq,
		Time:     now,
		Err:      newProcessFault(inst.id, inst.kind, run.tickSeq, err),
		Message:  err.Error(),
	}
	run.faults = append(run.faults, record)
	if e.observer != nil {
		e.observer.FaultObserved(record)
	}

	if plugin.IsFatal(err) || e.policy.fatalFor(inst.kind) {
		run.fatal = newFatalFault(inst.id, inst.kind, run.tickSeq, "process fault escalated", err)
		e.logger.Error().Err(err).Uint64("instance", inst.id).Uint64("tick", run.tickSeq).Msg("fatal fault")
		return
	}

	inst.consecutiveFaults++
	e.logger.Warn().Err(err).
		Uint64("instance", inst.id).
		Uint64("tick", run.tickSeq).
		Int("consecutive", inst.consecutiveFaults).
		Msg("process fault; holding previous outputs")

	if e.policy.MaxConsecutiveFaults > 0 && inst.consecutiveFaults >= e.policy.MaxConsecutiveFaults {
		inst.state = plugin.StateError
		e.logger.Error().
			Uint64("instance", inst.id).
			Str("kind", inst.kind).
			Msg("instance degraded; excluded until reset")
	}
}

func (e *Engine) apply(run *runState, cmd Command) {
	switch c := cmd.(type) {
	case SetVariable:
		inst, ok := e.instances[c.Instance]
		if !ok {
			return
		}
		tunable, ok := inst.plug.(plugin.Tunable)
		if !ok {
			e.logger.Warn().Uint64("instance", c.Instance).Str("variable", c.Name).
				Msg("variable update rejected: plugin is not tunable")
			return
		}
		if err := tunable.SetVariable(c.Name, c.Value); err != nil {
			e.logger.Warn().Err(err).Uint64("instance", c.Instance).Str("variable", c.Name).
				Msg("variable update rejected")
		}
	case OverrideInput:
		inst, ok := e.instances[c.Instance]
		if !ok {
			return
		}
		if i := plugin.InputIndex(inst.manifest, c.Port); i >= 0 {
			inst.hold[i].Scalar = c.Value
			inst.hold[i].Vector = inst.hold[i].Vector[:0]
			inst.override[i] = true
		}
	case ClearOverride:
		inst, ok := e.instances[c.Instance]
		if !ok {
			return
		}
		if i := plugin.InputIndex(inst.manifest, c.Port); i >= 0 {
			inst.override[i] = false
		}
	case ResetInstance:
		inst, ok := e.instances[c.Instance]
		if !ok {
			return
		}
		if inst.state == plugin.StateError {
			inst.state = plugin.StateOpened
			inst.consecutiveFaults = 0
			e.logger.Info().Uint64("instance", c.Instance).Msg("instance reset")
		}
	}
}

// publish copies the tick's outputs into a fresh immutable snapshot and
// places it in the bridge slot. The copy is the one allocation at the
// publication boundary; plugin Process calls themselves stay
// allocation-free.
func (e *Engine) publish(run *runState, now time.Time, timing TimingSnapshot) {
	samples := make([]Sample, len(run.sampleRefs))
	for i, ref := range run.sampleRefs {
		v := ref.inst.out[run.cur][ref.out]
		samples[i] = Sample{
			Instance: ref.inst.id,
			Port:     ref.inst.outputs[ref.out].Name,
			Value:    v.Scalar,
		}
		if len(v.Vector) > 0 {
			samples[i].Vector = append([]float64(nil), v.Vector...)
		}
	}
	e.bridge.publish(&Snapshot{
		RunID:   run.id,
		Tick:    run.tickSeq,
		Time:    now,
		Timing:  timing,
		Samples: samples,
	})
}

// closeAll releases every open instance in reverse topological order,
// regardless of fault origin. Close is idempotent, so instances that
// already closed during a build abort are safe to close again.
func (e *Engine) closeAll(run *runState) {
	for i := len(run.order) - 1; i >= 0; i-- {
		inst := run.order[i]
		if inst.state != plugin.StateOpened && inst.state != plugin.StateError {
			continue
		}
		if err := inst.plug.Close(); err != nil {
			e.logger.Warn().Err(err).Uint64("instance", inst.id).Msg("close failed")
		}
		inst.state = plugin.StateClosed
	}
}

func (e *Engine) finish(run *runState) {
	report := &Report{
		RunID:     run.id,
		Workspace: e.ws.Name,
		StartedAt: run.started,
		StoppedAt: e.clock.Now(),
		Ticks:     run.tickSeq,
		Timing:    run.timing.snapshot(),
		Faults:    run.faults,
		Reason:    run.reason,
	}
	if run.fatal != nil {
		report.Err = run.fatal
	}

	e.reportMu.Lock()
	e.report = report
	e.reportMu.Unlock()

	if run.fatal != nil {
		e.setState(StateError)
	} else {
		e.setState(StateIdle)
	}
	e.logger.Info().
		Str("run", run.id).
		Uint64("ticks", report.Ticks).
		Str("reason", string(report.Reason)).
		Float64("max_period_us", report.Timing.MaxPeriodUS).
		Msg("run finished")
}
