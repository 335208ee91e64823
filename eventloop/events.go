package eventloop

import (
	"fmt"

	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/winproc"
)

// handleEvent dispatches one OS debug event per the §4.G event table and
// returns the state the run loop should continue in.
func (w *Worker) handleEvent(ev winproc.DebugEvent) State {
	w.checkSingleWriter()
	w.mainThreadID = ev.ThreadID

	switch ev.Kind {
	case winproc.EventModuleLoaded:
		return w.handleModuleLoaded(ev)

	case winproc.EventModuleUnloaded:
		return w.handleModuleUnloaded(ev)

	case winproc.EventThreadCreated, winproc.EventThreadExited:
		w.publishLastEvent(ev)
		w.continueEvent(ev, winproc.Handled)
		return Running

	case winproc.EventBreakpoint:
		return w.handleBreakpoint(ev)

	case winproc.EventSingleStep:
		return w.handleSingleStep(ev)

	case winproc.EventException:
		snap := Snapshot{State: Stopped, StopReason: ReasonException, StopThreadID: ev.ThreadID, StopAddress: ev.Address, LastEventKind: ev.Kind.String()}
		w.publish(snap)
		return Stopped

	case winproc.EventProcessExited:
		w.exited = true
		snap := Snapshot{State: Exited, StopReason: ReasonExited, ExitCode: ev.ExitCode, LastEventKind: ev.Kind.String()}
		w.publish(snap)
		return Exited

	default:
		w.publishLastEvent(ev)
		w.continueEvent(ev, winproc.Handled)
		return Running
	}
}

func (w *Worker) publishLastEvent(ev winproc.DebugEvent) {
	snap := w.Snapshot()
	snap.State = Running
	snap.LastEventKind = ev.Kind.String()
	w.publish(snap)
}

func (w *Worker) continueEvent(ev winproc.DebugEvent, disp winproc.Disposition) {
	if err := w.proc.Continue(w.pid, ev.ThreadID, disp); err != nil {
		w.crash(err)
	}
}

// handleModuleLoaded builds the freshly loaded module's line index
// (best-effort), registers it, and resolves any breakpoint that was
// waiting on it. Per §4.G this never stops the session; it auto-continues.
func (w *Worker) handleModuleLoaded(ev winproc.DebugEvent) State {
	id := fmt.Sprintf("mod@0x%x", ev.ModuleBase)
	mod := loadModuleInfo(id, ev.ModulePath, ev.ModuleBase)
	if mod.Size == 0 && ev.ModuleSize != 0 {
		mod.Size = ev.ModuleSize
	}
	w.registry.Add(mod)
	w.bpmgr.OnModuleLoaded(w.registry, mod)

	logger.Logf(logger.Allow, "eventloop", "module loaded: %s at 0x%x", mod.Path, mod.Base)

	w.publishLastEvent(ev)
	w.continueEvent(ev, winproc.Handled)
	return Running
}

// handleModuleUnloaded moves the unloading module's active breakpoints back
// to pending and removes it from the registry, per §4.E's module-unload
// rule, then auto-continues.
func (w *Worker) handleModuleUnloaded(ev winproc.DebugEvent) State {
	if mod, ok := w.registry.LookupByAddress(ev.ModuleBase); ok {
		w.bpmgr.OnModuleUnloaded(mod.ID)
		w.registry.Remove(mod.ID)
	}

	w.publishLastEvent(ev)
	w.continueEvent(ev, winproc.Handled)
	return Running
}

// handleBreakpoint implements the stop-at-entry rule and the §4.E hit
// sequence. Win32's EXCEPTION_RECORD.ExceptionAddress for an
// EXCEPTION_BREAKPOINT is the address of the INT3 byte itself -- ev.Address
// already is the planted address. It is the thread's CONTEXT.Eip, fetched
// separately below, that the trap has advanced one byte past it; that is
// what §4.E's "decrement the faulting thread's instruction pointer by 1"
// corrects, not ev.Address.
func (w *Worker) handleBreakpoint(ev winproc.DebugEvent) State {
	plantedAddr := ev.Address

	if !w.entryReported {
		w.entryReported = true
		w.entryAddr = plantedAddr
		snap := Snapshot{State: Stopped, StopReason: ReasonEntry, StopThreadID: ev.ThreadID, StopAddress: plantedAddr, LastEventKind: ev.Kind.String()}
		w.publish(snap)
		close(w.entryCh)
		// stop-at-entry: do not auto-continue, even though this is the
		// same exception kind a user breakpoint would raise.
		return Stopped
	}

	hit := w.bpmgr.OnBreakpointHit(plantedAddr)
	if !hit.Matched {
		// spurious or externally raised INT3: not ours to resolve, pass it
		// on to the debuggee's own exception handler.
		w.continueEvent(ev, winproc.Unhandled)
		return Running
	}

	// the trap already advanced Eip one byte past the INT3; set it back to
	// plantedAddr (equivalent to decrementing it by one) so the original
	// instruction re-executes once the breakpoint is stepped past.
	if regs, err := w.proc.GetThreadContext(ev.ThreadID); err == nil {
		regs.EIP = uint32(plantedAddr)
		_ = w.proc.SetThreadContext(ev.ThreadID, regs)
	}

	w.lastHitID = hit.Breakpoint.ID

	snap := Snapshot{State: Stopped, StopReason: ReasonBreakpoint, StopThreadID: ev.ThreadID, StopAddress: plantedAddr, LastEventKind: ev.Kind.String()}
	w.publish(snap)
	return Stopped
}

// handleSingleStep distinguishes a re-arm step -- issued internally by
// doContinue to get past a just-hit breakpoint -- from one the user
// explicitly requested with CmdStep. A re-arm step silently re-plants and
// keeps running; a user step stops and reports ReasonSingleStep.
func (w *Worker) handleSingleStep(ev winproc.DebugEvent) State {
	_ = w.proc.SetSingleStep(ev.ThreadID, false)

	if w.pendingRearm != nil {
		bp := w.pendingRearm
		w.pendingRearm = nil

		// §9 open question 2: only re-arm if still enabled -- the user may
		// have removed or disabled it between the hit and this step.
		if bp.Enabled {
			_ = w.bpmgr.Rearm(bp)
		}

		w.continueEvent(ev, winproc.Handled)
		return Running
	}

	if w.userStepRequested {
		w.userStepRequested = false
		snap := Snapshot{State: Stopped, StopReason: ReasonSingleStep, StopThreadID: ev.ThreadID, StopAddress: ev.Address, LastEventKind: ev.Kind.String()}
		w.publish(snap)
		return Stopped
	}

	// unexpected single-step trap with no pending reason; keep running
	// rather than stopping on something nobody asked for.
	w.continueEvent(ev, winproc.Handled)
	return Running
}
