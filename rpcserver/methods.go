package rpcserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jetsetilly/watdbg/eventloop"
	"github.com/jetsetilly/watdbg/winproc"
)

// buildTools returns the dispatch table for every tool named in §6 plus the
// SPEC_FULL.md §4 supplements (list_sessions, enable_breakpoint,
// disable_breakpoint).
func (s *Server) buildTools() map[string]handlerFunc {
	return map[string]handlerFunc{
		"create_session":     s.createSession,
		"close_session":      s.closeSession,
		"run":                s.run,
		"continue":           s.cont,
		"step":               s.step,
		"set_breakpoint":     s.setBreakpoint,
		"list_breakpoints":   s.listBreakpoints,
		"remove_breakpoint":  s.removeBreakpoint,
		"enable_breakpoint":  s.enableBreakpoint,
		"disable_breakpoint": s.disableBreakpoint,
		"get_registers":      s.getRegisters,
		"list_modules":       s.listModules,
		"get_source":         s.getSource,
		"list_sessions":      s.listSessions,
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return invalidParams{"missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams{"malformed params: " + err.Error()}
	}
	return nil
}

// stateReport is the §6 "every call that may change state returns at
// minimum {state, stop_reason?, stop_address?, thread_id?}" contract.
type stateReport struct {
	State      string `json:"state"`
	StopReason string `json:"stop_reason,omitempty"`
	StopAddr   string `json:"stop_address,omitempty"`
	ThreadID   uint32 `json:"thread_id,omitempty"`
	ExitCode   uint32 `json:"exit_code,omitempty"`
}

func reportOf(snap eventloop.Snapshot) stateReport {
	r := stateReport{State: snap.State.String()}
	if snap.StopReason != eventloop.ReasonNone {
		r.StopReason = snap.StopReason.String()
		r.StopAddr = fmt.Sprintf("0x%x", snap.StopAddress)
		r.ThreadID = snap.StopThreadID
	}
	if snap.State == eventloop.Exited {
		r.ExitCode = snap.ExitCode
	}
	return r
}

type createSessionParams struct {
	ExePath    string   `json:"exe_path"`
	SourceDirs []string `json:"source_dirs"`
}

func (s *Server) createSession(raw json.RawMessage) (interface{}, error) {
	var p createSessionParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.ExePath == "" {
		return nil, invalidParams{"exe_path is required"}
	}
	if len(p.SourceDirs) == 0 {
		p.SourceDirs = s.opts.SourceDirs
	}

	id, err := s.conductor.Create(p.ExePath, p.SourceDirs)
	if err != nil {
		return nil, err
	}
	return map[string]string{"session_id": id}, nil
}

type sessionIDParams struct {
	ID string `json:"id"`
}

func (s *Server) closeSession(raw json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := s.conductor.Close(p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"closed": true}, nil
}

type runParams struct {
	ID        string `json:"id"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (s *Server) run(raw json.RawMessage) (interface{}, error) {
	var p runParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	var timeout time.Duration
	if p.TimeoutMS > 0 {
		timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	snap, err := s.conductor.Run(p.ID, timeout)
	if err != nil {
		return nil, err
	}
	return reportOf(snap), nil
}

type continueParams struct {
	ID          string `json:"id"`
	Disposition string `json:"disposition"`
}

func (s *Server) cont(raw json.RawMessage) (interface{}, error) {
	var p continueParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}

	disp := winproc.Handled
	if p.Disposition == "unhandled" {
		disp = winproc.Unhandled
	}

	snap, err := s.conductor.Continue(p.ID, disp)
	if err != nil {
		return nil, err
	}
	return reportOf(snap), nil
}

func (s *Server) step(raw json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	snap, err := s.conductor.Step(p.ID)
	if err != nil {
		return nil, err
	}
	return reportOf(snap), nil
}

type setBreakpointParams struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

func (s *Server) setBreakpoint(raw json.RawMessage) (interface{}, error) {
	var p setBreakpointParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}

	loc, err := parseLocation(p.Location)
	if err != nil {
		return nil, err
	}

	if loc.byAddress {
		bp, err := s.conductor.SetBreakpointAddress(p.ID, loc.address)
		if err != nil {
			return nil, err
		}
		return bp, nil
	}

	bp, err := s.conductor.SetBreakpointLine(p.ID, loc.path, loc.line)
	if err != nil {
		return nil, err
	}
	return bp, nil
}

func (s *Server) listBreakpoints(raw json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	bps, err := s.conductor.ListBreakpoints(p.ID)
	if err != nil {
		return nil, err
	}
	return bps, nil
}

type breakpointIDParams struct {
	ID   string `json:"id"`
	BpID int    `json:"bp_id"`
}

func (s *Server) removeBreakpoint(raw json.RawMessage) (interface{}, error) {
	var p breakpointIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := s.conductor.RemoveBreakpoint(p.ID, p.BpID); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}

func (s *Server) enableBreakpoint(raw json.RawMessage) (interface{}, error) {
	return s.setBreakpointEnabled(raw, true)
}

func (s *Server) disableBreakpoint(raw json.RawMessage) (interface{}, error) {
	return s.setBreakpointEnabled(raw, false)
}

func (s *Server) setBreakpointEnabled(raw json.RawMessage, enabled bool) (interface{}, error) {
	var p breakpointIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := s.conductor.SetBreakpointEnabled(p.ID, p.BpID, enabled); err != nil {
		return nil, err
	}
	return map[string]bool{"enabled": enabled}, nil
}

func (s *Server) getRegisters(raw json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	regs, err := s.conductor.GetRegisters(p.ID)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (s *Server) listModules(raw json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	mods, err := s.conductor.ListModules(p.ID)
	if err != nil {
		return nil, err
	}
	return mods, nil
}

func (s *Server) listSessions(raw json.RawMessage) (interface{}, error) {
	infos := s.conductor.List()
	out := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]interface{}{
			"id":       info.ID,
			"exe_path": info.ExePath,
			"state":    reportOf(info.Snapshot),
		})
	}
	return out, nil
}
