package eventloop

import (
	"github.com/jetsetilly/watdbg/breakpoint"
	"github.com/jetsetilly/watdbg/module"
	"github.com/jetsetilly/watdbg/winproc"
)

// CmdKind is the closed set of commands the session conductor can send to a
// worker. Dynamically typed "attribute bag" commands are deliberately not
// used (§9) -- every command is one of these tagged variants, carrying only
// the fields it needs.
type CmdKind int

const (
	CmdRun CmdKind = iota
	CmdContinue
	CmdStep
	CmdSetBreakpointAddress
	CmdSetBreakpointLine
	CmdRemoveBreakpoint
	CmdSetBreakpointEnabled
	CmdListBreakpoints
	CmdListModules
	CmdGetRegisters
)

// Command is a single request sent to a worker over its command channel.
// Reply is a single-shot slot: the worker sends exactly one Result to it and
// never touches it again.
type Command struct {
	Kind CmdKind

	Address uint64
	Path    string
	Line    int
	ID      int
	Enabled bool

	// Disposition is read only when resuming a session stopped with
	// ReasonException; it tells the controller whether to suppress the
	// exception or let the debuggee's own handler see it.
	Disposition winproc.Disposition

	Reply chan Result
}

// ModuleInfo is the read-only view of a loaded module the conductor and the
// JSON-RPC surface are given; it does not expose the module's line index
// directly, only what list_modules (§6, supplemented in SPEC_FULL.md §4)
// needs to report.
type ModuleInfo struct {
	ID      string
	Path    string
	Base    uint64
	Size    uint64
	HasInfo bool
	Exports []module.Export
}

// Result is what a worker sends back on a Command's Reply channel.
type Result struct {
	Snapshot Snapshot

	Breakpoint  *breakpoint.Breakpoint
	Breakpoints []breakpoint.Breakpoint
	Modules     []ModuleInfo
	Registers   winproc.Registers

	Err error
}

func reply(ch chan Result, r Result) {
	if ch == nil {
		return
	}
	ch <- r
}
