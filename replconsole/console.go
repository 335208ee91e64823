// Package replconsole is the optional local operator console for
// cmd/watdbgctl: a raw-mode terminal REPL that drives a session.Conductor
// directly, without going through JSON-RPC, and tails the logger ring
// buffer so an operator sitting at the machine running watdbgd can watch
// and drive a session without a separate client.
package replconsole

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jetsetilly/watdbg/breakpoint"
	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/session"
	"github.com/jetsetilly/watdbg/winproc"
)

// Console is a local, interactive front end to a session.Conductor. One
// Console drives exactly one session at a time -- "session" here meaning
// the operator's current focus, not a limit on the conductor, which may
// have several live sessions created from elsewhere (the JSON-RPC surface,
// say) that a later "attach <id>" could pick up.
type Console struct {
	conductor *session.Conductor

	term   *term
	reader runeReader
	out    io.Writer

	currentID string
}

// New creates a console bound to conductor, reading from in and writing
// prompts and results to out. in must be a terminal file (os.Stdin in
// practice) since the console puts it into cbreak mode while running.
func New(conductor *session.Conductor, in *os.File, out io.Writer) (*Console, error) {
	t, err := newTerm(in)
	if err != nil {
		return nil, err
	}

	return &Console{
		conductor: conductor,
		term:      t,
		reader:    newRuneReader(in),
		out:       out,
	}, nil
}

// Run drives the REPL until the input stream closes or the operator types
// "quit". It restores canonical terminal mode before returning, however it
// exits.
func (c *Console) Run() error {
	c.term.cbreakMode()
	defer c.term.canonicalMode()

	for {
		fmt.Fprint(c.out, c.prompt())

		line, err := c.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		fmt.Fprintln(c.out)

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		c.dispatch(line)
	}
}

func (c *Console) prompt() string {
	if c.currentID == "" {
		return "watdbg> "
	}
	return fmt.Sprintf("watdbg[%s]> ", c.currentID)
}

// readLine reads one line a rune at a time, handling backspace and ctrl-c
// (which aborts the current line, mirroring a shell) since the terminal is
// in cbreak mode and the kernel is not doing any of this for us.
func (c *Console) readLine() (string, error) {
	var line []rune

	for {
		rr := <-c.reader
		if rr.err != nil {
			return "", rr.err
		}

		switch rr.r {
		case '\r', '\n':
			return string(line), nil

		case 3: // ctrl-c
			return "", nil

		case 127, 8: // backspace / delete
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Fprint(c.out, "\b \b")
			}
			continue

		default:
			line = append(line, rr.r)
			fmt.Fprint(c.out, string(rr.r))
		}
	}
}

// dispatch parses and runs one command line, writing its result (or error)
// to c.out. Unlike the JSON-RPC front end this never returns an error to
// its caller -- a REPL reports a bad command and moves on.
func (c *Console) dispatch(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "create":
		c.cmdCreate(args)
	case "attach":
		c.cmdAttach(args)
	case "sessions":
		c.cmdSessions()
	case "run":
		c.cmdRun()
	case "continue", "c":
		c.cmdContinue(args)
	case "step", "s":
		c.cmdStep()
	case "break", "b":
		c.cmdBreak(args)
	case "bps":
		c.cmdListBreakpoints()
	case "delete":
		c.cmdRemoveBreakpoint(args)
	case "modules":
		c.cmdListModules()
	case "regs":
		c.cmdRegisters()
	case "close":
		c.cmdClose()
	case "log":
		logger.Tail(c.out, 40)
	default:
		fmt.Fprintf(c.out, "unknown command %q\r\n", cmd)
	}
}

func (c *Console) requireSession() (string, bool) {
	if c.currentID == "" {
		fmt.Fprintln(c.out, "no session attached; use \"create <exe>\" or \"attach <id>\" first")
		return "", false
	}
	return c.currentID, true
}

func (c *Console) cmdCreate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: create <exe_path> [source_dir ...]")
		return
	}

	id, err := c.conductor.Create(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(c.out, "create failed: %v\r\n", err)
		return
	}

	c.currentID = id
	fmt.Fprintf(c.out, "created session %s\r\n", id)
}

func (c *Console) cmdAttach(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: attach <session_id>")
		return
	}
	if _, err := c.conductor.Snapshot(args[0]); err != nil {
		fmt.Fprintf(c.out, "attach failed: %v\r\n", err)
		return
	}
	c.currentID = args[0]
}

func (c *Console) cmdSessions() {
	for _, info := range c.conductor.List() {
		fmt.Fprintf(c.out, "%s\t%s\t%s\r\n", info.ID, info.ExePath, info.Snapshot)
	}
}

func (c *Console) cmdRun() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	snap, err := c.conductor.Run(id, 0)
	c.report(snap, err)
}

func (c *Console) cmdContinue(args []string) {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	disp := winproc.Handled
	if len(args) > 0 && args[0] == "unhandled" {
		disp = winproc.Unhandled
	}
	snap, err := c.conductor.Continue(id, disp)
	c.report(snap, err)
}

func (c *Console) cmdStep() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	snap, err := c.conductor.Step(id)
	c.report(snap, err)
}

func (c *Console) cmdBreak(args []string) {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: break <0xADDR|file:line>")
		return
	}

	loc := args[0]
	if strings.HasPrefix(loc, "0x") || strings.HasPrefix(loc, "0X") {
		addr, err := strconv.ParseUint(loc[2:], 16, 64)
		if err != nil {
			fmt.Fprintf(c.out, "malformed address %q\r\n", loc)
			return
		}
		bp, err := c.conductor.SetBreakpointAddress(id, addr)
		c.reportBreakpoint(bp, err)
		return
	}

	idx := strings.LastIndex(loc, ":")
	if idx < 0 {
		fmt.Fprintln(c.out, "usage: break <0xADDR|file:line>")
		return
	}
	line, err := strconv.Atoi(loc[idx+1:])
	if err != nil {
		fmt.Fprintf(c.out, "malformed line number in %q\r\n", loc)
		return
	}
	bp, err := c.conductor.SetBreakpointLine(id, loc[:idx], line)
	c.reportBreakpoint(bp, err)
}

func (c *Console) cmdListBreakpoints() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	bps, err := c.conductor.ListBreakpoints(id)
	if err != nil {
		fmt.Fprintf(c.out, "list_breakpoints failed: %v\r\n", err)
		return
	}
	for _, bp := range bps {
		fmt.Fprintf(c.out, "#%d %s %s enabled=%v hits=%d\r\n", bp.ID, bp.Location, bp.State, bp.Enabled, bp.HitCount)
	}
}

func (c *Console) cmdRemoveBreakpoint(args []string) {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: delete <bp_id>")
		return
	}
	bpID, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "malformed breakpoint id %q\r\n", args[0])
		return
	}
	if err := c.conductor.RemoveBreakpoint(id, bpID); err != nil {
		fmt.Fprintf(c.out, "remove_breakpoint failed: %v\r\n", err)
	}
}

func (c *Console) cmdListModules() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	mods, err := c.conductor.ListModules(id)
	if err != nil {
		fmt.Fprintf(c.out, "list_modules failed: %v\r\n", err)
		return
	}
	for _, m := range mods {
		fmt.Fprintf(c.out, "%s\t0x%x\t%d bytes\tdebug_info=%v\texports=%d\r\n", m.Path, m.Base, m.Size, m.HasInfo, len(m.Exports))
	}
}

func (c *Console) cmdRegisters() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	regs, err := c.conductor.GetRegisters(id)
	if err != nil {
		fmt.Fprintf(c.out, "get_registers failed: %v\r\n", err)
		return
	}
	fmt.Fprintf(c.out, "eax=%08x ebx=%08x ecx=%08x edx=%08x\r\n", regs.EAX, regs.EBX, regs.ECX, regs.EDX)
	fmt.Fprintf(c.out, "esi=%08x edi=%08x ebp=%08x esp=%08x\r\n", regs.ESI, regs.EDI, regs.EBP, regs.ESP)
	fmt.Fprintf(c.out, "eip=%08x eflags=%08x\r\n", regs.EIP, regs.EFlags)
}

func (c *Console) cmdClose() {
	id, ok := c.requireSession()
	if !ok {
		return
	}
	if err := c.conductor.Close(id); err != nil {
		fmt.Fprintf(c.out, "close failed: %v\r\n", err)
		return
	}
	c.currentID = ""
}

func (c *Console) report(snap interface{ String() string }, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\r\n", err)
		return
	}
	fmt.Fprintln(c.out, snap)
}

func (c *Console) reportBreakpoint(bp *breakpoint.Breakpoint, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "set_breakpoint failed: %v\r\n", err)
		return
	}
	fmt.Fprintf(c.out, "#%d %s -> %s\r\n", bp.ID, bp.Location, bp.State)
}
