package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// printLimit caps the bytes a single print command shows.
const printLimit = 4096

// CLI represents the command-line interface for the debugger
type CLI struct {
	session   *Session
	bpManager *BreakpointManager
	in        io.Reader
	out       io.Writer
	running   bool
}

// NewCLI creates a new CLI instance reading commands from in
func NewCLI(session *Session, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		session:   session,
		bpManager: NewBreakpointManager(),
		in:        in,
		out:       out,
	}
}

// Start begins the command loop. It returns when the input ends or on quit.
func (c *CLI) Start() {
	c.running = true
	scanner := bufio.NewScanner(c.in)

	fmt.Fprintln(c.out, "Replay debugger")
	c.printHelp()

	for c.running {
		fmt.Fprint(c.out, "(ckpt) ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return
		}
		c.handleCommand(strings.TrimSpace(scanner.Text()))
	}
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  continue (c)      - Continue to the next breakpoint")
	fmt.Fprintln(c.out, "  step (s)          - Apply the log up to the next control record")
	fmt.Fprintln(c.out, "  info (i)          - Show the replay state")
	fmt.Fprintln(c.out, "  print (p) <addr> [len] - Dump restored memory")

	fmt.Fprintln(c.out, "\nBreakpoint commands:")
	fmt.Fprintln(c.out, "  breakpoint (bp) <loc> - Set a breakpoint: seg:<n>, watch:<addr>[/<size>],")
	fmt.Fprintln(c.out, "                          segment, syscall, started or finished")
	fmt.Fprintln(c.out, "  watch (w) <addr>[/<size>] - Set a watchpoint on written memory")
	fmt.Fprintln(c.out, "  list (l)          - List all breakpoints")
	fmt.Fprintln(c.out, "  bp remove <id>    - Remove a breakpoint")
	fmt.Fprintln(c.out, "  bp enable <id>    - Enable a breakpoint")
	fmt.Fprintln(c.out, "  bp disable <id>   - Disable a breakpoint")

	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)          - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)          - Exit the debugger")
}

// handleCommand processes user input
func (c *CLI) handleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "c", "continue":
		c.handleContinue()
	case "s", "step":
		c.handleStep()
	case "i", "info":
		c.handleInfo()
	case "p", "print":
		c.handlePrint(args)
	case "q", "quit", "exit":
		c.running = false
	case "bp", "breakpoint":
		c.handleBreakpointCommand(args)
	case "l", "list":
		c.handleListBreakpoints()
	case "w", "watch":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "Usage: watch <addr>[/<size>]")
			return
		}
		c.handleBreakpoint("watch:" + args[0])
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

// handleBreakpointCommand handles all breakpoint-related commands
func (c *CLI) handleBreakpointCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: breakpoint <location> or <command> [args]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	command := args[0]
	if command == "list" {
		c.handleListBreakpoints()
		return
	}

	var (
		action func(int) error
		done   string
	)
	switch command {
	case "remove":
		action, done = c.bpManager.RemoveBreakpoint, "Removed"
	case "enable":
		action, done = c.bpManager.EnableBreakpoint, "Enabled"
	case "disable":
		action, done = c.bpManager.DisableBreakpoint, "Disabled"
	default:
		// If not a command, treat as location
		c.handleBreakpoint(command)
		return
	}

	if len(args) < 2 {
		fmt.Fprintf(c.out, "Usage: bp %s <id>\n", command)
		return
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid breakpoint ID: %v\n", err)
		return
	}
	if err := action(id); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s breakpoint %d\n", done, id)
}

// handleBreakpoint sets a breakpoint at the specified location
func (c *CLI) handleBreakpoint(location string) {
	bp, err := c.bpManager.AddBreakpoint(location)
	if err != nil {
		fmt.Fprintf(c.out, "Error setting breakpoint: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Breakpoint %d set at %s\n", bp.ID, bp)
}

// formatStop returns a string representation of a stop
func (c *CLI) formatStop(stop Stop) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[segment %d] %s", stop.Segments, stop.Event)
	switch stop.Event {
	case EventSyscall:
		fmt.Fprintf(&b, " returned %#x", c.session.Engine().Value)
	case EventFinished:
		r := c.session.Engine().Result
		fmt.Fprintf(&b, ", cycle %d instret %d", r.Cycles, r.Instret)
	}
	for _, w := range stop.Writes {
		fmt.Fprintf(&b, "\n  write %#x/%d", w.Addr, w.Size)
	}
	return b.String()
}

// handleStep applies a single step
func (c *CLI) handleStep() {
	stop, err := c.session.Step()
	if err != nil {
		fmt.Fprintf(c.out, "Error stepping: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Stepped to %s\n", c.formatStop(stop))
}

// handleContinue resumes the replay
func (c *CLI) handleContinue() {
	stop, bp, err := c.session.Continue(c.bpManager)
	if err != nil {
		fmt.Fprintf(c.out, "Error continuing: %v\n", err)
		return
	}
	if bp != nil {
		fmt.Fprintf(c.out, "HIT: Breakpoint %d at %s\n", bp.ID, bp)
	}
	fmt.Fprintf(c.out, "Stopped at %s\n", c.formatStop(stop))
}

// handleInfo shows the current replay state
func (c *CLI) handleInfo() {
	s := c.session
	fmt.Fprintf(c.out, "Log offset: %d of %d\n", s.Offset(), len(s.log))
	if s.Offset() == 0 {
		fmt.Fprintln(c.out, "Nothing replayed yet")
		return
	}
	fmt.Fprintf(c.out, "Last stop: %s\n", c.formatStop(s.Last()))
	if s.Done() {
		fmt.Fprintln(c.out, "Interval finished")
	}
}

// handlePrint dumps restored memory
func (c *CLI) handlePrint(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.out, "Usage: print <addr> [len]")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid address: %v\n", err)
		return
	}
	n := uint64(16)
	if len(args) == 2 {
		if n, err = strconv.ParseUint(args[1], 0, 64); err != nil || n == 0 || n > printLimit {
			fmt.Fprintf(c.out, "Invalid length: %s\n", args[1])
			return
		}
	}

	data := c.session.Memory().View(addr, n)
	if data == nil {
		fmt.Fprintf(c.out, "Address %#x is not mapped\n", addr)
		return
	}
	for i := 0; i < len(data); i += 16 {
		fmt.Fprintf(c.out, "%016x  % x\n", addr+uint64(i), data[i:min(i+16, len(data))])
	}
}

// handleListBreakpoints lists all breakpoints
func (c *CLI) handleListBreakpoints() {
	fmt.Fprintln(c.out, "\nBreakpoints:")
	for _, bp := range c.GetBreakpoints() {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}

		switch bp.Type {
		case SegmentBreakpoint:
			fmt.Fprintf(c.out, "%d: %s (segment) [%s]\n", bp.ID, bp, status)
		case EventBreakpoint:
			fmt.Fprintf(c.out, "%d: %s (event) [%s]\n", bp.ID, bp, status)
		case Watchpoint:
			fmt.Fprintf(c.out, "%d: %s (watch) [%s]\n", bp.ID, bp, status)
		}
	}
}

// GetBreakpoints returns all breakpoints
func (c *CLI) GetBreakpoints() []*Breakpoint {
	return c.bpManager.GetBreakpoints()
}
