// Package monitor is a line-oriented debugger for a running system.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/system"
	"github.com/sarchlab/ppcsim/tlb"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Command is a parsed input line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a line into a lower-cased command name and its
// arguments.
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// ParseAddress accepts 0x-prefixed hex, $-prefixed hex and decimal.
func ParseAddress(s string) (uint64, error) {
	if strings.HasPrefix(s, "$") {
		return strconv.ParseUint(s[1:], 16, 64)
	}
	return strconv.ParseUint(s, 0, 64)
}

type handler func(m *Monitor, ctx context.Context, args []string) error

type command struct {
	usage string
	run   handler
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"step":    {"step [n]        execute n instructions (default 1)", (*Monitor).step},
		"run":     {"run [n]         run until a stop, at most n instructions", (*Monitor).run},
		"break":   {"break <addr>    set a breakpoint", (*Monitor).setBreak},
		"delete":  {"delete <addr|#n|all>  remove breakpoints", (*Monitor).deleteBreak},
		"list":    {"list            show breakpoints", (*Monitor).list},
		"enable":  {"enable          enable breakpoints", (*Monitor).enable},
		"disable": {"disable         disable breakpoints", (*Monitor).disable},
		"regs":    {"regs            show registers", (*Monitor).regs},
		"exec":    {"exec <text>     execute one instruction at pc", (*Monitor).exec},
		"tlb":     {"tlb [flush]     show or flush the translation cache", (*Monitor).tlb},
		"core":    {"core [name]     show or select the current core", (*Monitor).selectCore},
		"help":    {"help            show this text", (*Monitor).help},
	}
}

// Monitor reads commands from an input and writes results to an output.
type Monitor struct {
	sys         *system.System
	core        *emu.E500
	in          *bufio.Scanner
	out         io.Writer
	interactive bool
	log         logrus.FieldLogger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInteractive makes the monitor print a prompt before each line.
func WithInteractive(on bool) Option {
	return func(m *Monitor) {
		m.interactive = on
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

// New creates a monitor with the first core of sys selected.
func New(sys *system.System, in io.Reader, out io.Writer, opts ...Option) *Monitor {
	m := &Monitor{
		sys: sys,
		in:  bufio.NewScanner(in),
		out: out,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cores := sys.Cores(); len(cores) > 0 {
		m.core = cores[0]
	}
	return m
}

// Core returns the selected core.
func (m *Monitor) Core() *emu.E500 { return m.core }

// Run reads and executes commands until quit, end of input or ctx is
// done. Command errors are printed and do not end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.interactive {
			fmt.Fprintf(m.out, "%s> ", m.core.Name())
		}
		if !m.in.Scan() {
			return m.in.Err()
		}

		err := m.Execute(ctx, m.in.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(m.out, "error: %v\n", err)
		}
	}
}

// Execute runs one command line.
func (m *Monitor) Execute(ctx context.Context, line string) error {
	cmd := ParseCommand(line)
	switch cmd.Name {
	case "":
		return nil
	case "quit", "exit", "q":
		return ErrQuit
	}

	c, ok := commands[cmd.Name]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", cmd.Name)
	}

	m.log.WithFields(logrus.Fields{"command": cmd.Name, "args": cmd.Args}).Debug("monitor")
	return c.run(m, ctx, cmd.Args)
}

func count(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad count %q", args[0])
	}
	return n, nil
}

func (m *Monitor) report(r emu.StepResult) {
	switch r.Status {
	case emu.StatusOK:
		fmt.Fprintf(m.out, "0x%08X  %s\n", r.PC, m.core.CurrentInstruction())
	case emu.StatusException:
		fmt.Fprintf(m.out, "0x%08X  %s -> 0x%08X\n", r.PC, r.Exception, m.core.PC())
	case emu.StatusExited:
		fmt.Fprintf(m.out, "0x%08X  exited with code %d\n", r.PC, r.ExitCode)
	case emu.StatusDefect:
		fmt.Fprintf(m.out, "0x%08X  defect: %v\n", r.PC, r.Err)
	default:
		fmt.Fprintf(m.out, "0x%08X  %s\n", r.PC, r.Status)
	}
}

func (m *Monitor) step(_ context.Context, args []string) error {
	n, err := count(args)
	if err != nil {
		return err
	}
	n = max(n, 1)

	m.core.Start()
	for i := uint64(0); i < n; i++ {
		r := m.core.Step()
		m.report(r)
		if r.Status != emu.StatusOK && r.Status != emu.StatusException {
			break
		}
	}
	return nil
}

func (m *Monitor) run(ctx context.Context, args []string) error {
	n, err := count(args)
	if err != nil {
		return err
	}

	m.core.Start()
	r := m.core.Run(ctx, n)
	if r.Status == emu.StatusLimit {
		m.core.Stop()
	}
	m.report(r)
	return nil
}

func (m *Monitor) setBreak(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: break <addr>")
	}
	addr, err := ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("bad address %q", args[0])
	}

	b := m.sys.Breakpoints().Add(addr)
	fmt.Fprintf(m.out, "breakpoint #%d at 0x%08X\n", b.Number, b.Addr)
	return nil
}

func (m *Monitor) deleteBreak(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <addr|#n|all>")
	}
	bps := m.sys.Breakpoints()

	arg := args[0]
	switch {
	case arg == "all":
		bps.DeleteAll()
		fmt.Fprintln(m.out, "all breakpoints deleted")
	case strings.HasPrefix(arg, "#"):
		n, err := strconv.Atoi(arg[1:])
		if err != nil {
			return fmt.Errorf("bad breakpoint number %q", arg)
		}
		fmt.Fprintf(m.out, "%d deleted\n", bps.DeleteByNumber(n))
	default:
		addr, err := ParseAddress(arg)
		if err != nil {
			return fmt.Errorf("bad address %q", arg)
		}
		if !bps.DeleteByAddress(addr) {
			return fmt.Errorf("no breakpoint at 0x%08X", addr)
		}
		fmt.Fprintln(m.out, "1 deleted")
	}
	return nil
}

func (m *Monitor) list(_ context.Context, _ []string) error {
	bps := m.sys.Breakpoints()
	if bps.Len() == 0 {
		fmt.Fprintln(m.out, "no breakpoints")
		return nil
	}
	if !bps.Enabled() {
		fmt.Fprintln(m.out, "(disabled)")
	}
	_, err := bps.WriteTo(m.out)
	return err
}

func (m *Monitor) enable(_ context.Context, _ []string) error {
	m.sys.Breakpoints().Enable()
	return nil
}

func (m *Monitor) disable(_ context.Context, _ []string) error {
	m.sys.Breakpoints().Disable()
	return nil
}

func (m *Monitor) regs(_ context.Context, _ []string) error {
	return m.core.DumpState(m.out)
}

func (m *Monitor) exec(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: exec <instruction>")
	}

	r, err := m.core.Exec(strings.Join(args, " "))
	if err != nil {
		return err
	}
	m.report(r)
	return nil
}

// entryLister is implemented by the translation caches the system builds.
type entryLister interface {
	Entries() []tlb.Entry
	Stats() tlb.Statistics
}

func (m *Monitor) tlb(_ context.Context, args []string) error {
	if len(args) > 0 {
		if args[0] != "flush" {
			return fmt.Errorf("usage: tlb [flush]")
		}
		n := m.core.InvalidateTLB(tlb.Selector{Flags: tlb.All})
		fmt.Fprintf(m.out, "%d entries flushed\n", n)
		return nil
	}

	cache, ok := m.core.Translator().(entryLister)
	if !ok {
		return fmt.Errorf("translator %T cannot list entries", m.core.Translator())
	}

	entries := cache.Entries()
	for _, e := range entries {
		fmt.Fprintf(m.out, "0x%08X -> 0x%08X  %03X\n", e.Virt, e.Phys, uint16(e.Flags))
	}
	st := cache.Stats()
	fmt.Fprintf(m.out, "%d entries, %d lookups, %d hits, %d misses\n",
		len(entries), st.Lookups, st.Hits, st.Misses)
	return nil
}

func (m *Monitor) selectCore(_ context.Context, args []string) error {
	if len(args) == 0 {
		for _, c := range m.sys.Cores() {
			mark := " "
			if c == m.core {
				mark = "*"
			}
			fmt.Fprintf(m.out, "%s %-8s pc=0x%08X instructions=%d\n",
				mark, c.Name(), c.PC(), c.InstructionCount())
		}
		return nil
	}

	c, ok := m.sys.Core(args[0])
	if !ok {
		return fmt.Errorf("no core named %q", args[0])
	}
	m.core = c
	return nil
}

func (m *Monitor) help(_ context.Context, _ []string) error {
	names := []string{
		"step", "run", "break", "delete", "list", "enable", "disable",
		"regs", "exec", "tlb", "core", "help",
	}
	for _, name := range names {
		fmt.Fprintf(m.out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(m.out, "  quit            leave the monitor")
	return nil
}
