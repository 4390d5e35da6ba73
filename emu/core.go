// Package emu provides functional emulation of Book-E PowerPC cores.
//
// A Core owns one hardware thread's state and drives the fetch, translate,
// breakpoint check, decode and execute cycle. The semantics of instructions
// come from an Executable, the concrete core model; E500 is the model this
// package ships. Cores are registered with a Registry that assigns ids and
// counts live cores.
package emu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/ppcsim/breakpoint"
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

// Executable is what a concrete core model implements. Execute and
// ExecuteText apply one instruction and report guest faults as
// *exception.Event errors; Translate maps an effective address and fails
// with a storage exception.
type Executable interface {
	Execute(inst *insts.Instruction) error
	ExecuteText(text string) error
	Translate(vaddr uint64, access tlb.Access) (uint64, error)
}

// Status tells how a step ended.
type Status uint8

// Step outcomes.
const (
	// StatusOK means one instruction committed.
	StatusOK Status = iota
	// StatusIdle means the core is not running; nothing happened.
	StatusIdle
	// StatusException means an exception was delivered.
	StatusException
	// StatusBreakpoint means a breakpoint stopped the core before the
	// instruction at PC executed.
	StatusBreakpoint
	// StatusExited means the guest terminated.
	StatusExited
	// StatusDefect means a simulator defect stopped the core.
	StatusDefect
	// StatusLimit means Run reached its instruction budget.
	StatusLimit
	// StatusCancelled means Run's context was cancelled.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIdle:
		return "idle"
	case StatusException:
		return "exception"
	case StatusBreakpoint:
		return "breakpoint"
	case StatusExited:
		return "exited"
	case StatusDefect:
		return "defect"
	case StatusLimit:
		return "limit"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	Status Status

	// PC is the address of the instruction the step worked on.
	PC uint64

	// Exception is the event delivered when Status is StatusException.
	Exception *exception.Event

	// Exited is true if the program terminated (via exit syscall).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set on defects and cancellation.
	Err error
}

// CoreConfig identifies a core and its initial mode.
type CoreConfig struct {
	// Name is the display name. It must not be empty.
	Name string
	// ThreadID is the hardware thread number, visible to the guest as PIR.
	ThreadID int
	// PC is the initial program counter.
	PC uint64
	// Bits is the addressing width, 32 or 64. Zero means 32.
	Bits int
	// EmulFull selects full emulation. In partial emulation sc is served
	// by the host, privilege checks are skipped and cache maintenance is
	// ignored.
	EmulFull bool
}

// DefaultReportInterval is how many instructions pass between progress
// reports.
const DefaultReportInterval = 10_000_000

// Core is the state and cycle shared by every core model. It is created by
// a model constructor such as NewE500, never on its own.
type Core struct {
	id   int
	seq  int
	name string
	path string

	registry *Registry
	exec     Executable

	regs        *RegFile
	memory      *Memory
	translator  tlb.Translator
	domain      *tlb.Domain
	decoder     *insts.Decoder
	breakpoints *breakpoint.Manager
	pending     *exception.Pending
	vectors     VectorTable
	syscalls    SyscallHandler
	log         logrus.FieldLogger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	running        atomic.Bool
	closed         atomic.Bool
	threadID       uint64 // doorbell tag; fixed at construction
	bits           int
	emulFull       bool
	missExceptions bool
	level          Level
	nextPC         uint64
	currInstr      string

	// Resume point after a breakpoint stop.
	resumeAt    uint64
	resumeValid bool

	total          atomic.Uint64
	sinceReport    uint64
	sinceSample    uint64
	delivered      uint64
	start          time.Time
	sampleAt       time.Time
	reportInterval uint64
}

// Option configures a core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Core) {
		c.log = l
	}
}

// WithMemory sets the physical memory, which cores may share.
func WithMemory(m *Memory) Option {
	return func(c *Core) {
		c.memory = m
	}
}

// WithTranslator sets the translation cache.
func WithTranslator(t tlb.Translator) Option {
	return func(c *Core) {
		c.translator = t
	}
}

// WithDomain makes tlbivax broadcast to every translator in d. The core's
// own translator is joined to d.
func WithDomain(d *tlb.Domain) Option {
	return func(c *Core) {
		c.domain = d
	}
}

// WithBreakpoints sets the breakpoint manager.
func WithBreakpoints(m *breakpoint.Manager) Option {
	return func(c *Core) {
		c.breakpoints = m
	}
}

// WithVectorTable sets where exceptions are delivered.
func WithVectorTable(v VectorTable) Option {
	return func(c *Core) {
		c.vectors = v
	}
}

// WithProfile selects the target profile used for decoding.
func WithProfile(p insts.Profile) Option {
	return func(c *Core) {
		c.decoder = insts.NewDecoder(p)
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) Option {
	return func(c *Core) {
		c.syscalls = handler
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) Option {
	return func(c *Core) {
		c.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) Option {
	return func(c *Core) {
		c.stderr = w
	}
}

// WithStdin sets the reader behind guest reads of fd 0.
func WithStdin(r io.Reader) Option {
	return func(c *Core) {
		c.stdin = r
	}
}

// WithStackPointer sets the initial stack pointer (r1).
func WithStackPointer(sp uint64) Option {
	return func(c *Core) {
		c.regs.WriteReg(1, sp)
	}
}

// WithReportInterval sets how often progress is logged. Zero disables
// reports.
func WithReportInterval(n uint64) Option {
	return func(c *Core) {
		c.reportInterval = n
	}
}

// WithMissExceptions makes translation misses raise TLB miss exceptions
// instead of storage exceptions.
func WithMissExceptions(on bool) Option {
	return func(c *Core) {
		c.missExceptions = on
	}
}

// newCore builds the base of a core model. exec is the model itself.
func newCore(reg *Registry, cfg CoreConfig, exec Executable, opts ...Option) (*Core, error) {
	if reg == nil {
		return nil, configError("no registry")
	}
	if cfg.Name == "" {
		return nil, configError("core name must not be empty")
	}

	bits := cfg.Bits
	if bits == 0 {
		bits = 32
	}
	if bits != 32 && bits != 64 {
		return nil, configError("core %s: bits must be 32 or 64, got %d", cfg.Name, cfg.Bits)
	}

	c := &Core{
		name:           cfg.Name,
		registry:       reg,
		exec:           exec,
		regs:           &RegFile{},
		bits:           bits,
		emulFull:       cfg.EmulFull,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		reportInterval: DefaultReportInterval,
		pending:        exception.NewPending(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.decoder == nil {
		c.decoder = insts.NewDecoder(insts.MustProfile(insts.DefaultProfile))
	}
	if bits == 64 && !c.decoder.Profile().Supports64() {
		return nil, configError("core %s: profile %s has no 64-bit mode",
			cfg.Name, c.decoder.Profile().Name)
	}
	if c.memory == nil {
		c.memory = NewMemory()
	}
	if c.translator == nil {
		c.translator = tlb.New(tlb.DefaultConfig(), tlb.NewIdentityWalker(tlb.PermAll))
	}
	if c.breakpoints == nil {
		c.breakpoints = breakpoint.NewManager()
	}
	if c.vectors == nil {
		c.vectors = IVORTable{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.syscalls == nil {
		h := NewDefaultSyscallHandler(c.regs, c.memory, c.stdout, c.stderr)
		if c.stdin != nil {
			h.SetStdin(c.stdin)
		}
		c.syscalls = h
	}

	c.id, c.seq = reg.add(c)
	c.path = fmt.Sprintf("system/cpu%d", c.id)
	c.log = c.log.WithFields(logrus.Fields{"core": c.name, "id": c.id})

	if c.domain != nil {
		c.domain.Join(c.translator)
	}

	c.threadID = uint64(cfg.ThreadID)
	c.regs.PIR = c.threadID
	if bits == 64 {
		c.regs.MSR |= MSRCM
	}
	c.regs.PC = c.maskAddr(cfg.PC)
	c.start = time.Now()
	c.sampleAt = c.start

	return c, nil
}

// ID returns the registry-assigned id.
func (c *Core) ID() int { return c.id }

// Sequence returns how many cores were live when this one was built.
func (c *Core) Sequence() int { return c.seq }

// Name returns the display name.
func (c *Core) Name() string { return c.name }

// ThreadID returns the hardware thread number doorbells are addressed to.
// Other cores may call it while this one runs.
func (c *Core) ThreadID() uint64 { return c.threadID }

// Path returns the hierarchical name, system/cpu<id>.
func (c *Core) Path() string { return c.path }

// Bits returns the addressing width.
func (c *Core) Bits() int { return c.bits }

// EmulFull reports whether the core runs in full emulation.
func (c *Core) EmulFull() bool { return c.emulFull }

// RegFile returns the core's register file.
func (c *Core) RegFile() *RegFile { return c.regs }

// Memory returns the core's physical memory.
func (c *Core) Memory() *Memory { return c.memory }

// Translator returns the translation cache.
func (c *Core) Translator() tlb.Translator { return c.translator }

// Breakpoints returns the breakpoint manager.
func (c *Core) Breakpoints() *breakpoint.Manager { return c.breakpoints }

// Decoder returns the instruction decoder.
func (c *Core) Decoder() *insts.Decoder { return c.decoder }

// Level returns the exception level the core last entered.
func (c *Core) Level() Level { return c.level }

// CurrentInstruction returns the text of the last decoded instruction.
func (c *Core) CurrentInstruction() string { return c.currInstr }

// InstructionCount returns the number of instructions executed.
func (c *Core) InstructionCount() uint64 { return c.total.Load() }

// Delivered returns the number of exceptions delivered.
func (c *Core) Delivered() uint64 { return c.delivered }

// PC returns the program counter.
func (c *Core) PC() uint64 { return c.regs.PC }

// SetPC sets the program counter, masked to the addressing width. A
// pending breakpoint resume is dropped.
func (c *Core) SetPC(pc uint64) {
	c.regs.PC = c.maskAddr(pc)
	c.resumeValid = false
}

// Running reports whether the core is cycling.
func (c *Core) Running() bool { return c.running.Load() }

// Start lets the core execute.
func (c *Core) Start() {
	if !c.running.Swap(true) {
		c.log.WithField("pc", fmt.Sprintf("0x%X", c.regs.PC)).Info("core started")
	}
}

// Stop halts the core at the next instruction boundary. It may be called
// from any goroutine.
func (c *Core) Stop() {
	if c.running.Swap(false) {
		c.log.WithField("instructions", c.total.Load()).Info("core stopped")
	}
}

// Close removes the core from its registry. The id is not reused.
func (c *Core) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.running.Store(false)
	if c.domain != nil {
		c.domain.Leave(c.translator)
	}
	c.registry.remove(c.id)
}

// Post makes an exception pending on the core. It may be called from any
// goroutine; the exception is delivered at an instruction boundary once
// the MSR allows it.
func (c *Core) Post(ev *exception.Event) {
	c.pending.Post(ev)
}

// Interrupt posts an asynchronous exception with no sub-type.
func (c *Core) Interrupt(k exception.Kind) error {
	ev, err := exception.NewEvent(k, 0)
	if err != nil {
		return err
	}
	c.Post(ev)
	return nil
}

// Pending lists the kinds waiting for delivery, highest priority first.
func (c *Core) Pending() []exception.Kind {
	return c.pending.Kinds()
}

func (c *Core) maskAddr(addr uint64) uint64 {
	if c.bits == 32 || c.regs.MSR&MSRCM == 0 {
		return addr & 0xFFFFFFFF
	}
	return addr
}

// SetNextPC redirects the instruction being executed. Models call it for
// taken branches.
func (c *Core) SetNextPC(pc uint64) {
	c.nextPC = pc
}

// NextPC returns the address execution continues at if the current
// instruction completes without redirection.
func (c *Core) NextPC() uint64 {
	return c.nextPC
}

func (c *Core) fetchAccess() tlb.Access {
	a := tlb.AccessExecute
	if c.regs.UserMode() {
		a |= tlb.AccessUser
	}
	return a
}

// Step executes a single instruction.
func (c *Core) Step() StepResult {
	pc := c.regs.PC
	if !c.running.Load() {
		return StepResult{Status: StatusIdle, PC: pc}
	}

	// A breakpoint stop lets only the very next step pass its address.
	resume := c.resumeValid && c.resumeAt == pc
	c.resumeValid = false

	if ev, ok := c.pending.Take(c.interruptMask()); ok {
		return c.raise(ev, pc, pc)
	}

	paddr, err := c.exec.Translate(pc, c.fetchAccess())
	if err != nil {
		return c.finish(pc, pc, err)
	}

	if !resume && c.breakpoints.Check(pc) {
		c.resumeAt, c.resumeValid = pc, true
		c.log.WithField("pc", fmt.Sprintf("0x%X", pc)).Debug("breakpoint hit")
		return StepResult{Status: StatusBreakpoint, PC: pc}
	}

	inst, err := c.decoder.Decode(c.memory.Read32(paddr))
	c.currInstr = inst.String()
	if err != nil {
		return c.raise(exception.MustEvent(exception.Program, exception.Illegal), pc, pc)
	}

	c.nextPC = pc + 4
	return c.finish(pc, c.nextPC, c.exec.Execute(inst))
}

// Exec runs one instruction given as assembler text at the current PC, as
// if it had been fetched there. Breakpoints are not consulted and the core
// need not be running. Text that does not assemble is returned as an error
// and changes nothing.
func (c *Core) Exec(text string) (StepResult, error) {
	pc := c.regs.PC
	c.nextPC = pc + 4

	err := c.exec.ExecuteText(text)
	if errors.Is(err, insts.ErrSyntax) {
		return StepResult{Status: StatusIdle, PC: pc}, err
	}
	c.resumeValid = false

	c.currInstr = text
	return c.finish(pc, c.nextPC, err), nil
}

// finish commits an executed instruction or turns its error into an
// exception delivery, an exit or a defect.
func (c *Core) finish(pc, next uint64, err error) StepResult {
	if err == nil {
		c.regs.PC = c.maskAddr(c.nextPC)
		c.retire()
		return StepResult{Status: StatusOK, PC: pc}
	}

	var ev *exception.Event
	if errors.As(err, &ev) {
		ret := pc
		if ev.Kind == exception.Syscall {
			ret = next
			c.retire()
		}
		return c.raise(ev, pc, ret)
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		c.retire()
		c.running.Store(false)
		c.log.WithField("code", exit.Code).Info("guest exited")
		return StepResult{Status: StatusExited, PC: pc, Exited: true, ExitCode: exit.Code}
	}

	return c.defect(pc, err)
}

func (c *Core) raise(ev *exception.Event, pc, ret uint64) StepResult {
	c.resumeValid = false
	if err := c.deliver(ev, ret); err != nil {
		return c.defect(pc, err)
	}
	return StepResult{Status: StatusException, PC: pc, Exception: ev}
}

func (c *Core) defect(pc uint64, err error) StepResult {
	var d *DefectError
	if !errors.As(err, &d) {
		d = &DefectError{Core: c.name, PC: pc, Err: err}
	}

	c.running.Store(false)
	c.log.WithFields(logrus.Fields{
		"pc":    fmt.Sprintf("0x%X", pc),
		"error": d.Err,
	}).Error("simulator defect")

	return StepResult{Status: StatusDefect, PC: pc, Err: d}
}

// retire counts a completed instruction and advances the timers.
func (c *Core) retire() {
	c.total.Add(1)
	c.sinceReport++
	c.sinceSample++
	c.tick()

	if c.reportInterval > 0 && c.sinceReport >= c.reportInterval {
		c.report()
	}
}

// Decrementer and timer control bits.
const (
	TCRDIE uint64 = 1 << 26 // decrementer interrupt enable
	TCRARE uint64 = 1 << 22 // decrementer auto-reload
	TSRDIS uint64 = 1 << 27 // decrementer interrupt status
)

// tick advances the time base by one and counts the decrementer down.
func (c *Core) tick() {
	r := c.regs
	r.TB++
	if r.DEC == 0 {
		return
	}

	r.DEC--
	if r.DEC != 0 {
		return
	}

	r.TSR |= TSRDIS
	if r.TCR&TCRARE != 0 {
		r.DEC = r.DECAR
	}
	if r.TCR&TCRDIE != 0 {
		c.pending.Post(exception.MustEvent(exception.Decrementer, 0))
	}
}

func (c *Core) report() {
	now := time.Now()
	elapsed := now.Sub(c.sampleAt).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(c.sinceSample) / elapsed
	}

	c.log.WithFields(logrus.Fields{
		"instructions": c.total.Load(),
		"ips":          int64(rate),
		"uptime":       now.Sub(c.start).Round(time.Millisecond).String(),
	}).Info("progress")

	c.sinceReport = 0
	c.sinceSample = 0
	c.sampleAt = now
}

// Run steps the core until it stops, hits a breakpoint, exits, reports a
// defect, ctx is cancelled or max instructions have run (0 means no
// limit). The result of the step that ended the run is returned.
func (c *Core) Run(ctx context.Context, max uint64) StepResult {
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return StepResult{Status: StatusCancelled, PC: c.regs.PC, Err: ctx.Err()}
		default:
		}

		if max > 0 && n >= max {
			return StepResult{Status: StatusLimit, PC: c.regs.PC}
		}

		r := c.Step()
		switch r.Status {
		case StatusOK, StatusException:
			n++
		default:
			return r
		}
	}
}
