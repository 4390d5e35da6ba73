// Package system assembles cores, memory, translation and breakpoints from
// a configuration and runs the cores together.
package system

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/ppcsim/breakpoint"
	"github.com/sarchlab/ppcsim/config"
	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/loader"
	"github.com/sarchlab/ppcsim/tlb"
)

// System is a set of cores sharing physical memory.
type System struct {
	config *config.Config
	log    logrus.FieldLogger

	memory      *emu.Memory
	registry    *emu.Registry
	domain      *tlb.Domain
	regions     *tlb.RegionTable
	breakpoints *breakpoint.Manager
	translators []*tlb.Shared
	cores       []*emu.E500

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Result is how one core's run ended.
type Result struct {
	Core string
	emu.StepResult
}

type options struct {
	log    logrus.FieldLogger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithStdio sets the streams behind guest descriptors 0, 1 and 2.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdin = stdin
		o.stdout = stdout
		o.stderr = stderr
	}
}

// Build creates the system cfg describes. Cores are created stopped.
func Build(cfg *config.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{
		log:    logrus.StandardLogger(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	profile, err := insts.LookupProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	regions, err := cfg.RegionTable()
	if err != nil {
		return nil, err
	}

	s := &System{
		config:      cfg.Clone(),
		log:         o.log,
		memory:      emu.NewMemory(),
		registry:    emu.NewRegistry(),
		domain:      tlb.NewDomain(),
		regions:     regions,
		breakpoints: breakpoint.NewManager(breakpoint.WithLogger(o.log)),
	}

	var walker tlb.Walker = tlb.NewIdentityWalker(tlb.PermAll)
	if regions != nil {
		walker = regions
	}

	var shared *tlb.Shared
	if cfg.TLB.Shared {
		shared = tlb.NewShared(tlb.New(cfg.TLB.Cache(), walker))
		s.translators = append(s.translators, shared)
	}

	vectors := cfg.Vectors.Table(profile)
	for _, cc := range cfg.Cores {
		translator := shared
		if translator == nil {
			translator = tlb.NewShared(tlb.New(cfg.TLB.Cache(), walker))
			s.translators = append(s.translators, translator)
		}

		coreOpts := []emu.Option{
			emu.WithLogger(o.log),
			emu.WithMemory(s.memory),
			emu.WithTranslator(translator),
			emu.WithDomain(s.domain),
			emu.WithBreakpoints(s.breakpoints),
			emu.WithVectorTable(vectors),
			emu.WithProfile(profile),
			emu.WithReportInterval(cfg.ReportInterval),
			emu.WithMissExceptions(cfg.TLB.MissExceptions),
			emu.WithStdout(o.stdout),
			emu.WithStderr(o.stderr),
		}
		if o.stdin != nil {
			coreOpts = append(coreOpts, emu.WithStdin(o.stdin))
		}

		core, err := emu.NewE500(s.registry, emu.CoreConfig{
			Name:     cc.Name,
			ThreadID: cc.ThreadID,
			PC:       cc.PC,
			Bits:     cc.Bits,
			EmulFull: cc.EmulFull,
		}, coreOpts...)
		if err != nil {
			s.Close()
			return nil, err
		}
		cfg.Vectors.Seed(core.RegFile())
		s.cores = append(s.cores, core)
	}

	for _, addr := range cfg.Breakpoints {
		s.breakpoints.Add(addr)
	}

	s.log.WithFields(logrus.Fields{
		"profile": profile.Name,
		"cores":   len(s.cores),
		"regions": len(cfg.Regions),
	}).Debug("system built")

	return s, nil
}

// Config returns the configuration the system was built from.
func (s *System) Config() *config.Config { return s.config }

// Memory returns the shared physical memory.
func (s *System) Memory() *emu.Memory { return s.memory }

// Registry returns the core registry.
func (s *System) Registry() *emu.Registry { return s.registry }

// Domain returns the invalidation domain every translator belongs to.
func (s *System) Domain() *tlb.Domain { return s.domain }

// Regions returns the page table, or nil when addresses map to themselves.
func (s *System) Regions() *tlb.RegionTable { return s.regions }

// Breakpoints returns the breakpoint manager all cores share.
func (s *System) Breakpoints() *breakpoint.Manager { return s.breakpoints }

// Translators returns the translation caches, one per core unless shared.
func (s *System) Translators() []*tlb.Shared { return s.translators }

// Cores returns the cores in configuration order.
func (s *System) Cores() []*emu.E500 { return s.cores }

// Core finds a core by name.
func (s *System) Core(name string) (*emu.E500, bool) {
	for _, c := range s.cores {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Load places prog in memory and points every core at it. Cores keep a
// configured non-zero PC.
func (s *System) Load(prog *loader.Program) error {
	for _, c := range s.cores {
		if prog.Bits > c.Bits() {
			return fmt.Errorf("core %s is %d-bit but the program is %d-bit",
				c.Name(), c.Bits(), prog.Bits)
		}
	}

	n := prog.LoadInto(s.memory)
	for i, c := range s.cores {
		if s.config.Cores[i].PC == 0 {
			c.SetPC(prog.EntryPoint)
		}
		c.RegFile().WriteReg(1, prog.InitialSP)
	}

	s.log.WithFields(logrus.Fields{
		"entry":    fmt.Sprintf("0x%X", prog.EntryPoint),
		"bytes":    n,
		"segments": len(prog.Segments),
	}).Info("program loaded")

	return nil
}

// LoadFile reads an ELF executable and loads it.
func (s *System) LoadFile(path string) error {
	prog, err := loader.Load(path)
	if err != nil {
		return err
	}
	return s.Load(prog)
}

// Run starts every core on its own goroutine and waits until all of them
// have ended. A guest exit, a breakpoint or Halt stops the others at their
// next instruction boundary. The first defect is returned as the error.
func (s *System) Run(ctx context.Context) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	results := make([]Result, len(s.cores))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range s.cores {
		c.Start()
		g.Go(func() error {
			r := c.Run(gctx, s.config.MaxInstructions)
			results[i] = Result{Core: c.Name(), StepResult: r}

			switch r.Status {
			case emu.StatusDefect:
				return r.Err
			case emu.StatusExited, emu.StatusBreakpoint:
				cancel()
			}
			return nil
		})
	}

	err := g.Wait()
	s.halt()
	return results, err
}

// Halt stops every core at its next instruction boundary. It may be
// called from any goroutine.
func (s *System) Halt() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.halt()
}

func (s *System) halt() {
	for _, c := range s.cores {
		c.Stop()
	}
}

// Instructions returns the number of instructions all cores have run.
func (s *System) Instructions() uint64 {
	return s.registry.Totals()
}

// Close removes every core from the registry.
func (s *System) Close() {
	for _, c := range s.cores {
		c.Close()
	}
}
