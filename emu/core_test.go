package emu_test

import (
	"bytes"
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/breakpoint"
	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
)

var _ = Describe("Core", func() {
	var (
		reg    *emu.Registry
		core   *emu.E500
		stdout *bytes.Buffer
	)

	newCore := func(cfg emu.CoreConfig, opts ...emu.Option) *emu.E500 {
		opts = append([]emu.Option{
			emu.WithLogger(quietLogger()),
			emu.WithStdout(stdout),
		}, opts...)
		c, err := emu.NewE500(reg, cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		reg = emu.NewRegistry()
		stdout = &bytes.Buffer{}
		core = newCore(emu.CoreConfig{Name: "cpu0", PC: 0x1000})
		core.RegFile().IVPR = 0x20000
		for i := range core.RegFile().IVOR {
			core.RegFile().IVOR[i] = uint64(i) << 8
		}
	})

	Describe("construction", func() {
		It("should reject an empty name", func() {
			_, err := emu.NewE500(reg, emu.CoreConfig{})
			Expect(err).To(MatchError(emu.ErrConfig))
			Expect(reg.Live()).To(Equal(1))
		})

		It("should reject an unsupported width", func() {
			_, err := emu.NewE500(reg, emu.CoreConfig{Name: "x", Bits: 16})
			Expect(err).To(MatchError(emu.ErrConfig))
		})

		It("should reject 64-bit mode on a 32-bit profile", func() {
			_, err := emu.NewE500(reg, emu.CoreConfig{Name: "x", Bits: 64})
			Expect(err).To(MatchError(emu.ErrConfig))
		})

		It("should accept 64-bit mode on a 64-bit profile", func() {
			c := newCore(emu.CoreConfig{Name: "wide", Bits: 64},
				emu.WithProfile(insts.MustProfile("e5500")))
			Expect(c.Bits()).To(Equal(64))
			Expect(c.RegFile().MSR & emu.MSRCM).NotTo(BeZero())
		})

		It("should report the processor version and thread id", func() {
			c := newCore(emu.CoreConfig{Name: "cpu1", ThreadID: 3})
			Expect(c.RegFile().PVR).To(Equal(uint64(0x80210000)))
			Expect(c.RegFile().PIR).To(Equal(uint64(3)))
			Expect(c.Path()).To(Equal("system/cpu1"))
		})
	})

	Describe("Step", func() {
		It("should stay idle until started", func() {
			loadProgram(core.Memory(), 0x1000, "li r3,5")

			r := core.Step()

			Expect(r.Status).To(Equal(emu.StatusIdle))
			Expect(core.PC()).To(Equal(uint64(0x1000)))
			Expect(core.RegFile().ReadReg(3)).To(BeZero())
		})

		It("should execute instructions in order", func() {
			loadProgram(core.Memory(), 0x1000, "li r3,5", "addi r4,r3,7")
			core.Start()

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
			Expect(core.Step().Status).To(Equal(emu.StatusOK))

			Expect(core.RegFile().ReadReg(4)).To(Equal(uint64(12)))
			Expect(core.PC()).To(Equal(uint64(0x1008)))
			Expect(core.InstructionCount()).To(Equal(uint64(2)))
			Expect(core.CurrentInstruction()).To(Equal("addi r4,r3,7"))
		})

		It("should deliver an illegal instruction to the program vector", func() {
			core.Start()

			r := core.Step()

			Expect(r.Status).To(Equal(emu.StatusException))
			Expect(r.Exception.Kind).To(Equal(exception.Program))
			Expect(r.Exception.Has(exception.Illegal)).To(BeTrue())
			Expect(core.PC()).To(Equal(uint64(0x20600)))
			Expect(core.RegFile().SRR0).To(Equal(uint64(0x1000)))
			Expect(core.RegFile().ESR).To(Equal(emu.ESRPIL))
			Expect(core.Level()).To(Equal(emu.LevelBase))
			Expect(core.InstructionCount()).To(BeZero())
		})

		It("should report a defect when no vector is registered", func() {
			c := newCore(emu.CoreConfig{Name: "novec", PC: 0x1000},
				emu.WithVectorTable(emu.NewFixedTable(0, 0x100, true, exception.Syscall)))
			c.Start()

			r := c.Step()

			Expect(r.Status).To(Equal(emu.StatusDefect))
			Expect(errors.Is(r.Err, emu.ErrDefect)).To(BeTrue())
			Expect(errors.Is(r.Err, emu.ErrNoVector)).To(BeTrue())
			Expect(c.Running()).To(BeFalse())
		})

		It("should use fixed vectors keyed by vector id", func() {
			c := newCore(emu.CoreConfig{Name: "fixed", PC: 0x1000, EmulFull: true},
				emu.WithVectorTable(emu.NewFixedTable(0x100, 0x100, false)))
			loadProgram(c.Memory(), 0x1000, "sc")
			c.Start()

			r := c.Step()

			Expect(r.Exception.Kind).To(Equal(exception.Syscall))
			vec := exception.VectorID(exception.Syscall, false)
			Expect(vec).To(Equal(exception.Vector(exception.Decrementer)))
			Expect(c.PC()).To(Equal(0x100 + uint64(vec)*0x100))
		})
	})

	Describe("system calls", func() {
		It("should vector sc in full emulation with the next address saved", func() {
			c := newCore(emu.CoreConfig{Name: "full", PC: 0x1000, EmulFull: true})
			c.RegFile().IVOR[8] = 0x800
			loadProgram(c.Memory(), 0x1000, "sc")
			c.Start()

			r := c.Step()

			Expect(r.Status).To(Equal(emu.StatusException))
			Expect(r.Exception.Kind).To(Equal(exception.Syscall))
			Expect(c.RegFile().SRR0).To(Equal(uint64(0x1004)))
			Expect(c.PC()).To(Equal(uint64(0x800)))
			Expect(c.InstructionCount()).To(Equal(uint64(1)))
		})

		It("should serve sc on the host in partial emulation", func() {
			core.Memory().WriteBytes(0x3000, []byte("hi\n"))
			loadProgram(core.Memory(), 0x1000,
				"li r0,4", "li r3,1", "lis r4,0", "ori r4,r4,0x3000", "li r5,3", "sc",
				"li r0,1", "li r3,7", "sc")
			core.Start()

			r := core.Run(context.Background(), 0)

			Expect(r.Status).To(Equal(emu.StatusExited))
			Expect(r.Exited).To(BeTrue())
			Expect(r.ExitCode).To(Equal(int64(7)))
			Expect(stdout.String()).To(Equal("hi\n"))
			Expect(core.Running()).To(BeFalse())
			Expect(core.InstructionCount()).To(Equal(uint64(9)))
		})
	})

	Describe("breakpoints", func() {
		It("should stop before the instruction and resume past it", func() {
			loadProgram(core.Memory(), 0x1000, "li r3,1", "li r4,2", "li r0,1", "sc")
			bp := core.Breakpoints().Add(0x1004)
			core.Start()

			r := core.Run(context.Background(), 0)
			Expect(r.Status).To(Equal(emu.StatusBreakpoint))
			Expect(r.PC).To(Equal(uint64(0x1004)))
			Expect(core.RegFile().ReadReg(3)).To(Equal(uint64(1)))
			Expect(core.RegFile().ReadReg(4)).To(BeZero())

			r = core.Run(context.Background(), 0)
			Expect(r.Status).To(Equal(emu.StatusExited))
			Expect(core.RegFile().ReadReg(4)).To(Equal(uint64(2)))

			list := core.Breakpoints().List()
			Expect(list).To(HaveLen(1))
			Expect(list[0].Number).To(Equal(bp.Number))
			Expect(list[0].Hits).To(Equal(uint64(1)))
		})

		It("should share a manager between cores", func() {
			m := breakpoint.NewManager(breakpoint.WithLogger(quietLogger()))
			c := newCore(emu.CoreConfig{Name: "bp", PC: 0x1000}, emu.WithBreakpoints(m))
			m.Add(0x1000)
			c.Start()

			Expect(c.Step().Status).To(Equal(emu.StatusBreakpoint))
			Expect(c.Breakpoints()).To(BeIdenticalTo(m))
		})

		It("should hit again when a handler returns to the address", func() {
			loadProgram(core.Memory(), 0x1000, "nop", "nop")
			loadProgram(core.Memory(), 0x20400, "rfi")
			core.Breakpoints().Add(0x1000)
			core.RegFile().MSR |= emu.MSREE
			core.Start()

			Expect(core.Step().Status).To(Equal(emu.StatusBreakpoint))

			Expect(core.Interrupt(exception.External)).To(Succeed())
			r := core.Step()
			Expect(r.Status).To(Equal(emu.StatusException))
			Expect(core.PC()).To(Equal(uint64(0x20400)))

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
			Expect(core.PC()).To(Equal(uint64(0x1000)))

			r = core.Step()
			Expect(r.Status).To(Equal(emu.StatusBreakpoint))
			Expect(r.PC).To(Equal(uint64(0x1000)))
			Expect(core.Breakpoints().List()[0].Hits).To(Equal(uint64(2)))

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
			Expect(core.PC()).To(Equal(uint64(0x1004)))
		})

		It("should be skipped while disabled", func() {
			loadProgram(core.Memory(), 0x1000, "li r3,1")
			core.Breakpoints().Add(0x1000)
			core.Breakpoints().Disable()
			core.Start()

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
		})
	})

	Describe("asynchronous exceptions", func() {
		BeforeEach(func() {
			loadProgram(core.Memory(), 0x1000, "nop", "nop", "nop", "nop", "nop")
			core.Start()
		})

		It("should hold an external interrupt until MSR[EE] is set", func() {
			Expect(core.Interrupt(exception.External)).To(Succeed())

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
			Expect(core.Pending()).To(ConsistOf(exception.External))

			core.RegFile().MSR |= emu.MSREE
			r := core.Step()

			Expect(r.Status).To(Equal(emu.StatusException))
			Expect(r.Exception.Kind).To(Equal(exception.External))
			Expect(core.RegFile().SRR0).To(Equal(uint64(0x1004)))
			Expect(core.RegFile().SRR1 & emu.MSREE).NotTo(BeZero())
			Expect(core.RegFile().MSR & emu.MSREE).To(BeZero())
			Expect(core.PC()).To(Equal(uint64(0x20400)))
			Expect(core.Pending()).To(BeEmpty())
		})

		It("should raise the decrementer when it reaches zero", func() {
			r := core.RegFile()
			r.MSR |= emu.MSREE
			r.DEC = 3
			r.TCR = emu.TCRDIE

			for i := 0; i < 3; i++ {
				Expect(core.Step().Status).To(Equal(emu.StatusOK))
			}
			Expect(r.TSR & emu.TSRDIS).NotTo(BeZero())

			res := core.Step()
			Expect(res.Exception.Kind).To(Equal(exception.Decrementer))
			Expect(r.SRR0).To(Equal(uint64(0x100C)))
			Expect(core.PC()).To(Equal(uint64(0x20A00)))
		})

		It("should reload the decrementer when auto-reload is on", func() {
			r := core.RegFile()
			r.DEC = 1
			r.DECAR = 5
			r.TCR = emu.TCRARE

			Expect(core.Step().Status).To(Equal(emu.StatusOK))
			Expect(r.DEC).To(Equal(uint64(5)))
			Expect(core.Pending()).To(BeEmpty())
		})

		It("should reject an unknown kind", func() {
			Expect(core.Interrupt(exception.NumKinds)).To(MatchError(exception.ErrUnknownKind))
		})
	})

	Describe("Run", func() {
		It("should stop at the instruction limit", func() {
			loadProgram(core.Memory(), 0x1000,
				"li r3,0", "li r4,10", "mtctr r4", "addi r3,r3,1", "bdnz -4", "nop")
			core.Start()

			r := core.Run(context.Background(), 23)

			Expect(r.Status).To(Equal(emu.StatusLimit))
			Expect(core.RegFile().ReadReg(3)).To(Equal(uint64(10)))
			Expect(core.PC()).To(Equal(uint64(0x1014)))
		})

		It("should stop when the context is cancelled", func() {
			core.Start()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			r := core.Run(ctx, 0)

			Expect(r.Status).To(Equal(emu.StatusCancelled))
			Expect(r.Err).To(MatchError(context.Canceled))
		})

		It("should return at once when the core is stopped", func() {
			Expect(core.Run(context.Background(), 0).Status).To(Equal(emu.StatusIdle))
		})
	})

	Describe("Exec", func() {
		It("should run assembler text at the current PC", func() {
			r, err := core.Exec("li r3,9")

			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(emu.StatusOK))
			Expect(core.RegFile().ReadReg(3)).To(Equal(uint64(9)))
			Expect(core.PC()).To(Equal(uint64(0x1004)))
		})

		It("should leave the state alone for bad text", func() {
			r, err := core.Exec("frobnicate r3")

			Expect(err).To(MatchError(insts.ErrSyntax))
			Expect(r.Status).To(Equal(emu.StatusIdle))
			Expect(core.PC()).To(Equal(uint64(0x1000)))
		})

		It("should raise a program exception for instructions outside the profile", func() {
			r, err := core.Exec("lfd f1,0(r3)")

			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(emu.StatusException))
			Expect(r.Exception.Has(exception.Illegal)).To(BeTrue())
		})
	})

	Describe("DumpState", func() {
		It("should print the registers", func() {
			core.RegFile().WriteReg(5, 0xABCD)
			var buf bytes.Buffer

			Expect(core.DumpState(&buf)).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("cpu0"))
			Expect(buf.String()).To(ContainSubstring("r5 =000000000000ABCD"))
		})

		It("should render a graph", func() {
			var buf bytes.Buffer
			core.DumpGraph(&buf)
			Expect(buf.String()).To(ContainSubstring("digraph"))
		})
	})
})
