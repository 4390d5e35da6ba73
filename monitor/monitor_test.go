package monitor_test

import (
	"bytes"
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/config"
	"github.com/sarchlab/ppcsim/monitor"
	"github.com/sarchlab/ppcsim/system"
)

var _ = Describe("Monitor", func() {
	var (
		sys *system.System
		out *bytes.Buffer
	)

	newMonitor := func(input string, opts ...monitor.Option) *monitor.Monitor {
		opts = append(opts, monitor.WithLogger(quietLogger()))
		return monitor.New(sys, strings.NewReader(input), out, opts...)
	}

	session := func(lines ...string) string {
		m := newMonitor(strings.Join(lines, "\n") + "\n")
		Expect(m.Run(context.Background())).To(Succeed())
		return out.String()
	}

	BeforeEach(func() {
		cfg := config.Default()
		cfg.ReportInterval = 0
		cfg.Cores[0].PC = 0x1000
		cfg.Cores = append(cfg.Cores, config.CoreConfig{Name: "cpu1", PC: 0x2000})

		var err error
		sys, err = system.Build(cfg, system.WithLogger(quietLogger()))
		Expect(err).NotTo(HaveOccurred())
		loadProgram(sys.Memory(), 0x1000,
			"li r3,5", "addi r3,r3,1", "nop", "li r0,1", "sc")

		out = new(bytes.Buffer)
	})

	AfterEach(func() {
		sys.Close()
	})

	It("should parse commands and addresses", func() {
		cmd := monitor.ParseCommand("  BREAK 0x100  ")
		Expect(cmd.Name).To(Equal("break"))
		Expect(cmd.Args).To(Equal([]string{"0x100"}))
		Expect(monitor.ParseCommand("   ").Name).To(BeEmpty())

		Expect(monitor.ParseAddress("$ff")).To(Equal(uint64(0xFF)))
		Expect(monitor.ParseAddress("0x1000")).To(Equal(uint64(0x1000)))
		Expect(monitor.ParseAddress("64")).To(Equal(uint64(64)))
		_, err := monitor.ParseAddress("zz")
		Expect(err).To(HaveOccurred())
	})

	It("should step and show disassembly", func() {
		text := session("step 2", "quit", "step")

		Expect(text).To(Equal("0x00001000  addi r3,r0,5\n0x00001004  addi r3,r3,1\n"))
		Expect(sys.Cores()[0].RegFile().ReadReg(3)).To(Equal(uint64(6)))
	})

	It("should run to breakpoints and to the exit", func() {
		text := session("break 0x1008", "run", "run")

		Expect(text).To(Equal(
			"breakpoint #0 at 0x00001008\n" +
				"0x00001008  breakpoint\n" +
				"0x00001010  exited with code 6\n"))
	})

	It("should stop a run at the limit", func() {
		text := session("run 2")

		Expect(text).To(Equal("0x00001008  limit\n"))
		Expect(sys.Cores()[0].Running()).To(BeFalse())
	})

	It("should list, disable and delete breakpoints", func() {
		text := session("list", "break 0x1004", "break $1008", "disable", "list",
			"delete #0", "delete 0x1008", "delete 0x1008", "enable", "list")

		Expect(text).To(Equal("no breakpoints\n" +
			"breakpoint #0 at 0x00001004\n" +
			"breakpoint #1 at 0x00001008\n" +
			"(disabled)\n" +
			"#0 0x00001004 hits=0\n" +
			"#1 0x00001008 hits=0\n" +
			"1 deleted\n" +
			"1 deleted\n" +
			"error: no breakpoint at 0x00001008\n" +
			"no breakpoints\n"))
		Expect(sys.Breakpoints().Enabled()).To(BeTrue())
	})

	It("should delete all breakpoints", func() {
		session("break 0x1000", "break 0x1004", "delete all")

		Expect(sys.Breakpoints().Len()).To(BeZero())
	})

	It("should print registers", func() {
		text := session("exec li r7,9", "regs")

		Expect(text).To(HavePrefix("0x00001000  li r7,9\n"))
		Expect(text).To(ContainSubstring("r7 =0000000000000009"))
	})

	It("should report exceptions from exec", func() {
		text := session("exec lfd f1,0(r3)")

		Expect(text).To(ContainSubstring("0x00001000"))
		Expect(text).To(ContainSubstring("->"))
	})

	It("should show and flush the translation cache", func() {
		text := session("step", "tlb", "tlb flush", "tlb")

		Expect(text).To(ContainSubstring("0x00001000 -> 0x00001000"))
		Expect(text).To(ContainSubstring("1 entries, 1 lookups, 0 hits, 1 misses"))
		Expect(text).To(ContainSubstring("1 entries flushed"))
	})

	It("should select cores", func() {
		text := session("core cpu1", "core")

		Expect(text).To(ContainSubstring("  cpu0"))
		Expect(text).To(ContainSubstring("* cpu1"))
	})

	It("should print errors and keep going", func() {
		text := session("frobnicate", "step x", "break", "core nope", "exec", "tlb purge", "regs")

		Expect(strings.Count(text, "error: ")).To(Equal(6))
		Expect(text).To(ContainSubstring("pc="))
	})

	It("should print help", func() {
		text := session("help")

		for _, word := range []string{"step", "run", "break", "delete", "list", "tlb", "quit"} {
			Expect(text).To(ContainSubstring(word))
		}
	})

	It("should prompt when interactive", func() {
		m := newMonitor("core cpu1\n", monitor.WithInteractive(true))

		Expect(m.Run(context.Background())).To(Succeed())
		Expect(out.String()).To(HavePrefix("cpu0> "))
		Expect(out.String()).To(HaveSuffix("cpu1> "))
		Expect(m.Core().Name()).To(Equal("cpu1"))
	})

	It("should stop when the context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := newMonitor("step\n").Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(out.String()).To(BeEmpty())
	})
})
