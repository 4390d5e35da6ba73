package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

var _ = Describe("E500", func() {
	var (
		reg  *emu.Registry
		core *emu.E500
		regs *emu.RegFile
	)

	build := func(cfg emu.CoreConfig, opts ...emu.Option) *emu.E500 {
		if cfg.Name == "" {
			cfg.Name = "cpu"
		}
		if cfg.PC == 0 {
			cfg.PC = 0x1000
		}
		c, err := emu.NewE500(reg, cfg, append([]emu.Option{emu.WithLogger(quietLogger())}, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		c.RegFile().IVPR = 0x20000
		for i := range c.RegFile().IVOR {
			c.RegFile().IVOR[i] = uint64(i) << 8
		}
		return c
	}

	exec := func(c *emu.E500, text string) emu.StepResult {
		r, err := c.Exec(text)
		Expect(err).NotTo(HaveOccurred(), text)
		return r
	}

	ok := func(text string) {
		Expect(exec(core, text).Status).To(Equal(emu.StatusOK), text)
	}

	raises := func(c *emu.E500, text string, k exception.Kind, flags exception.SubType) *exception.Event {
		r := exec(c, text)
		Expect(r.Status).To(Equal(emu.StatusException), text)
		Expect(r.Exception.Kind).To(Equal(k), text)
		Expect(r.Exception.Flags).To(Equal(flags), text)
		return r.Exception
	}

	BeforeEach(func() {
		reg = emu.NewRegistry()
		core = build(emu.CoreConfig{Name: "cpu0"})
		regs = core.RegFile()
	})

	Describe("fixed-point", func() {
		It("should wrap arithmetic to 32 bits", func() {
			regs.WriteReg(4, 0xFFFFFFFF)
			ok("addi r3,r4,1")
			Expect(regs.ReadReg(3)).To(BeZero())
		})

		It("should compute 64-bit results in 64-bit mode", func() {
			c := build(emu.CoreConfig{Name: "wide", Bits: 64}, emu.WithProfile(insts.MustProfile("e5500")))
			c.RegFile().WriteReg(4, 0xFFFFFFFF)
			exec(c, "addi r3,r4,1")
			Expect(c.RegFile().ReadReg(3)).To(Equal(uint64(0x100000000)))
		})

		It("should record the result in CR0", func() {
			regs.WriteReg(4, 0xFFFFFFFF)
			ok("add. r3,r4,r5")
			Expect(regs.CRField(0)).To(Equal(emu.CRLT))

			ok("and. r3,r4,r5")
			Expect(regs.CRField(0)).To(Equal(emu.CREQ))
		})

		It("should copy XER[SO] into CR0", func() {
			regs.XER = emu.XERSO
			regs.WriteReg(4, 1)
			ok("add. r3,r4,r4")
			Expect(regs.CRField(0)).To(Equal(emu.CRGT | emu.CRSO))
		})

		It("should set carry on addic", func() {
			regs.WriteReg(4, 0xFFFFFFFF)
			ok("addic r3,r4,1")
			Expect(regs.XER & emu.XERCA).NotTo(BeZero())
		})

		It("should build constants with lis and ori", func() {
			ok("lis r3,0x1234")
			ok("ori r3,r3,0x5678")
			Expect(regs.ReadReg(3)).To(Equal(uint64(0x12345678)))
		})

		It("should divide without faulting on zero", func() {
			regs.WriteReg(4, 10)
			ok("divw r3,r4,r5")
			Expect(regs.ReadReg(3)).To(BeZero())

			regs.WriteReg(5, 3)
			ok("divwu r3,r4,r5")
			Expect(regs.ReadReg(3)).To(Equal(uint64(3)))
		})

		It("should multiply and negate", func() {
			regs.WriteReg(4, 6)
			regs.WriteReg(5, 0xFFFFFFFE)
			ok("mullw r3,r4,r5")
			Expect(regs.ReadReg(3)).To(Equal(uint64(0xFFFFFFF4)))

			ok("neg r6,r3")
			Expect(regs.ReadReg(6)).To(Equal(uint64(12)))

			ok("subf r7,r4,r6")
			Expect(regs.ReadReg(7)).To(Equal(uint64(6)))
		})

		It("should rotate and mask", func() {
			regs.WriteReg(4, 0x0F)
			ok("slwi r3,r4,4")
			Expect(regs.ReadReg(3)).To(Equal(uint64(0xF0)))

			ok("srwi r5,r3,2")
			Expect(regs.ReadReg(5)).To(Equal(uint64(0x3C)))

			regs.WriteReg(6, 0x80000001)
			ok("rlwinm r7,r6,1,0,31")
			Expect(regs.ReadReg(7)).To(Equal(uint64(3)))
		})

		It("should shift by register", func() {
			regs.WriteReg(4, 1)
			regs.WriteReg(5, 31)
			ok("slw r3,r4,r5")
			Expect(regs.ReadReg(3)).To(Equal(uint64(0x80000000)))

			regs.WriteReg(5, 32)
			ok("slw r3,r4,r5")
			Expect(regs.ReadReg(3)).To(BeZero())
		})

		It("should compare signed and unsigned", func() {
			regs.WriteReg(3, 0xFFFFFFFF)
			regs.WriteReg(4, 1)

			ok("cmpw cr7,r3,r4")
			Expect(regs.CRField(7)).To(Equal(emu.CRLT))

			ok("cmplw cr6,r3,r4")
			Expect(regs.CRField(6)).To(Equal(emu.CRGT))

			ok("cmpwi r4,1")
			Expect(regs.CRField(0)).To(Equal(emu.CREQ))
		})

		It("should move the condition register", func() {
			regs.WriteReg(3, 0x80000000)
			ok("mtcrf 128,r3")
			Expect(regs.CRField(0)).To(Equal(emu.CRLT))

			ok("mfcr r4")
			Expect(regs.ReadReg(4)).To(Equal(uint64(0x80000000)))
		})

		It("should trap when the condition holds", func() {
			raises(core, "trap", exception.Program, exception.Trap)
			Expect(regs.ESR).To(Equal(emu.ESRPTR))

			core.SetPC(0x1000)
			regs.WriteReg(3, 6)
			ok("twi 4,r3,5")
		})
	})

	Describe("branches", func() {
		It("should branch and link", func() {
			ok("bl 0x100")
			Expect(core.PC()).To(Equal(uint64(0x1100)))
			Expect(regs.LR).To(Equal(uint64(0x1004)))

			ok("blr")
			Expect(core.PC()).To(Equal(uint64(0x1004)))
		})

		It("should follow the condition register", func() {
			regs.SetCRField(0, emu.CREQ)
			ok("beq 8")
			Expect(core.PC()).To(Equal(uint64(0x1008)))

			ok("bne 8")
			Expect(core.PC()).To(Equal(uint64(0x100C)))
		})

		It("should branch to CTR", func() {
			regs.CTR = 0x3000
			ok("bctrl")
			Expect(core.PC()).To(Equal(uint64(0x3000)))
			Expect(regs.LR).To(Equal(uint64(0x1004)))
		})

		It("should test only the low word of CTR in 32-bit mode", func() {
			regs.CTR = 0x100000001
			ok("bdnz 0x100")
			Expect(core.PC()).To(Equal(uint64(0x1004)))

			c := build(emu.CoreConfig{Name: "wide", Bits: 64}, emu.WithProfile(insts.MustProfile("e5500")))
			c.RegFile().MSR |= emu.MSRCM
			c.RegFile().CTR = 0x100000001
			exec(c, "bdnz 0x100")
			Expect(c.PC()).To(Equal(uint64(0x1100)))
			Expect(c.RegFile().CTR).To(Equal(uint64(0x100000000)))
		})

		It("should reject bcctr that decrements CTR", func() {
			raises(core, "bcctr 16,0", exception.Program, exception.Illegal)
		})
	})

	Describe("loads and stores", func() {
		BeforeEach(func() {
			regs.WriteReg(3, 0x12345678)
			regs.WriteReg(4, 0x2000)
		})

		It("should access memory big-endian", func() {
			ok("stw r3,0(r4)")
			Expect(core.Memory().Read8(0x2000)).To(Equal(uint8(0x12)))

			ok("lbz r5,3(r4)")
			Expect(regs.ReadReg(5)).To(Equal(uint64(0x78)))

			ok("lhz r6,0(r4)")
			Expect(regs.ReadReg(6)).To(Equal(uint64(0x1234)))

			ok("sth r3,8(r4)")
			ok("stb r3,10(r4)")
			Expect(core.Memory().Read32(0x2008)).To(Equal(uint32(0x56787800)))
		})

		It("should index with a register", func() {
			regs.WriteReg(5, 0x10)
			ok("stwx r3,r4,r5")
			ok("lwzx r6,r4,r5")
			Expect(regs.ReadReg(6)).To(Equal(uint64(0x12345678)))
		})

		It("should update the base register", func() {
			regs.WriteReg(1, 0x3000)
			ok("stwu r3,-8(r1)")
			Expect(regs.ReadReg(1)).To(Equal(uint64(0x2FF8)))
			Expect(core.Memory().Read32(0x2FF8)).To(Equal(uint32(0x12345678)))

			ok("lwzu r5,4(r1)")
			Expect(regs.ReadReg(1)).To(Equal(uint64(0x2FFC)))
		})

		It("should reject invalid update forms", func() {
			raises(core, "lwzu r3,0(r0)", exception.Program, exception.Illegal)
			core.SetPC(0x1000)
			raises(core, "lwzu r4,0(r4)", exception.Program, exception.Illegal)
		})

		It("should access pages across a boundary", func() {
			regs.WriteReg(4, 0x2FFE)
			ok("stw r3,0(r4)")
			Expect(core.Memory().Read16(0x2FFE)).To(Equal(uint16(0x1234)))
			Expect(core.Memory().Read16(0x3000)).To(Equal(uint16(0x5678)))
		})

		It("should clear a cache block", func() {
			for a := uint64(0x2000); a < 0x2040; a += 4 {
				core.Memory().Write32(a, 0xFFFFFFFF)
			}
			regs.WriteReg(4, 0x2010)

			ok("dcbz r0,r4")

			Expect(core.Memory().Read32(0x2000)).To(BeZero())
			Expect(core.Memory().Read32(0x201C)).To(BeZero())
			Expect(core.Memory().Read32(0x2020)).To(Equal(uint32(0xFFFFFFFF)))
		})
	})

	Describe("reservations", func() {
		BeforeEach(func() {
			regs.WriteReg(4, 0x2000)
			regs.WriteReg(5, 42)
		})

		It("should store only while the reservation holds", func() {
			ok("lwarx r3,0,r4")
			ok("stwcx. r5,0,r4")
			Expect(regs.CRField(0)).To(Equal(emu.CREQ))
			Expect(core.Memory().Read32(0x2000)).To(Equal(uint32(42)))

			regs.WriteReg(5, 7)
			ok("stwcx. r5,0,r4")
			Expect(regs.CRField(0)).To(BeZero())
			Expect(core.Memory().Read32(0x2000)).To(Equal(uint32(42)))
		})

		It("should raise alignment on misaligned addresses", func() {
			regs.WriteReg(4, 0x2002)

			raises(core, "lwarx r3,0,r4", exception.Alignment, 0)
			Expect(regs.DEAR).To(Equal(uint64(0x2002)))

			core.SetPC(0x1000)
			raises(core, "stwcx. r5,0,r4", exception.Alignment, exception.Store)
			Expect(regs.ESR).To(Equal(emu.ESRST))
		})
	})

	Describe("translation", func() {
		var table *tlb.RegionTable

		BeforeEach(func() {
			var err error
			table, err = tlb.NewRegionTable(
				tlb.Region{Virt: 0, Phys: 0, Size: 0x10000, Flags: tlb.PermAll},
				tlb.Region{Virt: 0x10000, Phys: 0x40000, Size: 0x1000, Flags: tlb.PermAll | tlb.FlagE},
				tlb.Region{Virt: 0x11000, Phys: 0x11000, Size: 0x1000, Flags: tlb.FlagSR},
				tlb.Region{Virt: 0x12000, Phys: 0x12000, Size: 0x1000, Flags: tlb.PermAll | tlb.FlagW},
			)
			Expect(err).NotTo(HaveOccurred())
			core = build(emu.CoreConfig{Name: "mmu"},
				emu.WithTranslator(tlb.New(tlb.DefaultConfig(), table)))
			regs = core.RegFile()
			regs.WriteReg(3, 0x12345678)
		})

		It("should access little-endian pages in reverse byte order", func() {
			regs.WriteReg(4, 0x10000)
			ok("stw r3,0(r4)")

			Expect(core.Memory().Read8(0x40000)).To(Equal(uint8(0x78)))
			ok("lwz r5,0(r4)")
			Expect(regs.ReadReg(5)).To(Equal(uint64(0x12345678)))
		})

		It("should raise data storage for unmapped loads", func() {
			regs.WriteReg(4, 0x80000)
			raises(core, "lwz r5,0(r4)", exception.DataStorage, exception.ReadAccess)
			Expect(regs.DEAR).To(Equal(uint64(0x80000)))
		})

		It("should raise data storage for protected stores", func() {
			regs.WriteReg(4, 0x11000)
			raises(core, "stw r3,0(r4)", exception.DataStorage, exception.WriteAccess)
			Expect(regs.ESR).To(Equal(emu.ESRST))
		})

		It("should raise TLB misses when configured", func() {
			c := build(emu.CoreConfig{Name: "miss"},
				emu.WithTranslator(tlb.New(tlb.DefaultConfig(), table)),
				emu.WithMissExceptions(true))
			c.RegFile().WriteReg(4, 0x80000)

			raises(c, "stw r3,0(r4)", exception.DataTLBMiss, exception.Store)
		})

		It("should raise instruction storage when fetching unmapped code", func() {
			core.SetPC(0x80000)
			core.Start()

			r := core.Step()

			Expect(r.Exception.Kind).To(Equal(exception.InstructionStorage))
			Expect(r.Exception.Has(exception.ExecuteAccess)).To(BeTrue())
			Expect(regs.SRR0).To(Equal(uint64(0x80000)))
		})

		It("should refuse reservations on write-through pages", func() {
			regs.WriteReg(4, 0x12000)
			raises(core, "lwarx r5,0,r4", exception.DataStorage, exception.ReservationWriteThrough)
		})
	})

	Describe("privileged state", func() {
		var full *emu.E500

		BeforeEach(func() {
			full = build(emu.CoreConfig{Name: "full", EmulFull: true})
			full.RegFile().MSR |= emu.MSRPR
		})

		It("should trap privileged instructions in user mode", func() {
			raises(full, "mfmsr r3", exception.Program, exception.Privileged)
			Expect(full.RegFile().ESR).To(Equal(emu.ESRPPR))
			Expect(full.RegFile().MSR & emu.MSRPR).To(BeZero())
		})

		It("should trap supervisor SPRs but not user SPRs", func() {
			exec(full, "mflr r3")
			Expect(full.RegFile().ESR).To(BeZero())
			raises(full, "mfspr r3,srr0", exception.Program, exception.Privileged)
		})

		It("should skip privilege checks in partial emulation", func() {
			regs.MSR |= emu.MSRPR
			ok("mfmsr r3")
			Expect(regs.ReadReg(3) & emu.MSRPR).NotTo(BeZero())
		})

		It("should need MSR[SPE] for SPE instructions", func() {
			full.RegFile().MSR &^= emu.MSRPR
			raises(full, "evaddw r3,r4,r5", exception.SPEUnavailable, exception.SPEAccess)

			full.SetPC(0x1000)
			r := full.RegFile()
			r.MSR |= emu.MSRSPE
			r.WriteReg(4, 1)
			r.EVH[4] = 2
			r.WriteReg(5, 3)
			r.EVH[5] = 4
			exec(full, "evaddw r3,r4,r5")
			Expect(r.ReadReg(3)).To(Equal(uint64(4)))
			Expect(r.EVH[3]).To(Equal(uint32(6)))
		})

		It("should need MSR[FP] for floating-point loads", func() {
			c := build(emu.CoreConfig{Name: "fpu", EmulFull: true},
				emu.WithProfile(insts.MustProfile("e500mc")))
			c.RegFile().WriteReg(4, 0x2000)
			c.Memory().Write64(0x2000, 0x3FF0000000000000)

			raises(c, "lfd f1,0(r4)", exception.FPUnavailable, 0)

			c.SetPC(0x1000)
			c.RegFile().MSR |= emu.MSRFP
			exec(c, "lfd f1,0(r4)")
			Expect(c.RegFile().FPR[1]).To(Equal(uint64(0x3FF0000000000000)))
		})
	})

	Describe("special-purpose registers", func() {
		It("should move to and from SPRs", func() {
			regs.WriteReg(3, 0xCAFE)
			ok("mtspr sprg0,r3")
			ok("mfspr r4,sprg0")
			Expect(regs.ReadReg(4)).To(Equal(uint64(0xCAFE)))
		})

		It("should raise illegal for unknown SPRs", func() {
			raises(core, "mfspr r3,1000", exception.Program, exception.Illegal)
		})

		It("should toggle MSR[EE]", func() {
			ok("wrteei 1")
			Expect(regs.MSR & emu.MSREE).NotTo(BeZero())
			ok("wrteei 0")
			Expect(regs.MSR & emu.MSREE).To(BeZero())
		})

		It("should return from an interrupt", func() {
			raises(core, "trap", exception.Program, exception.Trap)
			Expect(core.Level()).To(Equal(emu.LevelBase))
			regs.SRR1 = emu.MSREE

			ok("rfi")

			Expect(core.PC()).To(Equal(uint64(0x1000)))
			Expect(regs.MSR).To(Equal(emu.MSREE))
			Expect(core.Level()).To(Equal(emu.LevelNone))
		})
	})

	Describe("doorbells", func() {
		var other *emu.E500

		BeforeEach(func() {
			mc := emu.WithProfile(insts.MustProfile("e500mc"))
			core = build(emu.CoreConfig{Name: "db0", ThreadID: 0}, mc)
			other = build(emu.CoreConfig{Name: "db1", ThreadID: 1}, mc)
			regs = core.RegFile()
		})

		It("should signal the core with the matching tag", func() {
			regs.WriteReg(5, 1)
			ok("msgsnd r5")

			Expect(other.Pending()).To(ConsistOf(exception.Doorbell))
			Expect(core.Pending()).To(BeEmpty())

			other.RegFile().MSR |= emu.MSREE
			other.Start()
			r := other.Step()
			Expect(r.Exception.Kind).To(Equal(exception.Doorbell))
			Expect(other.PC()).To(Equal(uint64(0x20000 | 36<<8)))
		})

		It("should address cores by the thread id they were built with", func() {
			Expect(other.ThreadID()).To(Equal(uint64(1)))
			other.RegFile().PIR = 7

			regs.WriteReg(5, 1)
			ok("msgsnd r5")
			Expect(other.Pending()).To(ConsistOf(exception.Doorbell))

			regs.WriteReg(5, 7)
			ok("msgsnd r5")
			Expect(other.Pending()).To(ConsistOf(exception.Doorbell))
			Expect(core.Pending()).To(BeEmpty())
		})

		It("should broadcast and clear", func() {
			regs.WriteReg(5, 1<<26|1<<27)
			ok("msgsnd r5")

			Expect(core.Pending()).To(ConsistOf(exception.DoorbellCritical))
			Expect(other.Pending()).To(ConsistOf(exception.DoorbellCritical))

			ok("msgclr r5")
			Expect(core.Pending()).To(BeEmpty())
			Expect(other.Pending()).To(ConsistOf(exception.DoorbellCritical))
		})
	})

	Describe("tlbivax", func() {
		It("should invalidate every translator of the domain", func() {
			d := tlb.NewDomain()
			mine := tlb.New(tlb.DefaultConfig(), tlb.NewIdentityWalker(tlb.PermAll))
			theirs := tlb.New(tlb.DefaultConfig(), tlb.NewIdentityWalker(tlb.PermAll))
			core = build(emu.CoreConfig{Name: "d0"}, emu.WithTranslator(mine), emu.WithDomain(d))
			build(emu.CoreConfig{Name: "d1"}, emu.WithTranslator(theirs), emu.WithDomain(d))
			regs = core.RegFile()

			for _, a := range []uint64{0x2000, 0x3000} {
				_, err := mine.Resolve(a, tlb.AccessRead)
				Expect(err).NotTo(HaveOccurred())
				_, err = theirs.Resolve(a, tlb.AccessRead)
				Expect(err).NotTo(HaveOccurred())
			}

			regs.WriteReg(4, 0x2000)
			ok("tlbivax r0,r4")
			Expect(mine.Len()).To(Equal(1))
			Expect(theirs.Len()).To(Equal(1))

			regs.WriteReg(4, 4)
			ok("tlbivax r0,r4")
			Expect(mine.Len()).To(BeZero())
			Expect(theirs.Len()).To(BeZero())
		})
	})
})
