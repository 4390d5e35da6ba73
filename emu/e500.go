package emu

import (
	"errors"

	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

// CacheLineSize is the block size dcbz clears.
const CacheLineSize = 32

// processorVersions are the PVR values reported per profile.
var processorVersions = map[string]uint64{
	"e200z6": 0x81170000,
	"e300":   0x80830000,
	"e500v1": 0x80200000,
	"e500v2": 0x80210000,
	"e500mc": 0x80230000,
	"e5500":  0x80240000,
	"e6500":  0x80400000,
	"ppc440": 0x422218D3,
}

// E500 is a functional model of the e500 family core.
type E500 struct {
	*Core

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit
}

// NewE500 builds an e500 core and registers it with reg. The core starts
// stopped; call Start to let it run.
func NewE500(reg *Registry, cfg CoreConfig, opts ...Option) (*E500, error) {
	e := &E500{}

	core, err := newCore(reg, cfg, e, opts...)
	if err != nil {
		return nil, err
	}
	e.Core = core

	e.alu = NewALU(core.regs, core.wide)
	e.lsu = NewLoadStoreUnit(core.regs, core.memory, e.translateData)
	e.branchUnit = NewBranchUnit(core.regs, core.wide)

	core.regs.PVR = processorVersions[core.decoder.Profile().Name]

	return e, nil
}

func (c *Core) wide() bool {
	return c.bits == 64 && c.regs.MSR&MSRCM != 0
}

// Translate maps vaddr for access through the core's translation cache.
// Failures are returned as storage or TLB miss exceptions.
func (e *E500) Translate(vaddr uint64, access tlb.Access) (uint64, error) {
	tr, err := e.translator.Resolve(vaddr, access)
	if err != nil {
		return 0, e.storageFault(err, vaddr, access)
	}

	if access&tlb.AccessExecute != 0 && tr.Flags&tlb.FlagE != 0 {
		return 0, exception.MustEvent(exception.InstructionStorage, exception.ByteOrdering)
	}

	return tr.Addr, nil
}

func (e *E500) translateData(ea uint64, write bool) (tlb.Translation, error) {
	ea = e.maskAddr(ea)

	access := tlb.AccessRead
	if write {
		access = tlb.AccessWrite
	}
	if e.regs.UserMode() {
		access |= tlb.AccessUser
	}

	tr, err := e.translator.Resolve(ea, access)
	if err != nil {
		return tlb.Translation{}, e.storageFault(err, ea, access)
	}
	return tr, nil
}

// storageFault classifies a translation failure.
func (e *E500) storageFault(err error, vaddr uint64, access tlb.Access) error {
	var f *tlb.Fault
	if !errors.As(err, &f) {
		return &DefectError{Core: e.name, PC: e.regs.PC, Err: err}
	}

	if f.Reason == tlb.FaultMiss && e.missExceptions {
		if f.Execute() {
			return exception.MustEvent(exception.InstructionTLBMiss, 0)
		}
		var sub exception.SubType
		if f.Write() {
			sub = exception.Store
		}
		return exception.MustFaultEvent(exception.DataTLBMiss, sub, vaddr)
	}

	switch {
	case f.Execute():
		return exception.MustEvent(exception.InstructionStorage, exception.ExecuteAccess)
	case f.Write():
		return exception.MustFaultEvent(exception.DataStorage, exception.WriteAccess, vaddr)
	}
	return exception.MustFaultEvent(exception.DataStorage, exception.ReadAccess, vaddr)
}

// ExecuteText assembles text and executes it. Text that does not assemble
// fails with insts.ErrSyntax; instructions outside the profile raise a
// program exception as they would when fetched.
func (e *E500) ExecuteText(text string) error {
	inst, err := insts.Parse(text)
	if err != nil {
		return err
	}

	if !e.decoder.Profile().Ext.Has(inst.Op.Extension()) {
		return exception.MustEvent(exception.Program, exception.Illegal)
	}

	return e.Execute(inst)
}

// Execute applies the semantic effect of inst.
func (e *E500) Execute(inst *insts.Instruction) error {
	if e.emulFull && e.regs.UserMode() && inst.Privileged() {
		return exception.MustEvent(exception.Program, exception.Privileged)
	}

	switch inst.Op {
	case insts.OpLWZ, insts.OpLWZU, insts.OpLBZ, insts.OpLHZ,
		insts.OpSTW, insts.OpSTWU, insts.OpSTB, insts.OpSTH,
		insts.OpLWZX, insts.OpSTWX, insts.OpLWARX, insts.OpSTWCXdot,
		insts.OpLFD, insts.OpSTFD, insts.OpDCBZ, insts.OpDCBF, insts.OpICBI:
		return e.executeLoadStore(inst)
	case insts.OpB, insts.OpBC, insts.OpBCLR, insts.OpBCCTR:
		return e.executeBranch(inst)
	case insts.OpSC, insts.OpRFI, insts.OpRFCI, insts.OpRFMCI,
		insts.OpISYNC, insts.OpSYNC, insts.OpTLBSYNC,
		insts.OpMFSPR, insts.OpMTSPR, insts.OpMFMSR, insts.OpMTMSR,
		insts.OpWRTEEI, insts.OpTLBIVAX, insts.OpMSGSND, insts.OpMSGCLR:
		return e.executeSystem(inst)
	case insts.OpEVADDW, insts.OpEVXOR:
		return e.executeSPE(inst)
	}

	return e.executeFixedPoint(inst)
}

func (e *E500) executeFixedPoint(inst *insts.Instruction) error {
	regs := e.regs

	switch inst.Op {
	case insts.OpADDI:
		e.alu.ADDI(inst.RT, inst.RA, inst.Imm)
	case insts.OpADDIS:
		e.alu.ADDIS(inst.RT, inst.RA, inst.Imm)
	case insts.OpADDIC:
		e.alu.ADDIC(inst.RT, inst.RA, inst.Imm)
	case insts.OpMULLI:
		e.alu.MULLI(inst.RT, inst.RA, inst.Imm)
	case insts.OpORI:
		e.alu.ORI(inst.RA, inst.RT, uint64(inst.Imm), false)
	case insts.OpORIS:
		e.alu.ORI(inst.RA, inst.RT, uint64(inst.Imm), true)
	case insts.OpXORI:
		e.alu.XORI(inst.RA, inst.RT, uint64(inst.Imm))
	case insts.OpANDIdot:
		e.alu.ANDIdot(inst.RA, inst.RT, uint64(inst.Imm))
	case insts.OpCMPI:
		e.alu.Compare(inst.CRF, inst.L == 1, regs.ReadReg(inst.RA), uint64(inst.Imm), true)
	case insts.OpCMPLI:
		e.alu.Compare(inst.CRF, inst.L == 1, regs.ReadReg(inst.RA), uint64(inst.Imm), false)
	case insts.OpCMP:
		e.alu.Compare(inst.CRF, inst.L == 1, regs.ReadReg(inst.RA), regs.ReadReg(inst.RB), true)
	case insts.OpCMPL:
		e.alu.Compare(inst.CRF, inst.L == 1, regs.ReadReg(inst.RA), regs.ReadReg(inst.RB), false)
	case insts.OpTWI:
		if e.alu.Trap(inst.TO, regs.ReadReg(inst.RA), uint64(inst.Imm)) {
			return exception.MustEvent(exception.Program, exception.Trap)
		}
	case insts.OpTW:
		if e.alu.Trap(inst.TO, regs.ReadReg(inst.RA), regs.ReadReg(inst.RB)) {
			return exception.MustEvent(exception.Program, exception.Trap)
		}
	case insts.OpRLWINM:
		e.alu.RLWINM(inst.RA, inst.RT, inst.SH, inst.MB, inst.ME, inst.Rc)
	case insts.OpADD, insts.OpSUBF, insts.OpNEG, insts.OpMULLW,
		insts.OpDIVW, insts.OpDIVWU:
		e.alu.Arith(inst.Op.String(), inst.RT, inst.RA, inst.RB, inst.OE, inst.Rc)
	case insts.OpAND, insts.OpOR, insts.OpXOR, insts.OpSLW, insts.OpSRW:
		e.alu.Logical(inst.Op.String(), inst.RA, inst.RT, inst.RB, inst.Rc)
	case insts.OpMFCR:
		regs.WriteReg(inst.RT, uint64(regs.CR))
	case insts.OpMTCRF:
		v := uint32(regs.ReadReg(inst.RT))
		for f := uint8(0); f < 8; f++ {
			if inst.FXM&(0x80>>f) != 0 {
				regs.SetCRField(f, uint8(v>>(28-4*uint32(f))))
			}
		}
	default:
		return exception.MustEvent(exception.Program, exception.Unimplemented)
	}

	return nil
}

func (e *E500) executeSPE(inst *insts.Instruction) error {
	regs := e.regs
	if e.emulFull && regs.MSR&MSRSPE == 0 {
		return exception.MustEvent(exception.SPEUnavailable, exception.SPEAccess)
	}

	lo := func(r uint8) uint32 { return uint32(regs.ReadReg(r)) }
	hi := func(r uint8) uint32 { return regs.EVH[r&31] }

	var l, h uint32
	switch inst.Op {
	case insts.OpEVADDW:
		l, h = lo(inst.RA)+lo(inst.RB), hi(inst.RA)+hi(inst.RB)
	case insts.OpEVXOR:
		l, h = lo(inst.RA)^lo(inst.RB), hi(inst.RA)^hi(inst.RB)
	}

	regs.WriteReg(inst.RT, uint64(l))
	regs.EVH[inst.RT&31] = h
	return nil
}
