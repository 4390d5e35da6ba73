package emu

import (
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

// effectiveAddress computes (ra|0) + d for D-forms and (ra|0) + rb for
// X-forms.
func (e *E500) effectiveAddress(inst *insts.Instruction) uint64 {
	base := e.regs.ReadRegOrZero(inst.RA)
	switch inst.Op {
	case insts.OpLWZX, insts.OpSTWX, insts.OpLWARX, insts.OpSTWCXdot,
		insts.OpDCBZ, insts.OpDCBF, insts.OpICBI:
		return e.maskAddr(base + e.regs.ReadReg(inst.RB))
	}
	return e.maskAddr(base + uint64(inst.Imm))
}

func (e *E500) executeLoadStore(inst *insts.Instruction) error {
	regs := e.regs
	ea := e.effectiveAddress(inst)

	switch inst.Op {
	case insts.OpLWZU:
		if inst.RA == 0 || inst.RA == inst.RT {
			return exception.MustEvent(exception.Program, exception.Illegal)
		}
	case insts.OpSTWU:
		if inst.RA == 0 {
			return exception.MustEvent(exception.Program, exception.Illegal)
		}
	case insts.OpLFD, insts.OpSTFD:
		if e.emulFull && regs.MSR&MSRFP == 0 {
			return exception.MustEvent(exception.FPUnavailable, 0)
		}
	}

	if err := e.access(inst, ea); err != nil {
		return err
	}
	e.updateBase(inst, ea)
	return nil
}

// access performs the memory effect of a load, store or cache operation.
func (e *E500) access(inst *insts.Instruction, ea uint64) error {
	regs := e.regs

	switch inst.Op {
	case insts.OpLWZ, insts.OpLWZU, insts.OpLWZX:
		return e.load(inst.RT, ea, 4)
	case insts.OpLHZ:
		return e.load(inst.RT, ea, 2)
	case insts.OpLBZ:
		return e.load(inst.RT, ea, 1)
	case insts.OpSTW, insts.OpSTWU, insts.OpSTWX:
		return e.lsu.Store(ea, 4, regs.ReadReg(inst.RT))
	case insts.OpSTH:
		return e.lsu.Store(ea, 2, regs.ReadReg(inst.RT))
	case insts.OpSTB:
		return e.lsu.Store(ea, 1, regs.ReadReg(inst.RT))
	case insts.OpLFD:
		v, err := e.lsu.Load(ea, 8)
		if err != nil {
			return err
		}
		regs.FPR[inst.RT&31] = v
		return nil
	case insts.OpSTFD:
		return e.lsu.Store(ea, 8, regs.FPR[inst.RT&31])
	case insts.OpLWARX:
		if ea&3 != 0 {
			return exception.MustFaultEvent(exception.Alignment, 0, ea)
		}
		v, err := e.lsu.LoadReserve(ea)
		if err != nil {
			return err
		}
		regs.WriteReg(inst.RT, v)
		return nil
	case insts.OpSTWCXdot:
		if ea&3 != 0 {
			return exception.MustFaultEvent(exception.Alignment, exception.Store, ea)
		}
		ok, err := e.lsu.StoreConditional(ea, regs.ReadReg(inst.RT))
		if err != nil {
			return err
		}
		cr := e.alu.so()
		if ok {
			cr |= CREQ
		}
		regs.SetCRField(0, cr)
		return nil
	case insts.OpDCBZ:
		return e.lsu.ZeroBlock(ea, CacheLineSize)
	case insts.OpDCBF, insts.OpICBI:
		if !e.emulFull {
			return nil
		}
		_, err := e.translateData(ea, false)
		return err
	}

	return exception.MustEvent(exception.Program, exception.Unimplemented)
}

// load reads size bytes at ea into rt.
func (e *E500) load(rt uint8, ea uint64, size int) error {
	v, err := e.lsu.Load(ea, size)
	if err != nil {
		return err
	}
	e.regs.WriteReg(rt, v)
	return nil
}

// updateBase writes the effective address back for lwzu and stwu once the
// access has succeeded.
func (e *E500) updateBase(inst *insts.Instruction, ea uint64) {
	switch inst.Op {
	case insts.OpLWZU, insts.OpSTWU:
		e.regs.WriteReg(inst.RA, ea)
	}
}

// InvalidateTLB drops translation entries matching sel on this core, or on
// every core of its domain when it has one.
func (c *Core) InvalidateTLB(sel tlb.Selector) int {
	if c.domain != nil {
		return c.domain.Broadcast(sel)
	}
	return c.translator.Invalidate(sel)
}
