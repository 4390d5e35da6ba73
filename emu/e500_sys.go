package emu

import (
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

// Doorbell message fields of the msgsnd operand.
const (
	msgTypeShift = 27
	msgTypeMask  = 0x1F
	msgBroadcast = 1 << 26
	msgTagMask   = 0x3FFF

	msgDoorbell         = 0
	msgDoorbellCritical = 1
)

// tlbivaxAll is the EA bit that makes tlbivax invalidate every entry.
const tlbivaxAll = 0x4

func (e *E500) executeBranch(inst *insts.Instruction) error {
	pc := e.regs.PC
	bu := e.branchUnit

	switch inst.Op {
	case insts.OpB:
		target := bu.Relative(pc, inst.Target, inst.AA)
		if inst.LK {
			bu.Link(pc)
		}
		e.SetNextPC(target)
	case insts.OpBC:
		target := bu.Relative(pc, inst.Target, inst.AA)
		taken := bu.Condition(inst.BO, inst.BI)
		if inst.LK {
			bu.Link(pc)
		}
		if taken {
			e.SetNextPC(target)
		}
	case insts.OpBCLR:
		target := bu.ToLR()
		taken := bu.Condition(inst.BO, inst.BI)
		if inst.LK {
			bu.Link(pc)
		}
		if taken {
			e.SetNextPC(target)
		}
	case insts.OpBCCTR:
		// Decrementing CTR while branching to it is an invalid form.
		if inst.BO&boNoCTR == 0 {
			return exception.MustEvent(exception.Program, exception.Illegal)
		}
		target := bu.ToCTR()
		taken := bu.Condition(inst.BO, inst.BI)
		if inst.LK {
			bu.Link(pc)
		}
		if taken {
			e.SetNextPC(target)
		}
	}

	return nil
}

func (e *E500) executeSystem(inst *insts.Instruction) error {
	regs := e.regs

	switch inst.Op {
	case insts.OpSC:
		if e.emulFull {
			return exception.MustEvent(exception.Syscall, 0)
		}
		return e.hostSyscall()
	case insts.OpRFI:
		e.returnFrom(regs.SRR0, regs.SRR1)
	case insts.OpRFCI:
		e.returnFrom(regs.CSRR0, regs.CSRR1)
	case insts.OpRFMCI:
		e.returnFrom(regs.MCSRR0, regs.MCSRR1)
	case insts.OpISYNC, insts.OpSYNC, insts.OpTLBSYNC:
	case insts.OpMFSPR:
		v, ok := regs.ReadSPR(inst.SPR)
		if !ok {
			return exception.MustEvent(exception.Program, exception.Illegal)
		}
		regs.WriteReg(inst.RT, v)
	case insts.OpMTSPR:
		if !regs.WriteSPR(inst.SPR, regs.ReadReg(inst.RT)) {
			return exception.MustEvent(exception.Program, exception.Illegal)
		}
	case insts.OpMFMSR:
		regs.WriteReg(inst.RT, regs.MSR)
	case insts.OpMTMSR:
		v := regs.ReadReg(inst.RT)
		if e.bits == 32 {
			v &= 0xFFFFFFFF
		}
		regs.MSR = v
	case insts.OpWRTEEI:
		if inst.Imm != 0 {
			regs.MSR |= MSREE
		} else {
			regs.MSR &^= MSREE
		}
	case insts.OpTLBIVAX:
		e.tlbivax(e.maskAddr(regs.ReadRegOrZero(inst.RA) + regs.ReadReg(inst.RB)))
	case insts.OpMSGSND:
		e.msgsnd(regs.ReadReg(inst.RB))
	case insts.OpMSGCLR:
		if kind, ok := doorbellKind(regs.ReadReg(inst.RB)); ok {
			e.pending.Cancel(kind)
		}
	}

	return nil
}

// returnFrom restores the state saved by an exception delivery.
func (e *E500) returnFrom(srr0, srr1 uint64) {
	e.regs.MSR = srr1
	e.level = LevelNone
	e.SetNextPC(srr0 &^ 3)
}

// hostSyscall serves sc on the host in partial emulation.
func (e *E500) hostSyscall() error {
	res := e.syscalls.Handle()
	if res.Exited {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

func (e *E500) tlbivax(ea uint64) {
	sel := tlb.Selector{Flags: tlb.ByVirt, Virt: ea}
	if ea&tlbivaxAll != 0 {
		sel = tlb.Selector{Flags: tlb.All}
	}

	n := e.InvalidateTLB(sel)
	e.log.WithField("entries", n).Debug("tlbivax")
}

func doorbellKind(rb uint64) (exception.Kind, bool) {
	switch (rb >> msgTypeShift) & msgTypeMask {
	case msgDoorbell:
		return exception.Doorbell, true
	case msgDoorbellCritical:
		return exception.DoorbellCritical, true
	}
	return 0, false
}

// msgsnd posts a doorbell to every registered core whose thread id matches
// the tag, or to all of them when the broadcast bit is set. It runs on the
// sender's goroutine, so it never touches another core's registers.
func (e *E500) msgsnd(rb uint64) {
	kind, ok := doorbellKind(rb)
	if !ok {
		return
	}

	broadcast := rb&msgBroadcast != 0
	tag := rb & msgTagMask
	for _, c := range e.registry.Cores() {
		if broadcast || c.ThreadID() == tag {
			c.Post(exception.MustEvent(kind, 0))
		}
	}
}
