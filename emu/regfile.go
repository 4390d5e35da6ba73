package emu

import "github.com/sarchlab/ppcsim/insts"

// MSR bits of the Book-E machine state register.
const (
	MSRCM  uint64 = 1 << 31 // 64-bit computation mode
	MSRSPE uint64 = 1 << 25 // SPE available
	MSRCE  uint64 = 1 << 17 // critical interrupts enabled
	MSREE  uint64 = 1 << 15 // external interrupts enabled
	MSRPR  uint64 = 1 << 14 // problem (user) state
	MSRFP  uint64 = 1 << 13 // floating point available
	MSRME  uint64 = 1 << 12 // machine check enabled
	MSRDE  uint64 = 1 << 9  // debug interrupts enabled
	MSRIS  uint64 = 1 << 5  // instruction address space
	MSRDS  uint64 = 1 << 4  // data address space
)

// XER bits.
const (
	XERSO uint64 = 1 << 31
	XEROV uint64 = 1 << 30
	XERCA uint64 = 1 << 29
)

// ESR bits written on program, storage and alignment interrupts.
const (
	ESRPIL uint64 = 1 << 27 // illegal instruction
	ESRPPR uint64 = 1 << 26 // privileged instruction
	ESRPTR uint64 = 1 << 25 // trap
	ESRFP  uint64 = 1 << 24 // floating point
	ESRST  uint64 = 1 << 23 // store
	ESRDLK uint64 = 1 << 21 // cache locking
	ESRBO  uint64 = 1 << 17 // byte ordering
	ESRPUO uint64 = 1 << 15 // unimplemented operation
	ESRSPV uint64 = 1 << 7  // SPE operation
)

// NumIVORs is the size of the IVOR bank; IVOR0-15 and IVOR32-37 are used.
const NumIVORs = 38

// RegFile holds the architected state of one PowerPC hardware thread.
type RegFile struct {
	// GPR holds the general-purpose registers. In 32-bit mode only the low
	// word is significant.
	GPR [32]uint64
	// EVH holds the upper halves of the SPE 64-bit registers.
	EVH [32]uint32
	// FPR holds floating-point registers as raw bits.
	FPR [32]uint64

	PC  uint64
	LR  uint64
	CTR uint64
	XER uint64
	CR  uint32
	MSR uint64

	// Save/restore pairs for base, critical and machine check levels.
	SRR0, SRR1     uint64
	CSRR0, CSRR1   uint64
	MCSRR0, MCSRR1 uint64

	ESR  uint64
	DEAR uint64
	MCSR uint64
	IVPR uint64
	IVOR [NumIVORs]uint64

	SPRG    [4]uint64
	PID     uint64
	PIR     uint64
	PVR     uint64
	DEC     uint64
	DECAR   uint64
	TB      uint64
	TCR     uint64
	TSR     uint64
	SPEFSCR uint64

	// Reservation set by lwarx and consumed by stwcx.
	Reserved    bool
	ReserveAddr uint64
}

// ReadReg reads a GPR.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	return r.GPR[reg&31]
}

// ReadRegOrZero reads rA where an rA of 0 means the value 0, as in
// address computations.
func (r *RegFile) ReadRegOrZero(reg uint8) uint64 {
	if reg == 0 {
		return 0
	}
	return r.GPR[reg&31]
}

// WriteReg writes a GPR.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	r.GPR[reg&31] = value
}

// CRField returns 4-bit field n of CR (0 is the leftmost).
func (r *RegFile) CRField(n uint8) uint8 {
	return uint8(r.CR>>(28-4*uint32(n&7))) & 0xF
}

// SetCRField replaces 4-bit field n of CR.
func (r *RegFile) SetCRField(n uint8, v uint8) {
	shift := 28 - 4*uint32(n&7)
	r.CR = r.CR&^(0xF<<shift) | uint32(v&0xF)<<shift
}

// CRBit returns CR bit bi, numbered from the most significant bit.
func (r *RegFile) CRBit(bi uint8) bool {
	return r.CR&(1<<(31-uint32(bi&31))) != 0
}

// UserMode reports whether the thread is in problem state.
func (r *RegFile) UserMode() bool {
	return r.MSR&MSRPR != 0
}

func ivorIndex(spr uint16) (int, bool) {
	switch {
	case spr >= insts.SPRIVOR0 && spr <= insts.SPRIVOR0+15:
		return int(spr - insts.SPRIVOR0), true
	case spr >= insts.SPRIVOR32 && spr <= insts.SPRIVOR32+3:
		return 32 + int(spr-insts.SPRIVOR32), true
	case spr >= insts.SPRIVOR36 && spr <= insts.SPRIVOR36+1:
		return 36 + int(spr-insts.SPRIVOR36), true
	}
	return 0, false
}

// ReadSPR reads a special-purpose register. The second result is false for
// registers this core does not implement.
func (r *RegFile) ReadSPR(spr uint16) (uint64, bool) {
	if i, ok := ivorIndex(spr); ok {
		return r.IVOR[i], true
	}
	if spr >= insts.SPRSPRG0 && spr <= insts.SPRSPRG3 {
		return r.SPRG[spr-insts.SPRSPRG0], true
	}

	switch spr {
	case insts.SPRXER:
		return r.XER, true
	case insts.SPRLR:
		return r.LR, true
	case insts.SPRCTR:
		return r.CTR, true
	case insts.SPRDEC:
		return r.DEC, true
	case insts.SPRSRR0:
		return r.SRR0, true
	case insts.SPRSRR1:
		return r.SRR1, true
	case insts.SPRPID:
		return r.PID, true
	case insts.SPRDECAR:
		return r.DECAR, true
	case insts.SPRCSRR0:
		return r.CSRR0, true
	case insts.SPRCSRR1:
		return r.CSRR1, true
	case insts.SPRDEAR:
		return r.DEAR, true
	case insts.SPRESR:
		return r.ESR, true
	case insts.SPRIVPR:
		return r.IVPR, true
	case insts.SPRTBL:
		return r.TB & 0xFFFFFFFF, true
	case insts.SPRTBU:
		return r.TB >> 32, true
	case insts.SPRPIR:
		return r.PIR, true
	case insts.SPRPVR:
		return r.PVR, true
	case insts.SPRTSR:
		return r.TSR, true
	case insts.SPRTCR:
		return r.TCR, true
	case insts.SPRSPEFSCR:
		return r.SPEFSCR, true
	case insts.SPRMCSRR0:
		return r.MCSRR0, true
	case insts.SPRMCSRR1:
		return r.MCSRR1, true
	case insts.SPRMCSR:
		return r.MCSR, true
	}
	return 0, false
}

// WriteSPR writes a special-purpose register. Read-only and unknown
// registers return false.
func (r *RegFile) WriteSPR(spr uint16, v uint64) bool {
	if i, ok := ivorIndex(spr); ok {
		// IVORs hold a quadword-aligned offset.
		r.IVOR[i] = v &^ 0xF
		return true
	}
	if spr >= insts.SPRSPRG0 && spr <= insts.SPRSPRG3 {
		r.SPRG[spr-insts.SPRSPRG0] = v
		return true
	}

	switch spr {
	case insts.SPRXER:
		r.XER = v
	case insts.SPRLR:
		r.LR = v
	case insts.SPRCTR:
		r.CTR = v
	case insts.SPRDEC:
		r.DEC = v
	case insts.SPRSRR0:
		r.SRR0 = v
	case insts.SPRSRR1:
		r.SRR1 = v
	case insts.SPRPID:
		r.PID = v
	case insts.SPRDECAR:
		r.DECAR = v
	case insts.SPRCSRR0:
		r.CSRR0 = v
	case insts.SPRCSRR1:
		r.CSRR1 = v
	case insts.SPRDEAR:
		r.DEAR = v
	case insts.SPRESR:
		r.ESR = v
	case insts.SPRIVPR:
		r.IVPR = v &^ 0xFFFF
	case insts.SPRTBLW:
		r.TB = r.TB&^0xFFFFFFFF | v&0xFFFFFFFF
	case insts.SPRTBUW:
		r.TB = r.TB&0xFFFFFFFF | v<<32
	case insts.SPRTSR:
		// Write-one-to-clear.
		r.TSR &^= v
	case insts.SPRTCR:
		r.TCR = v
	case insts.SPRSPEFSCR:
		r.SPEFSCR = v
	case insts.SPRMCSRR0:
		r.MCSRR0 = v
	case insts.SPRMCSRR1:
		r.MCSRR1 = v
	case insts.SPRMCSR:
		r.MCSR &^= v
	default:
		return false
	}
	return true
}
