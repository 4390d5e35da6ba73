package emu

// BO field bits, numbered as in the architecture's BO0..BO4.
const (
	boIgnoreCond uint8 = 16 // BO0: do not test the CR bit
	boCondTrue   uint8 = 8  // BO1: branch if the CR bit is set
	boNoCTR      uint8 = 4  // BO2: do not decrement CTR
	boCTRZero    uint8 = 2  // BO3: branch if CTR reaches zero
)

// BranchUnit implements PowerPC branch operations. Branches do not write
// the PC directly; they return the target for the core to commit.
type BranchUnit struct {
	regFile *RegFile
	wide    func() bool
}

// NewBranchUnit creates a new BranchUnit connected to the given register
// file. wide reports whether the core is in 64-bit mode.
func NewBranchUnit(regFile *RegFile, wide func() bool) *BranchUnit {
	return &BranchUnit{regFile: regFile, wide: wide}
}

// Condition evaluates BO and BI, decrementing CTR when BO asks for it.
func (b *BranchUnit) Condition(bo, bi uint8) bool {
	ctrOK := true
	if bo&boNoCTR == 0 {
		b.regFile.CTR--
		ctr := b.regFile.CTR
		if !b.wide() {
			ctr &= 0xFFFFFFFF
		}
		ctrOK = (ctr == 0) == (bo&boCTRZero != 0)
	}

	condOK := bo&boIgnoreCond != 0 || b.regFile.CRBit(bi) == (bo&boCondTrue != 0)
	return ctrOK && condOK
}

// Relative returns the target of an I- or B-form branch at pc.
func (b *BranchUnit) Relative(pc uint64, disp int64, absolute bool) uint64 {
	if absolute {
		return uint64(disp)
	}
	return uint64(int64(pc) + disp)
}

// Link saves the return address in LR.
func (b *BranchUnit) Link(pc uint64) {
	b.regFile.LR = pc + 4
}

// ToLR returns the target of bclr.
func (b *BranchUnit) ToLR() uint64 {
	return b.regFile.LR &^ 3
}

// ToCTR returns the target of bcctr.
func (b *BranchUnit) ToCTR() uint64 {
	return b.regFile.CTR &^ 3
}
