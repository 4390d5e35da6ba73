package emu

import "math/bits"

// CR field bits.
const (
	CRLT uint8 = 8
	CRGT uint8 = 4
	CREQ uint8 = 2
	CRSO uint8 = 1
)

// ALU implements PowerPC fixed-point arithmetic and logic operations.
type ALU struct {
	regFile *RegFile
	wide    func() bool
}

// NewALU creates a new ALU connected to the given register file. wide
// reports whether the core computes in 64-bit mode.
func NewALU(regFile *RegFile, wide func() bool) *ALU {
	return &ALU{regFile: regFile, wide: wide}
}

func (a *ALU) write(reg uint8, v uint64) {
	if !a.wide() {
		v &= 0xFFFFFFFF
	}
	a.regFile.WriteReg(reg, v)
}

func (a *ALU) signed(v uint64) int64 {
	if a.wide() {
		return int64(v)
	}
	return int64(int32(v))
}

// record sets CR0 from v compared against zero.
func (a *ALU) record(v uint64) {
	a.regFile.SetCRField(0, a.compareBits(a.signed(v), 0)|a.so())
}

func (a *ALU) so() uint8 {
	if a.regFile.XER&XERSO != 0 {
		return CRSO
	}
	return 0
}

func (a *ALU) compareBits(x, y int64) uint8 {
	switch {
	case x < y:
		return CRLT
	case x > y:
		return CRGT
	}
	return CREQ
}

func (a *ALU) setOverflow(ov bool) {
	if ov {
		a.regFile.XER |= XEROV | XERSO
	} else {
		a.regFile.XER &^= XEROV
	}
}

func (a *ALU) setCarry(ca bool) {
	if ca {
		a.regFile.XER |= XERCA
	} else {
		a.regFile.XER &^= XERCA
	}
}

// addOverflow reports signed overflow of x+y=sum in the current width.
func (a *ALU) addOverflow(x, y, sum uint64) bool {
	sign := uint64(1) << 31
	if a.wide() {
		sign = 1 << 63
	}
	return (x^sum)&(y^sum)&sign != 0
}

// ADDI computes rt = (ra|0) + imm.
func (a *ALU) ADDI(rt, ra uint8, imm int64) {
	a.write(rt, a.regFile.ReadRegOrZero(ra)+uint64(imm))
}

// ADDIS computes rt = (ra|0) + imm<<16.
func (a *ALU) ADDIS(rt, ra uint8, imm int64) {
	a.write(rt, a.regFile.ReadRegOrZero(ra)+uint64(imm<<16))
}

// ADDIC computes rt = ra + imm and sets XER[CA].
func (a *ALU) ADDIC(rt, ra uint8, imm int64) {
	x := a.regFile.ReadReg(ra)
	sum := x + uint64(imm)
	if a.wide() {
		a.setCarry(sum < x)
	} else {
		a.setCarry(uint32(sum) < uint32(x))
	}
	a.write(rt, sum)
}

// MULLI computes rt = ra * imm.
func (a *ALU) MULLI(rt, ra uint8, imm int64) {
	a.write(rt, uint64(a.signed(a.regFile.ReadReg(ra))*imm))
}

// ORI computes ra = rs | ui, or with ui<<16 when shifted.
func (a *ALU) ORI(ra, rs uint8, ui uint64, shifted bool) {
	if shifted {
		ui <<= 16
	}
	a.write(ra, a.regFile.ReadReg(rs)|ui)
}

// XORI computes ra = rs ^ ui.
func (a *ALU) XORI(ra, rs uint8, ui uint64) {
	a.write(ra, a.regFile.ReadReg(rs)^ui)
}

// ANDIdot computes ra = rs & ui and always records CR0.
func (a *ALU) ANDIdot(ra, rs uint8, ui uint64) {
	v := a.regFile.ReadReg(rs) & ui
	a.write(ra, v)
	a.record(v)
}

// Compare sets CR field crf from x compared with y. l selects a 64-bit
// comparison; otherwise the low words are compared.
func (a *ALU) Compare(crf uint8, l bool, x, y uint64, signed bool) {
	var bitsOut uint8
	switch {
	case signed && l:
		bitsOut = a.compareBits(int64(x), int64(y))
	case signed:
		bitsOut = a.compareBits(int64(int32(x)), int64(int32(y)))
	default:
		if !l {
			x, y = x&0xFFFFFFFF, y&0xFFFFFFFF
		}
		switch {
		case x < y:
			bitsOut = CRLT
		case x > y:
			bitsOut = CRGT
		default:
			bitsOut = CREQ
		}
	}
	a.regFile.SetCRField(crf, bitsOut|a.so())
}

// Trap evaluates a tw/twi condition on the low words of x and y.
func (a *ALU) Trap(to uint8, x, y uint64) bool {
	sx, sy := int32(x), int32(y)
	ux, uy := uint32(x), uint32(y)
	return (to&16 != 0 && sx < sy) ||
		(to&8 != 0 && sx > sy) ||
		(to&4 != 0 && sx == sy) ||
		(to&2 != 0 && ux < uy) ||
		(to&1 != 0 && ux > uy)
}

// RLWINM rotates the low word of rs left by sh and ANDs it with the mask
// from mb to me.
func (a *ALU) RLWINM(ra, rs, sh, mb, me uint8, rc bool) {
	rot := bits.RotateLeft32(uint32(a.regFile.ReadReg(rs)), int(sh))
	v := uint64(rot & mask32(mb, me))
	a.write(ra, v)
	if rc {
		a.record(v)
	}
}

// mask32 builds a mask with ones from big-endian bit mb to me, wrapping
// when mb > me.
func mask32(mb, me uint8) uint32 {
	start := uint32(0xFFFFFFFF) >> mb
	end := uint32(0xFFFFFFFF) << (31 - me)
	if mb <= me {
		return start & end
	}
	return start | end
}

// Arith computes one of the XO-form operations.
func (a *ALU) Arith(op string, rt, ra, rb uint8, oe, rc bool) {
	x := a.regFile.ReadReg(ra)
	y := a.regFile.ReadReg(rb)

	var v uint64
	var ov bool
	switch op {
	case "add":
		v = x + y
		ov = a.addOverflow(x, y, v)
	case "subf":
		v = y - x
		ov = a.addOverflow(^x, y, v)
	case "neg":
		v = -x
		ov = a.signed(x) == a.signed(minSigned(a.wide()))
	case "mullw":
		p := int64(int32(x)) * int64(int32(y))
		v = uint64(p)
		ov = p != int64(int32(p))
	case "divw":
		n, d := int32(x), int32(y)
		if d == 0 || (n == -1<<31 && d == -1) {
			ov = true
		} else {
			v = uint64(uint32(n / d))
		}
	case "divwu":
		n, d := uint32(x), uint32(y)
		if d == 0 {
			ov = true
		} else {
			v = uint64(n / d)
		}
	}

	a.write(rt, v)
	if oe {
		a.setOverflow(ov)
	}
	if rc {
		a.record(v)
	}
}

func minSigned(wide bool) uint64 {
	if wide {
		return 1 << 63
	}
	return 1 << 31
}

// Logical computes one of the X-form logical and shift operations with ra
// as the destination.
func (a *ALU) Logical(op string, ra, rs, rb uint8, rc bool) {
	x := a.regFile.ReadReg(rs)
	y := a.regFile.ReadReg(rb)

	var v uint64
	switch op {
	case "and":
		v = x & y
	case "or":
		v = x | y
	case "xor":
		v = x ^ y
	case "slw":
		if n := y & 0x3F; n < 32 {
			v = uint64(uint32(x) << n)
		}
	case "srw":
		if n := y & 0x3F; n < 32 {
			v = uint64(uint32(x) >> n)
		}
	}

	a.write(ra, v)
	if rc {
		a.record(v)
	}
}
