// Package insts provides PowerPC instruction definitions and decoding.
package insts

import (
	"errors"
	"fmt"
	"strings"
)

// MaxOperands is the largest number of operand fields an instruction has.
const MaxOperands = 6

// Instruction represents a decoded PowerPC instruction.
type Instruction struct {
	Op   Op     // Operation
	Word uint32 // Encoded word

	// Register fields. RT doubles as RS for stores and logical ops, and as
	// FRT for floating-point loads and stores.
	RT uint8
	RA uint8
	RB uint8

	// Imm holds SI (sign-extended), UI or D, and the E bit of wrteei.
	Imm int64

	CRF uint8 // Condition register field for compares
	L   uint8 // Compare length bit
	TO  uint8 // Trap condition

	// Branch fields
	BO     uint8
	BI     uint8
	Target int64 // Signed displacement in bytes, or absolute when AA
	AA     bool  // Absolute address
	LK     bool  // Set LR

	// Rotate fields
	SH uint8
	MB uint8
	ME uint8

	SPR uint16 // Special-purpose register number
	FXM uint8  // CR field mask for mtcrf

	Rc bool // Record to CR0
	OE bool // Record overflow
}

// Mnemonic returns the mnemonic including the record, link and absolute
// suffixes.
func (i *Instruction) Mnemonic() string {
	info := ops[OpUnknown]
	if i.Op < numOps {
		info = ops[i.Op]
	}

	var b strings.Builder
	b.WriteString(info.name)
	if info.lk && i.LK {
		b.WriteByte('l')
	}
	if info.aa && i.AA {
		b.WriteByte('a')
	}
	if info.rc && i.Rc {
		b.WriteByte('.')
	}
	return b.String()
}

// Privileged reports whether executing the instruction needs supervisor
// state. Moves to and from SPRs with bit 4 of the number set are
// privileged.
func (i *Instruction) Privileged() bool {
	switch i.Op {
	case OpMFSPR, OpMTSPR:
		return i.SPR&0x10 != 0
	}
	return i.Op.Privileged()
}

// Operands returns the operand fields in assembler order. There are never
// more than MaxOperands.
func (i *Instruction) Operands() []int64 {
	if i.Op >= numOps {
		return nil
	}

	var out []int64
	for _, field := range ops[i.Op].syntax {
		switch field {
		case "d(ra)":
			out = append(out, i.Imm, int64(i.RA))
		default:
			out = append(out, i.field(field))
		}
	}
	return out
}

func (i *Instruction) field(name string) int64 {
	switch name {
	case "rt", "rs", "frt":
		return int64(i.RT)
	case "ra":
		return int64(i.RA)
	case "rb":
		return int64(i.RB)
	case "si", "ui", "e":
		return i.Imm
	case "crf":
		return int64(i.CRF)
	case "l":
		return int64(i.L)
	case "to":
		return int64(i.TO)
	case "li", "bd":
		return i.Target
	case "bo":
		return int64(i.BO)
	case "bi":
		return int64(i.BI)
	case "sh":
		return int64(i.SH)
	case "mb":
		return int64(i.MB)
	case "me":
		return int64(i.ME)
	case "spr":
		return int64(i.SPR)
	case "fxm":
		return int64(i.FXM)
	}
	return 0
}

// String returns the instruction in the syntax Assemble accepts.
func (i *Instruction) String() string {
	if i.Op == OpUnknown || i.Op >= numOps {
		return fmt.Sprintf(".long 0x%08X", i.Word)
	}

	syntax := ops[i.Op].syntax
	if len(syntax) == 0 {
		return i.Mnemonic()
	}

	parts := make([]string, 0, len(syntax))
	for _, field := range syntax {
		switch field {
		case "rt", "rs", "ra", "rb":
			parts = append(parts, fmt.Sprintf("r%d", i.field(field)))
		case "frt":
			parts = append(parts, fmt.Sprintf("f%d", i.RT))
		case "crf":
			parts = append(parts, fmt.Sprintf("cr%d", i.CRF))
		case "d(ra)":
			parts = append(parts, fmt.Sprintf("%d(r%d)", i.Imm, i.RA))
		default:
			parts = append(parts, fmt.Sprintf("%d", i.field(field)))
		}
	}

	return i.Mnemonic() + " " + strings.Join(parts, ",")
}

// ErrIllegal is returned for words that do not decode to a supported
// instruction of the selected profile.
var ErrIllegal = errors.New("illegal instruction")

// Decoder decodes PowerPC machine code into instructions.
type Decoder struct {
	profile Profile
}

// NewDecoder creates a decoder for profile.
func NewDecoder(profile Profile) *Decoder {
	return &Decoder{profile: profile}
}

// Profile returns the target profile.
func (d *Decoder) Profile() Profile {
	return d.profile
}

// Decode decodes one 32-bit instruction word.
func (d *Decoder) Decode(word uint32) (*Instruction, error) {
	inst := decodeWord(word)
	if inst.Op == OpUnknown {
		return inst, fmt.Errorf("%w: 0x%08X", ErrIllegal, word)
	}

	if need := inst.Op.Extension(); !d.profile.Ext.Has(need) {
		return inst, fmt.Errorf("%w: %s not available on %s",
			ErrIllegal, inst.Op, d.profile.Name)
	}

	return inst, nil
}

var (
	byPrimary = map[uint32]Op{}
	byXL      = map[uint32]Op{}
	byX       = map[uint32]Op{}
	byXO      = map[uint32]Op{}
	byEVX     = map[uint32]Op{}
)

func init() {
	for op := OpUnknown + 1; op < numOps; op++ {
		info := ops[op]
		switch info.layout {
		case layoutD, layoutI, layoutB, layoutM, layoutSC:
			byPrimary[info.primary] = op
		case layoutXL:
			byXL[info.xo] = op
		case layoutX, layoutXFX:
			byX[info.xo] = op
		case layoutXO:
			byXO[info.xo] = op
		case layoutEVX:
			byEVX[info.xo] = op
		}
	}
}

func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

func decodeWord(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Word: word}

	primary := word >> 26
	switch primary {
	case 19:
		op, ok := byXL[(word>>1)&0x3FF]
		if !ok {
			return inst
		}
		inst.Op = op
	case 31:
		xo := (word >> 1) & 0x3FF
		if op, ok := byX[xo]; ok {
			inst.Op = op
		} else if op, ok := byXO[xo&0x1FF]; ok {
			inst.Op = op
		} else {
			return inst
		}
	case 4:
		op, ok := byEVX[word&0x7FF]
		if !ok {
			return inst
		}
		inst.Op = op
	default:
		op, ok := byPrimary[primary]
		if !ok {
			return inst
		}
		inst.Op = op
	}

	decodeFields(inst)

	if inst.Op == OpSC && word != 0x44000002 {
		inst.Op = OpUnknown
	}

	return inst
}

func decodeFields(inst *Instruction) {
	word := inst.Word
	info := ops[inst.Op]

	rt := uint8((word >> 21) & 0x1F)
	ra := uint8((word >> 16) & 0x1F)
	rb := uint8((word >> 11) & 0x1F)

	switch info.layout {
	case layoutD:
		inst.RT, inst.RA = rt, ra
		switch inst.Op {
		case OpORI, OpORIS, OpXORI, OpANDIdot, OpCMPLI:
			inst.Imm = int64(word & 0xFFFF)
		default:
			inst.Imm = signExtend(word&0xFFFF, 16)
		}
		if inst.Op == OpCMPI || inst.Op == OpCMPLI {
			inst.CRF, inst.L = rt>>2, rt&1
		}
		if inst.Op == OpTWI {
			inst.TO = rt
		}
	case layoutI:
		inst.Target = signExtend(word&0x03FFFFFC, 26)
		inst.AA = word&2 != 0
		inst.LK = word&1 != 0
	case layoutB:
		inst.BO, inst.BI = rt, ra
		inst.Target = signExtend(word&0xFFFC, 16)
		inst.AA = word&2 != 0
		inst.LK = word&1 != 0
	case layoutXL:
		inst.BO, inst.BI = rt, ra
		inst.LK = word&1 != 0
	case layoutM:
		inst.RT, inst.RA = rt, ra
		inst.SH = rb
		inst.MB = uint8((word >> 6) & 0x1F)
		inst.ME = uint8((word >> 1) & 0x1F)
		inst.Rc = word&1 != 0
	case layoutX:
		inst.RT, inst.RA, inst.RB = rt, ra, rb
		inst.Rc = word&1 != 0
		switch inst.Op {
		case OpCMP, OpCMPL:
			inst.CRF, inst.L = rt>>2, rt&1
		case OpTW:
			inst.TO = rt
		case OpWRTEEI:
			inst.Imm = int64((word >> 15) & 1)
		case OpMTCRF:
			inst.FXM = uint8((word >> 12) & 0xFF)
		}
	case layoutXO:
		inst.RT, inst.RA, inst.RB = rt, ra, rb
		inst.OE = word&(1<<10) != 0
		inst.Rc = word&1 != 0
	case layoutXFX:
		inst.RT = rt
		inst.SPR = uint16(ra) | uint16(rb)<<5
	case layoutEVX:
		inst.RT, inst.RA, inst.RB = rt, ra, rb
	}
}
