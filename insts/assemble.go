package insts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned for text the assembler cannot parse.
var ErrSyntax = errors.New("syntax error")

// form is one accepted spelling of an operation.
type form struct {
	op     Op
	lk, aa bool
	rc     bool
}

var forms = map[string]form{}

func init() {
	for op := OpUnknown + 1; op < numOps; op++ {
		info := ops[op]
		forms[info.name] = form{op: op}
		if info.lk {
			forms[info.name+"l"] = form{op: op, lk: true}
		}
		if info.aa {
			forms[info.name+"a"] = form{op: op, aa: true}
			forms[info.name+"la"] = form{op: op, lk: true, aa: true}
		}
		if info.rc {
			forms[info.name+"."] = form{op: op, rc: true}
		}
	}
}

// alias rewrites an extended mnemonic into its base form.
type alias func(args []string) (string, []string, error)

// condition branch aliases: BO and the CR bit within a field.
var condBranches = map[string]struct {
	bo  int
	bit int
}{
	"blt": {12, 0},
	"bgt": {12, 1},
	"beq": {12, 2},
	"bge": {4, 0},
	"ble": {4, 1},
	"bne": {4, 2},
}

var aliases = map[string]alias{
	"nop": fixed("ori", "0", "0", "0"),
	"li": func(args []string) (string, []string, error) {
		if len(args) != 2 {
			return "", nil, arity("li", 2, len(args))
		}
		return "addi", []string{args[0], "0", args[1]}, nil
	},
	"lis": func(args []string) (string, []string, error) {
		if len(args) != 2 {
			return "", nil, arity("lis", 2, len(args))
		}
		return "addis", []string{args[0], "0", args[1]}, nil
	},
	"mr":    mr("or"),
	"mr.":   mr("or."),
	"blr":   fixed("bclr", "20", "0"),
	"blrl":  fixed("bclrl", "20", "0"),
	"bctr":  fixed("bcctr", "20", "0"),
	"bctrl": fixed("bcctrl", "20", "0"),
	"bdnz": func(args []string) (string, []string, error) {
		if len(args) != 1 {
			return "", nil, arity("bdnz", 1, len(args))
		}
		return "bc", []string{"16", "0", args[0]}, nil
	},
	"cmpwi":  compare("cmpi"),
	"cmpw":   compare("cmp"),
	"cmplwi": compare("cmpli"),
	"cmplw":  compare("cmpl"),
	"mflr":   moveFrom("lr"),
	"mfctr":  moveFrom("ctr"),
	"mtlr":   moveTo("lr"),
	"mtctr":  moveTo("ctr"),
	"trap":   fixed("tw", "31", "0", "0"),
	"slwi": func(args []string) (string, []string, error) {
		if len(args) != 3 {
			return "", nil, arity("slwi", 3, len(args))
		}
		n, err := parseInt(args[2])
		if err != nil || n < 0 || n > 31 {
			return "", nil, fmt.Errorf("%w: bad shift %q", ErrSyntax, args[2])
		}
		return "rlwinm", []string{args[0], args[1], args[2], "0", strconv.Itoa(int(31 - n))}, nil
	},
	"srwi": func(args []string) (string, []string, error) {
		if len(args) != 3 {
			return "", nil, arity("srwi", 3, len(args))
		}
		n, err := parseInt(args[2])
		if err != nil || n < 0 || n > 31 {
			return "", nil, fmt.Errorf("%w: bad shift %q", ErrSyntax, args[2])
		}
		return "rlwinm", []string{args[0], args[1], strconv.Itoa(int((32 - n) % 32)), args[2], "31"}, nil
	},
}

func init() {
	for name, cb := range condBranches {
		cb := cb
		aliases[name] = func(args []string) (string, []string, error) {
			cr := "cr0"
			switch len(args) {
			case 1:
			case 2:
				cr, args = args[0], args[1:]
			default:
				return "", nil, fmt.Errorf("%w: expected [crN,]target", ErrSyntax)
			}
			n, err := parseCRField(cr)
			if err != nil {
				return "", nil, err
			}
			bi := strconv.Itoa(int(n)*4 + cb.bit)
			return "bc", []string{strconv.Itoa(cb.bo), bi, args[0]}, nil
		}
	}
}

func fixed(name string, operands ...string) alias {
	return func(args []string) (string, []string, error) {
		if len(args) != 0 {
			return "", nil, fmt.Errorf("%w: %s takes no operands", ErrSyntax, name)
		}
		return name, operands, nil
	}
}

func mr(base string) alias {
	return func(args []string) (string, []string, error) {
		if len(args) != 2 {
			return "", nil, arity("mr", 2, len(args))
		}
		return base, []string{args[0], args[1], args[1]}, nil
	}
}

func compare(base string) alias {
	return func(args []string) (string, []string, error) {
		switch len(args) {
		case 2:
			return base, []string{"cr0", "0", args[0], args[1]}, nil
		case 3:
			return base, []string{args[0], "0", args[1], args[2]}, nil
		}
		return "", nil, fmt.Errorf("%w: expected [crN,]ra,operand", ErrSyntax)
	}
}

func moveFrom(spr string) alias {
	return func(args []string) (string, []string, error) {
		if len(args) != 1 {
			return "", nil, arity("mf"+spr, 1, len(args))
		}
		return "mfspr", []string{args[0], spr}, nil
	}
}

func moveTo(spr string) alias {
	return func(args []string) (string, []string, error) {
		if len(args) != 1 {
			return "", nil, arity("mt"+spr, 1, len(args))
		}
		return "mtspr", []string{spr, args[0]}, nil
	}
}

func arity(name string, want, got int) error {
	return fmt.Errorf("%w: %s takes %d operands, got %d", ErrSyntax, name, want, got)
}

// Parse turns one line of assembler text into an instruction. Word is
// filled in with the encoding.
func Parse(text string) (*Instruction, error) {
	if i := strings.IndexAny(text, "#;"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(strings.ToLower(strings.ReplaceAll(text, "\t", " ")))
	if text == "" {
		return nil, fmt.Errorf("%w: empty instruction", ErrSyntax)
	}

	mnemonic, rest, _ := strings.Cut(text, " ")
	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, a := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	if expand, ok := aliases[mnemonic]; ok {
		var err error
		mnemonic, args, err = expand(args)
		if err != nil {
			return nil, err
		}
	}

	f, ok := forms[mnemonic]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mnemonic %q", ErrSyntax, mnemonic)
	}

	inst := &Instruction{Op: f.op, LK: f.lk, AA: f.aa, Rc: f.rc}
	if f.op == OpSTWCXdot {
		inst.Rc = true
	}

	syntax := ops[f.op].syntax
	if len(args) != len(syntax) {
		return nil, arity(mnemonic, len(syntax), len(args))
	}

	for i, field := range syntax {
		if err := inst.setField(field, args[i]); err != nil {
			return nil, fmt.Errorf("%s operand %d: %w", mnemonic, i+1, err)
		}
	}

	word, err := Encode(inst)
	if err != nil {
		return nil, err
	}
	inst.Word = word

	return inst, nil
}

// Assemble encodes one line of assembler text.
func Assemble(text string) (uint32, error) {
	inst, err := Parse(text)
	if err != nil {
		return 0, err
	}
	return inst.Word, nil
}

// MustAssemble is Assemble for text known to be valid.
func MustAssemble(text string) uint32 {
	word, err := Assemble(text)
	if err != nil {
		panic(err)
	}
	return word
}

func (i *Instruction) setField(field, arg string) error {
	switch field {
	case "rt", "rs":
		r, err := parseReg(arg, "r")
		i.RT = r
		return err
	case "frt":
		r, err := parseReg(arg, "f")
		i.RT = r
		return err
	case "ra":
		r, err := parseReg(arg, "r")
		i.RA = r
		return err
	case "rb":
		r, err := parseReg(arg, "r")
		i.RB = r
		return err
	case "d(ra)":
		open := strings.IndexByte(arg, '(')
		if open < 0 || !strings.HasSuffix(arg, ")") {
			return fmt.Errorf("%w: expected d(ra), got %q", ErrSyntax, arg)
		}
		d, err := parseRange(arg[:open], -0x8000, 0x7FFF)
		if err != nil {
			return err
		}
		r, err := parseReg(arg[open+1:len(arg)-1], "r")
		i.Imm, i.RA = d, r
		return err
	case "si":
		v, err := parseRange(arg, -0x8000, 0xFFFF)
		i.Imm = signExtend(uint32(v)&0xFFFF, 16)
		return err
	case "ui":
		v, err := parseRange(arg, 0, 0xFFFF)
		i.Imm = v
		return err
	case "e":
		v, err := parseRange(arg, 0, 1)
		i.Imm = v
		return err
	case "crf":
		n, err := parseCRField(arg)
		i.CRF = n
		return err
	case "l":
		v, err := parseRange(arg, 0, 1)
		i.L = uint8(v)
		return err
	case "to":
		v, err := parseRange(arg, 0, 31)
		i.TO = uint8(v)
		return err
	case "li":
		v, err := parseRange(arg, -1<<25, 1<<25-4)
		if err == nil && v&3 != 0 {
			err = fmt.Errorf("%w: branch offset %d is not word aligned", ErrSyntax, v)
		}
		i.Target = v
		return err
	case "bd":
		v, err := parseRange(arg, -0x8000, 0x7FFC)
		if err == nil && v&3 != 0 {
			err = fmt.Errorf("%w: branch offset %d is not word aligned", ErrSyntax, v)
		}
		i.Target = v
		return err
	case "bo":
		v, err := parseRange(arg, 0, 31)
		i.BO = uint8(v)
		return err
	case "bi":
		v, err := parseRange(arg, 0, 31)
		i.BI = uint8(v)
		return err
	case "sh":
		v, err := parseRange(arg, 0, 31)
		i.SH = uint8(v)
		return err
	case "mb":
		v, err := parseRange(arg, 0, 31)
		i.MB = uint8(v)
		return err
	case "me":
		v, err := parseRange(arg, 0, 31)
		i.ME = uint8(v)
		return err
	case "spr":
		if n, ok := SPRByName(arg); ok {
			i.SPR = n
			return nil
		}
		v, err := parseRange(arg, 0, 1023)
		i.SPR = uint16(v)
		return err
	case "fxm":
		v, err := parseRange(arg, 0, 0xFF)
		i.FXM = uint8(v)
		return err
	}
	return fmt.Errorf("%w: unknown operand kind %s", ErrSyntax, field)
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, s)
	}
	return v, nil
}

func parseRange(s string, lo, hi int64) (int64, error) {
	v, err := parseInt(s)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %d out of range [%d, %d]", ErrSyntax, v, lo, hi)
	}
	return v, nil
}

func parseReg(s, prefix string) (uint8, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), prefix)
	v, err := parseRange(s, 0, 31)
	return uint8(v), err
}

func parseCRField(s string) (uint8, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "cr")
	v, err := parseRange(s, 0, 7)
	return uint8(v), err
}

// Encode builds the machine word for inst.
func Encode(inst *Instruction) (uint32, error) {
	if inst.Op == OpUnknown || inst.Op >= numOps {
		return 0, fmt.Errorf("%w: cannot encode %s", ErrIllegal, inst.Op)
	}
	if inst.RT > 31 || inst.RA > 31 || inst.RB > 31 {
		return 0, fmt.Errorf("%w: register out of range", ErrSyntax)
	}

	info := ops[inst.Op]
	rt := uint32(inst.RT)
	ra := uint32(inst.RA)
	rb := uint32(inst.RB)
	word := info.primary << 26

	switch info.layout {
	case layoutD:
		switch inst.Op {
		case OpCMPI, OpCMPLI:
			rt = uint32(inst.CRF)<<2 | uint32(inst.L&1)
		case OpTWI:
			rt = uint32(inst.TO)
		}
		word |= rt<<21 | ra<<16 | uint32(inst.Imm)&0xFFFF
	case layoutI:
		word |= uint32(inst.Target) & 0x03FFFFFC
		word |= flag(inst.AA) << 1
		word |= flag(inst.LK)
	case layoutB:
		word |= uint32(inst.BO&0x1F)<<21 | uint32(inst.BI&0x1F)<<16
		word |= uint32(inst.Target) & 0xFFFC
		word |= flag(inst.AA) << 1
		word |= flag(inst.LK)
	case layoutXL:
		word |= uint32(inst.BO&0x1F)<<21 | uint32(inst.BI&0x1F)<<16
		word |= info.xo << 1
		word |= flag(inst.LK)
	case layoutSC:
		word |= 2
	case layoutM:
		word |= rt<<21 | ra<<16
		word |= uint32(inst.SH&0x1F)<<11 | uint32(inst.MB&0x1F)<<6 | uint32(inst.ME&0x1F)<<1
		word |= flag(inst.Rc)
	case layoutX:
		switch inst.Op {
		case OpCMP, OpCMPL:
			rt = uint32(inst.CRF)<<2 | uint32(inst.L&1)
		case OpTW:
			rt = uint32(inst.TO)
		}
		word |= rt<<21 | ra<<16 | rb<<11 | info.xo<<1
		switch inst.Op {
		case OpWRTEEI:
			word |= uint32(inst.Imm&1) << 15
		case OpMTCRF:
			word |= uint32(inst.FXM) << 12
		}
		if inst.Rc || inst.Op == OpSTWCXdot {
			word |= 1
		}
	case layoutXO:
		word |= rt<<21 | ra<<16 | rb<<11 | info.xo<<1
		word |= flag(inst.OE) << 10
		word |= flag(inst.Rc)
	case layoutXFX:
		spr := uint32(inst.SPR & 0x3FF)
		word |= rt<<21 | (spr&0x1F)<<16 | (spr>>5)<<11 | info.xo<<1
	case layoutEVX:
		word |= rt<<21 | ra<<16 | rb<<11 | info.xo
	}

	return word, nil
}

func flag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
