// Package insts provides PowerPC instruction definitions, decoding and a
// small assembler.
//
// This package turns 32-bit big-endian instruction words into structured
// instructions for the e500 family and back. It supports:
//   - Integer arithmetic, logical, compare, rotate and trap instructions
//   - Loads and stores, indexed forms and the lwarx/stwcx. reservation pair
//   - Branches (I, B and LR/CTR forms), sc and the rfi family
//   - Supervisor instructions: mfspr/mtspr, mfmsr/mtmsr, wrteei, tlbivax,
//     tlbsync, msgsnd/msgclr and cache management
//   - A few FPU (lfd/stfd) and SPE (evaddw/evxor) instructions
//
// Which instructions decode depends on the target profile.
//
// Usage:
//
//	decoder := insts.NewDecoder(insts.MustProfile("e500v2"))
//	inst, err := decoder.Decode(0x38610008) // addi r3,r1,8
//	word, err := insts.Assemble("lwz r4,8(r1)")
package insts

// Op represents a PowerPC operation.
type Op uint8

// PowerPC operations.
const (
	OpUnknown Op = iota

	// D-form
	OpADDI
	OpADDIS
	OpADDIC
	OpMULLI
	OpORI
	OpORIS
	OpXORI
	OpANDIdot
	OpCMPI
	OpCMPLI
	OpTWI
	OpLWZ
	OpLWZU
	OpLBZ
	OpLHZ
	OpSTW
	OpSTWU
	OpSTB
	OpSTH
	OpLFD
	OpSTFD

	// Branches and system linkage
	OpB
	OpBC
	OpBCLR
	OpBCCTR
	OpSC
	OpRFI
	OpRFCI
	OpRFMCI
	OpISYNC

	// M-form
	OpRLWINM

	// XO-form
	OpADD
	OpSUBF
	OpNEG
	OpMULLW
	OpDIVW
	OpDIVWU

	// X-form
	OpAND
	OpOR
	OpXOR
	OpSLW
	OpSRW
	OpCMP
	OpCMPL
	OpTW
	OpLWZX
	OpSTWX
	OpLWARX
	OpSTWCXdot
	OpMFSPR
	OpMTSPR
	OpMFMSR
	OpMTMSR
	OpWRTEEI
	OpMFCR
	OpMTCRF
	OpSYNC
	OpDCBF
	OpDCBZ
	OpICBI
	OpTLBIVAX
	OpTLBSYNC
	OpMSGSND
	OpMSGCLR

	// SPE
	OpEVADDW
	OpEVXOR

	numOps
)

// Extension is a set of instruction-set extensions.
type Extension uint16

// Instruction-set extensions.
const (
	// ExtBookE is the embedded (Book-E) programming model.
	ExtBookE Extension = 1 << iota
	// ExtSPE is the signal processing engine.
	ExtSPE
	// ExtEFPSingle is embedded single-precision floating point.
	ExtEFPSingle
	// ExtEFPDouble is embedded double-precision floating point.
	ExtEFPDouble
	// ExtFPU is the classic floating-point unit.
	ExtFPU
	// ExtAltiVec is the vector unit.
	ExtAltiVec
	// ExtBits64 is 64-bit computation mode.
	ExtBits64
	// ExtDoorbell is msgsnd/msgclr processor signalling.
	ExtDoorbell
)

// Has reports whether every extension of want is in e.
func (e Extension) Has(want Extension) bool {
	return e&want == want
}

// layout tells how an operation's fields sit in the word.
type layout uint8

const (
	layoutD layout = iota
	layoutI
	layoutB
	layoutXL
	layoutSC
	layoutM
	layoutX
	layoutXO
	layoutXFX
	layoutEVX
)

type opInfo struct {
	name    string
	syntax  []string
	layout  layout
	primary uint32
	xo      uint32
	ext     Extension
	priv    bool

	// Variant suffixes the mnemonic accepts.
	rc, lk, aa bool
}

var ops = [numOps]opInfo{
	OpUnknown: {name: "unknown"},

	OpADDI:    {name: "addi", syntax: s("rt", "ra", "si"), layout: layoutD, primary: 14},
	OpADDIS:   {name: "addis", syntax: s("rt", "ra", "si"), layout: layoutD, primary: 15},
	OpADDIC:   {name: "addic", syntax: s("rt", "ra", "si"), layout: layoutD, primary: 12},
	OpMULLI:   {name: "mulli", syntax: s("rt", "ra", "si"), layout: layoutD, primary: 7},
	OpORI:     {name: "ori", syntax: s("ra", "rs", "ui"), layout: layoutD, primary: 24},
	OpORIS:    {name: "oris", syntax: s("ra", "rs", "ui"), layout: layoutD, primary: 25},
	OpXORI:    {name: "xori", syntax: s("ra", "rs", "ui"), layout: layoutD, primary: 26},
	OpANDIdot: {name: "andi.", syntax: s("ra", "rs", "ui"), layout: layoutD, primary: 28},
	OpCMPI:    {name: "cmpi", syntax: s("crf", "l", "ra", "si"), layout: layoutD, primary: 11},
	OpCMPLI:   {name: "cmpli", syntax: s("crf", "l", "ra", "ui"), layout: layoutD, primary: 10},
	OpTWI:     {name: "twi", syntax: s("to", "ra", "si"), layout: layoutD, primary: 3},
	OpLWZ:     {name: "lwz", syntax: s("rt", "d(ra)"), layout: layoutD, primary: 32},
	OpLWZU:    {name: "lwzu", syntax: s("rt", "d(ra)"), layout: layoutD, primary: 33},
	OpLBZ:     {name: "lbz", syntax: s("rt", "d(ra)"), layout: layoutD, primary: 34},
	OpLHZ:     {name: "lhz", syntax: s("rt", "d(ra)"), layout: layoutD, primary: 40},
	OpSTW:     {name: "stw", syntax: s("rs", "d(ra)"), layout: layoutD, primary: 36},
	OpSTWU:    {name: "stwu", syntax: s("rs", "d(ra)"), layout: layoutD, primary: 37},
	OpSTB:     {name: "stb", syntax: s("rs", "d(ra)"), layout: layoutD, primary: 38},
	OpSTH:     {name: "sth", syntax: s("rs", "d(ra)"), layout: layoutD, primary: 44},
	OpLFD:     {name: "lfd", syntax: s("frt", "d(ra)"), layout: layoutD, primary: 50, ext: ExtFPU},
	OpSTFD:    {name: "stfd", syntax: s("frt", "d(ra)"), layout: layoutD, primary: 54, ext: ExtFPU},

	OpB:     {name: "b", syntax: s("li"), layout: layoutI, primary: 18, lk: true, aa: true},
	OpBC:    {name: "bc", syntax: s("bo", "bi", "bd"), layout: layoutB, primary: 16, lk: true, aa: true},
	OpBCLR:  {name: "bclr", syntax: s("bo", "bi"), layout: layoutXL, primary: 19, xo: 16, lk: true},
	OpBCCTR: {name: "bcctr", syntax: s("bo", "bi"), layout: layoutXL, primary: 19, xo: 528, lk: true},
	OpSC:    {name: "sc", layout: layoutSC, primary: 17},
	OpRFI:   {name: "rfi", layout: layoutXL, primary: 19, xo: 50, priv: true},
	OpRFCI:  {name: "rfci", layout: layoutXL, primary: 19, xo: 51, priv: true, ext: ExtBookE},
	OpRFMCI: {name: "rfmci", layout: layoutXL, primary: 19, xo: 38, priv: true, ext: ExtBookE},
	OpISYNC: {name: "isync", layout: layoutXL, primary: 19, xo: 150},

	OpRLWINM: {name: "rlwinm", syntax: s("ra", "rs", "sh", "mb", "me"), layout: layoutM, primary: 21, rc: true},

	OpADD:   {name: "add", syntax: s("rt", "ra", "rb"), layout: layoutXO, primary: 31, xo: 266, rc: true},
	OpSUBF:  {name: "subf", syntax: s("rt", "ra", "rb"), layout: layoutXO, primary: 31, xo: 40, rc: true},
	OpNEG:   {name: "neg", syntax: s("rt", "ra"), layout: layoutXO, primary: 31, xo: 104, rc: true},
	OpMULLW: {name: "mullw", syntax: s("rt", "ra", "rb"), layout: layoutXO, primary: 31, xo: 235, rc: true},
	OpDIVW:  {name: "divw", syntax: s("rt", "ra", "rb"), layout: layoutXO, primary: 31, xo: 491, rc: true},
	OpDIVWU: {name: "divwu", syntax: s("rt", "ra", "rb"), layout: layoutXO, primary: 31, xo: 459, rc: true},

	OpAND:      {name: "and", syntax: s("ra", "rs", "rb"), layout: layoutX, primary: 31, xo: 28, rc: true},
	OpOR:       {name: "or", syntax: s("ra", "rs", "rb"), layout: layoutX, primary: 31, xo: 444, rc: true},
	OpXOR:      {name: "xor", syntax: s("ra", "rs", "rb"), layout: layoutX, primary: 31, xo: 316, rc: true},
	OpSLW:      {name: "slw", syntax: s("ra", "rs", "rb"), layout: layoutX, primary: 31, xo: 24, rc: true},
	OpSRW:      {name: "srw", syntax: s("ra", "rs", "rb"), layout: layoutX, primary: 31, xo: 536, rc: true},
	OpCMP:      {name: "cmp", syntax: s("crf", "l", "ra", "rb"), layout: layoutX, primary: 31, xo: 0},
	OpCMPL:     {name: "cmpl", syntax: s("crf", "l", "ra", "rb"), layout: layoutX, primary: 31, xo: 32},
	OpTW:       {name: "tw", syntax: s("to", "ra", "rb"), layout: layoutX, primary: 31, xo: 4},
	OpLWZX:     {name: "lwzx", syntax: s("rt", "ra", "rb"), layout: layoutX, primary: 31, xo: 23},
	OpSTWX:     {name: "stwx", syntax: s("rs", "ra", "rb"), layout: layoutX, primary: 31, xo: 151},
	OpLWARX:    {name: "lwarx", syntax: s("rt", "ra", "rb"), layout: layoutX, primary: 31, xo: 20},
	OpSTWCXdot: {name: "stwcx.", syntax: s("rs", "ra", "rb"), layout: layoutX, primary: 31, xo: 150},
	OpMFSPR:    {name: "mfspr", syntax: s("rt", "spr"), layout: layoutXFX, primary: 31, xo: 339},
	OpMTSPR:    {name: "mtspr", syntax: s("spr", "rs"), layout: layoutXFX, primary: 31, xo: 467},
	OpMFMSR:    {name: "mfmsr", syntax: s("rt"), layout: layoutX, primary: 31, xo: 83, priv: true},
	OpMTMSR:    {name: "mtmsr", syntax: s("rs"), layout: layoutX, primary: 31, xo: 146, priv: true},
	OpWRTEEI:   {name: "wrteei", syntax: s("e"), layout: layoutX, primary: 31, xo: 163, priv: true, ext: ExtBookE},
	OpMFCR:     {name: "mfcr", syntax: s("rt"), layout: layoutX, primary: 31, xo: 19},
	OpMTCRF:    {name: "mtcrf", syntax: s("fxm", "rs"), layout: layoutX, primary: 31, xo: 144},
	OpSYNC:     {name: "sync", layout: layoutX, primary: 31, xo: 598},
	OpDCBF:     {name: "dcbf", syntax: s("ra", "rb"), layout: layoutX, primary: 31, xo: 86},
	OpDCBZ:     {name: "dcbz", syntax: s("ra", "rb"), layout: layoutX, primary: 31, xo: 1014},
	OpICBI:     {name: "icbi", syntax: s("ra", "rb"), layout: layoutX, primary: 31, xo: 982},
	OpTLBIVAX:  {name: "tlbivax", syntax: s("ra", "rb"), layout: layoutX, primary: 31, xo: 786, priv: true, ext: ExtBookE},
	OpTLBSYNC:  {name: "tlbsync", layout: layoutX, primary: 31, xo: 566, priv: true, ext: ExtBookE},
	OpMSGSND:   {name: "msgsnd", syntax: s("rb"), layout: layoutX, primary: 31, xo: 206, priv: true, ext: ExtDoorbell},
	OpMSGCLR:   {name: "msgclr", syntax: s("rb"), layout: layoutX, primary: 31, xo: 238, priv: true, ext: ExtDoorbell},

	OpEVADDW: {name: "evaddw", syntax: s("rt", "ra", "rb"), layout: layoutEVX, primary: 4, xo: 0x200, ext: ExtSPE},
	OpEVXOR:  {name: "evxor", syntax: s("rt", "ra", "rb"), layout: layoutEVX, primary: 4, xo: 0x216, ext: ExtSPE},
}

func s(fields ...string) []string {
	return fields
}

// String returns the base mnemonic of the operation.
func (op Op) String() string {
	if op >= numOps {
		return ops[OpUnknown].name
	}
	return ops[op].name
}

// Privileged reports whether the operation is supervisor-only.
func (op Op) Privileged() bool {
	return op < numOps && ops[op].priv
}

// Extension returns the extensions the operation needs.
func (op Op) Extension() Extension {
	if op >= numOps {
		return 0
	}
	return ops[op].ext
}

// IsBranch reports whether the operation changes the flow of control on
// its own.
func (op Op) IsBranch() bool {
	switch op {
	case OpB, OpBC, OpBCLR, OpBCCTR, OpSC, OpRFI, OpRFCI, OpRFMCI:
		return true
	}
	return false
}
