package insts

import "fmt"

// Special-purpose register numbers.
const (
	SPRXER     uint16 = 1
	SPRLR      uint16 = 8
	SPRCTR     uint16 = 9
	SPRDEC     uint16 = 22
	SPRSRR0    uint16 = 26
	SPRSRR1    uint16 = 27
	SPRPID     uint16 = 48
	SPRDECAR   uint16 = 54
	SPRCSRR0   uint16 = 58
	SPRCSRR1   uint16 = 59
	SPRDEAR    uint16 = 61
	SPRESR     uint16 = 62
	SPRIVPR    uint16 = 63
	SPRTBL     uint16 = 268
	SPRTBU     uint16 = 269
	SPRSPRG0   uint16 = 272
	SPRSPRG1   uint16 = 273
	SPRSPRG2   uint16 = 274
	SPRSPRG3   uint16 = 275
	SPRTBLW    uint16 = 284
	SPRTBUW    uint16 = 285
	SPRPIR     uint16 = 286
	SPRPVR     uint16 = 287
	SPRTSR     uint16 = 336
	SPRTCR     uint16 = 340
	SPRIVOR0   uint16 = 400 // IVOR0..IVOR15 are 400..415
	SPRSPEFSCR uint16 = 512
	SPRIVOR32  uint16 = 528 // IVOR32..IVOR35 are 528..531
	SPRIVOR36  uint16 = 532 // IVOR36..IVOR37 are 532..533
	SPRMCSRR0  uint16 = 570
	SPRMCSRR1  uint16 = 571
	SPRMCSR    uint16 = 572
)

var sprNames = map[string]uint16{
	"xer":     SPRXER,
	"lr":      SPRLR,
	"ctr":     SPRCTR,
	"dec":     SPRDEC,
	"srr0":    SPRSRR0,
	"srr1":    SPRSRR1,
	"pid":     SPRPID,
	"decar":   SPRDECAR,
	"csrr0":   SPRCSRR0,
	"csrr1":   SPRCSRR1,
	"dear":    SPRDEAR,
	"esr":     SPRESR,
	"ivpr":    SPRIVPR,
	"tbl":     SPRTBL,
	"tbu":     SPRTBU,
	"sprg0":   SPRSPRG0,
	"sprg1":   SPRSPRG1,
	"sprg2":   SPRSPRG2,
	"sprg3":   SPRSPRG3,
	"pir":     SPRPIR,
	"pvr":     SPRPVR,
	"tsr":     SPRTSR,
	"tcr":     SPRTCR,
	"spefscr": SPRSPEFSCR,
	"mcsrr0":  SPRMCSRR0,
	"mcsrr1":  SPRMCSRR1,
	"mcsr":    SPRMCSR,
}

// IVOR returns the SPR number of interrupt vector offset register n, or
// false when the core has no such register.
func IVOR(n int) (uint16, bool) {
	switch {
	case n >= 0 && n <= 15:
		return SPRIVOR0 + uint16(n), true
	case n >= 32 && n <= 35:
		return SPRIVOR32 + uint16(n-32), true
	case n >= 36 && n <= 37:
		return SPRIVOR36 + uint16(n-36), true
	}
	return 0, false
}

// SPRByName resolves a register name such as "lr" or "ivor8".
func SPRByName(name string) (uint16, bool) {
	if n, ok := sprNames[name]; ok {
		return n, true
	}

	var idx int
	if _, err := fmt.Sscanf(name, "ivor%d", &idx); err == nil {
		return IVOR(idx)
	}

	return 0, false
}
