package emu

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/ppcsim/exception"
)

// VectorTable gives the handler address of each exception kind. It is
// target configuration injected into the core.
type VectorTable interface {
	Vector(regs *RegFile, k exception.Kind) (uint64, bool)
}

// ivorOf maps kinds to their IVOR register number.
var ivorOf = map[exception.Kind]int{
	exception.Critical:           0,
	exception.MachineCheck:       1,
	exception.DataStorage:        2,
	exception.InstructionStorage: 3,
	exception.External:           4,
	exception.Alignment:          5,
	exception.Program:            6,
	exception.FPUnavailable:      7,
	exception.Syscall:            8,
	exception.Decrementer:        10,
	exception.FixedInterval:      11,
	exception.Watchdog:           12,
	exception.DataTLBMiss:        13,
	exception.InstructionTLBMiss: 14,
	exception.Debug:              15,
	exception.SPEUnavailable:     32,
	exception.EmbeddedFPData:     33,
	exception.EmbeddedFPRound:    34,
	exception.PerformanceMonitor: 35,
	exception.Doorbell:           36,
	exception.DoorbellCritical:   37,
}

// IVORTable computes vectors the Book-E way, IVPR | IVORn, from the
// registers of the core taking the exception.
type IVORTable struct{}

// Vector implements VectorTable.
func (IVORTable) Vector(regs *RegFile, k exception.Kind) (uint64, bool) {
	n, ok := ivorOf[k]
	if !ok {
		return 0, false
	}
	return regs.IVPR | regs.IVOR[n], true
}

// FixedTable holds fixed handler addresses keyed by vector id.
type FixedTable struct {
	BookE bool
	Addrs map[exception.Vector]uint64
}

// NewFixedTable places each kind at base + VectorID*stride. With no kinds,
// every kind is placed.
func NewFixedTable(base, stride uint64, bookE bool, kinds ...exception.Kind) FixedTable {
	if len(kinds) == 0 {
		for k := exception.Kind(0); k < exception.NumKinds; k++ {
			kinds = append(kinds, k)
		}
	}

	t := FixedTable{BookE: bookE, Addrs: make(map[exception.Vector]uint64, len(kinds))}
	for _, k := range kinds {
		v := exception.VectorID(k, bookE)
		t.Addrs[v] = base + uint64(v)*stride
	}
	return t
}

// Vector implements VectorTable.
func (t FixedTable) Vector(_ *RegFile, k exception.Kind) (uint64, bool) {
	addr, ok := t.Addrs[exception.VectorID(k, t.BookE)]
	return addr, ok
}

// Level is the exception level a core is handling.
type Level uint8

// Exception levels.
const (
	LevelNone Level = iota
	LevelBase
	LevelCritical
	LevelMachineCheck
)

func (l Level) String() string {
	switch l {
	case LevelBase:
		return "base"
	case LevelCritical:
		return "critical"
	case LevelMachineCheck:
		return "machine-check"
	}
	return "none"
}

func levelOf(k exception.Kind) Level {
	switch {
	case k == exception.MachineCheck:
		return LevelMachineCheck
	case k.CriticalClass():
		return LevelCritical
	}
	return LevelBase
}

// esrOf translates sub-types to ESR bits.
func esrOf(ev *exception.Event) uint64 {
	var esr uint64
	bits := []struct {
		sub exception.SubType
		esr uint64
	}{
		{exception.Illegal, ESRPIL},
		{exception.Privileged, ESRPPR},
		{exception.Trap, ESRPTR},
		{exception.FloatingPoint, ESRFP},
		{exception.Unimplemented, ESRPUO},
		{exception.WriteAccess, ESRST},
		{exception.Store, ESRST},
		{exception.CacheLocking, ESRDLK},
		{exception.ByteOrdering, ESRBO},
		{exception.SPEAccess, ESRSPV},
	}
	for _, b := range bits {
		if ev.Has(b.sub) {
			esr |= b.esr
		}
	}
	return esr
}

func setsESR(k exception.Kind) bool {
	switch k {
	case exception.DataStorage, exception.InstructionStorage,
		exception.Alignment, exception.Program, exception.DataTLBMiss,
		exception.SPEUnavailable, exception.EmbeddedFPData,
		exception.EmbeddedFPRound:
		return true
	}
	return false
}

// deliver vectors the core to the handler of ev. ret is the address saved
// as the return point.
func (c *Core) deliver(ev *exception.Event, ret uint64) error {
	vec, ok := c.vectors.Vector(c.regs, ev.Kind)
	if !ok {
		return &DefectError{Core: c.name, PC: ret, Err: fmt.Errorf("%w: %s", ErrNoVector, ev.Kind)}
	}

	r := c.regs
	msr := r.MSR
	level := levelOf(ev.Kind)

	switch level {
	case LevelMachineCheck:
		r.MCSRR0, r.MCSRR1 = ret, msr
		r.MSR &^= MSRME
		r.MCSR |= mcsrOf(ev)
	case LevelCritical:
		r.CSRR0, r.CSRR1 = ret, msr
		r.MSR &^= MSRCE | MSRDE
	default:
		r.SRR0, r.SRR1 = ret, msr
	}

	if setsESR(ev.Kind) {
		r.ESR = esrOf(ev)
	}
	if ev.HasAddr {
		r.DEAR = ev.Addr
	}

	r.MSR &^= MSRPR | MSREE | MSRFP | MSRSPE | MSRIS | MSRDS
	if level != LevelBase {
		r.MSR &^= MSRCE
	}

	c.level = level
	r.PC = c.maskAddr(vec)
	c.delivered++

	c.log.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"flags":  ev.Flags,
		"return": ret,
		"vector": r.PC,
	}).Debug("exception delivered")

	return nil
}

// MCSR bits for machine check sub-types.
const (
	MCSRIF uint64 = 1 << 16 // instruction fetch error
	MCSRLD uint64 = 1 << 15 // load error
	MCSRST uint64 = 1 << 14 // store error
)

func mcsrOf(ev *exception.Event) uint64 {
	var mcsr uint64
	if ev.Has(exception.FetchError) {
		mcsr |= MCSRIF
	}
	if ev.Has(exception.LoadError) {
		mcsr |= MCSRLD
	}
	if ev.Has(exception.StoreError) {
		mcsr |= MCSRST
	}
	return mcsr
}

// interruptMask returns the kinds the current MSR lets through. Instruction
// faults are always allowed.
func (c *Core) interruptMask() exception.Mask {
	m := exception.AllKinds &^ exception.MaskOf(
		exception.Critical, exception.MachineCheck, exception.External,
		exception.Decrementer, exception.FixedInterval, exception.Watchdog,
		exception.Debug, exception.PerformanceMonitor, exception.Doorbell,
		exception.DoorbellCritical,
	)

	msr := c.regs.MSR
	if msr&MSREE != 0 {
		m |= exception.MaskOf(exception.External, exception.Decrementer,
			exception.FixedInterval, exception.PerformanceMonitor,
			exception.Doorbell)
	}
	if msr&MSRCE != 0 {
		m |= exception.MaskOf(exception.Critical, exception.Watchdog,
			exception.DoorbellCritical)
	}
	if msr&MSRME != 0 {
		m |= exception.MaskOf(exception.MachineCheck)
	}
	if msr&MSRDE != 0 {
		m |= exception.MaskOf(exception.Debug)
	}
	return m
}
