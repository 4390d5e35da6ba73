package emu

import (
	"github.com/sarchlab/ppcsim/exception"
	"github.com/sarchlab/ppcsim/tlb"
)

// DataTranslator maps an effective address for a load or store.
type DataTranslator func(ea uint64, write bool) (tlb.Translation, error)

// LoadStoreUnit implements PowerPC loads and stores through address
// translation. Pages with the E attribute are accessed little-endian.
type LoadStoreUnit struct {
	regFile   *RegFile
	memory    *Memory
	translate DataTranslator
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory, translate DataTranslator) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile:   regFile,
		memory:    memory,
		translate: translate,
	}
}

// access translates every page an access of size bytes at ea touches and
// returns the physical address of each byte in order.
func (lsu *LoadStoreUnit) access(ea uint64, size int, write bool) ([]uint64, tlb.Flags, error) {
	first, err := lsu.translate(ea, write)
	if err != nil {
		return nil, 0, err
	}

	addrs := make([]uint64, size)
	if (ea&pageMask)+uint64(size) <= pageSize {
		for i := range addrs {
			addrs[i] = first.Addr + uint64(i)
		}
		return addrs, first.Flags, nil
	}

	for i := range addrs {
		tr, err := lsu.translate(ea+uint64(i), write)
		if err != nil {
			return nil, 0, err
		}
		addrs[i] = tr.Addr
	}
	return addrs, first.Flags, nil
}

// Load reads size bytes at ea as an unsigned value.
func (lsu *LoadStoreUnit) Load(ea uint64, size int) (uint64, error) {
	addrs, flags, err := lsu.access(ea, size, false)
	if err != nil {
		return 0, err
	}

	var v uint64
	for i := range addrs {
		b := addrs[i]
		if flags&tlb.FlagE != 0 {
			b = addrs[size-1-i]
		}
		v = v<<8 | uint64(lsu.memory.Read8(b))
	}
	return v, nil
}

// Store writes the low size bytes of v at ea.
func (lsu *LoadStoreUnit) Store(ea uint64, size int, v uint64) error {
	addrs, flags, err := lsu.access(ea, size, true)
	if err != nil {
		return err
	}

	for i := range addrs {
		b := addrs[size-1-i]
		if flags&tlb.FlagE != 0 {
			b = addrs[i]
		}
		lsu.memory.Write8(b, uint8(v>>(8*i)))
	}
	return nil
}

// LoadReserve performs lwarx: loads a word and sets the reservation.
// Reservations on write-through or cache-inhibited pages fault.
func (lsu *LoadStoreUnit) LoadReserve(ea uint64) (uint64, error) {
	tr, err := lsu.translate(ea, false)
	if err != nil {
		return 0, err
	}
	if err := reservationFault(tr.Flags, ea, 0); err != nil {
		return 0, err
	}

	v, err := lsu.Load(ea, 4)
	if err != nil {
		return 0, err
	}

	lsu.regFile.Reserved = true
	lsu.regFile.ReserveAddr = tr.Addr
	return v, nil
}

// StoreConditional performs stwcx.: stores v only if the reservation
// still covers ea, and clears it either way.
func (lsu *LoadStoreUnit) StoreConditional(ea uint64, v uint64) (bool, error) {
	tr, err := lsu.translate(ea, true)
	if err != nil {
		return false, err
	}
	if err := reservationFault(tr.Flags, ea, exception.WriteAccess); err != nil {
		return false, err
	}

	ok := lsu.regFile.Reserved && lsu.regFile.ReserveAddr == tr.Addr
	lsu.regFile.Reserved = false
	if !ok {
		return false, nil
	}

	return true, lsu.Store(ea, 4, v)
}

func reservationFault(flags tlb.Flags, ea uint64, access exception.SubType) error {
	var sub exception.SubType
	if flags&tlb.FlagW != 0 {
		sub |= exception.ReservationWriteThrough
	}
	if flags&tlb.FlagI != 0 {
		sub |= exception.ReservationCacheInhibited
	}
	if sub == 0 {
		return nil
	}
	return exception.MustFaultEvent(exception.DataStorage, sub|access, ea)
}

// ZeroBlock clears the cache block of size bytes holding ea.
func (lsu *LoadStoreUnit) ZeroBlock(ea uint64, size uint64) error {
	base := ea &^ (size - 1)
	tr, err := lsu.translate(base, true)
	if err != nil {
		return err
	}
	lsu.memory.Zero(tr.Addr, size)
	return nil
}
