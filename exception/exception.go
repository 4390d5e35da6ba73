// Package exception catalogs the exception classes of a Book-E / e500 core.
//
// It knows the fixed major kinds, the sub-type bits that are legal for each
// kind, the numeric vector identifier assigned to each kind, and the relative
// priority used when more than one kind is pending at the same time. It holds
// no per-core state besides the Pending set.
//
// Usage:
//
//	ev, err := exception.NewFaultEvent(exception.DataStorage,
//		exception.WriteAccess|exception.ByteOrdering, 0x2000)
//	if err != nil {
//		// configuration error: sub-type outside the kind's universe
//	}
//	vec := exception.VectorID(ev.Kind, true)
package exception

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a major exception category.
type Kind uint8

// Major kinds in catalog order.
const (
	Critical Kind = iota
	MachineCheck
	DataStorage
	InstructionStorage
	External
	Alignment
	Program
	FPUnavailable
	Syscall
	Decrementer
	FixedInterval
	Watchdog
	DataTLBMiss
	InstructionTLBMiss
	Debug
	SPEUnavailable
	EmbeddedFPData
	EmbeddedFPRound
	PerformanceMonitor
	Doorbell
	DoorbellCritical

	// NumKinds is the number of major kinds.
	NumKinds
)

var kindNames = [NumKinds]string{
	Critical:           "critical",
	MachineCheck:       "machine-check",
	DataStorage:        "data-storage",
	InstructionStorage: "instruction-storage",
	External:           "external-interrupt",
	Alignment:          "alignment",
	Program:            "program",
	FPUnavailable:      "fp-unavailable",
	Syscall:            "syscall",
	Decrementer:        "decrementer",
	FixedInterval:      "fixed-interval-timer",
	Watchdog:           "watchdog",
	DataTLBMiss:        "data-tlb-miss",
	InstructionTLBMiss: "instruction-tlb-miss",
	Debug:              "debug",
	SPEUnavailable:     "spe-unavailable",
	EmbeddedFPData:     "embedded-fp-data",
	EmbeddedFPRound:    "embedded-fp-round",
	PerformanceMonitor: "performance-monitor",
	Doorbell:           "doorbell",
	DoorbellCritical:   "doorbell-critical",
}

// String returns the catalog name of the kind.
func (k Kind) String() string {
	if k >= NumKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Valid reports whether k is part of the catalog.
func (k Kind) Valid() bool {
	return k < NumKinds
}

// Asynchronous reports whether the kind is raised from outside the
// instruction stream (interrupt sources rather than instruction faults).
func (k Kind) Asynchronous() bool {
	switch k {
	case Critical, External, Decrementer, FixedInterval, Watchdog,
		PerformanceMonitor, Doorbell, DoorbellCritical:
		return true
	}
	return false
}

// CriticalClass reports whether the kind is delivered through the critical
// save/restore register pair.
func (k Kind) CriticalClass() bool {
	switch k {
	case Critical, Watchdog, Debug, DoorbellCritical:
		return true
	}
	return false
}

// SubType is an OR-combinable set of sub-type bits. Which bits are legal
// depends on the major kind; see ValidSubTypes.
type SubType uint64

// Sub-type bits.
const (
	// ReadAccess is a load access violation.
	ReadAccess SubType = 1 << iota
	// WriteAccess is a store access violation.
	WriteAccess
	// ExecuteAccess is an instruction-fetch access violation.
	ExecuteAccess
	// ReservationWriteThrough is lwarx/stwcx. to a write-through page.
	ReservationWriteThrough
	// ReservationCacheInhibited is lwarx/stwcx. to a cache-inhibited page.
	ReservationCacheInhibited
	// CacheLocking is a cache-locking instruction in user mode.
	CacheLocking
	// ByteOrdering is an access the byte-ordering attributes cannot serve.
	ByteOrdering
	// Store marks the faulting access as a store.
	Store
	// SPEAccess marks an SPE or embedded floating-point operation.
	SPEAccess
	// Illegal is an unrecognized instruction encoding.
	Illegal
	// Privileged is a supervisor-only instruction executed in user mode.
	Privileged
	// Trap is a tw/twi whose condition held.
	Trap
	// FloatingPoint is an enabled floating-point exception.
	FloatingPoint
	// Unimplemented is a defined but unimplemented operation.
	Unimplemented
	// FetchError is a machine check on instruction fetch.
	FetchError
	// LoadError is a machine check on a load.
	LoadError
	// StoreError is a machine check on a store.
	StoreError
)

var subTypeNames = []struct {
	bit  SubType
	name string
}{
	{ReadAccess, "read"},
	{WriteAccess, "write"},
	{ExecuteAccess, "execute"},
	{ReservationWriteThrough, "reservation-write-through"},
	{ReservationCacheInhibited, "reservation-cache-inhibited"},
	{CacheLocking, "cache-locking"},
	{ByteOrdering, "byte-ordering"},
	{Store, "store"},
	{SPEAccess, "spe"},
	{Illegal, "illegal"},
	{Privileged, "privileged"},
	{Trap, "trap"},
	{FloatingPoint, "floating-point"},
	{Unimplemented, "unimplemented"},
	{FetchError, "fetch-error"},
	{LoadError, "load-error"},
	{StoreError, "store-error"},
}

// Has reports whether every bit of mask is set in s.
func (s SubType) Has(mask SubType) bool {
	return s&mask == mask
}

// String lists the set bits joined with '|'.
func (s SubType) String() string {
	if s == 0 {
		return "none"
	}

	var parts []string
	rest := s
	for _, n := range subTypeNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint64(rest)))
	}
	return strings.Join(parts, "|")
}

var validSubTypes = [NumKinds]SubType{
	DataStorage: ReadAccess | WriteAccess | ReservationWriteThrough |
		ReservationCacheInhibited | CacheLocking | ByteOrdering,
	InstructionStorage: ExecuteAccess | ByteOrdering,
	Alignment:          Store | SPEAccess,
	Program:            Illegal | Privileged | Trap | FloatingPoint | Unimplemented,
	MachineCheck:       FetchError | LoadError | StoreError,
	DataTLBMiss:        Store | SPEAccess,
	SPEUnavailable:     SPEAccess,
	EmbeddedFPData:     SPEAccess,
	EmbeddedFPRound:    SPEAccess,
}

// ValidSubTypes returns the universe of sub-type bits legal for kind.
func ValidSubTypes(k Kind) SubType {
	if !k.Valid() {
		return 0
	}
	return validSubTypes[k]
}

// ErrInvalidSubType is returned when an event is built with sub-type bits
// outside its kind's universe. It is a configuration error.
var ErrInvalidSubType = errors.New("invalid exception sub-type")

// ErrUnknownKind is returned for kinds outside the catalog.
var ErrUnknownKind = errors.New("unknown exception kind")

// Event is one exception occurrence. It is consumed once by the delivery
// step and then discarded.
type Event struct {
	Kind  Kind
	Flags SubType

	// Addr is the faulting data address when HasAddr is set.
	Addr    uint64
	HasAddr bool
}

// NewEvent builds an event without a faulting address.
func NewEvent(k Kind, flags SubType) (*Event, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}

	if bad := flags &^ validSubTypes[k]; bad != 0 {
		return nil, fmt.Errorf("%w: %s does not accept %s",
			ErrInvalidSubType, k, bad)
	}

	return &Event{Kind: k, Flags: flags}, nil
}

// NewFaultEvent builds an event that carries the faulting address.
func NewFaultEvent(k Kind, flags SubType, addr uint64) (*Event, error) {
	ev, err := NewEvent(k, flags)
	if err != nil {
		return nil, err
	}

	ev.Addr = addr
	ev.HasAddr = true

	return ev, nil
}

// MustEvent is NewEvent for callers whose arguments are constants.
// It panics on an invalid sub-type.
func MustEvent(k Kind, flags SubType) *Event {
	ev, err := NewEvent(k, flags)
	if err != nil {
		panic(err)
	}
	return ev
}

// MustFaultEvent is NewFaultEvent that panics on an invalid sub-type.
func MustFaultEvent(k Kind, flags SubType, addr uint64) *Event {
	ev, err := NewFaultEvent(k, flags, addr)
	if err != nil {
		panic(err)
	}
	return ev
}

// Has reports whether every bit of mask is set on the event.
func (e *Event) Has(mask SubType) bool {
	return e.Flags.Has(mask)
}

// Error lets guest faults travel through error returns until the core
// converts them into a delivery.
func (e *Event) Error() string {
	if e.HasAddr {
		return fmt.Sprintf("%s exception [%s] at 0x%X", e.Kind, e.Flags, e.Addr)
	}
	return fmt.Sprintf("%s exception [%s]", e.Kind, e.Flags)
}
