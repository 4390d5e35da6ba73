package exception

import (
	"sort"
	"sync"
)

// Vector is the numeric identifier of an exception vector. The address a
// core jumps to for a vector is target configuration, not part of this
// package.
type Vector uint8

// VectorID returns the vector identifier of kind. The identifier is the
// catalog ordinal for every kind except Syscall and Decrementer: Book-E and
// 8xx cores give Syscall the lower of the two numbers, other
// configurations swap them.
func VectorID(k Kind, bookE bool) Vector {
	if !bookE {
		switch k {
		case Syscall:
			return Vector(Decrementer)
		case Decrementer:
			return Vector(Syscall)
		}
	}
	return Vector(k)
}

// KindOf is the inverse of VectorID.
func KindOf(v Vector, bookE bool) (Kind, bool) {
	k := Kind(v)
	if !k.Valid() {
		return 0, false
	}
	if !bookE {
		switch k {
		case Syscall:
			return Decrementer, true
		case Decrementer:
			return Syscall, true
		}
	}
	return k, true
}

// priorityRank orders kinds from most to least urgent. Lower rank wins.
var priorityRank = func() [NumKinds]int {
	var r [NumKinds]int

	head := []Kind{
		Critical, MachineCheck, DataStorage, InstructionStorage,
		Alignment, Program, External,
	}
	for i, k := range head {
		r[k] = i
	}
	// Storage faults tie.
	r[InstructionStorage] = r[DataStorage]

	next := len(head)
	for k := Kind(0); k < NumKinds; k++ {
		inHead := false
		for _, h := range head {
			if h == k {
				inHead = true
				break
			}
		}
		if !inHead {
			r[k] = next
			next++
		}
	}

	return r
}()

// Priority returns the rank of kind; a lower value is more urgent.
func Priority(k Kind) int {
	if !k.Valid() {
		return int(NumKinds) + int(k)
	}
	return priorityRank[k]
}

// Higher reports whether a should be delivered before b. Equal ranks fall
// back to catalog order.
func Higher(a, b Kind) bool {
	pa, pb := Priority(a), Priority(b)
	if pa != pb {
		return pa < pb
	}
	return a < b
}

// Mask selects a subset of kinds.
type Mask uint32

// MaskOf returns a mask with the given kinds set.
func MaskOf(kinds ...Kind) Mask {
	var m Mask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

// AllKinds selects every kind.
const AllKinds = Mask(1<<NumKinds - 1)

// Contains reports whether k is selected.
func (m Mask) Contains(k Kind) bool {
	return m&(1<<k) != 0
}

// Pending holds exceptions posted to a core but not yet delivered. At most
// one event per kind is kept; a later post of the same kind ORs its
// sub-type bits into the pending one. Post may be called from any
// goroutine.
type Pending struct {
	mu     sync.Mutex
	events map[Kind]*Event
}

// NewPending creates an empty pending set.
func NewPending() *Pending {
	return &Pending{events: make(map[Kind]*Event)}
}

// Post records ev as pending.
func (p *Pending) Post(ev *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.events[ev.Kind]; ok {
		merged := *old
		merged.Flags |= ev.Flags
		if ev.HasAddr {
			merged.Addr = ev.Addr
			merged.HasAddr = true
		}
		p.events[ev.Kind] = &merged
		return
	}

	cp := *ev
	p.events[ev.Kind] = &cp
}

// Take removes and returns the highest-priority pending event whose kind
// is selected by allowed.
func (p *Pending) Take(allowed Mask) (*Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Event
	for k, ev := range p.events {
		if !allowed.Contains(k) {
			continue
		}
		if best == nil || Higher(k, best.Kind) {
			best = ev
		}
	}

	if best == nil {
		return nil, false
	}

	delete(p.events, best.Kind)
	return best, true
}

// Cancel drops a pending kind, as clearing an interrupt source does.
func (p *Pending) Cancel(k Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.events[k]
	delete(p.events, k)
	return ok
}

// Len returns the number of pending kinds.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// Kinds returns the pending kinds in delivery order.
func (p *Pending) Kinds() []Kind {
	p.mu.Lock()
	kinds := make([]Kind, 0, len(p.events))
	for k := range p.events {
		kinds = append(kinds, k)
	}
	p.mu.Unlock()

	sort.Slice(kinds, func(i, j int) bool { return Higher(kinds[i], kinds[j]) })
	return kinds
}

// Clear drops every pending event.
func (p *Pending) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = make(map[Kind]*Event)
}
