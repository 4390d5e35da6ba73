package tlb

import "strings"

// InvalidateFlags select invalidation classes. Several classes may be
// combined in one Selector; an entry matching any of them is removed.
type InvalidateFlags uint8

// Invalidation classes.
const (
	// ByEntry removes the entry with exactly Virt and Phys.
	ByEntry InvalidateFlags = 1 << iota
	// All removes every entry.
	All
	// ByPhys removes entries whose frame is Phys.
	ByPhys
	// ByVirt removes entries whose virtual page is Virt.
	ByVirt
	// ByUpper removes entries whose virtual address bits above
	// UpperShift equal those of Virt.
	ByUpper
)

// String lists the selected classes.
func (f InvalidateFlags) String() string {
	names := []struct {
		bit  InvalidateFlags
		name string
	}{
		{ByEntry, "entry"},
		{All, "all"},
		{ByPhys, "phys"},
		{ByVirt, "virt"},
		{ByUpper, "upper"},
	}

	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Selector describes which entries an invalidation removes.
type Selector struct {
	Flags InvalidateFlags

	Virt uint64
	Phys uint64

	// UpperShift is the bit position above which ByUpper compares.
	UpperShift uint
}

// normalize aligns the addresses to the page boundary.
func (s Selector) normalize(mask uint64) Selector {
	s.Virt &^= mask
	s.Phys &^= mask
	return s
}

// Matches reports whether the selector removes e.
func (s Selector) Matches(e Entry) bool {
	if s.Flags&All != 0 {
		return true
	}
	if s.Flags&ByEntry != 0 && e.Virt == s.Virt && e.Phys == s.Phys {
		return true
	}
	if s.Flags&ByPhys != 0 && e.Phys == s.Phys {
		return true
	}
	if s.Flags&ByVirt != 0 && e.Virt == s.Virt {
		return true
	}
	if s.Flags&ByUpper != 0 && upper(e.Virt, s.UpperShift) == upper(s.Virt, s.UpperShift) {
		return true
	}
	return false
}

func upper(addr uint64, shift uint) uint64 {
	if shift >= 64 {
		return 0
	}
	return addr >> shift
}
