package tlb

import (
	"fmt"
	"sort"
	"sync"
)

// IdentityWalker maps every virtual address to the same physical address
// with fixed flags.
type IdentityWalker struct {
	Flags Flags
}

// NewIdentityWalker creates a flat walker.
func NewIdentityWalker(flags Flags) *IdentityWalker {
	return &IdentityWalker{Flags: flags}
}

// Walk returns the identity mapping.
func (w *IdentityWalker) Walk(vaddr uint64, _ Access) (Mapping, error) {
	return Mapping{Phys: vaddr, Flags: w.Flags}, nil
}

// MinRegionSize is the smallest region a RegionTable accepts.
const MinRegionSize = 4096

// Region is one software-managed translation, the shape of a Book-E TLB1
// entry: a naturally aligned power-of-two window.
type Region struct {
	Virt  uint64
	Phys  uint64
	Size  uint64
	Flags Flags
}

// Contains reports whether vaddr falls inside the region.
func (r Region) Contains(vaddr uint64) bool {
	return vaddr >= r.Virt && vaddr-r.Virt < r.Size
}

func (r Region) overlaps(o Region) bool {
	return r.Virt < o.Virt+o.Size && o.Virt < r.Virt+r.Size
}

// Validate checks size and alignment.
func (r Region) Validate() error {
	if r.Size < MinRegionSize || r.Size&(r.Size-1) != 0 {
		return fmt.Errorf("region size 0x%X must be a power of two >= 0x%X",
			r.Size, MinRegionSize)
	}
	if r.Virt&(r.Size-1) != 0 || r.Phys&(r.Size-1) != 0 {
		return fmt.Errorf("region 0x%X->0x%X is not aligned to its size 0x%X",
			r.Virt, r.Phys, r.Size)
	}
	return nil
}

// RegionTable is a page table made of regions. Changing a region does not
// touch any translation cache; callers invalidate the affected entries.
type RegionTable struct {
	mu      sync.RWMutex
	regions []Region // sorted by Virt
}

// NewRegionTable creates a table holding the given regions.
func NewRegionTable(regions ...Region) (*RegionTable, error) {
	t := &RegionTable{}
	for _, r := range regions {
		if err := t.Map(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Map adds a region. Overlapping regions are rejected.
func (t *RegionTable) Map(r Region) error {
	if err := r.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, o := range t.regions {
		if r.overlaps(o) {
			return fmt.Errorf("region 0x%X+0x%X overlaps 0x%X+0x%X",
				r.Virt, r.Size, o.Virt, o.Size)
		}
	}

	t.regions = append(t.regions, r)
	sort.Slice(t.regions, func(i, j int) bool {
		return t.regions[i].Virt < t.regions[j].Virt
	})

	return nil
}

// Unmap removes the region containing vaddr.
func (t *RegionTable) Unmap(vaddr uint64) (Region, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.find(vaddr)
	if !ok {
		return Region{}, false
	}

	r := t.regions[i]
	t.regions = append(t.regions[:i], t.regions[i+1:]...)
	return r, true
}

// SetAttributes replaces the flags of the region containing vaddr and
// returns the region as it is now.
func (t *RegionTable) SetAttributes(vaddr uint64, flags Flags) (Region, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.find(vaddr)
	if !ok {
		return Region{}, fmt.Errorf("0x%X: %w", vaddr, ErrNoMapping)
	}

	t.regions[i].Flags = flags
	return t.regions[i], nil
}

// Regions returns a copy of the table.
func (t *RegionTable) Regions() []Region {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Region, len(t.regions))
	copy(out, t.regions)
	return out
}

// Walk finds the region containing vaddr.
func (t *RegionTable) Walk(vaddr uint64, _ Access) (Mapping, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.find(vaddr)
	if !ok {
		return Mapping{}, fmt.Errorf("0x%X: %w", vaddr, ErrNoMapping)
	}

	r := t.regions[i]
	return Mapping{Phys: r.Phys + (vaddr - r.Virt), Flags: r.Flags, Size: r.Size}, nil
}

func (t *RegionTable) find(vaddr uint64) (int, bool) {
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].Virt+t.regions[i].Size > vaddr
	})
	if i < len(t.regions) && t.regions[i].Contains(vaddr) {
		return i, true
	}
	return 0, false
}
