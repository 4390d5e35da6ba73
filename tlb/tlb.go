// Package tlb emulates a translation lookaside buffer.
//
// A Cache maps virtual pages to physical frames. It is a fully associative
// Akita cache directory (one set, Capacity ways) with an LRU victim
// finder, so eviction is strict least-recently-used and ties are broken by
// way order. Misses are served by a Walker, the target-specific page-table
// walk.
//
// Usage:
//
//	c := tlb.New(tlb.DefaultConfig(), tlb.NewIdentityWalker(tlb.PermAll))
//	tr, err := c.Resolve(0x1234, tlb.AccessRead)
//	c.Invalidate(tlb.Selector{Flags: tlb.ByVirt, Virt: 0x1000})
package tlb

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Access describes a memory access being translated.
type Access uint8

// Access bits.
const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExecute
	// AccessUser marks an access made in problem (user) state.
	AccessUser
)

// String names the access type.
func (a Access) String() string {
	mode := "supervisor"
	if a&AccessUser != 0 {
		mode = "user"
	}

	switch {
	case a&AccessExecute != 0:
		return mode + " execute"
	case a&AccessWrite != 0:
		return mode + " write"
	default:
		return mode + " read"
	}
}

// Flags hold the permissions and storage attributes of a mapping.
type Flags uint16

// Permission and attribute bits, named after the Book-E MAS fields.
const (
	FlagSR Flags = 1 << iota // supervisor read
	FlagSW                   // supervisor write
	FlagSX                   // supervisor execute
	FlagUR                   // user read
	FlagUW                   // user write
	FlagUX                   // user execute
	FlagW                    // write-through
	FlagI                    // cache-inhibited
	FlagM                    // memory coherence required
	FlagG                    // guarded
	FlagE                    // little-endian
)

// PermAll grants every access.
const PermAll = FlagSR | FlagSW | FlagSX | FlagUR | FlagUW | FlagUX

// Cacheable reports whether the mapping derives from a cacheable region.
func (f Flags) Cacheable() bool {
	return f&FlagI == 0
}

// Permits reports whether the flags allow access.
func (f Flags) Permits(access Access) bool {
	user := access&AccessUser != 0

	check := func(bit Access, sup, usr Flags) bool {
		if access&bit == 0 {
			return true
		}
		if user {
			return f&usr != 0
		}
		return f&sup != 0
	}

	return check(AccessRead, FlagSR, FlagUR) &&
		check(AccessWrite, FlagSW, FlagUW) &&
		check(AccessExecute, FlagSX, FlagUX)
}

// Mapping is what a page-table walk produces for one address.
type Mapping struct {
	// Phys is the physical address the walked virtual address maps to.
	Phys  uint64
	Flags Flags
	// Size is the naturally aligned window the mapping is valid for. Zero
	// means it holds for any page. A mapping smaller than the cache page is
	// used once and not cached.
	Size uint64
}

// covers reports whether m is valid for a whole page of pageSize bytes.
func (m Mapping) covers(pageSize uint64) bool {
	return m.Size == 0 || m.Size >= pageSize
}

// Entry is one cached translation. Entries are never modified in place.
type Entry struct {
	Virt  uint64 // virtual page
	Phys  uint64 // physical frame
	Flags Flags
}

// Translation is the result of a successful Resolve.
type Translation struct {
	Addr  uint64 // physical address
	Flags Flags
	Hit   bool
}

// Walker is the page-table-walk collaborator.
type Walker interface {
	Walk(vaddr uint64, access Access) (Mapping, error)
}

// WalkerFunc adapts a function to the Walker interface.
type WalkerFunc func(vaddr uint64, access Access) (Mapping, error)

// Walk calls f.
func (f WalkerFunc) Walk(vaddr uint64, access Access) (Mapping, error) {
	return f(vaddr, access)
}

// FaultReason tells why a translation failed.
type FaultReason uint8

// Fault reasons.
const (
	// FaultMiss means the walk found no valid mapping.
	FaultMiss FaultReason = iota
	// FaultProtection means a mapping exists but forbids the access.
	FaultProtection
)

// Fault is returned when an address cannot be translated for an access.
type Fault struct {
	Addr   uint64
	Access Access
	Reason FaultReason
	// Flags of the mapping that denied the access (protection faults).
	Flags Flags
	// Err is the walker's error for misses.
	Err error
}

// Write reports whether the faulting access was a store.
func (f *Fault) Write() bool {
	return f.Access&AccessWrite != 0
}

// Execute reports whether the faulting access was an instruction fetch.
func (f *Fault) Execute() bool {
	return f.Access&AccessExecute != 0
}

func (f *Fault) Error() string {
	if f.Reason == FaultProtection {
		return fmt.Sprintf("%s access to 0x%X denied", f.Access, f.Addr)
	}
	if f.Err != nil {
		return fmt.Sprintf("no translation for %s at 0x%X: %v", f.Access, f.Addr, f.Err)
	}
	return fmt.Sprintf("no translation for %s at 0x%X", f.Access, f.Addr)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ErrNoMapping is returned by walkers that find nothing at an address.
var ErrNoMapping = errors.New("no mapping")

// ErrDuplicateKey reports two live entries for one virtual page. It is a
// simulator defect, never a guest fault.
var ErrDuplicateKey = errors.New("duplicate virtual page in translation cache")

// Translator is what a core needs from a translation cache, private or
// shared.
type Translator interface {
	Resolve(vaddr uint64, access Access) (Translation, error)
	Lookup(vaddr uint64) (Entry, bool)
	Invalidate(sel Selector) int
}

// Config holds translation cache parameters.
type Config struct {
	// Capacity is the number of entries.
	Capacity int
	// PageShift is log2 of the page size.
	PageShift uint
}

// DefaultConfig returns a 64-entry cache of 4 KiB pages.
func DefaultConfig() Config {
	return Config{
		Capacity:  64,
		PageShift: 12,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("tlb capacity must be > 0")
	}
	if c.PageShift < 10 || c.PageShift > 30 {
		return fmt.Errorf("tlb page shift %d out of range [10, 30]", c.PageShift)
	}
	return nil
}

// PageSize returns the page size in bytes.
func (c Config) PageSize() uint64 {
	return 1 << c.PageShift
}

// Statistics holds translation cache counters.
type Statistics struct {
	Lookups          uint64
	Hits             uint64
	Misses           uint64
	WalkFaults       uint64
	ProtectionFaults uint64
	Evictions        uint64
	Invalidations    uint64
}

// Cache is a private translation cache. It is not safe for concurrent use;
// wrap it in a Shared for that.
type Cache struct {
	config Config
	mask   uint64

	directory *akitacache.DirectoryImpl

	// entries is indexed by way; the directory has a single set.
	entries []Entry

	walker Walker
	stats  Statistics
}

// New creates a translation cache served by walker.
func New(config Config, walker Walker) *Cache {
	return &Cache{
		config: config,
		mask:   config.PageSize() - 1,
		directory: akitacache.NewDirectory(
			1,
			config.Capacity,
			int(config.PageSize()),
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]Entry, config.Capacity),
		walker:  walker,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns the cache counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears the counters.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// Page returns the page base of vaddr.
func (c *Cache) Page(vaddr uint64) uint64 {
	return vaddr &^ c.mask
}

func (c *Cache) entryOf(block *akitacache.Block) *Entry {
	return &c.entries[block.SetID*c.config.Capacity+block.WayID]
}

// Resolve translates vaddr for access. A miss walks the page table and
// caches the result, evicting the least recently used entry when full.
func (c *Cache) Resolve(vaddr uint64, access Access) (Translation, error) {
	c.stats.Lookups++

	vpage := c.Page(vaddr)
	offset := vaddr & c.mask

	block := c.directory.Lookup(0, vpage)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		e := c.entryOf(block)
		if !e.Flags.Permits(access) {
			c.stats.ProtectionFaults++
			return Translation{}, &Fault{
				Addr: vaddr, Access: access,
				Reason: FaultProtection, Flags: e.Flags,
			}
		}

		return Translation{Addr: e.Phys | offset, Flags: e.Flags, Hit: true}, nil
	}

	c.stats.Misses++

	m, err := c.walker.Walk(vaddr, access)
	if err != nil {
		c.stats.WalkFaults++
		return Translation{}, &Fault{
			Addr: vaddr, Access: access, Reason: FaultMiss, Err: err,
		}
	}

	if !m.covers(c.config.PageSize()) {
		if !m.Flags.Permits(access) {
			c.stats.ProtectionFaults++
			return Translation{}, &Fault{
				Addr: vaddr, Access: access,
				Reason: FaultProtection, Flags: m.Flags,
			}
		}
		return Translation{Addr: m.Phys, Flags: m.Flags}, nil
	}

	e := c.insert(vpage, m)
	if !e.Flags.Permits(access) {
		c.stats.ProtectionFaults++
		return Translation{}, &Fault{
			Addr: vaddr, Access: access,
			Reason: FaultProtection, Flags: e.Flags,
		}
	}

	return Translation{Addr: e.Phys | offset, Flags: e.Flags}, nil
}

// Insert caches a mapping for the page holding vaddr. An entry already
// cached for that page is invalidated first and its slot re-filled. The
// mapping's Size is not checked; the caller vouches for the whole page.
func (c *Cache) Insert(vaddr uint64, m Mapping) Entry {
	return *c.insert(c.Page(vaddr), m)
}

func (c *Cache) insert(vpage uint64, m Mapping) *Entry {
	if old := c.directory.Lookup(0, vpage); old != nil && old.IsValid {
		old.IsValid = false
		c.stats.Invalidations++
	}

	victim := c.directory.FindVictim(vpage)
	if victim.IsValid {
		c.stats.Evictions++
	}

	victim.Tag = vpage
	victim.IsValid = true
	victim.IsDirty = false

	e := c.entryOf(victim)
	*e = Entry{
		Virt:  vpage,
		Phys:  c.Page(m.Phys),
		Flags: m.Flags,
	}

	c.directory.Visit(victim)

	return e
}

// Lookup probes the cache without walking and without touching recency.
func (c *Cache) Lookup(vaddr uint64) (Entry, bool) {
	block := c.directory.Lookup(0, c.Page(vaddr))
	if block == nil || !block.IsValid {
		return Entry{}, false
	}
	return *c.entryOf(block), true
}

// Entries returns the live entries, least recently used first.
func (c *Cache) Entries() []Entry {
	var out []Entry
	for _, set := range c.directory.GetSets() {
		for _, block := range set.LRUQueue {
			if block.IsValid {
				out = append(out, *c.entryOf(block))
			}
		}
	}
	return out
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	n := 0
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}

// Invalidate removes the entries chosen by sel and returns how many were
// removed.
func (c *Cache) Invalidate(sel Selector) int {
	sel = sel.normalize(c.mask)

	n := 0
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if !block.IsValid {
				continue
			}
			if sel.Matches(*c.entryOf(block)) {
				block.IsValid = false
				n++
			}
		}
	}

	c.stats.Invalidations += uint64(n)
	return n
}

// Flush invalidates every entry.
func (c *Cache) Flush() int {
	return c.Invalidate(Selector{Flags: All})
}

// Verify checks that no virtual page is cached twice.
func (c *Cache) Verify() error {
	seen := make(map[uint64]bool)
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if !block.IsValid {
				continue
			}
			if seen[block.Tag] {
				return fmt.Errorf("%w: 0x%X", ErrDuplicateKey, block.Tag)
			}
			seen[block.Tag] = true
		}
	}
	return nil
}
