package tlb

import "sync"

// Shared is a translation cache used by several cores, as a shared TLB
// would be. Resolve and Invalidate take the write lock because both change
// the cache (recency or contents); probes and counters take the read lock.
type Shared struct {
	mu    sync.RWMutex
	cache *Cache
}

// NewShared wraps c for concurrent use. c must not be used directly
// afterwards.
func NewShared(c *Cache) *Shared {
	return &Shared{cache: c}
}

// Resolve translates vaddr under the write lock.
func (s *Shared) Resolve(vaddr uint64, access Access) (Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Resolve(vaddr, access)
}

// Insert caches a mapping under the write lock.
func (s *Shared) Insert(vaddr uint64, m Mapping) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Insert(vaddr, m)
}

// Lookup probes under the read lock.
func (s *Shared) Lookup(vaddr uint64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Lookup(vaddr)
}

// Invalidate removes entries under the write lock.
func (s *Shared) Invalidate(sel Selector) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Invalidate(sel)
}

// Entries returns the live entries.
func (s *Shared) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Entries()
}

// Stats returns the counters.
func (s *Shared) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Stats()
}

// Verify checks the cache invariant.
func (s *Shared) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Verify()
}

// Domain is a group of translators that see each other's broadcast
// invalidations, as tlbivax does across a coherence domain.
type Domain struct {
	mu      sync.RWMutex
	members []Translator
}

// NewDomain creates an empty domain.
func NewDomain() *Domain {
	return &Domain{}
}

// Join adds t to the domain. Joining twice has no effect.
func (d *Domain) Join(t Translator) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.members {
		if m == t {
			return
		}
	}
	d.members = append(d.members, t)
}

// Leave removes t from the domain.
func (d *Domain) Leave(t Translator) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, m := range d.members {
		if m == t {
			d.members = append(d.members[:i], d.members[i+1:]...)
			return
		}
	}
}

// Len returns the number of members.
func (d *Domain) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members)
}

// Broadcast applies sel to every member and returns the total number of
// entries removed. Members are snapshotted first so a member may leave
// while the broadcast runs.
func (d *Domain) Broadcast(sel Selector) int {
	d.mu.RLock()
	members := make([]Translator, len(d.members))
	copy(members, d.members)
	d.mu.RUnlock()

	n := 0
	for _, m := range members {
		n += m.Invalidate(sel)
	}
	return n
}
