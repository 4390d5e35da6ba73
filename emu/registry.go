package emu

import (
	"sort"
	"sync"
)

// Registry tracks the live cores of one simulated system. Allocating an id
// and changing the live set are the only operations that synchronize cores
// with each other.
type Registry struct {
	mu     sync.Mutex
	nextID int
	cores  map[int]*Core
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cores: make(map[int]*Core)}
}

// add assigns the next id to c and returns it with c's sequence number,
// the count of cores live before it.
func (r *Registry) add(c *Core) (id, seq int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id = r.nextID
	r.nextID++
	seq = len(r.cores)
	r.cores[id] = c

	return id, seq
}

func (r *Registry) remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cores[id]; !ok {
		return false
	}
	delete(r.cores, id)
	return true
}

// Live returns the number of live cores.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cores)
}

// Allocated returns how many ids have been handed out.
func (r *Registry) Allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Lookup finds a live core by id.
func (r *Registry) Lookup(id int) (*Core, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cores[id]
	return c, ok
}

// Cores returns the live cores ordered by id.
func (r *Registry) Cores() []*Core {
	r.mu.Lock()
	out := make([]*Core, 0, len(r.cores))
	for _, c := range r.cores {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Totals returns the instructions executed by all live cores.
func (r *Registry) Totals() uint64 {
	var total uint64
	for _, c := range r.Cores() {
		total += c.InstructionCount()
	}
	return total
}
