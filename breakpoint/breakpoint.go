// Package breakpoint keeps the address breakpoints a core consults at every
// instruction boundary.
package breakpoint

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Breakpoint is one entry of the table.
type Breakpoint struct {
	// Number is assigned at insertion and stays stable until deletion.
	Number int
	// Addr is the program counter that triggers the breakpoint.
	Addr uint64
	// Hits counts how often execution reached Addr while enabled.
	Hits uint64
}

// String formats the entry the way List output is printed.
func (b Breakpoint) String() string {
	return fmt.Sprintf("#%d 0x%08X hits=%d", b.Number, b.Addr, b.Hits)
}

// Manager is an address-ordered breakpoint table. All methods are safe for
// concurrent use.
type Manager struct {
	mu sync.Mutex

	// addrs is kept sorted; entries holds the breakpoint for each address.
	addrs   []uint64
	entries map[uint64]*Breakpoint

	nextNumber int
	disabled   bool

	lastAddr  uint64
	lastValid bool

	log logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for no-op reports.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates an empty, enabled manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[uint64]*Breakpoint),
		log:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Add inserts a breakpoint at addr, or replaces the one already there.
// Either way the entry gets the next number and a zero hit count.
func (m *Manager) Add(addr uint64) Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[addr]; !ok {
		i := m.search(addr)
		m.addrs = append(m.addrs, 0)
		copy(m.addrs[i+1:], m.addrs[i:])
		m.addrs[i] = addr
	}

	bp := &Breakpoint{Number: m.nextNumber, Addr: addr}
	m.nextNumber++
	m.entries[addr] = bp

	return *bp
}

// Check reports whether an enabled breakpoint sits at addr. A hit bumps
// the hit count and updates the last-breakpoint record. While disabled it
// always reports false and changes nothing.
func (m *Manager) Check(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return false
	}

	bp, ok := m.entries[addr]
	if !ok {
		return false
	}

	bp.Hits++
	m.lastAddr = addr
	m.lastValid = true

	return true
}

// Has reports whether a breakpoint exists at addr, enabled or not. It does
// not count as a hit.
func (m *Manager) Has(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[addr]
	return ok
}

// DeleteByAddress removes the breakpoint at addr. Deleting a missing
// breakpoint is a logged no-op.
func (m *Manager) DeleteByAddress(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[addr]; !ok {
		m.log.WithField("addr", fmt.Sprintf("0x%X", addr)).
			Debug("no breakpoint to delete")
		return false
	}

	m.remove(addr)
	return true
}

// DeleteByNumber removes every breakpoint carrying number n and returns
// how many were removed. Matches are collected before any removal, so no
// entry is skipped.
func (m *Manager) DeleteByNumber(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []uint64
	for _, addr := range m.addrs {
		if m.entries[addr].Number == n {
			doomed = append(doomed, addr)
		}
	}

	if len(doomed) == 0 {
		m.log.WithField("number", n).Debug("no breakpoint to delete")
		return 0
	}

	for _, addr := range doomed {
		m.remove(addr)
	}

	return len(doomed)
}

// DeleteAll removes every breakpoint and restarts numbering at zero.
func (m *Manager) DeleteAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addrs = nil
	m.entries = make(map[uint64]*Breakpoint)
	m.nextNumber = 0
}

// Enable turns the global gate on.
func (m *Manager) Enable() {
	m.mu.Lock()
	m.disabled = false
	m.mu.Unlock()
}

// Disable turns the global gate off. Entries and hit counts are kept.
func (m *Manager) Disable() {
	m.mu.Lock()
	m.disabled = true
	m.mu.Unlock()
}

// Enabled reports the state of the global gate.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled
}

// Len returns the number of breakpoints.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.addrs)
}

// List returns a snapshot of the table in ascending address order.
func (m *Manager) List() []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Breakpoint, 0, len(m.addrs))
	for _, addr := range m.addrs {
		out = append(out, *m.entries[addr])
	}

	return out
}

// Last returns the address of the most recent hit.
func (m *Manager) Last() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAddr, m.lastValid
}

// ClearLast forgets the most recent hit.
func (m *Manager) ClearLast() {
	m.mu.Lock()
	m.lastAddr = 0
	m.lastValid = false
	m.mu.Unlock()
}

// WriteTo prints the listing, one breakpoint per line.
func (m *Manager) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, bp := range m.List() {
		n, err := fmt.Fprintln(w, bp.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (m *Manager) search(addr uint64) int {
	return sort.Search(len(m.addrs), func(i int) bool {
		return m.addrs[i] >= addr
	})
}

func (m *Manager) remove(addr uint64) {
	i := m.search(addr)
	m.addrs = append(m.addrs[:i], m.addrs[i+1:]...)
	delete(m.entries, addr)
}
