package emu

import (
	"encoding/binary"
	"sync"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

// Memory is sparse big-endian physical memory. Unwritten bytes read as
// zero. Memory is safe for use by several cores at once.
type Memory struct {
	mu    sync.RWMutex
	pages map[uint64]*[pageSize]byte
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[pageSize]byte)}
}

func (m *Memory) page(addr uint64, create bool) *[pageSize]byte {
	p, ok := m.pages[addr>>pageBits]
	if !ok && create {
		p = new([pageSize]byte)
		m.pages[addr>>pageBits] = p
	}
	return p
}

// ReadBytes copies len(buf) bytes starting at addr into buf.
func (m *Memory) ReadBytes(addr uint64, buf []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for len(buf) > 0 {
		off := addr & pageMask
		n := min(uint64(len(buf)), pageSize-off)
		if p := m.page(addr, false); p != nil {
			copy(buf[:n], p[off:off+n])
		} else {
			clear(buf[:n])
		}
		buf = buf[n:]
		addr += n
	}
}

// WriteBytes copies data to memory starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(data) > 0 {
		off := addr & pageMask
		n := min(uint64(len(data)), pageSize-off)
		copy(m.page(addr, true)[off:off+n], data[:n])
		data = data[n:]
		addr += n
	}
}

// Zero clears n bytes starting at addr.
func (m *Memory) Zero(addr, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for n > 0 {
		off := addr & pageMask
		chunk := min(n, pageSize-off)
		if p := m.page(addr, false); p != nil {
			clear(p[off : off+chunk])
		}
		n -= chunk
		addr += chunk
	}
}

// LoadProgram copies a program image to addr.
func (m *Memory) LoadProgram(addr uint64, program []byte) {
	m.WriteBytes(addr, program)
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint64) uint8 {
	var b [1]byte
	m.ReadBytes(addr, b[:])
	return b[0]
}

// Read16 reads a big-endian halfword.
func (m *Memory) Read16(addr uint64) uint16 {
	var b [2]byte
	m.ReadBytes(addr, b[:])
	return binary.BigEndian.Uint16(b[:])
}

// Read32 reads a big-endian word.
func (m *Memory) Read32(addr uint64) uint32 {
	var b [4]byte
	m.ReadBytes(addr, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Read64 reads a big-endian doubleword.
func (m *Memory) Read64(addr uint64) uint64 {
	var b [8]byte
	m.ReadBytes(addr, b[:])
	return binary.BigEndian.Uint64(b[:])
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint64, v uint8) {
	m.WriteBytes(addr, []byte{v})
}

// Write16 writes a big-endian halfword.
func (m *Memory) Write16(addr uint64, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	m.WriteBytes(addr, b[:])
}

// Write32 writes a big-endian word.
func (m *Memory) Write32(addr uint64, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	m.WriteBytes(addr, b[:])
}

// Write64 writes a big-endian doubleword.
func (m *Memory) Write64(addr uint64, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	m.WriteBytes(addr, b[:])
}

// Pages returns the number of pages that have been written.
func (m *Memory) Pages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}
