// Package loader reads big-endian PowerPC ELF executables.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Conventional stack tops for 32- and 64-bit user space.
const (
	DefaultStackTop32 = 0x7FFFF000
	DefaultStackTop64 = 0x7FFFFFFFF000
)

// DefaultStackSize is the default stack size (8MB).
const DefaultStackSize = 8 * 1024 * 1024

// ErrNotPowerPC is returned for ELF files built for another machine or
// byte order.
var ErrNotPowerPC = errors.New("not a big-endian PowerPC executable")

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Bits is 32 for ELFCLASS32 and 64 for ELFCLASS64.
	Bits int
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64
}

// Memory is where LoadInto places segments.
type Memory interface {
	WriteBytes(addr uint64, data []byte)
	Zero(addr, n uint64)
}

// LoadInto copies every segment to m and clears the BSS tails. It returns
// the number of bytes placed.
func (p *Program) LoadInto(m Memory) uint64 {
	var total uint64
	for _, seg := range p.Segments {
		size := uint64(len(seg.Data))
		m.WriteBytes(seg.VirtAddr, seg.Data)
		if seg.MemSize > size {
			m.Zero(seg.VirtAddr+size, seg.MemSize-size)
		}
		total += max(seg.MemSize, size)
	}
	return total
}

// Load parses a PowerPC ELF executable at path.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return fromFile(f)
}

// LoadReader parses a PowerPC ELF executable from r.
func LoadReader(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	return fromFile(f)
}

func fromFile(f *elf.File) (*Program, error) {
	if f.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("%w: byte order %v", ErrNotPowerPC, f.Data)
	}

	prog := &Program{EntryPoint: f.Entry}
	switch {
	case f.Class == elf.ELFCLASS32 && f.Machine == elf.EM_PPC:
		prog.Bits = 32
		prog.InitialSP = DefaultStackTop32
	case f.Class == elf.ELFCLASS64 && f.Machine == elf.EM_PPC64:
		prog.Bits = 64
		prog.InitialSP = DefaultStackTop64
	default:
		return nil, fmt.Errorf("%w: %v %v", ErrNotPowerPC, f.Class, f.Machine)
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	return prog, nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		VirtAddr: phdr.Vaddr,
		Data:     data,
		MemSize:  phdr.Memsz,
		Flags:    flags,
	}, nil
}
