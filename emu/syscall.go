package emu

import (
	"io"
)

// Linux PowerPC syscall numbers.
const (
	SyscallExit      uint64 = 1   // exit(status)
	SyscallRead      uint64 = 3   // read(fd, buf, count)
	SyscallWrite     uint64 = 4   // write(fd, buf, count)
	SyscallOpen      uint64 = 5   // open(path, flags, mode)
	SyscallClose     uint64 = 6   // close(fd)
	SyscallLseek     uint64 = 19  // lseek(fd, offset, whence)
	SyscallExitGroup uint64 = 234 // exit_group(status)
)

// maxTransfer bounds a single read or write.
const maxTransfer = 1 << 20

// maxPath bounds the length of a guest path string.
const maxPath = 4096

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler serves sc on the host when the core does not emulate the
// operating system.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state.
	// Linux PowerPC convention:
	//   - Syscall number in r0
	//   - Arguments in r3-r8
	//   - Result in r3; on failure CR0[SO] is set and r3 holds errno
	Handle() SyscallResult
}

// DefaultSyscallHandler implements the file and exit syscalls on the host.
// Buffer addresses are physical.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	files   *FDTable
}

// NewDefaultSyscallHandler creates a default syscall handler. The guest's
// stdin reads EOF until SetStdin is called.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		files:   NewFDTable(nil, stdout, stderr),
	}
}

// SetStdin sets the reader behind fd 0.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.files.mu.Lock()
	h.files.files[0] = &openFile{name: "stdin", r: stdin}
	h.files.mu.Unlock()
}

// Files returns the descriptor table.
func (h *DefaultSyscallHandler) Files() *FDTable {
	return h.files
}

func (h *DefaultSyscallHandler) arg(n int) uint64 {
	return h.regFile.ReadReg(uint8(3 + n))
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.regFile.ReadReg(0) {
	case SyscallExit, SyscallExitGroup:
		return SyscallResult{Exited: true, ExitCode: int64(int32(h.arg(0)))}
	case SyscallRead:
		h.complete(h.read())
	case SyscallWrite:
		h.complete(h.write())
	case SyscallOpen:
		h.complete(h.open())
	case SyscallClose:
		h.complete(0, h.files.Close(h.arg(0)))
	case SyscallLseek:
		pos, err := h.files.Seek(h.arg(0), int64(int32(h.arg(1))), int(h.arg(2)))
		h.complete(uint64(pos), err)
	default:
		h.complete(0, ENOSYS)
	}
	return SyscallResult{}
}

// complete stores the result in r3 and reports failure through CR0[SO].
func (h *DefaultSyscallHandler) complete(v uint64, err error) {
	cr0 := h.regFile.CRField(0)
	if err != nil {
		h.regFile.WriteReg(3, uint64(errnoOf(err)))
		h.regFile.SetCRField(0, cr0|CRSO)
		return
	}
	h.regFile.WriteReg(3, v)
	h.regFile.SetCRField(0, cr0&^CRSO)
}

func (h *DefaultSyscallHandler) read() (uint64, error) {
	fd, addr, count := h.arg(0), h.arg(1), min(h.arg(2), maxTransfer)

	buf := make([]byte, count)
	n, err := h.files.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	h.memory.WriteBytes(addr, buf[:n])
	return uint64(n), nil
}

func (h *DefaultSyscallHandler) write() (uint64, error) {
	fd, addr, count := h.arg(0), h.arg(1), min(h.arg(2), maxTransfer)

	buf := make([]byte, count)
	h.memory.ReadBytes(addr, buf)
	n, err := h.files.Write(fd, buf)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (h *DefaultSyscallHandler) open() (uint64, error) {
	path, ok := h.cString(h.arg(0))
	if !ok {
		return 0, EINVAL
	}
	return h.files.Open(path, h.arg(1), uint32(h.arg(2)))
}

// cString reads a NUL-terminated string from memory.
func (h *DefaultSyscallHandler) cString(addr uint64) (string, bool) {
	var b []byte
	for i := uint64(0); i < maxPath; i++ {
		c := h.memory.Read8(addr + i)
		if c == 0 {
			return string(b), true
		}
		b = append(b, c)
	}
	return "", false
}
