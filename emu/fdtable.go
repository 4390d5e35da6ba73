package emu

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
)

// Errno is a Linux error number returned to the guest.
type Errno int

// Linux error numbers.
const (
	EPERM  Errno = 1
	ENOENT Errno = 2
	EIO    Errno = 5
	EBADF  Errno = 9
	EACCES Errno = 13
	EEXIST Errno = 17
	EISDIR Errno = 21
	EINVAL Errno = 22
	EMFILE Errno = 24
	ESPIPE Errno = 29
	ENOSYS Errno = 38
)

func (e Errno) Error() string {
	switch e {
	case EPERM:
		return "operation not permitted"
	case ENOENT:
		return "no such file or directory"
	case EBADF:
		return "bad file descriptor"
	case EACCES:
		return "permission denied"
	case EEXIST:
		return "file exists"
	case EISDIR:
		return "is a directory"
	case EINVAL:
		return "invalid argument"
	case EMFILE:
		return "too many open files"
	case ESPIPE:
		return "illegal seek"
	case ENOSYS:
		return "function not implemented"
	}
	return "input/output error"
}

// errnoOf maps a host error to the errno the guest sees.
func errnoOf(err error) Errno {
	var errno Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrInvalid):
		return EINVAL
	}
	return EIO
}

// Guest open flags, Linux PowerPC values.
const (
	guestWronly = 0x1
	guestRdwr   = 0x2
	guestCreat  = 0x40
	guestExcl   = 0x80
	guestTrunc  = 0x200
	guestAppend = 0x400
)

// hostFlags converts guest open flags to os.OpenFile flags.
func hostFlags(guest uint64) int {
	flags := os.O_RDONLY
	switch guest & 0x3 {
	case guestWronly:
		flags = os.O_WRONLY
	case guestRdwr:
		flags = os.O_RDWR
	}

	for _, m := range []struct {
		guest uint64
		host  int
	}{
		{guestCreat, os.O_CREATE},
		{guestExcl, os.O_EXCL},
		{guestTrunc, os.O_TRUNC},
		{guestAppend, os.O_APPEND},
	} {
		if guest&m.guest != 0 {
			flags |= m.host
		}
	}
	return flags
}

// MaxOpenFiles bounds the guest descriptor table.
const MaxOpenFiles = 256

type openFile struct {
	name string
	host *os.File
	r    io.Reader
	w    io.Writer
}

// FDTable maps guest file descriptors to host files and streams.
// Descriptors 0 to 2 are the core's standard streams.
type FDTable struct {
	mu    sync.Mutex
	files map[uint64]*openFile
}

// NewFDTable creates a table with the standard streams installed. A nil
// stream makes its descriptor read EOF or discard writes.
func NewFDTable(stdin io.Reader, stdout, stderr io.Writer) *FDTable {
	return &FDTable{
		files: map[uint64]*openFile{
			0: {name: "stdin", r: stdin},
			1: {name: "stdout", w: stdout},
			2: {name: "stderr", w: stderr},
		},
	}
}

func (t *FDTable) get(fd uint64) (*openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[fd]
	if !ok {
		return nil, EBADF
	}
	return f, nil
}

// lowest returns the smallest free descriptor. Callers hold mu.
func (t *FDTable) lowest() (uint64, bool) {
	for fd := uint64(0); fd < MaxOpenFiles; fd++ {
		if _, used := t.files[fd]; !used {
			return fd, true
		}
	}
	return 0, false
}

// Open opens a host file and returns the lowest free descriptor.
func (t *FDTable) Open(path string, guestFlags uint64, mode uint32) (uint64, error) {
	host, err := os.OpenFile(path, hostFlags(guestFlags), os.FileMode(mode&0o777))
	if err != nil {
		return 0, errnoOf(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd, ok := t.lowest()
	if !ok {
		host.Close()
		return 0, EMFILE
	}

	t.files[fd] = &openFile{name: path, host: host, r: host, w: host}
	return fd, nil
}

// Close releases fd. Standard streams are detached but never closed on
// the host.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	delete(t.files, fd)
	t.mu.Unlock()

	if !ok {
		return EBADF
	}
	if f.host != nil {
		if err := f.host.Close(); err != nil {
			return errnoOf(err)
		}
	}
	return nil
}

// Read reads from fd into buf.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if f.r == nil {
		if f.w != nil {
			return 0, EBADF
		}
		return 0, nil
	}

	n, err := f.r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		return 0, errnoOf(err)
	}
	return n, nil
}

// Write writes buf to fd.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if f.w == nil {
		if f.r != nil {
			return 0, EBADF
		}
		return len(buf), nil
	}

	n, err := f.w.Write(buf)
	if err != nil {
		return n, errnoOf(err)
	}
	return n, nil
}

// Seek moves the offset of fd. Streams cannot seek.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if f.host == nil {
		return 0, ESPIPE
	}
	if whence < io.SeekStart || whence > io.SeekEnd {
		return 0, EINVAL
	}

	pos, err := f.host.Seek(offset, whence)
	if err != nil {
		return 0, errnoOf(err)
	}
	return pos, nil
}

// Descriptors lists the open descriptors in ascending order.
func (t *FDTable) Descriptors() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fds := make([]uint64, 0, len(t.files))
	for fd := range t.files {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// CloseAll closes every host file in the table.
func (t *FDTable) CloseAll() {
	for _, fd := range t.Descriptors() {
		_ = t.Close(fd)
	}
}
