package emu_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/emu"
)

var _ = Describe("Syscall Handler", func() {
	var (
		regFile *emu.RegFile
		memory  *emu.Memory
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.DefaultSyscallHandler
	)

	call := func(num uint64, args ...uint64) emu.SyscallResult {
		regFile.WriteReg(0, num)
		for i, a := range args {
			regFile.WriteReg(uint8(3+i), a)
		}
		return handler.Handle()
	}

	failed := func() bool {
		return regFile.CRField(0)&emu.CRSO != 0
	}

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		memory = emu.NewMemory()
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		handler = emu.NewDefaultSyscallHandler(regFile, memory, stdout, stderr)
	})

	It("should report ENOSYS for unknown numbers", func() {
		r := call(999)

		Expect(r.Exited).To(BeFalse())
		Expect(failed()).To(BeTrue())
		Expect(regFile.ReadReg(3)).To(Equal(uint64(emu.ENOSYS)))
	})

	It("should exit with the low word of r3", func() {
		r := call(emu.SyscallExit, 0xFFFFFFFF)

		Expect(r.Exited).To(BeTrue())
		Expect(r.ExitCode).To(Equal(int64(-1)))

		r = call(emu.SyscallExitGroup, 3)
		Expect(r.ExitCode).To(Equal(int64(3)))
	})

	It("should write to stdout and stderr", func() {
		memory.WriteBytes(0x1000, []byte("hello"))

		call(emu.SyscallWrite, 1, 0x1000, 5)
		Expect(failed()).To(BeFalse())
		Expect(regFile.ReadReg(3)).To(Equal(uint64(5)))
		Expect(stdout.String()).To(Equal("hello"))

		call(emu.SyscallWrite, 2, 0x1000, 4)
		Expect(stderr.String()).To(Equal("hell"))
	})

	It("should fail writes to unknown descriptors", func() {
		call(emu.SyscallWrite, 42, 0x1000, 5)

		Expect(failed()).To(BeTrue())
		Expect(regFile.ReadReg(3)).To(Equal(uint64(emu.EBADF)))
	})

	It("should clear CR0[SO] after a successful call", func() {
		call(emu.SyscallWrite, 42, 0x1000, 5)
		call(emu.SyscallWrite, 1, 0x1000, 0)

		Expect(failed()).To(BeFalse())
	})

	It("should read EOF from stdin until one is set", func() {
		call(emu.SyscallRead, 0, 0x2000, 16)
		Expect(failed()).To(BeFalse())
		Expect(regFile.ReadReg(3)).To(BeZero())

		handler.SetStdin(strings.NewReader("abc"))
		call(emu.SyscallRead, 0, 0x2000, 16)
		Expect(regFile.ReadReg(3)).To(Equal(uint64(3)))
		Expect(memory.Read8(0x2002)).To(Equal(uint8('c')))
	})

	Describe("host files", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "data.txt")
			Expect(os.WriteFile(path, []byte("0123456789"), 0o644)).To(Succeed())
			memory.WriteBytes(0x3000, append([]byte(path), 0))
		})

		It("should open, seek, read and close", func() {
			call(emu.SyscallOpen, 0x3000, 0, 0)
			Expect(failed()).To(BeFalse())
			fd := regFile.ReadReg(3)
			Expect(fd).To(Equal(uint64(3)))

			call(emu.SyscallLseek, fd, 4, 0)
			Expect(regFile.ReadReg(3)).To(Equal(uint64(4)))

			call(emu.SyscallRead, fd, 0x4000, 3)
			Expect(regFile.ReadReg(3)).To(Equal(uint64(3)))
			buf := make([]byte, 3)
			memory.ReadBytes(0x4000, buf)
			Expect(string(buf)).To(Equal("456"))

			call(emu.SyscallClose, fd)
			Expect(failed()).To(BeFalse())
			Expect(handler.Files().Descriptors()).To(Equal([]uint64{0, 1, 2}))

			call(emu.SyscallClose, fd)
			Expect(regFile.ReadReg(3)).To(Equal(uint64(emu.EBADF)))
		})

		It("should create and write files", func() {
			out := filepath.Join(filepath.Dir(path), "out.txt")
			memory.WriteBytes(0x3100, append([]byte(out), 0))
			memory.WriteBytes(0x4000, []byte("ppc"))

			call(emu.SyscallOpen, 0x3100, 0x1|0x40|0x200, 0o644)
			Expect(failed()).To(BeFalse())
			fd := regFile.ReadReg(3)

			call(emu.SyscallWrite, fd, 0x4000, 3)
			call(emu.SyscallClose, fd)

			data, err := os.ReadFile(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("ppc"))
		})

		It("should report ENOENT for missing files", func() {
			memory.WriteBytes(0x3000, append([]byte(path+".missing"), 0))

			call(emu.SyscallOpen, 0x3000, 0, 0)

			Expect(failed()).To(BeTrue())
			Expect(regFile.ReadReg(3)).To(Equal(uint64(emu.ENOENT)))
		})

		It("should refuse to seek a stream", func() {
			call(emu.SyscallLseek, 1, 0, 0)
			Expect(regFile.ReadReg(3)).To(Equal(uint64(emu.ESPIPE)))
		})
	})
})
