package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/emu"
)

var _ = Describe("Memory", func() {
	var m *emu.Memory

	BeforeEach(func() {
		m = emu.NewMemory()
	})

	It("should read zero where nothing was written", func() {
		Expect(m.Read64(0xDEAD0000)).To(BeZero())
		Expect(m.Pages()).To(BeZero())
	})

	It("should store big-endian", func() {
		m.Write32(0x100, 0x11223344)
		Expect(m.Read8(0x100)).To(Equal(uint8(0x11)))
		Expect(m.Read16(0x102)).To(Equal(uint16(0x3344)))

		m.Write64(0x200, 0x0102030405060708)
		Expect(m.Read32(0x204)).To(Equal(uint32(0x05060708)))
	})

	It("should copy bytes across pages", func() {
		data := []byte{1, 2, 3, 4, 5, 6}
		m.LoadProgram(0xFFD, data)

		buf := make([]byte, len(data))
		m.ReadBytes(0xFFD, buf)
		Expect(buf).To(Equal(data))
		Expect(m.Pages()).To(Equal(2))

		m.Zero(0xFFE, 3)
		m.ReadBytes(0xFFD, buf)
		Expect(buf).To(Equal([]byte{1, 0, 0, 0, 5, 6}))
	})
})
