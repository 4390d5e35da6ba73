package breakpoint_test

import (
	"bytes"
	"io"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/ppcsim/breakpoint"
)

var _ = Describe("Manager", func() {
	var (
		m    *breakpoint.Manager
		hook *test.Hook
	)

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		logger.SetLevel(logrus.DebugLevel)
		hook = test.NewLocal(logger)

		m = breakpoint.NewManager(breakpoint.WithLogger(logger))
	})

	Describe("Check", func() {
		BeforeEach(func() {
			m.Add(0x1000)
		})

		It("should hit an added address and count each hit", func() {
			Expect(m.Check(0x1000)).To(BeTrue())
			Expect(m.Check(0x1000)).To(BeTrue())

			Expect(m.List()[0].Hits).To(Equal(uint64(2)))
		})

		It("should miss other addresses without touching hit counts", func() {
			Expect(m.Check(0x1004)).To(BeFalse())
			Expect(m.List()[0].Hits).To(BeZero())
			_, ok := m.Last()
			Expect(ok).To(BeFalse())
		})

		It("should record and clear the last hit", func() {
			m.Check(0x1000)

			addr, ok := m.Last()
			Expect(ok).To(BeTrue())
			Expect(addr).To(Equal(uint64(0x1000)))

			m.ClearLast()
			_, ok = m.Last()
			Expect(ok).To(BeFalse())
		})

		It("should report nothing while disabled and resume when enabled", func() {
			m.Check(0x1000)
			m.ClearLast()

			m.Disable()
			Expect(m.Enabled()).To(BeFalse())
			Expect(m.Check(0x1000)).To(BeFalse())
			Expect(m.List()[0].Hits).To(Equal(uint64(1)))
			_, ok := m.Last()
			Expect(ok).To(BeFalse())

			m.Enable()
			Expect(m.Check(0x1000)).To(BeTrue())
			Expect(m.List()[0].Hits).To(Equal(uint64(2)))
		})
	})

	Describe("List and delete", func() {
		It("should list in address order and keep numbers across deletes", func() {
			m.Add(0xFFFFFFFC)
			m.Add(0x3456)
			m.Check(0xFFFFFFFC)

			list := m.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].Addr).To(Equal(uint64(0x3456)))
			Expect(list[1].Addr).To(Equal(uint64(0xFFFFFFFC)))

			Expect(m.DeleteByAddress(0x3456)).To(BeTrue())

			list = m.List()
			Expect(list).To(Equal([]breakpoint.Breakpoint{
				{Number: 0, Addr: 0xFFFFFFFC, Hits: 1},
			}))
		})

		It("should number entries in insertion order", func() {
			m.Add(0x3456)
			m.Add(0xFFFFFFFC)

			list := m.List()
			Expect(list[0]).To(Equal(breakpoint.Breakpoint{Number: 0, Addr: 0x3456}))
			Expect(list[1]).To(Equal(breakpoint.Breakpoint{Number: 1, Addr: 0xFFFFFFFC}))
		})

		It("should renumber and reset hits on overwrite", func() {
			m.Add(0x10)
			m.Check(0x10)
			bp := m.Add(0x10)

			Expect(bp.Number).To(Equal(1))
			Expect(m.Len()).To(Equal(1))
			Expect(m.List()[0].Hits).To(BeZero())
		})

		It("should log and ignore deletes of missing entries", func() {
			m.Add(0x10)

			Expect(m.DeleteByAddress(0x20)).To(BeFalse())
			Expect(m.DeleteByNumber(7)).To(BeZero())
			Expect(m.Len()).To(Equal(1))
			Expect(hook.Entries).To(HaveLen(2))
			Expect(hook.LastEntry().Message).To(Equal("no breakpoint to delete"))
		})

		It("should delete by number without skipping neighbours", func() {
			m.Add(0x10)
			m.Add(0x20)
			m.Add(0x30)

			Expect(m.DeleteByNumber(1)).To(Equal(1))

			list := m.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].Addr).To(Equal(uint64(0x10)))
			Expect(list[1].Addr).To(Equal(uint64(0x30)))
		})

		It("should restart numbering after DeleteAll", func() {
			m.Add(0x10)
			m.Add(0x20)
			m.DeleteAll()

			Expect(m.Len()).To(BeZero())
			Expect(m.Add(0x30).Number).To(Equal(0))
		})

		It("should keep numbering after single deletes", func() {
			m.Add(0x10)
			m.DeleteByAddress(0x10)

			Expect(m.Add(0x20).Number).To(Equal(1))
		})

		It("should keep a snapshot stable while the table changes", func() {
			m.Add(0x10)
			m.Add(0x20)

			list := m.List()
			for _, bp := range list {
				m.DeleteByAddress(bp.Addr)
			}

			Expect(list).To(HaveLen(2))
			Expect(m.Len()).To(BeZero())
		})
	})

	It("should write a readable listing", func() {
		m.Add(0x3456)
		m.Add(0xFFFFFFFC)
		m.Check(0x3456)

		var buf bytes.Buffer
		_, err := m.WriteTo(&buf)

		Expect(err).ToNot(HaveOccurred())
		Expect(buf.String()).To(Equal(
			"#0 0x00003456 hits=1\n#1 0xFFFFFFFC hits=0\n"))
	})

	It("should survive concurrent use", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(base uint64) {
				defer GinkgoRecover()
				defer wg.Done()
				for j := uint64(0); j < 100; j++ {
					m.Add(base + j*4)
					m.Check(base + j*4)
					_ = m.List()
				}
			}(uint64(i) << 16)
		}
		wg.Wait()

		Expect(m.Len()).To(Equal(800))
	})
})
