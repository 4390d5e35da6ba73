package emu_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ppcsim/emu"
)

var _ = Describe("Registry", func() {
	var reg *emu.Registry

	newCore := func(name string) *emu.E500 {
		c, err := emu.NewE500(reg, emu.CoreConfig{Name: name}, emu.WithLogger(quietLogger()))
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		reg = emu.NewRegistry()
	})

	It("should number cores in creation order", func() {
		a := newCore("a")
		b := newCore("b")

		Expect(a.ID()).To(Equal(0))
		Expect(b.ID()).To(Equal(1))
		Expect(a.Sequence()).To(Equal(0))
		Expect(b.Sequence()).To(Equal(1))
		Expect(reg.Live()).To(Equal(2))
	})

	It("should drop a core once on close and never reuse its id", func() {
		a := newCore("a")
		newCore("b")

		a.Close()
		a.Close()

		Expect(reg.Live()).To(Equal(1))
		_, ok := reg.Lookup(a.ID())
		Expect(ok).To(BeFalse())

		c := newCore("c")
		Expect(c.ID()).To(Equal(2))
		Expect(c.Sequence()).To(Equal(1))
		Expect(reg.Allocated()).To(Equal(3))
	})

	It("should list live cores by id", func() {
		newCore("a")
		b := newCore("b")
		newCore("c")
		b.Close()

		names := []string{}
		for _, c := range reg.Cores() {
			names = append(names, c.Name())
		}
		Expect(names).To(Equal([]string{"a", "c"}))
	})

	It("should hand out distinct ids under concurrent creation", func() {
		var wg sync.WaitGroup
		ids := make([]int, 16)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				c, err := emu.NewE500(reg, emu.CoreConfig{Name: "p"}, emu.WithLogger(quietLogger()))
				Expect(err).NotTo(HaveOccurred())
				ids[i] = c.ID()
			}(i)
		}
		wg.Wait()

		Expect(reg.Live()).To(Equal(16))
		seen := map[int]bool{}
		for _, id := range ids {
			seen[id] = true
		}
		Expect(seen).To(HaveLen(16))
	})

	It("should sum instruction counts", func() {
		a := newCore("a")
		b := newCore("b")
		a.Exec("nop")
		b.Exec("nop")
		b.Exec("nop")

		Expect(reg.Totals()).To(Equal(uint64(3)))
	})
})
