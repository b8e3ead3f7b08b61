package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/emu"
)

var _ = Describe("Bus", func() {
	var bus *emu.Bus

	BeforeEach(func() {
		bus = emu.NewBus()
		bus.Map("low", 0x1000, make([]byte, 0x100))
		bus.Map("high", 0x8000, make([]byte, 0x10))
	})

	It("should read back little-endian writes", func() {
		Expect(bus.Write(0x1010, 4, 0x11223344)).To(BeTrue())

		v, ok := bus.Read(0x1010, 4)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(0x11223344)))

		b, _ := bus.Read(0x1010, 1)
		Expect(b).To(Equal(uint64(0x44)))
	})

	It("should refuse accesses outside every region", func() {
		_, ok := bus.Read(0x0FFF, 1)
		Expect(ok).To(BeFalse())

		_, ok = bus.Read(0x10FE, 4)
		Expect(ok).To(BeFalse())

		Expect(bus.Write(0x8010, 1, 0)).To(BeFalse())
	})

	It("should keep regions ordered and replace by name", func() {
		bus.Map("mid", 0x4000, make([]byte, 8))
		bus.Map("low", 0x2000, make([]byte, 8))

		var bases []uint64
		for _, r := range bus.Regions() {
			bases = append(bases, r.Base)
		}
		Expect(bases).To(Equal([]uint64{0x2000, 0x4000, 0x8000}))

		bus.Unmap("mid")
		Expect(bus.Regions()).To(HaveLen(2))
	})

	It("should cache resolved regions until flushed", func() {
		calls := 0
		data := make([]byte, 64)
		bus.SetResolver(func(addr uint64) (emu.Region, bool) {
			calls++
			if addr >= 0x9000 && addr < 0x9040 {
				return emu.Region{Name: "table", Base: 0x9000, Data: data}, true
			}
			return emu.Region{}, false
		})

		Expect(bus.Write(0x9008, 8, 7)).To(BeTrue())
		v, ok := bus.Read(0x9008, 8)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(7)))
		Expect(calls).To(Equal(1))

		_, ok = bus.Read(0xA000, 1)
		Expect(ok).To(BeFalse())

		bus.Flush()
		Expect(bus.Regions()).To(HaveLen(2))
		_, _ = bus.Read(0x9000, 1)
		Expect(calls).To(Equal(3))
	})
})
