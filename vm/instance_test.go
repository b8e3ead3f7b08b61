package vm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/insts"
	"github.com/sarchlab/rvaot/memory"
	"github.com/sarchlab/rvaot/vm"
)

// countingHandler records the syscalls it serves.
type countingHandler struct {
	nums []uint32
}

func (h *countingHandler) Syscall(m *vm.Machine, num uint32) error {
	h.nums = append(h.nums, num)
	m.WriteRegister(10, uint32(len(h.nums)))
	return nil
}

var _ = Describe("Instance", func() {
	It("should dispatch ECALL to its bound handler", func() {
		cfg := testConfig(vm.BackendEmulated)
		store, err := memory.NewPageStore(cfg.PageStorePages)
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(store.Close()).To(Succeed()) }()

		image, addr := link(fn("main",
			insts.ADDI(17, 0, 42),
			insts.ECALL(),
			insts.ECALL(),
			insts.RET()))
		mod, err := vm.NewModule(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(mod.Close()).To(Succeed()) }()
		Expect(mod.SetCode(image)).To(Succeed())

		inst, err := vm.NewInstance(cfg, &countingHandler{}, vm.WithPageStore(store))
		Expect(err).NotTo(HaveOccurred())
		defer inst.Close()
		inst.Attach(mod)

		v, err := inst.CallFunction(addr["main"])
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(2)))

		var h *countingHandler = inst.Handler()
		Expect(h.nums).To(Equal([]uint32{42, 42}))
	})

	It("should bound the L2 tables of its memory", func() {
		cfg := testConfig(vm.BackendEmulated)
		cfg.MaxL2Tables = 1
		image, addr := link(fn("store", insts.SW(11, 10, 0), insts.RET()))
		r := newRig(cfg, noSyscalls, image)
		defer r.close()

		_, err := r.inst.CallFunction(addr["store"], 0x00004000, 1)
		Expect(err).NotTo(HaveOccurred())

		_, err = r.inst.CallFunction(addr["store"], 0x01000000, 1)
		Expect(err).To(MatchError(memory.ErrL2TablesExhausted))
		Expect(vm.IsAllocationError(err)).To(BeTrue())
		Expect(r.inst.Memory().ResidentPages()).To(Equal(1))
	})

	It("should refuse a page store capacity other than the live one", func() {
		store, err := vm.DefaultPageStore(64)
		Expect(err).NotTo(HaveOccurred())

		again, err := vm.DefaultPageStore(store.Capacity())
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(store))

		_, err = vm.DefaultPageStore(store.Capacity() + 1)
		Expect(err).To(MatchError(vm.ErrInvalidConfig))

		cfg := testConfig(vm.BackendEmulated)
		cfg.PageStorePages = store.Capacity() * 2
		_, err = vm.NewInstance(cfg, noSyscalls)
		Expect(err).To(MatchError(vm.ErrInvalidConfig))
		Expect(vm.IsConfigError(err)).To(BeTrue())
	})
})
