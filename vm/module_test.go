package vm_test

import (
	"bytes"
	"log/slog"
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/compiler"
	"github.com/sarchlab/rvaot/insts"
	"github.com/sarchlab/rvaot/vm"
)

var _ = Describe("Frame", func() {
	It("should match the layout generated code uses", func() {
		var f vm.Frame
		Expect(unsafe.Offsetof(f.Regs)).To(Equal(uintptr(compiler.FrameRegs)))
		Expect(unsafe.Offsetof(f.Reason)).To(Equal(uintptr(compiler.FrameReason)))
		Expect(unsafe.Offsetof(f.Resume)).To(Equal(uintptr(compiler.FrameResume)))
		Expect(unsafe.Offsetof(f.X16)).To(Equal(uintptr(compiler.FrameX16)))
		Expect(unsafe.Offsetof(f.X17)).To(Equal(uintptr(compiler.FrameX17)))
		Expect(unsafe.Offsetof(f.Value)).To(Equal(uintptr(compiler.FrameValue)))
		Expect(unsafe.Offsetof(f.HostLR)).To(Equal(uintptr(compiler.FrameHostLR)))
		Expect(unsafe.Sizeof(f)).To(Equal(uintptr(compiler.FrameSize)))
	})
})

var _ = Describe("Module", func() {
	var (
		image []byte
		addr  map[string]uint32
	)

	BeforeEach(func() {
		image, addr = link(
			fn("add", insts.ADD(10, 10, 11), insts.RET()),
			fn("sub", insts.SUB(10, 10, 11), insts.RET()),
		)
	})

	It("should start without code", func() {
		mod, err := vm.NewModule(testConfig(vm.BackendEmulated))
		Expect(err).NotTo(HaveOccurred())
		defer mod.Close()

		Expect(mod.HasCode()).To(BeFalse())
		_, err = mod.Disassemble()
		Expect(err).To(MatchError(vm.ErrNoCode))
	})

	It("should reject an invalid config", func() {
		cfg := testConfig(vm.BackendEmulated)
		cfg.CodeExpansion = 2
		_, err := vm.NewModule(cfg)
		Expect(err).To(MatchError(vm.ErrInvalidConfig))
		Expect(vm.IsConfigError(err)).To(BeTrue())
	})

	It("should log compilations", func() {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

		mod, err := vm.NewModule(testConfig(vm.BackendEmulated), vm.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		defer mod.Close()

		Expect(mod.SetCode(image)).To(Succeed())
		Expect(logs.String()).To(ContainSubstring("module compiled"))
		Expect(logs.String()).To(ContainSubstring("guest_bytes=16"))
	})

	It("should reject images larger than max_code_size", func() {
		cfg := testConfig(vm.BackendEmulated)
		cfg.MaxCodeSize = 8
		mod, err := vm.NewModule(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer mod.Close()

		err = mod.SetCode(image)
		Expect(err).To(MatchError(compiler.ErrBufferExhausted))
		Expect(vm.IsCompileError(err)).To(BeTrue())
	})

	It("should keep the previous code when compilation fails", func() {
		r := newRig(testConfig(vm.BackendEmulated), noSyscalls, image)
		defer r.close()
		r.inst.Detach()

		bad := append(append([]byte{}, image...), 0xFF, 0xFF, 0xFF, 0xFF)
		err := r.module.SetCode(bad)
		Expect(err).To(MatchError(compiler.ErrUnsupportedInstruction))
		Expect(vm.IsCompileError(err)).To(BeTrue())

		var terr *compiler.TranslateError
		Expect(err).To(BeAssignableToTypeOf(terr))

		r.inst.Attach(r.module)
		v, err := r.inst.CallFunction(addr["sub"], 9, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(5)))
	})

	It("should refuse changes while instances are attached", func() {
		r := newRig(testConfig(vm.BackendEmulated), noSyscalls, image)
		defer r.close()

		Expect(r.module.InstanceCount()).To(Equal(1))
		Expect(r.module.SetCode(image)).To(MatchError(vm.ErrModuleInUse))
		Expect(r.module.Close()).To(MatchError(vm.ErrModuleInUse))

		r.inst.Detach()
		Expect(r.module.InstanceCount()).To(BeZero())
		Expect(r.module.SetCodeAt(0x20000, image)).To(Succeed())
		Expect(r.module.Base()).To(Equal(uint32(0x20000)))

		r.inst.Attach(r.module)
		v, err := r.inst.CallFunction(0x20000, 1, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(3)))
	})

	It("should move an instance between modules", func() {
		r := newRig(testConfig(vm.BackendEmulated), noSyscalls, image)
		defer r.close()

		other, err := vm.NewModule(testConfig(vm.BackendEmulated))
		Expect(err).NotTo(HaveOccurred())
		Expect(other.SetCode(image[8:])).To(Succeed())

		r.inst.Attach(other)
		Expect(r.module.InstanceCount()).To(BeZero())
		Expect(other.InstanceCount()).To(Equal(1))

		v, err := r.inst.CallFunction(imageBase, 9, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(5)))

		r.inst.Attach(r.module)
		Expect(other.Close()).To(Succeed())
	})

	It("should fail calls without an attached module or code", func() {
		r := newRig(testConfig(vm.BackendEmulated), noSyscalls, nil)
		defer r.close()

		_, err := r.inst.CallFunction(imageBase)
		Expect(err).To(MatchError(vm.ErrNoCode))

		r.inst.Detach()
		Expect(r.inst.Attached()).To(BeFalse())
		_, err = r.inst.CallFunction(imageBase)
		Expect(err).To(MatchError(vm.ErrNotAttached))
	})

	It("should label the disassembly", func() {
		r := newRig(testConfig(vm.BackendEmulated), noSyscalls, image)
		defer r.close()

		text, err := r.module.Disassemble()
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("enter:\n"))
		Expect(text).To(ContainSubstring("mem.lw:\n"))
		Expect(text).To(ContainSubstring("guest_00010000:\n"))
		Expect(text).To(ContainSubstring("guest_00010008:\n"))
		Expect(text).To(ContainSubstring("ret"))
	})
})
