package vm_test

import (
	"bytes"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/emu"
	"github.com/sarchlab/rvaot/insts"
	"github.com/sarchlab/rvaot/memory"
	"github.com/sarchlab/rvaot/vm"
)

const (
	sysNoop   = 1000
	sysNested = 1001
)

var _ = Describe("CallFunction", func() {
	forEachBackend(func(backend string) {
		var (
			image []byte
			addr  map[string]uint32
			r     *rig
			calls []uint32
		)

		handler := vm.HandlerFunc(func(m *vm.Machine, num uint32) error {
			calls = append(calls, num)
			switch num {
			case sysNoop:
				Expect(m.ReadRegister(30)).To(Equal(uint32(77)))
				m.WriteRegister(30, 100)
				return nil
			case sysNested:
				v, err := m.CallFunction(addr["add"], m.ReadRegister(10), 1)
				if err != nil {
					return err
				}
				m.WriteRegister(10, v*2)
				return nil
			}
			return errors.New("unexpected syscall")
		})

		BeforeEach(func() {
			calls = nil
			image, addr = link(
				fn("add",
					insts.ADD(10, 10, 11),
					insts.RET()),
				// sum of 1..a0
				fn("sum",
					insts.ADDI(5, 0, 0),
					insts.BEQ(10, 0, 16),
					insts.ADD(5, 5, 10),
					insts.ADDI(10, 10, -1),
					insts.JAL(0, -12),
					insts.ADDI(10, 5, 0),
					insts.RET()),
				fn("div", insts.DIV(10, 10, 11), insts.RET()),
				fn("rem", insts.REM(10, 10, 11), insts.RET()),
				fn("divu", insts.DIVU(10, 10, 11), insts.RET()),
				fn("remu", insts.REMU(10, 10, 11), insts.RET()),
				fn("mulh", insts.MULH(10, 10, 11), insts.RET()),
				fn("ecall",
					insts.ADDI(30, 0, 77),
					insts.ADDI(18, 0, 5),
					insts.ADDI(17, 0, sysNoop),
					insts.ECALL(),
					insts.ADD(10, 30, 18),
					insts.RET()),
				fn("word",
					insts.SW(11, 10, 0),
					insts.LW(10, 10, 0),
					insts.RET()),
				fn("byte",
					insts.SB(11, 10, 0),
					insts.LB(10, 10, 0),
					insts.RET()),
				fn("half",
					insts.SH(11, 10, 0),
					insts.LHU(10, 10, 0),
					insts.RET()),
				fn("load", insts.LW(10, 10, 0), insts.RET()),
				fn("nested",
					insts.ADDI(17, 0, sysNested),
					insts.ECALL(),
					insts.RET()),
				fn("jump", insts.JALR(0, 10, 0)),
				fn("args",
					insts.ADD(10, 10, 11), insts.ADD(10, 10, 12), insts.ADD(10, 10, 13),
					insts.ADD(10, 10, 14), insts.ADD(10, 10, 15), insts.ADD(10, 10, 16),
					insts.ADD(10, 10, 17),
					insts.RET()),
				fn("x0",
					insts.ADDI(0, 0, 9),
					insts.ADD(10, 0, 0),
					insts.RET()),
			)
			r = newRig(testConfig(backend), handler, image)
		})

		AfterEach(func() {
			r.close()
		})

		call := func(name string, args ...uint32) uint32 {
			v, err := r.inst.CallFunction(addr[name], args...)
			Expect(err).NotTo(HaveOccurred())
			return v
		}

		It("should add its arguments", func() {
			Expect(call("add", 2, 2)).To(Equal(uint32(4)))
			Expect(call("add", 2, 3)).To(Equal(uint32(5)))
			Expect(call("add", 0xFFFFFFFF, 1)).To(BeZero())
		})

		It("should pass eight arguments", func() {
			Expect(call("args", 1, 2, 3, 4, 5, 6, 7, 8)).To(Equal(uint32(36)))
		})

		It("should run loops with forward and backward branches", func() {
			Expect(call("sum", 10)).To(Equal(uint32(55)))
			Expect(call("sum", 0)).To(BeZero())
		})

		It("should execute the same number of instructions every time", func() {
			emulatedOnly(backend)

			start := r.inst.InstructionCount()
			call("sum", 100)
			first := r.inst.InstructionCount() - start

			start = r.inst.InstructionCount()
			call("sum", 100)
			Expect(r.inst.InstructionCount() - start).To(Equal(first))
		})

		It("should execute a count linear in the loop iterations", func() {
			emulatedOnly(backend)

			count := func(n uint32) uint64 {
				start := r.inst.InstructionCount()
				call("sum", n)
				return r.inst.InstructionCount() - start
			}

			c10, c20, c30 := count(10), count(20), count(30)
			Expect(c20 - c10).To(Equal(c30 - c20))
			Expect(c20).To(BeNumerically(">", c10))
		})

		It("should report which backend ran the code", func() {
			Expect(r.module.Native()).To(Equal(backend == vm.BackendNative))
			call("sum", 10)
			if backend == vm.BackendNative {
				Expect(r.inst.InstructionCount()).To(BeZero())
			} else {
				Expect(r.inst.InstructionCount()).NotTo(BeZero())
			}
		})

		It("should follow RISC-V division semantics", func() {
			Expect(call("div", 7, 0)).To(Equal(uint32(0xFFFFFFFF)))
			Expect(call("divu", 7, 0)).To(Equal(uint32(0xFFFFFFFF)))
			Expect(call("rem", 7, 0)).To(Equal(uint32(7)))
			Expect(call("remu", 7, 0)).To(Equal(uint32(7)))

			Expect(call("div", 0x80000000, 0xFFFFFFFF)).To(Equal(uint32(0x80000000)))
			Expect(call("rem", 0x80000000, 0xFFFFFFFF)).To(BeZero())

			Expect(call("div", uint32(0xFFFFFFF9), 2)).To(Equal(uint32(0xFFFFFFFD)))
			Expect(call("rem", uint32(0xFFFFFFF9), 2)).To(Equal(uint32(0xFFFFFFFF)))
		})

		It("should compute the high product", func() {
			Expect(call("mulh", 0xFFFFFFFF, 0xFFFFFFFF)).To(BeZero())
			Expect(call("mulh", 0x80000000, 2)).To(Equal(uint32(0xFFFFFFFF)))
		})

		It("should keep x0 at zero", func() {
			Expect(call("x0")).To(BeZero())
		})

		It("should keep registers across an ECALL", func() {
			Expect(call("ecall")).To(Equal(uint32(105)))
			Expect(calls).To(Equal([]uint32{sysNoop}))
			Expect(r.inst.ReadRegister(30)).To(Equal(uint32(100)))
			Expect(r.inst.ReadRegister(18)).To(Equal(uint32(5)))
			Expect(r.inst.ReadRegister(1)).To(Equal(uint32(0xFFFFFFFE)))
		})

		Describe("Memory", func() {
			It("should store and load through the tables", func() {
				Expect(call("word", 0x4000, 0xDEADBEEF)).To(Equal(uint32(0xDEADBEEF)))
				Expect(r.inst.Memory().Load(0x4000, 4)).To(Equal(uint32(0xDEADBEEF)))
				Expect(call("load", 0x4000)).To(Equal(uint32(0xDEADBEEF)))
			})

			It("should handle accesses that cross a page", func() {
				addr := uint32(memory.PageSize - 2)
				Expect(call("word", addr, 0x11223344)).To(Equal(uint32(0x11223344)))
				Expect(r.inst.Memory().ResidentPages()).To(Equal(2))
			})

			It("should sign-extend byte loads", func() {
				Expect(call("byte", 0x9000, 0x180)).To(Equal(uint32(0xFFFFFF80)))
				Expect(call("half", 0x9002, 0x18001)).To(Equal(uint32(0x8001)))
			})

			It("should read zeros from untouched memory", func() {
				Expect(call("load", 0x7FFF0000)).To(BeZero())
				Expect(r.inst.Memory().ResidentPages()).To(BeZero())
			})

			It("should see writes made by the host", func() {
				Expect(r.inst.MemoryMut().Store(0x5000, 4, 42)).To(Succeed())
				Expect(call("load", 0x5000)).To(Equal(uint32(42)))
			})

			It("should fail when the page limit is reached", func() {
				for i := uint32(0); i < 16; i++ {
					call("word", i*memory.PageSize, i)
				}

				_, err := r.inst.CallFunction(addr["word"], 16*memory.PageSize, 1)
				Expect(err).To(MatchError(memory.ErrOutOfMemory))
				Expect(vm.IsRuntimeError(err)).To(BeTrue())
				Expect(vm.IsAllocationError(err)).To(BeTrue())

				var rerr *vm.RuntimeError
				Expect(errors.As(err, &rerr)).To(BeTrue())
				Expect(rerr.PC).To(Equal(addr["word"]))
			})

			It("should start empty after Reset", func() {
				call("word", 0x4000, 1)
				r.inst.Reset()
				Expect(call("load", 0x4000)).To(BeZero())
				Expect(r.inst.ReadRegister(10)).To(BeZero())
			})
		})

		Describe("Nesting", func() {
			It("should call back into the guest from a handler", func() {
				Expect(call("nested", 20)).To(Equal(uint32(42)))
				Expect(r.inst.Depth()).To(BeZero())
			})
		})

		Describe("Errors", func() {
			It("should reject calls outside the image", func() {
				_, err := r.inst.CallFunction(imageBase + uint32(len(image)))
				Expect(err).To(MatchError(vm.ErrUnmappedAddress))

				_, err = r.inst.CallFunction(addr["add"] + 2)
				Expect(err).To(MatchError(vm.ErrUnmappedAddress))
			})

			It("should reject more than eight arguments", func() {
				_, err := r.inst.CallFunction(addr["add"], 1, 2, 3, 4, 5, 6, 7, 8, 9)
				Expect(err).To(MatchError(vm.ErrTooManyArgs))
			})

			It("should report indirect jumps outside the image", func() {
				_, err := r.inst.CallFunction(addr["jump"], 0x5)
				var rerr *vm.RuntimeError
				Expect(errors.As(err, &rerr)).To(BeTrue())
				Expect(rerr.Err).To(MatchError(vm.ErrBadJump))
				Expect(rerr.PC).To(Equal(uint32(0x4)))

				_, err = r.inst.CallFunction(addr["jump"], 0x6)
				Expect(errors.As(err, &rerr)).To(BeTrue())
				Expect(rerr.PC).To(Equal(uint32(0x6)))

				_, err = r.inst.CallFunction(addr["jump"], 0x7FFF0000)
				Expect(err).To(MatchError(vm.ErrBadJump))
			})

			It("should report misaligned indirect jumps inside the image", func() {
				_, err := r.inst.CallFunction(addr["jump"], addr["x0"]+2)
				var rerr *vm.RuntimeError
				Expect(errors.As(err, &rerr)).To(BeTrue())
				Expect(rerr.Err).To(MatchError(vm.ErrBadJump))
				Expect(rerr.PC).To(Equal(addr["x0"] + 2))
			})

			It("should jump within the image", func() {
				v, err := r.inst.CallFunction(addr["jump"], addr["x0"])
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(BeZero())
			})

			It("should wrap handler failures", func() {
				r2 := newRig(testConfig(backend), noSyscalls, image)
				defer r2.close()

				_, err := r2.inst.CallFunction(addr["ecall"])
				Expect(err).To(MatchError(vm.ErrHandler))
				Expect(vm.IsRuntimeError(err)).To(BeTrue())
			})

			It("should fail when nesting exceeds the spill stack", func() {
				nest := vm.HandlerFunc(func(m *vm.Machine, _ uint32) error {
					_, err := m.CallFunction(addr["nested"])
					return err
				})
				r2 := newRig(testConfig(backend), nest, image)
				defer r2.close()

				_, err := r2.inst.CallFunction(addr["nested"])
				Expect(err).To(MatchError(vm.ErrSpillOverflow))
				Expect(r2.inst.Depth()).To(BeZero())
			})
		})
	})
})

var _ = Describe("Program termination", func() {
	forEachBackend(func(backend string) {
		It("should trap on EBREAK when configured", func() {
			cfg := testConfig(backend)
			cfg.Ebreak = vm.EbreakTrap
			image, _ := link(fn("main", insts.ADDI(10, 0, 1), insts.EBREAK(), insts.RET()))
			r := newRig(cfg, noSyscalls, image)
			defer r.close()

			_, err := r.inst.CallFunction(imageBase)
			var rerr *vm.RuntimeError
			Expect(errors.As(err, &rerr)).To(BeTrue())
			Expect(rerr.Err).To(MatchError(vm.ErrBreakpoint))
			Expect(rerr.PC).To(Equal(uint32(imageBase + 4)))
		})

		It("should ignore EBREAK by default", func() {
			image, _ := link(fn("main", insts.ADDI(10, 0, 1), insts.EBREAK(), insts.RET()))
			r := newRig(testConfig(backend), noSyscalls, image)
			defer r.close()

			v, err := r.inst.CallFunction(imageBase)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(1)))
		})

		It("should report running off the end of the image", func() {
			image, _ := link(fn("main", insts.ADDI(10, 0, 1)))
			r := newRig(testConfig(backend), noSyscalls, image)
			defer r.close()

			_, err := r.inst.CallFunction(imageBase)
			var rerr *vm.RuntimeError
			Expect(errors.As(err, &rerr)).To(BeTrue())
			Expect(rerr.PC).To(Equal(uint32(imageBase + 4)))
			Expect(rerr.Err).To(MatchError(vm.ErrBadJump))
		})

		It("should stop at the instruction limit", func() {
			emulatedOnly(backend)

			cfg := testConfig(backend)
			cfg.MaxInstructions = 1000
			image, _ := link(fn("spin", insts.JAL(0, 0)))
			r := newRig(cfg, noSyscalls, image)
			defer r.close()

			_, err := r.inst.CallFunction(imageBase)
			Expect(err).To(MatchError(emu.ErrInstructionLimit))
			Expect(vm.IsRuntimeError(err)).To(BeTrue())
		})

		It("should write and exit through the Linux handler", func() {
			var stdout bytes.Buffer
			h := vm.NewLinuxHandler(nil, &stdout, nil)
			image, addr := link(fn("main",
				// write(1, a0, a1); exit(a0 + 1)
				insts.ADDI(12, 11, 0),
				insts.ADDI(11, 10, 0),
				insts.ADDI(10, 0, 1),
				insts.ADDI(17, 0, int32(vm.SyscallWrite)),
				insts.ECALL(),
				insts.ADDI(10, 10, 1),
				insts.ADDI(17, 0, int32(vm.SyscallExit)),
				insts.ECALL(),
				insts.RET(),
			))
			r := newRig(testConfig(backend), h, image)
			defer r.close()

			Expect(r.inst.MemoryMut().Write(0x8000, []byte("hello\n"))).To(Succeed())
			_, err := r.inst.CallFunction(addr["main"], 0x8000, 6)

			var exit *vm.ExitError
			Expect(errors.As(err, &exit)).To(BeTrue())
			Expect(exit.Code).To(Equal(int32(7)))
			Expect(stdout.String()).To(Equal("hello\n"))
		})
	})
})

var _ = Describe("LinuxHandler", func() {
	forEachBackend(func(backend string) {
		var (
			r    *rig
			addr map[string]uint32
		)

		BeforeEach(func() {
			var image []byte
			image, addr = link(fn("syscall",
				// a7 = a3; ecall
				insts.ADDI(17, 13, 0),
				insts.ECALL(),
				insts.RET(),
			))
			h := vm.NewLinuxHandler(strings.NewReader("abc"), io.Discard, nil)
			r = newRig(testConfig(backend), h, image)
		})

		AfterEach(func() {
			r.close()
		})

		It("should read stdin into guest memory", func() {
			n, err := r.inst.CallFunction(addr["syscall"], 0, 0x6000, 16, vm.SyscallRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(uint32(3)))
			Expect(r.inst.Memory().Load(0x6000, 4)).To(Equal(uint32(0x00636261)))

			n, err = r.inst.CallFunction(addr["syscall"], 0, 0x6000, 16, vm.SyscallRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should return negated errno values", func() {
			v, err := r.inst.CallFunction(addr["syscall"], 5, 0x6000, 1, vm.SyscallRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(int32(v)).To(Equal(int32(-vm.EBADF)))

			v, err = r.inst.CallFunction(addr["syscall"], 2, 0x6000, 1, vm.SyscallWrite)
			Expect(err).NotTo(HaveOccurred())
			Expect(int32(v)).To(Equal(int32(-vm.EBADF)))

			v, err = r.inst.CallFunction(addr["syscall"], 0, 0, 0, 500)
			Expect(err).NotTo(HaveOccurred())
			Expect(int32(v)).To(Equal(int32(-vm.ENOSYS)))
		})
	})
})
