package arm64_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/arm64"
)

var _ = Describe("Decoder", func() {
	var decoder *arm64.Decoder

	BeforeEach(func() {
		decoder = arm64.NewDecoder()
	})

	Describe("Data Processing (Immediate)", func() {
		// ADD X0, X1, #42 -> 0x9100A820
		It("should decode ADD X0, X1, #42", func() {
			inst := decoder.Decode(0x9100A820)

			Expect(inst.Op).To(Equal(arm64.OpADD))
			Expect(inst.Is64Bit).To(BeTrue())
			Expect(inst.SetFlags).To(BeFalse())
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rn).To(Equal(uint8(1)))
			Expect(inst.Imm).To(Equal(uint64(42)))
			Expect(inst.Format).To(Equal(arm64.FormatDPImm))
		})

		It("should decode CMP W5, #7 as SUBS to WZR", func() {
			inst := decoder.Decode(must(arm64.SubsImm(arm64.W, arm64.XZR, arm64.X5, 7, false)))

			Expect(inst.Op).To(Equal(arm64.OpSUB))
			Expect(inst.SetFlags).To(BeTrue())
			Expect(inst.Rd).To(Equal(uint8(31)))
			Expect(inst.Imm).To(Equal(uint64(7)))
		})
	})

	Describe("Move wide and bitfield", func() {
		It("should decode MOVK with its shift", func() {
			inst := decoder.Decode(must(arm64.MovK(arm64.W, arm64.X16, 0xBEEF, 16)))

			Expect(inst.Op).To(Equal(arm64.OpMOVK))
			Expect(inst.Format).To(Equal(arm64.FormatMoveWide))
			Expect(inst.Rd).To(Equal(uint8(16)))
			Expect(inst.Imm).To(Equal(uint64(0xBEEF)))
			Expect(inst.Shift).To(Equal(uint8(16)))
		})

		It("should decode UBFX as UBFM", func() {
			inst := decoder.Decode(must(arm64.Ubfx(arm64.X, arm64.X17, arm64.X16, 14, 10)))

			Expect(inst.Op).To(Equal(arm64.OpUBFM))
			Expect(inst.Is64Bit).To(BeTrue())
			Expect(inst.Immr).To(Equal(uint8(14)))
			Expect(inst.Imms).To(Equal(uint8(23)))
		})
	})

	Describe("Register forms", func() {
		It("should decode SDIV", func() {
			inst := decoder.Decode(arm64.Sdiv(arm64.W, arm64.X0, arm64.X1, arm64.X2))

			Expect(inst.Op).To(Equal(arm64.OpSDIV))
			Expect(inst.Rn).To(Equal(uint8(1)))
			Expect(inst.Rm).To(Equal(uint8(2)))
		})

		It("should decode MSUB with its accumulator", func() {
			inst := decoder.Decode(arm64.Msub(arm64.W, arm64.X0, arm64.X1, arm64.X2, arm64.X3))

			Expect(inst.Op).To(Equal(arm64.OpMSUB))
			Expect(inst.Ra).To(Equal(uint8(3)))
		})

		It("should decode UMULL as UMADDL", func() {
			inst := decoder.Decode(arm64.Umull(arm64.X5, arm64.X6, arm64.X7))

			Expect(inst.Op).To(Equal(arm64.OpUMADDL))
			Expect(inst.Ra).To(Equal(uint8(31)))
		})

		It("should decode CSET as CSINC with the inverted condition", func() {
			inst := decoder.Decode(arm64.Cset(arm64.W, arm64.X3, arm64.CondLO))

			Expect(inst.Op).To(Equal(arm64.OpCSINC))
			Expect(inst.Cond).To(Equal(arm64.CondHS))
			Expect(inst.Rn).To(Equal(uint8(31)))
			Expect(inst.Rm).To(Equal(uint8(31)))
		})
	})

	Describe("Branches", func() {
		It("should decode a backward B.cond", func() {
			inst := decoder.Decode(0x54FFFFE0)

			Expect(inst.Op).To(Equal(arm64.OpBCond))
			Expect(inst.BranchOffset).To(Equal(int64(-4)))
			Expect(inst.Cond).To(Equal(arm64.CondEQ))
		})

		It("should decode BL with a large forward offset", func() {
			inst := decoder.Decode(must(arm64.BL(0x100000)))

			Expect(inst.Op).To(Equal(arm64.OpBL))
			Expect(inst.BranchOffset).To(Equal(int64(0x100000)))
		})

		It("should decode CBNZ", func() {
			inst := decoder.Decode(must(arm64.Cbnz(arm64.X, arm64.X9, 12)))

			Expect(inst.Op).To(Equal(arm64.OpCBNZ))
			Expect(inst.Is64Bit).To(BeTrue())
			Expect(inst.Rd).To(Equal(uint8(9)))
			Expect(inst.BranchOffset).To(Equal(int64(12)))
		})

		It("should decode RET", func() {
			inst := decoder.Decode(arm64.RET)

			Expect(inst.Op).To(Equal(arm64.OpRET))
			Expect(inst.Rn).To(Equal(uint8(30)))
		})
	})

	Describe("Loads and stores", func() {
		It("should decode LDRSH with a scaled offset", func() {
			inst := decoder.Decode(must(arm64.LdrStrImm(arm64.LoadSH, arm64.X17, arm64.X0, 6)))

			Expect(inst.Op).To(Equal(arm64.OpLDR))
			Expect(inst.Format).To(Equal(arm64.FormatLoadStoreImm))
			Expect(inst.Signed).To(BeTrue())
			Expect(inst.AccessBytes).To(Equal(uint8(2)))
			Expect(inst.Imm).To(Equal(uint64(6)))
		})

		It("should decode a register-offset load with scaling", func() {
			inst := decoder.Decode(0xF8717800)

			Expect(inst.Op).To(Equal(arm64.OpLDR))
			Expect(inst.Format).To(Equal(arm64.FormatLoadStoreReg))
			Expect(inst.Rm).To(Equal(uint8(17)))
			Expect(inst.ShiftAmount).To(Equal(uint8(3)))
		})

		It("should decode a literal load", func() {
			inst := decoder.Decode(must(arm64.LdrLiteral(arm64.X, arm64.X0, -16384)))

			Expect(inst.Format).To(Equal(arm64.FormatLoadLiteral))
			Expect(inst.AccessBytes).To(Equal(uint8(8)))
			Expect(inst.BranchOffset).To(Equal(int64(-16384)))
		})

		It("should decode STP with a signed offset", func() {
			inst := decoder.Decode(must(arm64.Stp(arm64.X19, arm64.X20, arm64.X27, 152)))

			Expect(inst.Op).To(Equal(arm64.OpSTP))
			Expect(inst.Rd).To(Equal(uint8(19)))
			Expect(inst.Ra).To(Equal(uint8(20)))
			Expect(inst.Rn).To(Equal(uint8(27)))
			Expect(inst.Imm).To(Equal(uint64(152)))
		})
	})

	It("should report unknown words", func() {
		Expect(decoder.Decode(0x00000000).Op).To(Equal(arm64.OpUnknown))
	})
})
