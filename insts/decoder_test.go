package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	decode := func(word uint32) *insts.Instruction {
		inst, err := decoder.Decode(word)
		Expect(err).NotTo(HaveOccurred())
		return inst
	}

	Describe("R-type", func() {
		// add x10, x10, x11 -> 0x00B50533
		It("should decode ADD", func() {
			inst := decode(0x00B50533)

			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.Format).To(Equal(insts.FormatR))
			Expect(inst.Rd).To(Equal(uint8(10)))
			Expect(inst.Rs1).To(Equal(uint8(10)))
			Expect(inst.Rs2).To(Equal(uint8(11)))
		})

		// sub x5, x6, x7 -> 0x407302B3
		It("should decode SUB", func() {
			inst := decode(0x407302B3)

			Expect(inst.Op).To(Equal(insts.OpSUB))
			Expect(inst.Rd).To(Equal(uint8(5)))
			Expect(inst.Rs1).To(Equal(uint8(6)))
			Expect(inst.Rs2).To(Equal(uint8(7)))
		})

		// mul x10, x11, x12 -> 0x02C58533
		It("should decode MUL from the M extension", func() {
			inst := decode(0x02C58533)

			Expect(inst.Op).To(Equal(insts.OpMUL))
			Expect(inst.Rd).To(Equal(uint8(10)))
			Expect(inst.Rs1).To(Equal(uint8(11)))
			Expect(inst.Rs2).To(Equal(uint8(12)))
		})
	})

	Describe("I-type", func() {
		// addi x11, x11, 10 -> 0x00A58593
		It("should decode ADDI", func() {
			inst := decode(0x00A58593)

			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Format).To(Equal(insts.FormatI))
			Expect(inst.Rd).To(Equal(uint8(11)))
			Expect(inst.Rs1).To(Equal(uint8(11)))
			Expect(inst.Imm).To(Equal(int32(10)))
		})

		// lw x5, -4(x2) -> 0xFFC12283
		It("should sign-extend load offsets", func() {
			inst := decode(0xFFC12283)

			Expect(inst.Op).To(Equal(insts.OpLW))
			Expect(inst.Rd).To(Equal(uint8(5)))
			Expect(inst.Rs1).To(Equal(uint8(2)))
			Expect(inst.Imm).To(Equal(int32(-4)))
		})

		// srai x1, x2, 3 -> 0x40315093
		It("should decode SRAI with its shift amount", func() {
			inst := decode(0x40315093)

			Expect(inst.Op).To(Equal(insts.OpSRAI))
			Expect(inst.Imm).To(Equal(int32(3)))
		})

		// jalr x0, 0(x1) -> 0x00008067
		It("should decode RET", func() {
			inst := decode(0x00008067)

			Expect(inst.Op).To(Equal(insts.OpJALR))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rs1).To(Equal(uint8(1)))
			Expect(inst.Imm).To(Equal(int32(0)))
		})
	})

	Describe("S-type and B-type", func() {
		// sw x5, 8(x2) -> 0x00512423
		It("should decode SW", func() {
			inst := decode(0x00512423)

			Expect(inst.Op).To(Equal(insts.OpSW))
			Expect(inst.Rs1).To(Equal(uint8(2)))
			Expect(inst.Rs2).To(Equal(uint8(5)))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		// beq x1, x2, -8 -> 0xFE208CE3
		It("should decode a backward BEQ", func() {
			inst := decode(0xFE208CE3)

			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Format).To(Equal(insts.FormatB))
			Expect(inst.Rs1).To(Equal(uint8(1)))
			Expect(inst.Rs2).To(Equal(uint8(2)))
			Expect(inst.Imm).To(Equal(int32(-8)))
		})
	})

	Describe("U-type and J-type", func() {
		// lui x5, 0x12345 -> 0x123452B7
		It("should decode LUI", func() {
			inst := decode(0x123452B7)

			Expect(inst.Op).To(Equal(insts.OpLUI))
			Expect(inst.Rd).To(Equal(uint8(5)))
			Expect(inst.Imm).To(Equal(int32(0x12345000)))
		})

		// jal x1, 2048 -> 0x001000EF
		It("should decode JAL", func() {
			inst := decode(0x001000EF)

			Expect(inst.Op).To(Equal(insts.OpJAL))
			Expect(inst.Rd).To(Equal(uint8(1)))
			Expect(inst.Imm).To(Equal(int32(2048)))
		})
	})

	Describe("System", func() {
		It("should decode ECALL and EBREAK", func() {
			Expect(decode(insts.WordECALL).Op).To(Equal(insts.OpECALL))
			Expect(decode(insts.WordEBREAK).Op).To(Equal(insts.OpEBREAK))
		})

		It("should decode FENCE and FENCE.I", func() {
			Expect(decode(insts.WordFENCE).Op).To(Equal(insts.OpFENCE))
			Expect(decode(insts.WordFENCEI).Op).To(Equal(insts.OpFENCEI))
		})
	})

	Describe("Invalid encodings", func() {
		DescribeTable("should be rejected",
			func(word uint32) {
				_, err := decoder.Decode(word)
				Expect(err).To(MatchError(insts.ErrInvalidInstruction))

				var decodeErr *insts.DecodeError
				Expect(err).To(BeAssignableToTypeOf(decodeErr))
			},
			Entry("all zeros", uint32(0x00000000)),
			Entry("all ones", uint32(0xFFFFFFFF)),
			Entry("csrrw", uint32(0x34011073)),
			Entry("add with reserved funct7", uint32(0x20B50533)),
			Entry("slli with shamt[5] set", uint32(0x02011093)),
			Entry("load with funct3 0b011", uint32(0x00013283)),
			Entry("branch with funct3 0b010", uint32(0x00202063)),
		)
	})
})
