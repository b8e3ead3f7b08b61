package arm64_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/arm64"
)

func must(word uint32, err error) uint32 {
	if err != nil {
		panic(err)
	}
	return word
}

var _ = Describe("Encoder", func() {
	DescribeTable("should produce reference encodings",
		func(word, expected uint32) {
			Expect(word).To(Equal(expected))
		},
		Entry("add w0, w1, #42", must(arm64.AddImm(arm64.W, arm64.X0, arm64.X1, 42, false)), uint32(0x1100A820)),
		Entry("add x0, x1, #42", must(arm64.AddImm(arm64.X, arm64.X0, arm64.X1, 42, false)), uint32(0x9100A820)),
		Entry("movz w16, #0x1234", must(arm64.MovZ(arm64.W, arm64.X16, 0x1234, 0)), uint32(0x52824690)),
		Entry("ret", arm64.Ret(arm64.LR), arm64.RET),
		Entry("b #8", must(arm64.B(8)), uint32(0x14000002)),
		Entry("b.eq #-4", must(arm64.BCond(arm64.CondEQ, -4)), uint32(0x54FFFFE0)),
		Entry("ldr x0, [x0, x17, lsl #3]", must(arm64.LdrStrReg(arm64.LoadX, arm64.X0, arm64.X0, arm64.X17, true)), uint32(0xF8717800)),
		Entry("sdiv w0, w1, w2", arm64.Sdiv(arm64.W, arm64.X0, arm64.X1, arm64.X2), uint32(0x1AC20C20)),
		Entry("cset w0, lt", arm64.Cset(arm64.W, arm64.X0, arm64.CondLT), uint32(0x1A9FA7E0)),
		Entry("mov w1, w2", arm64.Mov(arm64.W, arm64.X1, arm64.X2), uint32(0x2A0203E1)),
		Entry("ldr w17, [x27, #8]", must(arm64.LdrStrImm(arm64.LoadW, arm64.X17, arm64.X27, 8)), uint32(0xB9400B71)),
	)

	Describe("branch validation", func() {
		It("should reject misaligned offsets", func() {
			_, err := arm64.B(2)
			Expect(err).To(MatchError(arm64.ErrBranchMisaligned))
		})

		It("should accept the extremes of the B.cond range", func() {
			_, err := arm64.BCond(arm64.CondNE, arm64.MaxBranch19-4)
			Expect(err).NotTo(HaveOccurred())
			_, err = arm64.BCond(arm64.CondNE, -arm64.MaxBranch19)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject offsets beyond the B.cond range", func() {
			_, err := arm64.BCond(arm64.CondNE, arm64.MaxBranch19)
			Expect(err).To(MatchError(arm64.ErrBranchOutOfRange))
			_, err = arm64.Cbz(arm64.W, arm64.X0, -arm64.MaxBranch19-4)
			Expect(err).To(MatchError(arm64.ErrBranchOutOfRange))
		})

		It("should reject offsets beyond the B range", func() {
			_, err := arm64.BL(arm64.MaxBranch26)
			Expect(err).To(MatchError(arm64.ErrBranchOutOfRange))
		})
	})

	Describe("immediate validation", func() {
		It("should reject add immediates wider than 12 bits", func() {
			_, err := arm64.AddImm(arm64.W, arm64.X0, arm64.X0, 4096, false)
			Expect(err).To(MatchError(arm64.ErrImmediateOutOfRange))
		})

		It("should reject unscaled load offsets", func() {
			_, err := arm64.LdrStrImm(arm64.LoadX, arm64.X0, arm64.X1, 4)
			Expect(err).To(MatchError(arm64.ErrImmediateOutOfRange))
		})

		It("should reject 32-bit moves shifted by 32", func() {
			_, err := arm64.MovK(arm64.W, arm64.X0, 1, 32)
			Expect(err).To(MatchError(arm64.ErrImmediateOutOfRange))
		})
	})
})
