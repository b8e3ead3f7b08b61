package emu

import "github.com/sarchlab/rvaot/arm64"

// BranchUnit implements the branch instructions.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// B branches PC-relative.
func (b *BranchUnit) B(offset int64) {
	b.regFile.PC = uint64(int64(b.regFile.PC) + offset)
}

// BL saves PC+4 in X30 and branches PC-relative.
func (b *BranchUnit) BL(offset int64) {
	b.regFile.WriteReg(30, b.regFile.PC+4)
	b.B(offset)
}

// BR branches to the address in rn.
func (b *BranchUnit) BR(rn uint8) {
	b.regFile.PC = b.regFile.ReadReg(rn)
}

// BLR branches to the address in rn, saving PC+4 in X30.
func (b *BranchUnit) BLR(rn uint8) {
	target := b.regFile.ReadReg(rn)
	b.regFile.WriteReg(30, b.regFile.PC+4)
	b.regFile.PC = target
}

// BCond branches PC-relative when cond holds and falls through otherwise.
func (b *BranchUnit) BCond(offset int64, cond arm64.Cond) {
	if b.CheckCondition(cond) {
		b.B(offset)
		return
	}
	b.regFile.PC += 4
}

// CompareBranch implements CBZ (nonZero false) and CBNZ.
func (b *BranchUnit) CompareBranch(rt uint8, offset int64, nonZero, is64 bool) {
	v := b.regFile.ReadReg(rt)
	if !is64 {
		v &= 0xFFFFFFFF
	}
	if (v != 0) == nonZero {
		b.B(offset)
		return
	}
	b.regFile.PC += 4
}

// CheckCondition evaluates a condition code against PSTATE.
func (b *BranchUnit) CheckCondition(cond arm64.Cond) bool {
	p := &b.regFile.PSTATE

	switch cond {
	case arm64.CondEQ:
		return p.Z
	case arm64.CondNE:
		return !p.Z
	case arm64.CondCS:
		return p.C
	case arm64.CondCC:
		return !p.C
	case arm64.CondMI:
		return p.N
	case arm64.CondPL:
		return !p.N
	case arm64.CondVS:
		return p.V
	case arm64.CondVC:
		return !p.V
	case arm64.CondHI:
		return p.C && !p.Z
	case arm64.CondLS:
		return !p.C || p.Z
	case arm64.CondGE:
		return p.N == p.V
	case arm64.CondLT:
		return p.N != p.V
	case arm64.CondGT:
		return !p.Z && p.N == p.V
	case arm64.CondLE:
		return p.Z || p.N != p.V
	}
	return true
}
