package emu

import "github.com/sarchlab/rvaot/arm64"

// ALU implements the arithmetic and logic instructions.
type ALU struct {
	regFile *RegFile
}

// NewALU creates an ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// width returns the operand mask and sign bit for the instruction size.
func width(is64 bool) (mask uint64, sign uint) {
	if is64 {
		return ^uint64(0), 63
	}
	return 0xFFFFFFFF, 31
}

// Add computes op1 + op2 (or op1 - op2 when sub is set) in the W or X
// form and writes the result to rd.
func (a *ALU) Add(rd uint8, op1, op2 uint64, sub, is64, setFlags, rdIsSP bool) {
	mask, _ := width(is64)
	op1 &= mask
	op2 &= mask

	var result uint64
	if sub {
		result = (op1 - op2) & mask
	} else {
		result = (op1 + op2) & mask
	}

	if setFlags {
		if sub {
			a.setSubFlags(op1, op2, result, is64)
		} else {
			a.setAddFlags(op1, op2, result, is64)
		}
	}

	if rdIsSP {
		a.regFile.WriteRegOrSP(rd, result)
		return
	}
	a.regFile.WriteReg(rd, result)
}

// Logical computes AND, ORR or EOR and writes the result to rd. ANDS sets
// N and Z and clears C and V.
func (a *ALU) Logical(op arm64.Op, rd uint8, op1, op2 uint64, is64, setFlags bool) {
	var result uint64
	switch op {
	case arm64.OpAND:
		result = op1 & op2
	case arm64.OpORR:
		result = op1 | op2
	case arm64.OpEOR:
		result = op1 ^ op2
	}

	mask, _ := width(is64)
	result &= mask
	if setFlags {
		a.setLogicFlags(result, is64)
	}
	a.regFile.WriteReg(rd, result)
}

func (a *ALU) setAddFlags(op1, op2, result uint64, is64 bool) {
	_, sign := width(is64)
	p := &a.regFile.PSTATE
	p.N = (result>>sign)&1 == 1
	p.Z = result == 0
	p.C = result < op1

	s1, s2, sr := (op1>>sign)&1, (op2>>sign)&1, (result>>sign)&1
	p.V = s1 == s2 && s1 != sr
}

func (a *ALU) setSubFlags(op1, op2, result uint64, is64 bool) {
	_, sign := width(is64)
	p := &a.regFile.PSTATE
	p.N = (result>>sign)&1 == 1
	p.Z = result == 0
	// No borrow.
	p.C = op1 >= op2

	s1, s2, sr := (op1>>sign)&1, (op2>>sign)&1, (result>>sign)&1
	p.V = s1 != s2 && s2 == sr
}

func (a *ALU) setLogicFlags(result uint64, is64 bool) {
	_, sign := width(is64)
	p := &a.regFile.PSTATE
	p.N = (result>>sign)&1 == 1
	p.Z = result == 0
	p.C = false
	p.V = false
}

// applyShift applies a register operand shift in the W or X form.
func applyShift(value uint64, shiftType arm64.ShiftType, amount uint8, is64 bool) uint64 {
	if amount == 0 {
		return value
	}
	if !is64 {
		v := uint32(value)
		switch shiftType {
		case arm64.ShiftLSL:
			return uint64(v << amount)
		case arm64.ShiftLSR:
			return uint64(v >> amount)
		case arm64.ShiftASR:
			return uint64(uint32(int32(v) >> amount))
		case arm64.ShiftROR:
			return uint64(v>>amount | v<<(32-amount))
		}
		return uint64(v)
	}

	switch shiftType {
	case arm64.ShiftLSL:
		return value << amount
	case arm64.ShiftLSR:
		return value >> amount
	case arm64.ShiftASR:
		return uint64(int64(value) >> amount)
	case arm64.ShiftROR:
		return value>>amount | value<<(64-amount)
	}
	return value
}

// bitfield implements SBFM and UBFM. The W form operates on the low 32
// bits and zero-extends the result.
func bitfield(value uint64, immr, imms uint8, signed, is64 bool) uint64 {
	size := uint8(32)
	if is64 {
		size = 64
	}
	if !is64 {
		value &= 0xFFFFFFFF
	}

	var result uint64
	var top uint8 // highest result bit taken from the source
	if imms >= immr {
		// Extract bits [imms:immr] to the bottom.
		w := imms - immr + 1
		result = (value >> immr) & lowMask(w)
		top = w - 1
	} else {
		// Insert bits [imms:0] at size-immr.
		w := imms + 1
		shift := size - immr
		result = (value & lowMask(w)) << shift
		top = shift + w - 1
	}

	if signed && (result>>top)&1 == 1 {
		result |= ^lowMask(top + 1)
	}
	if !is64 {
		result &= 0xFFFFFFFF
	}
	return result
}

func lowMask(bits uint8) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bits - 1
}
