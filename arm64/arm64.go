// Package arm64 provides ARM64 instruction encoding and decoding for the
// subset of the A64 instruction set emitted by the translator.
//
// Encoders are pure functions returning 32-bit instruction words. Encoders
// whose operands can be out of range (immediates, branch offsets, load
// offsets) return an error instead of truncating.
//
// Usage:
//
//	word, err := arm64.AddImm(arm64.W, arm64.X0, arm64.X1, 42, false)
//	inst := arm64.NewDecoder().Decode(word)
package arm64

import "errors"

// Reg is an ARM64 general-purpose register number. Register 31 is the zero
// register or the stack pointer depending on the instruction.
type Reg uint8

// General-purpose registers.
const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	XZR
)

// Aliases used by the calling convention.
const (
	IP0 = X16 // intra-procedure-call scratch 0
	IP1 = X17 // intra-procedure-call scratch 1
	FP  = X29
	LR  = X30
)

// Size selects the 32-bit (W) or 64-bit (X) form of an instruction.
type Size uint8

// Operand sizes.
const (
	W Size = iota
	X
)

func (s Size) sf() uint32 {
	if s == X {
		return 1 << 31
	}
	return 0
}

// Cond represents an ARM64 condition code.
type Cond uint8

// ARM64 condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always (unconditional)
	CondNV Cond = 0b1111 // Always (unconditional, reserved)
)

// Aliases for unsigned comparisons.
const (
	CondHS = CondCS
	CondLO = CondCC
)

// Invert returns the opposite condition.
func (c Cond) Invert() Cond {
	return c ^ 1
}

// ShiftType represents a shift type for register operands.
type ShiftType uint8

// Shift types.
const (
	ShiftLSL ShiftType = 0b00 // Logical shift left
	ShiftLSR ShiftType = 0b01 // Logical shift right
	ShiftASR ShiftType = 0b10 // Arithmetic shift right
	ShiftROR ShiftType = 0b11 // Rotate right
)

// Fixed instruction words.
const (
	NOP uint32 = 0xD503201F
	RET uint32 = 0xD65F03C0 // ret x30
)

// Branch ranges in bytes.
const (
	MaxBranch26 = 1 << 27 // B, BL: +/-128 MiB
	MaxBranch19 = 1 << 20 // B.cond, CBZ, CBNZ, LDR literal: +/-1 MiB
)

var (
	// ErrBranchOutOfRange is returned when a branch offset does not fit the
	// displacement field of the instruction.
	ErrBranchOutOfRange = errors.New("branch offset out of range")

	// ErrBranchMisaligned is returned when a branch offset is not a
	// multiple of four.
	ErrBranchMisaligned = errors.New("branch offset not 4-byte aligned")

	// ErrImmediateOutOfRange is returned when an immediate operand does not
	// fit its field.
	ErrImmediateOutOfRange = errors.New("immediate out of range")
)
