// Package emu executes the ARM64 code produced by the compiler without
// running it natively.
//
// The Emulator interprets the subset of A64 the compiler emits. Generated
// code addresses host memory directly (the frame, the header cells, the PC
// map, the page tables and the page pool), so the emulator sees host memory
// through a Bus of mapped regions; an access outside every region is a
// fault rather than a crash.
package emu

// RegFile represents the ARM64 register file.
type RegFile struct {
	// X holds X0-X30. X[31] is unused: register 31 reads as zero or SP
	// depending on the instruction.
	X [32]uint64

	SP uint64
	PC uint64

	PSTATE PSTATE
}

// PSTATE holds the condition flags.
type PSTATE struct {
	N bool
	Z bool
	C bool
	V bool
}

// ReadReg reads a register. Register 31 is XZR.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg >= 31 {
		return 0
	}
	return r.X[reg]
}

// ReadRegOrSP reads a register, treating register 31 as SP.
func (r *RegFile) ReadRegOrSP(reg uint8) uint64 {
	if reg == 31 {
		return r.SP
	}
	return r.X[reg]
}

// WriteRegOrSP writes a register, treating register 31 as SP.
func (r *RegFile) WriteRegOrSP(reg uint8, value uint64) {
	if reg == 31 {
		r.SP = value
		return
	}
	r.X[reg] = value
}

// WriteReg writes a register. Writes to XZR are discarded.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg >= 31 {
		return
	}
	r.X[reg] = value
}

// write stores a result in the W or X form: W results clear the upper half.
func (r *RegFile) write(reg uint8, value uint64, is64 bool) {
	if !is64 {
		value = uint64(uint32(value))
	}
	r.WriteReg(reg, value)
}
