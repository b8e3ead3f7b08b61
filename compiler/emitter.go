package compiler

import "github.com/sarchlab/rvaot/arm64"

// emitter accumulates instruction words. The first encoding error sticks;
// later emits are ignored so sequences can be written without checking each
// step.
type emitter struct {
	words []uint32
	err   error
}

func (e *emitter) emit(words ...uint32) {
	if e.err == nil {
		e.words = append(e.words, words...)
	}
}

// emitE emits a word from an encoder that can fail.
func (e *emitter) emitE(word uint32, err error) {
	if err != nil && e.err == nil {
		e.err = err
		return
	}
	e.emit(word)
}

// pos returns the index of the next word.
func (e *emitter) pos() int {
	return len(e.words)
}

// placeholder reserves a word to be patched later and returns its index.
func (e *emitter) placeholder() int {
	e.emit(arm64.NOP)
	return len(e.words) - 1
}

// patchBCond rewrites the word at site as a B.cond to the word at target.
func (e *emitter) patchBCond(site int, c arm64.Cond, target int) {
	word, err := arm64.BCond(c, int64(target-site)*4)
	e.patch(site, word, err)
}

// patchCbnz rewrites the word at site as a CBNZ to the word at target.
func (e *emitter) patchCbnz(site int, s arm64.Size, r arm64.Reg, target int) {
	word, err := arm64.Cbnz(s, r, int64(target-site)*4)
	e.patch(site, word, err)
}

// patchCbz rewrites the word at site as a CBZ to the word at target.
func (e *emitter) patchCbz(site int, s arm64.Size, r arm64.Reg, target int) {
	word, err := arm64.Cbz(s, r, int64(target-site)*4)
	e.patch(site, word, err)
}

func (e *emitter) patch(site int, word uint32, err error) {
	if e.err != nil {
		return
	}
	if err != nil {
		e.err = err
		return
	}
	e.words[site] = word
}

// movImm materializes a 32-bit constant into the W form of r.
func (e *emitter) movImm(r arm64.Reg, v uint32) {
	lo, hi := uint16(v), uint16(v>>16)
	switch {
	case hi == 0:
		e.emitE(arm64.MovZ(arm64.W, r, lo, 0))
	case lo == 0:
		e.emitE(arm64.MovZ(arm64.W, r, hi, 16))
	case hi == 0xFFFF:
		e.emitE(arm64.MovN(arm64.W, r, ^lo, 0))
	default:
		e.emitE(arm64.MovZ(arm64.W, r, lo, 0))
		e.emitE(arm64.MovK(arm64.W, r, hi, 16))
	}
}

// movReg copies the W form of src into dst, skipping self moves.
func (e *emitter) movReg(dst, src arm64.Reg) {
	if dst != src {
		e.emit(arm64.Mov(arm64.W, dst, src))
	}
}

// addImm computes dst = src + imm in W form. src may be the zero register.
func (e *emitter) addImm(dst, src arm64.Reg, imm int32) {
	switch {
	case src == arm64.XZR:
		e.movImm(dst, uint32(imm))
	case imm == 0:
		e.movReg(dst, src)
	case imm > 0 && imm <= 0xFFF:
		e.emitE(arm64.AddImm(arm64.W, dst, src, uint32(imm), false))
	case imm < 0 && imm >= -0xFFF:
		e.emitE(arm64.SubImm(arm64.W, dst, src, uint32(-imm), false))
	default:
		// Only reachable for immediates wider than RISC-V's 12 bits.
		e.movImm(regTmp, uint32(imm))
		e.emit(arm64.AddReg(arm64.W, dst, src, regTmp, arm64.ShiftLSL, 0))
	}
}

// ldrCell loads a frame cell (W) into r.
func (e *emitter) ldrCell(r arm64.Reg, off uint32) {
	e.emitE(arm64.LdrStrImm(arm64.LoadW, r, regFrame, off))
}

// strCell stores the W form of r into a frame cell.
func (e *emitter) strCell(r arm64.Reg, off uint32) {
	e.emitE(arm64.LdrStrImm(arm64.StoreW, r, regFrame, off))
}
