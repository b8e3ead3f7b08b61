package arm64

import (
	"encoding/binary"
	"fmt"
)

func rd(r Reg) uint32 { return uint32(r & 0x1F) }
func rn(r Reg) uint32 { return uint32(r&0x1F) << 5 }
func rm(r Reg) uint32 { return uint32(r&0x1F) << 16 }

// Data Processing (Immediate): add/sub.
// Format: sf | op | S | 100010 | sh | imm12 | Rn | Rd
func addSubImm(op uint32, s Size, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	if imm > 0xFFF {
		return 0, fmt.Errorf("%w: add/sub immediate %d", ErrImmediateOutOfRange, imm)
	}
	word := op | s.sf() | imm<<10 | rn(src) | rd(dst)
	if shift12 {
		word |= 1 << 22
	}
	return word, nil
}

// AddImm encodes ADD (immediate). Register 31 is SP for both operands.
func AddImm(s Size, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	return addSubImm(0x11000000, s, dst, src, imm, shift12)
}

// SubImm encodes SUB (immediate).
func SubImm(s Size, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	return addSubImm(0x51000000, s, dst, src, imm, shift12)
}

// AddsImm encodes ADDS (immediate); CMN is AddsImm with dst XZR.
func AddsImm(s Size, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	return addSubImm(0x31000000, s, dst, src, imm, shift12)
}

// SubsImm encodes SUBS (immediate); CMP is SubsImm with dst XZR.
func SubsImm(s Size, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	return addSubImm(0x71000000, s, dst, src, imm, shift12)
}

// Move wide (immediate).
// Format: sf | opc | 100101 | hw | imm16 | Rd
func moveWide(opc uint32, s Size, dst Reg, imm uint16, shift uint8) (uint32, error) {
	if shift%16 != 0 || (s == W && shift > 16) || shift > 48 {
		return 0, fmt.Errorf("%w: move shift %d", ErrImmediateOutOfRange, shift)
	}
	hw := uint32(shift / 16)
	return 0x12800000 | opc<<29 | s.sf() | hw<<21 | uint32(imm)<<5 | rd(dst), nil
}

// MovN encodes MOVN: dst = ^(imm << shift).
func MovN(s Size, dst Reg, imm uint16, shift uint8) (uint32, error) {
	return moveWide(0b00, s, dst, imm, shift)
}

// MovZ encodes MOVZ: dst = imm << shift.
func MovZ(s Size, dst Reg, imm uint16, shift uint8) (uint32, error) {
	return moveWide(0b10, s, dst, imm, shift)
}

// MovK encodes MOVK: insert imm at shift, keeping the other bits.
func MovK(s Size, dst Reg, imm uint16, shift uint8) (uint32, error) {
	return moveWide(0b11, s, dst, imm, shift)
}

// Bitfield move.
// Format: sf | opc | 100110 | N | immr | imms | Rn | Rd
func bitfield(opc uint32, s Size, dst, src Reg, immr, imms uint8) (uint32, error) {
	limit := uint8(31)
	word := 0x13000000 | opc<<29 | rn(src) | rd(dst)
	if s == X {
		limit = 63
		word |= 1<<31 | 1<<22
	}
	if immr > limit || imms > limit {
		return 0, fmt.Errorf("%w: bitfield immr=%d imms=%d", ErrImmediateOutOfRange, immr, imms)
	}
	return word | uint32(immr)<<16 | uint32(imms)<<10, nil
}

// SBFM encodes a signed bitfield move.
func SBFM(s Size, dst, src Reg, immr, imms uint8) (uint32, error) {
	return bitfield(0b00, s, dst, src, immr, imms)
}

// UBFM encodes an unsigned bitfield move.
func UBFM(s Size, dst, src Reg, immr, imms uint8) (uint32, error) {
	return bitfield(0b10, s, dst, src, immr, imms)
}

func width(s Size) uint8 {
	if s == X {
		return 64
	}
	return 32
}

// LslImm encodes LSL (immediate) as UBFM.
func LslImm(s Size, dst, src Reg, shift uint8) (uint32, error) {
	w := width(s)
	if shift >= w {
		return 0, fmt.Errorf("%w: shift %d", ErrImmediateOutOfRange, shift)
	}
	return UBFM(s, dst, src, (w-shift)%w, w-1-shift)
}

// LsrImm encodes LSR (immediate) as UBFM.
func LsrImm(s Size, dst, src Reg, shift uint8) (uint32, error) {
	return UBFM(s, dst, src, shift, width(s)-1)
}

// AsrImm encodes ASR (immediate) as SBFM.
func AsrImm(s Size, dst, src Reg, shift uint8) (uint32, error) {
	return SBFM(s, dst, src, shift, width(s)-1)
}

// Ubfx encodes UBFX: extract width bits starting at lsb, zero-extended.
func Ubfx(s Size, dst, src Reg, lsb, bits uint8) (uint32, error) {
	if bits == 0 || lsb+bits > width(s) {
		return 0, fmt.Errorf("%w: ubfx lsb=%d width=%d", ErrImmediateOutOfRange, lsb, bits)
	}
	return UBFM(s, dst, src, lsb, lsb+bits-1)
}

// Sxtw encodes SXTW: sign-extend the low word of src into a 64-bit register.
func Sxtw(dst, src Reg) uint32 {
	word, _ := SBFM(X, dst, src, 0, 31)
	return word
}

// Data Processing (Register): add/sub and logical, shifted register.
// Format: sf | opc | 01011 or 01010 | shift | N/0 | Rm | imm6 | Rn | Rd
func shiftedReg(op uint32, s Size, dst, a, b Reg, shift ShiftType, amount uint8) uint32 {
	return op | s.sf() | uint32(shift&0x3)<<22 | rm(b) | uint32(amount&0x3F)<<10 | rn(a) | rd(dst)
}

// AddReg encodes ADD (shifted register). Register 31 is XZR.
func AddReg(s Size, dst, a, b Reg, shift ShiftType, amount uint8) uint32 {
	return shiftedReg(0x0B000000, s, dst, a, b, shift, amount)
}

// AddsReg encodes ADDS (shifted register).
func AddsReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x2B000000, s, dst, a, b, ShiftLSL, 0)
}

// SubReg encodes SUB (shifted register).
func SubReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x4B000000, s, dst, a, b, ShiftLSL, 0)
}

// SubsReg encodes SUBS (shifted register); CMP is SubsReg with dst XZR.
func SubsReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x6B000000, s, dst, a, b, ShiftLSL, 0)
}

// Cmp encodes CMP a, b.
func Cmp(s Size, a, b Reg) uint32 {
	return SubsReg(s, XZR, a, b)
}

// AndReg encodes AND (shifted register).
func AndReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x0A000000, s, dst, a, b, ShiftLSL, 0)
}

// OrrReg encodes ORR (shifted register).
func OrrReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x2A000000, s, dst, a, b, ShiftLSL, 0)
}

// EorReg encodes EOR (shifted register).
func EorReg(s Size, dst, a, b Reg) uint32 {
	return shiftedReg(0x4A000000, s, dst, a, b, ShiftLSL, 0)
}

// Mov encodes MOV (register) as ORR dst, XZR, src.
func Mov(s Size, dst, src Reg) uint32 {
	return OrrReg(s, dst, XZR, src)
}

// Data processing (2 source).
// Format: sf | 0 | 0 | 11010110 | Rm | opcode | Rn | Rd
func dp2(op uint32, s Size, dst, a, b Reg) uint32 {
	return 0x1AC00000 | op<<10 | s.sf() | rm(b) | rn(a) | rd(dst)
}

// Udiv encodes UDIV. Division by zero yields zero.
func Udiv(s Size, dst, a, b Reg) uint32 { return dp2(0b000010, s, dst, a, b) }

// Sdiv encodes SDIV. Division by zero yields zero.
func Sdiv(s Size, dst, a, b Reg) uint32 { return dp2(0b000011, s, dst, a, b) }

// Lslv encodes LSLV; the shift amount is taken modulo the register width.
func Lslv(s Size, dst, a, b Reg) uint32 { return dp2(0b001000, s, dst, a, b) }

// Lsrv encodes LSRV.
func Lsrv(s Size, dst, a, b Reg) uint32 { return dp2(0b001001, s, dst, a, b) }

// Asrv encodes ASRV.
func Asrv(s Size, dst, a, b Reg) uint32 { return dp2(0b001010, s, dst, a, b) }

// Data processing (3 source).
// Format: sf | op54 | 11011 | op31 | Rm | o0 | Ra | Rn | Rd
func dp3(op uint32, dst, a, b, acc Reg) uint32 {
	return op | rm(b) | uint32(acc&0x1F)<<10 | rn(a) | rd(dst)
}

// Madd encodes MADD: dst = acc + a*b.
func Madd(s Size, dst, a, b, acc Reg) uint32 {
	return dp3(0x1B000000|s.sf(), dst, a, b, acc)
}

// Msub encodes MSUB: dst = acc - a*b.
func Msub(s Size, dst, a, b, acc Reg) uint32 {
	return dp3(0x1B008000|s.sf(), dst, a, b, acc)
}

// Mul encodes MUL as MADD with XZR accumulator.
func Mul(s Size, dst, a, b Reg) uint32 {
	return Madd(s, dst, a, b, XZR)
}

// Smull encodes SMULL: 64-bit product of two signed 32-bit registers.
func Smull(dst, a, b Reg) uint32 {
	return dp3(0x9B200000, dst, a, b, XZR)
}

// Umull encodes UMULL: 64-bit product of two unsigned 32-bit registers.
func Umull(dst, a, b Reg) uint32 {
	return dp3(0x9BA00000, dst, a, b, XZR)
}

// Conditional select.
// Format: sf | op | S | 11010100 | Rm | cond | o2 | Rn | Rd
func condSel(op uint32, s Size, dst, a, b Reg, c Cond) uint32 {
	return op | s.sf() | rm(b) | uint32(c&0xF)<<12 | rn(a) | rd(dst)
}

// Csel encodes CSEL: dst = c ? a : b.
func Csel(s Size, dst, a, b Reg, c Cond) uint32 { return condSel(0x1A800000, s, dst, a, b, c) }

// Csinc encodes CSINC: dst = c ? a : b+1.
func Csinc(s Size, dst, a, b Reg, c Cond) uint32 { return condSel(0x1A800400, s, dst, a, b, c) }

// Csinv encodes CSINV: dst = c ? a : ^b.
func Csinv(s Size, dst, a, b Reg, c Cond) uint32 { return condSel(0x5A800000, s, dst, a, b, c) }

// Cset encodes CSET: dst = c ? 1 : 0.
func Cset(s Size, dst Reg, c Cond) uint32 {
	return Csinc(s, dst, XZR, XZR, c.Invert())
}

// checkBranch validates a byte offset against a signed field of the given
// number of bits (in instruction units).
func checkBranch(offset int64, bits uint) (uint32, error) {
	if offset%4 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBranchMisaligned, offset)
	}
	units := offset / 4
	limit := int64(1) << (bits - 1)
	if units < -limit || units >= limit {
		return 0, fmt.Errorf("%w: %d", ErrBranchOutOfRange, offset)
	}
	return uint32(units) & (1<<bits - 1), nil
}

// B encodes an unconditional branch by a byte offset relative to itself.
func B(offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 26)
	if err != nil {
		return 0, err
	}
	return 0x14000000 | imm, nil
}

// BL encodes a branch with link.
func BL(offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 26)
	if err != nil {
		return 0, err
	}
	return 0x94000000 | imm, nil
}

// BCond encodes B.cond.
// Format: 0101010 0 | imm19 | 0 | cond
func BCond(c Cond, offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 19)
	if err != nil {
		return 0, err
	}
	return 0x54000000 | imm<<5 | uint32(c&0xF), nil
}

// Cbz encodes CBZ.
// Format: sf | 011010 | op | imm19 | Rt
func Cbz(s Size, r Reg, offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 19)
	if err != nil {
		return 0, err
	}
	return 0x34000000 | s.sf() | imm<<5 | rd(r), nil
}

// Cbnz encodes CBNZ.
func Cbnz(s Size, r Reg, offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 19)
	if err != nil {
		return 0, err
	}
	return 0x35000000 | s.sf() | imm<<5 | rd(r), nil
}

// Br encodes BR.
func Br(r Reg) uint32 { return 0xD61F0000 | rn(r) }

// Blr encodes BLR.
func Blr(r Reg) uint32 { return 0xD63F0000 | rn(r) }

// Ret encodes RET to the given register.
func Ret(r Reg) uint32 { return 0xD65F0000 | rn(r) }

// Loads and stores. The access size in bytes selects the size field; Signed
// selects the sign-extending 32-bit load forms (LDRSB, LDRSH).
type Access struct {
	Bytes  uint8
	Load   bool
	Signed bool
}

// Common accesses.
var (
	LoadB   = Access{Bytes: 1, Load: true}
	LoadSB  = Access{Bytes: 1, Load: true, Signed: true}
	LoadH   = Access{Bytes: 2, Load: true}
	LoadSH  = Access{Bytes: 2, Load: true, Signed: true}
	LoadW   = Access{Bytes: 4, Load: true}
	LoadX   = Access{Bytes: 8, Load: true}
	StoreB  = Access{Bytes: 1}
	StoreH  = Access{Bytes: 2}
	StoreW  = Access{Bytes: 4}
	StoreX  = Access{Bytes: 8}
	sizeLog = map[uint8]uint32{1: 0, 2: 1, 4: 2, 8: 3}
)

// unsignedOffsetBase returns the unsigned-offset opcode for an access.
// Format: size | 111 | 0 | 01 | opc | imm12 | Rn | Rt
func (a Access) unsignedOffsetBase() (uint32, uint32, error) {
	log, ok := sizeLog[a.Bytes]
	if !ok || (a.Signed && (!a.Load || a.Bytes > 2)) {
		return 0, 0, fmt.Errorf("%w: access %+v", ErrImmediateOutOfRange, a)
	}
	opc := uint32(0b00)
	switch {
	case a.Signed:
		opc = 0b11 // 32-bit sign-extending load
	case a.Load:
		opc = 0b01
	}
	return 0x39000000 | log<<30 | opc<<22, log, nil
}

// LdrStrImm encodes a load or store with an unsigned, size-scaled offset.
func LdrStrImm(a Access, rt, base Reg, offset uint32) (uint32, error) {
	op, log, err := a.unsignedOffsetBase()
	if err != nil {
		return 0, err
	}
	if offset&(1<<log-1) != 0 || offset>>log > 0xFFF {
		return 0, fmt.Errorf("%w: load/store offset %d", ErrImmediateOutOfRange, offset)
	}
	return op | (offset>>log)<<10 | rn(base) | rd(rt), nil
}

// LdrStrReg encodes a load or store addressed by base + index. When scaled
// is true the index is shifted left by log2 of the access size.
// Format: size | 111 | 0 | 00 | opc | 1 | Rm | option | S | 10 | Rn | Rt
func LdrStrReg(a Access, rt, base, index Reg, scaled bool) (uint32, error) {
	op, _, err := a.unsignedOffsetBase()
	if err != nil {
		return 0, err
	}
	word := op - 0x01000000 + 0x00200800 | rm(index) | 0b011<<13 | rn(base) | rd(rt)
	if scaled {
		word |= 1 << 12
	}
	return word, nil
}

// LdrLiteral encodes a PC-relative 64-bit (X) or 32-bit (W) load.
// Format: opc | 011 | 0 | 00 | imm19 | Rt
func LdrLiteral(s Size, rt Reg, offset int64) (uint32, error) {
	imm, err := checkBranch(offset, 19)
	if err != nil {
		return 0, err
	}
	op := uint32(0x18000000)
	if s == X {
		op = 0x58000000
	}
	return op | imm<<5 | rd(rt), nil
}

// pair encodes LDP/STP (64-bit, signed offset).
// Format: 10 | 101 | 0 | 010 | L | imm7 | Rt2 | Rn | Rt
func pair(load bool, rt, rt2, base Reg, offset int32) (uint32, error) {
	if offset%8 != 0 || offset/8 < -64 || offset/8 > 63 {
		return 0, fmt.Errorf("%w: pair offset %d", ErrImmediateOutOfRange, offset)
	}
	word := uint32(0xA9000000)
	if load {
		word |= 1 << 22
	}
	return word | (uint32(offset/8)&0x7F)<<15 | uint32(rt2&0x1F)<<10 | rn(base) | rd(rt), nil
}

// Ldp encodes LDP Xt, Xt2, [base, #offset].
func Ldp(rt, rt2, base Reg, offset int32) (uint32, error) { return pair(true, rt, rt2, base, offset) }

// Stp encodes STP Xt, Xt2, [base, #offset].
func Stp(rt, rt2, base Reg, offset int32) (uint32, error) { return pair(false, rt, rt2, base, offset) }

// Bytes converts instruction words to little-endian machine code.
func Bytes(words ...uint32) []byte {
	out := make([]byte, 0, 4*len(words))
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}
