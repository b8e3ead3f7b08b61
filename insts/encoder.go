package insts

import (
	"encoding/binary"
	"fmt"
)

// Default words for the memory-ordering instructions.
const (
	WordFENCE  uint32 = 0x0FF0000F // fence iorw, iorw
	WordFENCEI uint32 = 0x0000100F
)

type encoding struct {
	opcode uint32
	funct3 uint32
	funct7 uint32
}

var encodings = map[Op]encoding{
	OpLUI:   {opcode: opcodeLUI},
	OpAUIPC: {opcode: opcodeAUIPC},
	OpJAL:   {opcode: opcodeJAL},
	OpJALR:  {opcode: opcodeJALR},

	OpBEQ:  {opcodeBranch, 0b000, 0},
	OpBNE:  {opcodeBranch, 0b001, 0},
	OpBLT:  {opcodeBranch, 0b100, 0},
	OpBGE:  {opcodeBranch, 0b101, 0},
	OpBLTU: {opcodeBranch, 0b110, 0},
	OpBGEU: {opcodeBranch, 0b111, 0},

	OpLB:  {opcodeLoad, 0b000, 0},
	OpLH:  {opcodeLoad, 0b001, 0},
	OpLW:  {opcodeLoad, 0b010, 0},
	OpLBU: {opcodeLoad, 0b100, 0},
	OpLHU: {opcodeLoad, 0b101, 0},

	OpSB: {opcodeStore, 0b000, 0},
	OpSH: {opcodeStore, 0b001, 0},
	OpSW: {opcodeStore, 0b010, 0},

	OpADDI:  {opcodeOpImm, 0b000, 0},
	OpSLTI:  {opcodeOpImm, 0b010, 0},
	OpSLTIU: {opcodeOpImm, 0b011, 0},
	OpXORI:  {opcodeOpImm, 0b100, 0},
	OpORI:   {opcodeOpImm, 0b110, 0},
	OpANDI:  {opcodeOpImm, 0b111, 0},
	OpSLLI:  {opcodeOpImm, 0b001, 0},
	OpSRLI:  {opcodeOpImm, 0b101, 0},
	OpSRAI:  {opcodeOpImm, 0b101, 0b0100000},

	OpADD:  {opcodeOp, 0b000, 0},
	OpSUB:  {opcodeOp, 0b000, 0b0100000},
	OpSLL:  {opcodeOp, 0b001, 0},
	OpSLT:  {opcodeOp, 0b010, 0},
	OpSLTU: {opcodeOp, 0b011, 0},
	OpXOR:  {opcodeOp, 0b100, 0},
	OpSRL:  {opcodeOp, 0b101, 0},
	OpSRA:  {opcodeOp, 0b101, 0b0100000},
	OpOR:   {opcodeOp, 0b110, 0},
	OpAND:  {opcodeOp, 0b111, 0},

	OpMUL:    {opcodeOp, 0b000, 0b0000001},
	OpMULH:   {opcodeOp, 0b001, 0b0000001},
	OpMULHSU: {opcodeOp, 0b010, 0b0000001},
	OpMULHU:  {opcodeOp, 0b011, 0b0000001},
	OpDIV:    {opcodeOp, 0b100, 0b0000001},
	OpDIVU:   {opcodeOp, 0b101, 0b0000001},
	OpREM:    {opcodeOp, 0b110, 0b0000001},
	OpREMU:   {opcodeOp, 0b111, 0b0000001},
}

// Encode converts an instruction back into its 32-bit machine word.
// Registers and immediates are validated; nothing is truncated.
func Encode(inst *Instruction) (uint32, error) {
	switch inst.Op {
	case OpFENCE:
		return WordFENCE, nil
	case OpFENCEI:
		return WordFENCEI, nil
	case OpECALL:
		return WordECALL, nil
	case OpEBREAK:
		return WordEBREAK, nil
	}

	enc, ok := encodings[inst.Op]
	if !ok {
		return 0, fmt.Errorf("%w: cannot encode %v", ErrInvalidOperand, inst.Op)
	}

	if inst.Rd > 31 || inst.Rs1 > 31 || inst.Rs2 > 31 {
		return 0, fmt.Errorf("%w: register out of range in %v", ErrInvalidOperand, inst.Op)
	}

	rdF := uint32(inst.Rd) << 7
	rs1F := uint32(inst.Rs1) << 15
	rs2F := uint32(inst.Rs2) << 20
	f3 := enc.funct3 << 12
	f7 := enc.funct7 << 25
	imm := inst.Imm

	switch {
	case inst.Op == OpLUI || inst.Op == OpAUIPC:
		if imm&0xFFF != 0 {
			return 0, fmt.Errorf("%w: %v immediate 0x%x has low bits set", ErrInvalidOperand, inst.Op, uint32(imm))
		}
		return uint32(imm) | rdF | enc.opcode, nil

	case inst.Op == OpJAL:
		if imm&1 != 0 || imm < -(1<<20) || imm >= 1<<20 {
			return 0, fmt.Errorf("%w: jal offset %d", ErrInvalidOperand, imm)
		}
		u := uint32(imm)
		word := (u>>20&0x1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&0x1)<<20 | (u>>12&0xFF)<<12
		return word | rdF | enc.opcode, nil

	case inst.Op >= OpBEQ && inst.Op <= OpBGEU:
		if imm&1 != 0 || imm < -(1<<12) || imm >= 1<<12 {
			return 0, fmt.Errorf("%w: branch offset %d", ErrInvalidOperand, imm)
		}
		u := uint32(imm)
		word := (u>>12&0x1)<<31 | (u>>5&0x3F)<<25 | (u>>1&0xF)<<8 | (u>>11&0x1)<<7
		return word | rs2F | rs1F | f3 | enc.opcode, nil

	case inst.Op >= OpSB && inst.Op <= OpSW:
		if imm < -2048 || imm > 2047 {
			return 0, fmt.Errorf("%w: store offset %d", ErrInvalidOperand, imm)
		}
		u := uint32(imm)
		word := (u>>5&0x7F)<<25 | (u&0x1F)<<7
		return word | rs2F | rs1F | f3 | enc.opcode, nil

	case inst.Op == OpSLLI || inst.Op == OpSRLI || inst.Op == OpSRAI:
		if imm < 0 || imm > 31 {
			return 0, fmt.Errorf("%w: shift amount %d", ErrInvalidOperand, imm)
		}
		return f7 | uint32(imm)<<20 | rs1F | f3 | rdF | enc.opcode, nil

	case enc.opcode == opcodeOp:
		return f7 | rs2F | rs1F | f3 | rdF | enc.opcode, nil

	default:
		if imm < -2048 || imm > 2047 {
			return 0, fmt.Errorf("%w: %v immediate %d", ErrInvalidOperand, inst.Op, imm)
		}
		return uint32(imm)<<20 | rs1F | f3 | rdF | enc.opcode, nil
	}
}

// Assemble encodes a program into little-endian machine code.
func Assemble(program ...*Instruction) ([]byte, error) {
	code := make([]byte, 0, 4*len(program))
	for i, inst := range program {
		word, err := Encode(inst)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		code = binary.LittleEndian.AppendUint32(code, word)
	}
	return code, nil
}

// String renders the instruction in assembler syntax, e.g. "addi x1, x2, 10".
func (i *Instruction) String() string {
	switch i.Format {
	case FormatR:
		return fmt.Sprintf("%v x%d, x%d, x%d", i.Op, i.Rd, i.Rs1, i.Rs2)
	case FormatU:
		return fmt.Sprintf("%v x%d, 0x%x", i.Op, i.Rd, uint32(i.Imm)>>12)
	case FormatJ:
		return fmt.Sprintf("%v x%d, %d", i.Op, i.Rd, i.Imm)
	case FormatB:
		return fmt.Sprintf("%v x%d, x%d, %d", i.Op, i.Rs1, i.Rs2, i.Imm)
	case FormatS:
		return fmt.Sprintf("%v x%d, %d(x%d)", i.Op, i.Rs2, i.Imm, i.Rs1)
	case FormatI:
		switch {
		case i.Op == OpFENCE || i.Op == OpFENCEI || i.Op == OpECALL || i.Op == OpEBREAK:
			return i.Op.String()
		case i.Op == OpJALR || i.IsLoad():
			return fmt.Sprintf("%v x%d, %d(x%d)", i.Op, i.Rd, i.Imm, i.Rs1)
		default:
			return fmt.Sprintf("%v x%d, x%d, %d", i.Op, i.Rd, i.Rs1, i.Imm)
		}
	}
	return i.Op.String()
}
