// Package insts provides RV32IM instruction definitions, decoding and encoding.
//
// This package converts 32-bit RISC-V machine words into structured
// instruction representations and back. It supports:
//   - RV32I base integer instructions (LUI, AUIPC, JAL, JALR, branches,
//     loads, stores, register/immediate ALU operations, FENCE, ECALL, EBREAK)
//   - The M extension (MUL, MULH, MULHSU, MULHU, DIV, DIVU, REM, REMU)
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, err := decoder.Decode(0x00a58593) // addi x11, x11, 10
//	fmt.Println(inst)
package insts

import (
	"errors"
	"fmt"
)

// Op represents an RV32IM opcode.
type Op uint8

// RV32IM opcodes.
const (
	OpUnknown Op = iota

	OpLUI
	OpAUIPC
	OpJAL
	OpJALR

	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU

	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU

	OpSB
	OpSH
	OpSW

	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI

	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND

	OpFENCE
	OpFENCEI
	OpECALL
	OpEBREAK

	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
)

var opNames = [...]string{
	OpUnknown: "unknown",
	OpLUI:     "lui",
	OpAUIPC:   "auipc",
	OpJAL:     "jal",
	OpJALR:    "jalr",
	OpBEQ:     "beq",
	OpBNE:     "bne",
	OpBLT:     "blt",
	OpBGE:     "bge",
	OpBLTU:    "bltu",
	OpBGEU:    "bgeu",
	OpLB:      "lb",
	OpLH:      "lh",
	OpLW:      "lw",
	OpLBU:     "lbu",
	OpLHU:     "lhu",
	OpSB:      "sb",
	OpSH:      "sh",
	OpSW:      "sw",
	OpADDI:    "addi",
	OpSLTI:    "slti",
	OpSLTIU:   "sltiu",
	OpXORI:    "xori",
	OpORI:     "ori",
	OpANDI:    "andi",
	OpSLLI:    "slli",
	OpSRLI:    "srli",
	OpSRAI:    "srai",
	OpADD:     "add",
	OpSUB:     "sub",
	OpSLL:     "sll",
	OpSLT:     "slt",
	OpSLTU:    "sltu",
	OpXOR:     "xor",
	OpSRL:     "srl",
	OpSRA:     "sra",
	OpOR:      "or",
	OpAND:     "and",
	OpFENCE:   "fence",
	OpFENCEI:  "fence.i",
	OpECALL:   "ecall",
	OpEBREAK:  "ebreak",
	OpMUL:     "mul",
	OpMULH:    "mulh",
	OpMULHSU:  "mulhsu",
	OpMULHU:   "mulhu",
	OpDIV:     "div",
	OpDIVU:    "divu",
	OpREM:     "rem",
	OpREMU:    "remu",
}

// String returns the assembler mnemonic of the opcode.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register
	FormatI              // register-immediate, loads, JALR, system
	FormatS              // stores
	FormatB              // conditional branches
	FormatU              // LUI, AUIPC
	FormatJ              // JAL
)

// Major opcodes, bits [6:0].
const (
	opcodeLoad    = 0b0000011
	opcodeMiscMem = 0b0001111
	opcodeOpImm   = 0b0010011
	opcodeAUIPC   = 0b0010111
	opcodeStore   = 0b0100011
	opcodeOp      = 0b0110011
	opcodeLUI     = 0b0110111
	opcodeBranch  = 0b1100011
	opcodeJALR    = 0b1100111
	opcodeJAL     = 0b1101111
	opcodeSystem  = 0b1110011
)

// Fixed words of the two environment instructions.
const (
	WordECALL  uint32 = 0x00000073
	WordEBREAK uint32 = 0x00100073
)

// Instruction represents a decoded RV32IM instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register
	Rs2 uint8 // Second source register

	// Imm is the sign-extended immediate. For U-type instructions it holds
	// the full shifted value (low 12 bits zero); for shift-immediate
	// instructions it holds the shift amount.
	Imm int32
}

// ErrInvalidInstruction is returned for reserved or unsupported encodings.
var ErrInvalidInstruction = errors.New("invalid instruction")

// ErrInvalidOperand is returned when an instruction cannot be encoded
// because a register or immediate is out of range.
var ErrInvalidOperand = errors.New("invalid operand")

// DecodeError reports the word that failed to decode.
type DecodeError struct {
	Word   uint32
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid instruction 0x%08x: %s", e.Word, e.Reason)
}

// Unwrap makes DecodeError match ErrInvalidInstruction.
func (e *DecodeError) Unwrap() error {
	return ErrInvalidInstruction
}

// IsLoad reports whether the instruction reads guest memory.
func (i *Instruction) IsLoad() bool {
	return i.Op >= OpLB && i.Op <= OpLHU
}

// IsStore reports whether the instruction writes guest memory.
func (i *Instruction) IsStore() bool {
	return i.Op >= OpSB && i.Op <= OpSW
}

// IsBranch reports whether the instruction is a conditional branch.
func (i *Instruction) IsBranch() bool {
	return i.Op >= OpBEQ && i.Op <= OpBGEU
}

// WritesRd reports whether the instruction has a destination register.
func (i *Instruction) WritesRd() bool {
	switch i.Format {
	case FormatR, FormatU, FormatJ:
		return true
	case FormatI:
		switch i.Op {
		case OpFENCE, OpFENCEI, OpECALL, OpEBREAK:
			return false
		}
		return true
	}
	return false
}
