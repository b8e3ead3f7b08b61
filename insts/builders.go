package insts

// Builders for hand-assembled programs. Immediates are byte offsets for
// branches and jumps; LUI and AUIPC take the 20-bit upper immediate.

func rType(op Op, rd, rs1, rs2 uint8) *Instruction {
	return &Instruction{Op: op, Format: FormatR, Rd: rd, Rs1: rs1, Rs2: rs2}
}

func iType(op Op, rd, rs1 uint8, imm int32) *Instruction {
	return &Instruction{Op: op, Format: FormatI, Rd: rd, Rs1: rs1, Imm: imm}
}

func sType(op Op, rs2, rs1 uint8, imm int32) *Instruction {
	return &Instruction{Op: op, Format: FormatS, Rs1: rs1, Rs2: rs2, Imm: imm}
}

func bType(op Op, rs1, rs2 uint8, imm int32) *Instruction {
	return &Instruction{Op: op, Format: FormatB, Rs1: rs1, Rs2: rs2, Imm: imm}
}

// LUI builds lui rd, upper: rd = upper << 12.
func LUI(rd uint8, upper uint32) *Instruction {
	return &Instruction{Op: OpLUI, Format: FormatU, Rd: rd, Imm: int32(upper << 12)}
}

// AUIPC builds auipc rd, upper: rd = pc + upper<<12.
func AUIPC(rd uint8, upper uint32) *Instruction {
	return &Instruction{Op: OpAUIPC, Format: FormatU, Rd: rd, Imm: int32(upper << 12)}
}

// JAL builds jal rd, offset: rd = pc+4, jump to pc+offset.
func JAL(rd uint8, offset int32) *Instruction {
	return &Instruction{Op: OpJAL, Format: FormatJ, Rd: rd, Imm: offset}
}

// JALR builds jalr rd, imm(rs1): rd = pc+4, jump to (rs1+imm) &^ 1.
func JALR(rd, rs1 uint8, imm int32) *Instruction { return iType(OpJALR, rd, rs1, imm) }

// RET is the canonical return, jalr x0, 0(x1).
func RET() *Instruction { return JALR(0, 1, 0) }

// BEQ builds beq rs1, rs2, off. Branch offsets are bytes from the branch.
func BEQ(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBEQ, rs1, rs2, off) }

// BNE builds bne rs1, rs2, off.
func BNE(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBNE, rs1, rs2, off) }

// BLT builds blt rs1, rs2, off (signed).
func BLT(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBLT, rs1, rs2, off) }

// BGE builds bge rs1, rs2, off (signed).
func BGE(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBGE, rs1, rs2, off) }

// BLTU builds bltu rs1, rs2, off.
func BLTU(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBLTU, rs1, rs2, off) }

// BGEU builds bgeu rs1, rs2, off.
func BGEU(rs1, rs2 uint8, off int32) *Instruction { return bType(OpBGEU, rs1, rs2, off) }

// LB builds lb rd, imm(rs1), sign-extending the byte.
func LB(rd, rs1 uint8, imm int32) *Instruction { return iType(OpLB, rd, rs1, imm) }

// LH builds lh rd, imm(rs1), sign-extending the halfword.
func LH(rd, rs1 uint8, imm int32) *Instruction { return iType(OpLH, rd, rs1, imm) }

// LW builds lw rd, imm(rs1).
func LW(rd, rs1 uint8, imm int32) *Instruction { return iType(OpLW, rd, rs1, imm) }

// LBU builds lbu rd, imm(rs1).
func LBU(rd, rs1 uint8, imm int32) *Instruction { return iType(OpLBU, rd, rs1, imm) }

// LHU builds lhu rd, imm(rs1).
func LHU(rd, rs1 uint8, imm int32) *Instruction { return iType(OpLHU, rd, rs1, imm) }

// SB builds sb rs2, imm(rs1).
func SB(rs2, rs1 uint8, imm int32) *Instruction { return sType(OpSB, rs2, rs1, imm) }

// SH builds sh rs2, imm(rs1).
func SH(rs2, rs1 uint8, imm int32) *Instruction { return sType(OpSH, rs2, rs1, imm) }

// SW builds sw rs2, imm(rs1).
func SW(rs2, rs1 uint8, imm int32) *Instruction { return sType(OpSW, rs2, rs1, imm) }

// ADDI builds addi rd, rs1, imm.
func ADDI(rd, rs1 uint8, imm int32) *Instruction { return iType(OpADDI, rd, rs1, imm) }

// SLTI builds slti rd, rs1, imm.
func SLTI(rd, rs1 uint8, imm int32) *Instruction { return iType(OpSLTI, rd, rs1, imm) }

// SLTIU builds sltiu rd, rs1, imm. imm is sign-extended, then compared
// unsigned.
func SLTIU(rd, rs1 uint8, imm int32) *Instruction { return iType(OpSLTIU, rd, rs1, imm) }

// XORI builds xori rd, rs1, imm.
func XORI(rd, rs1 uint8, imm int32) *Instruction { return iType(OpXORI, rd, rs1, imm) }

// ORI builds ori rd, rs1, imm.
func ORI(rd, rs1 uint8, imm int32) *Instruction { return iType(OpORI, rd, rs1, imm) }

// ANDI builds andi rd, rs1, imm.
func ANDI(rd, rs1 uint8, imm int32) *Instruction { return iType(OpANDI, rd, rs1, imm) }

// SLLI builds slli rd, rs1, sh.
func SLLI(rd, rs1 uint8, sh int32) *Instruction { return iType(OpSLLI, rd, rs1, sh) }

// SRLI builds srli rd, rs1, sh.
func SRLI(rd, rs1 uint8, sh int32) *Instruction { return iType(OpSRLI, rd, rs1, sh) }

// SRAI builds srai rd, rs1, sh.
func SRAI(rd, rs1 uint8, sh int32) *Instruction { return iType(OpSRAI, rd, rs1, sh) }

// ADD builds add rd, rs1, rs2.
func ADD(rd, rs1, rs2 uint8) *Instruction { return rType(OpADD, rd, rs1, rs2) }

// SUB builds sub rd, rs1, rs2.
func SUB(rd, rs1, rs2 uint8) *Instruction { return rType(OpSUB, rd, rs1, rs2) }

// SLL builds sll rd, rs1, rs2.
func SLL(rd, rs1, rs2 uint8) *Instruction { return rType(OpSLL, rd, rs1, rs2) }

// SLT builds slt rd, rs1, rs2.
func SLT(rd, rs1, rs2 uint8) *Instruction { return rType(OpSLT, rd, rs1, rs2) }

// SLTU builds sltu rd, rs1, rs2.
func SLTU(rd, rs1, rs2 uint8) *Instruction { return rType(OpSLTU, rd, rs1, rs2) }

// XOR builds xor rd, rs1, rs2.
func XOR(rd, rs1, rs2 uint8) *Instruction { return rType(OpXOR, rd, rs1, rs2) }

// SRL builds srl rd, rs1, rs2.
func SRL(rd, rs1, rs2 uint8) *Instruction { return rType(OpSRL, rd, rs1, rs2) }

// SRA builds sra rd, rs1, rs2.
func SRA(rd, rs1, rs2 uint8) *Instruction { return rType(OpSRA, rd, rs1, rs2) }

// OR builds or rd, rs1, rs2.
func OR(rd, rs1, rs2 uint8) *Instruction { return rType(OpOR, rd, rs1, rs2) }

// AND builds and rd, rs1, rs2.
func AND(rd, rs1, rs2 uint8) *Instruction { return rType(OpAND, rd, rs1, rs2) }

// MUL builds mul rd, rs1, rs2.
func MUL(rd, rs1, rs2 uint8) *Instruction { return rType(OpMUL, rd, rs1, rs2) }

// MULH builds mulh rd, rs1, rs2: the high word of the signed product.
func MULH(rd, rs1, rs2 uint8) *Instruction { return rType(OpMULH, rd, rs1, rs2) }

// MULHSU builds mulhsu rd, rs1, rs2: rs1 signed, rs2 unsigned.
func MULHSU(rd, rs1, rs2 uint8) *Instruction { return rType(OpMULHSU, rd, rs1, rs2) }

// MULHU builds mulhu rd, rs1, rs2.
func MULHU(rd, rs1, rs2 uint8) *Instruction { return rType(OpMULHU, rd, rs1, rs2) }

// DIV builds div rd, rs1, rs2. Division by zero yields all ones.
func DIV(rd, rs1, rs2 uint8) *Instruction { return rType(OpDIV, rd, rs1, rs2) }

// DIVU builds divu rd, rs1, rs2.
func DIVU(rd, rs1, rs2 uint8) *Instruction { return rType(OpDIVU, rd, rs1, rs2) }

// REM builds rem rd, rs1, rs2. Remainder by zero yields the dividend.
func REM(rd, rs1, rs2 uint8) *Instruction { return rType(OpREM, rd, rs1, rs2) }

// REMU builds remu rd, rs1, rs2.
func REMU(rd, rs1, rs2 uint8) *Instruction { return rType(OpREMU, rd, rs1, rs2) }

// FENCE builds a full fence.
func FENCE() *Instruction { return &Instruction{Op: OpFENCE, Format: FormatI} }

// FENCEI builds fence.i.
func FENCEI() *Instruction { return &Instruction{Op: OpFENCEI, Format: FormatI} }

// ECALL builds ecall.
func ECALL() *Instruction { return &Instruction{Op: OpECALL, Format: FormatI} }

// EBREAK builds ebreak.
func EBREAK() *Instruction { return &Instruction{Op: OpEBREAK, Format: FormatI} }
