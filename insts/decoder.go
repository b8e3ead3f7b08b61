package insts

// Decoder decodes RV32IM machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new RV32IM instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit RV32IM instruction word.
func (d *Decoder) Decode(word uint32) (*Instruction, error) {
	inst := &Instruction{}

	var ok bool
	switch word & 0x7F { // bits [6:0]
	case opcodeLUI:
		ok = d.decodeUpper(word, inst, OpLUI)
	case opcodeAUIPC:
		ok = d.decodeUpper(word, inst, OpAUIPC)
	case opcodeJAL:
		ok = d.decodeJAL(word, inst)
	case opcodeJALR:
		ok = d.decodeJALR(word, inst)
	case opcodeBranch:
		ok = d.decodeBranch(word, inst)
	case opcodeLoad:
		ok = d.decodeLoad(word, inst)
	case opcodeStore:
		ok = d.decodeStore(word, inst)
	case opcodeOpImm:
		ok = d.decodeOpImm(word, inst)
	case opcodeOp:
		ok = d.decodeOp(word, inst)
	case opcodeMiscMem:
		ok = d.decodeMiscMem(word, inst)
	case opcodeSystem:
		ok = d.decodeSystem(word, inst)
	default:
		return nil, &DecodeError{Word: word, Reason: "unknown major opcode"}
	}

	if !ok {
		return nil, &DecodeError{Word: word, Reason: "reserved encoding"}
	}

	return inst, nil
}

// Register and function fields: rd [11:7], rs1 [19:15], rs2 [24:20],
// funct3 [14:12], funct7 [31:25].
func rd(word uint32) uint8      { return uint8((word >> 7) & 0x1F) }
func rs1(word uint32) uint8     { return uint8((word >> 15) & 0x1F) }
func rs2(word uint32) uint8     { return uint8((word >> 20) & 0x1F) }
func funct3(word uint32) uint32 { return (word >> 12) & 0x7 }
func funct7(word uint32) uint32 { return word >> 25 }

// immI extracts the sign-extended I-type immediate, bits [31:20].
func immI(word uint32) int32 {
	return int32(word) >> 20
}

// immS extracts the sign-extended S-type immediate.
// Format: imm[11:5] | rs2 | rs1 | funct3 | imm[4:0] | opcode
func immS(word uint32) int32 {
	return (int32(word)>>25)<<5 | int32((word>>7)&0x1F)
}

// immB extracts the sign-extended B-type immediate.
// Format: imm[12|10:5] | rs2 | rs1 | funct3 | imm[4:1|11] | opcode
func immB(word uint32) int32 {
	imm := (int32(word) >> 31) << 12
	imm |= int32((word>>7)&0x1) << 11
	imm |= int32((word>>25)&0x3F) << 5
	imm |= int32((word>>8)&0xF) << 1
	return imm
}

// immU extracts the U-type immediate, already shifted into bits [31:12].
func immU(word uint32) int32 {
	return int32(word & 0xFFFFF000)
}

// immJ extracts the sign-extended J-type immediate.
// Format: imm[20|10:1|11|19:12] | rd | opcode
func immJ(word uint32) int32 {
	imm := (int32(word) >> 31) << 20
	imm |= int32((word>>12)&0xFF) << 12
	imm |= int32((word>>20)&0x1) << 11
	imm |= int32((word>>21)&0x3FF) << 1
	return imm
}

func (d *Decoder) decodeUpper(word uint32, inst *Instruction, op Op) bool {
	inst.Op = op
	inst.Format = FormatU
	inst.Rd = rd(word)
	inst.Imm = immU(word)
	return true
}

func (d *Decoder) decodeJAL(word uint32, inst *Instruction) bool {
	inst.Op = OpJAL
	inst.Format = FormatJ
	inst.Rd = rd(word)
	inst.Imm = immJ(word)
	return true
}

func (d *Decoder) decodeJALR(word uint32, inst *Instruction) bool {
	if funct3(word) != 0 {
		return false
	}

	inst.Op = OpJALR
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = immI(word)
	return true
}

var branchOps = [8]Op{
	0b000: OpBEQ,
	0b001: OpBNE,
	0b100: OpBLT,
	0b101: OpBGE,
	0b110: OpBLTU,
	0b111: OpBGEU,
}

func (d *Decoder) decodeBranch(word uint32, inst *Instruction) bool {
	op := branchOps[funct3(word)]
	if op == OpUnknown {
		return false
	}

	inst.Op = op
	inst.Format = FormatB
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Imm = immB(word)
	return true
}

var loadOps = [8]Op{
	0b000: OpLB,
	0b001: OpLH,
	0b010: OpLW,
	0b100: OpLBU,
	0b101: OpLHU,
}

func (d *Decoder) decodeLoad(word uint32, inst *Instruction) bool {
	op := loadOps[funct3(word)]
	if op == OpUnknown {
		return false
	}

	inst.Op = op
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = immI(word)
	return true
}

var storeOps = [8]Op{
	0b000: OpSB,
	0b001: OpSH,
	0b010: OpSW,
}

func (d *Decoder) decodeStore(word uint32, inst *Instruction) bool {
	op := storeOps[funct3(word)]
	if op == OpUnknown {
		return false
	}

	inst.Op = op
	inst.Format = FormatS
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Imm = immS(word)
	return true
}

var opImmOps = [8]Op{
	0b000: OpADDI,
	0b010: OpSLTI,
	0b011: OpSLTIU,
	0b100: OpXORI,
	0b110: OpORI,
	0b111: OpANDI,
}

func (d *Decoder) decodeOpImm(word uint32, inst *Instruction) bool {
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)

	f3 := funct3(word)
	switch f3 {
	case 0b001, 0b101:
		// Shift amount is 5 bits on RV32; bit 25 set is reserved.
		f7 := funct7(word)
		inst.Imm = int32(rs2(word))
		switch {
		case f3 == 0b001 && f7 == 0:
			inst.Op = OpSLLI
		case f3 == 0b101 && f7 == 0:
			inst.Op = OpSRLI
		case f3 == 0b101 && f7 == 0b0100000:
			inst.Op = OpSRAI
		default:
			return false
		}
	default:
		inst.Op = opImmOps[f3]
		inst.Imm = immI(word)
	}

	return true
}

// opOps is indexed by funct3 for funct7 values 0b0000000, 0b0100000
// and 0b0000001.
var opOps = [3][8]Op{
	{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND},
	{0b000: OpSUB, 0b101: OpSRA},
	{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU},
}

func (d *Decoder) decodeOp(word uint32, inst *Instruction) bool {
	var row int
	switch funct7(word) {
	case 0b0000000:
		row = 0
	case 0b0100000:
		row = 1
	case 0b0000001:
		row = 2
	default:
		return false
	}

	op := opOps[row][funct3(word)]
	if op == OpUnknown {
		return false
	}

	inst.Op = op
	inst.Format = FormatR
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	return true
}

func (d *Decoder) decodeMiscMem(word uint32, inst *Instruction) bool {
	inst.Format = FormatI
	switch funct3(word) {
	case 0b000:
		inst.Op = OpFENCE
	case 0b001:
		inst.Op = OpFENCEI
	default:
		return false
	}
	return true
}

func (d *Decoder) decodeSystem(word uint32, inst *Instruction) bool {
	inst.Format = FormatI
	switch word {
	case WordECALL:
		inst.Op = OpECALL
	case WordEBREAK:
		inst.Op = OpEBREAK
	default:
		// CSR instructions belong to Zicsr, which is not supported.
		return false
	}
	return true
}
