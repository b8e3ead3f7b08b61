package arm64

// Op represents an ARM64 opcode.
type Op uint16

// ARM64 opcodes.
const (
	OpUnknown Op = iota
	OpADD
	OpSUB
	OpAND
	OpORR
	OpEOR
	OpMOVN
	OpMOVZ
	OpMOVK
	OpSBFM
	OpUBFM
	OpUDIV
	OpSDIV
	OpLSLV
	OpLSRV
	OpASRV
	OpMADD
	OpMSUB
	OpSMADDL
	OpUMADDL
	OpCSEL
	OpCSINC
	OpCSINV
	OpCSNEG
	OpB
	OpBL
	OpBCond
	OpCBZ
	OpCBNZ
	OpBR
	OpBLR
	OpRET
	OpLDR
	OpSTR
	OpLDP
	OpSTP
	OpNOP
)

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown       Format = iota
	FormatDPImm                // Data Processing (Immediate)
	FormatDPReg                // Data Processing (Register)
	FormatMoveWide             // Move wide (immediate)
	FormatBitfield             // Bitfield move
	FormatDP2Src               // Data processing (2 source)
	FormatDP3Src               // Data processing (3 source)
	FormatCondSelect           // Conditional select
	FormatBranch               // Unconditional Branch (Immediate)
	FormatBranchCond           // Conditional Branch
	FormatCompareBranch        // Compare and branch
	FormatBranchReg            // Branch to Register
	FormatLoadStoreImm         // Load/store, unsigned offset
	FormatLoadStoreReg         // Load/store, register offset
	FormatLoadLiteral          // Load register (literal)
	FormatLoadStorePair        // Load/store pair, signed offset
	FormatSystem               // Hints
)

// Instruction represents a decoded ARM64 instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format

	// Common fields
	Is64Bit  bool  // true for 64-bit (X registers), false for 32-bit (W registers)
	SetFlags bool  // true if instruction sets condition flags (S suffix)
	Rd       uint8 // Destination register (Rt for loads and stores)
	Rn       uint8 // First source register (base for loads and stores)
	Rm       uint8 // Second source register (index for register offset)
	Ra       uint8 // Accumulator (3 source), Rt2 (pairs)

	// Immediate operand
	Imm   uint64 // Immediate value (byte offset for loads and stores)
	Shift uint8  // Shift amount for immediate

	// Bitfield fields
	Immr uint8
	Imms uint8

	// Branch fields
	BranchOffset int64 // Signed branch offset in bytes
	Cond         Cond  // Condition code for conditional branches and selects

	// Shift for register operand
	ShiftType   ShiftType // Type of shift applied to Rm
	ShiftAmount uint8     // Shift amount for Rm

	// Memory access
	AccessBytes uint8 // 1, 2, 4 or 8
	Signed      bool  // sign-extending load
}

// Decoder decodes ARM64 machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new ARM64 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit ARM64 instruction word.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Format: FormatUnknown}
	d.DecodeInto(word, inst)
	return inst
}

// DecodeInto decodes word into inst, overwriting every field.
func (d *Decoder) DecodeInto(word uint32, inst *Instruction) {
	*inst = Instruction{}

	switch {
	case word == NOP:
		inst.Op = OpNOP
		inst.Format = FormatSystem
	case d.isDataProcessingImm(word):
		d.decodeDataProcessingImm(word, inst)
	case d.isMoveWide(word):
		d.decodeMoveWide(word, inst)
	case d.isBitfield(word):
		d.decodeBitfield(word, inst)
	case d.isDataProcessingReg(word):
		d.decodeDataProcessingReg(word, inst)
	case d.isDP2Src(word):
		d.decodeDP2Src(word, inst)
	case d.isDP3Src(word):
		d.decodeDP3Src(word, inst)
	case d.isCondSelect(word):
		d.decodeCondSelect(word, inst)
	case d.isBranchImm(word):
		d.decodeBranchImm(word, inst)
	case d.isBranchCond(word):
		d.decodeBranchCond(word, inst)
	case d.isCompareBranch(word):
		d.decodeCompareBranch(word, inst)
	case d.isBranchReg(word):
		d.decodeBranchReg(word, inst)
	case d.isLoadLiteral(word):
		d.decodeLoadLiteral(word, inst)
	case d.isLoadStorePair(word):
		d.decodeLoadStorePair(word, inst)
	case d.isLoadStoreImm(word):
		d.decodeLoadStoreImm(word, inst)
	case d.isLoadStoreReg(word):
		d.decodeLoadStoreReg(word, inst)
	}
}

// signExtend sign-extends the low bits of v.
func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

// isDataProcessingImm checks if instruction is Data Processing (Immediate).
// Add/Sub immediate: bits [28:23] == 0b100010
func (d *Decoder) isDataProcessingImm(word uint32) bool {
	op := (word >> 23) & 0x3F // bits [28:23]
	return op == 0b100010
}

// decodeDataProcessingImm decodes Add/Sub immediate instructions.
// Format: sf | op | S | 100010 | sh | imm12 | Rn | Rd
func (d *Decoder) decodeDataProcessingImm(word uint32, inst *Instruction) {
	inst.Format = FormatDPImm

	sf := (word >> 31) & 0x1      // bit 31: 1=64-bit, 0=32-bit
	op := (word >> 30) & 0x1      // bit 30: 0=ADD, 1=SUB
	s := (word >> 29) & 0x1       // bit 29: 1=set flags
	sh := (word >> 22) & 0x1      // bit 22: shift
	imm12 := (word >> 10) & 0xFFF // bits [21:10]

	inst.Is64Bit = sf == 1
	inst.SetFlags = s == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Imm = uint64(imm12)

	if sh == 1 {
		inst.Shift = 12
	}

	if op == 0 {
		inst.Op = OpADD
	} else {
		inst.Op = OpSUB
	}
}

// isMoveWide checks for MOVN/MOVZ/MOVK: bits [28:23] == 0b100101.
func (d *Decoder) isMoveWide(word uint32) bool {
	opc := (word >> 29) & 0x3
	return (word>>23)&0x3F == 0b100101 && opc != 0b01
}

// decodeMoveWide decodes move wide instructions.
// Format: sf | opc | 100101 | hw | imm16 | Rd
func (d *Decoder) decodeMoveWide(word uint32, inst *Instruction) {
	inst.Format = FormatMoveWide
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Imm = uint64((word >> 5) & 0xFFFF) // bits [20:5]
	inst.Shift = uint8((word>>21)&0x3) * 16 // hw, bits [22:21]

	switch (word >> 29) & 0x3 {
	case 0b00:
		inst.Op = OpMOVN
	case 0b10:
		inst.Op = OpMOVZ
	case 0b11:
		inst.Op = OpMOVK
	}
}

// isBitfield checks for SBFM/UBFM: bits [28:23] == 0b100110.
func (d *Decoder) isBitfield(word uint32) bool {
	opc := (word >> 29) & 0x3
	return (word>>23)&0x3F == 0b100110 && (opc == 0b00 || opc == 0b10)
}

// decodeBitfield decodes bitfield moves.
// Format: sf | opc | 100110 | N | immr | imms | Rn | Rd
func (d *Decoder) decodeBitfield(word uint32, inst *Instruction) {
	inst.Format = FormatBitfield
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Imms = uint8((word >> 10) & 0x3F) // bits [15:10]
	inst.Immr = uint8((word >> 16) & 0x3F) // bits [21:16]

	if (word>>29)&0x3 == 0b00 {
		inst.Op = OpSBFM
	} else {
		inst.Op = OpUBFM
	}
}

// isDataProcessingReg checks if instruction is Data Processing (Register).
// Add/Sub register: bits [28:24] == 0b01011, bit 21 == 0
// Logical register: bits [28:24] == 0b01010
func (d *Decoder) isDataProcessingReg(word uint32) bool {
	op := (word >> 24) & 0x1F // bits [28:24]
	if op == 0b01011 {
		return (word>>21)&0x1 == 0
	}
	return op == 0b01010 && (word>>21)&0x1 == 0
}

// decodeDataProcessingReg decodes Add/Sub/Logical register instructions.
// Add/Sub format: sf | op | S | 01011 | shift | 0 | Rm | imm6 | Rn | Rd
// Logical format: sf | opc | 01010 | shift | N | Rm | imm6 | Rn | Rd
func (d *Decoder) decodeDataProcessingReg(word uint32, inst *Instruction) {
	inst.Format = FormatDPReg

	sf := (word >> 31) & 0x1    // bit 31
	op := (word >> 24) & 0x1F   // bits [28:24]
	imm6 := (word >> 10) & 0x3F // bits [15:10]
	shift := (word >> 22) & 0x3 // bits [23:22]

	inst.Is64Bit = sf == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Rm = uint8((word >> 16) & 0x1F)
	inst.ShiftType = ShiftType(shift)
	inst.ShiftAmount = uint8(imm6)

	if op == 0b01011 {
		// Add/Sub register
		inst.SetFlags = (word>>29)&0x1 == 1
		if (word>>30)&0x1 == 0 {
			inst.Op = OpADD
		} else {
			inst.Op = OpSUB
		}
		return
	}

	// Logical register (op == 0b01010)
	switch (word >> 29) & 0x3 {
	case 0b00:
		inst.Op = OpAND
	case 0b01:
		inst.Op = OpORR
	case 0b10:
		inst.Op = OpEOR
	case 0b11:
		inst.Op = OpAND
		inst.SetFlags = true // ANDS
	}
}

// isDP2Src checks for data processing (2 source): bits [30:21] == 0b0011010110.
func (d *Decoder) isDP2Src(word uint32) bool {
	return (word>>21)&0x3FF == 0b0011010110
}

// decodeDP2Src decodes UDIV, SDIV, LSLV, LSRV and ASRV.
// Format: sf | 0 | 0 | 11010110 | Rm | opcode | Rn | Rd
func (d *Decoder) decodeDP2Src(word uint32, inst *Instruction) {
	inst.Format = FormatDP2Src
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Rm = uint8((word >> 16) & 0x1F)

	switch (word >> 10) & 0x3F { // bits [15:10]
	case 0b000010:
		inst.Op = OpUDIV
	case 0b000011:
		inst.Op = OpSDIV
	case 0b001000:
		inst.Op = OpLSLV
	case 0b001001:
		inst.Op = OpLSRV
	case 0b001010:
		inst.Op = OpASRV
	}
}

// isDP3Src checks for data processing (3 source): bits [28:24] == 0b11011.
func (d *Decoder) isDP3Src(word uint32) bool {
	return (word>>24)&0x1F == 0b11011
}

// decodeDP3Src decodes MADD, MSUB, SMADDL and UMADDL.
// Format: sf | op54 | 11011 | op31 | Rm | o0 | Ra | Rn | Rd
func (d *Decoder) decodeDP3Src(word uint32, inst *Instruction) {
	inst.Format = FormatDP3Src
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Ra = uint8((word >> 10) & 0x1F)
	inst.Rm = uint8((word >> 16) & 0x1F)

	op31 := (word >> 21) & 0x7 // bits [23:21]
	o0 := (word >> 15) & 0x1   // bit 15

	switch {
	case op31 == 0b000 && o0 == 0:
		inst.Op = OpMADD
	case op31 == 0b000 && o0 == 1:
		inst.Op = OpMSUB
	case op31 == 0b001 && o0 == 0 && inst.Is64Bit:
		inst.Op = OpSMADDL
	case op31 == 0b101 && o0 == 0 && inst.Is64Bit:
		inst.Op = OpUMADDL
	}
}

// isCondSelect checks for conditional select: bits [29:21] == 0b011010100.
func (d *Decoder) isCondSelect(word uint32) bool {
	return (word>>21)&0x1FF == 0b011010100 && (word>>11)&0x1 == 0
}

// decodeCondSelect decodes CSEL, CSINC, CSINV and CSNEG.
// Format: sf | op | S | 11010100 | Rm | cond | 0 | o2 | Rn | Rd
func (d *Decoder) decodeCondSelect(word uint32, inst *Instruction) {
	inst.Format = FormatCondSelect
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Rm = uint8((word >> 16) & 0x1F)
	inst.Cond = Cond((word >> 12) & 0xF)

	op := (word >> 30) & 0x1
	o2 := (word >> 10) & 0x1
	switch {
	case op == 0 && o2 == 0:
		inst.Op = OpCSEL
	case op == 0 && o2 == 1:
		inst.Op = OpCSINC
	case op == 1 && o2 == 0:
		inst.Op = OpCSINV
	default:
		inst.Op = OpCSNEG
	}
}

// isBranchImm checks for unconditional branch immediate.
// B:  bits [31:26] == 0b000101
// BL: bits [31:26] == 0b100101
func (d *Decoder) isBranchImm(word uint32) bool {
	op := (word >> 26) & 0x3F
	return op == 0b000101 || op == 0b100101
}

// decodeBranchImm decodes B and BL instructions.
// Format: op | imm26
func (d *Decoder) decodeBranchImm(word uint32, inst *Instruction) {
	inst.Format = FormatBranch
	inst.BranchOffset = signExtend(word&0x3FFFFFF, 26) * 4

	if (word>>31)&0x1 == 0 {
		inst.Op = OpB
	} else {
		inst.Op = OpBL
	}
}

// isBranchCond checks for conditional branch.
// B.cond: bits [31:25] == 0b0101010, bit 4 == 0
func (d *Decoder) isBranchCond(word uint32) bool {
	op := (word >> 25) & 0x7F
	bit4 := (word >> 4) & 0x1
	return op == 0b0101010 && bit4 == 0
}

// decodeBranchCond decodes conditional branch instructions.
// Format: 0101010 0 | imm19 | 0 | cond
func (d *Decoder) decodeBranchCond(word uint32, inst *Instruction) {
	inst.Format = FormatBranchCond
	inst.Op = OpBCond
	inst.BranchOffset = signExtend((word>>5)&0x7FFFF, 19) * 4
	inst.Cond = Cond(word & 0xF)
}

// isCompareBranch checks for CBZ/CBNZ: bits [30:25] == 0b011010.
func (d *Decoder) isCompareBranch(word uint32) bool {
	return (word>>25)&0x3F == 0b011010
}

// decodeCompareBranch decodes CBZ and CBNZ.
// Format: sf | 011010 | op | imm19 | Rt
func (d *Decoder) decodeCompareBranch(word uint32, inst *Instruction) {
	inst.Format = FormatCompareBranch
	inst.Is64Bit = (word>>31)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.BranchOffset = signExtend((word>>5)&0x7FFFF, 19) * 4

	if (word>>24)&0x1 == 0 {
		inst.Op = OpCBZ
	} else {
		inst.Op = OpCBNZ
	}
}

// isBranchReg checks for branch to register.
// Format: 1101011 0 0 op[1:0] 11111 0000 0 0 Rn 00000
func (d *Decoder) isBranchReg(word uint32) bool {
	hi := (word >> 25) & 0x7F
	mid := (word >> 10) & 0x3F
	lo := word & 0x1F

	return hi == 0b1101011 && mid == 0b000000 && lo == 0b00000
}

// decodeBranchReg decodes BR, BLR, and RET instructions.
func (d *Decoder) decodeBranchReg(word uint32, inst *Instruction) {
	inst.Format = FormatBranchReg
	inst.Rn = uint8((word >> 5) & 0x1F)

	switch (word >> 21) & 0x3 { // bits [22:21]
	case 0b00:
		inst.Op = OpBR
	case 0b01:
		inst.Op = OpBLR
	case 0b10:
		inst.Op = OpRET
	}
}

// isLoadLiteral checks for LDR (literal), 32 and 64-bit forms.
// Format: 0 x 011 0 00 | imm19 | Rt
func (d *Decoder) isLoadLiteral(word uint32) bool {
	return (word>>24)&0xBF == 0b00011000
}

// decodeLoadLiteral decodes a PC-relative load.
func (d *Decoder) decodeLoadLiteral(word uint32, inst *Instruction) {
	inst.Format = FormatLoadLiteral
	inst.Op = OpLDR
	inst.Is64Bit = (word>>30)&0x1 == 1
	inst.Rd = uint8(word & 0x1F)
	inst.BranchOffset = signExtend((word>>5)&0x7FFFF, 19) * 4
	inst.AccessBytes = 4
	if inst.Is64Bit {
		inst.AccessBytes = 8
	}
}

// isLoadStorePair checks for 64-bit LDP/STP with signed offset.
// Format: 10 | 101 | 0 | 010 | L | imm7 | Rt2 | Rn | Rt
func (d *Decoder) isLoadStorePair(word uint32) bool {
	return (word>>23)&0x1FF == 0b101010010
}

// decodeLoadStorePair decodes LDP and STP.
func (d *Decoder) decodeLoadStorePair(word uint32, inst *Instruction) {
	inst.Format = FormatLoadStorePair
	inst.Is64Bit = true
	inst.AccessBytes = 8
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Ra = uint8((word >> 10) & 0x1F)
	inst.Imm = uint64(signExtend((word>>15)&0x7F, 7) * 8)

	if (word>>22)&0x1 == 1 {
		inst.Op = OpLDP
	} else {
		inst.Op = OpSTP
	}
}

// loadStoreOp fills in the operation for size and opc fields.
func loadStoreOp(word uint32, inst *Instruction) bool {
	size := (word >> 30) & 0x3 // bits [31:30]
	opc := (word >> 22) & 0x3  // bits [23:22]

	inst.AccessBytes = 1 << size
	inst.Is64Bit = size == 3

	switch opc {
	case 0b00:
		inst.Op = OpSTR
	case 0b01:
		inst.Op = OpLDR
	case 0b11:
		if size > 1 {
			return false
		}
		inst.Op = OpLDR
		inst.Signed = true
	default:
		return false
	}
	return true
}

// isLoadStoreImm checks for load/store with unsigned offset.
// Format: size | 111 | 0 | 01 | opc | imm12 | Rn | Rt
func (d *Decoder) isLoadStoreImm(word uint32) bool {
	return (word>>24)&0x3F == 0b111001
}

// decodeLoadStoreImm decodes LDR/STR (unsigned offset).
func (d *Decoder) decodeLoadStoreImm(word uint32, inst *Instruction) {
	if !loadStoreOp(word, inst) {
		*inst = Instruction{}
		return
	}
	inst.Format = FormatLoadStoreImm
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Imm = uint64((word>>10)&0xFFF) * uint64(inst.AccessBytes)
}

// isLoadStoreReg checks for load/store with register offset.
// Format: size | 111 | 0 | 00 | opc | 1 | Rm | option | S | 10 | Rn | Rt
func (d *Decoder) isLoadStoreReg(word uint32) bool {
	return (word>>24)&0x3F == 0b111000 && (word>>21)&0x1 == 1 && (word>>10)&0x3 == 0b10
}

// decodeLoadStoreReg decodes LDR/STR (register). Only the LSL (UXTX)
// extend option is supported.
func (d *Decoder) decodeLoadStoreReg(word uint32, inst *Instruction) {
	if (word>>13)&0x7 != 0b011 || !loadStoreOp(word, inst) {
		*inst = Instruction{}
		return
	}
	inst.Format = FormatLoadStoreReg
	inst.Rd = uint8(word & 0x1F)
	inst.Rn = uint8((word >> 5) & 0x1F)
	inst.Rm = uint8((word >> 16) & 0x1F)

	if (word>>12)&0x1 == 1 {
		for b := inst.AccessBytes; b > 1; b >>= 1 {
			inst.ShiftAmount++
		}
	}
}
