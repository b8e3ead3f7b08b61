package emu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/rvaot/arm64"
)

var (
	// ErrInstructionLimit is returned when a call exceeds its instruction
	// budget.
	ErrInstructionLimit = errors.New("instruction limit reached")

	// ErrUnknownInstruction is returned for a word outside the supported
	// subset.
	ErrUnknownInstruction = errors.New("unknown instruction")
)

// HaltAddress is the return address Call installs in X30. Returning to it
// ends the call.
const HaltAddress = 0

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true once the PC reaches HaltAddress.
	Halted bool

	// Err is set if the instruction could not execute.
	Err error
}

// Emulator executes ARM64 instructions functionally.
type Emulator struct {
	regFile *RegFile
	bus     *Bus
	decoder *arm64.Decoder
	inst    arm64.Instruction

	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	instructionCount uint64
	maxInstructions  uint64 // per call, 0 means no limit
	limit            uint64

	logger *slog.Logger
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMaxInstructions bounds the instructions one Call may execute. A
// value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithBus sets the bus instead of a new empty one.
func WithBus(bus *Bus) EmulatorOption {
	return func(e *Emulator) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = l
	}
}

// NewEmulator creates a new ARM64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		decoder: arm64.NewDecoder(),
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = NewBus()
	}

	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, e.bus)
	e.branchUnit = NewBranchUnit(e.regFile)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Bus returns the emulator's bus.
func (e *Emulator) Bus() *Bus {
	return e.bus
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// SetMaxInstructions changes the per-call instruction budget. A value of 0
// means no limit.
func (e *Emulator) SetMaxInstructions(max uint64) {
	e.maxInstructions = max
}

// Call runs the code at entry with X0 = arg until it returns to
// HaltAddress.
func (e *Emulator) Call(entry, arg uint64) error {
	e.regFile.X[0] = arg
	e.regFile.X[30] = HaltAddress
	e.regFile.PC = entry

	start := e.instructionCount
	e.limit = 0
	if e.maxInstructions > 0 {
		e.limit = start + e.maxInstructions
	}

	for {
		result := e.Step()
		if result.Err != nil {
			return result.Err
		}
		if result.Halted {
			e.logger.Debug("emulated call returned",
				"entry", fmt.Sprintf("%#x", entry),
				"instructions", e.instructionCount-start)
			return nil
		}
	}
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.regFile.PC == HaltAddress {
		return StepResult{Halted: true}
	}
	if e.limit > 0 && e.instructionCount >= e.limit {
		return StepResult{Err: fmt.Errorf("%w at pc %#x", ErrInstructionLimit, e.regFile.PC)}
	}

	word, ok := e.bus.Read(e.regFile.PC, 4)
	if !ok {
		return StepResult{Err: &FaultError{PC: e.regFile.PC, Addr: e.regFile.PC, Size: 4}}
	}

	e.decoder.DecodeInto(uint32(word), &e.inst)
	if err := e.execute(&e.inst, uint32(word)); err != nil {
		return StepResult{Err: err}
	}

	e.instructionCount++
	return StepResult{Halted: e.regFile.PC == HaltAddress}
}

// execute dispatches a decoded instruction. Branches set the PC; every
// other instruction advances it by four.
func (e *Emulator) execute(inst *arm64.Instruction, word uint32) error {
	var err error

	switch inst.Format {
	case arm64.FormatSystem:
	case arm64.FormatDPImm:
		e.executeDPImm(inst)
	case arm64.FormatDPReg:
		e.executeDPReg(inst)
	case arm64.FormatMoveWide:
		e.executeMoveWide(inst)
	case arm64.FormatBitfield:
		v := e.regFile.ReadReg(inst.Rn)
		e.regFile.write(inst.Rd, bitfield(v, inst.Immr, inst.Imms, inst.Op == arm64.OpSBFM, inst.Is64Bit), inst.Is64Bit)
	case arm64.FormatDP2Src:
		e.executeDataProc2Src(inst)
	case arm64.FormatDP3Src:
		e.executeDataProc3Src(inst)
	case arm64.FormatCondSelect:
		e.executeCondSelect(inst)
	case arm64.FormatBranch:
		if inst.Op == arm64.OpBL {
			e.branchUnit.BL(inst.BranchOffset)
		} else {
			e.branchUnit.B(inst.BranchOffset)
		}
		return nil
	case arm64.FormatBranchCond:
		e.branchUnit.BCond(inst.BranchOffset, inst.Cond)
		return nil
	case arm64.FormatCompareBranch:
		e.branchUnit.CompareBranch(inst.Rd, inst.BranchOffset, inst.Op == arm64.OpCBNZ, inst.Is64Bit)
		return nil
	case arm64.FormatBranchReg:
		if inst.Op == arm64.OpBLR {
			e.branchUnit.BLR(inst.Rn)
		} else {
			e.branchUnit.BR(inst.Rn)
		}
		return nil
	case arm64.FormatLoadLiteral:
		addr := uint64(int64(e.regFile.PC) + inst.BranchOffset)
		err = e.lsu.Load(inst.Rd, addr, int(inst.AccessBytes), false, inst.Is64Bit)
	case arm64.FormatLoadStoreImm:
		addr := e.regFile.ReadRegOrSP(inst.Rn) + inst.Imm
		err = e.executeLoadStore(inst, addr)
	case arm64.FormatLoadStoreReg:
		addr := e.regFile.ReadRegOrSP(inst.Rn) + e.regFile.ReadReg(inst.Rm)<<inst.ShiftAmount
		err = e.executeLoadStore(inst, addr)
	case arm64.FormatLoadStorePair:
		addr := e.regFile.ReadRegOrSP(inst.Rn) + inst.Imm
		if inst.Op == arm64.OpLDP {
			err = e.lsu.LoadPair(inst.Rd, inst.Ra, addr)
		} else {
			err = e.lsu.StorePair(inst.Rd, inst.Ra, addr)
		}
	default:
		return fmt.Errorf("%w %#08x at pc %#x", ErrUnknownInstruction, word, e.regFile.PC)
	}

	if err != nil {
		return err
	}
	e.regFile.PC += 4
	return nil
}

func (e *Emulator) executeDPImm(inst *arm64.Instruction) {
	imm := inst.Imm << inst.Shift
	op1 := e.regFile.ReadRegOrSP(inst.Rn)
	// Rd is SP unless the instruction sets flags.
	e.alu.Add(inst.Rd, op1, imm, inst.Op == arm64.OpSUB, inst.Is64Bit, inst.SetFlags, !inst.SetFlags)
}

func (e *Emulator) executeDPReg(inst *arm64.Instruction) {
	op1 := e.regFile.ReadReg(inst.Rn)
	op2 := applyShift(e.regFile.ReadReg(inst.Rm), inst.ShiftType, inst.ShiftAmount, inst.Is64Bit)

	switch inst.Op {
	case arm64.OpADD, arm64.OpSUB:
		e.alu.Add(inst.Rd, op1, op2, inst.Op == arm64.OpSUB, inst.Is64Bit, inst.SetFlags, false)
	default:
		e.alu.Logical(inst.Op, inst.Rd, op1, op2, inst.Is64Bit, inst.SetFlags)
	}
}

func (e *Emulator) executeMoveWide(inst *arm64.Instruction) {
	imm := inst.Imm << inst.Shift

	var result uint64
	switch inst.Op {
	case arm64.OpMOVZ:
		result = imm
	case arm64.OpMOVN:
		result = ^imm
	case arm64.OpMOVK:
		keep := ^(uint64(0xFFFF) << inst.Shift)
		result = e.regFile.ReadReg(inst.Rd)&keep | imm
	}
	e.regFile.write(inst.Rd, result, inst.Is64Bit)
}

func (e *Emulator) executeDataProc2Src(inst *arm64.Instruction) {
	rn := e.regFile.ReadReg(inst.Rn)
	rm := e.regFile.ReadReg(inst.Rm)
	is64 := inst.Is64Bit

	var result uint64
	switch inst.Op {
	case arm64.OpUDIV:
		if is64 {
			if rm != 0 {
				result = rn / rm
			}
		} else if uint32(rm) != 0 {
			result = uint64(uint32(rn) / uint32(rm))
		}
	case arm64.OpSDIV:
		// Division by zero yields zero; MinInt / -1 wraps.
		if is64 {
			if rm != 0 {
				result = uint64(int64(rn) / int64(rm))
			}
		} else if int32(rm) != 0 {
			result = uint64(uint32(int32(rn) / int32(rm)))
		}
	case arm64.OpLSLV:
		if is64 {
			result = rn << (rm & 63)
		} else {
			result = uint64(uint32(rn) << (rm & 31))
		}
	case arm64.OpLSRV:
		if is64 {
			result = rn >> (rm & 63)
		} else {
			result = uint64(uint32(rn) >> (rm & 31))
		}
	case arm64.OpASRV:
		if is64 {
			result = uint64(int64(rn) >> (rm & 63))
		} else {
			result = uint64(uint32(int32(rn) >> (rm & 31)))
		}
	}

	e.regFile.write(inst.Rd, result, is64)
}

func (e *Emulator) executeDataProc3Src(inst *arm64.Instruction) {
	rn := e.regFile.ReadReg(inst.Rn)
	rm := e.regFile.ReadReg(inst.Rm)
	ra := e.regFile.ReadReg(inst.Ra)

	var result uint64
	switch inst.Op {
	case arm64.OpMADD:
		result = ra + rn*rm
	case arm64.OpMSUB:
		result = ra - rn*rm
	case arm64.OpSMADDL:
		result = ra + uint64(int64(int32(rn))*int64(int32(rm)))
	case arm64.OpUMADDL:
		result = ra + uint64(uint32(rn))*uint64(uint32(rm))
	}

	e.regFile.write(inst.Rd, result, inst.Is64Bit)
}

func (e *Emulator) executeCondSelect(inst *arm64.Instruction) {
	var result uint64
	if e.branchUnit.CheckCondition(inst.Cond) {
		result = e.regFile.ReadReg(inst.Rn)
	} else {
		rm := e.regFile.ReadReg(inst.Rm)
		switch inst.Op {
		case arm64.OpCSEL:
			result = rm
		case arm64.OpCSINC:
			result = rm + 1
		case arm64.OpCSINV:
			result = ^rm
		case arm64.OpCSNEG:
			result = -rm
		}
	}

	e.regFile.write(inst.Rd, result, inst.Is64Bit)
}

func (e *Emulator) executeLoadStore(inst *arm64.Instruction, addr uint64) error {
	size := int(inst.AccessBytes)
	if inst.Op == arm64.OpLDR {
		// Signed W-form loads (LDRSB/LDRSH Wt) zero the upper half.
		return e.lsu.Load(inst.Rd, addr, size, inst.Signed, inst.Is64Bit)
	}
	return e.lsu.Store(inst.Rd, addr, size)
}
