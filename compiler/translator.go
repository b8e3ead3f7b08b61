package compiler

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rvaot/arm64"
	"github.com/sarchlab/rvaot/insts"
)

// ErrUnsupportedInstruction is wrapped by TranslateError when a guest word
// cannot be translated.
var ErrUnsupportedInstruction = errors.New("unsupported instruction")

// TranslateError reports the guest address and word that stopped
// compilation.
type TranslateError struct {
	PC   uint32
	Word uint32
	Err  error
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("translating 0x%08x at 0x%08x: %v", e.Word, e.PC, e.Err)
}

func (e *TranslateError) Unwrap() []error {
	return []error{ErrUnsupportedInstruction, e.Err}
}

// EbreakPolicy selects how EBREAK is translated.
type EbreakPolicy uint8

// EBREAK policies.
const (
	EbreakNop  EbreakPolicy = iota // EBREAK does nothing
	EbreakTrap                     // EBREAK exits with ExitEbreak
)

// FixupKind identifies how a pending branch is re-encoded.
type FixupKind uint8

// Fixup kinds.
const (
	FixupB     FixupKind = iota // B to a guest target
	FixupBCond                  // B.cond to a guest target
)

// Fixup is a branch whose guest target had no native offset yet.
type Fixup struct {
	Index  int        // word index within the sequence
	Kind   FixupKind  // encoding to use
	Cond   arm64.Cond // condition for FixupBCond
	Target uint32     // guest target address
}

// Sequence is the native code of one guest instruction.
type Sequence struct {
	Words  []uint32
	Fixups []Fixup
}

// Context is the compile-time state a translation depends on.
type Context struct {
	PC       uint32 // guest address of the instruction
	Offset   int64  // native offset of the first emitted word
	Base     uint32 // guest address of the first image instruction
	Size     uint32 // image size in bytes
	Routines Routines
	Ebreak   EbreakPolicy

	// Resolve returns the native offset of an already translated guest
	// address.
	Resolve func(target uint32) (int64, bool)
}

// InImage reports whether target is a translated instruction address.
func (c *Context) InImage(target uint32) bool {
	return target%4 == 0 && target-c.Base < c.Size
}

// Translator converts single guest instructions into native sequences.
type Translator struct{}

// NewTranslator creates a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// translation is the working state of one Translate call.
type translation struct {
	emitter
	ctx    *Context
	fixups []Fixup
}

// here returns the native offset of the next word.
func (t *translation) here() int64 {
	return t.ctx.Offset + int64(t.pos())*4
}

// call emits BL to a shared routine.
func (t *translation) call(routine int64) {
	t.emitE(arm64.BL(routine - t.here()))
}

// jumpTo emits B to a shared routine.
func (t *translation) jumpTo(routine int64) {
	t.emitE(arm64.B(routine - t.here()))
}

// read returns the host register holding guest register g, loading it
// into scratch when g lives in its cell.
func (t *translation) read(g uint8, scratch arm64.Reg) arm64.Reg {
	if r, ok := hostReg(g); ok {
		return r
	}
	t.ldrCell(scratch, cellOffset(g))
	return scratch
}

// dest returns the register a result for guest register g is computed
// into. Cell-backed registers compute into X0 and are stored by commit.
func (t *translation) dest(g uint8) arm64.Reg {
	if r, ok := hostReg(g); ok {
		return r
	}
	return regTmp
}

// commit stores the value computed into r for guest register g.
func (t *translation) commit(g uint8, r arm64.Reg) {
	if hr, ok := hostReg(g); ok {
		t.movReg(hr, r)
		return
	}
	t.strCell(r, cellOffset(g))
}

// branch emits a B or B.cond to a guest target, directly when the target
// is already translated and as a fixup otherwise.
func (t *translation) branch(kind FixupKind, c arm64.Cond, target uint32) {
	if !t.ctx.InImage(target) {
		t.farJump(kind, c, target)
		return
	}

	if off, ok := t.ctx.Resolve(target); ok {
		delta := off - t.here()
		if kind == FixupB {
			t.emitE(arm64.B(delta))
		} else {
			t.emitE(arm64.BCond(c, delta))
		}
		return
	}

	t.fixups = append(t.fixups, Fixup{Index: t.pos(), Kind: kind, Cond: c, Target: target})
	t.emit(arm64.NOP)
}

// farJump routes a transfer to a target outside the image through the jump
// routine, which reports it.
func (t *translation) farJump(kind FixupKind, c arm64.Cond, target uint32) {
	var skip int
	if kind == FixupBCond {
		skip = t.placeholder()
	}
	t.movImm(regAddr, target)
	t.jumpTo(t.ctx.Routines.Jump)
	if kind == FixupBCond {
		t.patchBCond(skip, c.Invert(), t.pos())
	}
}

// Translate returns the native sequence implementing inst at ctx.PC.
func (tr *Translator) Translate(inst *insts.Instruction, ctx *Context) (Sequence, error) {
	t := &translation{ctx: ctx}

	switch {
	case inst.IsLoad():
		t.load(inst)
	case inst.IsStore():
		t.store(inst)
	case inst.IsBranch():
		t.condBranch(inst)
	default:
		if err := t.other(inst); err != nil {
			return Sequence{}, err
		}
	}

	if t.err != nil {
		return Sequence{}, t.err
	}
	return Sequence{Words: t.words, Fixups: t.fixups}, nil
}

func (t *translation) other(inst *insts.Instruction) error {
	switch inst.Op {
	case insts.OpLUI:
		t.constant(inst.Rd, uint32(inst.Imm))
	case insts.OpAUIPC:
		t.constant(inst.Rd, t.ctx.PC+uint32(inst.Imm))
	case insts.OpJAL:
		t.jal(inst)
	case insts.OpJALR:
		t.jalr(inst)
	case insts.OpADDI, insts.OpSLTI, insts.OpSLTIU, insts.OpXORI, insts.OpORI,
		insts.OpANDI, insts.OpSLLI, insts.OpSRLI, insts.OpSRAI:
		t.opImm(inst)
	case insts.OpADD, insts.OpSUB, insts.OpSLL, insts.OpSLT, insts.OpSLTU,
		insts.OpXOR, insts.OpSRL, insts.OpSRA, insts.OpOR, insts.OpAND:
		t.op(inst)
	case insts.OpMUL, insts.OpMULH, insts.OpMULHSU, insts.OpMULHU:
		t.mul(inst)
	case insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU:
		t.div(inst)
	case insts.OpFENCE, insts.OpFENCEI:
		// Single-threaded guest with immutable code.
	case insts.OpECALL:
		t.emitE(arm64.MovZ(arm64.W, regTmp, ExitEcall, 0))
		t.call(t.ctx.Routines.Exit)
	case insts.OpEBREAK:
		if t.ctx.Ebreak == EbreakTrap {
			t.emitE(arm64.MovZ(arm64.W, regTmp, ExitEbreak, 0))
			t.call(t.ctx.Routines.Exit)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedInstruction, inst.Op)
	}
	return nil
}

// constant writes a compile-time value to rd.
func (t *translation) constant(rd uint8, v uint32) {
	if rd == 0 {
		return
	}
	d := t.dest(rd)
	t.movImm(d, v)
	t.commit(rd, d)
}

func (t *translation) jal(inst *insts.Instruction) {
	t.constant(inst.Rd, t.ctx.PC+4)
	t.branch(FixupB, arm64.CondAL, t.ctx.PC+uint32(inst.Imm))
}

func (t *translation) jalr(inst *insts.Instruction) {
	// Target first: rd may equal rs1.
	a := t.read(inst.Rs1, regAddr)
	t.addImm(regAddr, a, inst.Imm)
	t.emitE(arm64.LsrImm(arm64.W, regAddr, regAddr, 1))
	t.emitE(arm64.LslImm(arm64.W, regAddr, regAddr, 1))
	t.constant(inst.Rd, t.ctx.PC+4)
	t.jumpTo(t.ctx.Routines.Jump)
}

var branchConds = map[insts.Op]arm64.Cond{
	insts.OpBEQ:  arm64.CondEQ,
	insts.OpBNE:  arm64.CondNE,
	insts.OpBLT:  arm64.CondLT,
	insts.OpBGE:  arm64.CondGE,
	insts.OpBLTU: arm64.CondLO,
	insts.OpBGEU: arm64.CondHS,
}

func (t *translation) condBranch(inst *insts.Instruction) {
	a := t.read(inst.Rs1, regAddr)
	b := t.read(inst.Rs2, regValue)
	t.emit(arm64.Cmp(arm64.W, a, b))
	t.branch(FixupBCond, branchConds[inst.Op], t.ctx.PC+uint32(inst.Imm))
}

var memKinds = map[insts.Op]MemKind{
	insts.OpLB:  MemLB,
	insts.OpLBU: MemLBU,
	insts.OpLH:  MemLH,
	insts.OpLHU: MemLHU,
	insts.OpLW:  MemLW,
	insts.OpSB:  MemSB,
	insts.OpSH:  MemSH,
	insts.OpSW:  MemSW,
}

// address computes rs1 + imm into W16.
func (t *translation) address(inst *insts.Instruction) {
	a := t.read(inst.Rs1, regAddr)
	t.addImm(regAddr, a, inst.Imm)
}

func (t *translation) load(inst *insts.Instruction) {
	t.address(inst)
	t.call(t.ctx.Routines.Memory[memKinds[inst.Op]])
	if inst.Rd != 0 {
		t.commit(inst.Rd, regValue)
	}
}

func (t *translation) store(inst *insts.Instruction) {
	t.address(inst)
	if r, ok := hostReg(inst.Rs2); ok {
		t.movReg(regValue, r)
	} else {
		t.ldrCell(regValue, cellOffset(inst.Rs2))
	}
	t.call(t.ctx.Routines.Memory[memKinds[inst.Op]])
}

// immOperand places an I-type immediate in W17.
func (t *translation) immOperand(imm int32) arm64.Reg {
	if imm == 0 {
		return arm64.XZR
	}
	t.movImm(regValue, uint32(imm))
	return regValue
}

func (t *translation) opImm(inst *insts.Instruction) {
	if inst.Rd == 0 {
		return
	}
	a := t.read(inst.Rs1, regAddr)
	d := t.dest(inst.Rd)
	shift := uint8(inst.Imm & 0x1F)

	switch inst.Op {
	case insts.OpADDI:
		t.addImm(d, a, inst.Imm)
	case insts.OpSLTI, insts.OpSLTIU:
		t.compareImm(a, inst.Imm)
		cond := arm64.CondLT
		if inst.Op == insts.OpSLTIU {
			cond = arm64.CondLO
		}
		t.emit(arm64.Cset(arm64.W, d, cond))
	case insts.OpXORI:
		t.emit(arm64.EorReg(arm64.W, d, a, t.immOperand(inst.Imm)))
	case insts.OpORI:
		t.emit(arm64.OrrReg(arm64.W, d, a, t.immOperand(inst.Imm)))
	case insts.OpANDI:
		t.emit(arm64.AndReg(arm64.W, d, a, t.immOperand(inst.Imm)))
	case insts.OpSLLI:
		t.emitE(arm64.LslImm(arm64.W, d, a, shift))
	case insts.OpSRLI:
		t.emitE(arm64.LsrImm(arm64.W, d, a, shift))
	case insts.OpSRAI:
		t.emitE(arm64.AsrImm(arm64.W, d, a, shift))
	}

	t.commit(inst.Rd, d)
}

// compareImm sets flags for a - imm.
func (t *translation) compareImm(a arm64.Reg, imm int32) {
	switch {
	case a != arm64.XZR && imm >= 0:
		t.emitE(arm64.SubsImm(arm64.W, arm64.XZR, a, uint32(imm), false))
	case a != arm64.XZR:
		t.emitE(arm64.AddsImm(arm64.W, arm64.XZR, a, uint32(-imm), false))
	default:
		t.emit(arm64.Cmp(arm64.W, a, t.immOperand(imm)))
	}
}

func (t *translation) op(inst *insts.Instruction) {
	if inst.Rd == 0 {
		return
	}
	a := t.read(inst.Rs1, regAddr)
	b := t.read(inst.Rs2, regValue)
	d := t.dest(inst.Rd)

	switch inst.Op {
	case insts.OpADD:
		t.emit(arm64.AddReg(arm64.W, d, a, b, arm64.ShiftLSL, 0))
	case insts.OpSUB:
		t.emit(arm64.SubReg(arm64.W, d, a, b))
	case insts.OpSLL:
		t.emit(arm64.Lslv(arm64.W, d, a, b))
	case insts.OpSRL:
		t.emit(arm64.Lsrv(arm64.W, d, a, b))
	case insts.OpSRA:
		t.emit(arm64.Asrv(arm64.W, d, a, b))
	case insts.OpSLT:
		t.emit(arm64.Cmp(arm64.W, a, b), arm64.Cset(arm64.W, d, arm64.CondLT))
	case insts.OpSLTU:
		t.emit(arm64.Cmp(arm64.W, a, b), arm64.Cset(arm64.W, d, arm64.CondLO))
	case insts.OpXOR:
		t.emit(arm64.EorReg(arm64.W, d, a, b))
	case insts.OpOR:
		t.emit(arm64.OrrReg(arm64.W, d, a, b))
	case insts.OpAND:
		t.emit(arm64.AndReg(arm64.W, d, a, b))
	}

	t.commit(inst.Rd, d)
}

func (t *translation) mul(inst *insts.Instruction) {
	if inst.Rd == 0 {
		return
	}
	a := t.read(inst.Rs1, regAddr)
	b := t.read(inst.Rs2, regValue)
	d := t.dest(inst.Rd)

	switch inst.Op {
	case insts.OpMUL:
		t.emit(arm64.Mul(arm64.W, d, a, b))
	case insts.OpMULH:
		t.emit(arm64.Smull(regTmp, a, b))
		t.emitE(arm64.LsrImm(arm64.X, d, regTmp, 32))
	case insts.OpMULHU:
		t.emit(arm64.Umull(regTmp, a, b))
		t.emitE(arm64.LsrImm(arm64.X, d, regTmp, 32))
	case insts.OpMULHSU:
		// Guest values are held zero-extended, so b needs no extension.
		t.emit(arm64.Sxtw(regTmp, a))
		t.emit(arm64.Mul(arm64.X, regTmp, regTmp, b))
		t.emitE(arm64.LsrImm(arm64.X, d, regTmp, 32))
	}

	t.commit(inst.Rd, d)
}

// div emits a division or remainder guarded against a zero divisor:
// quotients become all ones and remainders the dividend.
func (t *translation) div(inst *insts.Instruction) {
	if inst.Rd == 0 {
		return
	}
	a := t.read(inst.Rs1, regAddr)
	b := t.read(inst.Rs2, regValue)

	divide := arm64.Sdiv
	if inst.Op == insts.OpDIVU || inst.Op == insts.OpREMU {
		divide = arm64.Udiv
	}

	switch inst.Op {
	case insts.OpDIV, insts.OpDIVU:
		t.emitE(arm64.MovN(arm64.W, regTmp, 0, 0))
		t.emitE(arm64.Cbz(arm64.W, b, 8))
		t.emit(divide(arm64.W, regTmp, a, b))
	default:
		t.emit(arm64.Mov(arm64.W, regTmp, a))
		t.emitE(arm64.Cbz(arm64.W, b, 12))
		t.emit(divide(arm64.W, regTmp, a, b))
		t.emit(arm64.Msub(arm64.W, regTmp, regTmp, b, a))
	}

	t.commit(inst.Rd, regTmp)
}
