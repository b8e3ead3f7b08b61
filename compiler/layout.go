package compiler

import "github.com/sarchlab/rvaot/arm64"

// Frame layout. Generated code addresses the current frame through X27.
// vm.Frame mirrors these offsets.
const (
	FrameRegs   = 0   // [32]uint64, guest x0..x31 zero-extended
	FrameReason = 256 // exit reason
	FrameResume = 264 // native address to resume at
	FrameX16    = 272 // host X16 at exit, restored on entry
	FrameX17    = 280 // host X17 at exit, restored on entry
	FrameValue  = 288 // store value stash for the store routines
	FrameHostLR = 296 // return address into the entry trampoline
	FrameSize   = 304
)

// Header cells, at the start of the writable header that precedes the
// code. HeaderMemory is rewritten before every entry into generated code.
const (
	HeaderMemory   = 0  // *memory.Tables of the active address space
	HeaderPCMap    = 8  // address of the PC map ([]uint32 data)
	HeaderCodeBase = 16 // address of the first code byte
	HeaderSize     = 24
)

// Exit reasons, passed in W0 to the exit routine.
const (
	ExitReturn  = 1 // guest jumped to the return sentinel
	ExitEcall   = 2 // ECALL; resume after the handler runs
	ExitEbreak  = 3 // EBREAK under the trap policy
	ExitBadJump = 4 // indirect target outside the image or misaligned; W16 holds it
	ExitMemory  = 8 // ExitMemory+MemKind: access needs the host; W16 holds the address
)

// ReturnSentinel is placed in ra by the bridge. A jump to it ends the call.
const ReturnSentinel uint32 = 0xFFFFFFFE

// MemKind identifies one of the shared memory routines.
type MemKind uint8

// Memory routines.
const (
	MemLB MemKind = iota
	MemLBU
	MemLH
	MemLHU
	MemLW
	MemSB
	MemSH
	MemSW
	numMemKinds
)

var memKindNames = [numMemKinds]string{"lb", "lbu", "lh", "lhu", "lw", "sb", "sh", "sw"}

func (k MemKind) String() string {
	if k < numMemKinds {
		return memKindNames[k]
	}
	return "mem?"
}

// Size returns the access width in bytes.
func (k MemKind) Size() int {
	switch k {
	case MemLB, MemLBU, MemSB:
		return 1
	case MemLH, MemLHU, MemSH:
		return 2
	}
	return 4
}

// IsStore reports whether the routine writes memory.
func (k MemKind) IsStore() bool {
	return k >= MemSB
}

// Signed reports whether a load sign-extends.
func (k MemKind) Signed() bool {
	return k == MemLB || k == MemLH
}

func (k MemKind) access() arm64.Access {
	return arm64.Access{Bytes: uint8(k.Size()), Load: !k.IsStore(), Signed: k.Signed()}
}

// Host registers with a fixed role in generated code.
const (
	regFrame = arm64.X27 // current frame
	regAddr  = arm64.X16 // memory routine address, jump target
	regValue = arm64.X17 // memory routine value
	regTmp   = arm64.X0  // scratch, exit reason
)

// hostReg returns the host register that holds guest register g, or false
// when g lives in its frame cell. Guest x0 is the zero register.
func hostReg(g uint8) (arm64.Reg, bool) {
	switch {
	case g == 0:
		return arm64.XZR, true
	case g <= 15, g >= 19 && g <= 26, g == 29:
		return arm64.Reg(g), true
	}
	return 0, false
}

// hardwareRegs lists the guest registers held in host registers, in frame
// order. The enter and exit routines move exactly these.
var hardwareRegs = func() []uint8 {
	var regs []uint8
	for g := uint8(1); g < 32; g++ {
		if _, ok := hostReg(g); ok {
			regs = append(regs, g)
		}
	}
	return regs
}()

// cellOffset returns the frame offset of guest register g.
func cellOffset(g uint8) uint32 {
	return FrameRegs + uint32(g)*8
}
