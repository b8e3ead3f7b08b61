package compiler

import (
	"github.com/sarchlab/rvaot/arm64"
	"github.com/sarchlab/rvaot/memory"
)

// Routines holds the code offsets (bytes from the code base) of the shared
// routines emitted once at the start of every module.
type Routines struct {
	Enter  int64
	Exit   int64
	Jump   int64
	Memory [numMemKinds]int64
}

// routineBuilder emits the shared routines for one module.
type routineBuilder struct {
	*emitter

	headerSpan int64 // distance from the header start to the code base
	imageBase  uint32
	imageSize  uint32
	routines   Routines
}

// literal loads the header cell at off into the X form of r.
func (b *routineBuilder) literal(r arm64.Reg, cell int64) {
	offset := cell - b.headerSpan - int64(b.pos())*4
	b.emitE(arm64.LdrLiteral(arm64.X, r, offset))
}

// branchTo emits B or BL from the current position to a routine offset.
func (b *routineBuilder) branchTo(target int64, link bool) {
	offset := target - int64(b.pos())*4
	if link {
		b.emitE(arm64.BL(offset))
	} else {
		b.emitE(arm64.B(offset))
	}
}

func (b *routineBuilder) build() Routines {
	b.routines.Enter = int64(b.pos()) * 4
	b.enter()
	b.routines.Exit = int64(b.pos()) * 4
	b.exit()
	b.routines.Jump = int64(b.pos()) * 4
	b.jump()
	for k := MemKind(0); k < numMemKinds; k++ {
		b.routines.Memory[k] = int64(b.pos()) * 4
		b.memoryRoutine(k)
	}
	return b.routines
}

// regPairs walks hardwareRegs as LDP/STP pairs of frame-adjacent registers.
func regPairs(fn func(a, b uint8, pair bool)) {
	regs := hardwareRegs
	for i := 0; i < len(regs); {
		if i+1 < len(regs) && regs[i+1] == regs[i]+1 {
			fn(regs[i], regs[i+1], true)
			i += 2
			continue
		}
		fn(regs[i], 0, false)
		i++
	}
}

// enter is called from the host with the frame in X0. It loads the guest
// register file and the scratch registers and branches to frame.resume.
func (b *routineBuilder) enter() {
	b.emit(arm64.Mov(arm64.X, regFrame, arm64.X0))
	b.emitE(arm64.LdrStrImm(arm64.StoreX, arm64.LR, regFrame, FrameHostLR))

	regPairs(func(r1, r2 uint8, pair bool) {
		if pair {
			b.emitE(arm64.Ldp(arm64.Reg(r1), arm64.Reg(r2), regFrame, int32(cellOffset(r1))))
			return
		}
		b.emitE(arm64.LdrStrImm(arm64.LoadX, arm64.Reg(r1), regFrame, cellOffset(r1)))
	})

	b.emitE(arm64.LdrStrImm(arm64.LoadX, regTmp, regFrame, FrameResume))
	b.emitE(arm64.Ldp(regAddr, regValue, regFrame, FrameX16))
	b.emit(arm64.Br(regTmp))
}

// exit is entered with the reason in W0 and the resume address in X30. It
// stores the guest register file and returns to the host.
func (b *routineBuilder) exit() {
	b.emitE(arm64.LdrStrImm(arm64.StoreX, arm64.LR, regFrame, FrameResume))
	b.emitE(arm64.LdrStrImm(arm64.StoreX, regTmp, regFrame, FrameReason))

	regPairs(func(r1, r2 uint8, pair bool) {
		if pair {
			b.emitE(arm64.Stp(arm64.Reg(r1), arm64.Reg(r2), regFrame, int32(cellOffset(r1))))
			return
		}
		b.emitE(arm64.LdrStrImm(arm64.StoreX, arm64.Reg(r1), regFrame, cellOffset(r1)))
	})

	b.emitE(arm64.Stp(regAddr, regValue, regFrame, FrameX16))
	b.emitE(arm64.LdrStrImm(arm64.LoadX, arm64.LR, regFrame, FrameHostLR))
	b.emit(arm64.RET)
}

// exitWith emits movz w0, #reason followed by a branch to exit. With link
// set the resume address is the next instruction; otherwise X30 is kept.
func (b *routineBuilder) exitWith(reason uint16, link bool) {
	b.emitE(arm64.MovZ(arm64.W, regTmp, reason, 0))
	b.branchTo(b.routines.Exit, link)
}

// jump transfers control to the guest address in W16 through the PC map.
func (b *routineBuilder) jump() {
	b.emitE(arm64.MovN(arm64.W, regValue, uint16(^ReturnSentinel), 0))
	b.emit(arm64.Cmp(arm64.W, regAddr, regValue))
	notReturn := b.placeholder()
	b.exitWith(ExitReturn, true)
	b.patchBCond(notReturn, arm64.CondNE, b.pos())

	// w17 = target - base; must be word aligned and below the image size.
	b.movImm(regTmp, b.imageBase)
	b.emit(arm64.SubReg(arm64.W, regValue, regAddr, regTmp))
	b.emitE(arm64.Ubfx(arm64.W, regTmp, regValue, 0, 2))
	misaligned := b.placeholder()
	b.movImm(regTmp, b.imageSize)
	b.emit(arm64.Cmp(arm64.W, regValue, regTmp))
	outside := b.placeholder()

	b.emitE(arm64.LsrImm(arm64.W, regValue, regValue, 2))
	b.literal(regTmp, HeaderPCMap)
	b.emitE(arm64.LdrStrReg(arm64.LoadW, regValue, regTmp, regValue, true))
	b.literal(regTmp, HeaderCodeBase)
	b.emit(arm64.AddReg(arm64.X, regTmp, regTmp, regValue, arm64.ShiftLSL, 0))
	b.emit(arm64.Br(regTmp))

	bad := b.pos()
	b.patchCbnz(misaligned, arm64.W, regTmp, bad)
	b.patchBCond(outside, arm64.CondHS, bad)
	b.exitWith(ExitBadJump, true)
}

// memoryRoutine emits the routine for one access kind. The guest address is
// in W16; loads return the value in W17, stores take it from W17. Accesses
// the tables cannot satisfy (unmapped page, page crossing) leave through
// exit with ExitMemory+kind and resume at the caller once the host has
// completed the access.
func (b *routineBuilder) memoryRoutine(k MemKind) {
	size := k.Size()
	var slow []int

	if k.IsStore() {
		b.strCell(regValue, FrameValue)
	}

	if size > 1 {
		// Crossing when the last byte lies on another page.
		b.emitE(arm64.AddImm(arm64.W, regValue, regAddr, uint32(size-1), false))
		b.emit(arm64.EorReg(arm64.W, regValue, regValue, regAddr))
		b.emitE(arm64.LsrImm(arm64.W, regValue, regValue, memory.PageShift))
		slow = append(slow, b.placeholder())
	}

	// x0 = tables.L1[addr >> 24]
	b.literal(regTmp, HeaderMemory)
	b.emitE(arm64.LsrImm(arm64.W, regValue, regAddr, memory.L1Shift))
	b.emitE(arm64.LdrStrReg(arm64.LoadX, regTmp, regTmp, regValue, true))
	slowL2 := b.placeholder()

	// w17 = l2[(addr >> 14) & 0x3ff]
	b.emitE(arm64.Ubfx(arm64.W, regValue, regAddr, memory.L2Shift, memory.L2Bits))
	b.emitE(arm64.LdrStrReg(arm64.LoadH, regValue, regTmp, regValue, true))
	slowPage := b.placeholder()

	// x0 = pool base + (entry-1) << 14 + offset
	b.emitE(arm64.SubImm(arm64.W, regValue, regValue, 1, false))
	b.literal(regTmp, HeaderMemory)
	b.emitE(arm64.LdrStrImm(arm64.LoadX, regTmp, regTmp, memory.TablesPoolBaseOffset))
	b.emit(arm64.AddReg(arm64.X, regTmp, regTmp, regValue, arm64.ShiftLSL, memory.PageShift))
	b.emitE(arm64.Ubfx(arm64.W, regValue, regAddr, 0, memory.PageShift))

	if k.IsStore() {
		b.emit(arm64.AddReg(arm64.X, regTmp, regTmp, regValue, arm64.ShiftLSL, 0))
		b.ldrCell(regValue, FrameValue)
		b.emitE(arm64.LdrStrImm(k.access(), regValue, regTmp, 0))
	} else {
		b.emitE(arm64.LdrStrReg(k.access(), regValue, regTmp, regValue, false))
	}
	b.emit(arm64.RET)

	target := b.pos()
	for _, site := range slow {
		b.patchCbnz(site, arm64.W, regValue, target)
	}
	b.patchCbz(slowL2, arm64.X, regTmp, target)
	b.patchCbz(slowPage, arm64.W, regValue, target)
	b.exitWith(ExitMemory+uint16(k), false)
}
