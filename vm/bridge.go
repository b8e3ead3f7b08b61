package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rvaot/compiler"
)

// MaxArgs is the number of arguments passed in a0..a7.
const MaxArgs = 8

// CallFunction runs the guest function at addr with up to eight arguments
// in a0..a7 and returns a0. The function returns by jumping to the address
// placed in ra. Handlers may call CallFunction again; each nesting level
// takes one spill stack frame.
func (m *Machine) CallFunction(addr uint32, args ...uint32) (uint32, error) {
	mod := m.module
	if mod == nil {
		return 0, ErrNotAttached
	}
	if !mod.HasCode() {
		return 0, ErrNoCode
	}
	if len(args) > MaxArgs {
		return 0, fmt.Errorf("%w: %d", ErrTooManyArgs, len(args))
	}
	off, ok := mod.nativeOffset(addr)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%08x", ErrUnmappedAddress, addr)
	}
	if m.depth == len(m.frames) {
		return 0, fmt.Errorf("%w: depth %d", ErrSpillOverflow, m.depth)
	}

	f := &m.frames[m.depth]
	f.reset()
	f.Regs = *m.current()
	for i, a := range args {
		f.Regs[10+i] = uint64(a)
	}
	f.Regs[1] = uint64(compiler.ReturnSentinel)
	f.Resume = uint64(mod.buf.codeAddr()) + uint64(off)

	if m.depth == 0 {
		m.budgetStart = m.InstructionCount()
	}
	m.depth++
	defer func() {
		m.depth--
		if m.depth == 0 {
			m.regs = f.Regs
		}
	}()

	for {
		if err := m.enter(mod, f); err != nil {
			return 0, err
		}
		done, err := m.dispatch(mod, f)
		if err != nil {
			return 0, err
		}
		if done {
			return uint32(f.Regs[10]), nil
		}
	}
}

// enter publishes the memory tables and runs generated code until its
// next exit.
func (m *Machine) enter(mod *Module, f *Frame) error {
	mod.buf.setCell(compiler.HeaderMemory, m.mem.TablesAddr())
	if mod.native {
		runNative(mod, f)
		return nil
	}
	return m.runEmulated(mod, f)
}

// dispatch handles an exit. It reports true once the guest has returned.
func (m *Machine) dispatch(mod *Module, f *Frame) (bool, error) {
	reason := f.Reason
	switch {
	case reason == compiler.ExitReturn:
		return true, nil

	case reason == compiler.ExitEcall:
		num := uint32(f.Regs[17])
		if err := m.syscall(m, num); err != nil {
			var exit *ExitError
			if errors.As(err, &exit) {
				return false, err
			}
			m.logger.Warn("syscall handler failed", "num", num, "err", err)
			return false, fmt.Errorf("%w: syscall %d: %w", ErrHandler, num, err)
		}
		if m.module != mod {
			return false, fmt.Errorf("%w: detached during syscall", ErrNotAttached)
		}
		return false, nil

	case reason == compiler.ExitEbreak:
		return false, &RuntimeError{PC: m.exitPC(mod, f), Err: ErrBreakpoint}

	case reason == compiler.ExitBadJump:
		return false, &RuntimeError{PC: uint32(f.X16), Err: ErrBadJump}

	case reason >= compiler.ExitMemory && reason < compiler.ExitMemory+uint64(compiler.MemSW)+1:
		return false, m.slowAccess(mod, f, compiler.MemKind(reason-compiler.ExitMemory))
	}

	return false, &RuntimeError{PC: m.exitPC(mod, f), Err: fmt.Errorf("unknown exit reason %d", reason)}
}

// exitPC returns the guest instruction that made the last exit.
func (m *Machine) exitPC(mod *Module, f *Frame) uint32 {
	site := f.Resume - uint64(mod.buf.codeAddr()) - 4
	return mod.guestPC(uint32(site))
}

// slowAccess completes an access the memory routine could not: unmapped
// pages, page-crossing accesses and first writes. Loads leave the value in
// the frame's X17, which the routine's caller commits after resuming.
func (m *Machine) slowAccess(mod *Module, f *Frame, k compiler.MemKind) error {
	addr := uint32(f.X16)
	size := k.Size()

	if k.IsStore() {
		if err := m.mem.Store(addr, size, uint32(f.Value)); err != nil {
			return &RuntimeError{PC: m.exitPC(mod, f), Err: err}
		}
		m.logger.Debug("memory slow path", "kind", k.String(), "addr", fmt.Sprintf("0x%08x", addr))
		return nil
	}

	v := m.mem.Load(addr, size)
	switch k {
	case compiler.MemLB:
		v = uint32(int32(int8(v)))
	case compiler.MemLH:
		v = uint32(int32(int16(v)))
	}
	f.X17 = uint64(v)
	return nil
}
