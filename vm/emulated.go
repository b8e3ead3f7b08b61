package vm

import (
	"fmt"
	"unsafe"

	"github.com/sarchlab/rvaot/compiler"
	"github.com/sarchlab/rvaot/emu"
)

// runEmulated runs generated code on the portable executor. The executor
// sees the same host addresses native code would: the code buffer, the PC
// map, the spill stack, the page tables and the page pool.
func (m *Machine) runEmulated(mod *Module, f *Frame) error {
	if m.emu == nil {
		m.emu = m.newEmulator()
	}
	if m.emuModule != mod || m.emuGen != mod.generation {
		bus := m.emu.Bus()
		bus.Map("code", uint64(mod.buf.base()), mod.buf.mem)
		bus.Map("pcmap", uint64(mod.pcMapAddr()), mod.pcMapBytes())
		m.emuModule = mod
		m.emuGen = mod.generation
	}

	if budget := m.cfg.MaxInstructions; budget > 0 {
		used := m.emu.InstructionCount() - m.budgetStart
		if used >= budget {
			return fmt.Errorf("%w: %d instructions", emu.ErrInstructionLimit, used)
		}
		m.emu.SetMaxInstructions(budget - used)
	}

	entry := uint64(mod.buf.codeAddr()) + uint64(mod.routines.Enter)
	if err := m.emu.Call(entry, uint64(uintptr(unsafe.Pointer(f)))); err != nil {
		return fmt.Errorf("emulated execution: %w", err)
	}
	return nil
}

func (m *Machine) newEmulator() *emu.Emulator {
	bus := emu.NewBus()

	frames := unsafe.Slice((*byte)(unsafe.Pointer(&m.frames[0])), len(m.frames)*compiler.FrameSize)
	bus.Map("frames", uint64(uintptr(unsafe.Pointer(&m.frames[0]))), frames)

	store := m.mem.PageStore()
	bus.Map("pool", uint64(store.Base()), store.Bytes())

	bus.SetResolver(func(addr uint64) (emu.Region, bool) {
		base, data, ok := m.mem.HostTable(uintptr(addr))
		if !ok {
			return emu.Region{}, false
		}
		return emu.Region{Name: fmt.Sprintf("table@%x", base), Base: uint64(base), Data: data}, true
	})

	return emu.NewEmulator(emu.WithBus(bus), emu.WithLogger(m.logger))
}
