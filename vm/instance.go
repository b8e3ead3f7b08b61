package vm

import (
	"log/slog"

	"github.com/sarchlab/rvaot/emu"
	"github.com/sarchlab/rvaot/memory"
)

// Handler services ECALL. num is the value of a7; arguments and results
// are exchanged through the Machine's registers.
type Handler interface {
	Syscall(m *Machine, num uint32) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m *Machine, num uint32) error

// Syscall calls f(m, num).
func (f HandlerFunc) Syscall(m *Machine, num uint32) error {
	return f(m, num)
}

// Machine is the runtime state of an Instance: its memory, registers and
// spill stack. Handlers receive it to inspect and modify the guest, and
// may call back into guest code through CallFunction.
type Machine struct {
	cfg    *Config
	mem    *memory.Memory
	module *Module
	logger *slog.Logger

	regs    [32]uint64 // registers between calls
	frames  []Frame    // spill stack
	depth   int
	syscall func(*Machine, uint32) error

	emu         *emu.Emulator
	emuModule   *Module
	emuGen      int
	budgetStart uint64
}

// Instance is a Machine with a statically bound syscall handler. H fixes
// the handler's type, so Handler returns it without a type assertion. The
// Machine reaches the handler through the method value h.Syscall bound by
// NewInstance: one indirect call per ECALL, made after generated code has
// already left through the exit routine.
type Instance[H Handler] struct {
	*Machine
	handler H
}

// NewInstance creates an Instance with its own Memory. Its pages come from
// the process-wide PageStore unless WithPageStore is given.
func NewInstance[H Handler](cfg *Config, h H, opts ...Option) (*Instance[H], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	store := o.store
	if store == nil {
		var err error
		if store, err = DefaultPageStore(cfg.PageStorePages); err != nil {
			return nil, err
		}
	}

	memOpts := []memory.Option{memory.WithMaxL2Tables(cfg.MaxL2Tables)}
	if cfg.TLBEntries > 0 {
		memOpts = append(memOpts, memory.WithTLB(cfg.TLBEntries))
	}
	mem, err := memory.New(store, cfg.MaxPages, memOpts...)
	if err != nil {
		return nil, err
	}

	inst := &Instance[H]{handler: h}
	inst.Machine = &Machine{
		cfg:     cfg.Clone(),
		mem:     mem,
		logger:  o.logger,
		frames:  make([]Frame, cfg.SpillDepth),
		syscall: h.Syscall,
	}
	return inst, nil
}

// Handler returns the bound handler.
func (i *Instance[H]) Handler() H {
	return i.handler
}

// Attach binds the Machine to mod, detaching it from any previous module.
func (m *Machine) Attach(mod *Module) {
	if m.module == mod {
		return
	}
	m.Detach()
	mod.instances++
	m.module = mod
}

// Detach unbinds the Machine from its module.
func (m *Machine) Detach() {
	if m.module == nil {
		return
	}
	m.module.instances--
	m.module = nil
}

// Attached reports whether a module is attached.
func (m *Machine) Attached() bool {
	return m.module != nil
}

// Module returns the attached module, or nil.
func (m *Machine) Module() *Module {
	return m.module
}

// current returns the register file of the innermost call, or the
// resting registers outside any call.
func (m *Machine) current() *[32]uint64 {
	if m.depth > 0 {
		return &m.frames[m.depth-1].Regs
	}
	return &m.regs
}

// ReadRegister returns guest register i. Register 0 reads as zero.
func (m *Machine) ReadRegister(i uint8) uint32 {
	if i == 0 || i > 31 {
		return 0
	}
	return uint32(m.current()[i])
}

// WriteRegister sets guest register i. Writes to register 0 are ignored.
func (m *Machine) WriteRegister(i uint8, v uint32) {
	if i == 0 || i > 31 {
		return
	}
	m.current()[i] = uint64(v)
}

// Memory returns a read-only view of the guest memory.
func (m *Machine) Memory() memory.Reader {
	return m.mem
}

// MemoryMut returns the guest memory.
func (m *Machine) MemoryMut() *memory.Memory {
	return m.mem
}

// Depth returns the number of active CallFunction frames.
func (m *Machine) Depth() int {
	return m.depth
}

// InstructionCount returns the native instructions executed on the
// emulated backend. It is zero on the native backend.
func (m *Machine) InstructionCount() uint64 {
	if m.emu == nil {
		return 0
	}
	return m.emu.InstructionCount()
}

// Reset releases every page and clears the registers. The module stays
// attached.
func (m *Machine) Reset() {
	m.mem.Reset()
	m.regs = [32]uint64{}
	if m.emu != nil {
		m.emu.Bus().Flush()
	}
}

// Close detaches the Machine and returns its pages to the PageStore.
func (m *Machine) Close() {
	m.Detach()
	m.mem.Close()
}
