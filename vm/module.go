package vm

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unsafe"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/sarchlab/rvaot/compiler"
)

// Module holds compiled guest code. A Module is immutable while instances
// are attached.
type Module struct {
	cfg      *Config
	native   bool
	buf      *codeBuffer
	compiler *compiler.Compiler
	logger   *slog.Logger

	base     uint32   // guest address of the image
	size     int      // code bytes in use, 0 without code
	pcMap    []uint32 // native offset per guest instruction
	routines compiler.Routines

	generation int // incremented by every successful SetCode
	instances  int
	closed     bool
}

// NewModule validates cfg and reserves the code buffer.
func NewModule(cfg *Config, opts ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	native, err := cfg.useNative()
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	var buf *codeBuffer
	if native {
		buf, err = newExecBuffer(cfg.codeCapacity())
		if err != nil {
			return nil, err
		}
	} else {
		buf = newHeapBuffer(cfg.codeCapacity(), roundUp(compiler.HeaderSize, hostPageSize))
	}

	policy := compiler.EbreakNop
	if cfg.Ebreak == EbreakTrap {
		policy = compiler.EbreakTrap
	}

	return &Module{
		cfg:    cfg.Clone(),
		native: native,
		buf:    buf,
		compiler: compiler.New(
			compiler.WithEbreak(policy),
			compiler.WithLogger(o.logger)),
		logger: o.logger,
	}, nil
}

// SetCode compiles an image loaded at Config.ImageBase.
func (m *Module) SetCode(code []byte) error {
	return m.SetCodeAt(m.cfg.ImageBase, code)
}

// SetCodeAt compiles an image loaded at base, replacing any previous code.
// On error the previous code is left untouched.
func (m *Module) SetCodeAt(base uint32, code []byte) error {
	if m.closed {
		return ErrModuleClosed
	}
	if m.instances > 0 {
		return fmt.Errorf("%w: %d instances attached", ErrModuleInUse, m.instances)
	}
	if len(code) > m.cfg.MaxCodeSize {
		return fmt.Errorf("%w: image of %d bytes exceeds max_code_size %d",
			compiler.ErrBufferExhausted, len(code), m.cfg.MaxCodeSize)
	}

	if err := m.buf.unseal(); err != nil {
		return err
	}
	res, err := m.compiler.Compile(code, base, m.buf.code(), m.buf.headerSpan)
	if err != nil {
		if serr := m.buf.seal(m.size); serr != nil {
			return serr
		}
		return err
	}

	m.base = base
	m.size = res.Size
	m.pcMap = res.PCMap
	m.routines = res.Routines
	m.generation++

	m.buf.setCell(compiler.HeaderPCMap, m.pcMapAddr())
	m.buf.setCell(compiler.HeaderCodeBase, m.buf.codeAddr())
	m.buf.setCell(compiler.HeaderMemory, 0)

	if err := m.buf.seal(m.size); err != nil {
		return err
	}

	m.logger.Debug("module compiled",
		"base", fmt.Sprintf("0x%08x", base),
		"guest_bytes", len(code),
		"code_bytes", res.Size,
		"capacity", len(m.buf.code()),
		"native", m.native)
	return nil
}

func (m *Module) pcMapAddr() uintptr {
	if len(m.pcMap) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.pcMap[0]))
}

// pcMapBytes views the PC map as bytes.
func (m *Module) pcMapBytes() []byte {
	if len(m.pcMap) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&m.pcMap[0])), len(m.pcMap)*4)
}

// HasCode reports whether the module holds compiled code.
func (m *Module) HasCode() bool {
	return m.size > 0
}

// Base returns the guest address of the image.
func (m *Module) Base() uint32 {
	return m.base
}

// CodeSize returns the native code bytes in use.
func (m *Module) CodeSize() int {
	return m.size
}

// Native reports whether the module runs on the native backend.
func (m *Module) Native() bool {
	return m.native
}

// InstanceCount returns the number of attached instances.
func (m *Module) InstanceCount() int {
	return m.instances
}

// nativeOffset returns the code offset of the guest instruction at addr.
func (m *Module) nativeOffset(addr uint32) (uint32, bool) {
	i := addr - m.base
	if addr%4 != 0 || i/4 >= uint32(len(m.pcMap)) {
		return 0, false
	}
	return m.pcMap[i/4], true
}

// guestPC returns the guest instruction whose translation contains the
// code offset off.
func (m *Module) guestPC(off uint32) uint32 {
	i := sort.Search(len(m.pcMap), func(i int) bool {
		return m.pcMap[i] > off
	}) - 1
	if i < 0 {
		return m.base
	}
	return m.base + uint32(i)*4
}

// Close releases the code buffer. It fails while instances are attached.
func (m *Module) Close() error {
	if m.closed {
		return nil
	}
	if m.instances > 0 {
		return fmt.Errorf("%w: %d instances attached", ErrModuleInUse, m.instances)
	}
	m.closed = true
	m.size = 0
	m.pcMap = nil
	return m.buf.release()
}

// Disassemble renders the compiled code with routine and guest address
// labels.
func (m *Module) Disassemble() (string, error) {
	if m.size == 0 {
		return "", ErrNoCode
	}

	labels := map[uint32][]string{
		uint32(m.routines.Enter): {"enter"},
		uint32(m.routines.Exit):  {"exit"},
		uint32(m.routines.Jump):  {"jump"},
	}
	for k := compiler.MemLB; k <= compiler.MemSW; k++ {
		off := uint32(m.routines.Memory[k])
		labels[off] = append(labels[off], "mem."+k.String())
	}
	for i, off := range m.pcMap {
		labels[off] = append(labels[off], fmt.Sprintf("guest_%08x", m.base+uint32(i)*4))
	}

	var sb strings.Builder
	code := m.buf.code()[:m.size]
	for off := 0; off < len(code); off += 4 {
		for _, l := range labels[uint32(off)] {
			fmt.Fprintf(&sb, "%s:\n", l)
		}

		word := binary.LittleEndian.Uint32(code[off:])
		text := ".word"
		if inst, err := arm64asm.Decode(code[off : off+4]); err == nil {
			text = arm64asm.GNUSyntax(inst)
		}
		fmt.Fprintf(&sb, "  0x%06x: %08x  %s\n", off, word, text)
	}

	return sb.String(), nil
}
