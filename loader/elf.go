// Package loader provides ELF loading for RV32 executables.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/rvaot/memory"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer handed to programs: the top
// of the guest address space, kept 16-byte aligned.
const DefaultStackTop = 0xFFFFFFF0

var (
	// ErrNoText is returned when a program has no executable segment.
	ErrNoText = errors.New("no executable segment")

	// ErrMultipleText is returned when a program has more than one
	// executable segment. A module compiles a single image.
	ErrMultipleText = errors.New("more than one executable segment")
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the guest address where this segment is loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Executable reports whether the segment holds code.
func (s *Segment) Executable() bool {
	return s.Flags&SegmentFlagExecute != 0
}

// Program represents a parsed RV32 executable.
type Program struct {
	// EntryPoint is the guest address where execution begins.
	EntryPoint uint32
	// Segments contains all loadable segments.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint32
}

// Load parses a RISC-V ELF32 little-endian executable.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		InitialSP:  DefaultStackTop,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}

// Text returns the executable segment's contents and guest address. The
// image is trimmed to whole instructions.
func (p *Program) Text() ([]byte, uint32, error) {
	var text *Segment
	for i := range p.Segments {
		if !p.Segments[i].Executable() {
			continue
		}
		if text != nil {
			return nil, 0, ErrMultipleText
		}
		text = &p.Segments[i]
	}
	if text == nil {
		return nil, 0, ErrNoText
	}

	n := len(text.Data) &^ 3
	return text.Data[:n], text.VirtAddr, nil
}

// LoadInto copies every segment into mem, so code can also be read as
// data. BSS needs no work since untouched memory reads as zero.
func (p *Program) LoadInto(mem *memory.Memory) error {
	for _, seg := range p.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		if err := mem.Write(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("loading segment at 0x%08x: %w", seg.VirtAddr, err)
		}
	}
	return nil
}
