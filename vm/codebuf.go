package vm

import (
	"unsafe"

	"github.com/sarchlab/rvaot/compiler"
)

// routineReserve is the code space reserved on top of the per-byte
// expansion for the shared routines and the trailer.
const routineReserve = 4096

// codeBuffer is the mapping a Module compiles into: a writable header
// holding the cells generated code reads, followed by the code. The code
// is executable only on the native backend.
type codeBuffer struct {
	mem        []byte
	headerSpan int
	executable bool
}

func (b *codeBuffer) header() []byte {
	return b.mem[:compiler.HeaderSize]
}

func (b *codeBuffer) code() []byte {
	return b.mem[b.headerSpan:]
}

// base returns the host address of the header.
func (b *codeBuffer) base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
}

// codeAddr returns the host address of the first code byte.
func (b *codeBuffer) codeAddr() uintptr {
	return b.base() + uintptr(b.headerSpan)
}

// setCell writes a header cell.
func (b *codeBuffer) setCell(off int, v uintptr) {
	*(*uint64)(unsafe.Pointer(&b.mem[off])) = uint64(v)
}

// newHeapBuffer allocates a buffer for the emulated backend.
func newHeapBuffer(capacity, headerSpan int) *codeBuffer {
	return &codeBuffer{
		mem:        make([]byte, headerSpan+capacity),
		headerSpan: headerSpan,
	}
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}
