//go:build linux || darwin

package vm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/rvaot/compiler"
)

// hostPageSize is the protection granularity of the code mapping.
var hostPageSize = unix.Getpagesize()

// newExecBuffer maps a buffer for the native backend. The whole mapping is
// read-write until the first seal.
func newExecBuffer(capacity int) (*codeBuffer, error) {
	headerSpan := roundUp(compiler.HeaderSize, hostPageSize)
	size := headerSpan + roundUp(capacity, hostPageSize)

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrCodeMapping, size, err)
	}

	return &codeBuffer{mem: mem, headerSpan: headerSpan, executable: true}, nil
}

// unseal makes the code writable.
func (b *codeBuffer) unseal() error {
	if !b.executable {
		return nil
	}
	if err := unix.Mprotect(b.code(), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("%w: mprotect rw: %v", ErrCodeMapping, err)
	}
	return nil
}

// seal makes size bytes of code executable and synchronizes the
// instruction cache with them.
func (b *codeBuffer) seal(size int) error {
	if !b.executable {
		return nil
	}
	if err := unix.Mprotect(b.code(), unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("%w: mprotect rx: %v", ErrCodeMapping, err)
	}
	flushICache(b.codeAddr(), b.codeAddr()+uintptr(size))
	return nil
}

func (b *codeBuffer) release() error {
	if !b.executable {
		b.mem = nil
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	if err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrCodeMapping, err)
	}
	return nil
}
