package vm

import (
	"fmt"
	"io"
)

// RISC-V Linux syscall numbers.
const (
	SyscallRead  uint32 = 63 // read(fd, buf, count)
	SyscallWrite uint32 = 64 // write(fd, buf, count)
	SyscallExit  uint32 = 93 // exit(status)
)

// Linux error codes.
const (
	EIO    = 5
	EBADF  = 9
	ENOSYS = 38
)

// maxIOChunk caps a single read or write. Larger requests are shortened.
const maxIOChunk = 1 << 20

// LinuxHandler implements the minimal Linux syscall surface of a
// freestanding RISC-V program. The syscall number is in a7, arguments in
// a0..a2 and the result or negated errno is returned in a0.
type LinuxHandler struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Unknown is called for syscalls the handler does not implement. When
	// nil they fail with ENOSYS.
	Unknown HandlerFunc
}

// NewLinuxHandler creates a handler writing to stdout and stderr. stdin
// may be nil, in which case reads return end of file.
func NewLinuxHandler(stdin io.Reader, stdout, stderr io.Writer) *LinuxHandler {
	return &LinuxHandler{stdin: stdin, stdout: stdout, stderr: stderr}
}

// Syscall dispatches on num.
func (h *LinuxHandler) Syscall(m *Machine, num uint32) error {
	switch num {
	case SyscallRead:
		return h.read(m)
	case SyscallWrite:
		return h.write(m)
	case SyscallExit:
		return &ExitError{Code: int32(m.ReadRegister(10))}
	}
	if h.Unknown != nil {
		return h.Unknown(m, num)
	}
	setError(m, ENOSYS)
	return nil
}

func (h *LinuxHandler) read(m *Machine) error {
	fd := m.ReadRegister(10)
	ptr := m.ReadRegister(11)
	count := min(m.ReadRegister(12), maxIOChunk)

	if fd != 0 {
		setError(m, EBADF)
		return nil
	}
	if h.stdin == nil || count == 0 {
		m.WriteRegister(10, 0)
		return nil
	}

	buf := make([]byte, count)
	n, err := h.stdin.Read(buf)
	if err != nil && n == 0 {
		m.WriteRegister(10, 0)
		return nil
	}
	if err := m.MemoryMut().Write(ptr, buf[:n]); err != nil {
		return fmt.Errorf("read into 0x%08x: %w", ptr, err)
	}
	m.WriteRegister(10, uint32(n))
	return nil
}

func (h *LinuxHandler) write(m *Machine) error {
	fd := m.ReadRegister(10)
	ptr := m.ReadRegister(11)
	count := min(m.ReadRegister(12), maxIOChunk)

	var w io.Writer
	switch fd {
	case 1:
		w = h.stdout
	case 2:
		w = h.stderr
	}
	if w == nil {
		setError(m, EBADF)
		return nil
	}

	buf := make([]byte, count)
	m.Memory().Read(ptr, buf)
	n, err := w.Write(buf)
	if err != nil {
		setError(m, EIO)
		return nil
	}
	m.WriteRegister(10, uint32(n))
	return nil
}

// setError returns -errno in a0.
func setError(m *Machine, errno int32) {
	m.WriteRegister(10, uint32(-errno))
}
