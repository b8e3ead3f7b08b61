package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rvaot/arm64"
	"github.com/sarchlab/rvaot/compiler"
	"github.com/sarchlab/rvaot/emu"
	"github.com/sarchlab/rvaot/memory"
)

var (
	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrBackendUnavailable is returned when the native backend is requested
	// on a host that cannot run it.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrModuleInUse is returned by SetCode and Close while instances are
	// attached.
	ErrModuleInUse = errors.New("module in use")

	// ErrModuleClosed is returned by operations on a closed Module.
	ErrModuleClosed = errors.New("module closed")

	// ErrCodeMapping is returned when the code buffer cannot be mapped or
	// protected.
	ErrCodeMapping = errors.New("code buffer mapping failed")

	// ErrNotAttached is returned by CallFunction on a detached instance.
	ErrNotAttached = errors.New("instance not attached")

	// ErrNoCode is returned by CallFunction when the module holds no code.
	ErrNoCode = errors.New("module has no code")

	// ErrUnmappedAddress is returned for a call address outside the image.
	ErrUnmappedAddress = errors.New("address not in image")

	// ErrTooManyArgs is returned for more than eight arguments.
	ErrTooManyArgs = errors.New("too many arguments")

	// ErrBadJump is returned when guest code jumps outside the image or to
	// a misaligned address.
	ErrBadJump = errors.New("bad jump target")

	// ErrBreakpoint is returned when EBREAK executes under the trap policy.
	ErrBreakpoint = errors.New("breakpoint")

	// ErrSpillOverflow is returned when calls nest deeper than SpillDepth.
	ErrSpillOverflow = errors.New("spill stack overflow")

	// ErrHandler is wrapped around errors returned by the syscall handler.
	ErrHandler = errors.New("syscall handler failed")
)

// RuntimeError reports a failure of guest code at a guest address.
type RuntimeError struct {
	PC  uint32
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("guest 0x%08x: %v", e.PC, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitError is returned by CallFunction when the guest exits through the
// exit syscall.
type ExitError struct {
	Code int32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exited with status %d", e.Code)
}

// IsCompileError reports whether err aborted a compilation.
func IsCompileError(err error) bool {
	return errors.Is(err, compiler.ErrUnsupportedInstruction) ||
		errors.Is(err, compiler.ErrBufferExhausted) ||
		errors.Is(err, compiler.ErrImageMisaligned) ||
		errors.Is(err, arm64.ErrBranchOutOfRange) ||
		errors.Is(err, ErrModuleInUse)
}

// IsAllocationError reports whether err is a page or code buffer
// allocation failure.
func IsAllocationError(err error) bool {
	return errors.Is(err, memory.ErrPageStoreExhausted) ||
		errors.Is(err, memory.ErrOutOfMemory) ||
		errors.Is(err, memory.ErrL2TablesExhausted) ||
		errors.Is(err, ErrCodeMapping)
}

// IsRuntimeError reports whether err stopped a CallFunction.
func IsRuntimeError(err error) bool {
	var (
		rerr  *RuntimeError
		fault *emu.FaultError
	)
	return errors.As(err, &rerr) ||
		errors.As(err, &fault) ||
		errors.Is(err, ErrNotAttached) ||
		errors.Is(err, ErrNoCode) ||
		errors.Is(err, ErrUnmappedAddress) ||
		errors.Is(err, ErrTooManyArgs) ||
		errors.Is(err, ErrSpillOverflow) ||
		errors.Is(err, ErrHandler) ||
		errors.Is(err, emu.ErrInstructionLimit)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrBackendUnavailable)
}
