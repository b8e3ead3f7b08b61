//go:build linux && arm64

package vm

import (
	"runtime"
	"unsafe"
)

const nativeSupported = true

// callJIT calls the enter routine at entry with X0 = frame and returns when
// generated code leaves through the exit routine.
//
//go:noescape
func callJIT(entry, frame uintptr)

// readCTR returns CTR_EL0.
func readCTR() uint64

// flushRange cleans the data cache and invalidates the instruction cache
// over [start, end) with the given line sizes.
//
//go:noescape
func flushRange(start, end, dline, iline uintptr)

func flushICache(start, end uintptr) {
	ctr := readCTR()
	dline := uintptr(4) << ((ctr >> 16) & 0xF)
	iline := uintptr(4) << (ctr & 0xF)
	flushRange(start, end, dline, iline)
}

// runNative enters the module's code on frame and returns at the next exit.
func runNative(mod *Module, f *Frame) {
	callJIT(mod.buf.codeAddr()+uintptr(mod.routines.Enter), uintptr(unsafe.Pointer(f)))
	runtime.KeepAlive(f)
	runtime.KeepAlive(mod)
}
