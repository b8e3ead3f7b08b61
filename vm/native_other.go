//go:build !(linux && arm64)

package vm

const nativeSupported = false

func flushICache(start, end uintptr) {}

func runNative(*Module, *Frame) {
	panic("vm: native backend not supported on this host")
}
