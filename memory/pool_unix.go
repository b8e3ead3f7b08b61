//go:build linux || darwin

package memory

import "golang.org/x/sys/unix"

// allocPool maps an anonymous zeroed region outside the Go heap.
func allocPool(size int) ([]byte, func() error, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	return b, func() error { return unix.Munmap(b) }, nil
}
