//go:build !(linux || darwin)

package vm

var hostPageSize = 16384

func newExecBuffer(int) (*codeBuffer, error) {
	return nil, ErrBackendUnavailable
}

func (b *codeBuffer) unseal() error { return nil }

func (b *codeBuffer) seal(int) error { return nil }

func (b *codeBuffer) release() error {
	b.mem = nil
	return nil
}
