//go:build !linux || !(amd64 || arm64 || riscv64)

package rawsys

// NewHost fails on platforms without the raw system call layer.
func NewHost() (Machine, error) {
	return nil, ErrUnsupported
}
