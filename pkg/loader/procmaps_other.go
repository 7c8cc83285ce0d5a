//go:build !linux

package loader

import "github.com/willibrandon/chronockpt/pkg/rawsys"

// Occupied is only available on Linux.
func Occupied(mountPoint string) ([]Span, error) {
	return nil, rawsys.ErrUnsupported
}
