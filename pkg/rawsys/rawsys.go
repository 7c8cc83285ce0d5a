// Package rawsys is the system call surface available to resume code: six
// direct kernel calls and nothing else. Implementations must not allocate
// on success paths and must not depend on any library state that a
// reconstructed address space may have overwritten.
package rawsys

import "github.com/pkg/errors"

// Linux generic values, shared by every implementation.
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
	ProtRWX   = ProtRead | ProtWrite | ProtExec

	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20

	SeekSet = 0
)

// ErrUnsupported is returned when the host cannot run resume code.
var ErrUnsupported = errors.New("rawsys: unsupported platform")

// Kernel is the raw system call ABI.
type Kernel interface {
	Close(fd int) error
	Lseek(fd int, offset int64, whence int) (int64, error)
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Mmap(addr, length uint64, prot, flags, fd int, offset int64) (uint64, error)
	// Exit terminates the process and never returns.
	Exit(code int)
}

// Machine is an address space that resume code reconstructs and then
// transfers control into.
type Machine interface {
	Kernel

	// View returns the mapped memory [addr, addr+length) as a slice, or
	// nil if any part of it is unmapped.
	View(addr, length uint64) []byte

	// Enter switches the stack pointer to sp and jumps to pc. It does not
	// return.
	Enter(pc, sp uint64)
}

// WriteString writes s to fd, ignoring errors. It is the only diagnostic
// channel resume code has.
func WriteString(k Kernel, fd int, s string) {
	var buf [128]byte
	for len(s) > 0 {
		n := copy(buf[:], s)
		if _, err := k.Write(fd, buf[:n]); err != nil {
			return
		}
		s = s[n:]
	}
}

// AppendHex appends v as 16 lowercase hex digits.
func AppendHex(dst []byte, v uint64) []byte {
	const digits = "0123456789abcdef"
	for i := 60; i >= 0; i -= 4 {
		dst = append(dst, digits[v>>uint(i)&0xf])
	}
	return dst
}
