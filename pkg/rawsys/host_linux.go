//go:build linux && (amd64 || arm64 || riscv64)

package rawsys

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Host issues real system calls against the current process.
type Host struct{}

// NewHost returns the live process as a Machine.
func NewHost() (Machine, error) {
	return Host{}, nil
}

func errnoErr(e unix.Errno) error {
	if e == 0 {
		return nil
	}
	return e
}

func (Host) Close(fd int) error {
	_, _, e := unix.RawSyscall(unix.SYS_CLOSE, uintptr(fd), 0, 0)
	return errnoErr(e)
}

func (Host) Lseek(fd int, offset int64, whence int) (int64, error) {
	r, _, e := unix.RawSyscall(unix.SYS_LSEEK, uintptr(fd), uintptr(offset), uintptr(whence))
	return int64(r), errnoErr(e)
}

func (Host) Read(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_READ, uintptr(fd), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return int(r), errnoErr(e)
}

func (Host) Write(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return int(r), errnoErr(e)
}

func (Host) Mmap(addr, length uint64, prot, flags, fd int, offset int64) (uint64, error) {
	r, _, e := unix.RawSyscall6(unix.SYS_MMAP, uintptr(addr), uintptr(length),
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	return uint64(r), errnoErr(e)
}

func (Host) Exit(code int) {
	for {
		unix.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(code), 0, 0)
	}
}

func (Host) View(addr, length uint64) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}

func (h Host) Enter(pc, sp uint64) {
	enter(h, uintptr(pc), uintptr(sp))
}
