// Package memspace is a simulated address space that implements the raw
// system call ABI on ordinary Go memory. Checkpoint images reconstructed
// into a Space can be inspected, replayed and handed to a simulator without
// touching the host process layout.
package memspace

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/willibrandon/chronockpt/pkg/rawsys"
)

const pageSize = 4096

var (
	ErrBadFd   = errors.New("memspace: bad file descriptor")
	ErrInvalid = errors.New("memspace: invalid argument")
)

// File is what a Space can map and read from.
type File interface {
	io.ReaderAt
	io.ReadSeeker
}

type mapping struct {
	addr uint64
	data []byte
	prot int
	// run backs every mapping of a contiguous range, starting at base;
	// data is always run[addr-base:][:len(data)].
	run  []byte
	base uint64
}

func (m *mapping) end() uint64 { return m.addr + uint64(len(m.data)) }

// Space is a sparse address space made of non-overlapping mappings.
// Adjacent mappings share one backing slice, so a view may cross from one
// mapping into the next.
type Space struct {
	maps   []*mapping
	files  map[int]File
	nextFd int
	// next address handed out for non-fixed mappings
	top uint64

	Stdout bytes.Buffer
	Stderr bytes.Buffer
}

var _ rawsys.Machine = (*Space)(nil)

// New returns an empty address space with only standard streams open.
func New() *Space {
	return &Space{
		files:  make(map[int]File),
		nextFd: 3,
		top:    0x7f0000000000,
	}
}

// Open registers f and returns its descriptor.
func (s *Space) Open(f File) int {
	fd := s.nextFd
	s.nextFd++
	s.files[fd] = f
	return fd
}

// IsOpen reports whether fd refers to an open file.
func (s *Space) IsOpen(fd int) bool {
	_, ok := s.files[fd]
	return ok
}

func (s *Space) Close(fd int) error {
	if fd >= 0 && fd <= 2 {
		return nil
	}
	if _, ok := s.files[fd]; !ok {
		return ErrBadFd
	}
	delete(s.files, fd)
	return nil
}

func (s *Space) Lseek(fd int, offset int64, whence int) (int64, error) {
	f, ok := s.files[fd]
	if !ok {
		return -1, ErrBadFd
	}
	return f.Seek(offset, whence)
}

func (s *Space) Read(fd int, p []byte) (int, error) {
	f, ok := s.files[fd]
	if !ok {
		return -1, ErrBadFd
	}
	n, err := io.ReadFull(f, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// short reads are reported through the count, like read(2)
		err = nil
	}
	return n, err
}

func (s *Space) Write(fd int, p []byte) (int, error) {
	switch fd {
	case 1:
		return s.Stdout.Write(p)
	case 2:
		return s.Stderr.Write(p)
	}
	return -1, ErrBadFd
}

func (s *Space) Mmap(addr, length uint64, prot, flags, fd int, offset int64) (uint64, error) {
	if length == 0 || offset%pageSize != 0 {
		return 0, ErrInvalid
	}
	size := (length + pageSize - 1) &^ (pageSize - 1)
	if flags&rawsys.MapFixed == 0 {
		addr = s.top
		s.top += size
	} else if addr%pageSize != 0 {
		return 0, ErrInvalid
	}

	data := make([]byte, size)
	if flags&rawsys.MapAnonymous == 0 {
		f, ok := s.files[fd]
		if !ok {
			return 0, ErrBadFd
		}
		// private mapping: the file is copied, later writes stay here
		if _, err := f.ReadAt(data, offset); err != nil && err != io.EOF {
			return 0, errors.Wrap(err, "memspace: mmap read")
		}
	}

	s.unmap(addr, addr+size)
	m := &mapping{addr: addr, data: data, prot: prot, run: data, base: addr}
	i, _ := slices.BinarySearchFunc(s.maps, addr, func(m *mapping, a uint64) int {
		if m.addr < a {
			return -1
		}
		return 1
	})
	s.maps = slices.Insert(s.maps, i, m)
	s.join()
	return addr, nil
}

// join gives every contiguous range of mappings a single backing slice.
// Ranges already laid out that way are left alone.
func (s *Space) join() {
	for i := 0; i < len(s.maps); {
		j, size := i+1, uint64(len(s.maps[i].data))
		for j < len(s.maps) && s.maps[j].addr == s.maps[j-1].end() {
			size += uint64(len(s.maps[j].data))
			j++
		}
		base := s.maps[i].addr
		if !joined(s.maps[i:j], base, size) {
			run := make([]byte, size)
			for _, m := range s.maps[i:j] {
				off := m.addr - base
				copy(run[off:], m.data)
				m.data = run[off : off+uint64(len(m.data)) : off+uint64(len(m.data))]
				m.run, m.base = run, base
			}
		}
		i = j
	}
}

func joined(ms []*mapping, base, size uint64) bool {
	for _, m := range ms {
		if m.base != base || uint64(len(m.run)) != size {
			return false
		}
	}
	return true
}

// unmap removes [lo, hi) from the address space, trimming or splitting the
// mappings it overlaps.
func (s *Space) unmap(lo, hi uint64) {
	out := s.maps[:0:0]
	for _, m := range s.maps {
		if m.end() <= lo || m.addr >= hi {
			out = append(out, m)
			continue
		}
		if m.addr < lo {
			out = append(out, &mapping{addr: m.addr, data: m.data[:lo-m.addr], prot: m.prot, run: m.run, base: m.base})
		}
		if m.end() > hi {
			out = append(out, &mapping{addr: hi, data: m.data[hi-m.addr:], prot: m.prot, run: m.run, base: m.base})
		}
	}
	s.maps = out
}

func (s *Space) Exit(code int) {
	panic(&exitSignal{code: code})
}

// View returns the length bytes at addr, which may span adjacent mappings.
// It returns nil if any byte is unmapped.
func (s *Space) View(addr, length uint64) []byte {
	i, _ := slices.BinarySearchFunc(s.maps, addr, func(m *mapping, a uint64) int {
		if m.end() <= a {
			return -1
		}
		return 1
	})
	if i == len(s.maps) || addr < s.maps[i].addr || addr+length < addr {
		return nil
	}
	m := s.maps[i]
	end := m.end()
	for j := i + 1; end < addr+length && j < len(s.maps) && s.maps[j].addr == end; j++ {
		end = s.maps[j].end()
	}
	if addr+length > end {
		return nil
	}
	off := addr - m.base
	return m.run[off : off+length : off+length]
}

func (s *Space) Enter(pc, sp uint64) {
	panic(&enterSignal{pc: pc, sp: sp})
}

// Mapping describes one mapping of a Space.
type Mapping struct {
	Addr, Size uint64
	Prot       int
}

// Mappings lists the mappings in address order.
func (s *Space) Mappings() []Mapping {
	out := make([]Mapping, 0, len(s.maps))
	for _, m := range s.maps {
		out = append(out, Mapping{Addr: m.addr, Size: uint64(len(m.data)), Prot: m.prot})
	}
	return out
}
