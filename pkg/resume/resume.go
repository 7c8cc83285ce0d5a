// Package resume is the code that runs after the loader has given up its
// runtime: it maps every region of a checkpoint image from the dump file
// and jumps to the captured PC. Everything it needs is passed in. Success
// paths make no heap allocation and every failure ends the process through
// the raw exit call.
package resume

import (
	"encoding/binary"
	"io"

	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/memtrace"
	"github.com/willibrandon/chronockpt/pkg/rawsys"
)

// EntryLen is the size of one region table entry: address, offset, mapped
// size and stored length as little-endian 64-bit words.
const EntryLen = 32

// ExitCode is the status resume code exits with when mapping fails.
const ExitCode = 255

// PutEntry encodes r into the first EntryLen bytes of dst.
func PutEntry(dst []byte, r image.Region) {
	binary.LittleEndian.PutUint64(dst[0:], r.Addr)
	binary.LittleEndian.PutUint64(dst[8:], r.Offset)
	binary.LittleEndian.PutUint64(dst[16:], r.Size)
	binary.LittleEndian.PutUint64(dst[24:], r.Length)
}

// Table is a region table laid out in memory by the loader.
type Table []byte

// Len returns the number of entries.
func (t Table) Len() int { return len(t) / EntryLen }

// At decodes entry i.
func (t Table) At(i int) image.Region {
	e := t[i*EntryLen : (i+1)*EntryLen]
	return image.Region{
		Addr:   binary.LittleEndian.Uint64(e[0:]),
		Offset: binary.LittleEndian.Uint64(e[8:]),
		Size:   binary.LittleEndian.Uint64(e[16:]),
		Length: binary.LittleEndian.Uint64(e[24:]),
	}
}

// Op names the step that failed.
type Op string

const (
	OpMmapFile Op = "mmap file"
	OpMmapAnon Op = "mmap anonymous"
	OpLseek    Op = "lseek"
	OpRead     Op = "read"
	OpDecode   Op = "decompress"
	OpBuffer   Op = "scratch buffer"
	OpClose    Op = "close"
	OpUnmapped Op = "view"
)

// Error reports the failing step and region. Only the failure path builds
// one, right before the process exits.
type Error struct {
	Op   Op
	Addr uint64
	Err  error
}

func (e *Error) Error() string {
	msg := "resume: " + string(e.Op) + " failed at 0x" + string(rawsys.AppendHex(nil, e.Addr))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// touched keeps the page touching loop from being optimized away.
var touched byte

// Map reconstructs every region of table in order. Verbatim regions are
// mapped privately from fd and touched once per page so that they are
// resident before the program runs. Compressed regions are read into buf
// and decoded in place into a fresh anonymous mapping.
func Map(m rawsys.Machine, table Table, fd int, buf []byte) error {
	const prot = rawsys.ProtRWX
	for i := 0; i < table.Len(); i++ {
		r := table.At(i)
		if !r.Compressed() {
			if _, err := m.Mmap(r.Addr, r.Size, prot, rawsys.MapPrivate|rawsys.MapFixed, fd, int64(r.Offset)); err != nil {
				return &Error{Op: OpMmapFile, Addr: r.Addr, Err: err}
			}
			v := m.View(r.Addr, r.Size)
			if v == nil {
				return &Error{Op: OpUnmapped, Addr: r.Addr}
			}
			for off := 0; off < len(v); off += memtrace.PageSize {
				touched += v[off]
			}
			continue
		}

		if r.Length > uint64(len(buf)) {
			return &Error{Op: OpBuffer, Addr: r.Addr}
		}
		if _, err := m.Mmap(r.Addr, r.Size, prot, rawsys.MapPrivate|rawsys.MapFixed|rawsys.MapAnonymous, -1, 0); err != nil {
			return &Error{Op: OpMmapAnon, Addr: r.Addr, Err: err}
		}
		if off, err := m.Lseek(fd, int64(r.Offset), rawsys.SeekSet); err != nil || off != int64(r.Offset) {
			return &Error{Op: OpLseek, Addr: r.Addr, Err: err}
		}
		if err := readFull(m, fd, buf[:r.Length]); err != nil {
			return &Error{Op: OpRead, Addr: r.Addr, Err: err}
		}
		v := m.View(r.Addr, r.Size)
		if v == nil {
			return &Error{Op: OpUnmapped, Addr: r.Addr}
		}
		if err := image.DecodeBlock(v, buf[:r.Length]); err != nil {
			return &Error{Op: OpDecode, Addr: r.Addr, Err: err}
		}
	}
	return nil
}

// readFull reads exactly len(p) bytes; a zero-length read is a failure.
func readFull(k rawsys.Kernel, fd int, p []byte) error {
	for len(p) > 0 {
		n, err := k.Read(fd, p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrUnexpectedEOF
		}
		p = p[n:]
	}
	return nil
}

// Run maps table, closes fd and enters pc on the stack sp. It never
// returns: a failure writes a diagnostic to standard error and exits with
// ExitCode.
func Run(m rawsys.Machine, table Table, fd int, pc, sp uint64, buf []byte) {
	if err := Map(m, table, fd, buf); err != nil {
		abort(m, err)
	}
	if err := m.Close(fd); err != nil {
		abort(m, &Error{Op: OpClose, Addr: pc, Err: err})
	}
	rawsys.WriteString(m, 1, "begin execution\n")
	m.Enter(pc, sp)
	// Enter only comes back on a broken Machine.
	m.Exit(ExitCode)
}

func abort(k rawsys.Kernel, err error) {
	rawsys.WriteString(k, 2, err.Error())
	rawsys.WriteString(k, 2, "\n")
	k.Exit(ExitCode)
}
