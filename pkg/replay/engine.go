// Package replay applies a recorded log of memory effects to a restored
// address space and verifies the state the target reaches at the end of a
// benchmarked interval.
//
// A log is a sequence of records, each a little-endian {addr, size} header
// followed by size payload bytes padded to 8. Records whose address is one
// of the Tag values control the engine, all others are plain writes.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/willibrandon/chronockpt/pkg/perf"
)

var (
	// ErrTargetDiverged means the log was applied correctly but the target
	// did not reach the recorded state.
	ErrTargetDiverged = errors.New("replay: target diverged")
	// ErrMalformed means the log itself cannot be interpreted.
	ErrMalformed = errors.New("replay: malformed log")
	// ErrUnmapped means a record addresses memory that is not mapped.
	ErrUnmapped = errors.New("replay: unmapped address")
)

// DivergedError describes the first failed assertion of an interval.
type DivergedError struct {
	Assertion
	Got uint64
	// Failed counts every failed assertion of the list.
	Failed int
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("replay: target diverged at %#x/%d: want %#x, got %#x (%d failed)",
		e.Addr, e.Width, e.Value, e.Got, e.Failed)
}

func (e *DivergedError) Unwrap() error { return ErrTargetDiverged }

// Memory is the restored address space.
type Memory interface {
	View(addr, length uint64) []byte
}

// Outcome tells why Step returned.
type Outcome int

const (
	// Segment is returned at a segment terminator; the target resumes.
	Segment Outcome = iota
	// Started is returned after the baseline counters were sampled.
	Started
	// Finished is returned after the interval ended and verified.
	Finished
)

func (o Outcome) String() string {
	switch o {
	case Segment:
		return "segment"
	case Started:
		return "started"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the measured length of a verified interval.
type Result struct {
	Cycles  uint64
	Instret uint64
}

// Engine walks a replay log. It is not safe for concurrent use.
type Engine struct {
	Counters perf.Counters
	// Out receives the syscall lines of TagSyscallEnd records. May be nil.
	Out io.Writer

	base    perf.Snapshot
	started bool

	// Value is the payload of the last TagSyscallEnd record.
	Value uint64
	// Result is set once an interval finished.
	Result Result
}

// NewEngine returns an engine sampling c.
func NewEngine(c perf.Counters) *Engine {
	return &Engine{Counters: c}
}

func malformed(off int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, "at offset %d: "+format, append([]interface{}{off}, args...)...)
}

// Step applies records from log[off:] until it reaches a control record and
// returns the offset just past that record. On error the returned offset is
// the record that failed.
func (e *Engine) Step(mem Memory, log []byte, off int) (int, Outcome, error) {
	for {
		if off < 0 || len(log)-off < headerLen {
			return off, Segment, malformed(off, "truncated header")
		}
		addr := binary.LittleEndian.Uint64(log[off:])
		size := binary.LittleEndian.Uint64(log[off+8:])
		next := off + headerLen

		switch addr {
		case TagSegmentEnd:
			return next, Segment, nil
		case TagSyscallEnd:
			e.Value = size
			if e.Out != nil {
				fmt.Fprintf(e.Out, "syscall %016x\n", size)
			}
			return next, Segment, nil
		case TagIntervalStart:
			e.base = e.Counters.Sample()
			e.started = true
			return next, Started, nil
		case TagIntervalEnd:
			now := e.Counters.Sample()
			if !e.started {
				return off, Segment, malformed(off, "interval end without start")
			}
			end, err := e.verify(mem, log, next)
			if err != nil {
				return off, Segment, err
			}
			d := now.Sub(e.base)
			e.Result = Result{Cycles: d.Cycle, Instret: d.Instret}
			return end, Finished, nil
		}

		if addr < reservedLimit {
			return off, Segment, malformed(off, "reserved address %#x", addr)
		}
		if size > uint64(len(log)-next) || pad8(size) > uint64(len(log)-next) {
			return off, Segment, malformed(off, "payload of %d bytes overruns log", size)
		}
		dst := mem.View(addr, size)
		if dst == nil {
			return off, Segment, errors.Wrapf(ErrUnmapped, "write of %d bytes at %#x", size, addr)
		}
		src := log[next : next+int(size)]
		// forward byte copy, records never overlap backwards
		for i := range src {
			dst[i] = src[i]
		}
		off = next + int(pad8(size))
	}
}

// verify checks the assertion list at log[off:] and returns the offset past
// its terminator. Every assertion is evaluated before reporting.
func (e *Engine) verify(mem Memory, log []byte, off int) (int, error) {
	var first *DivergedError
	for {
		if len(log)-off < headerLen {
			return off, malformed(off, "unterminated assertion list")
		}
		addr := binary.LittleEndian.Uint64(log[off:])
		if addr == TagSegmentEnd {
			off += headerLen
			break
		}
		width := binary.LittleEndian.Uint64(log[off+8:])
		if len(log)-off < assertionLen {
			return off, malformed(off, "truncated assertion")
		}
		if !validWidth(width) {
			return off, malformed(off, "assertion width %d", width)
		}
		want := binary.LittleEndian.Uint64(log[off+headerLen:])
		cur := mem.View(addr, width)
		if cur == nil {
			return off, errors.Wrapf(ErrUnmapped, "assertion at %#x", addr)
		}
		got, exp := readWidth(cur), truncate(want, width)
		if got != exp {
			if first == nil {
				first = &DivergedError{Assertion: Assertion{Addr: addr, Width: int(width), Value: exp}, Got: got}
			}
			first.Failed++
		}
		off += assertionLen
	}
	if first != nil {
		return off, first
	}
	return off, nil
}

func readWidth(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func truncate(v, width uint64) uint64 {
	if width == 8 {
		return v
	}
	return v & (1<<(8*width) - 1)
}

// Run steps through log until an interval finishes.
func (e *Engine) Run(mem Memory, log []byte) (Result, error) {
	off := 0
	for {
		next, out, err := e.Step(mem, log, off)
		if err != nil {
			return Result{}, err
		}
		if out == Finished {
			return e.Result, nil
		}
		if next == len(log) {
			return Result{}, malformed(next, "log ended before the interval finished")
		}
		off = next
	}
}

// Report writes the summary of a finished interval.
func Report(w io.Writer, r Result) error {
	_, err := fmt.Fprintf(w, "finish\ncycle %016x\ninstret %016x\n", r.Cycles, r.Instret)
	return err
}
