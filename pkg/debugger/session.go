// Package debugger steps through a replay log interactively. A Session
// applies the log one segment at a time to a restored address space and
// stops at breakpoints on segments, events and written addresses.
package debugger

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/willibrandon/chronockpt/pkg/replay"
)

// ErrFinished is returned when stepping past the end of the interval.
var ErrFinished = errors.New("debugger: interval finished")

// Session is a replay in progress.
type Session struct {
	eng *replay.Engine
	mem replay.Memory
	log []byte

	off      int
	segments int
	done     bool
	last     Stop
}

// NewSession starts replaying log into mem.
func NewSession(eng *replay.Engine, mem replay.Memory, log []byte) *Session {
	return &Session{eng: eng, mem: mem, log: log}
}

// Offset is the log offset of the next record.
func (s *Session) Offset() int { return s.off }

// Done reports whether the interval finished.
func (s *Session) Done() bool { return s.done }

// Last returns the previous stop.
func (s *Session) Last() Stop { return s.last }

// Engine returns the engine applying the log.
func (s *Session) Engine() *replay.Engine { return s.eng }

// Memory returns the restored address space.
func (s *Session) Memory() replay.Memory { return s.mem }

// Step applies the log up to and including the next control record.
func (s *Session) Step() (Stop, error) {
	if s.done {
		return Stop{}, ErrFinished
	}
	if s.off == len(s.log) {
		return Stop{}, errors.New("debugger: log ended before the interval finished")
	}
	writes := replay.Writes(s.log, s.off, len(s.log))
	next, out, err := s.eng.Step(s.mem, s.log, s.off)
	if err != nil {
		return Stop{}, err
	}

	stop := Stop{Writes: make([]Range, 0, len(writes))}
	for _, w := range writes {
		stop.Writes = append(stop.Writes, Range{Addr: w.Addr, Size: w.Size})
	}
	switch out {
	case replay.Started:
		stop.Event = EventStarted
	case replay.Finished:
		stop.Event = EventFinished
		s.done = true
	default:
		s.segments++
		stop.Event = EventSegment
		if binary.LittleEndian.Uint64(s.log[next-16:]) == replay.TagSyscallEnd {
			stop.Event = EventSyscall
		}
	}
	stop.Segments = s.segments
	s.off = next
	s.last = stop
	return stop, nil
}

// Continue steps until a breakpoint of bm is hit or the interval finishes.
// The returned breakpoint is nil when no breakpoint stopped the replay.
func (s *Session) Continue(bm *BreakpointManager) (Stop, *Breakpoint, error) {
	for {
		stop, err := s.Step()
		if err != nil {
			return stop, nil, err
		}
		if bp := bm.CheckBreakpoint(stop); bp != nil {
			return stop, bp, nil
		}
		if s.done {
			return stop, nil, nil
		}
	}
}
