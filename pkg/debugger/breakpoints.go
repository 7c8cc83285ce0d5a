package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// SegmentBreakpoint breaks once a given number of segments completed
	SegmentBreakpoint BreakpointType = iota
	// EventBreakpoint breaks after a step of a given kind
	EventBreakpoint
	// Watchpoint breaks after a write record touches an address range
	Watchpoint
)

// Events a step can end with.
const (
	EventSegment  = "segment"
	EventSyscall  = "syscall"
	EventStarted  = "started"
	EventFinished = "finished"
)

// Breakpoint represents a point to stop at while replaying
type Breakpoint struct {
	ID      int
	Type    BreakpointType
	Segment int    // For SegmentBreakpoint
	Event   string // For EventBreakpoint
	Addr    uint64 // For Watchpoint
	Size    uint64 // For Watchpoint
	Enabled bool
}

func (bp *Breakpoint) String() string {
	switch bp.Type {
	case SegmentBreakpoint:
		return fmt.Sprintf("seg:%d", bp.Segment)
	case EventBreakpoint:
		return bp.Event
	default:
		return fmt.Sprintf("watch:%#x/%d", bp.Addr, bp.Size)
	}
}

// Stop describes what a single step did.
type Stop struct {
	// Segments is the number of segments completed so far.
	Segments int
	Event    string
	// Writes are the address ranges written by the step.
	Writes []Range
}

// Range is a written address range.
type Range struct {
	Addr, Size uint64
}

// BreakpointManager manages breakpoints for the debugger
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint adds a breakpoint at the specified location: seg:<n>,
// watch:<addr>[/<size>] or one of the event names.
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp := &Breakpoint{Enabled: true}

	switch {
	case strings.HasPrefix(location, "seg:"):
		bp.Type = SegmentBreakpoint
		n, err := strconv.Atoi(strings.TrimPrefix(location, "seg:"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid segment: %s", location)
		}
		bp.Segment = n
	case strings.HasPrefix(location, "watch:"):
		bp.Type = Watchpoint
		expr := strings.TrimPrefix(location, "watch:")
		bp.Size = 1
		if i := strings.LastIndex(expr, "/"); i >= 0 {
			size, err := strconv.ParseUint(expr[i+1:], 0, 64)
			if err != nil || size == 0 {
				return nil, fmt.Errorf("invalid watch size: %s", location)
			}
			bp.Size = size
			expr = expr[:i]
		}
		addr, err := strconv.ParseUint(expr, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid watch address: %s", location)
		}
		bp.Addr = addr
	default:
		switch location {
		case EventSegment, EventSyscall, EventStarted, EventFinished:
		default:
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
		bp.Type = EventBreakpoint
		bp.Event = location
	}

	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// GetBreakpoints returns all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint returns the first enabled breakpoint hit by stop, or nil
func (bm *BreakpointManager) CheckBreakpoint(stop Stop) *Breakpoint {
	for _, bp := range bm.breakpoints {
		if !bp.Enabled {
			continue
		}

		switch bp.Type {
		case SegmentBreakpoint:
			if stop.Segments == bp.Segment {
				return bp
			}
		case EventBreakpoint:
			if stop.Event == bp.Event {
				return bp
			}
		case Watchpoint:
			for _, w := range stop.Writes {
				if w.Addr < bp.Addr+bp.Size && bp.Addr < w.Addr+w.Size {
					return bp
				}
			}
		}
	}
	return nil
}
