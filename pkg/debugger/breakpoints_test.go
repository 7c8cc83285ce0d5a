package debugger

import (
	"testing"
)

func TestNewBreakpointManager(t *testing.T) {
	bm := NewBreakpointManager()
	if bm == nil {
		t.Fatal("NewBreakpointManager returned nil")
	}

	if bm.nextID != 1 {
		t.Errorf("Expected nextID to be 1, got %d", bm.nextID)
	}

	if len(bm.breakpoints) != 0 {
		t.Errorf("Expected 0 breakpoints, got %d", len(bm.breakpoints))
	}
}

func TestAddBreakpoint(t *testing.T) {
	bm := NewBreakpointManager()

	testCases := []struct {
		name     string
		location string
		wantType BreakpointType
		want     string
		wantErr  bool
	}{
		{name: "Segment breakpoint", location: "seg:3", wantType: SegmentBreakpoint, want: "seg:3"},
		{name: "Event breakpoint", location: "syscall", wantType: EventBreakpoint, want: "syscall"},
		{name: "Watchpoint", location: "watch:0x20000", wantType: Watchpoint, want: "watch:0x20000/1"},
		{name: "Sized watchpoint", location: "watch:0x20000/8", wantType: Watchpoint, want: "watch:0x20000/8"},
		{name: "Negative segment", location: "seg:-1", wantErr: true},
		{name: "Bad watch size", location: "watch:0x20000/0", wantErr: true},
		{name: "Bad watch address", location: "watch:main", wantErr: true},
		{name: "Unknown event", location: "FuncEntry", wantErr: true},
	}

	id := 0
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bp, err := bm.AddBreakpoint(tc.location)

			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			id++

			if bp.Type != tc.wantType {
				t.Errorf("Expected type %v, got %v", tc.wantType, bp.Type)
			}

			if bp.String() != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, bp.String())
			}

			if bp.ID != id {
				t.Errorf("Expected ID %d, got %d", id, bp.ID)
			}

			if !bp.Enabled {
				t.Error("Breakpoint should be enabled by default")
			}
		})
	}

	// Failed locations are not stored
	if len(bm.breakpoints) != 4 {
		t.Errorf("Expected 4 breakpoints, got %d", len(bm.breakpoints))
	}
}

func TestRemoveBreakpoint(t *testing.T) {
	bm := NewBreakpointManager()

	bp1, _ := bm.AddBreakpoint("seg:1")
	bp2, _ := bm.AddBreakpoint("finished")

	err := bm.RemoveBreakpoint(bp1.ID)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	breakpoints := bm.GetBreakpoints()
	if len(breakpoints) != 1 {
		t.Fatalf("Expected 1 breakpoint, got %d", len(breakpoints))
	}

	if breakpoints[0].ID != bp2.ID {
		t.Errorf("Expected remaining breakpoint ID %d, got %d", bp2.ID, breakpoints[0].ID)
	}

	err = bm.RemoveBreakpoint(999)
	if err == nil {
		t.Error("Expected error when removing non-existent breakpoint, got nil")
	}
}

func TestEnableDisableBreakpoint(t *testing.T) {
	bm := NewBreakpointManager()
	bp, _ := bm.AddBreakpoint("seg:1")

	if err := bm.DisableBreakpoint(bp.ID); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if bm.GetBreakpoints()[0].Enabled {
		t.Error("Breakpoint should be disabled")
	}

	if err := bm.EnableBreakpoint(bp.ID); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !bm.GetBreakpoints()[0].Enabled {
		t.Error("Breakpoint should be enabled")
	}

	if err := bm.EnableBreakpoint(999); err == nil {
		t.Error("Expected error when enabling non-existent breakpoint, got nil")
	}
	if err := bm.DisableBreakpoint(999); err == nil {
		t.Error("Expected error when disabling non-existent breakpoint, got nil")
	}
}

func TestCheckBreakpoint(t *testing.T) {
	bm := NewBreakpointManager()
	seg, _ := bm.AddBreakpoint("seg:2")
	sys, _ := bm.AddBreakpoint("syscall")
	watch, _ := bm.AddBreakpoint("watch:0x1004/4")

	// Disable the segment breakpoint
	if err := bm.DisableBreakpoint(seg.ID); err != nil {
		t.Fatalf("Failed to disable breakpoint: %v", err)
	}

	testCases := []struct {
		name string
		stop Stop
		want *Breakpoint
	}{
		{"disabled segment", Stop{Segments: 2, Event: EventSegment}, nil},
		{"event", Stop{Segments: 1, Event: EventSyscall}, sys},
		{"write overlaps", Stop{Event: EventSegment, Writes: []Range{{Addr: 0x1000, Size: 5}}}, watch},
		{"write ends below", Stop{Event: EventSegment, Writes: []Range{{Addr: 0x1000, Size: 4}}}, nil},
		{"write starts above", Stop{Event: EventStarted, Writes: []Range{{Addr: 0x1008, Size: 8}}}, nil},
	}

	for _, tc := range testCases {
		if got := bm.CheckBreakpoint(tc.stop); got != tc.want {
			t.Errorf("%s: CheckBreakpoint = %v, want %v", tc.name, got, tc.want)
		}
	}
}
