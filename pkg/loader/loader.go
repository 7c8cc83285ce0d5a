// Package loader is the negotiating half of checkpoint restore. It runs
// with a full runtime, finds a gap in the target address space that no
// region of the image needs, lays the region table, the scratch buffer and
// a stack out in that gap, and hands control to the resume code.
package loader

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/memtrace"
	"github.com/willibrandon/chronockpt/pkg/rawsys"
	"github.com/willibrandon/chronockpt/pkg/resume"
)

const (
	// DefaultBase is where the gap search starts.
	DefaultBase = 0x60000000
	// DefaultCeiling is the top of the Sv39 user address space.
	DefaultCeiling = 0x4000000000
	// DefaultStackSize is the stack handed to the resumed program.
	DefaultStackSize = 4096
	// DefaultBufSize bounds the stored length of a compressed region.
	DefaultBufSize = 2048
	// TextAddr is the link address of the loader command. Go links
	// riscv64 executables at 0x10000 by default, which is also where
	// restored programs keep their text; cmd/ckptload/gen.go passes this
	// value to the linker instead.
	TextAddr = 0x2000000000
)

var (
	// ErrNoGap is returned when no placement for the loader footprint
	// exists below the ceiling.
	ErrNoGap = errors.New("loader: cannot find a place to map the region table")
	// ErrOccupied is returned when a region collides with a mapping the
	// loader process itself needs.
	ErrOccupied = errors.New("loader: region overlaps the loader process")
)

// Span is an address range, end exclusive.
type Span struct {
	Addr, Size uint64
}

// End returns the first address past s.
func (s Span) End() uint64 { return s.Addr + s.Size }

func (s Span) overlaps(addr, size uint64) bool {
	return addr < s.End() && s.Addr < addr+size
}

func (s Span) String() string { return fmt.Sprintf("%#x-%#x", s.Addr, s.End()) }

// Options configures Load.
type Options struct {
	Base      uint64
	Ceiling   uint64
	StackSize uint64
	BufSize   uint64
	// Occupied lists ranges of the target that must survive the restore,
	// such as the loader's own text, heap and stacks.
	Occupied []Span
	Logger   log.Logger
}

// DefaultOptions returns the layout the loader uses unless told otherwise.
func DefaultOptions() Options {
	return Options{
		Base:      DefaultBase,
		Ceiling:   DefaultCeiling,
		StackSize: DefaultStackSize,
		BufSize:   DefaultBufSize,
		Logger:    log.NewNopLogger(),
	}
}

func (o *Options) setDefaults() {
	d := DefaultOptions()
	if o.Base == 0 {
		o.Base = d.Base
	}
	if o.Ceiling == 0 {
		o.Ceiling = d.Ceiling
	}
	if o.StackSize == 0 {
		o.StackSize = d.StackSize
	}
	if o.BufSize == 0 {
		o.BufSize = d.BufSize
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
}

func alignPage(n uint64) uint64 {
	return (n + memtrace.PageMask) &^ memtrace.PageMask
}

// Footprint is the page-aligned size of the table for n regions plus the
// scratch buffer and the stack.
func Footprint(n int, stack, buf uint64) uint64 {
	return alignPage(uint64(n)*resume.EntryLen + buf + stack)
}

// Negotiate returns the lowest address at or above base where footprint
// bytes overlap none of spans. Spans are visited in address order and the
// candidate moves past every span it overlaps: a first fit, not a best fit.
func Negotiate(spans []Span, footprint, base, ceiling uint64) (uint64, error) {
	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b Span) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	found := base
	for _, s := range sorted {
		if s.overlaps(found, footprint) {
			found = s.End()
		}
	}
	if found+footprint > ceiling || found+footprint < found {
		return 0, errors.Wrapf(ErrNoGap, "footprint %#x above %#x", footprint, base)
	}
	return found, nil
}

// Frame is the loader footprint once mapped: the region table sorted by
// file offset, then the scratch buffer, then the stack.
type Frame struct {
	Base  uint64
	Size  uint64
	Table resume.Table
	Buf   []byte
	// SP is the initial stack pointer, 16-byte aligned.
	SP uint64
}

// Prepare maps the footprint at base and writes the table into it.
func Prepare(m rawsys.Machine, regions []image.Region, base uint64, opts Options) (*Frame, error) {
	opts.setDefaults()
	size := Footprint(len(regions), opts.StackSize, opts.BufSize)
	if _, err := m.Mmap(base, size, rawsys.ProtRead|rawsys.ProtWrite,
		rawsys.MapPrivate|rawsys.MapFixed|rawsys.MapAnonymous, -1, 0); err != nil {
		return nil, errors.Wrap(err, "loader: map region table")
	}
	mem := m.View(base, size)
	if mem == nil {
		return nil, errors.Errorf("loader: region table at %#x is not addressable", base)
	}

	byOffset := slices.Clone(regions)
	slices.SortStableFunc(byOffset, func(a, b image.Region) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	tableLen := len(byOffset) * resume.EntryLen
	for i, r := range byOffset {
		resume.PutEntry(mem[i*resume.EntryLen:], r)
	}
	buf := uint64(tableLen)
	return &Frame{
		Base:  base,
		Size:  size,
		Table: resume.Table(mem[:tableLen:tableLen]),
		Buf:   mem[buf : buf+opts.BufSize : buf+opts.BufSize],
		SP:    (base + size) &^ 15,
	}, nil
}

// Check verifies that cfg can be restored with opts: the configuration is
// valid, every compressed payload fits the scratch buffer and no region
// overlaps an occupied range.
func Check(cfg *image.Config, opts Options) error {
	opts.setDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, r := range cfg.Regions {
		if r.Compressed() && r.Length > opts.BufSize {
			return errors.Errorf("loader: region %s: compressed length exceeds the %d byte buffer", r, opts.BufSize)
		}
		for _, s := range opts.Occupied {
			if s.overlaps(r.Addr, r.Size) {
				return errors.Wrapf(ErrOccupied, "region %s, mapping %s", r, s)
			}
		}
	}
	return nil
}

// Load restores cfg into m from the dump open as fd and enters the entry
// PC. It only returns when something fails before control is handed off;
// afterwards failures end the process.
func Load(m rawsys.Machine, cfg *image.Config, fd int, opts Options) error {
	opts.setDefaults()
	if err := Check(cfg, opts); err != nil {
		return err
	}

	spans := make([]Span, 0, len(cfg.Regions)+len(opts.Occupied))
	for _, r := range cfg.Regions {
		spans = append(spans, Span{Addr: r.Addr, Size: r.Size})
	}
	spans = append(spans, opts.Occupied...)
	footprint := Footprint(len(cfg.Regions), opts.StackSize, opts.BufSize)
	base, err := Negotiate(spans, footprint, opts.Base, opts.Ceiling)
	if err != nil {
		return err
	}

	frame, err := Prepare(m, cfg.Regions, base, opts)
	if err != nil {
		return err
	}
	rawsys.WriteString(m, 1, fmt.Sprintf("map table to %#x-%#x\n", frame.Base, frame.Base+frame.Size-1))
	level.Debug(opts.Logger).Log("msg", "handing off", "regions", len(cfg.Regions),
		"entry", fmt.Sprintf("%#x", cfg.Entry), "sp", fmt.Sprintf("%#x", frame.SP))

	resume.Run(m, frame.Table, fd, cfg.Entry, frame.SP, frame.Buf)
	return nil
}
