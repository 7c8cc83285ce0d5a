package replay

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Reserved record addresses. No target program maps page zero, so these
// never collide with a real write.
const (
	TagSegmentEnd    = 0
	TagIntervalEnd   = 1
	TagIntervalStart = 2
	// TagSyscallEnd ends a segment like TagSegmentEnd and carries the
	// system call return value in its size field.
	TagSyscallEnd = 3
)

const (
	headerLen    = 16
	assertionLen = headerLen + 8

	// writes below this address are rejected
	reservedLimit = 8
)

// Assertion checks that Width bytes at Addr hold Value once the interval
// ends.
type Assertion struct {
	Addr  uint64
	Width int
	Value uint64
}

func (a Assertion) String() string {
	return fmt.Sprintf("%#x/%d == %#x", a.Addr, a.Width, a.Value)
}

func validWidth(w uint64) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}

func pad8(n uint64) uint64 { return (n + 7) &^ 7 }

// Builder assembles a replay log.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) header(addr, size uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, addr)
	b.buf = binary.LittleEndian.AppendUint64(b.buf, size)
}

// Write appends a record copying data to addr. Addresses below 8 are
// reserved and rejected.
func (b *Builder) Write(addr uint64, data []byte) error {
	if addr < reservedLimit {
		return errors.Errorf("replay: write to reserved address %#x", addr)
	}
	if len(data) == 0 {
		return nil
	}
	b.header(addr, uint64(len(data)))
	b.buf = append(b.buf, data...)
	for i := uint64(len(data)); i < pad8(uint64(len(data))); i++ {
		b.buf = append(b.buf, 0)
	}
	return nil
}

// IntervalStart appends the record that samples the baseline counters.
func (b *Builder) IntervalStart() {
	b.header(TagIntervalStart, 0)
}

// SegmentEnd appends a plain segment terminator.
func (b *Builder) SegmentEnd() {
	b.header(TagSegmentEnd, 0)
}

// SyscallEnd appends a segment terminator that reports ret.
func (b *Builder) SyscallEnd(ret uint64) {
	b.header(TagSyscallEnd, ret)
}

// IntervalEnd appends the verifying record followed by its assertion list.
func (b *Builder) IntervalEnd(asserts ...Assertion) error {
	b.header(TagIntervalEnd, 0)
	for _, a := range asserts {
		if !validWidth(uint64(a.Width)) {
			return errors.Errorf("replay: assertion width %d", a.Width)
		}
		if a.Addr < reservedLimit {
			return errors.Errorf("replay: assertion on reserved address %#x", a.Addr)
		}
		b.header(a.Addr, uint64(a.Width))
		b.buf = binary.LittleEndian.AppendUint64(b.buf, a.Value)
	}
	b.header(TagSegmentEnd, 0)
	return nil
}

// Bytes returns the log built so far.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the size of the log in bytes.
func (b *Builder) Len() int { return len(b.buf) }

// Write is a plain write record found in a log.
type Write struct {
	Addr, Size uint64
	// Offset is where the record header starts.
	Offset int
}

// Writes lists the write records of log starting at off, up to the next
// control record or end. Records the engine would reject end the scan.
func Writes(log []byte, off, end int) []Write {
	var out []Write
	end = min(end, len(log))
	for off >= 0 && end-off >= headerLen {
		addr := binary.LittleEndian.Uint64(log[off:])
		size := binary.LittleEndian.Uint64(log[off+8:])
		if addr < reservedLimit || pad8(size) > uint64(end-off-headerLen) {
			break
		}
		out = append(out, Write{Addr: addr, Size: size, Offset: off})
		off += headerLen + int(pad8(size))
	}
	return out
}
