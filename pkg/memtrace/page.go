package memtrace

import "encoding/binary"

const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	// BitmapSize is the size in bytes of a serialized page bitmap.
	BitmapSize = PageSize / 8
)

// PageRecord holds which bytes of one page have been observed and the value
// each of them had when it was first observed.
type PageRecord struct {
	Bitmap [PageSize / 64]uint64
	Data   [PageSize]byte
}

// Touched reports whether the byte at page offset off has been observed.
func (p *PageRecord) Touched(off int) bool {
	return p.Bitmap[off>>6]&(1<<(off&63)) != 0
}

// Count returns the number of observed bytes in the page.
func (p *PageRecord) Count() int {
	n := 0
	for _, w := range p.Bitmap {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// mark records b at off unless the byte was already observed. It reports
// whether the byte was fresh.
func (p *PageRecord) mark(off int, b byte) bool {
	bit := uint64(1) << (off & 63)
	if p.Bitmap[off>>6]&bit != 0 {
		return false
	}
	p.Bitmap[off>>6] |= bit
	p.Data[off] = b
	return true
}

// AppendBitmap appends the serialized bitmap to dst: byte i carries the bits
// for offsets [8i, 8i+8), least significant bit first.
func (p *PageRecord) AppendBitmap(dst []byte) []byte {
	var b [8]byte
	for _, w := range p.Bitmap {
		binary.LittleEndian.PutUint64(b[:], w)
		dst = append(dst, b[:]...)
	}
	return dst
}

// SetBitmap loads a bitmap serialized by AppendBitmap.
func (p *PageRecord) SetBitmap(src []byte) {
	for i := range p.Bitmap {
		p.Bitmap[i] = binary.LittleEndian.Uint64(src[i*8:])
	}
}

// ExecRecord counts retirements of 4-byte instructions by halfword offset
// within a page.
type ExecRecord struct {
	Retired [PageSize / 2]uint32
}
