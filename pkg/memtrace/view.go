package memtrace

import (
	"encoding/binary"
	"fmt"
)

// View is a fixed-width little-endian byte view of an integer value of 1, 2,
// 4 or 8 bytes. Byte i of the view holds bits [8i, 8i+8) of the value.
type View struct {
	b [8]byte
	n int
}

// U8 returns a one byte view of v.
func U8(v uint8) View { return View{b: [8]byte{v}, n: 1} }

// U16 returns a two byte view of v.
func U16(v uint16) View {
	var w View
	binary.LittleEndian.PutUint16(w.b[:], v)
	w.n = 2
	return w
}

// U32 returns a four byte view of v.
func U32(v uint32) View {
	var w View
	binary.LittleEndian.PutUint32(w.b[:], v)
	w.n = 4
	return w
}

// U64 returns an eight byte view of v.
func U64(v uint64) View {
	var w View
	binary.LittleEndian.PutUint64(w.b[:], v)
	w.n = 8
	return w
}

// ViewOf returns a view of the low size bytes of v. It panics if size is not
// one of 1, 2, 4 or 8.
func ViewOf(size int, v uint64) View {
	switch size {
	case 1:
		return U8(uint8(v))
	case 2:
		return U16(uint16(v))
	case 4:
		return U32(uint32(v))
	case 8:
		return U64(v)
	}
	panic(fmt.Sprintf("memtrace: unsupported view width %d", size))
}

// Len returns the width of the view in bytes.
func (v View) Len() int { return v.n }

// Bytes returns the view's bytes, lowest address first.
func (v View) Bytes() []byte { return v.b[:v.n] }

// Uint64 returns the value the view decomposes, zero extended.
func (v View) Uint64() uint64 { return binary.LittleEndian.Uint64(v.b[:]) }
