package image

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// CompressionType defines the compression applied to text logs
type CompressionType int

const (
	// NoCompression indicates no compression
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

// ZstdSuffix marks compressed log files.
const ZstdSuffix = ".zst"

func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression maps a configuration value to a CompressionType.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return NoCompression, errors.Errorf("unknown compression %q", s)
}

// CompressionFor guesses the compression of a log from its name.
func CompressionFor(path string) CompressionType {
	if strings.HasSuffix(path, ZstdSuffix) {
		return ZstdCompression
	}
	return NoCompression
}

// NewCompressedWriter returns a writer that compresses data before writing
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}
	return zstd.NewWriter(w)
}

// NewCompressedReader returns a reader that decompresses data after reading
func NewCompressedReader(r io.Reader, compressionType CompressionType) (io.Reader, error) {
	if compressionType == NoCompression {
		return r, nil
	}
	return zstd.NewReader(r)
}

// CloseCompressedReader releases the decoder behind r if there is one.
func CloseCompressedReader(r io.Reader) {
	if zr, ok := r.(*zstd.Decoder); ok {
		zr.Close()
	}
}

// CloseCompressedWriter flushes and closes the compressed writer if needed.
// The underlying writer is left open.
func CloseCompressedWriter(w io.Writer) error {
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}

// ErrCorrupt is returned when a compressed region does not decode to the
// content it was made from.
var ErrCorrupt = errors.New("image: corrupt compressed region")

// digestLen is the size of the xxhash64 trailer of a block. S2 blocks carry
// no checksum of their own.
const digestLen = 8

// EncodeBlock compresses src into a region payload: an S2 block followed by
// the little-endian xxhash64 of src.
func EncodeBlock(src []byte) []byte {
	dst := s2.EncodeBetter(make([]byte, s2.MaxEncodedLen(len(src))+digestLen), src)
	return binary.LittleEndian.AppendUint64(dst, xxhash.Sum64(src))
}

// DecodeBlock decompresses a region payload into dst, which must be exactly
// as long as the original content. It does not allocate.
func DecodeBlock(dst, src []byte) error {
	if len(src) < digestLen {
		return ErrCorrupt
	}
	body := src[:len(src)-digestLen]
	sum := binary.LittleEndian.Uint64(src[len(src)-digestLen:])
	n, err := s2.DecodedLen(body)
	if err != nil || n != len(dst) {
		return ErrCorrupt
	}
	out, err := s2.Decode(dst, body)
	if err != nil || len(out) != len(dst) {
		return ErrCorrupt
	}
	if xxhash.Sum64(dst) != sum {
		return ErrCorrupt
	}
	return nil
}

// DecodedLen returns the content length of a region payload.
func DecodedLen(src []byte) (int, error) {
	if len(src) < digestLen {
		return 0, ErrCorrupt
	}
	n, err := s2.DecodedLen(src[:len(src)-digestLen])
	if err != nil {
		return 0, ErrCorrupt
	}
	return n, nil
}
