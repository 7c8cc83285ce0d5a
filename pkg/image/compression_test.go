package image

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i / 64)
	}
	return b
}

func TestBlockRoundTrip(t *testing.T) {
	src := pattern(3 * 4096)

	blk := EncodeBlock(src)
	if len(blk) >= len(src) {
		t.Fatalf("Expected block smaller than %d bytes, got %d", len(src), len(blk))
	}
	if n, err := DecodedLen(blk); err != nil || n != len(src) {
		t.Fatalf("DecodedLen = %d, %v", n, err)
	}

	dst := make([]byte, len(src))
	if err := DecodeBlock(dst, blk); err != nil {
		t.Fatalf("Failed to decode block: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Fatal("Decoded block does not match source")
	}
}

func TestBlockCorruption(t *testing.T) {
	src := pattern(4096)
	blk := EncodeBlock(src)

	// a flip may land in a copy whose output happens not to change; what
	// must never happen is a successful decode of different content
	for i := range blk {
		bad := append([]byte(nil), blk...)
		bad[i] ^= 0x5a
		dst := make([]byte, len(src))
		err := DecodeBlock(dst, bad)
		if err != nil && !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Flipping byte %d: expected ErrCorrupt, got %v", i, err)
		}
		if err == nil && !bytes.Equal(dst, src) {
			t.Fatalf("Flipping byte %d: decoded wrong content without error", i)
		}
	}

	bad := append([]byte(nil), blk...)
	bad[len(bad)-1] ^= 1
	if err := DecodeBlock(make([]byte, len(src)), bad); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Bad digest: expected ErrCorrupt, got %v", err)
	}

	if err := DecodeBlock(make([]byte, len(src)-1), blk); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Short destination: expected ErrCorrupt, got %v", err)
	}
	if err := DecodeBlock(make([]byte, len(src)+1), blk); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Long destination: expected ErrCorrupt, got %v", err)
	}
	if err := DecodeBlock(make([]byte, len(src)), blk[:len(blk)/2]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Truncated block: expected ErrCorrupt, got %v", err)
	}
	if err := DecodeBlock(make([]byte, len(src)), blk[:3]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Tiny block: expected ErrCorrupt, got %v", err)
	}
}

func TestBlockDecodeDoesNotAllocate(t *testing.T) {
	src := make([]byte, 4096)
	rand.New(rand.NewSource(7)).Read(src[:512])
	blk := EncodeBlock(src)
	dst := make([]byte, len(src))

	allocs := testing.AllocsPerRun(10, func() {
		if err := DecodeBlock(dst, blk); err != nil {
			t.Fatal(err)
		}
	})
	if allocs != 0 {
		t.Errorf("Expected no allocations, got %v", allocs)
	}
}

func TestCompressedWriter(t *testing.T) {
	var buf bytes.Buffer

	writer, err := NewCompressedWriter(&buf, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to create compressed writer: %v", err)
	}
	testData := bytes.Repeat([]byte("break 10078 first\n"), 100)
	if _, err := writer.Write(testData); err != nil {
		t.Fatalf("Failed to write to compressed writer: %v", err)
	}
	if err := CloseCompressedWriter(writer); err != nil {
		t.Fatalf("Failed to close compressed writer: %v", err)
	}
	if buf.Len() == 0 || buf.Len() >= len(testData) {
		t.Fatalf("Unexpected compressed size %d", buf.Len())
	}

	reader, err := NewCompressedReader(bytes.NewReader(buf.Bytes()), ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to create compressed reader: %v", err)
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read from compressed reader: %v", err)
	}
	if !bytes.Equal(decompressed, testData) {
		t.Fatalf("Decompressed data does not match original")
	}
}

func TestCompressionNames(t *testing.T) {
	if CompressionFor("run/ckpt.log.zst") != ZstdCompression {
		t.Error("Expected zstd for .zst suffix")
	}
	if CompressionFor("run/ckpt.log") != NoCompression {
		t.Error("Expected no compression for plain log")
	}
	if c, err := ParseCompression("ZSTD"); err != nil || c != ZstdCompression {
		t.Errorf("ParseCompression(ZSTD) = %v, %v", c, err)
	}
	if _, err := ParseCompression("lz4"); err == nil {
		t.Error("Expected error for unknown compression")
	}
}
