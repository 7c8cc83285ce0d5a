//go:build linux && (amd64 || arm64 || riscv64)

package rawsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump")
	data := make([]byte, 2*4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	h, err := NewHost()
	require.NoError(t, err)

	off, err := h.Lseek(fd, 4096, SeekSet)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), off)

	buf := make([]byte, 16)
	n, err := h.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, data[4096:4096+16], buf)

	addr, err := h.Mmap(0, 4096, ProtRead|ProtWrite, MapPrivate, fd, 4096)
	require.NoError(t, err)
	v := h.View(addr, 4096)
	assert.Equal(t, data[4096:], v)

	// private mappings never write back
	v[0] ^= 0xff
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestHostMmapError(t *testing.T) {
	h, err := NewHost()
	require.NoError(t, err)
	_, err = h.Mmap(0, 4096, ProtRead, MapPrivate, -1, 0)
	assert.Error(t, err)
}
