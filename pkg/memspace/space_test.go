package memspace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/chronockpt/pkg/rawsys"
)

func TestAnonymousMapping(t *testing.T) {
	s := New()
	addr, err := s.Mmap(0x10000, 100, rawsys.ProtRWX, rawsys.MapPrivate|rawsys.MapFixed|rawsys.MapAnonymous, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), addr)

	v := s.View(0x10ff0, 16)
	require.Len(t, v, 16)
	assert.Equal(t, make([]byte, 16), v)
	assert.Nil(t, s.View(0x10ff0, 17))
	assert.Nil(t, s.View(0xf000, 1))
}

func TestFileMappingIsPrivate(t *testing.T) {
	s := New()
	content := bytes.Repeat([]byte{0xab}, 2*pageSize)
	content[pageSize] = 0xcd
	fd := s.Open(bytes.NewReader(content))

	_, err := s.Mmap(0x20000, pageSize, rawsys.ProtRWX, rawsys.MapPrivate|rawsys.MapFixed, fd, pageSize)
	require.NoError(t, err)
	v := s.View(0x20000, pageSize)
	assert.Equal(t, byte(0xcd), v[0])
	v[0] = 0
	assert.Equal(t, byte(0xcd), content[pageSize])

	_, err = s.Mmap(0x30000, pageSize, rawsys.ProtRWX, rawsys.MapPrivate|rawsys.MapFixed, fd, 1)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Mmap(0x30000, pageSize, rawsys.ProtRWX, rawsys.MapPrivate|rawsys.MapFixed, 42, 0)
	assert.ErrorIs(t, err, ErrBadFd)
}

func TestFixedMappingReplaces(t *testing.T) {
	s := New()
	flags := rawsys.MapPrivate | rawsys.MapFixed | rawsys.MapAnonymous
	_, err := s.Mmap(0x10000, 4*pageSize, rawsys.ProtRWX, flags, -1, 0)
	require.NoError(t, err)
	s.View(0x10000, 4*pageSize)[pageSize] = 1
	s.View(0x10000, 4*pageSize)[3*pageSize] = 3

	_, err = s.Mmap(0x11000, pageSize, rawsys.ProtRead, flags, -1, 0)
	require.NoError(t, err)

	assert.Equal(t, []Mapping{
		{Addr: 0x10000, Size: pageSize, Prot: rawsys.ProtRWX},
		{Addr: 0x11000, Size: pageSize, Prot: rawsys.ProtRead},
		{Addr: 0x12000, Size: 2 * pageSize, Prot: rawsys.ProtRWX},
	}, s.Mappings())
	assert.Equal(t, byte(0), s.View(0x11000, 1)[0])
	assert.Equal(t, byte(3), s.View(0x13000, 1)[0])
}

func TestViewSpansAdjacentMappings(t *testing.T) {
	s := New()
	content := bytes.Repeat([]byte{0xab}, pageSize)
	fd := s.Open(bytes.NewReader(content))
	flags := rawsys.MapPrivate | rawsys.MapFixed | rawsys.MapAnonymous
	_, err := s.Mmap(0x20000, pageSize, rawsys.ProtRWX, rawsys.MapPrivate|rawsys.MapFixed, fd, 0)
	require.NoError(t, err)
	_, err = s.Mmap(0x21000, pageSize, rawsys.ProtRWX, flags, -1, 0)
	require.NoError(t, err)
	_, err = s.Mmap(0x23000, pageSize, rawsys.ProtRWX, flags, -1, 0)
	require.NoError(t, err)

	v := s.View(0x20ffc, 8)
	require.Len(t, v, 8)
	assert.Equal(t, []byte{0xab, 0xab, 0xab, 0xab, 0, 0, 0, 0}, v)
	copy(v, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal(t, []byte{1, 2, 3, 4}, s.View(0x20ffc, 4))
	assert.Equal(t, []byte{5, 6, 7, 8}, s.View(0x21000, 4))

	// the hole at 0x22000 ends the range
	assert.Nil(t, s.View(0x21ffc, 8))
	assert.Len(t, s.View(0x20000, 2*pageSize), 2*pageSize)
	assert.Nil(t, s.View(0x20000, 2*pageSize+1))

	// mapping the hole joins all three, keeping earlier content
	_, err = s.Mmap(0x22000, pageSize, rawsys.ProtRead, flags, -1, 0)
	require.NoError(t, err)
	v = s.View(0x20ffc, 3*pageSize)
	require.Len(t, v, 3*pageSize)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, v[:8])
	assert.Len(t, s.Mappings(), 4)
}

func TestReadSeekClose(t *testing.T) {
	s := New()
	fd := s.Open(bytes.NewReader([]byte("0123456789")))

	off, err := s.Lseek(fd, 4, rawsys.SeekSet)
	require.NoError(t, err)
	assert.Equal(t, int64(4), off)

	buf := make([]byte, 8)
	n, err := s.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "456789", string(buf[:n]))

	require.NoError(t, s.Close(fd))
	assert.False(t, s.IsOpen(fd))
	assert.ErrorIs(t, s.Close(fd), ErrBadFd)
}

func TestRunOutcomes(t *testing.T) {
	s := New()
	assert.Equal(t, Outcome{Exited: true, Code: 3}, s.Run(func() { s.Exit(3) }))
	assert.Equal(t, Outcome{Entered: true, PC: 0x1000, SP: 0x2000}, s.Run(func() { s.Enter(0x1000, 0x2000) }))
	assert.Equal(t, Outcome{}, s.Run(func() {}))
	assert.Panics(t, func() { s.Run(func() { panic("boom") }) })

	rawsys.WriteString(s, 2, "diag\n")
	assert.Equal(t, "diag\n", s.Stderr.String())
}
