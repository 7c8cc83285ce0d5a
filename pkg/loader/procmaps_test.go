//go:build linux

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccupied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "42"), 0o755))
	require.NoError(t, os.Symlink("42", filepath.Join(dir, "self")))
	maps := "00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/ckptload\n" +
		"7ffc0000-7ffc2000 rw-p 00000000 00:00 0 [stack]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "42", "maps"), []byte(maps), 0o644))

	spans, err := Occupied(dir)
	require.NoError(t, err)
	assert.Equal(t, []Span{
		{Addr: 0x400000, Size: 0x52000},
		{Addr: 0x7ffc0000, Size: 0x2000},
	}, spans)

	_, err = Occupied(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
