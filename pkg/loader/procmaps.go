//go:build linux

package loader

import (
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// Occupied lists the mappings of the current process as read from the proc
// filesystem mounted at mountPoint, usually procfs.DefaultMountPoint.
func Occupied(mountPoint string) ([]Span, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrap(err, "loader: open proc filesystem")
	}
	self, err := fs.Self()
	if err != nil {
		return nil, errors.Wrap(err, "loader: find own process")
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return nil, errors.Wrap(err, "loader: read own mappings")
	}
	spans := make([]Span, 0, len(maps))
	for _, m := range maps {
		spans = append(spans, Span{Addr: uint64(m.StartAddr), Size: uint64(m.EndAddr - m.StartAddr)})
	}
	return spans, nil
}
