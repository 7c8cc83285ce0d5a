package image

import (
	"io"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/willibrandon/chronockpt/pkg/memtrace"
)

// DefaultCacheRegions is how many decoded regions a Reader keeps.
const DefaultCacheRegions = 64

// Reader gives random access to a checkpoint image by virtual address.
type Reader struct {
	cfg     *Config
	regions []Region // by address
	dump    io.ReaderAt
	cache   *lru.Cache[int, []byte]
}

// NewReader returns a reader for cfg over the payload file dump.
func NewReader(cfg *Config, dump io.ReaderAt) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := lru.New[int, []byte](DefaultCacheRegions)
	if err != nil {
		return nil, err
	}
	return &Reader{cfg: cfg, regions: cfg.ByAddr(), dump: dump, cache: cache}, nil
}

// Config returns the config the reader was made from.
func (r *Reader) Config() *Config { return r.cfg }

// Regions returns the regions in address order.
func (r *Reader) Regions() []Region { return r.regions }

// Region returns the decoded content of the i-th region in address order.
// The slice is shared with the cache and must not be modified.
func (r *Reader) Region(i int) ([]byte, error) {
	if data, ok := r.cache.Get(i); ok {
		return data, nil
	}
	reg := r.regions[i]
	stored := make([]byte, reg.Length)
	if err := readFull(r.dump, stored, int64(reg.Offset)); err != nil {
		return nil, errors.Wrapf(err, "image: read region %s", reg)
	}
	data := stored
	if reg.Compressed() {
		data = make([]byte, reg.Size)
		if err := DecodeBlock(data, stored); err != nil {
			return nil, errors.Wrapf(err, "region %s", reg)
		}
	}
	r.cache.Add(i, data)
	return data, nil
}

// Digest returns the xxhash64 of the decoded content of the i-th region.
func (r *Reader) Digest(i int) (uint64, error) {
	data, err := r.Region(i)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

func (r *Reader) find(addr uint64) int {
	i, _ := slices.BinarySearchFunc(r.regions, addr, func(reg Region, a uint64) int {
		switch {
		case reg.End() <= a:
			return -1
		case reg.Addr > a:
			return 1
		}
		return 0
	})
	if i < len(r.regions) && r.regions[i].Addr <= addr && addr < r.regions[i].End() {
		return i
	}
	return -1
}

// ReadAt copies the image content at addr into p. Reads may span adjacent
// regions; a gap is an error.
func (r *Reader) ReadAt(p []byte, addr uint64) (int, error) {
	n := 0
	for n < len(p) {
		a := addr + uint64(n)
		i := r.find(a)
		if i < 0 {
			return n, errors.Errorf("image: address %#x not in image", a)
		}
		data, err := r.Region(i)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], data[a-r.regions[i].Addr:])
	}
	return n, nil
}

// Pages splits the whole image into pages.
func (r *Reader) Pages() ([]Page, error) {
	var pages []Page
	for i, reg := range r.regions {
		data, err := r.Region(i)
		if err != nil {
			return nil, err
		}
		for off := uint64(0); off < reg.Size; off += memtrace.PageSize {
			pages = append(pages, Page{
				Addr:    reg.Addr + off,
				Data:    slices.Clone(data[off : off+memtrace.PageSize]),
				Touched: memtrace.PageSize,
			})
		}
	}
	return pages, nil
}

// readFull is ReadAt that tolerates io.EOF after a complete read.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
