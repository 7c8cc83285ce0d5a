package image

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/willibrandon/chronockpt/pkg/memtrace"
)

// PackOptions controls which pages are stored compressed.
type PackOptions struct {
	// MaxRatio is the largest compressed/original size ratio for which a
	// page is stored compressed. Zero stores every page verbatim.
	MaxRatio float64
	// MaxLength bounds the compressed length of a coalesced region. It must
	// not exceed the loader scratch buffer.
	MaxLength int
}

// DefaultPackOptions returns the options the tools use unless told otherwise.
func DefaultPackOptions() PackOptions {
	return PackOptions{MaxRatio: 0.3, MaxLength: 2048}
}

func (o PackOptions) validate() error {
	if o.MaxRatio < 0 || o.MaxRatio >= 1 {
		return errors.Errorf("image: max ratio %g out of [0, 1)", o.MaxRatio)
	}
	if o.MaxRatio > 0 && o.MaxLength <= 0 {
		return errors.Errorf("image: max length %d", o.MaxLength)
	}
	return nil
}

// PackStats summarizes a Pack run.
type PackStats struct {
	Pages           int
	CompressedPages int
	// Stored is the payload file size.
	Stored uint64
}

// Ratio is the fraction of the mapped size saved by compression.
func (s PackStats) Ratio() float64 {
	if s.Pages == 0 {
		return 0
	}
	return 1 - float64(s.Stored)/float64(s.Pages*memtrace.PageSize)
}

func (s PackStats) String() string {
	return fmt.Sprintf("compressed pages: %d/%d\ncompression ratio: %.1f%%",
		s.CompressedPages, s.Pages, s.Ratio()*100)
}

type group struct {
	addr  uint64
	data  []byte
	block []byte
}

func (g *group) end() uint64 { return g.addr + uint64(len(g.data)) }

func last(gs []*group) *group {
	if len(gs) == 0 {
		return nil
	}
	return gs[len(gs)-1]
}

// Pack writes the payload file for pages to w and returns the matching
// config. Adjacent pages are coalesced into regions. Pages that compress to
// at most MaxRatio of their size are stored as compressed blocks, merged
// with an adjacent compressed region while the merged block stays within
// MaxLength. Verbatim regions are written first so that their offsets stay
// page aligned.
func Pack(w io.Writer, pages []Page, entry uint64, opts PackOptions) (*Config, PackStats, error) {
	var stats PackStats
	if err := opts.validate(); err != nil {
		return nil, stats, err
	}
	sorted := append([]Page(nil), pages...)
	SortPages(sorted)

	var plain, packed []*group
	for i, p := range sorted {
		if p.Addr&memtrace.PageMask != 0 || len(p.Data) != memtrace.PageSize {
			return nil, stats, errors.Errorf("image: page %#x is not a whole page", p.Addr)
		}
		if i > 0 && sorted[i-1].Addr == p.Addr {
			return nil, stats, errors.Errorf("image: page %#x given twice", p.Addr)
		}
		stats.Pages++

		if opts.MaxRatio > 0 {
			blk := EncodeBlock(p.Data)
			if float64(len(blk)) <= float64(len(p.Data))*opts.MaxRatio && len(blk) <= opts.MaxLength {
				stats.CompressedPages++
				if g := last(packed); g != nil && g.end() == p.Addr {
					data := append(append(make([]byte, 0, len(g.data)+len(p.Data)), g.data...), p.Data...)
					if merged := EncodeBlock(data); len(merged) <= opts.MaxLength {
						g.data, g.block = data, merged
						continue
					}
				}
				packed = append(packed, &group{addr: p.Addr, data: p.Data, block: blk})
				continue
			}
		}

		if g := last(plain); g != nil && g.end() == p.Addr {
			g.data = append(g.data, p.Data...)
			continue
		}
		plain = append(plain, &group{addr: p.Addr, data: append([]byte(nil), p.Data...)})
	}

	cfg := &Config{Entry: entry}
	emit := func(g *group, payload []byte) error {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "image: write payload")
		}
		cfg.Regions = append(cfg.Regions, Region{
			Addr:   g.addr,
			Offset: stats.Stored,
			Size:   uint64(len(g.data)),
			Length: uint64(len(payload)),
		})
		stats.Stored += uint64(len(payload))
		return nil
	}
	for _, g := range plain {
		if err := emit(g, g.data); err != nil {
			return nil, stats, err
		}
	}
	for _, g := range packed {
		if len(g.block) >= len(g.data) {
			return nil, stats, errors.Errorf("image: block for %#x does not shrink", g.addr)
		}
		if err := emit(g, g.block); err != nil {
			return nil, stats, err
		}
	}
	return cfg, stats, nil
}
