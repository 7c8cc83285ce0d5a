// Package image describes checkpoint images: the region table the loader
// reads, the payload file the regions point into, and the text log the
// checkpoint manager writes while tracing.
package image

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/willibrandon/chronockpt/pkg/memtrace"
)

// ErrMalformed is returned for configuration text that does not follow the
// grammar.
var ErrMalformed = errors.New("image: malformed config")

// Region is one contiguous mapping of the restored address space.
type Region struct {
	Addr   uint64
	Offset uint64
	// Size is the mapped size.
	Size uint64
	// Length is the stored length in the payload file.
	Length uint64
}

// Compressed reports whether the payload is a compressed block.
func (r Region) Compressed() bool { return r.Length < r.Size }

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Addr + r.Size }

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x @%#x len %#x", r.Addr, r.End(), r.Offset, r.Length)
}

// Validate checks the invariants the loader relies on.
func (r Region) Validate() error {
	switch {
	case r.Size == 0:
		return errors.Errorf("region %s: empty", r)
	case r.Addr&memtrace.PageMask != 0 || r.Size&memtrace.PageMask != 0:
		return errors.Errorf("region %s: not page aligned", r)
	case r.Length > r.Size:
		return errors.Errorf("region %s: stored length exceeds size", r)
	case r.Length == r.Size && r.Offset&memtrace.PageMask != 0:
		return errors.Errorf("region %s: verbatim payload offset not page aligned", r)
	case r.Length == 0:
		return errors.Errorf("region %s: no payload", r)
	case r.End() < r.Addr:
		return errors.Errorf("region %s: wraps the address space", r)
	}
	return nil
}

// Config is the loader configuration: the region table and the entry PC.
type Config struct {
	Regions []Region
	Entry   uint64
}

// Validate checks every region and that no two regions overlap.
func (c *Config) Validate() error {
	for _, r := range c.Regions {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	sorted := c.ByAddr()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Addr < sorted[i-1].End() {
			return errors.Errorf("regions %s and %s overlap", sorted[i-1], sorted[i])
		}
	}
	return nil
}

// ByAddr returns a copy of the regions sorted by address.
func (c *Config) ByAddr() []Region {
	out := slices.Clone(c.Regions)
	slices.SortFunc(out, func(a, b Region) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return out
}

// ByOffset returns a copy of the regions sorted by payload offset, the
// order that reads the payload file front to back.
func (c *Config) ByOffset() []Region {
	out := slices.Clone(c.Regions)
	slices.SortStableFunc(out, func(a, b Region) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	return out
}

// MappedSize is the total size of all regions.
func (c *Config) MappedSize() uint64 {
	var n uint64
	for _, r := range c.Regions {
		n += r.Size
	}
	return n
}

// StoredSize is the total payload length of all regions.
func (c *Config) StoredSize() uint64 {
	var n uint64
	for _, r := range c.Regions {
		n += r.Length
	}
	return n
}

// ParseConfig reads a config. Tokens are separated by any white space: the
// region count in decimal, four hex fields per region, then the entry PC in
// hex.
func ParseConfig(r io.Reader) (*Config, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	next := func(what string, base int) (uint64, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, errors.Wrap(err, "image: read config")
			}
			return 0, errors.Wrapf(ErrMalformed, "missing %s", what)
		}
		v, err := strconv.ParseUint(sc.Text(), base, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrMalformed, "%s %q", what, sc.Text())
		}
		return v, nil
	}

	n, err := next("region count", 10)
	if err != nil {
		return nil, err
	}
	if n > 1<<20 {
		return nil, errors.Wrapf(ErrMalformed, "region count %d", n)
	}
	c := &Config{Regions: make([]Region, 0, n)}
	for i := uint64(0); i < n; i++ {
		var f [4]uint64
		for j, what := range [...]string{"address", "offset", "size", "length"} {
			if f[j], err = next(fmt.Sprintf("region %d %s", i, what), 16); err != nil {
				return nil, err
			}
		}
		c.Regions = append(c.Regions, Region{Addr: f[0], Offset: f[1], Size: f[2], Length: f[3]})
	}
	if c.Entry, err = next("entry pc", 16); err != nil {
		return nil, err
	}
	return c, nil
}

// WriteTo writes c in the format ParseConfig reads.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d\n", len(c.Regions))
	for _, r := range c.Regions {
		fmt.Fprintf(&b, "%x %x %x %x\n", r.Addr, r.Offset, r.Size, r.Length)
	}
	fmt.Fprintf(&b, "%x\n", c.Entry)
	n, err := w.Write(b.Bytes())
	return int64(n), errors.Wrap(err, "image: write config")
}
