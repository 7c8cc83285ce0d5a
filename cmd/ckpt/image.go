package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/rvinst"
)

// openImage parses the config at cfgPath and opens the payload file. The
// caller closes the returned file.
func openImage(fs afero.Fs, cfgPath, dumpPath string) (*image.Reader, afero.File, error) {
	f, err := fs.Open(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := image.ParseConfig(f)
	f.Close()
	if err != nil {
		return nil, nil, errors.Wrap(err, cfgPath)
	}
	dump, err := fs.Open(dumpPath)
	if err != nil {
		return nil, nil, err
	}
	r, err := image.NewReader(cfg, dump)
	if err != nil {
		dump.Close()
		return nil, nil, errors.Wrap(err, cfgPath)
	}
	return r, dump, nil
}

func (e *env) compress(cfgPath, dumpPath string, opts image.PackOptions) error {
	r, dump, err := openImage(e.fs, cfgPath, dumpPath)
	if err != nil {
		return err
	}
	defer dump.Close()
	pages, err := r.Pages()
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(cfgPath, ".cfg")
	var (
		cfg   *image.Config
		stats image.PackStats
	)
	err = writeFile(e.fs, name+".c"+suffixDump, func(w io.Writer) error {
		var err error
		cfg, stats, err = image.Pack(w, pages, r.Config().Entry, opts)
		return err
	})
	if err != nil {
		return err
	}
	err = writeFile(e.fs, name+".c"+suffixCfg, func(w io.Writer) error {
		_, err := cfg.WriteTo(w)
		return err
	})
	if err != nil {
		return err
	}

	level.Debug(e.logger).Log("msg", "packed image", "regions", len(cfg.Regions), "ratio", opts.MaxRatio, "max_length", opts.MaxLength)
	fmt.Fprintln(e.out, stats)
	fmt.Fprintf(e.out, "payload: %s -> %s\n", humanize.IBytes(r.Config().StoredSize()), humanize.IBytes(stats.Stored))
	return nil
}

func (e *env) inspect(cfgPath, dumpPath string) error {
	r, dump, err := openImage(e.fs, cfgPath, dumpPath)
	if err != nil {
		return err
	}
	defer dump.Close()
	cfg := r.Config()

	table := tablewriter.NewWriter(e.out)
	table.SetHeader([]string{"#", "Address", "End", "Offset", "Size", "Stored", "Kind", "xxhash"})
	for i, reg := range r.Regions() {
		kind := "verbatim"
		if reg.Compressed() {
			kind = fmt.Sprintf("s2 %.1f%%", float64(reg.Length)/float64(reg.Size)*100)
		}
		digest, err := r.Digest(i)
		if err != nil {
			return err
		}
		table.Append([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%#x", reg.Addr),
			fmt.Sprintf("%#x", reg.End()),
			fmt.Sprintf("%#x", reg.Offset),
			humanize.IBytes(reg.Size),
			humanize.IBytes(reg.Length),
			kind,
			fmt.Sprintf("%016x", digest),
		})
	}
	table.Render()

	fmt.Fprintf(e.out, "entry: %#x", cfg.Entry)
	var inst [4]byte
	if _, err := r.ReadAt(inst[:2], cfg.Entry); err != nil {
		fmt.Fprintln(e.out, " (outside the image)")
	} else {
		bits := uint32(binary.LittleEndian.Uint16(inst[:2]))
		if rvinst.Len(bits) == 4 {
			if _, err := r.ReadAt(inst[:], cfg.Entry); err == nil {
				bits = binary.LittleEndian.Uint32(inst[:])
			}
		}
		fmt.Fprintf(e.out, " %s\n", rvinst.Disasm(bits))
	}
	fmt.Fprintf(e.out, "mapped: %s, stored: %s\n", humanize.IBytes(cfg.MappedSize()), humanize.IBytes(cfg.StoredSize()))
	return nil
}
