package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/replay"
)

type buildParams struct {
	log    string
	prefix string
	// only selects one checkpoint; negative builds all of them
	only int
}

// Suffixes of the files build writes for each checkpoint.
const (
	suffixCfg    = ".cfg"
	suffixDump   = ".dump"
	suffixReplay = ".replay"
	suffixRegs   = ".regs"
)

// replayLog converts the system calls and store values of cp into a replay
// log: the interval starts at the checkpoint, every completed system call
// contributes its memory write and return value, and the interval ends
// asserting the final store values.
func replayLog(cp *image.Checkpoint) ([]byte, error) {
	b := replay.NewBuilder()
	b.IntervalStart()
	for _, s := range cp.Syscalls {
		if !s.Complete || s.Exit {
			break
		}
		if len(s.WriteData) > 0 {
			if err := b.Write(s.WriteAddr, s.WriteData); err != nil {
				return nil, errors.Wrapf(err, "syscall at %#x", s.PC)
			}
		}
		b.SyscallEnd(s.Ret)
	}
	asserts := make([]replay.Assertion, 0, len(cp.Stores))
	for _, s := range cp.Stores {
		asserts = append(asserts, replay.Assertion{Addr: s.Addr, Width: s.Width, Value: s.Value})
	}
	if err := b.IntervalEnd(asserts...); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// writeFile creates name on fs and fills it through fill.
func writeFile(fs afero.Fs, name string, fill func(w io.Writer) error) error {
	f, err := fs.Create(name)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	var result *multierror.Error
	result = multierror.Append(result, fill(bw))
	result = multierror.Append(result, bw.Flush())
	result = multierror.Append(result, f.Close())
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

func (e *env) build(p buildParams) error {
	cps, err := image.ParseLog(e.fs, p.log)
	if err != nil {
		return err
	}
	prefix := p.prefix
	if prefix == "" {
		prefix = strings.TrimSuffix(p.log, image.ZstdSuffix)
	}
	if p.only >= len(cps) {
		return errors.Errorf("log has %d checkpoints, no checkpoint %d", len(cps), p.only)
	}
	level.Info(e.logger).Log("msg", "parsed log", "path", p.log, "checkpoints", len(cps))

	for i, cp := range cps {
		if p.only >= 0 && i != p.only {
			continue
		}
		if err := e.buildOne(fmt.Sprintf("%s.%d", prefix, i), cp); err != nil {
			return errors.Wrapf(err, "checkpoint %d", i)
		}
	}
	return nil
}

func (e *env) buildOne(name string, cp *image.Checkpoint) error {
	pages, err := cp.Pages(e.fs)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.Errorf("%s has no pages", cp)
	}
	log, err := replayLog(cp)
	if err != nil {
		return err
	}

	var cfg *image.Config
	err = writeFile(e.fs, name+suffixDump, func(w io.Writer) error {
		var err error
		cfg, _, err = image.Pack(w, pages, cp.Begin, image.PackOptions{})
		return err
	})
	if err != nil {
		return err
	}
	files := []struct {
		suffix string
		data   func(io.Writer) error
	}{
		{suffixCfg, func(w io.Writer) error { _, err := cfg.WriteTo(w); return err }},
		{suffixReplay, func(w io.Writer) error { _, err := w.Write(log); return err }},
		{suffixRegs, func(w io.Writer) error { _, err := w.Write(cp.Registers()); return err }},
	}
	for _, f := range files {
		if err := writeFile(e.fs, name+f.suffix, f.data); err != nil {
			return err
		}
	}

	level.Debug(e.logger).Log("msg", "built checkpoint", "name", name, "regions", len(cfg.Regions),
		"syscalls", len(cp.Syscalls), "stores", len(cp.Stores))
	fmt.Fprintf(e.out, "%s: %s, %s in %d regions, replay %s\n", name, cp,
		humanize.IBytes(cfg.MappedSize()), len(cfg.Regions), humanize.IBytes(uint64(len(log))))
	return nil
}
