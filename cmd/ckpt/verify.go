package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/willibrandon/chronockpt/pkg/debugger"
	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/loader"
	"github.com/willibrandon/chronockpt/pkg/memspace"
	"github.com/willibrandon/chronockpt/pkg/perf"
	"github.com/willibrandon/chronockpt/pkg/replay"
)

type verifyParams struct {
	cfg, dump, replay string
}

// restore maps the image into a simulated address space through the same
// loader and resume code the live loader runs.
func (e *env) restore(cfgPath, dumpPath string) (*memspace.Space, *image.Config, memspace.Outcome, error) {
	f, err := e.fs.Open(cfgPath)
	if err != nil {
		return nil, nil, memspace.Outcome{}, err
	}
	cfg, err := image.ParseConfig(f)
	f.Close()
	if err != nil {
		return nil, nil, memspace.Outcome{}, errors.Wrap(err, cfgPath)
	}
	dump, err := e.fs.Open(dumpPath)
	if err != nil {
		return nil, nil, memspace.Outcome{}, err
	}
	defer dump.Close()

	space := memspace.New()
	fd := space.Open(dump)
	var loadErr error
	out := space.Run(func() { loadErr = loader.Load(space, cfg, fd, e.settings.LoaderOptions(e.logger)) })
	if loadErr != nil {
		return nil, nil, out, loadErr
	}
	if !out.Entered {
		return nil, nil, out, errors.Errorf("restore did not reach the entry point: %s: %s", out, space.Stderr.String())
	}
	level.Debug(e.logger).Log("msg", "restored", "mappings", len(space.Mappings()), "outcome", out)
	return space, cfg, out, nil
}

// verify restores the image and applies the replay log. Only the effects
// recorded in the log reach memory: store assertions on values the program
// itself computes need a simulator to run the interval first.
func (e *env) verify(p verifyParams) error {
	log, err := afero.ReadFile(e.fs, p.replay)
	if err != nil {
		return err
	}
	space, cfg, out, err := e.restore(p.cfg, p.dump)
	if err != nil {
		return err
	}

	eng := replay.NewEngine(&perf.Manual{})
	eng.Out = e.out
	res, err := eng.Run(space, log)
	if err != nil {
		return err
	}
	if err := replay.Report(e.out, res); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "restored %d regions, entry %#x\n", len(cfg.Regions), out.PC)
	return nil
}

// debug restores the image and steps through the replay log interactively.
func (e *env) debug(p verifyParams, in io.Reader) error {
	log, err := afero.ReadFile(e.fs, p.replay)
	if err != nil {
		return err
	}
	space, cfg, out, err := e.restore(p.cfg, p.dump)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "restored %d regions, entry %#x, replay log of %s\n",
		len(cfg.Regions), out.PC, humanize.IBytes(uint64(len(log))))
	debugger.NewCLI(debugger.NewSession(replay.NewEngine(&perf.Manual{}), space, log), in, e.out).Start()
	return nil
}
