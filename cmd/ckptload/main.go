// Command ckptload restores a checkpoint image into its own address space
// and jumps to the entry PC. It never returns to the shell with status 0:
// either the restored program exits, or the loader reports why it could
// not hand off control.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/willibrandon/chronockpt/pkg/config"
	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/loader"
	"github.com/willibrandon/chronockpt/pkg/logging"
	"github.com/willibrandon/chronockpt/pkg/rawsys"
	"github.com/willibrandon/chronockpt/pkg/version"
)

var cfg struct {
	cfgPath  string
	dumpPath string
	settings string
	verbose  bool
	base     config.Addr
	stack    uint64
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Restore a checkpoint image and resume it.").UsageWriter(os.Stdout)
	app.Version(version.Print("ckptload"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("config", "YAML settings file.").Short('c').StringVar(&cfg.settings)
	app.Flag("base", "Lowest address considered for the loader frame.").SetValue(&cfg.base)
	app.Flag("stack", "Stack size of the resume code in bytes.").Default("0").Uint64Var(&cfg.stack)
	app.Arg("cfg", "Image config.").Required().ExistingFileVar(&cfg.cfgPath)
	app.Arg("dump", "Image payload.").Required().ExistingFileVar(&cfg.dumpPath)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Load only returns on failure.
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(1)
}

func run() error {
	logger := logging.New(os.Stderr, cfg.verbose)
	settings, err := config.Load(afero.NewOsFs(), cfg.settings, os.Getenv)
	if err != nil {
		return err
	}
	if cfg.base != 0 {
		settings.Loader.Base = cfg.base
	}
	if cfg.stack != 0 {
		settings.Loader.StackSize = cfg.stack
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	f, err := os.Open(cfg.cfgPath)
	if err != nil {
		return err
	}
	img, err := image.ParseConfig(f)
	f.Close()
	if err != nil {
		return errors.Wrap(err, cfg.cfgPath)
	}

	m, err := rawsys.NewHost()
	if err != nil {
		return err
	}
	fd, err := unix.Open(cfg.dumpPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", cfg.dumpPath)
	}

	// The restored program owns this thread from the hand-off on. The
	// collector must not move or scan anything after the frame is mapped.
	runtime.LockOSThread()
	debug.SetGCPercent(-1)

	opts := settings.LoaderOptions(logger)
	if opts.Occupied, err = loader.Occupied(procfs.DefaultMountPoint); err != nil {
		unix.Close(fd)
		return err
	}
	level.Debug(logger).Log("msg", "loading", "regions", len(img.Regions), "occupied", len(opts.Occupied),
		"base", settings.Loader.Base)
	if err := loader.Load(m, img, fd, opts); err != nil {
		unix.Close(fd)
		return err
	}
	return nil
}
