package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/willibrandon/chronockpt/pkg/config"
	"github.com/willibrandon/chronockpt/pkg/logging"
	"github.com/willibrandon/chronockpt/pkg/replay"
	"github.com/willibrandon/chronockpt/pkg/version"
)

// exitDiverged is the status of a verify run whose store assertions failed.
const exitDiverged = 2

var cfg struct {
	verbose  bool
	settings string
	build    buildParams
	compress struct {
		cfg, dump string
		ratio     float64
		length    int
	}
	inspect struct {
		cfg, dump string
	}
	verify verifyParams
	debug  verifyParams
}

// env bundles what every subcommand works with.
type env struct {
	fs       afero.Fs
	out      io.Writer
	logger   log.Logger
	settings config.Config
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Tooling for checkpoint logs and images.").UsageWriter(os.Stdout)
	app.Version(version.Print("ckpt"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("config", "YAML settings file.").Short('c').StringVar(&cfg.settings)

	buildCmd := app.Command("build", "Turn a checkpoint log into loader images and replay logs.")
	buildCmd.Arg("log", "Checkpoint log written by the checkpoint manager.").Required().ExistingFileVar(&cfg.build.log)
	buildCmd.Flag("output", "Output prefix. Defaults to the log path.").Short('o').StringVar(&cfg.build.prefix)
	buildCmd.Flag("only", "Build only the checkpoint with this index.").Default("-1").IntVar(&cfg.build.only)

	compressCmd := app.Command("compress", "Store the compressible pages of an image as compressed blocks.")
	compressCmd.Arg("cfg", "Image config.").Required().ExistingFileVar(&cfg.compress.cfg)
	compressCmd.Arg("dump", "Image payload.").Required().ExistingFileVar(&cfg.compress.dump)
	compressCmd.Flag("ratio", "Largest compressed/original ratio stored compressed.").Short('r').Default("-1").Float64Var(&cfg.compress.ratio)
	compressCmd.Flag("length", "Largest stored length of a compressed region.").Short('l').Default("0").IntVar(&cfg.compress.length)

	inspectCmd := app.Command("inspect", "Describe the regions of an image.")
	inspectCmd.Arg("cfg", "Image config.").Required().ExistingFileVar(&cfg.inspect.cfg)
	inspectCmd.Arg("dump", "Image payload.").Required().ExistingFileVar(&cfg.inspect.dump)

	verifyCmd := app.Command("verify", "Restore an image into a simulated address space and run a replay log against it.")
	verifyCmd.Arg("cfg", "Image config.").Required().ExistingFileVar(&cfg.verify.cfg)
	verifyCmd.Arg("dump", "Image payload.").Required().ExistingFileVar(&cfg.verify.dump)
	verifyCmd.Arg("replay", "Replay log.").Required().ExistingFileVar(&cfg.verify.replay)

	debugCmd := app.Command("debug", "Step through a replay log against a restored image.")
	debugCmd.Arg("cfg", "Image config.").Required().ExistingFileVar(&cfg.debug.cfg)
	debugCmd.Arg("dump", "Image payload.").Required().ExistingFileVar(&cfg.debug.dump)
	debugCmd.Arg("replay", "Replay log.").Required().ExistingFileVar(&cfg.debug.replay)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logging.New(os.Stderr, cfg.verbose)
	settings, err := config.Load(afero.NewOsFs(), cfg.settings, os.Getenv)
	if err != nil {
		os.Exit(checkError(err))
	}
	e := &env{fs: afero.NewOsFs(), out: os.Stdout, logger: logger, settings: settings}

	switch parsedCmd {
	case buildCmd.FullCommand():
		os.Exit(checkError(e.build(cfg.build)))
	case compressCmd.FullCommand():
		opts := settings.PackOptions()
		if cfg.compress.ratio >= 0 {
			opts.MaxRatio = cfg.compress.ratio
		}
		if cfg.compress.length > 0 {
			opts.MaxLength = cfg.compress.length
		}
		os.Exit(checkError(e.compress(cfg.compress.cfg, cfg.compress.dump, opts)))
	case inspectCmd.FullCommand():
		os.Exit(checkError(e.inspect(cfg.inspect.cfg, cfg.inspect.dump)))
	case verifyCmd.FullCommand():
		os.Exit(checkError(e.verify(cfg.verify)))
	case debugCmd.FullCommand():
		os.Exit(checkError(e.debug(cfg.debug, os.Stdin)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(1)
	}
}

func checkError(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, replay.ErrTargetDiverged):
		fmt.Fprintf(os.Stderr, "target diverged: %v\n", err)
		return exitDiverged
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}
