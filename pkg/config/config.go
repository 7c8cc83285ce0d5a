// Package config holds the settings shared by the checkpoint tools: how a
// run is cut into checkpoints, how images are packed and where the loader
// places itself. Settings come from defaults, an optional YAML file and
// CKPT_* environment variables, in that order.
package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/chronockpt/pkg/checkpoint"
	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/loader"
)

// Addr is an address that is written in hex but also accepts decimal.
type Addr uint64

func (a Addr) String() string { return fmt.Sprintf("%#x", uint64(a)) }

// MarshalYAML implements yaml.Marshaler.
func (a Addr) MarshalYAML() (interface{}, error) { return a.String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Addr) UnmarshalYAML(value *yaml.Node) error {
	v, err := parseAddr(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*a = v
	return nil
}

// Set parses a command line value.
func (a *Addr) Set(s string) error {
	v, err := parseAddr(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func parseAddr(s string) (Addr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, errors.Errorf("bad address %q", s)
	}
	return Addr(v), nil
}

// Checkpoint configures the checkpoint manager.
type Checkpoint struct {
	Log         string `yaml:"log"`
	Period      uint64 `yaml:"period"`
	RepeatShift uint   `yaml:"repeat_shift"`
	// Monitor delays tracing until the first fetch at this address.
	Monitor     Addr   `yaml:"monitor"`
	Compression string `yaml:"compression"`
}

// Pack configures the compression pass.
type Pack struct {
	MaxRatio  float64 `yaml:"max_ratio"`
	MaxLength int     `yaml:"max_length"`
}

// Loader configures the gap search and the resume frame.
type Loader struct {
	Base      Addr   `yaml:"base"`
	Ceiling   Addr   `yaml:"ceiling"`
	StackSize uint64 `yaml:"stack_size"`
	BufSize   uint64 `yaml:"buf_size"`
}

// Config is the full configuration file.
type Config struct {
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Pack       Pack       `yaml:"pack"`
	Loader     Loader     `yaml:"loader"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := image.DefaultPackOptions()
	l := loader.DefaultOptions()
	return Config{
		Checkpoint: Checkpoint{
			Period:      1_000_000,
			RepeatShift: checkpoint.DefaultRepeatShift,
			Compression: image.NoCompression.String(),
		},
		Pack: Pack{MaxRatio: p.MaxRatio, MaxLength: p.MaxLength},
		Loader: Loader{
			Base:      Addr(l.Base),
			Ceiling:   Addr(l.Ceiling),
			StackSize: l.StackSize,
			BufSize:   l.BufSize,
		},
	}
}

// Parse reads YAML over the defaults. Unknown keys are errors.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "config: parse")
	}
	return cfg, nil
}

// Load reads the file at path on fs. An empty path yields the defaults.
// Environment overrides are applied through getenv, usually os.Getenv.
func Load(fs afero.Fs, path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := fs.Open(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "config: open")
		}
		defer f.Close()
		if cfg, err = Parse(f); err != nil {
			return Config{}, errors.Wrapf(err, "%s", path)
		}
	}
	if getenv != nil {
		if err := cfg.ApplyEnvironment(getenv); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// ApplyEnvironment overrides settings from CKPT_* variables. Every bad
// value is reported.
func (c *Config) ApplyEnvironment(getenv func(string) string) error {
	var result *multierror.Error

	// CKPT_LOG names the checkpoint log
	if v := getenv("CKPT_LOG"); v != "" {
		c.Checkpoint.Log = v
	}

	// CKPT_PERIOD is the instruction count before cuts are considered
	if v := getenv("CKPT_PERIOD"); v != "" {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			result = multierror.Append(result, errors.Errorf("CKPT_PERIOD: bad count %q", v))
		}
		c.Checkpoint.Period = n
	}

	// CKPT_REPEAT_SHIFT scales the repeat rule
	if v := getenv("CKPT_REPEAT_SHIFT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			result = multierror.Append(result, errors.Errorf("CKPT_REPEAT_SHIFT: bad shift %q", v))
		}
		c.Checkpoint.RepeatShift = uint(n)
	}

	// CKPT_MONITOR delays tracing until the given PC
	if v := getenv("CKPT_MONITOR"); v != "" {
		a, err := parseAddr(v)
		if err != nil {
			result = multierror.Append(result, errors.Wrap(err, "CKPT_MONITOR"))
		}
		c.Checkpoint.Monitor = a
	}

	// CKPT_COMPRESSION selects the log compression
	if v := getenv("CKPT_COMPRESSION"); v != "" {
		c.Checkpoint.Compression = v
	}

	// CKPT_LOADER_BASE is where the loader starts looking for a gap
	if v := getenv("CKPT_LOADER_BASE"); v != "" {
		a, err := parseAddr(v)
		if err != nil {
			result = multierror.Append(result, errors.Wrap(err, "CKPT_LOADER_BASE"))
		}
		c.Loader.Base = a
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, "config: environment")
	}
	return nil
}

// Validate checks the settings against each other.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Checkpoint.RepeatShift >= 64 {
		result = multierror.Append(result, errors.Errorf("repeat_shift %d must be below 64", c.Checkpoint.RepeatShift))
	}
	if _, err := image.ParseCompression(c.Checkpoint.Compression); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Pack.MaxRatio < 0 || c.Pack.MaxRatio >= 1 {
		result = multierror.Append(result, errors.Errorf("max_ratio %g out of [0, 1)", c.Pack.MaxRatio))
	}
	if c.Pack.MaxRatio > 0 && uint64(c.Pack.MaxLength) > c.Loader.BufSize {
		result = multierror.Append(result, errors.Errorf("max_length %d exceeds the loader buffer of %d bytes",
			c.Pack.MaxLength, c.Loader.BufSize))
	}
	if c.Loader.Base >= c.Loader.Ceiling {
		result = multierror.Append(result, errors.Errorf("loader base %s is not below the ceiling %s", c.Loader.Base, c.Loader.Ceiling))
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, "config")
	}
	return nil
}

// CheckpointOptions returns manager options writing to fs.
func (c Config) CheckpointOptions(fs afero.Fs, logger log.Logger) checkpoint.Options {
	ct, _ := image.ParseCompression(c.Checkpoint.Compression)
	if ct == image.NoCompression {
		ct = image.CompressionFor(c.Checkpoint.Log)
	}
	return checkpoint.Options{
		Fs:          fs,
		LogPath:     c.Checkpoint.Log,
		Period:      c.Checkpoint.Period,
		RepeatShift: c.Checkpoint.RepeatShift,
		Monitor:     uint64(c.Checkpoint.Monitor),
		Compression: ct,
		Logger:      logger,
	}
}

// PackOptions returns the options of the compression pass.
func (c Config) PackOptions() image.PackOptions {
	return image.PackOptions{MaxRatio: c.Pack.MaxRatio, MaxLength: c.Pack.MaxLength}
}

// LoaderOptions returns the loader options.
func (c Config) LoaderOptions(logger log.Logger) loader.Options {
	return loader.Options{
		Base:      uint64(c.Loader.Base),
		Ceiling:   uint64(c.Loader.Ceiling),
		StackSize: c.Loader.StackSize,
		BufSize:   c.Loader.BufSize,
		Logger:    logger,
	}
}
