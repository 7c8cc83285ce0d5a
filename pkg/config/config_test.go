package config

import (
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/chronockpt/pkg/checkpoint"
	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/loader"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint(checkpoint.DefaultRepeatShift), cfg.Checkpoint.RepeatShift)
	assert.Equal(t, Addr(loader.DefaultBase), cfg.Loader.Base)
	assert.Equal(t, image.DefaultPackOptions(), cfg.PackOptions())
}

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
checkpoint:
  log: out/run.log
  period: 5000
  monitor: 0x10078
pack:
  max_ratio: 0.5
loader:
  base: "0x70000000"
`))
	require.NoError(t, err)
	assert.Equal(t, "out/run.log", cfg.Checkpoint.Log)
	assert.Equal(t, uint64(5000), cfg.Checkpoint.Period)
	assert.Equal(t, Addr(0x10078), cfg.Checkpoint.Monitor)
	assert.Equal(t, 0.5, cfg.Pack.MaxRatio)
	assert.Equal(t, Addr(0x70000000), cfg.Loader.Base)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Pack.MaxLength, cfg.Pack.MaxLength)
	assert.Equal(t, Default().Loader.Ceiling, cfg.Loader.Ceiling)

	empty, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)

	_, err = Parse(strings.NewReader("checkpoint:\n  perod: 1\n"))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader("loader:\n  base: sixty\n"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Monitor = 0x10078
	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	back, err := Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestApplyEnvironment(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnvironment(env(map[string]string{
		"CKPT_LOG":          "run.log.zst",
		"CKPT_PERIOD":       "0x100",
		"CKPT_REPEAT_SHIFT": "12",
		"CKPT_MONITOR":      "0x10078",
		"CKPT_LOADER_BASE":  "1879048192",
	})))
	assert.Equal(t, "run.log.zst", cfg.Checkpoint.Log)
	assert.Equal(t, uint64(0x100), cfg.Checkpoint.Period)
	assert.Equal(t, uint(12), cfg.Checkpoint.RepeatShift)
	assert.Equal(t, Addr(0x10078), cfg.Checkpoint.Monitor)
	assert.Equal(t, Addr(0x70000000), cfg.Loader.Base)

	err := cfg.ApplyEnvironment(env(map[string]string{
		"CKPT_PERIOD":  "many",
		"CKPT_MONITOR": "main",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CKPT_PERIOD")
	assert.Contains(t, err.Error(), "CKPT_MONITOR")
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"shift":       func(c *Config) { c.Checkpoint.RepeatShift = 64 },
		"compression": func(c *Config) { c.Checkpoint.Compression = "lz4" },
		"ratio":       func(c *Config) { c.Pack.MaxRatio = 1 },
		"buffer":      func(c *Config) { c.Pack.MaxLength = 4096 },
		"base":        func(c *Config) { c.Loader.Base = c.Loader.Ceiling },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Pack.MaxRatio = 0
	cfg.Pack.MaxLength = 1 << 20
	assert.NoError(t, cfg.Validate(), "verbatim packing ignores the buffer size")
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/ckpt.yaml", []byte("checkpoint:\n  period: 10\n"), 0o644))

	cfg, err := Load(fs, "/etc/ckpt.yaml", env(map[string]string{"CKPT_PERIOD": "20"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cfg.Checkpoint.Period)

	cfg, err = Load(fs, "", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(fs, "/etc/missing.yaml", nil)
	assert.Error(t, err)
	_, err = Load(fs, "/etc/ckpt.yaml", env(map[string]string{"CKPT_COMPRESSION": "lz4"}))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Log = "/out/run.log.zst"
	cfg.Checkpoint.Monitor = 0x10078
	fs := afero.NewMemMapFs()
	logger := log.NewNopLogger()

	opts := cfg.CheckpointOptions(fs, logger)
	assert.Equal(t, image.ZstdCompression, opts.Compression)
	assert.Equal(t, uint64(0x10078), opts.Monitor)
	assert.Equal(t, "/out/run.log.zst", opts.LogPath)

	lo := cfg.LoaderOptions(logger)
	assert.Equal(t, uint64(loader.DefaultBase), lo.Base)
	assert.Equal(t, uint64(loader.DefaultBufSize), lo.BufSize)
}
