package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/chronockpt/pkg/checkpoint"
	"github.com/willibrandon/chronockpt/pkg/config"
	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/memtrace"
	"github.com/willibrandon/chronockpt/pkg/replay"
)

type hart struct {
	instret uint64
	mem     map[uint64]byte
}

func (h *hart) IntReg(i int) uint64 { return uint64(i) }
func (h *hart) FPReg(i int) uint64  { return 0 }
func (h *hart) InstRet() uint64     { return h.instret }

func (h *hart) ReadMem(addr uint64, width int) uint64 {
	var b [8]byte
	for i := 0; i < width; i++ {
		b[i] = h.mem[addr+uint64(i)]
	}
	return binary.LittleEndian.Uint64(b[:])
}

// record runs a tiny program under a checkpoint manager: a load, an
// optional store, a read system call writing four bytes and the exit.
func record(t *testing.T, fs afero.Fs, store bool) {
	t.Helper()
	h := &hart{mem: map[uint64]byte{0x20008: 4, 0x20009: 3, 0x2000a: 2, 0x2000b: 1}}
	m, err := checkpoint.New(h, checkpoint.Options{Fs: fs, LogPath: "/w/run.log", Period: 1_000_000})
	require.NoError(t, err)

	require.NoError(t, m.Fetch(0x10000, 0x00150513, 4))
	m.Load(0x20000, memtrace.U64(0x1122))
	if store {
		m.Store(0x20008, memtrace.U32(0))
	}
	h.instret++
	require.NoError(t, m.Fetch(0x10004, 0x00000073, 4))
	m.SyscallWrite(0x20100, make([]byte, 4), []byte("abcd"))
	require.NoError(t, m.SyscallReturn(4))
	h.instret++
	require.NoError(t, m.Fetch(0x10008, 0x00000073, 4))
	require.NoError(t, m.Exit(0))
}

func newEnv(fs afero.Fs) (*env, *bytes.Buffer) {
	var out bytes.Buffer
	return &env{fs: fs, out: &out, logger: log.NewNopLogger(), settings: config.Default()}, &out
}

func TestPipeline(t *testing.T) {
	fs := afero.NewMemMapFs()
	record(t, fs, false)
	e, out := newEnv(fs)

	require.NoError(t, e.build(buildParams{log: "/w/run.log", only: -1}))
	assert.Contains(t, out.String(), "/w/run.log.0: Checkpoint{PC: 0x10000, Syscalls: 2, Pages: 2, End: exit}")
	for _, suffix := range []string{suffixCfg, suffixDump, suffixReplay, suffixRegs} {
		ok, err := afero.Exists(fs, "/w/run.log.0"+suffix)
		require.NoError(t, err)
		assert.True(t, ok, suffix)
	}
	regs, err := afero.ReadFile(fs, "/w/run.log.0.regs")
	require.NoError(t, err)
	require.Len(t, regs, 64*8)
	assert.Equal(t, uint64(0x10000), binary.LittleEndian.Uint64(regs))
	assert.Equal(t, uint64(5), binary.LittleEndian.Uint64(regs[5*8:]))

	out.Reset()
	require.NoError(t, e.compress("/w/run.log.0.cfg", "/w/run.log.0.dump", image.DefaultPackOptions()))
	assert.Contains(t, out.String(), "compressed pages: 2/2")

	out.Reset()
	require.NoError(t, e.inspect("/w/run.log.0.c.cfg", "/w/run.log.0.c.dump"))
	assert.Contains(t, out.String(), "0x20000")
	assert.Contains(t, out.String(), "entry: 0x10000 addi")
	assert.Contains(t, out.String(), "mapped: 8.0 KiB")

	for _, name := range []string{"/w/run.log.0", "/w/run.log.0.c"} {
		out.Reset()
		require.NoError(t, e.verify(verifyParams{cfg: name + ".cfg", dump: name + ".dump", replay: "/w/run.log.0.replay"}))
		assert.Equal(t, "syscall 0000000000000004\nfinish\ncycle 0000000000000000\ninstret 0000000000000000\n"+
			"restored 2 regions, entry 0x10000\n", out.String(), name)
	}
}

func TestVerifyDiverges(t *testing.T) {
	fs := afero.NewMemMapFs()
	record(t, fs, true)
	e, _ := newEnv(fs)
	require.NoError(t, e.build(buildParams{log: "/w/run.log", only: 0}))

	// the image holds the content before the store, the log asserts the
	// value after it
	err := e.verify(verifyParams{cfg: "/w/run.log.0.cfg", dump: "/w/run.log.0.dump", replay: "/w/run.log.0.replay"})
	require.ErrorIs(t, err, replay.ErrTargetDiverged)
	var d *replay.DivergedError
	require.ErrorAs(t, err, &d)
	assert.Equal(t, replay.Assertion{Addr: 0x20008, Width: 4, Value: 0x01020304}, d.Assertion)
	assert.Equal(t, uint64(0), d.Got)
	assert.Equal(t, exitDiverged, checkError(err))
}

func TestBuildRejects(t *testing.T) {
	fs := afero.NewMemMapFs()
	record(t, fs, false)
	e, _ := newEnv(fs)
	assert.Error(t, e.build(buildParams{log: "/w/run.log", only: 3}))
	assert.Error(t, e.build(buildParams{log: "/w/missing.log", only: -1}))
	assert.Error(t, e.inspect("/w/run.log", "/w/run.log"))
}

func TestDebug(t *testing.T) {
	fs := afero.NewMemMapFs()
	record(t, fs, false)
	e, out := newEnv(fs)
	require.NoError(t, e.build(buildParams{log: "/w/run.log", only: -1}))

	out.Reset()
	in := strings.NewReader("bp syscall\nc\np 0x20100 4\nq\n")
	require.NoError(t, e.debug(verifyParams{cfg: "/w/run.log.0.cfg", dump: "/w/run.log.0.dump", replay: "/w/run.log.0.replay"}, in))
	assert.Contains(t, out.String(), "restored 2 regions, entry 0x10000")
	assert.Contains(t, out.String(), "HIT: Breakpoint 1 at syscall")
	assert.Contains(t, out.String(), "0000000000020100  61 62 63 64\n")
}
