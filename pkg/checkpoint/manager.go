// Package checkpoint cuts a simulated run into checkpoints. The Manager
// watches every fetch and memory access of the simulated hart, and when a
// cut rule fires it writes the register state, the system calls and the
// first-observed content of every page the checkpoint touched.
package checkpoint

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/willibrandon/chronockpt/pkg/image"
	"github.com/willibrandon/chronockpt/pkg/memtrace"
	"github.com/willibrandon/chronockpt/pkg/rvinst"
)

// DefaultRepeatShift is used when Options.RepeatShift is zero.
const DefaultRepeatShift = 18

// ErrClosed is returned by calls after Exit or Close.
var ErrClosed = errors.New("checkpoint: manager closed")

// Hart is the simulated processor the manager reads state from.
type Hart interface {
	IntReg(i int) uint64
	FPReg(i int) uint64
	// InstRet is the number of instructions retired so far.
	InstRet() uint64
	// ReadMem returns the width bytes at addr, little-endian.
	ReadMem(addr uint64, width int) uint64
}

// Options configures a Manager.
type Options struct {
	Fs afero.Fs
	// LogPath is the text log. An empty path disarms the manager.
	LogPath string
	// Period is the number of instructions a checkpoint runs before any
	// cut rule is considered.
	Period uint64
	// RepeatShift scales the elapsed count a repeat cut is judged
	// against.
	RepeatShift uint
	// Monitor delays tracing until the first fetch at this PC. Zero
	// starts at the first fetch.
	Monitor     uint64
	Compression image.CompressionType
	Logger      log.Logger
}

// DefaultOptions returns options writing to path on the OS filesystem.
func DefaultOptions(path string) Options {
	return Options{
		Fs:          afero.NewOsFs(),
		LogPath:     path,
		Period:      1_000_000,
		RepeatShift: DefaultRepeatShift,
		Compression: image.CompressionFor(path),
		Logger:      log.NewNopLogger(),
	}
}

type state int

const (
	idle state = iota
	tracing
	closed
)

// Manager is the per-run checkpoint state machine. It is driven from the
// simulator's retirement loop and is not safe for concurrent use.
type Manager struct {
	opts   Options
	hart   Hart
	logger log.Logger

	file afero.File
	buf  *bufio.Writer
	w    io.Writer

	tracer  *memtrace.Tracer
	state   state
	start   uint64
	pending bool
	wAddr   uint64
	wData   []byte

	checkpoints int
	err         error
}

// New returns a manager for hart. The log is created immediately.
func New(hart Hart, opts Options) (*Manager, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.RepeatShift == 0 {
		opts.RepeatShift = DefaultRepeatShift
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	m := &Manager{
		opts:   opts,
		hart:   hart,
		logger: log.With(opts.Logger, "component", "checkpoint"),
		tracer: memtrace.New(),
	}
	if opts.LogPath == "" {
		m.state = closed
		return m, nil
	}

	f, err := opts.Fs.Create(opts.LogPath)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: create log")
	}
	m.file = f
	m.buf = bufio.NewWriter(f)
	if m.w, err = image.NewCompressedWriter(m.buf, opts.Compression); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "checkpoint: create log")
	}
	level.Debug(m.logger).Log("msg", "log opened", "path", opts.LogPath, "compression", opts.Compression)
	return m, nil
}

// Err returns the first sink error, if any.
func (m *Manager) Err() error { return m.err }

// Checkpoints returns how many checkpoints have been started.
func (m *Manager) Checkpoints() int { return m.checkpoints }

// Tracer exposes the tracer of the current checkpoint.
func (m *Manager) Tracer() *memtrace.Tracer { return m.tracer }

func (m *Manager) fail(err error) error {
	if m.err == nil && err != nil {
		m.err = err
		level.Error(m.logger).Log("msg", "log write failed", "err", err)
	}
	return m.err
}

func (m *Manager) printf(format string, args ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	if _, err := fmt.Fprintf(m.w, format, args...); err != nil {
		return m.fail(errors.Wrap(err, "checkpoint: write log"))
	}
	return nil
}

func (m *Manager) flush() error {
	if m.err != nil {
		return m.err
	}
	return m.fail(errors.Wrap(m.buf.Flush(), "checkpoint: flush log"))
}

func (m *Manager) ready() error {
	if m.err != nil {
		return m.err
	}
	if m.state == closed && m.file != nil {
		return ErrClosed
	}
	return nil
}

func (m *Manager) begin(pc uint64) error {
	m.tracer.Reset()
	m.state = tracing
	m.start = m.hart.InstRet()
	m.checkpoints++

	m.printf("%s %x\n%s %x", image.KeyBegin, pc, image.KeyIReg, pc)
	for i := 1; i < image.NumRegs; i++ {
		m.printf(" %x", m.hart.IntReg(i))
	}
	m.printf("\n%s", image.KeyFReg)
	for i := 0; i < image.NumRegs; i++ {
		m.printf(" %x", m.hart.FPReg(i))
	}
	m.printf("\n")
	level.Debug(m.logger).Log("msg", "checkpoint begins", "n", m.checkpoints, "pc", fmt.Sprintf("%#x", pc), "instret", m.start)
	return m.flush()
}

// Fetch is called before the instruction bits of length 2 or 4 at pc
// execute. It starts tracing, applies the cut rules and opens the log line
// of a system call.
func (m *Manager) Fetch(pc uint64, bits uint32, length int) error {
	if err := m.ready(); err != nil || m.file == nil {
		return err
	}
	if m.pending {
		level.Warn(m.logger).Log("msg", "system call never returned", "pc", fmt.Sprintf("%#x", pc))
		m.pending = false
		m.printf("\n")
	}
	if m.state == idle {
		if m.opts.Monitor != 0 && pc != m.opts.Monitor {
			// system calls are logged while waiting for the monitor PC too
			return m.syscall(pc, bits, length)
		}
		if err := m.begin(pc); err != nil {
			return err
		}
	}

	fresh := m.tracer.Fetch(pc, bits, length)
	elapsed := m.hart.InstRet() - m.start
	if elapsed > m.opts.Period {
		reason, count, rd := m.rule(pc, bits, length, fresh, elapsed)
		if reason != NoCut {
			if err := m.cut(pc, bits, reason, count, rd); err != nil {
				return err
			}
			if err := m.begin(pc); err != nil {
				return err
			}
			m.tracer.Fetch(pc, bits, length)
		}
	}

	return m.syscall(pc, bits, length)
}

// syscall opens the log line of an ecall; SyscallReturn completes it.
func (m *Manager) syscall(pc uint64, bits uint32, length int) error {
	if length != 4 || !rvinst.IsEcall(bits) {
		return nil
	}
	m.pending = true
	return m.printf("%s %x", image.KeySyscall, pc)
}

// rule evaluates the cut rules in priority order.
func (m *Manager) rule(pc uint64, bits uint32, length int, fresh bool, elapsed uint64) (Reason, uint32, uint32) {
	switch {
	case length == 4 && rvinst.IsEcall(bits):
		return Ecall, 0, 0
	case length == 4 && fresh:
		return First, 0, 0
	case length == 2 && fresh && m.tracer.Prefetch(pc+2, 2):
		return FirstRVC, 0, 0
	case length == 4:
		rd := rvinst.Rd(bits)
		if rd == 0 || !rvinst.WritesRd(bits) {
			break
		}
		if count := m.tracer.Retired(pc); uint64(count) < elapsed>>m.opts.RepeatShift {
			return Repeat, count, rd
		}
	}
	return NoCut, 0, 0
}

func (m *Manager) cut(pc uint64, bits uint32, reason Reason, count, rd uint32) error {
	m.printf("%s %x %s", image.KeyBreak, pc, reason)
	if reason == Repeat {
		m.printf(" %d %d", count, rd)
	}
	m.printf("\n")
	level.Debug(m.logger).Log("msg", "cut", "pc", fmt.Sprintf("%#x", pc), "reason", reason,
		"inst", rvinst.Disasm(bits), "elapsed", m.hart.InstRet()-m.start, "pages", m.tracer.Len())
	return m.dump()
}

// dump writes the store values and the page file of the current checkpoint.
func (m *Manager) dump() error {
	for _, s := range m.tracer.LastStores() {
		m.printf("%s %x %d %x\n", image.KeyStore, s.Addr, s.Size, m.hart.ReadMem(s.Addr, s.Size))
	}

	name := fmt.Sprintf("%s.%d.pages", filepath.Base(m.opts.LogPath), m.checkpoints-1)
	pns := m.tracer.Pages()
	m.printf("%s %s\n", image.KeyFile, name)
	for _, pn := range pns {
		m.printf("%s %x\n", image.KeyDump, pn)
	}
	if m.err != nil {
		return m.err
	}

	f, err := m.opts.Fs.Create(filepath.Join(filepath.Dir(m.opts.LogPath), name))
	if err != nil {
		return m.fail(errors.Wrap(err, "checkpoint: create page file"))
	}
	bw := bufio.NewWriter(f)
	var result *multierror.Error
	result = multierror.Append(result, image.WritePages(bw, m.tracer, pns))
	result = multierror.Append(result, bw.Flush())
	result = multierror.Append(result, f.Close())
	if err := result.ErrorOrNil(); err != nil {
		return m.fail(errors.Wrap(err, "checkpoint: write page file"))
	}
	return m.flush()
}

// Load records a data load; v holds the memory content at addr.
func (m *Manager) Load(addr uint64, v memtrace.View) {
	if m.state == tracing {
		m.tracer.Load(addr, v)
	}
}

// Store records a data store; v holds the memory content at addr before
// the store.
func (m *Manager) Store(addr uint64, v memtrace.View) {
	if m.state == tracing {
		m.tracer.Store(addr, v)
	}
}

// SyscallWrite records that the pending system call wrote data at addr.
// old is the memory content the write replaced.
func (m *Manager) SyscallWrite(addr uint64, old, data []byte) {
	if m.state != tracing || !m.pending {
		return
	}
	for i, b := range old {
		m.tracer.Load(addr+uint64(i), memtrace.U8(b))
	}
	m.wAddr = addr
	m.wData = append(m.wData[:0], data...)
}

// SyscallReturn completes the pending system call line with its result.
func (m *Manager) SyscallReturn(ret uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	if !m.pending {
		return nil
	}
	m.pending = false
	m.printf(" %x", ret)
	if len(m.wData) > 0 {
		m.printf(" %x %s", m.wAddr, hex.EncodeToString(m.wData))
		m.wData = m.wData[:0]
	}
	m.printf("\n")
	return m.flush()
}

// Exit ends the run: the pending system call is completed as the exit with
// status code, or a bare exit line is written when none is pending. The last
// checkpoint is then dumped and the log is closed. Calling Exit again has no
// effect.
func (m *Manager) Exit(code uint64) error {
	if m.state == closed {
		return m.err
	}
	switch {
	case m.pending:
		m.pending = false
		m.printf(" %x %s\n", code, image.KeyExit)
	case m.state == tracing:
		m.printf("%x %s\n", code, image.KeyExit)
	}
	if m.state == tracing {
		level.Debug(m.logger).Log("msg", "exit", "code", code, "pages", m.tracer.Len())
		m.dump()
	}
	return m.Close()
}

// Close flushes and closes the log without dumping the current checkpoint.
func (m *Manager) Close() error {
	if m.state == closed {
		return m.err
	}
	m.state = closed
	m.tracer.Reset()

	var result *multierror.Error
	result = multierror.Append(result, m.err)
	result = multierror.Append(result, image.CloseCompressedWriter(m.w))
	result = multierror.Append(result, m.buf.Flush())
	result = multierror.Append(result, m.file.Close())
	if err := result.ErrorOrNil(); err != nil {
		m.err = errors.Wrap(err, "checkpoint: close log")
	}
	return m.err
}
