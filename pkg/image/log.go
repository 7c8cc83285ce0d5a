package image

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Keywords of the checkpoint text log.
const (
	KeyBegin   = "begin"
	KeyIReg    = "ireg"
	KeyFReg    = "freg"
	KeySyscall = "syscall"
	KeyBreak   = "break"
	KeyStore   = "store"
	KeyFile    = "file"
	KeyDump    = "dump"
	KeyExit    = "exit"
)

// NumRegs is the size of each register file. Slot 0 of the integer file
// holds the PC, since x0 is hardwired to zero.
const NumRegs = 32

// Syscall is one system call executed inside a checkpoint.
type Syscall struct {
	PC uint64
	// Complete is false when the run stopped before the call returned.
	Complete bool
	Ret      uint64
	// Exit marks the call that ended the program; Ret is its status.
	Exit bool
	// WriteAddr and WriteData describe memory written by the kernel.
	WriteAddr uint64
	WriteData []byte
}

// Break records why a checkpoint ended.
type Break struct {
	PC     uint64
	Reason string
	// Count and Rd are set for repeat breaks.
	Count uint64
	Rd    int
}

// StoreValue is the final content of a recently stored location.
type StoreValue struct {
	Addr  uint64
	Width int
	Value uint64
}

// Checkpoint is one parsed checkpoint of a log.
type Checkpoint struct {
	Begin   uint64
	IntRegs [NumRegs]uint64
	FPRegs  [NumRegs]uint64

	Syscalls []Syscall
	Stores   []StoreValue
	Break    *Break

	// PageFile is the file holding the dumped pages, resolved against the
	// log directory.
	PageFile string
	PageNums []uint64

	// Exit is set by an exit line, standalone or completing a syscall.
	Exit     bool
	ExitCode uint64
}

// Exited reports whether the checkpoint ended with the program's exit.
func (c *Checkpoint) Exited() bool { return c.Exit }

func (c *Checkpoint) String() string {
	end := "open"
	switch {
	case c.Break != nil:
		end = c.Break.Reason
	case c.Exited():
		end = KeyExit
	}
	return fmt.Sprintf("Checkpoint{PC: %#x, Syscalls: %d, Pages: %d, End: %s}",
		c.Begin, len(c.Syscalls), len(c.PageNums), end)
}

// Registers returns the register files as 64 little-endian words, integer
// file first.
func (c *Checkpoint) Registers() []byte {
	out := make([]byte, 0, 2*NumRegs*8)
	for _, r := range c.IntRegs {
		out = binary.LittleEndian.AppendUint64(out, r)
	}
	for _, r := range c.FPRegs {
		out = binary.LittleEndian.AppendUint64(out, r)
	}
	return out
}

// Pages loads the dumped pages of c from fs.
func (c *Checkpoint) Pages(fs afero.Fs) ([]Page, error) {
	if len(c.PageNums) == 0 {
		return nil, nil
	}
	f, err := fs.Open(c.PageFile)
	if err != nil {
		return nil, errors.Wrap(err, "image: open page file")
	}
	defer f.Close()
	return ReadPages(f, c.PageNums)
}

// ParseLog reads every checkpoint of the log at path. Logs ending in
// ZstdSuffix are decompressed.
func ParseLog(fs afero.Fs, path string) ([]*Checkpoint, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "image: open log")
	}
	defer f.Close()

	r, err := NewCompressedReader(f, CompressionFor(path))
	if err != nil {
		return nil, errors.Wrap(err, "image: open log")
	}
	defer CloseCompressedReader(r)
	return parseLog(r, filepath.Dir(path))
}

type logError struct {
	line int
	msg  string
}

func (e *logError) Error() string {
	return fmt.Sprintf("image: log line %d: %s", e.line, e.msg)
}

func parseLog(r io.Reader, dir string) ([]*Checkpoint, error) {
	var (
		out  []*Checkpoint
		cur  *Checkpoint
		line int
	)
	fail := func(format string, args ...interface{}) error {
		return &logError{line: line, msg: fmt.Sprintf(format, args...)}
	}
	hexs := func(tok []string, what string) ([]uint64, error) {
		vals := make([]uint64, len(tok))
		for i, t := range tok {
			v, err := strconv.ParseUint(t, 16, 64)
			if err != nil {
				return nil, fail("bad %s %q", what, t)
			}
			vals[i] = v
		}
		return vals, nil
	}

	sc := bufio.NewScanner(r)
	// wdata of a large read syscall can make very long lines
	sc.Buffer(make([]byte, 64*1024), 64<<20)
	for sc.Scan() {
		line++
		tok := strings.Fields(sc.Text())
		if len(tok) == 0 {
			continue
		}
		if cur == nil {
			switch tok[0] {
			case KeyBegin:
			case KeySyscall:
				// calls made before tracing starts belong to no checkpoint
				continue
			default:
				return nil, fail("%s before %s", tok[0], KeyBegin)
			}
		}

		switch tok[0] {
		case KeyBegin:
			v, err := hexs(tok[1:], "pc")
			if err != nil {
				return nil, err
			}
			if len(v) != 1 {
				return nil, fail("begin takes one address")
			}
			cur = &Checkpoint{Begin: v[0]}
			out = append(out, cur)

		case KeyIReg, KeyFReg:
			v, err := hexs(tok[1:], "register")
			if err != nil {
				return nil, err
			}
			if len(v) != NumRegs {
				return nil, fail("%s has %d values", tok[0], len(v))
			}
			if tok[0] == KeyIReg {
				copy(cur.IntRegs[:], v)
			} else {
				copy(cur.FPRegs[:], v)
			}

		case KeySyscall:
			s, err := parseSyscall(tok[1:], fail, hexs)
			if err != nil {
				return nil, err
			}
			cur.Syscalls = append(cur.Syscalls, s)
			if s.Exit {
				cur.Exit, cur.ExitCode = true, s.Ret
			}

		case KeyBreak:
			if len(tok) < 3 {
				return nil, fail("short break")
			}
			v, err := hexs(tok[1:2], "address")
			if err != nil {
				return nil, err
			}
			b := &Break{PC: v[0], Reason: tok[2]}
			if len(tok) == 5 {
				if b.Count, err = strconv.ParseUint(tok[3], 10, 64); err != nil {
					return nil, fail("bad repeat count %q", tok[3])
				}
				if b.Rd, err = strconv.Atoi(tok[4]); err != nil || b.Rd < 0 || b.Rd >= NumRegs {
					return nil, fail("bad register %q", tok[4])
				}
			}
			cur.Break = b

		case KeyStore:
			if len(tok) != 4 {
				return nil, fail("store takes address, width and value")
			}
			v, err := hexs([]string{tok[1], tok[3]}, "store")
			if err != nil {
				return nil, err
			}
			w, err := strconv.Atoi(tok[2])
			if err != nil || (w != 1 && w != 2 && w != 4 && w != 8) {
				return nil, fail("bad store width %q", tok[2])
			}
			cur.Stores = append(cur.Stores, StoreValue{Addr: v[0], Width: w, Value: v[1]})

		case KeyFile:
			if len(tok) != 2 {
				return nil, fail("file takes one name")
			}
			p := tok[1]
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			cur.PageFile = p

		case KeyDump:
			if cur.PageFile == "" {
				return nil, fail("dump before file")
			}
			v, err := hexs(tok[1:], "page number")
			if err != nil {
				return nil, err
			}
			cur.PageNums = append(cur.PageNums, v...)

		default:
			if len(tok) != 2 || tok[1] != KeyExit {
				return nil, fail("unknown record %q", tok[0])
			}
			// exit with no system call pending
			v, err := hexs(tok[:1], "exit code")
			if err != nil {
				return nil, err
			}
			cur.Exit, cur.ExitCode = true, v[0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "image: read log")
	}
	return out, nil
}

func parseSyscall(tok []string, fail func(string, ...interface{}) error,
	hexs func([]string, string) ([]uint64, error)) (Syscall, error) {
	if len(tok) == 0 {
		return Syscall{}, fail("syscall without address")
	}
	if len(tok) == 3 && tok[2] == KeyExit {
		v, err := hexs(tok[:2], "syscall")
		if err != nil {
			return Syscall{}, err
		}
		return Syscall{PC: v[0], Ret: v[1], Complete: true, Exit: true}, nil
	}
	switch len(tok) {
	case 1, 2, 4:
	default:
		return Syscall{}, fail("syscall has %d fields", len(tok))
	}
	v, err := hexs(tok[:min(len(tok), 3)], "syscall")
	if err != nil {
		return Syscall{}, err
	}
	s := Syscall{PC: v[0]}
	if len(tok) == 1 {
		return s, nil
	}
	s.Complete, s.Ret = true, v[1]
	if len(tok) == 4 {
		s.WriteAddr = v[2]
		if s.WriteData, err = hex.DecodeString(tok[3]); err != nil {
			return Syscall{}, fail("bad syscall data")
		}
	}
	return s, nil
}
