package memspace

import "fmt"

type exitSignal struct{ code int }

type enterSignal struct{ pc, sp uint64 }

// Outcome is how a non-returning call on a Space ended.
type Outcome struct {
	Exited bool
	Code   int

	Entered bool
	PC, SP  uint64
}

func (o Outcome) String() string {
	switch {
	case o.Exited:
		return fmt.Sprintf("exit %d", o.Code)
	case o.Entered:
		return fmt.Sprintf("enter pc=%#x sp=%#x", o.PC, o.SP)
	}
	return "returned"
}

// Run calls f and catches the Exit or Enter that ends it. Other panics are
// propagated.
func (s *Space) Run(f func()) (o Outcome) {
	defer func() {
		switch sig := recover().(type) {
		case nil:
		case *exitSignal:
			o = Outcome{Exited: true, Code: sig.code}
		case *enterSignal:
			o = Outcome{Entered: true, PC: sig.pc, SP: sig.sp}
		default:
			panic(sig)
		}
	}()
	f()
	return Outcome{}
}
