package checkpoint

// Reason is the cut rule that ended a checkpoint.
type Reason int

const (
	// NoCut means no rule fired.
	NoCut Reason = iota
	// Ecall cuts at a system call instruction.
	Ecall
	// First cuts at a 4-byte instruction fetched for the first time.
	First
	// FirstRVC cuts at a first-visit compressed instruction whose
	// successor is unobserved too.
	FirstRVC
	// Repeat cuts at a loop instruction that has run fewer times than the
	// elapsed instruction count warrants.
	Repeat
)

// String returns the log keyword of the reason
func (r Reason) String() string {
	switch r {
	case NoCut:
		return "none"
	case Ecall:
		return "ecall"
	case First:
		return "first"
	case FirstRVC:
		return "firstrvc"
	case Repeat:
		return "repeat"
	default:
		return "unknown"
	}
}
