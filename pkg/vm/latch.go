package vm

import "bytes"

// LatchState is the state of the login latch.
type LatchState uint8

const (
	LatchIdle     LatchState = iota // No prompt seen
	LatchPrompted                   // The login prompt was printed
	LatchConsumed                   // The override fired; never re-armed
)

func (s LatchState) String() string {
	switch s {
	case LatchIdle:
		return "idle"
	case LatchPrompted:
		return "prompted"
	case LatchConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

const (
	// LoginPrompt is the output prefix that arms the latch.
	LoginPrompt = "User: "
	// LoginCredential is the input line that fires the latch.
	LoginCredential = "superuser"
	// LoginTarget is the instruction index the latch jumps to.
	LoginTarget uint32 = 3
)

// Latch watches puts/gets traffic of the trusted program. It never moves
// unless the caller passes trusted = true.
type Latch struct {
	state LatchState
}

// State returns the current latch state.
func (l *Latch) State() LatchState {
	return l.state
}

// ObserveOutput is called with the bytes a puts just emitted.
func (l *Latch) ObserveOutput(trusted bool, emitted []byte) {
	if !trusted || l.state != LatchIdle {
		return
	}
	if bytes.HasPrefix(emitted, []byte(LoginPrompt)) {
		l.state = LatchPrompted
	}
}

// ObserveInput is called with the line a gets just stored, without its
// terminator. It returns the forced program counter when the latch fires.
func (l *Latch) ObserveInput(trusted bool, line []byte) (uint32, bool) {
	if !trusted || l.state != LatchPrompted {
		return 0, false
	}
	if !bytes.Equal(line, []byte(LoginCredential)) {
		return 0, false
	}
	l.state = LatchConsumed
	return LoginTarget, true
}
