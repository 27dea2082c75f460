package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/akhildatla/minivm/pkg/fingerprint"
)

// Outcome is the result of dispatching one instruction.
type Outcome uint8

const (
	OutcomeExecuted      Outcome = iota // Handler ran
	OutcomeHalted                       // halt cleared the running flag
	OutcomeUnimplemented                // No handler for the opcode byte
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeHalted:
		return "halted"
	case OutcomeUnimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// Context is the state a handler operates on. The host owns it for the
// lifetime of a run; handlers only borrow it for one Dispatch call.
type Context struct {
	Regs *RegisterFile
	Mem  *Memory
	PC   uint32

	running  bool
	identity fingerprint.Identity
	latch    Latch

	in  *bufio.Reader
	out io.Writer
}

// NewContext creates a running context. The identity is fixed for the
// lifetime of the context.
func NewContext(identity fingerprint.Identity, in io.Reader, out io.Writer) *Context {
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Context{
		Regs:     NewRegisterFile(),
		Mem:      NewMemory(),
		running:  true,
		identity: identity,
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// Reset zeroes registers and memory and rewinds to a running state at
// instruction 0. The identity and the latch are kept.
func (c *Context) Reset() {
	c.Regs.Reset()
	c.Mem.Reset()
	c.PC = 0
	c.running = true
}

// Running reports whether halt has not executed yet.
func (c *Context) Running() bool {
	return c.running
}

// Identity returns the identity the context was created with.
func (c *Context) Identity() fingerprint.Identity {
	return c.identity
}

// LatchState returns the current login latch state.
func (c *Context) LatchState() LatchState {
	return c.latch.State()
}

// Dispatch executes one instruction against the context.
func (c *Context) Dispatch(inst Instruction) (Outcome, error) {
	switch inst.Opcode() {
	case OpHalt:
		c.running = false
		return OutcomeHalted, nil
	case OpLoad:
		return OutcomeExecuted, c.load(inst)
	case OpStore:
		return OutcomeExecuted, c.store(inst)
	case OpMove:
		c.Regs.Set(inst.A(), c.Regs.Get(inst.B()))
	case OpPutI:
		c.Regs.Set(inst.A(), 0x000000FF&uint32(inst.B()))
	case OpAdd:
		c.Regs.Set(inst.A(), c.Regs.Get(inst.B())+c.Regs.Get(inst.C()))
	case OpSub:
		c.Regs.Set(inst.A(), c.Regs.Get(inst.B())-c.Regs.Get(inst.C()))
	case OpGT:
		c.Regs.Set(inst.A(), boolValue(c.Regs.Get(inst.B()) > c.Regs.Get(inst.C())))
	case OpGE:
		c.Regs.Set(inst.A(), boolValue(c.Regs.Get(inst.B()) >= c.Regs.Get(inst.C())))
	case OpEQ:
		c.Regs.Set(inst.A(), boolValue(c.Regs.Get(inst.B()) == c.Regs.Get(inst.C())))
	case OpITE:
		if c.Regs.Get(inst.A()) > 0 {
			c.PC = uint32(inst.B())
		} else {
			c.PC = uint32(inst.C())
		}
	case OpJump:
		c.PC = uint32(inst.A())
	case OpPuts:
		return OutcomeExecuted, c.puts(inst)
	case OpGets:
		return OutcomeExecuted, c.gets(inst)
	default:
		return OutcomeUnimplemented, nil
	}
	return OutcomeExecuted, nil
}

func (c *Context) load(inst Instruction) error {
	val, err := c.Mem.Read(c.Regs.Get(inst.B()))
	if err != nil {
		return err
	}
	c.Regs.Set(inst.A(), uint32(val))
	return nil
}

func (c *Context) store(inst Instruction) error {
	return c.Mem.Write(c.Regs.Get(inst.A()), byte(c.Regs.Get(inst.B())))
}

func (c *Context) puts(inst Instruction) error {
	emitted, err := c.Mem.CString(c.Regs.Get(inst.A()))
	if len(emitted) > 0 {
		if _, werr := c.out.Write(emitted); werr != nil {
			return fmt.Errorf("writing output: %w", werr)
		}
	}
	if err != nil {
		return err
	}
	c.latch.ObserveOutput(c.identity.Trusted, emitted)
	return nil
}

func (c *Context) gets(inst Instruction) error {
	if f, ok := c.out.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
	}

	start := c.Regs.Get(inst.A())
	pos := start
	var line []byte
	for {
		val, err := c.in.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if val == '\n' {
			break
		}
		if err := c.Mem.Write(pos, val); err != nil {
			return err
		}
		line = append(line, val)
		pos++
	}
	if err := c.Mem.Write(pos, 0); err != nil {
		return err
	}

	if target, ok := c.latch.ObserveInput(c.identity.Trusted, line); ok {
		c.PC = target
	}
	return nil
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
