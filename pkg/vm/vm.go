// Package vm implements the minivm virtual machine.
//
// The VM is a register-based bytecode interpreter with:
//   - 256 registers holding unsigned 32-bit values
//   - 8192 bytes of bounded, byte-addressable memory
//   - fourteen opcodes encoded in 32-bit instruction words
//
// Basic usage:
//
//	v := vm.New(vm.WithInput(os.Stdin), vm.WithOutput(os.Stdout))
//	v.Load(program)
//	result, err := v.Run(context.Background())
//
// With resource limits:
//
//	v := vm.New(vm.WithMaxSteps(10000), vm.WithStrictOpcodes(true))
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/akhildatla/minivm/internal/log"
	"github.com/akhildatla/minivm/pkg/fingerprint"
)

// Error definitions
var (
	ErrNoHalt              = errors.New("program ended without HALT")
	ErrNoProgram           = errors.New("no program loaded")
	ErrInstructionLimit    = errors.New("instruction limit exceeded")
	ErrUnimplementedOpcode = errors.New("unimplemented opcode")
	ErrHalted              = errors.New("machine is halted")
)

// Program is a decoded program image.
type Program struct {
	Code []Instruction
}

// StepEvent describes one executed instruction.
type StepEvent struct {
	Step    int64       // 1-based step number
	PC      uint32      // Index of the executed instruction
	Inst    Instruction // The executed instruction
	Outcome Outcome
	NextPC  uint32 // Program counter after the handler ran
}

// Tracer receives every executed instruction.
type Tracer interface {
	OnStep(StepEvent)
}

// ExecutionStats contains metrics about VM execution for observability.
type ExecutionStats struct {
	StepsExecuted   int64          // Total instructions executed
	ExecutionTimeNs int64          // Execution time in nanoseconds
	Unimplemented   int64          // Instructions without a handler
	OpCounts        map[string]int // Count of each opcode executed
}

// Result is the outcome of Run.
type Result struct {
	Halted bool
	Steps  int64
	PC     uint32
}

// VM hosts a Context: it fetches instructions, advances the program counter
// and dispatches.
type VM struct {
	code []Instruction
	ctx  *Context

	identity fingerprint.Identity
	in       io.Reader
	out      io.Writer

	maxSteps  int64
	stepCount int64
	strict    bool
	tracer    Tracer

	stats ExecutionStats
}

// Option configures a VM.
type Option func(*VM)

// WithInput sets the reader gets consumes. Defaults to an empty reader.
func WithInput(r io.Reader) Option {
	return func(vm *VM) {
		vm.in = r
	}
}

// WithOutput sets the writer puts emits to. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		vm.out = w
	}
}

// WithIdentity sets the fingerprint identity of the program that will be
// loaded. It cannot be changed afterwards.
func WithIdentity(id fingerprint.Identity) Option {
	return func(vm *VM) {
		vm.identity = id
	}
}

// WithMaxSteps sets the maximum number of execution steps. Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(vm *VM) {
		vm.maxSteps = n
	}
}

// WithStrictOpcodes makes opcodes without a handler stop the run with
// ErrUnimplementedOpcode instead of being skipped.
func WithStrictOpcodes(strict bool) Option {
	return func(vm *VM) {
		vm.strict = strict
	}
}

// WithTracer registers a tracer that sees every executed instruction.
func WithTracer(t Tracer) Option {
	return func(vm *VM) {
		vm.tracer = t
	}
}

// New creates a new VM instance.
func New(opts ...Option) *VM {
	vm := &VM{}
	for _, o := range opts {
		o(vm)
	}
	vm.ctx = NewContext(vm.identity, vm.in, vm.out)
	vm.stats.OpCounts = make(map[string]int)
	return vm
}

// Load loads a program into the VM and resets the program counter.
// Registers, memory and the login latch keep their state.
func (vm *VM) Load(program *Program) error {
	if program == nil || len(program.Code) == 0 {
		return ErrNoProgram
	}
	vm.code = program.Code
	vm.ctx.PC = 0
	vm.stepCount = 0
	log.Debug(log.VM, "program loaded", "instructions", len(vm.code), "trusted", vm.identity.Trusted)
	return nil
}

// Reset rewinds the machine to the start of the loaded program with zeroed
// registers and memory. The login latch is not re-armed.
func (vm *VM) Reset() {
	vm.ctx.Reset()
	vm.stepCount = 0
}

// Program returns the loaded program.
func (vm *VM) Program() *Program {
	return &Program{Code: vm.code}
}

// Context returns the execution context.
func (vm *VM) Context() *Context {
	return vm.ctx
}

// Stats returns the execution statistics collected so far.
func (vm *VM) Stats() *ExecutionStats {
	return &vm.stats
}

// Step executes the instruction at the program counter.
func (vm *VM) Step() (Outcome, error) {
	if len(vm.code) == 0 {
		return 0, ErrNoProgram
	}
	if !vm.ctx.running {
		return OutcomeHalted, ErrHalted
	}

	pc := vm.ctx.PC
	if pc >= uint32(len(vm.code)) {
		return 0, fmt.Errorf("%w: pc %d past %d instructions", ErrNoHalt, pc, len(vm.code))
	}

	vm.stepCount++
	if vm.maxSteps > 0 && vm.stepCount > vm.maxSteps {
		return 0, ErrInstructionLimit
	}

	inst := vm.code[pc]
	vm.ctx.PC = pc + 1

	outcome, err := vm.ctx.Dispatch(inst)

	vm.stats.StepsExecuted++
	vm.stats.OpCounts[inst.Opcode().String()]++
	if vm.tracer != nil {
		vm.tracer.OnStep(StepEvent{
			Step:    vm.stepCount,
			PC:      pc,
			Inst:    inst,
			Outcome: outcome,
			NextPC:  vm.ctx.PC,
		})
	}

	if err != nil {
		return outcome, fmt.Errorf("pc %d (%s): %w", pc, inst.Opcode(), err)
	}
	if outcome == OutcomeUnimplemented {
		vm.stats.Unimplemented++
		if vm.strict {
			return outcome, fmt.Errorf("%w: 0x%02x at pc %d", ErrUnimplementedOpcode, uint8(inst.Opcode()), pc)
		}
		log.Debug(log.VM, "skipping unimplemented opcode", "opcode", fmt.Sprintf("0x%02x", uint8(inst.Opcode())), "pc", pc)
	}
	return outcome, nil
}

// Run executes until halt, a fault, or cancellation of ctx. Cancellation is
// checked between instructions; a blocked gets is not interrupted.
func (vm *VM) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	defer func() {
		vm.stats.ExecutionTimeNs += time.Since(start).Nanoseconds()
	}()

	for {
		select {
		case <-ctx.Done():
			return vm.result(), ctx.Err()
		default:
		}

		outcome, err := vm.Step()
		if err != nil {
			log.Debug(log.VM, "run stopped", "err", err, "steps", vm.stepCount)
			return vm.result(), err
		}
		if outcome == OutcomeHalted {
			log.Debug(log.VM, "halted", "steps", vm.stepCount)
			return vm.result(), nil
		}
	}
}

func (vm *VM) result() *Result {
	return &Result{
		Halted: !vm.ctx.running,
		Steps:  vm.stepCount,
		PC:     vm.ctx.PC,
	}
}
