// Package embed provides the Go embedding API for minivm.
//
// minivm is embeddable in Go applications. Pass assembly source, get the
// program output back.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    puti  r0, 10
//	    strz  r0, r1, "Hi"
//	    puti  r0, 10
//	    puts  r0
//	    halt
//	`)
//	fmt.Print(result.Output)
//
// With input, limits and a custom reference digest:
//
//	result, err := embed.Execute(source,
//	    embed.WithInput(strings.NewReader("superuser\n")),
//	    embed.WithMaxInstructions(10000),
//	    embed.WithTimeout(time.Second),
//	    embed.WithGate(fingerprint.NewGate(fingerprint.WithReference(digest))),
//	)
package embed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/akhildatla/minivm/pkg/compiler"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/optimizer"
	"github.com/akhildatla/minivm/pkg/vm"
)

// Common errors
var (
	ErrTimeout          = errors.New("execution timeout exceeded")
	ErrInstructionLimit = errors.New("instruction limit exceeded")
)

// Result is what a finished run produced.
type Result struct {
	Output    string // Everything the program wrote with puts
	Halted    bool
	Steps     int64
	PC        uint32
	Registers []uint32
	Identity  fingerprint.Identity
}

// Options configures execution behavior.
type Options struct {
	// Input feeds gets. Nil means end of input.
	Input io.Reader

	// Output additionally receives program output as it is written.
	Output io.Writer

	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxInstructions limits the number of instructions executed.
	// Zero means unlimited.
	MaxInstructions int64

	// Strict turns unimplemented opcodes into errors.
	Strict bool

	// Optimize runs the index-preserving optimizer before execution.
	// The image is fingerprinted before optimization.
	Optimize bool

	// Gate fingerprints the assembled image. Nil uses fingerprint.NewGate().
	Gate *fingerprint.Gate

	// Tracer receives every executed instruction.
	Tracer vm.Tracer

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithInput sets the reader gets consumes.
func WithInput(r io.Reader) Option {
	return func(o *Options) {
		o.Input = r
	}
}

// WithInputString is WithInput over a string.
func WithInputString(s string) Option {
	return WithInput(strings.NewReader(s))
}

// WithOutput mirrors program output to w.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxInstructions sets instruction limit.
func WithMaxInstructions(n int64) Option {
	return func(o *Options) {
		o.MaxInstructions = n
	}
}

// WithStrict enables strict opcode checking.
func WithStrict() Option {
	return func(o *Options) {
		o.Strict = true
	}
}

// WithOptimize enables the optimizer.
func WithOptimize() Option {
	return func(o *Options) {
		o.Optimize = true
	}
}

// WithGate sets the fingerprint gate.
func WithGate(g *fingerprint.Gate) Option {
	return func(o *Options) {
		o.Gate = g
	}
}

// WithTracer sets the step tracer.
func WithTracer(t vm.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// Execute assembles source and runs it.
func Execute(source string, opts ...Option) (*Result, error) {
	program, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteFile reads a .masm file and executes it.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Execute(string(data), opts...)
}

// ExecuteImage decodes a bytecode image and executes it.
func ExecuteImage(image []byte, opts ...Option) (*Result, error) {
	program, err := vm.DecodeImage(image)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteProgram fingerprints and runs an already decoded program. A
// partial Result is returned alongside run errors.
func ExecuteProgram(program *vm.Program, opts ...Option) (*Result, error) {
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}

	gate := options.Gate
	if gate == nil {
		gate = fingerprint.NewGate()
	}
	identity := gate.IdentifyBytes(vm.EncodeImage(program))

	if options.Optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}

	var out bytes.Buffer
	var w io.Writer = &out
	if options.Output != nil {
		w = io.MultiWriter(&out, options.Output)
	}

	vmOpts := []vm.Option{
		vm.WithIdentity(identity),
		vm.WithOutput(w),
		vm.WithMaxSteps(options.MaxInstructions),
		vm.WithStrictOpcodes(options.Strict),
	}
	if options.Input != nil {
		vmOpts = append(vmOpts, vm.WithInput(options.Input))
	}
	if options.Tracer != nil {
		vmOpts = append(vmOpts, vm.WithTracer(options.Tracer))
	}

	machine := vm.New(vmOpts...)
	if err := machine.Load(program); err != nil {
		return nil, err
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	run, err := machine.Run(ctx)
	result := &Result{
		Output:    out.String(),
		Halted:    run.Halted,
		Steps:     run.Steps,
		PC:        run.PC,
		Registers: machine.Context().Regs.Values(),
		Identity:  identity,
	}
	if err != nil {
		// Map VM errors to embed package errors
		switch {
		case errors.Is(err, vm.ErrInstructionLimit):
			return result, ErrInstructionLimit
		case errors.Is(err, context.DeadlineExceeded):
			return result, ErrTimeout
		}
		return result, err
	}

	return result, nil
}
