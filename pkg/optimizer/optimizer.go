package optimizer

import (
	"github.com/akhildatla/minivm/pkg/vm"
)

// Optimizer applies optimizations to a compiled program.
//
// Every pass rewrites instructions in place. Branch targets are absolute
// instruction indices, and the login override lands on a fixed index, so no
// pass ever inserts, removes or reorders instructions.
type Optimizer struct {
	enableConstantFolding bool
	enableBranchFolding   bool
	enableJumpThreading   bool
}

// Option is a functional option for the Optimizer.
type Option func(*Optimizer)

// WithConstantFolding enables constant folding optimization.
func WithConstantFolding() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
	}
}

// WithBranchFolding enables rewriting of decidable ite instructions.
func WithBranchFolding() Option {
	return func(o *Optimizer) {
		o.enableBranchFolding = true
	}
}

// WithJumpThreading enables retargeting of branches through jump chains.
func WithJumpThreading() Option {
	return func(o *Optimizer) {
		o.enableJumpThreading = true
	}
}

// WithAllOptimizations enables all optimizations.
func WithAllOptimizations() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
		o.enableBranchFolding = true
		o.enableJumpThreading = true
	}
}

// New creates a new Optimizer with the given options.
func New(opts ...Option) *Optimizer {
	opt := &Optimizer{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// Optimize applies enabled optimizations to the program. The input program
// is not modified and the result has the same number of instructions.
func (o *Optimizer) Optimize(program *vm.Program) *vm.Program {
	result := &vm.Program{Code: append([]vm.Instruction(nil), program.Code...)}

	if o.enableConstantFolding {
		result = o.constantFolding(result)
	}

	if o.enableBranchFolding {
		result = o.branchFolding(result)
	}

	if o.enableJumpThreading {
		result = o.jumpThreading(result)
	}

	return result
}
