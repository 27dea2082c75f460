package optimizer

import (
	"github.com/akhildatla/minivm/pkg/vm"
)

// Successors returns the instruction indices control can reach directly
// after executing inst at index pc. Indices past the end of the program are
// dropped; running off the end stops the machine.
func Successors(pc int, inst vm.Instruction, n int) []int {
	var next []int
	add := func(i int) {
		if i >= 0 && i < n {
			next = append(next, i)
		}
	}

	switch inst.Opcode() {
	case vm.OpHalt:
	case vm.OpJump:
		add(int(inst.A()))
	case vm.OpITE:
		add(int(inst.B()))
		if inst.C() != inst.B() {
			add(int(inst.C()))
		}
	default:
		// Unknown opcodes are inert and fall through.
		add(pc + 1)
	}
	return next
}

// Reachable marks every instruction reachable from index 0.
func Reachable(program *vm.Program) []bool {
	return ReachableSet(program).Bools()
}

// Unreachable counts the instructions no execution can reach.
func Unreachable(program *vm.Program) int {
	return len(program.Code) - ReachableSet(program).PopCount()
}

// ReachableSet computes the reachable instruction indices.
//
// A gets instruction may also transfer control to vm.LoginTarget, so that
// index becomes a root as soon as any reachable gets exists.
func ReachableSet(program *vm.Program) *Bitmap {
	n := len(program.Code)
	seen := NewBitmap(n)
	if n == 0 {
		return seen
	}

	work := []int{0}
	seen.Set(0)
	loginRoot := false

	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]

		inst := program.Code[pc]
		next := Successors(pc, inst, n)
		if inst.Opcode() == vm.OpGets && !loginRoot && int(vm.LoginTarget) < n {
			loginRoot = true
			next = append(next, int(vm.LoginTarget))
		}

		for _, s := range next {
			if !seen.IsSet(s) {
				seen.Set(s)
				work = append(work, s)
			}
		}
	}

	return seen
}

// leaders marks instructions that can be entered other than by falling
// through from the previous one.
func leaders(program *vm.Program) *Bitmap {
	n := len(program.Code)
	lead := NewBitmap(n)
	if n == 0 {
		return lead
	}
	lead.Set(0)

	for pc, inst := range program.Code {
		switch inst.Opcode() {
		case vm.OpJump, vm.OpITE:
			for _, s := range Successors(pc, inst, n) {
				lead.Set(s)
			}
		case vm.OpGets:
			lead.Set(int(vm.LoginTarget))
		}
	}
	return lead
}
