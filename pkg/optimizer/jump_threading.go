package optimizer

import (
	"github.com/akhildatla/minivm/pkg/vm"
)

// jumpThreading retargets branches that land on an unconditional jump to
// the final destination of the jump chain:
//
//	0: jump 5      ->  0: jump 9
//	5: jump 9
//
// Chains that loop back on themselves are left alone.
func (o *Optimizer) jumpThreading(program *vm.Program) *vm.Program {
	code := program.Code

	for pc, inst := range code {
		switch inst.Opcode() {
		case vm.OpJump:
			if t, ok := finalTarget(code, inst.A()); ok {
				code[pc] = vm.EncodeInstruction(vm.OpJump, t, 0, 0)
			}

		case vm.OpITE:
			then, els := inst.B(), inst.C()
			if t, ok := finalTarget(code, then); ok {
				then = t
			}
			if t, ok := finalTarget(code, els); ok {
				els = t
			}
			code[pc] = vm.EncodeInstruction(vm.OpITE, inst.A(), then, els)
		}
	}

	return program
}

// finalTarget follows the jump chain starting at target. ok is false when
// there is nothing to thread or the chain is a cycle.
func finalTarget(code []vm.Instruction, target uint8) (uint8, bool) {
	seen := map[uint8]bool{target: true}
	cur := target

	for int(cur) < len(code) && code[cur].Opcode() == vm.OpJump {
		next := code[cur].A()
		if seen[next] {
			return 0, false
		}
		seen[next] = true
		cur = next
	}

	return cur, cur != target
}
