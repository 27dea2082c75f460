package optimizer

import (
	"github.com/akhildatla/minivm/pkg/vm"
)

// constantFolding evaluates register arithmetic whose operands are known at
// assembly time. For example:
//
//	puti r0, 5
//	puti r1, 10
//	add  r2, r0, r1
//
// Becomes:
//
//	puti r0, 5
//	puti r1, 10
//	puti r2, 15
//
// Only results that fit the 8-bit puti immediate are folded. Known values
// are forgotten at every instruction that can be entered by a branch.
func (o *Optimizer) constantFolding(program *vm.Program) *vm.Program {
	lead := leaders(program)
	known := make(map[uint8]uint32)

	for pc, inst := range program.Code {
		if lead.IsSet(pc) {
			clear(known)
		}

		op := inst.Opcode()
		a, b, c := inst.A(), inst.B(), inst.C()

		switch op {
		case vm.OpPutI:
			known[a] = uint32(b)

		case vm.OpMove:
			if v, ok := known[b]; ok {
				known[a] = v
				program.Code[pc] = foldTo(inst, a, v)
			} else {
				delete(known, a)
			}

		case vm.OpAdd, vm.OpSub, vm.OpGT, vm.OpGE, vm.OpEQ:
			vb, okb := known[b]
			vc, okc := known[c]
			if okb && okc {
				v := evaluate(op, vb, vc)
				known[a] = v
				program.Code[pc] = foldTo(inst, a, v)
			} else {
				delete(known, a)
			}

		case vm.OpLoad:
			delete(known, a)

		case vm.OpHalt, vm.OpJump, vm.OpITE:
			clear(known)
		}
	}

	return program
}

// foldTo returns puti a, v when v fits the immediate, otherwise inst.
func foldTo(inst vm.Instruction, a uint8, v uint32) vm.Instruction {
	if v > 0xFF {
		return inst
	}
	return vm.EncodeInstruction(vm.OpPutI, a, uint8(v), 0)
}

func evaluate(op vm.Opcode, b, c uint32) uint32 {
	switch op {
	case vm.OpAdd:
		return b + c
	case vm.OpSub:
		return b - c
	case vm.OpGT:
		return boolValue(b > c)
	case vm.OpGE:
		return boolValue(b >= c)
	case vm.OpEQ:
		return boolValue(b == c)
	}
	return 0
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
