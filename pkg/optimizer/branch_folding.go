package optimizer

import (
	"github.com/akhildatla/minivm/pkg/vm"
)

// branchFolding rewrites ite instructions whose outcome is decided:
//
//	ite r1, 7, 7      ->  jump 7
//	puti r1, 0
//	ite r1, 4, 9      ->  jump 9
//
// The condition is decided only by a puti in the same straight-line block.
func (o *Optimizer) branchFolding(program *vm.Program) *vm.Program {
	lead := leaders(program)
	known := make(map[uint8]uint32)

	for pc, inst := range program.Code {
		if lead.IsSet(pc) {
			clear(known)
		}

		switch inst.Opcode() {
		case vm.OpPutI:
			known[inst.A()] = uint32(inst.B())

		case vm.OpITE:
			if inst.B() == inst.C() {
				program.Code[pc] = vm.EncodeInstruction(vm.OpJump, inst.B(), 0, 0)
			} else if v, ok := known[inst.A()]; ok {
				target := inst.C()
				if v > 0 {
					target = inst.B()
				}
				program.Code[pc] = vm.EncodeInstruction(vm.OpJump, target, 0, 0)
			}
			clear(known)

		case vm.OpHalt, vm.OpJump:
			clear(known)

		default:
			if writesRegister(inst.Opcode()) {
				delete(known, inst.A())
			}
		}
	}

	return program
}

// writesRegister reports whether op stores a result into register A.
func writesRegister(op vm.Opcode) bool {
	switch op {
	case vm.OpLoad, vm.OpMove, vm.OpPutI, vm.OpAdd, vm.OpSub, vm.OpGT, vm.OpGE, vm.OpEQ:
		return true
	}
	return false
}
