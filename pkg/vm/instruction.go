package vm

import "fmt"

// Instruction represents a 32-bit encoded instruction.
//
// Layout (as stored little-endian in a program image):
// ┌─────────┬──────────┬──────────┬──────────┐
// │ opcode  │    a     │    b     │    c     │
// │ byte 0  │  byte 1  │  byte 2  │  byte 3  │
// └─────────┴──────────┴──────────┴──────────┘
//
// a is usually the destination register, b a source register, an 8-bit
// immediate or a branch target, and c a second source register or branch
// target.
type Instruction uint32

// EncodeInstruction creates an instruction from its components.
func EncodeInstruction(opcode Opcode, a, b, c uint8) Instruction {
	return Instruction(uint32(opcode) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24)
}

// Opcode returns the opcode (byte 0).
func (i Instruction) Opcode() Opcode {
	return Opcode(i & 0xFF)
}

// A returns the first operand (byte 1).
func (i Instruction) A() uint8 {
	return uint8((i >> 8) & 0xFF)
}

// B returns the second operand (byte 2).
func (i Instruction) B() uint8 {
	return uint8((i >> 16) & 0xFF)
}

// C returns the third operand (byte 3).
func (i Instruction) C() uint8 {
	return uint8((i >> 24) & 0xFF)
}

// String returns a human-readable representation of the instruction.
func (i Instruction) String() string {
	op := i.Opcode()
	a, b, c := i.A(), i.B(), i.C()

	switch op {
	case OpHalt:
		return op.String()
	case OpLoad, OpStore, OpMove:
		return fmt.Sprintf("%-5s r%d, r%d", op, a, b)
	case OpPutI:
		return fmt.Sprintf("%-5s r%d, %d", op, a, b)
	case OpAdd, OpSub, OpGT, OpGE, OpEQ:
		return fmt.Sprintf("%-5s r%d, r%d, r%d", op, a, b, c)
	case OpITE:
		return fmt.Sprintf("%-5s r%d, %d, %d", op, a, b, c)
	case OpJump:
		return fmt.Sprintf("%-5s %d", op, a)
	case OpPuts, OpGets:
		return fmt.Sprintf("%-5s r%d", op, a)
	default:
		return fmt.Sprintf(".word 0x%08x", uint32(i))
	}
}
