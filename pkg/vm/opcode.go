package vm

import "strings"

// Opcode represents a VM instruction opcode.
// Opcodes with a handler are multiples of 0x10 in the range 0x00-0xd0.
type Opcode uint8

const (
	// ===== Control =====
	OpHalt Opcode = 0x00 // running = false

	// ===== Memory (0x10-0x20) =====
	OpLoad  Opcode = 0x10 // r[a] = mem[r[b]]
	OpStore Opcode = 0x20 // mem[r[a]] = low byte of r[b]

	// ===== Register Moves (0x30-0x40) =====
	OpMove Opcode = 0x30 // r[a] = r[b]
	OpPutI Opcode = 0x40 // r[a] = imm8(b)

	// ===== Arithmetic (0x50-0x60) =====
	OpAdd Opcode = 0x50 // r[a] = r[b] + r[c] (mod 2^32)
	OpSub Opcode = 0x60 // r[a] = r[b] - r[c] (mod 2^32)

	// ===== Comparison (0x70-0x90) =====
	OpGT Opcode = 0x70 // r[a] = r[b] > r[c]
	OpGE Opcode = 0x80 // r[a] = r[b] >= r[c]
	OpEQ Opcode = 0x90 // r[a] = r[b] == r[c]

	// ===== Control Flow (0xa0-0xb0) =====
	OpITE  Opcode = 0xa0 // pc = r[a] > 0 ? b : c
	OpJump Opcode = 0xb0 // pc = a

	// ===== Console I/O (0xc0-0xd0) =====
	OpPuts Opcode = 0xc0 // write the zero-terminated string at mem[r[a]]
	OpGets Opcode = 0xd0 // read a line into mem[r[a]], zero-terminated
)

// Opcodes lists every opcode that has a handler, in encoding order.
var Opcodes = []Opcode{
	OpHalt, OpLoad, OpStore, OpMove, OpPutI, OpAdd, OpSub,
	OpGT, OpGE, OpEQ, OpITE, OpJump, OpPuts, OpGets,
}

// String returns the assembly mnemonic of an opcode.
func (o Opcode) String() string {
	switch o {
	case OpHalt:
		return "halt"
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpMove:
		return "move"
	case OpPutI:
		return "puti"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpGT:
		return "gt"
	case OpGE:
		return "ge"
	case OpEQ:
		return "eq"
	case OpITE:
		return "ite"
	case OpJump:
		return "jump"
	case OpPuts:
		return "puts"
	case OpGets:
		return "gets"
	default:
		return "unknown"
	}
}

// Valid reports whether the opcode has a handler.
func (o Opcode) Valid() bool {
	return o.String() != "unknown"
}

// OpcodeFromString converts a mnemonic to an opcode. Matching is case-insensitive.
func OpcodeFromString(s string) (Opcode, bool) {
	switch strings.ToLower(s) {
	case "halt":
		return OpHalt, true
	case "load":
		return OpLoad, true
	case "store":
		return OpStore, true
	case "move":
		return OpMove, true
	case "puti":
		return OpPutI, true
	case "add":
		return OpAdd, true
	case "sub":
		return OpSub, true
	case "gt":
		return OpGT, true
	case "ge":
		return OpGE, true
	case "eq":
		return OpEQ, true
	case "ite":
		return OpITE, true
	case "jump":
		return OpJump, true
	case "puts":
		return OpPuts, true
	case "gets":
		return OpGets, true
	default:
		return 0, false
	}
}
