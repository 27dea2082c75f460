package compiler

import (
	"fmt"
	"strings"

	"github.com/akhildatla/minivm/pkg/vm"
)

// Pseudo-instructions understood in addition to the opcode mnemonics.
const (
	// DirectiveWord emits its operand as a raw instruction word.
	DirectiveWord = ".word"

	// MacroStrz writes a zero-terminated string into memory:
	//
	//	strz rAddr, rTmp, "text"
	//
	// Each byte is stored at reg[rAddr], which is advanced past it. rAddr
	// is left pointing at the terminator; rTmp is clobbered.
	MacroStrz = "strz"
)

// MaxTarget is the largest encodable branch target.
const MaxTarget = 255

// Compile assembles minivm assembly source code to a program.
func Compile(source string) (*vm.Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	compiler := &Compiler{
		code:   []vm.Instruction{},
		labels: make(map[string]int),
	}

	return compiler.compile(asmProgram)
}

// Compiler compiles parsed assembly to bytecode.
type Compiler struct {
	code   []vm.Instruction
	labels map[string]int // label -> instruction index in code
}

func (c *Compiler) compile(program *AsmProgram) (*vm.Program, error) {
	if err := c.layout(program); err != nil {
		return nil, err
	}

	for _, inst := range program.Instructions {
		words, err := c.compileInstruction(inst)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", inst.Line, err)
		}
		c.code = append(c.code, words...)
	}

	if len(c.code) == 0 {
		return nil, fmt.Errorf("program has no instructions")
	}

	return &vm.Program{Code: c.code}, nil
}

// layout assigns every label the index of the first word emitted for the
// statement that follows it.
func (c *Compiler) layout(program *AsmProgram) error {
	offsets := make([]int, len(program.Instructions)+1)
	for i, inst := range program.Instructions {
		n, err := size(inst)
		if err != nil {
			return fmt.Errorf("line %d: %w", inst.Line, err)
		}
		offsets[i+1] = offsets[i] + n
	}

	for name, idx := range program.Labels {
		c.labels[name] = offsets[idx]
	}
	return nil
}

// size returns the number of words a statement expands to.
func size(inst AsmInstruction) (int, error) {
	if strings.EqualFold(inst.Opcode, MacroStrz) {
		if len(inst.Operands) != 3 || inst.Operands[2].Type != OperandString {
			return 0, fmt.Errorf("%s expects rAddr, rTmp, \"text\"", MacroStrz)
		}
		return 4*len(inst.Operands[2].StrVal) + 2, nil
	}
	return 1, nil
}

func (c *Compiler) compileInstruction(inst AsmInstruction) ([]vm.Instruction, error) {
	name := strings.ToLower(inst.Opcode)
	switch name {
	case MacroStrz:
		return c.compileStrz(inst)
	case DirectiveWord:
		return c.compileWord(inst)
	}

	opcode, ok := vm.OpcodeFromString(name)
	if !ok {
		return nil, fmt.Errorf("unknown opcode: %s", inst.Opcode)
	}

	var word vm.Instruction
	var err error

	switch opcode {
	case vm.OpHalt:
		err = expectOperands(inst, 0)
		word = vm.EncodeInstruction(opcode, 0, 0, 0)

	// ===== Memory and register moves =====
	case vm.OpLoad, vm.OpStore, vm.OpMove:
		word, err = c.compileRegReg(opcode, inst)

	case vm.OpPutI:
		word, err = c.compilePutI(inst)

	// ===== Arithmetic and comparison =====
	case vm.OpAdd, vm.OpSub, vm.OpGT, vm.OpGE, vm.OpEQ:
		word, err = c.compileRegRegReg(opcode, inst)

	// ===== Control flow =====
	case vm.OpITE:
		word, err = c.compileITE(inst)

	case vm.OpJump:
		word, err = c.compileJump(inst)

	// ===== I/O =====
	case vm.OpPuts, vm.OpGets:
		word, err = c.compileSingleReg(opcode, inst)

	default:
		return nil, fmt.Errorf("unimplemented opcode: %s", opcode)
	}

	if err != nil {
		return nil, err
	}
	return []vm.Instruction{word}, nil
}

// ===== Compile helpers =====

func expectOperands(inst AsmInstruction, n int) error {
	if len(inst.Operands) != n {
		return fmt.Errorf("%s expects %d operands, got %d", strings.ToLower(inst.Opcode), n, len(inst.Operands))
	}
	return nil
}

func register(inst AsmInstruction, i int) (uint8, error) {
	op := inst.Operands[i]
	if op.Type != OperandReg {
		return 0, fmt.Errorf("operand %d: expected register, got %s", i+1, op.Type)
	}
	return op.RegNum, nil
}

func (c *Compiler) immediate(inst AsmInstruction, i int) (uint8, error) {
	op := inst.Operands[i]
	if op.Type != OperandInt {
		return 0, fmt.Errorf("operand %d: expected immediate, got %s", i+1, op.Type)
	}
	if op.IntVal < 0 || op.IntVal > 255 {
		return 0, fmt.Errorf("operand %d: immediate %d out of range 0-255", i+1, op.IntVal)
	}
	return uint8(op.IntVal), nil
}

// target resolves a branch target given as a label or a literal index.
func (c *Compiler) target(inst AsmInstruction, i int) (uint8, error) {
	op := inst.Operands[i]

	var idx int64
	switch op.Type {
	case OperandLabel:
		resolved, ok := c.labels[op.StrVal]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", op.StrVal)
		}
		idx = int64(resolved)
	case OperandInt:
		idx = op.IntVal
	default:
		return 0, fmt.Errorf("operand %d: expected label or index, got %s", i+1, op.Type)
	}

	if idx < 0 || idx > MaxTarget {
		return 0, fmt.Errorf("branch target %d out of range 0-%d", idx, MaxTarget)
	}
	return uint8(idx), nil
}

// LOAD/STORE/MOVE r[a], r[b]
func (c *Compiler) compileRegReg(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 2); err != nil {
		return 0, err
	}
	a, err := register(inst, 0)
	if err != nil {
		return 0, err
	}
	b, err := register(inst, 1)
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(opcode, a, b, 0), nil
}

// PUTI r[a], imm8
func (c *Compiler) compilePutI(inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 2); err != nil {
		return 0, err
	}
	a, err := register(inst, 0)
	if err != nil {
		return 0, err
	}
	imm, err := c.immediate(inst, 1)
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.OpPutI, a, imm, 0), nil
}

func (c *Compiler) compileRegRegReg(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 3); err != nil {
		return 0, err
	}
	var regs [3]uint8
	for i := range regs {
		r, err := register(inst, i)
		if err != nil {
			return 0, err
		}
		regs[i] = r
	}
	return vm.EncodeInstruction(opcode, regs[0], regs[1], regs[2]), nil
}

// ITE r[cond], then, else
func (c *Compiler) compileITE(inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 3); err != nil {
		return 0, err
	}
	cond, err := register(inst, 0)
	if err != nil {
		return 0, err
	}
	then, err := c.target(inst, 1)
	if err != nil {
		return 0, err
	}
	els, err := c.target(inst, 2)
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.OpITE, cond, then, els), nil
}

func (c *Compiler) compileJump(inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 1); err != nil {
		return 0, err
	}
	t, err := c.target(inst, 0)
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.OpJump, t, 0, 0), nil
}

func (c *Compiler) compileSingleReg(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if err := expectOperands(inst, 1); err != nil {
		return 0, err
	}
	a, err := register(inst, 0)
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(opcode, a, 0, 0), nil
}

// .word 0xAABBCCDD
func (c *Compiler) compileWord(inst AsmInstruction) ([]vm.Instruction, error) {
	if err := expectOperands(inst, 1); err != nil {
		return nil, err
	}
	op := inst.Operands[0]
	if op.Type != OperandInt || op.IntVal < 0 || op.IntVal > 0xFFFFFFFF {
		return nil, fmt.Errorf("%s expects a 32-bit value", DirectiveWord)
	}
	return []vm.Instruction{vm.Instruction(op.IntVal)}, nil
}

// STRZ r[addr], r[tmp], "text"
func (c *Compiler) compileStrz(inst AsmInstruction) ([]vm.Instruction, error) {
	if err := expectOperands(inst, 3); err != nil {
		return nil, err
	}
	addr, err := register(inst, 0)
	if err != nil {
		return nil, err
	}
	tmp, err := register(inst, 1)
	if err != nil {
		return nil, err
	}
	if addr == tmp {
		return nil, fmt.Errorf("%s needs two distinct registers", MacroStrz)
	}

	text := inst.Operands[2].StrVal
	words := make([]vm.Instruction, 0, 4*len(text)+2)
	for i := 0; i < len(text); i++ {
		words = append(words,
			vm.EncodeInstruction(vm.OpPutI, tmp, text[i], 0),
			vm.EncodeInstruction(vm.OpStore, addr, tmp, 0),
			vm.EncodeInstruction(vm.OpPutI, tmp, 1, 0),
			vm.EncodeInstruction(vm.OpAdd, addr, addr, tmp),
		)
	}
	words = append(words,
		vm.EncodeInstruction(vm.OpPutI, tmp, 0, 0),
		vm.EncodeInstruction(vm.OpStore, addr, tmp, 0),
	)
	return words, nil
}
