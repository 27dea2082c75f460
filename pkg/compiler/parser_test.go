package compiler

import (
	"strings"
	"testing"
)

func TestParser_SimpleInstruction(t *testing.T) {
	program, err := NewParser(`puti r3, 0x55`).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(program.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(program.Instructions))
	}

	inst := program.Instructions[0]
	if inst.Opcode != "puti" {
		t.Errorf("expected opcode puti, got %s", inst.Opcode)
	}
	if len(inst.Operands) != 2 {
		t.Fatalf("expected 2 operands, got %d", len(inst.Operands))
	}
	if inst.Operands[0].Type != OperandReg || inst.Operands[0].RegNum != 3 {
		t.Errorf("expected register r3, got %+v", inst.Operands[0])
	}
	if inst.Operands[1].Type != OperandInt || inst.Operands[1].IntVal != 0x55 {
		t.Errorf("expected immediate 0x55, got %+v", inst.Operands[1])
	}
}

func TestParser_MultipleInstructions(t *testing.T) {
	input := `puti r0, 1
add r1, r1, r0
halt`

	program, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	opcodes := []string{"puti", "add", "halt"}
	if len(program.Instructions) != len(opcodes) {
		t.Fatalf("expected %d instructions, got %d", len(opcodes), len(program.Instructions))
	}
	for i, inst := range program.Instructions {
		if inst.Opcode != opcodes[i] {
			t.Errorf("instruction %d: expected %s, got %s", i, opcodes[i], inst.Opcode)
		}
		if inst.Line != i+1 {
			t.Errorf("instruction %d: expected line %d, got %d", i, i+1, inst.Line)
		}
	}
}

func TestParser_Labels(t *testing.T) {
	input := `start:
    puti r0, 1
loop: sub r1, r1, r0
    ite r1, loop, end
end:
    halt`

	program, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string]int{"start": 0, "loop": 1, "end": 3}
	for name, idx := range want {
		if program.Labels[name] != idx {
			t.Errorf("label %s: expected %d, got %d", name, idx, program.Labels[name])
		}
	}

	ite := program.Instructions[2]
	if ite.Operands[1].Type != OperandLabel || ite.Operands[1].StrVal != "loop" {
		t.Errorf("expected label operand, got %+v", ite.Operands[1])
	}
}

func TestParser_CharAndStringLiterals(t *testing.T) {
	program, err := NewParser(`puti r0, 'U'
strz r1, r2, "a\tb\n"`).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := program.Instructions[0].Operands[1].IntVal; got != 'U' {
		t.Errorf("expected 'U' (85), got %d", got)
	}
	if got := program.Instructions[1].Operands[2].StrVal; got != "a\tb\n" {
		t.Errorf("expected unescaped string, got %q", got)
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"duplicate label", "a:\na:\nhalt", "duplicate label"},
		{"register out of range", "puts r256", "invalid register number"},
		{"bad integer", "puti r0, 0xZZ", "invalid integer"},
		{"bad char", "puti r0, 'ab'", "invalid character literal"},
		{"missing comma", "move r0 r1", "missing comma"},
		{"double comma", "move r0,, r1", "unexpected comma"},
		{"trailing comma", "move r0, r1,", "trailing comma"},
		{"stray token", "42", "unexpected INT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(tt.input).Parse()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"010", 10},
		{"0x10", 16},
		{"0XfF", 255},
		{"-3", -3},
	}
	for _, tt := range tests {
		got, err := parseInt(tt.in)
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.in, tt.want, got)
		}
	}
}
