package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Program image format:
// - Instructions: []uint32, little-endian, no header
//
// Byte layout of each word is [opcode][a][b][c]. The image is fingerprinted
// byte for byte, so it carries nothing besides the instruction words.

// InstructionSize is the encoded size of one instruction in bytes.
const InstructionSize = 4

var (
	ErrEmptyImage     = errors.New("empty program image")
	ErrTruncatedImage = errors.New("program image is not a whole number of instructions")
)

// EncodeImage serializes a Program to the image format.
func EncodeImage(p *Program) []byte {
	buf := make([]byte, len(p.Code)*InstructionSize)
	for i, inst := range p.Code {
		binary.LittleEndian.PutUint32(buf[i*InstructionSize:], uint32(inst))
	}
	return buf
}

// DecodeImage deserializes an image to a Program.
func DecodeImage(data []byte) (*Program, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data)%InstructionSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedImage, len(data))
	}

	code := make([]Instruction, len(data)/InstructionSize)
	for i := range code {
		code[i] = Instruction(binary.LittleEndian.Uint32(data[i*InstructionSize:]))
	}
	return &Program{Code: code}, nil
}

// Disassemble converts a Program back to assembly source code.
// Branch targets are rendered as numeric instruction indices.
func Disassemble(p *Program) string {
	return DisassembleAnnotated(p, nil)
}

// DisassembleInstruction renders a single instruction at index pc.
func DisassembleInstruction(pc int, inst Instruction) string {
	return fmt.Sprintf("%04d: %s", pc, inst)
}

// DisassembleAnnotated is Disassemble with an optional reachability mask;
// instructions whose entry is false are marked unreachable.
func DisassembleAnnotated(p *Program, reachable []bool) string {
	var buf bytes.Buffer

	buf.WriteString("; Disassembled from minivm bytecode\n")
	buf.WriteString(fmt.Sprintf("; %d instructions\n\n", len(p.Code)))

	for i, inst := range p.Code {
		line := DisassembleInstruction(i, inst)
		if reachable != nil && i < len(reachable) && !reachable[i] {
			line = fmt.Sprintf("%-28s ; unreachable", line)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	return buf.String()
}
