package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// OperandType represents the type of an operand.
type OperandType uint8

const (
	OperandReg OperandType = iota
	OperandInt
	OperandString
	OperandLabel
)

// String returns the string representation of an operand type.
func (t OperandType) String() string {
	switch t {
	case OperandReg:
		return "register"
	case OperandInt:
		return "immediate"
	case OperandString:
		return "string"
	case OperandLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Operand represents an instruction operand.
type Operand struct {
	Type   OperandType
	RegNum uint8  // For registers
	IntVal int64  // For integer and character literals
	StrVal string // For string literals and label references
}

// AsmInstruction represents a parsed assembly instruction.
type AsmInstruction struct {
	Opcode   string
	Operands []Operand
	Line     int
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Instructions []AsmInstruction
	Labels       map[string]int // label -> index into Instructions
}

// Parser parses minivm assembly source code.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens: tokens,
		pos:    0,
		program: &AsmProgram{
			Instructions: []AsmInstruction{},
			Labels:       make(map[string]int),
		},
	}
}

// Parse parses the entire input and returns the program.
func (p *Parser) Parse() (*AsmProgram, error) {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			return p.program, nil

		case TokenNewline:
			p.pos++

		case TokenIdent:
			if p.peek(1).Type == TokenColon {
				if err := p.parseLabel(); err != nil {
					return nil, err
				}
				continue
			}
			inst, err := p.parseInstruction()
			if err != nil {
				return nil, err
			}
			p.program.Instructions = append(p.program.Instructions, inst)

		default:
			return nil, fmt.Errorf("line %d: unexpected %s %q at start of statement", tok.Line, tok.Type, tok.Value)
		}
	}

	return p.program, nil
}

func (p *Parser) peek(offset int) Token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) parseLabel() error {
	tok := p.tokens[p.pos]
	if _, dup := p.program.Labels[tok.Value]; dup {
		return fmt.Errorf("line %d: duplicate label %q", tok.Line, tok.Value)
	}
	p.program.Labels[tok.Value] = len(p.program.Instructions)
	p.pos += 2 // Consume name and colon
	return nil
}

func (p *Parser) parseInstruction() (AsmInstruction, error) {
	inst := AsmInstruction{
		Opcode:   p.tokens[p.pos].Value,
		Line:     p.tokens[p.pos].Line,
		Operands: []Operand{},
	}
	p.pos++ // Consume opcode

	expectOperand := true
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			if expectOperand {
				return inst, fmt.Errorf("line %d: unexpected comma", tok.Line)
			}
			expectOperand = true
			p.pos++
			continue
		}

		if !expectOperand {
			return inst, fmt.Errorf("line %d: missing comma before %q", tok.Line, tok.Value)
		}

		operand, err := p.parseOperand()
		if err != nil {
			return inst, err
		}
		inst.Operands = append(inst.Operands, operand)
		expectOperand = false
	}

	if expectOperand && len(inst.Operands) > 0 {
		return inst, fmt.Errorf("line %d: trailing comma", inst.Line)
	}
	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenReg:
		regNum, err := parseRegisterNumber(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		p.pos++
		return Operand{Type: OperandReg, RegNum: regNum}, nil

	case TokenInt:
		intVal, err := parseInt(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: invalid integer: %s", tok.Line, tok.Value)
		}
		p.pos++
		return Operand{Type: OperandInt, IntVal: intVal}, nil

	case TokenChar:
		s, err := strconv.Unquote(tok.Value)
		if err != nil || len(s) != 1 {
			return Operand{}, fmt.Errorf("line %d: invalid character literal: %s", tok.Line, tok.Value)
		}
		p.pos++
		return Operand{Type: OperandInt, IntVal: int64(s[0])}, nil

	case TokenString:
		s, err := strconv.Unquote(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: invalid string literal: %s", tok.Line, tok.Value)
		}
		p.pos++
		return Operand{Type: OperandString, StrVal: s}, nil

	case TokenIdent:
		p.pos++
		return Operand{Type: OperandLabel, StrVal: tok.Value}, nil

	default:
		return Operand{}, fmt.Errorf("line %d: unexpected token: %s", tok.Line, tok.Value)
	}
}

func parseRegisterNumber(value string) (uint8, error) {
	if len(value) < 2 {
		return 0, fmt.Errorf("invalid register: %s", value)
	}
	num, err := strconv.ParseUint(value[1:], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid register number: %s", value)
	}
	return uint8(num), nil
}

// parseInt accepts decimal and 0x-prefixed hexadecimal. A leading zero does
// not mean octal.
func parseInt(value string) (int64, error) {
	neg := strings.HasPrefix(value, "-")
	digits := strings.TrimPrefix(value, "-")

	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		base = 16
		digits = digits[2:]
	}

	n, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		n = -n
	}
	return n, nil
}
