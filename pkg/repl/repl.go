// Package repl implements an interactive minivm assembly session.
//
// Lines that are not commands are appended to the program. "run" assembles
// and runs the whole program; "step" executes it one instruction at a time.
package repl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/akhildatla/minivm/internal/log"
	"github.com/akhildatla/minivm/pkg/compiler"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/vm"
)

const (
	promptASM  = "masm> "
	promptStep = "step> "

	// DefaultMaxSteps bounds "run" so a looping program cannot hang the
	// session.
	DefaultMaxSteps = 1000000

	defaultDumpLen = 16
)

// REPL provides an interactive Read-Eval-Print Loop.
type REPL struct {
	source  []string
	history []string
	input   strings.Builder

	gate     *fingerprint.Gate
	maxSteps int64

	// Last machine, kept for regs and mem. stepping is set while it is a
	// live single-step session.
	machine  *vm.VM
	stepping bool
	stepOut  bytes.Buffer

	done bool
}

// Option configures a REPL.
type Option func(*REPL)

// WithGate sets the gate used to fingerprint assembled programs.
func WithGate(g *fingerprint.Gate) Option {
	return func(r *REPL) {
		r.gate = g
	}
}

// WithMaxSteps overrides DefaultMaxSteps. Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(r *REPL) {
		r.maxSteps = n
	}
}

// New creates a new REPL instance.
func New(opts ...Option) *REPL {
	r := &REPL{
		gate:     fingerprint.NewGate(),
		maxSteps: DefaultMaxSteps,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Source returns the accumulated program text.
func (r *REPL) Source() string {
	return strings.Join(r.source, "\n") + "\n"
}

// Start runs the REPL reading lines from in until EOF or quit.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	r.loop(out, func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	})
}

// StartInteractive runs the REPL on the terminal with line editing. History
// is kept in historyFile when it is not empty.
func (r *REPL) StartInteractive(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptASM,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	r.loop(rl.Stdout(), func(prompt string) (string, bool) {
		rl.SetPrompt(prompt)
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					return "", false
				}
				continue
			}
			if err != nil {
				return "", false
			}
			return line, true
		}
	})
	return nil
}

func (r *REPL) loop(out io.Writer, next func(prompt string) (string, bool)) {
	fmt.Fprintln(out, "minivm REPL")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.done {
		prompt := promptASM
		if r.stepping {
			prompt = promptStep
		}

		line, ok := next(prompt)
		if !ok {
			break
		}

		if handled := r.handleCommand(line, out); handled {
			continue
		}
		r.addLine(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)

	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.done = true
		return true

	case "help", "h", "?":
		r.printHelp(out)
		return true

	case "run":
		r.run(out)
		return true

	case "step", "s":
		r.step(out)
		return true

	case "regs":
		r.printRegisters(out)
		return true

	case "mem":
		r.dumpMemory(parts[1:], out)
		return true

	case "disasm":
		r.disassemble(out)
		return true

	case "list":
		for i, l := range r.source {
			fmt.Fprintf(out, "%3d  %s\n", i+1, l)
		}
		return true

	case "input":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "input"))
		r.input.WriteString(text)
		r.input.WriteString("\n")
		fmt.Fprintf(out, "Queued input %q\n", text)
		return true

	case "clear":
		r.source = nil
		r.input.Reset()
		r.resetStep()
		fmt.Fprintln(out, "Program cleared")
		return true

	case "reset":
		if r.machine == nil {
			fmt.Fprintln(out, "No machine; use run or step first")
			return true
		}
		r.machine.Reset()
		r.stepping = true
		r.stepOut.Reset()
		fmt.Fprintln(out, "Machine reset to pc=0")
		return true

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}
		return true
	}

	return false
}

// addLine checks that line parses on its own and appends it. Labels are
// resolved when the whole program is assembled.
func (r *REPL) addLine(line string, out io.Writer) {
	if _, err := compiler.NewParser(line).Parse(); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.history = append(r.history, line)
	r.source = append(r.source, line)
	r.resetStep()
}

func (r *REPL) resetStep() {
	r.machine = nil
	r.stepping = false
	r.stepOut.Reset()
}

func (r *REPL) newMachine(w io.Writer) (*vm.VM, fingerprint.Identity, error) {
	program, err := compiler.Compile(r.Source())
	if err != nil {
		return nil, fingerprint.Identity{}, err
	}

	identity := r.gate.IdentifyBytes(vm.EncodeImage(program))
	machine := vm.New(
		vm.WithIdentity(identity),
		vm.WithInput(strings.NewReader(r.input.String())),
		vm.WithOutput(w),
		vm.WithMaxSteps(r.maxSteps),
	)
	if err := machine.Load(program); err != nil {
		return nil, identity, err
	}
	return machine, identity, nil
}

func (r *REPL) run(out io.Writer) {
	r.resetStep()

	var buf bytes.Buffer
	machine, identity, err := r.newMachine(&buf)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	log.Debug(log.REPL, "run", "digest", identity.Digest, "trusted", identity.Trusted)

	result, err := machine.Run(context.Background())
	if buf.Len() > 0 {
		fmt.Fprintln(out, buf.String())
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	fmt.Fprintf(out, "=> halted=%v steps=%d pc=%d\n", result.Halted, result.Steps, result.PC)

	r.machine = machine
}

func (r *REPL) step(out io.Writer) {
	if !r.stepping || !r.machine.Context().Running() {
		r.resetStep()
		machine, _, err := r.newMachine(&r.stepOut)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		r.machine = machine
		r.stepping = true
	}

	ctx := r.machine.Context()
	pc := ctx.PC
	var inst vm.Instruction
	if code := r.machine.Program().Code; int(pc) < len(code) {
		inst = code[pc]
	}

	outcome, err := r.machine.Step()
	if r.stepOut.Len() > 0 {
		fmt.Fprintf(out, "output: %q\n", r.stepOut.String())
		r.stepOut.Reset()
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		r.stepping = false
		return
	}
	fmt.Fprintf(out, "%s    => %s, pc=%d\n", vm.DisassembleInstruction(int(pc), inst), outcome, ctx.PC)
	if outcome == vm.OutcomeHalted {
		r.stepping = false
	}
}

func (r *REPL) printRegisters(out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No machine; use run or step first")
		return
	}

	nonZero := false
	for i, v := range r.machine.Context().Regs.Values() {
		if v != 0 {
			fmt.Fprintf(out, "  r%-3d = %d (0x%08x)\n", i, v, v)
			nonZero = true
		}
	}
	if !nonZero {
		fmt.Fprintln(out, "All registers are zero")
	}
	fmt.Fprintf(out, "  pc   = %d\n", r.machine.Context().PC)
}

func (r *REPL) dumpMemory(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No machine; use run or step first")
		return
	}
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(out, "Usage: mem <addr> [n]")
		return
	}

	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		fmt.Fprintf(out, "Error: bad address %q\n", args[0])
		return
	}
	n := uint64(defaultDumpLen)
	if len(args) == 2 {
		if n, err = strconv.ParseUint(args[1], 0, 32); err != nil {
			fmt.Fprintf(out, "Error: bad length %q\n", args[1])
			return
		}
	}
	if addr >= vm.MemorySize {
		fmt.Fprintf(out, "Error: address %d out of range\n", addr)
		return
	}
	if addr+n > vm.MemorySize {
		n = vm.MemorySize - addr
	}

	mem := r.machine.Context().Mem.Snapshot()
	for off := uint64(0); off < n; off += 16 {
		end := off + 16
		if end > n {
			end = n
		}
		row := mem[addr+off : addr+end]
		fmt.Fprintf(out, "%04x: % x  %s\n", addr+off, row, printable(row))
	}
}

func printable(b []byte) string {
	s := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			s[i] = c
		} else {
			s[i] = '.'
		}
	}
	return string(s)
}

func (r *REPL) disassemble(out io.Writer) {
	program, err := compiler.Compile(r.Source())
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprint(out, vm.Disassemble(program))
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
minivm REPL Commands:
  help, h, ?      Show this help message
  quit, exit, q   Exit the REPL
  run             Assemble and run the program
  step, s         Execute one instruction
  regs            Show non-zero registers
  mem <addr> [n]  Dump n bytes of memory (default 16)
  disasm          Show the assembled program
  list            Show the program source
  input <text>    Queue a line for gets
  clear           Discard the program and queued input
  reset           Zero registers and memory and rewind to pc=0
  history         Show entered lines

Any other line is appended to the program:
  puti r0, 72
  puti r1, 0
  store r1, r0
  puts r1
  halt
`
	fmt.Fprint(out, help)
}
