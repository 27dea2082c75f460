package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/akhildatla/minivm/internal/testutil"
	"github.com/akhildatla/minivm/pkg/fingerprint"
)

func session(t *testing.T, r *REPL, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	r.Start(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	return out.String()
}

func TestREPL_New(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.maxSteps != DefaultMaxSteps {
		t.Errorf("expected default max steps, got %d", r.maxSteps)
	}

	r = New(WithMaxSteps(7))
	if r.maxSteps != 7 {
		t.Errorf("expected 7, got %d", r.maxSteps)
	}
}

func TestREPL_HandleCommand_Help(t *testing.T) {
	r := New()
	var out bytes.Buffer

	for _, cmd := range []string{"help", "h", "?"} {
		out.Reset()
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected help command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "minivm REPL Commands") {
			t.Errorf("expected help text, got: %s", out.String())
		}
	}
}

func TestREPL_Quit(t *testing.T) {
	r := New()
	out := session(t, r, "quit", "puti r0, 1")

	if !strings.Contains(out, "Goodbye") {
		t.Errorf("expected goodbye message, got: %s", out)
	}
	if len(r.source) != 0 {
		t.Error("lines after quit must not be read")
	}
}

func TestREPL_Run(t *testing.T) {
	r := New()
	lines := strings.Split(strings.TrimSpace(testutil.HelloSource()), "\n")
	out := session(t, r, append(lines, "run")...)

	if !strings.Contains(out, "Hi\n") {
		t.Errorf("expected program output, got: %s", out)
	}
	if !strings.Contains(out, "=> halted=true") {
		t.Errorf("expected halt summary, got: %s", out)
	}
}

func TestREPL_RunLimit(t *testing.T) {
	r := New(WithMaxSteps(10))
	out := session(t, r, "loop:", "jump loop", "run")

	if !strings.Contains(out, "instruction limit exceeded") {
		t.Errorf("expected limit error, got: %s", out)
	}
	if !strings.Contains(out, "halted=false") {
		t.Errorf("expected non-halted summary, got: %s", out)
	}
}

func TestREPL_Login(t *testing.T) {
	source := testutil.LoginSource()
	program := testutil.MustCompile(t, source)
	gate := fingerprint.NewGate(fingerprint.WithReference(testutil.ImageDigest(program)))

	r := New(WithGate(gate))
	lines := strings.Split(source, "\n")
	out := session(t, r, append(lines, "input superuser", "run")...)

	if !strings.Contains(out, testutil.Granted) {
		t.Errorf("expected %q, got: %s", testutil.Granted, out)
	}

	// Untrusted gate: the same input is denied.
	r = New()
	out = session(t, r, append(lines, "input superuser", "run")...)
	if !strings.Contains(out, testutil.Denied) {
		t.Errorf("expected %q, got: %s", testutil.Denied, out)
	}
}

func TestREPL_Step(t *testing.T) {
	r := New()
	out := session(t, r, "puti r0, 5", "halt", "step", "step", "regs")

	if !strings.Contains(out, "0000: puti  r0, 5    => executed, pc=1") {
		t.Errorf("expected first step, got: %s", out)
	}
	if !strings.Contains(out, "0001: halt    => halted, pc=2") {
		t.Errorf("expected halt step, got: %s", out)
	}
	if !strings.Contains(out, "r0   = 5 (0x00000005)") {
		t.Errorf("expected r0 in register dump, got: %s", out)
	}
	if r.stepping {
		t.Error("stepping should end at halt")
	}
}

func TestREPL_StepRestartsAfterEdit(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.addLine("puti r0, 1", &out)
	r.addLine("halt", &out)
	r.step(&out)
	if !r.stepping {
		t.Fatal("expected a step session")
	}

	r.addLine("halt", &out)
	if r.stepping || r.machine != nil {
		t.Error("editing the program must end the step session")
	}
}

func TestREPL_StepFault(t *testing.T) {
	r := New()
	out := session(t, r, "puti r0, 1", "step", "step")

	if !strings.Contains(out, "without HALT") {
		t.Errorf("expected missing halt error, got: %s", out)
	}
}

func TestREPL_Mem(t *testing.T) {
	r := New()
	out := session(t, r,
		"puti r0, 10",
		`strz r0, r1, "Hi"`,
		"halt",
		"run",
		"mem 10 4",
	)

	if !strings.Contains(out, "000a: 48 69 00 00  Hi..") {
		t.Errorf("expected memory dump, got: %s", out)
	}
}

func TestREPL_MemErrors(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.dumpMemory([]string{"0"}, &out)
	if !strings.Contains(out.String(), "No machine") {
		t.Errorf("expected no machine message, got: %s", out.String())
	}

	session(t, r, "halt", "run")

	tests := []struct {
		args []string
		want string
	}{
		{nil, "Usage"},
		{[]string{"zz"}, "bad address"},
		{[]string{"0", "zz"}, "bad length"},
		{[]string{"8192"}, "out of range"},
	}
	for _, tt := range tests {
		out.Reset()
		r.dumpMemory(tt.args, &out)
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("args %v: expected %q, got: %s", tt.args, tt.want, out.String())
		}
	}

	out.Reset()
	r.dumpMemory([]string{"8190", "16"}, &out)
	if !strings.HasPrefix(out.String(), "1ffe: 00 00  ") {
		t.Errorf("expected dump clipped at end of memory, got: %q", out.String())
	}
}

func TestREPL_Disasm(t *testing.T) {
	r := New()
	out := session(t, r, "start:", "puti r1, 0x41", "jump start", "disasm")

	if !strings.Contains(out, "0000: puti  r1, 65") {
		t.Errorf("expected puti line, got: %s", out)
	}
	if !strings.Contains(out, "0001: jump  0") {
		t.Errorf("expected jump line, got: %s", out)
	}
}

func TestREPL_InvalidLine(t *testing.T) {
	r := New()
	out := session(t, r, "puti r0,, 1", "list")

	if !strings.Contains(out, "Error:") {
		t.Errorf("expected parse error, got: %s", out)
	}
	if len(r.source) != 0 {
		t.Error("invalid line must not be kept")
	}
}

func TestREPL_ClearAndHistory(t *testing.T) {
	r := New()
	out := session(t, r, "puti r0, 1", "halt", "input abc", "list", "clear", "history")

	if !strings.Contains(out, "  1  puti r0, 1") {
		t.Errorf("expected listing, got: %s", out)
	}
	if !strings.Contains(out, `Queued input "abc"`) {
		t.Errorf("expected queued input, got: %s", out)
	}
	if !strings.Contains(out, "Program cleared") {
		t.Errorf("expected clear message, got: %s", out)
	}
	if !strings.Contains(out, "  2: halt") {
		t.Errorf("expected history, got: %s", out)
	}
	if len(r.source) != 0 || r.input.Len() != 0 {
		t.Error("clear must drop source and input")
	}
}

func TestREPL_RegsWithoutMachine(t *testing.T) {
	r := New()
	var out bytes.Buffer
	r.printRegisters(&out)
	if !strings.Contains(out.String(), "No machine") {
		t.Errorf("expected no machine message, got: %s", out.String())
	}
}

func TestREPL_Reset(t *testing.T) {
	r := New()
	out := session(t, r,
		"puti r0, 10",
		`strz r0, r1, "Hi"`,
		"halt",
		"run",
		"reset",
		"regs",
		"mem 10 4",
		"step",
	)

	if !strings.Contains(out, "Machine reset to pc=0") {
		t.Errorf("expected reset message, got: %s", out)
	}
	if !strings.Contains(out, "All registers are zero") {
		t.Errorf("expected zeroed registers after reset, got: %s", out)
	}
	if !strings.Contains(out, "000a: 00 00 00 00  ....") {
		t.Errorf("expected zeroed memory after reset, got: %s", out)
	}
	if !strings.Contains(out, "0000: puti  r0, 10    => executed, pc=1") {
		t.Errorf("expected stepping to resume at pc=0, got: %s", out)
	}
	if !r.stepping {
		t.Error("reset should leave a live step session")
	}
}

func TestREPL_ResetWithoutMachine(t *testing.T) {
	r := New()
	out := session(t, r, "reset")
	if !strings.Contains(out, "No machine") {
		t.Errorf("expected no machine message, got: %s", out)
	}
}
