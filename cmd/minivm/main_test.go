package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhildatla/minivm/internal/config"
	"github.com/akhildatla/minivm/internal/testutil"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/loader"
	"github.com/akhildatla/minivm/pkg/vm"
)

// minivm runs the command tree in-process.
func minivm(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(input), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSource(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

// buildMinivm builds the minivm binary for testing
func buildMinivm(t *testing.T) string {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "minivm")
	cmd := exec.Command("go", "build", "-o", binary, ".")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build minivm: %v\n%s", err, output)
	}
	return binary
}

func TestCLI_ExitCodes(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	binary := buildMinivm(t)
	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.HelloSource()))

	output, err := exec.Command(binary, image).CombinedOutput()
	require.NoError(t, err, string(output))
	assert.Equal(t, "Hi", string(output))

	output, err = exec.Command(binary).CombinedOutput()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(output), "error: usage: minivm <bytecode>")

	output, err = exec.Command(binary, filepath.Join(t.TempDir(), "missing.mvb")).CombinedOutput()
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(output), "error: read image")
}

func TestCLI_Version(t *testing.T) {
	out, err := minivm(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "minivm version dev")
}

func TestCLI_Usage(t *testing.T) {
	_, err := minivm(t, "")
	assert.ErrorIs(t, err, errUsage)
}

func TestCLI_ExecImage(t *testing.T) {
	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.HelloSource()))

	out, err := minivm(t, "", image)
	require.NoError(t, err)
	assert.Equal(t, "Hi", out)

	out, err = minivm(t, "", "exec", image)
	require.NoError(t, err)
	assert.Equal(t, "Hi", out)
}

func TestCLI_StartupFaults(t *testing.T) {
	_, err := minivm(t, "", filepath.Join(t.TempDir(), "missing.mvb"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = minivm(t, "", testutil.TempFile(t, "", ".mvb"))
	assert.ErrorIs(t, err, vm.ErrEmptyImage)

	_, err = minivm(t, "", testutil.TempFile(t, "\x00\x00", ".mvb"))
	assert.ErrorIs(t, err, vm.ErrTruncatedImage)

	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.HelloSource()))
	out, err := minivm(t, "", "--digest-cmd", "false", image)
	assert.ErrorIs(t, err, fingerprint.ErrDigestFailed)
	assert.Empty(t, out, "nothing may run after a digest failure")
}

func TestCLI_ExecReadsImageOnce(t *testing.T) {
	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.HelloSource()))
	img, err := loader.LoadImage(image)
	require.NoError(t, err)
	require.NoError(t, os.Remove(image))

	c := &cli{cfg: config.Default()}
	identity, err := c.identify(img)
	require.NoError(t, err, "in-process digest must not reopen the file")
	assert.Equal(t, fingerprint.DigestBytes(img.Data), identity.Digest)
	assert.False(t, identity.Trusted)

	c.cfg.Fingerprint.Command = []string{"md5sum"}
	_, err = c.identify(img)
	assert.ErrorIs(t, err, fingerprint.ErrDigestFailed, "an external command digests the path")
}

func TestCLI_DigestTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.HelloSource()))

	start := time.Now()
	out, err := minivm(t, "", "--digest-cmd", "sh,-c,exec sleep 5", "--digest-timeout", "50ms", image)
	assert.ErrorIs(t, err, fingerprint.ErrDigestFailed)
	assert.Empty(t, out)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCLI_Login(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	image := testutil.TempImage(t, testutil.MustCompile(t, testutil.LoginSource()))

	// An external digester that always reports the reference digest makes
	// any image trusted.
	trusted := []string{"--digest-cmd", "echo," + fingerprint.ReferenceDigest}

	out, err := minivm(t, "superuser\n", append(trusted, image)...)
	require.NoError(t, err)
	assert.Equal(t, testutil.Granted, out)

	out, err = minivm(t, "guest\n", append(trusted, image)...)
	require.NoError(t, err)
	assert.Equal(t, testutil.Denied, out)

	out, err = minivm(t, "superuser\n", image)
	require.NoError(t, err)
	assert.Equal(t, testutil.Denied, out)
}

func TestCLI_Run(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "hello.masm", testutil.HelloSource())

	out, err := minivm(t, "", "run", src)
	require.NoError(t, err)
	assert.Equal(t, "Hi", out)

	out, err = minivm(t, "", "run", "-O", src)
	require.NoError(t, err)
	assert.Equal(t, "Hi", out)

	bad := writeSource(t, dir, "bad.masm", "bogus r0\n")
	_, err = minivm(t, "", "run", bad)
	assert.ErrorContains(t, err, "unknown opcode")
}

func TestCLI_Limits(t *testing.T) {
	src := writeSource(t, t.TempDir(), "loop.masm", "loop:\n    jump loop\n")

	_, err := minivm(t, "", "--max-steps", "50", "run", src)
	assert.ErrorIs(t, err, vm.ErrInstructionLimit)

	word := writeSource(t, t.TempDir(), "word.masm", "    .word 0xee\n    halt\n")
	_, err = minivm(t, "", "run", word)
	require.NoError(t, err)
	_, err = minivm(t, "", "--strict", "run", word)
	assert.ErrorIs(t, err, vm.ErrUnimplementedOpcode)
}

func TestCLI_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "loop.masm", "loop:\n    jump loop\n")
	cfg := writeSource(t, dir, "minivm.toml", "[vm]\nmax_steps = 20\n")

	_, err := minivm(t, "", "--config", cfg, "run", src)
	assert.ErrorIs(t, err, vm.ErrInstructionLimit)

	_, err = minivm(t, "", "--config", filepath.Join(dir, "missing.toml"), "version")
	assert.ErrorContains(t, err, "cannot read")
}

func TestCLI_CompileDisasm(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "prog.masm", `
    jump 2
    puti r0, 1
    halt
`)

	out, err := minivm(t, "", "compile", src)
	require.NoError(t, err)
	image := filepath.Join(dir, "prog.mvb")
	assert.Equal(t, "Compiled: "+image+"\n", out)

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.Len(t, data, 3*vm.InstructionSize)

	out, err = minivm(t, "", "disasm", image)
	require.NoError(t, err)
	assert.Contains(t, out, "; 3 instructions")
	assert.Contains(t, out, "0000: jump  2\n0001: puti  r0, 1\n0002: halt\n")

	out, err = minivm(t, "", "disasm", "--reachability", image)
	require.NoError(t, err)
	assert.Contains(t, out, "0001: puti  r0, 1            ; unreachable")
	assert.Contains(t, out, "; 1 unreachable\n")

	custom := filepath.Join(dir, "custom.bin")
	out, err = minivm(t, "", "compile", "-v", "-o", custom, src)
	require.NoError(t, err)
	assert.Contains(t, out, "Compiled 3 instructions")
	assert.FileExists(t, custom)
}

func TestCLI_Digest(t *testing.T) {
	program := testutil.MustCompile(t, testutil.HelloSource())
	image := testutil.TempImage(t, program)

	out, err := minivm(t, "", "digest", image)
	require.NoError(t, err)
	assert.Equal(t, testutil.ImageDigest(program)+"  untrusted  "+image+"\n", out)
}

func TestCLI_TraceAndCore(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "fault.masm", `
    puti r0, 0x20
    puti r1, 8
    puti r2, 0xff
    add  r0, r0, r2
    add  r0, r0, r0
    add  r0, r0, r0
    add  r0, r0, r0
    add  r0, r0, r0
    add  r0, r0, r0
    puts r0
    halt
`)
	tracePath := filepath.Join(dir, "run.jsonl")
	corePath := filepath.Join(dir, "core.cbor")

	_, err := minivm(t, "", "--trace", tracePath, "--core", corePath, "run", src)
	var fault *vm.AddressFault
	require.True(t, errors.As(err, &fault), "expected AddressFault, got %v", err)

	out, err := minivm(t, "", "trace", "show", tracePath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, " puti "))
	assert.Equal(t, 6, strings.Count(out, " add "))
	assert.Equal(t, 1, strings.Count(out, " puts "))
	header := strings.ToUpper(out)
	assert.Contains(t, header, "STEP")
	assert.Less(t, strings.Index(header, "STEP"), strings.Index(header, "OPCODE"), "columns must keep export order")
	assert.Less(t, strings.Index(header, "OPCODE"), strings.Index(header, "OUTCOME"), "columns must keep export order")

	out, err = minivm(t, "", "trace", "show", "-n", "2", tracePath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, " puti "))
	assert.NotContains(t, out, " add ")

	parquet := filepath.Join(dir, "run.parquet")
	out, err = minivm(t, "", "trace", "convert", tracePath, parquet)
	require.NoError(t, err)
	assert.Contains(t, out, "Converted 10 rows")

	out, err = minivm(t, "", "core", "--disasm", corePath)
	require.NoError(t, err)
	assert.Contains(t, out, "pc:     10")
	assert.Contains(t, out, "steps:  10")
	assert.Contains(t, out, "fault:")
	assert.Contains(t, out, "0009: puts  r0")
}

func TestCLI_REPL(t *testing.T) {
	out, err := minivm(t, "puti r0, 7\nhalt\nrun\nregs\nquit\n", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "=> halted=true")
	assert.Contains(t, out, "r0   = 7")
}
