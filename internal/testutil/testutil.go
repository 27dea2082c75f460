// Package testutil provides testing utilities for minivm tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akhildatla/minivm/pkg/compiler"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/vm"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// MustCompile assembles source or fails the test.
func MustCompile(t *testing.T, source string) *vm.Program {
	t.Helper()
	program, err := compiler.Compile(source)
	if err != nil {
		t.Fatalf("failed to compile test program: %v", err)
	}
	return program
}

// TempImage writes program as an image file and returns its path.
func TempImage(t *testing.T, program *vm.Program) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mvb")
	if err := os.WriteFile(path, vm.EncodeImage(program), 0644); err != nil {
		t.Fatalf("failed to write temp image: %v", err)
	}
	return path
}

// ImageDigest returns the fingerprint digest of program's image.
func ImageDigest(program *vm.Program) string {
	return fingerprint.DigestBytes(vm.EncodeImage(program))
}

// LoginSource is a program that prompts with "User: ", reads a line and
// denies access. The greeting at index 3 is only reachable through the
// login override.
func LoginSource() string {
	return `; login prompt
    jump main
    halt
    halt
granted:
    puti r0, 200
    strz r0, r1, "Welcome, superuser"
    puti r0, 200
    puts r0
    halt
main:
    puti r0, 0
    strz r0, r1, "User: "
    puti r0, 0
    puts r0
    puti r2, 64
    gets r2
    puti r0, 100
    strz r0, r1, "Access denied"
    puti r0, 100
    puts r0
    halt
`
}

// Granted and Denied are the two possible endings of LoginSource.
const (
	Granted = "User: Welcome, superuser"
	Denied  = "User: Access denied"
)

// HelloSource prints "Hi" and halts.
func HelloSource() string {
	return `    puti r0, 10
    strz r0, r1, "Hi"
    puti r0, 10
    puts r0
    halt
`
}

// AssertUint32Equal checks if two uint32 values are equal.
func AssertUint32Equal(t *testing.T, expected, actual uint32) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}
