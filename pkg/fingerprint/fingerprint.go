// Package fingerprint identifies program images by content digest.
//
// A Gate digests the image file once at load time and compares the result
// with a fixed reference digest. The outcome is an Identity value that the
// VM receives at construction and never recomputes.
//
//	gate := fingerprint.NewGate()
//	id, err := gate.Identify("login.mvb")
//	if err != nil {
//	    // the program must not run with an unknown identity
//	}
//	machine := vm.New(vm.WithIdentity(id))
package fingerprint

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DigestLen is the length of a hex-encoded digest.
const DigestLen = 32

// ReferenceDigest is the digest of the one trusted program image.
const ReferenceDigest = "83d18f9c68d08e38b7e57347cfea52b3"

// ErrDigestFailed wraps every digest computation failure.
var ErrDigestFailed = errors.New("digest computation failed")

// Identity is the fingerprint of a loaded image.
type Identity struct {
	Digest  string
	Trusted bool
}

// Digester computes the hex content digest of a file.
type Digester interface {
	Digest(path string) (string, error)
}

// MD5Digester digests files in-process.
type MD5Digester struct{}

// Digest returns the lowercase hex MD5 of the file contents.
func (MD5Digester) Digest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDigestFailed, err)
	}
	return DigestBytes(data), nil
}

// DigestBytes returns the lowercase hex MD5 of data.
func DigestBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CommandDigester runs an external digest utility such as md5sum with the
// file path appended to Argv and reads the digest from its stdout. A
// positive Timeout kills the command when it runs too long.
type CommandDigester struct {
	Argv    []string
	Timeout time.Duration
}

// Digest runs the command and returns the leading DigestLen hex characters
// of its output. Any shorter run of hex characters is an error.
func (d CommandDigester) Digest(path string) (string, error) {
	argv := d.Argv
	if len(argv) == 0 {
		argv = []string{"md5sum"}
	}

	ctx := context.Background()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, argv[1:]...), path)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	if d.Timeout > 0 {
		cmd.WaitDelay = d.Timeout
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDigestFailed, argv[0], err)
	}

	digest := leadingHex(stdout.Bytes(), DigestLen)
	if len(digest) != DigestLen {
		return "", fmt.Errorf("%w: %s produced %d hex characters", ErrDigestFailed, argv[0], len(digest))
	}
	return digest, nil
}

func leadingHex(b []byte, limit int) string {
	n := 0
	for n < len(b) && n < limit && isHex(b[n]) {
		n++
	}
	return string(b[:n])
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Gate compares image digests with the reference digest.
type Gate struct {
	digester  Digester
	reference string
}

// Option configures a Gate.
type Option func(*Gate)

// WithDigester replaces the in-process MD5 digester.
func WithDigester(d Digester) Option {
	return func(g *Gate) {
		g.digester = d
	}
}

// WithReference replaces the reference digest.
func WithReference(digest string) Option {
	return func(g *Gate) {
		g.reference = digest
	}
}

// NewGate creates a gate using MD5Digester and ReferenceDigest unless
// overridden.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		digester:  MD5Digester{},
		reference: ReferenceDigest,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Identify digests the file at path.
func (g *Gate) Identify(path string) (Identity, error) {
	digest, err := g.digester.Digest(path)
	if err != nil {
		if !errors.Is(err, ErrDigestFailed) {
			err = fmt.Errorf("%w: %v", ErrDigestFailed, err)
		}
		return Identity{}, err
	}
	return g.identity(digest), nil
}

// IdentifyBytes digests an in-memory image with MD5, whatever the
// configured digester.
func (g *Gate) IdentifyBytes(data []byte) Identity {
	return g.identity(DigestBytes(data))
}

func (g *Gate) identity(digest string) Identity {
	return Identity{
		Digest:  digest,
		Trusted: len(digest) == DigestLen && digest == g.reference,
	}
}
