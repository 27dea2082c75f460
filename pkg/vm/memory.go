package vm

import (
	"errors"
	"fmt"
)

// MemorySize is the capacity of the flat address space in bytes.
const MemorySize = 8192

// ErrAddressOutOfRange is matched by every *AddressFault.
var ErrAddressOutOfRange = errors.New("addr is out of range")

// AddressFault reports a memory access outside [0, MemorySize).
// It is fatal: the VM stops and the host must not resume it.
type AddressFault struct {
	Addr  uint32
	Write bool
}

func (f *AddressFault) Error() string {
	kind := "read"
	if f.Write {
		kind = "write"
	}
	return fmt.Sprintf("%s 0x%x: %v", kind, f.Addr, ErrAddressOutOfRange)
}

func (f *AddressFault) Unwrap() error {
	return ErrAddressOutOfRange
}

// Memory is the bounded, byte-addressable region all memory opcodes use.
// Every accessor checks the address before touching the buffer.
type Memory struct {
	buf [MemorySize]byte
}

// NewMemory returns zeroed memory.
func NewMemory() *Memory {
	return &Memory{}
}

func checkAddr(addr uint32, write bool) error {
	if addr >= MemorySize {
		return &AddressFault{Addr: addr, Write: write}
	}
	return nil
}

// Read returns the byte at addr.
func (m *Memory) Read(addr uint32) (byte, error) {
	if err := checkAddr(addr, false); err != nil {
		return 0, err
	}
	return m.buf[addr], nil
}

// Write stores val at addr.
func (m *Memory) Write(addr uint32, val byte) error {
	if err := checkAddr(addr, true); err != nil {
		return err
	}
	m.buf[addr] = val
	return nil
}

// CString returns the bytes from addr up to, not including, the first zero
// byte. Running off the end of memory is an address fault.
func (m *Memory) CString(addr uint32) ([]byte, error) {
	var out []byte
	for pos := addr; ; pos++ {
		val, err := m.Read(pos)
		if err != nil {
			return out, err
		}
		if val == 0 {
			return out, nil
		}
		out = append(out, val)
	}
}

// Snapshot returns a copy of the whole address space.
func (m *Memory) Snapshot() []byte {
	out := make([]byte, MemorySize)
	copy(out, m.buf[:])
	return out
}

// Reset zeroes memory.
func (m *Memory) Reset() {
	m.buf = [MemorySize]byte{}
}
