// Package coredump captures the execution context of a stopped VM and
// stores it as CBOR.
package coredump

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/akhildatla/minivm/pkg/vm"
)

// Version is the snapshot format version.
const Version = 1

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("coredump: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Snapshot is the machine state at the moment a run stopped.
type Snapshot struct {
	Version   int      `cbor:"1,keyasint"`
	PC        uint32   `cbor:"2,keyasint"`
	Steps     int64    `cbor:"3,keyasint"`
	Registers []uint32 `cbor:"4,keyasint"`
	Memory    []byte   `cbor:"5,keyasint"`
	Fault     string   `cbor:"6,keyasint,omitempty"`
	Digest    string   `cbor:"7,keyasint,omitempty"`
	Code      []uint32 `cbor:"8,keyasint,omitempty"`
	Time      int64    `cbor:"9,keyasint"` // Unix nanoseconds
}

// Capture snapshots v. runErr is the error that stopped the run, if any.
func Capture(v *vm.VM, program *vm.Program, runErr error) *Snapshot {
	ctx := v.Context()
	s := &Snapshot{
		Version:   Version,
		PC:        ctx.PC,
		Steps:     v.Stats().StepsExecuted,
		Registers: ctx.Regs.Values(),
		Memory:    ctx.Mem.Snapshot(),
		Digest:    ctx.Identity().Digest,
		Time:      time.Now().UnixNano(),
	}
	if runErr != nil {
		s.Fault = runErr.Error()
	}
	if program != nil {
		s.Code = make([]uint32, len(program.Code))
		for i, inst := range program.Code {
			s.Code[i] = uint32(inst)
		}
	}
	return s
}

// Marshal serializes a Snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("coredump: unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("coredump: unsupported version %d", s.Version)
	}
	return &s, nil
}

// Write stores s at path.
func Write(path string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return fmt.Errorf("coredump: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("coredump: %w", err)
	}
	return nil
}

// Read loads a snapshot written by Write.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coredump: %w", err)
	}
	return Unmarshal(data)
}

// Program rebuilds the captured program, or nil if none was stored.
func (s *Snapshot) Program() *vm.Program {
	if len(s.Code) == 0 {
		return nil
	}
	code := make([]vm.Instruction, len(s.Code))
	for i, w := range s.Code {
		code[i] = vm.Instruction(w)
	}
	return &vm.Program{Code: code}
}

// UsedMemory returns the memory up to and including the last non-zero
// byte.
func (s *Snapshot) UsedMemory() []byte {
	end := len(s.Memory)
	for end > 0 && s.Memory[end-1] == 0 {
		end--
	}
	return s.Memory[:end]
}
