package vm

// NumRegisters is the size of the register file. Register indices are a
// full operand byte, so every index is in range.
const NumRegisters = 256

// Register is a typed value slot. Type is reserved and always zero.
type Register struct {
	Type  uint8
	Value uint32
}

// RegisterFile holds the VM registers.
type RegisterFile struct {
	R [NumRegisters]Register
}

// NewRegisterFile creates a new register file with all registers zeroed.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// Get returns the value of register i.
func (rf *RegisterFile) Get(i uint8) uint32 {
	return rf.R[i].Value
}

// Set stores v in register i. Truncation is the caller's concern.
func (rf *RegisterFile) Set(i uint8, v uint32) {
	rf.R[i].Value = v
}

// Values returns a copy of every register value, indexed by register number.
func (rf *RegisterFile) Values() []uint32 {
	out := make([]uint32, NumRegisters)
	for i := range rf.R {
		out[i] = rf.R[i].Value
	}
	return out
}

// Reset clears all registers.
func (rf *RegisterFile) Reset() {
	for i := range rf.R {
		rf.R[i] = Register{}
	}
}
