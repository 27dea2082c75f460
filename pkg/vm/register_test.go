package vm

import "testing"

func TestRegisterFile_GetSet(t *testing.T) {
	rf := NewRegisterFile()

	rf.Set(0, 42)
	rf.Set(255, 0xFFFFFFFF)

	if rf.Get(0) != 42 {
		t.Errorf("expected r0 = 42, got %d", rf.Get(0))
	}
	if rf.Get(255) != 0xFFFFFFFF {
		t.Errorf("expected r255 = 0xFFFFFFFF, got %d", rf.Get(255))
	}
}

func TestRegisterFile_ZeroInitialized(t *testing.T) {
	rf := NewRegisterFile()
	for i := 0; i < NumRegisters; i++ {
		if rf.R[i].Value != 0 || rf.R[i].Type != 0 {
			t.Fatalf("register %d not zeroed: %+v", i, rf.R[i])
		}
	}
}

func TestRegisterFile_Values(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(7, 70)

	vals := rf.Values()
	if len(vals) != NumRegisters {
		t.Fatalf("expected %d values, got %d", NumRegisters, len(vals))
	}
	if vals[7] != 70 {
		t.Errorf("expected vals[7] = 70, got %d", vals[7])
	}

	vals[7] = 0
	if rf.Get(7) != 70 {
		t.Error("Values must return a copy")
	}
}

func TestRegisterFile_Reset(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(1, 100)
	rf.R[2].Type = 3

	rf.Reset()

	if rf.Get(1) != 0 {
		t.Errorf("expected r1 = 0 after reset, got %d", rf.Get(1))
	}
	if rf.R[2].Type != 0 {
		t.Errorf("expected r2 type = 0 after reset, got %d", rf.R[2].Type)
	}
}
