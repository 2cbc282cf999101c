package guestmem

import (
	"os"
	"path/filepath"
	"testing"
)

// TestImageBigEndian tests word access byte order and bounds
func TestImageBigEndian(t *testing.T) {
	m := NewImage(0x80000000, 16)
	if err := m.Assemble(0x80000004, 0x38600001, 0x4E800020); err != nil {
		t.Fatalf("Failed to assemble: %v", err)
	}
	if m.Data[4] != 0x38 || m.Data[7] != 0x01 {
		t.Errorf("bytes = % x, want big-endian word", m.Data[4:8])
	}
	w, err := m.ReadU32(0x80000008)
	if err != nil {
		t.Fatalf("ReadU32 failed: %v", err)
	}
	if w != 0x4E800020 {
		t.Errorf("ReadU32 = 0x%08x, want 0x4e800020", w)
	}
	if _, err := m.ReadU32(0x8000000E); err == nil {
		t.Errorf("ReadU32 past the end succeeded")
	}
	if _, err := m.ReadU32(0x7FFFFFFC); err == nil {
		t.Errorf("ReadU32 below base succeeded")
	}
}

// TestMapFile tests mapping an image file
func TestMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.bin")
	if err := os.WriteFile(path, []byte{0x4E, 0x80, 0x00, 0x20}, 0o644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	m, err := MapFile(path, 0x01000000)
	if err != nil {
		t.Fatalf("Failed to map image: %v", err)
	}
	defer m.Close()

	w, err := m.ReadU32(0x01000000)
	if err != nil {
		t.Fatalf("ReadU32 failed: %v", err)
	}
	if w != 0x4E800020 {
		t.Errorf("ReadU32 = 0x%08x, want 0x4e800020", w)
	}
	b, err := m.Slice(0x01000000, 4)
	if err != nil || len(b) != 4 {
		t.Errorf("Slice = %v, %v", b, err)
	}
}
