package jitcache

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/go-cmp/cmp"
)

func openMem(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenFS("cache", vfs.NewMem())
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Failed to close cache: %v", err)
		}
	})
	return c
}

// TestRoundTrip tests storing and reading back a verdict
func TestRoundTrip(t *testing.T) {
	c := openMem(t)
	code := []byte{0x38, 0x60, 0x00, 0x01, 0x4E, 0x80, 0x00, 0x20}
	key := MakeKey(0x02000000, code)

	if _, ok, err := c.Get(key); err != nil || ok {
		t.Fatalf("Get on empty cache: ok=%v err=%v", ok, err)
	}

	want := Entry{Verdict: VerdictUnsupported, Address: 0x02000004, Opcode: 0x44000002, Message: "system call"}
	if err := c.Put(key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(key); ok {
		t.Errorf("verdict survived Delete")
	}
}

// TestKeyDependsOnCode tests that changed code bytes miss the cache
func TestKeyDependsOnCode(t *testing.T) {
	c := openMem(t)
	code := []byte{0x38, 0x60, 0x00, 0x01}
	if err := c.Put(MakeKey(0x100, code), Entry{Verdict: VerdictCompiled}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	patched := append([]byte(nil), code...)
	patched[3] = 0x02
	if _, ok, _ := c.Get(MakeKey(0x100, patched)); ok {
		t.Errorf("patched code hit the cache")
	}
	if _, ok, _ := c.Get(MakeKey(0x104, code)); ok {
		t.Errorf("code at another entry hit the cache")
	}
	n, err := c.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

// TestPersistence tests that verdicts survive reopening the database
func TestPersistence(t *testing.T) {
	fs := vfs.NewMem()
	key := MakeKey(0x200, []byte{1, 2, 3, 4})

	c, err := OpenFS("cache", fs)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	if err := c.Put(key, Entry{Verdict: VerdictCompiled}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c, err = OpenFS("cache", fs)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer c.Close()
	e, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if e.Verdict != VerdictCompiled {
		t.Errorf("Verdict = %v, want %v", e.Verdict, VerdictCompiled)
	}
}
