package errors

import (
	"fmt"
	"testing"
)

// TestUnsupportedClassification tests that wrapped unsupported errors are still recognized
func TestUnsupportedClassification(t *testing.T) {
	base := Unsupportedf(0x80001000, 0x7C0004AC, "sync")
	wrapped := fmt.Errorf("compile: %w", base)
	annotated := Wrapf(wrapped, "function 0x%08x", 0x80001000)

	if !IsUnsupported(annotated) {
		t.Fatalf("IsUnsupported(%v) = false, want true", annotated)
	}
	if IsInvariant(annotated) {
		t.Errorf("IsInvariant(%v) = true, want false", annotated)
	}
	u, ok := AsUnsupported(annotated)
	if !ok {
		t.Fatalf("AsUnsupported failed")
	}
	if u.Address != 0x80001000 || u.Opcode != 0x7C0004AC {
		t.Errorf("address/opcode = 0x%x/0x%x, want 0x80001000/0x7c0004ac", u.Address, u.Opcode)
	}
}

// TestInvariantMessage tests the invariant error text
func TestInvariantMessage(t *testing.T) {
	err := Invariantf("range %d has no register", 3)
	if got, want := err.Error(), "invariant violated: range 3 has no register"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsInvariant(fmt.Errorf("outer: %w", err)) {
		t.Errorf("IsInvariant = false, want true")
	}

	cause := fmt.Errorf("budget exhausted")
	wrapped := WrapInvariant(cause, "allocation did not converge")
	if !Is(wrapped, cause) {
		t.Errorf("Is(wrapped, cause) = false, want true")
	}
}
