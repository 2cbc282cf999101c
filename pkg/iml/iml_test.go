package iml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestSegmentPointsFollowInsertion tests that registered points shift with inserted instructions
func TestSegmentPointsFollowInsertion(t *testing.T) {
	f := NewFunction(0x1000, 16)
	s := f.AppendSegment()
	s.Append(MakeNoOp(), MakeNoOp(), MakeNoOp())

	before := &Point{Index: 0}
	at := &Point{Index: 1}
	after := &Point{Index: 2}
	start := &Point{Index: InterRangeStart}
	end := &Point{Index: InterRangeEnd}
	for _, p := range []*Point{before, at, after, start, end} {
		s.RegisterPoint(p)
	}

	s.InsertInstruction(1, MakeRName(0, GPR(3)))

	got := []int{before.Index, at.Index, after.Index, start.Index, end.Index}
	want := []int{0, 2, 3, InterRangeStart, InterRangeEnd}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("point indices mismatch (-want +got):\n%s", diff)
	}
	if s.Instructions[1].Type != TypeRName {
		t.Errorf("Instructions[1].Type = %d, want TypeRName", s.Instructions[1].Type)
	}

	s.UnregisterPoint(after)
	s.Remove(0, 2)
	if before.Index != 0 || at.Index != 0 {
		t.Errorf("after remove: before=%d at=%d, want 0 0", before.Index, at.Index)
	}
	if after.Index != 3 {
		t.Errorf("unregistered point moved to %d", after.Index)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

// TestLinksMaintainPredecessors tests edge bookkeeping when linking and relinking segments
func TestLinksMaintainPredecessors(t *testing.T) {
	f := NewFunction(0x1000, 32)
	a := f.AppendSegment()
	b := f.AppendSegment()
	c := f.AppendSegment()

	f.SetBranchTaken(a.ID, c.ID)
	f.SetBranchNotTaken(a.ID, b.ID)
	f.SetBranchNotTaken(b.ID, c.ID)

	if diff := cmp.Diff([]SegmentID{a.ID, b.ID}, c.Prev); diff != "" {
		t.Errorf("c.Prev mismatch (-want +got):\n%s", diff)
	}

	ins := f.InsertSegments(2, 1)
	n := ins[0]
	f.RelinkInputs(c.ID, n.ID)
	f.SetBranchNotTaken(n.ID, c.ID)

	if len(c.Prev) != 1 || c.Prev[0] != n.ID {
		t.Errorf("c.Prev = %v, want [%d]", c.Prev, n.ID)
	}
	if a.BranchTaken != n.ID || b.BranchNotTaken != n.ID {
		t.Errorf("inputs not relinked: a.taken=%d b.nottaken=%d", a.BranchTaken, b.BranchNotTaken)
	}
	if n.Index != 2 || c.Index != 3 {
		t.Errorf("indices n=%d c=%d, want 2 3", n.Index, c.Index)
	}
}

// TestUsage tests the register effect table for representative instructions
func TestUsage(t *testing.T) {
	tests := []struct {
		in     Instruction
		reads  []VReg
		writes []VReg
	}{
		{MakeRR(OpAssign, 1, 2, CRNone, CRModeNone), []VReg{2}, []VReg{1}},
		{MakeRR(OpAdd, 1, 2, CRNone, CRModeNone), []VReg{1, 2}, []VReg{1}},
		{MakeRR(OpCompareSigned, 1, 2, 0, CRModeCompareSigned), []VReg{1, 2}, nil},
		{MakeRS32(OpAssign, 4, 7, CRNone, CRModeNone), nil, []VReg{4}},
		{MakeRS32(OpMTCRF, 4, 0xFF, CRNone, CRModeNone), []VReg{4}, nil},
		{MakeRRS32(OpRLWIMI, 1, 2, 0, CRNone, CRModeNone), []VReg{1, 2}, []VReg{1}},
		{MakeRRR(OpSub, 1, 2, 3, CRNone, CRModeNone), []VReg{2, 3}, []VReg{1}},
		{MakeRRRCarry(OpAddCarryIn, 1, 2, 3, 5, CRNone, CRModeNone), []VReg{2, 3, 5}, []VReg{1, 5}},
		{MakeLoad(1, 2, 8, 32, false, true), []VReg{2}, []VReg{1}},
		{MakeStoreIndexed(1, 2, 3, 32, true), []VReg{1, 2, 3}, nil},
		{MakeMem2Mem(1, 0, 2, 4, 32), []VReg{1, 2}, nil},
		{MakeMacro(MacroBLR, 0x1000, 0), nil, nil},
	}
	for _, tt := range tests {
		u := tt.in.Usage()
		got := append([]VReg(nil), u.Reads()...)
		if diff := cmp.Diff(tt.reads, got); diff != "" && !(len(tt.reads) == 0 && len(got) == 0) {
			t.Errorf("%s reads mismatch (-want +got):\n%s", tt.in, diff)
		}
		got = append([]VReg(nil), u.Writes()...)
		if diff := cmp.Diff(tt.writes, got); diff != "" && !(len(tt.writes) == 0 && len(got) == 0) {
			t.Errorf("%s writes mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

// TestSuffix tests suffix classification
func TestSuffix(t *testing.T) {
	cj := MakeCJump(0x10, 0, CRBitEQ, true)
	if !cj.IsSuffix() {
		t.Errorf("conditional jump is not a suffix")
	}
	count := MakeMacro(MacroCountCycles, 3, 0)
	if count.IsSuffix() {
		t.Errorf("COUNT_CYCLES must not be a suffix")
	}
	leave := MakeMacro(MacroLeave, 0x1000, 0)
	if !leave.IsSuffix() {
		t.Errorf("LEAVE is not a suffix")
	}
}

// TestDump tests that the listing names every segment
func TestDump(t *testing.T) {
	f := NewFunction(0x2000, 8)
	s := f.AppendSegment()
	s.IsEnterable = true
	s.EnterAddress = 0x2000
	s.Append(MakeRName(0, GPR(3)), MakeNameR(SPR(SPRLR), 0), MakeMacro(MacroBLR, 0x2004, 0))
	f.VRegNames = []Name{GPR(3)}

	var buf bytes.Buffer
	if err := f.Dump(&buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"enter=0x00002000", "v0 = name[r3]", "name[lr] = v0", "macro BLR"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}
