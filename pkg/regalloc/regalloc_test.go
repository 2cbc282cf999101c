package regalloc

import (
	"bytes"
	"testing"

	"ppcrec/pkg/decoder"
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"
	"ppcrec/pkg/ppcasm"
	"ppcrec/pkg/segmenter"

	"github.com/google/go-cmp/cmp"
)

const base = 0x02000000

func build(t *testing.T, a *ppcasm.Assembler, opts segmenter.Options) *iml.Function {
	t.Helper()
	img, err := a.Image()
	if err != nil {
		t.Fatalf("Failed to assemble: %v", err)
	}
	out, err := decoder.Generate(img, decoder.Options{Entry: base, Count: a.Len()})
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	fn, err := segmenter.Build(out, opts)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	return fn
}

func segmentAt(t *testing.T, fn *iml.Function, addr uint32) *iml.Segment {
	t.Helper()
	for _, s := range fn.Segments() {
		if s.AddrMin == addr {
			return s
		}
	}
	t.Fatalf("no segment starts at 0x%08x", addr)
	return nil
}

func vregOf(t *testing.T, fn *iml.Function, name iml.Name) iml.VReg {
	t.Helper()
	for i, n := range fn.VRegNames {
		if n == name {
			return iml.VReg(i)
		}
	}
	t.Fatalf("no vreg for %v", name)
	return iml.InvalidVReg
}

func countNamed(s *iml.Segment, typ iml.Type, name iml.Name) int {
	n := 0
	for _, in := range s.Instructions {
		if in.Type == typ && in.Name == name {
			n++
		}
	}
	return n
}

func types(s *iml.Segment) []iml.Type {
	var out []iml.Type
	for _, in := range s.Instructions {
		out = append(out, in.Type)
	}
	return out
}

// assertPhysical checks that every register operand is a host register
func assertPhysical(t *testing.T, fn *iml.Function, registers int) {
	t.Helper()
	for _, s := range fn.Segments() {
		for i := range s.Instructions {
			u := s.Instructions[i].Usage()
			u.ForEach(func(r iml.VReg, _, _ bool) {
				if int(r) >= registers {
					t.Errorf("segment %d instruction %d uses register %d, want < %d", s.ID, i, r, registers)
				}
			})
		}
	}
}

func diamond() *ppcasm.Assembler {
	a := ppcasm.New(base)
	a.Li(3, 5).Cmpwi(0, 4, 0).Beq(0, "else")
	a.Addi(5, 5, 1).B("join")
	a.Label("else")
	a.Addi(6, 6, 1)
	a.Label("join")
	a.Stw(3, 0, 7).Blr()
	return a
}

// TestDiamondSharesOneRange tests that a value written before a diamond and
// read after it stays in one register and is stored once at the join
func TestDiamondSharesOneRange(t *testing.T) {
	fn := build(t, diamond(), segmenter.Options{CountCycles: true})
	r3 := vregOf(t, fn, iml.GPR(3))

	a, err := allocate(fn, Config{PhysicalRegisters: 12, Verify: true})
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	defer a.release()

	var ranges []*Range
	for _, r := range a.Ranges() {
		if r.VReg == r3 {
			ranges = append(ranges, r)
		}
	}
	if len(ranges) != 1 {
		t.Fatalf("vreg %d has %d ranges, want 1", r3, len(ranges))
	}
	if got := len(ranges[0].Subranges); got != 4 {
		t.Errorf("range of r3 has %d subranges, want 4", got)
	}

	join := segmentAt(t, fn, base+24)
	stores := 0
	for _, s := range fn.Segments() {
		stores += countNamed(s, iml.TypeNameR, iml.GPR(3))
		if n := countNamed(s, iml.TypeRName, iml.GPR(3)); n != 0 {
			t.Errorf("segment %d loads r3 %d times, want 0", s.ID, n)
		}
	}
	if stores != 1 || countNamed(join, iml.TypeNameR, iml.GPR(3)) != 1 {
		t.Errorf("r3 stored %d times, want once in the join", stores)
	}
	if last := join.Last(); last == nil || last.Type != iml.TypeMacro || last.Macro != iml.MacroBLR {
		t.Errorf("join does not end with its return after materialization")
	}
	if a.stats.DelayedStores == 0 {
		t.Errorf("DelayedStores = 0, want > 0")
	}
	assertPhysical(t, fn, 12)
}

// TestLoopStoreMovesToExit tests that a value carried around a loop is
// neither loaded nor stored inside it
func TestLoopStoreMovesToExit(t *testing.T) {
	a := ppcasm.New(base)
	a.Li(4, 0)
	a.Label("loop")
	a.Addi(4, 4, 1).Bdnz("loop")
	a.Stw(4, 0, 5).Blr()
	fn := build(t, a, segmenter.Options{})

	if _, err := Allocate(fn, Config{PhysicalRegisters: 8, Verify: true}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	loop := segmentAt(t, fn, base+4)
	if loop.BranchTaken != loop.ID || loop.LoopDepth != 1 {
		t.Fatalf("segment at 0x%x is not a loop (taken=%d depth=%d)", base+4, loop.BranchTaken, loop.LoopDepth)
	}
	for _, in := range loop.Instructions {
		if in.Type == iml.TypeRName || in.Type == iml.TypeNameR {
			t.Errorf("loop body accesses named storage: %v", in)
		}
	}
	exit := segmentAt(t, fn, base+12)
	if n := countNamed(exit, iml.TypeNameR, iml.GPR(4)); n != 1 {
		t.Errorf("exit stores r4 %d times, want 1", n)
	}
	if n := countNamed(fn.At(0), iml.TypeNameR, iml.GPR(4)); n != 0 {
		t.Errorf("loop head stores r4 %d times, want 0", n)
	}
	assertPhysical(t, fn, 8)
}

func pressure() *ppcasm.Assembler {
	a := ppcasm.New(base)
	a.Lwz(3, 0, 10).Lwz(4, 4, 10).Lwz(5, 8, 10)
	a.Add(6, 3, 4).Add(6, 6, 5)
	a.Stw(6, 0, 11).Blr()
	return a
}

// TestSpillUnderPressure tests that more live values than host registers
// are resolved by splitting
func TestSpillUnderPressure(t *testing.T) {
	fn := build(t, pressure(), segmenter.Options{})
	stats, err := Allocate(fn, Config{PhysicalRegisters: 3, Verify: true})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if stats.HoleCuts == 0 || stats.Restarts == 0 {
		t.Errorf("stats = %+v, want hole cuts and restarts", stats)
	}
	assertPhysical(t, fn, 3)

	fn = build(t, pressure(), segmenter.Options{})
	stats, err = Allocate(fn, Config{PhysicalRegisters: 12, Verify: true})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if stats.Splits != 0 || stats.Explodes != 0 {
		t.Errorf("stats = %+v, want no spilling with 12 registers", stats)
	}
}

// TestTransientPressureAcrossSegments tests the exact code produced when two
// values enter a segment that needs a third register for one instruction
func TestTransientPressureAcrossSegments(t *testing.T) {
	a := ppcasm.New(base)
	a.Li(3, 1).Li(4, 2).B("next")
	a.Label("next")
	a.Lwz(5, 8, 5).Add(3, 3, 4).Blr()
	fn := build(t, a, segmenter.Options{})

	stats, err := Allocate(fn, Config{PhysicalRegisters: 2, Verify: true})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if stats.HoleCuts != 1 || stats.Restarts != 1 || stats.Explodes != 0 {
		t.Errorf("stats = %+v, want one hole cut and one restart", stats)
	}

	head := segmentAt(t, fn, base)
	if diff := cmp.Diff([]iml.Type{iml.TypeRS32, iml.TypeRS32, iml.TypeCJump}, types(head)); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}
	next := segmentAt(t, fn, base+12)
	want := []iml.Type{
		iml.TypeNameR, // r3 from the head
		iml.TypeRName, // r5
		iml.TypeLoad,
		iml.TypeNameR, // r5
		iml.TypeRName, // r3
		iml.TypeRR,
		iml.TypeNameR, // r4
		iml.TypeNameR, // r3
		iml.TypeMacro,
	}
	if diff := cmp.Diff(want, types(next)); diff != "" {
		t.Errorf("next mismatch (-want +got):\n%s", diff)
	}
	assertPhysical(t, fn, 2)
}

func branchyLoop() *ppcasm.Assembler {
	a := ppcasm.New(base)
	for _, w := range []uint32{
		0x2c070000, // cmpwi r7, 0
		0x40820020, // bne exit
		0x80c80004, // lwz r6, 4(r8)
		0x38c00003, // loop: li r6, 3
		0x7cca1850, // subf r6, r10, r3
		0x7ca44a78, // xor r4, r5, r9
		0x7d243050, // subf r9, r4, r6
		0x2c060004, // cmpwi r6, 4
		0x4082ffec, // bne loop
		0x90640000, // exit: stw r3, 0(r4)
		0x4e800020, // blr
	} {
		a.Word(w)
	}
	return a
}

func loopWithDiamond() *ppcasm.Assembler {
	a := ppcasm.New(base)
	a.Li(3, 0)
	a.Label("loop")
	a.Lwz(4, 0, 5).Cmpwi(0, 4, 0).Beq(0, "skip")
	a.Add(3, 3, 4).Addi(5, 5, 4)
	a.Label("skip")
	a.Addi(6, 6, -1).Cmpwi(0, 6, 0).Bne(0, "loop")
	a.Stw(3, 0, 7).Blr()
	return a
}

func nestedIndexedLoops() *ppcasm.Assembler {
	a := ppcasm.New(base)
	a.Label("outer")
	a.Li(8, 0)
	a.Label("inner")
	a.Lwzx(9, 10, 8).Add(11, 11, 9).Addi(8, 8, 4).Cmpw(0, 8, 12).Bne(0, "inner")
	a.Stwx(11, 10, 12).Addi(13, 13, -1).Cmpwi(0, 13, 0).Bne(0, "outer")
	a.Blr()
	return a
}

// TestAllocateLoopsUnderPressure tests that branchy loops allocate with as
// few registers as their widest instruction needs
func TestAllocateLoopsUnderPressure(t *testing.T) {
	programs := []struct {
		name string
		asm  func() *ppcasm.Assembler
	}{
		{"branchy loop", branchyLoop},
		{"loop with diamond", loopWithDiamond},
		{"nested indexed loops", nestedIndexedLoops},
		{"diamond", diamond},
		{"pressure", pressure},
	}
	for _, p := range programs {
		for registers := 3; registers <= 6; registers++ {
			fn := build(t, p.asm(), segmenter.DefaultOptions())
			stats, err := Allocate(fn, Config{PhysicalRegisters: registers, Verify: true})
			if err != nil {
				t.Errorf("%s with %d registers: Allocate failed: %v", p.name, registers, err)
				continue
			}
			if stats.Ranges == 0 {
				t.Errorf("%s with %d registers: no ranges", p.name, registers)
			}
			assertPhysical(t, fn, registers)
		}
	}
}

// TestBranchyLoopAtFiveRegisters tests a loop whose conflicts are only
// resolved by giving way for a single instruction
func TestBranchyLoopAtFiveRegisters(t *testing.T) {
	fn := build(t, branchyLoop(), segmenter.DefaultOptions())
	a, err := allocate(fn, Config{PhysicalRegisters: 5, Verify: true})
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	for _, r := range a.Ranges() {
		if r.Physical < 0 || r.Physical >= 5 {
			t.Errorf("range %d of vreg %d holds register %d", r.ID, r.VReg, r.Physical)
		}
	}
	a.release()
	assertPhysical(t, fn, 5)
}

// TestAllocateRejectsWideInstruction tests that an instruction needing more
// registers than available is reported instead of looping
func TestAllocateRejectsWideInstruction(t *testing.T) {
	a := ppcasm.New(base)
	a.Add(3, 4, 5).Blr()
	fn := build(t, a, segmenter.Options{})
	if _, err := Allocate(fn, Config{PhysicalRegisters: 2}); !errors.IsInvariant(err) {
		t.Fatalf("got = %v, want invariant error", err)
	}
}

// TestAllocationIsDeterministic tests that equal input yields equal output
func TestAllocationIsDeterministic(t *testing.T) {
	dump := func(a *ppcasm.Assembler, registers int) string {
		fn := build(t, a, segmenter.DefaultOptions())
		if _, err := Allocate(fn, Config{PhysicalRegisters: registers, Verify: true}); err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		var buf bytes.Buffer
		if err := fn.Dump(&buf); err != nil {
			t.Fatalf("Dump failed: %v", err)
		}
		return buf.String()
	}
	for _, n := range []int{3, 4, 12} {
		first, second := dump(pressure(), n), dump(pressure(), n)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("%d registers: dumps differ (-first +second):\n%s", n, diff)
		}
		first, second = dump(diamond(), n), dump(diamond(), n)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("%d registers: diamond dumps differ (-first +second):\n%s", n, diff)
		}
	}
}

// TestAllocateRejectsRegisterCount tests the accepted host register counts
func TestAllocateRejectsRegisterCount(t *testing.T) {
	for _, n := range []int{0, -1, 33} {
		fn := build(t, diamond(), segmenter.Options{})
		_, err := Allocate(fn, DefaultConfig(n))
		if !errors.IsInvariant(err) {
			t.Errorf("Allocate with %d registers: got = %v, want invariant error", n, err)
		}
	}
}

// TestSplitLocal tests splitting a subrange between two accesses
func TestSplitLocal(t *testing.T) {
	fn := build(t, pressure(), segmenter.Options{})
	a := newAllocation(fn, 4)
	defer a.release()
	l := newLiveness(fn)
	l.buildRanges(a)

	r3 := vregOf(t, fn, iml.GPR(3))
	var s *Subrange
	for _, sub := range a.SegmentSubranges(fn.At(0).ID) {
		if a.Range(sub.Range).VReg == r3 {
			s = sub
		}
	}
	if s == nil {
		t.Fatalf("no subrange for r3")
	}
	if s.Start.Index != 0 || s.End.Index != 4 {
		t.Fatalf("r3 lives in [%d,%d), want [0,4)", s.Start.Index, s.End.Index)
	}

	tail, err := a.splitLocal(s, 2, true)
	if err != nil {
		t.Fatalf("splitLocal failed: %v", err)
	}
	if s.End.Index != 1 {
		t.Errorf("head end = %d, want 1", s.End.Index)
	}
	if tail == nil || tail.Start.Index != 3 || tail.End.Index != 4 {
		t.Fatalf("tail = %+v, want [3,4)", tail)
	}
	if tail.Range == s.Range || a.Range(tail.Range).Physical != -1 {
		t.Errorf("tail shares the head range or holds a register")
	}
	if _, err := a.splitLocal(s, 5, true); !errors.IsInvariant(err) {
		t.Errorf("split outside the subrange: got = %v, want invariant error", err)
	}
}
