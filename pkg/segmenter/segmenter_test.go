package segmenter

import (
	"testing"

	"ppcrec/pkg/decoder"
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"
	"ppcrec/pkg/ppcasm"
)

const base = 0x02000000

func build(t *testing.T, a *ppcasm.Assembler, opts Options) *iml.Function {
	t.Helper()
	img, err := a.Image()
	if err != nil {
		t.Fatalf("Failed to assemble: %v", err)
	}
	out, err := decoder.Generate(img, decoder.Options{Entry: base, Count: a.Len()})
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	fn, err := Build(out, opts)
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

func countType(fn *iml.Function, typ iml.Type) int {
	n := 0
	for _, s := range fn.Segments() {
		for _, in := range s.Instructions {
			if in.Type == typ {
				n++
			}
		}
	}
	return n
}

// assertLoopsGuarded checks that every cycle of the graph passes through a
// cycle check, except the self edge of a tight finite loop
func assertLoopsGuarded(t *testing.T, fn *iml.Function) {
	t.Helper()
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[iml.SegmentID]int)
	var visit func(s *iml.Segment) bool
	visit = func(s *iml.Segment) bool {
		state[s.ID] = active
		for _, succ := range s.Successors() {
			next := fn.Segment(succ)
			if last := next.Last(); last != nil && last.Type == iml.TypeCycleCheck {
				continue
			}
			if succ == s.ID && IsTightFiniteLoop(s) {
				continue
			}
			switch state[succ] {
			case active:
				return false
			case unvisited:
				if !visit(next) {
					return false
				}
			}
		}
		state[s.ID] = done
		return true
	}
	for _, s := range fn.Segments() {
		if state[s.ID] == unvisited && !visit(s) {
			t.Fatalf("unguarded cycle through segment %d", s.ID)
		}
	}
}

// assertLeavesResume checks that every cycle check LEAVE resumes at the enter
// address of a segment without predecessors
func assertLeavesResume(t *testing.T, fn *iml.Function) {
	t.Helper()
	for _, s := range fn.Segments() {
		if last := s.Last(); last == nil || last.Type != iml.TypeCycleCheck {
			continue
		}
		leave := fn.Segment(s.BranchNotTaken).Last()
		found := false
		for _, e := range fn.Segments() {
			if e.IsEnterable && e.EnterAddress == leave.Param {
				found = true
				if len(e.Prev) != 0 {
					t.Errorf("resume segment %d has predecessors %v", e.ID, e.Prev)
				}
			}
		}
		if !found {
			t.Errorf("LEAVE after segment %d resumes at 0x%08x, no segment enters there", s.ID, leave.Param)
		}
	}
}

// TestBuildDiamond tests linking of a conditional branch with a join
func TestBuildDiamond(t *testing.T) {
	a := ppcasm.New(base)
	a.Cmpwi(0, 3, 0).Beq(0, "else").Li(4, 1).Addi(4, 4, 2).B("join")
	a.Label("else")
	a.Li(4, 2)
	a.Label("join")
	a.Stw(4, 0, 5).Blr()
	fn := build(t, a, Options{CountCycles: true})

	if err := Validate(fn); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	head := fn.At(0)
	if !head.IsEnterable || head.EnterAddress != base {
		t.Errorf("first segment enterable=%v at 0x%x, want entry 0x%x", head.IsEnterable, head.EnterAddress, base)
	}
	then := segmentAt(t, fn, base+8)
	elseSeg := segmentAt(t, fn, base+20)
	join := segmentAt(t, fn, base+24)
	if head.BranchTaken != elseSeg.ID || head.BranchNotTaken != then.ID {
		t.Errorf("head links taken=%d not-taken=%d, want %d %d", head.BranchTaken, head.BranchNotTaken, elseSeg.ID, then.ID)
	}
	if then.BranchTaken != join.ID || then.BranchNotTaken != iml.NoSegment {
		t.Errorf("then links taken=%d not-taken=%d, want %d none", then.BranchTaken, then.BranchNotTaken, join.ID)
	}
	if elseSeg.BranchNotTaken != join.ID {
		t.Errorf("else falls through to %d, want %d", elseSeg.BranchNotTaken, join.ID)
	}
	if len(join.Prev) != 2 {
		t.Errorf("join has %d predecessors, want 2", len(join.Prev))
	}
	for _, s := range fn.Segments() {
		if s.HasAddressRange() && (s.Len() == 0 || s.Instructions[0].Macro != iml.MacroCountCycles) {
			t.Errorf("segment %d does not start with a cycle counter", s.ID)
		}
		if s.LoopDepth != 0 {
			t.Errorf("segment %d LoopDepth = %d, want 0", s.ID, s.LoopDepth)
		}
	}
	if countType(fn, iml.TypeCycleCheck) != 0 {
		t.Errorf("acyclic function received cycle checks")
	}
}

// TestCycleCheckGuardsLoop tests that a potentially infinite loop yields through a cycle check
func TestCycleCheckGuardsLoop(t *testing.T) {
	a := ppcasm.New(base)
	a.Label("loop")
	a.Lwz(3, 0, 4).Cmpwi(0, 3, 0).Bne(0, "loop").Blr()
	fn := build(t, a, DefaultOptions())

	if countType(fn, iml.TypeCycleCheck) != 1 {
		t.Fatalf("cycle checks = %d, want 1:\n%v", countType(fn, iml.TypeCycleCheck), fn.Segments())
	}
	assertLoopsGuarded(t, fn)
	assertLeavesResume(t, fn)

	var guard *iml.Segment
	for _, s := range fn.Segments() {
		if last := s.Last(); last != nil && last.Type == iml.TypeCycleCheck {
			guard = s
		}
	}
	body := fn.Segment(guard.BranchTaken)
	leave := fn.Segment(guard.BranchNotTaken)
	if body.BranchTaken != guard.ID {
		t.Errorf("loop body jumps to %d, want guard %d", body.BranchTaken, guard.ID)
	}
	if last := leave.Last(); last == nil || last.Macro != iml.MacroLeave || last.Param != base {
		t.Errorf("leave segment ends with %v, want LEAVE 0x%08x", leave.Last(), base)
	}
	if !leave.Uncertain {
		t.Errorf("leave segment is not marked uncertain")
	}
	if body.JumpAddress < syntheticJumpBase {
		t.Errorf("body jump address 0x%08x is not synthetic", body.JumpAddress)
	}
	if guard.LoopDepth != 1 || body.LoopDepth != 1 {
		t.Errorf("loop depths guard=%d body=%d, want 1 1", guard.LoopDepth, body.LoopDepth)
	}
	for _, s := range fn.Segments() {
		if s.IsEnterable && len(s.Prev) != 0 {
			t.Errorf("enterable segment %d has predecessors", s.ID)
		}
	}
}

// TestTightLoopSkipsCycleCheck tests that a CTR counted loop runs without a guard
func TestTightLoopSkipsCycleCheck(t *testing.T) {
	a := ppcasm.New(base)
	a.Li(3, 0)
	a.Label("loop")
	a.Addi(3, 3, 1).Bdnz("loop").Blr()
	fn := build(t, a, DefaultOptions())

	if n := countType(fn, iml.TypeCycleCheck); n != 0 {
		t.Errorf("cycle checks = %d, want 0", n)
	}
	loop := segmentAt(t, fn, base+4)
	if !IsTightFiniteLoop(loop) {
		t.Errorf("counted loop not recognized as tight")
	}
	if loop.LoopDepth != 1 {
		t.Errorf("LoopDepth = %d, want 1", loop.LoopDepth)
	}
	assertLoopsGuarded(t, fn)
}

// TestNestedLoopDepth tests loop depth accumulation across nested loops
func TestNestedLoopDepth(t *testing.T) {
	a := ppcasm.New(base)
	a.Label("outer")
	a.Li(5, 0)
	a.Label("inner")
	a.Addi(5, 5, 1).Bdnz("inner")
	a.Lwz(6, 0, 7).Cmpw(0, 6, 8).Bne(0, "outer").Blr()
	fn := build(t, a, DefaultOptions())

	if err := Validate(fn); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if d := segmentAt(t, fn, base+4).LoopDepth; d != 2 {
		t.Errorf("inner LoopDepth = %d, want 2", d)
	}
	if d := segmentAt(t, fn, base).LoopDepth; d != 1 {
		t.Errorf("outer LoopDepth = %d, want 1", d)
	}
	if d := segmentAt(t, fn, base+24).LoopDepth; d != 0 {
		t.Errorf("exit LoopDepth = %d, want 0", d)
	}
	if fn.MaxLoopDepth() != 2 {
		t.Errorf("MaxLoopDepth = %d, want 2", fn.MaxLoopDepth())
	}
	assertLoopsGuarded(t, fn)
	assertLeavesResume(t, fn)
}

// TestCycleCheckInsideFunction tests that a guarded loop after the function
// entry can be resumed at its head
func TestCycleCheckInsideFunction(t *testing.T) {
	a := ppcasm.New(base)
	a.Li(5, 0)
	a.Label("loop")
	a.Lwz(3, 0, 4).Cmpwi(0, 3, 0).Bne(0, "loop").Blr()
	fn := build(t, a, DefaultOptions())

	if countType(fn, iml.TypeCycleCheck) != 1 {
		t.Fatalf("cycle checks = %d, want 1", countType(fn, iml.TypeCycleCheck))
	}
	assertLoopsGuarded(t, fn)
	assertLeavesResume(t, fn)

	head := fn.At(0)
	if !head.IsEnterable || head.EnterAddress != base {
		t.Errorf("function entry enterable=%v at 0x%x, want 0x%x", head.IsEnterable, head.EnterAddress, base)
	}
	var guard *iml.Segment
	for _, s := range fn.Segments() {
		if last := s.Last(); last != nil && last.Type == iml.TypeCycleCheck {
			guard = s
		}
	}
	if last := fn.Segment(guard.BranchNotTaken).Last(); last.Param != base+4 {
		t.Errorf("LEAVE resumes at 0x%08x, want 0x%08x", last.Param, base+4)
	}
	var entries []*iml.Segment
	for _, s := range fn.Segments() {
		if s.IsEnterable && s.EnterAddress == base+4 {
			entries = append(entries, s)
		}
	}
	if len(entries) != 1 {
		t.Fatalf("segments entering 0x%08x = %d, want 1", base+4, len(entries))
	}
	if entries[0].BranchTaken != guard.ID {
		t.Errorf("loop entry jumps to %d, want guard %d", entries[0].BranchTaken, guard.ID)
	}
	if entries[0].HasAddressRange() {
		t.Errorf("loop entry holds guest instructions")
	}
}

// TestEntryIsolation tests that an enterable jump target is reached through a trampoline
func TestEntryIsolation(t *testing.T) {
	a := ppcasm.New(base)
	a.B("a").B("b")
	a.Label("a")
	a.Li(3, 0)
	a.Label("b")
	a.Blr()
	fn := build(t, a, DefaultOptions())

	var tramp *iml.Segment
	for _, s := range fn.Segments() {
		if !s.IsEnterable {
			continue
		}
		if len(s.Prev) != 0 {
			t.Errorf("enterable segment %d has predecessors %v", s.ID, s.Prev)
		}
		if s.EnterAddress == base+8 {
			tramp = s
		}
	}
	if tramp == nil {
		t.Fatalf("no entry for 0x%08x", base+8)
	}
	if tramp.HasAddressRange() || tramp.Len() != 1 || !tramp.Instructions[0].JumpBySegment {
		t.Errorf("trampoline = %v, want a single segment jump", tramp.Instructions)
	}
	target := segmentAt(t, fn, base+8)
	if tramp.BranchTaken != target.ID {
		t.Errorf("trampoline jumps to %d, want %d", tramp.BranchTaken, target.ID)
	}
	if target.IsEnterable {
		t.Errorf("jump target kept its enterable flag")
	}
}

// TestConditionalMoveReduction tests folding a skipped immediate assign into a conditional assign
func TestConditionalMoveReduction(t *testing.T) {
	a := ppcasm.New(base)
	a.Cmpwi(0, 3, 0).Beq(0, "done").Li(4, 1)
	a.Label("done")
	a.Blr()

	fn := build(t, a, Options{})
	if countType(fn, iml.TypeCJump) != 1 {
		t.Fatalf("without reduction the branch must stay")
	}

	fn = build(t, a, Options{ReduceConditionalMoves: true})
	if n := countType(fn, iml.TypeCJump); n != 0 {
		t.Errorf("conditional jumps = %d, want 0", n)
	}
	head := fn.At(0)
	last := head.Last()
	if last.Type != iml.TypeConditionalRS32 || last.Imm != 1 || last.CondBit != iml.CRBitEQ || last.BitMustBeSet {
		t.Errorf("head ends with %s, want r4 = 1 if !cr0.eq", last)
	}
	if head.BranchTaken != iml.NoSegment {
		t.Errorf("head still has a taken link to %d", head.BranchTaken)
	}
	skipped := fn.Segment(head.BranchNotTaken)
	if skipped.Len() != 0 {
		t.Errorf("skipped segment holds %d instructions, want 0", skipped.Len())
	}
	if err := Validate(fn); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

// TestValidateRejectsBrokenGraph tests that invariant violations are reported
func TestValidateRejectsBrokenGraph(t *testing.T) {
	fn := iml.NewFunction(base, 8)
	s0 := fn.AppendSegment()
	s1 := fn.AppendSegment()
	s0.Append(iml.MakeMacro(iml.MacroBLR, 0, 0), iml.MakeRS32(iml.OpAssign, 0, 1, iml.CRNone, iml.CRModeNone))
	fn.SetBranchNotTaken(s0.ID, s1.ID)
	err := Validate(fn)
	if !errors.IsInvariant(err) {
		t.Fatalf("misplaced suffix: err = %v, want invariant error", err)
	}

	s0.Instructions = []iml.Instruction{iml.MakeCJump(base+4, 0, iml.CRBitEQ, true)}
	err = Validate(fn)
	if !errors.IsInvariant(err) {
		t.Fatalf("unresolved jump: err = %v, want invariant error", err)
	}

	s1.IsJumpDestination = true
	s1.JumpAddress = base + 4
	fn.SetBranchTaken(s0.ID, s1.ID)
	if err := Validate(fn); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	s1.IsEnterable = true
	if err := Validate(fn); !errors.IsInvariant(err) {
		t.Errorf("enterable with predecessors: err = %v, want invariant error", err)
	}
}

// TestValidateRejectsOrphanedLeave tests that a cycle check must resume at an enterable segment
func TestValidateRejectsOrphanedLeave(t *testing.T) {
	fn := iml.NewFunction(base, 8)
	entry := fn.AppendSegment()
	guard := fn.AppendSegment()
	leave := fn.AppendSegment()
	body := fn.AppendSegment()
	entry.IsEnterable = true
	entry.EnterAddress = base
	entry.Append(iml.MakeSegmentJump())
	fn.SetBranchTaken(entry.ID, guard.ID)

	body.IsJumpDestination = true
	body.JumpAddress = syntheticJumpBase
	body.Append(iml.MakeSegmentJump())
	fn.SetBranchTaken(body.ID, guard.ID)

	guard.Append(iml.MakeCycleCheck(body.JumpAddress))
	fn.SetBranchTaken(guard.ID, body.ID)
	fn.SetBranchNotTaken(guard.ID, leave.ID)
	leave.Append(iml.MakeMacro(iml.MacroLeave, base+4, 0))

	if err := Validate(fn); !errors.IsInvariant(err) {
		t.Fatalf("orphaned LEAVE: err = %v, want invariant error", err)
	}
	entry.EnterAddress = base + 4
	if err := Validate(fn); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}
