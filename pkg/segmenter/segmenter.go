package segmenter

import (
	"ppcrec/pkg/decoder"
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"

	"tlog.app/go/tlog"
)

// Options controls the optional passes of segmentation
type Options struct {
	ReduceConditionalMoves bool
	// CountCycles inserts cycle counting macros at the head of guest segments
	CountCycles bool
}

// DefaultOptions returns the options used by the recompiler
func DefaultOptions() Options {
	return Options{
		ReduceConditionalMoves: true,
		CountCycles:            true,
	}
}

// Build partitions a flat IML stream into linked segments
func Build(out *decoder.Output, opts Options) (*iml.Function, error) {
	fn := iml.NewFunction(out.Entry, out.Size)
	fn.Ranges = append(fn.Ranges, out.Ranges...)
	fn.VRegNames = append(fn.VRegNames, out.VRegNames...)

	split(fn, removeUnusedJumpmarks(out.Instructions))
	if err := link(fn); err != nil {
		return nil, err
	}

	if fn.NumSegments() > 0 {
		first := fn.At(0)
		first.IsEnterable = true
		first.EnterAddress = fn.EntryAddress
	}

	if opts.ReduceConditionalMoves {
		reduceConditionalMoves(fn)
	}
	if opts.CountCycles {
		insertCycleCounters(fn)
	}
	insertCycleChecks(fn)
	isolateEntries(fn)
	DetectLoops(fn, iml.NewMarks(fn))

	if err := Validate(fn); err != nil {
		return nil, err
	}

	if tlog.If("segmenter") {
		tlog.Printw("segmented function", "entry", fn.EntryAddress, "segments", fn.NumSegments(), "max_loop_depth", fn.MaxLoopDepth())
	}
	return fn, nil
}

// removeUnusedJumpmarks drops jumpmarks no jump refers to
func removeUnusedJumpmarks(ins []iml.Instruction) []iml.Instruction {
	targets := make(map[uint32]bool)
	for i := range ins {
		if ins[i].Type == iml.TypeCJump && !ins[i].JumpBySegment {
			targets[ins[i].JumpmarkAddress] = true
		}
	}
	out := make([]iml.Instruction, 0, len(ins))
	for _, in := range ins {
		if in.Type == iml.TypeJumpmark && !targets[in.JumpmarkAddress] {
			continue
		}
		out = append(out, in)
	}
	return out
}

// split starts a segment after every suffix instruction and before every
// placeholder, then folds placeholders into segment flags
func split(fn *iml.Function, ins []iml.Instruction) {
	var cur *iml.Segment
	filled := 0
	for _, in := range ins {
		if cur == nil || (in.IsPlaceholder() && filled > 0) {
			cur = fn.AppendSegment()
			filled = 0
		}
		switch in.Type {
		case iml.TypeJumpmark:
			cur.IsJumpDestination = true
			cur.JumpAddress = in.JumpmarkAddress
			continue
		case iml.TypePPCEnter:
			cur.IsEnterable = true
			cur.EnterAddress = in.Param
			continue
		}
		cur.Append(in)
		filled++
		if in.IsSuffix() {
			cur = nil
		}
	}
	for _, s := range fn.Segments() {
		updateAddressRange(s)
	}
}

func updateAddressRange(s *iml.Segment) {
	s.AddrMin, s.AddrMax = 0, 0
	for _, in := range s.Instructions {
		if in.Address == 0 {
			continue
		}
		if s.AddrMin == 0 || in.Address < s.AddrMin {
			s.AddrMin = in.Address
		}
		if in.Address > s.AddrMax {
			s.AddrMax = in.Address
		}
	}
}

// findJumpDestination returns the segment labelled with a jump address
func findJumpDestination(fn *iml.Function, addr uint32) *iml.Segment {
	for _, s := range fn.Segments() {
		if s.IsJumpDestination && s.JumpAddress == addr {
			return s
		}
	}
	return nil
}

// link derives successor edges from each segment's final instruction
func link(fn *iml.Function) error {
	segs := fn.Segments()
	for i, s := range segs {
		next := iml.NoSegment
		if i+1 < len(segs) {
			next = segs[i+1].ID
		}
		last := s.Last()
		switch {
		case last == nil || !last.IsSuffix():
			fn.SetBranchNotTaken(s.ID, next)
		case last.Type == iml.TypeCJump && !last.JumpBySegment:
			dest := findJumpDestination(fn, last.JumpmarkAddress)
			if dest == nil {
				return errors.Invariantf("jump to 0x%08x has no destination segment", last.JumpmarkAddress)
			}
			fn.SetBranchTaken(s.ID, dest.ID)
			if !last.IsUnconditionalJump() {
				fn.SetBranchNotTaken(s.ID, next)
			}
		case last.Type == iml.TypeMacro:
			s.Uncertain = true
		}
	}
	return nil
}

// insertCycleCounters prefixes every guest segment with a cycle count
// macro sized to the guest instructions it represents
func insertCycleCounters(fn *iml.Function) {
	for _, s := range fn.Segments() {
		if !s.HasAddressRange() {
			continue
		}
		seen := make(map[uint32]bool)
		for _, in := range s.Instructions {
			if in.Address != 0 {
				seen[in.Address] = true
			}
		}
		if len(seen) == 0 {
			continue
		}
		s.InsertInstruction(0, iml.MakeMacro(iml.MacroCountCycles, uint32(len(seen)), 0))
	}
}
