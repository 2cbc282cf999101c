package segmenter

import (
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"
)

// Validate checks the well-formedness of a segment graph: suffix
// instructions only in last position, jump targets resolving to exactly one
// segment that is also the taken successor, consistent predecessor lists and
// no enterable segment with internal predecessors. A cycle check must resume
// at an enterable segment.
func Validate(fn *iml.Function) error {
	dest := make(map[uint32][]iml.SegmentID)
	for _, s := range fn.Segments() {
		if s.IsJumpDestination {
			dest[s.JumpAddress] = append(dest[s.JumpAddress], s.ID)
		}
	}

	incoming := make(map[iml.SegmentID]int)
	for _, s := range fn.Segments() {
		for i := range s.Instructions {
			if s.Instructions[i].IsSuffix() && i != s.Len()-1 {
				return errors.Invariantf("segment %d has suffix instruction at %d of %d", s.ID, i, s.Len())
			}
			if s.Instructions[i].IsPlaceholder() {
				return errors.Invariantf("segment %d still holds a placeholder", s.ID)
			}
		}
		if s.IsEnterable && len(s.Prev) > 0 {
			return errors.Invariantf("enterable segment %d has %d predecessors", s.ID, len(s.Prev))
		}

		if last := s.Last(); last != nil {
			switch {
			case last.Type == iml.TypeCJump && last.JumpBySegment:
				if s.BranchTaken == iml.NoSegment {
					return errors.Invariantf("segment %d jumps by segment without a taken link", s.ID)
				}
			case last.Type == iml.TypeCJump || last.Type == iml.TypeCycleCheck:
				targets := dest[last.JumpmarkAddress]
				if len(targets) != 1 {
					return errors.Invariantf("jump target 0x%08x of segment %d resolves to %d segments", last.JumpmarkAddress, s.ID, len(targets))
				}
				if s.BranchTaken != targets[0] {
					return errors.Invariantf("segment %d taken link %d disagrees with jump target %d", s.ID, s.BranchTaken, targets[0])
				}
			}
		}

		for _, succ := range s.Successors() {
			incoming[succ]++
		}
	}

	for _, s := range fn.Segments() {
		if incoming[s.ID] != len(s.Prev) {
			return errors.Invariantf("segment %d lists %d predecessors, graph has %d", s.ID, len(s.Prev), incoming[s.ID])
		}
	}
	return validateResumes(fn)
}

// validateResumes checks that every cycle check leaves through a LEAVE whose
// resume address is the enter address of some segment
func validateResumes(fn *iml.Function) error {
	enterable := make(map[uint32]bool)
	for _, s := range fn.Segments() {
		if s.IsEnterable {
			enterable[s.EnterAddress] = true
		}
	}
	for _, s := range fn.Segments() {
		if last := s.Last(); last == nil || last.Type != iml.TypeCycleCheck {
			continue
		}
		if s.BranchNotTaken == iml.NoSegment {
			return errors.Invariantf("cycle check of segment %d has no leave segment", s.ID)
		}
		leave := fn.Segment(s.BranchNotTaken).Last()
		if leave == nil || leave.Type != iml.TypeMacro || leave.Macro != iml.MacroLeave {
			return errors.Invariantf("cycle check of segment %d does not lead to a LEAVE", s.ID)
		}
		if !enterable[leave.Param] {
			return errors.Invariantf("LEAVE after segment %d resumes at 0x%08x, which no segment enters", s.ID, leave.Param)
		}
	}
	return nil
}
