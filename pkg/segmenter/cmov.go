package segmenter

import "ppcrec/pkg/iml"

// maxConditionalMoves bounds the assigns folded into one conditional block
const maxConditionalMoves = 4

// reduceConditionalMoves folds a cr0 branch that only skips a few immediate
// assigns into conditional assigns. The skipped segment is left empty and
// still falls through to the join point.
func reduceConditionalMoves(fn *iml.Function) {
	for _, s := range fn.Segments() {
		last := s.Last()
		if last == nil || last.Type != iml.TypeCJump || last.Cond != iml.CondCRBit || last.CondCR != 0 || last.JumpBySegment {
			continue
		}
		if s.BranchNotTaken == iml.NoSegment || s.BranchTaken == iml.NoSegment {
			continue
		}
		skipped := fn.Segment(s.BranchNotTaken)
		if !foldable(skipped, s.BranchTaken) {
			continue
		}

		cond := *last
		s.Remove(s.Len()-1, 1)
		for _, in := range skipped.Instructions {
			moved := iml.MakeConditionalRS32(iml.OpAssign, in.RegR, in.Imm, cond.CondCR, cond.CondBit, !cond.BitMustBeSet)
			moved.Address = in.Address
			s.Append(moved)
		}
		fn.SetBranchTaken(s.ID, iml.NoSegment)
		skipped.Instructions = nil
		updateAddressRange(s)
		updateAddressRange(skipped)
	}
}

func foldable(s *iml.Segment, join iml.SegmentID) bool {
	if len(s.Prev) != 1 || s.IsEnterable || s.IsJumpDestination {
		return false
	}
	if s.BranchTaken != iml.NoSegment || s.BranchNotTaken != join {
		return false
	}
	if s.Len() == 0 || s.Len() > maxConditionalMoves {
		return false
	}
	for _, in := range s.Instructions {
		if in.Type != iml.TypeRS32 || in.Op != iml.OpAssign || in.CRRegister != iml.CRNone {
			return false
		}
	}
	return true
}
