package segmenter

import "ppcrec/pkg/iml"

// synthetic jump addresses of loop bodies re-entered through a guard
const syntheticJumpBase = 0xFF000000

// IsTightFiniteLoop reports whether a self-looping segment provably ends:
// either it counts down CTR, or a single register is stepped by immediate
// add/sub and modified nowhere else in the body.
func IsTightFiniteLoop(s *iml.Segment) bool {
	if s.BranchTaken != s.ID {
		return false
	}
	candidates := make(map[iml.VReg]bool)
	for i := range s.Instructions {
		in := &s.Instructions[i]
		if in.Type != iml.TypeRS32 || (in.Op != iml.OpAdd && in.Op != iml.OpSub) {
			continue
		}
		if in.Op == iml.OpSub && in.CRRegister == iml.CRTemporary {
			return true
		}
		if in.CRRegister == iml.CRNone {
			candidates[in.RegR] = true
		}
	}
	for i := range s.Instructions {
		in := &s.Instructions[i]
		if in.Type == iml.TypeRS32 && (in.Op == iml.OpAdd || in.Op == iml.OpSub) && in.CRRegister == iml.CRNone {
			continue
		}
		u := in.Usage()
		for _, r := range u.Writes() {
			delete(candidates, r)
		}
	}
	return len(candidates) == 1
}

// needsCycleCheck reports whether s closes a loop that compiled code could
// spin in without yielding
func needsCycleCheck(s *iml.Segment) bool {
	last := s.Last()
	if last == nil || last.Type != iml.TypeCJump || last.JumpBySegment {
		return false
	}
	if !s.HasAddressRange() || last.JumpmarkAddress > s.AddrMin {
		return false
	}
	return !IsTightFiniteLoop(s)
}

// insertCycleChecks guards every backward jump. The segment S holding it is
// split into a guard P0 that tests the remaining cycle budget, a leave
// segment P1 taken when the budget is spent, S itself re-tagged with a
// synthetic jump address, and an entry segment that reaches S through P0.
func insertCycleChecks(fn *iml.Function) {
	var loops []iml.SegmentID
	for _, s := range fn.Segments() {
		if needsCycleCheck(s) {
			loops = append(loops, s.ID)
		}
	}

	for n, id := range loops {
		body := fn.Segment(id)
		parts := fn.InsertSegments(body.Index, 2)
		guard, leave := parts[0], parts[1]
		entry := fn.AppendSegment()

		fn.RelinkInputs(body.ID, guard.ID)
		fn.SetBranchNotTaken(guard.ID, leave.ID)
		fn.SetBranchTaken(guard.ID, body.ID)
		fn.SetBranchTaken(entry.ID, guard.ID)

		guard.IsJumpDestination = body.IsJumpDestination
		guard.JumpAddress = body.JumpAddress
		guard.AddrMin = body.AddrMin
		guard.AddrMax = body.AddrMax

		// LEAVE resumes at the loop head, so the entry is always enterable
		entry.IsEnterable = true
		entry.EnterAddress = guard.AddrMin
		if body.IsEnterable {
			entry.EnterAddress = body.EnterAddress
			body.IsEnterable = false
			body.EnterAddress = 0
		}

		body.IsJumpDestination = true
		body.JumpAddress = syntheticJumpBase + uint32(n)

		leave.Append(iml.MakeMacro(iml.MacroLeave, guard.AddrMin, 0))
		leave.Uncertain = true
		guard.Append(iml.MakeCycleCheck(body.JumpAddress))
		entry.Append(iml.MakeSegmentJump())
	}
	fn.Renumber()
}
