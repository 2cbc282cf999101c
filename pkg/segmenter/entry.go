package segmenter

import "ppcrec/pkg/iml"

// isolateEntries moves the enterable flag of every segment that also has
// internal predecessors onto a trampoline appended at the end of the
// function. Afterwards a segment is either externally entered or an internal
// successor, never both.
func isolateEntries(fn *iml.Function) {
	for _, s := range fn.Segments() {
		if !s.IsEnterable || len(s.Prev) == 0 {
			continue
		}
		tramp := fn.AppendSegment()
		tramp.IsEnterable = true
		tramp.EnterAddress = s.EnterAddress
		tramp.Append(iml.MakeSegmentJump())
		fn.SetBranchTaken(tramp.ID, s.ID)

		s.IsEnterable = false
		s.EnterAddress = 0
	}
}
