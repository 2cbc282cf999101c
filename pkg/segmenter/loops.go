package segmenter

import "ppcrec/pkg/iml"

// maxLoopSearchDepth bounds the forward hops from a loop header back to the
// segment holding the backward edge
const maxLoopSearchDepth = 8

// DetectLoops recomputes LoopDepth for every segment. A backward taken edge
// starts a forward search from its target; every segment on a path leading
// back to the edge's source is part of the loop.
func DetectLoops(fn *iml.Function, marks *iml.Marks) {
	fn.Renumber()
	segs := fn.Segments()
	for _, s := range segs {
		s.LoopDepth = 0
	}
	for _, s := range segs {
		if s.Uncertain || s.BranchTaken == iml.NoSegment {
			continue
		}
		header := fn.Segment(s.BranchTaken)
		if header.ID == s.ID {
			s.LoopDepth++
			continue
		}
		if header.Index < s.Index {
			markLoop(fn, s, header, marks)
		}
	}
}

type loopItem struct {
	id    iml.SegmentID
	depth int
}

// markLoop searches forward edges from header for tail within the depth
// budget and increments the loop depth of every segment on a found path
func markLoop(fn *iml.Function, tail, header *iml.Segment, marks *iml.Marks) bool {
	marks.Next()
	marks.Visit(header.ID)
	queue := []loopItem{{id: header.ID}}
	edges := make(map[iml.SegmentID][]iml.SegmentID)
	var discovered []iml.SegmentID
	reached := false

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.id == tail.ID {
			reached = true
			continue
		}
		seg := fn.Segment(it.id)
		discovered = append(discovered, it.id)
		if it.depth >= maxLoopSearchDepth || seg.Uncertain {
			continue
		}
		for _, succ := range seg.Successors() {
			next := fn.Segment(succ)
			if succ != tail.ID && next.Index <= seg.Index {
				continue
			}
			edges[it.id] = append(edges[it.id], succ)
			if marks.Visit(succ) {
				queue = append(queue, loopItem{id: succ, depth: it.depth + 1})
			}
		}
	}
	if !reached {
		return false
	}

	onLoop := map[iml.SegmentID]bool{tail.ID: true}
	for changed := true; changed; {
		changed = false
		for _, id := range discovered {
			if onLoop[id] {
				continue
			}
			for _, succ := range edges[id] {
				if onLoop[succ] {
					onLoop[id] = true
					changed = true
					break
				}
			}
		}
	}
	for id := range onLoop {
		fn.Segment(id).LoopDepth++
	}
	return true
}
