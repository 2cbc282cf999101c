package regalloc

import "ppcrec/pkg/iml"

const (
	// maxEndingDepth bounds the segments walked from a store to its endings
	maxEndingDepth = 30
	// maxEndings bounds the endings a store may be delayed into
	maxEndings = 128
)

// analyzeAccesses derives load and store needs from the access order. A
// subrange entered from a predecessor or written before read needs no load.
func analyzeAccesses(s *Subrange) {
	read, written, overwritten := false, false, false
	for _, l := range s.Locations {
		if l.Read {
			read = true
		}
		if l.Write {
			if !read {
				overwritten = true
			}
			written = true
		}
	}
	s.NoLoad = overwritten || s.Start.Index == iml.InterRangeStart
	s.HasStore = written
}

type endingItem struct {
	sub   *Subrange
	depth int
}

// writeEndings collects the subranges where the value written in start
// leaves the range. It fails when a path leaves the range at a segment
// boundary or a budget is exceeded.
func (a *Allocation) writeEndings(start *Subrange) ([]*Subrange, bool) {
	gen := a.nextGeneration()
	var endings []*Subrange
	work := []endingItem{{sub: start}}
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.depth >= maxEndingDepth {
			return nil, false
		}
		s := it.sub
		if s.visit == gen {
			continue
		}
		s.visit = gen
		if s.HasDelayedStore {
			continue
		}
		if s.End.Index != iml.InterRangeEnd {
			if len(endings) >= maxEndings {
				return nil, false
			}
			endings = append(endings, s)
			continue
		}
		seg := a.fn.Segment(s.Segment)
		for _, link := range []struct {
			next iml.SegmentID
			sub  SubrangeID
		}{{seg.BranchNotTaken, s.NotTaken}, {seg.BranchTaken, s.Taken}} {
			if link.next == iml.NoSegment {
				continue
			}
			if link.sub == NoSubrange {
				return nil, false
			}
			work = append(work, endingItem{sub: a.subranges[link.sub], depth: it.depth + 1})
		}
	}
	return endings, true
}

// delayStore moves the store of a subrange leaving its segment into the
// endings of the range when that is not more expensive, or drops it when
// every ending stores anyway
func (a *Allocation) delayStore(s *Subrange) {
	if s.End.Index != iml.InterRangeEnd || !s.HasStore {
		return
	}
	endings, ok := a.writeEndings(s)
	if !ok {
		return
	}
	cost := 0
	stored := true
	for _, e := range endings {
		if e.HasStore {
			continue
		}
		stored = false
		cost = max(cost, rwCost(a.fn.Segment(e.Segment)))
	}
	switch {
	case stored:
	case cost <= rwCost(a.fn.Segment(s.Segment)):
		for _, e := range endings {
			e.HasStore = true
		}
	default:
		return
	}
	s.HasStore = false
	s.HasDelayedStore = true
	a.stats.DelayedStores++
}

// analyzeDataFlow runs after assignment, when ranges no longer change
func (a *Allocation) analyzeDataFlow() {
	for _, r := range a.Ranges() {
		for _, id := range r.Subranges {
			analyzeAccesses(a.subranges[id])
		}
	}
	for _, r := range a.Ranges() {
		for _, id := range r.Subranges {
			a.delayStore(a.subranges[id])
		}
	}
}
