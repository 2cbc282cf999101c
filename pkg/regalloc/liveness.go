package regalloc

import (
	"math"

	"ppcrec/pkg/iml"

	"tlog.app/go/tlog"
)

const (
	// maxCloseDistance bounds the instructions between two windows merged
	// across segment boundaries
	maxCloseDistance = 45
	// maxRouteDepth bounds the segments on one merge route
	maxRouteDepth = 64
	// maxRouteSteps bounds the work of one merge search
	maxRouteSteps = 4096

	unused = math.MaxInt32
)

// window is the usage window of a virtual register in one segment. Either
// bound may be a boundary sentinel once the window is extended.
type window struct {
	start, end int
}

func (w window) defined() bool {
	return w.start != unused
}

// liveness holds the per-segment windows while ranges are formed
type liveness struct {
	fn      *iml.Function
	marks   *iml.Marks
	windows [][]window // indexed by SegmentID, then virtual register
}

func newLiveness(fn *iml.Function) *liveness {
	l := &liveness{
		fn:      fn,
		marks:   iml.NewMarks(fn),
		windows: make([][]window, fn.Arena()),
	}
	for _, s := range fn.Segments() {
		l.windows[s.ID] = localWindows(s, fn.NumVRegs())
	}
	return l
}

// localWindows scans s up to its suffix and records the first and one past
// the last instruction touching each register
func localWindows(s *iml.Segment, vregs int) []window {
	w := make([]window, vregs)
	for i := range w {
		w[i] = window{start: unused, end: math.MinInt32}
	}
	for i := range s.Instructions {
		in := &s.Instructions[i]
		if in.IsSuffix() {
			break
		}
		u := in.Usage()
		u.ForEach(func(r iml.VReg, _, _ bool) {
			if i < w[r].start {
				w[r].start = i
			}
			if i+1 > w[r].end {
				w[r].end = i + 1
			}
		})
	}
	return w
}

func (l *liveness) extendToEnd(seg iml.SegmentID, r iml.VReg) {
	w := &l.windows[seg][r]
	if !w.defined() {
		w.start = iml.InterRangeEnd
	}
	w.end = iml.InterRangeEnd
}

// extendToStart makes r live on entry of seg and therefore live out of
// every predecessor
func (l *liveness) extendToStart(seg iml.SegmentID, r iml.VReg) {
	w := &l.windows[seg][r]
	if !w.defined() {
		w.end = iml.InterRangeStart
	}
	w.start = iml.InterRangeStart
	for _, p := range l.fn.Segment(seg).Prev {
		l.extendToEnd(p, r)
	}
}

func (l *liveness) connect(r iml.VReg, route []iml.SegmentID) {
	l.extendToEnd(route[0], r)
	for _, id := range route[1 : len(route)-1] {
		l.extendToEnd(id, r)
		l.extendToStart(id, r)
	}
	l.extendToStart(route[len(route)-1], r)
}

type routeItem struct {
	seg   iml.SegmentID
	left  int
	route []iml.SegmentID // segments walked before seg
}

func onRoute(route []iml.SegmentID, id iml.SegmentID) bool {
	for _, r := range route {
		if r == id {
			return true
		}
	}
	return false
}

// tryExtend searches successors of origin for another window of r close
// enough to keep the value in a register between them. Every route found is
// connected.
func (l *liveness) tryExtend(origin *iml.Segment, r iml.VReg) {
	w := l.windows[origin.ID][r]
	if w.end == iml.InterRangeStart {
		return
	}
	tail := 0
	if w.end != iml.InterRangeEnd {
		tail = origin.Len() - w.end
	}
	left := maxCloseDistance - tail
	if left <= 0 {
		return
	}

	var work []routeItem
	push := func(route []iml.SegmentID, from *iml.Segment, left int) {
		// not-taken is searched first
		if from.BranchTaken != iml.NoSegment {
			work = append(work, routeItem{seg: from.BranchTaken, left: left, route: route})
		}
		if from.BranchNotTaken != iml.NoSegment {
			work = append(work, routeItem{seg: from.BranchNotTaken, left: left, route: route})
		}
	}
	push([]iml.SegmentID{origin.ID}, origin, left)

	for steps := maxRouteSteps; len(work) > 0; steps-- {
		if steps == 0 {
			if tlog.If("regalloc") {
				tlog.Printw("merge search budget exhausted", "function", l.fn.EntryAddress, "vreg", r)
			}
			return
		}
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if len(it.route) >= maxRouteDepth {
			if tlog.If("regalloc") {
				tlog.Printw("merge route too deep", "function", l.fn.EntryAddress, "vreg", r)
			}
			continue
		}
		cur := l.fn.Segment(it.seg)
		route := append(it.route[:len(it.route):len(it.route)], it.seg)

		cw := l.windows[it.seg][r]
		if !cw.defined() {
			left := it.left - cur.Len()
			if left > 0 && !onRoute(it.route, it.seg) {
				push(route, cur, left)
			}
			continue
		}
		switch {
		case cw.start == iml.InterRangeEnd:
			if it.left < cur.Len() {
				continue
			}
		case cw.start != iml.InterRangeStart && cw.start > it.left:
			continue
		}
		l.connect(r, route)
	}
}

// mergeCloseRanges walks the graph breadth first from every segment without
// predecessors and tries to extend each window into its successors
func (l *liveness) mergeCloseRanges() {
	l.marks.Next()
	for _, root := range l.fn.Segments() {
		if len(root.Prev) > 0 || !l.marks.Visit(root.ID) {
			continue
		}
		queue := []iml.SegmentID{root.ID}
		for len(queue) > 0 {
			s := l.fn.Segment(queue[0])
			queue = queue[1:]
			for r := range l.windows[s.ID] {
				if l.windows[s.ID][r].defined() {
					l.tryExtend(s, iml.VReg(r))
				}
			}
			for _, succ := range []iml.SegmentID{s.BranchNotTaken, s.BranchTaken} {
				if succ != iml.NoSegment && l.marks.Visit(succ) {
					queue = append(queue, succ)
				}
			}
		}
	}
}

// extendOutOfLoops carries every value live at the end of a loop segment into
// its loop exits, so stores can later move out of the loop
func (l *liveness) extendOutOfLoops() {
	for _, s := range l.fn.Segments() {
		if s.LoopDepth <= 0 {
			continue
		}
		var exits []iml.SegmentID
		for _, succ := range s.Successors() {
			if l.fn.Segment(succ).LoopDepth < s.LoopDepth {
				exits = append(exits, succ)
			}
		}
		if len(exits) == 0 {
			continue
		}
		for r := range l.windows[s.ID] {
			if l.windows[s.ID][r].end != iml.InterRangeEnd {
				continue
			}
			for _, succ := range exits {
				l.extendToStart(succ, iml.VReg(r))
			}
		}
	}
}

// buildRanges turns the windows into ranges. Windows joined through boundary
// sentinels become subranges of one range.
func (l *liveness) buildRanges(a *Allocation) {
	vregs := l.fn.NumVRegs()
	subOf := make([][]SubrangeID, l.fn.Arena())
	for _, s := range l.fn.Segments() {
		subOf[s.ID] = make([]SubrangeID, vregs)
		for r := range subOf[s.ID] {
			subOf[s.ID][r] = NoSubrange
		}
	}
	processed := func(seg iml.SegmentID, r iml.VReg) bool {
		return subOf[seg][r] != NoSubrange || !l.windows[seg][r].defined()
	}

	for _, s := range l.fn.Segments() {
		for reg := 0; reg < vregs; reg++ {
			r := iml.VReg(reg)
			if processed(s.ID, r) {
				continue
			}
			rng := a.newRange(r, l.fn.NameOf(r))
			work := []iml.SegmentID{s.ID}
			for len(work) > 0 {
				id := work[len(work)-1]
				work = work[:len(work)-1]
				if processed(id, r) {
					continue
				}
				w := l.windows[id][r]
				subOf[id][r] = a.newSubrange(rng, id, w.start, w.end).ID

				seg := l.fn.Segment(id)
				if w.end == iml.InterRangeEnd {
					for _, succ := range seg.Successors() {
						if l.windows[succ][r].start == iml.InterRangeStart {
							work = append(work, succ)
						}
					}
				}
				if w.start == iml.InterRangeStart {
					for _, p := range seg.Prev {
						if l.windows[p][r].end == iml.InterRangeEnd {
							work = append(work, p)
						}
					}
				}
			}
			for _, id := range rng.Subranges {
				sub := a.subranges[id]
				if sub.End.Index != iml.InterRangeEnd {
					continue
				}
				seg := l.fn.Segment(sub.Segment)
				if t := seg.BranchTaken; t != iml.NoSegment && l.windows[t][r].start == iml.InterRangeStart {
					sub.Taken = subOf[t][r]
				}
				if nt := seg.BranchNotTaken; nt != iml.NoSegment && l.windows[nt][r].start == iml.InterRangeStart {
					sub.NotTaken = subOf[nt][r]
				}
			}
		}
	}

	for _, s := range l.fn.Segments() {
		for i := range s.Instructions {
			in := &s.Instructions[i]
			if in.IsSuffix() {
				break
			}
			u := in.Usage()
			u.ForEach(func(r iml.VReg, read, write bool) {
				a.subranges[subOf[s.ID][r]].addLocation(i, read, write)
			})
		}
	}
}
