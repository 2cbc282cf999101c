package regalloc

import (
	"math"
	"math/bits"

	"ppcrec/pkg/iml"

	"golang.org/x/exp/slices"
	"tlog.app/go/tlog"
)

const maxDistance = math.MaxInt32

// rwCost is the weight of one load or store in seg
func rwCost(seg *iml.Segment) int {
	v := (seg.LoopDepth + 1) * 5
	return v * v
}

// estimateCost weighs the loads and stores of r by its most expensive entry
// and exit
func (a *Allocation) estimateCost(r *Range) int {
	var read, write, reads, writes int
	for _, id := range r.Subranges {
		s := a.subranges[id]
		c := rwCost(a.fn.Segment(s.Segment))
		if s.Start.Index != iml.InterRangeStart {
			read = max(read, c)
			reads++
		}
		if s.End.Index != iml.InterRangeEnd {
			write = max(write, c)
			writes++
		}
	}
	return read + write + (reads+writes)/10
}

// explodeCost estimates the extra cost of r after explode
func (a *Allocation) explodeCost(r *Range) int {
	cost := -a.estimateCost(r)
	for _, id := range r.Subranges {
		s := a.subranges[id]
		if len(s.Locations) == 0 {
			continue
		}
		cost += 2 * rwCost(a.fn.Segment(s.Segment))
	}
	return cost
}

// splitCost estimates the extra load and store of splitting s at index
func (a *Allocation) splitCost(s *Subrange, index int) int {
	if len(s.Locations) == 0 {
		return 0
	}
	if index <= s.Locations[0].Index || index > s.Locations[len(s.Locations)-1].Index {
		return 0
	}
	return 2 * rwCost(a.fn.Segment(s.Segment))
}

func (a *Allocation) registerMask() uint32 {
	if a.registers >= 32 {
		return math.MaxUint32
	}
	return 1<<uint(a.registers) - 1
}

// allowedMask returns the registers not held by any range overlapping any
// subrange of r
func (a *Allocation) allowedMask(r *Range) uint32 {
	mask := a.registerMask()
	for _, id := range r.Subranges {
		s := a.subranges[id]
		for _, oid := range a.bySegment[s.Segment] {
			if oid == id {
				continue
			}
			o := a.subranges[oid]
			if p := a.ranges[o.Range].Physical; p >= 0 && overlaps(s, o) {
				mask &^= 1 << uint(p)
			}
		}
	}
	return mask
}

// untilNextPhysicalUse returns the distance from index to the next subrange
// of seg holding phys, 0 when phys is in use at index
func (a *Allocation) untilNextPhysicalUse(seg iml.SegmentID, index, phys int) int {
	dist := maxDistance
	for _, id := range a.bySegment[seg] {
		s := a.subranges[id]
		if a.ranges[s.Range].Physical != phys {
			continue
		}
		if index >= s.Start.Index && index < s.End.Index {
			return 0
		}
		if s.Start.Index >= index {
			dist = min(dist, s.Start.Index-index)
		}
	}
	return dist
}

// sortSegment orders the subranges of seg by start index
func (a *Allocation) sortSegment(seg iml.SegmentID) {
	slices.SortStableFunc(a.bySegment[seg], func(x, y SubrangeID) int {
		return a.subranges[x].Start.Index - a.subranges[y].Start.Index
	})
}

func expire(live []*Subrange, index int) []*Subrange {
	out := live[:0]
	for _, s := range live {
		if s.End.Index <= index && s.End.Index != iml.InterRangeEnd {
			continue
		}
		out = append(out, s)
	}
	return out
}

// assignSegment assigns registers to the unassigned subranges of seg in
// start order. It reports false after resolving a conflict, which changes
// the ranges and requires a new pass.
func (a *Allocation) assignSegment(seg *iml.Segment) (bool, error) {
	a.sortSegment(seg.ID)
	var live []*Subrange
	for _, id := range append([]SubrangeID(nil), a.bySegment[seg.ID]...) {
		s := a.subranges[id]
		live = expire(live, s.Start.Index)
		r := a.ranges[s.Range]

		if r.Physical >= 0 {
			for _, l := range live {
				if a.ranges[l.Range].Physical == r.Physical {
					return false, invariantf("segment %d: ranges %d and %d both hold register %d", seg.ID, l.Range, r.ID, r.Physical)
				}
			}
			live = append(live, s)
			continue
		}

		free := a.registerMask()
		for _, l := range live {
			free &^= 1 << uint(a.ranges[l.Range].Physical)
		}
		unusedMask := free
		if free != 0 {
			free &= a.allowedMask(r)
		}
		if free == 0 {
			return false, a.resolveConflict(seg, s, live, unusedMask)
		}
		r.Physical = bits.TrailingZeros32(free)
		live = append(live, s)
	}
	return true, nil
}

type strategy struct {
	cost     int
	distance int
	sub      *Subrange
	rng      *Range
	phys     int
}

func noStrategy() strategy {
	return strategy{cost: maxDistance, distance: -1, phys: -1}
}

func (s strategy) ok() bool {
	return s.cost != maxDistance
}

// resolveConflict frees a register for s by splitting or exploding ranges
func (a *Allocation) resolveConflict(seg *iml.Segment, s *Subrange, live []*Subrange, unusedMask uint32) error {
	cur := s.Start.Index
	if s.End.Index == iml.InterRangeEnd {
		return a.explodeCheapest(s, live)
	}

	hole := a.holeStrategy(s, live, 2)
	avail := a.availableStrategy(seg, s, unusedMask, 2)
	explode := a.explodeStrategy(s, live, 2)

	if tlog.If("regalloc") {
		tlog.Printw("register conflict", "segment", seg.ID, "vreg", a.ranges[s.Range].VReg, "start", cur, "end", s.End.Index,
			"hole_cost", hole.cost, "available_cost", avail.cost, "explode_cost", explode.cost)
	}

	switch {
	case explode.ok() && explode.cost <= hole.cost && explode.cost <= avail.cost:
		return a.explodeFor(s, explode)
	case avail.ok() && avail.cost <= hole.cost:
		_, err := a.splitLocal(s, cur+avail.distance, true)
		return err
	case hole.ok():
		return a.cutHole(s, hole)
	case s.Start.Index == iml.InterRangeStart:
		a.explode(a.ranges[s.Range])
		return nil
	}

	// pressure lasting a single instruction: accept a next use one away
	if hole = a.holeStrategy(s, live, 1); hole.ok() {
		return a.cutHole(s, hole)
	}
	if avail = a.availableStrategy(seg, s, unusedMask, 1); avail.ok() {
		_, err := a.splitLocal(s, cur+avail.distance, true)
		return err
	}
	if explode = a.explodeStrategy(s, live, 1); explode.ok() {
		return a.explodeFor(s, explode)
	}
	return invariantf("segment %d: no spill strategy frees a register for vreg %d at %d", seg.ID, a.ranges[s.Range].VReg, cur)
}

// holeStrategy finds the cheapest live local subrange whose next use is at
// least minHole instructions after the start of s
func (a *Allocation) holeStrategy(s *Subrange, live []*Subrange, minHole int) strategy {
	best := noStrategy()
	cur := s.Start.Index
	if cur < 0 {
		return best
	}
	required := s.End.Index - cur
	for _, c := range live {
		if c.End.Index == iml.InterRangeEnd {
			continue
		}
		d := c.untilNextUse(cur)
		if d < minHole || d == maxDistance {
			continue
		}
		cost := a.splitCost(c, cur+d)
		if d < required {
			cost += a.splitCost(s, cur+d) + (required-d)/10
		}
		if cost < best.cost {
			best = strategy{cost: cost, distance: d, sub: c}
		}
	}
	return best
}

// availableStrategy finds an unused register that stays free for at least
// minHole instructions, so the head of s fits before its next holder
func (a *Allocation) availableStrategy(seg *iml.Segment, s *Subrange, unusedMask uint32, minHole int) strategy {
	best := noStrategy()
	cur := s.Start.Index
	if cur < 0 || unusedMask == 0 {
		return best
	}
	required := s.End.Index - cur
	for t := 0; t < a.registers; t++ {
		if unusedMask&(1<<uint(t)) == 0 {
			continue
		}
		d := a.untilNextPhysicalUse(seg.ID, cur, t)
		if d < minHole || d >= required {
			continue
		}
		cost := a.splitCost(s, cur+d) + (required-d)/10
		if cost < best.cost {
			best = strategy{cost: cost, distance: d, phys: t}
		}
	}
	return best
}

// explodeStrategy finds the cheapest live range crossing the segment end
// whose next use is at least minHole instructions away
func (a *Allocation) explodeStrategy(s *Subrange, live []*Subrange, minHole int) strategy {
	best := noStrategy()
	cur := s.Start.Index
	required := s.End.Index - cur
	for _, c := range live {
		if c.End.Index != iml.InterRangeEnd {
			continue
		}
		d := c.untilNextUse(cur)
		if d < minHole {
			continue
		}
		r := a.ranges[c.Range]
		cost := a.explodeCost(r)
		if d < required {
			cost += a.splitCost(s, cur+d) + (required-d)/10
		}
		if cost < best.cost {
			best = strategy{cost: cost, distance: d, rng: r}
		}
	}
	return best
}

// explodeFor explodes the range of e and splits s where the freed register
// is needed again
func (a *Allocation) explodeFor(s *Subrange, e strategy) error {
	a.explode(e.rng)
	if s.End.Index-s.Start.Index > e.distance {
		_, err := a.splitLocal(s, s.Start.Index+e.distance, true)
		return err
	}
	return nil
}

func (a *Allocation) cutHole(s *Subrange, hole strategy) error {
	a.stats.HoleCuts++
	cur := s.Start.Index
	if _, err := a.splitLocal(hole.sub, cur+hole.distance, true); err != nil {
		return err
	}
	if s.End.Index-cur > hole.distance {
		_, err := a.splitLocal(s, cur+hole.distance, true)
		return err
	}
	return nil
}

// explodeCheapest resolves a conflict of a subrange leaving its segment by
// exploding the cheapest range crossing the segment end, possibly its own
func (a *Allocation) explodeCheapest(s *Subrange, live []*Subrange) error {
	best := noStrategy()
	for _, c := range live {
		if c.End.Index != iml.InterRangeEnd {
			continue
		}
		r := a.ranges[c.Range]
		if cost := a.explodeCost(r); cost < best.cost {
			best = strategy{cost: cost, rng: r}
		}
	}
	own := a.ranges[s.Range]
	if cost := a.explodeCost(own); cost < best.cost {
		best = strategy{cost: cost, rng: own}
	}
	if !best.ok() {
		return invariantf("no range to explode for vreg %d", own.VReg)
	}
	a.explode(best.rng)
	return nil
}

// assignRegisters runs assignment passes, hottest segments first, until a
// pass completes without conflict
func (a *Allocation) assignRegisters(maxIterations int) error {
	depth := a.fn.MaxLoopDepth()
	segs := a.fn.Segments()
	for iter := 0; ; iter++ {
		if iter >= maxIterations {
			return invariantf("register assignment did not settle after %d passes", maxIterations)
		}
		done := true
		for d := depth; d >= 0 && done; d-- {
			for _, s := range segs {
				if s.LoopDepth != d {
					continue
				}
				ok, err := a.assignSegment(s)
				if err != nil {
					return err
				}
				if !ok {
					done = false
					break
				}
			}
		}
		if done {
			return nil
		}
		a.stats.Restarts++
	}
}
