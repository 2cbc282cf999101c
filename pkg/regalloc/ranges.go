package regalloc

import (
	"ppcrec/pkg/iml"

	"golang.org/x/exp/slices"
)

// RangeID is a handle into the range arena of one allocation
type RangeID int32

// SubrangeID is a handle into the subrange arena of one allocation
type SubrangeID int32

// NoSubrange marks a missing subrange link
const NoSubrange SubrangeID = -1

// Location is one access of a virtual register inside a subrange
type Location struct {
	Index int
	Read  bool
	Write bool
}

// Range is the whole cross-segment lifetime of one virtual register. All of
// its subranges share Physical.
type Range struct {
	ID        RangeID
	VReg      iml.VReg
	Name      iml.Name
	Physical  int // -1 until assigned
	Subranges []SubrangeID
}

// Subrange is the part of a range inside one segment. Start and End are
// registered segment points, so they follow instruction insertion.
type Subrange struct {
	ID      SubrangeID
	Range   RangeID
	Segment iml.SegmentID
	Start   iml.Point
	End     iml.Point

	Locations []Location

	// continuation in the successor segments, only set when End is InterRangeEnd
	Taken    SubrangeID
	NotTaken SubrangeID

	NoLoad          bool
	HasStore        bool
	HasDelayedStore bool

	visit uint32
}

// Allocation owns the ranges and subranges of one register allocation run
type Allocation struct {
	fn        *iml.Function
	registers int

	ranges    []*Range
	subranges []*Subrange
	bySegment [][]SubrangeID // subranges of each segment, indexed by SegmentID

	gen   uint32
	stats Stats
}

func newAllocation(fn *iml.Function, registers int) *Allocation {
	return &Allocation{
		fn:        fn,
		registers: registers,
		bySegment: make([][]SubrangeID, fn.Arena()),
	}
}

// Ranges returns the live ranges
func (a *Allocation) Ranges() []*Range {
	var out []*Range
	for _, r := range a.ranges {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Range returns the range for a handle
func (a *Allocation) Range(id RangeID) *Range {
	return a.ranges[id]
}

// Subrange returns the subrange for a handle, nil for NoSubrange
func (a *Allocation) Subrange(id SubrangeID) *Subrange {
	if id == NoSubrange {
		return nil
	}
	return a.subranges[id]
}

// SegmentSubranges returns the subranges inside a segment
func (a *Allocation) SegmentSubranges(id iml.SegmentID) []*Subrange {
	out := make([]*Subrange, 0, len(a.bySegment[id]))
	for _, s := range a.bySegment[id] {
		out = append(out, a.subranges[s])
	}
	return out
}

func (a *Allocation) nextGeneration() uint32 {
	a.gen++
	return a.gen
}

func (a *Allocation) newRange(reg iml.VReg, name iml.Name) *Range {
	r := &Range{
		ID:       RangeID(len(a.ranges)),
		VReg:     reg,
		Name:     name,
		Physical: -1,
	}
	a.ranges = append(a.ranges, r)
	a.stats.Ranges++
	return r
}

func (a *Allocation) newSubrange(r *Range, seg iml.SegmentID, start, end int) *Subrange {
	s := &Subrange{
		ID:       SubrangeID(len(a.subranges)),
		Range:    r.ID,
		Segment:  seg,
		Start:    iml.Point{Index: start},
		End:      iml.Point{Index: end},
		Taken:    NoSubrange,
		NotTaken: NoSubrange,
	}
	a.subranges = append(a.subranges, s)
	r.Subranges = append(r.Subranges, s.ID)
	a.bySegment[seg] = append(a.bySegment[seg], s.ID)

	segment := a.fn.Segment(seg)
	segment.RegisterPoint(&s.Start)
	segment.RegisterPoint(&s.End)
	return s
}

// unlinkSubrange removes s from its segment and releases its points
func (a *Allocation) unlinkSubrange(s *Subrange) {
	segment := a.fn.Segment(s.Segment)
	segment.UnregisterPoint(&s.Start)
	segment.UnregisterPoint(&s.End)
	list := a.bySegment[s.Segment]
	if i := slices.Index(list, s.ID); i >= 0 {
		a.bySegment[s.Segment] = slices.Delete(list, i, i+1)
	}
	a.subranges[s.ID] = nil
}

func (a *Allocation) deleteRange(r *Range) {
	for _, id := range r.Subranges {
		a.unlinkSubrange(a.subranges[id])
	}
	r.Subranges = nil
	a.ranges[r.ID] = nil
}

// release detaches every point so the segments can be reused
func (a *Allocation) release() {
	for _, s := range a.fn.Segments() {
		s.ClearPoints()
	}
}

// addLocation records an access, merging accesses of the same instruction
func (s *Subrange) addLocation(index int, read, write bool) {
	if n := len(s.Locations); n > 0 && s.Locations[n-1].Index == index {
		s.Locations[n-1].Read = s.Locations[n-1].Read || read
		s.Locations[n-1].Write = s.Locations[n-1].Write || write
		return
	}
	s.Locations = append(s.Locations, Location{Index: index, Read: read, Write: write})
}

// untilNextUse returns the instruction distance from index to the next
// access at or after it
func (s *Subrange) untilNextUse(index int) int {
	for _, l := range s.Locations {
		if l.Index >= index {
			return l.Index - index
		}
	}
	return maxDistance
}

// overlaps reports whether two subranges of the same segment are live at
// the same time. Two subranges entering or leaving through the same
// boundary always overlap.
func overlaps(a, b *Subrange) bool {
	if a.Start.Index < b.End.Index && a.End.Index > b.Start.Index {
		return true
	}
	if a.Start.Index == iml.InterRangeStart && b.Start.Index == iml.InterRangeStart {
		return true
	}
	return a.End.Index == iml.InterRangeEnd && b.End.Index == iml.InterRangeEnd
}

// splitLocal cuts s at index and moves the tail into a new range without a
// physical register. With trim the head ends after its last access and the
// tail starts at its first one. The tail is nil when no access follows index.
func (a *Allocation) splitLocal(s *Subrange, index int, trim bool) (*Subrange, error) {
	if s.End.Index == iml.InterRangeEnd || s.Start.Index >= index || s.End.Index <= index {
		return nil, invariantf("split of subrange [%d,%d) at %d", s.Start.Index, s.End.Index, index)
	}
	head := a.ranges[s.Range]
	a.stats.Splits++

	cut := len(s.Locations)
	for i, l := range s.Locations {
		if l.Index >= index {
			cut = i
			break
		}
	}
	tailLocations := append([]Location(nil), s.Locations[cut:]...)
	s.Locations = s.Locations[:cut]

	var tail *Subrange
	if len(tailLocations) > 0 {
		r := a.newRange(head.VReg, head.Name)
		tail = a.newSubrange(r, s.Segment, index, s.End.Index)
		tail.Locations = tailLocations
	}
	if trim {
		if len(s.Locations) == 0 {
			s.End.Index = s.Start.Index + 1
		} else {
			s.End.Index = s.Locations[len(s.Locations)-1].Index + 1
		}
		if tail != nil {
			tail.Start.Index = tail.Locations[0].Index
		}
	} else {
		s.End.Index = index
	}
	return tail, nil
}

// explode replaces r by one local range per accessed subrange, so the value
// passes every segment boundary through named storage
func (a *Allocation) explode(r *Range) {
	a.stats.Explodes++
	for _, id := range r.Subranges {
		s := a.subranges[id]
		if len(s.Locations) == 0 {
			continue
		}
		nr := a.newRange(r.VReg, r.Name)
		first, last := s.Locations[0].Index, s.Locations[len(s.Locations)-1].Index
		ns := a.newSubrange(nr, s.Segment, first, last+1)
		ns.Locations = append(ns.Locations, s.Locations...)
	}
	a.deleteRange(r)
}
