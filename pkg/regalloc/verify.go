package regalloc

import (
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"
)

func invariantf(format string, args ...interface{}) error {
	return errors.Invariantf(format, args...)
}

// Verify checks that every range holds a register, that the subranges of a
// range agree with it and that overlapping subranges of different ranges
// never share a register
func Verify(fn *iml.Function, a *Allocation) error {
	for _, r := range a.Ranges() {
		if r.Physical < 0 || r.Physical >= a.registers {
			return invariantf("range %d of vreg %d holds register %d", r.ID, r.VReg, r.Physical)
		}
		for _, id := range r.Subranges {
			s := a.Subrange(id)
			if s == nil || s.Range != r.ID {
				return invariantf("range %d lists foreign subrange %d", r.ID, id)
			}
			for _, link := range []SubrangeID{s.Taken, s.NotTaken} {
				if l := a.Subrange(link); link != NoSubrange && (l == nil || l.Range != r.ID) {
					return invariantf("subrange %d of range %d continues into another range", id, r.ID)
				}
			}
		}
	}

	for _, seg := range fn.Segments() {
		subs := a.SegmentSubranges(seg.ID)
		for i, x := range subs {
			if x.Segment != seg.ID {
				return invariantf("subrange %d listed in segment %d belongs to %d", x.ID, seg.ID, x.Segment)
			}
			for _, y := range subs[i+1:] {
				if x.Range == y.Range || !overlaps(x, y) {
					continue
				}
				if a.Range(x.Range).Physical == a.Range(y.Range).Physical {
					return invariantf("segment %d: overlapping ranges %d and %d share register %d",
						seg.ID, x.Range, y.Range, a.Range(x.Range).Physical)
				}
			}
		}
	}
	return nil
}
