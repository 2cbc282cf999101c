package regalloc

import "ppcrec/pkg/iml"

// materialize inserts the loads and stores at subrange boundaries and
// rewrites every virtual register operand to its physical register
func (a *Allocation) materialize() error {
	for _, s := range a.fn.Segments() {
		if err := a.materializeSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocation) load(s *Subrange) iml.Instruction {
	r := a.ranges[s.Range]
	a.stats.Loads++
	return iml.MakeRName(iml.VReg(r.Physical), r.Name)
}

func (a *Allocation) store(s *Subrange) iml.Instruction {
	r := a.ranges[s.Range]
	a.stats.Stores++
	return iml.MakeNameR(r.Name, iml.VReg(r.Physical))
}

func (a *Allocation) materializeSegment(seg *iml.Segment) error {
	a.sortSegment(seg.ID)
	subs := a.SegmentSubranges(seg.ID)
	suffix := seg.SuffixCount()

	physOf := make([]iml.VReg, a.fn.NumVRegs())
	for i := range physOf {
		physOf[i] = iml.InvalidVReg
	}
	bind := func(s *Subrange) error {
		r := a.ranges[s.Range]
		if physOf[r.VReg] != iml.InvalidVReg {
			return invariantf("segment %d: vreg %d bound twice", seg.ID, r.VReg)
		}
		physOf[r.VReg] = iml.VReg(r.Physical)
		return nil
	}

	var live []*Subrange
	for _, s := range subs {
		if s.Start.Index == iml.InterRangeStart {
			live = append(live, s)
			if err := bind(s); err != nil {
				return err
			}
		}
	}

	for index := 0; index < seg.Len()+1; index++ {
		kept := live[:0]
		for _, s := range live {
			if s.End.Index > index {
				kept = append(kept, s)
				continue
			}
			physOf[a.ranges[s.Range].VReg] = iml.InvalidVReg
			if s.HasStore {
				seg.InsertInstruction(min(index, seg.Len()-suffix), a.store(s))
				index++
			}
		}
		live = kept

		for _, s := range subs {
			if s.Start.Index != index {
				continue
			}
			live = append(live, s)
			if !s.NoLoad {
				seg.InsertInstruction(min(index, seg.Len()-suffix), a.load(s))
				index++
				s.Start.Index--
			}
			if err := bind(s); err != nil {
				return err
			}
		}

		if index < seg.Len() {
			in := &seg.Instructions[index]
			var missing iml.VReg = iml.InvalidVReg
			in.ReplaceRegisters(func(r iml.VReg) iml.VReg {
				p := physOf[r]
				if p == iml.InvalidVReg {
					missing = r
				}
				return p
			})
			if missing != iml.InvalidVReg {
				return invariantf("segment %d: vreg %d used at %d outside its range", seg.ID, missing, index)
			}
		}
	}

	// values leaving through the segment end are stored before the suffix,
	// values entering the successors are loaded after those stores
	var stores, loads []iml.Instruction
	for _, s := range live {
		if s.End.Index != iml.InterRangeEnd {
			return invariantf("segment %d: subrange of vreg %d still live after the last instruction", seg.ID, a.ranges[s.Range].VReg)
		}
		physOf[a.ranges[s.Range].VReg] = iml.InvalidVReg
		if s.HasStore {
			stores = append(stores, a.store(s))
		}
	}
	for _, s := range subs {
		if s.Start.Index != iml.InterRangeEnd {
			continue
		}
		if !s.NoLoad {
			loads = append(loads, a.load(s))
		}
	}
	for _, in := range append(stores, loads...) {
		seg.InsertInstruction(seg.Len()-suffix, in)
	}
	return nil
}
