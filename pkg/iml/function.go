package iml

// AddressRange is a half-open guest address range
type AddressRange struct {
	Start uint32
	Size  uint32
}

// Contains reports whether addr lies in the range
func (r AddressRange) Contains(addr uint32) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// Function is one compilation unit. Segments live in an arena addressed by
// SegmentID; Order holds their program order.
type Function struct {
	EntryAddress uint32
	Size         uint32
	Ranges       []AddressRange // covered code including inlined callees

	Order     []SegmentID
	VRegNames []Name // name bound to each virtual register

	segments []*Segment
}

// NewFunction creates an empty function
func NewFunction(entry, size uint32) *Function {
	return &Function{
		EntryAddress: entry,
		Size:         size,
	}
}

// Segment returns the segment for a handle
func (f *Function) Segment(id SegmentID) *Segment {
	if id == NoSegment {
		return nil
	}
	return f.segments[id]
}

// NumSegments returns the number of segments in program order
func (f *Function) NumSegments() int {
	return len(f.Order)
}

// Arena returns the size of the segment arena, including unordered segments
func (f *Function) Arena() int {
	return len(f.segments)
}

// Segments returns segments in program order
func (f *Function) Segments() []*Segment {
	out := make([]*Segment, len(f.Order))
	for i, id := range f.Order {
		out[i] = f.segments[id]
	}
	return out
}

// At returns the segment at program order position i
func (f *Function) At(i int) *Segment {
	return f.segments[f.Order[i]]
}

func (f *Function) newSegment() *Segment {
	s := &Segment{
		ID:             SegmentID(len(f.segments)),
		BranchTaken:    NoSegment,
		BranchNotTaken: NoSegment,
	}
	f.segments = append(f.segments, s)
	return s
}

// AppendSegment adds a new segment at the end of program order
func (f *Function) AppendSegment() *Segment {
	s := f.newSegment()
	s.Index = len(f.Order)
	f.Order = append(f.Order, s.ID)
	return s
}

// InsertSegments adds n new segments at program order position pos
func (f *Function) InsertSegments(pos, n int) []*Segment {
	out := make([]*Segment, n)
	ids := make([]SegmentID, n)
	for i := range out {
		out[i] = f.newSegment()
		ids[i] = out[i].ID
	}
	order := make([]SegmentID, 0, len(f.Order)+n)
	order = append(order, f.Order[:pos]...)
	order = append(order, ids...)
	order = append(order, f.Order[pos:]...)
	f.Order = order
	f.Renumber()
	return out
}

// Renumber refreshes every segment's program order index
func (f *Function) Renumber() {
	for i, id := range f.Order {
		f.segments[id].Index = i
	}
}

func (f *Function) removePrev(dst, src SegmentID) {
	if dst == NoSegment {
		return
	}
	d := f.segments[dst]
	for i, p := range d.Prev {
		if p == src {
			d.Prev = append(d.Prev[:i], d.Prev[i+1:]...)
			return
		}
	}
}

func (f *Function) addPrev(dst, src SegmentID) {
	if dst == NoSegment {
		return
	}
	d := f.segments[dst]
	d.Prev = append(d.Prev, src)
}

// SetBranchTaken links src's taken edge to dst, NoSegment clears it
func (f *Function) SetBranchTaken(src, dst SegmentID) {
	s := f.segments[src]
	f.removePrev(s.BranchTaken, src)
	s.BranchTaken = dst
	f.addPrev(dst, src)
}

// SetBranchNotTaken links src's fall-through edge to dst, NoSegment clears it
func (f *Function) SetBranchNotTaken(src, dst SegmentID) {
	s := f.segments[src]
	f.removePrev(s.BranchNotTaken, src)
	s.BranchNotTaken = dst
	f.addPrev(dst, src)
}

// RelinkInputs moves every incoming edge of from onto to
func (f *Function) RelinkInputs(from, to SegmentID) {
	prev := append([]SegmentID(nil), f.segments[from].Prev...)
	for _, p := range prev {
		ps := f.segments[p]
		if ps.BranchTaken == from {
			f.SetBranchTaken(p, to)
		}
		if ps.BranchNotTaken == from {
			f.SetBranchNotTaken(p, to)
		}
	}
}

// NumVRegs returns the number of virtual registers in use
func (f *Function) NumVRegs() int {
	return len(f.VRegNames)
}

// NameOf returns the named storage slot bound to a virtual register
func (f *Function) NameOf(r VReg) Name {
	if r < 0 || int(r) >= len(f.VRegNames) {
		return NameNone
	}
	return f.VRegNames[r]
}

// Contains reports whether addr lies in code covered by the function
func (f *Function) Contains(addr uint32) bool {
	if addr >= f.EntryAddress && addr-f.EntryAddress < f.Size {
		return true
	}
	for _, r := range f.Ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// MaxLoopDepth returns the deepest loop nesting of any segment
func (f *Function) MaxLoopDepth() int {
	depth := 0
	for _, id := range f.Order {
		if d := f.segments[id].LoopDepth; d > depth {
			depth = d
		}
	}
	return depth
}

// Marks records per-segment visit generations for graph walks. Every walk
// starts a new generation, so no clearing is needed between walks.
type Marks struct {
	gen  uint32
	seen []uint32
}

// NewMarks creates visit marks sized for f
func NewMarks(f *Function) *Marks {
	return &Marks{seen: make([]uint32, len(f.segments))}
}

// Next starts a new walk and returns its generation
func (m *Marks) Next() uint32 {
	m.gen++
	return m.gen
}

// Visit marks id in the current generation, reporting whether it was unmarked
func (m *Marks) Visit(id SegmentID) bool {
	for int(id) >= len(m.seen) {
		m.seen = append(m.seen, 0)
	}
	if m.seen[id] == m.gen {
		return false
	}
	m.seen[id] = m.gen
	return true
}
