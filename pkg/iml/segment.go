package iml

// Sentinel instruction indices of segment points. A point at InterRangeStart
// continues from the segment's predecessors, one at InterRangeEnd continues
// into its successors. Sentinels never move when instructions are inserted.
const (
	InterRangeStart = -1
	InterRangeEnd   = 0x7FFF
)

// SegmentID is a stable handle into a function's segment arena
type SegmentID int32

// NoSegment marks a missing segment link
const NoSegment SegmentID = -1

// Point tracks an instruction index within a segment across insertions
type Point struct {
	Index int
}

// IsSentinel reports whether the point sits on a segment boundary sentinel
func (p *Point) IsSentinel() bool {
	return p.Index == InterRangeStart || p.Index == InterRangeEnd
}

// Segment is a straight-line run of instructions with at most one trailing
// suffix instruction.
type Segment struct {
	ID    SegmentID
	Index int // position in program order, refreshed by Function.Renumber

	Instructions []Instruction

	// guest address range covered, both zero for synthesized segments
	AddrMin uint32
	AddrMax uint32

	IsEnterable       bool
	EnterAddress      uint32
	IsJumpDestination bool
	JumpAddress       uint32

	BranchTaken    SegmentID
	BranchNotTaken SegmentID
	Prev           []SegmentID
	Uncertain      bool

	LoopDepth int

	points []*Point
}

// HasAddressRange reports whether the segment covers guest code
func (s *Segment) HasAddressRange() bool {
	return s.AddrMin != 0 || s.AddrMax != 0
}

// Len returns the number of instructions
func (s *Segment) Len() int {
	return len(s.Instructions)
}

// Last returns the final instruction or nil for an empty segment
func (s *Segment) Last() *Instruction {
	if len(s.Instructions) == 0 {
		return nil
	}
	return &s.Instructions[len(s.Instructions)-1]
}

// SuffixCount returns 1 when the segment ends with a suffix instruction
func (s *Segment) SuffixCount() int {
	if last := s.Last(); last != nil && last.IsSuffix() {
		return 1
	}
	return 0
}

// RegisterPoint attaches p so that it follows instruction shifts
func (s *Segment) RegisterPoint(p *Point) {
	s.points = append(s.points, p)
}

// UnregisterPoint detaches p
func (s *Segment) UnregisterPoint(p *Point) {
	for i, q := range s.points {
		if q == p {
			s.points[i] = s.points[len(s.points)-1]
			s.points[len(s.points)-1] = nil
			s.points = s.points[:len(s.points)-1]
			return
		}
	}
}

// ClearPoints detaches all points
func (s *Segment) ClearPoints() {
	s.points = nil
}

// Insert opens count no-op slots at index, shifting later instructions and points
func (s *Segment) Insert(index, count int) {
	if count <= 0 {
		return
	}
	s.Instructions = append(s.Instructions, make([]Instruction, count)...)
	copy(s.Instructions[index+count:], s.Instructions[index:len(s.Instructions)-count])
	for i := index; i < index+count; i++ {
		s.Instructions[i] = MakeNoOp()
	}
	for _, p := range s.points {
		if !p.IsSentinel() && p.Index >= index {
			p.Index += count
		}
	}
}

// InsertInstruction inserts in at index
func (s *Segment) InsertInstruction(index int, in Instruction) {
	s.Insert(index, 1)
	s.Instructions[index] = in
}

// Append adds instructions at the end
func (s *Segment) Append(ins ...Instruction) {
	s.Instructions = append(s.Instructions, ins...)
}

// Remove deletes count instructions at index. Points inside the removed
// window collapse onto index.
func (s *Segment) Remove(index, count int) {
	if count <= 0 {
		return
	}
	s.Instructions = append(s.Instructions[:index], s.Instructions[index+count:]...)
	for _, p := range s.points {
		if p.IsSentinel() || p.Index < index {
			continue
		}
		if p.Index >= index+count {
			p.Index -= count
		} else {
			p.Index = index
		}
	}
}

// Successors returns the linked successors, taken first
func (s *Segment) Successors() []SegmentID {
	var out []SegmentID
	if s.BranchTaken != NoSegment {
		out = append(out, s.BranchTaken)
	}
	if s.BranchNotTaken != NoSegment {
		out = append(out, s.BranchNotTaken)
	}
	return out
}
