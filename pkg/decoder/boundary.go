package decoder

import (
	"ppcrec/pkg/errors"
	"ppcrec/pkg/guestmem"
	"ppcrec/pkg/iml"
)

const opcodeNop = 0x60000000

// BoundaryTracker finds the extent of a function by following its control
// flow from the entry address
type BoundaryTracker struct {
	Mem   guestmem.Reader
	Limit int // maximum instructions in a function
	// host escapes that never return to the caller
	NoReturnHLE map[uint32]bool
}

// Track returns the contiguous code range reachable from entry. A path ends at
// an unconditional branch not followed by another one, an unconditional
// return, a bctr into padding, a zero word or a non-returning host escape.
func (t *BoundaryTracker) Track(entry uint32) (iml.AddressRange, error) {
	limit := uint32(t.Limit)
	if limit == 0 {
		limit = DefaultMaxInstructions
	}
	window := iml.AddressRange{Start: entry, Size: limit * 4}

	visited := make(map[uint32]bool)
	work := []uint32{entry}
	budget := int(limit) * 4
	for len(work) > 0 && budget > 0 {
		addr := work[len(work)-1]
		work = work[:len(work)-1]

		for window.Contains(addr) && !visited[addr] && budget > 0 {
			budget--
			op, err := t.Mem.ReadU32(addr)
			if err != nil || op == 0 {
				break
			}
			visited[addr] = true
			next := addr + 4
			stop := false

			switch primaryOpcode(op) {
			case 1:
				stop = t.NoReturnHLE[op&0xFFFF]
			case 16:
				if target := branchTargetB(op, addr); window.Contains(target) && !linkBit(op) {
					work = append(work, target)
				}
				if decodeBranchOptions(op).always() && !linkBit(op) {
					stop = true
				}
			case 18:
				if linkBit(op) {
					break
				}
				if target := branchTargetI(op, addr); window.Contains(target) {
					work = append(work, target)
				}
				// a run of branches is a jump table, keep scanning it
				if nextOp, err := t.Mem.ReadU32(next); err != nil || !isUnconditionalBranch(nextOp) {
					stop = true
				}
			case 19:
				b := decodeBranchOptions(op)
				switch extendedOpcode(op) {
				case 16:
					stop = b.always() && !linkBit(op)
				case 528:
					if b.always() && !linkBit(op) {
						nextOp, err := t.Mem.ReadU32(next)
						stop = err != nil || nextOp == opcodeNop || nextOp == 0 || !Supported(nextOp)
					}
				}
			}
			if stop {
				break
			}
			addr = next
		}
	}

	end := entry
	for visited[end] {
		end += 4
	}
	if end == entry {
		return iml.AddressRange{}, errors.Unsupportedf(entry, 0, "no decodable code at entry")
	}
	return iml.AddressRange{Start: entry, Size: end - entry}, nil
}
