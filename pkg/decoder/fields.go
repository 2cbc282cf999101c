package decoder

// Instruction word field extraction. Bit numbering follows the hardware
// manual's big-endian convention: field rD occupies bits 6-10 and so on.

func primaryOpcode(op uint32) uint32 { return op >> 26 }

func extendedOpcode(op uint32) uint32 { return (op >> 1) & 0x3FF }

func fieldD(op uint32) int { return int((op >> 21) & 31) }

func fieldA(op uint32) int { return int((op >> 16) & 31) }

func fieldB(op uint32) int { return int((op >> 11) & 31) }

func fieldMB(op uint32) int { return int((op >> 6) & 31) }

func fieldME(op uint32) int { return int((op >> 1) & 31) }

func fieldCRFD(op uint32) uint8 { return uint8((op >> 23) & 7) }

func fieldCRFS(op uint32) uint8 { return uint8((op >> 18) & 7) }

func fieldCRM(op uint32) int32 { return int32((op >> 12) & 0xFF) }

func fieldSPR(op uint32) int { return int((op>>16)&31) | int((op>>11)&31)<<5 }

func simm16(op uint32) int32 { return int32(int16(op & 0xFFFF)) }

func uimm16(op uint32) int32 { return int32(op & 0xFFFF) }

func recordBit(op uint32) bool { return op&1 != 0 }

func linkBit(op uint32) bool { return op&1 != 0 }

func absoluteBit(op uint32) bool { return op&2 != 0 }

// branchTargetI returns the target of an I-form branch at addr
func branchTargetI(op, addr uint32) uint32 {
	li := op & 0x03FFFFFC
	if li&0x02000000 != 0 {
		li |= 0xFC000000
	}
	if absoluteBit(op) {
		return li
	}
	return addr + li
}

// branchTargetB returns the target of a B-form conditional branch at addr
func branchTargetB(op, addr uint32) uint32 {
	bd := uint32(int32(int16(op & 0xFFFC)))
	if absoluteBit(op) {
		return bd
	}
	return addr + bd
}

// branch options of a B-form or XL-form branch
type branchOptions struct {
	bo int
	bi int
}

func decodeBranchOptions(op uint32) branchOptions {
	return branchOptions{bo: fieldD(op), bi: fieldA(op)}
}

func (b branchOptions) ignoresCondition() bool { return b.bo&16 != 0 }

func (b branchOptions) conditionTrue() bool { return b.bo&8 != 0 }

func (b branchOptions) ignoresCTR() bool { return b.bo&4 != 0 }

func (b branchOptions) branchIfCTRZero() bool { return b.bo&2 != 0 }

func (b branchOptions) always() bool { return b.ignoresCondition() && b.ignoresCTR() }

func (b branchOptions) crField() uint8 { return uint8(b.bi >> 2) }

func (b branchOptions) crBit() uint8 { return uint8(b.bi & 3) }

// rotate mask operands packed into an immediate
func packRotate(sh, mb, me int) int32 {
	return int32(sh&31) | int32(mb&31)<<8 | int32(me&31)<<16
}
