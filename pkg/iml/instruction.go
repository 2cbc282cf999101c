package iml

// VReg is a virtual register local to one function. After allocation the same
// field holds a physical register number.
type VReg int16

// InvalidVReg marks an unused register operand
const InvalidVReg VReg = -1

// CRNone marks an instruction that does not update a condition register field
const CRNone uint8 = 0xFF

// CRTemporary is the compiler-owned condition register field
const CRTemporary uint8 = 8

// Condition register bits within a field
const (
	CRBitLT = 0
	CRBitGT = 1
	CRBitEQ = 2
	CRBitSO = 3
)

// Type is the instruction kind
type Type uint8

const (
	TypeNoOp Type = iota
	TypeJumpmark
	TypePPCEnter
	TypeRName // RegR = name
	TypeNameR // name = RegR
	TypeRR
	TypeRS32
	TypeRRS32
	TypeRRR
	TypeRRRCarry
	TypeRRS32Carry
	TypeConditionalRS32
	TypeLoad
	TypeLoadIndexed
	TypeStore
	TypeStoreIndexed
	TypeMem2Mem
	TypeCR
	TypeCJump
	TypeCycleCheck
	TypeMacro
)

// Op selects the operation of register and CR instructions
type Op uint8

const (
	OpNone Op = iota
	OpAssign
	OpEndianSwap
	OpAdd
	OpSub
	OpMultiplySigned
	OpMultiplyHighSigned
	OpMultiplyHighUnsigned
	OpDivideSigned
	OpDivideUnsigned
	OpAnd
	OpOr
	OpXor
	OpAndC
	OpOrC
	OpNand
	OpNor
	OpEqv
	OpNot
	OpNeg
	OpCountLeadingZeros
	OpSignExtendS8
	OpSignExtendS16
	OpShiftLeft
	OpShiftRightUnsigned
	OpLeftRotate
	OpRLWINM // Imm packs SH | MB<<8 | ME<<16
	OpRLWIMI
	OpRLWNM // rotate by RegB, Imm packs MB<<8 | ME<<16
	OpCompareSigned
	OpCompareUnsigned
	OpMFCR
	OpMTCRF

	// carry producing ops, RegCarry holds XER[CA]
	OpAddCarry        // R = A + B
	OpAddCarryIn      // R = A + B + CA
	OpSubCarry        // R = B - A
	OpSubCarryIn      // R = ^A + B + CA
	OpShiftRightSigned

	// condition register logic, operands are CR bit indices
	OpCROr
	OpCRAnd
	OpCRXor
	OpCRNor
	OpCRNand
	OpCREqv
	OpCRAndC
	OpCROrC
	OpMCRF // CRD/CRA are field indices
)

// ReadsCarry reports whether a carry op consumes the incoming carry bit
func (op Op) ReadsCarry() bool {
	return op == OpAddCarryIn || op == OpSubCarryIn
}

// CRMode describes how an instruction updates its condition register field
type CRMode uint8

const (
	CRModeNone CRMode = iota
	CRModeCompareSigned
	CRModeCompareUnsigned
	CRModeLogical    // result compared against zero
	CRModeArithmetic // result compared against zero, SO copied
)

// Condition of a conditional jump or conditional assign
type Condition uint8

const (
	CondAlways Condition = iota
	CondCRBit
)

// MacroOp is the operation of a macro instruction
type MacroOp uint8

const (
	MacroNone MacroOp = iota
	MacroBL
	MacroBFar
	MacroBLR
	MacroBLRL
	MacroBCTR
	MacroBCTRL
	MacroLeave
	MacroMFTB
	MacroHLE
	MacroCountCycles
)

// Instruction is one IML instruction. Fields not used by a Type are zero,
// with unused register operands set to InvalidVReg.
type Instruction struct {
	Type Type
	Op   Op

	RegR     VReg // result or memory data
	RegA     VReg // operand or memory base
	RegB     VReg // operand or memory index
	RegCarry VReg

	Imm        int32 // immediate, displacement, packed rotate, CR mask
	Imm2       int32 // second displacement of Mem2Mem
	Name       Name
	Width      uint8 // memory access width in bits
	SignExtend bool
	SwapEndian bool

	CRRegister uint8
	CRMode     CRMode

	// conditional jumps and conditional assigns
	Cond            Condition
	CondCR          uint8
	CondBit         uint8
	BitMustBeSet    bool
	JumpmarkAddress uint32
	JumpBySegment   bool

	// condition register logic
	CRD, CRA, CRB uint8

	Macro  MacroOp
	Param  uint32
	Param2 uint32

	// Address is the guest address the instruction was decoded from, 0 when synthesized
	Address uint32
}

func newInstruction(t Type) Instruction {
	return Instruction{
		Type:       t,
		RegR:       InvalidVReg,
		RegA:       InvalidVReg,
		RegB:       InvalidVReg,
		RegCarry:   InvalidVReg,
		CRRegister: CRNone,
	}
}

// MakeNoOp creates a no-op
func MakeNoOp() Instruction {
	return newInstruction(TypeNoOp)
}

// MakeJumpmark creates a branch target placeholder
func MakeJumpmark(address uint32) Instruction {
	in := newInstruction(TypeJumpmark)
	in.JumpmarkAddress = address
	return in
}

// MakePPCEnter creates an external entry placeholder
func MakePPCEnter(address uint32) Instruction {
	in := newInstruction(TypePPCEnter)
	in.Param = address
	return in
}

// MakeRName loads reg from named storage
func MakeRName(reg VReg, name Name) Instruction {
	in := newInstruction(TypeRName)
	in.RegR = reg
	in.Name = name
	in.Width = 32
	return in
}

// MakeNameR stores reg to named storage
func MakeNameR(name Name, reg VReg) Instruction {
	in := newInstruction(TypeNameR)
	in.RegR = reg
	in.Name = name
	in.Width = 32
	return in
}

// MakeRR creates a register-register op
func MakeRR(op Op, r, a VReg, cr uint8, mode CRMode) Instruction {
	in := newInstruction(TypeRR)
	in.Op = op
	in.RegR = r
	in.RegA = a
	in.CRRegister = cr
	in.CRMode = mode
	return in
}

// MakeRS32 creates a register-immediate op
func MakeRS32(op Op, r VReg, imm int32, cr uint8, mode CRMode) Instruction {
	in := newInstruction(TypeRS32)
	in.Op = op
	in.RegR = r
	in.Imm = imm
	in.CRRegister = cr
	in.CRMode = mode
	return in
}

// MakeRRS32 creates a register-register-immediate op
func MakeRRS32(op Op, r, a VReg, imm int32, cr uint8, mode CRMode) Instruction {
	in := newInstruction(TypeRRS32)
	in.Op = op
	in.RegR = r
	in.RegA = a
	in.Imm = imm
	in.CRRegister = cr
	in.CRMode = mode
	return in
}

// MakeRRR creates a three register op
func MakeRRR(op Op, r, a, b VReg, cr uint8, mode CRMode) Instruction {
	in := newInstruction(TypeRRR)
	in.Op = op
	in.RegR = r
	in.RegA = a
	in.RegB = b
	in.CRRegister = cr
	in.CRMode = mode
	return in
}

// MakeRRRCarry creates a three register op that updates the carry register
func MakeRRRCarry(op Op, r, a, b, carry VReg, cr uint8, mode CRMode) Instruction {
	in := MakeRRR(op, r, a, b, cr, mode)
	in.Type = TypeRRRCarry
	in.RegCarry = carry
	return in
}

// MakeRRS32Carry creates a register-immediate op that updates the carry register
func MakeRRS32Carry(op Op, r, a VReg, imm int32, carry VReg, cr uint8, mode CRMode) Instruction {
	in := MakeRRS32(op, r, a, imm, cr, mode)
	in.Type = TypeRRS32Carry
	in.RegCarry = carry
	return in
}

// MakeConditionalRS32 assigns imm to r when the CR bit matches
func MakeConditionalRS32(op Op, r VReg, imm int32, crField, crBit uint8, mustBeSet bool) Instruction {
	in := newInstruction(TypeConditionalRS32)
	in.Op = op
	in.RegR = r
	in.Imm = imm
	in.Cond = CondCRBit
	in.CondCR = crField
	in.CondBit = crBit
	in.BitMustBeSet = mustBeSet
	return in
}

// MakeLoad creates a memory load from mem+imm
func MakeLoad(data, mem VReg, imm int32, width uint8, signExtend, swapEndian bool) Instruction {
	in := newInstruction(TypeLoad)
	in.RegR = data
	in.RegA = mem
	in.Imm = imm
	in.Width = width
	in.SignExtend = signExtend
	in.SwapEndian = swapEndian
	return in
}

// MakeLoadIndexed creates a memory load from mem+mem2
func MakeLoadIndexed(data, mem, mem2 VReg, width uint8, signExtend, swapEndian bool) Instruction {
	in := MakeLoad(data, mem, 0, width, signExtend, swapEndian)
	in.Type = TypeLoadIndexed
	in.RegB = mem2
	return in
}

// MakeStore creates a memory store to mem+imm
func MakeStore(data, mem VReg, imm int32, width uint8, swapEndian bool) Instruction {
	in := newInstruction(TypeStore)
	in.RegR = data
	in.RegA = mem
	in.Imm = imm
	in.Width = width
	in.SwapEndian = swapEndian
	return in
}

// MakeStoreIndexed creates a memory store to mem+mem2
func MakeStoreIndexed(data, mem, mem2 VReg, width uint8, swapEndian bool) Instruction {
	in := MakeStore(data, mem, 0, width, swapEndian)
	in.Type = TypeStoreIndexed
	in.RegB = mem2
	return in
}

// MakeMem2Mem copies width bits from src+srcImm to dst+dstImm
func MakeMem2Mem(src VReg, srcImm int32, dst VReg, dstImm int32, width uint8) Instruction {
	in := newInstruction(TypeMem2Mem)
	in.RegA = src
	in.Imm = srcImm
	in.RegB = dst
	in.Imm2 = dstImm
	in.Width = width
	return in
}

// MakeCR creates a condition register logic op
func MakeCR(op Op, crD, crA, crB uint8) Instruction {
	in := newInstruction(TypeCR)
	in.Op = op
	in.CRD = crD
	in.CRA = crA
	in.CRB = crB
	return in
}

// MakeJump creates an unconditional jump to a jumpmark
func MakeJump(target uint32) Instruction {
	in := newInstruction(TypeCJump)
	in.Cond = CondAlways
	in.JumpmarkAddress = target
	return in
}

// MakeCJump creates a conditional jump to a jumpmark
func MakeCJump(target uint32, crField, crBit uint8, mustBeSet bool) Instruction {
	in := MakeJump(target)
	in.Cond = CondCRBit
	in.CondCR = crField
	in.CondBit = crBit
	in.BitMustBeSet = mustBeSet
	return in
}

// MakeSegmentJump creates an unconditional jump that follows the segment's taken link
func MakeSegmentJump() Instruction {
	in := newInstruction(TypeCJump)
	in.Cond = CondAlways
	in.JumpBySegment = true
	return in
}

// MakeCycleCheck creates the remaining-cycles test of a loop guard
func MakeCycleCheck(target uint32) Instruction {
	in := newInstruction(TypeCycleCheck)
	in.JumpmarkAddress = target
	return in
}

// MakeMacro creates a macro instruction
func MakeMacro(op MacroOp, param, param2 uint32) Instruction {
	in := newInstruction(TypeMacro)
	in.Macro = op
	in.Param = param
	in.Param2 = param2
	return in
}

// IsSuffix reports whether the instruction must terminate its segment
func (in *Instruction) IsSuffix() bool {
	switch in.Type {
	case TypeCJump, TypeCycleCheck:
		return true
	case TypeMacro:
		return in.Macro != MacroCountCycles
	}
	return false
}

// IsUnconditionalJump reports whether the instruction is a jump without condition
func (in *Instruction) IsUnconditionalJump() bool {
	return in.Type == TypeCJump && in.Cond == CondAlways
}

// IsPlaceholder reports whether the instruction is erased during segmentation
func (in *Instruction) IsPlaceholder() bool {
	return in.Type == TypeJumpmark || in.Type == TypePPCEnter
}
