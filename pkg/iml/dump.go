package iml

import (
	"fmt"
	"io"
	"strings"
)

var opNames = map[Op]string{
	OpAssign:               "mov",
	OpEndianSwap:           "bswap",
	OpAdd:                  "add",
	OpSub:                  "sub",
	OpMultiplySigned:       "mul",
	OpMultiplyHighSigned:   "mulhs",
	OpMultiplyHighUnsigned: "mulhu",
	OpDivideSigned:         "divs",
	OpDivideUnsigned:       "divu",
	OpAnd:                  "and",
	OpOr:                   "or",
	OpXor:                  "xor",
	OpAndC:                 "andc",
	OpOrC:                  "orc",
	OpNand:                 "nand",
	OpNor:                  "nor",
	OpEqv:                  "eqv",
	OpNot:                  "not",
	OpNeg:                  "neg",
	OpCountLeadingZeros:    "cntlzw",
	OpSignExtendS8:         "sext8",
	OpSignExtendS16:        "sext16",
	OpShiftLeft:            "shl",
	OpShiftRightUnsigned:   "shr",
	OpLeftRotate:           "rol",
	OpRLWINM:               "rlwinm",
	OpRLWIMI:               "rlwimi",
	OpRLWNM:                "rlwnm",
	OpCompareSigned:        "cmp",
	OpCompareUnsigned:      "cmpl",
	OpMFCR:                 "mfcr",
	OpMTCRF:                "mtcrf",
	OpAddCarry:             "addc",
	OpAddCarryIn:           "adde",
	OpSubCarry:             "subfc",
	OpSubCarryIn:           "subfe",
	OpShiftRightSigned:     "sar",
	OpCROr:                 "cror",
	OpCRAnd:                "crand",
	OpCRXor:                "crxor",
	OpCRNor:                "crnor",
	OpCRNand:               "crnand",
	OpCREqv:                "creqv",
	OpCRAndC:               "crandc",
	OpCROrC:                "crorc",
	OpMCRF:                 "mcrf",
}

var macroNames = map[MacroOp]string{
	MacroBL:          "BL",
	MacroBFar:        "B_FAR",
	MacroBLR:         "BLR",
	MacroBLRL:        "BLRL",
	MacroBCTR:        "BCTR",
	MacroBCTRL:       "BCTRL",
	MacroLeave:       "LEAVE",
	MacroMFTB:        "MFTB",
	MacroHLE:         "HLE",
	MacroCountCycles: "COUNT_CYCLES",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op%d", uint8(op))
}

func (m MacroOp) String() string {
	if s, ok := macroNames[m]; ok {
		return s
	}
	return fmt.Sprintf("macro%d", uint8(m))
}

func (r VReg) String() string {
	if r == InvalidVReg {
		return "-"
	}
	return fmt.Sprintf("v%d", int(r))
}

func condString(crField, crBit uint8, mustBeSet bool) string {
	bit := [...]string{"lt", "gt", "eq", "so"}[crBit&3]
	if mustBeSet {
		return fmt.Sprintf("cr%d.%s", crField, bit)
	}
	return fmt.Sprintf("!cr%d.%s", crField, bit)
}

func memString(width uint8, signExtend, swapEndian bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "u%d", width)
	if signExtend {
		b.WriteString(".s")
	}
	if swapEndian {
		b.WriteString(".be")
	}
	return b.String()
}

func (in Instruction) String() string {
	var s string
	switch in.Type {
	case TypeNoOp:
		s = "nop"
	case TypeJumpmark:
		s = fmt.Sprintf("jumpmark 0x%08x", in.JumpmarkAddress)
	case TypePPCEnter:
		s = fmt.Sprintf("enter 0x%08x", in.Param)
	case TypeRName:
		s = fmt.Sprintf("%s = name[%s]", in.RegR, in.Name)
	case TypeNameR:
		s = fmt.Sprintf("name[%s] = %s", in.Name, in.RegR)
	case TypeRR:
		s = fmt.Sprintf("%s %s, %s", in.Op, in.RegR, in.RegA)
	case TypeRS32:
		s = fmt.Sprintf("%s %s, %d", in.Op, in.RegR, in.Imm)
	case TypeRRS32:
		s = fmt.Sprintf("%s %s, %s, %d", in.Op, in.RegR, in.RegA, in.Imm)
	case TypeRRR:
		s = fmt.Sprintf("%s %s, %s, %s", in.Op, in.RegR, in.RegA, in.RegB)
	case TypeRRRCarry:
		s = fmt.Sprintf("%s %s, %s, %s, ca=%s", in.Op, in.RegR, in.RegA, in.RegB, in.RegCarry)
	case TypeRRS32Carry:
		s = fmt.Sprintf("%s %s, %s, %d, ca=%s", in.Op, in.RegR, in.RegA, in.Imm, in.RegCarry)
	case TypeConditionalRS32:
		s = fmt.Sprintf("%s %s, %d if %s", in.Op, in.RegR, in.Imm, condString(in.CondCR, in.CondBit, in.BitMustBeSet))
	case TypeLoad:
		s = fmt.Sprintf("%s = %s[%s%+d]", in.RegR, memString(in.Width, in.SignExtend, in.SwapEndian), in.RegA, in.Imm)
	case TypeLoadIndexed:
		s = fmt.Sprintf("%s = %s[%s+%s]", in.RegR, memString(in.Width, in.SignExtend, in.SwapEndian), in.RegA, in.RegB)
	case TypeStore:
		s = fmt.Sprintf("%s[%s%+d] = %s", memString(in.Width, false, in.SwapEndian), in.RegA, in.Imm, in.RegR)
	case TypeStoreIndexed:
		s = fmt.Sprintf("%s[%s+%s] = %s", memString(in.Width, false, in.SwapEndian), in.RegA, in.RegB, in.RegR)
	case TypeMem2Mem:
		s = fmt.Sprintf("u%d[%s%+d] = u%d[%s%+d]", in.Width, in.RegB, in.Imm2, in.Width, in.RegA, in.Imm)
	case TypeCR:
		s = fmt.Sprintf("%s %d, %d, %d", in.Op, in.CRD, in.CRA, in.CRB)
	case TypeCJump:
		switch {
		case in.JumpBySegment:
			s = "jump segment"
		case in.Cond == CondAlways:
			s = fmt.Sprintf("jump 0x%08x", in.JumpmarkAddress)
		default:
			s = fmt.Sprintf("jump 0x%08x if %s", in.JumpmarkAddress, condString(in.CondCR, in.CondBit, in.BitMustBeSet))
		}
	case TypeCycleCheck:
		s = fmt.Sprintf("cycle_check 0x%08x", in.JumpmarkAddress)
	case TypeMacro:
		s = fmt.Sprintf("macro %s 0x%08x 0x%x", in.Macro, in.Param, in.Param2)
	default:
		s = fmt.Sprintf("type%d", uint8(in.Type))
	}
	if in.CRRegister != CRNone {
		s += fmt.Sprintf(" -> cr%d", in.CRRegister)
	}
	return s
}

// Dump writes a readable listing of the function
func (f *Function) Dump(w io.Writer) error {
	fmt.Fprintf(w, "function 0x%08x size 0x%x vregs %d\n", f.EntryAddress, f.Size, len(f.VRegNames))
	for _, s := range f.Segments() {
		fmt.Fprintf(w, "segment %d [%d]", s.ID, s.Index)
		if s.HasAddressRange() {
			fmt.Fprintf(w, " 0x%08x-0x%08x", s.AddrMin, s.AddrMax)
		}
		if s.IsEnterable {
			fmt.Fprintf(w, " enter=0x%08x", s.EnterAddress)
		}
		if s.IsJumpDestination {
			fmt.Fprintf(w, " dest=0x%08x", s.JumpAddress)
		}
		if s.LoopDepth > 0 {
			fmt.Fprintf(w, " loop=%d", s.LoopDepth)
		}
		if s.Uncertain {
			fmt.Fprintf(w, " uncertain")
		}
		fmt.Fprintf(w, " taken=%d nottaken=%d prev=%v\n", s.BranchTaken, s.BranchNotTaken, s.Prev)
		for i, in := range s.Instructions {
			fmt.Fprintf(w, "  %04d %s\n", i, in)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
