package decoder

import "ppcrec/pkg/iml"

// record returns the CR update of a record-form instruction
func record(rc bool, mode iml.CRMode) (uint8, iml.CRMode) {
	if !rc {
		return iml.CRNone, iml.CRModeNone
	}
	return 0, mode
}

func decodeADDI(g *generator, op uint32) (fragment, error) {
	return addImmediate(g, op, simm16(op))
}

func decodeADDIS(g *generator, op uint32) (fragment, error) {
	return addImmediate(g, op, simm16(op)<<16)
}

func addImmediate(g *generator, op uint32, imm int32) (fragment, error) {
	rd, ra := fieldD(op), fieldA(op)
	if ra == 0 {
		return fragment{iml.MakeRS32(iml.OpAssign, g.gpr(rd), imm, iml.CRNone, iml.CRModeNone)}, nil
	}
	if rd == ra {
		return fragment{iml.MakeRS32(iml.OpAdd, g.gpr(rd), imm, iml.CRNone, iml.CRModeNone)}, nil
	}
	return fragment{iml.MakeRRS32(iml.OpAdd, g.gpr(rd), g.gpr(ra), imm, iml.CRNone, iml.CRModeNone)}, nil
}

// addic and addic.
func decodeADDIC(g *generator, op uint32) (fragment, error) {
	cr, mode := record(primaryOpcode(op) == 13, iml.CRModeArithmetic)
	return fragment{iml.MakeRRS32Carry(iml.OpAddCarry, g.gpr(fieldD(op)), g.gpr(fieldA(op)), simm16(op), g.carry(), cr, mode)}, nil
}

func decodeSUBFIC(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRRS32Carry(iml.OpSubCarry, g.gpr(fieldD(op)), g.gpr(fieldA(op)), simm16(op), g.carry(), iml.CRNone, iml.CRModeNone)}, nil
}

func decodeMULLI(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRRS32(iml.OpMultiplySigned, g.gpr(fieldD(op)), g.gpr(fieldA(op)), simm16(op), iml.CRNone, iml.CRModeNone)}, nil
}

func decodeCMPI(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRS32(iml.OpCompareSigned, g.gpr(fieldA(op)), simm16(op), fieldCRFD(op), iml.CRModeCompareSigned)}, nil
}

func decodeCMPLI(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRS32(iml.OpCompareUnsigned, g.gpr(fieldA(op)), uimm16(op), fieldCRFD(op), iml.CRModeCompareUnsigned)}, nil
}

func decodeCMP(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRR(iml.OpCompareSigned, g.gpr(fieldA(op)), g.gpr(fieldB(op)), fieldCRFD(op), iml.CRModeCompareSigned)}, nil
}

func decodeCMPL(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRR(iml.OpCompareUnsigned, g.gpr(fieldA(op)), g.gpr(fieldB(op)), fieldCRFD(op), iml.CRModeCompareUnsigned)}, nil
}

// arithRegister handles XO-form rD = rA op rB. swap selects rD = rB op rA
// as used by subf.
func arithRegister(o iml.Op, swap bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rd, ra, rb := fieldD(op), fieldA(op), fieldB(op)
		if swap {
			ra, rb = rb, ra
		}
		cr, mode := record(recordBit(op), iml.CRModeArithmetic)
		if o == iml.OpAdd && rd == ra {
			return fragment{iml.MakeRR(iml.OpAdd, g.gpr(rd), g.gpr(rb), cr, mode)}, nil
		}
		return fragment{iml.MakeRRR(o, g.gpr(rd), g.gpr(ra), g.gpr(rb), cr, mode)}, nil
	}
}

// carryRegister handles addc, adde, subfc and subfe
func carryRegister(o iml.Op) handler {
	return func(g *generator, op uint32) (fragment, error) {
		cr, mode := record(recordBit(op), iml.CRModeArithmetic)
		return fragment{iml.MakeRRRCarry(o, g.gpr(fieldD(op)), g.gpr(fieldA(op)), g.gpr(fieldB(op)), g.carry(), cr, mode)}, nil
	}
}

// carryImmediate handles addze, addme, subfze and subfme
func carryImmediate(o iml.Op, imm int32) handler {
	return func(g *generator, op uint32) (fragment, error) {
		if fieldB(op) != 0 {
			return nil, g.unsupported(op, "reserved operand field set")
		}
		cr, mode := record(recordBit(op), iml.CRModeArithmetic)
		return fragment{iml.MakeRRS32Carry(o, g.gpr(fieldD(op)), g.gpr(fieldA(op)), imm, g.carry(), cr, mode)}, nil
	}
}

func decodeNEG(g *generator, op uint32) (fragment, error) {
	cr, mode := record(recordBit(op), iml.CRModeArithmetic)
	return fragment{iml.MakeRR(iml.OpNeg, g.gpr(fieldD(op)), g.gpr(fieldA(op)), cr, mode)}, nil
}
