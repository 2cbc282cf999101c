package decoder

import "ppcrec/pkg/iml"

// logicalImmediate handles ori, oris, xori, xoris, andi. and andis.
func logicalImmediate(o iml.Op, shifted, recordForm bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rs, ra := fieldD(op), fieldA(op)
		imm := uimm16(op)
		if shifted {
			imm <<= 16
		}
		cr, mode := record(recordForm, iml.CRModeLogical)
		if o == iml.OpOr && !recordForm && imm == 0 && rs == ra {
			return fragment{iml.MakeNoOp()}, nil
		}
		if rs == ra {
			return fragment{iml.MakeRS32(o, g.gpr(ra), imm, cr, mode)}, nil
		}
		return fragment{iml.MakeRRS32(o, g.gpr(ra), g.gpr(rs), imm, cr, mode)}, nil
	}
}

// logicalRegister handles X-form rA = rS op rB
func logicalRegister(o iml.Op) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rs, ra, rb := fieldD(op), fieldA(op), fieldB(op)
		cr, mode := record(recordBit(op), iml.CRModeLogical)
		switch {
		case o == iml.OpNor && rs == rb:
			return fragment{iml.MakeRR(iml.OpNot, g.gpr(ra), g.gpr(rs), cr, mode)}, nil
		case (o == iml.OpAnd || o == iml.OpXor) && ra == rs:
			return fragment{iml.MakeRR(o, g.gpr(ra), g.gpr(rb), cr, mode)}, nil
		}
		return fragment{iml.MakeRRR(o, g.gpr(ra), g.gpr(rs), g.gpr(rb), cr, mode)}, nil
	}
}

// logicalUnary handles cntlzw, extsb and extsh
func logicalUnary(o iml.Op) handler {
	return func(g *generator, op uint32) (fragment, error) {
		if fieldB(op) != 0 {
			return nil, g.unsupported(op, "reserved operand field set")
		}
		cr, mode := record(recordBit(op), iml.CRModeLogical)
		return fragment{iml.MakeRR(o, g.gpr(fieldA(op)), g.gpr(fieldD(op)), cr, mode)}, nil
	}
}

func decodeOR(g *generator, op uint32) (fragment, error) {
	rs, ra, rb := fieldD(op), fieldA(op), fieldB(op)
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	if rs == rb {
		if rs == ra && !recordBit(op) {
			return fragment{iml.MakeNoOp()}, nil
		}
		// mr
		return fragment{iml.MakeRR(iml.OpAssign, g.gpr(ra), g.gpr(rs), cr, mode)}, nil
	}
	if ra == rs {
		return fragment{iml.MakeRR(iml.OpOr, g.gpr(ra), g.gpr(rb), cr, mode)}, nil
	}
	return fragment{iml.MakeRRR(iml.OpOr, g.gpr(ra), g.gpr(rs), g.gpr(rb), cr, mode)}, nil
}

func decodeRLWINM(g *generator, op uint32) (fragment, error) {
	rs, ra, sh, mb, me := fieldD(op), fieldA(op), fieldB(op), fieldMB(op), fieldME(op)
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	if mb == 0 && me == 31 && rs == ra && !recordBit(op) {
		// rotlwi in place
		return fragment{iml.MakeRS32(iml.OpLeftRotate, g.gpr(ra), int32(sh), cr, mode)}, nil
	}
	return fragment{iml.MakeRRS32(iml.OpRLWINM, g.gpr(ra), g.gpr(rs), packRotate(sh, mb, me), cr, mode)}, nil
}

func decodeRLWIMI(g *generator, op uint32) (fragment, error) {
	rs, ra, sh, mb, me := fieldD(op), fieldA(op), fieldB(op), fieldMB(op), fieldME(op)
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	return fragment{iml.MakeRRS32(iml.OpRLWIMI, g.gpr(ra), g.gpr(rs), packRotate(sh, mb, me), cr, mode)}, nil
}

func decodeRLWNM(g *generator, op uint32) (fragment, error) {
	rs, ra, rb, mb, me := fieldD(op), fieldA(op), fieldB(op), fieldMB(op), fieldME(op)
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	in := iml.MakeRRR(iml.OpRLWNM, g.gpr(ra), g.gpr(rs), g.gpr(rb), cr, mode)
	in.Imm = packRotate(0, mb, me)
	return fragment{in}, nil
}

func decodeSRAW(g *generator, op uint32) (fragment, error) {
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	return fragment{iml.MakeRRRCarry(iml.OpShiftRightSigned, g.gpr(fieldA(op)), g.gpr(fieldD(op)), g.gpr(fieldB(op)), g.carry(), cr, mode)}, nil
}

func decodeSRAWI(g *generator, op uint32) (fragment, error) {
	cr, mode := record(recordBit(op), iml.CRModeLogical)
	return fragment{iml.MakeRRS32Carry(iml.OpShiftRightSigned, g.gpr(fieldA(op)), g.gpr(fieldD(op)), int32(fieldB(op)), g.carry(), cr, mode)}, nil
}
