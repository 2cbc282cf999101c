package decoder

import "ppcrec/pkg/iml"

// decodeHLE handles the host escape opcode. The low 16 bits select the host function.
func decodeHLE(g *generator, op uint32) (fragment, error) {
	g.returnsHere = true
	return fragment{iml.MakeMacro(iml.MacroHLE, g.addr, op&0xFFFF)}, nil
}

// decodeTW handles the unconditional trap, which leaves compiled code so the
// interpreter can raise it
func decodeTW(g *generator, op uint32) (fragment, error) {
	if fieldD(op) != 31 {
		return nil, g.unsupported(op, "conditional trap")
	}
	g.returnsHere = true
	return fragment{iml.MakeMacro(iml.MacroLeave, g.addr, 0)}, nil
}

func movableSPR(spr int) bool {
	return spr == iml.SPRLR || spr == iml.SPRCTR || (spr >= iml.SPRUGQR0 && spr <= iml.SPRUGQR7)
}

func decodeMFSPR(g *generator, op uint32) (fragment, error) {
	spr := fieldSPR(op)
	if !movableSPR(spr) {
		return nil, g.unsupported(op, "mfspr of unsupported register")
	}
	return fragment{iml.MakeRR(iml.OpAssign, g.gpr(fieldD(op)), g.spr(spr), iml.CRNone, iml.CRModeNone)}, nil
}

func decodeMTSPR(g *generator, op uint32) (fragment, error) {
	spr := fieldSPR(op)
	if !movableSPR(spr) {
		return nil, g.unsupported(op, "mtspr of unsupported register")
	}
	return fragment{iml.MakeRR(iml.OpAssign, g.spr(spr), g.gpr(fieldD(op)), iml.CRNone, iml.CRModeNone)}, nil
}

func decodeMFCR(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRS32(iml.OpMFCR, g.gpr(fieldD(op)), 0, iml.CRNone, iml.CRModeNone)}, nil
}

func decodeMTCRF(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeRS32(iml.OpMTCRF, g.gpr(fieldD(op)), fieldCRM(op), iml.CRNone, iml.CRModeNone)}, nil
}

func decodeMCRF(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeCR(iml.OpMCRF, fieldCRFD(op), fieldCRFS(op), 0)}, nil
}

// crLogic handles the condition register bit operations
func crLogic(o iml.Op) handler {
	return func(g *generator, op uint32) (fragment, error) {
		return fragment{iml.MakeCR(o, uint8(fieldD(op)), uint8(fieldA(op)), uint8(fieldB(op)))}, nil
	}
}
