package decoder

import (
	"fmt"

	"ppcrec/pkg/iml"
)

// fragment is the IML produced for one guest instruction
type fragment []iml.Instruction

// handler decodes one instruction word. A non-nil error is always an
// *errors.UnsupportedError and discards the fragment.
type handler func(g *generator, op uint32) (fragment, error)

var (
	primaryTable [64]handler
	group19      map[uint32]handler
	group31      map[uint32]handler
)

func init() {
	primaryTable[1] = decodeHLE
	primaryTable[7] = decodeMULLI
	primaryTable[8] = decodeSUBFIC
	primaryTable[10] = decodeCMPLI
	primaryTable[11] = decodeCMPI
	primaryTable[12] = decodeADDIC
	primaryTable[13] = decodeADDIC
	primaryTable[14] = decodeADDI
	primaryTable[15] = decodeADDIS
	primaryTable[16] = decodeBC
	primaryTable[18] = decodeB
	primaryTable[19] = decodeGroup19
	primaryTable[20] = decodeRLWIMI
	primaryTable[21] = decodeRLWINM
	primaryTable[23] = decodeRLWNM
	primaryTable[24] = logicalImmediate(iml.OpOr, false, false)
	primaryTable[25] = logicalImmediate(iml.OpOr, true, false)
	primaryTable[26] = logicalImmediate(iml.OpXor, false, false)
	primaryTable[27] = logicalImmediate(iml.OpXor, true, false)
	primaryTable[28] = logicalImmediate(iml.OpAnd, false, true)
	primaryTable[29] = logicalImmediate(iml.OpAnd, true, true)
	primaryTable[31] = decodeGroup31
	primaryTable[32] = loadImmediate(32, false, false)
	primaryTable[33] = loadImmediate(32, false, true)
	primaryTable[34] = loadImmediate(8, false, false)
	primaryTable[35] = loadImmediate(8, false, true)
	primaryTable[36] = storeImmediate(32, false)
	primaryTable[37] = storeImmediate(32, true)
	primaryTable[38] = storeImmediate(8, false)
	primaryTable[39] = storeImmediate(8, true)
	primaryTable[40] = loadImmediate(16, false, false)
	primaryTable[41] = loadImmediate(16, false, true)
	primaryTable[42] = loadImmediate(16, true, false)
	primaryTable[43] = loadImmediate(16, true, true)
	primaryTable[44] = storeImmediate(16, false)
	primaryTable[45] = storeImmediate(16, true)
	primaryTable[46] = decodeLMW
	primaryTable[47] = decodeSTMW

	group19 = map[uint32]handler{
		0:   decodeMCRF,
		16:  decodeBCLR,
		33:  crLogic(iml.OpCRNor),
		129: crLogic(iml.OpCRAndC),
		150: decodeNop,
		193: crLogic(iml.OpCRXor),
		225: crLogic(iml.OpCRNand),
		257: crLogic(iml.OpCRAnd),
		289: crLogic(iml.OpCREqv),
		417: crLogic(iml.OpCROrC),
		449: crLogic(iml.OpCROr),
		528: decodeBCCTR,
	}

	group31 = map[uint32]handler{
		0:   decodeCMP,
		4:   decodeTW,
		8:   carryRegister(iml.OpSubCarry),
		10:  carryRegister(iml.OpAddCarry),
		11:  arithRegister(iml.OpMultiplyHighUnsigned, false),
		19:  decodeMFCR,
		23:  loadIndexed(32, false, false, false),
		24:  logicalRegister(iml.OpShiftLeft),
		26:  logicalUnary(iml.OpCountLeadingZeros),
		28:  logicalRegister(iml.OpAnd),
		32:  decodeCMPL,
		40:  arithRegister(iml.OpSub, true),
		54:  decodeNop, // dcbst
		55:  loadIndexed(32, false, false, true),
		60:  logicalRegister(iml.OpAndC),
		75:  arithRegister(iml.OpMultiplyHighSigned, false),
		86:  decodeNop, // dcbf
		87:  loadIndexed(8, false, false, false),
		104: decodeNEG,
		119: loadIndexed(8, false, false, true),
		124: logicalRegister(iml.OpNor),
		136: carryRegister(iml.OpSubCarryIn),
		138: carryRegister(iml.OpAddCarryIn),
		144: decodeMTCRF,
		151: storeIndexed(32, false, false),
		183: storeIndexed(32, false, true),
		200: carryImmediate(iml.OpSubCarryIn, 0),
		202: carryImmediate(iml.OpAddCarryIn, 0),
		215: storeIndexed(8, false, false),
		232: carryImmediate(iml.OpSubCarryIn, -1),
		234: carryImmediate(iml.OpAddCarryIn, -1),
		235: arithRegister(iml.OpMultiplySigned, false),
		246: decodeNop, // dcbtst
		247: storeIndexed(8, false, true),
		266: arithRegister(iml.OpAdd, false),
		278: decodeNop, // dcbt
		279: loadIndexed(16, false, false, false),
		284: logicalRegister(iml.OpEqv),
		311: loadIndexed(16, false, false, true),
		316: logicalRegister(iml.OpXor),
		339: decodeMFSPR,
		343: loadIndexed(16, true, false, false),
		375: loadIndexed(16, true, false, true),
		407: storeIndexed(16, false, false),
		412: logicalRegister(iml.OpOrC),
		439: storeIndexed(16, false, true),
		444: decodeOR,
		459: arithRegister(iml.OpDivideUnsigned, false),
		467: decodeMTSPR,
		476: logicalRegister(iml.OpNand),
		491: arithRegister(iml.OpDivideSigned, false),
		534: loadIndexed(32, false, true, false),
		536: logicalRegister(iml.OpShiftRightUnsigned),
		598: decodeNop, // sync
		662: storeIndexed(32, true, false),
		790: loadIndexed(16, false, true, false),
		792: decodeSRAW,
		824: decodeSRAWI,
		854: decodeNop, // eieio
		918: storeIndexed(16, true, false),
		922: logicalUnary(iml.OpSignExtendS16),
		954: logicalUnary(iml.OpSignExtendS8),
		982: decodeNop, // icbi
	}
}

// decode translates one instruction word
func decode(g *generator, op uint32) (fragment, error) {
	h := primaryTable[primaryOpcode(op)]
	if h == nil {
		return nil, g.unsupported(op, fmt.Sprintf("primary opcode %d", primaryOpcode(op)))
	}
	return h(g, op)
}

func decodeGroup19(g *generator, op uint32) (fragment, error) {
	h, ok := group19[extendedOpcode(op)]
	if !ok {
		return nil, g.unsupported(op, fmt.Sprintf("opcode 19/%d", extendedOpcode(op)))
	}
	return h(g, op)
}

func decodeGroup31(g *generator, op uint32) (fragment, error) {
	h, ok := group31[extendedOpcode(op)]
	if !ok {
		return nil, g.unsupported(op, fmt.Sprintf("opcode 31/%d", extendedOpcode(op)))
	}
	return h(g, op)
}

// Supported reports whether op decodes without error, for tooling that
// scans code before compiling it
func Supported(op uint32) bool {
	h := primaryTable[primaryOpcode(op)]
	switch primaryOpcode(op) {
	case 19:
		_, ok := group19[extendedOpcode(op)]
		return ok
	case 31:
		_, ok := group31[extendedOpcode(op)]
		return ok
	}
	return h != nil
}

func decodeNop(g *generator, op uint32) (fragment, error) {
	return fragment{iml.MakeNoOp()}, nil
}
