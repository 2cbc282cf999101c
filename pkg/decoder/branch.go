package decoder

import (
	"ppcrec/pkg/guestmem"
	"ppcrec/pkg/iml"
)

const (
	opcodeBLR = 0x4E800020
	// longest callee body decoded in place of a call
	maxInlineInstructions = 6
)

func decodeB(g *generator, op uint32) (fragment, error) {
	target := branchTargetI(op, g.addr)
	if linkBit(op) {
		if g.opts.InlineFunctions && !g.inlining && !g.inRange(target) {
			if frag, ok := g.inlineCall(target); ok {
				return frag, nil
			}
		}
		g.returnsHere = true
		return fragment{iml.MakeMacro(iml.MacroBL, g.addr, target)}, nil
	}
	if g.inRange(target) {
		return fragment{iml.MakeJump(target)}, nil
	}
	return fragment{iml.MakeMacro(iml.MacroBFar, g.addr, target)}, nil
}

func decodeBC(g *generator, op uint32) (fragment, error) {
	b := decodeBranchOptions(op)
	target := branchTargetB(op, g.addr)
	link := linkBit(op)
	if !b.ignoresCondition() && !b.ignoresCTR() {
		return nil, g.unsupported(op, "conditional branch combined with CTR decrement")
	}

	var frag fragment
	var crField, crBit uint8
	var mustBeSet bool
	switch {
	case b.always():
	case !b.ignoresCTR():
		// CR 8 EQ is set once CTR reaches zero
		frag = append(frag, iml.MakeRS32(iml.OpSub, g.spr(iml.SPRCTR), 1, iml.CRTemporary, iml.CRModeLogical))
		crField, crBit, mustBeSet = iml.CRTemporary, iml.CRBitEQ, b.branchIfCTRZero()
	default:
		crField, crBit, mustBeSet = b.crField(), b.crBit(), b.conditionTrue()
	}

	if !link && g.inRange(target) {
		if b.always() {
			return append(frag, iml.MakeJump(target)), nil
		}
		return append(frag, iml.MakeCJump(target, crField, crBit, mustBeSet)), nil
	}

	// calls and far targets skip the macro when the condition fails
	if !b.always() {
		frag = append(frag, iml.MakeCJump(g.addr+4, crField, crBit, !mustBeSet))
	}
	if link {
		g.returnsHere = true
		return append(frag, iml.MakeMacro(iml.MacroBL, g.addr, target)), nil
	}
	return append(frag, iml.MakeMacro(iml.MacroBFar, g.addr, target)), nil
}

func decodeBCLR(g *generator, op uint32) (fragment, error) {
	macro := iml.MacroBLR
	if linkBit(op) {
		macro = iml.MacroBLRL
	}
	return branchToRegister(g, op, macro)
}

func decodeBCCTR(g *generator, op uint32) (fragment, error) {
	macro := iml.MacroBCTR
	if linkBit(op) {
		macro = iml.MacroBCTRL
	}
	return branchToRegister(g, op, macro)
}

// branchToRegister handles bclr and bcctr. The macro reads LR or CTR from
// named storage, which is synchronized before any suffix instruction.
func branchToRegister(g *generator, op uint32, macro iml.MacroOp) (fragment, error) {
	b := decodeBranchOptions(op)
	if !b.ignoresCTR() {
		return nil, g.unsupported(op, "register branch with CTR decrement")
	}
	var frag fragment
	if !b.ignoresCondition() {
		frag = append(frag, iml.MakeCJump(g.addr+4, b.crField(), b.crBit(), !b.conditionTrue()))
	}
	if macro == iml.MacroBLRL || macro == iml.MacroBCTRL {
		g.returnsHere = true
	}
	return append(frag, iml.MakeMacro(macro, g.addr, 0)), nil
}

// canInline reports the instruction count of a callee that is short enough
// and simple enough to decode in place of the call
func canInline(mem guestmem.Reader, target uint32) (int, bool) {
	for i := 0; i <= maxInlineInstructions; i++ {
		op, err := mem.ReadU32(target + uint32(i)*4)
		if err != nil {
			return 0, false
		}
		if op == opcodeBLR {
			return i, true
		}
		switch p := primaryOpcode(op); {
		case p == 14 || p == 15:
		case p >= 32 && p <= 45:
		default:
			return 0, false
		}
	}
	return 0, false
}

// inlineCall decodes a leaf callee in place of the call at g.addr. LR is set
// as the call would have set it. Instructions keep the call site's address.
func (g *generator) inlineCall(target uint32) (fragment, bool) {
	n, ok := canInline(g.mem, target)
	if !ok {
		return nil, false
	}
	site := g.addr
	g.inlining = true
	defer func() {
		g.inlining = false
		g.addr = site
	}()

	frag := fragment{iml.MakeRS32(iml.OpAssign, g.spr(iml.SPRLR), int32(site+4), iml.CRNone, iml.CRModeNone)}
	for i := 0; i < n; i++ {
		addr := target + uint32(i)*4
		op, err := g.mem.ReadU32(addr)
		if err != nil {
			return nil, false
		}
		g.addr = addr
		f, err := decode(g, op)
		if err != nil {
			return nil, false
		}
		frag = append(frag, f...)
	}
	for i := range frag {
		frag[i].Address = site
	}
	g.ranges = append(g.ranges, iml.AddressRange{Start: target, Size: uint32(n)*4 + 4})
	return frag, true
}
