package decoder

import "ppcrec/pkg/iml"

// base returns the address register of a memory access, InvalidVReg for r0
func (g *generator) base(ra int) iml.VReg {
	if ra == 0 {
		return iml.InvalidVReg
	}
	return g.gpr(ra)
}

// loadImmediate handles D-form loads. Guest memory is big-endian, so every
// multi-byte access swaps.
func loadImmediate(width uint8, signExtend, update bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rd, ra, imm := fieldD(op), fieldA(op), simm16(op)
		if update && (ra == 0 || ra == rd) {
			return nil, g.unsupported(op, "invalid update form")
		}
		frag := fragment{iml.MakeLoad(g.gpr(rd), g.base(ra), imm, width, signExtend, width > 8)}
		if update {
			frag = append(frag, iml.MakeRS32(iml.OpAdd, g.gpr(ra), imm, iml.CRNone, iml.CRModeNone))
		}
		return frag, nil
	}
}

// storeImmediate handles D-form stores
func storeImmediate(width uint8, update bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rs, ra, imm := fieldD(op), fieldA(op), simm16(op)
		if update && ra == 0 {
			return nil, g.unsupported(op, "invalid update form")
		}
		frag := fragment{iml.MakeStore(g.gpr(rs), g.base(ra), imm, width, width > 8)}
		if update {
			frag = append(frag, iml.MakeRS32(iml.OpAdd, g.gpr(ra), imm, iml.CRNone, iml.CRModeNone))
		}
		return frag, nil
	}
}

// loadIndexed handles X-form loads. byteReversed marks the lwbrx family,
// which reads little-endian data.
func loadIndexed(width uint8, signExtend, byteReversed, update bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rd, ra, rb := fieldD(op), fieldA(op), fieldB(op)
		if update && (ra == 0 || ra == rd) {
			return nil, g.unsupported(op, "invalid update form")
		}
		swap := width > 8 && !byteReversed
		if ra == 0 {
			return fragment{iml.MakeLoad(g.gpr(rd), g.gpr(rb), 0, width, signExtend, swap)}, nil
		}
		frag := fragment{iml.MakeLoadIndexed(g.gpr(rd), g.gpr(ra), g.gpr(rb), width, signExtend, swap)}
		if update {
			frag = append(frag, iml.MakeRR(iml.OpAdd, g.gpr(ra), g.gpr(rb), iml.CRNone, iml.CRModeNone))
		}
		return frag, nil
	}
}

// storeIndexed handles X-form stores
func storeIndexed(width uint8, byteReversed, update bool) handler {
	return func(g *generator, op uint32) (fragment, error) {
		rs, ra, rb := fieldD(op), fieldA(op), fieldB(op)
		if update && ra == 0 {
			return nil, g.unsupported(op, "invalid update form")
		}
		swap := width > 8 && !byteReversed
		if ra == 0 {
			return fragment{iml.MakeStore(g.gpr(rs), g.gpr(rb), 0, width, swap)}, nil
		}
		frag := fragment{iml.MakeStoreIndexed(g.gpr(rs), g.gpr(ra), g.gpr(rb), width, swap)}
		if update {
			frag = append(frag, iml.MakeRR(iml.OpAdd, g.gpr(ra), g.gpr(rb), iml.CRNone, iml.CRModeNone))
		}
		return frag, nil
	}
}

func decodeLMW(g *generator, op uint32) (fragment, error) {
	rd, ra, imm := fieldD(op), fieldA(op), simm16(op)
	if ra >= rd {
		return nil, g.unsupported(op, "lmw overwrites its base register")
	}
	var frag fragment
	for r := rd; r < 32; r++ {
		frag = append(frag, iml.MakeLoad(g.gpr(r), g.base(ra), imm+int32(r-rd)*4, 32, false, true))
	}
	return frag, nil
}

func decodeSTMW(g *generator, op uint32) (fragment, error) {
	rs, ra, imm := fieldD(op), fieldA(op), simm16(op)
	var frag fragment
	for r := rs; r < 32; r++ {
		frag = append(frag, iml.MakeStore(g.gpr(r), g.base(ra), imm+int32(r-rs)*4, 32, true))
	}
	return frag, nil
}
