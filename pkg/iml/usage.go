package iml

// Usage lists the virtual registers an instruction reads and writes
type Usage struct {
	reads  [4]VReg
	writes [2]VReg
	nr, nw uint8
}

func (u *Usage) read(r VReg) {
	if r != InvalidVReg {
		u.reads[u.nr] = r
		u.nr++
	}
}

func (u *Usage) write(r VReg) {
	if r != InvalidVReg {
		u.writes[u.nw] = r
		u.nw++
	}
}

// Reads returns the registers read
func (u *Usage) Reads() []VReg {
	return u.reads[:u.nr]
}

// Writes returns the registers written
func (u *Usage) Writes() []VReg {
	return u.writes[:u.nw]
}

// Empty reports whether no register is touched
func (u *Usage) Empty() bool {
	return u.nr == 0 && u.nw == 0
}

// ForEach calls fn once per distinct register with its combined access mode
func (u *Usage) ForEach(fn func(reg VReg, read, write bool)) {
	var seen [6]VReg
	n := 0
	visit := func(r VReg) {
		for i := 0; i < n; i++ {
			if seen[i] == r {
				return
			}
		}
		seen[n] = r
		n++
		fn(r, u.isRead(r), u.isWritten(r))
	}
	for _, r := range u.Reads() {
		visit(r)
	}
	for _, r := range u.Writes() {
		visit(r)
	}
}

func (u *Usage) isRead(r VReg) bool {
	for _, x := range u.Reads() {
		if x == r {
			return true
		}
	}
	return false
}

func (u *Usage) isWritten(r VReg) bool {
	for _, x := range u.Writes() {
		if x == r {
			return true
		}
	}
	return false
}

// Usage returns the register effects of the instruction
func (in *Instruction) Usage() Usage {
	var u Usage
	switch in.Type {
	case TypeRName:
		u.write(in.RegR)
	case TypeNameR:
		u.read(in.RegR)
	case TypeRR:
		switch in.Op {
		case OpCompareSigned, OpCompareUnsigned:
			u.read(in.RegR)
			u.read(in.RegA)
		case OpOr, OpAnd, OpXor, OpAdd, OpSub:
			u.read(in.RegR)
			u.read(in.RegA)
			u.write(in.RegR)
		default:
			u.read(in.RegA)
			u.write(in.RegR)
		}
	case TypeRS32:
		switch in.Op {
		case OpCompareSigned, OpCompareUnsigned, OpMTCRF:
			u.read(in.RegR)
		case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpLeftRotate:
			u.read(in.RegR)
			u.write(in.RegR)
		default:
			u.write(in.RegR)
		}
	case TypeRRS32:
		if in.Op == OpRLWIMI {
			u.read(in.RegR)
		}
		u.read(in.RegA)
		u.write(in.RegR)
	case TypeRRR:
		u.read(in.RegA)
		u.read(in.RegB)
		u.write(in.RegR)
	case TypeRRRCarry:
		u.read(in.RegA)
		u.read(in.RegB)
		if in.Op.ReadsCarry() {
			u.read(in.RegCarry)
		}
		u.write(in.RegR)
		u.write(in.RegCarry)
	case TypeRRS32Carry:
		u.read(in.RegA)
		if in.Op.ReadsCarry() {
			u.read(in.RegCarry)
		}
		u.write(in.RegR)
		u.write(in.RegCarry)
	case TypeConditionalRS32:
		u.read(in.RegR)
		u.write(in.RegR)
	case TypeLoad:
		u.read(in.RegA)
		u.write(in.RegR)
	case TypeLoadIndexed:
		u.read(in.RegA)
		u.read(in.RegB)
		u.write(in.RegR)
	case TypeStore:
		u.read(in.RegR)
		u.read(in.RegA)
	case TypeStoreIndexed:
		u.read(in.RegR)
		u.read(in.RegA)
		u.read(in.RegB)
	case TypeMem2Mem:
		u.read(in.RegA)
		u.read(in.RegB)
	}
	return u
}

// ReplaceRegisters rewrites every register operand through fn
func (in *Instruction) ReplaceRegisters(fn func(VReg) VReg) {
	for _, r := range []*VReg{&in.RegR, &in.RegA, &in.RegB, &in.RegCarry} {
		if *r != InvalidVReg {
			*r = fn(*r)
		}
	}
}
