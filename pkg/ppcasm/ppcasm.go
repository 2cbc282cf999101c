// Package ppcasm assembles PowerPC instruction words. It covers the integer
// subset the decoder understands and is used to build guest programs for
// tests and tooling.
package ppcasm

import (
	"fmt"

	"ppcrec/pkg/guestmem"
)

// Branch option fields
const (
	BOAlways  = 20 // branch unconditionally
	BOTrue    = 12 // branch if CR bit set
	BOFalse   = 4  // branch if CR bit clear
	BODNZ     = 16 // decrement CTR, branch if CTR != 0
	BODZ      = 18 // decrement CTR, branch if CTR == 0
	BOTrueDNZ = 8  // decrement CTR, branch if CTR != 0 and CR bit set
)

// CR bits
const (
	LT = 0
	GT = 1
	EQ = 2
	SO = 3
)

type fixup struct {
	index int
	label string
	kind  byte // 'b' for I-form, 'c' for B-form
}

// Assembler collects instruction words starting at a base address
type Assembler struct {
	base   uint32
	words  []uint32
	labels map[string]uint32
	fixups []fixup
}

// New creates an assembler for code at base
func New(base uint32) *Assembler {
	return &Assembler{base: base, labels: make(map[string]uint32)}
}

// Here returns the address of the next instruction
func (a *Assembler) Here() uint32 {
	return a.base + uint32(len(a.words))*4
}

// Label names the address of the next instruction
func (a *Assembler) Label(name string) uint32 {
	addr := a.Here()
	a.labels[name] = addr
	return addr
}

// Word appends a raw instruction word
func (a *Assembler) Word(w uint32) *Assembler {
	a.words = append(a.words, w)
	return a
}

func d(op, rt, ra int, imm int32) uint32 {
	return uint32(op)<<26 | uint32(rt&31)<<21 | uint32(ra&31)<<16 | uint32(imm)&0xFFFF
}

func x(op, rt, ra, rb, xo int, rc bool) uint32 {
	w := uint32(op)<<26 | uint32(rt&31)<<21 | uint32(ra&31)<<16 | uint32(rb&31)<<11 | uint32(xo&0x3FF)<<1
	if rc {
		w |= 1
	}
	return w
}

// Addi emits addi rD, rA, simm
func (a *Assembler) Addi(rd, ra int, simm int32) *Assembler { return a.Word(d(14, rd, ra, simm)) }

// Addis emits addis rD, rA, simm
func (a *Assembler) Addis(rd, ra int, simm int32) *Assembler { return a.Word(d(15, rd, ra, simm)) }

// Li emits li rD, simm
func (a *Assembler) Li(rd int, simm int32) *Assembler { return a.Addi(rd, 0, simm) }

// Lis emits lis rD, simm
func (a *Assembler) Lis(rd int, simm int32) *Assembler { return a.Addis(rd, 0, simm) }

// Addic emits addic rD, rA, simm
func (a *Assembler) Addic(rd, ra int, simm int32) *Assembler { return a.Word(d(12, rd, ra, simm)) }

// Subfic emits subfic rD, rA, simm
func (a *Assembler) Subfic(rd, ra int, simm int32) *Assembler { return a.Word(d(8, rd, ra, simm)) }

// Mulli emits mulli rD, rA, simm
func (a *Assembler) Mulli(rd, ra int, simm int32) *Assembler { return a.Word(d(7, rd, ra, simm)) }

// Cmpwi emits cmpwi crf, rA, simm
func (a *Assembler) Cmpwi(crf, ra int, simm int32) *Assembler { return a.Word(d(11, crf<<2, ra, simm)) }

// Cmplwi emits cmplwi crf, rA, uimm
func (a *Assembler) Cmplwi(crf, ra int, uimm uint16) *Assembler {
	return a.Word(d(10, crf<<2, ra, int32(uimm)))
}

// Cmpw emits cmpw crf, rA, rB
func (a *Assembler) Cmpw(crf, ra, rb int) *Assembler { return a.Word(x(31, crf<<2, ra, rb, 0, false)) }

// Cmplw emits cmplw crf, rA, rB
func (a *Assembler) Cmplw(crf, ra, rb int) *Assembler { return a.Word(x(31, crf<<2, ra, rb, 32, false)) }

// Add emits add rD, rA, rB
func (a *Assembler) Add(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 266, false)) }

// AddDot emits add. rD, rA, rB
func (a *Assembler) AddDot(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 266, true)) }

// Subf emits subf rD, rA, rB
func (a *Assembler) Subf(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 40, false)) }

// Adde emits adde rD, rA, rB
func (a *Assembler) Adde(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 138, false)) }

// Mullw emits mullw rD, rA, rB
func (a *Assembler) Mullw(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 235, false)) }

// Divw emits divw rD, rA, rB
func (a *Assembler) Divw(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 491, false)) }

// Neg emits neg rD, rA
func (a *Assembler) Neg(rd, ra int) *Assembler { return a.Word(x(31, rd, ra, 0, 104, false)) }

// Or emits or rA, rS, rB
func (a *Assembler) Or(ra, rs, rb int) *Assembler { return a.Word(x(31, rs, ra, rb, 444, false)) }

// Mr emits mr rA, rS
func (a *Assembler) Mr(ra, rs int) *Assembler { return a.Or(ra, rs, rs) }

// And emits and rA, rS, rB
func (a *Assembler) And(ra, rs, rb int) *Assembler { return a.Word(x(31, rs, ra, rb, 28, false)) }

// Xor emits xor rA, rS, rB
func (a *Assembler) Xor(ra, rs, rb int) *Assembler { return a.Word(x(31, rs, ra, rb, 316, false)) }

// Ori emits ori rA, rS, uimm
func (a *Assembler) Ori(ra, rs int, uimm uint16) *Assembler { return a.Word(d(24, rs, ra, int32(uimm))) }

// Nop emits ori 0, 0, 0
func (a *Assembler) Nop() *Assembler { return a.Ori(0, 0, 0) }

// AndiDot emits andi. rA, rS, uimm
func (a *Assembler) AndiDot(ra, rs int, uimm uint16) *Assembler {
	return a.Word(d(28, rs, ra, int32(uimm)))
}

// Rlwinm emits rlwinm rA, rS, sh, mb, me
func (a *Assembler) Rlwinm(ra, rs, sh, mb, me int) *Assembler {
	return a.Word(uint32(21)<<26 | uint32(rs&31)<<21 | uint32(ra&31)<<16 | uint32(sh&31)<<11 | uint32(mb&31)<<6 | uint32(me&31)<<1)
}

// Slw emits slw rA, rS, rB
func (a *Assembler) Slw(ra, rs, rb int) *Assembler { return a.Word(x(31, rs, ra, rb, 24, false)) }

// Srawi emits srawi rA, rS, sh
func (a *Assembler) Srawi(ra, rs, sh int) *Assembler { return a.Word(x(31, rs, ra, sh, 824, false)) }

// Extsh emits extsh rA, rS
func (a *Assembler) Extsh(ra, rs int) *Assembler { return a.Word(x(31, rs, ra, 0, 922, false)) }

// Cntlzw emits cntlzw rA, rS
func (a *Assembler) Cntlzw(ra, rs int) *Assembler { return a.Word(x(31, rs, ra, 0, 26, false)) }

// Lwz emits lwz rD, d(rA)
func (a *Assembler) Lwz(rd int, disp int32, ra int) *Assembler { return a.Word(d(32, rd, ra, disp)) }

// Lwzu emits lwzu rD, d(rA)
func (a *Assembler) Lwzu(rd int, disp int32, ra int) *Assembler { return a.Word(d(33, rd, ra, disp)) }

// Lbz emits lbz rD, d(rA)
func (a *Assembler) Lbz(rd int, disp int32, ra int) *Assembler { return a.Word(d(34, rd, ra, disp)) }

// Lha emits lha rD, d(rA)
func (a *Assembler) Lha(rd int, disp int32, ra int) *Assembler { return a.Word(d(42, rd, ra, disp)) }

// Stw emits stw rS, d(rA)
func (a *Assembler) Stw(rs int, disp int32, ra int) *Assembler { return a.Word(d(36, rs, ra, disp)) }

// Stwu emits stwu rS, d(rA)
func (a *Assembler) Stwu(rs int, disp int32, ra int) *Assembler { return a.Word(d(37, rs, ra, disp)) }

// Stb emits stb rS, d(rA)
func (a *Assembler) Stb(rs int, disp int32, ra int) *Assembler { return a.Word(d(38, rs, ra, disp)) }

// Lwzx emits lwzx rD, rA, rB
func (a *Assembler) Lwzx(rd, ra, rb int) *Assembler { return a.Word(x(31, rd, ra, rb, 23, false)) }

// Stwx emits stwx rS, rA, rB
func (a *Assembler) Stwx(rs, ra, rb int) *Assembler { return a.Word(x(31, rs, ra, rb, 151, false)) }

// Lmw emits lmw rD, d(rA)
func (a *Assembler) Lmw(rd int, disp int32, ra int) *Assembler { return a.Word(d(46, rd, ra, disp)) }

// Stmw emits stmw rS, d(rA)
func (a *Assembler) Stmw(rs int, disp int32, ra int) *Assembler { return a.Word(d(47, rs, ra, disp)) }

func (a *Assembler) spr(op, rt, spr, xo int) *Assembler {
	return a.Word(uint32(op)<<26 | uint32(rt&31)<<21 | uint32(spr&31)<<16 | uint32(spr>>5&31)<<11 | uint32(xo)<<1)
}

// Mflr emits mflr rD
func (a *Assembler) Mflr(rd int) *Assembler { return a.spr(31, rd, 8, 339) }

// Mtlr emits mtlr rS
func (a *Assembler) Mtlr(rs int) *Assembler { return a.spr(31, rs, 8, 467) }

// Mfctr emits mfctr rD
func (a *Assembler) Mfctr(rd int) *Assembler { return a.spr(31, rd, 9, 339) }

// Mtctr emits mtctr rS
func (a *Assembler) Mtctr(rs int) *Assembler { return a.spr(31, rs, 9, 467) }

// Mfcr emits mfcr rD
func (a *Assembler) Mfcr(rd int) *Assembler { return a.Word(x(31, rd, 0, 0, 19, false)) }

// Cror emits cror crbD, crbA, crbB
func (a *Assembler) Cror(bd, ba, bb int) *Assembler { return a.Word(x(19, bd, ba, bb, 449, false)) }

// B emits b label
func (a *Assembler) B(label string) *Assembler { return a.branch(label, 'b', 0) }

// Bl emits bl label
func (a *Assembler) Bl(label string) *Assembler { return a.branch(label, 'b', 1) }

// BAbs emits an unconditional branch to an absolute target address
func (a *Assembler) BAbs(target uint32, link bool) *Assembler {
	w := uint32(18)<<26 | (target-a.Here())&0x03FFFFFC
	if link {
		w |= 1
	}
	return a.Word(w)
}

// Bc emits bc bo, bi, label
func (a *Assembler) Bc(bo, bi int, label string) *Assembler {
	return a.branch(label, 'c', uint32(bo&31)<<21|uint32(bi&31)<<16)
}

// Beq emits beq crf, label
func (a *Assembler) Beq(crf int, label string) *Assembler { return a.Bc(BOTrue, crf*4+EQ, label) }

// Bne emits bne crf, label
func (a *Assembler) Bne(crf int, label string) *Assembler { return a.Bc(BOFalse, crf*4+EQ, label) }

// Blt emits blt crf, label
func (a *Assembler) Blt(crf int, label string) *Assembler { return a.Bc(BOTrue, crf*4+LT, label) }

// Bge emits bge crf, label
func (a *Assembler) Bge(crf int, label string) *Assembler { return a.Bc(BOFalse, crf*4+LT, label) }

// Bdnz emits bdnz label
func (a *Assembler) Bdnz(label string) *Assembler { return a.Bc(BODNZ, 0, label) }

// Blr emits blr
func (a *Assembler) Blr() *Assembler { return a.Word(0x4E800020) }

// Blrl emits blrl
func (a *Assembler) Blrl() *Assembler { return a.Word(0x4E800021) }

// Beqlr emits beqlr crf
func (a *Assembler) Beqlr(crf int) *Assembler {
	return a.Word(x(19, BOTrue, crf*4+EQ, 0, 16, false))
}

// Bctr emits bctr
func (a *Assembler) Bctr() *Assembler { return a.Word(0x4E800420) }

// Bctrl emits bctrl
func (a *Assembler) Bctrl() *Assembler { return a.Word(0x4E800421) }

// Hle emits the host escape with function id
func (a *Assembler) Hle(id uint16) *Assembler { return a.Word(1<<26 | uint32(id)) }

// Trap emits tw 31, 0, 0
func (a *Assembler) Trap() *Assembler { return a.Word(0x7FE00008) }

// Sync emits sync
func (a *Assembler) Sync() *Assembler { return a.Word(0x7C0004AC) }

func (a *Assembler) branch(label string, kind byte, bits uint32) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.words), label: label, kind: kind})
	if kind == 'b' {
		return a.Word(18<<26 | bits)
	}
	return a.Word(16<<26 | bits)
}

// Words resolves labels and returns the instruction words
func (a *Assembler) Words() ([]uint32, error) {
	out := append([]uint32(nil), a.words...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		rel := target - (a.base + uint32(f.index)*4)
		if f.kind == 'b' {
			out[f.index] |= rel & 0x03FFFFFC
		} else {
			if int32(rel) < -0x8000 || int32(rel) > 0x7FFC {
				return nil, fmt.Errorf("branch to %q out of range", f.label)
			}
			out[f.index] |= rel & 0xFFFC
		}
	}
	return out, nil
}

// Len returns the number of instructions
func (a *Assembler) Len() int {
	return len(a.words)
}

// WriteTo stores the program into img at the assembler's base
func (a *Assembler) WriteTo(img *guestmem.Image) error {
	words, err := a.Words()
	if err != nil {
		return err
	}
	return img.Assemble(a.base, words...)
}

// Image assembles the program into a fresh image with room to spare
func (a *Assembler) Image() (*guestmem.Image, error) {
	img := guestmem.NewImage(a.base, uint32(len(a.words))*4+64)
	if err := a.WriteTo(img); err != nil {
		return nil, err
	}
	return img, nil
}
