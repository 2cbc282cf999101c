package iml

import "fmt"

// Name identifies a slot of named storage: a guest register, a guest SPR or a
// compiler temporary. Named storage persists across calls into compiled code.
type Name uint32

const (
	NameNone      Name = 0
	NameTemporary Name = 1000
	NameR0        Name = 2000
	NameSPR0      Name = 3000
	NameXERCA     Name = 4100
)

// Guest special purpose register numbers
const (
	SPRXER   = 1
	SPRLR    = 8
	SPRCTR   = 9
	SPRUGQR0 = 896
	SPRUGQR7 = 903
)

// GPR returns the name of guest general purpose register n
func GPR(n int) Name {
	return NameR0 + Name(n)
}

// SPR returns the name of guest special purpose register n
func SPR(n int) Name {
	return NameSPR0 + Name(n)
}

// Temporary returns the name of compiler temporary i
func Temporary(i int) Name {
	return NameTemporary + Name(i)
}

// IsGPR reports whether the name refers to a guest general purpose register
func (n Name) IsGPR() bool {
	return n >= NameR0 && n < NameR0+32
}

func (n Name) String() string {
	switch {
	case n == NameNone:
		return "none"
	case n == NameXERCA:
		return "xer.ca"
	case n.IsGPR():
		return fmt.Sprintf("r%d", n-NameR0)
	case n == SPR(SPRLR):
		return "lr"
	case n == SPR(SPRCTR):
		return "ctr"
	case n >= NameSPR0 && n < NameSPR0+1024:
		return fmt.Sprintf("spr%d", n-NameSPR0)
	case n >= NameTemporary && n < NameR0:
		return fmt.Sprintf("tmp%d", n-NameTemporary)
	}
	return fmt.Sprintf("name%d", uint32(n))
}
