package decoder

import (
	"ppcrec/pkg/errors"
	"ppcrec/pkg/guestmem"
	"ppcrec/pkg/iml"

	"golang.org/x/exp/slices"
	"tlog.app/go/tlog"
)

const (
	// MaxVirtualRegisters bounds the virtual register pool of one function
	MaxVirtualRegisters = 256
	// DefaultMaxInstructions bounds boundary tracking when no count is given
	DefaultMaxInstructions = 4096
)

// Options controls generation for one function
type Options struct {
	Entry           uint32
	Count           int      // instruction words to decode, 0 tracks the boundary
	Entries         []uint32 // addresses enterable from outside the function
	InlineFunctions bool
	MaxInstructions int
}

// Output is the flat IML stream of one function
type Output struct {
	Entry        uint32
	Size         uint32
	Instructions []iml.Instruction
	Ranges       []iml.AddressRange // decoded code, inlined callees after the main range
	VRegNames    []iml.Name
	Entries      []uint32 // every address marked enterable
}

type generator struct {
	mem  guestmem.Reader
	opts Options

	start uint32
	end   uint32
	addr  uint32 // address of the instruction being decoded

	vregs map[iml.Name]iml.VReg
	names []iml.Name

	ranges []iml.AddressRange
	// set when the decoded instruction returns to the following address
	returnsHere bool
	inlining    bool
}

// Generate decodes the function at opts.Entry into a flat IML stream.
// Any undecodable instruction fails the whole function with an
// *errors.UnsupportedError and no partial output.
func Generate(mem guestmem.Reader, opts Options) (*Output, error) {
	size := uint32(opts.Count) * 4
	if opts.Count <= 0 {
		limit := opts.MaxInstructions
		if limit <= 0 {
			limit = DefaultMaxInstructions
		}
		tracker := &BoundaryTracker{Mem: mem, Limit: limit}
		r, err := tracker.Track(opts.Entry)
		if err != nil {
			return nil, err
		}
		size = r.Size
	}

	g := &generator{
		mem:   mem,
		opts:  opts,
		start: opts.Entry,
		end:   opts.Entry + size,
		vregs: make(map[iml.Name]iml.VReg),
	}
	g.ranges = append(g.ranges, iml.AddressRange{Start: g.start, Size: size})
	return g.run()
}

type decoded struct {
	addr  uint32
	frag  fragment
	enter bool
}

func (g *generator) run() (*Output, error) {
	entries := make(map[uint32]bool)
	entries[g.start] = true
	for _, e := range g.opts.Entries {
		if g.inRange(e) {
			entries[e] = true
		}
	}

	targets := make(map[uint32]bool)
	var list []decoded
	unconditionalRun := 0
	nextEnterable := false
	for addr := g.start; addr < g.end; addr += 4 {
		op, err := g.mem.ReadU32(addr)
		if err != nil {
			return nil, errors.WrapUnsupported(err, addr, "unreadable guest memory")
		}
		g.addr = addr
		g.returnsHere = false
		frag, err := decode(g, op)
		if err != nil {
			return nil, err
		}
		if len(frag) == 0 {
			frag = fragment{iml.MakeNoOp()}
		}
		for i := range frag {
			if frag[i].Address == 0 {
				frag[i].Address = addr
			}
			if frag[i].Type == iml.TypeCJump && !frag[i].JumpBySegment {
				targets[frag[i].JumpmarkAddress] = true
			}
		}

		enter := entries[addr] || nextEnterable || unconditionalRun >= 2
		list = append(list, decoded{addr: addr, frag: frag, enter: enter})

		nextEnterable = g.returnsHere
		if isUnconditionalBranch(op) {
			unconditionalRun++
		} else {
			unconditionalRun = 0
		}
	}

	if len(g.names) > MaxVirtualRegisters {
		return nil, errors.Unsupportedf(g.start, 0, "function needs %d virtual registers", len(g.names))
	}

	out := &Output{
		Entry:     g.start,
		Size:      g.end - g.start,
		Ranges:    g.ranges,
		VRegNames: g.names,
	}
	for _, d := range list {
		if targets[d.addr] || d.enter {
			out.Instructions = append(out.Instructions, iml.MakeJumpmark(d.addr))
		}
		if d.enter {
			out.Instructions = append(out.Instructions, iml.MakePPCEnter(d.addr))
			out.Entries = append(out.Entries, d.addr)
		}
		out.Instructions = append(out.Instructions, d.frag...)
	}
	// falling off the end leaves compiled code at the next guest address
	if targets[g.end] || !endsFlow(out.Instructions) {
		if targets[g.end] {
			out.Instructions = append(out.Instructions, iml.MakeJumpmark(g.end))
		}
		out.Instructions = append(out.Instructions, iml.MakeMacro(iml.MacroBFar, g.end, g.end))
	}
	slices.Sort(out.Entries)

	if tlog.If("decoder") {
		tlog.Printw("decoded function", "entry", g.start, "size", out.Size, "iml", len(out.Instructions), "vregs", len(g.names), "targets", len(targets))
	}
	return out, nil
}

func (g *generator) inRange(addr uint32) bool {
	return addr >= g.start && addr < g.end && addr&3 == 0
}

// endsFlow reports whether the stream ends in an instruction that never falls through
func endsFlow(ins []iml.Instruction) bool {
	if len(ins) == 0 {
		return false
	}
	last := &ins[len(ins)-1]
	switch last.Type {
	case iml.TypeCJump:
		return last.Cond == iml.CondAlways
	case iml.TypeMacro:
		switch last.Macro {
		case iml.MacroCountCycles:
			return false
		default:
			// calls return to the following address, which lies outside the function
			return true
		}
	}
	return false
}

func isUnconditionalBranch(op uint32) bool {
	return primaryOpcode(op) == 18 && !linkBit(op)
}

// vreg finds or allocates the virtual register bound to name. The pool
// bound is checked once the whole function is decoded.
func (g *generator) vreg(name iml.Name) iml.VReg {
	if r, ok := g.vregs[name]; ok {
		return r
	}
	r := iml.VReg(len(g.names))
	g.vregs[name] = r
	g.names = append(g.names, name)
	return r
}

func (g *generator) gpr(n int) iml.VReg {
	return g.vreg(iml.GPR(n))
}

func (g *generator) spr(n int) iml.VReg {
	return g.vreg(iml.SPR(n))
}

func (g *generator) carry() iml.VReg {
	return g.vreg(iml.NameXERCA)
}

func (g *generator) unsupported(op uint32, msg string) error {
	return errors.Unsupportedf(g.addr, op, "%s", msg)
}
