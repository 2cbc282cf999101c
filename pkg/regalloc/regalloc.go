// Package regalloc assigns host registers to the virtual registers of a
// segmented function and inserts the loads and stores that keep named guest
// storage in sync.
//
// After Allocate every register operand of the function holds a physical
// register number in [0, Config.PhysicalRegisters).
package regalloc

import (
	"ppcrec/pkg/errors"
	"ppcrec/pkg/iml"
	"ppcrec/pkg/segmenter"

	"tlog.app/go/tlog"
)

// DefaultMaxIterations bounds the assignment passes of one function
const DefaultMaxIterations = 10000

// Config controls one allocation
type Config struct {
	PhysicalRegisters int
	// Verify checks allocation soundness before materialization
	Verify        bool
	MaxIterations int
}

// DefaultConfig returns a config for n host registers
func DefaultConfig(n int) Config {
	return Config{
		PhysicalRegisters: n,
		MaxIterations:     DefaultMaxIterations,
	}
}

// Stats counts the work done by one allocation
type Stats struct {
	Ranges        int
	Splits        int
	HoleCuts      int
	Explodes      int
	Restarts      int
	Loads         int
	Stores        int
	DelayedStores int
}

// Allocate rewrites fn to use physical registers. On error fn is left in an
// undefined state and must be discarded.
func Allocate(fn *iml.Function, cfg Config) (Stats, error) {
	a, err := allocate(fn, cfg)
	if err != nil {
		return Stats{}, err
	}
	a.release()
	return a.stats, nil
}

func allocate(fn *iml.Function, cfg Config) (*Allocation, error) {
	if cfg.PhysicalRegisters < 1 || cfg.PhysicalRegisters > 32 {
		return nil, errors.Invariantf("unsupported physical register count %d", cfg.PhysicalRegisters)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	if err := checkOperands(fn, cfg.PhysicalRegisters); err != nil {
		return nil, err
	}
	prepare(fn)

	a := newAllocation(fn, cfg.PhysicalRegisters)
	l := newLiveness(fn)
	l.mergeCloseRanges()
	l.extendOutOfLoops()
	l.buildRanges(a)

	if err := a.assignRegisters(cfg.MaxIterations); err != nil {
		a.release()
		return nil, errors.Wrapf(err, "assign registers")
	}
	if cfg.Verify {
		if err := Verify(fn, a); err != nil {
			a.release()
			return nil, err
		}
	}
	a.analyzeDataFlow()
	if err := a.materialize(); err != nil {
		a.release()
		return nil, errors.Wrapf(err, "materialize")
	}

	if tlog.If("regalloc") {
		s := a.stats
		tlog.Printw("allocated registers", "function", fn.EntryAddress, "ranges", s.Ranges, "splits", s.Splits,
			"hole_cuts", s.HoleCuts, "explodes", s.Explodes, "restarts", s.Restarts,
			"loads", s.Loads, "stores", s.Stores, "delayed_stores", s.DelayedStores)
	}
	return a, nil
}

// prepare inserts an empty segment on every not-taken edge into a join, which
// gives the materializer a place for edge specific loads and stores, then
// recomputes loop depths
func prepare(fn *iml.Function) {
	for i := 0; i < fn.NumSegments(); i++ {
		s := fn.At(i)
		if s.Uncertain || s.BranchTaken == iml.NoSegment || s.BranchNotTaken == iml.NoSegment {
			continue
		}
		next := fn.Segment(s.BranchNotTaken)
		if len(next.Prev) <= 1 || next.IsEnterable {
			continue
		}
		edge := fn.InsertSegments(i+1, 1)[0]
		fn.SetBranchNotTaken(s.ID, edge.ID)
		fn.SetBranchNotTaken(edge.ID, next.ID)
	}
	segmenter.DetectLoops(fn, iml.NewMarks(fn))
}

// checkOperands rejects functions with an instruction touching more virtual
// registers than there are host registers. Below that bound every conflict
// has a holder that can give way.
func checkOperands(fn *iml.Function, registers int) error {
	for _, seg := range fn.Segments() {
		for i := range seg.Instructions {
			in := &seg.Instructions[i]
			if in.IsSuffix() {
				break
			}
			n := 0
			u := in.Usage()
			u.ForEach(func(iml.VReg, bool, bool) { n++ })
			if n > registers {
				return invariantf("segment %d: %s needs %d registers, %d available", seg.ID, in, n, registers)
			}
		}
	}
	return nil
}
