// Package recompiler drives the decoder, segmenter and register allocator
// for guest functions and tracks which entry points have been compiled.
package recompiler

import (
	"fmt"

	"ppcrec/pkg/decoder"
	"ppcrec/pkg/errors"
	"ppcrec/pkg/guestmem"
	"ppcrec/pkg/host"
	"ppcrec/pkg/iml"
	"ppcrec/pkg/jitcache"
	"ppcrec/pkg/regalloc"
	"ppcrec/pkg/segmenter"

	"tlog.app/go/tlog"
)

// Config controls compilation
type Config struct {
	InlineFunctions bool
	MaxInstructions int
	Segmenter       segmenter.Options
	Allocator       regalloc.Config
	Workers         int
	// Cache, when set, remembers functions that failed to decode
	Cache *jitcache.Cache
}

// DefaultConfig returns the configuration for the running host
func DefaultConfig() Config {
	return Config{
		InlineFunctions: true,
		MaxInstructions: decoder.DefaultMaxInstructions,
		Segmenter:       segmenter.DefaultOptions(),
		Allocator:       regalloc.DefaultConfig(host.Detect().Registers),
		Workers:         4,
	}
}

// Request names the function to compile
type Request struct {
	Entry uint32
	// Count is the number of instruction words, 0 tracks the function boundary
	Count int
	// Entries are further addresses the function may be entered at
	Entries []uint32
}

// Function is a compiled guest function
type Function struct {
	Entry  uint32
	IML    *iml.Function
	Ranges []iml.AddressRange
	Stats  regalloc.Stats
}

// Overlaps reports whether any guest range of f intersects [start, start+size)
func (f *Function) Overlaps(start, size uint32) bool {
	end := uint64(start) + uint64(size)
	for _, r := range f.Ranges {
		if uint64(r.Start) < end && uint64(r.Start)+uint64(r.Size) > uint64(start) {
			return true
		}
	}
	return false
}

// Compiler turns guest functions into register allocated IML
type Compiler struct {
	cfg Config
}

// NewCompiler creates a compiler
func NewCompiler(cfg Config) *Compiler {
	return &Compiler{cfg: cfg}
}

// Compile decodes, segments and allocates the function of req. Failures are
// classified by errors.IsUnsupported and errors.IsInvariant and leave no
// partial state.
func (c *Compiler) Compile(mem guestmem.Reader, req Request) (*Function, error) {
	count := req.Count
	var key jitcache.Key
	cached := false
	if c.cfg.Cache != nil {
		if count <= 0 {
			tracker := &decoder.BoundaryTracker{Mem: mem, Limit: c.cfg.MaxInstructions}
			r, err := tracker.Track(req.Entry)
			if err != nil {
				return nil, errors.Wrapf(err, "compile 0x%08x", req.Entry)
			}
			count = int(r.Size / 4)
		}
		if code, err := mem.Slice(req.Entry, uint32(count)*4); err == nil {
			key = jitcache.MakeKey(req.Entry, code)
			cached = true
			if e, ok, err := c.cfg.Cache.Get(key); err != nil {
				tlog.Printw("verdict cache read failed", "entry", req.Entry, "err", err)
			} else if ok && e.Verdict == jitcache.VerdictUnsupported {
				return nil, errors.Unsupportedf(e.Address, e.Opcode, "%s (cached)", e.Message)
			}
		}
	}

	fn, err := c.compile(mem, req, count)
	if cached {
		c.remember(key, err)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "compile 0x%08x", req.Entry)
	}
	return fn, nil
}

func (c *Compiler) compile(mem guestmem.Reader, req Request, count int) (f *Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = errors.WrapInvariant(fmt.Errorf("%v", r), "compiler panicked")
		}
	}()

	out, err := decoder.Generate(mem, decoder.Options{
		Entry:           req.Entry,
		Count:           count,
		Entries:         req.Entries,
		InlineFunctions: c.cfg.InlineFunctions,
		MaxInstructions: c.cfg.MaxInstructions,
	})
	if err != nil {
		return nil, err
	}
	fn, err := segmenter.Build(out, c.cfg.Segmenter)
	if err != nil {
		return nil, err
	}
	stats, err := regalloc.Allocate(fn, c.cfg.Allocator)
	if err != nil {
		return nil, err
	}
	return &Function{
		Entry:  req.Entry,
		IML:    fn,
		Ranges: append([]iml.AddressRange(nil), fn.Ranges...),
		Stats:  stats,
	}, nil
}

// remember stores the verdict of a compilation. Invariant failures are not
// properties of the code and are never cached.
func (c *Compiler) remember(key jitcache.Key, err error) {
	e := jitcache.Entry{Verdict: jitcache.VerdictCompiled}
	if err != nil {
		u, ok := errors.AsUnsupported(err)
		if !ok {
			return
		}
		e = jitcache.Entry{Verdict: jitcache.VerdictUnsupported, Address: u.Address, Opcode: u.Opcode, Message: u.Message}
	}
	if err := c.cfg.Cache.Put(key, e); err != nil {
		tlog.Printw("verdict cache write failed", "err", err)
	}
}
