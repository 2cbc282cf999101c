package recompiler

import (
	"context"
	"sync"

	"ppcrec/pkg/errors"
	"ppcrec/pkg/guestmem"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/tlog"
)

// State is the jump table state of a guest address
type State uint8

const (
	StateUnvisited State = iota
	StateVisited
	StateCompiled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnvisited:
		return "unvisited"
	case StateVisited:
		return "visited"
	case StateCompiled:
		return "compiled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type slot struct {
	state State
	fn    *Function
}

// Runtime maps guest addresses to compiled functions. Addresses without a
// compiled function are left to the interpreter.
type Runtime struct {
	compiler *Compiler
	mem      guestmem.Reader
	workers  int

	mu        sync.Mutex
	enabled   bool
	base      uint32
	table     []slot // one slot per instruction word
	functions map[uint32]*Function
	queue     []uint32
	epoch     uint64 // bumped by every invalidation

	failed      int
	invalidated int
}

// NewRuntime creates a runtime for the code in [base, base+size). It starts
// disabled when the execution mode is the interpreter.
func NewRuntime(mem guestmem.Reader, base, size uint32, cfg Config) *Runtime {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Runtime{
		compiler:  NewCompiler(cfg),
		mem:       mem,
		workers:   workers,
		enabled:   GetExecutionMode() == ModeRecompiler,
		base:      base,
		table:     make([]slot, size/4),
		functions: make(map[uint32]*Function),
	}
}

// Enabled returns whether compiled code is used
func (r *Runtime) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled enables or disables compiled code
func (r *Runtime) SetEnabled(enabled bool) {
	if r != nil {
		r.mu.Lock()
		r.enabled = enabled
		r.mu.Unlock()
	}
}

func (r *Runtime) at(addr uint32) *slot {
	if addr < r.base || addr&3 != 0 {
		return nil
	}
	i := (addr - r.base) / 4
	if i >= uint32(len(r.table)) {
		return nil
	}
	return &r.table[i]
}

// State returns the jump table state of addr
func (r *Runtime) State(addr uint32) State {
	if r == nil {
		return StateUnvisited
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.at(addr); s != nil {
		return s.state
	}
	return StateUnvisited
}

// Visit queues addr for compilation. It reports false when addr is outside
// the table or was visited before.
func (r *Runtime) Visit(addr uint32) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return false
	}
	s := r.at(addr)
	if s == nil || s.state != StateUnvisited {
		return false
	}
	s.state = StateVisited
	r.queue = append(r.queue, addr)
	return true
}

// ProcessQueue compiles every queued address on a bounded worker pool. A
// failed compilation marks its address failed; only cancellation of ctx is
// returned as an error.
func (r *Runtime) ProcessQueue(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, addr := range queue {
		addr := addr
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				r.requeue(addr)
				return err
			}
			epoch := r.currentEpoch()
			fn, err := r.compiler.Compile(r.mem, Request{Entry: addr})
			r.finish(addr, epoch, fn, err)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) requeue(addr uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, addr)
}

func (r *Runtime) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *Runtime) finish(addr uint32, epoch uint64, fn *Function, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.at(addr)
	if s == nil || s.state != StateVisited {
		return
	}
	if epoch != r.epoch {
		// code may have changed while compiling
		s.state = StateUnvisited
		return
	}
	if err != nil {
		s.state = StateFailed
		r.failed++
		if errors.IsInvariant(err) {
			tlog.Printw("recompiler invariant violated", "entry", addr, "err", err)
		} else if tlog.If("recompiler") {
			tlog.Printw("function left to the interpreter", "entry", addr, "err", err)
		}
		return
	}

	r.functions[addr] = fn
	s.state, s.fn = StateCompiled, fn
	for _, seg := range fn.IML.Segments() {
		if !seg.IsEnterable || seg.EnterAddress == addr {
			continue
		}
		// secondary entries of an already compiled function keep their owner
		if e := r.at(seg.EnterAddress); e != nil && e.state != StateCompiled {
			e.state, e.fn = StateCompiled, fn
		}
	}
}

// Lookup returns the compiled function entered at addr or nil
func (r *Runtime) Lookup(addr uint32) *Function {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil
	}
	if s := r.at(addr); s != nil && s.state == StateCompiled {
		return s.fn
	}
	return nil
}

// InvalidateRange drops every compiled function overlapping
// [start, start+size) and resets the jump table entries of the range
func (r *Runtime) InvalidateRange(start, size uint32) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := make(map[*Function]bool)
	for entry, fn := range r.functions {
		if fn.Overlaps(start, size) {
			dropped[fn] = true
			delete(r.functions, entry)
		}
	}
	for i := range r.table {
		s := &r.table[i]
		addr := r.base + uint32(i)*4
		inRange := uint64(addr) >= uint64(start) && uint64(addr) < uint64(start)+uint64(size)
		if (s.fn != nil && dropped[s.fn]) || (inRange && s.state == StateFailed) {
			*s = slot{}
		}
	}
	r.epoch++
	r.invalidated += len(dropped)
	return len(dropped)
}

// Reset forgets every compiled function and queued address
func (r *Runtime) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.table {
		r.table[i] = slot{}
	}
	r.functions = make(map[uint32]*Function)
	r.queue = nil
}

// Stats is a snapshot of the runtime
type Stats struct {
	FunctionsCompiled int
	FunctionsFailed   int
	Queued            int
	Invalidated       int
	Enabled           bool
}

// Stats returns runtime statistics
func (r *Runtime) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		FunctionsCompiled: len(r.functions),
		FunctionsFailed:   r.failed,
		Queued:            len(r.queue),
		Invalidated:       r.invalidated,
		Enabled:           r.enabled,
	}
}
