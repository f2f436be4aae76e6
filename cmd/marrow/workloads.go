package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/marrow/config"
	"github.com/chazu/marrow/gc"
	"github.com/chazu/marrow/gcstats"
	"github.com/chazu/marrow/vm"
)

// harness is a fresh heap with one compartment and an execution stack.
type harness struct {
	cfg   *config.Config
	rt    *gc.Runtime
	comp  *gc.Compartment
	space *vm.StackSpace
	cx    *vm.ContextStack
	rec   *gcstats.Recorder
	out   io.Writer
}

func newHarness(cfg *config.Config, out io.Writer) (*harness, error) {
	rt := gc.NewRuntime(cfg.GCOptions())
	comp := rt.NewCompartment("main")
	global, err := comp.NewPlainObject(nil)
	if err != nil {
		return nil, fmt.Errorf("global object: %w", err)
	}
	comp.SetGlobal(global)
	space := vm.NewStackSpace(rt, cfg.Stack.Capacity)

	h := &harness{
		cfg:   cfg,
		rt:    rt,
		comp:  comp,
		space: space,
		cx:    vm.NewContextStack(space, comp),
		out:   out,
	}
	if path := cfg.StatsPath(); path != "" {
		if h.rec, err = gcstats.Open(path); err != nil {
			return nil, err
		}
		h.rec.Attach(rt)
	}
	return h, nil
}

func (h *harness) close() {
	if h.rec != nil {
		h.rec.Close()
		h.rec = nil
	}
	if h.space != nil {
		h.space.Close()
		h.space = nil
	}
}

// collect runs a full collection, incremental when configured, and prints
// its statistics.
func (h *harness) collect(reason string) (*gc.CollectionStats, error) {
	st, err := h.rt.Collect(reason)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", reason, err)
	}
	fmt.Fprintln(h.out, formatStats(st))
	return st, nil
}

func (h *harness) object() (*gc.Object, error) {
	return h.comp.NewPlainObject(nil)
}

func (h *harness) setProperty(obj *gc.Object, name string, v gc.Value) error {
	atom, err := h.rt.Atomize(name)
	if err != nil {
		return err
	}
	return obj.DefineProperty(gc.StringID(atom), v)
}

func (h *harness) property(obj *gc.Object, name string) (gc.Value, bool) {
	atom, err := h.rt.Atomize(name)
	if err != nil {
		return gc.Undefined, false
	}
	return obj.GetProperty(gc.StringID(atom))
}

func formatStats(st *gc.CollectionStats) string {
	var b strings.Builder
	mode := "full"
	if st.Incremental {
		mode = fmt.Sprintf("incremental/%d", st.Slices)
	}
	fmt.Fprintf(&b, "%s %-12s %-16s marked %6d freed %6d arenas -%d %s",
		st.ID.String()[:8], st.Reason, mode, st.CellsMarked, st.CellsFreed, st.ArenasReleased, st.TotalDuration)
	if st.Aborted {
		b.WriteString(" ABORTED")
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Workloads
// ---------------------------------------------------------------------------

type workload struct {
	name string
	help string
	run  func(h *harness) error
}

var workloads = []workload{
	{"cycle", "Unreachable object cycles are reclaimed", runCycle},
	{"rope", "A deep rope is marked without recursion", runRope},
	{"shapes", "Long shape chains and a slowified array survive", runShapes},
	{"overflow", "Recursion until the stack space overflows", runOverflow},
	{"generators", "Generator frames are suspended and resumed across collections", runGenerators},
	{"incremental", "Sliced marking with the mutator writing between slices", runIncremental},
}

// run runs the named workloads in order, or every workload.
func (h *harness) run(names []string) error {
	if len(names) == 0 {
		for _, w := range workloads {
			names = append(names, w.name)
		}
	}
	for _, name := range names {
		w, ok := lookupWorkload(name)
		if !ok {
			return fmt.Errorf("unknown workload %q", name)
		}
		fmt.Fprintf(h.out, "== %s\n", w.name)
		if err := w.run(h); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	return nil
}

func lookupWorkload(name string) (workload, bool) {
	for _, w := range workloads {
		if w.name == name {
			return w, true
		}
	}
	return workload{}, false
}

const cyclePairs = 1000

func runCycle(h *harness) error {
	for i := 0; i < cyclePairs; i++ {
		a, err := h.object()
		if err != nil {
			return err
		}
		b, err := h.object()
		if err != nil {
			return err
		}
		if err := h.setProperty(a, "next", gc.ObjectValue(b)); err != nil {
			return err
		}
		if err := h.setProperty(b, "next", gc.ObjectValue(a)); err != nil {
			return err
		}
	}
	st, err := h.collect("cycle")
	if err != nil {
		return err
	}
	if st.ObjectsFreed < 2*cyclePairs {
		return fmt.Errorf("freed %d objects, want at least %d", st.ObjectsFreed, 2*cyclePairs)
	}
	return nil
}

const ropeDepth = 20000

func runRope(h *harness) error {
	rope, err := h.comp.NewString("r")
	if err != nil {
		return err
	}
	for i := 0; i < ropeDepth; i++ {
		leaf, err := h.comp.NewString("x")
		if err != nil {
			return err
		}
		if rope, err = h.comp.NewRope(rope, leaf); err != nil {
			return err
		}
	}
	root := gc.StringValue(rope)
	h.rt.AddValueRoot("rope", &root)

	st, err := h.collect("rope")
	if err != nil {
		return err
	}
	if st.CellsMarked < ropeDepth {
		return fmt.Errorf("marked %d cells, want the %d rope nodes", st.CellsMarked, ropeDepth)
	}
	if n := h.rt.StringOf(root).Length(); n != ropeDepth+1 {
		return fmt.Errorf("rope length %d after collection, want %d", n, ropeDepth+1)
	}

	h.rt.RemoveRoot("rope")
	st, err = h.collect("rope-dropped")
	if err != nil {
		return err
	}
	if st.CellsFreed < 2*ropeDepth {
		return fmt.Errorf("freed %d cells, want the rope's %d", st.CellsFreed, 2*ropeDepth)
	}
	return nil
}

const (
	shapeProps  = 256
	arrayLength = 1000
)

func runShapes(h *harness) error {
	obj, err := h.object()
	if err != nil {
		return err
	}
	for i := 0; i < shapeProps; i++ {
		if err := h.setProperty(obj, fmt.Sprintf("p%d", i), gc.Int32Value(int32(i))); err != nil {
			return err
		}
	}
	vals := make([]gc.Value, arrayLength)
	for i := range vals {
		elem, err := h.object()
		if err != nil {
			return err
		}
		vals[i] = gc.ObjectValue(elem)
	}
	arr, err := h.comp.NewDenseArray(nil, vals)
	if err != nil {
		return err
	}
	if err := h.setProperty(h.comp.Global(), "shapes", gc.ObjectValue(obj)); err != nil {
		return err
	}
	if err := h.setProperty(h.comp.Global(), "array", gc.ObjectValue(arr)); err != nil {
		return err
	}
	probe := h.rt.NewWeakRef(h.rt.ObjectOf(vals[arrayLength-1]))

	if _, err := h.collect("shapes-dense"); err != nil {
		return err
	}
	if err := arr.MakeSlowArray(); err != nil {
		return err
	}
	if _, err := h.collect("shapes-slow"); err != nil {
		return err
	}

	if v, ok := h.property(obj, fmt.Sprintf("p%d", shapeProps-1)); !ok || v != gc.Int32Value(shapeProps-1) {
		return errors.New("last property lost")
	}
	if !probe.IsAlive() {
		return errors.New("element of the slowified array was collected")
	}
	return nil
}

const (
	overflowCapacity = 1 << 12
	overflowVars     = 4
	overflowSlots    = 8
)

func runOverflow(h *harness) error {
	// A small stack space stands in for the harness's while the workload
	// runs; both register under the same root name.
	h.space.Close()
	space := vm.NewStackSpace(h.rt, overflowCapacity)
	defer func() {
		space.Close()
		h.rt.AddRootTracer(vm.RootName, h.space)
	}()
	cx := vm.NewContextStack(space, h.comp)

	script, err := h.comp.NewScript("overflow.js", 1, overflowVars, overflowSlots)
	if err != nil {
		return err
	}
	fun, err := h.comp.NewInterpretedFunction(script, h.comp.Global(), 1, nil, gc.FunHeavyweight)
	if err != nil {
		return err
	}

	type activation struct {
		call *vm.CallArgsList
		fp   *vm.StackFrame
	}
	var active []activation
	for {
		call, err := cx.PushInvokeArgs(1)
		if errors.Is(err, vm.ErrStackOverflow) {
			break
		}
		if err != nil {
			return err
		}
		call.SetCallee(gc.ObjectValue(fun))
		call.SetArg(0, gc.Int32Value(int32(len(active))))
		fp, err := cx.PushInvokeFrame(call, false)
		if err != nil {
			cx.PopInvokeArgs(call)
			if errors.Is(err, vm.ErrStackOverflow) {
				break
			}
			return err
		}
		if err := fp.Prologue(); err != nil {
			return err
		}
		active = append(active, activation{call, fp})
	}
	fmt.Fprintf(h.out, "overflowed at depth %d of %d values\n", len(active), overflowCapacity)

	st, err := h.collect("overflow-deep")
	if err != nil {
		return err
	}
	if st.CellsMarked < len(active) {
		return fmt.Errorf("marked %d cells, want a call object per frame (%d)", st.CellsMarked, len(active))
	}
	for i := len(active) - 1; i >= 0; i-- {
		cx.PopFrame(active[i].fp)
		cx.PopInvokeArgs(active[i].call)
	}
	if space.FirstUnused() != 0 {
		return fmt.Errorf("%d values left on the stack after unwinding", space.FirstUnused())
	}
	_, err = h.collect("overflow-unwound")
	return err
}

const generatorSteps = 8

func runGenerators(h *harness) error {
	script, err := h.comp.NewScript("gen.js", 1, 1, 2)
	if err != nil {
		return err
	}
	fun, err := h.comp.NewInterpretedFunction(script, h.comp.Global(), 0, nil, gc.FunGenerator)
	if err != nil {
		return err
	}
	call, err := h.cx.PushInvokeArgs(0)
	if err != nil {
		return err
	}
	call.SetCallee(gc.ObjectValue(fun))
	fp, err := h.cx.PushInvokeFrame(call, false)
	if err != nil {
		return err
	}
	if err := fp.Prologue(); err != nil {
		return err
	}
	state, err := h.object()
	if err != nil {
		return err
	}
	fp.SetLocal(0, gc.ObjectValue(state))
	gen, err := h.cx.NewGenerator(fp)
	if err != nil {
		return err
	}
	h.cx.PopFrame(fp)
	h.cx.PopInvokeArgs(call)

	genObj := gen.Object()
	h.rt.AddObjectRoot("generator", &genObj)
	defer h.rt.RemoveRoot("generator")
	probe := h.rt.NewWeakRef(state)

	for step := 0; step < generatorSteps; step++ {
		fp, err := h.cx.PushGeneratorFrame(gen)
		if err != nil {
			return err
		}
		if fp.Local(0) != gc.ObjectValue(state) {
			return fmt.Errorf("step %d: generator lost its local", step)
		}
		yielded, err := h.object()
		if err != nil {
			return err
		}
		if err := fp.Push(gc.ObjectValue(yielded)); err != nil {
			return err
		}
		if step == generatorSteps-1 {
			fp.Pop()
			h.cx.PopGeneratorFrame(fp)
			break
		}
		fp.Pop()
		fp.Yield(gc.ObjectValue(yielded))
		h.cx.PopGeneratorFrame(fp)

		if _, err := h.collect(fmt.Sprintf("generator-%d", step)); err != nil {
			return err
		}
		if !probe.IsAlive() {
			return fmt.Errorf("step %d: suspended generator's local was collected", step)
		}
	}
	if gen.State() != vm.GeneratorClosed {
		return fmt.Errorf("generator %s after its last step, want closed", gen.State())
	}
	if _, err := h.collect("generator-closed"); err != nil {
		return err
	}
	if probe.IsAlive() {
		return errors.New("closed generator still holds its local")
	}
	return nil
}

const listLength = 5000

func runIncremental(h *harness) error {
	head, err := h.object()
	if err != nil {
		return err
	}
	if err := h.setProperty(h.comp.Global(), "list", gc.ObjectValue(head)); err != nil {
		return err
	}
	nodes := []*gc.WeakRef{h.rt.NewWeakRef(head)}
	cur := head
	for i := 1; i < listLength; i++ {
		next, err := h.object()
		if err != nil {
			return err
		}
		if err := h.setProperty(cur, "next", gc.ObjectValue(next)); err != nil {
			return err
		}
		nodes = append(nodes, h.rt.NewWeakRef(next))
		cur = next
	}

	steps := h.cfg.Incremental.SliceSteps
	if steps <= 0 || steps > listLength/10 {
		steps = listLength / 10
	}
	if err := h.rt.StartIncremental("incremental", h.comp, h.rt.AtomsCompartment()); err != nil {
		return err
	}
	slices := 0
	for {
		res := h.rt.Slice(gc.WorkBudget(steps))
		slices++
		if res.Status == gc.SliceFailed {
			return res.Err
		}
		if res.Status == gc.SliceCompleted {
			fmt.Fprintln(h.out, formatStats(res.Stats))
			break
		}
		if slices == 1 {
			// Rotate the tail to the front. The rest of the list is then
			// reachable only through edges the barrier saw overwritten.
			tail := nodes[len(nodes)-1].Get()
			if tail == nil {
				return errors.New("list tail collected while marking")
			}
			if err := h.setProperty(nodes[len(nodes)-2].Get(), "next", gc.Undefined); err != nil {
				return err
			}
			if err := h.setProperty(tail, "next", gc.ObjectValue(head)); err != nil {
				return err
			}
			if err := h.setProperty(h.comp.Global(), "list", gc.ObjectValue(tail)); err != nil {
				return err
			}
			head = tail
			continue
		}
		fresh, err := h.object()
		if err != nil {
			return err
		}
		if err := h.setProperty(fresh, "next", gc.ObjectValue(head)); err != nil {
			return err
		}
		if err := h.setProperty(h.comp.Global(), "list", gc.ObjectValue(fresh)); err != nil {
			return err
		}
		nodes = append(nodes, h.rt.NewWeakRef(fresh))
		head = fresh
	}
	fmt.Fprintf(h.out, "marked in %d slices\n", slices)

	for i, w := range nodes {
		if !w.IsAlive() {
			return fmt.Errorf("list node %d collected", i)
		}
	}
	// Every node is still linked from the global, so a second collection
	// keeps them all too.
	if _, err := h.collect("incremental-after"); err != nil {
		return err
	}
	for i, w := range nodes {
		if !w.IsAlive() {
			return fmt.Errorf("list node %d collected after relinking", i)
		}
	}
	return nil
}
