package harness

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/binding"
	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/kv/sqlite"
	"github.com/roach88/kprefs/internal/schema"
	"github.com/roach88/kprefs/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against an isolated store with a deterministic clock.
type Harness struct {
	store    *kv.Store
	registry *schema.Registry
	clock    *testutil.DeterministicClock
	result   *Result
	seq      int64

	watchers []*watcher // creation order
	byID     map[string]*watcher
}

type watcher struct {
	id      string
	binding string
	view    string
	w       schema.Watcher
	rec     *testutil.Recorder[string]
	seen    int
	stopped bool
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Load and validate the schema
// 2. Create a fresh in-memory SQLite store and a registry over it
// 3. Execute steps, draining watcher emissions after each one
// 4. Record final values and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	decls, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	namespace := scenario.Namespace
	if namespace == "" {
		namespace = scenario.Name
	}

	backend, err := sqlite.Open(":memory:", sqlite.WithNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	st := kv.New(backend,
		kv.WithNamespace(namespace),
		kv.WithClock(clock),
		kv.WithLogger(zap.NewNop()), // Suppress logs in tests
	)
	defer st.Close()

	prefs := binding.NewPrefs(st)
	defer prefs.Close()

	registry, err := schema.NewRegistry(prefs, decls)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	h := &Harness{
		store:    st,
		registry: registry,
		clock:    clock,
		result:   NewResult(),
		byID:     make(map[string]*watcher),
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.execute(ctx, i, step)
		h.drainAll(ctx)
	}
	h.stopAll(ctx)
	h.recordFinal(ctx)

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			h.result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return h.result, nil
}

func (h *Harness) trace(e TraceEvent) {
	h.seq++
	e.Seq = h.seq
	e.StoreSeq = h.store.Seq()
	h.result.Trace = append(h.result.Trace, e)
}

func (h *Harness) entry(name string) (schema.Entry, error) {
	e, ok := h.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown binding %q", name)
	}
	return e, nil
}

// execute runs one step, recording a step error unless the step expects it.
func (h *Harness) execute(ctx context.Context, index int, step Step) {
	err := h.run(ctx, step)
	switch {
	case step.Error != "" && err == nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q", index, step.kind(), step.Error))
	case step.Error != "" && !strings.Contains(err.Error(), step.Error):
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): error %q does not contain %q", index, step.kind(), err, step.Error))
	case step.Error == "" && err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", index, step.kind(), err))
	}
}

func (h *Harness) run(ctx context.Context, step Step) error {
	switch step.kind() {
	case EventSet:
		e, err := h.entry(step.Set)
		if err != nil {
			return err
		}
		if err := e.Set(ctx, step.Value); err != nil {
			return err
		}
		h.trace(TraceEvent{Type: EventSet, Binding: step.Set, Value: step.Value})

	case EventUnset:
		e, err := h.entry(step.Unset)
		if err != nil {
			return err
		}
		if err := e.Unset(ctx); err != nil {
			return err
		}
		h.trace(TraceEvent{Type: EventUnset, Binding: step.Unset})

	case EventClear:
		if err := h.store.Edit().Clear().Commit(ctx); err != nil {
			return err
		}
		h.trace(TraceEvent{Type: EventClear})

	case EventGet:
		e, err := h.entry(step.Get)
		if err != nil {
			return err
		}
		got, err := e.Get(ctx)
		if err != nil {
			return err
		}
		h.trace(TraceEvent{Type: EventGet, Binding: step.Get, Value: got.String()})
		if step.Expect != nil && got.String() != *step.Expect {
			return fmt.Errorf("got %q, want %q", got.String(), *step.Expect)
		}

	case EventWatch:
		return h.watch(ctx, step)

	case EventStop:
		w, ok := h.byID[step.Stop]
		if !ok || w.stopped {
			return fmt.Errorf("no live watcher %q", step.Stop)
		}
		h.drain(ctx, w)
		w.w.Stop()
		w.stopped = true
		h.trace(TraceEvent{Type: EventStop, Binding: w.binding, Watcher: w.id})
	}
	return nil
}

func (h *Harness) watch(ctx context.Context, step Step) error {
	e, err := h.entry(step.Watch)
	if err != nil {
		return err
	}
	id := step.As
	if id == "" {
		id = step.Watch
	}
	if _, dup := h.byID[id]; dup {
		return fmt.Errorf("watcher %q already exists", id)
	}

	view, viewName := schema.ViewReplay, "replay"
	if step.View == "gated" {
		view, viewName = schema.ViewGated, "gated"
	}

	rec := testutil.NewRecorder[string]()
	sw, err := e.Watch(ctx, view, func(r schema.Reading) { rec.Record(r.String()) })
	if err != nil {
		return err
	}

	w := &watcher{id: id, binding: step.Watch, view: viewName, w: sw, rec: rec}
	h.watchers = append(h.watchers, w)
	h.byID[id] = w
	h.trace(TraceEvent{Type: EventWatch, Binding: w.binding, Watcher: id, View: viewName})
	return nil
}

// drain flushes w and traces what it received since the last drain.
func (h *Harness) drain(ctx context.Context, w *watcher) {
	if w.stopped {
		return
	}
	if err := w.w.Flush(ctx); err != nil {
		h.result.AddError(fmt.Sprintf("flush watcher %q: %v", w.id, err))
		return
	}
	values := w.rec.Values()
	for _, v := range values[w.seen:] {
		h.trace(TraceEvent{Type: EventEmit, Binding: w.binding, Watcher: w.id, View: w.view, Value: v})
	}
	w.seen = len(values)
	h.result.Emissions[w.id] = values
}

func (h *Harness) drainAll(ctx context.Context) {
	for _, w := range h.watchers {
		h.drain(ctx, w)
	}
}

func (h *Harness) stopAll(ctx context.Context) {
	for _, w := range h.watchers {
		if !w.stopped {
			h.drain(ctx, w)
			w.w.Stop()
			w.stopped = true
		}
	}
}

func (h *Harness) recordFinal(ctx context.Context) {
	for _, name := range h.registry.Names() {
		e, _ := h.registry.Lookup(name)
		got, err := e.Get(ctx)
		if err != nil {
			h.result.AddError(fmt.Sprintf("final read of %s: %v", name, err))
			continue
		}
		h.result.Final[name] = got.String()
	}
}
