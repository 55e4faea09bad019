package heap

import (
	"github.com/orizon-lang/mheap/internal/alloc"
)

// GCThresholdDisabled is the SetGCThreshold sentinel that turns off the
// automatic pre-allocation trigger of §4.3.
const GCThresholdDisabled = -1

// EventFunc observes GC phase transitions (§4.10/§4.11's inspector hook).
// It must return promptly; it runs synchronously on the mutator thread.
type EventFunc func(Event)

// Runtime is the explicit, single owner of every process-wide list and
// arena — per §9's "no hidden singletons" note, every heap operation
// takes a *Runtime (or a cell within one) as its receiver/first
// argument.
type Runtime struct {
	arena *arena
	lists [listCount]listHead

	alloc    alloc.ContextAllocator
	counters alloc.Counters

	phase Phase

	gcThreshold   int64 // bytes; GCThresholdDisabled turns off the trigger
	gcAutoEnabled bool

	// deferredFree is not written by any code path: the cycle collector's
	// free pass defers deallocation by finalizing every condemned cell
	// before recycling any of them (see freePass), so it keeps no
	// separate deferred list.
	deferredFree []CellID

	roots []CellID // externally-held contexts/objects (mutator roots)

	// activeContext is the most recently created CONTEXT cell. The
	// snapshot dumper's root-is-index-0 rule (§4.8) needs something
	// concrete to call "the active context"; the Runtime is the only
	// place that knows creation order, so it tracks this itself rather
	// than asking the dumper to guess from list order.
	activeContext CellID

	onEvent EventFunc

	// externalRequests decouples the fsnotify/quic ambient goroutines
	// from the single-threaded mutator: they enqueue a request here
	// instead of calling into retain/release/run_gc directly, per
	// SPEC_FULL §5.
	externalRequests chan ExternalRequest
}

// ExternalRequest is a request queued by an ambient (non-mutator)
// goroutine — currently only "dump a snapshot now".
type ExternalRequest struct {
	Kind ExternalRequestKind
	Ctx  CellID
}

type ExternalRequestKind uint8

const (
	RequestDumpSnapshot ExternalRequestKind = iota
)

// NewRuntime allocates a fresh Runtime backed by backend, with no contexts and
// no pending allocations.
func NewRuntime(backend alloc.Allocator) *Runtime {
	rt := &Runtime{
		arena:            newArena(),
		gcThreshold:      256 * 1024,
		gcAutoEnabled:    true,
		externalRequests: make(chan ExternalRequest, 64),
	}
	rt.alloc = alloc.ContextAllocator{Allocator: backend}

	return rt
}

// FreeRuntime releases every cell still on the live list without running
// finalizers that would themselves mutate the graph — it is the terminal
// teardown of an embedder shutting down, not a cycle collection.
func (rt *Runtime) FreeRuntime() {
	rt.forEach(listLive, func(id CellID) {
		rt.arena.recycle(id)
	})

	rt.lists[listLive] = listHead{}
}

// SetMemoryLimit records bytes as the MallocLimit of the Runtime's own
// counters (as reported by Counters); 0 means unlimited. Cell
// registration does not check this limit, and the backend allocator
// passed to NewRuntime enforces only the limit on its own Counters.
func (rt *Runtime) SetMemoryLimit(bytes int64) {
	rt.counters.MallocLimit = bytes
}

// SetGCThreshold sets the byte threshold that triggers an automatic
// run_gc before the next allocation, or GCThresholdDisabled to turn the
// trigger off (a manual run_gc call still works).
func (rt *Runtime) SetGCThreshold(bytes int64) {
	if bytes == GCThresholdDisabled {
		rt.gcAutoEnabled = false
		return
	}

	rt.gcAutoEnabled = true
	rt.gcThreshold = bytes
}

// SetEventSink installs the observer used by the ambient inspector
// (§4.11); pass nil to disable.
func (rt *Runtime) SetEventSink(fn EventFunc) {
	rt.onEvent = fn
}

func (rt *Runtime) emit(ev Event) {
	if rt.onEvent != nil {
		rt.onEvent(ev)
	}
}

// ExternalRequests exposes the channel ambient goroutines (the fsnotify
// watcher, the QUIC inspector) enqueue onto instead of calling into the
// mutator directly.
func (rt *Runtime) ExternalRequests() chan<- ExternalRequest {
	return rt.externalRequests
}

// PollExternalRequests drains any requests queued by ambient goroutines
// and services them on the calling (mutator) thread. Callers should poll
// this from their own event loop; it is never invoked automatically.
func (rt *Runtime) PollExternalRequests(dump func(ctxID CellID)) {
	for {
		select {
		case req := <-rt.externalRequests:
			switch req.Kind {
			case RequestDumpSnapshot:
				if dump != nil {
					dump(req.Ctx)
				}
			}
		default:
			return
		}
	}
}

// AddRoot marks id as an externally-held mutator root: NewContext and
// Retain-then-hold-externally both route here so P5 (external
// preservation) has something concrete to check against.
func (rt *Runtime) AddRoot(id CellID) {
	rt.retain(id)
	rt.roots = append(rt.roots, id)
}

// RemoveRoot releases one external hold on id, added via AddRoot.
func (rt *Runtime) RemoveRoot(id CellID) {
	for i, r := range rt.roots {
		if r == id {
			rt.roots = append(rt.roots[:i], rt.roots[i+1:]...)
			break
		}
	}

	rt.Release(id)
}

// Counters exposes a snapshot of the allocator accounting (§4.1, P3).
func (rt *Runtime) Counters() alloc.Counters {
	return rt.counters.Snapshot()
}

// NewContext creates a CONTEXT cell attached to rt and returns its id
// with one strong reference already held by the Runtime itself (a
// context is a GC cell, but the embedder's handle to it is a root until
// explicitly released).
func (rt *Runtime) NewContext() CellID {
	id := rt.register(KindContext, &Context{WellKnown: make(map[string]Value)})
	rt.AddRoot(id)
	rt.Release(id) // the root is the only hold, so RemoveRoot can free it
	rt.activeContext = id

	return id
}

// ActiveContext returns the most recently created CONTEXT cell, or 0 if
// none has been created yet.
func (rt *Runtime) ActiveContext() CellID { return rt.activeContext }

// Context returns the *Context payload for id, or nil if id is not a
// context cell.
func (rt *Runtime) Context(id CellID) *Context {
	c := rt.arena.get(id)
	if c.kind != KindContext {
		return nil
	}

	return c.payload.(*Context)
}

// ObjectPayload returns the *Object payload for id, or nil if id is not
// a JS_OBJECT cell. Mutators use this to populate property slots after
// NewObject, the same way the dumper and visitor reach into a cell's
// payload internally.
func (rt *Runtime) ObjectPayload(id CellID) *Object {
	c := rt.arena.get(id)
	if c.kind != KindJSObject {
		return nil
	}

	return c.payload.(*Object)
}

// FunctionBytecodePayload returns the *FunctionBytecode payload for id,
// or nil if id is not a FUNCTION_BYTECODE cell.
func (rt *Runtime) FunctionBytecodePayload(id CellID) *FunctionBytecode {
	c := rt.arena.get(id)
	if c.kind != KindFunctionBytecode {
		return nil
	}

	return c.payload.(*FunctionBytecode)
}

// ShapePayload returns the *Shape payload for id, or nil if id is not a
// SHAPE cell. The dumper uses this to reach a shape's own prototype when
// rendering an object's mandatory `__proto__` edge (§4.8).
func (rt *Runtime) ShapePayload(id CellID) *Shape {
	c := rt.arena.get(id)
	if c.kind != KindShape {
		return nil
	}

	return c.payload.(*Shape)
}
