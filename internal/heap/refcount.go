package heap

import "github.com/orizon-lang/mheap/internal/herr"

// register creates a new cell of kind carrying payload, links it onto
// live (I1), and returns it with a refcount of 1 — the strong reference
// the constructor's caller now owns.
func (rt *Runtime) register(kind Kind, payload interface{}) CellID {
	rt.chargeCell(kind)

	id := rt.arena.alloc(kind, payload)
	c := rt.arena.get(id)
	c.refCount = 1
	rt.push(listLive, id)

	return id
}

// NewObject creates a JS_OBJECT cell with the given shape. The new
// object retains shape (a Shape cell is interned and shared across
// every object with that layout, so each holder needs its own strong
// reference); callers that created shape solely to hand it to one or
// more objects should Release their own hold once done constructing.
func (rt *Runtime) NewObject(shape CellID) CellID {
	if shape != 0 {
		rt.retain(shape)
	}

	return rt.register(KindJSObject, &Object{Shape: shape})
}

// NewShape creates a SHAPE cell, optionally chained to a prototype. The
// shape retains proto: per §4.2 the prototype is an outgoing strong
// reference a SHAPE's mark visitor enumerates, so the cycle collector's
// decref/scan passes can balance it against a matching release in
// finalize.
func (rt *Runtime) NewShape(proto CellID) CellID {
	if proto != 0 {
		rt.retain(proto)
	}

	return rt.register(KindShape, &Shape{Proto: proto})
}

// NewFunctionBytecode creates a FUNCTION_BYTECODE cell, retaining realm
// (the cell's finalizer releases it, per §4.4's "Function-bytecode
// cell" summary).
func (rt *Runtime) NewFunctionBytecode(realm CellID) CellID {
	if realm != 0 {
		rt.retain(realm)
	}

	return rt.register(KindFunctionBytecode, &FunctionBytecode{Realm: realm})
}

// NewDetachedVarRef creates a detached VAR_REF cell owning value.
func (rt *Runtime) NewDetachedVarRef(value Value) CellID {
	if value.IsManagedCell() {
		rt.retain(value.Cell)
	}

	return rt.register(KindVarRef, &VarRef{Detached: true, Value: value})
}

// NewAsyncFunction creates an ASYNC_FUNCTION cell.
func (rt *Runtime) NewAsyncFunction() CellID {
	return rt.register(KindAsyncFunction, &AsyncFunction{})
}

// Kind returns id's cell kind.
func (rt *Runtime) Kind(id CellID) Kind { return rt.arena.get(id).kind }

// RefCount returns id's current strong refcount (for tests/diagnostics;
// not part of the mutator-facing contract).
func (rt *Runtime) RefCount(id CellID) uint32 { return rt.arena.get(id).refCount }

// IsLive is the observable predicate of §4.3's zombie rule: false for
// zombies (finalized but not yet deallocated) and for the nil cell.
func (rt *Runtime) IsLive(id CellID) bool {
	if id == 0 {
		return false
	}

	return !rt.arena.get(id).freeMark
}

// retain increments id's strong refcount (§4.3).
func (rt *Runtime) retain(id CellID) {
	if id == 0 {
		return
	}

	rt.arena.get(id).refCount++
}

// Retain is the mutator-facing form of retain for values: it only acts
// on managed cells, matching "retain(v) increments ref_count on values
// that carry one."
func (rt *Runtime) Retain(v Value) Value {
	if v.Tag == TagString && v.Str != nil {
		v.Str.retain()
	} else if v.IsManagedCell() {
		rt.retain(v.Cell)
	}

	return v
}

// releaseValue releases whatever v holds: a refcounted string is freed
// immediately at zero per §4.3; a managed cell goes through Release.
func (rt *Runtime) releaseValue(v Value) {
	if v.Tag == TagString && v.Str != nil {
		v.Str.release() // non-GC value: freed immediately, nothing to do in Go
		return
	}

	if v.IsManagedCell() {
		rt.Release(v.Cell)
	}
}

// Release drops id's strong refcount. When it reaches zero: for a GC
// cell, if no collection is running the cell moves to zero_refcount and
// a DECREF drain begins; if the collector is already running (phase
// REMOVE_CYCLES) the cell is simply parked on zero_refcount for the
// collector's free pass to observe, per §4.3.
func (rt *Runtime) Release(id CellID) {
	if id == 0 {
		return
	}

	c := rt.arena.get(id)
	if c.refCount == 0 {
		herr.Fatal("E_DOUBLE_RELEASE", "released a cell with refcount already zero", map[string]interface{}{"cell": uint32(id)})
	}

	c.refCount--
	if c.refCount != 0 {
		return
	}

	if rt.phase == PhaseRemoveCycles {
		rt.move(id, listZeroRefcount)
		return
	}

	rt.move(id, listZeroRefcount)
	rt.drain()
}

// drain is the DECREF phase's loop (§4.3): repeatedly pop any cell off
// zero_refcount, free it (which may enqueue more zero-refcount cells via
// the finalizer's own releases), until the list is empty.
func (rt *Runtime) drain() {
	rt.phase = PhaseDecref
	rt.emit(Event{Kind: EventDecrefStart})

	for {
		id, ok := rt.popAny(listZeroRefcount)
		if !ok {
			break
		}

		rt.freeCell(id)
	}

	rt.phase = PhaseNone
	rt.emit(Event{Kind: EventDecrefDrained})
}

// freeCell runs the kind-specific free path for a cell whose refcount
// has reached zero: finalize (releasing children, possibly enqueueing
// more zero-refcount cells), unlink, and deallocate.
func (rt *Runtime) freeCell(id CellID) {
	c := rt.arena.get(id)
	if c.list != listNone {
		herr.Fatal("E_FREE_ON_LIST", "freed a cell still linked on a list", map[string]interface{}{"cell": uint32(id)})
	}

	kind := c.kind
	rt.finalize(id)
	rt.arena.recycle(id)
	rt.releaseCellFootprint(kind)
}
