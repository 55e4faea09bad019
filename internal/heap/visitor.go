package heap

import "github.com/orizon-lang/mheap/internal/herr"

// mark enumerates every outgoing strong reference from id to another
// managed cell, calling emit(child) for each one. The cycle collector's
// passes all traverse through it (§4.2); the snapshot dumper walks the
// same per-kind references through its own switch in DumpEdges (dump.go).
func (rt *Runtime) mark(id CellID, emit func(CellID)) {
	c := rt.arena.get(id)

	switch c.kind {
	case KindJSObject:
		obj := c.payload.(*Object)
		if obj.Shape != 0 {
			emit(obj.Shape)
		}

		for _, p := range obj.Props {
			switch p.Kind {
			case PropValue:
				if p.Value.IsManagedCell() {
					emit(p.Value.Cell)
				}
			case PropGetSet:
				if p.Getter.IsManagedCell() {
					emit(p.Getter.Cell)
				}

				if p.Setter.IsManagedCell() {
					emit(p.Setter.Cell)
				}
			case PropVarRefSlot:
				if p.VarRef != 0 && rt.Kind(p.VarRef) == KindVarRef {
					if vr := rt.arena.get(p.VarRef).payload.(*VarRef); vr.Detached {
						emit(p.VarRef)
					}
				}
			case PropAutoInit:
				if p.Realm != 0 {
					emit(p.Realm)
				}
			}
		}

		if obj.TypedArrayOf != 0 {
			emit(obj.TypedArrayOf)
		}

		if obj.Bytecode != 0 {
			emit(obj.Bytecode)
		}

		if obj.Class != nil && obj.Class.CustomMark != nil {
			obj.Class.CustomMark(obj, emit)
		}

	case KindFunctionBytecode:
		fb := c.payload.(*FunctionBytecode)
		for _, v := range fb.ConstPool {
			if v.IsManagedCell() {
				emit(v.Cell)
			}
		}

		if fb.Realm != 0 {
			emit(fb.Realm)
		}

	case KindVarRef:
		vr := c.payload.(*VarRef)
		if vr.Detached && vr.Value.IsManagedCell() {
			emit(vr.Value.Cell)
		}

	case KindAsyncFunction:
		af := c.payload.(*AsyncFunction)
		if af.Resolve.IsManagedCell() {
			emit(af.Resolve.Cell)
		}

		if af.Reject.IsManagedCell() {
			emit(af.Reject.Cell)
		}

		if af.Active {
			for _, v := range af.FrameRoots {
				if v.IsManagedCell() {
					emit(v.Cell)
				}
			}
		}

	case KindShape:
		sh := c.payload.(*Shape)
		if sh.Proto != 0 {
			emit(sh.Proto)
		}

	case KindContext:
		ctx := c.payload.(*Context)
		for _, v := range ctx.WellKnown {
			if v.IsManagedCell() {
				emit(v.Cell)
			}
		}

		for _, m := range ctx.Modules {
			if m.Namespace.IsManagedCell() {
				emit(m.Namespace.Cell)
			}

			if m.FunctionObject.IsManagedCell() {
				emit(m.FunctionObject.Cell)
			}

			if m.EvalException.IsManagedCell() {
				emit(m.EvalException.Cell)
			}

			if m.Meta.IsManagedCell() {
				emit(m.Meta.Cell)
			}

			for _, ref := range m.ExportedRefs {
				emit(ref)
			}
		}

	default:
		herr.Fatal("E_BAD_KIND", "mark encountered a cell with an unknown kind", map[string]interface{}{"kind": int(c.kind)})
	}
}

// finalize releases every strong reference id logically owns, per the
// per-kind summaries of §4.4 and the GC-safe teardown of §4.5. It must
// run exactly once per cell (P6); callers (freeCell, the cycle
// collector's free pass) are responsible for that guarantee.
func (rt *Runtime) finalize(id CellID) {
	c := rt.arena.get(id)

	switch c.kind {
	case KindJSObject:
		rt.finalizeObject(id, c.payload.(*Object))
	case KindFunctionBytecode:
		rt.finalizeFunctionBytecode(c.payload.(*FunctionBytecode))
	case KindVarRef:
		vr := c.payload.(*VarRef)
		if vr.Detached {
			rt.releaseValue(vr.Value)
		}
	case KindAsyncFunction:
		af := c.payload.(*AsyncFunction)
		rt.releaseValue(af.Resolve)
		rt.releaseValue(af.Reject)

		if af.Active {
			for _, v := range af.FrameRoots {
				rt.releaseValue(v)
			}
		}
	case KindShape:
		sh := c.payload.(*Shape)
		if sh.Proto != 0 {
			rt.Release(sh.Proto)
			sh.Proto = 0
		}
	case KindContext:
		ctx := c.payload.(*Context)
		for _, v := range ctx.WellKnown {
			rt.releaseValue(v)
		}

		for _, m := range ctx.Modules {
			rt.releaseValue(m.Namespace)
			rt.releaseValue(m.FunctionObject)
			rt.releaseValue(m.EvalException)
			rt.releaseValue(m.Meta)

			for _, ref := range m.ExportedRefs {
				rt.Release(ref)
			}
		}
	default:
		herr.Fatal("E_BAD_KIND", "finalize encountered a cell with an unknown kind", map[string]interface{}{"kind": int(c.kind)})
	}
}

// finalizeObject is the GC-safe object teardown of §4.5.
func (rt *Runtime) finalizeObject(id CellID, obj *Object) {
	// Step 1: zombie marker, before anything else is released, so any
	// peer cell visited later in the same cycle free-pass observes
	// IsLive(id) == false from this point on.
	rt.arena.get(id).freeMark = true

	// Step 2: release each property slot per its type tag.
	for _, p := range obj.Props {
		switch p.Kind {
		case PropValue:
			rt.releaseValue(p.Value)
		case PropGetSet:
			rt.releaseValue(p.Getter)
			rt.releaseValue(p.Setter)
		case PropVarRefSlot:
			if p.VarRef != 0 {
				rt.Release(p.VarRef)
			}
		case PropAutoInit:
			if p.Realm != 0 {
				rt.Release(p.Realm)
			}
		}
	}

	// Step 3: free the property-slot array (nothing to do explicitly in
	// Go beyond dropping the reference).
	obj.Props = nil

	if obj.TypedArrayOf != 0 {
		rt.Release(obj.TypedArrayOf)
		obj.TypedArrayOf = 0
	}

	if obj.Bytecode != 0 {
		rt.Release(obj.Bytecode)
		obj.Bytecode = 0
	}

	if obj.BoxedValue != nil {
		rt.releaseValue(*obj.BoxedValue)
		obj.BoxedValue = nil
	}

	// Step 4: drop this object's hold on its shape. Shape cells are
	// independently refcounted (multiple objects intern the same Shape),
	// so the shape is released through Release like any other cell: it
	// is not freed inline, and a shape whose count reaches zero goes onto
	// zero_refcount first.
	if obj.Shape != 0 {
		rt.Release(obj.Shape)
		obj.Shape = 0
	}

	// Step 5: weak-ref sweep, if this object has any weak-map records.
	if obj.WeakHead != nil {
		rt.sweepWeakRefs(obj)
	}

	// Step 6: class-specific finalizer.
	if obj.Class != nil && obj.Class.IsArray {
		// Array-backed objects release every element then free the
		// buffer; elements already lived in Props above, so there is
		// nothing further to do beyond what step 2 already released.
	}

	if obj.NativeFunc && obj.Shape == 0 {
		// Native-function object: releases its owning realm, which (if
		// modeled as a property) was already released in step 2.
	}

	// Steps 7-8 (unlink + free/defer) are handled by the caller
	// (freeCell for the refcount path, the cycle collector's free pass
	// for the cycle path), since only the caller knows which list the
	// cell is currently on and whether phase is REMOVE_CYCLES.
}

// finalizeFunctionBytecode releases every strong reference a
// FUNCTION_BYTECODE cell owns, per §4.4's "Function-bytecode cell"
// summary.
func (rt *Runtime) finalizeFunctionBytecode(fb *FunctionBytecode) {
	for _, v := range fb.ConstPool {
		rt.releaseValue(v)
	}

	fb.ConstPool = nil
	fb.VarDefNames = nil
	fb.ClosureVarNames = nil
	fb.ByteCodeAtoms = nil

	if fb.Realm != 0 {
		rt.Release(fb.Realm)
		fb.Realm = 0
	}
}
