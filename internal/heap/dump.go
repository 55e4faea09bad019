package heap

import "fmt"

// DumpNode is the node-level view of one live cell exposed to the
// snapshot dumper: enough to populate one row of the profiler's "nodes"
// array without exporting the cell arena itself. Type follows §4.8's
// node-type vocabulary (hidden/array/string/object/code/closure/...).
type DumpNode struct {
	ID       CellID
	Kind     Kind
	Type     string
	Name     string
	SelfSize int
}

// DumpSyntheticNode is a profiler node with no backing CellID: a native
// function pointer ("cfunc") or one of a Shape's per-property descriptor
// children (§4.8). The snapshot package assigns it a row index of its
// own when flattening the node/edge arrays.
type DumpSyntheticNode struct {
	Type     string
	Name     string
	SelfSize int
}

// DumpEdge is one outgoing reference from a cell, named and typed the
// way a browser heap profiler expects ("property" edges carry the
// property name; "internal" edges are implementation bookkeeping). To
// identifies the target cell, unless Synthetic is set, in which case the
// edge points at a node the snapshot package still needs to materialize.
type DumpEdge struct {
	Type      string
	Name      string
	To        CellID
	Synthetic *DumpSyntheticNode
}

// ForEachLive calls fn once for every cell currently on live, in list
// order. Used by the snapshot dumper to build the node table (§4.8).
func (rt *Runtime) ForEachLive(fn func(CellID)) {
	rt.forEach(listLive, fn)
}

// functionName resolves the display name of a callable value: a direct
// FUNCTION_BYTECODE reference, or a JS_OBJECT wrapping one via its own
// Bytecode field (§4.8's "constructor function's name" name-derivation
// rule).
func (rt *Runtime) functionName(v Value) (string, bool) {
	switch v.Tag {
	case TagFunctionBytecode:
		if v.Cell == 0 {
			return "", false
		}

		return rt.FunctionBytecodePayload(v.Cell).Name, true

	case TagObject:
		if v.Cell == 0 {
			return "", false
		}

		obj := rt.ObjectPayload(v.Cell)
		if obj == nil || obj.Bytecode == 0 {
			return "", false
		}

		return rt.FunctionBytecodePayload(obj.Bytecode).Name, true
	}

	return "", false
}

// objectName derives an object node's display name per §4.8: a Proxy's
// class name, else an own string-valued "name" property, else a
// "constructor" function's name, else the class name.
func (rt *Runtime) objectName(obj *Object) string {
	if obj.Class != nil && obj.Class.Name == "Proxy" {
		return "Proxy"
	}

	for _, p := range obj.Props {
		if p.Kind == PropValue && p.Name == "name" && p.Value.Tag == TagString && p.Value.Str != nil {
			return p.Value.Str.Data
		}
	}

	for _, p := range obj.Props {
		if p.Kind != PropValue || p.Name != "constructor" {
			continue
		}

		if name, ok := rt.functionName(p.Value); ok {
			return name
		}
	}

	if obj.Class != nil {
		return obj.Class.Name
	}

	return "Object"
}

// DumpNodeInfo builds the node-level summary for id, classifying its
// type per §4.8's node-classification rules.
func (rt *Runtime) DumpNodeInfo(id CellID) DumpNode {
	c := rt.arena.get(id)
	n := DumpNode{ID: id, Kind: c.kind, SelfSize: int(cellFootprint(c.kind))}

	switch c.kind {
	case KindJSObject:
		obj := c.payload.(*Object)
		n.Name = rt.objectName(obj)
		n.SelfSize += len(obj.Props) * 16

		switch {
		case obj.Class != nil && obj.Class.IsArray:
			n.Type = "array"
		case obj.NativeFunc || obj.Bytecode != 0:
			n.Type = "closure"
		default:
			n.Type = "object"
		}

	case KindFunctionBytecode:
		fb := c.payload.(*FunctionBytecode)
		n.Name = fb.Name
		n.Type = "code"
		n.SelfSize = int(cellFootprint(c.kind)) + fb.ByteCodeLen + len(fb.VarDefNames) + len(fb.ClosureVarNames) + len(fb.ConstPool) + fb.DebugSourceLen

	case KindVarRef:
		vr := c.payload.(*VarRef)
		n.Name = "(var-ref)"

		switch {
		case vr.Detached && vr.Value.Tag == TagString:
			n.Type = "string"
		case vr.Detached && (vr.Value.Tag == TagInt || vr.Value.Tag == TagFloat):
			n.Type = "number"
		default:
			n.Type = "hidden"
		}

	case KindAsyncFunction:
		n.Name = "(async activation)"
		n.Type = "synthetic"

	case KindShape:
		sh := c.payload.(*Shape)
		n.Name = fmt.Sprintf("(shape: %d props)", len(sh.PropNames))
		n.Type = "hidden"

		if sh.Hashed {
			n.SelfSize = int(cellFootprint(c.kind))
		} else {
			n.SelfSize = 0
		}

	case KindContext:
		n.Name = "(context)"
		n.Type = "object"
	}

	return n
}

// DumpEdges enumerates id's outgoing references with profiler-facing
// names and types, following the same per-kind rules mark does (§4.2),
// plus the mandatory edges §4.8 additionally requires of object nodes
// (__proto__, shape, code, typed_array, per-element array edges).
func (rt *Runtime) DumpEdges(id CellID) []DumpEdge {
	c := rt.arena.get(id)
	var edges []DumpEdge

	add := func(typ, name string, cell CellID) {
		if cell != 0 {
			edges = append(edges, DumpEdge{Type: typ, Name: name, To: cell})
		}
	}

	addSynthetic := func(typ, name string, syn DumpSyntheticNode) {
		edges = append(edges, DumpEdge{Type: typ, Name: name, Synthetic: &syn})
	}

	switch c.kind {
	case KindJSObject:
		obj := c.payload.(*Object)

		add("internal", "shape", obj.Shape)

		if obj.Shape != 0 {
			if sh := rt.ShapePayload(obj.Shape); sh != nil {
				add("property", "__proto__", sh.Proto)
			}
		}

		isArray := obj.Class != nil && obj.Class.IsArray

		for _, p := range obj.Props {
			switch p.Kind {
			case PropValue:
				if p.Value.IsManagedCell() {
					if isArray {
						add("element", p.Name, p.Value.Cell)
					} else {
						add("property", p.Name, p.Value.Cell)
					}
				}
			case PropGetSet:
				if p.Getter.IsManagedCell() {
					add("property", p.Name+".get", p.Getter.Cell)
				}

				if p.Setter.IsManagedCell() {
					add("property", p.Name+".set", p.Setter.Cell)
				}
			case PropVarRefSlot:
				if p.VarRef != 0 && rt.Kind(p.VarRef) == KindVarRef {
					if vr := rt.arena.get(p.VarRef).payload.(*VarRef); vr.Detached {
						add("property", p.Name, p.VarRef)
					}
				}
			case PropAutoInit:
				add("internal", p.Name+".realm", p.Realm)
			}
		}

		if obj.NativeFunc {
			addSynthetic("internal", "code", DumpSyntheticNode{Type: "native", Name: "cfunc", SelfSize: 8})
		} else if obj.Bytecode != 0 {
			add("internal", "code", obj.Bytecode)
		}

		add("property", "typed_array", obj.TypedArrayOf)

		if obj.Class != nil && obj.Class.CustomMark != nil {
			i := 0
			obj.Class.CustomMark(obj, func(child CellID) {
				add("internal", fmt.Sprintf("__custom[%d]__", i), child)
				i++
			})
		}

	case KindFunctionBytecode:
		fb := c.payload.(*FunctionBytecode)
		for i, v := range fb.ConstPool {
			if v.IsManagedCell() {
				add("internal", fmt.Sprintf("const[%d]", i), v.Cell)
			}
		}

		add("internal", "__realm__", fb.Realm)

	case KindVarRef:
		vr := c.payload.(*VarRef)
		if vr.Detached && vr.Value.IsManagedCell() {
			add("internal", "__value__", vr.Value.Cell)
		}

	case KindAsyncFunction:
		af := c.payload.(*AsyncFunction)
		if af.Resolve.IsManagedCell() {
			add("internal", "__resolve__", af.Resolve.Cell)
		}

		if af.Reject.IsManagedCell() {
			add("internal", "__reject__", af.Reject.Cell)
		}

		if af.Active {
			for i, v := range af.FrameRoots {
				if v.IsManagedCell() {
					add("internal", fmt.Sprintf("frame[%d]", i), v.Cell)
				}
			}
		}

	case KindShape:
		sh := c.payload.(*Shape)
		add("property", "__proto__", sh.Proto)

		for _, name := range sh.PropNames {
			addSynthetic("hidden", name, DumpSyntheticNode{Type: "hidden", Name: name, SelfSize: 16})
		}

	case KindContext:
		ctx := c.payload.(*Context)

		for key, v := range ctx.WellKnown {
			if v.IsManagedCell() {
				add("context", key, v.Cell)
			}
		}

		for _, m := range ctx.Modules {
			if m.Namespace.IsManagedCell() {
				add("context", m.Name+".namespace", m.Namespace.Cell)
			}

			if m.FunctionObject.IsManagedCell() {
				add("context", m.Name+".function", m.FunctionObject.Cell)
			}

			if m.EvalException.IsManagedCell() {
				add("context", m.Name+".eval_exception", m.EvalException.Cell)
			}

			if m.Meta.IsManagedCell() {
				add("context", m.Name+".meta", m.Meta.Cell)
			}

			for i, ref := range m.ExportedRefs {
				add("context", fmt.Sprintf("%s.export[%d]", m.Name, i), ref)
			}
		}
	}

	return edges
}
