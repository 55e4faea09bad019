// Package heap implements the managed-heap subsystem core: the GC object
// registry, the per-kind mark/finalize/dump visitor dispatch, the
// reference-count engine, and the trial-deletion cycle collector.
//
// Cells are never referenced by raw pointer. Every reference between
// cells is a CellID, a 32-bit index into the Runtime's cell arena — this
// is the "arena + index" re-architecture from §9, chosen over aliased
// interior-mutable handles for its O(1) unlink and absence of aliasing
// hazards.
package heap

// Kind is the closed set of managed cell kinds. Dispatch on Kind uses a
// switch rather than a per-kind vtable, per §9's guidance that tag+match
// beats dynamic dispatch on the hot paths (every cell, every edge).
type Kind uint8

const (
	KindJSObject Kind = iota
	KindFunctionBytecode
	KindVarRef
	KindAsyncFunction
	KindShape
	KindContext
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindJSObject:
		return "JS_OBJECT"
	case KindFunctionBytecode:
		return "FUNCTION_BYTECODE"
	case KindVarRef:
		return "VAR_REF"
	case KindAsyncFunction:
		return "ASYNC_FUNCTION"
	case KindShape:
		return "SHAPE"
	case KindContext:
		return "CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// CellID addresses a managed cell within a Runtime's arena. The zero
// value is the "no cell" sentinel — valid cell ids start at 1, matching
// the convention that index 0 in the backing slice is never allocated.
type CellID uint32

// listID names which of the three lists of invariant I1 a cell currently
// belongs to.
type listID uint8

const (
	listNone listID = iota
	listLive
	listTmp
	listZeroRefcount
	listCount
)

// Phase is the runtime-wide GC phase of invariant I6: exactly one is
// active at a time.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseDecref
	PhaseRemoveCycles
)

func (p Phase) String() string {
	switch p {
	case PhaseDecref:
		return "DECREF"
	case PhaseRemoveCycles:
		return "REMOVE_CYCLES"
	default:
		return "NONE"
	}
}

// header is the common prefix of every managed cell: a strong refcount,
// a mark bit, a kind tag, and the intrusive list linkage of I1.
type header struct {
	refCount uint32
	mark     uint8
	kind     Kind
	list     listID
	prev     CellID
	next     CellID
	freeMark bool // zombie flag, set by GC-safe teardown step 1 (§4.5)
}
