package heap

// PropKind tags how a JS_OBJECT property slot stores its payload, per
// the mark enumeration rules of §4.2.
type PropKind uint8

const (
	PropValue PropKind = iota
	PropGetSet
	PropVarRefSlot
	PropAutoInit
)

// PropSlot is one property slot of a JS_OBJECT cell.
type PropSlot struct {
	Name   string
	Kind   PropKind
	Value  Value  // PropValue
	Getter Value  // PropGetSet (TagFunctionBytecode or TagUndefined)
	Setter Value  // PropGetSet
	VarRef CellID // PropVarRefSlot, only counted if the var-ref is detached
	Realm  CellID // PropAutoInit: owning realm (CONTEXT cell)
}

// Class carries the optional custom mark hook a class can attach to its
// instances, per §4.2 ("if the object has a class with a
// custom mark, that custom mark too").
type Class struct {
	Name       string
	CustomMark func(obj *Object, emit func(CellID))
	IsArray    bool // the runtime's is_array predicate, excluding Array.prototype itself
}

// Object is the JS_OBJECT cell payload.
type Object struct {
	Shape        CellID
	Props        []PropSlot
	Class        *Class
	TypedArrayOf CellID // underlying buffer, for typed-array classes; 0 if none
	NativeFunc   bool   // emits a synthetic "cfunc" native node in the dumper
	Bytecode     CellID // compiled body, for a non-native callable; 0 if not callable
	BoxedValue   *Value // Object-with-boxed-value finalizer target, nil if not a boxed object
	WeakHead     *WeakRecord
}

// FunctionBytecode is the FUNCTION_BYTECODE cell payload: the compiled
// body's constant pool, closure descriptors, and debug info.
type FunctionBytecode struct {
	Name            string
	Realm           CellID
	ConstPool       []Value
	VarDefNames     []string
	ClosureVarNames []string
	ByteCodeAtoms   []string // atoms referenced directly from the bytecode stream
	ByteCodeLen     int
	DebugFilename   string
	DebugSourceLen  int
	PCToLineLen     int
}

// VarRef is the VAR_REF cell payload (an upvalue). Per I4, an on-stack
// var-ref delegates to a live activation and is not GC-reachable via
// marking; a detached var-ref owns exactly one value and is mark-visible.
type VarRef struct {
	Detached bool
	Value    Value
}

// AsyncFunction is the ASYNC_FUNCTION cell payload: a suspended async
// activation holding its resolver pair and, while active, the suspended
// frame's managed roots (opaque to this subsystem; the interpreter
// supplies them via FrameRoots).
type AsyncFunction struct {
	Resolve    Value
	Reject     Value
	Active     bool
	FrameRoots []Value
}

// Shape is the SHAPE cell payload: an interned property-layout
// descriptor with an optional parent prototype reference.
type Shape struct {
	Proto      CellID // may be 0 (absent)
	PropNames  []string
	Hashed     bool
}

// Context is the CONTEXT cell payload: a per-realm container of
// well-known prototypes, constructors, and loaded modules. It is itself
// a GC cell so a context can be reclaimed once unreachable.
type Context struct {
	WellKnown map[string]Value // global object, global var object, per-class prototypes, etc.
	Modules   []ModuleRecord
}

// ModuleRecord is one loaded module a CONTEXT transitively accounts for;
// modules are not independent GC cells (§4.6).
type ModuleRecord struct {
	Name           string
	Namespace      Value
	FunctionObject Value
	EvalException  Value
	Meta           Value
	ExportedRefs   []CellID // exported var-refs
}
