// Package herr provides the error kinds the managed-heap subsystem can
// raise or propagate: out-of-memory conditions recoverable by the caller,
// and invariant violations that are fatal.
package herr

import (
	"fmt"
	"runtime"
)

// Category classifies an error for the mutator-facing surface.
type Category string

const (
	CategoryOutOfMemory Category = "OUT_OF_MEMORY"
	CategoryCorruption  Category = "CORRUPTION"
	CategorySnapshotIO  Category = "SNAPSHOT_IO"
)

// HeapError is the standardized error shape for this subsystem: a
// category, a short code, a human message, optional context, and the
// caller that raised it.
type HeapError struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

func (e *HeapError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

func newError(category Category, code, message string, context map[string]interface{}) *HeapError {
	pc, _, _, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &HeapError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// OutOfMemory builds an OOM error for a failed allocation of n bytes.
// Per §7, this is recovered by the caller and surfaced to the mutator as
// a language-level exception — it is never fatal on its own.
func OutOfMemory(n uintptr) *HeapError {
	return newError(CategoryOutOfMemory, "ENOMEM", "allocator returned null for a nonzero request",
		map[string]interface{}{"requested_bytes": n})
}

// Corruption reports a violation of invariants I1-I6, a cell observed
// with the wrong kind in a free-path switch, or a finalizer encountering
// an unexpected free_mark sequence. Per §7 this is fatal and unrecoverable.
type Corruption struct {
	*HeapError
}

// NewCorruption constructs a Corruption error. Callers are expected to
// panic with it immediately; it is not meant to be returned and handled.
func NewCorruption(code, message string, context map[string]interface{}) *Corruption {
	return &Corruption{newError(CategoryCorruption, code, message, context)}
}

// Fatal panics with a Corruption error, aborting the process as §7
// mandates for invariant violations.
func Fatal(code, message string, context map[string]interface{}) {
	panic(NewCorruption(code, message, context))
}

// SnapshotIO wraps a file-open or write failure encountered by the
// heap-snapshot dumper. Per §7 the dumper abandons the in-progress
// snapshot and returns this error instead of a partial file.
func SnapshotIO(op string, cause error) *HeapError {
	return newError(CategorySnapshotIO, "ESNAPIO", fmt.Sprintf("snapshot %s failed: %v", op, cause),
		map[string]interface{}{"op": op, "cause": cause.Error()})
}
