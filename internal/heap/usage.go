package heap

import (
	"fmt"
	"io"
	"sort"

	"github.com/orizon-lang/mheap/internal/alloc"
)

// ClassUsage is one row of the per-class histogram in a Report: how many
// JS_OBJECT instances a given Class produced and how many property slots
// they hold in total.
type ClassUsage struct {
	Name   string
	Count  int
	Slots  int
}

// Report is compute_memory_usage's output (§4.9): a fixed set of
// allocator and per-kind counters, intended for operator-facing plaintext
// dumps rather than machine parsing.
type Report struct {
	Allocator alloc.Counters

	// Atom/string accounting weights each live RefString by 1/RefCount, so
	// a string shared across N owners contributes 1/N to AtomCount and its
	// full byte length once, matching the teacher's convention of
	// attributing shared resources fractionally rather than per-owner.
	AtomCount float64
	AtomBytes int64

	ObjectCount int
	SlotCount   int
	ShapeCount  int

	FunctionCount     int
	FunctionCodeBytes int
	PCToLineBytes     int

	NativeFunctionCount int

	ArrayCount        int
	FastArrayElements int

	BinaryObjectCount int

	Classes []ClassUsage

	stringsSeen map[*RefString]bool // strings whose bytes AtomBytes already holds
}

// ComputeMemoryUsage walks every cell currently on live and builds a
// Report, per §4.9. It does not mutate any cell or refcount.
func (rt *Runtime) ComputeMemoryUsage() Report {
	rep := Report{Allocator: rt.Counters()}

	classCounts := make(map[string]*ClassUsage)

	rt.forEach(listLive, func(id CellID) {
		c := rt.arena.get(id)

		switch c.kind {
		case KindJSObject:
			obj := c.payload.(*Object)
			rep.ObjectCount++
			rep.SlotCount += len(obj.Props)

			if obj.Class != nil {
				cu, ok := classCounts[obj.Class.Name]
				if !ok {
					cu = &ClassUsage{Name: obj.Class.Name}
					classCounts[obj.Class.Name] = cu
				}

				cu.Count++
				cu.Slots += len(obj.Props)

				if obj.Class.IsArray {
					rep.ArrayCount++
					rep.FastArrayElements += len(obj.Props)
				}
			}

			if obj.NativeFunc {
				rep.NativeFunctionCount++
			}

			if obj.TypedArrayOf != 0 || obj.BoxedValue != nil {
				rep.BinaryObjectCount++
			}

			for _, p := range obj.Props {
				if p.Kind == PropValue && p.Value.Tag == TagString && p.Value.Str != nil {
					rep.accountString(p.Value.Str)
				}
			}

		case KindFunctionBytecode:
			fb := c.payload.(*FunctionBytecode)
			rep.FunctionCount++
			rep.FunctionCodeBytes += fb.ByteCodeLen
			rep.PCToLineBytes += fb.PCToLineLen

			for _, v := range fb.ConstPool {
				if v.Tag == TagString && v.Str != nil {
					rep.accountString(v.Str)
				}
			}

		case KindShape:
			rep.ShapeCount++
		}
	})

	for _, cu := range classCounts {
		rep.Classes = append(rep.Classes, *cu)
	}

	sort.Slice(rep.Classes, func(i, j int) bool { return rep.Classes[i].Name < rep.Classes[j].Name })

	return rep
}

func (rep *Report) accountString(s *RefString) {
	rc := s.RefCount()
	if rc == 0 {
		return
	}

	rep.AtomCount += 1.0 / float64(rc)

	if rep.stringsSeen == nil {
		rep.stringsSeen = make(map[*RefString]bool)
	}

	if !rep.stringsSeen[s] {
		rep.stringsSeen[s] = true
		rep.AtomBytes += int64(len(s.Data))
	}
}

// WriteTo renders rep as the fixed plaintext table §4.9 describes,
// column-aligned the way the teacher's text-exposition endpoints are:
// deterministic, sorted, one row per line.
func (rep Report) WriteTo(w io.Writer) (int64, error) {
	n := 0

	line := func(format string, args ...interface{}) {
		m, _ := fmt.Fprintf(w, format, args...)
		n += m
	}

	line("%-24s %12d bytes (%d allocations)\n", "malloc", rep.Allocator.MallocSize, rep.Allocator.MallocCount)
	line("%-24s %12.2f (%d bytes)\n", "atoms", rep.AtomCount, rep.AtomBytes)
	line("%-24s %12d objects (%d property slots)\n", "objects", rep.ObjectCount, rep.SlotCount)
	line("%-24s %12d\n", "shapes", rep.ShapeCount)
	line("%-24s %12d functions (%d code bytes, %d pc2line bytes)\n", "function bytecode", rep.FunctionCount, rep.FunctionCodeBytes, rep.PCToLineBytes)
	line("%-24s %12d\n", "native functions", rep.NativeFunctionCount)
	line("%-24s %12d arrays (%d fast elements)\n", "arrays", rep.ArrayCount, rep.FastArrayElements)
	line("%-24s %12d\n", "binary objects", rep.BinaryObjectCount)

	for _, cu := range rep.Classes {
		line("  %-22s %12d objects (%d slots)\n", cu.Name, cu.Count, cu.Slots)
	}

	return int64(n), nil
}
