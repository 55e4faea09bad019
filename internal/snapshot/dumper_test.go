package snapshot

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/orizon-lang/mheap/internal/alloc"
	"github.com/orizon-lang/mheap/internal/heap"
)

func newTestRuntime() *heap.Runtime {
	return heap.NewRuntime(alloc.NewSliceAllocator(&alloc.Counters{}))
}

func setProp(rt *heap.Runtime, obj heap.CellID, name string, v heap.Value) {
	o := rt.ObjectPayload(obj)
	o.Props = append(o.Props, heap.PropSlot{Name: name, Kind: heap.PropValue, Value: v})
}

// TestMinimalSnapshot is scenario S5: a context holding a single global
// variable x = {n: 42} produces a snapshot with the node count, edge,
// and string-table properties the spec requires.
func TestMinimalSnapshot(t *testing.T) {
	rt := newTestRuntime()
	ctx := rt.NewContext()

	xShape := rt.NewShape(0)
	rt.ShapePayload(xShape).PropNames = []string{"n"}
	x := rt.NewObject(xShape)
	rt.Release(xShape)

	globalShape := rt.NewShape(0)
	rt.ShapePayload(globalShape).PropNames = []string{"x"}
	global := rt.NewObject(globalShape)
	rt.Release(globalShape)

	setProp(rt, x, "n", heap.Int(42))
	setProp(rt, global, "x", rt.Retain(heap.ObjectValue(x)))
	rt.Context(ctx).WellKnown["global"] = heap.ObjectValue(global)

	var buf bytes.Buffer
	if err := Dump(rt, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	if doc.Snapshot.NodeCount < 4 {
		t.Errorf("expected node_count >= 4 (context, global, x, shape(s)), got %d", doc.Snapshot.NodeCount)
	}

	if len(doc.Nodes) != doc.Snapshot.NodeCount*nodeFieldCount {
		t.Errorf("nodes array length %d does not match node_count*%d", len(doc.Nodes), nodeFieldCount)
	}

	if doc.Snapshot.EdgeCount*3 != len(doc.Edges) {
		t.Errorf("edge_count %d does not match edges array length %d", doc.Snapshot.EdgeCount, len(doc.Edges))
	}

	foundXString := false
	foundNString := false

	for _, s := range doc.Strings {
		if s == "x" {
			foundXString = true
		}

		if s == "n" {
			foundNString = true
		}
	}

	if !foundXString {
		t.Error(`expected "x" to be interned in strings`)
	}

	if !foundNString {
		t.Error(`expected "n" to be interned in strings`)
	}

	// Every edge's to_node must be a multiple of NODE_FIELD_COUNT and
	// address a node actually present (P8).
	for i := 0; i+2 < len(doc.Edges); i += 3 {
		toNode := doc.Edges[i+2]
		if toNode%nodeFieldCount != 0 {
			t.Errorf("edge to_node %d is not a multiple of %d", toNode, nodeFieldCount)
		}

		if toNode < 0 || toNode >= len(doc.Nodes) {
			t.Errorf("edge to_node %d out of range of nodes array (len %d)", toNode, len(doc.Nodes))
		}
	}

}

func TestSchemaVersionGuard(t *testing.T) {
	if err := CheckSchemaVersion("1.0.0"); err != nil {
		t.Errorf("expected 1.0.0 to satisfy %s: %v", schemaConstraint, err)
	}

	if err := CheckSchemaVersion("2.0.0"); err == nil {
		t.Error("expected 2.0.0 to violate the <2.0.0 constraint")
	}

	if err := CheckSchemaVersion("not-a-version"); err == nil {
		t.Error("expected an unparsable version string to error")
	}
}

func TestDumpRootIsFirstNode(t *testing.T) {
	rt := newTestRuntime()
	rt.NewContext() // not the root: NewContext below becomes the active one
	ctx := rt.NewContext()

	shape := rt.NewShape(0)
	global := rt.NewObject(shape)
	rt.Release(shape)

	setProp(rt, global, "before", rt.Retain(heap.ObjectValue(rt.NewObject(0))))
	rt.Context(ctx).WellKnown["global"] = heap.ObjectValue(global)

	var buf bytes.Buffer
	if err := Dump(rt, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if doc.Snapshot.NodeCount == 0 {
		t.Fatal("expected at least the root context node")
	}

	if got := heap.CellID(doc.Nodes[2]); got != ctx {
		t.Errorf("expected node index 0's id to be the active context %d, got %d", ctx, got)
	}
}
