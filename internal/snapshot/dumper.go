package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/orizon-lang/mheap/internal/heap"
	"github.com/orizon-lang/mheap/internal/herr"
)

// Meta is the fixed schema descriptor every .heapsnapshot file carries,
// per §4.8.
type Meta struct {
	NodeFields         []string   `json:"node_fields"`
	NodeTypes          [][]string `json:"node_types"`
	EdgeFields         []string   `json:"edge_fields"`
	EdgeTypes          [][]string `json:"edge_types"`
	TraceFunctionCount int        `json:"trace_function_count"`
}

// Document is the top-level .heapsnapshot structure (§4.8): a snapshot
// header, flat node/edge arrays (profiler convention: indices into
// "strings", not nested objects), and the string table they reference.
type Document struct {
	SchemaVersion string `json:"schema_version"`
	Snapshot      struct {
		Meta      Meta `json:"meta"`
		NodeCount int  `json:"node_count"`
		EdgeCount int  `json:"edge_count"`
	} `json:"snapshot"`
	Nodes   []int    `json:"nodes"`
	Edges   []int    `json:"edges"`
	Strings []string `json:"strings"`
}

// newMeta declares the full node/edge type vocabularies of §4.8, not
// just the subset this dumper currently emits — a .heapsnapshot consumer
// expects the complete enum so node.type/edge.type indices stay stable
// across producers.
func newMeta() Meta {
	return Meta{
		NodeFields: []string{"type", "name", "id", "self_size", "edge_count"},
		NodeTypes: [][]string{
			{"hidden", "array", "string", "object", "code", "closure", "regexp", "number", "native", "synthetic", "concat-string", "sliced-string", "symbol", "bigint"},
		},
		EdgeFields: []string{"type", "name_or_index", "to_node"},
		EdgeTypes: [][]string{
			{"context", "element", "property", "internal", "hidden", "shortcut", "weak"},
		},
	}
}

func typeIndex(vocab []string, name string) int {
	for i, t := range vocab {
		if t == name {
			return i
		}
	}

	return 0
}

const (
	nodeFieldCount = 5
	edgeFieldCount = 3
)

// nodeRow is one row of the flattened "nodes" array, already resolved to
// its final string-table and row indices.
type nodeRow struct {
	typ       string
	name      int
	id        uint32
	selfSize  int
	edgeCount int
}

// pendingEdge is one row of the flattened "edges" array, captured before
// every real node's row index is known (a later node's id might still be
// assigned) and resolved once the node pass completes.
type pendingEdge struct {
	fromRow int
	typ     string
	name    int
	toID    heap.CellID // 0 for synthetic targets, whose toRow is known up front; real targets get toRow after the node pass
	toRow   int
}

// Dump walks rt's live set and writes a .heapsnapshot-compatible JSON
// document to w, per §4.8's node classification, mandatory-edge, and
// output-format rules. The active context (§4.8: "the first node emitted
// is the root ... the root represents the active context") is forced to
// row index 0; every other live cell follows in ForEachLive's order.
// Synthetic targets (native "cfunc" pointers, a Shape's per-property
// children) are appended as their own rows as they are discovered.
func Dump(rt *heap.Runtime, w io.Writer) error {
	if err := CheckSchemaVersion(SchemaVersion); err != nil {
		return err
	}

	strings := newStringTable()

	var order []heap.CellID

	root := rt.ActiveContext()
	if root != 0 {
		order = append(order, root)
	}

	rt.ForEachLive(func(id heap.CellID) {
		if id == root {
			return
		}

		order = append(order, id)
	})

	var rows []nodeRow

	var pending []pendingEdge

	realRowIndex := make(map[heap.CellID]int, len(order))

	for _, id := range order {
		info := rt.DumpNodeInfo(id)

		typ := info.Type
		if typ == "" {
			typ = "hidden"
		}

		rowIdx := len(rows)
		realRowIndex[id] = rowIdx
		rows = append(rows, nodeRow{typ: typ, name: strings.intern(info.Name), id: uint32(id), selfSize: info.SelfSize})

		for _, e := range rt.DumpEdges(id) {
			rows[rowIdx].edgeCount++

			if e.Synthetic != nil {
				synRow := len(rows)
				rows = append(rows, nodeRow{typ: e.Synthetic.Type, name: strings.intern(e.Synthetic.Name), selfSize: e.Synthetic.SelfSize})
				pending = append(pending, pendingEdge{fromRow: rowIdx, typ: e.Type, name: strings.intern(e.Name), toRow: synRow})

				continue
			}

			pending = append(pending, pendingEdge{fromRow: rowIdx, typ: e.Type, name: strings.intern(e.Name), toID: e.To})
		}
	}

	for i, pe := range pending {
		if pe.toID == 0 {
			continue
		}

		toRow, ok := realRowIndex[pe.toID]
		if !ok {
			// A referenced cell that is not itself on live would violate
			// P8 (the dumper only ever walks reachable, live cells);
			// treat it as a corruption rather than silently dropping the
			// edge.
			herr.Fatal("E_DANGLING_EDGE", "snapshot edge points at a cell not on live", map[string]interface{}{"to": uint32(pe.toID)})
		}

		pending[i].toRow = toRow
	}

	doc := Document{SchemaVersion: SchemaVersion}
	doc.Snapshot.Meta = newMeta()
	doc.Snapshot.NodeCount = len(rows)
	doc.Snapshot.EdgeCount = len(pending)

	for _, r := range rows {
		doc.Nodes = append(doc.Nodes, typeIndex(doc.Snapshot.Meta.NodeTypes[0], r.typ), r.name, int(r.id), r.selfSize, r.edgeCount)
	}

	for _, pe := range pending {
		doc.Edges = append(doc.Edges, typeIndex(doc.Snapshot.Meta.EdgeTypes[0], pe.typ), pe.name, pe.toRow*nodeFieldCount)
	}

	doc.Strings = strings.values

	return writeDocument(w, doc)
}

// writeDocument renders doc in the row-per-line layout §4.8's "Output
// format" rule requires ("each numeric row is a comma-separated tuple on
// its own line; string rows are double-quoted"), while keeping the
// overall document valid, json.Unmarshal-parseable JSON.
func writeDocument(w io.Writer, doc Document) error {
	bw := bufio.NewWriter(w)

	metaJSON, err := json.Marshal(doc.Snapshot.Meta)
	if err != nil {
		return herr.SnapshotIO("encode", err)
	}

	fmt.Fprintf(bw, "{\n")
	fmt.Fprintf(bw, "  %q: %q,\n", "schema_version", doc.SchemaVersion)
	fmt.Fprintf(bw, "  \"snapshot\": {\n")
	fmt.Fprintf(bw, "    \"meta\": %s,\n", metaJSON)
	fmt.Fprintf(bw, "    \"node_count\": %d,\n", doc.Snapshot.NodeCount)
	fmt.Fprintf(bw, "    \"edge_count\": %d\n", doc.Snapshot.EdgeCount)
	fmt.Fprintf(bw, "  },\n")

	fmt.Fprintf(bw, "  \"nodes\": [\n")
	writeIntRows(bw, doc.Nodes, nodeFieldCount)
	fmt.Fprintf(bw, "  ],\n")

	fmt.Fprintf(bw, "  \"edges\": [\n")
	writeIntRows(bw, doc.Edges, edgeFieldCount)
	fmt.Fprintf(bw, "  ],\n")

	fmt.Fprintf(bw, "  \"strings\": [\n")

	for i, s := range doc.Strings {
		sj, err := json.Marshal(s)
		if err != nil {
			return herr.SnapshotIO("encode", err)
		}

		comma := ","
		if i == len(doc.Strings)-1 {
			comma = ""
		}

		fmt.Fprintf(bw, "    %s%s\n", sj, comma)
	}

	fmt.Fprintf(bw, "  ]\n")
	fmt.Fprintf(bw, "}\n")

	if err := bw.Flush(); err != nil {
		return herr.SnapshotIO("write", err)
	}

	return nil
}

// writeIntRows writes flat in groups of fieldCount ints, one
// comma-separated tuple per line.
func writeIntRows(w *bufio.Writer, flat []int, fieldCount int) {
	for i := 0; i < len(flat); i += fieldCount {
		row := flat[i : i+fieldCount]

		fmt.Fprintf(w, "    ")

		for j, v := range row {
			if j > 0 {
				fmt.Fprintf(w, ",")
			}

			fmt.Fprintf(w, "%d", v)
		}

		if i+fieldCount < len(flat) {
			fmt.Fprintf(w, ",")
		}

		fmt.Fprintf(w, "\n")
	}
}

// stringTable interns strings into the flat "strings" array every node
// name and edge name indexes into, avoiding repeated property-name text
// for objects sharing a shape.
type stringTable struct {
	values []string
	index  map[string]int
}

func newStringTable() *stringTable {
	return &stringTable{index: make(map[string]int)}
}

func (t *stringTable) intern(s string) int {
	if i, ok := t.index[s]; ok {
		return i
	}

	i := len(t.values)
	t.values = append(t.values, s)
	t.index[s] = i

	return i
}

// DumpToFile writes a timestamped snapshot file into dir, named
// "Heap.YYYYMMDD.HHMMSS.mmm.heapsnapshot" per §4.8, and returns the path
// written.
func DumpToFile(rt *heap.Runtime, dir string, now time.Time) (string, error) {
	name := fmt.Sprintf("Heap.%s.heapsnapshot", now.Format("20060102.150405.000"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", herr.SnapshotIO("create", err)
	}
	defer f.Close()

	if err := Dump(rt, f); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	return path, nil
}
