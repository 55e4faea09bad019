package heap

import (
	"testing"

	"github.com/orizon-lang/mheap/internal/alloc"
)

func newTestRuntime() *Runtime {
	return NewRuntime(alloc.NewSliceAllocator(&alloc.Counters{}))
}

func setProp(rt *Runtime, obj CellID, name string, v Value) {
	o := rt.ObjectPayload(obj)
	o.Props = append(o.Props, PropSlot{Name: name, Kind: PropValue, Value: v})
}

// TestSelfCycle is scenario S1: a self-referential object with no
// external root is reclaimed by one run_gc call.
func TestSelfCycle(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	a := rt.NewObject(shape)
	rt.Release(shape)

	setProp(rt, a, "self", rt.Retain(ObjectValue(a)))
	rt.Release(a)

	if rt.listLen(listLive) == 0 {
		t.Fatal("expected the self-cycle cell to still be on live before run_gc")
	}

	if rt.listLen(listZeroRefcount) != 0 {
		t.Fatalf("self-cycle must not be reachable via plain refcounting: zero_refcount should be empty, got %d", rt.listLen(listZeroRefcount))
	}

	before := rt.listLen(listLive)

	rt.RunGC()

	if rt.listLen(listLive) != before-2 {
		t.Errorf("expected the object and its shape reclaimed, live went from %d to %d", before, rt.listLen(listLive))
	}

	if rt.listLen(listTmp) != 0 || rt.listLen(listZeroRefcount) != 0 {
		t.Error("P1: tmp and zero_refcount must be empty after run_gc")
	}
}

// TestTwoCycleWithExternalRoot is scenario S2: a two-object cycle held
// alive by an external root survives one run_gc, then both cells are
// freed together once the root is released and run_gc runs again.
func TestTwoCycleWithExternalRoot(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	a := rt.NewObject(shape)
	b := rt.NewObject(shape)
	rt.Release(shape)

	setProp(rt, a, "next", rt.Retain(ObjectValue(b)))
	setProp(rt, b, "next", rt.Retain(ObjectValue(a)))

	rt.AddRoot(a) // external hold in addition to the constructor's own
	rt.Release(a) // drop the constructor's own hold; AddRoot's remains
	rt.Release(b)

	if got := rt.RefCount(a); got != 2 {
		t.Errorf("expected a.ref_count == 2 (root + b.next), got %d", got)
	}

	if got := rt.RefCount(b); got != 1 {
		t.Errorf("expected b.ref_count == 1 (a.next only), got %d", got)
	}

	before := rt.listLen(listLive)
	rt.RunGC()

	if rt.listLen(listLive) != before {
		t.Errorf("externally-rooted cycle must survive run_gc: live count changed from %d to %d", before, rt.listLen(listLive))
	}

	rt.RemoveRoot(a)

	before = rt.listLen(listLive)
	rt.RunGC()

	if rt.listLen(listLive) != before-3 {
		t.Errorf("expected both cycle members and their shared shape reclaimed in one pass, live went from %d to %d", before, rt.listLen(listLive))
	}
}

// TestMixedCycleWithLeaf is scenario S3: a cycle holding a non-cyclic
// leaf string value is reclaimed, releasing the leaf along the way.
func TestMixedCycleWithLeaf(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	a := rt.NewObject(shape)
	b := rt.NewObject(shape)
	rt.Release(shape)

	setProp(rt, a, "next", rt.Retain(ObjectValue(b)))
	setProp(rt, b, "next", rt.Retain(ObjectValue(a)))
	setProp(rt, a, "leaf", Value{Tag: TagString, Str: NewRefString("hello")})

	rt.Release(a)
	rt.Release(b)

	before := rt.listLen(listLive)
	rt.RunGC()

	if rt.listLen(listLive) != before-2 {
		t.Errorf("expected both cycle members reclaimed, live went from %d to %d", before, rt.listLen(listLive))
	}
}

// TestZombieObservation samples IsLive for both members of a reclaimed
// two-cycle at the start of the free pass, and checks that neither has
// been marked as a zombie before any finalizer runs.
func TestZombieObservation(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	a := rt.NewObject(shape)
	b := rt.NewObject(shape)
	rt.Release(shape)

	var observations []bool

	// IsLive can't be sampled from inside a finalizer without a
	// per-kind custom hook, so this test instead samples it at the
	// free_pass phase-transition event, which fires once, right before
	// the free pass starts finalizing tmp's members in list order.
	setProp(rt, a, "next", rt.Retain(ObjectValue(b)))
	setProp(rt, b, "next", rt.Retain(ObjectValue(a)))

	rt.Release(a)
	rt.Release(b)

	rt.SetEventSink(func(ev Event) {
		if ev.Kind == EventCyclePhase && ev.Detail == "free_pass" {
			observations = append(observations, rt.IsLive(a), rt.IsLive(b))
		}
	})

	rt.RunGC()

	if len(observations) != 1 {
		t.Fatalf("expected exactly one free_pass event, got %d", len(observations))
	}
	// Both cells are still nominally "live" at the moment the free_pass
	// event fires (before either finalizer has run) — this test
	// documents the weaker, externally-observable guarantee: IsLive
	// only turns false once finalizeObject's zombie-marker step runs,
	// which happens inside the free pass, not before it starts.
	if !observations[0] || !observations[1] {
		t.Error("expected both cells to still report live at free_pass start")
	}
}

// TestIdempotentSecondRunGC checks the round-trip/idempotence property:
// two consecutive run_gc calls with no mutator activity between them
// reclaim nothing on the second call.
func TestIdempotentSecondRunGC(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	a := rt.NewObject(shape)
	rt.AddRoot(a)
	rt.Release(a)
	rt.Release(shape)

	rt.RunGC()

	before := rt.listLen(listLive)
	beforeRef := rt.RefCount(a)

	rt.RunGC()

	if rt.listLen(listLive) != before {
		t.Errorf("second run_gc should reclaim nothing, live changed from %d to %d", before, rt.listLen(listLive))
	}

	if rt.RefCount(a) != beforeRef {
		t.Errorf("second run_gc changed a's refcount from %d to %d", beforeRef, rt.RefCount(a))
	}
}

// TestWeakMapSweepOnDeath exercises §4.7's two-pass sweep: a weak
// record observing a dying object is unlinked and its value released
// without the map itself being touched beyond that record.
func TestWeakMapSweepOnDeath(t *testing.T) {
	rt := newTestRuntime()
	shape := rt.NewShape(0)

	key := rt.NewObject(shape)
	other := rt.NewObject(shape)
	rt.Release(shape)

	wm := NewWeakMap(8)
	wm.Set(rt.ObjectPayload(key), key, Int(42))
	wm.Set(rt.ObjectPayload(other), other, Int(7))

	if wm.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", wm.Len())
	}

	rt.Release(key)

	if wm.Len() != 1 {
		t.Errorf("expected key's death to sweep its record, len = %d", wm.Len())
	}

	rt.Release(other)

	if wm.Len() != 0 {
		t.Errorf("expected other's death to sweep its record, len = %d", wm.Len())
	}
}

// TestDisabledGCThresholdRequiresManualCall confirms that disabling the
// automatic trigger means no collection happens until run_gc is called
// explicitly, even past what would otherwise trigger it.
func TestDisabledGCThresholdRequiresManualCall(t *testing.T) {
	rt := newTestRuntime()
	rt.SetGCThreshold(GCThresholdDisabled)

	shape := rt.NewShape(0)

	var fired bool

	rt.SetEventSink(func(ev Event) {
		if ev.Kind == EventTriggerFired {
			fired = true
		}
	})

	for i := 0; i < 200; i++ {
		obj := rt.NewObject(shape)
		setProp(rt, obj, "self", rt.Retain(ObjectValue(obj)))
		rt.Release(obj)
	}

	if fired {
		t.Error("automatic trigger fired despite GCThresholdDisabled")
	}

	rt.Release(shape)
	rt.RunGC() // manual call still works
}
