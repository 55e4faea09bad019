package heap

import (
	"fmt"

	"github.com/orizon-lang/mheap/internal/herr"
)

// RunGC runs the trial-deletion cycle collector to completion (§4.3).
// It never returns early: decref pass, scan pass, free pass, restoring
// phase to NONE before returning (P1). The free pass itself drains
// whatever zero_refcount accumulates along the way, while phase is still
// REMOVE_CYCLES — see freePass for why draining after the phase reset
// below is too late.
func (rt *Runtime) RunGC() {
	if rt.phase != PhaseNone {
		herr.Fatal("E_GC_REENTRANT", "run_gc invoked while a GC phase was already active", map[string]interface{}{"phase": rt.phase.String()})
	}

	rt.emit(Event{Kind: EventCycleStart})
	rt.phase = PhaseRemoveCycles

	rt.emit(Event{Kind: EventCyclePhase, Detail: "decref_pass"})
	rt.decrefPass()

	rt.emit(Event{Kind: EventCyclePhase, Detail: "scan_pass"})
	rt.scanPass()

	rt.emit(Event{Kind: EventCyclePhase, Detail: "free_pass"})
	reclaimed := rt.freePass()

	rt.phase = PhaseNone
	rt.emit(Event{Kind: EventCycleFinish, Detail: fmt.Sprintf("reclaimed=%d", reclaimed)})
}

// decrefPass is phase 1 of trial deletion: decrement every cell's
// refcount by the number of incoming references from other live cells,
// moving any cell whose total refcount reaches zero onto tmp.
func (rt *Runtime) decrefPass() {
	rt.lists[listTmp] = listHead{}

	rt.forEach(listLive, func(id CellID) {
		c := rt.arena.get(id)
		if c.mark != 0 {
			herr.Fatal("E_MARK_NOT_ZERO", "cell entered decref pass with mark already set", map[string]interface{}{"cell": uint32(id)})
		}

		rt.mark(id, rt.decrefChild)

		c.mark = 1
		if c.refCount == 0 {
			rt.move(id, listTmp)
		}
	})
}

// decrefChild is gc_decref_child: decrement one child's refcount; if it
// reaches zero and the child was already visited (mark==1) by the outer
// decref-pass walk, move it to tmp now, since the outer walk has already
// passed it and will not revisit it.
func (rt *Runtime) decrefChild(child CellID) {
	c := rt.arena.get(child)
	if c.refCount == 0 {
		herr.Fatal("E_REFCOUNT_UNDERFLOW", "decref pass decremented a cell already at zero", map[string]interface{}{"cell": uint32(child)})
	}

	c.refCount--
	if c.refCount == 0 && c.mark == 1 {
		rt.move(child, listTmp)
	}
}

// scanPass is phase 2: restore the refcount of every cell that is
// genuinely reachable (still on live, or reachable transitively from
// one), pulling falsely-condemned cells back from tmp; then restore the
// refcount of everything remaining on tmp so the free pass's releases
// balance (P7).
func (rt *Runtime) scanPass() {
	// A plain forward walk, not a "safe" one: gc_scan_incref_child may
	// append newly-revived cells to the tail of live, and re-reading
	// c.next after processing each cell lets this walk continue into
	// them, so a revived cell's own children get scanned too.
	id := rt.lists[listLive].head
	for id != 0 {
		c := rt.arena.get(id)
		if c.refCount == 0 {
			herr.Fatal("E_LIVE_ZERO_REFCOUNT", "cell on live had zero refcount entering scan pass", map[string]interface{}{"cell": uint32(id)})
		}

		c.mark = 0
		rt.mark(id, rt.scanIncrefChild)
		id = c.next
	}

	rt.forEach(listTmp, func(id CellID) {
		rt.mark(id, rt.scanIncrefChild2)
	})
}

func (rt *Runtime) scanIncrefChild(child CellID) {
	c := rt.arena.get(child)
	c.refCount++

	if c.refCount == 1 {
		// Was condemned (refcount 0, parked on tmp); it has a real
		// incoming reference after all. Pull it back to live.
		rt.move(child, listLive)
		c.mark = 0
	}
}

func (rt *Runtime) scanIncrefChild2(child CellID) {
	rt.arena.get(child).refCount++
}

// freePass is phase 3: every cell tmp condemned is released exactly once
// (P6), then reclaimed exactly once, with no arena slot recycled while
// any finalizer might still reach it.
//
// This needs two separate walks, not one. tmp's membership is captured
// up front, before any finalizer runs, because finalize(id)'s own
// Release calls can land a cell back on zero_refcount mid-pass — a
// self-reference releasing id itself, or a cycle peer still sitting on
// tmp whose refcount this finalize happens to drop to zero. Release
// (refcount.go) parks such a cell on zero_refcount under phase
// REMOVE_CYCLES rather than recycling it, exactly so the free pass can
// still observe it; but if this pass recycled each cell's arena slot
// right after finalizing it, a cell relocated onto zero_refcount by
// someone else's finalize would have its header wiped out from under
// that link (dangling list head), or would still be sitting on tmp when
// its own slot gets wiped by a peer that reached it first, corrupting
// the list either way and double-finalizing or double-releasing the
// result. Finalizing every condemned cell before recycling any of them
// means a reciprocal release during finalize always lands on a cell
// that is still a live arena slot, whichever list it ends up parked on.
//
// The original's __JS_FreeValueRT (gc.c) gets the same property for
// free by checking `gc_phase != JS_GC_PHASE_REMOVE_CYCLES` before ever
// touching a cell's refcount during the free pass; this port has no
// such cheap phase guard available at the Release call site (Release
// has no way to tell "still condemned, will be recycled shortly" apart
// from "already free"), so it earns the same safety by ordering instead.
//
// Returns the number of cells reclaimed.
func (rt *Runtime) freePass() int {
	var members []CellID

	rt.forEach(listTmp, func(id CellID) {
		members = append(members, id)
	})

	for _, id := range members {
		rt.finalize(id)
	}

	reclaimed := 0

	for _, id := range members {
		kind := rt.Kind(id)
		rt.unlink(id)
		rt.arena.recycle(id)
		rt.releaseCellFootprint(kind)
		reclaimed++
	}

	// Anything outside tmp that a member's finalize released down to
	// zero along the way (e.g. a boxed value, which finalize releases but
	// mark does not enumerate) lands on zero_refcount; drain it now, still under REMOVE_CYCLES, rather
	// than leaving it for RunGC to notice after resetting phase — by
	// then the cells it reached have already been recycled above.
	for {
		id, ok := rt.popAny(listZeroRefcount)
		if !ok {
			break
		}

		rt.freeCell(id)
		reclaimed++
	}

	return reclaimed
}
