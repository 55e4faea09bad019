package heap

// WeakMap is an external collaborator's weak-map/weak-set backing store:
// a hash table plus an insertion-order list of WeakRecords whose Key
// points at some managed object. The GC owns only the sweep protocol of
// §4.7; the hash/order structure itself belongs to the weak-map
// implementation, modeled here just enough to exercise that protocol.
type WeakMap struct {
	buckets   []*WeakRecord
	ordHead   *WeakRecord
	ordTail   *WeakRecord
	numRecord int
}

// NewWeakMap creates an empty weak map with nBuckets hash buckets.
func NewWeakMap(nBuckets int) *WeakMap {
	if nBuckets <= 0 {
		nBuckets = 16
	}

	return &WeakMap{buckets: make([]*WeakRecord, nBuckets)}
}

// WeakRecord is one entry in a WeakMap: it observes, but does not own,
// its Key. Per §3, an object maintains a singly-linked chain (keyNext)
// of every WeakRecord whose Key is that object.
type WeakRecord struct {
	owner *WeakMap
	Key   CellID
	Value Value

	keyNext *WeakRecord // object's per-key chain (§3)

	bucketPrev, bucketNext *WeakRecord // owning map's hash bucket
	ordPrev, ordNext       *WeakRecord // owning map's insertion-order list
}

func bucketIndex(m *WeakMap, key CellID) int {
	return int(key) % len(m.buckets)
}

// Set inserts a new record for key in m, and threads the new record onto
// obj's keyNext chain so the GC can find it again on death. An existing
// record for the same key is not replaced or removed; both stay in m.
func (m *WeakMap) Set(obj *Object, key CellID, value Value) {
	rec := &WeakRecord{owner: m, Key: key, Value: value}

	idx := bucketIndex(m, key)
	rec.bucketNext = m.buckets[idx]

	if rec.bucketNext != nil {
		rec.bucketNext.bucketPrev = rec
	}

	m.buckets[idx] = rec

	rec.ordPrev = m.ordTail
	if m.ordTail != nil {
		m.ordTail.ordNext = rec
	} else {
		m.ordHead = rec
	}

	m.ordTail = rec
	m.numRecord++

	rec.keyNext = obj.WeakHead
	obj.WeakHead = rec
}

// Len reports the number of live records, useful for test assertions.
func (m *WeakMap) Len() int { return m.numRecord }

// sweepWeakRefs runs the two-pass weak-record sweep of §4.7 for obj,
// which is dying. Pass 1 unlinks each record from its owning map's hash
// bucket and insertion-order list, without touching keyNext (Pass 2
// needs the chain intact to walk it); Pass 2 then releases each record's
// Value and frees the record struct.
//
// Two passes are required because Pass 1 must not touch a record's
// keyNext link after operating on fields Pass 2 would invalidate on the
// same record.
func (rt *Runtime) sweepWeakRefs(obj *Object) {
	// Pass 1: unlink from bucket + insertion-order lists.
	for rec := obj.WeakHead; rec != nil; rec = rec.keyNext {
		m := rec.owner

		if rec.bucketPrev != nil {
			rec.bucketPrev.bucketNext = rec.bucketNext
		} else {
			m.buckets[bucketIndex(m, rec.Key)] = rec.bucketNext
		}

		if rec.bucketNext != nil {
			rec.bucketNext.bucketPrev = rec.bucketPrev
		}

		if rec.ordPrev != nil {
			rec.ordPrev.ordNext = rec.ordNext
		} else {
			m.ordHead = rec.ordNext
		}

		if rec.ordNext != nil {
			rec.ordNext.ordPrev = rec.ordPrev
		} else {
			m.ordTail = rec.ordPrev
		}

		m.numRecord--
	}

	// Pass 2: release values and drop the chain.
	for rec := obj.WeakHead; rec != nil; {
		next := rec.keyNext
		rt.releaseValue(rec.Value)
		rec.keyNext = nil
		rec = next
	}

	obj.WeakHead = nil
}
