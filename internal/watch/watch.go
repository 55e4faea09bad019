// Package watch implements the external dump trigger of SPEC_FULL
// §4.10: an fsnotify-backed watcher that, on seeing a sentinel file
// created in a configured directory, asks a Runtime to write a heap
// snapshot. The request is serviced only when the embedding application
// calls Runtime.PollExternalRequests.
//
// It never calls into the heap package's retain/release/run_gc paths
// directly — it only ever enqueues an ExternalRequest, which the
// mutator drains on its own thread via Runtime.PollExternalRequests,
// preserving the single-threaded mutator model of §5.
package watch

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/mheap/internal/heap"
)

// DefaultSentinel is the filename TriggerWatcher reacts to when none is
// configured explicitly.
const DefaultSentinel = "dump.request"

// TriggerWatcher wraps an fsnotify.Watcher rooted at one directory. On a
// Create event whose base name matches Sentinel, it enqueues a
// RequestDumpSnapshot for ctx on rt and removes the sentinel file so a
// repeated touch re-triggers.
type TriggerWatcher struct {
	w        *fsnotify.Watcher
	dir      string
	sentinel string
	rt       *heap.Runtime
	ctx      heap.CellID
	done     chan struct{}
}

// New creates a TriggerWatcher rooted at dir, watching for sentinel
// (DefaultSentinel if empty). Snapshot requests triggered by the
// sentinel are enqueued against rt for context ctx. The watcher is
// disabled by default in the embedding application; constructing one
// starts its goroutine immediately, mirroring the teacher's
// NewFSWatcher (internal/runtime/vfs/watch_fsnotify.go), whose
// constructor also starts its loop before returning.
func New(rt *heap.Runtime, ctx heap.CellID, dir, sentinel string) (*TriggerWatcher, error) {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	tw := &TriggerWatcher{
		w:        w,
		dir:      dir,
		sentinel: sentinel,
		rt:       rt,
		ctx:      ctx,
		done:     make(chan struct{}),
	}

	go tw.loop()

	return tw, nil
}

func (tw *TriggerWatcher) loop() {
	for {
		select {
		case ev, ok := <-tw.w.Events:
			if !ok {
				return
			}

			if ev.Op&fsnotify.Create == 0 {
				continue
			}

			if filepath.Base(ev.Name) != tw.sentinel {
				continue
			}

			select {
			case tw.rt.ExternalRequests() <- heap.ExternalRequest{Kind: heap.RequestDumpSnapshot, Ctx: tw.ctx}:
			default:
				log.Printf("watch: external request queue full, dropping dump trigger from %s", ev.Name)
			}

			if err := os.Remove(ev.Name); err != nil && !os.IsNotExist(err) {
				log.Printf("watch: failed to remove sentinel %s: %v", ev.Name, err)
			}

		case err, ok := <-tw.w.Errors:
			if !ok {
				return
			}

			log.Printf("watch: fsnotify error on %s: %v", tw.dir, err)

		case <-tw.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying
// fsnotify.Watcher.
func (tw *TriggerWatcher) Close() error {
	close(tw.done)
	return tw.w.Close()
}
