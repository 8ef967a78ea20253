/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowtree

import (
	"context"
	"sync"
	"time"

	"github.com/google/gopacket"

	flowcore "github.com/flowcore/flowcore"
)

// CaptureGroup runs a fixed pool of packet-processing workers feeding a
// Tree, with a controller goroutine that periodically parks every worker at
// a ControlBarrier checkpoint so flushed entries can be drained and handed
// to onRotate without racing a worker's in-flight Observe call. This
// mirrors nfpcapd's packet-thread / flow-thread split, where the flow
// thread's periodic file rotation needs every packet thread quiesced first.
type CaptureGroup struct {
	tree    *Tree
	barrier *flowcore.ControlBarrier
	workers int

	packets  <-chan gopacket.Packet
	rotate   <-chan time.Time
	onRotate func([]*Entry)

	pause chan struct{}
}

// NewCaptureGroup creates a group of workers workers consuming packets and
// feeding tree, with a controller that rotates on every tick received from
// rotate.
func NewCaptureGroup(tree *Tree, workers int, packets <-chan gopacket.Packet, rotate <-chan time.Time, onRotate func([]*Entry)) *CaptureGroup {
	return &CaptureGroup{
		tree:     tree,
		barrier:  flowcore.NewControlBarrier(workers),
		workers:  workers,
		packets:  packets,
		rotate:   rotate,
		onRotate: onRotate,
		pause:    make(chan struct{}),
	}
}

// Run starts the worker pool and controller, blocking until ctx is
// canceled or the packets channel closes.
func (g *CaptureGroup) Run(ctx context.Context) {
	ctrlDone := make(chan struct{})
	go g.controller(ctx, ctrlDone)

	var wg sync.WaitGroup
	wg.Add(g.workers)
	for i := 0; i < g.workers; i++ {
		go func() {
			defer wg.Done()
			g.worker(ctx)
		}()
	}
	wg.Wait()
	close(ctrlDone)
}

func (g *CaptureGroup) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.pause:
			g.barrier.Wait()
		case pkt, ok := <-g.packets:
			if !ok {
				return
			}
			g.tree.Observe(pkt, time.Now())
		}
	}
}

func (g *CaptureGroup) controller(ctx context.Context, workersDone <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-workersDone:
			return
		case <-g.rotate:
			if !g.quiesce(ctx) {
				return
			}
			if g.onRotate != nil {
				g.onRotate(g.tree.drainFlushed())
			}
			g.barrier.Release()
		}
	}
}

// quiesce signals every worker to park at the barrier and waits for all of
// them to arrive. It returns false if ctx is canceled first.
func (g *CaptureGroup) quiesce(ctx context.Context) bool {
	for i := 0; i < g.workers; i++ {
		select {
		case g.pause <- struct{}{}:
		case <-ctx.Done():
			return false
		}
	}
	g.barrier.ControllerWait()
	return true
}

// drainFlushed collects every entry currently queued on the flush channel
// without blocking, for handoff to a rotation callback.
func (t *Tree) drainFlushed() []*Entry {
	var out []*Entry
	for {
		select {
		case e := <-t.flush:
			out = append(out, e)
		default:
			return out
		}
	}
}
