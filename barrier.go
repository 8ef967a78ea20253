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

package flowcore

import "sync"

// ControlBarrier coordinates a fixed pool of worker goroutines (e.g. file
// writers) with a single controller that needs all of them parked at a
// checkpoint before proceeding. Grounded on libnffile's barrier.h pthread
// condition variable pair, re-expressed with sync.Cond.
type ControlBarrier struct {
	mu             sync.Mutex
	workerCond     *sync.Cond
	controllerCond *sync.Cond

	numWorkers int
	waiting    int
}

// NewControlBarrier creates a barrier for exactly numWorkers participants.
func NewControlBarrier(numWorkers int) *ControlBarrier {
	b := &ControlBarrier{numWorkers: numWorkers}
	b.workerCond = sync.NewCond(&b.mu)
	b.controllerCond = sync.NewCond(&b.mu)
	return b
}

// Wait is called by a worker on reaching the checkpoint. It blocks until
// Release is called by the controller. The last worker to arrive wakes the
// controller.
func (b *ControlBarrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.waiting++
	if b.waiting == b.numWorkers {
		b.controllerCond.Signal()
	}
	for b.waiting > 0 {
		b.workerCond.Wait()
	}
}

// ControllerWait blocks the controller until every worker has called Wait.
func (b *ControlBarrier) ControllerWait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.waiting < b.numWorkers {
		b.controllerCond.Wait()
	}
}

// Release lets every parked worker proceed past the checkpoint.
func (b *ControlBarrier) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiting = 0
	b.workerCond.Broadcast()
}

// NumWorkers reports the barrier's fixed worker count.
func (b *ControlBarrier) NumWorkers() int {
	return b.numWorkers
}
