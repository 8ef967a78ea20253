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
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/gopacket"
)

// dedupRing remembers the hashes of the last N packets seen, so a packet
// delivered twice by an upstream tap or bonded capture interface is folded
// into one observation instead of double-counting bytes/packets. Grounded
// on nfpcapd's duplicate-packet detection, which keeps a fixed-size
// circular history of recently seen packet hashes rather than an
// unbounded set.
type dedupRing struct {
	mu     sync.Mutex
	hashes []uint64
	seenAt map[uint64]struct{}
	pos    int
}

func newDedupRing(size int) *dedupRing {
	return &dedupRing{
		hashes: make([]uint64, size),
		seenAt: make(map[uint64]struct{}, size),
	}
}

// seen hashes pkt's raw bytes and reports whether an identical packet is
// still within the ring's history window. A new hash is recorded, evicting
// the oldest entry once the ring is full; a duplicate is not recorded again
// and keeps its original place in the ring.
func (d *dedupRing) seen(pkt gopacket.Packet) bool {
	h := xxhash.Sum64(pkt.Data())

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seenAt[h]; ok {
		return true
	}

	if old := d.hashes[d.pos]; old != 0 {
		delete(d.seenAt, old)
	}
	d.hashes[d.pos] = h
	d.seenAt[h] = struct{}{}
	d.pos = (d.pos + 1) % len(d.hashes)

	return false
}
