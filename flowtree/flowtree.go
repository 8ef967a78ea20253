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

// Package flowtree aggregates captured packets into flow records, the way
// nfpcapd turns a packet capture into NetFlow-like records without any
// exporter in the loop. Grounded on
// original_source/src/nfpcapd/nfpcapd.c and nflowcache.h.
package flowtree

import (
	"net/netip"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/flowcore/flowcore/ja3"
)

// FlowKey is the 5-tuple identifying one flow. It intentionally does not
// normalize direction (src/dst are not sorted), since forward and reverse
// traffic are tracked as distinct flows, matching nfpcapd's default mode.
type FlowKey struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// hash computes a table index for k using xxhash over its serialized bytes.
// A real struct-keyed Go map would not need this, but mirrors the explicit
// hash table nfpcapd builds in C: the tree keys its bucket map by this
// value, and keys that collide share one bucket's entry slice.
func (k FlowKey) hash() uint64 {
	var buf [37]byte
	src16 := k.SrcIP.As16()
	dst16 := k.DstIP.As16()
	copy(buf[0:16], src16[:])
	copy(buf[16:32], dst16[:])
	buf[32] = byte(k.SrcPort >> 8)
	buf[33] = byte(k.SrcPort)
	buf[34] = byte(k.DstPort >> 8)
	buf[35] = byte(k.DstPort)
	buf[36] = k.Protocol
	return xxhash.Sum64(buf[:])
}

// Entry is one aggregated flow. Packets arriving after FIN or RST set
// TCPFlags immediately eagerly flush the flow rather than waiting out
// InactiveTimeout, matching nfpcapd's behavior for cleanly terminated TCP
// connections.
type Entry struct {
	Key FlowKey

	FirstSeen time.Time
	LastSeen  time.Time
	Packets   uint64
	Octets    uint64
	TCPFlags  uint8

	// JA3/JA3S is set once from the flow's first recognized TLS
	// ClientHello/ServerHello and never overwritten by later packets of
	// the same flow.
	JA3 string
}

const (
	tcpFlagFIN = 0x01
	tcpFlagRST = 0x04
)

// Tree is a 5-tuple keyed flow cache with active/inactive aging and a
// hard cap on concurrently tracked flows.
type Tree struct {
	mu      sync.Mutex
	buckets map[uint64][]*Entry
	count   int

	maxEntries      int
	activeTimeout   time.Duration
	inactiveTimeout time.Duration

	dedup *dedupRing

	flush chan *Entry
}

// New creates a Tree that evicts flows idle for longer than
// inactiveTimeout, force-flushes flows older than activeTimeout regardless
// of activity, and never tracks more than maxEntries concurrent flows.
// Flushed entries are delivered on the channel returned by Flushed.
func New(activeTimeout, inactiveTimeout time.Duration, maxEntries int) *Tree {
	return &Tree{
		buckets:         map[uint64][]*Entry{},
		maxEntries:      maxEntries,
		activeTimeout:   activeTimeout,
		inactiveTimeout: inactiveTimeout,
		dedup:           newDedupRing(4096),
		flush:           make(chan *Entry, 256),
	}
}

// Flushed returns the channel entries are sent on once they age out,
// eagerly flush on TCP FIN/RST, or are evicted to make room under
// MaxEntries pressure.
func (t *Tree) Flushed() <-chan *Entry {
	return t.flush
}

// Observe extracts a 5-tuple and byte/packet counters from pkt and folds
// them into the tree. Packets that cannot be decoded to at least IP +
// (TCP|UDP) are silently ignored, matching nfpcapd's handling of
// unsupported L3/L4 combinations.
func (t *Tree) Observe(pkt gopacket.Packet, now time.Time) {
	key, flags, ok := extractKey(pkt)
	if !ok {
		return
	}

	if t.dedup.seen(pkt) {
		return
	}

	length := uint64(len(pkt.Data()))
	fingerprint := ja3Fingerprint(pkt)

	t.mu.Lock()
	defer t.mu.Unlock()

	h := key.hash()
	bucket := t.buckets[h]
	for _, e := range bucket {
		if e.Key == key {
			e.LastSeen = now
			e.Packets++
			e.Octets += length
			e.TCPFlags |= flags
			if e.JA3 == "" {
				e.JA3 = fingerprint
			}
			if flags&(tcpFlagFIN|tcpFlagRST) != 0 {
				t.evictLocked(h, e)
			}
			return
		}
	}

	if t.count >= t.maxEntries {
		t.evictOldestLocked()
	}

	e := &Entry{Key: key, FirstSeen: now, LastSeen: now, Packets: 1, Octets: length, TCPFlags: flags, JA3: fingerprint}
	t.buckets[h] = append(bucket, e)
	t.count++
}

// ja3Fingerprint computes the JA3/JA3S digest of pkt's TCP payload, if it
// carries a recognizable TLS ClientHello or ServerHello. Any other payload,
// or a payload too short to parse, yields an empty fingerprint rather than
// an error: most packets in a flow are not handshake records.
func ja3Fingerprint(pkt gopacket.Packet) string {
	app := pkt.ApplicationLayer()
	if app == nil {
		return ""
	}
	h, err := ja3.Parse(app.Payload())
	if err != nil {
		return ""
	}
	_, digest := ja3.Digest(h)
	return digest
}

// Sweep flushes every flow that has exceeded its active or inactive
// timeout as of now. Call this periodically from a ticker.
func (t *Tree) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h, bucket := range t.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			expired := now.Sub(e.LastSeen) > t.inactiveTimeout ||
				(t.activeTimeout > 0 && now.Sub(e.FirstSeen) > t.activeTimeout)
			if expired {
				t.flush <- e
				t.count--
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(t.buckets, h)
		} else {
			t.buckets[h] = kept
		}
	}
}

func (t *Tree) evictLocked(h uint64, target *Entry) {
	bucket := t.buckets[h]
	for i, e := range bucket {
		if e == target {
			t.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			t.count--
			t.flush <- e
			return
		}
	}
}

// evictOldestLocked drops the flow with the oldest LastSeen across the
// whole tree, to make room for a new flow once MaxEntries is hit. This is
// a linear scan; under sustained cache pressure a heap would be faster,
// but flowtree's MaxEntries is sized to make this path rare in practice.
func (t *Tree) evictOldestLocked() {
	var oldestHash uint64
	var oldest *Entry
	for h, bucket := range t.buckets {
		for _, e := range bucket {
			if oldest == nil || e.LastSeen.Before(oldest.LastSeen) {
				oldest = e
				oldestHash = h
			}
		}
	}
	if oldest != nil {
		t.evictLocked(oldestHash, oldest)
	}
}

// extractKey pulls a 5-tuple and any TCP flags out of pkt using gopacket's
// layer decoding.
func extractKey(pkt gopacket.Packet) (FlowKey, uint8, bool) {
	var key FlowKey

	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		l := ip4.(*layers.IPv4)
		key.SrcIP, _ = netip.AddrFromSlice(l.SrcIP.To4())
		key.DstIP, _ = netip.AddrFromSlice(l.DstIP.To4())
		key.Protocol = uint8(l.Protocol)
	} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		l := ip6.(*layers.IPv6)
		key.SrcIP, _ = netip.AddrFromSlice(l.SrcIP.To16())
		key.DstIP, _ = netip.AddrFromSlice(l.DstIP.To16())
		key.Protocol = uint8(l.NextHeader)
	} else {
		return key, 0, false
	}

	var flags uint8
	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		l := tcp.(*layers.TCP)
		key.SrcPort = uint16(l.SrcPort)
		key.DstPort = uint16(l.DstPort)
		if l.FIN {
			flags |= tcpFlagFIN
		}
		if l.RST {
			flags |= tcpFlagRST
		}
	} else if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		l := udp.(*layers.UDP)
		key.SrcPort = uint16(l.SrcPort)
		key.DstPort = uint16(l.DstPort)
	} else {
		return key, 0, false
	}

	return key, flags, true
}
