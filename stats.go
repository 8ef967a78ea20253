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

// protocol numbers stats are broken out by individually; everything else
// falls into the "other" bucket. ICMP covers both the v4 (1) and v6 (58)
// protocol numbers.
const (
	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

// ProtocolStats accumulates packet/octet/flow counts for one protocol
// bucket.
type ProtocolStats struct {
	Flows   uint64
	Packets uint64
	Octets  uint64
}

func (p *ProtocolStats) add(packets, octets uint64) {
	p.Flows++
	p.Packets += packets
	p.Octets += octets
}

// merge folds other into p, used to combine StatUpdaters from independent
// worker goroutines. Commutative and associative: stat totals must not
// depend on record arrival order.
func (p *ProtocolStats) merge(other ProtocolStats) {
	p.Flows += other.Flows
	p.Packets += other.Packets
	p.Octets += other.Octets
}

// StatUpdater accumulates per-protocol flow/packet/octet counters plus the
// global first/last-seen window, grounded on nfdump_inline.c's
// UpdateStatRecord/UpdateRawStat (ICMP/TCP/UDP broken out, everything else
// folded into Other; firstseen/lastseen tracked as a running min/max over
// every record's own msecFirst/msecLast).
type StatUpdater struct {
	mu sync.Mutex

	ICMP  ProtocolStats
	TCP   ProtocolStats
	UDP   ProtocolStats
	Other ProtocolStats

	// FirstSeen and LastSeen are the running min(msecFirst) and
	// max(msecLast) across every record folded in. Zero means "no record
	// observed yet".
	FirstSeen int64
	LastSeen  int64
}

// NewStatUpdater creates an empty StatUpdater.
func NewStatUpdater() *StatUpdater {
	return &StatUpdater{}
}

// Update folds one flow record's counters into the bucket selected by
// protocol, and widens the first/last-seen window. inOctets/inPackets are
// genericFlow's own forward-direction counts; outOctets/outPackets are
// cntFlow's reverse-direction counts for a bidirectional record (0 when the
// record carries no cntFlow, as with the legacy unidirectional decoders).
// protoICMPv6 (58) buckets into ICMP alongside protoICMP (1), matching
// UpdateRawStat treating both ICMP and ICMPv6 as one bucket.
func (s *StatUpdater) Update(protocol uint8, inOctets, inPackets, outOctets, outPackets uint64, msecFirst, msecLast int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	packets := inPackets + outPackets
	octets := inOctets + outOctets

	switch protocol {
	case protoICMP, protoICMPv6:
		s.ICMP.add(packets, octets)
	case protoTCP:
		s.TCP.add(packets, octets)
	case protoUDP:
		s.UDP.add(packets, octets)
	default:
		s.Other.add(packets, octets)
	}

	if s.FirstSeen == 0 || msecFirst < s.FirstSeen {
		s.FirstSeen = msecFirst
	}
	if msecLast > s.LastSeen {
		s.LastSeen = msecLast
	}
}

// Merge combines another StatUpdater's counters and first/last-seen window
// into s.
func (s *StatUpdater) Merge(other *StatUpdater) {
	snapshot := other.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ICMP.merge(snapshot.ICMP)
	s.TCP.merge(snapshot.TCP)
	s.UDP.merge(snapshot.UDP)
	s.Other.merge(snapshot.Other)

	if s.FirstSeen == 0 || (snapshot.FirstSeen != 0 && snapshot.FirstSeen < s.FirstSeen) {
		s.FirstSeen = snapshot.FirstSeen
	}
	if snapshot.LastSeen > s.LastSeen {
		s.LastSeen = snapshot.LastSeen
	}
}

// Snapshot returns a copy of the current counters, safe to read
// concurrently with further Update calls.
func (s *StatUpdater) Snapshot() StatUpdater {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatUpdater{
		ICMP:      s.ICMP,
		TCP:       s.TCP,
		UDP:       s.UDP,
		Other:     s.Other,
		FirstSeen: s.FirstSeen,
		LastSeen:  s.LastSeen,
	}
}
