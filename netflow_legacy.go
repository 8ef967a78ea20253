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

import (
	"fmt"
	"time"
)

// legacyHeader is the common shape of NetFlow v1/v5/v7 packet headers: a
// version tag, record count, system uptime, and a wall-clock timestamp pair
// used to anchor each record's relative First/Last millisecond offsets.
// Grounded on original_source/src/netflow/netflow_v1.c's netflow_v1_header_t,
// generalized to the fields v5 and v7 headers add (flow sequence, sampling).
type legacyHeader struct {
	Version    uint16
	Count      uint16
	SysUptime  uint32
	UnixSecs   uint32
	UnixNsecs  uint32
	FlowSeqNum uint32
	EngineType uint8
	EngineID   uint8
}

const (
	nfV1RecordSize = 48
	nfV5RecordSize = 48
	nfV7RecordSize = 52
)

// DecodeNetflowV1 decodes a legacy NetFlow v1 packet into v3 records, after
// netflow_v1.c's Process_v1. Every output record carries genericFlow and
// ipv4Flow; flowMisc is added only when an interface index is nonzero, and
// ipNextHopV4 only when the next hop is nonzero.
func DecodeNetflowV1(packet []byte, exporter *Exporter, stats *StatUpdater) ([][]byte, error) {
	r := NewReader(packet)
	h := legacyHeader{Version: r.GetU16(), Count: r.GetU16()}
	h.SysUptime = r.GetU32()
	h.UnixSecs = r.GetU32()
	h.UnixNsecs = r.GetU32()
	if r.IsError() || h.Version != 1 {
		return nil, ErrShortSnapshot
	}

	msecBoot := int64(h.UnixSecs)*1000 + int64(h.UnixNsecs)/1e6 - int64(h.SysUptime)

	records := make([][]byte, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		rec := r.Bytes(nfV1RecordSize)
		if r.IsError() {
			return records, ErrShortSnapshot
		}
		out, err := decodeNetflowV1Record(rec, msecBoot, h.SysUptime, stats)
		if err != nil {
			return records, err
		}
		records = append(records, out)
	}
	return records, nil
}

func decodeNetflowV1Record(rec []byte, msecBoot int64, sysUptime uint32, stats *StatUpdater) ([]byte, error) {
	rr := NewReader(rec)

	srcAddr := rr.GetU32()
	dstAddr := rr.GetU32()
	nextHop := rr.GetU32()
	input := rr.GetU16()
	output := rr.GetU16()
	packets := rr.GetU32()
	octets := rr.GetU32()
	first := rr.GetU32()
	last := rr.GetU32()
	srcPort := rr.GetU16()
	dstPort := rr.GetU16()
	rr.Skip(2) // pad1
	tcpFlags := rr.GetU8()
	protocol := rr.GetU8()
	tos := rr.GetU8()
	rr.Skip(7) // reserved tail

	if rr.IsError() {
		return nil, ErrShortSnapshot
	}

	msecStart, msecEnd := legacyTimestamps(first, last, msecBoot, sysUptime)

	out := make([]byte, v3HeaderSize+256)
	hdr := AddV3Header(out)
	hdr.NfVersion = 1

	genOff, _, ok := PushExtension(out, hdr, ExGenericFlow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU64(out[genOff+genericFlowMsecFirstOff:], uint64(msecStart))
	putU64(out[genOff+genericFlowMsecLastOff:], uint64(msecEnd))
	putU64(out[genOff+genericFlowMsecReceivedOff:], uint64(time.Now().UnixMilli()))
	putU64(out[genOff+genericFlowInPacketsOff:], uint64(packets))
	putU64(out[genOff+genericFlowInBytesOff:], uint64(octets))
	putU16(out[genOff+genericFlowSrcPortOff:], srcPort)
	putU16(out[genOff+genericFlowDstPortOff:], dstPort)
	out[genOff+genericFlowProtoOff] = protocol
	out[genOff+genericFlowTosOff] = tos
	out[genOff+genericFlowTCPFlagsOff] = tcpFlags

	ipOff, _, ok := PushExtension(out, hdr, ExIPv4Flow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU32(out[ipOff:], srcAddr)
	putU32(out[ipOff+4:], dstAddr)

	if input != 0 || output != 0 {
		miscOff, _, ok := PushExtension(out, hdr, ExFlowMisc, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU16(out[miscOff:], input)
		putU16(out[miscOff+2:], output)
	}

	if nextHop != 0 {
		nhOff, _, ok := PushExtension(out, hdr, ExIPNextHopV4, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[nhOff:], nextHop)
	}

	if stats != nil {
		stats.Update(protocol, uint64(octets), uint64(packets), 0, 0, msecStart, msecEnd)
	}

	return out[:hdr.Size], nil
}

// legacyTimestamps reconstructs absolute millisecond start/end timestamps
// from a legacy record's router-uptime-relative First/Last fields,
// reproducing netflow_v1.c's 32-bit wraparound correction exactly: First
// wraps around the uptime counter before Last does, so First>Last signals a
// wrap that must be unwound by subtracting a full 32-bit span.
func legacyTimestamps(first, last uint32, msecBoot int64, sysUptime uint32) (msecStart, msecEnd int64) {
	if first > last {
		msecStart = msecBoot - 0x100000000 + int64(first)
	} else {
		msecStart = msecBoot + int64(first)
	}
	msecEnd = msecBoot + int64(last)

	if last > sysUptime {
		msecStart -= 0x100000000
		msecEnd -= 0x100000000
	}
	return msecStart, msecEnd
}

// DecodeNetflowV5 decodes a NetFlow v5 packet, adding the AS-number and
// subnet-mask fields v5 carries over v1
func DecodeNetflowV5(packet []byte, exporter *Exporter, stats *StatUpdater) ([][]byte, error) {
	r := NewReader(packet)
	h := legacyHeader{Version: r.GetU16(), Count: r.GetU16()}
	h.SysUptime = r.GetU32()
	h.UnixSecs = r.GetU32()
	h.UnixNsecs = r.GetU32()
	h.FlowSeqNum = r.GetU32()
	h.EngineType = r.GetU8()
	h.EngineID = r.GetU8()
	r.Skip(2) // sampling interval, ignored here; exporter sampler table is authoritative
	if r.IsError() || h.Version != 5 {
		return nil, ErrShortSnapshot
	}
	if exporter != nil {
		exporter.EngineType = h.EngineType
		exporter.EngineID = h.EngineID
		exporter.ObserveSequence(h.FlowSeqNum)
	}

	msecBoot := int64(h.UnixSecs)*1000 + int64(h.UnixNsecs)/1e6 - int64(h.SysUptime)

	records := make([][]byte, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		rec := r.Bytes(nfV5RecordSize)
		if r.IsError() {
			return records, ErrShortSnapshot
		}
		out, err := decodeNetflowV5Record(rec, msecBoot, h.SysUptime, h.EngineType, h.EngineID, stats)
		if err != nil {
			return records, err
		}
		records = append(records, out)
	}
	return records, nil
}

func decodeNetflowV5Record(rec []byte, msecBoot int64, sysUptime uint32, engineType, engineID uint8, stats *StatUpdater) ([]byte, error) {
	rr := NewReader(rec)

	srcAddr := rr.GetU32()
	dstAddr := rr.GetU32()
	nextHop := rr.GetU32()
	input := rr.GetU16()
	output := rr.GetU16()
	packets := rr.GetU32()
	octets := rr.GetU32()
	first := rr.GetU32()
	last := rr.GetU32()
	srcPort := rr.GetU16()
	dstPort := rr.GetU16()
	rr.Skip(1) // pad1
	tcpFlags := rr.GetU8()
	protocol := rr.GetU8()
	tos := rr.GetU8()
	srcAS := rr.GetU16()
	dstAS := rr.GetU16()
	srcMask := rr.GetU8()
	dstMask := rr.GetU8()
	rr.Skip(2) // pad2

	if rr.IsError() {
		return nil, ErrShortSnapshot
	}

	msecStart, msecEnd := legacyTimestamps(first, last, msecBoot, sysUptime)

	out := make([]byte, v3HeaderSize+256)
	hdr := AddV3Header(out)
	hdr.NfVersion = 5
	hdr.EngineType = engineType
	hdr.EngineID = engineID

	genOff, _, ok := PushExtension(out, hdr, ExGenericFlow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU64(out[genOff+genericFlowMsecFirstOff:], uint64(msecStart))
	putU64(out[genOff+genericFlowMsecLastOff:], uint64(msecEnd))
	putU64(out[genOff+genericFlowMsecReceivedOff:], uint64(time.Now().UnixMilli()))
	putU64(out[genOff+genericFlowInPacketsOff:], uint64(packets))
	putU64(out[genOff+genericFlowInBytesOff:], uint64(octets))
	putU16(out[genOff+genericFlowSrcPortOff:], srcPort)
	putU16(out[genOff+genericFlowDstPortOff:], dstPort)
	out[genOff+genericFlowProtoOff] = protocol
	out[genOff+genericFlowTosOff] = tos
	out[genOff+genericFlowTCPFlagsOff] = tcpFlags

	ipOff, _, ok := PushExtension(out, hdr, ExIPv4Flow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU32(out[ipOff:], srcAddr)
	putU32(out[ipOff+4:], dstAddr)

	if input != 0 || output != 0 || srcMask != 0 || dstMask != 0 {
		miscOff, _, ok := PushExtension(out, hdr, ExFlowMisc, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU16(out[miscOff:], input)
		putU16(out[miscOff+2:], output)
		out[miscOff+4] = srcMask
		out[miscOff+5] = dstMask
	}

	if nextHop != 0 {
		nhOff, _, ok := PushExtension(out, hdr, ExIPNextHopV4, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[nhOff:], nextHop)
	}

	if srcAS != 0 || dstAS != 0 {
		asOff, _, ok := PushExtension(out, hdr, ExASRouting, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[asOff:], uint32(srcAS))
		putU32(out[asOff+4:], uint32(dstAS))
	}

	if stats != nil {
		stats.Update(protocol, uint64(octets), uint64(packets), 0, 0, msecStart, msecEnd)
	}

	return out[:hdr.Size], nil
}

// DecodeNetflowV7 decodes a NetFlow v7 packet, which adds a source-router
// field (router_sc) to the v5 layout.
func DecodeNetflowV7(packet []byte, exporter *Exporter, stats *StatUpdater) ([][]byte, error) {
	r := NewReader(packet)
	h := legacyHeader{Version: r.GetU16(), Count: r.GetU16()}
	h.SysUptime = r.GetU32()
	h.UnixSecs = r.GetU32()
	h.UnixNsecs = r.GetU32()
	h.FlowSeqNum = r.GetU32()
	r.Skip(4) // reserved
	if r.IsError() || h.Version != 7 {
		return nil, ErrShortSnapshot
	}
	if exporter != nil {
		exporter.ObserveSequence(h.FlowSeqNum)
	}

	msecBoot := int64(h.UnixSecs)*1000 + int64(h.UnixNsecs)/1e6 - int64(h.SysUptime)

	records := make([][]byte, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		rec := r.Bytes(nfV7RecordSize)
		if r.IsError() {
			return records, ErrShortSnapshot
		}
		out, err := decodeNetflowV7Record(rec, msecBoot, h.SysUptime, stats)
		if err != nil {
			return records, err
		}
		records = append(records, out)
	}
	return records, nil
}

func decodeNetflowV7Record(rec []byte, msecBoot int64, sysUptime uint32, stats *StatUpdater) ([]byte, error) {
	rr := NewReader(rec)

	srcAddr := rr.GetU32()
	dstAddr := rr.GetU32()
	nextHop := rr.GetU32()
	input := rr.GetU16()
	output := rr.GetU16()
	packets := rr.GetU32()
	octets := rr.GetU32()
	first := rr.GetU32()
	last := rr.GetU32()
	srcPort := rr.GetU16()
	dstPort := rr.GetU16()
	flags := rr.GetU8()
	tcpFlags := rr.GetU8()
	protocol := rr.GetU8()
	tos := rr.GetU8()
	srcAS := rr.GetU16()
	dstAS := rr.GetU16()
	srcMask := rr.GetU8()
	dstMask := rr.GetU8()
	rr.Skip(2) // pad2
	routerSc := rr.GetU32()

	if rr.IsError() {
		return nil, ErrShortSnapshot
	}
	// flags bit 2 (0x04) marks "record is invalid" in v7; nfdump drops these.
	if flags&0x04 != 0 {
		return nil, fmt.Errorf("flowcore: v7 record marked invalid by exporter")
	}

	msecStart, msecEnd := legacyTimestamps(first, last, msecBoot, sysUptime)

	out := make([]byte, v3HeaderSize+256)
	hdr := AddV3Header(out)
	hdr.NfVersion = 7

	genOff, _, ok := PushExtension(out, hdr, ExGenericFlow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU64(out[genOff+genericFlowMsecFirstOff:], uint64(msecStart))
	putU64(out[genOff+genericFlowMsecLastOff:], uint64(msecEnd))
	putU64(out[genOff+genericFlowMsecReceivedOff:], uint64(time.Now().UnixMilli()))
	putU64(out[genOff+genericFlowInPacketsOff:], uint64(packets))
	putU64(out[genOff+genericFlowInBytesOff:], uint64(octets))
	putU16(out[genOff+genericFlowSrcPortOff:], srcPort)
	putU16(out[genOff+genericFlowDstPortOff:], dstPort)
	out[genOff+genericFlowProtoOff] = protocol
	out[genOff+genericFlowTosOff] = tos
	out[genOff+genericFlowTCPFlagsOff] = tcpFlags

	ipOff, _, ok := PushExtension(out, hdr, ExIPv4Flow, 0)
	if !ok {
		return nil, ErrOutputBufferTooSmall
	}
	putU32(out[ipOff:], srcAddr)
	putU32(out[ipOff+4:], dstAddr)

	if input != 0 || output != 0 || srcMask != 0 || dstMask != 0 {
		miscOff, _, ok := PushExtension(out, hdr, ExFlowMisc, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU16(out[miscOff:], input)
		putU16(out[miscOff+2:], output)
		out[miscOff+4] = srcMask
		out[miscOff+5] = dstMask
	}

	if nextHop != 0 {
		nhOff, _, ok := PushExtension(out, hdr, ExIPNextHopV4, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[nhOff:], nextHop)
	}

	if srcAS != 0 || dstAS != 0 {
		asOff, _, ok := PushExtension(out, hdr, ExASRouting, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[asOff:], uint32(srcAS))
		putU32(out[asOff+4:], uint32(dstAS))
	}

	if routerSc != 0 {
		rtOff, _, ok := PushExtension(out, hdr, ExRouterID, 0)
		if !ok {
			return nil, ErrOutputBufferTooSmall
		}
		putU32(out[rtOff:], routerSc)
	}

	if stats != nil {
		stats.Update(protocol, uint64(octets), uint64(packets), 0, 0, msecStart, msecEnd)
	}

	return out[:hdr.Size], nil
}

func putU16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
