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
	"net/netip"
	"sync"
)

// ExporterKey identifies an exporting device by source address and NetFlow
// version — the same device can speak multiple protocol
// versions concurrently (e.g. during a migration), and each is tracked
// separately.
type ExporterKey struct {
	SourceIP netip.Addr
	Version  uint16
}

func (k ExporterKey) String() string {
	return fmt.Sprintf("%s/v%d", k.SourceIP, k.Version)
}

// SamplerInfo is one sampler definition an exporter has announced via an
// options template.
type SamplerInfo struct {
	ID              uint32
	Algorithm       uint8
	PacketInterval  uint32
	PacketSpace     uint32
}

// Exporter tracks per-device decode state: sequence-number continuity,
// announced samplers, and a few running counters used for diagnostics. This
// is grounded on the original's exporter_v1_t (seen in netflow_v1.c)
// generalized across all supported wire versions instead of being
// duplicated per-version.
type Exporter struct {
	Key ExporterKey

	mu sync.Mutex

	EngineType uint8
	EngineID   uint8

	haveSeq     bool
	lastSeq     uint32
	Packets     uint64
	Sequences   uint64
	Dropped     uint64
	OutOfOrder  uint64

	Samplers map[uint32]*SamplerInfo

	// OutputRecordSize is a size slot for this exporter's v3 output records.
	// No code in this package assigns it, so it stays 0; Decoder sizes every
	// output record with its own flat 1024-byte bound instead.
	OutputRecordSize int
}

// NewExporter creates a fresh Exporter for key.
func NewExporter(key ExporterKey) *Exporter {
	return &Exporter{
		Key:      key,
		Samplers: map[uint32]*SamplerInfo{},
	}
}

// ObserveSequence updates sequence continuity counters for a newly received
// packet's header sequence number. Invariant: dropped and out-of-order
// counts must never double count the same gap.
func (e *Exporter) ObserveSequence(seq uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Packets++
	if !e.haveSeq {
		e.haveSeq = true
		e.lastSeq = seq
		return
	}

	diff := int64(seq) - int64(e.lastSeq)
	switch {
	case diff == 1:
		// expected continuation
	case diff > 1:
		e.Dropped += uint64(diff - 1)
	case diff <= 0:
		e.OutOfOrder++
	}
	e.lastSeq = seq
}

// UpdateSampler installs or refreshes a sampler definition announced by an
// options template record.
func (e *Exporter) UpdateSampler(info *SamplerInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Samplers[info.ID] = info
}

// Sampler looks up a previously announced sampler by ID.
func (e *Exporter) Sampler(id uint32) (*SamplerInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.Samplers[id]
	return s, ok
}

// ExporterTable tracks every Exporter seen so far, keyed by (source IP,
// version).
type ExporterTable struct {
	mu        sync.RWMutex
	exporters map[ExporterKey]*Exporter
}

// NewExporterTable creates an empty exporter table.
func NewExporterTable() *ExporterTable {
	return &ExporterTable{exporters: map[ExporterKey]*Exporter{}}
}

// GetOrCreate returns the Exporter for key, creating it if this is the first
// packet seen from that (source IP, version) pair.
func (t *ExporterTable) GetOrCreate(key ExporterKey) *Exporter {
	t.mu.RLock()
	e, ok := t.exporters[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.exporters[key]; ok {
		return e
	}
	e = NewExporter(key)
	t.exporters[key] = e
	ExportersTotal.Inc()
	return e
}

// All returns a snapshot slice of every known exporter, for diagnostics.
func (t *ExporterTable) All() []*Exporter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Exporter, 0, len(t.exporters))
	for _, e := range t.exporters {
		out = append(out, e)
	}
	return out
}
