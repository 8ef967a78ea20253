package flowcore

import (
	"net/netip"
	"testing"
)

func TestObserveSequenceContinuation(t *testing.T) {
	e := NewExporter(ExporterKey{SourceIP: netip.MustParseAddr("10.0.0.1"), Version: 10})

	e.ObserveSequence(1)
	e.ObserveSequence(2)
	e.ObserveSequence(3)

	if e.Dropped != 0 || e.OutOfOrder != 0 {
		t.Fatalf("Dropped=%d OutOfOrder=%d, want 0/0 for a contiguous sequence", e.Dropped, e.OutOfOrder)
	}
	if e.Packets != 3 {
		t.Fatalf("Packets = %d, want 3", e.Packets)
	}
}

func TestObserveSequenceDetectsDrop(t *testing.T) {
	e := NewExporter(ExporterKey{SourceIP: netip.MustParseAddr("10.0.0.1"), Version: 10})

	e.ObserveSequence(1)
	e.ObserveSequence(5) // 3 missing in between (2,3,4)

	if e.Dropped != 3 {
		t.Fatalf("Dropped = %d, want 3", e.Dropped)
	}
	if e.OutOfOrder != 0 {
		t.Fatalf("OutOfOrder = %d, want 0", e.OutOfOrder)
	}
}

func TestObserveSequenceDetectsOutOfOrder(t *testing.T) {
	e := NewExporter(ExporterKey{SourceIP: netip.MustParseAddr("10.0.0.1"), Version: 10})

	e.ObserveSequence(10)
	e.ObserveSequence(5) // went backwards

	if e.OutOfOrder != 1 {
		t.Fatalf("OutOfOrder = %d, want 1", e.OutOfOrder)
	}
	if e.Dropped != 0 {
		t.Fatalf("Dropped = %d, want 0 for an out-of-order packet", e.Dropped)
	}
}

func TestObserveSequenceNeverDoubleCounts(t *testing.T) {
	e := NewExporter(ExporterKey{SourceIP: netip.MustParseAddr("10.0.0.1"), Version: 10})

	e.ObserveSequence(1)
	e.ObserveSequence(3)  // +1 dropped
	e.ObserveSequence(2)  // out of order, not an additional drop
	e.ObserveSequence(4)

	if e.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", e.Dropped)
	}
	if e.OutOfOrder != 1 {
		t.Fatalf("OutOfOrder = %d, want 1", e.OutOfOrder)
	}
}

func TestExporterSamplerRoundTrip(t *testing.T) {
	e := NewExporter(ExporterKey{SourceIP: netip.MustParseAddr("10.0.0.1"), Version: 10})

	e.UpdateSampler(&SamplerInfo{ID: 1, Algorithm: 2, PacketInterval: 100, PacketSpace: 1})
	s, ok := e.Sampler(1)
	if !ok {
		t.Fatal("Sampler(1) not found after UpdateSampler")
	}
	if s.PacketInterval != 100 {
		t.Fatalf("PacketInterval = %d, want 100", s.PacketInterval)
	}

	if _, ok := e.Sampler(2); ok {
		t.Fatal("Sampler(2) found but was never announced")
	}
}

func TestExporterTableGetOrCreate(t *testing.T) {
	tbl := NewExporterTable()
	key := ExporterKey{SourceIP: netip.MustParseAddr("192.0.2.1"), Version: 9}

	e1 := tbl.GetOrCreate(key)
	e2 := tbl.GetOrCreate(key)
	if e1 != e2 {
		t.Fatal("GetOrCreate returned distinct Exporters for the same key")
	}

	other := tbl.GetOrCreate(ExporterKey{SourceIP: netip.MustParseAddr("192.0.2.2"), Version: 9})
	if other == e1 {
		t.Fatal("GetOrCreate returned the same Exporter for distinct keys")
	}

	all := tbl.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d exporters, want 2", len(all))
	}
}
