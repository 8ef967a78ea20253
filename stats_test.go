package flowcore

import "testing"

func TestStatUpdaterBucketsByProtocol(t *testing.T) {
	s := NewStatUpdater()
	s.Update(protoICMP, 100, 1, 0, 0, 1000, 2000)
	s.Update(protoTCP, 200, 2, 0, 0, 1000, 2000)
	s.Update(protoUDP, 300, 3, 0, 0, 1000, 2000)
	s.Update(protoICMPv6, 50, 1, 0, 0, 1000, 2000)
	s.Update(47, 400, 4, 0, 0, 1000, 2000) // GRE, falls into Other

	snap := s.Snapshot()
	if snap.ICMP.Flows != 2 || snap.ICMP.Octets != 150 {
		t.Fatalf("ICMP = %+v", snap.ICMP)
	}
	if snap.TCP.Flows != 1 || snap.TCP.Packets != 2 {
		t.Fatalf("TCP = %+v", snap.TCP)
	}
	if snap.UDP.Flows != 1 || snap.UDP.Octets != 300 {
		t.Fatalf("UDP = %+v", snap.UDP)
	}
	if snap.Other.Flows != 1 || snap.Other.Octets != 400 {
		t.Fatalf("Other = %+v", snap.Other)
	}
}

func TestStatUpdaterTracksFirstLastSeen(t *testing.T) {
	s := NewStatUpdater()
	s.Update(protoTCP, 10, 1, 0, 0, 5000, 6000)
	s.Update(protoTCP, 10, 1, 0, 0, 3000, 4000)
	s.Update(protoTCP, 10, 1, 0, 0, 4500, 9000)

	snap := s.Snapshot()
	if snap.FirstSeen != 3000 {
		t.Fatalf("FirstSeen = %d, want 3000", snap.FirstSeen)
	}
	if snap.LastSeen != 9000 {
		t.Fatalf("LastSeen = %d, want 9000", snap.LastSeen)
	}
}

func TestStatUpdaterOutCountsAddToTotals(t *testing.T) {
	s := NewStatUpdater()
	s.Update(protoTCP, 100, 1, 50, 1, 1000, 2000)

	snap := s.Snapshot()
	if snap.TCP.Octets != 150 || snap.TCP.Packets != 2 {
		t.Fatalf("TCP = %+v, want Octets=150 Packets=2", snap.TCP)
	}
}

func TestStatUpdaterMergeIsAssociative(t *testing.T) {
	a := NewStatUpdater()
	a.Update(protoTCP, 10, 1, 0, 0, 1000, 2000)

	b := NewStatUpdater()
	b.Update(protoTCP, 20, 1, 0, 0, 1000, 2000)

	c := NewStatUpdater()
	c.Update(protoUDP, 30, 1, 0, 0, 1000, 2000)

	// (a merge b) merge c
	left := NewStatUpdater()
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	// a merge (b merge c)
	bc := NewStatUpdater()
	bc.Merge(b)
	bc.Merge(c)
	right := NewStatUpdater()
	right.Merge(a)
	right.Merge(bc)

	ls, rs := left.Snapshot(), right.Snapshot()
	if ls.TCP != rs.TCP || ls.UDP != rs.UDP {
		t.Fatalf("merge is not associative: left=%+v right=%+v", ls, rs)
	}
}

func TestStatUpdaterMergeDoesNotMutateSource(t *testing.T) {
	src := NewStatUpdater()
	src.Update(protoTCP, 5, 1, 0, 0, 1000, 2000)

	dst := NewStatUpdater()
	dst.Merge(src)
	dst.Merge(src) // merge twice; src itself must be unaffected

	srcSnap := src.Snapshot()
	if srcSnap.TCP.Flows != 1 {
		t.Fatalf("source mutated by Merge: TCP.Flows = %d, want 1", srcSnap.TCP.Flows)
	}

	dstSnap := dst.Snapshot()
	if dstSnap.TCP.Flows != 2 {
		t.Fatalf("destination Flows = %d, want 2 after merging twice", dstSnap.TCP.Flows)
	}
}
