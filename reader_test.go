package flowcore

import "testing"

func TestReaderSequentialReads(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	r := NewReader(buf)

	if got := r.GetU8(); got != 0x01 {
		t.Fatalf("GetU8 = %#x, want 0x01", got)
	}
	if got := r.GetU16(); got != 0x0203 {
		t.Fatalf("GetU16 = %#x, want 0x0203", got)
	}
	if got := r.GetU24(); got != 0x040506 {
		t.Fatalf("GetU24 = %#x, want 0x040506", got)
	}
	if got := r.GetU8(); got != 0x07 {
		t.Fatalf("GetU8 = %#x, want 0x07", got)
	}
	if r.Available() != 1 {
		t.Fatalf("Available = %d, want 1", r.Available())
	}
	if r.IsError() {
		t.Fatal("unexpected sticky error")
	}
}

func TestReaderGetU64OddWidths(t *testing.T) {
	buf := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	for width := 1; width <= 5; width++ {
		r := NewReader(buf)
		got := r.GetU64(width)
		var want uint64
		for i := 0; i < width; i++ {
			want = want<<8 | uint64(buf[i])
		}
		if got != want {
			t.Errorf("GetU64(%d) = %#x, want %#x", width, got, want)
		}
	}
}

func TestReaderGetU128(t *testing.T) {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	r := NewReader(buf)
	hi, lo := r.GetU128()
	if hi != 0x0102030405060708 {
		t.Fatalf("hi = %#x, want 0x0102030405060708", hi)
	}
	if lo != 0x090a0b0c0d0e0f10 {
		t.Fatalf("lo = %#x, want 0x090a0b0c0d0e0f10", lo)
	}
}

func TestReaderStickyErrorOnOverrun(t *testing.T) {
	buf := []byte{0x01, 0x02}
	r := NewReader(buf)

	r.GetU32()
	if !r.IsError() {
		t.Fatal("expected sticky error after reading past end")
	}
	if r.NoError() {
		t.Fatal("NoError should be false once IsError is true")
	}

	// Once set, the error latches even for reads that would otherwise fit.
	if got := r.GetU8(); got != 0 {
		t.Fatalf("GetU8 after sticky error = %#x, want 0", got)
	}
	if r.Cursor() != 0 {
		t.Fatalf("Cursor moved after failed read: %d", r.Cursor())
	}
}

func TestReaderBytesAliasesBackingArray(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	r := NewReader(buf)
	b := r.Bytes(2)
	if len(b) != 2 || b[0] != 1 || b[1] != 2 {
		t.Fatalf("Bytes(2) = %v, want [1 2]", b)
	}
	buf[0] = 99
	if b[0] != 99 {
		t.Fatal("Bytes result does not alias backing array as documented")
	}
}

func TestReaderSkip(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	r.Skip(3)
	if got := r.GetU8(); got != 4 {
		t.Fatalf("GetU8 after Skip(3) = %d, want 4", got)
	}
	r.Skip(10)
	if !r.IsError() {
		t.Fatal("expected sticky error after skipping past end")
	}
}
