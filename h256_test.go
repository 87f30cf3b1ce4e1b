package smt

import "testing"

func TestH256ZeroIsZero(t *testing.T) {
	if !ZeroH256.IsZero() {
		t.Fatal("ZeroH256.IsZero() = false")
	}
	var h H256
	h.SetBit(3)
	if h.IsZero() {
		t.Fatal("non-zero H256 reports IsZero() = true")
	}
}

func TestH256GetSetClearBit(t *testing.T) {
	var h H256
	if h.GetBit(0) {
		t.Fatal("fresh H256 has bit 0 set")
	}
	h.SetBit(0)
	if !h.GetBit(0) {
		t.Fatal("SetBit(0) did not set bit 0")
	}
	h.SetBit(255)
	if !h.GetBit(255) {
		t.Fatal("SetBit(255) did not set bit 255")
	}
	if h[31] != 0x80 {
		t.Fatalf("bit 255 should live in byte 31's high bit, got byte31=%x", h[31])
	}
	h.ClearBit(0)
	if h.GetBit(0) {
		t.Fatal("ClearBit(0) did not clear bit 0")
	}
}

func TestH256IsRight(t *testing.T) {
	var h H256
	h.SetBit(5)
	if !h.IsRight(5) {
		t.Fatal("IsRight(5) should be true once bit 5 is set")
	}
	if h.IsRight(6) {
		t.Fatal("IsRight(6) should be false")
	}
}

func TestH256ParentPath(t *testing.T) {
	var h H256
	h.SetBit(0)
	h.SetBit(1)
	h.SetBit(8)

	p := h.ParentPath(0)
	if p != h {
		t.Fatalf("ParentPath(0) should be identity, got %x want %x", p, h)
	}

	p = h.ParentPath(1)
	if p.GetBit(0) {
		t.Fatal("ParentPath(1) should clear bit 0")
	}
	if !p.GetBit(1) || !p.GetBit(8) {
		t.Fatal("ParentPath(1) cleared a bit it shouldn't have")
	}

	p = h.ParentPath(9)
	if p.GetBit(0) || p.GetBit(1) || p.GetBit(8) {
		t.Fatal("ParentPath(9) should clear every bit below 9")
	}
}

func TestH256ForkHeight(t *testing.T) {
	a := H256{}
	b := H256{}
	if a.ForkHeight(b) != 0 {
		t.Fatal("equal keys should fork at height 0")
	}

	b.SetBit(10)
	if got := a.ForkHeight(b); got != 10 {
		t.Fatalf("ForkHeight = %d, want 10", got)
	}

	c := H256{}
	c.SetBit(255)
	if got := a.ForkHeight(c); got != 255 {
		t.Fatalf("ForkHeight = %d, want 255", got)
	}
}

func TestH256Compare(t *testing.T) {
	a := H256{}
	b := H256{}
	b[31] = 1
	if !a.Less(b) {
		t.Fatal("all-zero key should sort before a key with its last byte set")
	}
	if b.Less(a) {
		t.Fatal("b should not sort before a")
	}
	if a.Compare(a) != 0 {
		t.Fatal("a key must compare equal to itself")
	}
}

func TestParseH256RoundTrip(t *testing.T) {
	var h H256
	h.SetBit(0)
	h.SetBit(200)

	parsed, err := ParseH256(h.String())
	if err != nil {
		t.Fatalf("ParseH256: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %x want %x", parsed, h)
	}

	if _, err := ParseH256("not-hex"); err == nil {
		t.Fatal("expected an error parsing invalid hex")
	}
	if _, err := ParseH256("00"); err == nil {
		t.Fatal("expected an error parsing a short string")
	}
}
