package rtp

import "testing"

func TestSplit2114RoundTrip(t *testing.T) {
	a2, b1, c1, d4 := splitByte2114(0x80 | 0x20 | 0x05)
	if a2 != 2 || !b1 || c1 || d4 != 5 {
		t.Fatalf("splitByte2114 = %d,%v,%v,%d", a2, b1, c1, d4)
	}
	if got := joinByte2114(a2, b1, c1, d4); got != 0x80|0x20|0x05 {
		t.Fatalf("joinByte2114 = %#x, want %#x", got, 0x80|0x20|0x05)
	}
}

func TestSplit17(t *testing.T) {
	b1, b7 := splitByte17(0x80 | 0x35)
	if !b1 {
		t.Fail()
	}
	if b7 != 0x35 {
		t.Fail()
	}
}
