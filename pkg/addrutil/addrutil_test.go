package addrutil

import "testing"

func TestParseHex(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
	}{
		{"0x1a", 26},
		{"0X1a", 26},
		{"1a", 26},
		{"0xZZ", 0},
		{"0x1A", 16}, // uppercase hex digits degrade to zero
		{"0xf0100000", 0xf0100000},
		{"", 0},
		{"0x", 0},
	} {
		if got := ParseHex(tc.in); got != tc.want {
			t.Errorf("ParseHex(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseDec(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
	}{
		{"42", 42},
		{"0", 0},
		{"4x2", 402}, // non-digits degrade to zero, not an error
		{"", 0},
	} {
		if got := ParseDec(tc.in); got != tc.want {
			t.Errorf("ParseDec(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRounding(t *testing.T) {
	if got := RoundDown(0x1fff, 0x1000); got != 0x1000 {
		t.Errorf("RoundDown = %#x, want 0x1000", got)
	}
	if got := RoundUp(0x1001, 0x1000); got != 0x2000 {
		t.Errorf("RoundUp = %#x, want 0x2000", got)
	}
	if got := RoundUp(0x2000, 0x1000); got != 0x2000 {
		t.Errorf("RoundUp on aligned = %#x, want 0x2000", got)
	}
	if got := Min(3, 7); got != 3 {
		t.Errorf("Min = %d, want 3", got)
	}
	if got := Min(7, 3); got != 3 {
		t.Errorf("Min = %d, want 3", got)
	}
}
