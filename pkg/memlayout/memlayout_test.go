package memlayout

import "testing"

func TestIndexArithmetic(t *testing.T) {
	const va = uint32(0xf0123456)
	if got := PDX(va); got != 0x3c0 {
		t.Errorf("PDX = %#x, want 0x3c0", got)
	}
	if got := PTX(va); got != 0x123 {
		t.Errorf("PTX = %#x, want 0x123", got)
	}
	if got := PageOffset(va); got != 0x456 {
		t.Errorf("PageOffset = %#x, want 0x456", got)
	}
	if got := PageAddr(PDX(va), PTX(va), PageOffset(va)); got != va {
		t.Errorf("PageAddr round trip = %#x, want %#x", got, va)
	}
}

func TestPageAddrCarries(t *testing.T) {
	// A table index one past the end must land at the start of the next
	// 4 MiB region.
	if got := PageAddr(1, NPTEntries, 0); got != PageAddr(2, 0, 0) {
		t.Errorf("PageAddr(1, 1024, 0) = %#x, want %#x", got, PageAddr(2, 0, 0))
	}
}

func TestLayout(t *testing.T) {
	l := Layout{KernBase: DefaultKernBase, NPages: 1024}
	if got := l.MaxPhys(); got != 1024*PageSize {
		t.Errorf("MaxPhys = %#x", got)
	}
	if got := l.KernWindow(); got != 0x10000000 {
		t.Errorf("KernWindow = %#x, want 0x10000000", got)
	}
	if got := l.KVirt(0x1000); got != 0xf0001000 {
		t.Errorf("KVirt = %#x", got)
	}
	if got := l.KPhys(0xf0001000); got != 0x1000 {
		t.Errorf("KPhys = %#x", got)
	}
}
