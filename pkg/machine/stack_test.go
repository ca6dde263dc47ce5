package machine_test

import (
	"sort"
	"testing"

	"github.com/go-kmon/kmon/pkg/machine"
)

// stubResolver stands in for the kernel symbol service.
type stubResolver struct {
	funcs []machine.FuncInfo // sorted by Start
}

func (r stubResolver) Resolve(addr uint32) machine.FuncInfo {
	i := sort.Search(len(r.funcs), func(i int) bool { return r.funcs[i].Start > addr }) - 1
	if i < 0 {
		return machine.UnknownFuncInfo(addr)
	}
	return r.funcs[i]
}

// writeFrame lays out one stack frame at base: saved older frame base,
// return address, then the five argument words.
func writeFrame(t *testing.T, mem machine.MemoryReadWriter, base, savedBase, ret uint32, args [5]uint32) {
	t.Helper()
	words := append([]uint32{savedBase, ret}, args[:]...)
	for i, w := range words {
		if err := machine.WriteUint32(mem, base+uint32(i)*4, w); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUnwindThreeFrames(t *testing.T) {
	mem := machine.NewPhysMemory(testNPages)
	res := stubResolver{funcs: []machine.FuncInfo{
		{Name: "i386_init", File: "kern/init.c", Line: 24, Start: 0x5000},
		{Name: "test_backtrace", File: "kern/init.c", Line: 13, Start: 0x5100},
		{Name: "mon_backtrace", File: "kern/monitor.c", Line: 59, Start: 0x5200},
	}}

	args := func(base uint32) [5]uint32 {
		return [5]uint32{base + 1, base + 2, base + 3, base + 4, base + 5}
	}
	writeFrame(t, mem, 0x9000, 0, 0x5010, args(0x9000))      // oldest, chain ends here
	writeFrame(t, mem, 0x9100, 0x9000, 0x5110, args(0x9100)) // middle
	writeFrame(t, mem, 0x9200, 0x9100, 0x5210, args(0x9200)) // newest

	frames, err := machine.Stacktrace(mem, res, 0x9200, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}

	wantBases := []uint32{0x9200, 0x9100, 0x9000}
	wantFns := []string{"mon_backtrace", "test_backtrace", "i386_init"}
	for i, f := range frames {
		if f.FrameBase != wantBases[i] {
			t.Errorf("frame %d base = %#x, want %#x", i, f.FrameBase, wantBases[i])
		}
		if f.Args != args(wantBases[i]) {
			t.Errorf("frame %d args = %v", i, f.Args)
		}
		if f.Fn.Name != wantFns[i] {
			t.Errorf("frame %d fn = %q, want %q", i, f.Fn.Name, wantFns[i])
		}
		if f.FnOffset() != 0x10 {
			t.Errorf("frame %d offset = %#x, want 0x10", i, f.FnOffset())
		}
	}
}

func TestUnwindMaxDepthBoundsCyclicChain(t *testing.T) {
	mem := machine.NewPhysMemory(testNPages)
	// A frame whose saved base points back at itself: without a depth
	// bound this chain never terminates.
	writeFrame(t, mem, 0x9000, 0x9000, 0x5010, [5]uint32{})

	frames, err := machine.Stacktrace(mem, nil, 0x9000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 8 {
		t.Fatalf("got %d frames, want 8", len(frames))
	}
	if frames[0].Fn.Name != "<unknown>" {
		t.Errorf("nil resolver should yield the unknown placeholder, got %q", frames[0].Fn.Name)
	}
}

func TestUnwindBadFrameBase(t *testing.T) {
	mem := machine.NewPhysMemory(testNPages)
	// The saved base points outside installed memory: the first frame is
	// still delivered, then iteration ends with an error.
	writeFrame(t, mem, 0x9000, 0x00ffff00, 0x5010, [5]uint32{})

	it := machine.Unwind(mem, nil, 0x9000, 0)
	if !it.Next() {
		t.Fatalf("first frame not delivered: %v", it.Err())
	}
	if it.Next() {
		t.Fatal("iteration continued past a bad frame base")
	}
	if it.Err() == nil {
		t.Error("expected an error after walking off installed memory")
	}
}
