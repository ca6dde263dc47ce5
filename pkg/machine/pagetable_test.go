package machine_test

import (
	"errors"
	"testing"

	"github.com/go-kmon/kmon/pkg/machine"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

const (
	testNPages   = 64
	testRoot     = 0x1000 // page directory frame
	testFirstPT  = 0x2000 // first frame handed out for second-level tables
	testDataPage = 0x3000
)

func newTestMachine(t *testing.T) (*machine.Machine, *machine.PageTableBuilder) {
	t.Helper()
	mem := machine.NewPhysMemory(testNPages)
	b := machine.NewPageTableBuilder(mem, testRoot, testFirstPT)
	m := machine.New(mem, memlayout.Layout{}, b.Root(), machine.Registers{})
	return m, b
}

func TestProbePresent(t *testing.T) {
	m, b := newTestMachine(t)
	const va = uint32(0x00400000)
	if err := b.Map(va, testDataPage, memlayout.PteWritable|memlayout.PteUser); err != nil {
		t.Fatal(err)
	}

	entry, err := m.PageTable().Probe(va + 0x123)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.Present || entry.PhysAddr != testDataPage || !entry.Writable || !entry.UserAccessible {
		t.Errorf("Probe = %+v", entry)
	}
}

func TestProbeNoPageTable(t *testing.T) {
	m, _ := newTestMachine(t)
	entry, err := m.PageTable().Probe(0x00800000)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Present {
		t.Errorf("Probe of unmapped region = %+v", entry)
	}
}

func TestProbeEntryNotPresent(t *testing.T) {
	m, b := newTestMachine(t)
	const va = uint32(0x00401000)
	if err := b.MapAbsent(va); err != nil {
		t.Fatal(err)
	}
	entry, err := m.PageTable().Probe(va)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Present {
		t.Errorf("Probe of non-present entry = %+v", entry)
	}
}

func TestProbeRootSelfReference(t *testing.T) {
	m, _ := newTestMachine(t)
	// The directory's own page has no entry mapping it, but it is
	// reported present with zero permissions.
	rootVA := m.Layout.KVirt(m.PageDir())
	for _, va := range []uint32{rootVA, rootVA + 0x234} {
		entry, err := m.PageTable().Probe(va)
		if err != nil {
			t.Fatal(err)
		}
		if !entry.Present || entry.PhysAddr != m.PageDir() {
			t.Errorf("Probe(0x%08x) = %+v", va, entry)
		}
		if entry.Writable || entry.UserAccessible {
			t.Errorf("self-reference must carry zero permissions: %+v", entry)
		}
	}
}

func TestSetPermission(t *testing.T) {
	m, b := newTestMachine(t)
	const va = uint32(0x00400000)
	if err := b.Map(va, testDataPage, memlayout.PteWritable); err != nil {
		t.Fatal(err)
	}
	pt := m.PageTable()

	// Replace writable with user-accessible. The permission word does not
	// include the present bit; it must be asserted anyway.
	if err := pt.SetPermission(va, memlayout.PteUser); err != nil {
		t.Fatal(err)
	}
	entry, err := pt.Probe(va)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.Present || entry.PhysAddr != testDataPage {
		t.Errorf("frame or present bit not preserved: %+v", entry)
	}
	if entry.Writable || !entry.UserAccessible {
		t.Errorf("permissions not replaced: %+v", entry)
	}
}

func TestSetPermissionNoMapping(t *testing.T) {
	m, b := newTestMachine(t)
	pt := m.PageTable()

	err := pt.SetPermission(0x00800000, memlayout.PteWritable)
	var nm machine.NoMappingError
	if !errors.As(err, &nm) || nm.Addr != 0x00800000 {
		t.Errorf("err = %v, want NoMappingError", err)
	}

	// An existing but non-present entry also counts as no mapping, and
	// stays untouched.
	const va = uint32(0x00401000)
	if err := b.MapAbsent(va); err != nil {
		t.Fatal(err)
	}
	if err := pt.SetPermission(va, memlayout.PteWritable); !errors.As(err, &nm) {
		t.Errorf("err = %v, want NoMappingError", err)
	}
	h, err := pt.Walk(va, false)
	if err != nil || h == nil {
		t.Fatalf("Walk after failed SetPermission: %v, %v", h, err)
	}
	if pte, _ := h.Load(); pte != 0 {
		t.Errorf("entry changed by failed SetPermission: %#x", pte)
	}
}

func TestWalkRefusesCreate(t *testing.T) {
	m, _ := newTestMachine(t)
	if _, err := m.PageTable().Walk(0x00400000, true); err == nil {
		t.Error("Walk with create should fail, lookups never allocate")
	}
}
