package machine

import (
	"fmt"

	"github.com/go-kmon/kmon/pkg/memlayout"
)

// PageTableBuilder constructs a two-level page table inside a PhysMemory.
// The monitor itself never allocates page-table entries; the builder exists
// to assemble snapshot fixtures and test machines.
type PageTableBuilder struct {
	mem      *PhysMemory
	root     uint32
	nextFree uint32
}

// NewPageTableBuilder zeroes nothing and allocates second-level tables from
// firstFree upward, one page at a time. Root is the physical address of the
// (page-aligned) directory page.
func NewPageTableBuilder(mem *PhysMemory, root, firstFree uint32) *PageTableBuilder {
	return &PageTableBuilder{mem: mem, root: root, nextFree: firstFree}
}

// Root returns the physical address of the directory page.
func (b *PageTableBuilder) Root() uint32 { return b.root }

// Map installs a mapping from the page containing va to the frame containing
// pa with the given permission bits (the present bit is added). A
// second-level table is allocated on first use of each 4 MiB region.
func (b *PageTableBuilder) Map(va, pa, perm uint32) error {
	pdeAddr := b.root + memlayout.PDX(va)*memlayout.EntrySize
	pde, err := ReadUint32(b.mem, pdeAddr)
	if err != nil {
		return err
	}
	if pde&memlayout.PtePresent == 0 {
		if b.nextFree+memlayout.PageSize > b.mem.Size() {
			return fmt.Errorf("out of frames for page table at va 0x%08x", va)
		}
		pt := b.nextFree
		b.nextFree += memlayout.PageSize
		pde = pt | memlayout.PtePresent | memlayout.PteWritable
		if err := WriteUint32(b.mem, pdeAddr, pde); err != nil {
			return err
		}
	}
	pteAddr := memlayout.PteAddr(pde) + memlayout.PTX(va)*memlayout.EntrySize
	pte := memlayout.PteAddr(pa) | perm&memlayout.PermMask | memlayout.PtePresent
	return WriteUint32(b.mem, pteAddr, pte)
}

// MapAbsent installs a second-level table for va's region (if needed) and
// clears the present bit of va's entry, producing an existing-but-not-present
// entry.
func (b *PageTableBuilder) MapAbsent(va uint32) error {
	if err := b.Map(va, 0, 0); err != nil {
		return err
	}
	pt := NewPageTable(b.mem, b.root, memlayout.Layout{KernBase: memlayout.DefaultKernBase, NPages: b.mem.NPages()})
	h, err := pt.Walk(va, false)
	if err != nil {
		return err
	}
	return h.Store(0)
}
