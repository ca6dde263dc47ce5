package machine

import (
	"errors"
	"fmt"

	"github.com/go-kmon/kmon/pkg/addrutil"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

// NoMappingError is returned when an operation requires a present mapping at
// an address that has none. Mapping absence is a reportable state for the
// inspectors; only operations that must mutate an entry treat it as an
// error.
type NoMappingError struct {
	Addr uint32
}

func (e NoMappingError) Error() string {
	return fmt.Sprintf("no mapping at 0x%08x", e.Addr)
}

var errNoAlloc = errors.New("page table is read-only, cannot allocate entries")

// EntryHandle refers to one page-table entry stored in physical memory.
type EntryHandle struct {
	mem  MemoryReadWriter
	addr uint32
}

// Load reads the current entry value.
func (h *EntryHandle) Load() (uint32, error) {
	return ReadUint32(h.mem, h.addr)
}

// Store overwrites the entry value.
func (h *EntryHandle) Store(v uint32) error {
	return WriteUint32(h.mem, h.addr, v)
}

// MappingEntry is the result of probing one page.
type MappingEntry struct {
	Present        bool
	PhysAddr       uint32
	Writable       bool
	UserAccessible bool
}

// PageTable walks the inspected machine's two-level page table. The root is
// the physical address of the page directory.
type PageTable struct {
	mem    MemoryReadWriter
	root   uint32
	layout memlayout.Layout
}

// NewPageTable returns a PageTable reading the directory rooted at the
// physical address root.
func NewPageTable(mem MemoryReadWriter, root uint32, layout memlayout.Layout) *PageTable {
	return &PageTable{mem: mem, root: root, layout: layout}
}

// Root returns the physical address of the page directory.
func (pt *PageTable) Root() uint32 { return pt.root }

// Walk locates the page-table entry for va. It returns nil when no
// second-level table exists for the address. Lookups never allocate; create
// is refused.
func (pt *PageTable) Walk(va uint32, create bool) (*EntryHandle, error) {
	if create {
		return nil, errNoAlloc
	}
	pde, err := ReadUint32(pt.mem, pt.root+memlayout.PDX(va)*memlayout.EntrySize)
	if err != nil {
		return nil, err
	}
	if pde&memlayout.PtePresent == 0 {
		return nil, nil
	}
	return &EntryHandle{
		mem:  pt.mem,
		addr: memlayout.PteAddr(pde) + memlayout.PTX(va)*memlayout.EntrySize,
	}, nil
}

// Probe reports the mapping state of the page containing va.
//
// The page holding the directory itself is reported present with zero
// permissions even though no entry covers it: the directory is reachable
// through the kernel window by construction, and the monitor mirrors that
// bootstrap self-reference instead of reporting a hole.
func (pt *PageTable) Probe(va uint32) (MappingEntry, error) {
	h, err := pt.Walk(va, false)
	if err != nil {
		return MappingEntry{}, err
	}
	if h != nil {
		pte, err := h.Load()
		if err != nil {
			return MappingEntry{}, err
		}
		if pte&memlayout.PtePresent != 0 {
			return MappingEntry{
				Present:        true,
				PhysAddr:       memlayout.PteAddr(pte),
				Writable:       pte&memlayout.PteWritable != 0,
				UserAccessible: pte&memlayout.PteUser != 0,
			}, nil
		}
	}
	if addrutil.RoundDown(va, memlayout.PageSize) == pt.layout.KVirt(pt.root) {
		return MappingEntry{Present: true, PhysAddr: pt.root}, nil
	}
	return MappingEntry{}, nil
}

// SetPermission replaces the low 12 permission bits of the entry mapping va.
// The physical frame address is preserved and the present bit is asserted
// regardless of what the caller passed: this operation cannot unmap a page.
// If no present mapping covers va it fails with NoMappingError and the table
// is left unchanged.
func (pt *PageTable) SetPermission(va, perm uint32) error {
	h, err := pt.Walk(va, false)
	if err != nil {
		return err
	}
	if h == nil {
		return NoMappingError{Addr: va}
	}
	pte, err := h.Load()
	if err != nil {
		return err
	}
	if pte&memlayout.PtePresent == 0 {
		return NoMappingError{Addr: va}
	}
	return h.Store(memlayout.PteAddr(pte) | perm&memlayout.PermMask | memlayout.PtePresent)
}
