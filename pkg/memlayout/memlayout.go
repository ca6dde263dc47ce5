// Package memlayout describes the memory layout of the inspected 32-bit
// machine: page sizes, page-table index arithmetic, permission bits and the
// kernel's physical-to-virtual window.
package memlayout

const (
	// PageShift is log2(PageSize).
	PageShift = 12
	// PageSize is the size in bytes of one page.
	PageSize = 1 << PageShift

	// PTShift is log2 of the region covered by one page-directory entry.
	PTShift = 22
	// PTSize is the amount of virtual memory mapped by a single
	// second-level page table (4 MiB).
	PTSize = 1 << PTShift

	// NPDEntries and NPTEntries are the number of entries in the page
	// directory and in a page table.
	NPDEntries = 1024
	NPTEntries = 1024

	// EntrySize is the size in bytes of a page-table entry.
	EntrySize = 4
)

// Page-table entry flag bits.
const (
	PtePresent  = 0x001
	PteWritable = 0x002
	PteUser     = 0x004

	// PermMask covers all permission and status bits of an entry.
	PermMask = 0xfff
)

// DefaultKernBase is the virtual address at which the kernel maps physical
// address zero.
const DefaultKernBase uint32 = 0xf0000000

// PDX returns the page-directory index of a virtual address.
func PDX(va uint32) uint32 { return (va >> PTShift) & (NPDEntries - 1) }

// PTX returns the page-table index of a virtual address.
func PTX(va uint32) uint32 { return (va >> PageShift) & (NPTEntries - 1) }

// PageOffset returns the offset of a virtual address within its page.
func PageOffset(va uint32) uint32 { return va & (PageSize - 1) }

// PageAddr builds a virtual address from a directory index, a table index
// and a page offset. Indexes beyond the table size carry into the next
// level, which is what the range dumper relies on to find chunk boundaries.
func PageAddr(dir, tab, off uint32) uint32 {
	return (dir << PTShift) + (tab << PageShift) + off
}

// PteAddr extracts the physical frame address from a page-table entry.
func PteAddr(pte uint32) uint32 { return pte &^ PermMask }

// Layout carries the machine-specific layout parameters every inspector
// needs: where the kernel window starts and how much physical memory is
// installed.
type Layout struct {
	// KernBase is the lowest kernel virtual address; physical memory is
	// mapped there contiguously.
	KernBase uint32
	// NPages is the number of installed physical pages.
	NPages uint32
}

// MaxPhys returns the highest physical address, exclusive.
func (l Layout) MaxPhys() uint32 { return l.NPages * PageSize }

// KernWindow returns the size of the kernel-mapped physical window: the
// amount of physical memory reachable through KernBase before virtual
// addresses wrap.
func (l Layout) KernWindow() uint32 { return ^uint32(0) - l.KernBase + 1 }

// KVirt translates a physical address into the kernel window.
func (l Layout) KVirt(pa uint32) uint32 { return pa + l.KernBase }

// KPhys translates a kernel-window virtual address back to physical.
func (l Layout) KPhys(va uint32) uint32 { return va - l.KernBase }
