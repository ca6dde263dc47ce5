package machine

import (
	"fmt"

	"github.com/go-kmon/kmon/pkg/addrutil"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

// UnitLen is the granularity at which the dumper reports content: one
// record per 4-byte word.
const UnitLen = 4

// AddressSpace selects how a dump range is interpreted.
type AddressSpace uint8

const (
	// Physical addresses are read straight out of installed memory.
	Physical AddressSpace = iota
	// Virtual addresses are resolved through the page table as the dump
	// advances.
	Virtual
)

func (s AddressSpace) String() string {
	if s == Physical {
		return "physical"
	}
	return "virtual"
}

// AddressRange is a span of addresses to dump. Start must be unit-aligned
// before iteration begins; the console rounds it down on the caller's
// behalf.
type AddressRange struct {
	Start  uint32
	Length uint32
	Space  AddressSpace
}

// RangeError reports a physical dump extending past installed memory. The
// whole dump is rejected before any record is produced.
type RangeError struct {
	Start  uint32
	Length uint32
	Max    uint32
}

func (e RangeError) Error() string {
	return fmt.Sprintf("range 0x%08x+0x%x exceeds installed memory (0x%08x)", e.Start, e.Length, e.Max)
}

// DumpRecord describes one dumped unit. For unmapped virtual units Mapped is
// false and PhysAddr and Content are meaningless.
type DumpRecord struct {
	Addr     uint32
	Mapped   bool
	PhysAddr uint32
	Content  uint32
}

// DumpIterator produces one record per unit over an address range, in
// ascending order. Virtual ranges are segmented at mapping-validity
// boundaries: a missing second-level table skips probing until the end of
// the containing 4 MiB region, a non-present entry until the end of the
// containing page, and a present entry supplies the physical frame for the
// whole page, so long ranges cost one probe per boundary instead of one per
// unit.
type DumpIterator struct {
	mem   *PhysMemory
	pt    *PageTable
	space AddressSpace

	cur, end uint32
	chunkEnd uint32
	mapped   bool
	physPage uint32

	rec DumpRecord
	err error
}

// NewDump validates r against m and returns an iterator over it. Physical
// ranges that extend past installed memory fail here with RangeError, before
// any record is produced.
func NewDump(m *Machine, r AddressRange) (*DumpIterator, error) {
	if r.Space == Physical {
		if r.Start+r.Length > m.Layout.MaxPhys() {
			return nil, RangeError{Start: r.Start, Length: r.Length, Max: m.Layout.MaxPhys()}
		}
		// Clamp to the kernel-mapped window: physical reads go through
		// the kernel's physical-to-virtual mapping, which covers only
		// the window above KernBase.
		end := addrutil.Min(r.Start+r.Length, m.Layout.KernWindow())
		return &DumpIterator{mem: m.Mem, space: Physical, cur: r.Start, end: end}, nil
	}
	return &DumpIterator{
		mem:   m.Mem,
		pt:    m.PageTable(),
		space: Virtual,
		cur:   r.Start,
		end:   r.Start + r.Length,
	}, nil
}

// Next advances to the next unit. It returns false at the end of the range
// or on a read failure; Err distinguishes the latter.
func (it *DumpIterator) Next() bool {
	if it.err != nil || it.cur >= it.end {
		return false
	}
	if it.space == Physical {
		content, err := ReadUint32(it.mem, it.cur)
		if err != nil {
			it.err = err
			return false
		}
		it.rec = DumpRecord{Addr: it.cur, Mapped: true, PhysAddr: it.cur, Content: content}
		it.cur += UnitLen
		return true
	}

	if it.cur >= it.chunkEnd {
		if err := it.advanceChunk(); err != nil {
			it.err = err
			return false
		}
	}
	if !it.mapped {
		it.rec = DumpRecord{Addr: it.cur}
		it.cur += UnitLen
		return true
	}
	pa := it.physPage | memlayout.PageOffset(it.cur)
	content, err := ReadUint32(it.mem, pa)
	if err != nil {
		it.err = err
		return false
	}
	it.rec = DumpRecord{Addr: it.cur, Mapped: true, PhysAddr: pa, Content: content}
	it.cur += UnitLen
	return true
}

// advanceChunk probes the table at the current address and extends the
// current chunk to the nearest boundary where mapping validity can change.
func (it *DumpIterator) advanceChunk() error {
	h, err := it.pt.Walk(it.cur, false)
	if err != nil {
		return err
	}
	if h == nil {
		// No second-level table: the entire containing 4 MiB region is
		// unmapped.
		it.chunkEnd = addrutil.Min(it.end, memlayout.PageAddr(memlayout.PDX(it.cur)+1, 0, 0))
		it.mapped = false
		return nil
	}
	pte, err := h.Load()
	if err != nil {
		return err
	}
	it.chunkEnd = addrutil.Min(it.end, memlayout.PageAddr(memlayout.PDX(it.cur), memlayout.PTX(it.cur)+1, 0))
	if pte&memlayout.PtePresent == 0 {
		it.mapped = false
		return nil
	}
	it.mapped = true
	it.physPage = memlayout.PteAddr(pte)
	return nil
}

// Record returns the record the iterator is pointing at.
func (it *DumpIterator) Record() DumpRecord {
	return it.rec
}

// Err returns the error encountered during iteration, if any.
func (it *DumpIterator) Err() error {
	return it.err
}
