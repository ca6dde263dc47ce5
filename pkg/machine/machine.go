// Package machine models the halted 32-bit machine the monitor inspects:
// its physical memory, page table, saved register context and the
// introspection algorithms (page-table probing, frame-pointer unwinding,
// range dumping) that the console commands drive.
package machine

import (
	"github.com/go-kmon/kmon/pkg/memlayout"
)

// Registers is the saved execution context of the machine at the moment it
// halted.
type Registers struct {
	EIP uint32
	ESP uint32
	EBP uint32
}

// Machine is a halted machine image. The page table and physical memory are
// shared mutable state with no locking: the monitor owns the machine for the
// duration of a command and nothing mutates it concurrently.
type Machine struct {
	Mem    *PhysMemory
	Layout memlayout.Layout
	Regs   Registers

	pageDir uint32
}

// New returns a Machine backed by mem with the page directory at physical
// address pageDir.
func New(mem *PhysMemory, layout memlayout.Layout, pageDir uint32, regs Registers) *Machine {
	if layout.NPages == 0 {
		layout.NPages = mem.NPages()
	}
	if layout.KernBase == 0 {
		layout.KernBase = memlayout.DefaultKernBase
	}
	return &Machine{Mem: mem, Layout: layout, Regs: regs, pageDir: pageDir}
}

// PageDir returns the physical address of the page directory.
func (m *Machine) PageDir() uint32 { return m.pageDir }

// PageTable returns a walker over the machine's page table.
func (m *Machine) PageTable() *PageTable {
	return NewPageTable(m.Mem, m.pageDir, m.Layout)
}

// VirtMemory returns a reader that resolves virtual addresses through the
// page table before touching physical memory. Reads spanning an unmapped
// page fail with NoMappingError.
func (m *Machine) VirtMemory() MemoryReader {
	return virtMemory{m}
}

type virtMemory struct {
	m *Machine
}

func (v virtMemory) ReadMemory(buf []byte, addr uint32) (int, error) {
	pt := v.m.PageTable()
	total := 0
	for len(buf) > 0 {
		entry, err := pt.Probe(addr)
		if err != nil {
			return total, err
		}
		if !entry.Present {
			return total, NoMappingError{Addr: addr}
		}
		n := memlayout.PageSize - memlayout.PageOffset(addr)
		if n > uint32(len(buf)) {
			n = uint32(len(buf))
		}
		pa := entry.PhysAddr | memlayout.PageOffset(addr)
		if _, err := v.m.Mem.ReadMemory(buf[:n], pa); err != nil {
			return total, err
		}
		buf = buf[n:]
		addr += n
		total += int(n)
	}
	return total, nil
}
