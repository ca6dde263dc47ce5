package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/go-kmon/kmon/pkg/memlayout"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint32 address in
// the 32-bit machine being inspected.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint32) (n int, err error)
}

// MemoryReadWriter adds mutation to MemoryReader. The page table lives in
// this memory, so setperm goes through it.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint32, data []byte) (written int, err error)
}

// OutOfRangeError is returned for accesses outside installed physical
// memory.
type OutOfRangeError struct {
	Addr uint32
}

func (e OutOfRangeError) Error() string {
	return fmt.Sprintf("address 0x%08x outside installed physical memory", e.Addr)
}

// PhysMemory is the installed physical memory of the inspected machine.
type PhysMemory struct {
	data []byte
}

// NewPhysMemory returns a zeroed physical memory of npages pages.
func NewPhysMemory(npages uint32) *PhysMemory {
	return &PhysMemory{data: make([]byte, int(npages)*memlayout.PageSize)}
}

// NPages returns the number of installed pages.
func (m *PhysMemory) NPages() uint32 {
	return uint32(len(m.data) / memlayout.PageSize)
}

// Size returns the installed memory size in bytes.
func (m *PhysMemory) Size() uint32 {
	return uint32(len(m.data))
}

// ReadMemory implements MemoryReader over physical addresses.
func (m *PhysMemory) ReadMemory(buf []byte, addr uint32) (int, error) {
	if int64(addr)+int64(len(buf)) > int64(len(m.data)) {
		return 0, OutOfRangeError{Addr: addr}
	}
	copy(buf, m.data[addr:])
	return len(buf), nil
}

// WriteMemory implements MemoryReadWriter over physical addresses.
func (m *PhysMemory) WriteMemory(addr uint32, data []byte) (int, error) {
	if int64(addr)+int64(len(data)) > int64(len(m.data)) {
		return 0, OutOfRangeError{Addr: addr}
	}
	copy(m.data[addr:], data)
	return len(data), nil
}

// ReadUint32 reads one little-endian word at addr.
func ReadUint32(mem MemoryReader, addr uint32) (uint32, error) {
	var buf [4]byte
	if _, err := mem.ReadMemory(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes one little-endian word at addr.
func WriteUint32(mem MemoryReadWriter, addr, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := mem.WriteMemory(addr, buf[:])
	return err
}
