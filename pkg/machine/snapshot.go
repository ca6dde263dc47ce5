package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kmon/kmon/pkg/logflags"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

// Snapshot file layout: a little-endian header followed by the raw contents
// of physical memory.
type snapHeader struct {
	Magic    [4]byte
	Version  uint32
	NPages   uint32
	KernBase uint32
	PageDir  uint32
	EIP      uint32
	ESP      uint32
	EBP      uint32
}

var snapMagic = [4]byte{'K', 'M', 'O', 'N'}

const snapVersion = 1

// ErrNotASnapshot is returned when a file does not start with the snapshot
// magic.
var ErrNotASnapshot = errors.New("not a kernel snapshot file")

// LoadSnapshot reads a halted-machine image from path.
func LoadSnapshot(path string) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var h snapHeader
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, ErrNotASnapshot
	}
	if h.Magic != snapMagic {
		return nil, ErrNotASnapshot
	}
	if h.Version != snapVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	// The page count comes from an untrusted file; check it against the
	// file's actual size before allocating anything.
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if need := int64(binary.Size(h)) + int64(h.NPages)*memlayout.PageSize; fi.Size() < need {
		return nil, fmt.Errorf("truncated snapshot: %d pages need %d bytes, file has %d", h.NPages, need, fi.Size())
	}

	mem := NewPhysMemory(h.NPages)
	if _, err := io.ReadFull(f, mem.data); err != nil {
		return nil, fmt.Errorf("truncated snapshot: %v", err)
	}

	logflags.MachineLogger().Debugf("loaded snapshot %s: %d pages, pgdir 0x%08x, ebp 0x%08x", path, h.NPages, h.PageDir, h.EBP)

	layout := memlayout.Layout{KernBase: h.KernBase, NPages: h.NPages}
	regs := Registers{EIP: h.EIP, ESP: h.ESP, EBP: h.EBP}
	return New(mem, layout, h.PageDir, regs), nil
}

// WriteSnapshot saves the machine image to path.
func (m *Machine) WriteSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := snapHeader{
		Magic:    snapMagic,
		Version:  snapVersion,
		NPages:   m.Mem.NPages(),
		KernBase: m.Layout.KernBase,
		PageDir:  m.pageDir,
		EIP:      m.Regs.EIP,
		ESP:      m.Regs.ESP,
		EBP:      m.Regs.EBP,
	}
	if err := binary.Write(f, binary.LittleEndian, &h); err != nil {
		return err
	}
	if _, err := f.Write(m.Mem.data); err != nil {
		return err
	}
	return f.Sync()
}
