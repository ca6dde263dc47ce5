package machine_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kmon/kmon/pkg/machine"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

func TestSnapshotRoundTrip(t *testing.T) {
	mem := machine.NewPhysMemory(8)
	if err := machine.WriteUint32(mem, 0x1234, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	regs := machine.Registers{EIP: 0xf0100052, ESP: 0xf0117000, EBP: 0xf0117010}
	m := machine.New(mem, memlayout.Layout{KernBase: 0xf0000000, NPages: 8}, 0x1000, regs)

	path := filepath.Join(t.TempDir(), "halted.kmon")
	if err := m.WriteSnapshot(path); err != nil {
		t.Fatal(err)
	}

	m2, err := machine.LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Mem.NPages() != 8 || m2.PageDir() != 0x1000 || m2.Regs != regs {
		t.Errorf("snapshot round trip lost state: npages=%d pgdir=%#x regs=%+v", m2.Mem.NPages(), m2.PageDir(), m2.Regs)
	}
	if m2.Layout.KernBase != 0xf0000000 {
		t.Errorf("KernBase = %#x", m2.Layout.KernBase)
	}
	if v, err := machine.ReadUint32(m2.Mem, 0x1234); err != nil || v != 0xdeadbeef {
		t.Errorf("memory content lost: %#x, %v", v, err)
	}
}

func TestLoadSnapshotBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus")
	if err := os.WriteFile(path, []byte("this is not a snapshot at all, not even close"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := machine.LoadSnapshot(path)
	if !errors.Is(err, machine.ErrNotASnapshot) {
		t.Errorf("err = %v, want ErrNotASnapshot", err)
	}
}

// A valid-looking header must not be trusted: the claimed page count is
// checked against the file size before any memory is allocated, so a tiny
// file claiming 2^32-1 pages fails cleanly instead of attempting a huge
// allocation.
func TestLoadSnapshotHeaderLies(t *testing.T) {
	writeHeader := func(t *testing.T, npages uint32) string {
		t.Helper()
		var buf bytes.Buffer
		buf.WriteString("KMON")
		for _, w := range []uint32{1, npages, 0xf0000000, 0x1000, 0, 0, 0} {
			if err := binary.Write(&buf, binary.LittleEndian, w); err != nil {
				t.Fatal(err)
			}
		}
		path := filepath.Join(t.TempDir(), "lying.kmon")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	for _, npages := range []uint32{0xffffffff, 8} {
		_, err := machine.LoadSnapshot(writeHeader(t, npages))
		if err == nil || !strings.Contains(err.Error(), "truncated snapshot") {
			t.Errorf("npages=%#x: err = %v, want truncated snapshot", npages, err)
		}
	}
}
