package symbols

import (
	"strings"
	"testing"
)

const testMap = `# kernel symbol map
f0100000 T entry kern/entry.S:44
f0100040 T i386_init kern/init.c:24
f01000c0 t mon_backtrace kern/monitor.c:59
f0117950 D kern_pgdir
`

func mustParse(t *testing.T, src string) *Table {
	t.Helper()
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestResolve(t *testing.T) {
	tbl := mustParse(t, testMap)
	if tbl.Count() != 3 {
		t.Fatalf("Count = %d, want 3", tbl.Count())
	}

	fi := tbl.Resolve(0xf0100052)
	if fi.Name != "i386_init" || fi.Start != 0xf0100040 {
		t.Errorf("Resolve(0xf0100052) = %+v", fi)
	}
	if fi.File != "kern/init.c" || fi.Line != 24 {
		t.Errorf("wrong location: %+v", fi)
	}

	// Exact start address resolves to the same function.
	if fi := tbl.Resolve(0xf0100040); fi.Name != "i386_init" {
		t.Errorf("Resolve at start = %+v", fi)
	}

	// Cached second lookup returns the same result.
	if fi2 := tbl.Resolve(0xf0100052); fi2 != fi {
		t.Errorf("cached Resolve = %+v, want %+v", fi2, fi)
	}
}

func TestResolveUnknown(t *testing.T) {
	tbl := mustParse(t, testMap)
	fi := tbl.Resolve(0xf00fffff) // below the first code symbol
	if fi.Name != "<unknown>" || fi.File != "<unknown>" {
		t.Errorf("placeholder = %+v", fi)
	}
	if fi.Start != 0xf00fffff {
		t.Errorf("placeholder Start = %#x, want the queried address", fi.Start)
	}
}

func TestLookupName(t *testing.T) {
	tbl := mustParse(t, testMap)
	addr, ok := tbl.LookupName("kern_pgdir")
	if !ok || addr != 0xf0117950 {
		t.Errorf("LookupName(kern_pgdir) = %#x, %v", addr, ok)
	}
	if _, ok := tbl.LookupName("nope"); ok {
		t.Error("LookupName(nope) should miss")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(strings.NewReader("zzzz T entry\n")); err == nil {
		t.Error("expected error for bad address")
	}
	if _, err := Parse(strings.NewReader("f0100000 entry\n")); err == nil {
		t.Error("expected error for missing field")
	}
}

func TestPlainNamesSurviveDemangling(t *testing.T) {
	tbl := mustParse(t, "f0100000 T mon_help kern/monitor.c:41\n")
	if fi := tbl.Resolve(0xf0100000); fi.Name != "mon_help" {
		t.Errorf("Name = %q, want mon_help", fi.Name)
	}
}
