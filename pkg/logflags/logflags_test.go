package logflags

import "testing"

func TestSetup(t *testing.T) {
	if err := Setup(true, "monitor,machine"); err != nil {
		t.Fatal(err)
	}
	if !Monitor() || !Machine() || Symbols() {
		t.Errorf("wrong flags after Setup: monitor=%v machine=%v symbols=%v", Monitor(), Machine(), Symbols())
	}
	if err := Setup(true, "bogus"); err == nil {
		t.Error("expected error for unknown component")
	}
	if err := Setup(false, "monitor"); err == nil {
		t.Error("expected error for --log-output without --log")
	}
}
