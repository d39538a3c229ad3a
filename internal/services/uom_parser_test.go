package services

import "testing"

func TestParsePackagingLines(t *testing.T) {
	lines := ParsePackagingLines("12 Crate\r\n1/2 Half\n3/0 Broken\n0 Empty\nCrate 12\n6  Six pack \n")
	want := []struct {
		ratio float64
		name  string
	}{
		{12, "Crate"},
		{0.5, "Half"},
		{6, "Six pack "},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines (%+v), want %d", len(lines), lines, len(want))
	}
	for i, w := range want {
		if lines[i].Ratio() != w.ratio || lines[i].Name != w.name {
			t.Errorf("line %d = %+v (ratio %v), want %v %q", i, lines[i], lines[i].Ratio(), w.ratio, w.name)
		}
	}
}

func TestParsePackagingLinesEmpty(t *testing.T) {
	if lines := ParsePackagingLines(""); len(lines) != 0 {
		t.Fatalf("got %+v", lines)
	}
}
