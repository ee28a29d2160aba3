package health

import (
	"fmt"
	"testing"
)

func TestDiagnosticsKeywords(t *testing.T) {
	tests := []struct {
		line  string
		match bool
	}{
		{"[error] rtsp://cam: Connection refused", true},
		{"[info] Stream #0:0: Video: h264", false},
		{"Operation TIMED OUT", true},
		{"[warning] Failed to parse SEI", true},
		{"frame=120", false},
		{"connection refused by peer", true},
	}
	d := NewDiagnostics(DefaultKeywords, 10)
	for _, tt := range tests {
		if got := d.Scan(tt.line); got != tt.match {
			t.Errorf("Scan(%q) = %v, want %v", tt.line, got, tt.match)
		}
	}
	if d.Matches() != 4 {
		t.Errorf("matches = %d, want 4", d.Matches())
	}
}

func TestDiagnosticsStickyError(t *testing.T) {
	d := NewDiagnostics(DefaultKeywords, 10)
	if _, ok := d.Error(); ok {
		t.Fatal("error set before any line")
	}
	d.Scan("  [error] first problem ")
	d.Scan("[error] second problem")
	d.Scan("[info] recovered")

	msg, ok := d.Error()
	if !ok || msg != "[error] first problem" {
		t.Errorf("error = %q, %v", msg, ok)
	}

	d.Reset()
	if _, ok := d.Error(); ok {
		t.Error("error survived Reset")
	}
	if len(d.Tail()) != 0 {
		t.Error("tail survived Reset")
	}
}

func TestDiagnosticsTailWraps(t *testing.T) {
	d := NewDiagnostics(nil, 3)
	for i := 1; i <= 5; i++ {
		d.HandleLine("stderr", fmt.Sprintf("line %d", i))
	}
	tail := d.Tail()
	want := []string{"line 3", "line 4", "line 5"}
	if len(tail) != len(want) {
		t.Fatalf("tail = %v", tail)
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Errorf("tail[%d] = %q, want %q", i, tail[i], want[i])
		}
	}

	d2 := NewDiagnostics(nil, 3)
	d2.Scan("only")
	if got := d2.Tail(); len(got) != 1 || got[0] != "only" {
		t.Errorf("partial tail = %v", got)
	}
}
