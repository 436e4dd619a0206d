package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

func TestRows(t *testing.T) {
	script := parser.ParseText(`start now
0>||||autojump on
repeat 4
    +20>||||strafe vec
end
+1>||||`)

	rows := NewReporter(nil).Rows(script)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}

	if rows[0].Line != 2 || rows[0].Tick != 0 || rows[0].InLoop {
		t.Errorf("Unexpected first row %+v", rows[0])
	}
	if rows[1].Tick != 20 || !rows[1].InLoop || rows[1].LoopStart != 0 {
		t.Errorf("Unexpected loop row %+v", rows[1])
	}
	if rows[2].Tick != 81 {
		t.Errorf("Expected tick 81, got %d", rows[2].Tick)
	}
	if strings.Join(rows[2].Tools, ",") != "autojump,strafe" {
		t.Errorf("Unexpected tools %v", rows[2].Tools)
	}
}

func TestRowsKeepErrors(t *testing.T) {
	script := parser.ParseText("0>||||\n+x>||||\n+1>||||")
	rows := NewReporter(nil).Rows(script)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if !errors.Is(rows[1].Err, parser.ErrUnparseable) {
		t.Errorf("Expected unparseable error on row 2, got %v", rows[1].Err)
	}
	if rows[2].Err == nil {
		t.Error("Expected error to propagate to later relative rows")
	}
}

func TestWrite(t *testing.T) {
	script := parser.ParseText("0>||||autojump on\n+60>||||")
	var buf bytes.Buffer
	if err := NewReporter(nil).Write(&buf, script); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "LINE") {
		t.Errorf("Expected header, got %q", lines[0])
	}
	if !strings.Contains(lines[2], "1.000s") || !strings.Contains(lines[2], "autojump") {
		t.Errorf("Unexpected row %q", lines[2])
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(90); got != "1.500s" {
		t.Errorf("Expected 1.500s, got %s", got)
	}
}
