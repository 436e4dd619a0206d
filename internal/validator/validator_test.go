package validator

import (
	"strings"
	"testing"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

func validate(lines ...string) []Diagnostic {
	v := NewValidator(parser.Parse(lines), nil, "test.p2tas")
	v.Validate()
	return v.Diagnostics
}

func findCode(diags []Diagnostic, code string) *Diagnostic {
	for i := range diags {
		if diags[i].Code == code {
			return &diags[i]
		}
	}
	return nil
}

func TestValidScript(t *testing.T) {
	diags := validate(
		"start now",
		"0>||||autojump on",
		"+10>||||strafe vec 0 250",
		"repeat 3",
		"    +5>||||",
		"end",
		"100>||||setang 0 90 20",
	)
	if len(diags) != 0 {
		t.Errorf("Expected no diagnostics, got %+v", diags)
	}
}

func TestUnparseableTick(t *testing.T) {
	diags := validate("start now", "+x>||||")
	d := findCode(diags, CodeUnparseable)
	if d == nil {
		t.Fatalf("Expected unparseable diagnostic, got %+v", diags)
	}
	if d.Level != LevelError {
		t.Errorf("Expected error level, got %s", d.Level)
	}
	if d.Position.Line != 2 {
		t.Errorf("Expected line 2, got %d", d.Position.Line)
	}
	if !strings.Contains(d.Message, "tick") {
		t.Errorf("Unexpected message %q", d.Message)
	}
	if d.File != "test.p2tas" {
		t.Errorf("Expected file to be set, got %q", d.File)
	}
}

func TestUnparseableIterations(t *testing.T) {
	diags := validate("repeat many", "+1>||||", "end")
	d := findCode(diags, CodeUnparseable)
	if d == nil || !strings.Contains(d.Message, "iteration count") {
		t.Errorf("Expected iteration count diagnostic, got %+v", diags)
	}
}

func TestWrongPipeCount(t *testing.T) {
	diags := validate("+1>|||")
	d := findCode(diags, CodeSyntax)
	if d == nil {
		t.Fatalf("Expected syntax diagnostic, got %+v", diags)
	}
	if !strings.Contains(d.Message, "found 3") {
		t.Errorf("Unexpected message %q", d.Message)
	}
}

func TestLoopStructure(t *testing.T) {
	diags := validate(
		"0>||||",
		"end",
		"repeat 2",
		"    +1>||||",
	)
	end := findCode(diags, CodeUnmatchedEnd)
	if end == nil || end.Position.Line != 2 {
		t.Errorf("Expected unmatched end at line 2, got %+v", diags)
	}
	rep := findCode(diags, CodeUnclosedRepeat)
	if rep == nil || rep.Position.Line != 3 {
		t.Errorf("Expected unclosed repeat at line 3, got %+v", diags)
	}
}

func TestAbsoluteInLoop(t *testing.T) {
	diags := validate(
		"0>||||",
		"repeat 2",
		"    10>||||",
		"end",
	)
	d := findCode(diags, CodeAbsoluteInLoop)
	if d == nil {
		t.Fatalf("Expected absolute tick diagnostic, got %+v", diags)
	}
	if d.Position.Column != 5 {
		t.Errorf("Expected column 5, got %d", d.Position.Column)
	}
}

func TestTickOrder(t *testing.T) {
	diags := validate(
		"0>||||",
		"+50>||||",
		"20>||||",
	)
	d := findCode(diags, CodeTickOrder)
	if d == nil {
		t.Fatalf("Expected tick order warning, got %+v", diags)
	}
	if d.Level != LevelWarning || d.Position.Line != 3 {
		t.Errorf("Unexpected diagnostic %+v", *d)
	}
	if !strings.Contains(d.Message, "50") {
		t.Errorf("Expected previous tick in message, got %q", d.Message)
	}
}

func TestZeroDelta(t *testing.T) {
	diags := validate("0>||||", "+0>||||")
	if d := findCode(diags, CodeZeroDelta); d == nil || d.Level != LevelWarning {
		t.Errorf("Expected zero delta warning, got %+v", diags)
	}
}

func TestToolChecks(t *testing.T) {
	diags := validate(
		"0>||||teleport on",
		"+1>||||autojump",
		"+1>||||setang 0 90 soon",
	)
	unknown := findCode(diags, CodeUnknownTool)
	if unknown == nil || unknown.Level != LevelWarning || unknown.Position.Line != 1 {
		t.Errorf("Expected unknown tool warning on line 1, got %+v", diags)
	}
	missing := findCode(diags, CodeMissingArguments)
	if missing == nil || missing.Position.Line != 2 {
		t.Errorf("Expected missing arguments warning on line 2, got %+v", diags)
	}
	dur := findCode(diags, CodeInvalidDuration)
	if dur == nil || dur.Level != LevelError || dur.Position.Line != 3 {
		t.Fatalf("Expected invalid duration error on line 3, got %+v", diags)
	}
	if strings.HasPrefix(dur.Message, "3:") {
		t.Errorf("Expected position to be trimmed from message, got %q", dur.Message)
	}
}

func TestNonPositiveDuration(t *testing.T) {
	diags := validate(
		"0>||||setang 0 90 -5",
		"+1>||||autoaim 1 2 3 0",
		"+1>||||setang 0 90 1",
	)
	var lines []int
	for _, d := range diags {
		if d.Code == CodeInvalidDuration {
			lines = append(lines, d.Position.Line)
		}
	}
	if len(lines) != 2 || lines[0] != 1 || lines[1] != 2 {
		t.Errorf("Expected invalid duration on lines 1 and 2, got %+v", diags)
	}
}

func TestCommentIssues(t *testing.T) {
	diags := validate("0>|||| */", "+1>||||", "/* open")
	count := 0
	for _, d := range diags {
		if d.Code == CodeComment {
			count++
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 comment diagnostics, got %+v", diags)
	}
}

func TestPragmaSuppression(t *testing.T) {
	diags := validate(
		"0>||||",
		"//!ignore(unknown_tool): custom plugin",
		"",
		"+1>||||teleport on",
		"+1>||||teleport off",
	)
	count := 0
	for _, d := range diags {
		if d.Code == CodeUnknownTool {
			count++
			if d.Position.Line != 5 {
				t.Errorf("Expected only line 5 to be reported, got line %d", d.Position.Line)
			}
		}
	}
	if count != 1 {
		t.Errorf("Expected 1 unknown tool diagnostic, got %d", count)
	}
}

func TestPragmaOtherCode(t *testing.T) {
	diags := validate(
		"0>||||",
		"//!ignore(zero_delta)",
		"+1>||||teleport on",
	)
	if findCode(diags, CodeUnknownTool) == nil {
		t.Error("Expected pragma for another code to leave the diagnostic in place")
	}
}

func TestDiagnosticsSorted(t *testing.T) {
	diags := validate(
		"end",
		"0>||||teleport on",
		"+x>||||",
	)
	for i := 1; i < len(diags); i++ {
		if diags[i].Position.Line < diags[i-1].Position.Line {
			t.Fatalf("Diagnostics not sorted: %+v", diags)
		}
	}
}
