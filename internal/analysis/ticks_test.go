package analysis

import (
	"errors"
	"strconv"
	"testing"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

func parse(lines ...string) *parser.Script {
	return parser.Parse(lines)
}

func TestTickForLineBasic(t *testing.T) {
	script := parse(
		"start now",
		"0>||||autojump on",
		"+10>||||strafe vec 0 250",
		"+5>||||",
	)

	res, err := TickForLine(script, 3)
	if err != nil {
		t.Fatalf("TickForLine failed: %v", err)
	}
	if res.Tick != 15 {
		t.Errorf("Expected tick 15, got %d", res.Tick)
	}
	if res.InLoop {
		t.Error("Expected no loop start outside of a repeat block")
	}
}

func TestTickForLineLoopFreeRunningSum(t *testing.T) {
	deltas := []int{3, 1, 7, 12, 1, 40}
	lines := []string{"start now", "100>||||"}
	for _, d := range deltas {
		lines = append(lines, "// step", "+"+strconv.Itoa(d)+">||||")
	}
	script := parse(lines...)

	expected := 100
	for i := 2; i < len(lines); i++ {
		if script.Lines[i].Kind == parser.KindFramebulk {
			expected += script.Lines[i].Tick.Value
		}
		res, err := TickForLine(script, i)
		if err != nil {
			t.Fatalf("Line %d: %v", i, err)
		}
		if res.Tick != expected {
			t.Errorf("Line %d: expected tick %d, got %d", i, expected, res.Tick)
		}
	}
}

func TestTickForLineAbsoluteTarget(t *testing.T) {
	script := parse("0>||||", "+5>||||", "250>||||")
	res, err := TickForLine(script, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tick != 250 || res.InLoop {
		t.Errorf("Expected self-describing tick 250, got %+v", res)
	}
}

func TestTickForLineNonFramebulkTarget(t *testing.T) {
	script := parse("0>||||", "+5>||||", "// comment", "")
	for _, i := range []int{2, 3} {
		res, err := TickForLine(script, i)
		if err != nil {
			t.Fatal(err)
		}
		if res.Tick != 5 {
			t.Errorf("Line %d: expected tick 5, got %d", i, res.Tick)
		}
	}
}

func TestTickForLineRepeat(t *testing.T) {
	script := parse(
		"start now",
		"0>||||",
		"repeat 4",
		"+20>||||",
		"end",
		"+1>||||",
	)

	after, err := TickForLine(script, 5)
	if err != nil {
		t.Fatal(err)
	}
	if after.Tick != 81 {
		t.Errorf("Expected tick 81 after loop, got %d", after.Tick)
	}
	if after.InLoop {
		t.Error("Line after the loop should not report a loop start")
	}

	inside, err := TickForLine(script, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !inside.InLoop {
		t.Fatal("Expected loop start inside repeat block")
	}
	if inside.LoopStart != 0 {
		t.Errorf("Expected loop start 0, got %d", inside.LoopStart)
	}
	if inside.Tick != 20 {
		t.Errorf("Expected tick 20 in first iteration, got %d", inside.Tick)
	}
	if inside.String() != "Tick: 20 (Repeat start: 0)" {
		t.Errorf("Unexpected rendering %q", inside.String())
	}
}

func TestTickForLineLoopStartOffset(t *testing.T) {
	script := parse(
		"100>||||",
		"+5>||||",
		"repeat 3",
		"+2>||||",
		"+8>||||",
		"end",
	)
	res, err := TickForLine(script, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tick != 115 || !res.InLoop || res.LoopStart != 105 {
		t.Errorf("Expected tick 115 with loop start 105, got %+v", res)
	}

	end, err := TickForLine(script, 5)
	if err != nil {
		t.Fatal(err)
	}
	if end.Tick != 135 || end.InLoop {
		t.Errorf("Expected tick 135 at end, got %+v", end)
	}
}

func TestTickForLineRepeatZero(t *testing.T) {
	withBlock := parse("0>||||", "+5>||||", "repeat 0", "+7>||||", "end", "+3>||||")
	withoutBlock := parse("0>||||", "+5>||||", "+3>||||")

	a, err := TickForLine(withBlock, 5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := TickForLine(withoutBlock, 2)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Expected repeat 0 to be transparent: %+v vs %+v", a, b)
	}
	if a.Tick != 8 {
		t.Errorf("Expected tick 8, got %d", a.Tick)
	}
}

func TestTickForLineNestedLoops(t *testing.T) {
	script := parse(
		"0>||||",
		"repeat 2",
		"repeat 3",
		"+4>||||",
		"end",
		"end",
		"+1>||||",
	)
	res, err := TickForLine(script, 6)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tick != 25 {
		t.Errorf("Expected 2*(3*4)+1 = 25, got %d", res.Tick)
	}
}

func TestTickForLineInsideNestedLoops(t *testing.T) {
	script := parse(
		"10>||||",
		"repeat 2",
		"repeat 3",
		"+4>||||",
		"end",
		"+1>||||",
		"end",
		"+2>||||",
	)

	tests := []struct {
		line      int
		tick      int
		inLoop    bool
		loopStart int
	}{
		{3, 14, true, 10},
		{5, 23, true, 10},
		{7, 38, false, 0},
	}
	for _, tt := range tests {
		res, err := TickForLine(script, tt.line)
		if err != nil {
			t.Fatalf("Line %d: %v", tt.line, err)
		}
		if res.Tick != tt.tick || res.InLoop != tt.inLoop || res.LoopStart != tt.loopStart {
			t.Errorf("Line %d: expected {%d %d %v}, got %+v", tt.line, tt.tick, tt.loopStart, tt.inLoop, res)
		}
	}
}

func TestTickForLineErrors(t *testing.T) {
	t.Run("unmatched end", func(t *testing.T) {
		script := parse("0>||||", "+1>||||", "end", "+2>||||")
		_, err := TickForLine(script, 3)
		if !errors.Is(err, ErrUnmatchedEnd) {
			t.Errorf("Expected ErrUnmatchedEnd, got %v", err)
		}
	})

	t.Run("unmatched end below absolute anchors", func(t *testing.T) {
		script := parse("0>||||", "+5>||||", "30>||||", "+1>||||", "end", "+2>||||")
		_, err := TickForLine(script, 5)
		if !errors.Is(err, ErrUnmatchedEnd) {
			t.Errorf("Expected ErrUnmatchedEnd, got %v", err)
		}
		if errors.Is(err, ErrAbsoluteInLoop) {
			t.Errorf("Did not expect ErrAbsoluteInLoop, got %v", err)
		}
	})

	t.Run("unmatched end below unparseable tick", func(t *testing.T) {
		script := parse("0>||||", "+x>||||", "end", "+2>||||")
		_, err := TickForLine(script, 3)
		if !errors.Is(err, ErrUnmatchedEnd) {
			t.Errorf("Expected ErrUnmatchedEnd, got %v", err)
		}
	})

	t.Run("nested absolute tick in loop", func(t *testing.T) {
		script := parse("0>||||", "repeat 2", "+1>||||", "repeat 3", "7>||||", "end", "end", "+1>||||")
		_, err := TickForLine(script, 7)
		if !errors.Is(err, ErrAbsoluteInLoop) {
			t.Errorf("Expected ErrAbsoluteInLoop, got %v", err)
		}
	})

	t.Run("unparseable tick", func(t *testing.T) {
		script := parse("0>||||", "+x>||||", "+2>||||")
		_, err := TickForLine(script, 2)
		if !errors.Is(err, parser.ErrUnparseable) {
			t.Errorf("Expected ErrUnparseable, got %v", err)
		}
	})

	t.Run("unparseable iterations", func(t *testing.T) {
		script := parse("0>||||", "repeat x", "+1>||||", "end", "+2>||||")
		_, err := TickForLine(script, 4)
		if !errors.Is(err, parser.ErrUnparseable) {
			t.Errorf("Expected ErrUnparseable, got %v", err)
		}
	})

	t.Run("absolute tick in loop", func(t *testing.T) {
		script := parse("0>||||", "repeat 2", "50>||||", "end", "+1>||||")
		_, err := TickForLine(script, 4)
		if !errors.Is(err, ErrAbsoluteInLoop) {
			t.Errorf("Expected ErrAbsoluteInLoop, got %v", err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		script := parse("0>||||")
		_, err := TickForLine(script, 3)
		if !errors.Is(err, ErrLineRange) {
			t.Errorf("Expected ErrLineRange, got %v", err)
		}
	})
}

func TestTickForLineIgnoresCommentedLines(t *testing.T) {
	script := parse(
		"0>||||",
		"/*",
		"+100>||||",
		"end",
		"*/",
		"+3>||||",
	)
	res, err := TickForLine(script, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tick != 3 {
		t.Errorf("Expected commented lines to be ignored, got tick %d", res.Tick)
	}
}
