package schema

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

func inv(name string, args ...string) parser.ToolInvocation {
	return parser.ToolInvocation{Position: parser.Position{Line: 1, Column: 8}, Name: name, Args: args}
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	names := c.Names()
	expected := []string{"absmov", "autoaim", "autojump", "decel", "setang", "strafe"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Expected %v, got %v", expected, names)
	}
	if len(c.Start) == 0 || c.Start[0] != "now" {
		t.Errorf("Unexpected start arguments %v", c.Start)
	}
	if !c.KeepOnExpiry("autoaim") || c.KeepOnExpiry("setang") {
		t.Error("Only autoaim should keep its entry on expiry")
	}
	if !c.IsMarker("decel") || c.IsMarker("strafe") {
		t.Error("Only decel should be a marker")
	}

	tool, ok := c.Tool("autojump")
	if !ok || !reflect.DeepEqual(tool.Args, []string{"on", "off"}) || tool.Doc == "" {
		t.Errorf("Unexpected autojump entry %+v", tool)
	}
	if _, ok := c.Tool("noclip"); ok {
		t.Error("Expected noclip to be unknown")
	}
}

func TestDuration(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name  string
		inv   parser.ToolInvocation
		ticks int
		ok    bool
		err   bool
	}{
		{"setang four args", inv("setang", "0", "90", "0", "30"), 30, true, false},
		{"setang three args", inv("setang", "0", "90", "20"), 20, true, false},
		{"setang two args", inv("setang", "0", "90"), 0, false, false},
		{"autoaim", inv("autoaim", "1", "2", "3", "40"), 40, true, false},
		{"autoaim off", inv("autoaim", "off"), 0, false, false},
		{"bad duration", inv("setang", "0", "90", "0", "x"), 0, false, true},
		{"zero duration", inv("setang", "0", "90", "0"), 0, false, true},
		{"negative duration", inv("setang", "0", "90", "-5"), 0, false, true},
		{"not duration bound", inv("strafe", "vec", "1", "2", "3"), 0, false, false},
		{"unknown", inv("noclip", "1"), 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticks, ok, err := c.Duration(tt.inv)
			if (err != nil) != tt.err {
				t.Fatalf("Unexpected error state: %v", err)
			}
			if ticks != tt.ticks || ok != tt.ok {
				t.Errorf("Expected (%d, %v), got (%d, %v)", tt.ticks, tt.ok, ticks, ok)
			}
		})
	}

	_, _, err := c.Duration(inv("setang", "0", "90", "0", "x"))
	if err == nil || err.Error() != `1:8: invalid setang duration "x"` {
		t.Errorf("Unexpected error message: %v", err)
	}
	_, _, err = c.Duration(inv("autoaim", "1", "2", "3", "-5"))
	if err == nil || err.Error() != `1:8: invalid autoaim duration "-5"` {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestApply(t *testing.T) {
	c := DefaultCatalog()

	if err := c.Apply("strafe", map[string]any{"doc": "Custom."}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	strafe, _ := c.Tool("strafe")
	if strafe.Doc != "Custom." || len(strafe.Args) == 0 {
		t.Errorf("Expected doc override to keep args, got %+v", strafe)
	}

	if err := c.Apply("hold", map[string]any{"args": []any{"on", "off"}, "durationArity": []any{int64(1)}}); err != nil {
		t.Fatalf("Apply new tool failed: %v", err)
	}
	hold, ok := c.Tool("hold")
	if !ok || hold.Name != "hold" || !reflect.DeepEqual(hold.DurationArity, []int{1}) {
		t.Errorf("Unexpected new tool %+v", hold)
	}

	if err := c.Apply("decel", map[string]any{"marker": "yes"}); err == nil {
		t.Error("Expected error for non-bool marker")
	}
}

func TestLoadFullCatalog(t *testing.T) {
	t.Run("no root", func(t *testing.T) {
		c, err := LoadFullCatalog("")
		if err != nil || len(c.Tools) != len(DefaultCatalog().Tools) {
			t.Errorf("Expected default catalogue, got %v", err)
		}
	})

	t.Run("no project file", func(t *testing.T) {
		c, err := LoadFullCatalog(t.TempDir())
		if err != nil || len(c.Tools) != len(DefaultCatalog().Tools) {
			t.Errorf("Expected default catalogue, got %v", err)
		}
	})

	t.Run("project tool", func(t *testing.T) {
		root := t.TempDir()
		src := "tools: mytool: {args: [\"on\", \"off\"], doc: \"Mine.\"}\n"
		if err := os.WriteFile(filepath.Join(root, CatalogFileName), []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
		c, err := LoadFullCatalog(root)
		if err != nil {
			t.Fatalf("LoadFullCatalog failed: %v", err)
		}
		tool, ok := c.Tool("mytool")
		if !ok || tool.Doc != "Mine." || tool.Marker {
			t.Errorf("Unexpected project tool %+v", tool)
		}
		if _, ok := c.Tool("autojump"); !ok {
			t.Error("Expected built-in tools to remain")
		}
	})

	t.Run("conflicting project file", func(t *testing.T) {
		root := t.TempDir()
		src := "tools: autojump: {marker: \"maybe\"}\n"
		if err := os.WriteFile(filepath.Join(root, CatalogFileName), []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadFullCatalog(root)
		if err == nil || !strings.Contains(err.Error(), CatalogFileName) {
			t.Errorf("Expected error naming %s, got %v", CatalogFileName, err)
		}
	})
}
