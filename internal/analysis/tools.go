package analysis

import (
	"fmt"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

// Countdown tracks a duration-bound activation.
type Countdown struct {
	Remaining int
	Total     int
	StartTick int
}

type ActiveTool struct {
	Name      string
	Marker    bool
	Countdown *Countdown
}

func (t ActiveTool) String() string {
	switch {
	case t.Marker:
		return "(" + t.Name + ")"
	case t.Countdown != nil:
		return fmt.Sprintf("%s (%d ticks left)", t.Name, t.Countdown.Remaining)
	}
	return t.Name
}

// toolSet is an insertion-ordered map from tool name to its activation.
type toolSet struct {
	order []string
	tools map[string]*ActiveTool
}

func newToolSet() *toolSet {
	return &toolSet{tools: make(map[string]*ActiveTool)}
}

func (s *toolSet) has(name string) bool {
	_, ok := s.tools[name]
	return ok
}

func (s *toolSet) add(t *ActiveTool) {
	if s.has(t.Name) {
		return
	}
	s.order = append(s.order, t.Name)
	s.tools[t.Name] = t
}

func (s *toolSet) remove(name string) {
	if !s.has(name) {
		return
	}
	delete(s.tools, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *toolSet) list() []ActiveTool {
	res := make([]ActiveTool, 0, len(s.order))
	for _, name := range s.order {
		res = append(res, *s.tools[name])
	}
	return res
}

// ToolsForLine returns the display form of the tools active when execution
// arrives at the line at index.
func ToolsForLine(script *parser.Script, catalog *schema.Catalog, index int) ([]string, error) {
	active, err := ActiveToolsForLine(script, catalog, index)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(active))
	for i, t := range active {
		res[i] = t.String()
	}
	return res, nil
}

// ActiveToolsForLine replays framebulks from the top of the document up to
// index. Invocations on the line at index itself are not applied. Repeat
// blocks are replayed once; iteration counts are not taken into account.
func ActiveToolsForLine(script *parser.Script, catalog *schema.Catalog, index int) ([]ActiveTool, error) {
	if script.Line(index) == nil {
		return nil, fmt.Errorf("%w: %d", ErrLineRange, index)
	}

	set := newToolSet()
	for i := 0; i <= index; i++ {
		line := &script.Lines[i]
		if !line.IsFramebulk() {
			continue
		}
		if line.Err != nil {
			return nil, line.Err
		}

		set.advance(catalog, line.Tick)
		if i == index {
			break
		}

		for _, inv := range line.Tools {
			if err := set.apply(script, catalog, i, inv); err != nil {
				return nil, err
			}
		}
	}
	return set.list(), nil
}

func (s *toolSet) advance(catalog *schema.Catalog, tick parser.TickField) {
	names := append([]string(nil), s.order...)
	for _, name := range names {
		t := s.tools[name]
		c := t.Countdown
		if c == nil {
			continue
		}
		if tick.Relative {
			c.Remaining -= tick.Value
		} else {
			c.Remaining = c.Total - (tick.Value - c.StartTick)
		}
		if c.Remaining > 0 {
			continue
		}
		if catalog.KeepOnExpiry(name) {
			t.Countdown = nil
		} else {
			s.remove(name)
		}
	}
}

func (s *toolSet) apply(script *parser.Script, catalog *schema.Catalog, index int, inv parser.ToolInvocation) error {
	if len(inv.Args) == 0 {
		return nil
	}

	// A malformed duration falls through to plain activation; the validator
	// reports it.
	if ticks, ok, err := catalog.Duration(inv); err == nil && ok {
		start, err := TickForLine(script, index)
		if err != nil {
			return err
		}
		s.remove(inv.Name)
		s.add(&ActiveTool{
			Name:      inv.Name,
			Countdown: &Countdown{Remaining: ticks, Total: ticks, StartTick: start.Tick},
		})
		return nil
	}

	switch {
	case catalog.IsMarker(inv.Name):
		s.add(&ActiveTool{Name: inv.Name, Marker: true})
	case inv.Args[0] == "off":
		s.remove(inv.Name)
	default:
		s.add(&ActiveTool{Name: inv.Name})
	}
	return nil
}
