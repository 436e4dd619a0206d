package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/p2tas-community/p2tas-dev-tools/internal/analysis"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

type DiagnosticLevel int

const (
	LevelError DiagnosticLevel = iota
	LevelWarning
)

func (l DiagnosticLevel) String() string {
	if l == LevelWarning {
		return "WARNING"
	}
	return "ERROR"
}

const (
	CodeUnparseable      = "unparseable"
	CodeSyntax           = "syntax"
	CodeComment          = "comment"
	CodeUnmatchedEnd     = "unmatched_end"
	CodeUnclosedRepeat   = "unclosed_repeat"
	CodeAbsoluteInLoop   = "absolute_in_loop"
	CodeTickOrder        = "tick_order"
	CodeZeroDelta        = "zero_delta"
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidDuration  = "invalid_duration"
	CodeMissingArguments = "missing_arguments"
)

type Diagnostic struct {
	Level    DiagnosticLevel
	Code     string
	Message  string
	Position parser.Position
	File     string
}

type Validator struct {
	Diagnostics []Diagnostic
	Script      *parser.Script
	Catalog     *schema.Catalog
	File        string

	ignored map[int][]string
}

func NewValidator(script *parser.Script, catalog *schema.Catalog, file string) *Validator {
	if catalog == nil {
		catalog = schema.DefaultCatalog()
	}
	return &Validator{
		Script:  script,
		Catalog: catalog,
		File:    file,
		ignored: make(map[int][]string),
	}
}

// Validate checks script against catalog and returns the diagnostics.
func Validate(script *parser.Script, catalog *schema.Catalog) []Diagnostic {
	v := NewValidator(script, catalog, "")
	v.Validate()
	return v.Diagnostics
}

// Validate runs every check over the script. Diagnostics are sorted by position.
func (v *Validator) Validate() {
	v.collectPragmas()
	v.checkComments()
	v.checkLines()
	v.checkLoops()
	v.checkTickOrder()

	sort.SliceStable(v.Diagnostics, func(i, j int) bool {
		a, b := v.Diagnostics[i].Position, v.Diagnostics[j].Position
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

// collectPragmas reads "//!ignore(code)" comments. A pragma suppresses the
// named diagnostic on the next line that is not a comment.
func (v *Validator) collectPragmas() {
	var pending []string
	for i := range v.Script.Lines {
		line := &v.Script.Lines[i]
		if line.Kind == parser.KindComment {
			if code, ok := parsePragma(line.Text); ok {
				pending = append(pending, code)
			}
			continue
		}
		if line.Kind == parser.KindBlank {
			continue
		}
		if len(pending) > 0 {
			v.ignored[i+1] = pending
			pending = nil
		}
	}
}

func parsePragma(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "//!")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	rest, ok = strings.CutPrefix(rest, "ignore(")
	if !ok {
		return "", false
	}
	code, _, ok := strings.Cut(rest, ")")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(code), true
}

func (v *Validator) isSuppressed(code string, pos parser.Position) bool {
	for _, c := range v.ignored[pos.Line] {
		if c == code {
			return true
		}
	}
	return false
}

func (v *Validator) report(code string, level DiagnosticLevel, msg string, pos parser.Position) {
	if v.isSuppressed(code, pos) {
		return
	}
	v.Diagnostics = append(v.Diagnostics, Diagnostic{
		Level:    level,
		Code:     code,
		Message:  msg,
		Position: pos,
		File:     v.File,
	})
}

func linePos(l *parser.Line) parser.Position {
	col := len(l.Raw) - len(strings.TrimLeft(l.Raw, " \t")) + 1
	return parser.Position{Line: l.Index + 1, Column: col}
}

func (v *Validator) checkComments() {
	for _, c := range v.Script.Comments {
		if c.Unterminated {
			v.report(CodeComment, LevelWarning, "Unterminated multiline comment", c.Position)
		} else {
			v.report(CodeComment, LevelWarning, "'*/' without matching '/*'", c.Position)
		}
	}
}

func (v *Validator) checkLines() {
	for i := range v.Script.Lines {
		line := &v.Script.Lines[i]
		if line.Err != nil {
			var le *parser.LineError
			if errors.As(line.Err, &le) {
				v.report(CodeUnparseable, LevelError,
					fmt.Sprintf("Invalid %s '%s'", le.Field, le.Value), le.Position)
			} else {
				v.report(CodeSyntax, LevelError, trimPosition(line.Err.Error()), linePos(line))
			}
		}
		if !line.IsFramebulk() {
			continue
		}
		if line.Err == nil && line.Tick.Relative && line.Tick.Value == 0 {
			v.report(CodeZeroDelta, LevelWarning, "Framebulk with a tick delta of 0", linePos(line))
		}
		v.checkTools(line)
	}
}

func trimPosition(msg string) string {
	parts := strings.SplitN(msg, ": ", 2)
	if len(parts) == 2 && strings.Contains(parts[0], ":") {
		return parts[1]
	}
	return msg
}

func (v *Validator) checkTools(line *parser.Line) {
	for _, inv := range line.Tools {
		if _, ok := v.Catalog.Tool(inv.Name); !ok {
			v.report(CodeUnknownTool, LevelWarning, fmt.Sprintf("Unknown tool '%s'", inv.Name), inv.Position)
			continue
		}
		if len(inv.Args) == 0 {
			v.report(CodeMissingArguments, LevelWarning,
				fmt.Sprintf("Tool '%s' has no arguments and is ignored", inv.Name), inv.Position)
			continue
		}
		if _, _, err := v.Catalog.Duration(inv); err != nil {
			v.report(CodeInvalidDuration, LevelError, trimPosition(err.Error()), inv.Position)
		}
	}
}

func (v *Validator) checkLoops() {
	var open []*parser.Line
	for i := range v.Script.Lines {
		line := &v.Script.Lines[i]
		switch line.Kind {
		case parser.KindRepeat:
			open = append(open, line)
		case parser.KindEnd:
			if len(open) == 0 {
				v.report(CodeUnmatchedEnd, LevelError, "'end' without matching 'repeat'", linePos(line))
				continue
			}
			open = open[:len(open)-1]
		case parser.KindFramebulk:
			if len(open) > 0 && line.Err == nil && !line.Tick.Relative {
				v.report(CodeAbsoluteInLoop, LevelError,
					fmt.Sprintf("Absolute tick %d inside a repeat block", line.Tick.Value), linePos(line))
			}
		}
	}
	for _, line := range open {
		v.report(CodeUnclosedRepeat, LevelError, "'repeat' without matching 'end'", linePos(line))
	}
}

// checkTickOrder reports absolute framebulks that would run before the
// framebulks preceding them.
func (v *Validator) checkTickOrder() {
	depth := 0
	for i := range v.Script.Lines {
		line := &v.Script.Lines[i]
		switch line.Kind {
		case parser.KindRepeat:
			depth++
		case parser.KindEnd:
			if depth > 0 {
				depth--
			}
		case parser.KindFramebulk:
			if depth > 0 || i == 0 || line.Err != nil || line.Tick.Relative {
				continue
			}
			prev, err := analysis.TickForLine(v.Script, i-1)
			if err != nil {
				continue
			}
			if prev.Tick > line.Tick.Value {
				v.report(CodeTickOrder, LevelWarning,
					fmt.Sprintf("Tick %d is before the previous framebulk at tick %d", line.Tick.Value, prev.Tick),
					linePos(line))
			}
		}
	}
}
