package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitLines splits document text into lines, accepting both "\n" and "\r\n".
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Parse classifies every line of the document top-down.
func Parse(lines []string) *Script {
	script := &Script{Lines: make([]Line, 0, len(lines))}
	var st CommentState
	for i, raw := range lines {
		var line Line
		var issues []CommentIssue
		line, st, issues = Classify(i, raw, st)
		script.Lines = append(script.Lines, line)
		script.Comments = append(script.Comments, issues...)
	}
	if st.Depth > 0 {
		script.Comments = append(script.Comments, CommentIssue{Position: st.Open, Unterminated: true})
	}
	return script
}

func ParseText(text string) *Script {
	return Parse(SplitLines(text))
}

// Classify strips carried comment state from raw and determines its kind.
func Classify(index int, raw string, st CommentState) (Line, CommentState, []CommentIssue) {
	stripped, st, issues := Strip(index, raw, st)
	text := strings.TrimSpace(stripped)
	line := Line{Index: index, Raw: raw}

	switch {
	case text == "":
		line.Kind = KindBlank
		return line, st, issues
	case strings.HasPrefix(text, "//"):
		line.Kind = KindComment
		line.Text = text
		return line, st, issues
	}

	if i := strings.Index(text, "//"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	line.Text = text

	fields := strings.Fields(text)
	switch fields[0] {
	case "start":
		line.Kind = KindStart
	case "end":
		line.Kind = KindEnd
	case "repeat":
		line.Kind = KindRepeat
		parseRepeat(&line, fields)
	default:
		parseFramebulk(&line)
	}
	return line, st, issues
}

func (l *Line) column(s string) int {
	if i := strings.Index(l.Raw, s); i >= 0 {
		return i + 1
	}
	return 1
}

func parseRepeat(l *Line, fields []string) {
	value := ""
	if len(fields) > 1 {
		value = strings.Join(fields[1:], " ")
	}
	n, err := strconv.Atoi(value)
	if len(fields) != 2 || err != nil || n < 0 || !isDigits(value) {
		col := 1
		if value != "" {
			col = l.column(value)
		}
		l.Err = &LineError{
			Position: Position{Line: l.Index + 1, Column: col},
			Field:    "iteration count",
			Value:    value,
		}
		return
	}
	l.Iterations = n
}

func parseFramebulk(l *Line) {
	text := l.Text
	if n := strings.Count(text, "|"); n != 4 {
		l.Kind = KindInvalid
		l.Err = fmt.Errorf("%d:%d: expected 4 '|' separators, found %d", l.Index+1, l.column(text), n)
		return
	}
	l.Kind = KindFramebulk

	pipe := strings.IndexByte(text, '|')
	gt := strings.IndexByte(text, '>')
	if gt < 0 || gt > pipe {
		l.Err = &LineError{
			Position: Position{Line: l.Index + 1, Column: l.column(text)},
			Field:    "tick",
			Value:    strings.TrimSpace(text[:pipe]),
		}
	} else {
		field := strings.TrimSpace(text[:gt])
		digits := strings.TrimPrefix(field, "+")
		n, err := strconv.Atoi(digits)
		if err != nil || !isDigits(digits) {
			l.Err = &LineError{
				Position: Position{Line: l.Index + 1, Column: l.column(field)},
				Field:    "tick",
				Value:    field,
			}
		} else {
			l.Tick = TickField{Value: n, Relative: strings.HasPrefix(field, "+")}
		}
	}

	segment := text[strings.LastIndexByte(text, '|')+1:]
	offset := l.column(segment)
	for _, part := range strings.Split(segment, ";") {
		args := strings.Fields(part)
		if len(args) == 0 {
			continue
		}
		col := offset
		if i := strings.Index(segment, part); i >= 0 {
			col = offset + i + len(part) - len(strings.TrimLeft(part, " \t"))
		}
		l.Tools = append(l.Tools, ToolInvocation{
			Position: Position{Line: l.Index + 1, Column: col},
			Name:     args[0],
			Args:     args[1:],
		})
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
