package formatter

import (
	"io"
	"strings"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

const indentUnit = "    "

type Formatter struct {
	writer io.Writer
	depth  int
	state  parser.CommentState
}

// Format writes the normalized form of script to w. Lines touching a
// multiline comment are copied verbatim apart from trailing whitespace.
func Format(script *parser.Script, w io.Writer) {
	f := &Formatter{writer: w}
	for i := range script.Lines {
		if i > 0 {
			io.WriteString(w, "\n")
		}
		f.formatLine(&script.Lines[i])
	}
}

func FormatText(text string) string {
	var sb strings.Builder
	Format(parser.ParseText(text), &sb)
	return sb.String()
}

func fixComment(text string) string {
	if strings.HasPrefix(text, "//!") {
		return text
	}
	if len(text) > 2 && text[2] != ' ' && text[2] != '/' {
		return "// " + text[2:]
	}
	return text
}

func (f *Formatter) formatLine(l *parser.Line) {
	raw := strings.TrimRight(l.Raw, " \t")
	before := f.state
	_, f.state, _ = parser.Strip(l.Index, l.Raw, f.state)
	if before.Depth > 0 || strings.Contains(raw, "/*") || strings.Contains(raw, "*/") {
		io.WriteString(f.writer, raw)
		return
	}

	switch l.Kind {
	case parser.KindBlank:
		return
	case parser.KindComment:
		f.write(fixComment(l.Text), "")
	case parser.KindStart:
		f.write(strings.Join(strings.Fields(l.Text), " "), trailingComment(raw))
	case parser.KindRepeat:
		f.write(strings.Join(strings.Fields(l.Text), " "), trailingComment(raw))
		f.depth++
	case parser.KindEnd:
		if f.depth > 0 {
			f.depth--
		}
		f.write(strings.Join(strings.Fields(l.Text), " "), trailingComment(raw))
	case parser.KindFramebulk:
		f.write(formatFramebulk(l.Text), trailingComment(raw))
	default:
		f.write(strings.TrimSpace(raw), "")
	}
}

func (f *Formatter) write(text, comment string) {
	io.WriteString(f.writer, strings.Repeat(indentUnit, f.depth))
	io.WriteString(f.writer, text)
	if comment != "" {
		io.WriteString(f.writer, " "+comment)
	}
}

func trailingComment(raw string) string {
	if i := strings.Index(raw, "//"); i >= 0 {
		return fixComment(strings.TrimSpace(raw[i:]))
	}
	return ""
}

func formatFramebulk(text string) string {
	segs := strings.Split(text, "|")
	last := len(segs) - 1
	for i := 0; i < last; i++ {
		segs[i] = strings.Join(strings.Fields(segs[i]), " ")
	}

	var tools []string
	for _, part := range strings.Split(segs[last], ";") {
		if fields := strings.Fields(part); len(fields) > 0 {
			tools = append(tools, strings.Join(fields, " "))
		}
	}
	segs[last] = strings.Join(tools, "; ")
	return strings.Join(segs, "|")
}
