package parser

import "strings"

// CommentState is carried from one line to the next during a top-down scan.
// Depth counts open "/*" spans, Unmatched counts "*/" tokens seen outside of
// any span. Open is where the outermost still-open span began.
type CommentState struct {
	Depth     int
	Unmatched int
	Open      Position
}

type stripper struct {
	input  string
	pos    int
	line   int
	state  CommentState
	out    strings.Builder
	issues []CommentIssue
}

// Strip removes multiline comment content from text. A "//" outside of any
// span ends scanning: the rest of the line is copied verbatim so callers can
// still tell a comment line apart from a blank one. line is 0-based.
func Strip(line int, text string, st CommentState) (string, CommentState, []CommentIssue) {
	s := &stripper{
		input: text,
		line:  line,
		state: st,
	}
	s.run()
	return s.out.String(), s.state, s.issues
}

func (s *stripper) accept(tok string) bool {
	if strings.HasPrefix(s.input[s.pos:], tok) {
		s.pos += len(tok)
		return true
	}
	return false
}

func (s *stripper) position(offset int) Position {
	return Position{Line: s.line + 1, Column: offset + 1}
}

func (s *stripper) run() {
	for s.pos < len(s.input) {
		start := s.pos
		if s.state.Depth > 0 {
			switch {
			case s.accept("/*"):
				s.state.Depth++
			case s.accept("*/"):
				s.state.Depth--
			default:
				s.pos++
			}
			continue
		}

		switch {
		case strings.HasPrefix(s.input[s.pos:], "//"):
			s.out.WriteString(s.input[s.pos:])
			s.pos = len(s.input)
		case s.accept("/*"):
			s.state.Depth = 1
			s.state.Open = s.position(start)
		case s.accept("*/"):
			s.state.Unmatched++
			s.issues = append(s.issues, CommentIssue{Position: s.position(start)})
		default:
			s.out.WriteByte(s.input[s.pos])
			s.pos++
		}
	}
}
