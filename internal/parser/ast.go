package parser

import (
	"errors"
	"fmt"
)

type Position struct {
	Line   int
	Column int
}

type LineKind int

const (
	KindBlank LineKind = iota
	KindStart
	KindComment
	KindRepeat
	KindEnd
	KindFramebulk
	KindInvalid
)

func (k LineKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindStart:
		return "start"
	case KindComment:
		return "comment"
	case KindRepeat:
		return "repeat"
	case KindEnd:
		return "end"
	case KindFramebulk:
		return "framebulk"
	default:
		return "invalid"
	}
}

// ErrUnparseable marks a line whose numeric field could not be read.
var ErrUnparseable = errors.New("unparseable line")

type LineError struct {
	Position Position
	Field    string
	Value    string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%d:%d: invalid %s %q", e.Position.Line, e.Position.Column, e.Field, e.Value)
}

func (e *LineError) Unwrap() error { return ErrUnparseable }

type TickField struct {
	Value    int
	Relative bool
}

type ToolInvocation struct {
	Position Position
	Name     string
	Args     []string
}

// Line is one classified document line. Text is the content left after
// comment stripping and trimming.
type Line struct {
	Index      int
	Raw        string
	Text       string
	Kind       LineKind
	Iterations int
	Tick       TickField
	Tools      []ToolInvocation
	Err        error
}

// Ignorable reports whether the line contributes nothing to tick or tool state.
func (l *Line) Ignorable() bool {
	return l.Kind == KindBlank || l.Kind == KindStart || l.Kind == KindComment
}

func (l *Line) IsFramebulk() bool { return l.Kind == KindFramebulk }

// Script is a top-down classification of a document snapshot.
type Script struct {
	Lines    []Line
	Comments []CommentIssue
}

func (s *Script) Len() int { return len(s.Lines) }

func (s *Script) Line(i int) *Line {
	if i < 0 || i >= len(s.Lines) {
		return nil
	}
	return &s.Lines[i]
}

// CommentIssue is a malformed multiline comment token.
type CommentIssue struct {
	Position     Position
	Unterminated bool
}
