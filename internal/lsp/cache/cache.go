package cache

import (
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/p2tas-community/p2tas-dev-tools/internal/analysis"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

// Session holds the open documents of one editor connection and the
// project state they are analysed against.
type Session struct {
	id      string
	root    string
	catalog *schema.Catalog

	mu        sync.Mutex
	documents map[string]*Document
}

func NewSession(id, root string, catalog *schema.Catalog) *Session {
	if catalog == nil {
		catalog = schema.DefaultCatalog()
	}
	return &Session{
		id:        id,
		root:      root,
		catalog:   catalog,
		documents: make(map[string]*Document),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Root() string {
	return s.root
}

func (s *Session) Catalog() *schema.Catalog {
	return s.catalog
}

// Open stores a new version of a document, replacing any previous one and
// its memoized results.
func (s *Session) Open(uri string, version int, text string) *Document {
	doc := &Document{
		URI:     uri,
		Version: version,
		Text:    text,
		catalog: s.catalog,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[uri] = doc
	return doc
}

func (s *Session) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, uri)
}

func (s *Session) Document(uri string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[uri]
	return doc, ok
}

// Documents returns the text of every open document keyed by URI.
func (s *Session) Documents() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]string, len(s.documents))
	for uri, doc := range s.documents {
		res[uri] = doc.Text
	}
	return res
}

// Document is an immutable version of an open script. Tick and tool
// queries are memoized per line for the lifetime of the version.
type Document struct {
	URI     string
	Version int
	Text    string

	catalog *schema.Catalog

	once   sync.Once
	script *parser.Script

	mu    sync.Mutex
	ticks map[int]tickEntry
	tools map[int]toolsEntry
}

type tickEntry struct {
	res analysis.TickResult
	err error
}

type toolsEntry struct {
	res []string
	err error
}

func (d *Document) Script() *parser.Script {
	d.once.Do(func() {
		d.script = parser.ParseText(d.Text)
	})
	return d.script
}

// LineText returns the raw text of line, or "" when out of range.
func (d *Document) LineText(line int) string {
	if l := d.Script().Line(line); l != nil {
		return l.Raw
	}
	return ""
}

func (d *Document) Tick(line int) (analysis.TickResult, error) {
	script := d.Script()
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.ticks[line]; ok {
		return e.res, e.err
	}
	res, err := analysis.TickForLine(script, line)
	if d.ticks == nil {
		d.ticks = make(map[int]tickEntry)
	}
	d.ticks[line] = tickEntry{res, err}
	return res, err
}

func (d *Document) Tools(line int) ([]string, error) {
	script := d.Script()
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.tools[line]; ok {
		return e.res, e.err
	}
	res, err := analysis.ToolsForLine(script, d.catalog, line)
	if d.tools == nil {
		d.tools = make(map[int]toolsEntry)
	}
	d.tools[line] = toolsEntry{res, err}
	return res, err
}

// Cached reports whether results for line are memoized.
func (d *Document) Cached(line int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, t := d.ticks[line]
	_, u := d.tools[line]
	return t || u
}

// OffsetAt converts a zero-based line and UTF-16 column to a byte offset
// into Text. Positions past the end of a line clamp to its end.
func (d *Document) OffsetAt(line, character int) int {
	return offsetAt(d.Text, line, character)
}

func offsetAt(text string, line, character int) int {
	offset := 0
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
	}
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		end = len(text) - offset
	}
	return offset + ByteOffset(text[offset:offset+end], character)
}

// ByteOffset converts a UTF-16 column within line to a byte offset, clamped
// to the line length. A column inside a surrogate pair rounds up past the rune.
func ByteOffset(line string, units int) int {
	n := 0
	for i, r := range line {
		if n >= units {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(line)
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Apply returns text with the range replaced by newText.
func Apply(text string, startLine, startChar, endLine, endChar int, newText string) string {
	start := offsetAt(text, startLine, startChar)
	end := offsetAt(text, endLine, endChar)
	if end < start {
		end = start
	}
	return text[:start] + newText + text[end:]
}
