// Package mcpserver exposes script analysis as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p2tas-community/p2tas-dev-tools/internal/analysis"
	"github.com/p2tas-community/p2tas-dev-tools/internal/formatter"
	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
	"github.com/p2tas-community/p2tas-dev-tools/internal/validator"
)

const (
	Name    = "p2tas"
	Version = "0.1.0"
)

var errNoScript = errors.New("either path or text is required")

// ScriptInput names a script by path or carries its text.
type ScriptInput struct {
	Path string `json:"path,omitempty" jsonschema:"path of a .p2tas script to read"`
	Text string `json:"text,omitempty" jsonschema:"script content, used when path is empty"`
}

type LineInput struct {
	Path string `json:"path,omitempty" jsonschema:"path of a .p2tas script to read"`
	Text string `json:"text,omitempty" jsonschema:"script content, used when path is empty"`
	Line int    `json:"line" jsonschema:"1-based line number"`
}

type TickOutput struct {
	Tick      int    `json:"tick"`
	LoopStart int    `json:"loopStart"`
	InLoop    bool   `json:"inLoop"`
	Display   string `json:"display"`
}

type ToolsOutput struct {
	Tools []string `json:"tools"`
}

type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidateOutput struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type FormatOutput struct {
	Text string `json:"text"`
}

// NewServer returns an MCP server resolving scripts against catalog, or the
// built-in catalogue when catalog is nil.
func NewServer(catalog *schema.Catalog) *mcp.Server {
	if catalog == nil {
		catalog = schema.DefaultCatalog()
	}
	h := &handlers{catalog: catalog}

	server := mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "tick_for_line",
		Description: "Resolve the absolute tick at which a script line executes.",
	}, h.tickForLine)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "tools_for_line",
		Description: "List the tools active when execution reaches a script line.",
	}, h.toolsForLine)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate",
		Description: "Report syntax and structure problems in a script.",
	}, h.validate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "format",
		Description: "Return the normalized form of a script.",
	}, h.format)
	return server
}

// Run serves on stdio until the client disconnects or ctx is cancelled.
func Run(ctx context.Context, catalog *schema.Catalog) error {
	return NewServer(catalog).Run(ctx, &mcp.StdioTransport{})
}

type handlers struct {
	catalog *schema.Catalog
}

func (in ScriptInput) load() (*parser.Script, string, error) {
	if in.Path != "" {
		content, err := os.ReadFile(in.Path)
		if err != nil {
			return nil, "", err
		}
		return parser.ParseText(string(content)), string(content), nil
	}
	if in.Text == "" {
		return nil, "", errNoScript
	}
	return parser.ParseText(in.Text), in.Text, nil
}

func (in LineInput) load() (*parser.Script, int, error) {
	script, _, err := ScriptInput{Path: in.Path, Text: in.Text}.load()
	if err != nil {
		return nil, 0, err
	}
	if in.Line < 1 || in.Line > script.Len() {
		return nil, 0, fmt.Errorf("line %d outside 1..%d", in.Line, script.Len())
	}
	return script, in.Line - 1, nil
}

func (h *handlers) tickForLine(ctx context.Context, req *mcp.CallToolRequest, in LineInput) (*mcp.CallToolResult, TickOutput, error) {
	script, index, err := in.load()
	if err != nil {
		return nil, TickOutput{}, err
	}
	res, err := analysis.TickForLine(script, index)
	if err != nil {
		return nil, TickOutput{}, err
	}
	logger.Debugf("mcp tick_for_line %d: %s", in.Line, res)
	return nil, TickOutput{Tick: res.Tick, LoopStart: res.LoopStart, InLoop: res.InLoop, Display: res.String()}, nil
}

func (h *handlers) toolsForLine(ctx context.Context, req *mcp.CallToolRequest, in LineInput) (*mcp.CallToolResult, ToolsOutput, error) {
	script, index, err := in.load()
	if err != nil {
		return nil, ToolsOutput{}, err
	}
	tools, err := analysis.ToolsForLine(script, h.catalog, index)
	if err != nil {
		return nil, ToolsOutput{}, err
	}
	if tools == nil {
		tools = []string{}
	}
	return nil, ToolsOutput{Tools: tools}, nil
}

func (h *handlers) validate(ctx context.Context, req *mcp.CallToolRequest, in ScriptInput) (*mcp.CallToolResult, ValidateOutput, error) {
	script, _, err := in.load()
	if err != nil {
		return nil, ValidateOutput{}, err
	}
	out := ValidateOutput{Diagnostics: []Diagnostic{}}
	for _, d := range validator.Validate(script, h.catalog) {
		out.Diagnostics = append(out.Diagnostics, Diagnostic{
			Line:    d.Position.Line,
			Column:  d.Position.Column,
			Level:   d.Level.String(),
			Code:    d.Code,
			Message: d.Message,
		})
	}
	return nil, out, nil
}

func (h *handlers) format(ctx context.Context, req *mcp.CallToolRequest, in ScriptInput) (*mcp.CallToolResult, FormatOutput, error) {
	_, text, err := in.load()
	if err != nil {
		return nil, FormatOutput{}, err
	}
	return nil, FormatOutput{Text: formatter.FormatText(text)}, nil
}
