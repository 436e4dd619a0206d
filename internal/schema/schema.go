package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

//go:embed tools.cue
var defaultCatalogCUE []byte

// CatalogFileName is an optional CUE catalogue at the project root, unified
// with the built-in one.
const CatalogFileName = ".p2tas_tools.cue"

type Tool struct {
	Name          string   `json:"-"`
	Args          []string `json:"args"`
	DurationArity []int    `json:"durationArity"`
	KeepOnExpiry  bool     `json:"keepOnExpiry"`
	Marker        bool     `json:"marker"`
	Doc           string   `json:"doc"`
}

func (t Tool) fields() map[string]any {
	args := make([]any, len(t.Args))
	for i, a := range t.Args {
		args[i] = a
	}
	arity := make([]any, len(t.DurationArity))
	for i, n := range t.DurationArity {
		arity[i] = n
	}
	return map[string]any{
		"args":          args,
		"durationArity": arity,
		"keepOnExpiry":  t.KeepOnExpiry,
		"marker":        t.Marker,
		"doc":           t.Doc,
	}
}

// Catalog describes the tools a script may invoke and how the analysis
// treats each of them.
type Catalog struct {
	Tools map[string]Tool
	Start []string

	ctx  *cue.Context
	tool cue.Value
}

// LoadCatalog compiles and validates a CUE catalogue source.
func LoadCatalog(src []byte) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile catalogue: %s", errors.Details(err, nil))
	}
	return decodeCatalog(ctx, v)
}

func decodeCatalog(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid catalogue: %s", errors.Details(err, nil))
	}

	c := &Catalog{
		Tools: make(map[string]Tool),
		ctx:   ctx,
		tool:  v.LookupPath(cue.ParsePath("#Tool")),
	}
	if !c.tool.Exists() {
		return nil, fmt.Errorf("invalid catalogue: missing #Tool definition")
	}

	if start := v.LookupPath(cue.ParsePath("start")); start.Exists() {
		if err := start.Decode(&c.Start); err != nil {
			return nil, fmt.Errorf("invalid start arguments: %v", err)
		}
	}

	var tools map[string]Tool
	if err := v.LookupPath(cue.ParsePath("tools")).Decode(&tools); err != nil {
		return nil, fmt.Errorf("invalid tools: %v", err)
	}
	for name, t := range tools {
		t.Name = name
		c.Tools[name] = t
	}
	return c, nil
}

// DefaultCatalog returns the built-in embedded catalogue.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogCUE)
	if err != nil {
		panic(fmt.Sprintf("failed to parse default embedded catalogue: %v", err))
	}
	return c
}

// LoadFullCatalog returns the built-in catalogue unified with a project
// catalogue file when one exists under projectRoot.
func LoadFullCatalog(projectRoot string) (*Catalog, error) {
	if projectRoot == "" {
		return DefaultCatalog(), nil
	}
	extra, err := os.ReadFile(filepath.Join(projectRoot, CatalogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, err
	}

	ctx := cuecontext.New()
	base := ctx.CompileBytes(defaultCatalogCUE)
	proj := ctx.CompileBytes(extra)
	if err := proj.Err(); err != nil {
		return nil, fmt.Errorf("%s: %s", CatalogFileName, errors.Details(err, nil))
	}
	merged := base.Unify(proj)
	if err := merged.Err(); err != nil {
		return nil, fmt.Errorf("%s: %s", CatalogFileName, errors.Details(err, nil))
	}
	c, err := decodeCatalog(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CatalogFileName, err)
	}
	return c, nil
}

// Apply overrides fields of the named tool, adding it when unknown. The
// result is checked against the #Tool definition.
func (c *Catalog) Apply(name string, override map[string]any) error {
	base := Tool{}.fields()
	if t, ok := c.Tools[name]; ok {
		base = t.fields()
	}
	for k, v := range override {
		base[k] = v
	}

	v := c.ctx.Encode(base).Unify(c.tool)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("tool %s: %s", name, errors.Details(err, nil))
	}
	var t Tool
	if err := v.Decode(&t); err != nil {
		return fmt.Errorf("tool %s: %v", name, err)
	}
	t.Name = name
	c.Tools[name] = t
	return nil
}

func (c *Catalog) Tool(name string) (Tool, bool) {
	t, ok := c.Tools[name]
	return t, ok
}

// Names returns the tool names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duration reports the countdown carried by inv, if the invocation's tool is
// duration-bound and its argument count matches one of the tool's arities.
// ok is false for invocations without a countdown. A matching arity whose
// last argument is not a positive integer returns an error.
func (c *Catalog) Duration(inv parser.ToolInvocation) (ticks int, ok bool, err error) {
	t, found := c.Tools[inv.Name]
	if !found {
		return 0, false, nil
	}
	for _, n := range t.DurationArity {
		if len(inv.Args) != n {
			continue
		}
		last := inv.Args[len(inv.Args)-1]
		ticks, err := strconv.Atoi(last)
		if err != nil || ticks < 1 {
			return 0, false, fmt.Errorf("%d:%d: invalid %s duration %q", inv.Position.Line, inv.Position.Column, inv.Name, last)
		}
		return ticks, true, nil
	}
	return 0, false, nil
}

func (c *Catalog) KeepOnExpiry(name string) bool {
	return c.Tools[name].KeepOnExpiry
}

func (c *Catalog) IsMarker(name string) bool {
	return c.Tools[name].Marker
}
