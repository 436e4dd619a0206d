package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/p2tas-community/p2tas-dev-tools/internal/analysis"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

// TicksPerSecond is the game's simulation rate.
const TicksPerSecond = 60

// Row is the resolved state of one framebulk line.
type Row struct {
	Line      int // 1-based
	Tick      int
	LoopStart int
	InLoop    bool
	Tools     []string
	Text      string
	Err       error
}

type Reporter struct {
	Catalog *schema.Catalog
}

func NewReporter(catalog *schema.Catalog) *Reporter {
	if catalog == nil {
		catalog = schema.DefaultCatalog()
	}
	return &Reporter{Catalog: catalog}
}

// Rows resolves every framebulk of script. Resolution errors are kept on the
// row rather than aborting the report.
func (r *Reporter) Rows(script *parser.Script) []Row {
	var rows []Row
	for i := range script.Lines {
		line := &script.Lines[i]
		if !line.IsFramebulk() {
			continue
		}
		row := Row{Line: i + 1, Text: strings.TrimSpace(line.Raw)}
		res, err := analysis.TickForLine(script, i)
		if err != nil {
			row.Err = err
			rows = append(rows, row)
			continue
		}
		row.Tick, row.LoopStart, row.InLoop = res.Tick, res.LoopStart, res.InLoop
		row.Tools, row.Err = analysis.ToolsForLine(script, r.Catalog, i)
		rows = append(rows, row)
	}
	return rows
}

// Write prints the rows of script as an aligned table.
func (r *Reporter) Write(w io.Writer, script *parser.Script) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tTICK\tTIME\tLOOP START\tACTIVE TOOLS\tFRAMEBULK")
	for _, row := range r.Rows(script) {
		if row.Err != nil {
			fmt.Fprintf(tw, "%d\t-\t-\t-\t%s\t%s\n", row.Line, row.Err, row.Text)
			continue
		}
		loop := "-"
		if row.InLoop {
			loop = fmt.Sprint(row.LoopStart)
		}
		tools := strings.Join(row.Tools, ", ")
		if tools == "" {
			tools = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", row.Line, row.Tick, FormatTime(row.Tick), loop, tools, row.Text)
	}
	return tw.Flush()
}

// FormatTime renders a tick count as game time.
func FormatTime(tick int) string {
	return fmt.Sprintf("%.3fs", float64(tick)/TicksPerSecond)
}
