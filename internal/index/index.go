package index

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/p2tas-community/p2tas-dev-tools/internal/analysis"
	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
	"github.com/p2tas-community/p2tas-dev-tools/internal/validator"
)

// Extension is the file extension of TAS scripts.
const Extension = ".p2tas"

// ScriptSummary describes one script of a project.
type ScriptSummary struct {
	Path       string
	Lines      int
	Framebulks int
	TotalTicks int
	Loops      int
	Tools      []string
	Errors     int
	Warnings   int
}

// ScanDirectory analyses every script below rootPath. Paths in the result
// are relative to rootPath and sorted. Hidden directories are skipped.
func ScanDirectory(rootPath string, catalog *schema.Catalog) ([]ScriptSummary, error) {
	if catalog == nil {
		catalog = schema.DefaultCatalog()
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != rootPath && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), Extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make(chan ScriptSummary, len(files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8) // Limit concurrency

	for _, f := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			logger.Debugf("indexing: %s", path)
			content, err := os.ReadFile(path)
			if err != nil {
				logger.Printf("indexing %s: %v", path, err)
				return
			}
			sum := Summarize(parser.ParseText(string(content)), catalog)
			if rel, err := filepath.Rel(rootPath, path); err == nil {
				path = rel
			}
			sum.Path = filepath.ToSlash(path)
			results <- sum
		}(f)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var summaries []ScriptSummary
	for res := range results {
		summaries = append(summaries, res)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries, nil
}

// Summarize computes the summary of a parsed script. Path is left empty.
func Summarize(script *parser.Script, catalog *schema.Catalog) ScriptSummary {
	sum := ScriptSummary{Lines: script.Len()}
	seen := make(map[string]bool)
	for i := range script.Lines {
		line := &script.Lines[i]
		switch line.Kind {
		case parser.KindRepeat:
			sum.Loops++
		case parser.KindFramebulk:
			sum.Framebulks++
			for _, inv := range line.Tools {
				if !seen[inv.Name] {
					seen[inv.Name] = true
					sum.Tools = append(sum.Tools, inv.Name)
				}
			}
		}
	}
	sort.Strings(sum.Tools)

	if n := script.Len(); n > 0 {
		if res, err := analysis.TickForLine(script, n-1); err == nil {
			sum.TotalTicks = res.Tick
		}
	}

	for _, d := range validator.Validate(script, catalog) {
		if d.Level == validator.LevelError {
			sum.Errors++
		} else {
			sum.Warnings++
		}
	}
	return sum
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
