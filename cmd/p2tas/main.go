package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/p2tas-community/p2tas-dev-tools/internal/config"
	"github.com/p2tas-community/p2tas-dev-tools/internal/formatter"
	"github.com/p2tas-community/p2tas-dev-tools/internal/index"
	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/lsp"
	"github.com/p2tas-community/p2tas-dev-tools/internal/mcpserver"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/relay"
	"github.com/p2tas-community/p2tas-dev-tools/internal/report"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
	"github.com/p2tas-community/p2tas-dev-tools/internal/validator"
)

func usage() {
	logger.Println("Usage: p2tas <command> [arguments]")
	logger.Println("Commands: lsp, mcp, check, fmt, ticks, index, play, stop, panel, init")
	logger.Println("  lsp [-panel]")
	logger.Println("  mcp")
	logger.Println("  check <script_files...>")
	logger.Println("  fmt [-d] <script_files...>")
	logger.Println("  ticks <script_file>")
	logger.Println("  index [-watch] [dir]")
	logger.Println("  play <script_file>")
	logger.Println("  stop")
	logger.Println("  panel [script_file]")
	logger.Println("  init [dir]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "lsp":
		runLSP(os.Args[2:])
	case "mcp":
		runMCP()
	case "check":
		runCheck(os.Args[2:])
	case "fmt":
		runFmt(os.Args[2:])
	case "ticks":
		runTicks(os.Args[2:])
	case "index":
		runIndex(os.Args[2:])
	case "play":
		runPlay(os.Args[2:])
	case "stop":
		runStop()
	case "panel":
		runPanel(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	default:
		logger.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

// loadConfig returns the configuration governing dir, falling back to the
// defaults on error.
func loadConfig(dir string) config.Config {
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		logger.Printf("Config error: %v\n", err)
		cfg = config.Defaults()
		cfg.Root = dir
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg
}

func loadCatalog(cfg config.Config) *schema.Catalog {
	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Printf("Tool catalogue error: %v\n", err)
		return schema.DefaultCatalog()
	}
	return catalog
}

func readScript(file string) (*parser.Script, string, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, "", err
	}
	text := string(content)
	return parser.ParseText(text), text, nil
}

func runLSP(args []string) {
	withPanel := len(args) > 0 && args[0] == "-panel"

	cfg := loadConfig(".")
	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(os.TempDir(), "p2tas-lsp.log")
	}
	closer := logger.SetFile(logFile)
	defer closer.Close()

	lsp.GlobalConfig = cfg
	lsp.Relay = relay.New(cfg.Relay.Address)
	var panel *lsp.ControlPanel
	if withPanel {
		panel = lsp.StartControlPanel(lsp.Relay, cfg.Panel.Port)
	}

	err := lsp.RunServer(os.Stdin)
	if panel != nil {
		panel.Close()
	}
	if err != nil {
		logger.Printf("Language server: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

func runMCP() {
	catalog := loadCatalog(loadConfig("."))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := mcpserver.Run(ctx, catalog); err != nil {
		logger.Fatalf("MCP server: %v", err)
	}
}

func runCheck(args []string) {
	if len(args) < 1 {
		logger.Println("Usage: p2tas check <script_files...>")
		os.Exit(1)
	}

	cfg := loadConfig(filepath.Dir(args[0]))
	catalog := loadCatalog(cfg)

	issues, errs := 0, 0
	for _, file := range args {
		script, _, err := readScript(file)
		if err != nil {
			logger.Printf("Error reading %s: %v\n", file, err)
			errs++
			continue
		}

		v := validator.NewValidator(script, catalog, file)
		v.Validate()
		for _, diag := range v.Diagnostics {
			fmt.Printf("%s:%d:%d: %s: %s\n", diag.File, diag.Position.Line, diag.Position.Column, diag.Level, diag.Message)
			issues++
			if diag.Level == validator.LevelError {
				errs++
			}
		}
	}

	if issues > 0 {
		logger.Printf("Found %d issues.\n", issues)
	} else {
		logger.Println("No issues found.")
	}
	if errs > 0 {
		os.Exit(1)
	}
}

func runFmt(args []string) {
	showDiff := len(args) > 0 && args[0] == "-d"
	if showDiff {
		args = args[1:]
	}
	if len(args) < 1 {
		logger.Println("Usage: p2tas fmt [-d] <script_files...>")
		os.Exit(1)
	}

	for _, file := range args {
		_, text, err := readScript(file)
		if err != nil {
			logger.Printf("Error reading %s: %v\n", file, err)
			continue
		}

		if showDiff {
			diff, err := formatter.Diff(file, text)
			if err != nil {
				logger.Printf("Error diffing %s: %v\n", file, err)
				continue
			}
			fmt.Print(diff)
			continue
		}

		formatted := formatter.FormatText(text)
		if formatted == text {
			continue
		}
		if err := os.WriteFile(file, []byte(formatted), 0644); err != nil {
			logger.Printf("Error writing %s: %v\n", file, err)
			continue
		}
		logger.Printf("Formatted %s\n", file)
	}
}

func runTicks(args []string) {
	if len(args) != 1 {
		logger.Println("Usage: p2tas ticks <script_file>")
		os.Exit(1)
	}

	script, _, err := readScript(args[0])
	if err != nil {
		logger.Fatalf("Error reading %s: %v", args[0], err)
	}
	catalog := loadCatalog(loadConfig(filepath.Dir(args[0])))
	if err := report.NewReporter(catalog).Write(os.Stdout, script); err != nil {
		logger.Fatalf("Error writing report: %v", err)
	}
}

func runIndex(args []string) {
	watch := len(args) > 0 && args[0] == "-watch"
	if watch {
		args = args[1:]
	}
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	cfg := loadConfig(root)
	catalog := loadCatalog(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := index.OpenStore(ctx, root)
	if err != nil {
		logger.Fatalf("Error opening index: %v", err)
	}
	defer store.Close()

	update := func(summaries []index.ScriptSummary) {
		if err := store.Replace(ctx, summaries); err != nil {
			logger.Printf("Error storing index: %v\n", err)
			return
		}
		printSummaries(summaries)
	}

	summaries, err := index.ScanDirectory(root, catalog)
	if err != nil {
		logger.Fatalf("Error scanning %s: %v", root, err)
	}
	update(summaries)
	logger.Printf("Indexed %d scripts into %s\n", len(summaries), store.Path())

	if watch {
		logger.Printf("Watching %s for changes\n", root)
		if err := index.Watch(ctx, root, catalog, update); err != nil {
			logger.Fatalf("Watch failed: %v", err)
		}
	}
}

func printSummaries(summaries []index.ScriptSummary) {
	for _, s := range summaries {
		fmt.Printf("%s: %s ticks (%s), %d framebulks, %d loops, %d errors, %d warnings\n",
			s.Path, humanize.Comma(int64(s.TotalTicks)), report.FormatTime(s.TotalTicks),
			s.Framebulks, s.Loops, s.Errors, s.Warnings)
	}
}

func relayCommand(fn func(context.Context, *relay.Client) error) {
	cfg := loadConfig(".")
	client := relay.New(cfg.Relay.Address)
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, client); err != nil {
		if errors.Is(err, relay.ErrNotConnected) {
			logger.Fatalf("Could not reach the game at %s: %v", cfg.Relay.Address, err)
		}
		logger.Fatalf("Error: %v", err)
	}
}

func runPlay(args []string) {
	if len(args) != 1 {
		logger.Println("Usage: p2tas play <script_file>")
		os.Exit(1)
	}
	name := filepath.Base(args[0])
	relayCommand(func(ctx context.Context, c *relay.Client) error {
		return c.Play(ctx, name)
	})
	logger.Printf("Playing %s\n", name)
}

func runStop() {
	relayCommand(func(ctx context.Context, c *relay.Client) error {
		return c.Stop(ctx)
	})
	logger.Println("Stopped playback")
}

func runPanel(args []string) {
	cfg := loadConfig(".")
	client := relay.New(cfg.Relay.Address)
	defer client.Disconnect()

	panel := lsp.NewControlPanel(client, cfg.Panel.Port)
	defer panel.Close()
	if len(args) > 0 {
		panel.SetFilename(args[0])
	}
	logger.Printf("Control panel on http://localhost:%d\n", cfg.Panel.Port)
	if err := panel.ListenAndServe(); err != nil {
		logger.Fatalf("Control panel: %v", err)
	}
}

func runInit(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Fatalf("Error creating project directory: %v", err)
	}

	files := map[string]string{
		config.FileName: "[relay]\naddress = \"" + config.DefaultRelayAddr + "\"\n\n" +
			"[panel]\nport = " + fmt.Sprint(config.DefaultPanelPort) + "\n\n" +
			"[logging]\nlevel = \"info\"\n",
		schema.CatalogFileName: "// Add project-specific tools here, for example:\n" +
			"// tools: mytool: {args: [\"on\", \"off\"], doc: \"My plugin tool.\"}\n",
		"example.p2tas": "start now\n" +
			"0>||||autojump on\n" +
			"repeat 3\n" +
			"    +20>||||strafe vec\n" +
			"end\n" +
			"+1>||||strafe off\n",
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			logger.Printf("Skipped %s (exists)\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Fatalf("Error creating file %s: %v", path, err)
		}
		logger.Printf("Created %s\n", path)
	}

	logger.Printf("Project initialized in %s\n", dir)
}
