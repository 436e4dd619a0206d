package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/p2tas-community/p2tas-dev-tools/internal/config"
	"github.com/p2tas-community/p2tas-dev-tools/internal/formatter"
	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/lsp/cache"
	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
	"github.com/p2tas-community/p2tas-dev-tools/internal/relay"
	"github.com/p2tas-community/p2tas-dev-tools/internal/validator"
)

const (
	CommandInsertTick = "p2tas.relativeFromAbsoluteTick"
	CommandPlay       = "p2tas.play"
	CommandStop       = "p2tas.stop"
	CommandConnect    = "p2tas.connect"
	CommandDisconnect = "p2tas.disconnect"
)

var (
	// Output receives every message the server sends.
	Output io.Writer = os.Stdout

	GlobalSession *cache.Session
	GlobalConfig  = config.Defaults()
	Relay         *relay.Client

	// ErrInsideLoop is returned by the tick insertion command for a line
	// inside a repeat block.
	ErrInsideLoop = errors.New("this command can't be used inside a repeat block")

	outMu      sync.Mutex
	nextID     int
	shutdown   bool
	relayWait  = 5 * time.Second
	errExiting = errors.New("exit")

	currentMu   sync.Mutex
	currentFile string
)

type jsonRpcResponse struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result"`
	Error   *JsonRpcError `json:"error,omitempty"`
}

type jsonRpcErrorResponse struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Error   *JsonRpcError `json:"error"`
}

type jsonRpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func session() *cache.Session {
	if GlobalSession == nil {
		GlobalSession = cache.NewSession("default", ".", nil)
	}
	return GlobalSession
}

func relayClient() *relay.Client {
	if Relay == nil {
		Relay = relay.New(GlobalConfig.Relay.Address)
	}
	return Relay
}

// RunServer serves the protocol on in until "exit" or end of input. It
// returns an error when the client exits without a prior shutdown.
func RunServer(in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		msg, err := readMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				logger.Printf("Error reading message: %v", err)
				respondError(nil, codeParseError, err.Error())
				continue
			}
			return err
		}

		if err := HandleMessage(msg); errors.Is(err, errExiting) {
			if !shutdown {
				return errors.New("exit without shutdown")
			}
			return nil
		}
	}
}

func readMessage(reader *bufio.Reader) (*JsonRpcMessage, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &contentLength); err == nil {
			continue
		}
	}
	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}

	var msg JsonRpcMessage
	err := json.Unmarshal(body, &msg)
	return &msg, err
}

// HandleMessage dispatches one decoded message.
func HandleMessage(msg *JsonRpcMessage) error {
	if msg.Method == "" {
		// Response to a request we sent, e.g. workspace/applyEdit.
		if msg.Error != nil {
			logger.Printf("Client error for request %v: %s", msg.ID, msg.Error.Message)
		}
		return nil
	}
	logger.Debugf("lsp: %s", msg.Method)

	switch msg.Method {
	case "initialize":
		var params InitializeParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				respondError(msg.ID, codeInvalidParams, err.Error())
				return nil
			}
		}
		respond(msg.ID, HandleInitialize(params))
	case "initialized":
	case "shutdown":
		shutdown = true
		if Relay != nil {
			Relay.Disconnect()
		}
		respond(msg.ID, nil)
	case "exit":
		return errExiting
	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			HandleDidOpen(params)
		}
	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			HandleDidChange(params)
		}
	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			HandleDidClose(params)
		}
	case "textDocument/hover":
		var params HoverParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			respondError(msg.ID, codeInvalidParams, err.Error())
			return nil
		}
		respond(msg.ID, HandleHover(params))
	case "textDocument/completion":
		var params CompletionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			respondError(msg.ID, codeInvalidParams, err.Error())
			return nil
		}
		respond(msg.ID, HandleCompletion(params))
	case "textDocument/inlayHint":
		var params InlayHintParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			respondError(msg.ID, codeInvalidParams, err.Error())
			return nil
		}
		respond(msg.ID, HandleInlayHint(params))
	case "textDocument/formatting":
		var params DocumentFormattingParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			respondError(msg.ID, codeInvalidParams, err.Error())
			return nil
		}
		respond(msg.ID, HandleFormatting(params))
	case "workspace/executeCommand":
		var params ExecuteCommandParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			respondError(msg.ID, codeInvalidParams, err.Error())
			return nil
		}
		res, err := HandleExecuteCommand(params)
		if err != nil {
			var perr paramError
			if errors.As(err, &perr) {
				respondError(msg.ID, codeInvalidParams, err.Error())
			} else {
				respondError(msg.ID, codeRequestFailed, err.Error())
			}
			showMessage(messageError, err.Error())
			return nil
		}
		respond(msg.ID, res)
	default:
		if msg.ID != nil {
			respondError(msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
		}
	}
	return nil
}

func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" || u.Host != "" {
		return strings.TrimPrefix(uri, "file://")
	}
	return u.Path
}

func HandleInitialize(params InitializeParams) map[string]any {
	root := params.RootPath
	if params.RootURI != "" {
		root = uriToPath(params.RootURI)
	}
	if root == "" {
		root = "."
	}

	cfg, err := config.LoadFrom(root)
	if err != nil {
		logger.Printf("Config error: %v", err)
		cfg = config.Defaults()
		cfg.Root = root
	}
	GlobalConfig = cfg
	logger.SetLevel(cfg.Logging.Level)

	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Printf("Tool catalogue error: %v", err)
		catalog = nil
	}
	GlobalSession = cache.NewSession("default", cfg.Root, catalog)
	logger.Printf("Initialized session %s for workspace %s", GlobalSession.ID(), cfg.Root)

	return map[string]any{
		"capabilities": map[string]any{
			"textDocumentSync": 2, // Incremental
			"hoverProvider":    true,
			"completionProvider": map[string]any{
				"triggerCharacters": []string{" "},
			},
			"inlayHintProvider":          true,
			"documentFormattingProvider": true,
			"executeCommandProvider": map[string]any{
				"commands": []string{CommandInsertTick, CommandPlay, CommandStop, CommandConnect, CommandDisconnect},
			},
		},
		"serverInfo": map[string]any{"name": "p2tas-lsp"},
	}
}

func HandleDidOpen(params DidOpenTextDocumentParams) {
	doc := session().Open(params.TextDocument.URI, params.TextDocument.Version, params.TextDocument.Text)
	focus(doc.URI)
	publishDiagnostics(doc)
}

func HandleDidChange(params DidChangeTextDocumentParams) {
	uri := params.TextDocument.URI
	text := ""
	if doc, ok := session().Document(uri); ok {
		text = doc.Text
	}
	for _, change := range params.ContentChanges {
		if change.Range == nil {
			text = change.Text
			continue
		}
		r := change.Range
		text = cache.Apply(text, r.Start.Line, r.Start.Character, r.End.Line, r.End.Character, change.Text)
	}
	doc := session().Open(uri, params.TextDocument.Version, text)
	publishDiagnostics(doc)
}

func HandleDidClose(params DidCloseTextDocumentParams) {
	session().Close(params.TextDocument.URI)
	notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []LSPDiagnostic{},
	})
}

func publishDiagnostics(doc *cache.Document) {
	v := validator.NewValidator(doc.Script(), session().Catalog(), uriToPath(doc.URI))
	v.Validate()

	diags := make([]LSPDiagnostic, 0, len(v.Diagnostics))
	for _, d := range v.Diagnostics {
		severity := 1
		if d.Level == validator.LevelWarning {
			severity = 2
		}
		line := d.Position.Line - 1
		text := doc.LineText(line)
		start := min(max(d.Position.Column-1, 0), len(text))
		end := cache.UTF16Len(text)
		start = cache.UTF16Len(text[:start])
		diags = append(diags, LSPDiagnostic{
			Range: Range{
				Start: Position{Line: line, Character: start},
				End:   Position{Line: line, Character: end},
			},
			Severity: severity,
			Code:     d.Code,
			Source:   "p2tas",
			Message:  d.Message,
		})
	}

	notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
		URI:         doc.URI,
		Version:     doc.Version,
		Diagnostics: diags,
	})
}

// HandleHover reports the tick of a framebulk when the cursor is on its tick
// field.
func HandleHover(params HoverParams) *Hover {
	doc, ok := session().Document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	line := doc.Script().Line(params.Position.Line)
	if line == nil || line.Kind != parser.KindFramebulk {
		return nil
	}
	gt := strings.IndexByte(line.Raw, '>')
	if gt < 0 || cache.ByteOffset(line.Raw, params.Position.Character) >= gt {
		return nil
	}
	focus(doc.URI)

	res, err := doc.Tick(params.Position.Line)
	if err != nil {
		logger.Debugf("lsp: hover %s:%d: %v", doc.URI, params.Position.Line, err)
		return nil
	}
	return &Hover{
		Contents: MarkupContent{
			Kind:  "plaintext",
			Value: res.String(),
		},
	}
}

// HandleCompletion offers command names, or a command's arguments when the
// text before the cursor ends with "<command> ".
func HandleCompletion(params CompletionParams) *CompletionList {
	doc, ok := session().Document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	catalog := session().Catalog()
	text := doc.LineText(params.Position.Line)
	text = text[:cache.ByteOffset(text, params.Position.Character)]

	if strings.HasSuffix(text, "start ") {
		return argumentItems(catalog.Start)
	}
	for _, name := range catalog.Names() {
		if strings.HasSuffix(text, name+" ") {
			tool, _ := catalog.Tool(name)
			return argumentItems(tool.Args)
		}
	}

	items := []CompletionItem{{Label: "start", Kind: completionKindKeyword}}
	for _, name := range catalog.Names() {
		tool, _ := catalog.Tool(name)
		items = append(items, CompletionItem{
			Label:         name,
			Kind:          completionKindFunction,
			Documentation: tool.Doc,
		})
	}
	return &CompletionList{Items: items}
}

func argumentItems(args []string) *CompletionList {
	items := make([]CompletionItem, 0, len(args))
	for _, a := range args {
		items = append(items, CompletionItem{Label: a, Kind: completionKindMethod})
	}
	return &CompletionList{Items: items}
}

// HandleInlayHint lists the active tools at the end of every line in range.
func HandleInlayHint(params InlayHintParams) []InlayHint {
	doc, ok := session().Document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	script := doc.Script()
	hints := []InlayHint{}
	for i := params.Range.Start.Line; i <= params.Range.End.Line && i < script.Len(); i++ {
		tools, err := doc.Tools(i)
		if err != nil || len(tools) == 0 {
			continue
		}
		hints = append(hints, InlayHint{
			Position:    Position{Line: i, Character: cache.UTF16Len(script.Lines[i].Raw)},
			Label:       "Active tools: " + strings.Join(tools, ", "),
			PaddingLeft: true,
		})
	}
	return hints
}

func HandleFormatting(params DocumentFormattingParams) []TextEdit {
	doc, ok := session().Document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	var sb strings.Builder
	formatter.Format(doc.Script(), &sb)

	last := doc.Script().Len() - 1
	return []TextEdit{{
		Range: Range{
			Start: Position{},
			End:   Position{Line: last, Character: cache.UTF16Len(doc.LineText(last))},
		},
		NewText: sb.String(),
	}}
}

type paramError struct{ msg string }

func (e paramError) Error() string { return e.msg }

// HandleExecuteCommand runs a workspace command. The tick insertion command
// also asks the client to apply the returned edit.
func HandleExecuteCommand(params ExecuteCommandParams) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), relayWait)
	defer cancel()

	switch params.Command {
	case CommandInsertTick:
		var uri string
		var line, tick int
		if len(params.Arguments) != 3 ||
			json.Unmarshal(params.Arguments[0], &uri) != nil ||
			json.Unmarshal(params.Arguments[1], &line) != nil ||
			json.Unmarshal(params.Arguments[2], &tick) != nil {
			return nil, paramError{"expected arguments [uri, line, absoluteTick]"}
		}
		edit, err := InsertRelativeTick(uri, line, tick)
		if err != nil {
			return nil, err
		}
		request("workspace/applyEdit", ApplyWorkspaceEditParams{Label: "Insert framebulk", Edit: *edit})
		return edit, nil
	case CommandPlay:
		var uri string
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments[0], &uri); err != nil {
				return nil, paramError{"expected arguments [uri]"}
			}
			focus(uri)
		}
		if err := relayClient().Play(ctx, scriptName(CurrentFile())); err != nil {
			return nil, err
		}
	case CommandStop:
		if err := relayClient().Stop(ctx); err != nil {
			return nil, err
		}
	case CommandConnect:
		if err := relayClient().Connect(ctx); err != nil {
			return nil, err
		}
		showMessage(messageInfo, "Connected to game")
	case CommandDisconnect:
		relayClient().Disconnect()
	default:
		return nil, paramError{"unknown command " + params.Command}
	}
	return nil, nil
}

// InsertRelativeTick builds the edit inserting a framebulk that runs at tick
// on a new line after line.
func InsertRelativeTick(uri string, line, tick int) (*WorkspaceEdit, error) {
	doc, ok := session().Document(uri)
	if !ok {
		return nil, fmt.Errorf("document %s is not open", uri)
	}
	script := doc.Script()
	if script.Line(line) == nil {
		return nil, paramError{fmt.Sprintf("line %d out of range", line)}
	}

	prev, err := doc.Tick(line)
	if err != nil {
		return nil, err
	}
	if prev.InLoop {
		return nil, ErrInsideLoop
	}
	delta := tick - prev.Tick
	if delta <= 0 {
		return nil, fmt.Errorf("expected tick greater than %d", prev.Tick)
	}

	framebulk := fmt.Sprintf("+%d>||||", delta)
	var edit TextEdit
	if line+1 < script.Len() {
		pos := Position{Line: line + 1}
		edit = TextEdit{Range: Range{Start: pos, End: pos}, NewText: framebulk + "\n"}
	} else {
		pos := Position{Line: line, Character: cache.UTF16Len(doc.LineText(line))}
		edit = TextEdit{Range: Range{Start: pos, End: pos}, NewText: "\n" + framebulk}
	}
	return &WorkspaceEdit{Changes: map[string][]TextEdit{uri: {edit}}}, nil
}

// scriptName is the name the game resolves scripts by.
func scriptName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// focus records the script the editor last worked on.
func focus(uri string) {
	path := uriToPath(uri)
	currentMu.Lock()
	currentFile = path
	currentMu.Unlock()
	if GlobalPanel != nil {
		GlobalPanel.SetFilename(path)
	}
}

// CurrentFile returns the path of the script the editor last focused.
func CurrentFile() string {
	currentMu.Lock()
	defer currentMu.Unlock()
	return currentFile
}

func respond(id any, result any) {
	send(jsonRpcResponse{Jsonrpc: "2.0", ID: id, Result: result})
}

func respondError(id any, code int, message string) {
	send(jsonRpcErrorResponse{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &JsonRpcError{Code: code, Message: message},
	})
}

func notify(method string, params any) {
	send(jsonRpcRequest{Jsonrpc: "2.0", Method: method, Params: params})
}

func request(method string, params any) {
	outMu.Lock()
	nextID++
	id := nextID
	outMu.Unlock()
	send(jsonRpcRequest{Jsonrpc: "2.0", ID: id, Method: method, Params: params})
}

func showMessage(typ int, message string) {
	notify("window/showMessage", ShowMessageParams{Type: typ, Message: message})
}

func send(msg any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		logger.Printf("Error encoding message: %v", err)
		return
	}
	body := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(Output, "Content-Length: %d\r\n\r\n%s", len(body), body)
}
