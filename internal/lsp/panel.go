package lsp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/relay"
)

// PanelMessage is sent to and from the control panel page. Outgoing messages
// carry Status or CanPlay; incoming ones carry Type.
type PanelMessage struct {
	Type     string `json:"type,omitempty"`
	Status   string `json:"status,omitempty"`
	CanPlay  *bool  `json:"canPlay,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ControlPanel serves a page with playback controls for the game relay.
type ControlPanel struct {
	relay *relay.Client
	port  int

	unsubscribe func()
	forwarded   chan struct{}
	closeOnce   sync.Once

	mu       sync.Mutex
	filename string
	clients  map[*panelClient]bool
	server   *http.Server
}

type panelClient struct {
	conn *websocket.Conn
	send chan PanelMessage
}

var GlobalPanel *ControlPanel

var upgrader = websocket.Upgrader{
	// The page is served by this process on localhost.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewControlPanel(client *relay.Client, port int) *ControlPanel {
	p := &ControlPanel{
		relay:     client,
		port:      port,
		clients:   make(map[*panelClient]bool),
		forwarded: make(chan struct{}),
	}
	updates, unsubscribe := client.Subscribe()
	p.unsubscribe = unsubscribe
	go p.forwardStatus(updates)
	return p
}

// StartControlPanel serves the panel in the background and installs it as
// the panel the language server reports focused scripts to.
func StartControlPanel(client *relay.Client, port int) *ControlPanel {
	GlobalPanel = NewControlPanel(client, port)
	go func() {
		if err := GlobalPanel.ListenAndServe(); err != nil {
			logger.Printf("Control panel error: %v", err)
		}
	}()
	return GlobalPanel
}

func (p *ControlPanel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleIndex)
	mux.HandleFunc("/ws", p.handleWebSocket)
	return mux
}

// ListenAndServe blocks until the panel fails or is closed. It returns nil
// after Close.
func (p *ControlPanel) ListenAndServe() error {
	addr := fmt.Sprintf("localhost:%d", p.port)
	srv := &http.Server{Addr: addr, Handler: p.Handler()}
	p.mu.Lock()
	p.server = srv
	p.mu.Unlock()

	logger.Printf("Control panel serving on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the status subscription, the HTTP server and every open page
// connection.
func (p *ControlPanel) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.unsubscribe()

		p.mu.Lock()
		srv := p.server
		conns := make([]*websocket.Conn, 0, len(p.clients))
		for c := range p.clients {
			conns = append(conns, c.conn)
		}
		p.mu.Unlock()

		if srv != nil {
			err = srv.Close()
		}
		for _, conn := range conns {
			conn.Close()
		}
	})
	return err
}

// SetFilename selects the script played by the panel's play button.
func (p *ControlPanel) SetFilename(path string) {
	p.mu.Lock()
	changed := p.filename != path
	p.filename = path
	p.mu.Unlock()
	if changed {
		p.broadcast(p.playState())
	}
}

func (p *ControlPanel) Filename() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filename
}

func (p *ControlPanel) playState() PanelMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	canPlay := p.filename != ""
	return PanelMessage{CanPlay: &canPlay, Filename: scriptName(p.filename)}
}

func (p *ControlPanel) statusMessage() PanelMessage {
	status := relay.StatusDisconnected
	if p.relay.Connected() {
		status = relay.StatusConnected
	}
	return PanelMessage{Status: string(status)}
}

func (p *ControlPanel) forwardStatus(updates <-chan relay.Status) {
	defer close(p.forwarded)
	for s := range updates {
		p.broadcast(PanelMessage{Status: string(s)})
	}
}

func (p *ControlPanel) broadcast(msg PanelMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (p *ControlPanel) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	c := &panelClient{conn: conn, send: make(chan PanelMessage, 16)}
	c.send <- p.statusMessage()
	c.send <- p.playState()

	p.mu.Lock()
	p.clients[c] = true
	p.mu.Unlock()

	go p.writePump(c)
	p.readPump(c)
}

func (p *ControlPanel) writePump(c *panelClient) {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *ControlPanel) readPump(c *panelClient) {
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		close(c.send)
		p.mu.Unlock()
	}()
	for {
		var msg PanelMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Printf("WebSocket error: %v", err)
			}
			return
		}
		if err := p.handleMessage(msg); err != nil {
			select {
			case c.send <- PanelMessage{Error: err.Error()}:
			default:
			}
		}
	}
}

func (p *ControlPanel) handleMessage(msg PanelMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), relayWait)
	defer cancel()

	switch msg.Type {
	case "playTas":
		name := p.Filename()
		if name == "" {
			return relay.ErrNoFile
		}
		return p.relay.Play(ctx, scriptName(name))
	case "stopTas":
		return p.relay.Stop(ctx)
	case "connect":
		return p.relay.Connect(ctx)
	case "disconnect":
		p.relay.Disconnect()
		return nil
	}
	return fmt.Errorf("unknown message type: %s", msg.Type)
}

func (p *ControlPanel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(panelHTML))
}

const panelHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>p2tas control panel</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #1e1e1e; color: #d4d4d4; margin: 2rem; }
        h3 { display: inline-block; margin: 0 0 1rem 0; }
        button { margin: 0.25rem; padding: 0.4rem 1rem; }
        #error { color: #f48771; margin-top: 1rem; }
    </style>
</head>
<body>
    <div>
        <h3>Status: </h3>
        <h3 id="status" style="color:red">Connecting...</h3>
    </div>
    <div id="main-content" style="display:none">
        <button id="play-button" disabled>Play current TAS</button>
        <button id="stop-button">Stop the playing TAS</button>
        <div>Script: <code id="filename">none</code></div>
    </div>
    <button id="disconnect-button">Connect</button>
    <div id="error"></div>
    <script>
        const ws = new WebSocket("ws://" + location.host + "/ws");
        const statusText = document.getElementById("status");
        const content = document.getElementById("main-content");
        const play = document.getElementById("play-button");
        const toggle = document.getElementById("disconnect-button");
        const send = (type) => ws.send(JSON.stringify({ type: type }));

        play.onclick = () => send("playTas");
        document.getElementById("stop-button").onclick = () => send("stopTas");
        toggle.onclick = () => send(toggle.innerText === "Disconnect" ? "disconnect" : "connect");

        ws.onmessage = (event) => {
            const msg = JSON.parse(event.data);
            if (msg.status === "connected") {
                statusText.innerText = "Connected!";
                statusText.style.color = "green";
                content.style.display = "initial";
                toggle.innerText = "Disconnect";
            } else if (msg.status === "disconnected") {
                statusText.innerText = "Not connected!";
                statusText.style.color = "red";
                content.style.display = "none";
                toggle.innerText = "Connect";
            }
            if (msg.canPlay !== undefined) {
                play.disabled = !msg.canPlay;
                document.getElementById("filename").innerText = msg.filename || "none";
            }
            document.getElementById("error").innerText = msg.error || "";
        };
        ws.onclose = () => {
            statusText.innerText = "Panel closed";
            statusText.style.color = "red";
        };
    </script>
</body>
</html>
`
