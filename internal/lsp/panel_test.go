package lsp

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2tas-community/p2tas-dev-tools/internal/relay"
)

func dialPanel(t *testing.T, p *ControlPanel) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPanel(t *testing.T, conn *websocket.Conn) PanelMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg PanelMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func TestPanelIndex(t *testing.T) {
	p := NewControlPanel(relay.New("127.0.0.1:1"), 0)
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Unexpected content type %s", ct)
	}
}

func TestPanelInitialState(t *testing.T) {
	p := NewControlPanel(relay.New("127.0.0.1:1"), 0)
	conn := dialPanel(t, p)

	status := readPanel(t, conn)
	if status.Status != string(relay.StatusDisconnected) {
		t.Errorf("Expected disconnected status, got %+v", status)
	}
	state := readPanel(t, conn)
	if state.CanPlay == nil || *state.CanPlay {
		t.Errorf("Expected canPlay false without a script, got %+v", state)
	}

	p.SetFilename("/tas/route/chapter2.p2tas")
	state = readPanel(t, conn)
	if state.CanPlay == nil || !*state.CanPlay || state.Filename != "chapter2.p2tas" {
		t.Errorf("Expected canPlay true for chapter2.p2tas, got %+v", state)
	}
}

func TestPanelPlay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	received := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			received <- string(buf[:n])
		}
	}()

	client := relay.New(ln.Addr().String())
	defer client.Disconnect()
	p := NewControlPanel(client, 0)
	p.SetFilename("/tas/a.p2tas")
	conn := dialPanel(t, p)
	readPanel(t, conn)
	readPanel(t, conn)

	if err := conn.WriteJSON(PanelMessage{Type: "playTas"}); err != nil {
		t.Fatal(err)
	}
	msg := readPanel(t, conn)
	if msg.Status != string(relay.StatusConnected) {
		t.Errorf("Expected connected status after lazy connect, got %+v", msg)
	}
	select {
	case got := <-received:
		if got != "play a.p2tas" {
			t.Errorf("Unexpected relay message %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for play command")
	}
}

func TestPanelUnknownMessage(t *testing.T) {
	p := NewControlPanel(relay.New("127.0.0.1:1"), 0)
	conn := dialPanel(t, p)
	readPanel(t, conn)
	readPanel(t, conn)

	if err := conn.WriteJSON(PanelMessage{Type: "rewind"}); err != nil {
		t.Fatal(err)
	}
	msg := readPanel(t, conn)
	if !strings.Contains(msg.Error, "rewind") {
		t.Errorf("Expected error naming the message type, got %+v", msg)
	}
}

func TestPanelClose(t *testing.T) {
	p := NewControlPanel(relay.New("127.0.0.1:1"), 0)
	conn := dialPanel(t, p)
	readPanel(t, conn)
	readPanel(t, conn)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-p.forwarded:
	case <-time.After(2 * time.Second):
		t.Fatal("Status forwarding did not stop after Close")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg PanelMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("Expected connection to be closed, got %+v", msg)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestPanelListenAndServeReturnsAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := NewControlPanel(relay.New("127.0.0.1:1"), port)
	done := make(chan error, 1)
	go func() { done <- p.ListenAndServe() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		started := p.server != nil
		p.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Let the listener bind before closing.
	time.Sleep(50 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Close")
	}
}
