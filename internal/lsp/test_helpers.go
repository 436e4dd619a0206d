package lsp

import (
	"github.com/p2tas-community/p2tas-dev-tools/internal/lsp/cache"
)

// Helper functions for testing that reset the package state and expose the
// open documents.

func ResetTestServer() {
	GlobalSession = cache.NewSession("test", "/", nil)
	GlobalPanel = nil
	Relay = nil
	shutdown = false
	currentMu.Lock()
	currentFile = ""
	currentMu.Unlock()
}

func SetTestProjectRoot(root string) {
	ResetTestServer()
	HandleInitialize(InitializeParams{RootPath: root})
}

func GetTestDocuments() map[string]string {
	return session().Documents()
}
