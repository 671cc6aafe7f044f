package lsprpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-logr/stdr"

	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/document"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
)

// dialConns wires a client Conn and a server Conn over an in-memory
// duplex pipe, both running, returning a cleanup func.
func dialConns(t *testing.T, dispatch func(ctx context.Context, conn *Conn, req *WireRequest)) (client *Conn, cleanup func()) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	log := stdr.New(nil)
	client = NewConn(NewHeaderStream(clientSide, clientSide), log)
	server := NewConn(NewHeaderStream(serverSide, serverSide), log)
	server.SetDispatch(dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	go server.Run(ctx)

	return client, func() {
		cancel()
		clientSide.Close()
		serverSide.Close()
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	docs := document.NewStore()
	comp, err := compiler.New(nil)
	if err != nil {
		t.Fatalf("compiler.New: %v", err)
	}
	store, err := symbolindex.Open(t.TempDir() + "/index.db")
	if err != nil {
		t.Fatalf("symbolindex.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(stdr.New(nil), docs, comp, store)
}

func TestInitializeReturnsCapabilities(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	var result InitializeResult
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Call(ctx, "initialize", InitializeParams{RootURI: "file:///tmp/proj"}, &result); err != nil {
		t.Fatalf("initialize call: %v", err)
	}
	if !result.Capabilities.HoverProvider {
		t.Fatalf("expected HoverProvider capability, got %+v", result.Capabilities)
	}
	if result.Capabilities.TextDocumentSync != TextDocumentSyncIncremental {
		t.Fatalf("TextDocumentSync = %d, want %d", result.Capabilities.TextDocumentSync, TextDocumentSyncIncremental)
	}
	if !result.Capabilities.DocumentSymbolProvider {
		t.Fatalf("expected DocumentSymbolProvider capability, got %+v", result.Capabilities)
	}
	if !result.Capabilities.WorkspaceSymbolProvider {
		t.Fatalf("expected WorkspaceSymbolProvider capability, got %+v", result.Capabilities)
	}
	if result.Capabilities.CompletionProvider == nil {
		t.Fatalf("expected CompletionProvider capability, got %+v", result.Capabilities)
	}
	wantTriggers := []string{".", ":"}
	gotTriggers := result.Capabilities.CompletionProvider.TriggerCharacters
	if len(gotTriggers) != len(wantTriggers) || gotTriggers[0] != wantTriggers[0] || gotTriggers[1] != wantTriggers[1] {
		t.Fatalf("TriggerCharacters = %v, want %v", gotTriggers, wantTriggers)
	}
}

func TestDocumentSymbolReturnsFileSymbols(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uri := "file:///tmp/proj/Foo.groovy"
	src := "class Foo {\n    void bar() {}\n}\n"
	if err := client.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": uri, "languageId": "groovy", "version": 1, "text": src,
		},
	}); err != nil {
		t.Fatalf("didOpen notify: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	var symbols []SymbolInformation
	if err := client.Call(ctx, "textDocument/documentSymbol", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}, &symbols); err != nil {
		t.Fatalf("documentSymbol call: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("got %d symbols, want 2 (class + method): %+v", len(symbols), symbols)
	}
}

func TestWorkspaceSymbolFindsIndexedSymbols(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uri := "file:///tmp/proj/Widget.groovy"
	src := "class Widget {}\n"
	if err := client.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": uri, "languageId": "groovy", "version": 1, "text": src,
		},
	}); err != nil {
		t.Fatalf("didOpen notify: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	var symbols []SymbolInformation
	if err := client.Call(ctx, "workspace/symbol", map[string]interface{}{"query": "Widget"}, &symbols); err != nil {
		t.Fatalf("workspace/symbol call: %v", err)
	}
	if len(symbols) != 1 || symbols[0].Name != "Widget" {
		t.Fatalf("got %+v, want one symbol named Widget", symbols)
	}
}

func TestDidOpenThenHoverFindsDeclaration(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uri := "file:///tmp/proj/Foo.groovy"
	src := "class Foo {\n    void bar() {}\n}\n"

	if err := client.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": uri, "languageId": "groovy", "version": 1, "text": src,
		},
	}); err != nil {
		t.Fatalf("didOpen notify: %v", err)
	}

	// didOpen triggers an async publishDiagnostics notification; give the
	// dispatch goroutine a moment to process before querying.
	time.Sleep(50 * time.Millisecond)

	var hover Hover
	err := client.Call(ctx, "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     map[string]interface{}{"line": 0, "character": 7},
	}, &hover)
	if err != nil {
		t.Fatalf("hover call: %v", err)
	}
	if hover.Contents == "" {
		t.Fatalf("expected non-empty hover contents for class Foo")
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "textDocument/nonsense", map[string]interface{}{}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown method")
	}
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("Code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestDidCloseInvalidatesDocument(t *testing.T) {
	srv := newTestServer(t)
	client, cleanup := dialConns(t, srv.Dispatch)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uri := "file:///tmp/proj/Bar.groovy"
	if err := client.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": uri, "languageId": "groovy", "version": 1, "text": "class Bar {}\n",
		},
	}); err != nil {
		t.Fatalf("didOpen notify: %v", err)
	}
	if err := client.Notify(ctx, "textDocument/didClose", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}); err != nil {
		t.Fatalf("didClose notify: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	var hover Hover
	err := client.Call(ctx, "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     map[string]interface{}{"line": 0, "character": 7},
	}, &hover)
	if err == nil {
		t.Fatal("expected hover on a closed document to fail")
	}
}

func TestUnmarshalRequiredRejectsMissingParams(t *testing.T) {
	var dest struct{}
	if err := unmarshalRequired(nil, &dest); err == nil {
		t.Fatal("expected an error for nil params")
	}

	bad := json.RawMessage("not json")
	if err := unmarshalRequired(&bad, &dest); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}
